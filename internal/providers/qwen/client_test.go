package qwen

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestGenerateImagePayloadAndDownload(t *testing.T) {
	var captured generationRequest
	var auth string
	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	defer srv.Close()

	mux.HandleFunc("/services/aigc/multimodal-generation/generation", func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&captured); err != nil {
			t.Errorf("decode body: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"output": map[string]any{
				"choices": []any{map[string]any{
					"message": map[string]any{
						"content": []any{map[string]any{"image": srv.URL + "/out.png"}},
					},
				}},
			},
			"usage":      map[string]any{"width": 1472, "height": 1140},
			"request_id": "req-123",
		})
	})
	mux.HandleFunc("/out.png", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write([]byte{0x89, 'P', 'N', 'G'})
	})

	client, err := NewClient(Options{APIKey: "test", BaseURL: srv.URL, HTTPClient: srv.Client()})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	asset, err := client.GenerateImage(context.Background(), ImageRequest{
		Prompt:         "a fox reading under a tree",
		NegativePrompt: "text, watermark",
		Size:           SizeForAspect("4:3"),
		Seed:           42,
		RequestID:      "job-1:scene_image:scene-1",
	})
	if err != nil {
		t.Fatalf("generate image: %v", err)
	}
	if auth != "Bearer test" {
		t.Fatalf("authorization = %q", auth)
	}
	if captured.Model != "qwen-image-plus" {
		t.Fatalf("model = %q", captured.Model)
	}
	if got := captured.Input.Messages[0].Content[0].Text; got != "a fox reading under a tree" {
		t.Fatalf("prompt = %q", got)
	}
	p := captured.Parameters
	if p.Size != "1472*1140" || p.NegativePrompt != "text, watermark" {
		t.Fatalf("unexpected parameters: %+v", p)
	}
	if p.Seed == nil || *p.Seed != 42 {
		t.Fatalf("seed not forwarded: %+v", p.Seed)
	}
	if p.Watermark == nil || *p.Watermark {
		t.Fatalf("watermark should be explicitly disabled: %+v", p.Watermark)
	}
	if asset.Format != "image/png" || asset.Width != 1472 || asset.Height != 1140 || len(asset.Data) != 4 {
		t.Fatalf("unexpected asset: %+v", asset)
	}
}

func TestGenerateImageErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"code":"InvalidParameter","message":"size not supported"}`))
	}))
	defer srv.Close()

	client, _ := NewClient(Options{APIKey: "k", BaseURL: srv.URL, HTTPClient: srv.Client()})
	_, err := client.GenerateImage(context.Background(), ImageRequest{Prompt: "x"})
	if err == nil || !strings.Contains(err.Error(), "size not supported") {
		t.Fatalf("expected upstream message, got %v", err)
	}

	if _, err := client.GenerateImage(context.Background(), ImageRequest{Prompt: "  "}); err == nil {
		t.Fatal("expected empty prompt error")
	}

	keyless, _ := NewClient(Options{BaseURL: srv.URL})
	if _, err := keyless.GenerateImage(context.Background(), ImageRequest{Prompt: "x"}); !errors.Is(err, ErrMissingAPIKey) {
		t.Fatalf("expected ErrMissingAPIKey, got %v", err)
	}
}

func TestSizeForAspect(t *testing.T) {
	if SizeForAspect("16:9") != "1664*928" {
		t.Fatalf("unexpected 16:9 size %q", SizeForAspect("16:9"))
	}
	if SizeForAspect("5:4") != "" {
		t.Fatal("unknown ratio should fall back to the default size")
	}
}
