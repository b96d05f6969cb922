package genai

import (
	"bytes"
	"context"
	"image/png"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestSyntheticImageIsDeterministic(t *testing.T) {
	c, err := NewClient(context.Background(), Options{})
	if err != nil {
		t.Fatalf("NewClient error: %v", err)
	}
	if !c.Synthetic() {
		t.Fatal("client without key should be synthetic")
	}
	req := ImageRequest{Prompt: "a fox", Seed: 7, AspectRatio: "4:3", RequestID: "job/scene-1"}
	a, err := c.GenerateImage(context.Background(), req)
	if err != nil {
		t.Fatalf("GenerateImage error: %v", err)
	}
	b, _ := c.GenerateImage(context.Background(), req)
	if !bytes.Equal(a.Data, b.Data) {
		t.Fatal("same request should render the same synthetic image")
	}
	cfg, err := png.DecodeConfig(bytes.NewReader(a.Data))
	if err != nil || cfg.Width != 1024 || cfg.Height != 768 {
		t.Fatalf("unexpected image: %+v %v", cfg, err)
	}

	req.Seed = 8
	other, _ := c.GenerateImage(context.Background(), req)
	if bytes.Equal(a.Data, other.Data) {
		t.Fatal("a different seed should render a different image")
	}
}

func TestSyntheticClientRejectsText(t *testing.T) {
	c, _ := NewClient(context.Background(), Options{})
	if _, err := c.GenerateText(context.Background(), TextRequest{Prompt: "hi"}); err == nil {
		t.Fatal("text generation without a key must fail")
	}
}

func TestBuildImagePrompt(t *testing.T) {
	out := buildImagePrompt(ImageRequest{Prompt: "Solo fox.", NegativePrompt: "humans", AspectRatio: "4:3", References: []string{"u"}}, nil)
	for _, want := range []string{"Solo fox.", "Avoid: humans", "Aspect ratio: 4:3", "labelled with the number"} {
		if !strings.Contains(out, want) {
			t.Fatalf("missing %q in %q", want, out)
		}
	}
	if isFetchable("placeholder:no-reference") || !isFetchable("https://cdn/x.png") {
		t.Fatal("isFetchable mismatch")
	}
	if strings.Contains(buildImagePrompt(ImageRequest{Prompt: "p"}, nil), "Reference image") {
		t.Fatal("no references, no reference wording")
	}
}

func TestReferencePartsKeepPositionLabels(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write([]byte("img:" + r.URL.Path))
	}))
	defer srv.Close()
	c, err := NewClient(context.Background(), Options{HTTPClient: srv.Client()})
	if err != nil {
		t.Fatalf("NewClient error: %v", err)
	}

	refs := []string{"placeholder:no-reference", srv.URL + "/rex.png"}
	parts, missing, err := c.referenceParts(context.Background(), refs)
	if err != nil {
		t.Fatalf("referenceParts error: %v", err)
	}
	if len(missing) != 1 || missing[0] != 1 {
		t.Fatalf("missing = %v", missing)
	}
	if len(parts) != 2 || parts[0].Text != "Reference image 2:" {
		t.Fatalf("second reference must keep its number, parts = %d", len(parts))
	}
	if parts[1].InlineData == nil || string(parts[1].InlineData.Data) != "img:/rex.png" {
		t.Fatal("reference bytes not attached after their label")
	}

	out := buildImagePrompt(ImageRequest{Prompt: "p", References: refs}, missing)
	if !strings.Contains(out, "Reference image 1 could not be attached") {
		t.Fatalf("missing reference not called out: %q", out)
	}
}

func TestNormalizeAspect(t *testing.T) {
	cases := map[string][2]int{"": {1024, 1024}, "16:9": {1920, 1080}, "2:1": {1024, 512}, "bad": {1024, 1024}}
	for in, want := range cases {
		w, h := normalizeAspect(in)
		if w != want[0] || h != want[1] {
			t.Errorf("normalizeAspect(%q) = %d,%d", in, w, h)
		}
	}
}
