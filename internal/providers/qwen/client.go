// Package qwen is a thin client for the DashScope Qwen text-to-image API. It is
// the alternative illustration backend to Gemini and ignores reference images.
package qwen

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"storybook/internal/infra"
)

const (
	defaultBaseURL = "https://dashscope-intl.aliyuncs.com/api/v1"
	defaultModel   = "qwen-image-plus"
	generatePath   = "/services/aigc/multimodal-generation/generation"
	maxImageBytes  = 32 << 20
)

// ErrMissingAPIKey indicates that the client was configured without credentials.
var ErrMissingAPIKey = errors.New("qwen: api key is required")

var aspectSizes = map[string]string{
	"1:1":  "1328*1328",
	"4:3":  "1472*1140",
	"3:4":  "1140*1472",
	"16:9": "1664*928",
	"9:16": "928*1664",
}

// SizeForAspect maps an aspect ratio to a supported output size. Unknown
// ratios return "" so the client default applies.
func SizeForAspect(ratio string) string {
	return aspectSizes[strings.TrimSpace(ratio)]
}

// Options configures the client.
type Options struct {
	APIKey         string
	BaseURL        string
	Model          string
	DefaultSize    string
	HTTPClient     *http.Client
	Logger         *infra.Logger
	RequestTimeout time.Duration
}

// Client performs single-attempt generation calls.
type Client struct {
	apiKey      string
	baseURL     string
	model       string
	defaultSize string
	httpClient  *http.Client
	logger      *infra.Logger
}

// ImageRequest is one generation call. Size uses the DashScope "W*H" form.
type ImageRequest struct {
	Prompt         string
	NegativePrompt string
	Size           string
	Seed           int
	RequestID      string
}

// ImageAsset is the downloaded result.
type ImageAsset struct {
	URL    string
	Data   []byte
	Format string
	Width  int
	Height int
}

type generationRequest struct {
	Model string `json:"model"`
	Input struct {
		Messages []message `json:"messages"`
	} `json:"input"`
	Parameters parameters `json:"parameters"`
}

type message struct {
	Role    string        `json:"role"`
	Content []textContent `json:"content"`
}

type textContent struct {
	Text string `json:"text"`
}

type parameters struct {
	NegativePrompt string `json:"negative_prompt,omitempty"`
	Size           string `json:"size,omitempty"`
	Watermark      *bool  `json:"watermark,omitempty"`
	Seed           *int   `json:"seed,omitempty"`
}

type generationResponse struct {
	Output struct {
		Choices []struct {
			Message struct {
				Content []struct {
					Image string `json:"image"`
				} `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	} `json:"output"`
	Usage struct {
		Width  int `json:"width"`
		Height int `json:"height"`
	} `json:"usage"`
	RequestID string `json:"request_id"`
	Code      string `json:"code"`
	Message   string `json:"message"`
}

func (r generationResponse) imageURL() string {
	for _, choice := range r.Output.Choices {
		for _, c := range choice.Message.Content {
			if u := strings.TrimSpace(c.Image); u != "" {
				return u
			}
		}
	}
	return ""
}

func NewClient(opts Options) (*Client, error) {
	c := &Client{
		apiKey:      strings.TrimSpace(opts.APIKey),
		baseURL:     strings.TrimRight(opts.BaseURL, "/"),
		model:       strings.TrimSpace(opts.Model),
		defaultSize: strings.TrimSpace(opts.DefaultSize),
		httpClient:  opts.HTTPClient,
		logger:      opts.Logger,
	}
	if c.baseURL == "" {
		c.baseURL = defaultBaseURL
	}
	if _, err := url.Parse(c.baseURL); err != nil {
		return nil, fmt.Errorf("qwen: invalid base url: %w", err)
	}
	if c.model == "" {
		c.model = defaultModel
	}
	if c.defaultSize == "" {
		c.defaultSize = aspectSizes["1:1"]
	}
	if c.httpClient == nil {
		timeout := opts.RequestTimeout
		if timeout <= 0 {
			timeout = 2 * time.Minute
		}
		c.httpClient = &http.Client{Timeout: timeout}
	}
	if c.logger == nil {
		l := zerolog.Nop()
		c.logger = &l
	}
	return c, nil
}

// Model returns the configured model identifier.
func (c *Client) Model() string { return c.model }

// GenerateImage asks the model for one image and downloads it.
func (c *Client) GenerateImage(ctx context.Context, req ImageRequest) (*ImageAsset, error) {
	if c.apiKey == "" {
		return nil, ErrMissingAPIKey
	}
	prompt := strings.TrimSpace(req.Prompt)
	if prompt == "" {
		return nil, errors.New("qwen: prompt is required")
	}

	var payload generationRequest
	payload.Model = c.model
	payload.Input.Messages = []message{{Role: "user", Content: []textContent{{Text: prompt}}}}
	payload.Parameters = parameters{
		NegativePrompt: strings.TrimSpace(req.NegativePrompt),
		Size:           c.defaultSize,
		Watermark:      new(bool),
	}
	if size := strings.TrimSpace(req.Size); size != "" {
		payload.Parameters.Size = size
	}
	if req.Seed > 0 {
		seed := req.Seed
		payload.Parameters.Seed = &seed
	}

	decoded, err := c.post(ctx, payload)
	if err != nil {
		return nil, err
	}
	imageURL := decoded.imageURL()
	if imageURL == "" {
		return nil, errors.New("qwen: response carried no image")
	}
	data, format, err := c.download(ctx, imageURL)
	if err != nil {
		return nil, err
	}

	asset := &ImageAsset{URL: imageURL, Data: data, Format: format, Width: decoded.Usage.Width, Height: decoded.Usage.Height}
	if asset.Width == 0 || asset.Height == 0 {
		if cfg, _, err := image.DecodeConfig(bytes.NewReader(data)); err == nil {
			asset.Width, asset.Height = cfg.Width, cfg.Height
		}
	}
	c.logger.Debug().
		Str("model", c.model).
		Str("request_id", req.RequestID).
		Str("upstream_request_id", decoded.RequestID).
		Int("bytes", len(data)).
		Msg("qwen: generated image")
	return asset, nil
}

func (c *Client) post(ctx context.Context, payload generationRequest) (*generationResponse, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("qwen: encode request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+generatePath, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("qwen: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("qwen: request: %w", err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("qwen: read response: %w", err)
	}

	var decoded generationResponse
	decodeErr := json.Unmarshal(raw, &decoded)
	switch {
	case decodeErr == nil && decoded.Code != "":
		return nil, fmt.Errorf("qwen: %s (%s)", decoded.Message, decoded.Code)
	case resp.StatusCode >= http.StatusMultipleChoices:
		return nil, fmt.Errorf("qwen: status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	case decodeErr != nil:
		return nil, fmt.Errorf("qwen: decode response: %w", decodeErr)
	}
	return &decoded, nil
}

func (c *Client) download(ctx context.Context, imageURL string) ([]byte, string, error) {
	u, err := url.Parse(imageURL)
	if err != nil || u.Scheme == "" {
		return nil, "", fmt.Errorf("qwen: invalid image url %q", imageURL)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, "", fmt.Errorf("qwen: build download: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("qwen: download: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= http.StatusMultipleChoices {
		return nil, "", fmt.Errorf("qwen: download status %d", resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxImageBytes))
	if err != nil {
		return nil, "", fmt.Errorf("qwen: read image: %w", err)
	}
	format := resp.Header.Get("Content-Type")
	if format == "" {
		format = http.DetectContentType(data)
	}
	return data, format, nil
}
