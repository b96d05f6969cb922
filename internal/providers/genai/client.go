package genai

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"google.golang.org/genai"

	"storybook/internal/infra"
)

// Options controls how the Gemini client is configured.
type Options struct {
	APIKey     string
	BaseURL    string
	TextModel  string
	ImageModel string
	HTTPClient *http.Client
	Logger     *infra.Logger
}

// Client is a facade over the Gemini SDK for text and image generation.
// Without an API key it serves deterministic synthetic images so the
// pipeline stays runnable in local and CI environments; remote failures are
// always returned to the caller.
type Client struct {
	api        *genai.Client
	textModel  string
	imageModel string
	httpClient *http.Client
	logger     *infra.Logger
}

// TextRequest is one single-attempt text generation call.
type TextRequest struct {
	System      string
	Prompt      string
	JSON        bool
	Temperature float32
}

// ImageRequest is one single-attempt image generation call.
type ImageRequest struct {
	Prompt         string
	NegativePrompt string
	Seed           int64
	AspectRatio    string
	References     []string
	RequestID      string
}

// ImageAsset is the normalized generated image.
type ImageAsset struct {
	Format string
	Width  int
	Height int
	Data   []byte
}

// ErrNoContent is returned when the model answered without usable output.
var ErrNoContent = errors.New("gemini returned no content")

// NewClient constructs a Gemini client. An empty API key yields a synthetic client.
func NewClient(ctx context.Context, opts Options) (*Client, error) {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 120 * time.Second}
	}

	textModel := opts.TextModel
	if textModel == "" {
		textModel = "gemini-2.5-flash"
	}
	imageModel := opts.ImageModel
	if imageModel == "" {
		imageModel = "gemini-2.5-flash-image"
	}

	var logger *infra.Logger
	if opts.Logger != nil {
		logger = opts.Logger
	} else {
		discard := zerolog.New(io.Discard)
		l := infra.Logger(discard)
		logger = &l
	}

	c := &Client{
		textModel:  textModel,
		imageModel: imageModel,
		httpClient: httpClient,
		logger:     logger,
	}

	apiKey := strings.TrimSpace(opts.APIKey)
	if apiKey == "" {
		logger.Warn().Msg("genai: no API key configured, using synthetic generation")
		return c, nil
	}
	cfg := &genai.ClientConfig{
		APIKey:     apiKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: httpClient,
	}
	if base := strings.TrimSpace(opts.BaseURL); base != "" {
		cfg.HTTPOptions = genai.HTTPOptions{BaseURL: base}
	}
	api, err := genai.NewClient(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	c.api = api
	return c, nil
}

// Synthetic reports whether the client runs without a remote backend.
func (c *Client) Synthetic() bool { return c.api == nil }

// TextModel returns the configured text model identifier.
func (c *Client) TextModel() string { return c.textModel }

// ImageModel returns the configured image model identifier.
func (c *Client) ImageModel() string { return c.imageModel }

// GenerateText runs one text generation and returns the concatenated text parts.
func (c *Client) GenerateText(ctx context.Context, req TextRequest) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if c.api == nil {
		return "", errors.New("genai: text generation requires an API key")
	}

	cfg := &genai.GenerateContentConfig{}
	if req.System != "" {
		cfg.SystemInstruction = genai.NewContentFromText(req.System, genai.RoleUser)
	}
	if req.Temperature > 0 {
		cfg.Temperature = genai.Ptr(req.Temperature)
	}
	if req.JSON {
		cfg.ResponseMIMEType = "application/json"
	}

	resp, err := c.api.Models.GenerateContent(ctx, c.textModel, []*genai.Content{
		genai.NewContentFromText(req.Prompt, genai.RoleUser),
	}, cfg)
	if err != nil {
		return "", fmt.Errorf("gemini text: %w", err)
	}

	var b strings.Builder
	for _, cand := range resp.Candidates {
		if cand == nil || cand.Content == nil {
			continue
		}
		for _, part := range cand.Content.Parts {
			if part != nil && part.Text != "" {
				b.WriteString(part.Text)
			}
		}
		if b.Len() > 0 {
			break
		}
	}
	if b.Len() == 0 {
		return "", ErrNoContent
	}

	c.logger.Debug().
		Str("model", c.textModel).
		Int("chars", b.Len()).
		Msg("genai: generated text")
	return b.String(), nil
}

// GenerateImage runs one image generation conditioned on the reference images.
func (c *Client) GenerateImage(ctx context.Context, req ImageRequest) (*ImageAsset, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if c.api == nil {
		return c.syntheticImage(req), nil
	}

	parts, missing, err := c.referenceParts(ctx, req.References)
	if err != nil {
		return nil, err
	}
	attached := len(req.References) - len(missing)
	parts = append(parts, genai.NewPartFromText(buildImagePrompt(req, missing)))

	cfg := &genai.GenerateContentConfig{
		ResponseModalities: []string{"IMAGE", "TEXT"},
		Seed:               genai.Ptr(int32(req.Seed)),
	}
	resp, err := c.api.Models.GenerateContent(ctx, c.imageModel, []*genai.Content{
		genai.NewContentFromParts(parts, genai.RoleUser),
	}, cfg)
	if err != nil {
		return nil, fmt.Errorf("gemini image: %w", err)
	}

	for _, cand := range resp.Candidates {
		if cand == nil || cand.Content == nil {
			continue
		}
		for _, part := range cand.Content.Parts {
			if part == nil || part.InlineData == nil || len(part.InlineData.Data) == 0 {
				continue
			}
			w, h := decodeImageDimensions(part.InlineData.Data)
			if w == 0 || h == 0 {
				w, h = normalizeAspect(req.AspectRatio)
			}
			c.logger.Debug().
				Str("request_id", req.RequestID).
				Str("model", c.imageModel).
				Int("references", attached).
				Msg("genai: generated remote image")
			return &ImageAsset{
				Format: firstNonEmpty(part.InlineData.MIMEType, "image/png"),
				Width:  w,
				Height: h,
				Data:   part.InlineData.Data,
			}, nil
		}
	}
	return nil, ErrNoContent
}

func (c *Client) syntheticImage(req ImageRequest) *ImageAsset {
	width, height := normalizeAspect(req.AspectRatio)
	seed := deterministicSeed(req.RequestID, req.Prompt, req.NegativePrompt, req.Seed)
	c.logger.Debug().
		Str("request_id", req.RequestID).
		Str("model", c.imageModel).
		Msg("genai: generated synthetic image")
	return &ImageAsset{
		Format: "image/png",
		Width:  width,
		Height: height,
		Data:   renderSyntheticImage(width, height, seed),
	}
}

// referenceParts attaches every fetchable reference preceded by its 1-based
// position in refs, the number prompt clauses cite. Positions that cannot be
// attached are returned in missing.
func (c *Client) referenceParts(ctx context.Context, refs []string) ([]*genai.Part, []int, error) {
	parts := make([]*genai.Part, 0, 2*len(refs)+1)
	var missing []int
	for i, ref := range refs {
		n := i + 1
		if !isFetchable(ref) {
			missing = append(missing, n)
			continue
		}
		data, mime, err := c.downloadFile(ctx, ref)
		if err != nil {
			return nil, nil, fmt.Errorf("reference image %d: %w", n, err)
		}
		parts = append(parts,
			genai.NewPartFromText(fmt.Sprintf("Reference image %d:", n)),
			genai.NewPartFromBytes(data, firstNonEmpty(mime, "image/png")),
		)
	}
	return parts, missing, nil
}

func isFetchable(ref string) bool {
	return strings.HasPrefix(ref, "http://") || strings.HasPrefix(ref, "https://")
}

func (c *Client) downloadFile(ctx context.Context, uri string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
	if err != nil {
		return nil, "", fmt.Errorf("create download request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("download file: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, "", fmt.Errorf("download file status %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}

	blob, err := io.ReadAll(io.LimitReader(resp.Body, 20<<20))
	if err != nil {
		return nil, "", fmt.Errorf("read file: %w", err)
	}
	return blob, resp.Header.Get("Content-Type"), nil
}

func buildImagePrompt(req ImageRequest, missing []int) string {
	var b strings.Builder
	b.WriteString(strings.TrimSpace(req.Prompt))
	if len(req.References) > len(missing) {
		b.WriteString("\nEach attached reference image is labelled with the number the character descriptions cite.")
	}
	if len(missing) > 0 {
		nums := make([]string, len(missing))
		for i, n := range missing {
			nums[i] = strconv.Itoa(n)
		}
		b.WriteString("\nReference image ")
		b.WriteString(strings.Join(nums, ", "))
		b.WriteString(" could not be attached; follow the written description for that character.")
	}
	if neg := strings.TrimSpace(req.NegativePrompt); neg != "" {
		b.WriteString("\nAvoid: ")
		b.WriteString(neg)
	}
	if aspect := strings.TrimSpace(req.AspectRatio); aspect != "" {
		b.WriteString("\nAspect ratio: ")
		b.WriteString(aspect)
	}
	return b.String()
}

func decodeImageDimensions(data []byte) (int, int) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return 0, 0
	}
	return cfg.Width, cfg.Height
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func renderSyntheticImage(width, height int, seed string) []byte {
	if width <= 0 {
		width = 1024
	}
	if height <= 0 {
		height = 1024
	}
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	base := colorFromSeed(seed, 0)
	accent := colorFromSeed(seed, 1)
	draw.Draw(img, img.Bounds(), &image.Uniform{base}, image.Point{}, draw.Src)

	stripeHeight := max(32, height/12)
	for y := 0; y < height; y += stripeHeight * 2 {
		stripe := image.Rect(0, y, width, min(height, y+stripeHeight))
		draw.Draw(img, stripe, &image.Uniform{accent}, image.Point{}, draw.Over)
	}

	diagonal := colorFromSeed(seed, 2)
	for i := 0; i < max(width, height); i += max(16, width/32) {
		for y := 0; y < height; y++ {
			xx := i + y
			if xx >= width {
				break
			}
			img.Set(xx, y, diagonal)
		}
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil
	}
	return buf.Bytes()
}

func colorFromSeed(seed string, shift int) color.RGBA {
	if seed == "" {
		seed = "000000"
	}
	doubled := seed + seed
	start := (shift * 6) % len(seed)
	segment := doubled[start : start+6]
	r := mustParseHexByte(segment[0:2])
	g := mustParseHexByte(segment[2:4])
	b := mustParseHexByte(segment[4:6])
	return color.RGBA{R: r, G: g, B: b, A: 255}
}

func mustParseHexByte(s string) uint8 {
	v, err := strconv.ParseUint(s, 16, 8)
	if err != nil {
		return 0
	}
	return uint8(v)
}

func deterministicSeed(parts ...any) string {
	hasher := sha256.New()
	for _, part := range parts {
		hasher.Write([]byte(fmt.Sprintf("%v", part)))
		hasher.Write([]byte{'|'})
	}
	return hex.EncodeToString(hasher.Sum(nil))[:16]
}

func normalizeAspect(aspect string) (int, int) {
	switch strings.TrimSpace(strings.ToLower(aspect)) {
	case "16:9":
		return 1920, 1080
	case "9:16":
		return 1080, 1920
	case "4:3":
		return 1024, 768
	case "3:4":
		return 768, 1024
	case "1:1", "square", "":
		return 1024, 1024
	default:
		parts := strings.Split(aspect, ":")
		if len(parts) == 2 {
			if a, errA := strconv.Atoi(strings.TrimSpace(parts[0])); errA == nil {
				if b, errB := strconv.Atoi(strings.TrimSpace(parts[1])); errB == nil && a > 0 && b > 0 {
					width := 1024
					height := int(float64(width) * float64(b) / float64(a))
					return width, height
				}
			}
		}
		return 1024, 1024
	}
}
