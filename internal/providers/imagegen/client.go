// Package imagegen is the image-generation capability, backed by the
// DashScope text-to-image API.
package imagegen

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	_ "image/jpeg"
	_ "image/png"

	"github.com/rs/zerolog"

	"enricher/internal/infra"
	"enricher/internal/remote"
)

// ErrMissingAPIKey indicates that the client was configured without credentials.
var ErrMissingAPIKey = errors.New("imagegen: api key is required")

// Generator is the image-generation capability consumed by the processor.
type Generator interface {
	Generate(ctx context.Context, req Request) (*Asset, error)
}

// Request captures the required inputs for image generation.
type Request struct {
	Prompt         string
	NegativePrompt string
	Size           string
	Seed           int
	RequestID      string
}

// Asset is the normalized generation result.
type Asset struct {
	URL    string
	Data   []byte
	Format string
	Width  int
	Height int
}

// Options configures the DashScope client.
type Options struct {
	APIKey         string
	BaseURL        string
	Model          string
	DefaultSize    string
	HTTPClient     *http.Client
	Logger         *infra.Logger
	RequestTimeout time.Duration
}

// Client performs HTTP calls to the DashScope text-to-image API.
type Client struct {
	apiKey      string
	baseURL     string
	model       string
	defaultSize string
	httpClient  *http.Client
	logger      *infra.Logger
}

type generationRequest struct {
	Model      string           `json:"model"`
	Input      generationInput  `json:"input"`
	Parameters generationParams `json:"parameters"`
}

type generationInput struct {
	Messages []generationMessage `json:"messages"`
}

type generationMessage struct {
	Role    string              `json:"role"`
	Content []generationContent `json:"content"`
}

type generationContent struct {
	Text string `json:"text,omitempty"`
}

type generationParams struct {
	NegativePrompt string `json:"negative_prompt,omitempty"`
	Size           string `json:"size,omitempty"`
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

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// NewClient constructs a client with sane defaults and injected dependencies.
func NewClient(opts Options) (*Client, error) {
	if strings.TrimSpace(opts.APIKey) == "" {
		return nil, ErrMissingAPIKey
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := opts.RequestTimeout
		if timeout <= 0 {
			timeout = 45 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://dashscope-intl.aliyuncs.com/api/v1"
	}
	model := strings.TrimSpace(opts.Model)
	if model == "" {
		model = "qwen-image-plus"
	}
	defaultSize := strings.TrimSpace(opts.DefaultSize)
	if defaultSize == "" {
		defaultSize = "1328*1328"
	}
	var logger *infra.Logger
	if opts.Logger != nil {
		logger = opts.Logger
	} else {
		discard := zerolog.New(io.Discard)
		l := infra.Logger(discard)
		logger = &l
	}
	return &Client{
		apiKey:      strings.TrimSpace(opts.APIKey),
		baseURL:     baseURL,
		model:       model,
		defaultSize: defaultSize,
		httpClient:  httpClient,
		logger:      logger,
	}, nil
}

// Model returns the configured model identifier.
func (c *Client) Model() string {
	return c.model
}

// Generate invokes the API once and returns a single image asset. Providers
// reply with either a downloadable URL or an inline data URI; both normalize
// to raw bytes.
func (c *Client) Generate(ctx context.Context, req Request) (*Asset, error) {
	prompt := strings.TrimSpace(req.Prompt)
	if prompt == "" {
		return nil, errors.New("imagegen: prompt is required")
	}
	payload := generationRequest{
		Model: c.model,
		Input: generationInput{
			Messages: []generationMessage{{
				Role:    "user",
				Content: []generationContent{{Text: prompt}},
			}},
		},
		Parameters: generationParams{},
	}
	if neg := strings.TrimSpace(req.NegativePrompt); neg != "" {
		payload.Parameters.NegativePrompt = neg
	}
	size := strings.TrimSpace(req.Size)
	if size == "" {
		size = c.defaultSize
	}
	payload.Parameters.Size = size
	if req.Seed > 0 {
		payload.Parameters.Seed = &req.Seed
	}

	endpoint := c.baseURL + "/services/aigc/multimodal-generation/generation"
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("imagegen: encode request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("imagegen: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("imagegen: http request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("imagegen: read response: %w", err)
	}
	if resp.StatusCode >= 300 {
		var detail errorResponse
		if err := json.Unmarshal(raw, &detail); err == nil && detail.Message != "" {
			return nil, fmt.Errorf("imagegen: %w", &remote.StatusError{Code: resp.StatusCode, Message: fmt.Sprintf("%s (%s)", detail.Message, detail.Code)})
		}
		return nil, fmt.Errorf("imagegen: %w", &remote.StatusError{Code: resp.StatusCode, Message: strings.TrimSpace(string(raw))})
	}

	var decoded generationResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, fmt.Errorf("imagegen: decode response: %w", err)
	}
	if decoded.Code != "" {
		return nil, fmt.Errorf("imagegen: %s (%s)", decoded.Message, decoded.Code)
	}
	imageRef := firstImageRef(decoded)
	if imageRef == "" {
		return nil, errors.New("imagegen: empty image reference")
	}

	asset, err := c.resolveImage(ctx, imageRef)
	if err != nil {
		return nil, err
	}
	if asset.Width == 0 || asset.Height == 0 {
		asset.Width, asset.Height = decoded.Usage.Width, decoded.Usage.Height
	}
	if asset.Width == 0 || asset.Height == 0 {
		if cfg, _, err := image.DecodeConfig(bytes.NewReader(asset.Data)); err == nil {
			asset.Width, asset.Height = cfg.Width, cfg.Height
		}
	}
	c.logger.Debug().
		Str("model", c.model).
		Str("request_id", decoded.RequestID).
		Int("bytes", len(asset.Data)).
		Msg("imagegen: generated image asset")
	return asset, nil
}

func (c *Client) resolveImage(ctx context.Context, ref string) (*Asset, error) {
	if strings.HasPrefix(ref, "data:") {
		return decodeDataURI(ref)
	}
	parsed, err := url.Parse(strings.TrimSpace(ref))
	if err != nil || parsed.Scheme == "" {
		return nil, fmt.Errorf("imagegen: invalid image reference: %s", ref)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, parsed.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("imagegen: build download request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("imagegen: download image: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("imagegen: %w", &remote.StatusError{Code: resp.StatusCode, Message: "image download failed"})
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("imagegen: read image: %w", err)
	}
	format := resp.Header.Get("Content-Type")
	if format == "" {
		format = "image/png"
	}
	return &Asset{URL: parsed.String(), Data: data, Format: format}, nil
}

func decodeDataURI(uri string) (*Asset, error) {
	rest := strings.TrimPrefix(uri, "data:")
	meta, encoded, found := strings.Cut(rest, ",")
	if !found {
		return nil, errors.New("imagegen: malformed data uri")
	}
	if !strings.HasSuffix(meta, ";base64") {
		return nil, errors.New("imagegen: unsupported data uri encoding")
	}
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("imagegen: decode data uri: %w", err)
	}
	format := strings.TrimSuffix(meta, ";base64")
	if format == "" {
		format = "image/png"
	}
	return &Asset{Data: data, Format: format}, nil
}

func firstImageRef(resp generationResponse) string {
	for _, choice := range resp.Output.Choices {
		for _, content := range choice.Message.Content {
			if ref := strings.TrimSpace(content.Image); ref != "" {
				return ref
			}
		}
	}
	return ""
}

var _ Generator = (*Client)(nil)
