// Package vision is the optional image-analysis capability: scoring a
// generated image and proposing alt text.
package vision

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"enricher/internal/infra"
	"enricher/internal/providers/textgen"
	"enricher/internal/remote"
)

// ErrMissingAPIKey indicates that the client was configured without credentials.
var ErrMissingAPIKey = errors.New("vision: api key is required")

// Analysis is the normalized result of inspecting one image.
type Analysis struct {
	Score   float64 `json:"score"`
	AltText string  `json:"alt_text"`
	Brief   string  `json:"brief"`
}

// Analyzer is the vision capability contract.
type Analyzer interface {
	Analyze(ctx context.Context, imageData []byte, mimeType string) (Analysis, error)
}

// Options configures the Gemini vision client.
type Options struct {
	APIKey     string
	Model      string
	BaseURL    string
	HTTPClient *http.Client
	Logger     *infra.Logger
}

// Client asks a multimodal Gemini model to describe and score an image.
type Client struct {
	apiKey  string
	model   string
	baseURL string
	client  *http.Client
	logger  *infra.Logger
}

type visionRequest struct {
	Contents []visionContent `json:"contents"`
}

type visionContent struct {
	Role  string       `json:"role"`
	Parts []visionPart `json:"parts"`
}

type visionPart struct {
	Text       string          `json:"text,omitempty"`
	InlineData *visionInlineMedia `json:"inlineData,omitempty"`
}

type visionInlineMedia struct {
	MimeType string `json:"mimeType"`
	Data     string `json:"data"`
}

type visionResponse struct {
	Candidates []struct {
		Content visionContent `json:"content"`
	} `json:"candidates"`
}

const analysisPrompt = `Inspect the attached image for use as an article illustration. ` +
	`Respond strictly with JSON matching {"score":number,"alt_text":string,"brief":string}. ` +
	`score is 0-1 suitability, alt_text a concise accessible description, brief a one-line caption.`

// NewClient constructs a vision client with sane defaults.
func NewClient(opts Options) (*Client, error) {
	if strings.TrimSpace(opts.APIKey) == "" {
		return nil, ErrMissingAPIKey
	}
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://generativelanguage.googleapis.com/v1beta"
	}
	model := strings.TrimSpace(opts.Model)
	if model == "" {
		model = "gemini-1.5-flash"
	}
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
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
		apiKey:  strings.TrimSpace(opts.APIKey),
		model:   model,
		baseURL: baseURL,
		client:  client,
		logger:  logger,
	}, nil
}

// Analyze sends the image inline and decodes the JSON verdict out of the
// model's reply.
func (c *Client) Analyze(ctx context.Context, imageData []byte, mimeType string) (Analysis, error) {
	if len(imageData) == 0 {
		return Analysis{}, errors.New("vision: image data is empty")
	}
	if mimeType == "" {
		mimeType = "image/png"
	}
	payload := visionRequest{
		Contents: []visionContent{{
			Role: "user",
			Parts: []visionPart{
				{Text: analysisPrompt},
				{InlineData: &visionInlineMedia{
					MimeType: mimeType,
					Data:     base64.StdEncoding.EncodeToString(imageData),
				}},
			},
		}},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return Analysis{}, fmt.Errorf("vision: encode request: %w", err)
	}
	endpoint := fmt.Sprintf("%s/models/%s:generateContent", c.baseURL, url.PathEscape(c.model))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return Analysis{}, fmt.Errorf("vision: build request: %w", err)
	}
	q := req.URL.Query()
	q.Set("key", c.apiKey)
	req.URL.RawQuery = q.Encode()
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return Analysis{}, fmt.Errorf("vision: http request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return Analysis{}, fmt.Errorf("vision: read response: %w", err)
	}
	if resp.StatusCode >= 300 {
		return Analysis{}, fmt.Errorf("vision: %w", &remote.StatusError{Code: resp.StatusCode, Message: strings.TrimSpace(string(raw))})
	}

	var decoded visionResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return Analysis{}, fmt.Errorf("vision: decode response: %w", err)
	}
	var sb strings.Builder
	for _, candidate := range decoded.Candidates {
		for _, part := range candidate.Content.Parts {
			sb.WriteString(part.Text)
		}
	}
	analysis, err := textgen.DecodeJSONPayload[Analysis](sb.String())
	if err != nil {
		return Analysis{}, fmt.Errorf("vision: decode analysis: %w", err)
	}
	c.logger.Debug().
		Str("model", c.model).
		Float64("score", analysis.Score).
		Msg("vision: image analyzed")
	return analysis, nil
}

var _ Analyzer = (*Client)(nil)
