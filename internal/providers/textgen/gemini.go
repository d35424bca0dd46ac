package textgen

import (
	"bytes"
	"context"
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
	"enricher/internal/remote"
)

// ErrMissingAPIKey indicates that the client was configured without credentials.
var ErrMissingAPIKey = errors.New("textgen: api key is required")

// ErrEmptyCompletion indicates the provider returned no usable text.
var ErrEmptyCompletion = errors.New("textgen: empty completion")

const defaultTimeout = 15 * time.Second

// Generator is the text-generation capability consumed by the processor and
// the model placement strategy.
type Generator interface {
	Generate(ctx context.Context, prompt string, maxTokens int) (string, error)
}

// Options configures the Gemini text client.
type Options struct {
	APIKey     string
	Model      string
	BaseURL    string
	HTTPClient *http.Client
	Logger     *infra.Logger
}

// GeminiClient calls the Gemini generateContent API for plain text output.
type GeminiClient struct {
	apiKey  string
	model   string
	baseURL string
	client  *http.Client
	logger  *infra.Logger
}

type geminiRequest struct {
	Contents         []geminiContent         `json:"contents"`
	GenerationConfig *geminiGenerationConfig `json:"generationConfig,omitempty"`
}

type geminiContent struct {
	Role  string       `json:"role"`
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text string `json:"text,omitempty"`
}

type geminiGenerationConfig struct {
	Temperature     float64 `json:"temperature,omitempty"`
	CandidateCount  int     `json:"candidateCount,omitempty"`
	MaxOutputTokens int     `json:"maxOutputTokens,omitempty"`
}

type geminiResponse struct {
	Candidates []struct {
		Content geminiContent `json:"content"`
	} `json:"candidates"`
}

type geminiErrorResponse struct {
	Error struct {
		Code    int    `json:"code,omitempty"`
		Status  string `json:"status,omitempty"`
		Message string `json:"message,omitempty"`
	} `json:"error"`
}

// NewGeminiClient constructs a client with sane defaults and injected dependencies.
func NewGeminiClient(opts Options) (*GeminiClient, error) {
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
		client = &http.Client{Timeout: defaultTimeout}
	}
	var logger *infra.Logger
	if opts.Logger != nil {
		logger = opts.Logger
	} else {
		discard := zerolog.New(io.Discard)
		l := infra.Logger(discard)
		logger = &l
	}
	return &GeminiClient{
		apiKey:  strings.TrimSpace(opts.APIKey),
		model:   model,
		baseURL: baseURL,
		client:  client,
		logger:  logger,
	}, nil
}

// Model returns the configured model identifier.
func (c *GeminiClient) Model() string {
	return c.model
}

// Generate requests a completion for the prompt and returns the concatenated
// candidate text. Throttling responses surface as remote.StatusError so the
// retrier can classify them.
func (c *GeminiClient) Generate(ctx context.Context, prompt string, maxTokens int) (string, error) {
	payload := geminiRequest{
		Contents: []geminiContent{{
			Role:  "user",
			Parts: []geminiPart{{Text: prompt}},
		}},
		GenerationConfig: &geminiGenerationConfig{CandidateCount: 1, MaxOutputTokens: maxTokens},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("textgen: encode request: %w", err)
	}
	endpoint := fmt.Sprintf("%s/models/%s:generateContent", c.baseURL, url.PathEscape(c.model))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("textgen: build request: %w", err)
	}
	q := req.URL.Query()
	q.Set("key", c.apiKey)
	req.URL.RawQuery = q.Encode()
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("textgen: http request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("textgen: read response: %w", err)
	}
	if resp.StatusCode >= 300 {
		var apiErr geminiErrorResponse
		if err := json.Unmarshal(raw, &apiErr); err == nil && apiErr.Error.Message != "" {
			return "", fmt.Errorf("textgen: %w", &remote.StatusError{Code: resp.StatusCode, Message: apiErr.Error.Message})
		}
		return "", fmt.Errorf("textgen: %w", &remote.StatusError{Code: resp.StatusCode, Message: strings.TrimSpace(string(raw))})
	}

	var decoded geminiResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return "", fmt.Errorf("textgen: decode response: %w", err)
	}
	var sb strings.Builder
	for _, candidate := range decoded.Candidates {
		for _, part := range candidate.Content.Parts {
			sb.WriteString(part.Text)
		}
	}
	text := strings.TrimSpace(sb.String())
	if text == "" {
		return "", ErrEmptyCompletion
	}
	c.logger.Debug().
		Str("model", c.model).
		Int("chars", len(text)).
		Msg("textgen: completion received")
	return text, nil
}

var _ Generator = (*GeminiClient)(nil)
