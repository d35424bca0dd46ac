// Package platform is the content-platform capability: fetching and updating
// entities, uploading assets. The core only ever reaches it through the
// remote gate and retrier.
package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"enricher/internal/domain"
	"enricher/internal/infra"
	"enricher/internal/remote"
)

// ErrMissingBaseURL indicates the client was configured without an endpoint.
var ErrMissingBaseURL = errors.New("platform: base url is required")

// API is the platform contract consumed by the processor and the backfill
// runner.
type API interface {
	FetchEntity(ctx context.Context, id string) (domain.Entity, error)
	FetchEntities(ctx context.Context, ids []string) ([]domain.Entity, error)
	ListEntityIDs(ctx context.Context) ([]string, error)
	UpdateEntity(ctx context.Context, id string, fields UpdateFields) error
	UploadAsset(ctx context.Context, data []byte, filename, altText string) (domain.AssetRef, error)
	UpdateAssetAltText(ctx context.Context, remoteID, altText string) error
}

// UpdateFields is a partial entity update; nil fields are left untouched.
type UpdateFields struct {
	Content         *string `json:"content,omitempty"`
	FeaturedImageID *string `json:"featured_image_id,omitempty"`
	ImageCount      *int    `json:"image_count,omitempty"`
}

// Options configures the HTTP platform client.
type Options struct {
	BaseURL        string
	Token          string
	HTTPClient     *http.Client
	Logger         *infra.Logger
	RequestTimeout time.Duration
	PageSize       int
}

// Client performs HTTP calls against the content platform's REST API.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	logger     *infra.Logger
	pageSize   int
}

type entityPayload struct {
	ID              string `json:"id"`
	Title           string `json:"title"`
	Content         string `json:"content"`
	FeaturedImageID string `json:"featured_image_id"`
	ImageCount      int    `json:"image_count"`
	ExistingImage   *struct {
		URL      string `json:"url"`
		RemoteID string `json:"remote_id"`
		AltText  string `json:"alt_text"`
	} `json:"existing_image,omitempty"`
}

type assetPayload struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

type errorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// NewClient constructs a client with sane defaults and injected dependencies.
func NewClient(opts Options) (*Client, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		return nil, ErrMissingBaseURL
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := opts.RequestTimeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	pageSize := opts.PageSize
	if pageSize <= 0 {
		pageSize = 100
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
		baseURL:    baseURL,
		token:      strings.TrimSpace(opts.Token),
		httpClient: httpClient,
		logger:     logger,
		pageSize:   pageSize,
	}, nil
}

// FetchEntity loads one entity by ID.
func (c *Client) FetchEntity(ctx context.Context, id string) (domain.Entity, error) {
	var payload entityPayload
	if err := c.getJSON(ctx, "/entities/"+url.PathEscape(id), &payload); err != nil {
		return domain.Entity{}, err
	}
	return payload.toEntity(), nil
}

// FetchEntities loads a set of entities in one request. This is the per-chunk
// operation the batch orchestrator drives.
func (c *Client) FetchEntities(ctx context.Context, ids []string) ([]domain.Entity, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	path := "/entities?include=" + url.QueryEscape(strings.Join(ids, ","))
	var payloads []entityPayload
	if err := c.getJSON(ctx, path, &payloads); err != nil {
		return nil, err
	}
	entities := make([]domain.Entity, 0, len(payloads))
	for _, p := range payloads {
		entities = append(entities, p.toEntity())
	}
	return entities, nil
}

// ListEntityIDs pages through the collection and returns every entity ID.
func (c *Client) ListEntityIDs(ctx context.Context) ([]string, error) {
	var ids []string
	for page := 1; ; page++ {
		var payloads []struct {
			ID string `json:"id"`
		}
		path := fmt.Sprintf("/entities?fields=id&page=%d&per_page=%d", page, c.pageSize)
		if err := c.getJSON(ctx, path, &payloads); err != nil {
			return nil, err
		}
		if len(payloads) == 0 {
			return ids, nil
		}
		for _, p := range payloads {
			ids = append(ids, p.ID)
		}
		if len(payloads) < c.pageSize {
			return ids, nil
		}
	}
}

// UpdateEntity applies a partial update to the entity.
func (c *Client) UpdateEntity(ctx context.Context, id string, fields UpdateFields) error {
	var body bytes.Buffer
	enc := json.NewEncoder(&body)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(fields); err != nil {
		return fmt.Errorf("platform: encode update: %w", err)
	}
	return c.send(ctx, http.MethodPost, "/entities/"+url.PathEscape(id), "application/json", &body, nil)
}

// UploadAsset pushes image bytes to the platform's media endpoint.
func (c *Client) UploadAsset(ctx context.Context, data []byte, filename, altText string) (domain.AssetRef, error) {
	if len(data) == 0 {
		return domain.AssetRef{}, errors.New("platform: asset data is empty")
	}
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	part, err := writer.CreateFormFile("file", filename)
	if err != nil {
		return domain.AssetRef{}, fmt.Errorf("platform: build upload: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return domain.AssetRef{}, fmt.Errorf("platform: build upload: %w", err)
	}
	if err := writer.WriteField("alt_text", altText); err != nil {
		return domain.AssetRef{}, fmt.Errorf("platform: build upload: %w", err)
	}
	if err := writer.Close(); err != nil {
		return domain.AssetRef{}, fmt.Errorf("platform: build upload: %w", err)
	}

	var payload assetPayload
	if err := c.send(ctx, http.MethodPost, "/assets", writer.FormDataContentType(), &buf, &payload); err != nil {
		return domain.AssetRef{}, err
	}
	if payload.URL == "" {
		return domain.AssetRef{}, errors.New("platform: upload response missing url")
	}
	c.logger.Debug().Str("remote_id", payload.ID).Str("url", payload.URL).Msg("platform: asset uploaded")
	return domain.AssetRef{URL: payload.URL, RemoteID: payload.ID, AltText: altText}, nil
}

// UpdateAssetAltText sets the alt text on an already-uploaded asset.
func (c *Client) UpdateAssetAltText(ctx context.Context, remoteID, altText string) error {
	body, err := json.Marshal(map[string]string{"alt_text": altText})
	if err != nil {
		return fmt.Errorf("platform: encode alt text: %w", err)
	}
	return c.send(ctx, http.MethodPost, "/assets/"+url.PathEscape(remoteID), "application/json", bytes.NewReader(body), nil)
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	return c.send(ctx, http.MethodGet, path, "", nil, out)
}

func (c *Client) send(ctx context.Context, method, path, contentType string, body io.Reader, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("platform: build request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("platform: http request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("platform: read response: %w", err)
	}
	if resp.StatusCode >= 300 {
		var detail errorPayload
		if err := json.Unmarshal(raw, &detail); err == nil && detail.Message != "" {
			return fmt.Errorf("platform: %w", &remote.StatusError{Code: resp.StatusCode, Message: detail.Message})
		}
		return fmt.Errorf("platform: %w", &remote.StatusError{Code: resp.StatusCode, Message: strings.TrimSpace(string(raw))})
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("platform: decode response: %w", err)
	}
	return nil
}

func (p entityPayload) toEntity() domain.Entity {
	entity := domain.Entity{
		ID:              p.ID,
		Title:           p.Title,
		Content:         p.Content,
		Status:          domain.StatusPending,
		FeaturedImageID: p.FeaturedImageID,
		ImageCount:      p.ImageCount,
	}
	if p.ExistingImage != nil && p.ExistingImage.URL != "" {
		entity.ExistingImage = &domain.AssetRef{
			URL:      p.ExistingImage.URL,
			RemoteID: p.ExistingImage.RemoteID,
			AltText:  p.ExistingImage.AltText,
		}
	}
	return entity
}

var _ API = (*Client)(nil)
