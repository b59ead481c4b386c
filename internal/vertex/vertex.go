// Package vertex embeds images through the Vertex AI multimodal embedding model.
package vertex

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/time/rate"
)

// Config configures the Vertex embedding client.
type Config struct {
	APIKey      string
	BearerToken string
	UseOAuth    bool
	// SAPath is a service account JSON file; CredentialsJSON is the same
	// material inline and wins when both are set.
	SAPath          string
	CredentialsJSON string
	ProjectID       string
	Location        string
	Model           string
	// RequestsPerMinute caps predict calls (default 60).
	RequestsPerMinute int
	// BaseURL overrides the regional endpoint; tests use this.
	BaseURL string
}

// Client calls the Vertex AI predict endpoint for image embeddings.
type Client struct {
	cfg     Config
	auth    authorizer
	limiter *rate.Limiter
	http    *http.Client
}

// NewClient creates a Vertex embedding client.
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	if cfg.Location == "" {
		cfg.Location = "us-central1"
	}
	if cfg.Model == "" {
		cfg.Model = "multimodalembedding@001"
	}
	if cfg.ProjectID == "" {
		return nil, fmt.Errorf("vertex project_id required")
	}

	auth, err := newAuthorizer(ctx, cfg)
	if err != nil {
		return nil, err
	}

	rpm := cfg.RequestsPerMinute
	if rpm <= 0 {
		rpm = 60
	}

	return &Client{
		cfg:     cfg,
		auth:    auth,
		limiter: rate.NewLimiter(rate.Limit(float64(rpm)/60.0), 1),
		http:    &http.Client{Timeout: 60 * time.Second},
	}, nil
}

// AuthMode reports which credential mechanism is active.
func (c *Client) AuthMode() string {
	return c.auth.mode()
}

func (c *Client) endpoint() string {
	if c.cfg.BaseURL != "" {
		return fmt.Sprintf("%s/v1/projects/%s/locations/%s/publishers/google/models/%s:predict",
			c.cfg.BaseURL, c.cfg.ProjectID, c.cfg.Location, c.cfg.Model)
	}
	return fmt.Sprintf("https://%s-aiplatform.googleapis.com/v1/projects/%s/locations/%s/publishers/google/models/%s:predict",
		c.cfg.Location, c.cfg.ProjectID, c.cfg.Location, c.cfg.Model)
}

// EmbedImage returns the multimodal embedding vector for raw image bytes.
func (c *Client) EmbedImage(ctx context.Context, data []byte) ([]float32, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("empty image data")
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	body := map[string]any{
		"instances": []map[string]any{
			{"image": map[string]string{"bytesBase64Encoded": base64.StdEncoding.EncodeToString(data)}},
		},
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(), bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if err := c.auth.apply(req); err != nil {
		return nil, err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("vertex predict: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("vertex predict: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("vertex predict: %s: %s", resp.Status, respBody)
	}

	var result struct {
		Predictions []struct {
			ImageEmbedding []float32 `json:"imageEmbedding"`
		} `json:"predictions"`
	}
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, fmt.Errorf("vertex predict: decoding response: %w", err)
	}
	if len(result.Predictions) == 0 || len(result.Predictions[0].ImageEmbedding) == 0 {
		return nil, fmt.Errorf("vertex predict: response has no image embedding")
	}
	return result.Predictions[0].ImageEmbedding, nil
}
