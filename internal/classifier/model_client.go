package classifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// ModelClientConfig represents configuration for the remote model client
type ModelClientConfig struct {
	BaseURL   string        `json:"base_url"`
	Timeout   time.Duration `json:"timeout"`
	RateLimit int           `json:"rate_limit"` // requests per second
}

// PredictRequest is the body sent to the model server
type PredictRequest struct {
	Text string `json:"text"`
}

// PredictResponse is the model server's answer
type PredictResponse struct {
	SeriousProbability float64  `json:"serious_probability"`
	ModelType          string   `json:"model_type,omitempty"`
	Classes            []string `json:"classes,omitempty"`
}

// ModelClient calls a served seriousness model over HTTP
type ModelClient struct {
	baseURL    string
	httpClient *http.Client
	rateLimit  *rate.Limiter
}

// NewModelClient creates a new model client
func NewModelClient(config ModelClientConfig) *ModelClient {
	if config.Timeout == 0 {
		config.Timeout = 10 * time.Second
	}
	if config.RateLimit == 0 {
		config.RateLimit = 50
	}

	return &ModelClient{
		baseURL: strings.TrimRight(config.BaseURL, "/"),
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
		rateLimit: rate.NewLimiter(rate.Limit(config.RateLimit), config.RateLimit),
	}
}

// Endpoint returns the model server base URL
func (c *ModelClient) Endpoint() string {
	return c.baseURL
}

// Predict scores preprocessed text
func (c *ModelClient) Predict(ctx context.Context, text string) (*PredictResponse, error) {
	if err := c.rateLimit.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait failed: %w", err)
	}

	body, err := json.Marshal(PredictRequest{Text: text})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/predict", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("model request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("model server returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var result PredictResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode model response: %w", err)
	}
	if result.SeriousProbability < 0 || result.SeriousProbability > 1 {
		return nil, fmt.Errorf("model returned probability %v outside [0,1]", result.SeriousProbability)
	}

	return &result, nil
}
