package external

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// ErrNoMatch is returned when a terminology service has no entry for a name
var ErrNoMatch = errors.New("no matching drug")

// RxNormClient handles interactions with the NLM RxNav REST API
type RxNormClient struct {
	baseURL    string
	httpClient *http.Client
	rateLimit  *rate.Limiter
}

// RxNormConfig represents configuration for the RxNorm client
type RxNormConfig struct {
	BaseURL   string        `json:"base_url"`
	Timeout   time.Duration `json:"timeout"`
	RateLimit int           `json:"rate_limit"` // requests per second
}

// RxNormMatch is a normalized RxNorm concept
type RxNormMatch struct {
	RxCUI         string `json:"rxcui"`
	CanonicalName string `json:"canonical_name"`
	Approximate   bool   `json:"approximate"`
}

type rxcuiResponse struct {
	IDGroup struct {
		Name     string   `json:"name"`
		RxNormID []string `json:"rxnormId"`
	} `json:"idGroup"`
}

type approximateTermResponse struct {
	ApproximateGroup struct {
		Candidate []struct {
			RxCUI string `json:"rxcui"`
			Score string `json:"score"`
		} `json:"candidate"`
	} `json:"approximateGroup"`
}

// NewRxNormClient creates a new RxNorm API client
func NewRxNormClient(config RxNormConfig) *RxNormClient {
	if config.BaseURL == "" {
		config.BaseURL = "https://rxnav.nlm.nih.gov/REST"
	}
	if config.Timeout == 0 {
		config.Timeout = 5 * time.Second
	}
	if config.RateLimit == 0 {
		config.RateLimit = 20 // NLM asks for at most 20 requests per second
	}

	return &RxNormClient{
		baseURL: strings.TrimRight(config.BaseURL, "/"),
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
		rateLimit: rate.NewLimiter(rate.Limit(config.RateLimit), 1),
	}
}

// Normalize resolves a drug name to its RxCUI and canonical name. An exact
// lookup is tried first, then the best approximate match.
func (c *RxNormClient) Normalize(ctx context.Context, drugName string) (*RxNormMatch, error) {
	drugName = strings.TrimSpace(drugName)
	if drugName == "" {
		return nil, fmt.Errorf("drug name cannot be empty")
	}

	match := &RxNormMatch{}

	var exact rxcuiResponse
	if err := c.getJSON(ctx, "/rxcui.json", url.Values{"name": {drugName}}, &exact); err != nil {
		return nil, fmt.Errorf("rxcui lookup failed: %w", err)
	}

	if len(exact.IDGroup.RxNormID) > 0 {
		match.RxCUI = exact.IDGroup.RxNormID[0]
	} else {
		var approx approximateTermResponse
		params := url.Values{"term": {drugName}, "maxEntries": {"1"}}
		if err := c.getJSON(ctx, "/approximateTerm.json", params, &approx); err != nil {
			return nil, fmt.Errorf("approximate lookup failed: %w", err)
		}
		if len(approx.ApproximateGroup.Candidate) == 0 || approx.ApproximateGroup.Candidate[0].RxCUI == "" {
			return nil, ErrNoMatch
		}
		match.RxCUI = approx.ApproximateGroup.Candidate[0].RxCUI
		match.Approximate = true
	}

	var named rxcuiResponse
	if err := c.getJSON(ctx, "/rxcui/"+url.PathEscape(match.RxCUI)+".json", nil, &named); err != nil {
		return nil, fmt.Errorf("canonical name lookup failed: %w", err)
	}
	if named.IDGroup.Name == "" {
		return nil, fmt.Errorf("rxcui %s has no canonical name: %w", match.RxCUI, ErrNoMatch)
	}
	match.CanonicalName = named.IDGroup.Name

	return match, nil
}

func (c *RxNormClient) getJSON(ctx context.Context, path string, params url.Values, dest interface{}) error {
	if err := c.rateLimit.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait failed: %w", err)
	}

	reqURL := c.baseURL + path
	if len(params) > 0 {
		reqURL += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("RxNorm returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	if err := json.NewDecoder(resp.Body).Decode(dest); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
