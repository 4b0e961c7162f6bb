package external

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/pv-ae-server/internal/domain"
)

const (
	// InfoNotAvailable fills label sections that could not be fetched
	InfoNotAvailable = "Information not available"
	// LabelSource identifies openFDA label lookups
	LabelSource = "FDA openFDA"

	maxLabelSectionLength = 1500
)

var (
	whitespaceRun = regexp.MustCompile(`\s+`)
	markupTag     = regexp.MustCompile(`<[^>]+>`)
)

// OpenFDAClient handles interactions with the openFDA drug label API
type OpenFDAClient struct {
	baseURL    string
	httpClient *http.Client
	rateLimit  *rate.Limiter
}

// OpenFDAConfig represents configuration for the openFDA client
type OpenFDAConfig struct {
	BaseURL   string        `json:"base_url"`
	Timeout   time.Duration `json:"timeout"`
	RateLimit int           `json:"rate_limit"`
}

type labelResponse struct {
	Results []struct {
		IndicationsAndUsage []string `json:"indications_and_usage"`
		Warnings            []string `json:"warnings"`
		WarningsCautions    []string `json:"warnings_and_cautions"`
		BoxedWarning        []string `json:"boxed_warning"`
		AdverseReactions    []string `json:"adverse_reactions"`
	} `json:"results"`
}

// NewOpenFDAClient creates a new openFDA API client
func NewOpenFDAClient(config OpenFDAConfig) *OpenFDAClient {
	if config.BaseURL == "" {
		config.BaseURL = "https://api.fda.gov"
	}
	if config.Timeout == 0 {
		config.Timeout = 5 * time.Second
	}
	if config.RateLimit == 0 {
		config.RateLimit = 4 // 240 requests per minute without an API key
	}

	return &OpenFDAClient{
		baseURL: strings.TrimRight(config.BaseURL, "/"),
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
		rateLimit: rate.NewLimiter(rate.Limit(config.RateLimit), 1),
	}
}

// LabelExists reports whether any FDA label lists drugName as a generic name
func (c *OpenFDAClient) LabelExists(ctx context.Context, drugName string) (bool, error) {
	labels, err := c.searchLabels(ctx, drugName)
	if err != nil {
		return false, err
	}
	return len(labels.Results) > 0, nil
}

// GetDrugInfo returns the indications, warnings and adverse reactions
// sections of the first matching label
func (c *OpenFDAClient) GetDrugInfo(ctx context.Context, drugName string) (*domain.DrugInfo, error) {
	labels, err := c.searchLabels(ctx, drugName)
	if err != nil {
		return nil, err
	}
	if len(labels.Results) == 0 {
		return nil, ErrNoMatch
	}

	label := labels.Results[0]
	warnings := label.Warnings
	if len(warnings) == 0 {
		warnings = label.WarningsCautions
	}
	if len(warnings) == 0 {
		warnings = label.BoxedWarning
	}

	return &domain.DrugInfo{
		Source:           LabelSource,
		Indications:      cleanLabelText(label.IndicationsAndUsage),
		Warnings:         cleanLabelText(warnings),
		AdverseReactions: cleanLabelText(label.AdverseReactions),
	}, nil
}

// UnavailableDrugInfo is returned when no label could be fetched
func UnavailableDrugInfo() *domain.DrugInfo {
	return &domain.DrugInfo{
		Source:           LabelSource,
		Indications:      InfoNotAvailable,
		Warnings:         InfoNotAvailable,
		AdverseReactions: InfoNotAvailable,
	}
}

func (c *OpenFDAClient) searchLabels(ctx context.Context, drugName string) (*labelResponse, error) {
	drugName = strings.ToLower(strings.TrimSpace(drugName))
	if drugName == "" {
		return nil, fmt.Errorf("drug name cannot be empty")
	}

	if err := c.rateLimit.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait failed: %w", err)
	}

	params := url.Values{
		"search": {fmt.Sprintf(`openfda.generic_name:"%s"`, drugName)},
		"limit":  {"1"},
	}
	reqURL := c.baseURL + "/drug/label.json?" + params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("openFDA request failed: %w", err)
	}
	defer resp.Body.Close()

	// openFDA answers 404 when a search has no hits
	if resp.StatusCode == http.StatusNotFound {
		return &labelResponse{}, nil
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("openFDA returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var labels labelResponse
	if err := json.NewDecoder(resp.Body).Decode(&labels); err != nil {
		return nil, fmt.Errorf("failed to decode openFDA response: %w", err)
	}
	return &labels, nil
}

func cleanLabelText(sections []string) string {
	text := strings.Join(sections, " ")
	text = markupTag.ReplaceAllString(text, "")
	text = strings.TrimSpace(whitespaceRun.ReplaceAllString(text, " "))
	if text == "" {
		return InfoNotAvailable
	}
	if runes := []rune(text); len(runes) > maxLabelSectionLength {
		text = string(runes[:maxLabelSectionLength]) + "..."
	}
	return text
}
