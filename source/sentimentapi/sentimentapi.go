// Package sentimentapi adapts JSON-over-HTTP sentiment scoring APIs.
//
// Any service exposing a POST /v1/sentiment endpoint that scores a
// batch of tickers works; the adapter owns transport and decoding
// while the caller owns rate limiting and retries.
package sentimentapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	hrvstr "github.com/codebymv/HRVSTR-sub001"
)

// Fetcher is a sentiment API adapter.
type Fetcher struct {
	name       string
	baseURL    string
	apiKey     string
	httpClient *http.Client
	dataTypes  []hrvstr.DataType
}

var _ hrvstr.SourceFetcher = (*Fetcher)(nil)

// Option configures the fetcher.
type Option func(*Fetcher)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(f *Fetcher) { f.httpClient = c }
}

// WithAPIKey sets the bearer token sent with each request.
func WithAPIKey(key string) Option {
	return func(f *Fetcher) { f.apiKey = key }
}

// WithDataTypes sets the data types the source contributes to.
func WithDataTypes(types ...hrvstr.DataType) Option {
	return func(f *Fetcher) { f.dataTypes = types }
}

// New creates a sentiment API fetcher.
func New(name, baseURL string, opts ...Option) *Fetcher {
	f := &Fetcher{
		name:       name,
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: http.DefaultClient,
		dataTypes:  []hrvstr.DataType{hrvstr.DataTickerSentiment, hrvstr.DataMarketSentiment},
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

func (f *Fetcher) Name() string { return f.name }

func (f *Fetcher) DataTypes() []hrvstr.DataType { return f.dataTypes }

// apiRequest is the sentiment scoring request format.
type apiRequest struct {
	Tickers   []string `json:"tickers"`
	TimeRange string   `json:"time_range"`
}

// apiResponse is the sentiment scoring response format.
type apiResponse struct {
	Results []struct {
		Ticker     string    `json:"ticker"`
		Score      float64   `json:"score"`
		Confidence *float64  `json:"confidence,omitempty"`
		Posts      int       `json:"posts"`
		Comments   int       `json:"comments"`
		News       int       `json:"news"`
		Timestamp  time.Time `json:"timestamp"`
	} `json:"results"`
}

func (f *Fetcher) Fetch(ctx context.Context, entityKeys []string, timeRange hrvstr.TimeRange) (map[string]hrvstr.SourceResult, error) {
	httpResp, err := f.doRequest(ctx, apiRequest{
		Tickers:   entityKeys,
		TimeRange: string(timeRange),
	})
	if err != nil {
		return nil, err
	}
	defer httpResp.Body.Close()

	if err := mapHTTPError(httpResp); err != nil {
		return nil, err
	}

	var resp apiResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
		return nil, fmt.Errorf("hrvstr: decode %s response: %w", f.name, err)
	}

	results := make(map[string]hrvstr.SourceResult, len(resp.Results))
	for _, r := range resp.Results {
		if r.Ticker == "" {
			continue
		}
		ts := r.Timestamp
		if ts.IsZero() {
			ts = time.Now().UTC()
		}
		results[r.Ticker] = hrvstr.SourceResult{
			Source:     f.name,
			EntityKey:  r.Ticker,
			Score:      r.Score,
			Confidence: r.Confidence,
			Volume:     hrvstr.VolumeMetrics{Posts: r.Posts, Comments: r.Comments, News: r.News},
			Timestamp:  ts,
		}
	}
	return results, nil
}

func (f *Fetcher) doRequest(ctx context.Context, body apiRequest) (*http.Response, error) {
	jsonBody, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("hrvstr: marshal %s request: %w", f.name, err)
	}

	url := f.baseURL + "/v1/sentiment"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("hrvstr: create %s request: %w", f.name, err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	if f.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+f.apiKey)
	}

	resp, err := f.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", hrvstr.ErrSourceUnavailable, err)
	}
	return resp, nil
}

func mapHTTPError(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	// Read body for error context, but don't fail if we can't.
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
	resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusTooManyRequests:
		return hrvstr.ErrRateLimited
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("%w: auth rejected", hrvstr.ErrSourceUnavailable)
	case http.StatusBadRequest:
		return fmt.Errorf("%w: %s", hrvstr.ErrInvalidRequest, string(body))
	default:
		return hrvstr.ErrSourceUnavailable
	}
}
