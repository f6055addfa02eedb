// Package websearch implements the search_web tool backed by Brave
// Search or the DuckDuckGo instant answer API, with results cached in
// the shared query cache.
package websearch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/haasonsaas/relay/internal/observability"
	"github.com/haasonsaas/relay/internal/searchcache"
)

// Backend identifies a search backend.
type Backend string

const (
	BackendBrave      Backend = "brave"
	BackendDuckDuckGo Backend = "duckduckgo"
)

const (
	defaultResultCount = 5
	maxResultCount     = 20

	braveBaseURL  = "https://api.search.brave.com/res/v1/web/search"
	duckduckgoURL = "https://api.duckduckgo.com/"
)

// Config configures the search tool.
type Config struct {
	// BraveAPIKey enables the Brave backend. Without it, searches use
	// DuckDuckGo.
	BraveAPIKey string

	// DefaultBackend selects the backend when the model does not ask
	// for one. Defaults to brave when a key is set, duckduckgo otherwise.
	DefaultBackend Backend

	// CacheTTL overrides the cache lifetime for stored results. Zero
	// uses the cache's default.
	CacheTTL time.Duration

	// Timeout bounds one backend HTTP call.
	Timeout time.Duration

	// BraveBaseURL and DuckDuckGoBaseURL override the backend endpoints.
	// Empty uses the public APIs.
	BraveBaseURL      string
	DuckDuckGoBaseURL string

	// Metrics counts cache lookups when set.
	Metrics *observability.Metrics
}

// Result is one search hit.
type Result struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet,omitempty"`
}

// Response is the tool's JSON payload. FromCache and CachedAt are set
// when the payload was served from the query cache.
type Response struct {
	Query       string     `json:"query"`
	Backend     Backend    `json:"backend"`
	Results     []Result   `json:"results"`
	ResultCount int        `json:"result_count"`
	FromCache   bool       `json:"from_cache,omitempty"`
	CachedAt    *time.Time `json:"cached_at,omitempty"`
}

// Tool performs web searches. It consults the query cache before any
// backend call and stores fresh results afterwards; cache failures are
// logged and never fail the search.
type Tool struct {
	config     Config
	cache      searchcache.Store
	logger     *slog.Logger
	metrics    *observability.Metrics
	httpClient *http.Client

	braveURL string
	ddgURL   string
}

// New creates the search tool. The cache may be nil to disable caching.
func New(config Config, cache searchcache.Store, logger *slog.Logger) *Tool {
	if logger == nil {
		logger = slog.Default()
	}
	if config.Timeout <= 0 {
		config.Timeout = 15 * time.Second
	}
	if config.DefaultBackend == "" {
		if config.BraveAPIKey != "" {
			config.DefaultBackend = BackendBrave
		} else {
			config.DefaultBackend = BackendDuckDuckGo
		}
	}
	t := &Tool{
		config:     config,
		cache:      cache,
		logger:     logger,
		metrics:    config.Metrics,
		httpClient: &http.Client{Timeout: config.Timeout},
		braveURL:   braveBaseURL,
		ddgURL:     duckduckgoURL,
	}
	if config.BraveBaseURL != "" {
		t.braveURL = config.BraveBaseURL
	}
	if config.DuckDuckGoBaseURL != "" {
		t.ddgURL = config.DuckDuckGoBaseURL
	}
	return t
}

func (t *Tool) Name() string { return "search_web" }

func (t *Tool) Description() string {
	return "Search the web for current information. Returns a list of results with titles, URLs, and snippets."
}

func (t *Tool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"query": {
				"type": "string",
				"description": "The search query"
			},
			"count": {
				"type": "integer",
				"description": "Number of results to return (default 5, max 20)"
			}
		},
		"required": ["query"]
	}`)
}

type searchParams struct {
	Query string `json:"query"`
	Count int    `json:"count"`
}

// Execute runs one search. A cached result within its TTL is returned
// as-is, annotated with its original creation time; the event sequence
// a client sees is identical either way.
func (t *Tool) Execute(ctx context.Context, input json.RawMessage) (string, error) {
	var params searchParams
	if err := json.Unmarshal(input, &params); err != nil {
		return "", fmt.Errorf("invalid search parameters: %w", err)
	}
	if params.Query == "" {
		return "", errors.New("query is required")
	}
	if params.Count <= 0 {
		params.Count = defaultResultCount
	}
	if params.Count > maxResultCount {
		params.Count = maxResultCount
	}

	if cached := t.fromCache(ctx, params.Query); cached != "" {
		t.countLookup("hit")
		return cached, nil
	}
	if t.cache != nil {
		t.countLookup("miss")
	}

	response, err := t.search(ctx, params)
	if err != nil {
		return "", err
	}

	payload, err := json.Marshal(response)
	if err != nil {
		return "", fmt.Errorf("encode search response: %w", err)
	}

	if t.cache != nil {
		if err := t.cache.Put(ctx, params.Query, string(payload), t.config.CacheTTL); err != nil {
			t.logger.Warn("search cache put failed", "query", params.Query, "error", err)
		}
	}
	return string(payload), nil
}

func (t *Tool) countLookup(result string) {
	if t.metrics != nil {
		t.metrics.CacheLookups.WithLabelValues(result).Inc()
	}
}

// fromCache returns the annotated cached payload, or "" on a miss.
func (t *Tool) fromCache(ctx context.Context, query string) string {
	if t.cache == nil {
		return ""
	}
	entry, err := t.cache.Get(ctx, query)
	if err != nil {
		t.logger.Warn("search cache get failed", "query", query, "error", err)
		return ""
	}
	if entry == nil {
		return ""
	}

	var response Response
	if err := json.Unmarshal([]byte(entry.Result), &response); err != nil {
		t.logger.Warn("cached search result is corrupt", "query", query, "error", err)
		return ""
	}
	response.FromCache = true
	createdAt := entry.CreatedAt
	response.CachedAt = &createdAt

	payload, err := json.Marshal(response)
	if err != nil {
		return ""
	}
	return string(payload)
}

func (t *Tool) search(ctx context.Context, params searchParams) (*Response, error) {
	var response *Response
	var err error
	switch t.config.DefaultBackend {
	case BackendBrave:
		response, err = t.searchBrave(ctx, params)
		if err != nil {
			// Brave outages degrade to the keyless backend.
			t.logger.Warn("brave search failed, falling back to duckduckgo", "error", err)
			response, err = t.searchDuckDuckGo(ctx, params)
		}
	default:
		response, err = t.searchDuckDuckGo(ctx, params)
	}
	if err != nil {
		return nil, fmt.Errorf("search failed: %w", err)
	}
	return response, nil
}

func (t *Tool) searchBrave(ctx context.Context, params searchParams) (*Response, error) {
	if t.config.BraveAPIKey == "" {
		return nil, errors.New("brave api key not configured")
	}

	searchURL, err := url.Parse(t.braveURL)
	if err != nil {
		return nil, fmt.Errorf("invalid brave url: %w", err)
	}
	query := url.Values{}
	query.Set("q", params.Query)
	query.Set("count", fmt.Sprintf("%d", params.Count))
	searchURL.RawQuery = query.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, searchURL.String(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Subscription-Token", t.config.BraveAPIKey)

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("brave request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("brave returned status %d: %s", resp.StatusCode, body)
	}

	var decoded struct {
		Web struct {
			Results []struct {
				Title       string `json:"title"`
				URL         string `json:"url"`
				Description string `json:"description"`
			} `json:"results"`
		} `json:"web"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("parse brave response: %w", err)
	}

	results := make([]Result, 0, len(decoded.Web.Results))
	for _, r := range decoded.Web.Results {
		if len(results) >= params.Count {
			break
		}
		results = append(results, Result{Title: r.Title, URL: r.URL, Snippet: r.Description})
	}
	return &Response{
		Query:       params.Query,
		Backend:     BackendBrave,
		Results:     results,
		ResultCount: len(results),
	}, nil
}

func (t *Tool) searchDuckDuckGo(ctx context.Context, params searchParams) (*Response, error) {
	instantURL := fmt.Sprintf("%s?q=%s&format=json&no_html=1", t.ddgURL, url.QueryEscape(params.Query))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, instantURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (compatible; RelayBot/1.0)")

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("duckduckgo request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("duckduckgo returned status %d", resp.StatusCode)
	}

	var decoded struct {
		Heading       string `json:"Heading"`
		AbstractText  string `json:"AbstractText"`
		AbstractURL   string `json:"AbstractURL"`
		RelatedTopics []struct {
			FirstURL string `json:"FirstURL"`
			Text     string `json:"Text"`
		} `json:"RelatedTopics"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("parse duckduckgo response: %w", err)
	}

	results := make([]Result, 0, params.Count)
	if decoded.AbstractText != "" && decoded.AbstractURL != "" {
		results = append(results, Result{
			Title:   decoded.Heading,
			URL:     decoded.AbstractURL,
			Snippet: decoded.AbstractText,
		})
	}
	for _, topic := range decoded.RelatedTopics {
		if len(results) >= params.Count {
			break
		}
		if topic.FirstURL == "" || topic.Text == "" {
			continue
		}
		title := topic.Text
		if len(title) > 100 {
			title = title[:100]
		}
		results = append(results, Result{Title: title, URL: topic.FirstURL, Snippet: topic.Text})
	}
	return &Response{
		Query:       params.Query,
		Backend:     BackendDuckDuckGo,
		Results:     results,
		ResultCount: len(results),
	}, nil
}
