package knowledge

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/bytedance/sonic"
)

// Snippet is one search hit returned by the knowledge-base service.
type Snippet struct {
	Text  string  `json:"text"`
	Score float64 `json:"score"`
}

type searchRequest struct {
	Query string `json:"query"`
	TopK  int    `json:"top_k"`
}

type searchResponse struct {
	Results []Snippet `json:"results"`
}

// Config points the client at the search service.
type Config struct {
	BaseURL  string
	Timeout  time.Duration
	TopK     int
	MinScore float64
}

// Client queries the semantic search service. Lookups are best-effort: any
// failure degrades to an empty context.
type Client struct {
	baseURL    string
	topK       int
	minScore   float64
	timeout    time.Duration
	httpClient *http.Client
}

// NewClient creates a client. A blank base URL yields a client whose lookups
// always return nothing.
func NewClient(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Second
	}
	if cfg.TopK <= 0 {
		cfg.TopK = 3
	}
	return &Client{
		baseURL:  strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"),
		topK:     cfg.TopK,
		minScore: cfg.MinScore,
		timeout:  cfg.Timeout,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
	}
}

// Enabled reports whether a search service is configured.
func (c *Client) Enabled() bool {
	return c != nil && c.baseURL != ""
}

// Search returns the snippets scoring above the threshold joined by blank
// lines, in service order. It returns "" on any failure.
func (c *Client) Search(ctx context.Context, query string) string {
	if !c.Enabled() {
		return ""
	}

	snippets, err := c.Lookup(ctx, query)
	if err != nil {
		log.Printf("[kb] lookup failed, continuing without context: %v", err)
		return ""
	}

	texts := make([]string, 0, len(snippets))
	for _, s := range snippets {
		if s.Score > c.minScore && strings.TrimSpace(s.Text) != "" {
			texts = append(texts, s.Text)
		}
	}
	return strings.Join(texts, "\n\n")
}

// Lookup performs the raw search call bounded by the client timeout.
func (c *Client) Lookup(ctx context.Context, query string) ([]Snippet, error) {
	if !c.Enabled() {
		return nil, nil
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	body, err := sonic.ConfigStd.Marshal(searchRequest{Query: query, TopK: c.topK})
	if err != nil {
		return nil, fmt.Errorf("encode search request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/search", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create search request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("search request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("search service returned status %d", resp.StatusCode)
	}

	var parsed searchResponse
	if err := sonic.ConfigStd.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode search response: %w", err)
	}
	return parsed.Results, nil
}
