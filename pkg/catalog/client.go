package catalog

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// SearchResult is the tool-facing outcome of one catalog search.
// Search never fails: transport or shape errors degrade to an empty
// item list with the error described in the summary.
type SearchResult struct {
	Items      []map[string]interface{} `json:"items"`
	TotalFound int                      `json:"totalFound"`
	Summary    string                   `json:"productsSummary"`
}

// Client calls the external product search collaborator
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     zerolog.Logger
}

// NewClient creates a catalog search client
func NewClient(baseURL string, timeout time.Duration, logger zerolog.Logger) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

type searchRequest struct {
	Query string `json:"query"`
	Limit int    `json:"limit"`
}

type searchResponse struct {
	Results []map[string]interface{} `json:"results"`
	Count   int                      `json:"count"`
}

// Search queries the catalog and normalizes the response. The summary
// lists the top results so the model can self-check relevance.
func (c *Client) Search(ctx context.Context, query string, limit int) SearchResult {
	body, err := json.Marshal(searchRequest{Query: query, Limit: limit})
	if err != nil {
		return c.searchError(query, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/search", bytes.NewReader(body))
	if err != nil {
		return c.searchError(query, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return c.searchError(query, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		c.logger.Warn().Int("status", resp.StatusCode).Str("query", query).Msg("Search API returned non-success status")
		return SearchResult{
			Items:      []map[string]interface{}{},
			TotalFound: 0,
			Summary:    fmt.Sprintf("Error during search: Status %d", resp.StatusCode),
		}
	}

	var parsed searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return c.searchError(query, err)
	}

	totalFound := parsed.Count
	if totalFound == 0 {
		totalFound = len(parsed.Results)
	}

	items := normalizeProducts(parsed.Results)

	return SearchResult{
		Items:      items,
		TotalFound: totalFound,
		Summary:    buildSummary(query, items, totalFound),
	}
}

func (c *Client) searchError(query string, err error) SearchResult {
	c.logger.Warn().Err(err).Str("query", query).Msg("Search API call failed")
	return SearchResult{
		Items:      []map[string]interface{}{},
		TotalFound: 0,
		Summary:    fmt.Sprintf("Error during search: %v", err),
	}
}

// normalizeProducts maps raw catalog entries onto the canonical product
// shape. Entries without an id or name are dropped.
func normalizeProducts(results []map[string]interface{}) []map[string]interface{} {
	normalized := []map[string]interface{}{}

	for _, p := range results {
		if !hasStringField(p, "id") || !hasStringField(p, "name") {
			continue
		}

		item := make(map[string]interface{}, len(p)+4)
		for k, v := range p {
			item[k] = v
		}

		item["type"] = "product"

		meta, _ := item["meta"].(map[string]interface{})
		if meta == nil {
			meta = map[string]interface{}{}
		}
		if source, ok := item["source"].(string); ok && source != "" {
			meta["source"] = source
		} else if _, ok := meta["source"]; !ok {
			meta["source"] = "Qualiwo"
		}
		item["meta"] = meta

		defaults := map[string]interface{}{
			"brand":             nil,
			"short_description": nil,
			"tags":              []interface{}{},
			"keywords":          []interface{}{},
			"sku":               nil,
		}
		for key, value := range defaults {
			if _, ok := item[key]; !ok {
				item[key] = value
			}
		}

		normalized = append(normalized, item)
	}

	return normalized
}

func hasStringField(m map[string]interface{}, key string) bool {
	v, ok := m[key]
	if !ok || v == nil {
		return false
	}
	s, ok := v.(string)
	return ok && s != ""
}

// buildSummary renders a short model-readable digest of the top results
func buildSummary(query string, items []map[string]interface{}, totalFound int) string {
	if len(items) == 0 {
		return fmt.Sprintf("No products found for %q.", query)
	}

	top := items
	if len(top) > 5 {
		top = top[:5]
	}

	lines := make([]string, 0, len(top))
	for i, p := range top {
		brand := "Unknown Brand"
		if b, ok := p["brand"].(string); ok && b != "" {
			brand = b
		} else if meta, ok := p["meta"].(map[string]interface{}); ok {
			if source, ok := meta["source"].(string); ok && source != "" {
				brand = source
			}
		}

		price := "N/A"
		currency := "EUR"
		if priceInfo, ok := p["price"].(map[string]interface{}); ok {
			if amount, ok := priceInfo["amount"].(float64); ok {
				price = fmt.Sprintf("%g", amount)
			}
			if cur, ok := priceInfo["currency"].(string); ok && cur != "" {
				currency = cur
			}
		}

		categories := "N/A"
		if cats, ok := p["categories"].([]interface{}); ok && len(cats) > 0 {
			parts := make([]string, 0, len(cats))
			for _, c := range cats {
				if s, ok := c.(string); ok {
					parts = append(parts, s)
				}
			}
			if len(parts) > 0 {
				categories = strings.Join(parts, ", ")
			}
		}

		lines = append(lines, fmt.Sprintf("%d. %q - %s - %s %s - Categories: %s",
			i+1, p["name"], brand, price, currency, categories))
	}

	return fmt.Sprintf("Found %d products for %q:\n%s", totalFound, query, strings.Join(lines, "\n"))
}
