// Package searx queries a SearxNG instance over its JSON API.
package searx

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/kmalykh/ragmesh/internal/core/domain"
)

type Client struct {
	baseURL    string
	httpClient *http.Client
}

func New(baseURL string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
}

type searchResponse struct {
	Results []struct {
		Title   string  `json:"title"`
		URL     string  `json:"url"`
		Content string  `json:"content"`
		Score   float64 `json:"score"`
	} `json:"results"`
}

func (c *Client) Search(ctx context.Context, query string, maxResults int) ([]domain.RetrievedChunk, error) {
	if strings.TrimSpace(query) == "" {
		return nil, nil
	}
	if maxResults <= 0 {
		maxResults = 5
	}

	params := url.Values{}
	params.Set("q", query)
	params.Set("format", "json")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/search?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("create search request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, domain.WrapError(domain.ErrTemporary, "web_search", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, domain.WrapError(domain.ErrTemporary, "web_search",
			fmt.Errorf("searx status: %s", resp.Status))
	}

	var decoded searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("decode search response: %w", err)
	}

	chunks := make([]domain.RetrievedChunk, 0, maxResults)
	for _, result := range decoded.Results {
		if len(chunks) >= maxResults {
			break
		}
		text := result.Content
		if text == "" {
			text = result.Title
		}
		chunks = append(chunks, domain.RetrievedChunk{
			ID:    result.URL,
			Text:  text,
			Score: result.Score,
			Source: domain.SourceRef{
				Title: result.Title,
				URL:   result.URL,
				Store: "web",
			},
		})
	}
	return chunks, nil
}
