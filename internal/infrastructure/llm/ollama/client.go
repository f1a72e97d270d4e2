// Package ollama is the LLM and embedding collaborator. Generation supports
// a per-request model override so a chat request can pin its model id.
package ollama

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

type Client struct {
	baseURL    string
	genModel   string
	embedModel string
	httpClient *http.Client
}

func New(baseURL, genModel, embedModel string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		genModel:   genModel,
		embedModel: embedModel,
		httpClient: &http.Client{Timeout: 120 * time.Second},
	}
}

func (c *Client) model(override string) string {
	if strings.TrimSpace(override) != "" {
		return override
	}
	return c.genModel
}

func (c *Client) Generate(ctx context.Context, model, prompt string) (string, error) {
	return c.generate(ctx, map[string]any{
		"model":  c.model(model),
		"prompt": prompt,
		"stream": false,
	})
}

// GenerateJSON requests json-constrained output. Some models still wrap
// the object in narration, so the response is trimmed to the outermost
// braces before it is returned.
func (c *Client) GenerateJSON(ctx context.Context, model, prompt string) (string, error) {
	raw, err := c.generate(ctx, map[string]any{
		"model":  c.model(model),
		"prompt": prompt,
		"stream": false,
		"format": "json",
	})
	if err != nil {
		return "", err
	}
	return extractJSONObject(raw), nil
}

// GenerateStream decodes the newline-delimited response stream and hands
// each text delta to onDelta in arrival order. The accumulated answer is
// returned after the final chunk.
func (c *Client) GenerateStream(ctx context.Context, model, prompt string, onDelta func(string) error) (string, error) {
	body := map[string]any{
		"model":  c.model(model),
		"prompt": prompt,
		"stream": true,
	}

	resp, err := c.postStream(ctx, "/api/generate", body, "generate_stream")
	if err != nil {
		return "", wrapTemporaryIfNeeded("generate_stream", err)
	}
	defer resp.Body.Close()

	var full strings.Builder
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var chunk struct {
			Response string `json:"response"`
			Done     bool   `json:"done"`
		}
		if err := json.Unmarshal([]byte(line), &chunk); err != nil {
			return full.String(), fmt.Errorf("decode stream chunk: %w", err)
		}
		if chunk.Response != "" {
			full.WriteString(chunk.Response)
			if onDelta != nil {
				if err := onDelta(chunk.Response); err != nil {
					return full.String(), err
				}
			}
		}
		if chunk.Done {
			break
		}
	}
	if err := scanner.Err(); err != nil {
		return full.String(), fmt.Errorf("read stream: %w", err)
	}
	return full.String(), nil
}

type Embedder struct {
	client *Client
}

func NewEmbedder(client *Client) *Embedder {
	return &Embedder{client: client}
}

func (e *Embedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	request := map[string]any{
		"model": e.client.embedModel,
		"input": texts,
	}

	var response struct {
		Embeddings [][]float32 `json:"embeddings"`
	}
	if err := e.client.postJSON(ctx, "/api/embed", request, &response, "embed"); err != nil {
		return nil, wrapTemporaryIfNeeded("embed", err)
	}
	return response.Embeddings, nil
}

func (e *Embedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vectors, err := e.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vectors) == 0 {
		return nil, fmt.Errorf("empty embedding result")
	}
	return vectors[0], nil
}

func (c *Client) generate(ctx context.Context, reqBody map[string]any) (string, error) {
	var response struct {
		Response string `json:"response"`
	}
	if err := c.postJSON(ctx, "/api/generate", reqBody, &response, "generate"); err != nil {
		return "", wrapTemporaryIfNeeded("generate", err)
	}
	return strings.TrimSpace(response.Response), nil
}

// extractJSONObject trims any narration the model wrapped around a JSON
// object.
func extractJSONObject(raw string) string {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start >= 0 && end > start {
		return raw[start : end+1]
	}
	return raw
}
