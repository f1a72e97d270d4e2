// Package process calls the external logistics automation service. The
// service owns dispatch and schedule data; this client only forwards the user
// request and returns the rendered answer.
package process

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/kmalykh/ragmesh/internal/core/domain"
)

type Client struct {
	baseURL    string
	httpClient *http.Client
}

func New(baseURL string) *Client {
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}
}

func (c *Client) Run(ctx context.Context, userID, message string) (string, error) {
	payload, err := json.Marshal(struct {
		UserID  string `json:"user_id"`
		Message string `json:"message"`
	}{userID, message})
	if err != nil {
		return "", fmt.Errorf("marshal process request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/process/run", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("build process request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", domain.WrapError(domain.ErrTemporary, "process run", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("read process response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", domain.WrapError(domain.ErrTemporary, "process run",
			fmt.Errorf("status %s: %s", resp.Status, string(body)))
	}

	var decoded struct {
		Answer string `json:"answer"`
	}
	if err := json.Unmarshal(body, &decoded); err != nil {
		return "", fmt.Errorf("decode process response: %w", err)
	}
	return decoded.Answer, nil
}
