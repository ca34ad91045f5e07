// Package rewrite calls the external text rewriting service.
package rewrite

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/repostdhq/repostd/internal/config"
)

// RewriteError reports a failed rewrite call. Delivery falls back to the
// original text when it occurs.
type RewriteError struct {
	Status int
	Err    error
}

func (e *RewriteError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("rewrite: %v", e.Err)
	}
	return fmt.Sprintf("rewrite: unexpected status %d", e.Status)
}

func (e *RewriteError) Unwrap() error {
	return e.Err
}

// Client is the HTTP client for the rewriting service.
type Client struct {
	logger *slog.Logger
	url    string
	http   *http.Client
}

// NewClient creates a Client with the configured endpoint and timeout.
func NewClient(log *slog.Logger, cfg config.ServiceConfig) *Client {
	if log == nil {
		log = slog.Default()
	}
	return &Client{
		logger: log.With(slog.String("component", "rewrite")),
		url:    cfg.URL,
		http:   &http.Client{Timeout: cfg.Timeout()},
	}
}

type rewriteRequest struct {
	Text   string `json:"text"`
	Prompt string `json:"prompt"`
}

type rewriteResponse struct {
	RewrittenText string `json:"rewritten_text"`
}

// Rewrite transforms text under the destination's prompt. An empty
// result from the service counts as a failure.
func (c *Client) Rewrite(ctx context.Context, text, prompt string) (string, error) {
	body, err := json.Marshal(rewriteRequest{Text: text, Prompt: prompt})
	if err != nil {
		return "", &RewriteError{Err: err}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return "", &RewriteError{Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", &RewriteError{Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return "", &RewriteError{Status: resp.StatusCode}
	}

	var out rewriteResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", &RewriteError{Err: fmt.Errorf("decode response: %w", err)}
	}
	if strings.TrimSpace(out.RewrittenText) == "" {
		return "", &RewriteError{Err: fmt.Errorf("empty rewritten text")}
	}
	return out.RewrittenText, nil
}
