// Package classify calls the external topic classification service.
package classify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/repostdhq/repostd/internal/config"
)

// ClassificationError reports a failed classification call. Callers treat
// it as "no topics assigned" rather than a pipeline failure.
type ClassificationError struct {
	Status int
	Err    error
}

func (e *ClassificationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("classify: %v", e.Err)
	}
	return fmt.Sprintf("classify: unexpected status %d", e.Status)
}

func (e *ClassificationError) Unwrap() error {
	return e.Err
}

// Client is the HTTP client for the classification service.
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
		logger: log.With(slog.String("component", "classify")),
		url:    cfg.URL,
		http:   &http.Client{Timeout: cfg.Timeout()},
	}
}

type classifyRequest struct {
	Text            string   `json:"text"`
	CandidateLabels []string `json:"candidate_labels"`
}

type classifyResponse struct {
	Labels []string `json:"labels"`
}

// AssignTopics asks the service which of the candidate labels apply to
// text. The result is filtered to the candidate set, so a misbehaving
// service cannot introduce unknown topics.
func (c *Client) AssignTopics(ctx context.Context, text string, candidates []string) ([]string, error) {
	if len(candidates) == 0 {
		return nil, nil
	}
	body, err := json.Marshal(classifyRequest{Text: text, CandidateLabels: candidates})
	if err != nil {
		return nil, &ClassificationError{Err: err}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, &ClassificationError{Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &ClassificationError{Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return nil, &ClassificationError{Status: resp.StatusCode}
	}

	var out classifyResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, &ClassificationError{Err: fmt.Errorf("decode response: %w", err)}
	}

	known := make(map[string]struct{}, len(candidates))
	for _, name := range candidates {
		known[name] = struct{}{}
	}
	labels := make([]string, 0, len(out.Labels))
	for _, label := range out.Labels {
		if _, ok := known[label]; ok {
			labels = append(labels, label)
		} else if c.logger != nil {
			c.logger.Warn("unknown label dropped", slog.String("label", label))
		}
	}
	return labels, nil
}
