// Package imagegen calls the external image generation service. The API
// is asynchronous: submit a job, then poll its status a bounded number of
// times. A poll run ends in exactly one of three outcomes: the image is
// ready, the service rejected the request, or the attempt budget ran out.
package imagegen

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/repostdhq/repostd/internal/config"
)

// ImageError reports a failed generation. Delivery degrades to text-only
// when it occurs.
type ImageError struct {
	Reason string
	Err    error
}

func (e *ImageError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("imagegen: %s: %v", e.Reason, e.Err)
	}
	return "imagegen: " + e.Reason
}

func (e *ImageError) Unwrap() error {
	return e.Err
}

type outcomeKind int

const (
	outcomeDone outcomeKind = iota
	outcomeRejected
	outcomeTimedOut
)

type pollOutcome struct {
	kind   outcomeKind
	data   []byte
	reason string
}

// Client is the HTTP client for the generation service.
type Client struct {
	logger  *slog.Logger
	baseURL string
	key     string
	secret  string
	width   int
	height  int

	pollAttempts int
	pollDelay    time.Duration
	http         *http.Client

	mu         sync.Mutex
	pipelineID string
}

// NewClient creates a Client from the configured endpoint and credentials.
func NewClient(log *slog.Logger, cfg config.ImageGenConfig) *Client {
	if log == nil {
		log = slog.Default()
	}
	return &Client{
		logger:       log.With(slog.String("component", "imagegen")),
		baseURL:      strings.TrimRight(cfg.BaseURL, "/"),
		key:          cfg.APIKey,
		secret:       cfg.APISecret,
		width:        cfg.Width,
		height:       cfg.Height,
		pollAttempts: cfg.PollAttempts,
		pollDelay:    cfg.PollDelay(),
		http:         &http.Client{Timeout: cfg.Timeout()},
	}
}

func (c *Client) do(ctx context.Context, method, path string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("X-Key", "Key "+c.key)
	req.Header.Set("X-Secret", "Secret "+c.secret)

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		io.Copy(io.Discard, resp.Body)
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// getPipeline resolves and caches the generation pipeline id.
func (c *Client) getPipeline(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pipelineID != "" {
		return c.pipelineID, nil
	}
	var pipelines []struct {
		ID string `json:"id"`
	}
	if err := c.do(ctx, http.MethodGet, "/key/api/v1/pipelines", nil, &pipelines); err != nil {
		return "", fmt.Errorf("list pipelines: %w", err)
	}
	if len(pipelines) == 0 {
		return "", fmt.Errorf("no pipelines available")
	}
	c.pipelineID = pipelines[0].ID
	return c.pipelineID, nil
}

type runRequest struct {
	PipelineID string `json:"pipeline_id"`
	Prompt     string `json:"prompt"`
	Width      int    `json:"width"`
	Height     int    `json:"height"`
	Count      int    `json:"count"`
}

type runResponse struct {
	JobID string `json:"job_id"`
}

type statusResponse struct {
	Status string `json:"status"`
	Result struct {
		Censored bool     `json:"censored"`
		Files    []string `json:"files"`
	} `json:"result"`
}

func (c *Client) submit(ctx context.Context, prompt string) (string, error) {
	pipelineID, err := c.getPipeline(ctx)
	if err != nil {
		return "", err
	}
	var out runResponse
	err = c.do(ctx, http.MethodPost, "/key/api/v1/pipeline/run", runRequest{
		PipelineID: pipelineID,
		Prompt:     prompt,
		Width:      c.width,
		Height:     c.height,
		Count:      1,
	}, &out)
	if err != nil {
		return "", fmt.Errorf("submit job: %w", err)
	}
	if out.JobID == "" {
		return "", fmt.Errorf("submit job: empty job id")
	}
	return out.JobID, nil
}

func (c *Client) poll(ctx context.Context, jobID string) (pollOutcome, error) {
	for attempt := 0; attempt < c.pollAttempts; attempt++ {
		var st statusResponse
		if err := c.do(ctx, http.MethodGet, "/key/api/v1/pipeline/status/"+jobID, nil, &st); err != nil {
			return pollOutcome{}, fmt.Errorf("poll job %s: %w", jobID, err)
		}
		switch st.Status {
		case "DONE":
			if st.Result.Censored {
				return pollOutcome{kind: outcomeRejected, reason: "censored"}, nil
			}
			if len(st.Result.Files) == 0 {
				return pollOutcome{kind: outcomeRejected, reason: "no files"}, nil
			}
			data, err := base64.StdEncoding.DecodeString(st.Result.Files[0])
			if err != nil {
				return pollOutcome{}, fmt.Errorf("decode image: %w", err)
			}
			return pollOutcome{kind: outcomeDone, data: data}, nil
		case "FAIL":
			return pollOutcome{kind: outcomeRejected, reason: "generation failed"}, nil
		}
		select {
		case <-ctx.Done():
			return pollOutcome{}, ctx.Err()
		case <-time.After(c.pollDelay):
		}
	}
	return pollOutcome{kind: outcomeTimedOut}, nil
}

// Generate produces one image for the post. The prompt combines a fixed
// instruction, the post text, and the destination's configured style
// prompt. Rejection and attempt exhaustion surface as ImageError.
func (c *Client) Generate(ctx context.Context, text, stylePrompt string) ([]byte, error) {
	prompt := "Illustration for the following post: " + text
	if strings.TrimSpace(stylePrompt) != "" {
		prompt += "\nStyle: " + stylePrompt
	}
	jobID, err := c.submit(ctx, prompt)
	if err != nil {
		return nil, &ImageError{Reason: "submit failed", Err: err}
	}
	outcome, err := c.poll(ctx, jobID)
	if err != nil {
		return nil, &ImageError{Reason: "poll failed", Err: err}
	}
	switch outcome.kind {
	case outcomeDone:
		return outcome.data, nil
	case outcomeRejected:
		return nil, &ImageError{Reason: outcome.reason}
	default:
		return nil, &ImageError{Reason: fmt.Sprintf("not ready after %d attempts", c.pollAttempts)}
	}
}
