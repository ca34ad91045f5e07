package imagegen

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/repostdhq/repostd/internal/config"
)

type fakeService struct {
	pipelineCalls atomic.Int64
	statusCalls   atomic.Int64
	statuses      []statusResponse
}

func (f *fakeService) handler(t *testing.T) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Key k", r.Header.Get("X-Key"))
		assert.Equal(t, "Secret s", r.Header.Get("X-Secret"))
		switch {
		case r.URL.Path == "/key/api/v1/pipelines":
			f.pipelineCalls.Add(1)
			json.NewEncoder(w).Encode([]map[string]string{{"id": "pipe-1"}})
		case r.URL.Path == "/key/api/v1/pipeline/run":
			var req runRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			assert.Equal(t, "pipe-1", req.PipelineID)
			json.NewEncoder(w).Encode(runResponse{JobID: "job-1"})
		case strings.HasPrefix(r.URL.Path, "/key/api/v1/pipeline/status/"):
			n := f.statusCalls.Add(1)
			idx := int(n) - 1
			if idx >= len(f.statuses) {
				idx = len(f.statuses) - 1
			}
			json.NewEncoder(w).Encode(f.statuses[idx])
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}
}

func newTestClient(t *testing.T, svc *fakeService, attempts int) *Client {
	t.Helper()
	srv := httptest.NewServer(svc.handler(t))
	t.Cleanup(srv.Close)
	return NewClient(nil, config.ImageGenConfig{
		BaseURL:      srv.URL,
		APIKey:       "k",
		APISecret:    "s",
		Width:        512,
		Height:       512,
		PollAttempts: attempts,
	})
}

func doneStatus(censored bool, files ...string) statusResponse {
	st := statusResponse{Status: "DONE"}
	st.Result.Censored = censored
	st.Result.Files = files
	return st
}

func TestGenerateTwoPhase(t *testing.T) {
	t.Parallel()

	image := []byte{0x89, 0x50, 0x4e, 0x47}
	svc := &fakeService{statuses: []statusResponse{
		{Status: "PROCESSING"},
		doneStatus(false, base64.StdEncoding.EncodeToString(image)),
	}}
	client := newTestClient(t, svc, 5)

	data, err := client.Generate(context.Background(), "post text", "watercolor")
	require.NoError(t, err)
	assert.Equal(t, image, data)
	assert.Equal(t, int64(2), svc.statusCalls.Load())
}

func TestGeneratePipelineCached(t *testing.T) {
	t.Parallel()

	svc := &fakeService{statuses: []statusResponse{
		doneStatus(false, base64.StdEncoding.EncodeToString([]byte{1})),
	}}
	client := newTestClient(t, svc, 3)

	_, err := client.Generate(context.Background(), "a", "")
	require.NoError(t, err)
	_, err = client.Generate(context.Background(), "b", "")
	require.NoError(t, err)
	assert.Equal(t, int64(1), svc.pipelineCalls.Load())
}

func TestGenerateCensored(t *testing.T) {
	t.Parallel()

	svc := &fakeService{statuses: []statusResponse{doneStatus(true)}}
	client := newTestClient(t, svc, 3)

	_, err := client.Generate(context.Background(), "post text", "")
	var imgErr *ImageError
	require.ErrorAs(t, err, &imgErr)
	assert.Equal(t, "censored", imgErr.Reason)
}

func TestGenerateFailedJob(t *testing.T) {
	t.Parallel()

	svc := &fakeService{statuses: []statusResponse{{Status: "FAIL"}}}
	client := newTestClient(t, svc, 3)

	_, err := client.Generate(context.Background(), "post text", "")
	var imgErr *ImageError
	require.ErrorAs(t, err, &imgErr)
	assert.Equal(t, "generation failed", imgErr.Reason)
}

func TestGeneratePollExhaustion(t *testing.T) {
	t.Parallel()

	svc := &fakeService{statuses: []statusResponse{{Status: "PROCESSING"}}}
	client := newTestClient(t, svc, 3)

	_, err := client.Generate(context.Background(), "post text", "")
	var imgErr *ImageError
	require.ErrorAs(t, err, &imgErr)
	assert.Contains(t, imgErr.Reason, "not ready after 3 attempts")
	assert.Equal(t, int64(3), svc.statusCalls.Load())
}
