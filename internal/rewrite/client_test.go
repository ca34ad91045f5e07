package rewrite

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/repostdhq/repostd/internal/config"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(nil, config.ServiceConfig{URL: srv.URL, TimeoutSeconds: 2})
}

func TestRewrite(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var req rewriteRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "hello", req.Text)
		assert.Equal(t, "formal", req.Prompt)
		json.NewEncoder(w).Encode(rewriteResponse{RewrittenText: "Good day."})
	})

	out, err := client.Rewrite(context.Background(), "hello", "formal")
	require.NoError(t, err)
	assert.Equal(t, "Good day.", out)
}

func TestRewriteServerError(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})

	_, err := client.Rewrite(context.Background(), "hello", "formal")
	var rwErr *RewriteError
	require.ErrorAs(t, err, &rwErr)
	assert.Equal(t, http.StatusInternalServerError, rwErr.Status)
}

func TestRewriteEmptyResult(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(rewriteResponse{RewrittenText: "   "})
	})

	_, err := client.Rewrite(context.Background(), "hello", "formal")
	var rwErr *RewriteError
	assert.ErrorAs(t, err, &rwErr)
}
