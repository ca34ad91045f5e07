package classify

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

func TestAssignTopics(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var req classifyRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "match report", req.Text)
		assert.Contains(t, req.CandidateLabels, "Sport")
		json.NewEncoder(w).Encode(classifyResponse{Labels: []string{"Sport"}})
	})

	labels, err := client.AssignTopics(context.Background(), "match report", []string{"Sport", "Politics"})
	require.NoError(t, err)
	assert.Equal(t, []string{"Sport"}, labels)
}

func TestAssignTopicsFiltersUnknownLabels(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(classifyResponse{Labels: []string{"Sport", "Astrology"}})
	})

	labels, err := client.AssignTopics(context.Background(), "text", []string{"Sport"})
	require.NoError(t, err)
	assert.Equal(t, []string{"Sport"}, labels)
}

func TestAssignTopicsServerError(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})

	_, err := client.AssignTopics(context.Background(), "text", []string{"Sport"})
	var clsErr *ClassificationError
	require.ErrorAs(t, err, &clsErr)
	assert.Equal(t, http.StatusBadGateway, clsErr.Status)
}

func TestAssignTopicsNoCandidates(t *testing.T) {
	t.Parallel()

	called := false
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		called = true
	})

	labels, err := client.AssignTopics(context.Background(), "text", nil)
	require.NoError(t, err)
	assert.Nil(t, labels)
	assert.False(t, called)
}
