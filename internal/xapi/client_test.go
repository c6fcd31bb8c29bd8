package xapi

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	return NewClient(Config{
		BaseURL:     srv.URL,
		BearerToken: "secret",
		Timeout:     2 * time.Second,
	}, zap.NewNop().Sugar())
}

func TestResolveAccount(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/users/by/username/Whitebox_Ke", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		w.Write([]byte(`{"data":{"id":"12345","name":"Whitebox","username":"Whitebox_Ke"}}`))
	})

	id, err := c.ResolveAccount(context.Background(), "Whitebox_Ke")
	require.NoError(t, err)
	assert.Equal(t, "12345", id)
	assert.True(t, c.Health().Healthy)
}

func TestResolveAccount_Errors(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		body     string
		notFound bool
	}{
		{name: "unauthorized", status: http.StatusUnauthorized, body: `{"title":"Unauthorized"}`},
		{name: "rate limited", status: http.StatusTooManyRequests, body: `{"title":"Too Many Requests"}`},
		{name: "missing data", status: http.StatusOK, body: `{"errors":[{"detail":"Could not find user"}]}`, notFound: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			})

			_, err := c.ResolveAccount(context.Background(), "ghost")
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrLookupFailed)
			assert.NotErrorIs(t, err, ErrFetchFailed)

			if tt.notFound {
				assert.ErrorIs(t, err, ErrAccountNotFound)
				return
			}

			var apiErr *APIError
			require.True(t, errors.As(err, &apiErr))
			assert.Equal(t, tt.status, apiErr.StatusCode)
			assert.Equal(t, tt.body, apiErr.Body)
			assert.False(t, c.Health().Healthy)
		})
	}
}

func TestResolveAccount_NetworkError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close()

	c := NewClient(Config{BaseURL: srv.URL, BearerToken: "secret"}, zap.NewNop().Sugar())
	_, err := c.ResolveAccount(context.Background(), "anyone")
	assert.ErrorIs(t, err, ErrLookupFailed)
}

func TestFetchRecentPosts(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/users/12345/tweets", r.URL.Path)
		q := r.URL.Query()
		assert.Equal(t, "100", q.Get("max_results"))
		assert.Equal(t, "created_at,public_metrics", q.Get("tweet.fields"))
		assert.Equal(t, "retweets", q.Get("exclude"))
		w.Write([]byte(`{"data":[
			{"id":"2","text":"second","created_at":"2024-05-02T10:00:00.000Z","public_metrics":{"like_count":4}},
			{"id":"1","text":"first","created_at":"2024-05-01T10:00:00.000Z"},
			"not an object"
		],"meta":{"result_count":3}}`))
	})

	records, err := c.FetchRecentPosts(context.Background(), "12345", 250)
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Contains(t, string(records[0]), `"id":"2"`)
}

func TestFetchRecentPosts_EmptyTimeline(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"meta":{"result_count":0}}`))
	})

	records, err := c.FetchRecentPosts(context.Background(), "12345", 10)
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestFetchRecentPosts_APIError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte("upstream down"))
	})

	_, err := c.FetchRecentPosts(context.Background(), "12345", 10)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrFetchFailed)

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusServiceUnavailable, apiErr.StatusCode)
	assert.Equal(t, "upstream down", apiErr.Body)
}

func TestClampMaxResults(t *testing.T) {
	assert.Equal(t, MaxResultsFloor, ClampMaxResults(0))
	assert.Equal(t, MaxResultsFloor, ClampMaxResults(3))
	assert.Equal(t, 42, ClampMaxResults(42))
	assert.Equal(t, MaxResultsCeiling, ClampMaxResults(1000))
}
