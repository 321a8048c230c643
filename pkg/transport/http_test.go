package transport

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taishanglaojun/wearsync/pkg/connectivity"
	"github.com/taishanglaojun/wearsync/pkg/errkind"
	"github.com/taishanglaojun/wearsync/pkg/model"
)

var testSecret = []byte("pairing-secret-for-tests")

func testConfig(baseURL string) HTTPConfig {
	cfg := DefaultHTTPConfig(baseURL, "watch-001", testSecret)
	cfg.RequestTimeout = 2 * time.Second
	cfg.MaxRetries = 0
	return cfg
}

func parseBearer(t *testing.T, r *http.Request) *jwt.RegisteredClaims {
	t.Helper()
	auth := r.Header.Get("Authorization")
	require.True(t, len(auth) > 7 && auth[:7] == "Bearer ", "missing bearer token")

	claims := &jwt.RegisteredClaims{}
	tok, err := jwt.ParseWithClaims(auth[7:], claims, func(*jwt.Token) (any, error) {
		return testSecret, nil
	})
	require.NoError(t, err)
	require.True(t, tok.Valid)
	return claims
}

func TestPullSinceSendsSignedTokenAndCursor(t *testing.T) {
	since := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/tasks", r.URL.Path)
		assert.Equal(t, since.Format(time.RFC3339Nano), r.URL.Query().Get("since"))

		claims := parseBearer(t, r)
		assert.Equal(t, "watch-001", claims.Subject)

		_ = json.NewEncoder(w).Encode([]model.Task{
			{ID: "t1", Title: "walk", Status: model.TaskPending, UpdatedAt: since.Add(time.Minute)},
		})
	}))
	defer srv.Close()

	p := NewHTTPPeer(testConfig(srv.URL))
	tasks, err := p.PullSince(context.Background(), since)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, "t1", tasks[0].ID)
}

func TestSendDeliversMutationPayload(t *testing.T) {
	var got connectivity.Mutation
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/tasks/mutations", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	p := NewHTTPPeer(testConfig(srv.URL))
	m := connectivity.Mutation{RequestID: "r1", TaskID: "t1", Kind: connectivity.MutationProgress, Progress: 0.5}
	require.NoError(t, p.Send(context.Background(), m))
	assert.Equal(t, m.RequestID, got.RequestID)
	assert.Equal(t, m.Progress, got.Progress)
}

func TestRefusalIsRemoteRejectedAndNeverRetried(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		http.Error(w, "unknown task t9", http.StatusUnprocessableEntity)
	}))
	defer srv.Close()

	cfg := testConfig(srv.URL)
	cfg.MaxRetries = 3
	p := NewHTTPPeer(cfg)

	err := p.Send(context.Background(), connectivity.Mutation{TaskID: "t9", Kind: connectivity.MutationAccept})
	require.Error(t, err)
	assert.Equal(t, errkind.RemoteRejected, errkind.KindOf(err))
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls), "a refusal is final")
}

func TestServerErrorRetriesThenSucceeds(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			http.Error(w, "busy", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	cfg := testConfig(srv.URL)
	cfg.MaxRetries = 2
	p := NewHTTPPeer(cfg)

	require.NoError(t, p.Discover(context.Background()))
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestUnreachablePeerIsLink(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	srv.Close() // nothing listening anymore

	p := NewHTTPPeer(testConfig(srv.URL))
	err := p.Discover(context.Background())
	require.Error(t, err)
	assert.Equal(t, errkind.Link, errkind.KindOf(err))
}

func TestDeadlineIsTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(300 * time.Millisecond)
	}))
	defer srv.Close()

	cfg := testConfig(srv.URL)
	cfg.RequestTimeout = 50 * time.Millisecond
	p := NewHTTPPeer(cfg)

	err := p.Discover(context.Background())
	require.Error(t, err)
	assert.Equal(t, errkind.Timeout, errkind.KindOf(err))
}

func TestBearerTokenIsCachedAcrossRequests(t *testing.T) {
	tokens := make(map[string]bool)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokens[r.Header.Get("Authorization")] = true
	}))
	defer srv.Close()

	p := NewHTTPPeer(testConfig(srv.URL))
	require.NoError(t, p.Discover(context.Background()))
	require.NoError(t, p.Discover(context.Background()))
	assert.Len(t, tokens, 1, "the minted token is reused until near expiry")
}

func TestMalformedDeltaPayload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("{not json"))
	}))
	defer srv.Close()

	p := NewHTTPPeer(testConfig(srv.URL))
	_, err := p.PullSince(context.Background(), time.Time{})
	require.Error(t, err)
	assert.Equal(t, errkind.Link, errkind.KindOf(err))
}
