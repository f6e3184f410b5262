package auth_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chat-client/auth"
)

// testBackend is a refresh endpoint plus a protected resource that only
// accepts the token minted by the latest refresh.
type testBackend struct {
	mu           sync.Mutex
	validToken   string
	refreshCalls int32
	refreshFails bool
}

func (b *testBackend) server(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/refresh", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&b.refreshCalls, 1)
		if b.refreshFails {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		b.mu.Lock()
		b.validToken = "fresh-token"
		b.mu.Unlock()
		json.NewEncoder(w).Encode(map[string]string{
			"access_token":  "fresh-token",
			"refresh_token": "fresh-refresh",
		})
	})
	mux.HandleFunc("/resource", func(w http.ResponseWriter, r *http.Request) {
		b.mu.Lock()
		valid := b.validToken
		b.mu.Unlock()
		if r.Header.Get("Authorization") != "Bearer "+valid {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func fetchResource(srv *httptest.Server) auth.RequestFunc {
	return func(ctx context.Context, bearer string) (*http.Response, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/resource", nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Authorization", "Bearer "+bearer)
		return http.DefaultClient.Do(req)
	}
}

func TestConcurrent401sTriggerExactlyOneRefresh(t *testing.T) {
	backend := &testBackend{validToken: "fresh-token"} // held token is stale
	srv := backend.server(t)

	a := auth.New(srv.URL+"/refresh", auth.TokenPair{
		AccessToken:  "stale-token",
		RefreshToken: "stale-refresh",
	})

	const n = 16
	var wg sync.WaitGroup
	statuses := make([]int, n)
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			resp, err := a.Do(context.Background(), fetchResource(srv))
			errs[i] = err
			if err == nil {
				statuses[i] = resp.StatusCode
				resp.Body.Close()
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&backend.refreshCalls))
	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, http.StatusOK, statuses[i])
	}
	assert.Equal(t, "fresh-token", a.AccessToken())
}

func TestRefreshFailureTerminatesSession(t *testing.T) {
	backend := &testBackend{validToken: "fresh-token", refreshFails: true}
	srv := backend.server(t)

	var reason string
	a := auth.New(srv.URL+"/refresh",
		auth.TokenPair{AccessToken: "stale-token", RefreshToken: "stale-refresh"},
		auth.WithExpiredHandler(func(r string) { reason = r }),
	)

	_, err := a.Do(context.Background(), fetchResource(srv))
	require.ErrorIs(t, err, auth.ErrSessionExpired)
	assert.Equal(t, auth.ReasonRefreshFailed, reason)
	assert.Empty(t, a.AccessToken(), "session must be cleared after a failed refresh")
}

func TestDoWithoutTokenRefusesImmediately(t *testing.T) {
	a := auth.New("http://unused/refresh", auth.TokenPair{})
	_, err := a.Do(context.Background(), func(ctx context.Context, bearer string) (*http.Response, error) {
		t.Fatal("request must not run without a token")
		return nil, nil
	})
	assert.ErrorIs(t, err, auth.ErrNoToken)
}

func TestNon401PassesThrough(t *testing.T) {
	backend := &testBackend{validToken: "good"}
	srv := backend.server(t)

	a := auth.New(srv.URL+"/refresh", auth.TokenPair{AccessToken: "good", RefreshToken: "r"})
	resp, err := a.Do(context.Background(), fetchResource(srv))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, int32(0), atomic.LoadInt32(&backend.refreshCalls))
}
