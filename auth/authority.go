// Package auth coordinates bearer-token usage for every authenticated
// request and for the socket handshake. Its core job is the single-flight
// refresh: any number of requests failing with 401 at the same time result
// in exactly one call to the refresh endpoint.
package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
)

// Session-expiry reason codes handed to the OnExpired callback.
const (
	ReasonRefreshFailed = "refresh_failed"
	ReasonNoSession     = "no_session"
)

var (
	// ErrNoToken means no access token is held at all; the caller should
	// treat the user as signed out rather than retry.
	ErrNoToken = errors.New("auth: no access token")

	// ErrSessionExpired means a refresh was attempted and failed; the
	// session has been terminated.
	ErrSessionExpired = errors.New("auth: session expired")
)

// TokenPair is the access/refresh pair as returned by the refresh endpoint.
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

// RequestFunc performs one HTTP request using the supplied bearer token.
// It is called again with a fresh token after a successful refresh.
type RequestFunc func(ctx context.Context, bearer string) (*http.Response, error)

type refreshResult struct {
	token string
	err   error
}

// Authority owns the token pair and the single-flight refresh state.
type Authority struct {
	refreshURL string
	httpClient *http.Client
	onExpired  func(reason string)
	log        *slog.Logger

	mu         sync.Mutex
	tokens     TokenPair
	refreshing bool
	waiters    []chan refreshResult
}

// Option configures an Authority.
type Option func(*Authority)

// WithHTTPClient overrides the client used for the refresh call.
func WithHTTPClient(c *http.Client) Option {
	return func(a *Authority) { a.httpClient = c }
}

// WithExpiredHandler registers the callback invoked, with a reason code,
// when the session is terminated by a failed refresh.
func WithExpiredHandler(fn func(reason string)) Option {
	return func(a *Authority) { a.onExpired = fn }
}

// WithLogger overrides the default logger.
func WithLogger(l *slog.Logger) Option {
	return func(a *Authority) { a.log = l }
}

// New returns an Authority seeded with the session's current token pair.
func New(refreshURL string, tokens TokenPair, opts ...Option) *Authority {
	a := &Authority{
		refreshURL: refreshURL,
		httpClient: http.DefaultClient,
		tokens:     tokens,
		log:        slog.Default(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// AccessToken returns the current access token, empty if signed out.
func (a *Authority) AccessToken() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.tokens.AccessToken
}

// SetTokens replaces the held pair, e.g. after a fresh login.
func (a *Authority) SetTokens(p TokenPair) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.tokens = p
}

// Do runs fn with a valid bearer token. On a 401 response it joins (or
// starts) the single refresh in flight, then replays fn exactly once with
// the new token. Any other response, success or failure, passes through
// untouched.
func (a *Authority) Do(ctx context.Context, fn RequestFunc) (*http.Response, error) {
	token := a.AccessToken()
	if token == "" {
		return nil, ErrNoToken
	}

	resp, err := fn(ctx, token)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusUnauthorized {
		return resp, nil
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()

	fresh, err := a.refresh(ctx, token)
	if err != nil {
		return nil, err
	}
	return fn(ctx, fresh)
}

// refresh returns a token that is newer than stale, performing at most one
// refresh call regardless of how many goroutines arrive here concurrently.
func (a *Authority) refresh(ctx context.Context, stale string) (string, error) {
	a.mu.Lock()

	// Another caller already rotated the pair; no refresh needed.
	if a.tokens.AccessToken != "" && a.tokens.AccessToken != stale {
		token := a.tokens.AccessToken
		a.mu.Unlock()
		return token, nil
	}

	if a.refreshing {
		ch := make(chan refreshResult, 1)
		a.waiters = append(a.waiters, ch)
		a.mu.Unlock()
		select {
		case res := <-ch:
			return res.token, res.err
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}

	a.refreshing = true
	refreshToken := a.tokens.RefreshToken
	a.mu.Unlock()

	if refreshToken == "" {
		return "", a.finishRefresh(TokenPair{}, ErrNoToken, ReasonNoSession)
	}

	pair, err := a.callRefresh(ctx, refreshToken)
	if err != nil {
		a.log.Warn("token refresh failed", "error", err)
		return "", a.finishRefresh(TokenPair{}, fmt.Errorf("%w: %v", ErrSessionExpired, err), ReasonRefreshFailed)
	}

	a.log.Debug("access token refreshed")
	if err := a.finishRefresh(pair, nil, ""); err != nil {
		return "", err
	}
	return pair.AccessToken, nil
}

// finishRefresh publishes the outcome to every waiter and, on failure,
// terminates the session.
func (a *Authority) finishRefresh(pair TokenPair, err error, reason string) error {
	a.mu.Lock()
	a.refreshing = false
	waiters := a.waiters
	a.waiters = nil
	a.tokens = pair
	a.mu.Unlock()

	for _, ch := range waiters {
		ch <- refreshResult{token: pair.AccessToken, err: err}
	}
	if err != nil && a.onExpired != nil {
		a.onExpired(reason)
	}
	return err
}

func (a *Authority) callRefresh(ctx context.Context, refreshToken string) (TokenPair, error) {
	body, err := json.Marshal(map[string]string{"refresh_token": refreshToken})
	if err != nil {
		return TokenPair{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.refreshURL, bytes.NewReader(body))
	if err != nil {
		return TokenPair{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return TokenPair{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return TokenPair{}, fmt.Errorf("refresh endpoint returned %d", resp.StatusCode)
	}

	var pair TokenPair
	if err := json.NewDecoder(resp.Body).Decode(&pair); err != nil {
		return TokenPair{}, err
	}
	if pair.AccessToken == "" {
		return TokenPair{}, errors.New("refresh endpoint returned empty access token")
	}
	return pair, nil
}
