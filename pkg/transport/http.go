// Package transport provides PeerTransport implementations: an
// HTTP/JSON client for a bridge or backend peer, and an in-process
// loopback peer for tests and hardware-free runs.
package transport

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"math/big"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/taishanglaojun/wearsync/pkg/connectivity"
	"github.com/taishanglaojun/wearsync/pkg/errkind"
	"github.com/taishanglaojun/wearsync/pkg/model"
)

// HTTPConfig configures the HTTP peer transport.
type HTTPConfig struct {
	BaseURL        string
	DeviceID       string
	PairingSecret  []byte // HS256 key established at pairing time
	RequestTimeout time.Duration
	MaxRetries     int
	TokenTTL       time.Duration
}

// DefaultHTTPConfig returns tuning for an intermittent low-bandwidth
// link.
func DefaultHTTPConfig(baseURL, deviceID string, secret []byte) HTTPConfig {
	return HTTPConfig{
		BaseURL:        baseURL,
		DeviceID:       deviceID,
		PairingSecret:  secret,
		RequestTimeout: 10 * time.Second,
		MaxRetries:     3,
		TokenTTL:       15 * time.Minute,
	}
}

// HTTPPeer talks to the authoritative peer over HTTP/JSON with bounded
// retry, jittered exponential backoff and a circuit breaker. Mutation
// refusals (4xx) surface as RemoteRejected and are never retried.
type HTTPPeer struct {
	cfg     HTTPConfig
	client  *http.Client
	breaker *circuitBreaker

	tokenMu     sync.Mutex
	token       string
	tokenExpiry time.Time
}

var _ connectivity.PeerTransport = (*HTTPPeer)(nil)

// NewHTTPPeer creates the HTTP transport.
func NewHTTPPeer(cfg HTTPConfig) *HTTPPeer {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 10 * time.Second
	}
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = 15 * time.Minute
	}
	return &HTTPPeer{
		cfg:     cfg,
		client:  &http.Client{Timeout: cfg.RequestTimeout},
		breaker: newCircuitBreaker(5, 10*time.Second),
	}
}

// Discover pings the peer without opening a channel.
func (p *HTTPPeer) Discover(ctx context.Context) error {
	_, err := p.do(ctx, http.MethodGet, "/v1/peer/ping", nil)
	return err
}

// OpenChannel registers this device for a live exchange session.
func (p *HTTPPeer) OpenChannel(ctx context.Context) error {
	body := map[string]string{"device_id": p.cfg.DeviceID}
	_, err := p.do(ctx, http.MethodPost, "/v1/channel/open", body)
	return err
}

// PullSince returns tasks the peer changed after since.
func (p *HTTPPeer) PullSince(ctx context.Context, since time.Time) ([]model.Task, error) {
	path := "/v1/tasks"
	if !since.IsZero() {
		path += "?since=" + url.QueryEscape(since.UTC().Format(time.RFC3339Nano))
	}
	data, err := p.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	var tasks []model.Task
	if err := json.Unmarshal(data, &tasks); err != nil {
		return nil, errkind.New(errkind.Link, "transport.PullSince",
			fmt.Errorf("malformed task delta payload: %w", err))
	}
	return tasks, nil
}

// Send delivers one mutation. The request id makes replays idempotent
// on the peer side.
func (p *HTTPPeer) Send(ctx context.Context, m connectivity.Mutation) error {
	_, err := p.do(ctx, http.MethodPost, "/v1/tasks/mutations", m)
	return err
}

// Events returns nil: plain HTTP has no server push. The manager
// detects drops through exchange failures instead.
func (p *HTTPPeer) Events() <-chan connectivity.LinkEvent { return nil }

// Close releases idle connections.
func (p *HTTPPeer) Close() error {
	p.client.CloseIdleConnections()
	return nil
}

// do issues one request with retry and classification. Connection-level
// failures and 5xx responses retry with jittered exponential backoff;
// 4xx responses are remote refusals and return immediately.
func (p *HTTPPeer) do(ctx context.Context, method, path string, body any) ([]byte, error) {
	op := "transport." + method + " " + path
	if !p.breaker.allow() {
		return nil, errkind.Newf(errkind.Link, op, "circuit breaker open")
	}

	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return nil, errkind.New(errkind.Internal, op, err)
		}
	}

	var lastErr error
	for attempt := 0; attempt <= p.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(math.Pow(2, float64(attempt-1))) * 200 * time.Millisecond
			jitter := time.Duration(0)
			if n, err := rand.Int(rand.Reader, big.NewInt(100)); err == nil {
				jitter = time.Duration(n.Int64()) * time.Millisecond
			}
			select {
			case <-ctx.Done():
				return nil, classifyCtx(op, ctx.Err())
			case <-time.After(backoff + jitter):
			}
		}

		data, retryable, err := p.doOnce(ctx, op, method, path, payload)
		if err == nil {
			p.breaker.success()
			return data, nil
		}
		if !retryable {
			p.breaker.failure()
			return nil, err
		}
		lastErr = err
	}
	p.breaker.failure()
	return nil, lastErr
}

func (p *HTTPPeer) doOnce(ctx context.Context, op, method, path string, payload []byte) (data []byte, retryable bool, err error) {
	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, p.cfg.BaseURL+path, reader)
	if err != nil {
		return nil, false, errkind.New(errkind.Internal, op, err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	token, err := p.bearerToken()
	if err != nil {
		return nil, false, errkind.New(errkind.Internal, op, err)
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, true, classifyCtx(op, err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, readErr := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		if readErr != nil {
			return nil, true, errkind.New(errkind.Link, op, readErr)
		}
		return data, false, nil
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return nil, false, errkind.Newf(errkind.RemoteRejected, op, "peer refused: %s: %s",
			resp.Status, truncate(data, 200))
	default:
		return nil, true, errkind.Newf(errkind.Link, op, "peer error: %s", resp.Status)
	}
}

// bearerToken returns a cached HS256 token minted from the pairing
// secret, re-minting when within a minute of expiry.
func (p *HTTPPeer) bearerToken() (string, error) {
	p.tokenMu.Lock()
	defer p.tokenMu.Unlock()

	if p.token != "" && time.Until(p.tokenExpiry) > time.Minute {
		return p.token, nil
	}

	now := time.Now()
	expiry := now.Add(p.cfg.TokenTTL)
	claims := jwt.RegisteredClaims{
		Subject:   p.cfg.DeviceID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(expiry),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(p.cfg.PairingSecret)
	if err != nil {
		return "", fmt.Errorf("mint bearer token: %w", err)
	}
	p.token = token
	p.tokenExpiry = expiry
	return token, nil
}

func classifyCtx(op string, err error) error {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return errkind.New(errkind.Timeout, op, err)
	case isTimeout(err):
		return errkind.New(errkind.Timeout, op, err)
	default:
		return errkind.New(errkind.Link, op, err)
	}
}

func isTimeout(err error) bool {
	var t interface{ Timeout() bool }
	return errors.As(err, &t) && t.Timeout()
}

func truncate(b []byte, n int) string {
	if len(b) > n {
		return string(b[:n]) + "…"
	}
	return string(b)
}
