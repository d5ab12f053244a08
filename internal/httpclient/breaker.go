package httpclient

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	agenterrors "gata/internal/errors"
	"gata/internal/logging"
)

// hostBreakers trips one breaker per upstream host so a failing agent host
// never blocks auth calls to the earn host.
type hostBreakers struct {
	base   http.RoundTripper
	config agenterrors.CircuitBreakerConfig

	mu       sync.Mutex
	breakers map[string]*agenterrors.CircuitBreaker
}

// NewWithCircuitBreakerConfig builds an HTTP client with a circuit breaker
// per request host. Breakers are named after the host they guard.
func NewWithCircuitBreakerConfig(timeout time.Duration, logger logging.Logger, config agenterrors.CircuitBreakerConfig) *http.Client {
	client := New(timeout, logger)
	client.Transport = WrapTransportWithCircuitBreaker(client.Transport, config)
	return client
}

// WrapTransportWithCircuitBreaker wraps base with per-host breakers.
func WrapTransportWithCircuitBreaker(base http.RoundTripper, config agenterrors.CircuitBreakerConfig) http.RoundTripper {
	if base == nil {
		base = http.DefaultTransport
	}
	return &hostBreakers{
		base:     base,
		config:   config,
		breakers: make(map[string]*agenterrors.CircuitBreaker),
	}
}

func (t *hostBreakers) breakerFor(host string) *agenterrors.CircuitBreaker {
	t.mu.Lock()
	defer t.mu.Unlock()
	cb, ok := t.breakers[host]
	if !ok {
		cb = agenterrors.NewCircuitBreaker(host, t.config)
		t.breakers[host] = cb
	}
	return cb
}

func (t *hostBreakers) RoundTrip(req *http.Request) (*http.Response, error) {
	if req == nil || req.URL == nil {
		return nil, fmt.Errorf("nil request")
	}
	cb := t.breakerFor(req.URL.Host)
	if err := cb.Allow(); err != nil {
		return nil, err
	}
	resp, err := t.base.RoundTrip(req)
	switch {
	case err != nil && errors.Is(err, context.Canceled):
		cb.Mark(nil)
		return nil, err
	case err != nil:
		cb.Mark(err)
		return nil, err
	case resp.StatusCode >= http.StatusInternalServerError || resp.StatusCode == http.StatusTooManyRequests:
		cb.Mark(fmt.Errorf("%s answered %d", req.URL.Host, resp.StatusCode))
	default:
		cb.Mark(nil)
	}
	return resp, nil
}
