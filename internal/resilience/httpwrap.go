package resilience

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"
)

// ErrTimeout is returned when a call exceeds the configured timeout.
var ErrTimeout = errors.New("resilience: remote call timed out")

// HTTPClient wraps an http.Client with a per-call timeout and a circuit
// breaker. Each call is attempted exactly once; a failure after the timeout
// is reported to the caller, never retried.
type HTTPClient struct {
	Client  *http.Client
	Breaker *Breaker
	Timeout time.Duration
	// Target labels timeout metrics; defaults to the request host.
	Target string
}

// Do executes the request. Responses of any status are returned so callers
// can read error bodies; 5xx statuses and transport failures count against
// the breaker. When the breaker is open ErrOpenCircuit is returned without
// touching the network. The timeout covers reading the body, which is
// released when the caller closes it.
func (cl HTTPClient) Do(ctx context.Context, req *http.Request) (*http.Response, error) {
	if cl.Client == nil {
		return nil, errors.New("resilience: http client not configured")
	}
	breaker := cl.Breaker
	if breaker != nil && !breaker.Allow(ctx) {
		return nil, ErrOpenCircuit
	}

	timeout := cl.Timeout
	if timeout <= 0 {
		timeout = cl.Client.Timeout
	}
	var (
		callCtx context.Context
		cancel  context.CancelFunc
	)
	if timeout > 0 {
		callCtx, cancel = context.WithTimeout(ctx, timeout)
	} else {
		callCtx, cancel = context.WithCancel(ctx)
	}

	resp, err := cl.Client.Do(req.Clone(callCtx))
	if err != nil {
		cancel()
		if ctx.Err() != nil {
			// The caller gave up; the remote is not to blame.
			if breaker != nil {
				breaker.Abandon()
			}
			return nil, err
		}
		if breaker != nil {
			breaker.Report(ctx, false)
		}
		if errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			RemoteTimeouts.WithLabelValues(cl.targetLabel(req)).Inc()
			return nil, errors.Join(ErrTimeout, err)
		}
		return nil, err
	}
	if breaker != nil {
		breaker.Report(ctx, resp.StatusCode < http.StatusInternalServerError)
	}
	resp.Body = &cancelOnClose{ReadCloser: resp.Body, cancel: cancel}
	return resp, nil
}

func (cl HTTPClient) targetLabel(req *http.Request) string {
	if t := strings.TrimSpace(cl.Target); t != "" {
		return t
	}
	if cl.Breaker != nil {
		return cl.Breaker.Target()
	}
	if req != nil && req.URL != nil && req.URL.Host != "" {
		return req.URL.Host
	}
	return "default"
}

type cancelOnClose struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (c *cancelOnClose) Close() error {
	err := c.ReadCloser.Close()
	c.cancel()
	return err
}
