package adapter

import (
	"bytes"
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/relaygate/relaygate/pkg/errors"
	"github.com/relaygate/relaygate/pkg/telemetry"
)

// maxBackoff caps the exponential retry backoff.
const maxBackoff = 5 * time.Second

// maxErrorBodyBytes bounds how much of a backend error body is retained as
// error detail.
const maxErrorBodyBytes = 4 * 1024

// Config holds one backend endpoint and the resilience policy its adapter owns.
type Config struct {
	// Name identifies the backend.
	Name string

	// BaseURL is the backend's base URL.
	BaseURL string

	// Path is appended to BaseURL for every call.
	Path string

	// Timeout is the per-call timeout.
	Timeout time.Duration

	// MaxRetries is the number of retries after the first attempt, applied
	// only to backend-declared server errors.
	MaxRetries int

	// BackoffBase seeds the exponential backoff (base * 2^attempt, capped).
	BackoffBase time.Duration

	// BreakerThreshold is the consecutive-failure count that opens the breaker.
	BreakerThreshold int

	// BreakerCooldown is how long the breaker stays open before probing.
	BreakerCooldown time.Duration
}

// HTTPAdapter invokes one backend endpoint over HTTP with JSON bodies.
type HTTPAdapter struct {
	cfg       Config
	client    *http.Client
	breaker   *Breaker
	translate Translator
	logger    *telemetry.Logger
	metrics   *telemetry.Metrics
}

// Option configures an HTTPAdapter.
type Option func(*HTTPAdapter)

// WithClient overrides the HTTP client. The per-call timeout still comes from
// the adapter configuration's context deadline.
func WithClient(client *http.Client) Option {
	return func(a *HTTPAdapter) { a.client = client }
}

// WithTranslator sets the backend-specific payload translator.
func WithTranslator(t Translator) Option {
	return func(a *HTTPAdapter) { a.translate = t }
}

// WithLogger sets the adapter logger.
func WithLogger(l *telemetry.Logger) Option {
	return func(a *HTTPAdapter) { a.logger = l.WithBackend(a.cfg.Name, a.cfg.BaseURL) }
}

// WithMetrics wires adapter and breaker metrics.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(a *HTTPAdapter) {
		a.metrics = m
		a.breaker.OnTransition(func(from, to BreakerState) {
			m.RecordBreakerTransition(a.cfg.Name, to.String())
			m.SetBreakerState(a.cfg.Name, float64(to))
		})
	}
}

// NewHTTP creates an adapter for one backend endpoint.
func NewHTTP(cfg Config, opts ...Option) *HTTPAdapter {
	a := &HTTPAdapter{
		cfg:       cfg,
		client:    &http.Client{},
		breaker:   NewBreaker(cfg.BreakerThreshold, cfg.BreakerCooldown),
		translate: DefaultTranslator,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Name returns the backend name.
func (a *HTTPAdapter) Name() string {
	return a.cfg.Name
}

// Breaker exposes the adapter's circuit breaker state for reporting.
func (a *HTTPAdapter) Breaker() *Breaker {
	return a.breaker
}

// Invoke issues the call, applying the breaker, the per-call timeout, and the
// retry policy. Backend failures come back as canonical errors inside the
// outcome.
func (a *HTTPAdapter) Invoke(ctx context.Context, req *Request) Outcome {
	start := time.Now()

	if !a.breaker.Allow() {
		err := errors.New(errors.KindUnavailable, "circuit breaker open").
			WithRoute(req.Route).
			WithCall(req.Call).
			WithDetail("backend", a.cfg.Name)
		a.observe(req, "rejected", 0, time.Since(start))
		out := Failure(req.Call, err)
		out.Duration = time.Since(start)
		return out
	}

	maxRetries := a.cfg.MaxRetries
	if req.MaxRetries != nil {
		maxRetries = *req.MaxRetries
	}

	var lastErr *errors.Error
	attempts := 0

	for attempt := 0; ; attempt++ {
		attempts++
		payload, err := a.attempt(ctx, req)
		if err == nil {
			a.breaker.RecordSuccess()
			a.observe(req, "success", attempts, time.Since(start))
			out := Success(req.Call, payload)
			out.Attempts = attempts
			out.Duration = time.Since(start)
			return out
		}

		lastErr = err
		if !errors.IsRetryable(err) || attempt >= maxRetries {
			break
		}

		if a.metrics != nil {
			a.metrics.RecordAdapterRetry(a.cfg.Name)
		}
		if a.logger != nil {
			a.logger.WithCall(req.Call).
				Warnf("retrying after backend failure (attempt %d/%d)", attempt+1, maxRetries+1)
		}
		telemetry.AddCallEvent(telemetry.SpanFromContext(ctx), req.Call, "call.retry", err.Message)

		select {
		case <-time.After(a.backoff(attempt)):
		case <-ctx.Done():
			lastErr = errors.Wrap(errors.KindTimeout, "call abandoned while backing off", ctx.Err()).
				WithRoute(req.Route).
				WithCall(req.Call)
		}
		if ctx.Err() != nil {
			break
		}
	}

	a.breaker.RecordFailure()
	a.observe(req, "failure", attempts, time.Since(start))
	out := Failure(req.Call, lastErr)
	out.Attempts = attempts
	out.Duration = time.Since(start)
	return out
}

// attempt performs a single network attempt.
func (a *HTTPAdapter) attempt(ctx context.Context, req *Request) (map[string]interface{}, *errors.Error) {
	callCtx, cancel := context.WithTimeout(ctx, a.cfg.Timeout)
	defer cancel()

	body, err := json.Marshal(requestBody(req))
	if err != nil {
		return nil, errors.Wrap(errors.KindInternal, "failed to encode backend request", err).
			WithRoute(req.Route).
			WithCall(req.Call)
	}

	httpReq, err := http.NewRequestWithContext(callCtx, http.MethodPost, a.url(), bytes.NewReader(body))
	if err != nil {
		return nil, errors.Wrap(errors.KindInternal, "failed to build backend request", err).
			WithRoute(req.Route).
			WithCall(req.Call)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if req.RequestID != "" {
		httpReq.Header.Set("X-Request-Id", req.RequestID)
	}

	resp, err := a.client.Do(httpReq)
	if err != nil {
		if stderrors.Is(err, context.DeadlineExceeded) {
			return nil, errors.Wrap(errors.KindTimeout, "backend call timed out", err).
				WithRoute(req.Route).
				WithCall(req.Call).
				WithDetail("timeout", a.cfg.Timeout.String())
		}
		return nil, errors.Wrap(errors.KindUnavailable, "backend unreachable", err).
			WithRoute(req.Route).
			WithCall(req.Call)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 500:
		return nil, errors.New(errors.KindBackend,
			fmt.Sprintf("backend returned %d", resp.StatusCode)).
			WithRoute(req.Route).
			WithCall(req.Call).
			WithDetail("body", readErrorBody(resp.Body))

	case resp.StatusCode >= 400:
		return nil, errors.New(errors.KindInvalidRequest,
			fmt.Sprintf("backend rejected request with %d", resp.StatusCode)).
			WithRoute(req.Route).
			WithCall(req.Call).
			WithDetail("body", readErrorBody(resp.Body))
	}

	var payload map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, errors.Wrap(errors.KindBackend, "malformed backend response", err).
			WithRoute(req.Route).
			WithCall(req.Call)
	}

	return a.translate(payload), nil
}

// requestBody builds the wire body: the normalized request fields plus the
// payloads of dependency calls, when any.
func requestBody(req *Request) map[string]interface{} {
	body := map[string]interface{}{
		"request": req.Payload,
	}
	if len(req.Inputs) > 0 {
		body["inputs"] = req.Inputs
	}
	return body
}

// backoff returns base * 2^attempt, capped.
func (a *HTTPAdapter) backoff(attempt int) time.Duration {
	base := a.cfg.BackoffBase
	if base <= 0 {
		base = 100 * time.Millisecond
	}
	delay := time.Duration(float64(base) * math.Pow(2, float64(attempt)))
	if delay > maxBackoff {
		delay = maxBackoff
	}
	return delay
}

func (a *HTTPAdapter) url() string {
	return strings.TrimSuffix(a.cfg.BaseURL, "/") + a.cfg.Path
}

func (a *HTTPAdapter) observe(req *Request, outcome string, attempts int, duration time.Duration) {
	if a.metrics != nil {
		a.metrics.RecordAdapterCall(a.cfg.Name, outcome, duration)
	}
	if a.logger != nil {
		a.logger.WithCall(req.Call).
			WithField("outcome", outcome).
			WithField("attempts", attempts).
			WithField("duration", duration.String()).
			Debug("backend call finished")
	}
}

// readErrorBody drains a bounded prefix of an error response body.
func readErrorBody(r io.Reader) string {
	data, err := io.ReadAll(io.LimitReader(r, maxErrorBodyBytes))
	if err != nil {
		return ""
	}
	return string(bytes.TrimSpace(data))
}
