// Package bitrix implements the Bitrix24 REST transport and OAuth ports over
// imroc/req.
package bitrix

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/imroc/req/v3"
	"golang.org/x/time/rate"

	"github.com/ericfisherdev/b24bridge/internal/domain/port/driven"
	"github.com/ericfisherdev/b24bridge/internal/obs"
)

// Compile-time interface satisfaction check.
var _ driven.RESTTransport = (*Transport)(nil)

const defaultTimeout = 30 * time.Second

// TransportConfig tunes the outbound HTTP client.
type TransportConfig struct {
	Timeout time.Duration
	// RateLimit is the sustained request rate per second shared by all
	// portals. Zero or negative disables client-side limiting.
	RateLimit float64
	Burst     int
	UserAgent string
}

// Transport sends JSON requests to Bitrix24 portals and the OAuth server.
// All requests share one token-bucket limiter.
type Transport struct {
	client  *req.Client
	limiter *rate.Limiter
	logger  *slog.Logger
}

// NewTransport creates a Transport with the given configuration.
func NewTransport(cfg TransportConfig, logger *slog.Logger) *Transport {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "b24bridge"
	}

	client := req.C().
		SetTimeout(cfg.Timeout).
		SetUserAgent(cfg.UserAgent).
		SetCommonHeader("Accept", "application/json")

	var limiter *rate.Limiter
	if cfg.RateLimit > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), max(cfg.Burst, 1))
	}

	return &Transport{client: client, limiter: limiter, logger: logger}
}

// PostJSON posts body as JSON to endpoint and returns the response body.
func (t *Transport) PostJSON(ctx context.Context, endpoint string, body any) ([]byte, error) {
	if err := t.wait(ctx); err != nil {
		return nil, err
	}

	start := time.Now()
	resp, err := t.client.R().
		SetContext(ctx).
		SetBodyJsonMarshal(body).
		Post(endpoint)

	return t.finish("POST", endpoint, nil, start, resp, err)
}

// GetJSON issues a GET to endpoint with the given query parameters. The query
// is never logged or echoed in errors because it may carry client secrets.
func (t *Transport) GetJSON(ctx context.Context, endpoint string, query url.Values) ([]byte, error) {
	if err := t.wait(ctx); err != nil {
		return nil, err
	}

	start := time.Now()
	resp, err := t.client.R().
		SetContext(ctx).
		SetQueryParamsFromValues(query).
		Get(endpoint)

	return t.finish("GET", endpoint, query, start, resp, err)
}

func (t *Transport) wait(ctx context.Context) error {
	if t.limiter == nil {
		return nil
	}
	if err := t.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}
	return nil
}

func (t *Transport) finish(verb, endpoint string, query url.Values, start time.Time, resp *req.Response, err error) ([]byte, error) {
	elapsed := time.Since(start)
	obs.BitrixRequestDuration.WithLabelValues(verb).Observe(elapsed.Seconds())

	if err != nil {
		obs.BitrixRequests.WithLabelValues(verb, "network_error").Inc()
		return nil, fmt.Errorf("%s %s: %w", verb, endpoint, redactQuery(err, query))
	}

	body := resp.Bytes()
	if !resp.IsSuccessState() {
		obs.BitrixRequests.WithLabelValues(verb, "status_error").Inc()
		return nil, &StatusError{StatusCode: resp.StatusCode, Endpoint: endpoint, Body: body}
	}

	obs.BitrixRequests.WithLabelValues(verb, "ok").Inc()
	t.logger.Debug("bitrix request",
		"verb", verb,
		"endpoint", endpoint,
		"status", resp.StatusCode,
		"bytes", len(body),
		"duration", elapsed.Round(time.Millisecond),
	)

	return body, nil
}

// redactedError hides query parameter values in the message of a wrapped
// network error. The underlying error stays reachable through Unwrap.
type redactedError struct {
	err     error
	secrets []string
}

func (e *redactedError) Error() string {
	msg := e.err.Error()
	for _, s := range e.secrets {
		msg = strings.ReplaceAll(msg, s, "REDACTED")
	}
	return msg
}

func (e *redactedError) Unwrap() error { return e.err }

func redactQuery(err error, query url.Values) error {
	var secrets []string
	for _, values := range query {
		for _, v := range values {
			if v == "" {
				continue
			}
			secrets = append(secrets, url.QueryEscape(v), v)
		}
	}
	if len(secrets) == 0 {
		return err
	}
	return &redactedError{err: err, secrets: secrets}
}
