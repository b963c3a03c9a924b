package application

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"strings"

	"github.com/ericfisherdev/b24bridge/internal/domain/model"
	"github.com/ericfisherdev/b24bridge/internal/domain/port/driven"
)

// Client executes Bitrix24 REST calls on behalf of a portal. Every entry
// point refreshes the portal token first and threads the refreshed portal
// through the rest of the call, so a concurrent refresh elsewhere never swaps
// the token mid-flight.
type Client struct {
	transport driven.RESTTransport
	tokens    *TokenManager
	logger    *slog.Logger
}

// NewClient creates a Client.
func NewClient(transport driven.RESTTransport, tokens *TokenManager, logger *slog.Logger) *Client {
	return &Client{
		transport: transport,
		tokens:    tokens,
		logger:    logger,
	}
}

// Call executes a single REST method. A logical error reported by Bitrix24 is
// returned in CallResult.Error; the error return is reserved for token,
// transport and decoding failures.
func (c *Client) Call(ctx context.Context, p model.Portal, call model.APICall) (model.CallResult, error) {
	if strings.TrimSpace(call.Method) == "" {
		return model.CallResult{}, ErrEmptyMethod
	}

	p, err := c.tokens.EnsureFresh(ctx, p)
	if err != nil {
		return model.CallResult{}, err
	}

	raw, err := c.post(ctx, p, call.Method, callBody(call.Data, p.AccessToken))
	if err != nil {
		return model.CallResult{}, err
	}

	env, err := parseEnvelope(raw)
	if err != nil {
		return model.CallResult{}, fmt.Errorf("call %s: %w", call.Method, err)
	}

	return model.CallResult{Data: env.data(), Error: env.err}, nil
}

// CallAs executes call and decodes its result into T. Provider errors are
// returned as *model.ProviderError.
func CallAs[T any](ctx context.Context, c *Client, p model.Portal, call model.APICall) (T, error) {
	res, err := c.Call(ctx, p, call)
	if err != nil {
		var zero T
		return zero, err
	}
	return model.DecodeResult[T](res)
}

// post sends body to method on the portal without touching the token.
func (c *Client) post(ctx context.Context, p model.Portal, method string, body map[string]any) ([]byte, error) {
	endpoint, err := methodURL(p.Domain, method)
	if err != nil {
		return nil, err
	}

	raw, err := c.transport.PostJSON(ctx, endpoint, body)
	if err != nil {
		c.logger.Error("bitrix call failed",
			"method", method,
			"member_id", p.MemberID,
			"domain", p.Domain,
			"error", err,
		)
		return nil, fmt.Errorf("call %s: %w", method, err)
	}
	return raw, nil
}

// callBody merges data with the access token. start=-1 turns off total
// counting, which list pagination does not need.
func callBody(data map[string]any, accessToken string) map[string]any {
	body := make(map[string]any, len(data)+2)
	maps.Copy(body, data)
	body["auth"] = accessToken
	body["start"] = -1
	return body
}

func methodURL(domain, method string) (string, error) {
	domain = strings.TrimSuffix(strings.TrimSpace(domain), "/")
	if domain == "" {
		return "", ErrDomainRequired
	}
	return fmt.Sprintf("https://%s/rest/%s.json", domain, method), nil
}
