package bitrix

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/ericfisherdev/b24bridge/internal/domain/model"
	"github.com/ericfisherdev/b24bridge/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.OAuthClient = (*OAuthClient)(nil)

// DefaultTokenURL is the Bitrix24 OAuth server token endpoint.
const DefaultTokenURL = "https://oauth.bitrix.info/oauth/token/"

// OAuthConfig holds the registered application credentials.
type OAuthConfig struct {
	TokenURL     string
	ClientID     string
	ClientSecret string
}

// OAuthClient performs refresh-token grants against the Bitrix24 OAuth server.
type OAuthClient struct {
	transport driven.RESTTransport
	cfg       OAuthConfig
}

// NewOAuthClient creates an OAuthClient. An empty TokenURL selects
// DefaultTokenURL.
func NewOAuthClient(transport driven.RESTTransport, cfg OAuthConfig) *OAuthClient {
	if strings.TrimSpace(cfg.TokenURL) == "" {
		cfg.TokenURL = DefaultTokenURL
	}
	return &OAuthClient{transport: transport, cfg: cfg}
}

// Refresh exchanges refreshToken for a new token pair. The credentials travel
// as query parameters, which is what the Bitrix24 OAuth server expects.
func (c *OAuthClient) Refresh(ctx context.Context, refreshToken string) (model.TokenGrant, error) {
	if strings.TrimSpace(refreshToken) == "" {
		return model.TokenGrant{}, ErrRefreshTokenRequired
	}

	query := url.Values{}
	query.Set("grant_type", "refresh_token")
	query.Set("client_id", c.cfg.ClientID)
	query.Set("client_secret", c.cfg.ClientSecret)
	query.Set("refresh_token", refreshToken)

	body, err := c.transport.GetJSON(ctx, c.cfg.TokenURL, query)
	if err != nil {
		return model.TokenGrant{}, fmt.Errorf("oauth refresh: %w", err)
	}

	return parseTokenGrant(body)
}

func parseTokenGrant(body []byte) (model.TokenGrant, error) {
	if !gjson.ValidBytes(body) {
		return model.TokenGrant{}, fmt.Errorf("oauth refresh: invalid JSON response")
	}
	res := gjson.ParseBytes(body)

	if res.Get("error").Exists() {
		return model.TokenGrant{}, fmt.Errorf("oauth refresh: %w", model.NewProviderError(json.RawMessage(body)))
	}

	grant := model.TokenGrant{
		AccessToken:  res.Get("access_token").String(),
		RefreshToken: res.Get("refresh_token").String(),
		MemberID:     res.Get("member_id").String(),
		Domain:       res.Get("domain").String(),
	}
	if grant.AccessToken == "" {
		return model.TokenGrant{}, fmt.Errorf("oauth refresh: %w", ErrMissingAccessToken)
	}

	// expires_in is the lifetime in seconds. Some responses only carry
	// "expires", which is then taken as the lifetime as well.
	if v := res.Get("expires_in"); v.Exists() {
		grant.ExpiresIn = v.Int()
	} else {
		grant.ExpiresIn = res.Get("expires").Int()
	}

	return grant, nil
}
