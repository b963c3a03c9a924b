package driven

import (
	"context"
	"net/url"

	"github.com/ericfisherdev/b24bridge/internal/domain/model"
)

// RESTTransport is the JSON-over-HTTP primitive used to reach Bitrix24.
// Both methods return the raw response body of a 2xx response; any other
// status or a network failure is returned as an error.
type RESTTransport interface {
	PostJSON(ctx context.Context, endpoint string, body any) ([]byte, error)
	GetJSON(ctx context.Context, endpoint string, query url.Values) ([]byte, error)
}

// OAuthClient exchanges a refresh token for a new access token at the
// Bitrix24 OAuth server.
type OAuthClient interface {
	Refresh(ctx context.Context, refreshToken string) (model.TokenGrant, error)
}
