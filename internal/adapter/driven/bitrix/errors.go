package bitrix

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/tidwall/gjson"

	"github.com/ericfisherdev/b24bridge/internal/domain/model"
)

// ErrRefreshTokenRequired is returned when a refresh is requested for a
// portal that has no refresh token.
var ErrRefreshTokenRequired = errors.New("refresh token is required")

// ErrMissingAccessToken is returned when the OAuth server answers 2xx without
// an access token.
var ErrMissingAccessToken = errors.New("token response missing access_token")

// StatusError is returned for any non-2xx response.
type StatusError struct {
	StatusCode int
	Endpoint   string
	Body       []byte
}

func (e *StatusError) Error() string {
	msg := fmt.Sprintf("bitrix24: %s returned status %d", e.Endpoint, e.StatusCode)
	if pe := e.ProviderError(); pe != nil {
		msg += ": " + pe.Error()
	}
	return msg
}

// ProviderError decodes the Bitrix24 error envelope carried in the response
// body, if any. 401 expired_token and 503 QUERY_LIMIT_EXCEEDED both arrive
// this way.
func (e *StatusError) ProviderError() *model.ProviderError {
	if !gjson.ValidBytes(e.Body) {
		return nil
	}
	if !gjson.GetBytes(e.Body, "error").Exists() {
		return nil
	}
	return model.NewProviderError(json.RawMessage(e.Body))
}

// Unwrap exposes the provider error so callers can use errors.As.
func (e *StatusError) Unwrap() error {
	if pe := e.ProviderError(); pe != nil {
		return pe
	}
	return nil
}
