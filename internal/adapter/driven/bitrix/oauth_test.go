package bitrix_test

import (
	"context"
	"errors"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ericfisherdev/b24bridge/internal/adapter/driven/bitrix"
	"github.com/ericfisherdev/b24bridge/internal/domain/model"
)

type stubTransport struct {
	endpoint string
	query    url.Values
	body     []byte
	err      error
}

func (s *stubTransport) PostJSON(context.Context, string, any) ([]byte, error) {
	return nil, errors.New("unexpected POST")
}

func (s *stubTransport) GetJSON(_ context.Context, endpoint string, query url.Values) ([]byte, error) {
	s.endpoint = endpoint
	s.query = query
	return s.body, s.err
}

func TestOAuthClient_Refresh(t *testing.T) {
	tr := &stubTransport{body: []byte(`{
		"access_token": "a2",
		"refresh_token": "r2",
		"expires_in": 3600,
		"member_id": "m1",
		"domain": "example.bitrix24.com"
	}`)}
	client := bitrix.NewOAuthClient(tr, bitrix.OAuthConfig{ClientID: "app.1", ClientSecret: "secret"})

	grant, err := client.Refresh(context.Background(), "r1")
	require.NoError(t, err)

	assert.Equal(t, bitrix.DefaultTokenURL, tr.endpoint)
	assert.Equal(t, "refresh_token", tr.query.Get("grant_type"))
	assert.Equal(t, "app.1", tr.query.Get("client_id"))
	assert.Equal(t, "secret", tr.query.Get("client_secret"))
	assert.Equal(t, "r1", tr.query.Get("refresh_token"))

	assert.Equal(t, model.TokenGrant{
		AccessToken:  "a2",
		RefreshToken: "r2",
		ExpiresIn:    3600,
		MemberID:     "m1",
		Domain:       "example.bitrix24.com",
	}, grant)
}

func TestOAuthClient_Refresh_FallsBackToExpires(t *testing.T) {
	tr := &stubTransport{body: []byte(`{"access_token":"a2","refresh_token":"r2","expires":100}`)}
	client := bitrix.NewOAuthClient(tr, bitrix.OAuthConfig{TokenURL: "https://oauth.test/token/"})

	grant, err := client.Refresh(context.Background(), "r1")
	require.NoError(t, err)
	assert.Equal(t, "https://oauth.test/token/", tr.endpoint)
	assert.Equal(t, int64(100), grant.ExpiresIn)
}

func TestOAuthClient_Refresh_Errors(t *testing.T) {
	tests := []struct {
		name    string
		token   string
		tr      *stubTransport
		wantErr error
		wantMsg string
	}{
		{
			name:    "empty refresh token",
			token:   "",
			tr:      &stubTransport{},
			wantErr: bitrix.ErrRefreshTokenRequired,
		},
		{
			name:    "transport failure",
			token:   "r1",
			tr:      &stubTransport{err: errors.New("connection refused")},
			wantMsg: "connection refused",
		},
		{
			name:    "provider error envelope",
			token:   "r1",
			tr:      &stubTransport{body: []byte(`{"error":"invalid_grant","error_description":"Invalid refresh token"}`)},
			wantMsg: "invalid_grant",
		},
		{
			name:    "missing access token",
			token:   "r1",
			tr:      &stubTransport{body: []byte(`{"refresh_token":"r2"}`)},
			wantErr: bitrix.ErrMissingAccessToken,
		},
		{
			name:    "invalid json",
			token:   "r1",
			tr:      &stubTransport{body: []byte(`not json`)},
			wantMsg: "invalid JSON",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := bitrix.NewOAuthClient(tt.tr, bitrix.OAuthConfig{})
			_, err := client.Refresh(context.Background(), tt.token)
			require.Error(t, err)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			}
			if tt.wantMsg != "" {
				assert.Contains(t, err.Error(), tt.wantMsg)
			}
		})
	}
}

func TestOAuthClient_Refresh_ProviderErrorIsInspectable(t *testing.T) {
	tr := &stubTransport{body: []byte(`{"error":"invalid_grant"}`)}
	client := bitrix.NewOAuthClient(tr, bitrix.OAuthConfig{})

	_, err := client.Refresh(context.Background(), "r1")

	var providerErr *model.ProviderError
	require.True(t, errors.As(err, &providerErr))
	assert.Equal(t, "invalid_grant", providerErr.Code)
}
