package model_test

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ericfisherdev/b24bridge/internal/domain/model"
)

func TestNewProviderError(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		code    string
		desc    string
		message string
	}{
		{
			name:    "object with description",
			raw:     `{"error":"QUERY_LIMIT_EXCEEDED","error_description":"Too many requests"}`,
			code:    "QUERY_LIMIT_EXCEEDED",
			desc:    "Too many requests",
			message: "bitrix24: QUERY_LIMIT_EXCEEDED: Too many requests",
		},
		{
			name:    "bare string",
			raw:     `"expired_token"`,
			code:    "expired_token",
			message: "bitrix24: expired_token",
		},
		{
			name:    "unknown shape keeps raw payload",
			raw:     `[1,2]`,
			message: "bitrix24: error [1,2]",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pe := model.NewProviderError(json.RawMessage(tt.raw))
			assert.Equal(t, tt.code, pe.Code)
			assert.Equal(t, tt.desc, pe.Description)
			assert.Equal(t, tt.message, pe.Error())
			assert.JSONEq(t, tt.raw, string(pe.Raw))
		})
	}
}

func TestDecodeResult(t *testing.T) {
	type deal struct {
		ID    string `json:"ID"`
		Title string `json:"TITLE"`
	}

	got, err := model.DecodeResult[deal](model.CallResult{Data: json.RawMessage(`{"ID":"7","TITLE":"Roof"}`)})
	require.NoError(t, err)
	assert.Equal(t, deal{ID: "7", Title: "Roof"}, got)

	_, err = model.DecodeResult[deal](model.CallResult{Error: &model.ProviderError{Code: "NOT_FOUND"}})
	var pe *model.ProviderError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, "NOT_FOUND", pe.Code)

	empty, err := model.DecodeResult[[]deal](model.CallResult{})
	require.NoError(t, err)
	assert.Nil(t, empty)
}

func TestPortal_Expired(t *testing.T) {
	now := time.UnixMilli(1_000_000)

	assert.False(t, model.Portal{ExpiresAt: 1_000_001}.Expired(now))
	assert.True(t, model.Portal{ExpiresAt: 1_000_000}.Expired(now), "expiry equal to now is expired")
	assert.True(t, model.Portal{}.Expired(now))
}

func TestPortal_Deactivate(t *testing.T) {
	p := model.Portal{MemberID: "m1", AccessToken: "a", RefreshToken: "r", ExpiresAt: 10, Active: true}
	p.Deactivate()

	assert.Equal(t, model.Portal{MemberID: "m1"}, p)
}
