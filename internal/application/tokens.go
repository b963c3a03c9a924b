package application

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ericfisherdev/b24bridge/internal/domain/model"
	"github.com/ericfisherdev/b24bridge/internal/domain/port/driven"
	"github.com/ericfisherdev/b24bridge/internal/obs"
)

// portalPersister is the part of PortalService the token manager writes to.
type portalPersister interface {
	Persist(ctx context.Context, p model.Portal)
}

// TokenManager keeps portal access tokens valid. It is the only writer of
// refreshed credentials.
type TokenManager struct {
	oauth   driven.OAuthClient
	portals portalPersister
	now     func() time.Time
	logger  *slog.Logger
}

// NewTokenManager creates a TokenManager that refreshes through oauth and
// persists through portals.
func NewTokenManager(oauth driven.OAuthClient, portals portalPersister, logger *slog.Logger) *TokenManager {
	return &TokenManager{
		oauth:   oauth,
		portals: portals,
		now:     time.Now,
		logger:  logger,
	}
}

// WithClock replaces the time source and returns m.
func (m *TokenManager) WithClock(now func() time.Time) *TokenManager {
	m.now = now
	return m
}

// EnsureFresh returns p unchanged while its access token is still valid.
// Otherwise it performs exactly one refresh-token grant, persists the result
// and returns the updated portal. Refresh failures are not retried.
func (m *TokenManager) EnsureFresh(ctx context.Context, p model.Portal) (model.Portal, error) {
	now := m.now()
	if !p.Expired(now) {
		return p, nil
	}

	grant, err := m.oauth.Refresh(ctx, p.RefreshToken)
	if err != nil {
		obs.TokenRefreshes.WithLabelValues("error").Inc()
		m.logger.Warn("token refresh failed",
			"member_id", p.MemberID,
			"domain", p.Domain,
			"error", err,
		)
		return model.Portal{}, fmt.Errorf("refresh token for portal %s: %w", p.MemberID, err)
	}
	obs.TokenRefreshes.WithLabelValues("ok").Inc()

	p.AccessToken = grant.AccessToken
	if grant.RefreshToken != "" {
		p.RefreshToken = grant.RefreshToken
	}
	p.ExpiresAt = now.UnixMilli() + grant.ExpiresIn*1000
	if p.MemberID == "" {
		p.MemberID = grant.MemberID
	}
	if p.Domain == "" {
		p.Domain = grant.Domain
	}

	m.portals.Persist(ctx, p)

	m.logger.Debug("token refreshed",
		"member_id", p.MemberID,
		"domain", p.Domain,
		"expires_at", p.ExpiryTime(),
	)

	return p, nil
}
