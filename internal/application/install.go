package application

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ericfisherdev/b24bridge/internal/domain/model"
	"github.com/ericfisherdev/b24bridge/internal/domain/port/driven"
)

// InstallEvent carries the credentials Bitrix24 hands over when a portal
// installs the application.
type InstallEvent struct {
	MemberID     string
	Domain       string
	AppToken     string
	AccessToken  string
	RefreshToken string
	// ExpiresIn is the access token lifetime in seconds.
	ExpiresIn int64
}

// InstallService registers and deregisters portals.
type InstallService struct {
	portals *PortalService
	now     func() time.Time
	logger  *slog.Logger
}

// NewInstallService creates an InstallService.
func NewInstallService(portals *PortalService, logger *slog.Logger) *InstallService {
	return &InstallService{
		portals: portals,
		now:     time.Now,
		logger:  logger,
	}
}

// Install stores the credentials of ev and marks the portal active. Unlike
// token refreshes, a storage failure here is returned to the caller.
func (s *InstallService) Install(ctx context.Context, ev InstallEvent) (model.Portal, error) {
	if strings.TrimSpace(ev.MemberID) == "" {
		return model.Portal{}, driven.ErrMemberIDRequired
	}
	if strings.TrimSpace(ev.Domain) == "" {
		return model.Portal{}, ErrDomainRequired
	}

	p, err := s.portals.ResolveByMember(ctx, ev.MemberID)
	if err != nil {
		return model.Portal{}, fmt.Errorf("install: %w", err)
	}

	p.Domain = ev.Domain
	if ev.AppToken != "" {
		p.AppToken = ev.AppToken
	}
	p.AccessToken = ev.AccessToken
	p.RefreshToken = ev.RefreshToken
	p.ExpiresAt = s.now().UnixMilli() + ev.ExpiresIn*1000
	p.Active = true

	if err := s.portals.Store(ctx, p); err != nil {
		return model.Portal{}, fmt.Errorf("install: %w", err)
	}

	s.logger.Info("portal installed", "member_id", p.MemberID, "domain", p.Domain)
	return p, nil
}

// Uninstall deactivates the portal registered with appToken and drops it
// from the cache. The record itself is kept.
func (s *InstallService) Uninstall(ctx context.Context, appToken string) error {
	p, err := s.portals.ResolveByAppToken(ctx, appToken)
	if err != nil {
		return fmt.Errorf("uninstall: %w", err)
	}
	if p == nil {
		return ErrUnknownApplication
	}

	p.Deactivate()
	if err := s.portals.Store(ctx, *p); err != nil {
		return fmt.Errorf("uninstall: %w", err)
	}
	s.portals.Invalidate(*p)

	s.logger.Info("portal uninstalled", "member_id", p.MemberID, "domain", p.Domain)
	return nil
}
