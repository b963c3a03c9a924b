package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/ericfisherdev/b24bridge/internal/domain/model"
	"github.com/ericfisherdev/b24bridge/internal/domain/port/driven"
)

var _ driven.PortalStore = (*PortalRepo)(nil)

// PortalRepo is the PostgreSQL implementation of the PortalStore port.
type PortalRepo struct {
	db DBTX
}

// NewPortalRepo constructs a repository bound to the given DBTX.
func NewPortalRepo(db DBTX) *PortalRepo {
	return &PortalRepo{db: db}
}

const selectPortal = `
	SELECT member_id, domain, app_token, access_token, refresh_token, expires_at, active, updated_at
	FROM portals`

// FindByMemberID returns the portal with the given member id, or nil.
func (r *PortalRepo) FindByMemberID(ctx context.Context, memberID string) (*model.Portal, error) {
	return r.findOne(ctx, selectPortal+` WHERE member_id = $1`, memberID)
}

// FindByDomain returns the most recently updated portal on domain, or nil.
func (r *PortalRepo) FindByDomain(ctx context.Context, domain string) (*model.Portal, error) {
	return r.findOne(ctx, selectPortal+` WHERE domain = $1 ORDER BY updated_at DESC LIMIT 1`, domain)
}

// FindByAppToken returns the portal installed with appToken, or nil.
func (r *PortalRepo) FindByAppToken(ctx context.Context, appToken string) (*model.Portal, error) {
	if appToken == "" {
		return nil, nil
	}
	return r.findOne(ctx, selectPortal+` WHERE app_token = $1 LIMIT 1`, appToken)
}

func (r *PortalRepo) findOne(ctx context.Context, query, arg string) (*model.Portal, error) {
	var p model.Portal
	err := r.db.QueryRowContext(ctx, query, arg).Scan(
		&p.MemberID, &p.Domain, &p.AppToken, &p.AccessToken, &p.RefreshToken, &p.ExpiresAt, &p.Active, &p.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return &p, nil
}

// Save inserts or updates the portal keyed by member id.
func (r *PortalRepo) Save(ctx context.Context, portal model.Portal) error {
	if portal.MemberID == "" {
		return driven.ErrMemberIDRequired
	}

	query := `
		INSERT INTO portals (member_id, domain, app_token, access_token, refresh_token, expires_at, active, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, now())
		ON CONFLICT (member_id) DO UPDATE SET
			domain = EXCLUDED.domain,
			app_token = EXCLUDED.app_token,
			access_token = EXCLUDED.access_token,
			refresh_token = EXCLUDED.refresh_token,
			expires_at = EXCLUDED.expires_at,
			active = EXCLUDED.active,
			updated_at = now()
	`
	_, err := r.db.ExecContext(ctx, query,
		portal.MemberID,
		portal.Domain,
		portal.AppToken,
		portal.AccessToken,
		portal.RefreshToken,
		portal.ExpiresAt,
		portal.Active,
	)
	if err != nil {
		return fmt.Errorf("save portal %s: %w", portal.MemberID, err)
	}
	return nil
}
