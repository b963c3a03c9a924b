package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/ericfisherdev/b24bridge/internal/domain/model"
	"github.com/ericfisherdev/b24bridge/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.PortalStore = (*PortalRepo)(nil)

// PortalRepo is the SQLite implementation of the PortalStore port.
type PortalRepo struct {
	db  *DB
	now func() time.Time
}

// NewPortalRepo creates a PortalRepo backed by the given DB.
func NewPortalRepo(db *DB) *PortalRepo {
	return &PortalRepo{db: db, now: time.Now}
}

// timestampLayout has a fixed-width fraction so updated_at sorts as text.
const timestampLayout = "2006-01-02T15:04:05.000000000Z07:00"

const selectPortal = `SELECT member_id, domain, app_token, access_token, refresh_token, expires_at, active, updated_at FROM portals`

// FindByMemberID returns the portal with the given member id, or nil if none exists.
func (r *PortalRepo) FindByMemberID(ctx context.Context, memberID string) (*model.Portal, error) {
	return r.findOne(ctx, "member id "+memberID, selectPortal+` WHERE member_id = ?`, memberID)
}

// FindByDomain returns the most recently updated portal on the given domain,
// or nil if none exists.
func (r *PortalRepo) FindByDomain(ctx context.Context, domain string) (*model.Portal, error) {
	return r.findOne(ctx, "domain "+domain, selectPortal+` WHERE domain = ? ORDER BY updated_at DESC LIMIT 1`, domain)
}

// FindByAppToken returns the portal installed with the given application
// token, or nil if none exists.
func (r *PortalRepo) FindByAppToken(ctx context.Context, appToken string) (*model.Portal, error) {
	if appToken == "" {
		return nil, nil
	}
	return r.findOne(ctx, "app token", selectPortal+` WHERE app_token = ? LIMIT 1`, appToken)
}

func (r *PortalRepo) findOne(ctx context.Context, what, query string, arg string) (*model.Portal, error) {
	portal, err := scanPortal(r.db.Reader.QueryRowContext(ctx, query, arg))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find portal by %s: %w", what, err)
	}
	return portal, nil
}

// Save inserts or replaces the portal keyed by member id.
func (r *PortalRepo) Save(ctx context.Context, portal model.Portal) error {
	if portal.MemberID == "" {
		return driven.ErrMemberIDRequired
	}

	const query = `INSERT INTO portals (member_id, domain, app_token, access_token, refresh_token, expires_at, active, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(member_id) DO UPDATE SET
			domain = excluded.domain,
			app_token = excluded.app_token,
			access_token = excluded.access_token,
			refresh_token = excluded.refresh_token,
			expires_at = excluded.expires_at,
			active = excluded.active,
			updated_at = excluded.updated_at`

	_, err := r.db.Writer.ExecContext(ctx, query,
		portal.MemberID,
		portal.Domain,
		portal.AppToken,
		portal.AccessToken,
		portal.RefreshToken,
		portal.ExpiresAt,
		boolToInt(portal.Active),
		r.now().UTC().Format(timestampLayout),
	)
	if err != nil {
		return fmt.Errorf("save portal %s: %w", portal.MemberID, err)
	}
	return nil
}

// scanner is satisfied by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanPortal(s scanner) (*model.Portal, error) {
	var (
		p         model.Portal
		active    int
		updatedAt string
	)

	err := s.Scan(&p.MemberID, &p.Domain, &p.AppToken, &p.AccessToken, &p.RefreshToken, &p.ExpiresAt, &active, &updatedAt)
	if err != nil {
		return nil, err
	}

	p.Active = active != 0
	p.UpdatedAt, err = parseTime(updatedAt)
	if err != nil {
		return nil, fmt.Errorf("parse updated_at: %w", err)
	}

	return &p, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// parseTime tries multiple SQLite datetime formats.
func parseTime(s string) (time.Time, error) {
	formats := []string{
		time.RFC3339Nano,
		time.RFC3339,
		"2006-01-02 15:04:05",
		"2006-01-02T15:04:05",
	}

	for _, format := range formats {
		if t, err := time.Parse(format, s); err == nil {
			return t, nil
		}
	}

	return time.Time{}, fmt.Errorf("unrecognized time format: %s", s)
}
