package driven

import (
	"context"
	"errors"

	"github.com/ericfisherdev/b24bridge/internal/domain/model"
)

// ErrMemberIDRequired is returned by PortalStore.Save when the portal has no
// member id.
var ErrMemberIDRequired = errors.New("portal member id is required")

// PortalStore defines the driven port for persisting portal credentials.
// Find methods return (nil, nil) when no portal matches.
type PortalStore interface {
	FindByMemberID(ctx context.Context, memberID string) (*model.Portal, error)
	FindByDomain(ctx context.Context, domain string) (*model.Portal, error)
	FindByAppToken(ctx context.Context, appToken string) (*model.Portal, error)

	// Save inserts or replaces the portal keyed by its member id.
	Save(ctx context.Context, portal model.Portal) error
}
