package application

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"

	"github.com/patrickmn/go-cache"

	"github.com/ericfisherdev/b24bridge/internal/domain/model"
	"github.com/ericfisherdev/b24bridge/internal/domain/port/driven"
	"github.com/ericfisherdev/b24bridge/internal/obs"
)

const (
	memberKeyPrefix   = "member:"
	domainKeyPrefix   = "domain:"
	appTokenKeyPrefix = "app_token:"
	retiredKeyPrefix  = "retired:"
)

// PortalService resolves portal credentials through a process-wide cache in
// front of a PortalStore. Cached values are never evicted on their own;
// Invalidate drops a portal explicitly.
type PortalService struct {
	store  driven.PortalStore
	cache  *cache.Cache
	logger *slog.Logger

	// writeMu serializes saves so the cache aliases of a portal are rekeyed
	// in the same order the store sees the writes.
	writeMu sync.Mutex
}

// NewPortalService creates a PortalService backed by store.
func NewPortalService(store driven.PortalStore, logger *slog.Logger) *PortalService {
	return &PortalService{
		store:  store,
		cache:  cache.New(cache.NoExpiration, 0),
		logger: logger,
	}
}

// ResolveByMember returns the portal with the given member id. A portal that
// has never been stored is returned as a bare record carrying only the member
// id; it is not persisted until the first successful update.
func (s *PortalService) ResolveByMember(ctx context.Context, memberID string) (model.Portal, error) {
	memberID = strings.TrimSpace(memberID)
	if memberID == "" {
		return model.Portal{}, ErrPortalKeyRequired
	}

	key := memberKeyPrefix + memberID
	if p, ok := s.cached(key); ok {
		return p, nil
	}

	found, err := s.store.FindByMemberID(ctx, memberID)
	if err != nil {
		return model.Portal{}, fmt.Errorf("resolve portal by member %s: %w", memberID, err)
	}
	if found == nil {
		p := model.Portal{MemberID: memberID}
		s.cache.Set(key, p, cache.NoExpiration)
		return p, nil
	}

	s.cacheAll(*found)
	return *found, nil
}

// ResolveByDomain returns the portal with the given domain, fabricating a bare
// record when none is stored.
func (s *PortalService) ResolveByDomain(ctx context.Context, domain string) (model.Portal, error) {
	domain = strings.TrimSpace(domain)
	if domain == "" {
		return model.Portal{}, ErrPortalKeyRequired
	}

	key := domainKeyPrefix + domain
	if p, ok := s.cached(key); ok {
		return p, nil
	}

	found, err := s.store.FindByDomain(ctx, domain)
	if err != nil {
		return model.Portal{}, fmt.Errorf("resolve portal by domain %s: %w", domain, err)
	}
	if found == nil {
		p := model.Portal{Domain: domain}
		s.cache.Set(key, p, cache.NoExpiration)
		return p, nil
	}

	s.cacheAll(*found)
	return *found, nil
}

// ResolveByAppToken returns the portal registered with the application token,
// or nil when there is none. Misses are neither fabricated nor cached.
func (s *PortalService) ResolveByAppToken(ctx context.Context, token string) (*model.Portal, error) {
	if token == "" {
		return nil, nil
	}

	if p, ok := s.cached(appTokenKeyPrefix + token); ok {
		return &p, nil
	}

	found, err := s.store.FindByAppToken(ctx, token)
	if err != nil {
		return nil, fmt.Errorf("resolve portal by app token: %w", err)
	}
	if found == nil {
		return nil, nil
	}

	s.cacheAll(*found)
	p := *found
	return &p, nil
}

// Store saves p and refreshes every cache key derivable from it. Keys of the
// previously cached record that p no longer carries are dropped. Storing an
// active portal clears the uninstall marker left by Invalidate.
func (s *PortalService) Store(ctx context.Context, p model.Portal) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	return s.save(ctx, p)
}

// Persist is Store for token refreshes, which must not fail on storage errors.
// The error is logged and counted, and the cache keeps its previous value.
// A refreshed record of a portal uninstalled in the meantime is discarded.
func (s *PortalService) Persist(ctx context.Context, p model.Portal) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if p.Active && s.retired(p.MemberID) {
		s.logger.Warn("discarding refreshed credentials of uninstalled portal",
			"member_id", p.MemberID,
			"domain", p.Domain,
		)
		return
	}

	if err := s.save(ctx, p); err != nil {
		obs.PortalPersistFailures.Inc()
		s.logger.Error("portal persist failed",
			"member_id", p.MemberID,
			"domain", p.Domain,
			"error", err,
		)
	}
}

// Invalidate drops every cache entry of p, including aliases of the cached
// record for the same member. An inactive p leaves an uninstall marker behind
// so that refreshes already in flight cannot reactivate it.
func (s *PortalService) Invalidate(p model.Portal) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if prev, ok := s.cached(memberKeyPrefix + p.MemberID); ok && p.MemberID != "" {
		s.dropKeys(prev.MemberID, cacheKeys(prev))
	}
	s.dropKeys(p.MemberID, cacheKeys(p))

	if !p.Active && p.MemberID != "" {
		s.cache.Set(retiredKeyPrefix+p.MemberID, true, cache.NoExpiration)
	}
}

func (s *PortalService) save(ctx context.Context, p model.Portal) error {
	if err := s.store.Save(ctx, p); err != nil {
		return fmt.Errorf("save portal %s: %w", p.MemberID, err)
	}

	if prev, ok := s.cached(memberKeyPrefix + p.MemberID); ok {
		current := cacheKeys(p)
		var stale []string
		for _, key := range cacheKeys(prev) {
			if !slices.Contains(current, key) {
				stale = append(stale, key)
			}
		}
		s.dropKeys(p.MemberID, stale)
	}
	s.cacheAll(p)

	if p.Active {
		s.cache.Delete(retiredKeyPrefix + p.MemberID)
	}
	return nil
}

// dropKeys deletes keys that still point at a record of memberID. An alias
// already taken over by another portal is left alone.
func (s *PortalService) dropKeys(memberID string, keys []string) {
	for _, key := range keys {
		if cur, ok := s.cached(key); ok && cur.MemberID != memberID {
			continue
		}
		s.cache.Delete(key)
	}
}

func (s *PortalService) retired(memberID string) bool {
	_, ok := s.cache.Get(retiredKeyPrefix + memberID)
	return ok
}

func (s *PortalService) cached(key string) (model.Portal, bool) {
	v, ok := s.cache.Get(key)
	if !ok {
		return model.Portal{}, false
	}
	p, ok := v.(model.Portal)
	return p, ok
}

func (s *PortalService) cacheAll(p model.Portal) {
	for _, key := range cacheKeys(p) {
		s.cache.Set(key, p, cache.NoExpiration)
	}
}

func cacheKeys(p model.Portal) []string {
	var keys []string
	if p.MemberID != "" {
		keys = append(keys, memberKeyPrefix+p.MemberID)
	}
	if p.Domain != "" {
		keys = append(keys, domainKeyPrefix+p.Domain)
	}
	if p.AppToken != "" {
		keys = append(keys, appTokenKeyPrefix+p.AppToken)
	}
	return keys
}
