package data

import (
	"context"

	"andstatus/internal/cache"
	"andstatus/internal/database"
	"andstatus/internal/metrics"
)

// Resolver maps (origin, oid) to local row ids. Lookups have no side effects
// on the store; found ids are memoised in an optional cache.
type Resolver struct {
	store database.Store
	cache cache.IDCache
}

// NewResolver returns a resolver over store. c may be nil.
func NewResolver(store database.Store, c cache.IDCache) *Resolver {
	return &Resolver{store: store, cache: c}
}

// OidToID returns the local id, or 0 when the oid is empty or unknown.
func (r *Resolver) OidToID(ctx context.Context, kind database.OidKind, originID int64, oid string) (int64, error) {
	if oid == "" {
		return 0, nil
	}
	key := cache.Key{Kind: kind, OriginID: originID, Oid: oid}
	if r.cache != nil {
		if id, ok := r.cache.Get(ctx, key); ok {
			metrics.ResolverLookupsTotal.WithLabelValues("cached").Inc()
			return id, nil
		}
	}
	id, err := r.store.OidToID(ctx, kind, originID, oid)
	if err != nil {
		return 0, err
	}
	if id == 0 {
		metrics.ResolverLookupsTotal.WithLabelValues("miss").Inc()
		return 0, nil
	}
	metrics.ResolverLookupsTotal.WithLabelValues("hit").Inc()
	r.Remember(ctx, kind, originID, oid, id)
	return id, nil
}

// Remember records an id just assigned by an insert.
func (r *Resolver) Remember(ctx context.Context, kind database.OidKind, originID int64, oid string, id int64) {
	if r.cache == nil || oid == "" || id == 0 {
		return
	}
	r.cache.Set(ctx, cache.Key{Kind: kind, OriginID: originID, Oid: oid}, id)
}

// Forget drops a cached id, e.g. after its row was deleted.
func (r *Resolver) Forget(ctx context.Context, kind database.OidKind, originID int64, oid string) {
	if r.cache == nil || oid == "" {
		return
	}
	r.cache.Delete(ctx, cache.Key{Kind: kind, OriginID: originID, Oid: oid})
}
