package coupon

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
)

type countryStore interface {
	IDsByNames(ctx context.Context, names []string) (map[string]uuid.UUID, error)
}

// CoverageResolver maps regional package coverage names to country ids.
// Country names change rarely, so resolved names are cached.
type CoverageResolver struct {
	store countryStore
	cache *lru.Cache[string, uuid.UUID]
}

func NewCoverageResolver(store countryStore, size int) (*CoverageResolver, error) {
	cache, err := lru.New[string, uuid.UUID](size)
	if err != nil {
		return nil, fmt.Errorf("NewCoverageResolver: %w", err)
	}
	return &CoverageResolver{store: store, cache: cache}, nil
}

// Resolve returns the ids of the known names. Unknown names are dropped.
func (r *CoverageResolver) Resolve(ctx context.Context, names []string) ([]uuid.UUID, error) {
	ids := make([]uuid.UUID, 0, len(names))
	var missing []string
	for _, name := range names {
		if id, ok := r.cache.Get(name); ok {
			ids = append(ids, id)
			continue
		}
		missing = append(missing, name)
	}
	if len(missing) == 0 {
		return ids, nil
	}

	found, err := r.store.IDsByNames(ctx, missing)
	if err != nil {
		return nil, fmt.Errorf("Resolve: %w", err)
	}
	for _, name := range missing {
		if id, ok := found[name]; ok {
			r.cache.Add(name, id)
			ids = append(ids, id)
		}
	}
	return ids, nil
}
