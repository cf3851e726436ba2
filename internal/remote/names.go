package remote

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

const (
	defaultNameCacheSize = 1024
	defaultNameCacheTTL  = 10 * time.Minute
)

// NameResolver caches GetObjectName lookups. Listings resolve the same few
// parent ids over and over.
type NameResolver struct {
	svc   Service
	cache *expirable.LRU[string, string]
}

func NewNameResolver(svc Service, size int, ttl time.Duration) *NameResolver {
	if size <= 0 {
		size = defaultNameCacheSize
	}
	if ttl <= 0 {
		ttl = defaultNameCacheTTL
	}
	return &NameResolver{
		svc:   svc,
		cache: expirable.NewLRU[string, string](size, nil, ttl),
	}
}

// Remember seeds the cache, typically from objects already listed.
func (r *NameResolver) Remember(id, name string) {
	r.cache.Add(id, name)
}

func (r *NameResolver) Name(ctx context.Context, id string) (string, error) {
	if name, ok := r.cache.Get(id); ok {
		return name, nil
	}
	name, err := r.svc.GetObjectName(ctx, id)
	if err != nil {
		return "", err
	}
	r.cache.Add(id, name)
	return name, nil
}
