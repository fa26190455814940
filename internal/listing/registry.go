package listing

import (
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"navigator/internal/cache"
)

const DefaultMaxContainers = 1024

// Registry keeps one container per page session. Sessions beyond the cap
// are evicted least recently used first; an evicted session starts over
// with a fresh container on its next request.
type Registry struct {
	searcher Searcher
	fetcher  VersionFetcher
	caches   cache.Store
	logger   *zap.Logger

	mu         sync.Mutex
	containers *lru.Cache[string, *Container]
}

func NewRegistry(searcher Searcher, fetcher VersionFetcher, caches cache.Store, size int, logger *zap.Logger) *Registry {
	if size <= 0 {
		size = DefaultMaxContainers
	}
	containers, _ := lru.New[string, *Container](size)
	return &Registry{
		searcher:   searcher,
		fetcher:    fetcher,
		caches:     caches,
		logger:     logger,
		containers: containers,
	}
}

// Get returns the container for sid, creating it on first use.
func (r *Registry) Get(sid string) *Container {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.containers.Get(sid); ok {
		return c
	}
	c := NewContainer(r.searcher, r.fetcher, r.caches.ForSession(sid), r.logger.With(zap.String("sid", sid)))
	r.containers.Add(sid, c)
	return c
}

// Forget drops the container of sid.
func (r *Registry) Forget(sid string) {
	r.containers.Remove(sid)
}

func (r *Registry) Len() int {
	return r.containers.Len()
}
