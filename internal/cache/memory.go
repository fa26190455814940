// Package cache holds per-session search result caches.
package cache

import (
	"context"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"navigator/internal/search"
)

const (
	DefaultMaxSessions = 1024
	DefaultMaxPages    = 32
)

// Store hands out one result cache per page session.
type Store interface {
	ForSession(sid string) search.Cache
	Drop(ctx context.Context, sid string) error
}

// Memory keeps result pages in process. Sessions and the pages inside each
// session are both bounded LRUs.
type Memory struct {
	mu       sync.Mutex
	sessions *lru.Cache[string, *pageCache]
	maxPages int
}

// NewMemory creates an in-process store. Non-positive limits use defaults.
func NewMemory(maxSessions, maxPages int) *Memory {
	if maxSessions <= 0 {
		maxSessions = DefaultMaxSessions
	}
	if maxPages <= 0 {
		maxPages = DefaultMaxPages
	}
	sessions, _ := lru.New[string, *pageCache](maxSessions)
	return &Memory{sessions: sessions, maxPages: maxPages}
}

// ForSession returns the cache for sid, creating it on first use.
func (m *Memory) ForSession(sid string) search.Cache {
	m.mu.Lock()
	defer m.mu.Unlock()
	if pc, ok := m.sessions.Get(sid); ok {
		return pc
	}
	pages, _ := lru.New[string, search.Result](m.maxPages)
	pc := &pageCache{pages: pages}
	m.sessions.Add(sid, pc)
	return pc
}

// Drop forgets everything cached for sid.
func (m *Memory) Drop(_ context.Context, sid string) error {
	m.sessions.Remove(sid)
	return nil
}

// Sessions reports how many sessions currently hold a cache.
func (m *Memory) Sessions() int {
	return m.sessions.Len()
}

type pageCache struct {
	pages *lru.Cache[string, search.Result]
}

func (p *pageCache) Get(_ context.Context, key string) (search.Result, bool) {
	return p.pages.Get(key)
}

func (p *pageCache) Put(_ context.Context, key string, result search.Result) {
	p.pages.Add(key, result)
}

func (p *pageCache) Reset(_ context.Context) {
	p.pages.Purge()
}
