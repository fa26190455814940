package search

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"navigator/internal/metrics"
	"navigator/internal/narrative"
)

// Service is the facade that tries Meilisearch first and falls back to PG FTS.
// It also owns result caching for the caller-provided session cache.
type Service struct {
	meili    *Meili
	pgfts    *PgFTS
	backends []Searcher
	logger   *zap.Logger
}

// NewService creates a search service. Either backend may be nil.
func NewService(meili *Meili, pgfts *PgFTS, logger *zap.Logger) *Service {
	s := &Service{meili: meili, pgfts: pgfts, logger: logger}
	// nil pointers must not become typed-nil Searchers
	if meili != nil {
		s.backends = append(s.backends, meili)
	}
	if pgfts != nil {
		s.backends = append(s.backends, pgfts)
	}
	return s
}

func newServiceWithBackends(logger *zap.Logger, backends ...Searcher) *Service {
	return &Service{backends: backends, logger: logger}
}

// Search returns one page of results for q. With invalidate set, the session
// cache is reset before anything else happens. A nil cache disables caching.
func (s *Service) Search(ctx context.Context, q Query, cache Cache, invalidate bool) (Result, error) {
	q = q.Normalize()
	key := q.Signature()

	if cache != nil {
		if invalidate {
			cache.Reset(ctx)
		} else if cached, ok := cache.Get(ctx, key); ok {
			metrics.ResultCacheTotal.WithLabelValues("hit").Inc()
			return cached, nil
		}
		metrics.ResultCacheTotal.WithLabelValues("miss").Inc()
	}

	var lastErr error
	for _, backend := range s.backends {
		if !backend.Healthy() {
			lastErr = fmt.Errorf("%s: %w", backend.Name(), ErrUnavailable)
			continue
		}

		started := time.Now()
		result, err := backend.Search(ctx, q)
		metrics.SearchRequestDuration.WithLabelValues(backend.Name()).Observe(time.Since(started).Seconds())
		metrics.SearchRequestsTotal.WithLabelValues(backend.Name(), metrics.Outcome(err)).Inc()
		if err != nil {
			s.logger.Warn("search backend failed, trying next",
				zap.String("backend", backend.Name()),
				zap.String("signature", key),
				zap.Error(err),
			)
			lastErr = err
			continue
		}

		if result.Hits == nil {
			result.Hits = []narrative.Doc{}
		}
		if cache != nil {
			cache.Put(ctx, key, result)
		}
		return result, nil
	}

	if lastErr == nil {
		lastErr = ErrUnavailable
	}
	return Result{}, lastErr
}

// Healthy reports whether any backend can serve queries.
func (s *Service) Healthy() bool {
	for _, backend := range s.backends {
		if backend.Healthy() {
			return true
		}
	}
	return false
}

// MeiliHealthy reports the Meilisearch state; false when not configured.
func (s *Service) MeiliHealthy() (configured, healthy bool) {
	if s.meili == nil {
		return false, false
	}
	return true, s.meili.Healthy()
}

// PingDatabase checks the fallback database; nil when not configured.
func (s *Service) PingDatabase(ctx context.Context) (configured bool, err error) {
	if s.pgfts == nil {
		return false, nil
	}
	return true, s.pgfts.Ping(ctx)
}

// Reindex reads every narrative from PostgreSQL and pushes it to Meilisearch.
func (s *Service) Reindex(ctx context.Context) (int, error) {
	if s.meili == nil || s.pgfts == nil {
		return 0, fmt.Errorf("reindex needs both meilisearch and postgres configured")
	}
	if !s.meili.Healthy() {
		return 0, fmt.Errorf("reindex: %w", ErrUnavailable)
	}
	docs, err := s.pgfts.LoadAll(ctx)
	if err != nil {
		return 0, fmt.Errorf("reindex load: %w", err)
	}
	if err := s.meili.IndexNarratives(docs); err != nil {
		return 0, fmt.Errorf("reindex push: %w", err)
	}
	return len(docs), nil
}

// Close stops background work owned by the backends.
func (s *Service) Close() {
	if s.meili != nil {
		s.meili.Close()
	}
}
