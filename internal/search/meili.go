package search

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	meili "github.com/meilisearch/meilisearch-go"
	"go.uber.org/zap"

	"navigator/internal/narrative"
)

const idxNarratives = "narratives"

// Meili implements Searcher via Meilisearch.
type Meili struct {
	client  meili.ServiceManager
	logger  *zap.Logger
	healthy atomic.Bool
	done    chan struct{}
}

// NewMeili creates a Meilisearch client and configures the index.
// The client is returned even when the initial health check fails; the
// background loop reconfigures the index once the server comes back.
func NewMeili(url, apiKey string, logger *zap.Logger) *Meili {
	client := meili.New(url, meili.WithAPIKey(apiKey))

	m := &Meili{
		client: client,
		logger: logger,
		done:   make(chan struct{}),
	}

	if _, err := client.Health(); err != nil {
		logger.Warn("meilisearch unavailable", zap.String("url", url), zap.Error(err))
		m.healthy.Store(false)
	} else {
		m.healthy.Store(true)
		m.configureIndex()
	}

	go m.healthLoop()
	return m
}

func (m *Meili) configureIndex() {
	if _, err := m.client.CreateIndex(&meili.IndexConfig{
		Uid:        idxNarratives,
		PrimaryKey: "access_group",
	}); err != nil {
		m.logger.Debug("create index (may already exist)", zap.String("index", idxNarratives), zap.Error(err))
	}

	index := m.client.Index(idxNarratives)
	filterable := []interface{}{"owner", "shared_users", "is_public", "is_narratorial", "is_temporary", "tags"}
	if _, err := index.UpdateFilterableAttributes(&filterable); err != nil {
		m.logger.Warn("update filterable attributes", zap.Error(err))
	}
	sortable := []string{"timestamp", "creation_date", "narrative_title"}
	if _, err := index.UpdateSortableAttributes(&sortable); err != nil {
		m.logger.Warn("update sortable attributes", zap.Error(err))
	}
	searchable := []string{"narrative_title", "creator", "owner", "tags", "data_objects.name", "cells.source"}
	if _, err := index.UpdateSearchableAttributes(&searchable); err != nil {
		m.logger.Warn("update searchable attributes", zap.Error(err))
	}
}

func (m *Meili) healthLoop() {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			_, err := m.client.Health()
			wasHealthy := m.healthy.Load()
			m.healthy.Store(err == nil)
			if err == nil && !wasHealthy {
				m.logger.Info("meilisearch recovered, reconfiguring index")
				m.configureIndex()
			}
		}
	}
}

// Close stops the background health monitor.
func (m *Meili) Close() {
	close(m.done)
}

func (m *Meili) Healthy() bool {
	return m.healthy.Load()
}

func (m *Meili) Name() string {
	return "meilisearch"
}

// Search runs q against the narratives index.
func (m *Meili) Search(_ context.Context, q Query) (Result, error) {
	if !m.healthy.Load() {
		return Result{}, fmt.Errorf("meilisearch: %w", ErrUnavailable)
	}
	q = q.Normalize()

	sort := LookupSort(q.Sort)
	direction := "asc"
	if sort.Desc {
		direction = "desc"
	}

	resp, err := m.client.Index(idxNarratives).Search(q.Term, &meili.SearchRequest{
		Limit:  int64(q.PageSize),
		Filter: meiliFilter(q),
		Sort:   []string{sort.Field + ":" + direction},
	})
	if err != nil {
		m.healthy.Store(false)
		return Result{}, fmt.Errorf("meilisearch search: %w", err)
	}

	hits := make([]narrative.Doc, 0, len(resp.Hits))
	for _, hit := range resp.Hits {
		doc, err := hitToDoc(hit)
		if err != nil {
			m.logger.Warn("skip undecodable hit", zap.Error(err))
			continue
		}
		hits = append(hits, doc)
	}
	return Result{Count: int(resp.EstimatedTotalHits), Hits: hits}, nil
}

// meiliFilter builds the category filter expression for q.
func meiliFilter(q Query) []string {
	filters := []string{"is_temporary = false"}
	switch q.Category {
	case CategoryOwn:
		filters = append(filters, fmt.Sprintf("owner = %s", strconv.Quote(q.Username)))
	case CategoryShared:
		filters = append(filters,
			fmt.Sprintf("shared_users = %s", strconv.Quote(q.Username)),
			fmt.Sprintf("owner != %s", strconv.Quote(q.Username)),
		)
	case CategoryTutorials:
		filters = append(filters, "is_narratorial = true")
	case CategoryPublic:
		filters = append(filters, "is_public = true")
	}
	return filters
}

func hitToDoc(hit meili.Hit) (narrative.Doc, error) {
	raw, err := json.Marshal(hit)
	if err != nil {
		return narrative.Doc{}, fmt.Errorf("encode hit: %w", err)
	}
	var doc narrative.Doc
	if err := json.Unmarshal(raw, &doc); err != nil {
		return narrative.Doc{}, fmt.Errorf("decode hit: %w", err)
	}
	return doc, nil
}

// IndexNarratives adds or replaces narrative summaries in the index.
func (m *Meili) IndexNarratives(docs []narrative.Doc) error {
	if len(docs) == 0 {
		return nil
	}
	_, err := m.client.Index(idxNarratives).AddDocuments(docs, nil)
	return err
}
