package listing

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"navigator/internal/narrative"
	"navigator/internal/route"
	"navigator/internal/search"
)

// Searcher runs a search against the session cache.
type Searcher interface {
	Search(ctx context.Context, q search.Query, cache search.Cache, invalidate bool) (search.Result, error)
}

// VersionFetcher loads an explicitly requested older version.
type VersionFetcher interface {
	FetchOldVersion(ctx context.Context, id, obj, ver int, token string) (narrative.Doc, error)
}

// Props are the inputs of one page render.
type Props struct {
	Params   route.Params
	Username string
	Token    string
}

// View is a read-only snapshot of the container after an update.
type View struct {
	Items             []narrative.Doc
	ActiveIdx         int
	Active            *narrative.Doc
	OldVersion        *narrative.Doc
	OldVersionLoading bool
	Loading           bool
	TotalItems        int
	Pages             int
	Query             search.Query
	Err               error
	OldVersionErr     error
}

// Selected is the document the details pane shows: the held old version when
// there is one, otherwise the active search hit.
func (v View) Selected() *narrative.Doc {
	if v.OldVersion != nil {
		return v.OldVersion
	}
	return v.Active
}

// HasMore reports whether another page of results exists.
func (v View) HasMore() bool {
	return len(v.Items) < v.TotalItems
}

// Container is the list state of one page session. Its lock is never held
// across a network call.
type Container struct {
	searcher Searcher
	fetcher  VersionFetcher
	cache    search.Cache
	logger   *zap.Logger

	mu       sync.Mutex
	state    State
	last     *Props
	inflight chan struct{}
}

func NewContainer(searcher Searcher, fetcher VersionFetcher, cache search.Cache, logger *zap.Logger) *Container {
	return &Container{searcher: searcher, fetcher: fetcher, cache: cache, logger: logger}
}

// Update brings the container in line with props: it searches again when
// the search inputs changed and then reconciles the requested version.
func (c *Container) Update(ctx context.Context, props Props) View {
	c.mu.Lock()
	doSearch, invalidate := c.needsSearch(props)
	c.last = &props
	wait := c.inflight
	c.mu.Unlock()

	if doSearch {
		c.performSearch(ctx, c.query(props), props.Params.ID, invalidate)
	} else if wait != nil {
		select {
		case <-wait:
		case <-ctx.Done():
		}
	}

	c.checkSelectedVersion(ctx, props)
	return c.Snapshot()
}

// Snapshot copies the current state into a View.
func (c *Container) Snapshot() View {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := &c.state
	v := View{
		Items:             s.Items,
		ActiveIdx:         s.ActiveIdx,
		OldVersionLoading: s.OldVersionLoading,
		Loading:           s.Loading,
		TotalItems:        s.TotalItems,
		Pages:             s.Pages,
		Query:             s.SearchParams,
		Err:               s.Err,
		OldVersionErr:     s.OldVersionErr,
	}
	if active := s.ActiveItem(); active != nil {
		doc := *active
		v.Active = &doc
	}
	if s.OldVersionDoc != nil {
		doc := *s.OldVersionDoc
		v.OldVersion = &doc
	}
	return v
}

// needsSearch reports whether props require a new search and whether the
// session cache must be dropped first. Called with the lock held.
func (c *Container) needsSearch(props Props) (doSearch, invalidate bool) {
	if props.Params.Refresh {
		return true, true
	}
	if c.last == nil {
		return true, false
	}
	prev := c.last.Params
	next := props.Params
	switch {
	case prev.Category != next.Category:
		return true, true
	case c.last.Username != props.Username:
		return true, true
	case prev.ID != next.ID,
		prev.Limit != next.Limit,
		prev.Search != next.Search,
		prev.Sort != next.Sort:
		return true, false
	}
	return c.state.Err != nil && !c.state.Loading, false
}

func (c *Container) query(props Props) search.Query {
	return search.Query{
		Term:     props.Params.Search,
		Sort:     props.Params.Sort,
		Category: props.Params.Category,
		PageSize: props.Params.PageSize(),
		Username: props.Username,
	}.Normalize()
}

func (c *Container) performSearch(ctx context.Context, q search.Query, requestedID int, invalidate bool) {
	c.mu.Lock()
	seq := c.state.StartSearch(q)
	done := make(chan struct{})
	c.inflight = done
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		if c.inflight == done {
			c.inflight = nil
		}
		c.mu.Unlock()
		close(done)
	}()

	// own and shared need to know who is asking
	if q.Username == "" && (q.Category == search.CategoryOwn || q.Category == search.CategoryShared) {
		c.mu.Lock()
		c.state.SearchResolved(seq, search.Result{Hits: []narrative.Doc{}}, requestedID)
		c.mu.Unlock()
		return
	}

	result, err := c.searcher.Search(ctx, q, c.cache, invalidate)

	c.mu.Lock()
	defer c.mu.Unlock()
	if err != nil {
		if !c.state.SearchFailed(seq, err) {
			c.logger.Debug("stale search failure ignored", zap.Uint64("seq", seq))
			return
		}
		c.logger.Warn("search failed", zap.String("signature", q.Signature()), zap.Error(err))
		return
	}
	if !c.state.SearchResolved(seq, result, requestedID) {
		c.logger.Debug("stale search result ignored", zap.Uint64("seq", seq))
	}
}

func (c *Container) checkSelectedVersion(ctx context.Context, props Props) {
	c.mu.Lock()
	active := c.state.ActiveItem()
	if active == nil {
		c.mu.Unlock()
		return
	}
	action := Decide(props.Params.Ver, active.Version, c.state.OldVersionDoc)
	switch action {
	case ActionNone:
		c.mu.Unlock()
	case ActionDiscard:
		c.state.ClearOldVersion()
		c.mu.Unlock()
	case ActionDiscardAndResearch:
		c.state.ClearOldVersion()
		q := c.state.SearchParams
		c.mu.Unlock()
		c.performSearch(ctx, q, props.Params.ID, true)
	case ActionFetchOld:
		c.mu.Unlock()
		c.updateVersionDoc(ctx, props)
	}
}

func (c *Container) updateVersionDoc(ctx context.Context, props Props) {
	p := props.Params
	c.mu.Lock()
	if p.ID == 0 && p.Obj == 0 && p.Ver == 0 {
		c.state.ClearOldVersion()
		c.mu.Unlock()
		return
	}
	seq := c.state.StartOldVersion()
	c.mu.Unlock()

	doc, err := c.fetcher.FetchOldVersion(ctx, p.ID, p.Obj, p.Ver, props.Token)

	c.mu.Lock()
	defer c.mu.Unlock()
	if err != nil {
		if c.state.OldVersionFailed(seq, err) {
			c.logger.Warn("old version fetch failed", zap.String("upa", p.Key().String()), zap.Error(err))
		}
		return
	}
	if !c.state.OldVersionResolved(seq, doc) {
		c.logger.Debug("stale old version ignored", zap.Uint64("seq", seq))
	}
}
