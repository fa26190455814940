package app

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"navigator/internal/auth"
	"navigator/internal/header"
	"navigator/internal/listing"
	logpkg "navigator/internal/logger"
	"navigator/internal/preview"
	"navigator/internal/route"
	"navigator/internal/search"
	"navigator/internal/view"
)

var tabs = []struct {
	label    string
	category search.Category
}{
	{"My Narratives", search.CategoryOwn},
	{"Shared With Me", search.CategoryShared},
	{"Tutorials", search.CategoryTutorials},
	{"Public", search.CategoryPublic},
}

// handleDashboard renders the narratives page. The header and the list are
// built in parallel; the details pane is filled in for the selected item.
func (s *HTTPServer) handleDashboard(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logpkg.FromContext(ctx)

	params, err := route.ParseParams(chi.URLParam(r, "*"), r.URL.Query())
	if err != nil {
		s.notFound(w, r)
		return
	}

	token := auth.TokenFromRequest(r)
	var (
		username  string
		lookupErr = auth.ErrNoToken
	)
	if token != "" {
		username, lookupErr = s.users.Username(ctx, token)
	}
	listUser := username
	if lookupErr != nil {
		listUser = ""
	}

	var (
		hv header.View
		lv listing.View
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		hv = s.header.BuildFor(gctx, token, username, lookupErr)
		return nil
	})
	g.Go(func() error {
		container := s.registry.Get(sessionID(ctx))
		lv = container.Update(gctx, listing.Props{Params: params, Username: listUser, Token: token})
		return nil
	})
	_ = g.Wait()

	d := s.dashboard(params, r.URL.Query(), hv, lv)
	if selected := lv.Selected(); selected != nil {
		details := s.details(ctx, params, r.URL.Query(), lv, token)
		d.Details = &details
	}
	if lv.Err != nil {
		log.Warn("dashboard search failed", zap.Error(lv.Err))
	}

	s.renderPage(w, r, http.StatusOK, func(wr io.Writer) error {
		return s.renderer.Dashboard(wr, d)
	})
}

func (s *HTTPServer) dashboard(p route.Params, current url.Values, hv header.View, lv listing.View) view.Dashboard {
	d := view.Dashboard{
		Header:       hv,
		HostRoot:     s.cfg.HostRoot,
		NewHref:      s.cfg.HostRoot + "/#narrativemanager/new",
		SignOutHref:  s.link("/signout"),
		Search:       p.Search,
		FilterAction: s.link(route.CategoryPath(p.Category)),
		TotalItems:   lv.TotalItems,
		Loading:      lv.Loading,
		RefreshHref:  s.link(route.RefreshLink(p, current)),
		Refresh:      lv.Loading || lv.OldVersionLoading,
	}
	for _, t := range tabs {
		d.Tabs = append(d.Tabs, view.Tab{
			Label:  t.label,
			Href:   s.link(route.TabLink(t.category, current)),
			Active: t.category == p.Category,
		})
	}
	for _, sort := range search.Sorts {
		d.Sorts = append(d.Sorts, view.SortOption{Key: sort.Key, Label: sort.Label, Selected: sort.Key == p.Sort})
	}
	for i, doc := range lv.Items {
		d.Items = append(d.Items, view.Item{
			Doc:    doc,
			Href:   s.link(route.ItemLink(p.Category, doc.Key(), current)),
			Active: i == lv.ActiveIdx,
		})
	}
	if lv.HasMore() && p.CanLoadMore() {
		d.MoreHref = s.link(route.MoreLink(p, current))
	}
	if lv.Err != nil {
		d.ErrMessage = "An error happened while searching: " + preview.ErrorMessage(lv.Err)
	}
	return d
}

// details builds the preview or data pane for the selected item. A held old
// version is shown as is; a search hit is fetched in full for its cells.
func (s *HTTPServer) details(ctx context.Context, p route.Params, current url.Values, lv listing.View, token string) view.Details {
	selected := lv.Selected()
	d := view.Details{
		Doc:        *selected,
		OldVersion: lv.OldVersion != nil,
		Loading:    lv.OldVersionLoading,
	}
	s.fillDetailLinks(&d, p, current)

	if lv.OldVersionErr != nil {
		d.ErrHeading = preview.ErrorHeading
		d.ErrMessage = preview.ErrorMessage(lv.OldVersionErr)
		return d
	}

	d.Data = preview.BuildDataView(selected.AccessGroup, selected.DataObjects, s.cfg.HostRoot)
	if d.View == route.ViewData || d.Loading {
		return d
	}

	doc := *selected
	if !d.OldVersion {
		full, err := s.narratives.FetchNarrative(ctx, selected.Key(), token)
		if err != nil {
			if !errors.Is(err, context.Canceled) {
				logpkg.FromContext(ctx).Warn("fetch narrative", zap.String("upa", selected.Key().String()), zap.Error(err))
			}
			d.ErrHeading = preview.ErrorHeading
			d.ErrMessage = preview.ErrorMessage(err)
			return d
		}
		doc = full
	}
	d.Cells = preview.BuildCells(doc.Cells)
	return d
}

func (s *HTTPServer) fillDetailLinks(d *view.Details, p route.Params, current url.Values) {
	d.View = p.View
	if d.View == "" {
		d.View = route.ViewPreview
	}
	p.ID, p.Obj, p.Ver = d.Doc.AccessGroup, d.Doc.ObjID, d.Doc.Version
	d.PreviewHref = s.link(route.ViewLink(p, route.ViewPreview, current))
	d.DataHref = s.link(route.ViewLink(p, route.ViewData, current))
	d.NarrativeHref = preview.NarrativeLink(s.cfg.ViewRoutes.Narrative, d.Doc.AccessGroup)
}
