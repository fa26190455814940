// Package route maps dashboard URLs to page parameters and back.
package route

import (
	"errors"
	"net/url"
	"strconv"
	"strings"

	"navigator/internal/narrative"
	"navigator/internal/search"
)

const (
	ViewPreview = "preview"
	ViewData    = "data"
)

var ErrNotFound = errors.New("no such page")

// Params are the page parameters carried in a dashboard URL.
type Params struct {
	Category search.Category
	ID       int
	Obj      int
	Ver      int
	Search   string
	Sort     string
	Limit    int
	View     string
	Refresh  bool
}

// Key is the selected item, zero when nothing is addressed.
func (p Params) Key() narrative.Key {
	return narrative.Key{ID: p.ID, Obj: p.Obj, Ver: p.Ver}
}

// PageSize is the requested limit or the default page size, never more
// than search.MaxPageSize.
func (p Params) PageSize() int {
	switch {
	case p.Limit <= 0:
		return search.DefaultPageSize
	case p.Limit > search.MaxPageSize:
		return search.MaxPageSize
	}
	return p.Limit
}

// CanLoadMore reports whether MoreLink would grow the page.
func (p Params) CanLoadMore() bool {
	return p.PageSize() < search.MaxPageSize
}

// ParseParams reads "/[category/][id/obj/ver]" plus the query string.
// The path must already have the URL prefix removed.
func ParseParams(path string, query url.Values) (Params, error) {
	p := Params{Category: search.CategoryOwn, View: ViewPreview}

	segments := splitPath(path)
	if len(segments) > 0 {
		switch search.Category(segments[0]) {
		case search.CategoryShared, search.CategoryTutorials, search.CategoryPublic:
			p.Category = search.Category(segments[0])
			segments = segments[1:]
		}
	}
	switch len(segments) {
	case 0:
	case 3:
		key, err := narrative.ParseKey(strings.Join(segments, "/"))
		if err != nil {
			return Params{}, ErrNotFound
		}
		p.ID, p.Obj, p.Ver = key.ID, key.Obj, key.Ver
	default:
		return Params{}, ErrNotFound
	}

	p.Search = strings.TrimSpace(query.Get("search"))
	p.Sort = search.LookupSort(query.Get("sort")).Key
	if n, err := strconv.Atoi(query.Get("limit")); err == nil && n > 0 {
		p.Limit = min(n, search.MaxPageSize)
	}
	if query.Get("view") == ViewData {
		p.View = ViewData
	}
	switch strings.ToLower(query.Get("refresh")) {
	case "1", "true", "yes":
		p.Refresh = true
	}
	return p, nil
}

func splitPath(path string) []string {
	var out []string
	for _, s := range strings.Split(path, "/") {
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}

// CategoryPath is the tab root of c.
func CategoryPath(c search.Category) string {
	if c == search.CategoryOwn || c == "" {
		return "/"
	}
	return "/" + string(c) + "/"
}

// KeepParamsLinkTo returns link with only the keep parameters copied over
// from current. Empty values are dropped.
func KeepParamsLinkTo(keep []string, link string, current url.Values) string {
	kept := url.Values{}
	for _, name := range keep {
		if v := current.Get(name); v != "" {
			kept.Set(name, v)
		}
	}
	if len(kept) == 0 {
		return link
	}
	return link + "?" + kept.Encode()
}

// TabLink is the link for a category tab, keeping sort and search.
func TabLink(c search.Category, current url.Values) string {
	return KeepParamsLinkTo([]string{"sort", "search"}, CategoryPath(c), current)
}

// ItemLink selects key within category c.
func ItemLink(c search.Category, key narrative.Key, current url.Values) string {
	return KeepParamsLinkTo([]string{"sort", "search", "limit", "view"}, CategoryPath(c)+key.String(), current)
}

// ViewLink switches the details pane of the current page to view.
func ViewLink(p Params, view string, current url.Values) string {
	q := cloneValues(current)
	if view == ViewPreview {
		q.Del("view")
	} else {
		q.Set("view", view)
	}
	q.Del("refresh")
	return withQuery(pagePath(p), q)
}

// MoreLink loads one more page of results on the current page.
func MoreLink(p Params, current url.Values) string {
	q := cloneValues(current)
	q.Set("limit", strconv.Itoa(min(p.PageSize()+search.DefaultPageSize, search.MaxPageSize)))
	q.Del("refresh")
	return withQuery(pagePath(p), q)
}

// RefreshLink re-runs the current search bypassing the result cache.
func RefreshLink(p Params, current url.Values) string {
	q := cloneValues(current)
	q.Set("refresh", "1")
	return withQuery(pagePath(p), q)
}

func pagePath(p Params) string {
	path := CategoryPath(p.Category)
	if !p.Key().IsZero() {
		path += p.Key().String()
	}
	return path
}

func cloneValues(v url.Values) url.Values {
	out := url.Values{}
	for k, vs := range v {
		out[k] = append([]string(nil), vs...)
	}
	return out
}

func withQuery(path string, q url.Values) string {
	if len(q) == 0 {
		return path
	}
	return path + "?" + q.Encode()
}
