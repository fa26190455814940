package search

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"navigator/internal/narrative"
)

// Category selects which narratives a listing shows relative to the user.
type Category string

const (
	CategoryOwn       Category = "own"
	CategoryShared    Category = "shared"
	CategoryTutorials Category = "tutorials"
	CategoryPublic    Category = "public"
)

// ParseCategory maps a path segment to a category; anything unknown is "own".
func ParseCategory(raw string) Category {
	switch Category(strings.ToLower(strings.TrimSpace(raw))) {
	case CategoryShared:
		return CategoryShared
	case CategoryTutorials:
		return CategoryTutorials
	case CategoryPublic:
		return CategoryPublic
	default:
		return CategoryOwn
	}
}

// Sort is a user-selectable ordering of search results.
type Sort struct {
	Key   string
	Label string
	Field string
	Desc  bool
}

const DefaultSort = "-updated"

// Sorts lists the orderings in the order they are offered in the UI.
var Sorts = []Sort{
	{Key: "-updated", Label: "Recently updated", Field: "timestamp", Desc: true},
	{Key: "updated", Label: "Least recently updated", Field: "timestamp"},
	{Key: "-created", Label: "Recently created", Field: "creation_date", Desc: true},
	{Key: "created", Label: "Oldest", Field: "creation_date"},
	{Key: "lex", Label: "Lexicographic (A-Za-z)", Field: "narrative_title"},
	{Key: "-lex", Label: "Reverse Lexicographic", Field: "narrative_title", Desc: true},
}

// LookupSort returns the sort for key, or the default sort.
func LookupSort(key string) Sort {
	for _, s := range Sorts {
		if s.Key == key {
			return s
		}
	}
	return Sorts[0]
}

const (
	DefaultPageSize = 20
	// MaxPageSize caps how many results one query may ask for.
	MaxPageSize = 1000
)

// Query describes a narrative search.
type Query struct {
	Term     string
	Sort     string
	Category Category
	PageSize int
	Username string
}

// Normalize fills defaults so equivalent queries share a signature.
func (q Query) Normalize() Query {
	q.Term = strings.TrimSpace(q.Term)
	q.Sort = LookupSort(q.Sort).Key
	q.Category = ParseCategory(string(q.Category))
	switch {
	case q.PageSize <= 0:
		q.PageSize = DefaultPageSize
	case q.PageSize > MaxPageSize:
		q.PageSize = MaxPageSize
	}
	return q
}

// Signature is the result cache key. Username is excluded because caches are
// scoped to one page session.
func (q Query) Signature() string {
	q = q.Normalize()
	return fmt.Sprintf("%s|%s|%s|%d", q.Category, q.Sort, q.Term, q.PageSize)
}

// Result is one page of narrative summaries.
type Result struct {
	Count int             `json:"count"`
	Hits  []narrative.Doc `json:"hits"`
}

// Searcher can execute a narrative search.
type Searcher interface {
	Search(ctx context.Context, q Query) (Result, error)
	Healthy() bool
	Name() string
}

// Cache is the per-session result cache the service populates.
type Cache interface {
	Get(ctx context.Context, key string) (Result, bool)
	Put(ctx context.Context, key string, result Result)
	Reset(ctx context.Context)
}

var ErrUnavailable = errors.New("search backend unavailable")
