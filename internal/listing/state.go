// Package listing owns the narrative list container: search results, the
// selected item and an optional explicitly requested older version.
package listing

import (
	"navigator/internal/narrative"
	"navigator/internal/search"
)

// State is the container state. It only changes through the transition
// methods below, each of which is called with the container lock held.
type State struct {
	ActiveIdx         int
	Items             []narrative.Doc
	Loading           bool
	Pages             int
	SearchParams      search.Query
	TotalItems        int
	OldVersionDoc     *narrative.Doc
	OldVersionLoading bool
	Err               error
	OldVersionErr     error

	searchSeq uint64
	oldSeq    uint64
}

// StartSearch marks a search for q as outstanding and returns its sequence
// number.
func (s *State) StartSearch(q search.Query) uint64 {
	s.searchSeq++
	s.Loading = true
	s.SearchParams = q
	s.Pages = q.PageSize / search.DefaultPageSize
	return s.searchSeq
}

// SearchResolved applies a search result unless a newer search was started.
func (s *State) SearchResolved(seq uint64, result search.Result, requestedID int) bool {
	if seq != s.searchSeq {
		return false
	}
	s.Items = result.Hits
	s.TotalItems = result.Count
	s.ActiveIdx = 0
	s.SelectItem(ResolveSelection(result.Hits, requestedID))
	s.Loading = false
	s.Err = nil
	return true
}

// SearchFailed records err unless a newer search was started. Items from
// the previous search stay visible.
func (s *State) SearchFailed(seq uint64, err error) bool {
	if seq != s.searchSeq {
		return false
	}
	s.Loading = false
	s.Err = err
	return true
}

// SelectItem moves the selection; out of range indexes are ignored. Every
// resolved search selects through it.
func (s *State) SelectItem(idx int) {
	if idx >= 0 && idx < len(s.Items) {
		s.ActiveIdx = idx
	}
}

// StartOldVersion marks an old-version fetch as outstanding. A newer fetch
// supersedes any fetch still in flight.
func (s *State) StartOldVersion() uint64 {
	s.oldSeq++
	s.OldVersionLoading = true
	s.OldVersionErr = nil
	return s.oldSeq
}

// OldVersionResolved holds doc unless the fetch was superseded or cleared.
func (s *State) OldVersionResolved(seq uint64, doc narrative.Doc) bool {
	if seq != s.oldSeq {
		return false
	}
	s.OldVersionDoc = &doc
	s.OldVersionLoading = false
	return true
}

func (s *State) OldVersionFailed(seq uint64, err error) bool {
	if seq != s.oldSeq {
		return false
	}
	s.OldVersionLoading = false
	s.OldVersionErr = err
	return true
}

// ClearOldVersion drops the held document and orphans any fetch in flight.
func (s *State) ClearOldVersion() {
	s.oldSeq++
	s.OldVersionDoc = nil
	s.OldVersionLoading = false
	s.OldVersionErr = nil
}

// ActiveItem returns the selected item, or nil with no results.
func (s *State) ActiveItem() *narrative.Doc {
	if s.ActiveIdx < 0 || s.ActiveIdx >= len(s.Items) {
		return nil
	}
	return &s.Items[s.ActiveIdx]
}

// ResolveSelection returns the index of the only item whose access group is
// id, or 0 when none or several match.
func ResolveSelection(items []narrative.Doc, id int) int {
	found := -1
	for i, item := range items {
		if item.AccessGroup != id {
			continue
		}
		if found >= 0 {
			return 0
		}
		found = i
	}
	if found < 0 {
		return 0
	}
	return found
}
