package listing

import "navigator/internal/narrative"

// Action is the outcome of reconciling the requested version with the
// selected item.
type Action int

const (
	ActionNone Action = iota
	ActionFetchOld
	ActionDiscard
	ActionDiscardAndResearch
)

func (a Action) String() string {
	switch a {
	case ActionFetchOld:
		return "fetch-old"
	case ActionDiscard:
		return "discard"
	case ActionDiscardAndResearch:
		return "discard-and-research"
	default:
		return "none"
	}
}

// Decide reconciles the requested version ver with the indexed version of
// the selected item and the currently held old-version document.
//
// A held document survives only while ver stays strictly older than
// activeVersion. A requested version newer than the index means the result
// list itself is stale and has to be searched again.
func Decide(ver, activeVersion int, oldDoc *narrative.Doc) Action {
	if oldDoc == nil {
		if activeVersion > ver && ver > 0 {
			return ActionFetchOld
		}
		return ActionNone
	}
	if oldDoc.Version == ver {
		return ActionNone
	}
	if ver >= activeVersion {
		if ver > activeVersion {
			return ActionDiscardAndResearch
		}
		return ActionDiscard
	}
	return ActionFetchOld
}
