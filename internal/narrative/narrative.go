// Package narrative holds the document summary shared by search, fetch and
// rendering.
package narrative

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Doc is a narrative summary as returned by search, or a full document when
// it comes from the workspace service (Cells populated).
type Doc struct {
	AccessGroup    int          `json:"access_group"`
	ObjID          int          `json:"obj_id"`
	Version        int          `json:"version"`
	Title          string       `json:"narrative_title"`
	ObjName        string       `json:"obj_name"`
	ObjTypeModule  string       `json:"obj_type_module"`
	ObjTypeVersion string       `json:"obj_type_version"`
	Creator        string       `json:"creator"`
	Owner          string       `json:"owner"`
	CreationDate   string       `json:"creation_date"`
	Timestamp      int64        `json:"timestamp"`
	ModifiedAt     int64        `json:"modified_at"`
	IsPublic       bool         `json:"is_public"`
	IsNarratorial  bool         `json:"is_narratorial"`
	IsTemporary    bool         `json:"is_temporary"`
	Copied         *string      `json:"copied"`
	SharedUsers    []string     `json:"shared_users"`
	Tags           []string     `json:"tags"`
	DataObjects    []DataObject `json:"data_objects"`
	Cells          []Cell       `json:"cells"`
	TotalCells     int          `json:"total_cells"`
}

// Key returns the composite workspace/object/version key of the document.
func (d Doc) Key() Key {
	return Key{ID: d.AccessGroup, Obj: d.ObjID, Ver: d.Version}
}

// UpdatedAt is the last-saved time, falling back to the index timestamp.
func (d Doc) UpdatedAt() time.Time {
	ms := d.ModifiedAt
	if ms == 0 {
		ms = d.Timestamp
	}
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}

// CreatedAt parses CreationDate; zero when absent or malformed.
func (d Doc) CreatedAt() time.Time {
	if d.CreationDate == "" {
		return time.Time{}
	}
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05-0700", "2006-01-02T15:04:05Z0700"} {
		if t, err := time.Parse(layout, d.CreationDate); err == nil {
			return t
		}
	}
	return time.Time{}
}

// DataObject is a reference to a workspace object attached to a narrative.
type DataObject struct {
	Name    string `json:"name"`
	ObjType string `json:"obj_type"`
}

// Cell is a Jupyter notebook cell with optional KBase metadata.
type Cell struct {
	CellType string       `json:"cell_type"`
	Source   Source       `json:"source"`
	Metadata CellMetadata `json:"metadata"`
}

type CellMetadata struct {
	KBase *KBaseCellMeta `json:"kbase,omitempty"`
}

type KBaseCellMeta struct {
	Type       string         `json:"type"`
	Attributes CellAttributes `json:"attributes"`
	AppCell    *AppCellMeta   `json:"appCell,omitempty"`
	DataCell   *DataCellMeta  `json:"dataCell,omitempty"`
}

type CellAttributes struct {
	Title    string `json:"title"`
	Subtitle string `json:"subtitle"`
}

type AppCellMeta struct {
	App struct {
		ID  string `json:"id"`
		Tag string `json:"tag"`
	} `json:"app"`
}

type DataCellMeta struct {
	ObjectInfo struct {
		TypeName string `json:"typeName"`
		Type     string `json:"type"`
	} `json:"objectInfo"`
}

// Source is notebook cell source, which may be serialized as a string or a
// list of lines.
type Source string

func (s *Source) UnmarshalJSON(data []byte) error {
	var single string
	if err := json.Unmarshal(data, &single); err == nil {
		*s = Source(single)
		return nil
	}
	var lines []string
	if err := json.Unmarshal(data, &lines); err != nil {
		return fmt.Errorf("cell source: %w", err)
	}
	*s = Source(strings.Join(lines, ""))
	return nil
}

// Key identifies one version of a workspace object ("UPA").
type Key struct {
	ID  int
	Obj int
	Ver int
}

var ErrInvalidKey = errors.New("invalid narrative key")

func (k Key) String() string {
	return fmt.Sprintf("%d/%d/%d", k.ID, k.Obj, k.Ver)
}

// IsZero reports whether no item is addressed.
func (k Key) IsZero() bool {
	return k.ID == 0 && k.Obj == 0 && k.Ver == 0
}

// ParseKey parses "id/obj/ver".
func ParseKey(raw string) (Key, error) {
	parts := strings.Split(strings.Trim(raw, "/"), "/")
	if len(parts) != 3 {
		return Key{}, fmt.Errorf("%w: %q", ErrInvalidKey, raw)
	}
	values := make([]int, 3)
	for i, part := range parts {
		n, err := strconv.Atoi(part)
		if err != nil || n < 0 {
			return Key{}, fmt.Errorf("%w: %q", ErrInvalidKey, raw)
		}
		values[i] = n
	}
	return Key{ID: values[0], Obj: values[1], Ver: values[2]}, nil
}

// ApplyObjectIDShim sets the object id of a document fetched by explicit
// version. The workspace fetch path does not report obj_id for narrative
// payloads, so the requested id is written back. Returns true when the
// document was patched.
func ApplyObjectIDShim(doc *Doc, requestedObj int) bool {
	if doc == nil || doc.ObjID == requestedObj {
		return false
	}
	doc.ObjID = requestedObj
	return true
}

// ReadableType turns a workspace type string such as
// "KBaseGenomes.Genome-8.2" into "Genome".
func ReadableType(objType string) string {
	name, _, _ := strings.Cut(objType, "-")
	if i := strings.LastIndex(name, "."); i >= 0 {
		name = name[i+1:]
	}
	return name
}
