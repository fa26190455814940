package preview

import (
	"fmt"
	"sort"
	"strings"

	"golang.org/x/text/collate"
	"golang.org/x/text/language"

	"navigator/internal/narrative"
)

const (
	MaxDataObjects = 50

	NoDataMessage = "This Narrative has no data."
)

// DataRow is one object in the data listing.
type DataRow struct {
	Name         string
	ObjType      string
	ReadableType string
	Href         string
	IconClass    string
}

// DataView lists the data objects of a narrative.
type DataView struct {
	Rows  []DataRow
	Empty string
}

// BuildDataView takes the first MaxDataObjects objects and sorts them by
// readable type name. Each links to the data viewer under hostRoot.
func BuildDataView(accessGroup int, objects []narrative.DataObject, hostRoot string) DataView {
	if len(objects) > MaxDataObjects {
		objects = objects[:MaxDataObjects]
	}
	if len(objects) == 0 {
		return DataView{Rows: []DataRow{}, Empty: NoDataMessage}
	}

	rows := make([]DataRow, 0, len(objects))
	for _, obj := range objects {
		rows = append(rows, DataRow{
			Name:         obj.Name,
			ObjType:      obj.ObjType,
			ReadableType: narrative.ReadableType(obj.ObjType),
			Href:         fmt.Sprintf("%s/#dataview/%d/%s", strings.TrimRight(hostRoot, "/"), accessGroup, obj.Name),
			IconClass:    "fa fa-database",
		})
	}

	col := collate.New(language.English)
	sort.SliceStable(rows, func(i, j int) bool {
		return col.CompareString(rows[i].ReadableType, rows[j].ReadableType) < 0
	})
	return DataView{Rows: rows}
}
