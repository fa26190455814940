// Package preview turns narrative documents into the rows shown in the
// details pane: a cell preview and a data object listing.
package preview

import (
	"bytes"
	"errors"
	"fmt"
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
	"github.com/yuin/goldmark"

	"navigator/internal/jsonrpc"
	"navigator/internal/narrative"
)

const (
	MaxCells = 16

	ErrorHeading = "An error happened while getting narrative info:"
)

var (
	markdown = goldmark.New()
	strict   = bluemonday.StrictPolicy()
)

// Row is one previewed cell.
type Row struct {
	Title     string
	Subtitle  string
	CellType  string
	MetaName  string
	Tag       string
	IconClass string
}

// Cells is the cell preview of a narrative.
type Cells struct {
	Rows []Row
	More int
}

// MoreText is the footer for cells beyond the cap, or "".
func (c Cells) MoreText() string {
	if c.More <= 0 {
		return ""
	}
	if c.More == 1 {
		return "+ 1 more cell"
	}
	return fmt.Sprintf("+ %d more cells", c.More)
}

// BuildCells previews at most MaxCells cells.
func BuildCells(cells []narrative.Cell) Cells {
	n := len(cells)
	if n > MaxCells {
		n = MaxCells
	}
	out := Cells{Rows: make([]Row, 0, n), More: len(cells) - n}
	for _, cell := range cells[:n] {
		out.Rows = append(out.Rows, buildRow(cell))
	}
	return out
}

func buildRow(cell narrative.Cell) Row {
	var (
		meta     narrative.KBaseCellMeta
		title    string
		subtitle = string(cell.Source)
	)
	if cell.Metadata.KBase != nil {
		meta = *cell.Metadata.KBase
		title = meta.Attributes.Title
		if meta.Attributes.Subtitle != "" {
			subtitle = meta.Attributes.Subtitle
		}
	}

	cellType := cell.CellType
	if meta.Type != "" {
		cellType = meta.Type
	}

	row := Row{Title: title, CellType: cellType}
	switch cellType {
	case "app":
		if meta.AppCell != nil {
			row.MetaName = meta.AppCell.App.ID
			row.Tag = meta.AppCell.App.Tag
		}
	case "data":
		if meta.DataCell != nil {
			row.MetaName = meta.DataCell.ObjectInfo.TypeName
			if row.MetaName == "" {
				row.MetaName = meta.DataCell.ObjectInfo.Type
			}
		}
	}
	if row.Tag == "" {
		row.Tag = "dev"
	}
	row.Subtitle = Subtitle(title, subtitle)
	row.IconClass = iconClass(cellType)
	return row
}

// Subtitle renders raw markdown to plain text with every tag removed. A
// leading copy of title is dropped.
func Subtitle(title, raw string) string {
	var buf bytes.Buffer
	if err := markdown.Convert([]byte(raw), &buf); err != nil {
		buf.Reset()
		buf.WriteString(raw)
	}
	text := plainText(buf.String())
	text = strings.TrimSpace(text)
	if title != "" && strings.HasPrefix(text, title) {
		text = strings.TrimSpace(text[len(title):])
	}
	return text
}

// maxTextPasses bounds how many layers of escaped markup plainText peels.
const maxTextPasses = 8

// plainText strips tags and decodes entities until the text stops changing,
// so escaped markup in the source cannot come back as a tag. Text that is
// still changing after maxTextPasses is returned sanitized but escaped.
func plainText(s string) string {
	for i := 0; i < maxTextPasses; i++ {
		next := html.UnescapeString(strict.Sanitize(s))
		if next == s {
			return s
		}
		s = next
	}
	return strict.Sanitize(s)
}

func iconClass(cellType string) string {
	switch cellType {
	case "app":
		return "fa fa-cube"
	case "data":
		return "fa fa-database"
	case "markdown":
		return "fa fa-paragraph"
	case "code":
		return "fa fa-code"
	default:
		return "fa fa-file-o"
	}
}

// ErrorMessage is the text shown under ErrorHeading. Service errors show the
// server message.
func ErrorMessage(err error) string {
	if err == nil {
		return ""
	}
	var rpcErr *jsonrpc.Error
	if errors.As(err, &rpcErr) {
		return rpcErr.Message
	}
	return err.Error()
}

// NarrativeLink opens the full narrative in the narrative interface.
func NarrativeLink(viewRoute string, wsid int) string {
	return fmt.Sprintf("%s/%d", strings.TrimRight(viewRoute, "/"), wsid)
}
