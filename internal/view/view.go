// Package view renders the dashboard pages from embedded templates.
package view

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"io"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"navigator/internal/header"
	"navigator/internal/narrative"
	"navigator/internal/preview"
)

//go:embed templates/*.html
var templateFS embed.FS

const (
	pageDashboard = "dashboard"
	pageDetails   = "details"
	pageNotFound  = "404"
	pageError     = "500"
)

// Renderer executes the page templates. All links it produces carry the
// configured URL prefix.
type Renderer struct {
	prefix string
	now    func() time.Time
	pages  map[string]*template.Template
}

func New(urlPrefix string) (*Renderer, error) {
	r := &Renderer{prefix: strings.TrimRight(urlPrefix, "/"), now: time.Now}
	funcs := template.FuncMap{
		"relative": r.relative,
		"urlFor":   r.urlFor,
		"plural":   plural,
	}

	r.pages = make(map[string]*template.Template)
	for _, page := range []string{pageDashboard, pageNotFound, pageError} {
		t, err := template.New("layout.html").Funcs(funcs).ParseFS(templateFS,
			"templates/layout.html", "templates/details.html", "templates/"+page+".html")
		if err != nil {
			return nil, fmt.Errorf("parse %s template: %w", page, err)
		}
		r.pages[page] = t
	}
	details, err := template.New("details.html").Funcs(funcs).ParseFS(templateFS, "templates/details.html")
	if err != nil {
		return nil, fmt.Errorf("parse details template: %w", err)
	}
	r.pages[pageDetails] = details
	return r, nil
}

// Tab is one category tab.
type Tab struct {
	Label  string
	Href   string
	Active bool
}

// SortOption is one entry of the sort select.
type SortOption struct {
	Key      string
	Label    string
	Selected bool
}

// Item is one row of the result list.
type Item struct {
	Doc    narrative.Doc
	Href   string
	Active bool
}

// Details is the right-hand pane for the selected narrative.
type Details struct {
	Doc           narrative.Doc
	OldVersion    bool
	Loading       bool
	View          string
	PreviewHref   string
	DataHref      string
	NarrativeHref string
	Cells         preview.Cells
	Data          preview.DataView
	ErrHeading    string
	ErrMessage    string
}

// Dashboard is the data of the narratives page.
type Dashboard struct {
	Header       header.View
	HostRoot     string
	NewHref      string
	SignOutHref  string
	Tabs         []Tab
	Search       string
	Sorts        []SortOption
	FilterAction string
	Items        []Item
	TotalItems   int
	Loading      bool
	RefreshHref  string
	MoreHref     string
	Refresh      bool
	ErrMessage   string
	Details      *Details
}

type page struct {
	Title string
	Data  any
}

func (r *Renderer) Dashboard(w io.Writer, d Dashboard) error {
	return r.execute(w, pageDashboard, "layout.html", page{Title: d.Header.Title, Data: d})
}

// Details renders only the details pane, for fragment requests.
func (r *Renderer) Details(w io.Writer, d Details) error {
	return r.execute(w, pageDetails, "details", d)
}

func (r *Renderer) NotFound(w io.Writer) error {
	return r.execute(w, pageNotFound, "layout.html", page{Title: "Not found"})
}

func (r *Renderer) ServerError(w io.Writer) error {
	return r.execute(w, pageError, "layout.html", page{Title: "Server error"})
}

// execute renders into a buffer first so a template error never leaves a
// half-written page.
func (r *Renderer) execute(w io.Writer, page, name string, data any) error {
	var buf bytes.Buffer
	if err := r.pages[page].ExecuteTemplate(&buf, name, data); err != nil {
		return fmt.Errorf("render %s: %w", page, err)
	}
	_, err := buf.WriteTo(w)
	return err
}

func (r *Renderer) urlFor(path string) string {
	return r.prefix + "/" + strings.TrimLeft(path, "/")
}

func (r *Renderer) relative(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return humanize.RelTime(t, r.now(), "ago", "from now")
}

func plural(n int, singular, pluralForm string) string {
	if n == 1 {
		return singular
	}
	return pluralForm
}
