package search

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"navigator/internal/narrative"
)

// PgFTS implements Searcher using PostgreSQL full-text search over the
// narratives read model. It is the fallback when Meilisearch is down.
type PgFTS struct {
	db *sql.DB
}

func NewPgFTS(db *sql.DB) *PgFTS {
	return &PgFTS{db: db}
}

// Healthy always returns true; a dead database surfaces as a query error.
func (p *PgFTS) Healthy() bool {
	return true
}

func (p *PgFTS) Name() string {
	return "pgfts"
}

const narrativeColumns = `access_group, obj_id, version, narrative_title, obj_name, creator, owner,
	creation_date, timestamp, is_public, is_narratorial, is_temporary,
	shared_users, tags, data_objects, total_cells`

// Search builds a category-filtered query, ranked by the requested sort.
func (p *PgFTS) Search(ctx context.Context, q Query) (Result, error) {
	q = q.Normalize()

	where, args := pgWhere(q)
	order := pgOrder(LookupSort(q.Sort))

	countSQL := "SELECT count(*) FROM narratives WHERE " + where
	var total int
	if err := p.db.QueryRowContext(ctx, countSQL, args...).Scan(&total); err != nil {
		return Result{}, fmt.Errorf("pgfts count: %w", err)
	}

	dataSQL := fmt.Sprintf(`SELECT %s FROM narratives WHERE %s ORDER BY %s LIMIT %d`,
		narrativeColumns, where, order, q.PageSize)
	rows, err := p.db.QueryContext(ctx, dataSQL, args...)
	if err != nil {
		return Result{}, fmt.Errorf("pgfts query: %w", err)
	}
	defer rows.Close()

	hits := make([]narrative.Doc, 0, q.PageSize)
	for rows.Next() {
		doc, err := scanNarrative(rows)
		if err != nil {
			return Result{}, fmt.Errorf("pgfts scan: %w", err)
		}
		hits = append(hits, doc)
	}
	if err := rows.Err(); err != nil {
		return Result{}, fmt.Errorf("pgfts iterate: %w", err)
	}
	return Result{Count: total, Hits: hits}, nil
}

func pgWhere(q Query) (string, []any) {
	conds := []string{"NOT is_temporary"}
	var args []any
	next := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if q.Term != "" {
		conds = append(conds, "fts @@ plainto_tsquery('english', "+next(q.Term)+")")
	}
	switch q.Category {
	case CategoryOwn:
		conds = append(conds, "owner = "+next(q.Username))
	case CategoryShared:
		user := next(q.Username)
		conds = append(conds, "shared_users ? "+user, "owner <> "+user)
	case CategoryTutorials:
		conds = append(conds, "is_narratorial")
	case CategoryPublic:
		conds = append(conds, "is_public")
	}
	return strings.Join(conds, " AND "), args
}

func pgOrder(s Sort) string {
	column := s.Field
	if column == "narrative_title" {
		column = "lower(narrative_title)"
	}
	if s.Desc {
		return column + " DESC, access_group DESC"
	}
	return column + " ASC, access_group ASC"
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanNarrative(row rowScanner) (narrative.Doc, error) {
	var (
		doc                               narrative.Doc
		sharedUsers, tags, dataObjectsRaw []byte
	)
	if err := row.Scan(
		&doc.AccessGroup, &doc.ObjID, &doc.Version, &doc.Title, &doc.ObjName, &doc.Creator, &doc.Owner,
		&doc.CreationDate, &doc.Timestamp, &doc.IsPublic, &doc.IsNarratorial, &doc.IsTemporary,
		&sharedUsers, &tags, &dataObjectsRaw, &doc.TotalCells,
	); err != nil {
		return narrative.Doc{}, err
	}
	if err := unmarshalJSONB(sharedUsers, &doc.SharedUsers); err != nil {
		return narrative.Doc{}, fmt.Errorf("shared_users: %w", err)
	}
	if err := unmarshalJSONB(tags, &doc.Tags); err != nil {
		return narrative.Doc{}, fmt.Errorf("tags: %w", err)
	}
	if err := unmarshalJSONB(dataObjectsRaw, &doc.DataObjects); err != nil {
		return narrative.Doc{}, fmt.Errorf("data_objects: %w", err)
	}
	doc.ModifiedAt = doc.Timestamp
	return doc, nil
}

func unmarshalJSONB(raw []byte, target any) error {
	if len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, target)
}

// LoadAll returns every indexed narrative for a full reindex.
func (p *PgFTS) LoadAll(ctx context.Context) ([]narrative.Doc, error) {
	rows, err := p.db.QueryContext(ctx, "SELECT "+narrativeColumns+" FROM narratives ORDER BY access_group")
	if err != nil {
		return nil, fmt.Errorf("load narratives: %w", err)
	}
	defer rows.Close()

	docs := make([]narrative.Doc, 0)
	for rows.Next() {
		doc, err := scanNarrative(rows)
		if err != nil {
			return nil, fmt.Errorf("scan narrative: %w", err)
		}
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate narratives: %w", err)
	}
	return docs, nil
}

// Ping reports whether the database answers.
func (p *PgFTS) Ping(ctx context.Context) error {
	return p.db.PingContext(ctx)
}
