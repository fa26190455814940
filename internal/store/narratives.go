package store

import (
	"bufio"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"navigator/internal/narrative"
)

// NarrativeStore writes the narratives read model that PgFTS searches.
type NarrativeStore struct {
	db *sql.DB
}

func NewNarrativeStore(db *sql.DB) *NarrativeStore {
	return &NarrativeStore{db: db}
}

func (s *NarrativeStore) DB() *sql.DB {
	return s.db
}

const upsertNarrative = `
	INSERT INTO narratives (
		access_group, obj_id, version, narrative_title, obj_name, creator, owner,
		creation_date, timestamp, is_public, is_narratorial, is_temporary,
		shared_users, tags, data_objects, total_cells, cell_text
	) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)
	ON CONFLICT (access_group) DO UPDATE SET
		obj_id = EXCLUDED.obj_id,
		version = EXCLUDED.version,
		narrative_title = EXCLUDED.narrative_title,
		obj_name = EXCLUDED.obj_name,
		creator = EXCLUDED.creator,
		owner = EXCLUDED.owner,
		creation_date = EXCLUDED.creation_date,
		timestamp = EXCLUDED.timestamp,
		is_public = EXCLUDED.is_public,
		is_narratorial = EXCLUDED.is_narratorial,
		is_temporary = EXCLUDED.is_temporary,
		shared_users = EXCLUDED.shared_users,
		tags = EXCLUDED.tags,
		data_objects = EXCLUDED.data_objects,
		total_cells = EXCLUDED.total_cells,
		cell_text = EXCLUDED.cell_text
	WHERE narratives.version <= EXCLUDED.version
`

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// UpsertNarrative stores doc keyed by its workspace. An older version never
// replaces a newer one.
func (s *NarrativeStore) UpsertNarrative(ctx context.Context, doc narrative.Doc) error {
	return upsert(ctx, s.db, doc)
}

func upsert(ctx context.Context, db execer, doc narrative.Doc) error {
	args, err := narrativeArgs(doc)
	if err != nil {
		return err
	}
	if _, err := db.ExecContext(ctx, upsertNarrative, args...); err != nil {
		return fmt.Errorf("upsert narrative %s: %w", doc.Key(), err)
	}
	return nil
}

func narrativeArgs(doc narrative.Doc) ([]any, error) {
	sharedUsers, err := jsonArray(doc.SharedUsers)
	if err != nil {
		return nil, fmt.Errorf("encode shared_users: %w", err)
	}
	tags, err := jsonArray(doc.Tags)
	if err != nil {
		return nil, fmt.Errorf("encode tags: %w", err)
	}
	dataObjects, err := jsonArray(doc.DataObjects)
	if err != nil {
		return nil, fmt.Errorf("encode data_objects: %w", err)
	}
	totalCells := doc.TotalCells
	if totalCells == 0 {
		totalCells = len(doc.Cells)
	}
	timestamp := doc.Timestamp
	if timestamp == 0 {
		timestamp = doc.ModifiedAt
	}
	return []any{
		doc.AccessGroup, doc.ObjID, doc.Version, doc.Title, doc.ObjName, doc.Creator, doc.Owner,
		doc.CreationDate, timestamp, doc.IsPublic, doc.IsNarratorial, doc.IsTemporary,
		sharedUsers, tags, dataObjects, totalCells, CellText(doc.Cells),
	}, nil
}

// jsonArray encodes a slice for a jsonb column; nil becomes [].
func jsonArray[T any](v []T) (string, error) {
	if v == nil {
		return "[]", nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

// CellText is the searchable text of a narrative's cells.
func CellText(cells []narrative.Cell) string {
	var parts []string
	for _, cell := range cells {
		if kb := cell.Metadata.KBase; kb != nil {
			if kb.Attributes.Title != "" {
				parts = append(parts, kb.Attributes.Title)
			}
			if kb.Attributes.Subtitle != "" {
				parts = append(parts, kb.Attributes.Subtitle)
			}
		}
		if cell.CellType == "markdown" && cell.Source != "" {
			parts = append(parts, string(cell.Source))
		}
	}
	return strings.Join(parts, "\n")
}

// Import reads newline-delimited narrative documents from r and upserts them
// in one transaction. Blank lines are skipped.
func (s *NarrativeStore) Import(ctx context.Context, r io.Reader) (int, error) {
	docs, err := DecodeDocs(r)
	if err != nil {
		return 0, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin import tx: %w", err)
	}
	for _, doc := range docs {
		if err := upsert(ctx, tx, doc); err != nil {
			_ = tx.Rollback()
			return 0, err
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit import: %w", err)
	}
	return len(docs), nil
}

var ErrInvalidDoc = errors.New("invalid narrative document")

// DecodeDocs parses newline-delimited JSON documents. Every document needs a
// positive access group.
func DecodeDocs(r io.Reader) ([]narrative.Doc, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	var docs []narrative.Doc
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}
		var doc narrative.Doc
		if err := json.Unmarshal([]byte(text), &doc); err != nil {
			return nil, fmt.Errorf("line %d: %w: %v", line, ErrInvalidDoc, err)
		}
		if doc.AccessGroup <= 0 {
			return nil, fmt.Errorf("line %d: %w: missing access_group", line, ErrInvalidDoc)
		}
		docs = append(docs, doc)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read documents: %w", err)
	}
	return docs, nil
}
