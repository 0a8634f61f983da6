package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

var ErrNotFound = errors.New("document not found")

// Fixed-width UTC timestamps so created_at sorts lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

const schema = `
CREATE TABLE IF NOT EXISTS documents (
	collection TEXT NOT NULL,
	id         TEXT NOT NULL,
	body       TEXT NOT NULL CHECK (json_valid(body)),
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL,
	PRIMARY KEY (collection, id)
);
CREATE INDEX IF NOT EXISTS idx_documents_created ON documents(collection, created_at);
`

// Store is a small JSON document store: one row per (collection, id).
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Open creates or opens the database at path and applies the schema.
func Open(path string) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_busy_timeout=5000&_journal_mode=WAL&_txlock=immediate", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, err
	}
	// One connection serialises writers; the append transactions rely on it.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, err
	}

	// Migration: student lookups index on the JSON body.
	var idxCount int
	_ = db.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE type = 'index' AND name = 'idx_documents_student'`).Scan(&idxCount)
	if idxCount == 0 {
		if _, err := db.Exec(`CREATE INDEX idx_documents_student ON documents(collection, json_extract(body, '$.studentId'))`); err != nil {
			_ = db.Close()
			return nil, err
		}
	}

	return &Store{db: db, now: time.Now}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) stamp() string {
	return s.now().UTC().Format(timeLayout)
}

// Get decodes the document into v.
func (s *Store) Get(ctx context.Context, collection, id string, v any) error {
	var body string
	err := s.db.QueryRowContext(ctx,
		`SELECT body FROM documents WHERE collection = ? AND id = ?`, collection, id,
	).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	return json.Unmarshal([]byte(body), v)
}

// Set writes the whole document, creating it if needed.
func (s *Store) Set(ctx context.Context, collection, id string, v any) error {
	body, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s/%s: %w", collection, id, err)
	}
	now := s.stamp()
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO documents (collection, id, body, created_at, updated_at) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(collection, id) DO UPDATE SET body = excluded.body, updated_at = excluded.updated_at`,
		collection, id, string(body), now, now,
	)
	return err
}

// Merge overwrites the given top-level fields of an existing document.
func (s *Store) Merge(ctx context.Context, collection, id string, fields map[string]any) error {
	return s.update(ctx, collection, id, nil, func(doc map[string]json.RawMessage) error {
		for k, v := range fields {
			raw, err := json.Marshal(v)
			if err != nil {
				return fmt.Errorf("marshal field %s: %w", k, err)
			}
			doc[k] = raw
		}
		return nil
	})
}

// AppendToArray atomically appends value to the array field of an existing
// document and returns the new array length.
func (s *Store) AppendToArray(ctx context.Context, collection, id, field string, value any) (int, error) {
	return s.appendTx(ctx, collection, id, field, nil, func(int) (any, error) { return value, nil })
}

// appendTx appends build(len) to field inside one transaction. With a non-nil
// seed a missing document is created from it first.
func (s *Store) appendTx(ctx context.Context, collection, id, field string, seed any, build func(n int) (any, error)) (int, error) {
	var length int
	err := s.update(ctx, collection, id, seed, func(doc map[string]json.RawMessage) error {
		var arr []json.RawMessage
		if raw, ok := doc[field]; ok && string(raw) != "null" {
			if err := json.Unmarshal(raw, &arr); err != nil {
				return fmt.Errorf("field %s is not an array: %w", field, err)
			}
		}
		value, err := build(len(arr))
		if err != nil {
			return err
		}
		item, err := json.Marshal(value)
		if err != nil {
			return fmt.Errorf("marshal %s item: %w", field, err)
		}
		arr = append(arr, item)
		raw, err := json.Marshal(arr)
		if err != nil {
			return err
		}
		doc[field] = raw
		length = len(arr)
		return nil
	})
	return length, err
}

// update runs a read-modify-write of one document in a transaction.
func (s *Store) update(ctx context.Context, collection, id string, seed any, mutate func(doc map[string]json.RawMessage) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	now := s.stamp()
	var body string
	exists := true
	err = tx.QueryRowContext(ctx,
		`SELECT body FROM documents WHERE collection = ? AND id = ?`, collection, id,
	).Scan(&body)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		if seed == nil {
			return ErrNotFound
		}
		seedBody, err := json.Marshal(seed)
		if err != nil {
			return fmt.Errorf("marshal seed: %w", err)
		}
		body = string(seedBody)
		exists = false
	case err != nil:
		return err
	}

	doc := map[string]json.RawMessage{}
	if err := json.Unmarshal([]byte(body), &doc); err != nil {
		return fmt.Errorf("decode %s/%s: %w", collection, id, err)
	}
	if err := mutate(doc); err != nil {
		return err
	}
	updated, err := json.Marshal(doc)
	if err != nil {
		return err
	}

	if exists {
		_, err = tx.ExecContext(ctx,
			`UPDATE documents SET body = ?, updated_at = ? WHERE collection = ? AND id = ?`,
			string(updated), now, collection, id,
		)
	} else {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO documents (collection, id, body, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
			collection, id, string(updated), now, now,
		)
	}
	if err != nil {
		return err
	}
	return tx.Commit()
}

func (s *Store) Delete(ctx context.Context, collection, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM documents WHERE collection = ? AND id = ?`, collection, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// Filter is an equality test on a top-level JSON field.
type Filter struct {
	Field string
	Value any
}

// Query selects documents of one collection. OrderBy names a JSON field;
// empty orders by creation time.
type Query struct {
	Filters []Filter
	OrderBy string
	Desc    bool
	Limit   int
}

func (s *Store) Query(ctx context.Context, collection string, q Query) ([]json.RawMessage, error) {
	var sb strings.Builder
	args := []any{collection}
	sb.WriteString(`SELECT body FROM documents WHERE collection = ?`)
	for _, f := range q.Filters {
		sb.WriteString(` AND json_extract(body, ?) = ?`)
		args = append(args, "$."+f.Field, f.Value)
	}

	dir := "ASC"
	if q.Desc {
		dir = "DESC"
	}
	if q.OrderBy == "" {
		sb.WriteString(` ORDER BY created_at ` + dir + `, rowid ` + dir)
	} else {
		sb.WriteString(` ORDER BY json_extract(body, ?) ` + dir + `, created_at ` + dir)
		args = append(args, "$."+q.OrderBy)
	}
	if q.Limit > 0 {
		sb.WriteString(` LIMIT ?`)
		args = append(args, q.Limit)
	}

	rows, err := s.db.QueryContext(ctx, sb.String(), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []json.RawMessage
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, err
		}
		out = append(out, json.RawMessage(body))
	}
	return out, rows.Err()
}

// Provider owns the process-lifetime Store. The first caller opens it; later
// and concurrent callers get the same handle.
type Provider struct {
	path  string
	mu    sync.Mutex
	store *Store
}

func NewProvider(path string) *Provider {
	return &Provider{path: path}
}

func (p *Provider) Store() (*Store, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.store != nil {
		return p.store, nil
	}
	store, err := Open(p.path)
	if err != nil {
		return nil, fmt.Errorf("open store %s: %w", p.path, err)
	}
	p.store = store
	return store, nil
}

func (p *Provider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.store == nil {
		return nil
	}
	err := p.store.Close()
	p.store = nil
	return err
}
