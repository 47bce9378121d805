// Package sqlite is a single-file vector index on top of modernc.org/sqlite.
//
// Entries are scanned exactly on every search, which keeps results exact
// and deterministic at the cost of linear query time. It suits corpora of
// up to a few hundred thousand chunks.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite" // SQLite driver

	"docqa/src/core/rag"
)

const schema = `
CREATE TABLE IF NOT EXISTS spaces (
	name       TEXT PRIMARY KEY,
	model      TEXT NOT NULL,
	dimensions INTEGER NOT NULL DEFAULT 0,
	created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE TABLE IF NOT EXISTS entries (
	seq         INTEGER PRIMARY KEY AUTOINCREMENT,
	space       TEXT NOT NULL REFERENCES spaces(name),
	document_id TEXT NOT NULL,
	page        INTEGER,
	text        TEXT NOT NULL,
	vector      BLOB NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_entries_space_document ON entries(space, document_id);
`

// Index stores the entries of one embedding space.
type Index struct {
	db    *sql.DB
	path  string
	space string
	model string
}

// Open opens (or creates) the index file at path for the embedding space
// of model. It fails with rag.ErrEmbeddingSpaceMismatch when the space was
// created by a different model.
func Open(ctx context.Context, path, model string) (*Index, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create index directory: %w", err)
		}
	}

	// WAL lets readers proceed while a batch is being written; immediate
	// transactions make concurrent writers queue on busy_timeout instead of
	// failing on lock upgrade.
	dsn := path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)&_txlock=immediate"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open index: %w", err)
	}

	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create index schema: %w", err)
	}

	idx := &Index{db: db, path: path, space: rag.SpaceName(model), model: model}
	if err := idx.ensureSpace(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return idx, nil
}

func (i *Index) Close() error {
	return i.db.Close()
}

// Space returns the name of the embedding space this index serves.
func (i *Index) Space() string {
	return i.space
}

func (i *Index) ensureSpace(ctx context.Context) error {
	if _, err := i.db.ExecContext(ctx,
		`INSERT INTO spaces (name, model) VALUES (?, ?) ON CONFLICT(name) DO NOTHING`,
		i.space, i.model,
	); err != nil {
		return fmt.Errorf("failed to register embedding space: %w", err)
	}

	var stored string
	if err := i.db.QueryRowContext(ctx, `SELECT model FROM spaces WHERE name = ?`, i.space).Scan(&stored); err != nil {
		return fmt.Errorf("failed to read embedding space: %w", err)
	}
	if stored != i.model {
		return fmt.Errorf("%w: index space %s was built with model %q, not %q", rag.ErrEmbeddingSpaceMismatch, i.space, stored, i.model)
	}
	return nil
}

// Add appends entries in a single transaction.
func (i *Index) Add(ctx context.Context, entries []rag.Entry) error {
	return i.write(ctx, "", entries)
}

// ReplaceDocument deletes every entry of documentID and adds entries, in a
// single transaction.
func (i *Index) ReplaceDocument(ctx context.Context, documentID string, entries []rag.Entry) error {
	for _, e := range entries {
		if e.Metadata.DocumentID != documentID {
			return fmt.Errorf("entry belongs to %q, not %q", e.Metadata.DocumentID, documentID)
		}
	}
	return i.write(ctx, documentID, entries)
}

func (i *Index) write(ctx context.Context, replace string, entries []rag.Entry) (err error) {
	tx, err := i.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if len(entries) > 0 {
		if err := i.checkDimensions(ctx, tx, len(entries[0].Vector)); err != nil {
			return err
		}
	}

	if replace != "" {
		if _, err := tx.ExecContext(ctx, `DELETE FROM entries WHERE space = ? AND document_id = ?`, i.space, replace); err != nil {
			return fmt.Errorf("failed to delete previous entries: %w", err)
		}
	}

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO entries (space, document_id, page, text, vector) VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	dims := 0
	if len(entries) > 0 {
		dims = len(entries[0].Vector)
	}
	for n, e := range entries {
		if len(e.Vector) != dims {
			return fmt.Errorf("%w: entry %d has %d dimensions, want %d", rag.ErrEmbeddingSpaceMismatch, n, len(e.Vector), dims)
		}
		var page sql.NullInt64
		if e.Metadata.Page != nil {
			page = sql.NullInt64{Int64: int64(*e.Metadata.Page), Valid: true}
		}
		if _, err := stmt.ExecContext(ctx, i.space, e.Metadata.DocumentID, page, e.Text, encodeVector(e.Vector)); err != nil {
			return fmt.Errorf("failed to insert entry: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit entries: %w", err)
	}
	return nil
}

// checkDimensions records the vector dimension on first write and rejects
// vectors of any other size afterwards.
func (i *Index) checkDimensions(ctx context.Context, tx *sql.Tx, dims int) error {
	if dims == 0 {
		return fmt.Errorf("%w: empty vector", rag.ErrEmbeddingSpaceMismatch)
	}

	var stored int
	if err := tx.QueryRowContext(ctx, `SELECT dimensions FROM spaces WHERE name = ?`, i.space).Scan(&stored); err != nil {
		return fmt.Errorf("failed to read embedding space: %w", err)
	}
	switch {
	case stored == 0:
		if _, err := tx.ExecContext(ctx, `UPDATE spaces SET dimensions = ? WHERE name = ?`, dims, i.space); err != nil {
			return fmt.Errorf("failed to record dimensions: %w", err)
		}
	case stored != dims:
		return fmt.Errorf("%w: space %s stores %d dimensions, got %d", rag.ErrEmbeddingSpaceMismatch, i.space, stored, dims)
	}
	return nil
}

// Search returns the k entries closest to vector by cosine distance.
func (i *Index) Search(ctx context.Context, vector []float32, k int) ([]rag.SearchResult, error) {
	if k <= 0 {
		return nil, nil
	}

	rows, err := i.db.QueryContext(ctx,
		`SELECT seq, document_id, page, text, vector FROM entries WHERE space = ? ORDER BY seq`, i.space)
	if err != nil {
		return nil, fmt.Errorf("failed to query entries: %w", err)
	}
	defer rows.Close()

	var results []rag.SearchResult
	for rows.Next() {
		var (
			r    rag.SearchResult
			page sql.NullInt64
			blob []byte
		)
		if err := rows.Scan(&r.Seq, &r.Metadata.DocumentID, &page, &r.Text, &blob); err != nil {
			return nil, fmt.Errorf("failed to scan entry: %w", err)
		}
		if page.Valid {
			r.Metadata.Page = rag.PageNumber(int(page.Int64))
		}

		stored, err := decodeVector(blob)
		if err != nil {
			return nil, fmt.Errorf("entry %d: %w", r.Seq, err)
		}
		if len(stored) != len(vector) {
			return nil, fmt.Errorf("%w: query has %d dimensions, index has %d", rag.ErrEmbeddingSpaceMismatch, len(vector), len(stored))
		}
		r.Distance = CosineDistance(vector, stored)
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read entries: %w", err)
	}

	rag.SortResults(results)
	if len(results) > k {
		results = results[:k]
	}
	return results, nil
}

func (i *Index) Count(ctx context.Context) (int, error) {
	var n int
	if err := i.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM entries WHERE space = ?`, i.space).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count entries: %w", err)
	}
	return n, nil
}

// CosineDistance is 1 - cosine similarity. Zero vectors are at distance 1
// from everything.
func CosineDistance(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 1
	}
	return 1 - dot/(math.Sqrt(na)*math.Sqrt(nb))
}

func encodeVector(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

func decodeVector(b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, errors.New("corrupt vector blob")
	}
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return v, nil
}
