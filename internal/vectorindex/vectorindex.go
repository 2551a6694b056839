// Package vectorindex provides nearest-neighbor search over projected
// vectors, one index file per retrieval dimension.
//
// The index is exact KNN over a sqlite-vec virtual table. At this
// corpus size (thousands of documents per dimension) exact search is
// faster to build than a graph index, strictly better on recall, and
// deterministic, which the query-reproducibility guarantee leans on.
package vectorindex

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
	_ "github.com/mattn/go-sqlite3"

	"github.com/NicabarNimble/patina/internal/patinaerr"
)

func init() {
	sqlite_vec.Auto()
}

// Index is an on-disk vector index keyed by doc ID.
type Index struct {
	db        *sql.DB
	path      string
	dimension int
}

// Result is one nearest neighbor.
type Result struct {
	DocID      string
	Similarity float64 // cosine, in [-1, 1]
	Content    string
}

// Create makes a fresh index of the given dimension, replacing any
// existing file.
func Create(path string, dimension int) (*Index, error) {
	if dimension <= 0 {
		return nil, fmt.Errorf("vector index dimension must be positive")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create index dir: %w", err)
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("replace index: %w", err)
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, patinaerr.Storage("open index", err)
	}
	schema := fmt.Sprintf(`
	CREATE TABLE meta (dimension INTEGER NOT NULL);
	INSERT INTO meta (dimension) VALUES (%d);
	CREATE VIRTUAL TABLE vectors USING vec0(
		doc_id TEXT PRIMARY KEY,
		embedding FLOAT[%d] distance_metric=cosine
	);
	CREATE TABLE contents (
		doc_id TEXT PRIMARY KEY,
		content TEXT NOT NULL DEFAULT ''
	);
	`, dimension, dimension)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, patinaerr.Storage("create index schema", err)
	}
	return &Index{db: db, path: path, dimension: dimension}, nil
}

// Open loads an existing index, verifying its dimension against the
// caller's expectation. A mismatch is a hard error.
func Open(path string, expectDim int) (*Index, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("vector index %s: %w", path, err)
	}
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, patinaerr.Storage("open index", err)
	}
	var dim int
	if err := db.QueryRow(`SELECT dimension FROM meta`).Scan(&dim); err != nil {
		db.Close()
		return nil, patinaerr.Storage("read index meta", err)
	}
	if expectDim > 0 && dim != expectDim {
		db.Close()
		return nil, &patinaerr.SchemaMismatch{Path: path, IndexDim: dim, ExpectDim: expectDim}
	}
	return &Index{db: db, path: path, dimension: dim}, nil
}

// Add inserts or replaces one vector with its content snippet.
func (x *Index) Add(docID string, vec []float32, content string) error {
	if len(vec) != x.dimension {
		return &patinaerr.SchemaMismatch{Path: x.path, IndexDim: x.dimension, ExpectDim: len(vec)}
	}
	blob, err := sqlite_vec.SerializeFloat32(vec)
	if err != nil {
		return fmt.Errorf("serialize vector: %w", err)
	}
	tx, err := x.db.Begin()
	if err != nil {
		return patinaerr.Storage("add vector", err)
	}
	defer tx.Rollback()
	if _, err := tx.Exec(`DELETE FROM vectors WHERE doc_id = ?`, docID); err != nil {
		return patinaerr.Storage("add vector", err)
	}
	if _, err := tx.Exec(`INSERT INTO vectors (doc_id, embedding) VALUES (?, ?)`, docID, blob); err != nil {
		return patinaerr.Storage("add vector", err)
	}
	if _, err := tx.Exec(`
		INSERT INTO contents (doc_id, content) VALUES (?, ?)
		ON CONFLICT(doc_id) DO UPDATE SET content = excluded.content
	`, docID, content); err != nil {
		return patinaerr.Storage("add vector", err)
	}
	if err := tx.Commit(); err != nil {
		return patinaerr.Storage("add vector", err)
	}
	return nil
}

// Search returns the top-k nearest documents by cosine similarity,
// descending.
func (x *Index) Search(query []float32, k int) ([]Result, error) {
	if len(query) != x.dimension {
		return nil, &patinaerr.SchemaMismatch{Path: x.path, IndexDim: x.dimension, ExpectDim: len(query)}
	}
	if k <= 0 {
		k = 10
	}
	blob, err := sqlite_vec.SerializeFloat32(query)
	if err != nil {
		return nil, fmt.Errorf("serialize query: %w", err)
	}
	rows, err := x.db.Query(`
		SELECT v.doc_id, v.distance, COALESCE(c.content, '')
		FROM vectors v
		LEFT JOIN contents c ON c.doc_id = v.doc_id
		WHERE v.embedding MATCH ? AND k = ?
		ORDER BY v.distance
	`, blob, k)
	if err != nil {
		return nil, patinaerr.Storage("search", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var r Result
		var distance float64
		if err := rows.Scan(&r.DocID, &distance, &r.Content); err != nil {
			return nil, patinaerr.Storage("search", err)
		}
		// Cosine distance is 1 - cos; invert to a similarity.
		r.Similarity = 1 - distance
		results = append(results, r)
	}
	return results, rows.Err()
}

// Count returns the number of indexed documents.
func (x *Index) Count() (int, error) {
	var n int
	if err := x.db.QueryRow(`SELECT COUNT(*) FROM contents`).Scan(&n); err != nil {
		return 0, patinaerr.Storage("count", err)
	}
	return n, nil
}

// Dimension returns the vector size the index was created with.
func (x *Index) Dimension() int { return x.dimension }

// Close releases the index file.
func (x *Index) Close() error { return x.db.Close() }
