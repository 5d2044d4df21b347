package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/andresmejia3/facevec/internal/types"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/pgvector/pgvector-go"
	pgxvec "github.com/pgvector/pgvector-go/pgx"
)

// Store manages the PostgreSQL connection and pgvector operations.
type Store struct {
	conn *pgx.Conn
}

// Run describes one stored extraction run.
type Run struct {
	ID          uuid.UUID
	DatasetID   string
	DatasetPath string
	Discovered  int
	Embedded    int
	CreatedAt   time.Time
}

// LabelCount is the number of stored embeddings for one label.
type LabelCount struct {
	Label string
	Count int
}

// Match is a stored embedding close to a query vector.
type Match struct {
	Label     string
	ImagePath string
	Distance  float64
}

// New establishes a connection to the database and ensures the schema is initialized.
func New(ctx context.Context, connString string) (*Store, error) {
	conn, err := pgx.Connect(ctx, connString)
	if err != nil {
		return nil, err
	}

	if err := initSchema(ctx, conn); err != nil {
		conn.Close(ctx)
		return nil, fmt.Errorf("failed to initialize database schema: %w", err)
	}

	// The vector type only exists once the extension is created.
	if err := pgxvec.RegisterTypes(ctx, conn); err != nil {
		conn.Close(ctx)
		return nil, fmt.Errorf("failed to register vector types: %w", err)
	}

	return &Store{conn: conn}, nil
}

// initSchema creates the vector extension and tables if they don't exist.
func initSchema(ctx context.Context, conn *pgx.Conn) error {
	query := fmt.Sprintf(`
		CREATE EXTENSION IF NOT EXISTS vector;
		CREATE TABLE IF NOT EXISTS extraction_runs (
			id UUID PRIMARY KEY,
			dataset_id TEXT NOT NULL,
			dataset_path TEXT NOT NULL,
			discovered INT NOT NULL,
			embedded INT NOT NULL,
			created_at TIMESTAMPTZ DEFAULT NOW()
		);
		CREATE TABLE IF NOT EXISTS face_embeddings (
			id BIGSERIAL PRIMARY KEY,
			run_id UUID NOT NULL REFERENCES extraction_runs(id) ON DELETE CASCADE,
			label TEXT NOT NULL,
			image_path TEXT NOT NULL,
			embedding VECTOR(%d) NOT NULL
		);
		CREATE INDEX IF NOT EXISTS face_embeddings_run_id_idx ON face_embeddings (run_id);
		CREATE INDEX IF NOT EXISTS face_embeddings_label_idx ON face_embeddings (label);
	`, types.EmbeddingDim)
	_, err := conn.Exec(ctx, query)
	return err
}

// Close terminates the database connection.
func (s *Store) Close(ctx context.Context) {
	s.conn.Close(ctx)
}

// SaveRun stores a run and every (label, path, embedding) row of ds in a single
// transaction. A zero run ID is replaced with a fresh one; the stored ID is returned.
func (s *Store) SaveRun(ctx context.Context, run Run, ds *types.Dataset) (uuid.UUID, error) {
	if len(ds.Embeddings) != len(ds.Names) || len(ds.Paths) != len(ds.Names) {
		return uuid.Nil, fmt.Errorf("dataset is not index-aligned: %d embeddings, %d names, %d paths",
			len(ds.Embeddings), len(ds.Names), len(ds.Paths))
	}
	if run.ID == uuid.Nil {
		run.ID = uuid.New()
	}

	tx, err := s.conn.Begin(ctx)
	if err != nil {
		return uuid.Nil, err
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO extraction_runs (id, dataset_id, dataset_path, discovered, embedded)
		VALUES ($1, $2, $3, $4, $5)
	`, run.ID, run.DatasetID, run.DatasetPath, run.Discovered, run.Embedded)
	if err != nil {
		return uuid.Nil, fmt.Errorf("insert run: %w", err)
	}

	batch := &pgx.Batch{}
	for i := range ds.Names {
		batch.Queue(`
			INSERT INTO face_embeddings (run_id, label, image_path, embedding)
			VALUES ($1, $2, $3, $4)
		`, run.ID, ds.Names[i], ds.Paths[i], pgvector.NewVector(ds.Embeddings[i]))
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return uuid.Nil, fmt.Errorf("insert embeddings: %w", err)
	}

	return commitRun(ctx, tx, run.ID)
}

type committer interface {
	Commit(ctx context.Context) error
}

// commitRun commits tx and returns id only once the run is actually stored.
func commitRun(ctx context.Context, tx committer, id uuid.UUID) (uuid.UUID, error) {
	if err := tx.Commit(ctx); err != nil {
		return uuid.Nil, fmt.Errorf("commit run: %w", err)
	}
	return id, nil
}

// ListLabels returns the number of stored embeddings per label, across all runs.
func (s *Store) ListLabels(ctx context.Context) ([]LabelCount, error) {
	rows, err := s.conn.Query(ctx, `
		SELECT label, COUNT(*) FROM face_embeddings GROUP BY label ORDER BY label ASC
	`)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (LabelCount, error) {
		var lc LabelCount
		err := row.Scan(&lc.Label, &lc.Count)
		return lc, err
	})
}

// ListRuns returns every stored run, newest first.
func (s *Store) ListRuns(ctx context.Context) ([]Run, error) {
	rows, err := s.conn.Query(ctx, `
		SELECT id::text, dataset_id, dataset_path, discovered, embedded, created_at
		FROM extraction_runs ORDER BY created_at DESC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var r Run
		var id string
		if err := rows.Scan(&id, &r.DatasetID, &r.DatasetPath, &r.Discovered, &r.Embedded, &r.CreatedAt); err != nil {
			return nil, err
		}
		if r.ID, err = uuid.Parse(id); err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// Nearest returns the k stored embeddings closest to vec by cosine distance.
func (s *Store) Nearest(ctx context.Context, vec []float32, k int) ([]Match, error) {
	if len(vec) != types.EmbeddingDim {
		return nil, fmt.Errorf("query vector has %d values, want %d", len(vec), types.EmbeddingDim)
	}
	if k <= 0 {
		return nil, errors.New("k must be positive")
	}
	// <=> is the cosine distance operator in pgvector
	rows, err := s.conn.Query(ctx, `
		SELECT label, image_path, embedding <=> $1::vector AS distance
		FROM face_embeddings ORDER BY distance ASC LIMIT $2
	`, pgvector.NewVector(vec), k)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (Match, error) {
		var m Match
		err := row.Scan(&m.Label, &m.ImagePath, &m.Distance)
		return m, err
	})
}

// Reset drops all application tables to clear the database state.
func (s *Store) Reset(ctx context.Context) error {
	_, err := s.conn.Exec(ctx, `
		DROP TABLE IF EXISTS face_embeddings CASCADE;
		DROP TABLE IF EXISTS extraction_runs CASCADE;
	`)
	return err
}
