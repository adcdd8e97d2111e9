package pgvector

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	pgv "github.com/pgvector/pgvector-go"

	"icdcoder/internal/domain"
	"icdcoder/internal/vectorstore"
)

const defaultTable = "icd10_corpus"

// DB is the subset of pgxpool used by Storage (pgxpool or pgxmock).
type DB interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Storage keeps one corpus in a Postgres table with a pgvector column.
type Storage struct {
	db         DB
	table      string
	tableIdent string
	dimension  int
	close      func()
}

type Config struct {
	DSN   string
	Table string
}

// Open connects a pool to cfg.DSN.
func Open(ctx context.Context, cfg Config) (*Storage, error) {
	if cfg.DSN == "" {
		return nil, errors.New("pgvector: dsn is required")
	}
	pool, err := pgxpool.New(ctx, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("pgvector: connect: %w", err)
	}
	s := New(pool, cfg.Table)
	s.close = pool.Close
	return s, nil
}

// New wraps an existing connection.
func New(db DB, table string) *Storage {
	if table == "" {
		table = defaultTable
	}
	return &Storage{db: db, table: table, tableIdent: pgx.Identifier{table}.Sanitize()}
}

func (s *Storage) Init(ctx context.Context, dimension int) error {
	if dimension <= 0 {
		return errors.New("invalid dimension")
	}
	s.dimension = dimension
	if _, err := s.db.Exec(ctx, "CREATE EXTENSION IF NOT EXISTS vector"); err != nil {
		return fmt.Errorf("pgvector: enable extension: %w", err)
	}
	createTable := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		id TEXT PRIMARY KEY,
		embedding vector(%d),
		document TEXT,
		metadata JSONB,
		updated_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
	)`, s.tableIdent, dimension)
	if _, err := s.db.Exec(ctx, createTable); err != nil {
		return fmt.Errorf("pgvector: create table %s: %w", s.table, err)
	}
	return nil
}

func (s *Storage) Upsert(ctx context.Context, records []domain.Record, vectors [][]float32) (err error) {
	if len(records) != len(vectors) {
		return errors.New("records and vectors length mismatch")
	}
	if len(records) == 0 {
		return nil
	}
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("pgvector: begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
				err = fmt.Errorf("pgvector: rollback failed: %w; original error: %v", rbErr, err)
			}
			return
		}
		if commitErr := tx.Commit(ctx); commitErr != nil {
			err = fmt.Errorf("pgvector: commit: %w", commitErr)
		}
	}()
	stmt := fmt.Sprintf(`INSERT INTO %s (id, embedding, document, metadata, updated_at)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (id) DO UPDATE SET
    embedding = excluded.embedding,
    document = excluded.document,
    metadata = excluded.metadata,
    updated_at = excluded.updated_at`, s.tableIdent)
	for i := range records {
		rec := records[i]
		if len(vectors[i]) != s.dimension {
			return fmt.Errorf("pgvector: record %q dimension mismatch (got %d want %d)", rec.ID, len(vectors[i]), s.dimension)
		}
		metadata, marshalErr := json.Marshal(rec.Metadata)
		if marshalErr != nil {
			return fmt.Errorf("pgvector: marshal metadata for %q: %w", rec.ID, marshalErr)
		}
		if _, execErr := tx.Exec(ctx, stmt, rec.ID, pgv.NewVector(vectors[i]), rec.Text, metadata, time.Now().UTC()); execErr != nil {
			return fmt.Errorf("pgvector: upsert %q: %w", rec.ID, execErr)
		}
	}
	return nil
}

// Search orders by cosine distance and reports 1 - distance as the score.
func (s *Storage) Search(ctx context.Context, vector []float32, topK int) ([]domain.Match, error) {
	if s.dimension != 0 && len(vector) != s.dimension {
		return nil, errors.New("pgvector: query dimension mismatch")
	}
	if topK <= 0 {
		topK = vectorstore.DefaultTopK
	}
	query := fmt.Sprintf(`SELECT id, document, metadata, 1 - (embedding <=> $1) AS score FROM %s
ORDER BY embedding <=> $1 ASC LIMIT $2`, s.tableIdent)
	rows, err := s.db.Query(ctx, query, pgv.NewVector(vector), topK)
	if err != nil {
		return nil, fmt.Errorf("pgvector: search: %w", err)
	}
	defer rows.Close()
	results := make([]domain.Match, 0, topK)
	for rows.Next() {
		var (
			id          string
			document    string
			metadataRaw []byte
			score       float64
		)
		if err := rows.Scan(&id, &document, &metadataRaw, &score); err != nil {
			return nil, fmt.Errorf("pgvector: scan: %w", err)
		}
		meta := make(map[string]any)
		if len(metadataRaw) > 0 {
			if err := json.Unmarshal(metadataRaw, &meta); err != nil {
				return nil, fmt.Errorf("pgvector: decode metadata for %q: %w", id, err)
			}
		}
		results = append(results, domain.Match{ID: id, Score: score, Text: document, Metadata: meta})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("pgvector: search rows: %w", err)
	}
	return results, nil
}

// Clear drops the corpus table. Init recreates it.
func (s *Storage) Clear(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, fmt.Sprintf("DROP TABLE IF EXISTS %s", s.tableIdent)); err != nil {
		return fmt.Errorf("pgvector: clear %s: %w", s.table, err)
	}
	return nil
}

// Close releases the pool opened by Open.
func (s *Storage) Close() {
	if s.close != nil {
		s.close()
	}
}
