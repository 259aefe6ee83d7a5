package storage

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
)

// PgvectorStorage is a VectorIndex backed by a PostgreSQL table with a
// pgvector column. Distance is pgvector's cosine distance operator (<=>).
type PgvectorStorage struct {
	pool      *pgxpool.Pool
	table     string // Sanitized identifier
	name      string
	dimension int
}

// NewPgvectorStorage connects to PostgreSQL and verifies the connection.
func NewPgvectorStorage(ctx context.Context, connStr, table string, dimension int) (*PgvectorStorage, error) {
	if connStr == "" {
		return nil, fmt.Errorf("%w: DATABASE_URL not set", ErrBackendUnreachable)
	}

	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBackendUnreachable, err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("%w: %v", ErrBackendUnreachable, err)
	}

	return &PgvectorStorage{
		pool:      pool,
		table:     pgx.Identifier{table}.Sanitize(),
		name:      table,
		dimension: dimension,
	}, nil
}

// EnsureCollection creates the vector extension, the chunk table and its
// source index. Idempotent.
func (p *PgvectorStorage) EnsureCollection(ctx context.Context) error {
	statements := []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id          TEXT PRIMARY KEY,
			text        TEXT NOT NULL,
			source      TEXT NOT NULL,
			page        INTEGER,
			section     TEXT NOT NULL DEFAULT '',
			chunk_index INTEGER NOT NULL,
			embedding   vector(%d) NOT NULL
		)`, p.table, p.dimension),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s ON %s (source)`,
			pgx.Identifier{p.name + "_source_idx"}.Sanitize(), p.table),
	}

	for _, stmt := range statements {
		if _, err := p.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("%w: ensure table %s: %w", ErrStorageFailure, p.name, err)
		}
	}
	return nil
}

// DeleteCollection drops the table and recreates it empty.
func (p *PgvectorStorage) DeleteCollection(ctx context.Context) error {
	if _, err := p.pool.Exec(ctx, fmt.Sprintf(`DROP TABLE IF EXISTS %s`, p.table)); err != nil {
		return fmt.Errorf("%w: drop table %s: %w", ErrStorageFailure, p.name, err)
	}
	return p.EnsureCollection(ctx)
}

// Upsert writes all entries in one transaction.
func (p *PgvectorStorage) Upsert(ctx context.Context, entries []EmbeddedChunk) error {
	if len(entries) == 0 {
		return nil
	}
	if err := checkDimensions(entries, p.dimension); err != nil {
		return err
	}

	query := fmt.Sprintf(`INSERT INTO %s (id, text, source, page, section, chunk_index, embedding)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			text = EXCLUDED.text,
			source = EXCLUDED.source,
			page = EXCLUDED.page,
			section = EXCLUDED.section,
			chunk_index = EXCLUDED.chunk_index,
			embedding = EXCLUDED.embedding`, p.table)

	err := pgx.BeginFunc(ctx, p.pool, func(tx pgx.Tx) error {
		batch := &pgx.Batch{}
		for _, entry := range entries {
			batch.Queue(query,
				entry.ID,
				entry.Text,
				entry.Metadata.Source,
				entry.Metadata.Page,
				entry.Metadata.Section,
				entry.ChunkIndex,
				pgvector.NewVector(entry.Embedding),
			)
		}
		return tx.SendBatch(ctx, batch).Close()
	})
	if err != nil {
		return fmt.Errorf("%w: upsert %d rows: %w", ErrStorageFailure, len(entries), err)
	}
	return nil
}

// Search orders rows by cosine distance to query, then by id.
func (p *PgvectorStorage) Search(ctx context.Context, query []float32, k int) ([]ScoredChunk, error) {
	if err := checkQueryDimension(query, p.dimension); err != nil {
		return nil, err
	}
	if k <= 0 {
		return nil, nil
	}

	sql := fmt.Sprintf(`
		SELECT id, text, source, page, section, chunk_index, embedding <=> $1 AS distance
		FROM %s
		ORDER BY distance, id
		LIMIT $2`, p.table)

	rows, err := p.pool.Query(ctx, sql, pgvector.NewVector(query), k)
	if err != nil {
		return nil, fmt.Errorf("%w: search: %w", ErrStorageFailure, err)
	}
	defer rows.Close()

	var hits []ScoredChunk
	for rows.Next() {
		var (
			hit  ScoredChunk
			page *int
		)
		if err := rows.Scan(
			&hit.ID,
			&hit.Text,
			&hit.Metadata.Source,
			&page,
			&hit.Metadata.Section,
			&hit.ChunkIndex,
			&hit.Distance,
		); err != nil {
			return nil, fmt.Errorf("%w: scan search row: %w", ErrStorageFailure, err)
		}
		hit.Metadata.Page = page
		hits = append(hits, hit)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: search: %w", ErrStorageFailure, err)
	}

	return hits, nil
}

// Delete removes rows by chunk ID.
func (p *PgvectorStorage) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	if _, err := p.pool.Exec(ctx, fmt.Sprintf(`DELETE FROM %s WHERE id = ANY($1)`, p.table), ids); err != nil {
		return fmt.Errorf("%w: delete %d rows: %w", ErrStorageFailure, len(ids), err)
	}
	return nil
}

// Count returns the number of rows.
func (p *PgvectorStorage) Count(ctx context.Context) (uint64, error) {
	var n int64
	if err := p.pool.QueryRow(ctx, fmt.Sprintf(`SELECT count(*) FROM %s`, p.table)).Scan(&n); err != nil {
		return 0, fmt.Errorf("%w: count: %w", ErrStorageFailure, err)
	}
	return uint64(n), nil
}

// Info reports table statistics.
func (p *PgvectorStorage) Info(ctx context.Context) (*CollectionInfo, error) {
	n, err := p.Count(ctx)
	if err != nil {
		return nil, err
	}
	return &CollectionInfo{
		Backend:    string(BackendPgvector),
		Collection: p.name,
		Dimension:  p.dimension,
		Count:      n,
	}, nil
}

// Health pings the database.
func (p *PgvectorStorage) Health(ctx context.Context) error {
	if err := p.pool.Ping(ctx); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	return nil
}

// Dimension returns the configured vector size.
func (p *PgvectorStorage) Dimension() int {
	return p.dimension
}

// Close closes the connection pool.
func (p *PgvectorStorage) Close() error {
	if p.pool != nil {
		p.pool.Close()
	}
	return nil
}

var _ VectorIndex = (*PgvectorStorage)(nil)
