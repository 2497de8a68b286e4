// Package postgres provides the Postgres-backed artifact index.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/frame-ingest/internal/frame"
)

const defaultTable = "frame_artifacts"

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// ArtifactStoreConfig controls the Postgres connection pool used for artifact rows.
type ArtifactStoreConfig struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type pool interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	QueryRow(context.Context, string, ...any) pgx.Row
	Close()
}

// ArtifactStore writes persisted artifact rows into Postgres.
type ArtifactStore struct {
	pool  pool
	table string
}

// NewArtifactStore connects to Postgres using the provided config.
func NewArtifactStore(ctx context.Context, cfg ArtifactStoreConfig) (*ArtifactStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("index.dsn is required")
	}
	table, err := tableName(cfg.Table)
	if err != nil {
		return nil, err
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &ArtifactStore{pool: p, table: table}, nil
}

// NewArtifactStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewArtifactStoreWithPool(p pool, table string) (*ArtifactStore, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	name, err := tableName(table)
	if err != nil {
		return nil, err
	}
	return &ArtifactStore{pool: p, table: name}, nil
}

func tableName(table string) (string, error) {
	if table == "" {
		table = defaultTable
	}
	if !validTableName.MatchString(table) {
		return "", fmt.Errorf("invalid table name %q", table)
	}
	return table, nil
}

// Close releases the underlying pool resources.
func (s *ArtifactStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// EnsureSchema creates the artifact table when it does not exist.
func (s *ArtifactStore) EnsureSchema(ctx context.Context) error {
	query := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	id            UUID PRIMARY KEY,
	seq           BIGINT NOT NULL,
	path          TEXT NOT NULL,
	uri           TEXT NOT NULL,
	format        TEXT NOT NULL,
	content_type  TEXT NOT NULL,
	width         INTEGER NOT NULL,
	height        INTEGER NOT NULL,
	pixel_format  TEXT NOT NULL,
	size_bytes    INTEGER NOT NULL,
	digest        TEXT NOT NULL,
	received_at   TIMESTAMPTZ NOT NULL,
	persisted_at  TIMESTAMPTZ NOT NULL
)`, s.table)
	if _, err := s.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("create artifact table: %w", err)
	}
	return nil
}

// RecordArtifact inserts an artifact row. Re-recording the same ID is a no-op.
func (s *ArtifactStore) RecordArtifact(ctx context.Context, a frame.Artifact) error {
	if s == nil || s.pool == nil {
		return fmt.Errorf("artifact store is not configured")
	}
	if a.ID == "" {
		return fmt.Errorf("artifact id is required")
	}
	query := fmt.Sprintf(`
INSERT INTO %s (
	id,
	seq,
	path,
	uri,
	format,
	content_type,
	width,
	height,
	pixel_format,
	size_bytes,
	digest,
	received_at,
	persisted_at
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13
) ON CONFLICT (id) DO NOTHING`, s.table)

	args := []any{
		a.ID,
		int64(a.Seq),
		a.Path,
		a.URI,
		a.Format,
		a.ContentType,
		a.Width,
		a.Height,
		a.PixelFormat,
		a.Bytes,
		a.Digest,
		a.ReceivedAt,
		a.PersistedAt,
	}
	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("insert artifact: %w", err)
	}
	return nil
}

const artifactColumns = `id, seq, path, uri, format, content_type, width, height, pixel_format, size_bytes, digest, received_at, persisted_at`

// GetArtifact loads one artifact row by ID, or returns frame.ErrArtifactNotFound.
func (s *ArtifactStore) GetArtifact(ctx context.Context, id string) (frame.Artifact, error) {
	// The id column is UUID typed; anything else cannot match a row.
	if _, err := uuid.Parse(id); err != nil {
		return frame.Artifact{}, fmt.Errorf("%w: %s", frame.ErrArtifactNotFound, id)
	}
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE id = $1`, artifactColumns, s.table)
	a, err := scanArtifact(s.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return frame.Artifact{}, fmt.Errorf("%w: %s", frame.ErrArtifactNotFound, id)
		}
		return frame.Artifact{}, fmt.Errorf("get artifact: %w", err)
	}
	return a, nil
}

// RecentArtifacts returns up to limit rows ordered newest first.
func (s *ArtifactStore) RecentArtifacts(ctx context.Context, limit int) ([]frame.Artifact, error) {
	if limit <= 0 {
		limit = 100
	}
	query := fmt.Sprintf(`
SELECT %s
FROM %s
ORDER BY persisted_at DESC, seq DESC
LIMIT $1`, artifactColumns, s.table)
	rows, err := s.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("query artifacts: %w", err)
	}
	defer rows.Close()

	var out []frame.Artifact
	for rows.Next() {
		a, err := scanArtifact(rows)
		if err != nil {
			return nil, fmt.Errorf("scan artifact: %w", err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate artifacts: %w", err)
	}
	return out, nil
}

func scanArtifact(row pgx.Row) (frame.Artifact, error) {
	var (
		a   frame.Artifact
		seq int64
	)
	if err := row.Scan(
		&a.ID, &seq, &a.Path, &a.URI, &a.Format, &a.ContentType, &a.Width, &a.Height,
		&a.PixelFormat, &a.Bytes, &a.Digest, &a.ReceivedAt, &a.PersistedAt,
	); err != nil {
		return frame.Artifact{}, err
	}
	a.Seq = uint64(seq)
	return a, nil
}
