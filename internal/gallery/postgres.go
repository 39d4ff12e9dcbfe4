package gallery

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore persists the photo library so an uploaded set survives
// restarts. Conversation history is deliberately never stored.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, strings.TrimSpace(databaseURL))
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := initGallerySchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	return &PostgresStore{pool: pool}, nil
}

func initGallerySchema(ctx context.Context, pool *pgxpool.Pool) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS gallery_meta (
			id INTEGER PRIMARY KEY CHECK (id = 1),
			biography TEXT NOT NULL DEFAULT '',
			current_index INTEGER NOT NULL DEFAULT 0,
			pending_reapply BOOLEAN NOT NULL DEFAULT FALSE
		);`,
		`CREATE TABLE IF NOT EXISTS gallery_photos (
			file_name TEXT PRIMARY KEY,
			ordinal INTEGER NOT NULL,
			mime_type TEXT NOT NULL DEFAULT '',
			data BYTEA NOT NULL,
			user_context TEXT NOT NULL DEFAULT '',
			ai_context TEXT NOT NULL DEFAULT '',
			updated_at TIMESTAMPTZ NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_gallery_photos_ordinal ON gallery_photos (ordinal);`,
	}
	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init gallery schema failed on %q: %w", stmt, err)
		}
	}
	return nil
}

func (s *PostgresStore) SaveLibrary(ctx context.Context, snap Snapshot) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx,
		`INSERT INTO gallery_meta (id, biography, current_index, pending_reapply)
		VALUES (1, $1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET
			biography=EXCLUDED.biography,
			current_index=EXCLUDED.current_index,
			pending_reapply=EXCLUDED.pending_reapply`,
		snap.Biography, snap.CurrentIndex, snap.PendingReapply,
	); err != nil {
		return fmt.Errorf("save gallery meta: %w", err)
	}

	if _, err := tx.Exec(ctx, `DELETE FROM gallery_photos`); err != nil {
		return fmt.Errorf("clear gallery photos: %w", err)
	}
	for i, p := range snap.Photos {
		if _, err := tx.Exec(ctx,
			`INSERT INTO gallery_photos (file_name, ordinal, mime_type, data, user_context, ai_context, updated_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7)`,
			p.FileName, i, p.MIMEType, p.Data, p.UserContext, p.AIContext, p.UpdatedAt,
		); err != nil {
			return fmt.Errorf("save photo %q: %w", p.FileName, err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func (s *PostgresStore) LoadLibrary(ctx context.Context) (Snapshot, bool, error) {
	var snap Snapshot
	err := s.pool.QueryRow(ctx,
		`SELECT biography, current_index, pending_reapply FROM gallery_meta WHERE id = 1`,
	).Scan(&snap.Biography, &snap.CurrentIndex, &snap.PendingReapply)
	if errors.Is(err, pgx.ErrNoRows) {
		return Snapshot{}, false, nil
	}
	if err != nil {
		return Snapshot{}, false, fmt.Errorf("load gallery meta: %w", err)
	}

	rows, err := s.pool.Query(ctx,
		`SELECT file_name, mime_type, data, user_context, ai_context, updated_at
		FROM gallery_photos ORDER BY ordinal`,
	)
	if err != nil {
		return Snapshot{}, false, fmt.Errorf("load gallery photos: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var p Photo
		if err := rows.Scan(&p.FileName, &p.MIMEType, &p.Data, &p.UserContext, &p.AIContext, &p.UpdatedAt); err != nil {
			return Snapshot{}, false, fmt.Errorf("scan photo: %w", err)
		}
		snap.Photos = append(snap.Photos, p)
	}
	if err := rows.Err(); err != nil {
		return Snapshot{}, false, fmt.Errorf("iterate photos: %w", err)
	}
	return snap, true, nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
