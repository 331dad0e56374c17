package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/admirer145/Chesslyze-sub001/internal/domain"
	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog"
)

type CheckpointRepository struct {
	db     *sqlx.DB
	logger zerolog.Logger
}

func NewCheckpointRepository(db *sqlx.DB, logger zerolog.Logger) *CheckpointRepository {
	return &CheckpointRepository{
		db:     db,
		logger: logger.With().Str("component", "checkpoint_repository").Logger(),
	}
}

type checkpointRow struct {
	Provider      string    `db:"provider"`
	Username      string    `db:"username"`
	TargetSince   int64     `db:"target_since"`
	TargetUntil   int64     `db:"target_until"`
	Cursor        int64     `db:"cursor"`
	TotalImported int       `db:"total_imported"`
	Status        string    `db:"status"`
	FailedChunks  string    `db:"failed_chunks"`
	CreatedAt     time.Time `db:"created_at"`
	UpdatedAt     time.Time `db:"updated_at"`
}

// Save persists the checkpoint, overwriting any previous state for the
// same (provider, username) pair. The orchestrator calls this after every
// chunk, so a crash between chunks loses at most the in-flight chunk.
func (r *CheckpointRepository) Save(ctx context.Context, cp *domain.ImportCheckpoint) error {
	failed, err := json.Marshal(cp.FailedChunks)
	if err != nil {
		return fmt.Errorf("failed to encode failed chunks: %w", err)
	}

	now := time.Now()
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO import_checkpoints (
			provider, username, target_since, target_until, cursor,
			total_imported, status, failed_chunks, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (provider, username) DO UPDATE SET
			target_since = excluded.target_since,
			target_until = excluded.target_until,
			cursor = excluded.cursor,
			total_imported = excluded.total_imported,
			status = excluded.status,
			failed_chunks = excluded.failed_chunks,
			updated_at = excluded.updated_at`,
		string(cp.Provider), cp.Username, cp.TargetSince, cp.TargetUntil, cp.Cursor,
		cp.TotalImported, string(cp.Status), string(failed), now, now,
	)
	if err != nil {
		return fmt.Errorf("failed to save checkpoint: %w", err)
	}
	return nil
}

// Load returns the persisted checkpoint, or nil when no sync has state
// for this pair.
func (r *CheckpointRepository) Load(ctx context.Context, provider domain.Provider, username string) (*domain.ImportCheckpoint, error) {
	var row checkpointRow
	err := r.db.GetContext(ctx, &row, `
		SELECT provider, username, target_since, target_until, cursor,
		       total_imported, status, failed_chunks, created_at, updated_at
		FROM import_checkpoints
		WHERE provider = ? AND username = ?`,
		string(provider), username,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load checkpoint: %w", err)
	}

	var failed []domain.FailedChunk
	if row.FailedChunks != "" {
		if err := json.Unmarshal([]byte(row.FailedChunks), &failed); err != nil {
			return nil, fmt.Errorf("failed to decode failed chunks: %w", err)
		}
	}

	return &domain.ImportCheckpoint{
		Provider:      domain.Provider(row.Provider),
		Username:      row.Username,
		TargetSince:   row.TargetSince,
		TargetUntil:   row.TargetUntil,
		Cursor:        row.Cursor,
		TotalImported: row.TotalImported,
		Status:        domain.CheckpointStatus(row.Status),
		FailedChunks:  failed,
		CreatedAt:     row.CreatedAt,
		UpdatedAt:     row.UpdatedAt,
	}, nil
}

// Clear removes the checkpoint after a fully successful sync. Clearing an
// absent checkpoint is a no-op.
func (r *CheckpointRepository) Clear(ctx context.Context, provider domain.Provider, username string) error {
	_, err := r.db.ExecContext(ctx,
		"DELETE FROM import_checkpoints WHERE provider = ? AND username = ?",
		string(provider), username,
	)
	if err != nil {
		return fmt.Errorf("failed to clear checkpoint: %w", err)
	}
	return nil
}
