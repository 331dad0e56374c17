package service

import (
	"context"

	"github.com/admirer145/Chesslyze-sub001/internal/domain"
	"github.com/admirer145/Chesslyze-sub001/internal/repository"
)

// GameStore is the slice of the storage layer the import pipeline needs.
type GameStore interface {
	UpsertBatch(ctx context.Context, games []*domain.Game) error
	GetLatestGameTimestamp(ctx context.Context, provider domain.Provider, username string) (*int64, error)
	List(ctx context.Context, filter repository.GameFilter) ([]*domain.Game, error)
}

// CheckpointStore persists resumable sync state per (provider, username).
// Load returns nil when no checkpoint exists; Clear on an absent
// checkpoint is a no-op.
type CheckpointStore interface {
	Save(ctx context.Context, cp *domain.ImportCheckpoint) error
	Load(ctx context.Context, provider domain.Provider, username string) (*domain.ImportCheckpoint, error)
	Clear(ctx context.Context, provider domain.Provider, username string) error
}

// EventPublisher receives import lifecycle events. A nil publisher
// disables publishing.
type EventPublisher interface {
	PublishImportEvent(ctx context.Context, event string, result *domain.ImportResult, provider domain.Provider, username string) error
}
