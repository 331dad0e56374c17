package server

import (
	"context"
	"fmt"
	"sync"

	"github.com/admirer145/Chesslyze-sub001/internal/domain"
	"github.com/admirer145/Chesslyze-sub001/internal/service"
	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog"
)

// ErrAlreadyRunning means a sync for the same (provider, username) pair
// is in flight; the API maps it to 409.
var ErrAlreadyRunning = fmt.Errorf("sync already running")

// ImportManager enforces the one-sync-per-(provider, username) rule, owns
// the cancel functions for cooperative cancellation, and bridges progress
// events to the websocket hub.
type ImportManager struct {
	imports *service.ImportService
	hub     *Hub
	logger  zerolog.Logger

	mu      sync.Mutex
	running map[string]*ImportSession
}

type ImportSession struct {
	ID       string          `json:"id"`
	Provider domain.Provider `json:"provider"`
	Username string          `json:"username"`
	cancel   context.CancelFunc
}

func NewImportManager(imports *service.ImportService, hub *Hub, logger zerolog.Logger) *ImportManager {
	return &ImportManager{
		imports: imports,
		hub:     hub,
		logger:  logger.With().Str("component", "import_manager").Logger(),
		running: make(map[string]*ImportSession),
	}
}

func sessionKey(provider domain.Provider, username string) string {
	return string(provider) + "/" + username
}

// Start launches a sync in the background. It returns ErrAlreadyRunning
// when the pair already has a sync in flight.
func (m *ImportManager) Start(opts service.SyncOptions) (string, error) {
	key := sessionKey(opts.Provider, opts.Username)

	m.mu.Lock()
	if _, ok := m.running[key]; ok {
		m.mu.Unlock()
		return "", ErrAlreadyRunning
	}

	ctx, cancel := context.WithCancel(context.Background())
	session := &ImportSession{
		ID:       gonanoid.Must(),
		Provider: opts.Provider,
		Username: opts.Username,
		cancel:   cancel,
	}
	m.running[key] = session
	m.mu.Unlock()

	go func() {
		defer func() {
			m.mu.Lock()
			delete(m.running, key)
			m.mu.Unlock()
			cancel()
		}()

		result, err := m.imports.Sync(ctx, opts, func(event service.ProgressEvent) {
			m.hub.Broadcast(event)
		})
		if err != nil {
			m.logger.Error().Err(err).
				Str("provider", string(opts.Provider)).
				Str("username", opts.Username).
				Msg("sync failed")
			m.hub.Broadcast(service.ProgressEvent{
				Type:     service.ProgressChunkError,
				Provider: opts.Provider,
				Username: opts.Username,
				Message:  err.Error(),
			})
			return
		}
		m.logger.Info().
			Str("provider", string(opts.Provider)).
			Str("username", opts.Username).
			Int("imported", result.TotalImported).
			Bool("success", result.Success).
			Bool("cancelled", result.Cancelled).
			Msg("sync finished")
	}()

	return session.ID, nil
}

// Cancel requests cooperative cancellation; the sync pauses at the next
// chunk boundary. Returns false when no sync is running for the pair.
func (m *ImportManager) Cancel(provider domain.Provider, username string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	session, ok := m.running[sessionKey(provider, username)]
	if !ok {
		return false
	}
	session.cancel()
	return true
}

// Running reports the in-flight session for the pair, or nil.
func (m *ImportManager) Running(provider domain.Provider, username string) *ImportSession {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running[sessionKey(provider, username)]
}
