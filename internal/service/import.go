package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/admirer145/Chesslyze-sub001/internal/api"
	"github.com/admirer145/Chesslyze-sub001/internal/config"
	"github.com/admirer145/Chesslyze-sub001/internal/constants"
	"github.com/admirer145/Chesslyze-sub001/internal/domain"
	"github.com/admirer145/Chesslyze-sub001/internal/repository"
	"github.com/rs/zerolog"
)

// ImportService drives provider syncs: range determination, the
// sequential chunk loop, retry dispositions, checkpoint persistence and
// the progress stream. Chunks for one (provider, username) pair are
// strictly sequential; syncs for distinct pairs may run concurrently and
// only share the storage layer.
type ImportService struct {
	lichess     *api.LichessClient
	chesscom    *api.ChessComClient
	games       GameStore
	checkpoints CheckpointStore
	publisher   EventPublisher
	cfg         *config.Config
	logger      zerolog.Logger

	// injectable clock, tests pin it
	now func() time.Time
}

func NewImportService(
	lichess *api.LichessClient,
	chesscom *api.ChessComClient,
	games GameStore,
	checkpoints CheckpointStore,
	publisher EventPublisher,
	cfg *config.Config,
	logger zerolog.Logger,
) *ImportService {
	return &ImportService{
		lichess:     lichess,
		chesscom:    chesscom,
		games:       games,
		checkpoints: checkpoints,
		publisher:   publisher,
		cfg:         cfg,
		logger:      logger.With().Str("component", "import_service").Logger(),
		now:         time.Now,
	}
}

type SyncOptions struct {
	Provider  domain.Provider
	Username  string
	Mode      domain.ImportMode
	Since     int64 // custom mode only, epoch ms
	Until     int64 // custom mode only, epoch ms; 0 means now
	ImportTag *string
}

// syncRun is the per-sync mutable state shared by the provider loops.
type syncRun struct {
	opts        SyncOptions
	cp          *domain.ImportCheckpoint
	onProgress  ProgressFunc
	parseErrors int
	lastPct     float64
	cancelled   bool
}

func (r *syncRun) emit(t ProgressType, message string, pct float64) {
	if pct < r.lastPct {
		pct = r.lastPct
	}
	r.lastPct = pct
	if r.onProgress == nil {
		return
	}
	r.onProgress(ProgressEvent{
		Type:       t,
		Provider:   r.opts.Provider,
		Username:   r.opts.Username,
		Message:    message,
		Total:      r.cp.TotalImported,
		Percentage: pct,
	})
}

func (r *syncRun) recordFailedChunk(since, until int64, err error, at time.Time) {
	r.cp.FailedChunks = append(r.cp.FailedChunks, domain.FailedChunk{
		Since:     since,
		Until:     until,
		Error:     err.Error(),
		Timestamp: at.UnixMilli(),
	})
}

// Sync imports the games of one user from one provider. It resumes from a
// persisted checkpoint when one exists, otherwise determines the window
// from the mode. Errors returned here are setup failures only (invalid
// arguments, unknown user, storage unavailable); once the chunk loop is
// running every outcome is reported through the result and the progress
// stream instead.
func (s *ImportService) Sync(ctx context.Context, opts SyncOptions, onProgress ProgressFunc) (*domain.ImportResult, error) {
	if opts.Username == "" {
		return nil, fmt.Errorf("username is required")
	}
	if opts.Mode == "" {
		opts.Mode = domain.ModeSmart
	}
	if opts.Provider != domain.ProviderLichess && opts.Provider != domain.ProviderChessCom {
		return nil, fmt.Errorf("unsupported sync provider %q", opts.Provider)
	}
	if opts.Mode != domain.ModeSmart && opts.Mode != domain.ModeCustom && opts.Mode != domain.ModeFull {
		return nil, fmt.Errorf("unsupported import mode %q", opts.Mode)
	}
	if opts.Mode == domain.ModeCustom && opts.Since <= 0 {
		return nil, fmt.Errorf("custom mode requires a since timestamp")
	}

	run := &syncRun{opts: opts, onProgress: onProgress}

	cp, err := s.checkpoints.Load(ctx, opts.Provider, opts.Username)
	if err != nil {
		return nil, fmt.Errorf("load checkpoint: %w", err)
	}

	// a completed checkpoint is spent: its cursor sits at the end of the
	// walked window, so resuming it would fetch nothing forever. Start a
	// fresh sync instead; the old failed chunks only widen the new window
	// below so recovered months get refetched.
	var prevFailed []domain.FailedChunk
	if cp != nil && cp.Status == domain.CheckpointCompleted {
		prevFailed = cp.FailedChunks
		cp = nil
	}

	if cp != nil {
		run.cp = cp
		cp.Status = domain.CheckpointInProgress
		run.emit(ProgressResume, fmt.Sprintf("resuming %s sync for %s (%d imported so far)", opts.Provider, opts.Username, cp.TotalImported), 0)
	} else {
		since, until, err := s.determineRange(ctx, opts)
		if err != nil {
			return nil, err
		}
		if earliest, ok := earliestFailedChunk(prevFailed); ok && earliest < since {
			since = earliest
		}
		run.cp = &domain.ImportCheckpoint{
			Provider:      opts.Provider,
			Username:      opts.Username,
			TargetSince:   since,
			TargetUntil:   until,
			Cursor:        initialCursor(opts.Provider, since),
			Status:        domain.CheckpointInProgress,
		}
		if err := s.checkpoints.Save(ctx, run.cp); err != nil {
			return nil, fmt.Errorf("create checkpoint: %w", err)
		}
		run.emit(ProgressStart, fmt.Sprintf("starting %s sync for %s", opts.Provider, opts.Username), 0)
		run.emit(ProgressRangeDetermined,
			fmt.Sprintf("importing window %s to %s",
				time.UnixMilli(since).UTC().Format(time.RFC3339),
				time.UnixMilli(until).UTC().Format(time.RFC3339)),
			0)
	}

	s.publish(ctx, "started", nil, opts)

	switch opts.Provider {
	case domain.ProviderLichess:
		err = s.runLichess(ctx, run)
	case domain.ProviderChessCom:
		err = s.runChessCom(ctx, run)
	}
	if err != nil {
		// setup-phase failure (discovery, unknown user): leave a paused
		// checkpoint behind so a later attempt resumes
		run.cp.Status = domain.CheckpointPaused
		if saveErr := s.checkpoints.Save(context.WithoutCancel(ctx), run.cp); saveErr != nil {
			s.logger.Error().Err(saveErr).Msg("failed to persist checkpoint after abort")
		}
		return nil, err
	}

	return s.finish(ctx, run)
}

// finish settles the checkpoint and emits the terminal event.
func (s *ImportService) finish(ctx context.Context, run *syncRun) (*domain.ImportResult, error) {
	// the paused checkpoint must outlive the cancellation that produced it
	ctx = context.WithoutCancel(ctx)
	result := &domain.ImportResult{
		TotalImported: run.cp.TotalImported,
		ParseErrors:   run.parseErrors,
		FailedChunks:  run.cp.FailedChunks,
	}

	if run.cancelled {
		run.cp.Status = domain.CheckpointPaused
		if err := s.checkpoints.Save(ctx, run.cp); err != nil {
			s.logger.Error().Err(err).Msg("failed to persist paused checkpoint")
		}
		result.Cancelled = true
		run.emit(ProgressCancelled, fmt.Sprintf("sync cancelled, %d games imported; resumable", run.cp.TotalImported), run.lastPct)
		s.publish(ctx, "cancelled", result, run.opts)
		return result, nil
	}

	if len(run.cp.FailedChunks) == 0 {
		// fully successful window: the checkpoint is cleared, not left in
		// a completed state, so the next incremental sync starts clean
		if err := s.checkpoints.Clear(ctx, run.cp.Provider, run.cp.Username); err != nil {
			s.logger.Error().Err(err).Msg("failed to clear checkpoint")
		}
		result.Success = true
		run.emit(ProgressSuccess, fmt.Sprintf("sync complete, %d games imported", run.cp.TotalImported), 100)
	} else {
		run.cp.Status = domain.CheckpointCompleted
		if err := s.checkpoints.Save(ctx, run.cp); err != nil {
			s.logger.Error().Err(err).Msg("failed to persist completed checkpoint")
		}
		run.emit(ProgressSuccess,
			fmt.Sprintf("sync finished with %d failed chunks, %d games imported", len(run.cp.FailedChunks), run.cp.TotalImported),
			100)
	}

	s.publish(ctx, "completed", result, run.opts)
	return result, nil
}

// determineRange resolves the import window for a fresh sync.
func (s *ImportService) determineRange(ctx context.Context, opts SyncOptions) (int64, int64, error) {
	now := s.now().UnixMilli()

	switch opts.Mode {
	case domain.ModeFull:
		return 0, now, nil
	case domain.ModeCustom:
		until := opts.Until
		if until == 0 {
			until = now
		}
		if until <= opts.Since {
			return 0, 0, fmt.Errorf("custom window is empty: until %d <= since %d", until, opts.Since)
		}
		return opts.Since, until, nil
	default: // smart
		since := now - constants.ImportWindow.Milliseconds()
		latest, err := s.games.GetLatestGameTimestamp(ctx, opts.Provider, opts.Username)
		if err != nil {
			return 0, 0, fmt.Errorf("get latest game timestamp: %w", err)
		}
		if latest != nil && *latest+1 > since {
			since = *latest + 1
		}
		return since, now, nil
	}
}

// earliestFailedChunk returns the start of the oldest failed chunk.
func earliestFailedChunk(chunks []domain.FailedChunk) (int64, bool) {
	if len(chunks) == 0 {
		return 0, false
	}
	earliest := chunks[0].Since
	for _, c := range chunks[1:] {
		if c.Since < earliest {
			earliest = c.Since
		}
	}
	return earliest, true
}

func initialCursor(provider domain.Provider, since int64) int64 {
	// lichess resumes by time, chesscom by archive index
	if provider == domain.ProviderLichess {
		return since
	}
	return 0
}

func (s *ImportService) saveCheckpoint(ctx context.Context, run *syncRun) {
	if err := s.checkpoints.Save(ctx, run.cp); err != nil {
		s.logger.Error().Err(err).
			Str("provider", string(run.cp.Provider)).
			Str("username", run.cp.Username).
			Msg("failed to persist checkpoint")
	}
}

func (s *ImportService) publish(ctx context.Context, event string, result *domain.ImportResult, opts SyncOptions) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.PublishImportEvent(ctx, event, result, opts.Provider, opts.Username); err != nil {
		s.logger.Warn().Err(err).Str("event", event).Msg("failed to publish import event")
	}
}

func isCancellation(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// isUnknownUser reports a provider 404, the fatal unknown-user case.
func isUnknownUser(err error) bool {
	var statusErr *api.StatusError
	return errors.As(err, &statusErr) && statusErr.NotFound()
}

// Games lists stored games for the read API.
func (s *ImportService) Games(ctx context.Context, filter repository.GameFilter) ([]*domain.Game, error) {
	return s.games.List(ctx, filter)
}

// Checkpoint exposes the persisted sync state for the status API.
func (s *ImportService) Checkpoint(ctx context.Context, provider domain.Provider, username string) (*domain.ImportCheckpoint, error) {
	return s.checkpoints.Load(ctx, provider, username)
}
