package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/admirer145/Chesslyze-sub001/internal/api"
	"github.com/admirer145/Chesslyze-sub001/internal/constants"
	"github.com/admirer145/Chesslyze-sub001/internal/domain"
)

// runLichess walks the import window in fixed 90-day chunks against the
// lichess NDJSON export stream. Resume state is simply the next window
// start, carried in the checkpoint cursor. An exhausted chunk is recorded
// into FailedChunks and the loop advances; both adapters share that
// disposition so one bad window never blocks the rest of history.
func (s *ImportService) runLichess(ctx context.Context, run *syncRun) error {
	cp := run.cp
	window := constants.ImportWindow.Milliseconds()
	span := cp.TargetUntil - cp.TargetSince

	current := cp.Cursor
	if current < cp.TargetSince {
		current = cp.TargetSince
	}

	first := true
	for current < cp.TargetUntil {
		if ctx.Err() != nil {
			run.cancelled = true
			return nil
		}
		if !first {
			// courtesy throttle between chunks, independent of 429s
			if err := sleepContext(ctx, s.cfg.Lichess.ChunkPacing); err != nil {
				run.cancelled = true
				return nil
			}
		}
		first = false

		chunkUntil := current + window
		if chunkUntil > cp.TargetUntil {
			chunkUntil = cp.TargetUntil
		}

		run.emit(ProgressProgress,
			fmt.Sprintf("fetching window %s", windowLabel(current, chunkUntil)),
			percentage(float64(current-cp.TargetSince), float64(span)))

		batch, parseErrors, err := s.fetchLichessChunk(ctx, run.opts, current, chunkUntil)
		run.parseErrors += parseErrors

		switch {
		case err != nil && isCancellation(err):
			run.cancelled = true
			return nil
		case err != nil && isUnknownUser(err):
			// the export endpoint 404s for a nonexistent user; that is
			// fatal to the whole sync, not a chunk disposition
			return err
		case err != nil:
			s.logger.Warn().Err(err).
				Int64("since", current).
				Int64("until", chunkUntil).
				Msg("lichess chunk failed after retries")
			run.recordFailedChunk(current, chunkUntil, err, s.now())
			run.emit(ProgressChunkError,
				fmt.Sprintf("chunk %s failed: %v", windowLabel(current, chunkUntil), err),
				percentage(float64(chunkUntil-cp.TargetSince), float64(span)))
		default:
			if len(batch) > 0 {
				if err := s.games.UpsertBatch(ctx, batch); err != nil {
					run.recordFailedChunk(current, chunkUntil, fmt.Errorf("upsert batch: %w", err), s.now())
					run.emit(ProgressChunkError,
						fmt.Sprintf("chunk %s failed to store: %v", windowLabel(current, chunkUntil), err),
						percentage(float64(chunkUntil-cp.TargetSince), float64(span)))
					break
				}
				cp.TotalImported += len(batch)
			}
			run.emit(ProgressChunkComplete,
				fmt.Sprintf("imported %d games from %s", len(batch), windowLabel(current, chunkUntil)),
				percentage(float64(chunkUntil-cp.TargetSince), float64(span)))
		}

		current = chunkUntil
		cp.Cursor = current
		s.saveCheckpoint(ctx, run)
	}

	return nil
}

// fetchLichessChunk streams one window and maps every decoded line.
// Malformed lines and games failing move validation are counted and
// skipped, never fatal to the chunk.
func (s *ImportService) fetchLichessChunk(ctx context.Context, opts SyncOptions, since, until int64) ([]*domain.Game, int, error) {
	var batch []*domain.Game
	parseErrors := 0

	streamCtx, cancel := context.WithTimeout(ctx, constants.StreamTimeout)
	defer cancel()

	err := s.lichess.StreamGames(streamCtx, opts.Username, since, until, func(line []byte) error {
		var raw api.LichessGame
		if err := json.Unmarshal(line, &raw); err != nil {
			parseErrors++
			s.logger.Debug().Err(err).Msg("skipping malformed ndjson line")
			return nil
		}

		game, err := mapLichessGame(&raw, opts.Username, opts.ImportTag, s.now())
		if err != nil {
			parseErrors++
			s.logger.Debug().Err(err).Str("game_id", raw.ID).Msg("skipping unparseable game")
			return nil
		}
		if game == nil {
			return nil
		}
		batch = append(batch, game)
		return nil
	})
	if err != nil {
		return nil, parseErrors, err
	}
	return batch, parseErrors, nil
}

func windowLabel(since, until int64) string {
	return fmt.Sprintf("%s..%s",
		time.UnixMilli(since).UTC().Format("2006-01-02"),
		time.UnixMilli(until).UTC().Format("2006-01-02"))
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
