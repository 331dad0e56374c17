package service

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/admirer145/Chesslyze-sub001/internal/constants"
	"github.com/admirer145/Chesslyze-sub001/internal/domain"
	"golang.org/x/sync/errgroup"
)

// runChessCom imports via the monthly archive API. Discovery fetches the
// profile (unknown user fails here, before any chunk work) and the
// archive index in parallel, filters archives to the target window, then
// walks them oldest first. One archive is one chunk; the checkpoint
// cursor is the index into the filtered list, so a resume replays from
// that index and never re-fetches completed archives.
func (s *ImportService) runChessCom(ctx context.Context, run *syncRun) error {
	cp := run.cp

	archives, err := s.discoverChessCom(ctx, run.opts.Username)
	if err != nil {
		return err
	}

	filtered := filterArchives(archives, cp.TargetSince, cp.TargetUntil)
	s.logger.Info().
		Str("username", run.opts.Username).
		Int("archives", len(archives)).
		Int("in_window", len(filtered)).
		Msg("chesscom archives discovered")

	total := len(filtered)
	for i := int(cp.Cursor); i < total; i++ {
		if ctx.Err() != nil {
			run.cancelled = true
			return nil
		}

		archiveURL := filtered[i]
		chunkSince, chunkUntil := archiveWindow(archiveURL)

		run.emit(ProgressProgress,
			fmt.Sprintf("fetching archive %d/%d", i+1, total),
			percentage(float64(i), float64(total)))

		games, err := s.fetchChessComChunk(ctx, run, archiveURL)
		switch {
		case err != nil && isCancellation(err):
			run.cancelled = true
			return nil
		case err != nil:
			// one bad month must not block the rest of history
			s.logger.Warn().Err(err).Str("archive", archiveURL).Msg("chesscom chunk failed after retries")
			run.recordFailedChunk(chunkSince, chunkUntil, err, s.now())
			run.emit(ProgressChunkError,
				fmt.Sprintf("archive %d/%d failed: %v", i+1, total, err),
				percentage(float64(i+1), float64(total)))
		default:
			cp.TotalImported += len(games)
			run.emit(ProgressChunkComplete,
				fmt.Sprintf("imported %d games from archive %d/%d", len(games), i+1, total),
				percentage(float64(i+1), float64(total)))
		}

		cp.Cursor = int64(i + 1)
		s.saveCheckpoint(ctx, run)
	}

	return nil
}

func (s *ImportService) discoverChessCom(ctx context.Context, username string) ([]string, error) {
	discoverCtx, cancel := context.WithTimeout(ctx, constants.ExternalAPITimeout)
	defer cancel()

	g, gCtx := errgroup.WithContext(discoverCtx)
	var archives []string

	g.Go(func() error {
		_, err := s.chesscom.GetProfile(gCtx, username)
		if err != nil {
			return fmt.Errorf("chesscom profile for %q: %w", username, err)
		}
		return nil
	})

	g.Go(func() error {
		var err error
		archives, err = s.chesscom.GetArchives(gCtx, username)
		if err != nil {
			return fmt.Errorf("chesscom archives for %q: %w", username, err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return archives, nil
}

// fetchChessComChunk fetches one archive, keeps the games whose end time
// falls inside the window, maps and upserts them.
func (s *ImportService) fetchChessComChunk(ctx context.Context, run *syncRun, archiveURL string) ([]*domain.Game, error) {
	chunkCtx, cancel := context.WithTimeout(ctx, constants.ExternalAPITimeout)
	defer cancel()

	rawGames, err := s.chesscom.GetArchiveGames(chunkCtx, archiveURL)
	if err != nil {
		return nil, err
	}

	var batch []*domain.Game
	for i := range rawGames {
		raw := &rawGames[i]
		endMs := raw.EndTime * 1000
		if endMs < run.cp.TargetSince || endMs >= run.cp.TargetUntil {
			continue
		}
		game, err := mapChessComGame(raw, run.opts.Username, run.opts.ImportTag, s.now())
		if err != nil {
			run.parseErrors++
			s.logger.Debug().Err(err).Str("url", raw.URL).Msg("skipping unparseable game")
			continue
		}
		if game == nil {
			continue
		}
		batch = append(batch, game)
	}

	if len(batch) > 0 {
		if err := s.games.UpsertBatch(ctx, batch); err != nil {
			return nil, fmt.Errorf("upsert batch: %w", err)
		}
	}
	return batch, nil
}

// filterArchives keeps the monthly archive URLs whose calendar month
// intersects the half-open window: monthEnd > since && monthStart <= until.
func filterArchives(archives []string, since, until int64) []string {
	var filtered []string
	for _, u := range archives {
		start, end, ok := parseArchiveMonth(u)
		if !ok {
			continue
		}
		if end > since && start <= until {
			filtered = append(filtered, u)
		}
	}
	return filtered
}

// parseArchiveMonth extracts the .../games/YYYY/MM suffix and returns the
// month boundaries in epoch ms.
func parseArchiveMonth(archiveURL string) (int64, int64, bool) {
	parts := strings.Split(strings.TrimRight(archiveURL, "/"), "/")
	if len(parts) < 2 {
		return 0, 0, false
	}
	year, err := strconv.Atoi(parts[len(parts)-2])
	if err != nil {
		return 0, 0, false
	}
	month, err := strconv.Atoi(parts[len(parts)-1])
	if err != nil || month < 1 || month > 12 {
		return 0, 0, false
	}

	start := time.Date(year, time.Month(month), 1, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 1, 0)
	return start.UnixMilli(), end.UnixMilli(), true
}

// archiveWindow is the failed-chunk label for one archive.
func archiveWindow(archiveURL string) (int64, int64) {
	start, end, ok := parseArchiveMonth(archiveURL)
	if !ok {
		return 0, 0
	}
	return start, end
}
