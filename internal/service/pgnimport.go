package service

import (
	"context"
	"fmt"

	"github.com/admirer145/Chesslyze-sub001/internal/domain"
	"github.com/admirer145/Chesslyze-sub001/internal/pgn"
)

// ImportPGN ingests pasted PGN text, which may hold several games. Each
// game is validated, normalized with provider "pgn" and merged through
// the same dedup layer as provider syncs, so a paste of a game that was
// already synced from a provider lands on the existing row via its
// content hash. Games that fail to parse are counted, never fatal.
func (s *ImportService) ImportPGN(ctx context.Context, text, hero string, importTag *string) (*domain.ImportResult, error) {
	texts := pgn.SplitGames(text)
	if len(texts) == 0 {
		return nil, fmt.Errorf("no PGN games found in input")
	}

	result := &domain.ImportResult{}
	var batch []*domain.Game
	for _, gameText := range texts {
		game, err := mapPastedPGN(gameText, hero, importTag, s.now())
		if err != nil {
			result.ParseErrors++
			s.logger.Debug().Err(err).Msg("skipping unparseable pasted game")
			continue
		}
		if game == nil {
			continue
		}
		batch = append(batch, game)
	}

	if len(batch) > 0 {
		if err := s.games.UpsertBatch(ctx, batch); err != nil {
			return nil, fmt.Errorf("upsert pasted games: %w", err)
		}
	}

	result.TotalImported = len(batch)
	result.Success = true
	s.logger.Info().
		Int("imported", result.TotalImported).
		Int("parse_errors", result.ParseErrors).
		Msg("pgn import complete")
	return result, nil
}
