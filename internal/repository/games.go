package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/admirer145/Chesslyze-sub001/internal/constants"
	"github.com/admirer145/Chesslyze-sub001/internal/domain"
	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog"
)

type GameRepository struct {
	db     *sqlx.DB
	logger zerolog.Logger
}

func NewGameRepository(db *sqlx.DB, logger zerolog.Logger) *GameRepository {
	return &GameRepository{
		db:     db,
		logger: logger.With().Str("component", "game_repository").Logger(),
	}
}

type gameRow struct {
	ID             int64      `db:"id"`
	ProviderGameID *string    `db:"provider_game_id"`
	PGNHash        string     `db:"pgn_hash"`
	TimestampMs    int64      `db:"timestamp_ms"`
	White          string     `db:"white"`
	Black          string     `db:"black"`
	WhiteTitle     *string    `db:"white_title"`
	BlackTitle     *string    `db:"black_title"`
	WhiteRating    *int       `db:"white_rating"`
	BlackRating    *int       `db:"black_rating"`
	Result         string     `db:"result"`
	ECO            *string    `db:"eco"`
	OpeningName    *string    `db:"opening_name"`
	TimeControlRaw *string    `db:"time_control_raw"`
	SpeedClass     string     `db:"speed_class"`
	Variant        string     `db:"variant"`
	Rated          *bool      `db:"rated"`
	PGN            string     `db:"pgn"`
	Site           *string    `db:"site"`
	Provider       string     `db:"provider"`
	IsHero         bool       `db:"is_hero"`
	ImportTag      *string    `db:"import_tag"`
	Analyzed       bool       `db:"analyzed"`
	AnalysisStatus string     `db:"analysis_status"`
	CreatedAt      time.Time  `db:"created_at"`
	UpdatedAt      time.Time  `db:"updated_at"`
}

func (r gameRow) toDomain() *domain.Game {
	return &domain.Game{
		ID:             r.ID,
		ProviderGameID: r.ProviderGameID,
		PGNHash:        r.PGNHash,
		TimestampMs:    r.TimestampMs,
		White:          r.White,
		Black:          r.Black,
		WhiteTitle:     r.WhiteTitle,
		BlackTitle:     r.BlackTitle,
		WhiteRating:    r.WhiteRating,
		BlackRating:    r.BlackRating,
		Result:         r.Result,
		ECO:            r.ECO,
		OpeningName:    r.OpeningName,
		TimeControlRaw: r.TimeControlRaw,
		SpeedClass:     domain.SpeedClass(r.SpeedClass),
		Variant:        r.Variant,
		Rated:          r.Rated,
		PGN:            r.PGN,
		Site:           r.Site,
		Provider:       domain.Provider(r.Provider),
		IsHero:         r.IsHero,
		ImportTag:      r.ImportTag,
		Analyzed:       r.Analyzed,
		AnalysisStatus: r.AnalysisStatus,
		CreatedAt:      r.CreatedAt,
		UpdatedAt:      r.UpdatedAt,
	}
}

// identityRow is the slice of a stored game that identity resolution needs.
type identityRow struct {
	ID             int64   `db:"id"`
	ProviderGameID *string `db:"provider_game_id"`
	PGNHash        string  `db:"pgn_hash"`
	TimestampMs    int64   `db:"timestamp_ms"`
	White          string  `db:"white"`
	Black          string  `db:"black"`
}

// UpsertBatch merges a batch of canonical records idempotently. Identity
// resolves through the fallback chain provider_game_id, then pgn_hash,
// then (timestamp_ms, white, black); the whole batch is resolved with
// three SELECTs inside one transaction rather than per-record probes.
// Matched rows update in place, preserving analyzed/analysis_status and
// created_at; unmatched rows insert. A game already synced from a
// provider and re-imported as pasted PGN therefore lands on the same row
// via its content hash even though the second copy has no provider ID.
func (r *GameRepository) UpsertBatch(ctx context.Context, games []*domain.Game) error {
	if len(games) == 0 {
		return nil
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	byProviderID, byHash, byFallback, err := r.lookupExisting(ctx, tx, games)
	if err != nil {
		return err
	}

	inserted, updated := 0, 0
	for _, g := range games {
		existing := resolveIdentity(g, byProviderID, byHash, byFallback)
		if existing != nil {
			if err := updateGame(ctx, tx, existing.ID, g); err != nil {
				return fmt.Errorf("failed to update game %d: %w", existing.ID, err)
			}
			updated++
			continue
		}

		id, err := insertGame(ctx, tx, g)
		if err != nil {
			return fmt.Errorf("failed to insert game: %w", err)
		}
		// later records in the same batch must see this row
		row := identityRow{
			ID:             id,
			ProviderGameID: g.ProviderGameID,
			PGNHash:        g.PGNHash,
			TimestampMs:    g.TimestampMs,
			White:          g.White,
			Black:          g.Black,
		}
		if g.ProviderGameID != nil {
			byProviderID[*g.ProviderGameID] = row
		}
		if g.PGNHash != "" {
			byHash[g.PGNHash] = row
		}
		byFallback[fallbackKey(g.TimestampMs, g.White, g.Black)] = row
		inserted++
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit upsert batch: %w", err)
	}

	r.logger.Debug().
		Int("batch", len(games)).
		Int("inserted", inserted).
		Int("updated", updated).
		Msg("batch upserted")
	return nil
}

func (r *GameRepository) lookupExisting(ctx context.Context, tx *sqlx.Tx, games []*domain.Game) (map[string]identityRow, map[string]identityRow, map[string]identityRow, error) {
	var providerIDs []interface{}
	var hashes []interface{}
	type triple struct {
		ts           int64
		white, black string
	}
	var triples []triple

	for _, g := range games {
		if g.ProviderGameID != nil {
			providerIDs = append(providerIDs, *g.ProviderGameID)
		}
		if g.PGNHash != "" {
			hashes = append(hashes, g.PGNHash)
		}
		triples = append(triples, triple{g.TimestampMs, g.White, g.Black})
	}

	const identityCols = "id, provider_game_id, pgn_hash, timestamp_ms, white, black"

	byProviderID := make(map[string]identityRow)
	byHash := make(map[string]identityRow)
	byFallback := make(map[string]identityRow)

	collect := func(query string, args []interface{}) ([]identityRow, error) {
		var rows []identityRow
		if err := tx.SelectContext(ctx, &rows, query, args...); err != nil {
			return nil, err
		}
		return rows, nil
	}

	for start := 0; start < len(providerIDs); start += constants.DBBatchSize {
		chunk := providerIDs[start:min(start+constants.DBBatchSize, len(providerIDs))]
		query := fmt.Sprintf("SELECT %s FROM games WHERE provider_game_id IN (%s)", identityCols, placeholders(len(chunk)))
		rows, err := collect(query, chunk)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("failed to look up games by provider id: %w", err)
		}
		for _, row := range rows {
			byProviderID[*row.ProviderGameID] = row
		}
	}

	for start := 0; start < len(hashes); start += constants.DBBatchSize {
		chunk := hashes[start:min(start+constants.DBBatchSize, len(hashes))]
		query := fmt.Sprintf("SELECT %s FROM games WHERE pgn_hash IN (%s)", identityCols, placeholders(len(chunk)))
		rows, err := collect(query, chunk)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("failed to look up games by pgn hash: %w", err)
		}
		for _, row := range rows {
			byHash[row.PGNHash] = row
		}
	}

	for start := 0; start < len(triples); start += constants.DBBatchSize {
		chunk := triples[start:min(start+constants.DBBatchSize, len(triples))]
		var clauses []string
		var args []interface{}
		for _, t := range chunk {
			clauses = append(clauses, "(timestamp_ms = ? AND white = ? AND black = ?)")
			args = append(args, t.ts, t.white, t.black)
		}
		query := fmt.Sprintf("SELECT %s FROM games WHERE %s", identityCols, strings.Join(clauses, " OR "))
		rows, err := collect(query, args)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("failed to look up games by timestamp/players: %w", err)
		}
		for _, row := range rows {
			byFallback[fallbackKey(row.TimestampMs, row.White, row.Black)] = row
		}
	}

	return byProviderID, byHash, byFallback, nil
}

func resolveIdentity(g *domain.Game, byProviderID, byHash, byFallback map[string]identityRow) *identityRow {
	if g.ProviderGameID != nil {
		if row, ok := byProviderID[*g.ProviderGameID]; ok {
			return &row
		}
	}
	if g.PGNHash != "" {
		if row, ok := byHash[g.PGNHash]; ok {
			return &row
		}
	}
	if row, ok := byFallback[fallbackKey(g.TimestampMs, g.White, g.Black)]; ok {
		return &row
	}
	return nil
}

func insertGame(ctx context.Context, tx *sqlx.Tx, g *domain.Game) (int64, error) {
	now := time.Now()
	res, err := tx.ExecContext(ctx, `
		INSERT INTO games (
			provider_game_id, pgn_hash, timestamp_ms, white, black,
			white_title, black_title, white_rating, black_rating,
			result, eco, opening_name, time_control_raw, speed_class,
			variant, rated, pgn, site, provider, is_hero, import_tag,
			analyzed, analysis_status, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		g.ProviderGameID, g.PGNHash, g.TimestampMs, g.White, g.Black,
		g.WhiteTitle, g.BlackTitle, g.WhiteRating, g.BlackRating,
		g.Result, g.ECO, g.OpeningName, g.TimeControlRaw, string(g.SpeedClass),
		g.Variant, g.Rated, g.PGN, g.Site, string(g.Provider), g.IsHero, g.ImportTag,
		g.Analyzed, g.AnalysisStatus, now, now,
	)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// updateGame rewrites the mutable columns of an existing row. Analysis
// ownership sits with the analysis pipeline, so analyzed/analysis_status
// and created_at stay untouched. A provider_game_id is only ever filled
// in, never cleared: COALESCE keeps the stored one when the incoming
// record (e.g. a pasted PGN copy) has none.
func updateGame(ctx context.Context, tx *sqlx.Tx, id int64, g *domain.Game) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE games SET
			provider_game_id = COALESCE(provider_game_id, ?),
			pgn_hash = ?, timestamp_ms = ?, white = ?, black = ?,
			white_title = ?, black_title = ?, white_rating = ?, black_rating = ?,
			result = ?, eco = ?, opening_name = ?, time_control_raw = ?,
			speed_class = ?, variant = ?, rated = ?, pgn = ?, site = ?,
			is_hero = is_hero OR ?, import_tag = COALESCE(?, import_tag),
			updated_at = ?
		WHERE id = ?`,
		g.ProviderGameID,
		g.PGNHash, g.TimestampMs, g.White, g.Black,
		g.WhiteTitle, g.BlackTitle, g.WhiteRating, g.BlackRating,
		g.Result, g.ECO, g.OpeningName, g.TimeControlRaw,
		string(g.SpeedClass), g.Variant, g.Rated, g.PGN, g.Site,
		g.IsHero, g.ImportTag,
		time.Now(), id,
	)
	return err
}

// GetLatestGameTimestamp returns the end time of the newest stored game
// the given user played on the given provider, or nil when none exist.
func (r *GameRepository) GetLatestGameTimestamp(ctx context.Context, provider domain.Provider, username string) (*int64, error) {
	var ts sql.NullInt64
	err := r.db.GetContext(ctx, &ts, `
		SELECT MAX(timestamp_ms) FROM games
		WHERE provider = ? AND is_hero = 1
		  AND (LOWER(white) = LOWER(?) OR LOWER(black) = LOWER(?))`,
		string(provider), username, username,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get latest game timestamp: %w", err)
	}
	if !ts.Valid {
		return nil, nil
	}
	return &ts.Int64, nil
}

type GameFilter struct {
	Provider   domain.Provider
	Username   string
	SpeedClass domain.SpeedClass
	Limit      int
	Offset     int
}

func (r *GameRepository) List(ctx context.Context, filter GameFilter) ([]*domain.Game, error) {
	query := "SELECT * FROM games WHERE 1=1"
	var args []interface{}

	if filter.Provider != "" {
		query += " AND provider = ?"
		args = append(args, string(filter.Provider))
	}
	if filter.Username != "" {
		query += " AND (LOWER(white) = LOWER(?) OR LOWER(black) = LOWER(?))"
		args = append(args, filter.Username, filter.Username)
	}
	if filter.SpeedClass != "" {
		query += " AND speed_class = ?"
		args = append(args, string(filter.SpeedClass))
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = constants.DefaultGamesLimit
	}
	if limit > constants.MaxGamesLimit {
		limit = constants.MaxGamesLimit
	}
	query += " ORDER BY timestamp_ms DESC LIMIT ? OFFSET ?"
	args = append(args, limit, filter.Offset)

	var rows []gameRow
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list games: %w", err)
	}

	games := make([]*domain.Game, len(rows))
	for i, row := range rows {
		games[i] = row.toDomain()
	}
	return games, nil
}

func (r *GameRepository) Count(ctx context.Context) (int, error) {
	var count int
	if err := r.db.GetContext(ctx, &count, "SELECT COUNT(*) FROM games"); err != nil {
		return 0, fmt.Errorf("failed to count games: %w", err)
	}
	return count, nil
}

func fallbackKey(ts int64, white, black string) string {
	return fmt.Sprintf("%d|%s|%s", ts, strings.ToLower(white), strings.ToLower(black))
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}
