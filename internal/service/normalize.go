package service

import (
	"fmt"
	"strings"
	"time"

	"github.com/admirer145/Chesslyze-sub001/internal/api"
	"github.com/admirer145/Chesslyze-sub001/internal/domain"
	"github.com/admirer145/Chesslyze-sub001/internal/pgn"
)

// The mapping functions below share one contract: raw provider game in,
// canonical *domain.Game out. (nil, nil) drops the record silently
// (missing both a usable PGN and the fields to synthesize one); a non-nil
// error is a parse failure the caller counts and skips. Timestamp
// precedence is provider end-time, then PGN date tag, then now.

func mapLichessGame(raw *api.LichessGame, hero string, importTag *string, now time.Time) (*domain.Game, error) {
	white := lichessName(raw.Players.White)
	black := lichessName(raw.Players.Black)

	pgnText := raw.PGN
	if pgnText == "" {
		if raw.Moves == "" || white == "" || black == "" {
			return nil, nil
		}
		pgnText = synthesizeLichessPGN(raw, white, black, now)
	}

	meta, err := pgn.Parse(pgnText, now)
	if err != nil {
		return nil, fmt.Errorf("lichess game %s: %w", raw.ID, err)
	}

	ts := raw.LastMoveAt
	if ts <= 0 {
		ts = meta.TimestampMs
	}

	timeControl := meta.Tags["TimeControl"]
	if raw.Clock != nil {
		timeControl = fmt.Sprintf("%d+%d", raw.Clock.Initial, raw.Clock.Increment)
	}
	speed := pgn.ClassifySpeed(timeControl)

	eco, opening := meta.Tags["ECO"], meta.Tags["Opening"]
	if raw.Opening != nil {
		eco, opening = raw.Opening.ECO, raw.Opening.Name
	}

	variant := strings.ToLower(raw.Variant)
	if variant == "" {
		variant = "standard"
	}

	providerID := raw.ID
	rated := raw.Rated
	site := "https://lichess.org/" + raw.ID

	g := &domain.Game{
		ProviderGameID: &providerID,
		PGNHash:        pgn.ContentHash(pgnText),
		TimestampMs:    ts,
		White:          white,
		Black:          black,
		WhiteTitle:     optString(lichessTitle(raw.Players.White)),
		BlackTitle:     optString(lichessTitle(raw.Players.Black)),
		WhiteRating:    optRating(raw.Players.White.Rating, meta.WhiteRating),
		BlackRating:    optRating(raw.Players.Black.Rating, meta.BlackRating),
		Result:         resultFromWinner(raw.Winner, meta.Tags["Result"]),
		ECO:            optString(eco),
		OpeningName:    optString(opening),
		TimeControlRaw: optString(timeControl),
		SpeedClass:     speed,
		Variant:        variant,
		Rated:          &rated,
		PGN:            pgnText,
		Site:           &site,
		Provider:       domain.ProviderLichess,
		IsHero:         equalsFold(hero, white) || equalsFold(hero, black),
		ImportTag:      importTag,
		Analyzed:       false,
		AnalysisStatus: "pending",
	}
	return g, nil
}

func mapChessComGame(raw *api.ChessComGame, hero string, importTag *string, now time.Time) (*domain.Game, error) {
	white := raw.White.Username
	black := raw.Black.Username

	pgnText := raw.PGN
	if pgnText == "" {
		if white == "" || black == "" || raw.EndTime == 0 {
			return nil, nil
		}
		pgnText = synthesizeChessComPGN(raw)
	}

	meta, err := pgn.Parse(pgnText, now)
	if err != nil {
		return nil, fmt.Errorf("chesscom game %s: %w", raw.URL, err)
	}

	ts := raw.EndTime * 1000
	if ts <= 0 {
		ts = meta.TimestampMs
	}

	timeControl := raw.TimeControl
	if timeControl == "" {
		timeControl = meta.Tags["TimeControl"]
	}
	speed := pgn.ClassifySpeed(timeControl)
	if speed == domain.SpeedStandard {
		speed = speedFromTimeClass(raw.TimeClass, speed)
	}

	eco := raw.ECO
	if eco == "" {
		eco = meta.Tags["ECO"]
	}

	variant := strings.ToLower(raw.Rules)
	if variant == "" || variant == "chess" {
		variant = "standard"
	}

	providerID := raw.URL
	rated := raw.Rated

	g := &domain.Game{
		ProviderGameID: optString(providerID),
		PGNHash:        pgn.ContentHash(pgnText),
		TimestampMs:    ts,
		White:          white,
		Black:          black,
		WhiteTitle:     optString(meta.Tags["WhiteTitle"]),
		BlackTitle:     optString(meta.Tags["BlackTitle"]),
		WhiteRating:    optRating(raw.White.Rating, meta.WhiteRating),
		BlackRating:    optRating(raw.Black.Rating, meta.BlackRating),
		Result:         chessComResult(raw.White.Result, raw.Black.Result, meta.Tags["Result"]),
		ECO:            optString(eco),
		OpeningName:    optString(meta.Tags["Opening"]),
		TimeControlRaw: optString(timeControl),
		SpeedClass:     speed,
		Variant:        variant,
		Rated:          &rated,
		PGN:            pgnText,
		Site:           optString(raw.URL),
		Provider:       domain.ProviderChessCom,
		IsHero:         equalsFold(hero, white) || equalsFold(hero, black),
		ImportTag:      importTag,
		Analyzed:       false,
		AnalysisStatus: "pending",
	}
	return g, nil
}

// mapPastedPGN normalizes one game of a raw PGN paste. There is no
// provider ID; the content hash carries identity.
func mapPastedPGN(pgnText, hero string, importTag *string, now time.Time) (*domain.Game, error) {
	meta, err := pgn.Parse(pgnText, now)
	if err != nil {
		return nil, err
	}

	white := meta.Tags["White"]
	black := meta.Tags["Black"]
	if white == "" || black == "" {
		return nil, nil
	}

	result := meta.Tags["Result"]
	if !validResult(result) {
		result = "1/2-1/2"
	}

	g := &domain.Game{
		PGNHash:        pgn.ContentHash(pgnText),
		TimestampMs:    meta.TimestampMs,
		White:          white,
		Black:          black,
		WhiteTitle:     optString(meta.Tags["WhiteTitle"]),
		BlackTitle:     optString(meta.Tags["BlackTitle"]),
		WhiteRating:    meta.WhiteRating,
		BlackRating:    meta.BlackRating,
		Result:         result,
		ECO:            optString(meta.Tags["ECO"]),
		OpeningName:    optString(meta.Tags["Opening"]),
		TimeControlRaw: optString(meta.Tags["TimeControl"]),
		SpeedClass:     meta.Speed,
		Variant:        "standard",
		PGN:            pgnText,
		Site:           optString(meta.Tags["Site"]),
		Provider:       domain.ProviderPGN,
		IsHero:         equalsFold(hero, white) || equalsFold(hero, black),
		ImportTag:      importTag,
		Analyzed:       false,
		AnalysisStatus: "pending",
	}
	return g, nil
}

func synthesizeLichessPGN(raw *api.LichessGame, white, black string, now time.Time) string {
	result := resultFromWinner(raw.Winner, "")
	endAt := time.UnixMilli(raw.LastMoveAt).UTC()
	if raw.LastMoveAt <= 0 {
		endAt = now.UTC()
	}
	tags := []pgn.Tag{
		{Key: "Event", Value: "Lichess " + raw.Perf},
		{Key: "Site", Value: "https://lichess.org/" + raw.ID},
		{Key: "UTCDate", Value: endAt.Format("2006.01.02")},
		{Key: "UTCTime", Value: endAt.Format("15:04:05")},
		{Key: "White", Value: white},
		{Key: "Black", Value: black},
		{Key: "Result", Value: result},
	}
	if raw.Clock != nil {
		tags = append(tags, pgn.Tag{Key: "TimeControl", Value: fmt.Sprintf("%d+%d", raw.Clock.Initial, raw.Clock.Increment)})
	}
	return pgn.Build(tags, numberMoves(raw.Moves), result)
}

func synthesizeChessComPGN(raw *api.ChessComGame) string {
	result := chessComResult(raw.White.Result, raw.Black.Result, "")
	endAt := time.Unix(raw.EndTime, 0).UTC()
	tags := []pgn.Tag{
		{Key: "Event", Value: "Chess.com " + raw.TimeClass},
		{Key: "Site", Value: raw.URL},
		{Key: "UTCDate", Value: endAt.Format("2006.01.02")},
		{Key: "UTCTime", Value: endAt.Format("15:04:05")},
		{Key: "White", Value: raw.White.Username},
		{Key: "Black", Value: raw.Black.Username},
		{Key: "TimeControl", Value: raw.TimeControl},
		{Key: "Result", Value: result},
	}
	return pgn.Build(tags, "", result)
}

// numberMoves turns the bare SAN list of the lichess "moves" field into
// numbered movetext ("e4 e5 Nf3" -> "1. e4 e5 2. Nf3").
func numberMoves(moves string) string {
	fields := strings.Fields(moves)
	if len(fields) == 0 {
		return ""
	}
	var b strings.Builder
	for i, mv := range fields {
		if i%2 == 0 {
			if i > 0 {
				b.WriteString(" ")
			}
			fmt.Fprintf(&b, "%d. ", i/2+1)
		} else {
			b.WriteString(" ")
		}
		b.WriteString(mv)
	}
	return b.String()
}

func resultFromWinner(winner, tagResult string) string {
	if validResult(tagResult) {
		return tagResult
	}
	switch winner {
	case "white":
		return "1-0"
	case "black":
		return "0-1"
	default:
		return "1/2-1/2"
	}
}

func chessComResult(whiteResult, blackResult, tagResult string) string {
	switch {
	case whiteResult == "win":
		return "1-0"
	case blackResult == "win":
		return "0-1"
	case validResult(tagResult):
		return tagResult
	default:
		return "1/2-1/2"
	}
}

func validResult(r string) bool {
	return r == "1-0" || r == "0-1" || r == "1/2-1/2"
}

func speedFromTimeClass(timeClass string, fallback domain.SpeedClass) domain.SpeedClass {
	switch timeClass {
	case "bullet":
		return domain.SpeedBullet
	case "blitz":
		return domain.SpeedBlitz
	case "rapid":
		return domain.SpeedRapid
	case "daily", "classical":
		return domain.SpeedClassical
	default:
		return fallback
	}
}

func lichessName(p api.LichessPlayer) string {
	if p.User != nil && p.User.Name != "" {
		return p.User.Name
	}
	return "Anonymous"
}

func lichessTitle(p api.LichessPlayer) string {
	if p.User != nil {
		return p.User.Title
	}
	return ""
}

func optString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func optRating(provider int, fromPGN *int) *int {
	if provider > 0 {
		return &provider
	}
	return fromPGN
}

func equalsFold(a, b string) bool {
	return a != "" && strings.EqualFold(a, b)
}
