package service

import (
	"testing"
	"time"

	"github.com/admirer145/Chesslyze-sub001/internal/api"
	"github.com/admirer145/Chesslyze-sub001/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testPGN = `[Event "Rated blitz game"]
[Site "https://lichess.org/abc123"]
[UTCDate "2023.11.14"]
[UTCTime "22:13:20"]
[White "alice"]
[Black "bob"]
[WhiteElo "1850"]
[BlackElo "1790"]
[Result "1-0"]
[TimeControl "300+0"]

1. e4 e5 2. Bc4 Nc6 3. Qh5 Nf6 4. Qxf7# 1-0
`

func testNow() time.Time {
	return time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
}

func lichessFixture() *api.LichessGame {
	g := &api.LichessGame{
		ID:         "abc123",
		CreatedAt:  1700000000000,
		LastMoveAt: 1700000600000,
		Speed:      "blitz",
		Perf:       "blitz",
		Variant:    "Standard",
		Rated:      true,
		PGN:        testPGN,
		Winner:     "white",
	}
	g.Clock = &struct {
		Initial   int `json:"initial"`
		Increment int `json:"increment"`
	}{Initial: 300, Increment: 0}
	g.Opening = &struct {
		ECO  string `json:"eco"`
		Name string `json:"name"`
	}{ECO: "C20", Name: "King's Pawn Game"}
	g.Players.White = api.LichessPlayer{User: &api.LichessPlayerUser{Name: "alice", Title: "FM"}, Rating: 1850}
	g.Players.Black = api.LichessPlayer{User: &api.LichessPlayerUser{Name: "bob"}, Rating: 1790}
	return g
}

func TestMapLichessGame(t *testing.T) {
	game, err := mapLichessGame(lichessFixture(), "alice", nil, testNow())
	require.NoError(t, err)
	require.NotNil(t, game)

	require.NotNil(t, game.ProviderGameID)
	assert.Equal(t, "abc123", *game.ProviderGameID)
	assert.Equal(t, int64(1700000600000), game.TimestampMs, "provider end time wins over PGN date")
	assert.Equal(t, "alice", game.White)
	assert.Equal(t, "bob", game.Black)
	require.NotNil(t, game.WhiteTitle)
	assert.Equal(t, "FM", *game.WhiteTitle)
	assert.Nil(t, game.BlackTitle)
	assert.Equal(t, "1-0", game.Result)
	assert.Equal(t, domain.SpeedBlitz, game.SpeedClass)
	assert.Equal(t, "standard", game.Variant)
	require.NotNil(t, game.ECO)
	assert.Equal(t, "C20", *game.ECO)
	assert.Equal(t, domain.ProviderLichess, game.Provider)
	assert.True(t, game.IsHero)
	assert.False(t, game.Analyzed)
	assert.Equal(t, "pending", game.AnalysisStatus)
	assert.NotEmpty(t, game.PGNHash)
}

func TestMapLichessGameTimestampFallsBackToPGNDate(t *testing.T) {
	raw := lichessFixture()
	raw.LastMoveAt = 0
	game, err := mapLichessGame(raw, "alice", nil, testNow())
	require.NoError(t, err)
	assert.Equal(t, time.Date(2023, 11, 14, 22, 13, 20, 0, time.UTC).UnixMilli(), game.TimestampMs)
}

func TestMapLichessGameSynthesizesPGNFromMoves(t *testing.T) {
	raw := lichessFixture()
	raw.PGN = ""
	raw.Moves = "e4 e5 Bc4 Nc6 Qh5 Nf6 Qxf7#"
	game, err := mapLichessGame(raw, "alice", nil, testNow())
	require.NoError(t, err)
	require.NotNil(t, game)
	assert.Contains(t, game.PGN, "1. e4 e5")
	assert.Contains(t, game.PGN, "[White \"alice\"]")
}

func TestMapLichessGameDropsWhenNothingUsable(t *testing.T) {
	raw := lichessFixture()
	raw.PGN = ""
	raw.Moves = ""
	game, err := mapLichessGame(raw, "alice", nil, testNow())
	require.NoError(t, err)
	assert.Nil(t, game)
}

func TestMapLichessGameBadMovetextIsParseError(t *testing.T) {
	raw := lichessFixture()
	raw.PGN = "[White \"a\"]\n[Black \"b\"]\n\n1. e4 e5 2. Ke3 1-0\n"
	game, err := mapLichessGame(raw, "alice", nil, testNow())
	assert.Error(t, err)
	assert.Nil(t, game)
}

func TestMapLichessGameNotHero(t *testing.T) {
	game, err := mapLichessGame(lichessFixture(), "someone-else", nil, testNow())
	require.NoError(t, err)
	assert.False(t, game.IsHero)
}

func chessComFixture() *api.ChessComGame {
	return &api.ChessComGame{
		URL:         "https://www.chess.com/game/live/123456",
		PGN:         testPGN,
		TimeControl: "300",
		TimeClass:   "blitz",
		Rated:       true,
		EndTime:     1700000600,
		Rules:       "chess",
		White:       api.ChessComPlayer{Username: "alice", Result: "win", Rating: 1850},
		Black:       api.ChessComPlayer{Username: "bob", Result: "checkmated", Rating: 1790},
		ECO:         "C20",
	}
}

func TestMapChessComGame(t *testing.T) {
	game, err := mapChessComGame(chessComFixture(), "bob", nil, testNow())
	require.NoError(t, err)
	require.NotNil(t, game)

	require.NotNil(t, game.ProviderGameID)
	assert.Equal(t, "https://www.chess.com/game/live/123456", *game.ProviderGameID)
	assert.Equal(t, int64(1700000600)*1000, game.TimestampMs)
	assert.Equal(t, "1-0", game.Result)
	assert.Equal(t, domain.SpeedBlitz, game.SpeedClass)
	assert.Equal(t, "standard", game.Variant)
	assert.Equal(t, domain.ProviderChessCom, game.Provider)
	assert.True(t, game.IsHero, "hero match is case-insensitive on either color")
}

func TestMapChessComGameSpeedFromTimeClassWhenControlOpaque(t *testing.T) {
	raw := chessComFixture()
	raw.TimeControl = "1/86400"
	raw.TimeClass = "daily"
	game, err := mapChessComGame(raw, "alice", nil, testNow())
	require.NoError(t, err)
	assert.Equal(t, domain.SpeedClassical, game.SpeedClass)
}

func TestMapChessComGameResultFromBlackWin(t *testing.T) {
	raw := chessComFixture()
	raw.White.Result = "timeout"
	raw.Black.Result = "win"
	game, err := mapChessComGame(raw, "alice", nil, testNow())
	require.NoError(t, err)
	assert.Equal(t, "0-1", game.Result)
}

func TestMapPastedPGN(t *testing.T) {
	game, err := mapPastedPGN(testPGN, "bob", nil, testNow())
	require.NoError(t, err)
	require.NotNil(t, game)

	assert.Nil(t, game.ProviderGameID, "pasted games carry hash identity only")
	assert.NotEmpty(t, game.PGNHash)
	assert.Equal(t, domain.ProviderPGN, game.Provider)
	assert.Equal(t, "alice", game.White)
	assert.True(t, game.IsHero)
	require.NotNil(t, game.WhiteRating)
	assert.Equal(t, 1850, *game.WhiteRating)
}

func TestSameGameFromTwoPathsSharesContentHash(t *testing.T) {
	fromProvider, err := mapChessComGame(chessComFixture(), "alice", nil, testNow())
	require.NoError(t, err)
	fromPaste, err := mapPastedPGN(testPGN, "alice", nil, testNow())
	require.NoError(t, err)

	assert.Equal(t, fromProvider.PGNHash, fromPaste.PGNHash)
	assert.Nil(t, fromPaste.ProviderGameID)
	assert.NotNil(t, fromProvider.ProviderGameID)
}

func TestNumberMoves(t *testing.T) {
	assert.Equal(t, "1. e4 e5 2. Nf3", numberMoves("e4 e5 Nf3"))
	assert.Equal(t, "1. e4", numberMoves("e4"))
	assert.Equal(t, "", numberMoves(""))
}
