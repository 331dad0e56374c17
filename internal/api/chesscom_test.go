package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/admirer145/Chesslyze-sub001/internal/config"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newChessComTestClient(baseURL string) *ChessComClient {
	cfg := &config.Config{}
	cfg.ChessCom.BaseURL = baseURL
	cfg.ChessCom.UserAgent = "chesslyze-test"
	cfg.ChessCom.MaxRetries = 2
	cfg.ChessCom.Backoff = 2 * time.Millisecond
	return NewChessComClient(cfg, zerolog.Nop())
}

func TestGetProfile(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/pub/player/alice", r.URL.Path)
		assert.Equal(t, "chesslyze-test", r.Header.Get("User-Agent"))
		json.NewEncoder(w).Encode(ChessComProfile{Username: "alice", PlayerID: 99, Status: "premium"})
	}))
	defer server.Close()

	profile, err := newChessComTestClient(server.URL).GetProfile(context.Background(), "alice")
	require.NoError(t, err)
	assert.Equal(t, "alice", profile.Username)
	assert.Equal(t, int64(99), profile.PlayerID)
}

func TestGetProfileUnknownUser(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	_, err := newChessComTestClient(server.URL).GetProfile(context.Background(), "ghost")
	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.True(t, se.NotFound())
	assert.Equal(t, int32(1), calls.Load(), "404 is definitive, not retried")
}

func TestGetArchives(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/pub/player/alice/games/archives", r.URL.Path)
		json.NewEncoder(w).Encode(ChessComArchives{Archives: []string{
			"https://api.chess.com/pub/player/alice/games/2024/01",
			"https://api.chess.com/pub/player/alice/games/2024/02",
		}})
	}))
	defer server.Close()

	archives, err := newChessComTestClient(server.URL).GetArchives(context.Background(), "alice")
	require.NoError(t, err)
	require.Len(t, archives, 2)
	assert.Contains(t, archives[0], "2024/01")
}

func TestGetArchiveGamesRetriesRateLimit(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		json.NewEncoder(w).Encode(chessComArchiveGames{Games: []ChessComGame{
			{URL: "https://www.chess.com/game/live/1", EndTime: 1700000000},
		}})
	}))
	defer server.Close()

	games, err := newChessComTestClient(server.URL).GetArchiveGames(context.Background(), server.URL+"/pub/player/alice/games/2024/01")
	require.NoError(t, err)
	require.Len(t, games, 1)
	assert.Equal(t, int64(1700000000), games[0].EndTime)
	assert.Equal(t, int32(2), calls.Load())
}

func TestRateLimitExhaustion(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	start := time.Now()
	_, err := newChessComTestClient(server.URL).GetProfile(context.Background(), "alice")
	var rle *RateLimitError
	require.ErrorAs(t, err, &rle)
	assert.Equal(t, 3, rle.Attempts)
	assert.Equal(t, int32(3), calls.Load(), "initial attempt plus maxRetries")
	// backoff doubles: 2ms + 4ms minimum spent waiting
	assert.GreaterOrEqual(t, time.Since(start), 6*time.Millisecond)
}

func TestCancelledContextStopsRetries(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := newChessComTestClient(server.URL).GetProfile(ctx, "alice")
	assert.ErrorIs(t, err, context.Canceled)
}
