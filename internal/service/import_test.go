package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/admirer145/Chesslyze-sub001/internal/api"
	"github.com/admirer145/Chesslyze-sub001/internal/config"
	"github.com/admirer145/Chesslyze-sub001/internal/constants"
	"github.com/admirer145/Chesslyze-sub001/internal/domain"
	"github.com/admirer145/Chesslyze-sub001/internal/repository"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeGameStore struct {
	mu      sync.Mutex
	upserts [][]*domain.Game
	latest  *int64
}

func (f *fakeGameStore) UpsertBatch(ctx context.Context, games []*domain.Game) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	batch := make([]*domain.Game, len(games))
	copy(batch, games)
	f.upserts = append(f.upserts, batch)
	return nil
}

func (f *fakeGameStore) GetLatestGameTimestamp(ctx context.Context, provider domain.Provider, username string) (*int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.latest, nil
}

func (f *fakeGameStore) List(ctx context.Context, filter repository.GameFilter) ([]*domain.Game, error) {
	return f.all(), nil
}

func (f *fakeGameStore) all() []*domain.Game {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*domain.Game
	for _, batch := range f.upserts {
		out = append(out, batch...)
	}
	return out
}

type fakeCheckpointStore struct {
	mu      sync.Mutex
	saved   []domain.ImportCheckpoint
	current map[string]domain.ImportCheckpoint
}

func newFakeCheckpointStore() *fakeCheckpointStore {
	return &fakeCheckpointStore{current: make(map[string]domain.ImportCheckpoint)}
}

func cpKey(provider domain.Provider, username string) string {
	return string(provider) + "/" + username
}

func (f *fakeCheckpointStore) Save(ctx context.Context, cp *domain.ImportCheckpoint) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	snapshot := *cp
	snapshot.FailedChunks = append([]domain.FailedChunk(nil), cp.FailedChunks...)
	f.saved = append(f.saved, snapshot)
	f.current[cpKey(cp.Provider, cp.Username)] = snapshot
	return nil
}

func (f *fakeCheckpointStore) Load(ctx context.Context, provider domain.Provider, username string) (*domain.ImportCheckpoint, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp, ok := f.current[cpKey(provider, username)]
	if !ok {
		return nil, nil
	}
	out := cp
	return &out, nil
}

func (f *fakeCheckpointStore) Clear(ctx context.Context, provider domain.Provider, username string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.current, cpKey(provider, username))
	return nil
}

func (f *fakeCheckpointStore) stored(provider domain.Provider, username string) *domain.ImportCheckpoint {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp, ok := f.current[cpKey(provider, username)]
	if !ok {
		return nil
	}
	out := cp
	return &out
}

func fastConfig(lichessURL, chesscomURL string) *config.Config {
	return &config.Config{
		Lichess: config.LichessConfig{
			BaseURL:     lichessURL,
			MaxAttempts: 3,
			RateBackoff: 5 * time.Millisecond,
			NetBackoff:  2 * time.Millisecond,
			ChunkPacing: time.Millisecond,
		},
		ChessCom: config.ChessComConfig{
			BaseURL:    chesscomURL,
			UserAgent:  "chesslyze-test",
			MaxRetries: 2,
			Backoff:    10 * time.Millisecond,
		},
	}
}

func newTestService(cfg *config.Config, games GameStore, checkpoints CheckpointStore, now time.Time) *ImportService {
	log := zerolog.Nop()
	svc := NewImportService(
		api.NewLichessClient(cfg, log),
		api.NewChessComClient(cfg, log),
		games,
		checkpoints,
		nil,
		cfg,
		log,
	)
	svc.now = func() time.Time { return now }
	return svc
}

type eventRecorder struct {
	mu     sync.Mutex
	events []ProgressEvent
}

func (r *eventRecorder) record(e ProgressEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *eventRecorder) all() []ProgressEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]ProgressEvent(nil), r.events...)
}

func (r *eventRecorder) assertMonotonicEndingAt100(t *testing.T) {
	t.Helper()
	events := r.all()
	require.NotEmpty(t, events)
	last := 0.0
	for _, e := range events {
		assert.GreaterOrEqual(t, e.Percentage, last, "percentage regressed on %s event", e.Type)
		assert.LessOrEqual(t, e.Percentage, 100.0)
		last = e.Percentage
	}
	final := events[len(events)-1]
	assert.Equal(t, ProgressSuccess, final.Type)
	assert.Equal(t, 100.0, final.Percentage)
}

func marshalLichessGame(t *testing.T, id string) []byte {
	t.Helper()
	g := api.LichessGame{
		ID:         id,
		LastMoveAt: 1700000600000,
		Rated:      true,
		PGN:        testPGN,
		Winner:     "white",
	}
	g.Players.White = api.LichessPlayer{User: &api.LichessPlayerUser{Name: "alice"}, Rating: 1850}
	g.Players.Black = api.LichessPlayer{User: &api.LichessPlayerUser{Name: "bob"}, Rating: 1790}
	data, err := json.Marshal(g)
	require.NoError(t, err)
	return data
}

func TestLichessSyncMixedValidAndMalformedLines(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/games/user/alice", r.URL.Path)
		w.Write(marshalLichessGame(t, "game1"))
		w.Write([]byte("\n"))
		w.Write([]byte("{this is not json\n"))
		w.Write(marshalLichessGame(t, "game2"))
		w.Write([]byte("\n"))
	}))
	defer server.Close()

	games := &fakeGameStore{}
	checkpoints := newFakeCheckpointStore()
	svc := newTestService(fastConfig(server.URL, ""), games, checkpoints, testNow())

	rec := &eventRecorder{}
	result, err := svc.Sync(context.Background(), SyncOptions{
		Provider: domain.ProviderLichess,
		Username: "alice",
		Mode:     domain.ModeCustom,
		Since:    1700000000000,
		Until:    1700086400000,
	}, rec.record)
	require.NoError(t, err)

	assert.Equal(t, 2, result.TotalImported)
	assert.Equal(t, 1, result.ParseErrors)
	assert.True(t, result.Success)
	assert.False(t, result.Cancelled)
	assert.Empty(t, result.FailedChunks)

	rec.assertMonotonicEndingAt100(t)
	assert.Nil(t, checkpoints.stored(domain.ProviderLichess, "alice"), "checkpoint cleared on success")

	var sawProgress bool
	for _, e := range rec.all() {
		if e.Type == ProgressProgress {
			sawProgress = true
		}
	}
	assert.True(t, sawProgress, "within-run progress events emitted")
}

func TestLichessSyncMultiChunkPercentageMonotonic(t *testing.T) {
	var requests int
	var mu sync.Mutex
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		requests++
		mu.Unlock()
		w.Write(marshalLichessGame(t, fmt.Sprintf("game%s", r.URL.Query().Get("since"))))
		w.Write([]byte("\n"))
	}))
	defer server.Close()

	games := &fakeGameStore{}
	checkpoints := newFakeCheckpointStore()
	svc := newTestService(fastConfig(server.URL, ""), games, checkpoints, testNow())

	// 200 days: three 90-day chunks, last one clamped
	until := testNow().UnixMilli()
	since := until - 200*24*time.Hour.Milliseconds()

	rec := &eventRecorder{}
	result, err := svc.Sync(context.Background(), SyncOptions{
		Provider: domain.ProviderLichess,
		Username: "alice",
		Mode:     domain.ModeCustom,
		Since:    since,
		Until:    until,
	}, rec.record)
	require.NoError(t, err)

	mu.Lock()
	assert.Equal(t, 3, requests)
	mu.Unlock()
	assert.Equal(t, 3, result.TotalImported)
	assert.True(t, result.Success)
	rec.assertMonotonicEndingAt100(t)
}

func TestLichessSyncRecordsFailedChunkAndContinues(t *testing.T) {
	until := testNow().UnixMilli()
	since := until - 120*24*time.Hour.Milliseconds() // two chunks

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("since") == fmt.Sprintf("%d", since) {
			// first chunk dies with a non-retryable status
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Write(marshalLichessGame(t, "ok"))
		w.Write([]byte("\n"))
	}))
	defer server.Close()

	games := &fakeGameStore{}
	checkpoints := newFakeCheckpointStore()
	svc := newTestService(fastConfig(server.URL, ""), games, checkpoints, testNow())

	rec := &eventRecorder{}
	result, err := svc.Sync(context.Background(), SyncOptions{
		Provider: domain.ProviderLichess,
		Username: "alice",
		Mode:     domain.ModeCustom,
		Since:    since,
		Until:    until,
	}, rec.record)
	require.NoError(t, err)

	assert.Equal(t, 1, result.TotalImported, "second chunk still imported")
	require.Len(t, result.FailedChunks, 1)
	assert.Equal(t, since, result.FailedChunks[0].Since)
	assert.False(t, result.Success)

	cp := checkpoints.stored(domain.ProviderLichess, "alice")
	require.NotNil(t, cp, "checkpoint kept when chunks failed")
	assert.Equal(t, domain.CheckpointCompleted, cp.Status)

	var sawChunkError bool
	for _, e := range rec.all() {
		if e.Type == ProgressChunkError {
			sawChunkError = true
		}
	}
	assert.True(t, sawChunkError)
}

func TestLichessSyncUnknownUserAbortsImmediately(t *testing.T) {
	var requests int
	var mu sync.Mutex
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		requests++
		mu.Unlock()
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	games := &fakeGameStore{}
	checkpoints := newFakeCheckpointStore()
	svc := newTestService(fastConfig(server.URL, ""), games, checkpoints, testNow())

	// full mode spans epoch to now; an unknown user must not grind
	// through every window
	_, err := svc.Sync(context.Background(), SyncOptions{
		Provider: domain.ProviderLichess,
		Username: "ghost",
		Mode:     domain.ModeFull,
	}, nil)
	require.Error(t, err)

	var statusErr *api.StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.True(t, statusErr.NotFound())

	mu.Lock()
	assert.Equal(t, 1, requests, "aborts on the first window")
	mu.Unlock()
	assert.Empty(t, games.all())

	cp := checkpoints.stored(domain.ProviderLichess, "ghost")
	require.NotNil(t, cp)
	assert.Equal(t, domain.CheckpointPaused, cp.Status)
}

func chessComTestServer(t *testing.T, months []string, hooks map[string]http.HandlerFunc) (*httptest.Server, func(month string) int) {
	t.Helper()
	var mu sync.Mutex
	counts := make(map[string]int)

	mux := http.NewServeMux()
	server := httptest.NewServer(mux)

	mux.HandleFunc("/pub/player/bob", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(api.ChessComProfile{Username: "bob"})
	})
	mux.HandleFunc("/pub/player/bob/games/archives", func(w http.ResponseWriter, r *http.Request) {
		var urls []string
		for _, m := range months {
			urls = append(urls, server.URL+"/pub/player/bob/games/"+m)
		}
		json.NewEncoder(w).Encode(api.ChessComArchives{Archives: urls})
	})
	for _, month := range months {
		month := month
		mux.HandleFunc("/pub/player/bob/games/"+month, func(w http.ResponseWriter, r *http.Request) {
			mu.Lock()
			counts[month]++
			n := counts[month]
			mu.Unlock()

			if hook, ok := hooks[month]; ok {
				r.Header.Set("X-Attempt", fmt.Sprintf("%d", n))
				hook(w, r)
				return
			}
			writeArchive(w, month)
		})
	}

	return server, func(month string) int {
		mu.Lock()
		defer mu.Unlock()
		return counts[month]
	}
}

func writeArchive(w http.ResponseWriter, month string) {
	endTimes := map[string]int64{
		"2024/01": time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC).Unix(),
		"2024/02": time.Date(2024, 2, 15, 0, 0, 0, 0, time.UTC).Unix(),
		"2024/03": time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC).Unix(),
		"2024/04": time.Date(2024, 4, 15, 0, 0, 0, 0, time.UTC).Unix(),
	}
	game := api.ChessComGame{
		URL:         "https://www.chess.com/game/live/" + month,
		PGN:         testPGN,
		TimeControl: "300",
		TimeClass:   "blitz",
		Rated:       true,
		EndTime:     endTimes[month],
		Rules:       "chess",
		White:       api.ChessComPlayer{Username: "bob", Result: "win", Rating: 1500},
		Black:       api.ChessComPlayer{Username: "carol", Result: "checkmated", Rating: 1480},
	}
	json.NewEncoder(w).Encode(map[string]interface{}{"games": []api.ChessComGame{game}})
}

func chessComWindow() (int64, int64) {
	since := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC).UnixMilli()
	until := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC).UnixMilli()
	return since, until
}

func TestChessComSyncRetriesRateLimitedArchive(t *testing.T) {
	months := []string{"2024/01", "2024/02", "2024/03", "2024/04"}
	server, counts := chessComTestServer(t, months, map[string]http.HandlerFunc{
		"2024/02": func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("X-Attempt") != "3" {
				w.WriteHeader(http.StatusTooManyRequests)
				return
			}
			writeArchive(w, "2024/02")
		},
	})
	defer server.Close()

	games := &fakeGameStore{}
	checkpoints := newFakeCheckpointStore()
	cfg := fastConfig("", server.URL)
	svc := newTestService(cfg, games, checkpoints, testNow())

	since, until := chessComWindow()
	start := time.Now()
	rec := &eventRecorder{}
	result, err := svc.Sync(context.Background(), SyncOptions{
		Provider: domain.ProviderChessCom,
		Username: "bob",
		Mode:     domain.ModeCustom,
		Since:    since,
		Until:    until,
	}, rec.record)
	require.NoError(t, err)
	elapsed := time.Since(start)

	assert.Equal(t, 3, counts("2024/02"), "429 twice, success on third attempt")
	assert.Equal(t, 1, counts("2024/01"))
	// two backoff delays, doubling: backoff + 2*backoff
	assert.GreaterOrEqual(t, elapsed, 3*cfg.ChessCom.Backoff)

	assert.Equal(t, 4, result.TotalImported, "rate-limited archive's games still counted")
	assert.True(t, result.Success)
	assert.Empty(t, result.FailedChunks)
	rec.assertMonotonicEndingAt100(t)
}

func TestChessComSyncCancelAndResume(t *testing.T) {
	months := []string{"2024/01", "2024/02", "2024/03"}
	server, counts := chessComTestServer(t, months, nil)
	defer server.Close()

	games := &fakeGameStore{}
	checkpoints := newFakeCheckpointStore()
	svc := newTestService(fastConfig("", server.URL), games, checkpoints, testNow())
	since, until := chessComWindow()

	ctx, cancel := context.WithCancel(context.Background())
	result, err := svc.Sync(ctx, SyncOptions{
		Provider: domain.ProviderChessCom,
		Username: "bob",
		Mode:     domain.ModeCustom,
		Since:    since,
		Until:    until,
	}, func(e ProgressEvent) {
		if e.Type == ProgressChunkComplete {
			cancel() // cooperative: takes effect at the next chunk boundary
		}
	})
	require.NoError(t, err)
	assert.True(t, result.Cancelled)
	assert.Equal(t, 1, result.TotalImported)

	cp := checkpoints.stored(domain.ProviderChessCom, "bob")
	require.NotNil(t, cp)
	assert.Equal(t, domain.CheckpointPaused, cp.Status)
	assert.Equal(t, int64(1), cp.Cursor)
	assert.Equal(t, 1, counts("2024/01"))
	assert.Equal(t, 0, counts("2024/02"))

	// resume: only the remaining archives replay
	result2, err := svc.Sync(context.Background(), SyncOptions{
		Provider: domain.ProviderChessCom,
		Username: "bob",
		Mode:     domain.ModeCustom,
		Since:    since,
		Until:    until,
	}, nil)
	require.NoError(t, err)
	assert.True(t, result2.Success)
	assert.Equal(t, 3, result2.TotalImported, "running total carries across the resume")

	assert.Equal(t, 1, counts("2024/01"), "completed archive never re-fetched")
	assert.Equal(t, 1, counts("2024/02"))
	assert.Equal(t, 1, counts("2024/03"))
	assert.Len(t, games.all(), 3, "no duplicate upserts across the resume")
	assert.Nil(t, checkpoints.stored(domain.ProviderChessCom, "bob"))
}

func TestChessComSyncRetriesFailedMonthOnNextSync(t *testing.T) {
	months := []string{"2024/01", "2024/02", "2024/03"}
	server, counts := chessComTestServer(t, months, map[string]http.HandlerFunc{
		"2024/02": func(w http.ResponseWriter, r *http.Request) {
			// broken on the first sync, recovered afterwards
			if r.Header.Get("X-Attempt") == "1" {
				w.WriteHeader(http.StatusInternalServerError)
				return
			}
			writeArchive(w, "2024/02")
		},
	})
	defer server.Close()

	games := &fakeGameStore{}
	checkpoints := newFakeCheckpointStore()
	svc := newTestService(fastConfig("", server.URL), games, checkpoints, testNow())
	since, until := chessComWindow()
	opts := SyncOptions{
		Provider: domain.ProviderChessCom,
		Username: "bob",
		Mode:     domain.ModeCustom,
		Since:    since,
		Until:    until,
	}

	result, err := svc.Sync(context.Background(), opts, nil)
	require.NoError(t, err)
	assert.False(t, result.Success)
	require.Len(t, result.FailedChunks, 1)
	assert.Equal(t, 2, result.TotalImported)

	cp := checkpoints.stored(domain.ProviderChessCom, "bob")
	require.NotNil(t, cp)
	assert.Equal(t, domain.CheckpointCompleted, cp.Status)

	// a spent checkpoint is not resumed: the next sync walks a fresh
	// window and picks the recovered month back up
	result2, err := svc.Sync(context.Background(), opts, nil)
	require.NoError(t, err)
	assert.True(t, result2.Success)
	assert.Empty(t, result2.FailedChunks)
	assert.Equal(t, 3, result2.TotalImported)
	assert.Equal(t, 2, counts("2024/02"), "recovered month refetched")
	assert.Nil(t, checkpoints.stored(domain.ProviderChessCom, "bob"))
}

func TestChessComSyncUnknownUserFailsBeforeLoop(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	games := &fakeGameStore{}
	checkpoints := newFakeCheckpointStore()
	svc := newTestService(fastConfig("", server.URL), games, checkpoints, testNow())

	since, until := chessComWindow()
	_, err := svc.Sync(context.Background(), SyncOptions{
		Provider: domain.ProviderChessCom,
		Username: "bob",
		Mode:     domain.ModeCustom,
		Since:    since,
		Until:    until,
	}, nil)
	require.Error(t, err)

	var statusErr *api.StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.True(t, statusErr.NotFound())
	assert.Empty(t, games.all())

	cp := checkpoints.stored(domain.ProviderChessCom, "bob")
	require.NotNil(t, cp, "aborted sync leaves a resumable checkpoint")
	assert.Equal(t, domain.CheckpointPaused, cp.Status)
}

func TestChessComSyncEmptyArchiveListCompletesAt100(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/pub/player/bob", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(api.ChessComProfile{Username: "bob"})
	})
	mux.HandleFunc("/pub/player/bob/games/archives", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(api.ChessComArchives{Archives: []string{}})
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	games := &fakeGameStore{}
	checkpoints := newFakeCheckpointStore()
	svc := newTestService(fastConfig("", server.URL), games, checkpoints, testNow())

	since, until := chessComWindow()
	rec := &eventRecorder{}
	result, err := svc.Sync(context.Background(), SyncOptions{
		Provider: domain.ProviderChessCom,
		Username: "bob",
		Mode:     domain.ModeCustom,
		Since:    since,
		Until:    until,
	}, rec.record)
	require.NoError(t, err)

	assert.True(t, result.Success)
	assert.Zero(t, result.TotalImported)
	rec.assertMonotonicEndingAt100(t)
}

func TestSmartWindowWithoutLocalGames(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// empty export
	}))
	defer server.Close()

	now := testNow()
	games := &fakeGameStore{}
	checkpoints := newFakeCheckpointStore()
	svc := newTestService(fastConfig(server.URL, ""), games, checkpoints, now)

	_, err := svc.Sync(context.Background(), SyncOptions{
		Provider: domain.ProviderLichess,
		Username: "alice",
		Mode:     domain.ModeSmart,
	}, nil)
	require.NoError(t, err)

	require.NotEmpty(t, checkpoints.saved)
	first := checkpoints.saved[0]
	assert.Equal(t, now.UnixMilli()-constants.ImportWindow.Milliseconds(), first.TargetSince)
	assert.Equal(t, now.UnixMilli(), first.TargetUntil)
}

func TestSmartWindowStartsAfterLatestLocalGame(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer server.Close()

	now := testNow()
	latest := now.Add(-10 * 24 * time.Hour).UnixMilli()
	games := &fakeGameStore{latest: &latest}
	checkpoints := newFakeCheckpointStore()
	svc := newTestService(fastConfig(server.URL, ""), games, checkpoints, now)

	_, err := svc.Sync(context.Background(), SyncOptions{
		Provider: domain.ProviderLichess,
		Username: "alice",
		Mode:     domain.ModeSmart,
	}, nil)
	require.NoError(t, err)

	require.NotEmpty(t, checkpoints.saved)
	assert.Equal(t, latest+1, checkpoints.saved[0].TargetSince)
}

func TestSmartWindowWidensToOldFailedChunk(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer server.Close()

	now := testNow()
	failedSince := now.Add(-200 * 24 * time.Hour).UnixMilli()
	checkpoints := newFakeCheckpointStore()
	require.NoError(t, checkpoints.Save(context.Background(), &domain.ImportCheckpoint{
		Provider: domain.ProviderLichess,
		Username: "alice",
		Status:   domain.CheckpointCompleted,
		FailedChunks: []domain.FailedChunk{
			{Since: failedSince, Until: failedSince + 1000, Error: "stream reset"},
		},
	}))

	svc := newTestService(fastConfig(server.URL, ""), &fakeGameStore{}, checkpoints, now)
	result, err := svc.Sync(context.Background(), SyncOptions{
		Provider: domain.ProviderLichess,
		Username: "alice",
		Mode:     domain.ModeSmart,
	}, nil)
	require.NoError(t, err)
	assert.True(t, result.Success)

	require.GreaterOrEqual(t, len(checkpoints.saved), 2)
	fresh := checkpoints.saved[1]
	assert.Equal(t, failedSince, fresh.TargetSince, "window reaches back to the failed chunk")
	assert.Equal(t, now.UnixMilli(), fresh.TargetUntil)
	assert.Nil(t, checkpoints.stored(domain.ProviderLichess, "alice"), "clean run clears the old state")
}

func TestSyncRejectsInvalidArguments(t *testing.T) {
	svc := newTestService(fastConfig("", ""), &fakeGameStore{}, newFakeCheckpointStore(), testNow())

	_, err := svc.Sync(context.Background(), SyncOptions{Provider: domain.ProviderLichess}, nil)
	assert.Error(t, err, "username required")

	_, err = svc.Sync(context.Background(), SyncOptions{Provider: "icc", Username: "x"}, nil)
	assert.Error(t, err, "unknown provider")

	_, err = svc.Sync(context.Background(), SyncOptions{Provider: domain.ProviderLichess, Username: "x", Mode: "backwards"}, nil)
	assert.Error(t, err, "unknown mode")

	_, err = svc.Sync(context.Background(), SyncOptions{Provider: domain.ProviderLichess, Username: "x", Mode: domain.ModeCustom}, nil)
	assert.Error(t, err, "custom mode needs since")
}

func TestPercentageClamping(t *testing.T) {
	assert.Equal(t, 100.0, percentage(0, 0), "empty window counts as done")
	assert.Equal(t, 100.0, percentage(5, 0))
	assert.Equal(t, 0.0, percentage(-1, 10))
	assert.Equal(t, 100.0, percentage(20, 10))
	assert.Equal(t, 50.0, percentage(5, 10))
}

func TestFilterArchivesHalfOpenWindow(t *testing.T) {
	archives := []string{
		"https://api.chess.com/pub/player/bob/games/2023/12",
		"https://api.chess.com/pub/player/bob/games/2024/01",
		"https://api.chess.com/pub/player/bob/games/2024/02",
		"https://api.chess.com/pub/player/bob/games/2024/05",
		"https://api.chess.com/pub/player/bob/games/not/amonth",
	}
	since := time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC).UnixMilli()
	until := time.Date(2024, 2, 20, 0, 0, 0, 0, time.UTC).UnixMilli()

	got := filterArchives(archives, since, until)
	require.Len(t, got, 2)
	assert.Contains(t, got[0], "2024/01")
	assert.Contains(t, got[1], "2024/02")
}

func TestIsCancellation(t *testing.T) {
	assert.True(t, isCancellation(context.Canceled))
	assert.True(t, isCancellation(fmt.Errorf("wrap: %w", context.DeadlineExceeded)))
	assert.False(t, isCancellation(errors.New("boom")))
}
