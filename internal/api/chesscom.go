package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"time"

	"github.com/admirer145/Chesslyze-sub001/internal/config"
	"github.com/rs/zerolog"
	"github.com/valyala/fasthttp"
)

// ChessComClient talks to the public Chess.com REST API. The API publishes
// one archive per calendar month per player; fetching a month is the unit
// of retry and checkpointing for the whole import pipeline.
type ChessComClient struct {
	baseURL    string
	userAgent  string
	maxRetries int
	backoff    time.Duration
	client     *fasthttp.Client
	logger     zerolog.Logger
}

func NewChessComClient(cfg *config.Config, logger zerolog.Logger) *ChessComClient {
	return &ChessComClient{
		baseURL:    cfg.ChessCom.BaseURL,
		userAgent:  cfg.ChessCom.UserAgent,
		maxRetries: cfg.ChessCom.MaxRetries,
		backoff:    cfg.ChessCom.Backoff,
		client: &fasthttp.Client{
			MaxConnsPerHost:     100,
			ReadTimeout:         10 * time.Second,
			WriteTimeout:        10 * time.Second,
			MaxIdleConnDuration: 1 * time.Minute,
		},
		logger: logger.With().Str("component", "chesscom_client").Logger(),
	}
}

type ChessComProfile struct {
	Username string `json:"username"`
	PlayerID int64  `json:"player_id"`
	Title    string `json:"title"`
	Status   string `json:"status"`
	Country  string `json:"country"`
	Joined   int64  `json:"joined"`
}

type ChessComArchives struct {
	Archives []string `json:"archives"`
}

type ChessComPlayer struct {
	Username string `json:"username"`
	Result   string `json:"result"`
	Rating   int    `json:"rating"`
}

// ChessComGame is the raw archive entry. EndTime is epoch seconds.
type ChessComGame struct {
	URL         string         `json:"url"`
	PGN         string         `json:"pgn"`
	TimeControl string         `json:"time_control"`
	TimeClass   string         `json:"time_class"`
	Rated       bool           `json:"rated"`
	EndTime     int64          `json:"end_time"`
	Rules       string         `json:"rules"`
	White       ChessComPlayer `json:"white"`
	Black       ChessComPlayer `json:"black"`
	ECO         string         `json:"eco"`
}

type chessComArchiveGames struct {
	Games []ChessComGame `json:"games"`
}

// GetProfile validates that a player exists. A 404 here is the fatal
// unknown-user case and aborts the sync before any chunk work starts.
func (c *ChessComClient) GetProfile(ctx context.Context, username string) (*ChessComProfile, error) {
	u := fmt.Sprintf("%s/pub/player/%s", c.baseURL, url.PathEscape(username))
	return doChessCom[ChessComProfile](ctx, c, u)
}

// GetArchives returns the archive index: one URL per calendar month in
// which the player has games, oldest first.
func (c *ChessComClient) GetArchives(ctx context.Context, username string) ([]string, error) {
	u := fmt.Sprintf("%s/pub/player/%s/games/archives", c.baseURL, url.PathEscape(username))
	resp, err := doChessCom[ChessComArchives](ctx, c, u)
	if err != nil {
		return nil, err
	}
	return resp.Archives, nil
}

// GetArchiveGames fetches every raw game of one monthly archive.
func (c *ChessComClient) GetArchiveGames(ctx context.Context, archiveURL string) ([]ChessComGame, error) {
	resp, err := doChessCom[chessComArchiveGames](ctx, c, archiveURL)
	if err != nil {
		return nil, err
	}
	return resp.Games, nil
}

// doChessCom performs one GET with the retry table: 429 and transport
// errors back off with doubling delay up to maxRetries extra attempts,
// any other non-200 status raises immediately.
func doChessCom[T any](ctx context.Context, c *ChessComClient, requestURL string) (*T, error) {
	var lastErr error
	delay := c.backoff

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			c.logger.Debug().
				Str("url", requestURL).
				Int("attempt", attempt).
				Dur("delay", delay).
				Msg("backing off before retry")
			if err := sleepCtx(ctx, delay); err != nil {
				return nil, err
			}
			delay *= 2
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		body, status, err := c.get(ctx, requestURL)
		if err != nil {
			lastErr = fmt.Errorf("chesscom request %s: %w", requestURL, err)
			continue
		}
		if status == fasthttp.StatusTooManyRequests {
			lastErr = &RateLimitError{Provider: "chesscom", Attempts: attempt + 1}
			continue
		}
		if status != fasthttp.StatusOK {
			return nil, &StatusError{Provider: "chesscom", StatusCode: status, URL: requestURL}
		}

		var result T
		if err := json.Unmarshal(body, &result); err != nil {
			return nil, fmt.Errorf("decode chesscom response from %s: %w", requestURL, err)
		}
		return &result, nil
	}

	return nil, lastErr
}

func (c *ChessComClient) get(ctx context.Context, requestURL string) ([]byte, int, error) {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(requestURL)
	req.Header.SetMethod(fasthttp.MethodGet)
	req.Header.SetUserAgent(c.userAgent)
	req.Header.Set("Accept", "application/json")

	if deadline, ok := ctx.Deadline(); ok {
		if err := c.client.DoDeadline(req, resp, deadline); err != nil {
			return nil, 0, err
		}
	} else {
		if err := c.client.Do(req, resp); err != nil {
			return nil, 0, err
		}
	}

	body := make([]byte, len(resp.Body()))
	copy(body, resp.Body())
	return body, resp.StatusCode(), nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
