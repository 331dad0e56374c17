package api

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/admirer145/Chesslyze-sub001/internal/config"
	"github.com/rs/zerolog"
)

// LichessClient streams games from the Lichess export API. Unlike the
// Chess.com client this one is built on net/http: the export endpoint
// returns NDJSON bodies that can run to hundreds of megabytes for active
// players, so the response must be consumed line by line as bytes arrive,
// never buffered whole.
type LichessClient struct {
	baseURL     string
	token       string
	maxAttempts int
	rateBackoff time.Duration
	netBackoff  time.Duration
	client      *http.Client
	logger      zerolog.Logger
}

func NewLichessClient(cfg *config.Config, logger zerolog.Logger) *LichessClient {
	return &LichessClient{
		baseURL:     cfg.Lichess.BaseURL,
		token:       cfg.Lichess.Token,
		maxAttempts: cfg.Lichess.MaxAttempts,
		rateBackoff: cfg.Lichess.RateBackoff,
		netBackoff:  cfg.Lichess.NetBackoff,
		// no overall timeout: streams are long-lived, the caller's
		// context bounds each chunk
		client: &http.Client{},
		logger: logger.With().Str("component", "lichess_client").Logger(),
	}
}

type LichessPlayerUser struct {
	Name  string `json:"name"`
	Title string `json:"title"`
}

type LichessPlayer struct {
	User   *LichessPlayerUser `json:"user"`
	Rating int                `json:"rating"`
}

// LichessGame is one line of the NDJSON export.
type LichessGame struct {
	ID         string `json:"id"`
	CreatedAt  int64  `json:"createdAt"`
	LastMoveAt int64  `json:"lastMoveAt"`
	Status     string `json:"status"`
	Speed      string `json:"speed"`
	Perf       string `json:"perf"`
	Variant    string `json:"variant"`
	Rated      bool   `json:"rated"`
	PGN        string `json:"pgn"`
	Moves      string `json:"moves"`
	Winner     string `json:"winner"`
	Clock      *struct {
		Initial   int `json:"initial"`
		Increment int `json:"increment"`
	} `json:"clock"`
	Opening *struct {
		ECO  string `json:"eco"`
		Name string `json:"name"`
	} `json:"opening"`
	Players struct {
		White LichessPlayer `json:"white"`
		Black LichessPlayer `json:"black"`
	} `json:"players"`
}

// StreamGames fetches games for [since, until) and invokes handle once per
// complete NDJSON line, in stream order. Partial lines at read boundaries
// are carried over by the buffered reader; an unterminated final line is
// still delivered at EOF. Establishing the stream retries 429 with a
// doubling backoff from rateBackoff and transport errors from netBackoff,
// both capped at maxAttempts total attempts. Errors after the stream has
// started are returned as-is; the caller treats them as a chunk failure.
func (c *LichessClient) StreamGames(ctx context.Context, username string, since, until int64, handle func(line []byte) error) error {
	q := url.Values{}
	q.Set("since", strconv.FormatInt(since, 10))
	q.Set("until", strconv.FormatInt(until, 10))
	q.Set("pgnInJson", "true")
	q.Set("opening", "true")
	q.Set("clocks", "false")
	q.Set("evals", "false")
	requestURL := fmt.Sprintf("%s/api/games/user/%s?%s", c.baseURL, url.PathEscape(username), q.Encode())

	resp, err := c.open(ctx, requestURL)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	return readLines(resp.Body, handle)
}

// open establishes the export stream, applying the retry table to the
// request itself (the body has not been touched yet, so a retry is safe).
func (c *LichessClient) open(ctx context.Context, requestURL string) (*http.Response, error) {
	var lastErr error

	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, requestURL, nil)
		if err != nil {
			return nil, fmt.Errorf("build lichess request: %w", err)
		}
		req.Header.Set("Accept", "application/x-ndjson")
		if c.token != "" {
			req.Header.Set("Authorization", "Bearer "+c.token)
		}

		resp, err := c.client.Do(req)
		if err != nil {
			lastErr = fmt.Errorf("lichess request: %w", err)
			c.logger.Debug().Err(err).Int("attempt", attempt).Msg("transport error, backing off")
			if err := c.wait(ctx, c.netBackoff, attempt); err != nil {
				return nil, err
			}
			continue
		}

		switch {
		case resp.StatusCode == http.StatusOK:
			return resp, nil
		case resp.StatusCode == http.StatusTooManyRequests:
			resp.Body.Close()
			lastErr = &RateLimitError{Provider: "lichess", Attempts: attempt}
			c.logger.Warn().Int("attempt", attempt).Msg("lichess rate limited")
			if err := c.wait(ctx, c.rateBackoff, attempt); err != nil {
				return nil, err
			}
		default:
			resp.Body.Close()
			return nil, &StatusError{Provider: "lichess", StatusCode: resp.StatusCode, URL: requestURL}
		}
	}

	return nil, lastErr
}

func (c *LichessClient) wait(ctx context.Context, base time.Duration, attempt int) error {
	return sleepCtx(ctx, base<<(attempt-1))
}

// readLines feeds complete lines to handle, including a trailing line
// without a final newline. Empty keep-alive lines are skipped.
func readLines(r io.Reader, handle func(line []byte) error) error {
	reader := bufio.NewReader(r)
	for {
		line, err := reader.ReadBytes('\n')
		if len(trimNewline(line)) > 0 {
			if herr := handle(trimNewline(line)); herr != nil {
				return herr
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("read lichess stream: %w", err)
		}
	}
}

func trimNewline(line []byte) []byte {
	for len(line) > 0 && (line[len(line)-1] == '\n' || line[len(line)-1] == '\r') {
		line = line[:len(line)-1]
	}
	return line
}
