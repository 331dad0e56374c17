package constants

import "time"

const (
	LichessBaseURL  = "https://lichess.org"
	ChessComBaseURL = "https://api.chess.com"
)

const (
	// chunk window for the lichess stream and the smart-mode lookback
	ImportWindow = 90 * 24 * time.Hour

	LichessChunkPacing = 1 * time.Second
	LichessMaxAttempts = 3
	LichessRateBackoff = 2 * time.Second
	LichessNetBackoff  = 500 * time.Millisecond

	ChessComMaxRetries = 2
	ChessComBackoff    = 1 * time.Second
)

const (
	ExternalAPITimeout = 10 * time.Second
	StreamTimeout      = 5 * time.Minute
	DatabaseTimeout    = 5 * time.Second
	RequestTimeout     = 30 * time.Second
)

const (
	DBMaxOpenConns    = 100
	DBMaxIdleConns    = 10
	DBConnMaxLifetime = 1 * time.Hour
	DBMaxIdleTime     = 10 * time.Minute
	DBBatchSize       = 100
)

const (
	ShutdownTimeout = 5 * time.Second
)

const (
	DefaultGamesLimit = 50
	MaxGamesLimit     = 200
)
