package domain

import (
	"time"
)

type Provider string

const (
	ProviderLichess  Provider = "lichess"
	ProviderChessCom Provider = "chesscom"
	ProviderPGN      Provider = "pgn"
)

func (p Provider) Valid() bool {
	switch p {
	case ProviderLichess, ProviderChessCom, ProviderPGN:
		return true
	}
	return false
}

type SpeedClass string

const (
	SpeedBullet    SpeedClass = "bullet"
	SpeedBlitz     SpeedClass = "blitz"
	SpeedRapid     SpeedClass = "rapid"
	SpeedClassical SpeedClass = "classical"
	SpeedStandard  SpeedClass = "standard"
)

type ImportMode string

const (
	ModeSmart  ImportMode = "smart"
	ModeCustom ImportMode = "custom"
	ModeFull   ImportMode = "full"
)

type CheckpointStatus string

const (
	CheckpointInProgress CheckpointStatus = "in-progress"
	CheckpointPaused     CheckpointStatus = "paused"
	CheckpointCompleted  CheckpointStatus = "completed"
)

// Game is the canonical record one chess game normalizes into, regardless
// of which provider it came from. Identity resolution falls back through
// ProviderGameID, then PGNHash, then (TimestampMs, White, Black).
type Game struct {
	ID             int64
	ProviderGameID *string // provider URL or game ID; nil for pasted PGN
	PGNHash        string  // sha256 hex of the full PGN text
	TimestampMs    int64   // game end time, epoch ms

	White       string
	Black       string
	WhiteTitle  *string
	BlackTitle  *string
	WhiteRating *int
	BlackRating *int

	Result         string // "1-0", "0-1", "1/2-1/2"
	ECO            *string
	OpeningName    *string
	TimeControlRaw *string
	SpeedClass     SpeedClass
	Variant        string
	Rated          *bool
	PGN            string
	Site           *string
	Provider       Provider
	IsHero         bool
	ImportTag      *string

	// owned by the analysis pipeline after import
	Analyzed       bool
	AnalysisStatus string // "pending", "running", "done", "failed"

	CreatedAt time.Time
	UpdatedAt time.Time
}

// FailedChunk records one chunk that exhausted its retries during a sync.
type FailedChunk struct {
	Since     int64  `json:"since"`
	Until     int64  `json:"until"`
	Error     string `json:"error"`
	Timestamp int64  `json:"timestamp"`
}

// ImportCheckpoint is the persisted resumable state of one sync, keyed by
// (provider, username). Cursor is the filtered archive index for chesscom
// and the next window start (epoch ms) for lichess.
type ImportCheckpoint struct {
	Provider      Provider
	Username      string
	TargetSince   int64
	TargetUntil   int64
	Cursor        int64
	TotalImported int
	Status        CheckpointStatus
	FailedChunks  []FailedChunk
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// ImportResult is what a finished (or paused) sync reports back.
type ImportResult struct {
	TotalImported int           `json:"totalImported"`
	ParseErrors   int           `json:"parseErrors"`
	FailedChunks  []FailedChunk `json:"failedChunks"`
	Success       bool          `json:"success"`
	Cancelled     bool          `json:"cancelled"`
}
