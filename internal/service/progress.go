package service

import (
	"math"

	"github.com/admirer145/Chesslyze-sub001/internal/domain"
)

type ProgressType string

const (
	ProgressStart           ProgressType = "start"
	ProgressRangeDetermined ProgressType = "range-determined"
	ProgressProgress        ProgressType = "progress"
	ProgressChunkComplete   ProgressType = "chunk-complete"
	ProgressChunkError      ProgressType = "chunk-error"
	ProgressResume          ProgressType = "resume"
	ProgressCancelled       ProgressType = "cancelled"
	ProgressSuccess         ProgressType = "success"
)

// ProgressEvent is the unit of the progress stream consumed by UI
// clients. Percentage is always a finite value in [0,100] and never
// decreases across one sync.
type ProgressEvent struct {
	Type       ProgressType    `json:"type"`
	Provider   domain.Provider `json:"provider"`
	Username   string          `json:"username"`
	Message    string          `json:"message"`
	Total      int             `json:"total"`
	Percentage float64         `json:"percentage"`
}

type ProgressFunc func(ProgressEvent)

// percentage maps done/total onto [0,100]. An empty window (total <= 0)
// counts as fully done; NaN and infinities never escape.
func percentage(done, total float64) float64 {
	if total <= 0 {
		return 100
	}
	p := done / total * 100
	if math.IsNaN(p) || math.IsInf(p, 0) {
		return 0
	}
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}
