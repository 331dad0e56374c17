package pgn

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/admirer145/Chesslyze-sub001/internal/domain"
	"github.com/corentings/chess/v2"
)

// Meta is the derived metadata of one PGN game. Date is nil when the PGN
// carries no parseable date tag; TimestampMs falls back to the caller's
// clock in that case and is always set.
type Meta struct {
	Tags        map[string]string
	Date        *string // ISO-8601 UTC
	TimestampMs int64
	Speed       domain.SpeedClass
	WhiteRating *int
	BlackRating *int
}

// Parse validates the movetext against chess rules and derives metadata.
// An illegal or unparseable move sequence fails the whole game; callers
// skip it and count a parse error rather than aborting their batch.
func Parse(pgnText string, now time.Time) (*Meta, error) {
	if err := ValidateMoves(pgnText); err != nil {
		return nil, err
	}

	tags := ParseTags(pgnText)
	date, ts := DeriveTimestamp(tags, now)

	return &Meta{
		Tags:        tags,
		Date:        date,
		TimestampMs: ts,
		Speed:       ClassifySpeed(tags["TimeControl"]),
		WhiteRating: ParseRating(tags["WhiteElo"]),
		BlackRating: ParseRating(tags["BlackElo"]),
	}, nil
}

// ValidateMoves replays the movetext through the chess rule engine.
func ValidateMoves(pgnText string) error {
	opt, err := chess.PGN(strings.NewReader(pgnText))
	if err != nil {
		return fmt.Errorf("invalid movetext: %w", err)
	}
	chess.NewGame(opt)
	return nil
}

// ParseTags extracts [Key "Value"] header pairs. Duplicate keys keep the
// last occurrence.
func ParseTags(pgnText string) map[string]string {
	tags := make(map[string]string)
	for _, line := range strings.Split(pgnText, "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "[") || !strings.HasSuffix(line, "]") {
			continue
		}
		body := line[1 : len(line)-1]
		open := strings.Index(body, "\"")
		close := strings.LastIndex(body, "\"")
		if open < 0 || close <= open {
			continue
		}
		key := strings.TrimSpace(body[:open])
		if key == "" {
			continue
		}
		tags[key] = body[open+1 : close]
	}
	return tags
}

// DeriveTimestamp builds an ISO-8601 date and epoch-ms timestamp from the
// UTCDate/UTCTime tags, falling back to Date/Time. A date tag with a "?"
// component or fewer than 3 components is unparseable: the date comes back
// nil and the timestamp falls back to now.
func DeriveTimestamp(tags map[string]string, now time.Time) (*string, int64) {
	dateStr := tags["UTCDate"]
	if dateStr == "" {
		dateStr = tags["Date"]
	}
	timeStr := tags["UTCTime"]
	if timeStr == "" {
		timeStr = tags["Time"]
	}

	t, ok := parseDateTime(dateStr, timeStr)
	if !ok {
		return nil, now.UnixMilli()
	}
	iso := t.Format("2006-01-02T15:04:05Z")
	return &iso, t.UnixMilli()
}

func parseDateTime(dateStr, timeStr string) (time.Time, bool) {
	if dateStr == "" || strings.Contains(dateStr, "?") {
		return time.Time{}, false
	}
	parts := strings.Split(dateStr, ".")
	if len(parts) < 3 {
		return time.Time{}, false
	}
	year, err := strconv.Atoi(parts[0])
	if err != nil {
		return time.Time{}, false
	}
	month, err := strconv.Atoi(parts[1])
	if err != nil || month < 1 || month > 12 {
		return time.Time{}, false
	}
	day, err := strconv.Atoi(parts[2])
	if err != nil || day < 1 || day > 31 {
		return time.Time{}, false
	}

	hour, min, sec := 0, 0, 0
	if timeStr != "" {
		if strings.Contains(timeStr, "?") {
			return time.Time{}, false
		}
		tp := strings.Split(timeStr, ":")
		if len(tp) != 3 {
			return time.Time{}, false
		}
		if hour, err = strconv.Atoi(tp[0]); err != nil || hour > 23 {
			return time.Time{}, false
		}
		if min, err = strconv.Atoi(tp[1]); err != nil || min > 59 {
			return time.Time{}, false
		}
		if sec, err = strconv.Atoi(tp[2]); err != nil || sec > 59 {
			return time.Time{}, false
		}
	}

	return time.Date(year, time.Month(month), day, hour, min, sec, 0, time.UTC), true
}

// ClassifySpeed maps a "base+increment" TimeControl (seconds) onto a speed
// class. Malformed or absent values fall back to standard.
func ClassifySpeed(timeControl string) domain.SpeedClass {
	base := timeControl
	if i := strings.Index(timeControl, "+"); i >= 0 {
		base = timeControl[:i]
	}
	seconds, err := strconv.Atoi(strings.TrimSpace(base))
	if err != nil || seconds < 0 {
		return domain.SpeedStandard
	}
	switch {
	case seconds < 180:
		return domain.SpeedBullet
	case seconds < 600:
		return domain.SpeedBlitz
	case seconds < 1800:
		return domain.SpeedRapid
	default:
		return domain.SpeedClassical
	}
}

// ParseRating never fails: anything non-numeric is nil.
func ParseRating(s string) *int {
	v, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return nil
	}
	return &v
}

// ContentHash is the stable identity of a PGN when no provider ID exists.
func ContentHash(pgnText string) string {
	sum := sha256.Sum256([]byte(pgnText))
	return hex.EncodeToString(sum[:])
}

// Tag is one PGN header pair used when synthesizing PGN text.
type Tag struct {
	Key   string
	Value string
}

// Build synthesizes PGN text from header tags and optional movetext. Used
// when a provider reports structured fields without PGN text.
func Build(tags []Tag, movetext, result string) string {
	var b strings.Builder
	for _, t := range tags {
		if t.Value == "" {
			continue
		}
		fmt.Fprintf(&b, "[%s \"%s\"]\n", t.Key, sanitizeTagValue(t.Value))
	}
	b.WriteString("\n")
	if movetext != "" {
		b.WriteString(strings.TrimSpace(movetext))
		b.WriteString(" ")
	}
	if result == "" {
		result = "*"
	}
	b.WriteString(result)
	b.WriteString("\n")
	return b.String()
}

func sanitizeTagValue(v string) string {
	v = strings.ReplaceAll(v, "\\", " ")
	v = strings.ReplaceAll(v, "\"", "'")
	return v
}

// SplitGames splits pasted text that may hold several PGN games. A tag
// line appearing after movetext starts the next game, so games without an
// [Event ...] header still split instead of concatenating onto the
// previous game's movetext. Text with no headers at all is a single game.
func SplitGames(text string) []string {
	var games []string
	var current []string
	inMovetext := false

	flush := func() {
		if game := strings.TrimSpace(strings.Join(current, "\n")); game != "" {
			games = append(games, game)
		}
		current = current[:0]
		inMovetext = false
	}

	for _, line := range strings.Split(text, "\n") {
		trimmed := strings.TrimSpace(line)
		isTag := strings.HasPrefix(trimmed, "[")
		if isTag && inMovetext {
			flush()
		}
		if trimmed != "" && !isTag {
			inMovetext = true
		}
		current = append(current, line)
	}
	flush()
	return games
}
