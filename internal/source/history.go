package source

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"time"

	"github.com/XavierBriggs/fortuna/services/alert-engine/pkg/models"
	"github.com/redis/go-redis/v9"
)

const (
	// DefaultRetention keeps enough history for the 24h movement window
	DefaultRetention = 26 * time.Hour

	// SteamWindow is the lookback for synchronized movement
	SteamWindow = 30 * time.Minute

	// SteamMinMovement is the smallest line change that counts as a book moving
	SteamMinMovement = 0.5
)

// linePoint is one observed line stored in the history sorted set
type linePoint struct {
	Line      *float64 `json:"line,omitempty"`
	OverOdds  *int     `json:"over_odds,omitempty"`
	UnderOdds *int     `json:"under_odds,omitempty"`
	At        int64    `json:"at"` // unix millis
}

// LineHistory stores line observations per prop and book in Redis sorted sets
// and answers movement and steam queries from them
type LineHistory struct {
	client    *redis.Client
	retention time.Duration
	now       func() time.Time
}

// NewLineHistory creates a line history store
func NewLineHistory(client *redis.Client, retention time.Duration) *LineHistory {
	if retention <= 0 {
		retention = DefaultRetention
	}
	return &LineHistory{
		client:    client,
		retention: retention,
		now:       time.Now,
	}
}

// WithClock overrides the clock used for lookback windows
func (h *LineHistory) WithClock(now func() time.Time) *LineHistory {
	h.now = now
	return h
}

func linesKey(propID, book string) string {
	return fmt.Sprintf("props:lines:%s:%s", propID, book)
}

func booksKey(propID string) string {
	return fmt.Sprintf("props:books:%s", propID)
}

// Record appends each prop's current line to its history in one transaction.
// An unchanged observation maps to the same member and is not duplicated.
func (h *LineHistory) Record(ctx context.Context, props ...models.PropRecord) error {
	if len(props) == 0 {
		return nil
	}

	cutoff := strconv.FormatInt(h.now().Add(-h.retention).UnixMilli(), 10)
	pipe := h.client.TxPipeline()

	for _, p := range props {
		at := p.LastUpdated
		if at.IsZero() {
			at = h.now()
		}

		point := linePoint{Line: p.Line, OverOdds: p.OverOdds, UnderOdds: p.UnderOdds, At: at.UnixMilli()}
		member, err := json.Marshal(point)
		if err != nil {
			return fmt.Errorf("failed to marshal line point: %w", err)
		}

		key := linesKey(p.PropID, p.Sportsbook)
		pipe.ZAdd(ctx, key, redis.Z{Score: float64(point.At), Member: string(member)})
		pipe.ZRemRangeByScore(ctx, key, "-inf", "("+cutoff)
		pipe.Expire(ctx, key, h.retention)
		pipe.SAdd(ctx, booksKey(p.PropID), p.Sportsbook)
		pipe.Expire(ctx, booksKey(p.PropID), h.retention)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to record line history: %w", err)
	}
	return nil
}

// points returns observations for a prop and book since the given time, oldest first
func (h *LineHistory) points(ctx context.Context, propID, book string, since time.Time) ([]linePoint, error) {
	raw, err := h.client.ZRangeByScore(ctx, linesKey(propID, book), &redis.ZRangeBy{
		Min: strconv.FormatInt(since.UnixMilli(), 10),
		Max: "+inf",
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read line history: %w", err)
	}

	points := make([]linePoint, 0, len(raw))
	for _, member := range raw {
		var p linePoint
		if err := json.Unmarshal([]byte(member), &p); err != nil {
			continue
		}
		points = append(points, p)
	}
	sort.SliceStable(points, func(i, j int) bool { return points[i].At < points[j].At })
	return points, nil
}

// AnalyzeMovement compares the first and last lines seen in the lookback window.
// It returns nil when fewer than two lined observations exist.
func (h *LineHistory) AnalyzeMovement(ctx context.Context, propID, sportsbook string, hoursBack int) (*models.MovementAnalysis, error) {
	now := h.now()
	points, err := h.points(ctx, propID, sportsbook, now.Add(-time.Duration(hoursBack)*time.Hour))
	if err != nil {
		return nil, err
	}

	var lined []linePoint
	for _, p := range points {
		if p.Line != nil {
			lined = append(lined, p)
		}
	}
	if len(lined) < 2 {
		return nil, nil
	}

	first, last := lined[0], lined[len(lined)-1]
	analysis := &models.MovementAnalysis{
		PropID:       propID,
		Sportsbook:   sportsbook,
		HoursBack:    hoursBack,
		OpeningLine:  first.Line,
		CurrentLine:  last.Line,
		LineMovement: *last.Line - *first.Line,
		DataPoints:   len(lined),
		AnalyzedAt:   now,
	}
	if first.OverOdds != nil && last.OverOdds != nil {
		analysis.OddsMovement = *last.OverOdds - *first.OverOdds
	}
	return analysis, nil
}

// DetectSteam reports steam when at least two books moved the line the same way within SteamWindow
func (h *LineHistory) DetectSteam(ctx context.Context, propID string) (*models.SteamResult, error) {
	books, err := h.client.SMembers(ctx, booksKey(propID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read books for %s: %w", propID, err)
	}
	sort.Strings(books)

	now := h.now()
	var (
		up, down       []string
		upSum, downSum float64
	)

	for _, book := range books {
		points, err := h.points(ctx, propID, book, now.Add(-SteamWindow))
		if err != nil {
			return nil, err
		}

		var first, last *float64
		for _, p := range points {
			if p.Line == nil {
				continue
			}
			if first == nil {
				first = p.Line
			}
			last = p.Line
		}
		if first == nil || last == nil {
			continue
		}

		move := *last - *first
		switch {
		case move >= SteamMinMovement:
			up = append(up, book)
			upSum += move
		case move <= -SteamMinMovement:
			down = append(down, book)
			downSum += math.Abs(move)
		}
	}

	direction, moving, sum := "up", up, upSum
	if len(down) > len(up) {
		direction, moving, sum = "down", down, downSum
	}
	if len(moving) < 2 {
		return nil, nil
	}

	return &models.SteamResult{
		PropID:        propID,
		Direction:     direction,
		BooksMoving:   moving,
		AvgMovement:   sum / float64(len(moving)),
		WindowMinutes: int(SteamWindow / time.Minute),
		DetectedAt:    now,
	}, nil
}
