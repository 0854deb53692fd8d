// Package cursor keeps the latest known pointer position for compositing.
package cursor

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync/atomic"
	"time"

	"github.com/facebookincubator/go-belt/tool/logger"
	"github.com/xaionaro-go/screenrecorder"
)

const (
	// DefaultStableRadius is how far (in screen pixels) the pointer may move and still be "resting".
	DefaultStableRadius = 100
	// DefaultRestDelay is how long the pointer has to stay within the stable radius to be "resting".
	DefaultRestDelay = 200 * time.Millisecond
	// DefaultPollTimeout bounds a single wait on the PositionSource.
	DefaultPollTimeout = 20 * time.Millisecond
)

// Position is a pointer position in screen pixels.
type Position struct {
	X, Y    int32
	Visible bool
}

// PositionSource delivers pointer positions; it follows the same
// ErrTimeout/ErrClosed conventions as the capture sources.
type PositionSource interface {
	NextPosition(ctx context.Context, timeout time.Duration) (Position, error)
}

// Snapshot is the pointer position normalized into [0, 1] screen space.
type Snapshot struct {
	X, Y    float64
	Visible bool

	// Resting is true if the pointer has not left the stable radius
	// since RestingSince, which was at least RestDelay ago.
	Resting      bool
	RestingSince time.Time
	UpdatedAt    time.Time
}

type Stats struct {
	Updates atomic.Uint64
	Clamped atomic.Uint64
}

// Tracker stores the latest cursor snapshot; Sample never blocks.
type Tracker struct {
	ScreenWidth  uint32
	ScreenHeight uint32
	StableRadius float64
	RestDelay    time.Duration
	Now          func() time.Time

	snapshot atomic.Pointer[Snapshot]
	anchor   atomic.Pointer[Position]
	Stats    Stats
}

func NewTracker(screenWidth, screenHeight uint32) *Tracker {
	return &Tracker{
		ScreenWidth:  screenWidth,
		ScreenHeight: screenHeight,
		StableRadius: DefaultStableRadius,
		RestDelay:    DefaultRestDelay,
		Now:          time.Now,
	}
}

// Sample returns the most recent snapshot; the zero Snapshot (invisible) if none.
func (t *Tracker) Sample() Snapshot {
	s := t.snapshot.Load()
	if s == nil {
		return Snapshot{}
	}
	result := *s
	result.Resting = result.Visible && !result.RestingSince.IsZero() &&
		t.Now().Sub(result.RestingSince) >= t.RestDelay
	return result
}

// Update records a new pointer position. Positions outside of the screen
// (e.g. on another monitor) are clamped to its edge; false is returned then.
func (t *Tracker) Update(p Position) bool {
	onScreen := true
	if p.Visible && !t.isOnScreen(p) {
		p = t.clamp(p)
		t.Stats.Clamped.Add(1)
		onScreen = false
	}
	now := t.Now()
	prev := t.snapshot.Load()

	s := &Snapshot{
		Visible:   p.Visible,
		UpdatedAt: now,
	}
	if !p.Visible {
		if prev != nil {
			s.X, s.Y = prev.X, prev.Y
		}
		t.snapshot.Store(s)
		t.Stats.Updates.Add(1)
		return onScreen
	}

	s.X = normalize(p.X, t.ScreenWidth)
	s.Y = normalize(p.Y, t.ScreenHeight)

	anchor := t.anchor.Load()
	if anchor != nil && t.withinStableRadius(*anchor, p) && prev != nil && prev.Visible {
		s.RestingSince = prev.RestingSince
	} else {
		t.anchor.Store(&p)
		s.RestingSince = now
	}
	t.snapshot.Store(s)
	t.Stats.Updates.Add(1)
	return onScreen
}

// RestingFor returns how long the pointer has stayed within the stable radius.
func (s Snapshot) RestingFor(now time.Time) time.Duration {
	if !s.Visible || !s.Resting || s.RestingSince.IsZero() {
		return 0
	}
	return now.Sub(s.RestingSince)
}

func (t *Tracker) isOnScreen(p Position) bool {
	return p.X >= 0 && p.Y >= 0 && uint32(p.X) < t.ScreenWidth && uint32(p.Y) < t.ScreenHeight
}

func (t *Tracker) clamp(p Position) Position {
	p.X = clampCoord(p.X, t.ScreenWidth)
	p.Y = clampCoord(p.Y, t.ScreenHeight)
	return p
}

func clampCoord(v int32, size uint32) int32 {
	if v < 0 || size == 0 {
		return 0
	}
	if uint32(v) >= size {
		return int32(size - 1)
	}
	return v
}

func (t *Tracker) withinStableRadius(a, b Position) bool {
	dx := float64(a.X - b.X)
	dy := float64(a.Y - b.Y)
	return math.Hypot(dx, dy) <= t.StableRadius
}

func normalize(v int32, size uint32) float64 {
	if size <= 1 {
		return 0
	}
	return float64(v) / float64(size-1)
}

// Run pulls positions from src until ctx is done or the source is closed.
func (t *Tracker) Run(ctx context.Context, src PositionSource) (_err error) {
	logger.Debugf(ctx, "cursor.Tracker.Run")
	defer func() { logger.Debugf(ctx, "/cursor.Tracker.Run: %v", _err) }()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		p, err := src.NextPosition(ctx, DefaultPollTimeout)
		switch {
		case err == nil:
			if !t.Update(p) {
				logger.Tracef(ctx, "clamped an off-screen cursor position %#+v", p)
			}
		case errors.Is(err, screenrecorder.ErrTimeout):
		case errors.Is(err, screenrecorder.ErrClosed):
			return nil
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			return ctx.Err()
		default:
			return fmt.Errorf("unable to get the cursor position: %w", err)
		}
	}
}
