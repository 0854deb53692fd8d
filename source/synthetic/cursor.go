package synthetic

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/xaionaro-go/screenrecorder/cursor"
)

// PositionSource moves the pointer along an ellipse inscribed into the screen.
type PositionSource struct {
	ScreenWidth  uint32
	ScreenHeight uint32
	Interval     time.Duration
	// Period is the time of a full revolution.
	Period time.Duration

	locker sync.Mutex
	index  uint64
}

var _ cursor.PositionSource = (*PositionSource)(nil)

func NewPositionSource(screenWidth, screenHeight uint32) *PositionSource {
	return &PositionSource{
		ScreenWidth:  screenWidth,
		ScreenHeight: screenHeight,
		Interval:     10 * time.Millisecond,
		Period:       4 * time.Second,
	}
}

func (s *PositionSource) NextPosition(ctx context.Context, timeout time.Duration) (cursor.Position, error) {
	s.locker.Lock()
	defer s.locker.Unlock()

	if s.Interval > timeout {
		return cursor.Position{}, idle(ctx, timeout)
	}
	if err := sleep(ctx, s.Interval); err != nil {
		return cursor.Position{}, err
	}
	p := s.at(time.Duration(s.index) * s.Interval)
	s.index++
	return p, nil
}

func (s *PositionSource) at(t time.Duration) cursor.Position {
	if s.ScreenWidth == 0 || s.ScreenHeight == 0 {
		return cursor.Position{}
	}
	phase := 2 * math.Pi * float64(t%s.Period) / float64(s.Period)
	cx, cy := float64(s.ScreenWidth-1)/2, float64(s.ScreenHeight-1)/2
	return cursor.Position{
		X:       int32(math.Round(cx + cx*0.8*math.Cos(phase))),
		Y:       int32(math.Round(cy + cy*0.8*math.Sin(phase))),
		Visible: true,
	}
}
