package session

import (
	"github.com/xaionaro-go/screenrecorder"
	"github.com/xaionaro-go/screenrecorder/cursor"
	"github.com/xaionaro-go/screenrecorder/internal/timeline"
)

type config struct {
	TimeSource    timeline.TimeSource
	Observer      screenrecorder.Observer
	CursorTracker *cursor.Tracker
}

type Option interface {
	apply(*config)
}

type Options []Option

func (s Options) config() config {
	cfg := config{}
	for _, opt := range s {
		opt.apply(&cfg)
	}
	if cfg.Observer == nil {
		cfg.Observer = screenrecorder.Observers(nil)
	}
	return cfg
}

// OptionTimeSource replaces the wall clock measuring the recording time.
type OptionTimeSource timeline.TimeSource

func (opt OptionTimeSource) apply(cfg *config) {
	cfg.TimeSource = timeline.TimeSource(opt)
}

func WithTimeSource(now timeline.TimeSource) Option {
	return OptionTimeSource(now)
}

type OptionObserver struct {
	Observer screenrecorder.Observer
}

func (opt OptionObserver) apply(cfg *config) {
	if cfg.Observer == nil {
		cfg.Observer = opt.Observer
		return
	}
	cfg.Observer = screenrecorder.Observers{cfg.Observer, opt.Observer}
}

// WithObserver adds an observer; may be given multiple times.
func WithObserver(observer screenrecorder.Observer) Option {
	return OptionObserver{Observer: observer}
}

type OptionCursorTracker struct {
	Tracker *cursor.Tracker
}

func (opt OptionCursorTracker) apply(cfg *config) {
	cfg.CursorTracker = opt.Tracker
}

// WithCursorTracker makes the session composite the cursor from the given
// tracker, which may be updated by the caller instead of a PositionSource.
func WithCursorTracker(tracker *cursor.Tracker) Option {
	return OptionCursorTracker{Tracker: tracker}
}
