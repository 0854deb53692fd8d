package timeline

import (
	"sync"
	"time"

	"github.com/xaionaro-go/screenrecorder"
)

// Retimer maps timestamps of a single capture stream onto the recording
// timeline: the first timestamp is anchored at the clock's elapsed time,
// subsequent ones keep their relative distance minus any pause that
// happened since, and the output never goes backwards.
type Retimer struct {
	locker        sync.Mutex
	clock         *Clock
	minStep       time.Duration
	anchored      bool
	first         screenrecorder.Timestamp
	offset        time.Duration
	pausedAtFirst time.Duration
	hasLast       bool
	last          screenrecorder.Timestamp
}

// NewRetimer creates a Retimer; consecutive outputs differ by at least minStep.
func NewRetimer(clock *Clock, minStep time.Duration) *Retimer {
	return &Retimer{
		clock:   clock,
		minStep: minStep,
	}
}

func (r *Retimer) Retime(src screenrecorder.Timestamp) screenrecorder.Timestamp {
	r.locker.Lock()
	defer r.locker.Unlock()

	paused := r.clock.PausedTotal()
	if !r.anchored {
		r.anchored = true
		r.first = src
		r.offset = r.clock.Elapsed()
		r.pausedAtFirst = paused
	}

	out := r.offset + (src - r.first) - (paused - r.pausedAtFirst)
	if out < 0 {
		out = 0
	}
	if r.hasLast && out < r.last+r.minStep {
		out = r.last + r.minStep
	}
	r.last, r.hasLast = out, true
	return out
}
