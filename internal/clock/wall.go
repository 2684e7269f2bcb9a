package clock

import (
	"sync"
	"time"
)

// Wall is the source of real time for pacing.
type Wall interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

type systemWall struct{}

// System returns the process wall clock.
func System() Wall {
	return systemWall{}
}

func (systemWall) Now() time.Time {
	return time.Now()
}

func (systemWall) After(d time.Duration) <-chan time.Time {
	return time.After(d)
}

// Virtual is a manually driven Wall. After advances virtual time by d and
// fires immediately, so paced runs complete without sleeping.
type Virtual struct {
	mu    sync.Mutex
	now   time.Time
	waits []time.Duration
}

// NewVirtual creates a virtual clock starting at start.
func NewVirtual(start time.Time) *Virtual {
	return &Virtual{now: start}
}

func (v *Virtual) Now() time.Time {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.now
}

func (v *Virtual) After(d time.Duration) <-chan time.Time {
	v.mu.Lock()
	defer v.mu.Unlock()

	if d > 0 {
		v.now = v.now.Add(d)
	}
	v.waits = append(v.waits, d)

	ch := make(chan time.Time, 1)
	ch <- v.now
	return ch
}

// Advance moves virtual time forward, e.g. to simulate a slow delivery.
func (v *Virtual) Advance(d time.Duration) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.now = v.now.Add(d)
}

// Waits returns every duration passed to After, in order.
func (v *Virtual) Waits() []time.Duration {
	v.mu.Lock()
	defer v.mu.Unlock()
	return append([]time.Duration(nil), v.waits...)
}
