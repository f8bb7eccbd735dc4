package preview

import (
	"sync"
	"time"
)

// DefaultLiveDelay is the quiet period before streaming code is previewed.
const DefaultLiveDelay = 1500 * time.Millisecond

// Debouncer previews streaming code once it stops changing. Code identical to
// the last previewed snippet is skipped.
type Debouncer struct {
	mu      sync.Mutex
	delay   time.Duration
	fn      func(code string)
	timer   *time.Timer
	pending string
	last    string
	stopped bool
}

func NewDebouncer(delay time.Duration, fn func(code string)) *Debouncer {
	if delay <= 0 {
		delay = DefaultLiveDelay
	}
	return &Debouncer{delay: delay, fn: fn}
}

// Update records the latest code and restarts the quiet period.
func (d *Debouncer) Update(code string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return
	}
	d.pending = code
	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.delay, d.fire)
}

func (d *Debouncer) fire() {
	d.mu.Lock()
	code := d.pending
	if d.stopped || code == "" || code == d.last {
		d.mu.Unlock()
		return
	}
	d.last = code
	d.mu.Unlock()
	d.fn(code)
}

// Flush previews pending code immediately, for example once the code value
// of the stream is complete.
func (d *Debouncer) Flush() {
	d.mu.Lock()
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	d.mu.Unlock()
	d.fire()
}

// Reset drops pending code and forgets the last previewed snippet.
func (d *Debouncer) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	d.last = ""
	d.pending = ""
}

func (d *Debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stopped = true
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
}
