package preview

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type recorder struct {
	mu    sync.Mutex
	calls []string
}

func (r *recorder) record(code string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, code)
}

func (r *recorder) get() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

func TestDebouncerCoalescesUpdates(t *testing.T) {
	r := &recorder{}
	d := NewDebouncer(30*time.Millisecond, r.record)
	defer d.Stop()

	d.Update("a")
	d.Update("ab")
	d.Update("abc")

	assert.Eventually(t, func() bool { return len(r.get()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"abc"}, r.get())
}

func TestDebouncerSkipsUnchanged(t *testing.T) {
	r := &recorder{}
	d := NewDebouncer(10*time.Millisecond, r.record)
	defer d.Stop()

	d.Update("same")
	d.Flush()
	d.Update("same")
	d.Flush()
	assert.Equal(t, []string{"same"}, r.get())

	d.Reset()
	d.Update("same")
	d.Flush()
	assert.Equal(t, []string{"same", "same"}, r.get())
}

func TestDebouncerStop(t *testing.T) {
	r := &recorder{}
	d := NewDebouncer(10*time.Millisecond, r.record)
	d.Update("x")
	d.Stop()
	time.Sleep(40 * time.Millisecond)
	assert.Empty(t, r.get())
}
