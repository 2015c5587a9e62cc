package concurrency

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestScheduler(now *time.Time) *Scheduler[string] {
	s := NewScheduler[string](nil)
	s.now = func() time.Time { return *now }
	return s
}

func TestScheduler_KeysStrictlyIncrease(t *testing.T) {
	now := time.Unix(1000, 0)
	s := newTestScheduler(&now)

	var last uint64
	for i := 0; i < 100; i++ {
		key, ok := s.ScheduleAfter(time.Duration(100-i)*time.Millisecond, "ev")
		require.True(t, ok)
		assert.Greater(t, key, last)
		last = key
	}
	assert.Equal(t, 100, s.Pending())
}

func TestScheduler_ConcurrentKeysAreUnique(t *testing.T) {
	s := NewScheduler[int](nil)
	const producers, perProducer = 8, 200

	var mu sync.Mutex
	seen := make(map[uint64]bool)
	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			var last uint64
			for i := 0; i < perProducer; i++ {
				key, ok := s.ScheduleAfter(time.Hour, i)
				if !assert.True(t, ok) {
					return
				}
				// per-goroutine order is preserved
				assert.Greater(t, key, last)
				last = key
				mu.Lock()
				assert.False(t, seen[key], "duplicate key %d", key)
				seen[key] = true
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Len(t, seen, producers*perProducer)
}

func TestScheduler_PopDueOrdersByDeadlineThenKey(t *testing.T) {
	now := time.Unix(1000, 0)
	s := newTestScheduler(&now)

	s.ScheduleAfter(30*time.Millisecond, "c")
	s.ScheduleAfter(10*time.Millisecond, "a1")
	s.ScheduleAfter(10*time.Millisecond, "a2")
	s.ScheduleAfter(20*time.Millisecond, "b")

	fired := s.PopDue(now.Add(time.Second))
	var got []string
	for _, f := range fired {
		got = append(got, f.Data)
	}
	assert.Equal(t, []string{"a1", "a2", "b", "c"}, got)
	assert.Zero(t, s.Pending())
}

func TestScheduler_NeverFiresEarly(t *testing.T) {
	now := time.Unix(1000, 0)
	s := newTestScheduler(&now)
	s.ScheduleAfter(50*time.Millisecond, "x")

	assert.Empty(t, s.PopDue(now.Add(49*time.Millisecond)))
	assert.Equal(t, time.Millisecond, s.NextTimeout(now.Add(49*time.Millisecond)))

	fired := s.PopDue(now.Add(50 * time.Millisecond))
	require.Len(t, fired, 1)
	assert.Equal(t, "x", fired[0].Data)
}

func TestScheduler_NextTimeout(t *testing.T) {
	now := time.Unix(1000, 0)
	s := newTestScheduler(&now)

	assert.Negative(t, s.NextTimeout(now), "empty scheduler blocks forever")

	s.ScheduleAfter(0, "zero")
	assert.Zero(t, s.NextTimeout(now), "zero delay is dispatched on the next iteration")
	assert.Zero(t, s.NextTimeout(now.Add(time.Second)))

	s.PopDue(now)
	s.ScheduleAfter(time.Second, "later")
	assert.Equal(t, 750*time.Millisecond, s.NextTimeout(now.Add(250*time.Millisecond)))
}

func TestScheduler_CancelledFireIsNoOp(t *testing.T) {
	now := time.Unix(1000, 0)
	s := newTestScheduler(&now)

	key, _ := s.ScheduleAfter(10*time.Millisecond, "gone")
	s.ScheduleAfter(20*time.Millisecond, "kept")

	data, ok := s.Cancel(key)
	require.True(t, ok)
	assert.Equal(t, "gone", data)

	_, ok = s.Cancel(key)
	assert.False(t, ok, "second cancel finds nothing")

	fired := s.PopDue(now.Add(time.Second))
	require.Len(t, fired, 1)
	assert.Equal(t, "kept", fired[0].Data)
}

func TestScheduler_CloseReturnsUnfiredAndRejects(t *testing.T) {
	now := time.Unix(1000, 0)
	s := newTestScheduler(&now)

	s.ScheduleAfter(time.Hour, "b")
	s.ScheduleAfter(time.Minute, "a")
	s.NextTimeout(now) // move one batch into the heap

	unfired := s.Close()
	require.Len(t, unfired, 2)
	assert.Equal(t, "b", unfired[0].Data)
	assert.Equal(t, "a", unfired[1].Data)

	_, ok := s.ScheduleAfter(0, "late")
	assert.False(t, ok)
	assert.Empty(t, s.PopDue(now.Add(2*time.Hour)))
	assert.Negative(t, s.NextTimeout(now))
}

func TestScheduler_WakeOnInsert(t *testing.T) {
	wakes := 0
	s := NewScheduler[int](func() { wakes++ })
	s.ScheduleAfter(0, 1)
	s.ScheduleAfter(time.Second, 2)
	assert.Equal(t, 2, wakes)
}
