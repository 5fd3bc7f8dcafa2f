package debounce

import (
	"slices"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestScheduleCoalesces(t *testing.T) {
	s := New()
	defer s.Close()

	var calls atomic.Int32
	var last atomic.Int32
	done := make(chan struct{})
	for i := 1; i <= 5; i++ {
		s.Schedule("a.php", 30*time.Millisecond, func() {
			calls.Add(1)
			last.Store(int32(i))
			close(done)
		})
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("action never ran")
	}
	time.Sleep(50 * time.Millisecond)
	if n := calls.Load(); n != 1 {
		t.Errorf("ran %d times, want 1", n)
	}
	if v := last.Load(); v != 5 {
		t.Errorf("ran action %d, want the last one scheduled", v)
	}
}

func TestKeysAreIndependent(t *testing.T) {
	s := New()
	defer s.Close()

	var wg sync.WaitGroup
	var mu sync.Mutex
	var ran []string
	for _, key := range []string{"a", "b", "c"} {
		wg.Add(1)
		s.Schedule(key, 0, func() {
			defer wg.Done()
			mu.Lock()
			ran = append(ran, key)
			mu.Unlock()
		})
	}
	wg.Wait()
	slices.Sort(ran)
	if !slices.Equal(ran, []string{"a", "b", "c"}) {
		t.Errorf("ran = %v", ran)
	}
}

func TestCancel(t *testing.T) {
	s := New()
	defer s.Close()

	var calls atomic.Int32
	s.Schedule("k", 20*time.Millisecond, func() { calls.Add(1) })
	if !s.Pending("k") {
		t.Fatal("k should be pending")
	}
	s.Cancel("k")
	if s.Pending("k") {
		t.Error("k should not be pending after Cancel")
	}
	time.Sleep(50 * time.Millisecond)
	if calls.Load() != 0 {
		t.Error("cancelled action ran")
	}
	s.Cancel("unknown")
}

func TestFlush(t *testing.T) {
	s := New()
	defer s.Close()

	var calls atomic.Int32
	s.Schedule("k", time.Hour, func() { calls.Add(1) })
	if !s.Flush("k") {
		t.Fatal("Flush should report a pending action")
	}
	if calls.Load() != 1 {
		t.Error("Flush should run the action synchronously")
	}
	if s.Flush("k") {
		t.Error("second Flush should find nothing")
	}
}

func TestFlushAll(t *testing.T) {
	s := New()
	defer s.Close()

	var order []string
	for _, key := range []string{"b", "a", "c"} {
		s.Schedule(key, time.Hour, func() { order = append(order, key) })
	}
	if got := s.Keys(); !slices.Equal(got, []string{"a", "b", "c"}) {
		t.Errorf("Keys() = %v", got)
	}
	s.FlushAll()
	if !slices.Equal(order, []string{"a", "b", "c"}) {
		t.Errorf("FlushAll order = %v", order)
	}
	if len(s.Keys()) != 0 {
		t.Error("nothing should be pending after FlushAll")
	}
}

func TestCloseCancelsEverything(t *testing.T) {
	s := New()
	var calls atomic.Int32
	for _, key := range []string{"a", "b"} {
		s.Schedule(key, 20*time.Millisecond, func() { calls.Add(1) })
	}
	s.Close()
	time.Sleep(50 * time.Millisecond)
	if calls.Load() != 0 {
		t.Error("actions ran after Close")
	}

	s.Schedule("late", 0, func() { calls.Add(1) })
	time.Sleep(20 * time.Millisecond)
	if calls.Load() != 0 || s.Pending("late") {
		t.Error("Schedule after Close should be ignored")
	}
}

func TestCloseWaitsForRunningAction(t *testing.T) {
	s := New()
	started := make(chan struct{})
	release := make(chan struct{})
	var finished atomic.Bool
	s.Schedule("slow", 0, func() {
		close(started)
		<-release
		finished.Store(true)
	})
	<-started

	go func() {
		time.Sleep(20 * time.Millisecond)
		close(release)
	}()
	s.Close()
	if !finished.Load() {
		t.Error("Close returned before the running action finished")
	}
}
