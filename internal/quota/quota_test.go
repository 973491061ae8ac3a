package quota_test

import (
	"errors"
	"sync"
	"testing"
	"time"

	"chronicler/internal/quota"
	"chronicler/internal/services"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func TestReserveExhaustsAndResets(t *testing.T) {
	clock := &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	tracker := quota.NewTracker(2, quota.WithClock(clock.Now))

	for i := range 2 {
		if err := tracker.Reserve("provider"); err != nil {
			t.Fatalf("reserve %d: %v", i, err)
		}
	}
	err := tracker.Reserve("provider")
	if !errors.Is(err, services.ErrQuotaExhausted) {
		t.Fatalf("expected quota exhausted, got %v", err)
	}
	var exhausted *quota.ExhaustedError
	if !errors.As(err, &exhausted) || exhausted.Limit != 2 {
		t.Fatalf("unexpected error detail %#v", err)
	}
	if snap := tracker.Snapshot("provider"); snap.CallsMade != 2 || snap.Remaining() != 0 {
		t.Fatalf("denied call must not count: %+v", snap)
	}

	clock.Advance(59 * time.Second)
	if err := tracker.Reserve("provider"); err == nil {
		t.Fatal("expected budget to stay exhausted inside the minute")
	}
	clock.Advance(time.Second)
	if err := tracker.Reserve("provider"); err != nil {
		t.Fatalf("expected reset after a minute, got %v", err)
	}
}

func TestSubsystemsAreIndependent(t *testing.T) {
	tracker := quota.NewTracker(1, quota.WithLimit("enrichment", 0))
	if err := tracker.Reserve("provider"); err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if err := tracker.Reserve("provider"); err == nil {
		t.Fatal("expected provider budget exhausted")
	}
	for range 10 {
		if err := tracker.Reserve("enrichment"); err != nil {
			t.Fatalf("unlimited subsystem denied: %v", err)
		}
	}
	snaps := tracker.Snapshots()
	if len(snaps) != 2 || snaps[0].Subsystem != "enrichment" || snaps[0].Remaining() != -1 {
		t.Fatalf("unexpected snapshots %+v", snaps)
	}
}

func TestReserveConcurrentNeverOvershoots(t *testing.T) {
	tracker := quota.NewTracker(25)
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		granted int
	)
	for range 100 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if tracker.Reserve("provider") == nil {
				mu.Lock()
				granted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if granted != 25 {
		t.Fatalf("expected exactly 25 grants, got %d", granted)
	}
}
