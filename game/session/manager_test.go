package session

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/wricardo/sensor-game-hub/game/codes"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestManager(t *testing.T) (*Manager, *codes.Allocator, *fakeClock) {
	t.Helper()
	clock := newFakeClock()
	alloc := codes.NewAllocator()
	return NewManager(alloc, WithClock(clock.Now)), alloc, clock
}

func TestManager_CreateCode(t *testing.T) {
	manager, alloc, clock := newTestManager(t)

	code, err := manager.CreateCode("producer-1", "raceGame")
	if err != nil {
		t.Fatalf("Failed to create code: %v", err)
	}

	if len(code.Code) != 4 {
		t.Errorf("Expected 4 digit code, got %q", code.Code)
	}
	if code.Status != StatusWaiting {
		t.Errorf("Expected status waiting, got %s", code.Status)
	}
	if code.GameID != "raceGame" {
		t.Errorf("Expected game raceGame, got %s", code.GameID)
	}
	if ttl := code.ExpiresAt.Sub(clock.Now()); ttl != 10*time.Minute {
		t.Errorf("Expected TTL of 10m, got %v", ttl)
	}
	if !alloc.InUse(codes.SessionCodes, code.Code) {
		t.Error("Expected code to be reserved in the allocator")
	}
}

func TestManager_CreateCode_Exhausted(t *testing.T) {
	alloc := codes.NewAllocator(codes.WithIntn(func(int) int { return 0 }), codes.WithMaxAttempts(10))
	manager := NewManager(alloc)

	if _, err := manager.CreateCode("p", "g"); err != nil {
		t.Fatalf("First code failed: %v", err)
	}

	_, err := manager.CreateCode("p", "g")
	if !errors.Is(err, codes.ErrExhausted) {
		t.Fatalf("Expected ErrExhausted, got %v", err)
	}
	if manager.CodeCount() != 1 {
		t.Errorf("Expected 1 code, got %d", manager.CodeCount())
	}
}

func TestManager_MatchCode(t *testing.T) {
	manager, _, _ := newTestManager(t)

	code, err := manager.CreateCode("producer-1", "raceGame")
	if err != nil {
		t.Fatalf("Failed to create code: %v", err)
	}

	sess, err := manager.MatchCode(code.Code, "deviceXYZ", "sensor-1")
	if err != nil {
		t.Fatalf("Failed to match code: %v", err)
	}

	if sess.GameID != "raceGame" {
		t.Errorf("Expected game raceGame, got %s", sess.GameID)
	}
	if sess.ProducerConnID != "producer-1" {
		t.Errorf("Expected producer-1, got %s", sess.ProducerConnID)
	}
	if sess.SensorConnID != "sensor-1" || sess.DeviceID != "deviceXYZ" {
		t.Errorf("Unexpected sensor binding: %+v", sess)
	}
	if sess.ID == "" {
		t.Error("Expected session ID to be set")
	}

	t.Run("second match is rejected", func(t *testing.T) {
		_, err := manager.MatchCode(code.Code, "deviceOther", "sensor-2")
		if !errors.Is(err, ErrCodeAlreadyMatched) {
			t.Errorf("Expected ErrCodeAlreadyMatched, got %v", err)
		}
	})

	t.Run("matched code is retained", func(t *testing.T) {
		entry, err := manager.Lookup(code.Code)
		if err != nil {
			t.Fatalf("Expected matched code to remain: %v", err)
		}
		if entry.Status != StatusMatched || entry.SessionID != sess.ID {
			t.Errorf("Unexpected code entry: %+v", entry)
		}
	})

	t.Run("session is retrievable", func(t *testing.T) {
		got, err := manager.Session(sess.ID)
		if err != nil {
			t.Fatalf("Failed to get session: %v", err)
		}
		if got.Code != code.Code {
			t.Errorf("Expected code %s, got %s", code.Code, got.Code)
		}
	})
}

func TestManager_MatchCode_NotFound(t *testing.T) {
	manager, _, _ := newTestManager(t)

	_, err := manager.MatchCode("0000", "device", "sensor")
	if !errors.Is(err, ErrCodeNotFound) {
		t.Errorf("Expected ErrCodeNotFound, got %v", err)
	}
}

func TestManager_MatchCode_Expired(t *testing.T) {
	tests := []struct {
		name    string
		advance time.Duration
	}{
		{"exactly at expiry", 10 * time.Minute},
		{"after expiry", 11 * time.Minute},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			manager, alloc, clock := newTestManager(t)

			code, err := manager.CreateCode("producer", "g")
			if err != nil {
				t.Fatalf("Failed to create code: %v", err)
			}

			clock.Advance(tt.advance)

			_, err = manager.MatchCode(code.Code, "device", "sensor")
			if !errors.Is(err, ErrCodeExpired) {
				t.Fatalf("Expected ErrCodeExpired, got %v", err)
			}
			if manager.CodeCount() != 0 {
				t.Error("Expected expired code to be deleted")
			}
			if alloc.InUse(codes.SessionCodes, code.Code) {
				t.Error("Expected expired code to be released")
			}

			_, err = manager.MatchCode(code.Code, "device", "sensor")
			if !errors.Is(err, ErrCodeNotFound) {
				t.Errorf("Expected ErrCodeNotFound after deletion, got %v", err)
			}
		})
	}
}

func TestManager_MatchCode_ExpiredAfterMatch(t *testing.T) {
	manager, _, clock := newTestManager(t)

	code, _ := manager.CreateCode("producer", "g")
	if _, err := manager.MatchCode(code.Code, "d1", "s1"); err != nil {
		t.Fatalf("Failed to match: %v", err)
	}

	clock.Advance(10 * time.Minute)

	_, err := manager.MatchCode(code.Code, "d2", "s2")
	if !errors.Is(err, ErrCodeExpired) {
		t.Errorf("Expected ErrCodeExpired, got %v", err)
	}
}

func TestManager_MatchCode_Concurrent(t *testing.T) {
	manager, _, _ := newTestManager(t)

	code, err := manager.CreateCode("producer", "g")
	if err != nil {
		t.Fatalf("Failed to create code: %v", err)
	}

	const attempts = 32
	var wg sync.WaitGroup
	results := make(chan error, attempts)

	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := manager.MatchCode(code.Code, "", "sensor")
			results <- err
		}(i)
	}
	wg.Wait()
	close(results)

	successes, rejected := 0, 0
	for err := range results {
		switch {
		case err == nil:
			successes++
		case errors.Is(err, ErrCodeAlreadyMatched):
			rejected++
		default:
			t.Errorf("Unexpected error: %v", err)
		}
	}

	if successes != 1 {
		t.Errorf("Expected exactly one match, got %d", successes)
	}
	if rejected != attempts-1 {
		t.Errorf("Expected %d rejections, got %d", attempts-1, rejected)
	}
	if manager.Count() != 1 {
		t.Errorf("Expected 1 session, got %d", manager.Count())
	}
}

func TestManager_MatchCode_DeviceInSession(t *testing.T) {
	manager, _, _ := newTestManager(t)

	first, _ := manager.CreateCode("producer-1", "g")
	second, _ := manager.CreateCode("producer-2", "g")

	if _, err := manager.MatchCode(first.Code, "phone", "sensor-1"); err != nil {
		t.Fatalf("Failed to match: %v", err)
	}

	_, err := manager.MatchCode(second.Code, "phone", "sensor-2")
	if !errors.Is(err, ErrDeviceInSession) {
		t.Fatalf("Expected ErrDeviceInSession, got %v", err)
	}

	entry, _ := manager.Lookup(second.Code)
	if entry.Status != StatusWaiting {
		t.Errorf("Expected rejected code to stay waiting, got %s", entry.Status)
	}

	// Once the first session ends the device may pair again.
	manager.EndSessionsFor("sensor-1")
	if _, err := manager.MatchCode(second.Code, "phone", "sensor-2"); err != nil {
		t.Errorf("Expected match after session ended, got %v", err)
	}
}

func TestManager_MatchCode_SensorInSession(t *testing.T) {
	manager, _, _ := newTestManager(t)

	first, _ := manager.CreateCode("producer-1", "g")
	second, _ := manager.CreateCode("producer-2", "g")

	if _, err := manager.MatchCode(first.Code, "phone-a", "sensor-1"); err != nil {
		t.Fatalf("Failed to match: %v", err)
	}

	// A different device id does not let the same connection pair twice.
	_, err := manager.MatchCode(second.Code, "phone-b", "sensor-1")
	if !errors.Is(err, ErrSensorInSession) {
		t.Fatalf("Expected ErrSensorInSession, got %v", err)
	}
	if manager.Count() != 1 {
		t.Errorf("Expected 1 session, got %d", manager.Count())
	}

	manager.EndSessionsFor("producer-1")
	if _, err := manager.MatchCode(second.Code, "phone-a", "sensor-1"); err != nil {
		t.Errorf("Expected match after session ended, got %v", err)
	}
}

func TestManager_EndSessionsFor(t *testing.T) {
	manager, alloc, _ := newTestManager(t)

	matched, _ := manager.CreateCode("producer", "g")
	waiting, _ := manager.CreateCode("producer", "g")
	other, _ := manager.CreateCode("other-producer", "g")

	sess, err := manager.MatchCode(matched.Code, "device", "sensor")
	if err != nil {
		t.Fatalf("Failed to match: %v", err)
	}

	t.Run("sensor side", func(t *testing.T) {
		ended := manager.EndSessionsFor("sensor")
		if len(ended) != 1 || ended[0].ID != sess.ID {
			t.Fatalf("Expected session %s to end, got %+v", sess.ID, ended)
		}
		if ended[0].Peer("sensor") != "producer" {
			t.Errorf("Expected peer producer, got %s", ended[0].Peer("sensor"))
		}
		if _, err := manager.Session(sess.ID); !errors.Is(err, ErrSessionNotFound) {
			t.Errorf("Expected ErrSessionNotFound, got %v", err)
		}
	})

	t.Run("producer drops its waiting codes", func(t *testing.T) {
		manager.EndSessionsFor("producer")

		if _, err := manager.Lookup(waiting.Code); !errors.Is(err, ErrCodeNotFound) {
			t.Errorf("Expected waiting code to be dropped, got %v", err)
		}
		if alloc.InUse(codes.SessionCodes, waiting.Code) {
			t.Error("Expected waiting code to be released")
		}
		if _, err := manager.Lookup(matched.Code); err != nil {
			t.Errorf("Expected matched code to be retained, got %v", err)
		}
		if _, err := manager.Lookup(other.Code); err != nil {
			t.Errorf("Expected other producer's code to remain, got %v", err)
		}
	})

	t.Run("unknown connection", func(t *testing.T) {
		if ended := manager.EndSessionsFor("nobody"); len(ended) != 0 {
			t.Errorf("Expected nothing to end, got %d", len(ended))
		}
	})
}

func TestManager_SweepExpired(t *testing.T) {
	manager, alloc, clock := newTestManager(t)

	old, _ := manager.CreateCode("p", "g")
	oldMatched, _ := manager.CreateCode("p", "g")
	if _, err := manager.MatchCode(oldMatched.Code, "d", "s"); err != nil {
		t.Fatalf("Failed to match: %v", err)
	}

	clock.Advance(6 * time.Minute)
	fresh, _ := manager.CreateCode("p", "g")
	clock.Advance(5 * time.Minute)

	removed := manager.SweepExpired()
	if removed != 2 {
		t.Errorf("Expected 2 codes swept, got %d", removed)
	}
	if alloc.InUse(codes.SessionCodes, old.Code) || alloc.InUse(codes.SessionCodes, oldMatched.Code) {
		t.Error("Expected swept codes to be released")
	}
	if _, err := manager.Lookup(fresh.Code); err != nil {
		t.Errorf("Expected fresh code to survive: %v", err)
	}
	if manager.Count() != 1 {
		t.Errorf("Expected session to outlive its code, got %d sessions", manager.Count())
	}
}

func TestManager_Lookup_ReportsExpired(t *testing.T) {
	manager, _, clock := newTestManager(t)

	code, _ := manager.CreateCode("p", "g")
	clock.Advance(time.Hour)

	entry, err := manager.Lookup(code.Code)
	if err != nil {
		t.Fatalf("Lookup failed: %v", err)
	}
	if entry.Status != StatusExpired {
		t.Errorf("Expected expired status, got %s", entry.Status)
	}
}

func TestManager_Touch(t *testing.T) {
	manager, _, clock := newTestManager(t)

	code, _ := manager.CreateCode("p", "g")
	sess, _ := manager.MatchCode(code.Code, "d", "s")

	clock.Advance(time.Minute)
	if err := manager.Touch(sess.ID); err != nil {
		t.Fatalf("Touch failed: %v", err)
	}

	got, _ := manager.Session(sess.ID)
	if !got.LastActivity.Equal(clock.Now()) {
		t.Errorf("Expected last activity %v, got %v", clock.Now(), got.LastActivity)
	}

	if err := manager.Touch("missing"); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("Expected ErrSessionNotFound, got %v", err)
	}
}

func TestManager_Counts(t *testing.T) {
	manager, _, _ := newTestManager(t)

	a, _ := manager.CreateCode("p", "g")
	manager.CreateCode("p", "g")
	manager.MatchCode(a.Code, "d", "s")

	if manager.CodeCount() != 2 {
		t.Errorf("Expected 2 codes, got %d", manager.CodeCount())
	}
	if manager.WaitingCount() != 1 {
		t.Errorf("Expected 1 waiting code, got %d", manager.WaitingCount())
	}
	if manager.Count() != 1 || len(manager.List()) != 1 {
		t.Errorf("Expected 1 session, got %d", manager.Count())
	}
}
