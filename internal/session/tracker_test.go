package session

import (
	"encoding/json"
	"sync"
	"testing"
	"time"
)

func newTestTracker() *Tracker {
	return NewTracker(Config{
		InactivityTimeout: time.Minute,
		SweepInterval:     time.Minute,
	})
}

func TestOpenDuplicateCall(t *testing.T) {
	tr := newTestTracker()

	if _, err := tr.Open("CA1", "MZ1", "+15550001111"); err != nil {
		t.Fatalf("first open: %v", err)
	}
	if _, err := tr.Open("CA1", "MZ2", "+15550001111"); err != ErrDuplicateCall {
		t.Fatalf("second open: expected ErrDuplicateCall, got %v", err)
	}

	// After close the ID is free again.
	tr.Close("CA1")
	if _, err := tr.Open("CA1", "MZ3", "+15550001111"); err != nil {
		t.Fatalf("reopen after close: %v", err)
	}
}

func TestCloseIdempotent(t *testing.T) {
	tr := newTestTracker()

	if d := tr.Close("never-opened"); d != 0 {
		t.Errorf("closing unknown call: expected zero duration, got %v", d)
	}

	tr.Open("CA1", "MZ1", "")
	first := tr.Close("CA1")
	if first < 0 {
		t.Errorf("negative duration %v", first)
	}
	if d := tr.Close("CA1"); d != 0 {
		t.Errorf("double close: expected zero duration, got %v", d)
	}
}

func TestTouchUnknownCall(t *testing.T) {
	tr := newTestTracker()
	if err := tr.Touch("CA404"); err != ErrUnknownCall {
		t.Errorf("expected ErrUnknownCall, got %v", err)
	}
}

func TestConcurrentOpens(t *testing.T) {
	tr := newTestTracker()
	const n = 50

	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := tr.Open(callID(i), "MZ", "")
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			t.Errorf("concurrent open failed: %v", err)
		}
	}
	if got := len(tr.List()); got != n {
		t.Errorf("expected %d active sessions, got %d", n, got)
	}
	for _, s := range tr.List() {
		if s.Status != StatusActive {
			t.Errorf("session %s not active: %v", s.CallID, s.Status)
		}
	}
}

func TestCapacityLimit(t *testing.T) {
	tr := NewTracker(Config{MaxSessions: 2})

	tr.Open("CA1", "", "")
	tr.Open("CA2", "", "")
	if _, err := tr.Open("CA3", "", ""); err != ErrAtCapacity {
		t.Errorf("expected ErrAtCapacity, got %v", err)
	}

	tr.Close("CA1")
	if _, err := tr.Open("CA3", "", ""); err != nil {
		t.Errorf("open after freeing capacity: %v", err)
	}
}

func TestCapacityStrictUnderConcurrentOpens(t *testing.T) {
	const limit = 5
	tr := NewTracker(Config{MaxSessions: limit})

	var wg sync.WaitGroup
	var opened sync.Map
	for i := 0; i < 4*limit; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if _, err := tr.Open(callID(i), "", ""); err == nil {
				opened.Store(i, true)
			}
		}(i)
	}
	wg.Wait()

	var ok int
	opened.Range(func(any, any) bool { ok++; return true })
	if ok != limit {
		t.Errorf("%d opens succeeded, want exactly %d", ok, limit)
	}
	if got := tr.Active(); got != limit {
		t.Errorf("active = %d, want %d", got, limit)
	}
}

func TestSweepClosesIdleSessions(t *testing.T) {
	tr := NewTracker(Config{InactivityTimeout: time.Minute})

	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	tr.now = func() time.Time { return base }

	tr.Open("CA-idle", "", "")
	tr.Open("CA-live", "", "")

	// CA-live stays active; CA-idle goes silent.
	tr.now = func() time.Time { return base.Add(2 * time.Minute) }
	tr.Touch("CA-live")

	var expired []CallSession
	tr.OnExpire(func(s CallSession) { expired = append(expired, s) })

	tr.sweep()

	if got := tr.Active(); got != 1 {
		t.Errorf("expected 1 surviving session, got %d", got)
	}
	if len(expired) != 1 || expired[0].CallID != "CA-idle" {
		t.Fatalf("expected CA-idle to expire, got %+v", expired)
	}
	if expired[0].Status != StatusEnded {
		t.Errorf("expired snapshot should be ENDED, got %v", expired[0].Status)
	}
	if expired[0].Duration != 2*time.Minute {
		t.Errorf("expected 2m duration, got %v", expired[0].Duration)
	}
}

func callID(i int) string {
	return "CA" + string(rune('A'+i/26)) + string(rune('A'+i%26))
}

func TestSessionJSONRoundTrip(t *testing.T) {
	tr := newTestTracker()
	if _, err := tr.Open("CA-json", "MZ-json", "+15550003333"); err != nil {
		t.Fatal(err)
	}

	body, err := json.Marshal(tr.List())
	if err != nil {
		t.Fatal(err)
	}
	var decoded []CallSession
	if err := json.Unmarshal(body, &decoded); err != nil {
		t.Fatalf("decode listed sessions: %v", err)
	}
	if len(decoded) != 1 || decoded[0].CallID != "CA-json" {
		t.Fatalf("decoded = %+v", decoded)
	}
	if decoded[0].Status != StatusActive {
		t.Errorf("status = %v, want ACTIVE", decoded[0].Status)
	}

	var bad Status
	if err := json.Unmarshal([]byte(`"PAUSED"`), &bad); err == nil {
		t.Error("unknown status name must not decode")
	}
}
