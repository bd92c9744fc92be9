package session

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"
)

// Errors surfaced by the tracker. Close never fails: duplicate provider
// teardown notifications are expected and must be tolerated.
var (
	ErrDuplicateCall = errors.New("session: call already active")
	ErrUnknownCall   = errors.New("session: unknown call")
	ErrAtCapacity    = errors.New("session: concurrent call limit reached")
)

// Store is the backing map of active sessions. The in-memory implementation
// is the default; a shared external store can be injected for multi-process
// deployments.
type Store interface {
	// PutIfAbsent inserts the session unless one is already stored for the
	// ID (ErrDuplicateCall) or the store already holds max sessions
	// (ErrAtCapacity; max <= 0 means unbounded). The checks and the insert
	// are atomic, so the bound is strict under concurrent opens.
	PutIfAbsent(id string, s *CallSession, max int) error
	Get(id string) (*CallSession, bool)
	Delete(id string)
	All() []*CallSession
	Len() int
}

// Config holds tracker settings.
type Config struct {
	// InactivityTimeout closes sessions that stop receiving frames; a
	// safety net for provider stop notifications lost to network failure.
	InactivityTimeout time.Duration
	// SweepInterval is how often idle sessions are checked.
	SweepInterval time.Duration
	// MaxSessions bounds concurrent calls. Zero means unbounded.
	MaxSessions int
	// Store overrides the in-memory backing map.
	Store Store
}

// Tracker owns the set of live call sessions. Every mutation is atomic with
// respect to the call ID it targets; the store lock is never held across
// I/O.
type Tracker struct {
	store    Store
	timeout  time.Duration
	interval time.Duration
	maxCalls int
	now      func() time.Time

	onExpire func(CallSession)
}

// NewTracker creates a tracker with the given configuration.
func NewTracker(cfg Config) *Tracker {
	if cfg.InactivityTimeout <= 0 {
		cfg.InactivityTimeout = 10 * time.Minute
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = 30 * time.Second
	}
	if cfg.Store == nil {
		cfg.Store = NewMemoryStore()
	}
	return &Tracker{
		store:    cfg.Store,
		timeout:  cfg.InactivityTimeout,
		interval: cfg.SweepInterval,
		maxCalls: cfg.MaxSessions,
		now:      time.Now,
	}
}

// OnExpire registers a callback invoked with a snapshot of each session the
// sweeper closes. Must be set before Run.
func (t *Tracker) OnExpire(fn func(CallSession)) {
	t.onExpire = fn
}

// Open creates the session for a call. A second Open for a call that is
// still active fails with ErrDuplicateCall: provider retries must be
// rejected, not silently duplicated.
func (t *Tracker) Open(callID, streamID, caller string) (*CallSession, error) {
	now := t.now()
	s := &CallSession{
		CallID:       callID,
		StreamID:     streamID,
		CallerNumber: caller,
		CreatedAt:    now,
		LastActivity: now,
		Status:       StatusActive,
	}
	if err := t.store.PutIfAbsent(callID, s, t.maxCalls); err != nil {
		return nil, err
	}
	return s, nil
}

// Touch updates the call's last-activity timestamp.
func (t *Tracker) Touch(callID string) error {
	s, ok := t.store.Get(callID)
	if !ok {
		return ErrUnknownCall
	}
	s.touch(t.now())
	return nil
}

// Close ends the call and removes it from the tracker, returning the call
// duration. Closing an unknown or already-closed call returns zero: the
// provider may deliver teardown notifications more than once.
func (t *Tracker) Close(callID string) time.Duration {
	s, ok := t.store.Get(callID)
	if !ok {
		return 0
	}
	d := s.end(t.now())
	t.store.Delete(callID)
	return d
}

// List returns a snapshot of all tracked sessions.
func (t *Tracker) List() []CallSession {
	all := t.store.All()
	out := make([]CallSession, 0, len(all))
	for _, s := range all {
		out = append(out, s.snapshot())
	}
	return out
}

// Active returns the number of tracked sessions.
func (t *Tracker) Active() int {
	return t.store.Len()
}

// Exists reports whether the call is currently tracked.
func (t *Tracker) Exists(callID string) bool {
	_, ok := t.store.Get(callID)
	return ok
}

// AtCapacity reports whether a new call would be rejected right now.
func (t *Tracker) AtCapacity() bool {
	return t.maxCalls > 0 && t.store.Len() >= t.maxCalls
}

// Run sweeps idle sessions until ctx is cancelled.
func (t *Tracker) Run(ctx context.Context) {
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.sweep()
		}
	}
}

func (t *Tracker) sweep() {
	now := t.now()
	for _, s := range t.store.All() {
		if !s.idle(now, t.timeout) {
			continue
		}
		snap := s.snapshot()
		d := t.Close(s.CallID)
		log.Warn().
			Str("callId", snap.CallID).
			Dur("duration", d).
			Dur("inactivityTimeout", t.timeout).
			Msg("Closing idle call session")
		if t.onExpire != nil {
			snap.Status = StatusEnded
			snap.Duration = d
			t.onExpire(snap)
		}
	}
}
