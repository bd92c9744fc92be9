// Package session tracks per-call state for the lifetime of each phone
// call: creation, activity, and teardown. The tracker is the only state
// shared across concurrent calls.
package session

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

// Status of a call session.
type Status int

const (
	StatusActive Status = iota
	StatusEnded
)

func (s Status) String() string {
	switch s {
	case StatusActive:
		return "ACTIVE"
	case StatusEnded:
		return "ENDED"
	default:
		return "UNKNOWN"
	}
}

// MarshalJSON renders the status as its name.
func (s Status) MarshalJSON() ([]byte, error) {
	return []byte(`"` + s.String() + `"`), nil
}

// UnmarshalJSON parses a status name produced by MarshalJSON.
func (s *Status) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	switch name {
	case "ACTIVE":
		*s = StatusActive
	case "ENDED":
		*s = StatusEnded
	default:
		return fmt.Errorf("session: unknown status %q", name)
	}
	return nil
}

// CallSession is the bookkeeping record for one phone call. The call ID is
// the provider-assigned identifier; the stream ID names the duplex media
// connection bound to it.
type CallSession struct {
	CallID       string        `json:"call_id"`
	StreamID     string        `json:"stream_id"`
	CallerNumber string        `json:"caller_number,omitempty"`
	CreatedAt    time.Time     `json:"created_at"`
	LastActivity time.Time     `json:"last_activity"`
	Duration     time.Duration `json:"duration_ms,omitempty"`
	Status       Status        `json:"status"`

	mu sync.Mutex
}

// touch updates the last-activity timestamp.
func (s *CallSession) touch(now time.Time) {
	s.mu.Lock()
	s.LastActivity = now
	s.mu.Unlock()
}

// end marks the session ended and fixes its duration. Idempotent; returns
// the duration recorded at the first close.
func (s *CallSession) end(now time.Time) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Status == StatusEnded {
		return s.Duration
	}
	s.Status = StatusEnded
	s.Duration = now.Sub(s.CreatedAt)
	return s.Duration
}

// snapshot returns a copy safe to hand out without the lock.
func (s *CallSession) snapshot() CallSession {
	s.mu.Lock()
	defer s.mu.Unlock()
	return CallSession{
		CallID:       s.CallID,
		StreamID:     s.StreamID,
		CallerNumber: s.CallerNumber,
		CreatedAt:    s.CreatedAt,
		LastActivity: s.LastActivity,
		Duration:     s.Duration,
		Status:       s.Status,
	}
}

// idle reports whether the session has been inactive longer than timeout.
func (s *CallSession) idle(now time.Time, timeout time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return now.Sub(s.LastActivity) > timeout
}
