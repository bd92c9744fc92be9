package events

import "time"

// CallStarted marks the beginning of a media stream for a call.
type CallStarted struct {
	CallID    string    `json:"call_id"`
	StreamID  string    `json:"stream_id"`
	Caller    string    `json:"caller,omitempty"`
	StartedAt time.Time `json:"started_at"`
}

// CallEnded marks the end of a call, however it ended.
type CallEnded struct {
	CallID     string    `json:"call_id"`
	StreamID   string    `json:"stream_id,omitempty"`
	Reason     string    `json:"reason"`
	DurationMs int64     `json:"duration_ms"`
	EndedAt    time.Time `json:"ended_at"`
}

// TurnCompleted records one utterance/reply exchange.
type TurnCompleted struct {
	CallID     string    `json:"call_id"`
	Turn       int       `json:"turn"`
	Utterance  string    `json:"utterance"`
	Reply      string    `json:"reply"`
	Fallback   bool      `json:"fallback,omitempty"`
	LatencyMs  int64     `json:"latency_ms"`
	OccurredAt time.Time `json:"occurred_at"`
}

// ReservationCreated records a booking captured during a call.
type ReservationCreated struct {
	CallID        string    `json:"call_id,omitempty"`
	ReservationID string    `json:"reservation_id"`
	Date          string    `json:"date"`
	Time          string    `json:"time"`
	PartySize     int       `json:"party_size"`
	GuestName     string    `json:"guest_name"`
	CreatedAt     time.Time `json:"created_at"`
}
