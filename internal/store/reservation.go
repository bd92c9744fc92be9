// Package store persists reservations captured during calls.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Reservation statuses.
const (
	StatusConfirmed = "CONFIRMED"
	StatusCancelled = "CANCELLED"
)

// ErrNotFound is returned when a reservation ID does not exist.
var ErrNotFound = errors.New("reservation not found")

// Reservation is one confirmed booking.
type Reservation struct {
	ID        uuid.UUID `json:"id"`
	CallID    string    `json:"call_id,omitempty"`
	Date      string    `json:"date"`
	Time      string    `json:"time"`
	PartySize int       `json:"party_size"`
	GuestName string    `json:"guest_name"`
	Phone     string    `json:"phone"`
	Notes     string    `json:"notes,omitempty"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}

// Store is the reservation persistence interface.
type Store interface {
	Create(ctx context.Context, r *Reservation) error
	Get(ctx context.Context, id uuid.UUID) (Reservation, error)
	List(ctx context.Context) ([]Reservation, error)
	Cancel(ctx context.Context, id uuid.UUID) (Reservation, error)
}
