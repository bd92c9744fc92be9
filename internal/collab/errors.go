// Package collab defines the shared error taxonomy for the three network
// collaborators (transcription, language model, speech synthesis). Clients
// wrap transport failures with these sentinels so the bridge can decide
// between per-turn recovery and call teardown without inspecting provider
// specifics.
package collab

import (
	"context"
	"errors"
	"net"
)

var (
	// ErrUnavailable marks a collaborator that could not be reached or
	// answered with a server-side failure.
	ErrUnavailable = errors.New("collaborator unavailable")

	// ErrTimeout marks a collaborator call that exceeded its deadline.
	ErrTimeout = errors.New("collaborator timeout")
)

// Classify wraps err with the matching taxonomy sentinel. Context and
// network timeouts map to ErrTimeout; everything else to ErrUnavailable.
func Classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrUnavailable) || errors.Is(err, ErrTimeout) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return errors.Join(ErrTimeout, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return errors.Join(ErrTimeout, err)
	}
	return errors.Join(ErrUnavailable, err)
}

// Kind names the taxonomy bucket of err, suitable as a metric label.
func Kind(err error) string {
	switch {
	case err == nil:
		return "none"
	case errors.Is(err, ErrTimeout):
		return "timeout"
	case errors.Is(err, ErrUnavailable):
		return "unavailable"
	}
	return "other"
}
