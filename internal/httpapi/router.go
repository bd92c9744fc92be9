package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"voice-reservation-gateway/internal/observability"
)

// NewRouter constructs the public HTTP router.
func NewRouter(h *Handlers) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(observability.RequestLogger)

	// Health endpoints
	r.Get("/v1/liveness", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/v1/readiness", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})

	// Telephony surface
	r.Route("/twilio", func(r chi.Router) {
		r.Post("/voice", h.VoiceWebhook)
		r.Post("/status", h.StatusCallback)
		r.Get("/media", h.MediaStream)
	})

	// Reservations REST API
	r.Route("/v1", func(r chi.Router) {
		r.Get("/calls", h.ListCalls)
		r.Route("/reservations", func(r chi.Router) {
			r.Post("/", h.CreateReservation)
			r.Get("/", h.ListReservations)
			r.Get("/{id}", h.GetReservation)
			r.Delete("/{id}", h.CancelReservation)
		})
	})

	return r
}
