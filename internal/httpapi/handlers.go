// Package httpapi exposes the public HTTP surface: the telephony webhooks,
// the media-stream WebSocket, and the reservations REST API.
package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"voice-reservation-gateway/internal/bridge"
	"voice-reservation-gateway/internal/events"
	"voice-reservation-gateway/internal/observability/metrics"
	"voice-reservation-gateway/internal/session"
	"voice-reservation-gateway/internal/store"
)

// DefaultGreeting opens every answered call.
const DefaultGreeting = "Thank you for calling Concya. One moment while I connect you to our reservation host."

// Config holds handler settings.
type Config struct {
	// PublicURL is this service's externally reachable base URL; the
	// media-stream URL in TwiML is derived from it.
	PublicURL string
	Greeting  string
}

// Handlers carries the dependencies behind the HTTP surface.
type Handlers struct {
	cfg      Config
	sessions *session.Tracker
	bridge   *bridge.Bridge
	store    store.Store
	events   *events.Publisher
	metrics  *metrics.Metrics
	upgrader websocket.Upgrader
}

// NewHandlers wires the HTTP surface.
func NewHandlers(cfg Config, sessions *session.Tracker, b *bridge.Bridge, st store.Store, ev *events.Publisher) *Handlers {
	if cfg.Greeting == "" {
		cfg.Greeting = DefaultGreeting
	}
	return &Handlers{
		cfg:      cfg,
		sessions: sessions,
		bridge:   b,
		store:    st,
		events:   ev,
		metrics:  metrics.DefaultMetrics,
		upgrader: websocket.Upgrader{
			// Telephony providers do not send browser origins.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// streamURL converts the public base URL into the wss:// media endpoint.
// Empty when no public URL is configured.
func (h *Handlers) streamURL() string {
	url := h.cfg.PublicURL
	if url == "" {
		return ""
	}
	switch {
	case strings.HasPrefix(url, "https://"):
		url = "wss://" + strings.TrimPrefix(url, "https://")
	case strings.HasPrefix(url, "http://"):
		url = "ws://" + strings.TrimPrefix(url, "http://")
	}
	return strings.TrimRight(url, "/") + "/twilio/media"
}

// VoiceWebhook answers the provider's incoming-call webhook with TwiML.
// It always responds 200 within the webhook deadline: no tracker lookups,
// no collaborator calls. Capacity is enforced later, when the media stream
// actually opens; a slow or failed webhook would surface to the caller as a
// dead line.
func (h *Handlers) VoiceWebhook(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		log.Warn().Err(err).Msg("Unparseable voice webhook form")
	}
	callID := r.PostFormValue("CallSid")
	caller := r.PostFormValue("From")

	var body []byte
	var err error
	if stream := h.streamURL(); stream != "" {
		body, err = connectTwiML(h.cfg.Greeting, stream, caller)
	} else {
		// No reachable media endpoint. The caller still hears the
		// greeting instead of a dead line.
		log.Error().Str("callId", callID).Msg("No public URL configured, greeting-only call")
		body, err = hangupTwiML(h.cfg.Greeting)
	}
	if err != nil {
		log.Error().Err(err).Msg("TwiML marshal failed")
		body = []byte(xmlFallback)
	}

	w.Header().Set("Content-Type", "text/xml")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

// MediaStream upgrades to WebSocket and hands the connection to the bridge.
func (h *Handlers) MediaStream(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("Media stream upgrade failed")
		return
	}
	h.bridge.Handle(r.Context(), conn)
}

// StatusCallback receives call status updates. The bridge normally closes
// sessions itself; this is the safety net for calls that never reached the
// stream or whose stop event was lost.
func (h *Handlers) StatusCallback(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		log.Warn().Err(err).Msg("Unparseable status callback form")
	}
	callID := r.PostFormValue("CallSid")
	status := r.PostFormValue("CallStatus")

	switch status {
	case "completed", "failed", "busy", "no-answer", "canceled":
		if callID != "" && h.sessions.Exists(callID) {
			duration := h.sessions.Close(callID)
			log.Info().Str("callId", callID).Str("status", status).Msg("Session closed by status callback")
			_ = h.events.CallEnded(r.Context(), events.CallEnded{
				CallID:     callID,
				Reason:     "status-" + status,
				DurationMs: duration.Milliseconds(),
				EndedAt:    time.Now().UTC(),
			})
		}
	}
	w.WriteHeader(http.StatusNoContent)
}

// reservationRequest is the REST create payload.
type reservationRequest struct {
	Date      string `json:"date"`
	Time      string `json:"time"`
	PartySize int    `json:"party_size"`
	GuestName string `json:"guest_name"`
	Phone     string `json:"phone"`
	Notes     string `json:"notes"`
}

func (req *reservationRequest) validate() error {
	switch {
	case req.Date == "":
		return errors.New("date is required")
	case req.Time == "":
		return errors.New("time is required")
	case req.PartySize <= 0:
		return errors.New("party_size must be positive")
	case req.GuestName == "":
		return errors.New("guest_name is required")
	case req.Phone == "":
		return errors.New("phone is required")
	}
	return nil
}

// CreateReservation handles POST /v1/reservations.
func (h *Handlers) CreateReservation(w http.ResponseWriter, r *http.Request) {
	var req reservationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := req.validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	res := &store.Reservation{
		Date:      req.Date,
		Time:      req.Time,
		PartySize: req.PartySize,
		GuestName: req.GuestName,
		Phone:     req.Phone,
		Notes:     req.Notes,
	}
	if err := h.store.Create(r.Context(), res); err != nil {
		log.Error().Err(err).Msg("Failed to store reservation")
		writeError(w, http.StatusInternalServerError, "could not store reservation")
		return
	}
	h.metrics.RecordReservationCreated()
	_ = h.events.ReservationCreated(r.Context(), events.ReservationCreated{
		ReservationID: res.ID.String(),
		Date:          res.Date,
		Time:          res.Time,
		PartySize:     res.PartySize,
		GuestName:     res.GuestName,
		CreatedAt:     res.CreatedAt,
	})

	writeJSON(w, http.StatusCreated, res)
}

// ListReservations handles GET /v1/reservations.
func (h *Handlers) ListReservations(w http.ResponseWriter, r *http.Request) {
	out, err := h.store.List(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "could not list reservations")
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// GetReservation handles GET /v1/reservations/{id}.
func (h *Handlers) GetReservation(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid reservation id")
		return
	}
	res, err := h.store.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "reservation not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "lookup failed")
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// CancelReservation handles DELETE /v1/reservations/{id}.
func (h *Handlers) CancelReservation(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid reservation id")
		return
	}
	res, err := h.store.Cancel(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "reservation not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "cancel failed")
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// ListCalls handles GET /v1/calls: a snapshot of tracked sessions.
func (h *Handlers) ListCalls(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.sessions.List())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Debug().Err(err).Msg("Response encode failed")
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
