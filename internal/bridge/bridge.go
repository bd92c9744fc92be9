package bridge

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"voice-reservation-gateway/internal/audio"
	"voice-reservation-gateway/internal/collab"
	"voice-reservation-gateway/internal/events"
	"voice-reservation-gateway/internal/llm"
	"voice-reservation-gateway/internal/observability/logging"
	"voice-reservation-gateway/internal/observability/metrics"
	"voice-reservation-gateway/internal/session"
	"voice-reservation-gateway/internal/store"
	"voice-reservation-gateway/internal/stt"
	"voice-reservation-gateway/internal/tts"
)

// State is the lifecycle of one bridged call.
type State int32

// Call states.
const (
	StateStarting State = iota
	StateStreaming
	StateStopping
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateStarting:
		return "STARTING"
	case StateStreaming:
		return "STREAMING"
	case StateStopping:
		return "STOPPING"
	case StateClosed:
		return "CLOSED"
	}
	return fmt.Sprintf("State(%d)", int32(s))
}

// DefaultFallbackLine is spoken when the language model cannot answer. The
// call keeps going; losing one reply beats dropping the caller.
const DefaultFallbackLine = "I'm sorry, I'm having a little trouble right now. Could you say that again?"

// frameBytes is one 20ms telephony frame of mu-law audio.
const frameBytes = 160

// Conversationalist produces a reply for one finalized utterance.
type Conversationalist interface {
	Converse(ctx context.Context, callID, utterance string) (llm.Reply, error)
	EndCall(callID string)
}

// Synthesizer turns reply text into PCM speech.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string) (tts.Speech, error)
}

// Deps are the collaborators a Bridge drives.
type Deps struct {
	STT          stt.Factory
	LLM          Conversationalist
	TTS          Synthesizer
	Sessions     *session.Tracker
	Events       *events.Publisher
	Reservations store.Store
}

// Config tunes bridge behavior.
type Config struct {
	// FallbackLine replaces the reply when the language model fails.
	FallbackLine string
	// TurnTimeout bounds one reply round trip (model plus synthesis).
	TurnTimeout time.Duration
	// DrainTimeout bounds how long a stopping call waits for queued turns.
	DrainTimeout time.Duration
}

// Bridge runs the media-stream side of calls. One Bridge serves many
// concurrent connections; each connection gets its own call state and its
// own single-worker turn loop.
type Bridge struct {
	cfg     Config
	deps    Deps
	metrics *metrics.Metrics
}

// New creates a Bridge.
func New(cfg Config, deps Deps) *Bridge {
	if cfg.FallbackLine == "" {
		cfg.FallbackLine = DefaultFallbackLine
	}
	if cfg.TurnTimeout <= 0 {
		cfg.TurnTimeout = 30 * time.Second
	}
	if cfg.DrainTimeout <= 0 {
		cfg.DrainTimeout = 10 * time.Second
	}
	return &Bridge{cfg: cfg, deps: deps, metrics: metrics.DefaultMetrics}
}

// call is the per-connection state.
type call struct {
	b    *Bridge
	conn *websocket.Conn
	ctx  context.Context
	log  zerolog.Logger

	callID   string
	streamID string
	caller   string

	state   atomic.Int32
	writeMu sync.Mutex

	adapter stt.Adapter
	turns   *turnQueue
	turnNum atomic.Int32

	workerDone chan struct{}
	started    time.Time
}

// Handle runs one media-stream connection to completion. It returns when
// the stream stops, the peer disconnects, or ctx is cancelled.
func (b *Bridge) Handle(ctx context.Context, conn *websocket.Conn) {
	c := &call{
		b:          b,
		conn:       conn,
		ctx:        ctx,
		log:        logging.WithComponent("bridge"),
		turns:      newTurnQueue(),
		workerDone: make(chan struct{}),
	}
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	c.readLoop(ctx)
}

// State reports the call state.
func (c *call) State() State {
	return State(c.state.Load())
}

func (c *call) setState(s State) {
	c.state.Store(int32(s))
}

func (c *call) readLoop(ctx context.Context) {
	reason := "stop"
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if c.State() == StateClosed {
				return
			}
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.log.Warn().Err(err).Msg("Media stream read failed")
				reason = "connection-error"
			} else {
				reason = "disconnect"
			}
			c.teardown(ctx, reason, false)
			return
		}

		var msg envelope
		if err := json.Unmarshal(data, &msg); err != nil {
			c.log.Debug().Err(err).Msg("Discarding unparseable stream message")
			continue
		}

		switch msg.Event {
		case "connected":
			// Protocol preamble, nothing to do yet

		case "start":
			if err := c.handleStart(ctx, msg.Start); err != nil {
				c.log.Warn().Err(err).Msg("Rejecting media stream")
				c.closeConn(websocket.ClosePolicyViolation, err.Error())
				c.setState(StateClosed)
				return
			}

		case "media":
			c.handleMedia(ctx, msg.Media)

		case "mark":
			if msg.Mark != nil {
				c.log.Debug().Str("mark", msg.Mark.Name).Msg("Playback mark acknowledged")
			}

		case "stop":
			c.teardown(ctx, "stop", true)
			return

		default:
			c.log.Debug().Str("event", msg.Event).Msg("Ignoring unknown stream event")
		}
	}
}

func (c *call) handleStart(ctx context.Context, start *startPayload) error {
	if start == nil {
		return errors.New("start event without payload")
	}
	if c.State() != StateStarting {
		return fmt.Errorf("start event in state %s", c.State())
	}
	if enc := start.MediaFormat.Encoding; enc != "" && enc != "audio/x-mulaw" {
		return fmt.Errorf("unsupported media encoding %q", enc)
	}
	if rate := start.MediaFormat.SampleRate; rate != 0 && rate != audio.TelephonyRate {
		return fmt.Errorf("unsupported media sample rate %d", rate)
	}

	c.callID = start.CallSID
	c.streamID = start.StreamSID
	c.caller = start.CustomParams["caller"]
	c.log = logging.WithCall(c.callID, c.streamID)

	if _, err := c.b.deps.Sessions.Open(c.callID, c.streamID, c.caller); err != nil {
		switch {
		case errors.Is(err, session.ErrAtCapacity):
			c.b.metrics.RecordCallRejected("capacity")
		case errors.Is(err, session.ErrDuplicateCall):
			c.b.metrics.RecordCallRejected("duplicate")
		}
		return err
	}

	adapter, err := c.b.deps.STT(ctx)
	if err != nil {
		c.b.deps.Sessions.Close(c.callID)
		c.b.metrics.RecordCallRejected("stt-unavailable")
		return fmt.Errorf("recognizer unavailable: %w", err)
	}
	if err := adapter.Start(ctx, &recognizerCallback{call: c}); err != nil {
		_ = adapter.Close()
		c.b.deps.Sessions.Close(c.callID)
		c.b.metrics.RecordCallRejected("stt-unavailable")
		return fmt.Errorf("recognizer start: %w", err)
	}
	c.adapter = adapter

	c.started = time.Now()
	c.setState(StateStreaming)
	c.b.metrics.RecordCallStart()
	go c.turnWorker(ctx)

	_ = c.b.deps.Events.CallStarted(ctx, events.CallStarted{
		CallID:    c.callID,
		StreamID:  c.streamID,
		Caller:    c.caller,
		StartedAt: time.Now().UTC(),
	})
	c.log.Info().Str("caller", c.caller).Msg("Call streaming")
	return nil
}

func (c *call) handleMedia(ctx context.Context, media *mediaPayload) {
	if c.State() != StateStreaming || media == nil || media.Payload == "" {
		return
	}

	raw, err := base64.StdEncoding.DecodeString(media.Payload)
	if err != nil {
		c.log.Debug().Err(err).Msg("Discarding undecodable media payload")
		return
	}
	c.b.metrics.RecordAudioIn(len(raw))

	if err := c.b.deps.Sessions.Touch(c.callID); err != nil {
		// The sweeper already expired this call.
		c.log.Info().Msg("Session expired, ending stream")
		c.teardown(ctx, "timeout", false)
		return
	}

	pcm, err := audio.DecodeAndUpsample(raw, audio.TelephonyRate, audio.STTRate)
	if err != nil {
		c.log.Warn().Err(err).Msg("Dropping bad media frame")
		return
	}
	if err := c.adapter.SendAudio(ctx, pcm); err != nil {
		c.log.Warn().Err(err).Msg("Recognizer rejected audio")
	}
}

// teardown finishes a call exactly once. drain waits for queued turns when
// the stream ended cleanly.
func (c *call) teardown(ctx context.Context, reason string, drain bool) {
	if !c.state.CompareAndSwap(int32(StateStreaming), int32(StateStopping)) {
		if c.state.CompareAndSwap(int32(StateStarting), int32(StateClosed)) {
			c.closeConn(websocket.CloseNormalClosure, "")
		}
		return
	}
	c.log.Info().Str("reason", reason).Msg("Call stopping")

	if c.adapter != nil {
		// Close flushes any buffered final transcript through the callback.
		if err := c.adapter.Close(); err != nil {
			c.log.Debug().Err(err).Msg("Recognizer close failed")
		}
	}

	c.turns.close()
	select {
	case <-c.workerDone:
	case <-time.After(c.b.cfg.DrainTimeout):
		dropped := c.turns.len()
		if drain && dropped > 0 {
			c.log.Warn().Int("dropped", dropped).Msg("Drain timeout, dropping queued turns")
		}
	}

	duration := c.b.deps.Sessions.Close(c.callID)
	c.b.deps.LLM.EndCall(c.callID)
	c.b.metrics.RecordCallEnd(reason == "stop" || reason == "disconnect", duration.Seconds())

	_ = c.b.deps.Events.CallEnded(ctx, events.CallEnded{
		CallID:     c.callID,
		StreamID:   c.streamID,
		Reason:     reason,
		DurationMs: duration.Milliseconds(),
		EndedAt:    time.Now().UTC(),
	})

	c.setState(StateClosed)
	c.closeConn(websocket.CloseNormalClosure, "")
	c.log.Info().Dur("duration", duration).Msg("Call closed")
}

// turnWorker serializes replies for one call. It exits once the queue is
// closed and drained.
func (c *call) turnWorker(ctx context.Context) {
	defer close(c.workerDone)
	for {
		t, ok := c.turns.pop()
		if !ok {
			c.turns.mu.Lock()
			closed := c.turns.closed
			empty := len(c.turns.pending) == 0
			c.turns.mu.Unlock()
			if closed && empty {
				return
			}
			select {
			case <-c.turns.wake:
			case <-ctx.Done():
				return
			}
			continue
		}
		c.processTurn(ctx, t)
	}
}

func (c *call) processTurn(ctx context.Context, t turn) {
	n := int(c.turnNum.Add(1))
	tlog := logging.WithTurn(c.callID, n)
	start := time.Now()

	tctx, cancel := context.WithTimeout(ctx, c.b.cfg.TurnTimeout)
	defer cancel()

	fallback := false
	llmStart := time.Now()
	reply, err := c.b.deps.LLM.Converse(tctx, c.callID, t.Text)
	c.b.metrics.RecordStage("llm", time.Since(llmStart).Seconds())
	if err != nil {
		c.b.metrics.RecordCollaboratorError("llm", collab.Kind(err))
		tlog.Warn().Err(err).Msg("Language model failed, using fallback line")
		reply = llm.Reply{Text: c.b.cfg.FallbackLine}
		fallback = true
	}

	if reply.Reservation != nil {
		c.recordReservation(tctx, tlog, reply.Reservation)
	}

	ttsStart := time.Now()
	speech, err := c.b.deps.TTS.Synthesize(tctx, reply.Text)
	c.b.metrics.RecordStage("tts", time.Since(ttsStart).Seconds())
	if err != nil {
		// The reply is lost but the call survives.
		c.b.metrics.RecordCollaboratorError("tts", collab.Kind(err))
		tlog.Warn().Err(err).Msg("Synthesis failed, skipping reply audio")
	} else if err := c.playSpeech(speech, n); err != nil {
		tlog.Warn().Err(err).Msg("Failed to send reply audio")
	}

	c.b.metrics.RecordTurn(fallback, time.Since(start).Seconds())
	_ = c.b.deps.Events.TurnCompleted(ctx, events.TurnCompleted{
		CallID:     c.callID,
		Turn:       n,
		Utterance:  t.Text,
		Reply:      reply.Text,
		Fallback:   fallback,
		LatencyMs:  time.Since(start).Milliseconds(),
		OccurredAt: time.Now().UTC(),
	})
	tlog.Info().
		Str("utterance", t.Text).
		Bool("fallback", fallback).
		Dur("latency", time.Since(start)).
		Msg("Turn completed")
}

func (c *call) recordReservation(ctx context.Context, tlog zerolog.Logger, intent *llm.ReservationIntent) {
	r := &store.Reservation{
		CallID:    c.callID,
		Date:      intent.Date,
		Time:      intent.Time,
		PartySize: intent.PartySize,
		GuestName: intent.GuestName,
		Phone:     intent.Phone,
		Notes:     intent.Notes,
	}
	if err := c.b.deps.Reservations.Create(ctx, r); err != nil {
		tlog.Error().Err(err).Msg("Failed to store reservation")
		return
	}
	c.b.metrics.RecordReservationCreated()
	_ = c.b.deps.Events.ReservationCreated(ctx, events.ReservationCreated{
		CallID:        c.callID,
		ReservationID: r.ID.String(),
		Date:          r.Date,
		Time:          r.Time,
		PartySize:     r.PartySize,
		GuestName:     r.GuestName,
		CreatedAt:     r.CreatedAt,
	})
	tlog.Info().Str("reservationId", r.ID.String()).Msg("Reservation created")
}

// playSpeech downsamples the reply to the telephony rate and streams it out
// in 20ms frames, followed by a mark so playback completion is observable.
func (c *call) playSpeech(speech tts.Speech, turnNum int) error {
	if len(speech.PCM) == 0 {
		return nil
	}
	mulaw, err := audio.DownsampleAndEncode(speech.PCM, speech.SampleRate)
	if err != nil {
		return fmt.Errorf("encode reply audio: %w", err)
	}

	for off := 0; off < len(mulaw); off += frameBytes {
		end := off + frameBytes
		if end > len(mulaw) {
			end = len(mulaw)
		}
		if err := c.writeJSON(mediaMessage(c.streamID, mulaw[off:end])); err != nil {
			return err
		}
		c.b.metrics.RecordAudioOut()
	}
	return c.writeJSON(markMessage(c.streamID, fmt.Sprintf("turn-%d", turnNum)))
}

func (c *call) writeJSON(v any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteJSON(v)
}

func (c *call) closeConn(code int, text string) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	deadline := time.Now().Add(time.Second)
	_ = c.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, text), deadline)
}

// recognizerCallback feeds transcript results into the call's turn queue.
type recognizerCallback struct {
	call *call
}

func (r *recognizerCallback) OnPartial(text string) {
	r.call.b.metrics.RecordPartialTranscript()
	r.call.log.Debug().Str("text", text).Msg("Partial transcript")
}

func (r *recognizerCallback) OnFinal(res stt.Result) {
	r.call.b.metrics.RecordFinalTranscript()
	if res.Text == "" {
		return
	}
	r.call.turns.push(turn{Text: res.Text, Confidence: res.Confidence, EndMs: res.EndMs})
}

// OnError ends the call: without transcription the stream has no further
// purpose. Adapters report from their own goroutines, so teardown runs off
// to the side rather than inside the callback (the teardown path closes the
// adapter, which may wait for the reporting goroutine).
func (r *recognizerCallback) OnError(err error) {
	r.call.log.Warn().Err(err).Msg("Recognizer failed, ending call")
	r.call.b.metrics.RecordCollaboratorError("stt", collab.Kind(err))
	go r.call.teardown(r.call.ctx, "stt-failure", true)
}
