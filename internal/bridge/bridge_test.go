package bridge

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"voice-reservation-gateway/internal/collab"
	"voice-reservation-gateway/internal/events"
	"voice-reservation-gateway/internal/llm"
	"voice-reservation-gateway/internal/session"
	"voice-reservation-gateway/internal/store"
	"voice-reservation-gateway/internal/stt"
	"voice-reservation-gateway/internal/stt/mock"
	"voice-reservation-gateway/internal/tts"
)

type fakeLLM struct {
	mu      sync.Mutex
	replies map[string]llm.Reply
	err     error
	seen    []string
	ended   []string
}

func (f *fakeLLM) Converse(_ context.Context, callID, utterance string) (llm.Reply, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seen = append(f.seen, utterance)
	if f.err != nil {
		return llm.Reply{}, f.err
	}
	if r, ok := f.replies[utterance]; ok {
		return r, nil
	}
	return llm.Reply{Text: "Certainly."}, nil
}

func (f *fakeLLM) EndCall(callID string) {
	f.mu.Lock()
	f.ended = append(f.ended, callID)
	f.mu.Unlock()
}

func (f *fakeLLM) utterances() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string{}, f.seen...)
}

type fakeTTS struct {
	mu       sync.Mutex
	err      error
	failOnce bool
	calls    int
}

func (f *fakeTTS) Synthesize(_ context.Context, text string) (tts.Speech, error) {
	f.mu.Lock()
	f.calls++
	n := f.calls
	f.mu.Unlock()
	if f.err != nil && (!f.failOnce || n == 1) {
		return tts.Speech{}, f.err
	}
	// 400 samples at the telephony rate: two full frames plus a remainder
	pcm := make([]int16, 400)
	for i := range pcm {
		pcm[i] = int16(i % 100)
	}
	return tts.Speech{PCM: pcm, SampleRate: 8000}, nil
}

type fixture struct {
	bridge   *Bridge
	llm      *fakeLLM
	tts      *fakeTTS
	sessions *session.Tracker
	store    *store.MemoryStore
	server   *httptest.Server
	adapter  func() stt.Adapter
}

func newFixture(t *testing.T, script mock.SimulatedUtterance, mutate func(*fixture)) *fixture {
	t.Helper()
	f := &fixture{
		llm:      &fakeLLM{replies: map[string]llm.Reply{}},
		tts:      &fakeTTS{},
		sessions: session.NewTracker(session.Config{}),
		store:    store.NewMemoryStore(),
	}
	f.adapter = func() stt.Adapter { return mock.NewScripted(script) }
	factory := func(ctx context.Context) (stt.Adapter, error) {
		return f.adapter(), nil
	}
	if mutate != nil {
		mutate(f)
	}
	f.bridge = New(Config{DrainTimeout: 2 * time.Second}, Deps{
		STT:          factory,
		LLM:          f.llm,
		TTS:          f.tts,
		Sessions:     f.sessions,
		Events:       events.New(&events.Config{Enabled: false}),
		Reservations: f.store,
	})

	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	f.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		f.bridge.Handle(r.Context(), conn)
	}))
	t.Cleanup(f.server.Close)
	return f
}

func dialStream(t *testing.T, f *fixture) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(f.server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func sendJSON(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	if err := conn.WriteJSON(v); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func startMsg(callID, streamID string) envelope {
	return envelope{
		Event:     "start",
		StreamSID: streamID,
		Start: &startPayload{
			StreamSID:   streamID,
			CallSID:     callID,
			MediaFormat: mediaFormat{Encoding: "audio/x-mulaw", SampleRate: 8000, Channels: 1},
			CustomParams: map[string]string{
				"caller": "+15550001111",
			},
		},
	}
}

func mediaMsg(streamID string) envelope {
	frame := make([]byte, 160)
	for i := range frame {
		frame[i] = 0xFF // mu-law silence
	}
	return envelope{
		Event:     "media",
		StreamSID: streamID,
		Media:     &mediaPayload{Payload: base64.StdEncoding.EncodeToString(frame)},
	}
}

// collectUntilClose reads every message until the server closes.
func collectUntilClose(t *testing.T, conn *websocket.Conn) []envelope {
	t.Helper()
	var out []envelope
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return out
		}
		var msg envelope
		if err := json.Unmarshal(data, &msg); err != nil {
			t.Fatalf("unmarshal reply: %v", err)
		}
		out = append(out, msg)
	}
}

func TestBridgeFullCall(t *testing.T) {
	script := mock.SimulatedUtterance{
		Partials:   []string{"a table"},
		Final:      "a table for two tonight",
		Confidence: 0.9,
	}
	f := newFixture(t, script, nil)
	conn := dialStream(t, f)

	sendJSON(t, conn, envelope{Event: "connected"})
	sendJSON(t, conn, startMsg("CA100", "MZ100"))
	// one frame per scripted partial plus one for the final
	sendJSON(t, conn, mediaMsg("MZ100"))
	sendJSON(t, conn, mediaMsg("MZ100"))
	sendJSON(t, conn, envelope{Event: "stop", StreamSID: "MZ100", Stop: &stopPayload{CallSID: "CA100"}})

	msgs := collectUntilClose(t, conn)

	var mediaCount, markCount int
	for _, m := range msgs {
		switch m.Event {
		case "media":
			if m.StreamSID != "MZ100" {
				t.Errorf("media streamSid = %q", m.StreamSID)
			}
			payload, err := base64.StdEncoding.DecodeString(m.Media.Payload)
			if err != nil {
				t.Fatalf("reply payload not base64: %v", err)
			}
			if len(payload) > frameBytes {
				t.Errorf("frame of %d bytes exceeds %d", len(payload), frameBytes)
			}
			mediaCount++
		case "mark":
			markCount++
		}
	}
	// 400 samples -> 400 mu-law bytes -> 3 frames
	if mediaCount != 3 {
		t.Errorf("media frames = %d, want 3", mediaCount)
	}
	if markCount != 1 {
		t.Errorf("marks = %d, want 1", markCount)
	}

	if got := f.llm.utterances(); len(got) != 1 || got[0] != "a table for two tonight" {
		t.Errorf("model saw %v", got)
	}
	if f.sessions.Active() != 0 {
		t.Errorf("active sessions = %d after call end", f.sessions.Active())
	}
	f.llm.mu.Lock()
	ended := append([]string{}, f.llm.ended...)
	f.llm.mu.Unlock()
	if len(ended) != 1 || ended[0] != "CA100" {
		t.Errorf("conversation history not released: %v", ended)
	}
}

func TestBridgeDrainsFinalAfterStop(t *testing.T) {
	// No media frames at all: the final only surfaces when the recognizer
	// is closed during teardown, and the drain phase must still answer it.
	script := mock.SimulatedUtterance{Final: "book it", Confidence: 0.8}
	f := newFixture(t, script, nil)
	conn := dialStream(t, f)

	sendJSON(t, conn, startMsg("CA101", "MZ101"))
	sendJSON(t, conn, envelope{Event: "stop", StreamSID: "MZ101", Stop: &stopPayload{CallSID: "CA101"}})

	collectUntilClose(t, conn)

	if got := f.llm.utterances(); len(got) != 1 || got[0] != "book it" {
		t.Errorf("drained turn missing, model saw %v", got)
	}
}

func TestBridgeLLMFailureUsesFallback(t *testing.T) {
	script := mock.SimulatedUtterance{Final: "hello", Confidence: 0.8}
	f := newFixture(t, script, func(f *fixture) {
		f.llm.err = collab.Classify(errors.New("llm down"))
	})
	conn := dialStream(t, f)

	sendJSON(t, conn, startMsg("CA102", "MZ102"))
	sendJSON(t, conn, mediaMsg("MZ102"))
	sendJSON(t, conn, envelope{Event: "stop", StreamSID: "MZ102", Stop: &stopPayload{CallSID: "CA102"}})

	msgs := collectUntilClose(t, conn)

	var mediaCount int
	for _, m := range msgs {
		if m.Event == "media" {
			mediaCount++
		}
	}
	if mediaCount == 0 {
		t.Error("fallback line produced no audio")
	}
	f.tts.mu.Lock()
	calls := f.tts.calls
	f.tts.mu.Unlock()
	if calls != 1 {
		t.Errorf("tts calls = %d, want 1 (the fallback line)", calls)
	}
}

// scriptedFinals emits one finalized utterance per audio frame received.
type scriptedFinals struct {
	mu     sync.Mutex
	cb     stt.Callback
	finals []string
	next   int
}

func (a *scriptedFinals) Start(_ context.Context, cb stt.Callback) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.cb = cb
	return nil
}

func (a *scriptedFinals) SendAudio(_ context.Context, audio []int16) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.cb == nil || a.next >= len(a.finals) {
		return nil
	}
	text := a.finals[a.next]
	a.next++
	a.cb.OnFinal(stt.Result{Text: text, Confidence: 0.9, EndMs: int64(a.next) * 1000})
	return nil
}

func (a *scriptedFinals) Close() error { return nil }

func TestBridgeTTSFailureKeepsCall(t *testing.T) {
	f := newFixture(t, mock.SimulatedUtterance{}, func(f *fixture) {
		f.tts.err = collab.Classify(errors.New("tts down"))
		f.tts.failOnce = true
		f.adapter = func() stt.Adapter {
			return &scriptedFinals{finals: []string{"first utterance", "second utterance"}}
		}
	})
	conn := dialStream(t, f)

	sendJSON(t, conn, startMsg("CA103", "MZ103"))
	sendJSON(t, conn, mediaMsg("MZ103"))
	sendJSON(t, conn, mediaMsg("MZ103"))
	sendJSON(t, conn, envelope{Event: "stop", StreamSID: "MZ103", Stop: &stopPayload{CallSID: "CA103"}})

	msgs := collectUntilClose(t, conn)

	// The failed first turn produced no audio but did not end the call;
	// the second turn's reply audio still came through.
	var media int
	for _, m := range msgs {
		if m.Event == "media" {
			media++
		}
	}
	if media == 0 {
		t.Error("expected reply audio from the turn after the synthesis failure")
	}
	if got := f.llm.utterances(); len(got) != 2 {
		t.Errorf("model saw %v, want both utterances", got)
	}
	if f.sessions.Active() != 0 {
		t.Errorf("call did not close cleanly")
	}
}

// erroringAdapter reports a fatal stream failure on the first audio frame.
type erroringAdapter struct {
	mu   sync.Mutex
	cb   stt.Callback
	sent bool
}

func (a *erroringAdapter) Start(_ context.Context, cb stt.Callback) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.cb = cb
	return nil
}

func (a *erroringAdapter) SendAudio(_ context.Context, _ []int16) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.sent {
		a.sent = true
		a.cb.OnError(collab.Classify(errors.New("transcription stream lost")))
	}
	return nil
}

func (a *erroringAdapter) Close() error { return nil }

func TestBridgeFatalRecognizerErrorEndsCall(t *testing.T) {
	f := newFixture(t, mock.SimulatedUtterance{}, func(f *fixture) {
		f.adapter = func() stt.Adapter { return &erroringAdapter{} }
	})
	conn := dialStream(t, f)

	sendJSON(t, conn, startMsg("CA105", "MZ105"))
	sendJSON(t, conn, mediaMsg("MZ105"))

	// The server must close the stream on its own; the client never sends
	// a stop event.
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var closeErr error
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			closeErr = err
			break
		}
	}
	if !websocket.IsCloseError(closeErr, websocket.CloseNormalClosure) {
		t.Fatalf("expected a normal close from the server, got %v", closeErr)
	}
	if f.sessions.Active() != 0 {
		t.Errorf("session still open after fatal recognizer error")
	}
	f.llm.mu.Lock()
	ended := append([]string{}, f.llm.ended...)
	f.llm.mu.Unlock()
	if len(ended) != 1 || ended[0] != "CA105" {
		t.Errorf("conversation history not released: %v", ended)
	}
}

func TestBridgeReservationStored(t *testing.T) {
	script := mock.SimulatedUtterance{Final: "yes, book it", Confidence: 0.95}
	f := newFixture(t, script, func(f *fixture) {
		f.llm.replies["yes, book it"] = llm.Reply{
			Text: "You're booked.",
			Reservation: &llm.ReservationIntent{
				Date: "2026-09-01", Time: "19:00", PartySize: 2,
				GuestName: "Ada", Phone: "+15551234",
			},
		}
	})
	conn := dialStream(t, f)

	sendJSON(t, conn, startMsg("CA104", "MZ104"))
	sendJSON(t, conn, mediaMsg("MZ104"))
	sendJSON(t, conn, envelope{Event: "stop", StreamSID: "MZ104", Stop: &stopPayload{CallSID: "CA104"}})

	collectUntilClose(t, conn)

	out, err := f.store.List(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != 1 {
		t.Fatalf("reservations = %d, want 1", len(out))
	}
	if out[0].GuestName != "Ada" || out[0].CallID != "CA104" {
		t.Errorf("stored reservation %+v", out[0])
	}
}

func TestBridgeRejectsAtCapacity(t *testing.T) {
	script := mock.SimulatedUtterance{Final: "hello"}
	f := newFixture(t, script, func(f *fixture) {
		f.sessions = session.NewTracker(session.Config{MaxSessions: 1})
	})

	// Occupy the only slot.
	if _, err := f.sessions.Open("CA-occupied", "MZ-x", ""); err != nil {
		t.Fatal(err)
	}

	conn := dialStream(t, f)
	sendJSON(t, conn, startMsg("CA105", "MZ105"))

	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	_, _, err := conn.ReadMessage()
	var closeErr *websocket.CloseError
	if !errors.As(err, &closeErr) {
		t.Fatalf("expected close, got %v", err)
	}
	if closeErr.Code != websocket.ClosePolicyViolation {
		t.Errorf("close code = %d, want policy violation", closeErr.Code)
	}
	if f.sessions.Active() != 1 {
		t.Errorf("active sessions = %d, want only the occupied slot", f.sessions.Active())
	}
}

func TestBridgeRejectsWrongEncoding(t *testing.T) {
	script := mock.SimulatedUtterance{Final: "hello"}
	f := newFixture(t, script, nil)
	conn := dialStream(t, f)

	msg := startMsg("CA106", "MZ106")
	msg.Start.MediaFormat.Encoding = "audio/l16"
	sendJSON(t, conn, msg)

	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	_, _, err := conn.ReadMessage()
	var closeErr *websocket.CloseError
	if !errors.As(err, &closeErr) {
		t.Fatalf("expected close, got %v", err)
	}
}

func TestBridgeConcurrentCalls(t *testing.T) {
	script := mock.SimulatedUtterance{Final: "a table please", Confidence: 0.9}
	f := newFixture(t, script, nil)

	const n = 5
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			conn := dialStream(t, f)
			id := fmt.Sprintf("CA%03d", i)
			sendJSON(t, conn, startMsg(id, "MZ"+id))
			sendJSON(t, conn, mediaMsg("MZ"+id))
			sendJSON(t, conn, envelope{Event: "stop", StreamSID: "MZ" + id, Stop: &stopPayload{CallSID: id}})
			collectUntilClose(t, conn)
		}(i)
	}
	wg.Wait()

	if got := len(f.llm.utterances()); got != n {
		t.Errorf("model saw %d utterances, want %d", got, n)
	}
	if f.sessions.Active() != 0 {
		t.Errorf("active sessions = %d after all calls ended", f.sessions.Active())
	}
}
