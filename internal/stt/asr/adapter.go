// Package asr provides an stt.Adapter backed by a streaming ASR service
// over WebSocket: 16kHz PCM16 frames go out as binary messages, transcript
// events come back as JSON.
package asr

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"voice-reservation-gateway/internal/collab"
	"voice-reservation-gateway/internal/stt"
)

// resultEvent is one message from the ASR service.
type resultEvent struct {
	Type       string  `json:"type"` // "partial", "final", "ready_to_stop"
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
	StartMs    int64   `json:"start_ms"`
	EndMs      int64   `json:"end_ms"`
}

// Adapter implements stt.Adapter over a WebSocket connection to the ASR
// service. One adapter serves one call.
type Adapter struct {
	url string

	mu     sync.Mutex
	conn   *websocket.Conn
	cb     stt.Callback
	closed bool
	done   chan struct{}
}

// New creates an adapter that will dial the given ws:// or wss:// URL.
func New(url string) *Adapter {
	return &Adapter{url: url}
}

// Factory returns an stt.Factory producing one connection per call.
func Factory(url string) stt.Factory {
	return func(ctx context.Context) (stt.Adapter, error) {
		return New(url), nil
	}
}

// Start dials the ASR service and begins the receive loop. A dial failure
// is irrecoverable for the call.
func (a *Adapter) Start(ctx context.Context, cb stt.Callback) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, a.url, nil)
	if err != nil {
		return collab.Classify(err)
	}

	a.mu.Lock()
	a.conn = conn
	a.cb = cb
	a.done = make(chan struct{})
	a.mu.Unlock()

	go a.readLoop(conn, cb)
	return nil
}

// SendAudio forwards one PCM16 frame as a little-endian binary message.
func (a *Adapter) SendAudio(ctx context.Context, audio []int16) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed || a.conn == nil {
		return nil
	}
	buf := make([]byte, len(audio)*2)
	for i, s := range audio {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(s))
	}
	if err := a.conn.WriteMessage(websocket.BinaryMessage, buf); err != nil {
		return collab.Classify(err)
	}
	return nil
}

// Close ends the session. It signals the service, then waits for the
// receive loop to drain any buffered finals before releasing the
// connection.
func (a *Adapter) Close() error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed = true
	conn, done := a.conn, a.done
	a.mu.Unlock()

	if conn == nil {
		return nil
	}
	_ = conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	if done != nil {
		select {
		case <-done:
		case <-time.After(5 * time.Second):
		}
	}
	return conn.Close()
}

func (a *Adapter) readLoop(conn *websocket.Conn, cb stt.Callback) {
	defer close(a.done)
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			a.mu.Lock()
			closed := a.closed
			a.mu.Unlock()
			if !closed {
				cb.OnError(collab.Classify(err))
			}
			return
		}

		var ev resultEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			log.Warn().Err(err).Msg("Discarding malformed ASR event")
			continue
		}

		switch ev.Type {
		case "partial":
			cb.OnPartial(ev.Text)
		case "final":
			cb.OnFinal(stt.Result{
				Text:       ev.Text,
				Confidence: ev.Confidence,
				StartMs:    ev.StartMs,
				EndMs:      ev.EndMs,
			})
		case "ready_to_stop":
			return
		default:
			log.Debug().Str("type", ev.Type).Msg("Ignoring unknown ASR event type")
		}
	}
}
