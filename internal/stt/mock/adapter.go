// Package mock provides a scripted STT adapter for tests and local
// development without a transcription backend. It simulates progressive
// partial transcripts followed by exactly one finalized result per
// utterance.
package mock

import (
	"context"
	"sync"
	"time"

	"voice-reservation-gateway/internal/stt"
)

// SimulatedUtterance is one scripted utterance.
type SimulatedUtterance struct {
	Partials   []string
	Final      string
	Confidence float64
}

// DefaultUtterances cycle through typical reservation requests.
var DefaultUtterances = []SimulatedUtterance{
	{
		Partials:   []string{"I'd like", "I'd like a table"},
		Final:      "I'd like a table for four on Friday",
		Confidence: 0.93,
	},
	{
		Partials:   []string{"Seven", "Seven thirty"},
		Final:      "Seven thirty works for us",
		Confidence: 0.96,
	},
	{
		Partials:   []string{"The name is"},
		Final:      "The name is Rivera",
		Confidence: 0.91,
	},
	{
		Partials:   []string{"Yes"},
		Final:      "Yes that's right, thank you",
		Confidence: 0.97,
	},
}

var (
	utteranceCounter int
	counterMu        sync.Mutex
)

// Adapter implements stt.Adapter with scripted responses: one partial per
// audio frame until the script runs out, then a single finalized result.
type Adapter struct {
	mu           sync.Mutex
	cb           stt.Callback
	utterance    SimulatedUtterance
	partialIndex int
	finalQueued  bool
	finalSent    bool
	closed       bool
	framesMs     int64
	// Delay simulates engine processing time. Zero in tests.
	Delay time.Duration
}

// New creates a mock adapter, cycling through DefaultUtterances.
func New() *Adapter {
	counterMu.Lock()
	idx := utteranceCounter % len(DefaultUtterances)
	utteranceCounter++
	counterMu.Unlock()
	return &Adapter{utterance: DefaultUtterances[idx], Delay: 50 * time.Millisecond}
}

// NewScripted creates a mock adapter with a fixed utterance.
func NewScripted(u SimulatedUtterance) *Adapter {
	return &Adapter{utterance: u}
}

// Start registers the callback receiver.
func (a *Adapter) Start(ctx context.Context, cb stt.Callback) error {
	a.mu.Lock()
	a.cb = cb
	a.mu.Unlock()
	return nil
}

// SendAudio advances the script: the next partial if any remain, otherwise
// the finalized result, mimicking silence detection ending the utterance.
func (a *Adapter) SendAudio(ctx context.Context, audio []int16) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed || a.cb == nil {
		return nil
	}
	// Assume 16kHz input when accounting stream time.
	a.framesMs += int64(len(audio)) * 1000 / 16000

	if a.partialIndex < len(a.utterance.Partials) {
		partial := a.utterance.Partials[a.partialIndex]
		a.partialIndex++
		a.emit(func(cb stt.Callback) { cb.OnPartial(partial) })
		return nil
	}

	if !a.finalQueued {
		a.finalQueued = true
		res := stt.Result{
			Text:       a.utterance.Final,
			Confidence: a.utterance.Confidence,
			EndMs:      a.framesMs,
		}
		a.emitFinal(res)
	}
	return nil
}

// emit delivers a callback asynchronously, like a real streaming engine.
// Caller holds a.mu.
func (a *Adapter) emit(fn func(stt.Callback)) {
	cb := a.cb
	delay := a.Delay
	go func() {
		if delay > 0 {
			time.Sleep(delay)
		}
		a.mu.Lock()
		closed := a.closed
		a.mu.Unlock()
		if !closed {
			fn(cb)
		}
	}()
}

// emitFinal delivers the finalized result asynchronously. Exactly one
// delivery happens even if Close races with it. Caller holds a.mu.
func (a *Adapter) emitFinal(res stt.Result) {
	cb := a.cb
	delay := a.Delay
	go func() {
		if delay > 0 {
			time.Sleep(delay)
		}
		a.mu.Lock()
		if a.finalSent {
			a.mu.Unlock()
			return
		}
		a.finalSent = true
		a.mu.Unlock()
		cb.OnFinal(res)
	}()
}

// Close ends the session. If the finalized result has not been delivered
// yet it is flushed before Close returns, so callers can rely on the flush
// having happened.
func (a *Adapter) Close() error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed = true
	flush := !a.finalSent && a.cb != nil
	var cb stt.Callback
	var res stt.Result
	if flush {
		a.finalSent = true
		cb = a.cb
		res = stt.Result{
			Text:       a.utterance.Final,
			Confidence: a.utterance.Confidence,
			EndMs:      a.framesMs,
		}
	}
	delay := a.Delay
	a.mu.Unlock()

	if flush {
		if delay > 0 {
			time.Sleep(delay)
		}
		cb.OnFinal(res)
	}
	return nil
}
