// Package stt defines the interface for streaming speech-to-text adapters.
package stt

import "context"

// Result is a transcript emitted by the engine. StartMs/EndMs bound the
// audio range the text covers, relative to the start of the stream; the
// bridge orders turns by EndMs.
type Result struct {
	Text       string
	Confidence float64
	StartMs    int64
	EndMs      int64
}

// Callback receives transcript results from the STT provider. Callbacks may
// be invoked from the adapter's own goroutines.
type Callback interface {
	// OnPartial is called for interim transcripts the engine may revise.
	OnPartial(text string)

	// OnFinal is called for finalized transcripts. Exactly the finalized
	// results drive conversation turns.
	OnFinal(res Result)

	// OnError is called when the transcription stream fails. The stream is
	// dead afterwards; the bridge treats this as fatal to the call.
	OnError(err error)
}

// Adapter is a streaming transcription session bound to one call.
type Adapter interface {
	// Start opens the streaming session and registers the callback
	// receiver. Readiness is acknowledged by a nil return.
	Start(ctx context.Context, cb Callback) error

	// SendAudio forwards PCM16 audio at the engine's expected rate.
	SendAudio(ctx context.Context, audio []int16) error

	// Close ends the session and releases the connection.
	Close() error
}

// Factory creates one adapter per call.
type Factory func(ctx context.Context) (Adapter, error)
