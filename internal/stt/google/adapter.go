// Package google provides an stt.Adapter backed by Google Cloud
// Speech-to-Text streaming recognition.
package google

import (
	"context"
	"encoding/binary"
	"io"
	"time"

	speech "cloud.google.com/go/speech/apiv1"
	speechpb "google.golang.org/genproto/googleapis/cloud/speech/v1"

	"voice-reservation-gateway/internal/collab"
	"voice-reservation-gateway/internal/stt"
)

// Adapter implements stt.Adapter using Google Cloud Speech-to-Text.
type Adapter struct {
	client *speech.Client
	stream speechpb.Speech_StreamingRecognizeClient
	cb     stt.Callback
	done   chan struct{}
}

// New creates a Google STT adapter. Requires GOOGLE_APPLICATION_CREDENTIALS.
func New(ctx context.Context) (*Adapter, error) {
	c, err := speech.NewClient(ctx)
	if err != nil {
		return nil, collab.Classify(err)
	}
	return &Adapter{client: c}, nil
}

// Factory returns an stt.Factory sharing nothing between calls; each call
// gets its own client and stream.
func Factory() stt.Factory {
	return func(ctx context.Context) (stt.Adapter, error) {
		return New(ctx)
	}
}

// Start begins a streaming recognition session and sends the initial
// config: 16kHz LINEAR16, interim results on.
func (a *Adapter) Start(ctx context.Context, cb stt.Callback) error {
	stream, err := a.client.StreamingRecognize(ctx)
	if err != nil {
		return collab.Classify(err)
	}
	a.stream = stream
	a.cb = cb

	err = stream.Send(&speechpb.StreamingRecognizeRequest{
		StreamingRequest: &speechpb.StreamingRecognizeRequest_StreamingConfig{
			StreamingConfig: &speechpb.StreamingRecognitionConfig{
				Config: &speechpb.RecognitionConfig{
					Encoding:        speechpb.RecognitionConfig_LINEAR16,
					SampleRateHertz: 16000,
					LanguageCode:    "en-US",
				},
				InterimResults: true,
			},
		},
	})
	if err != nil {
		return collab.Classify(err)
	}

	a.done = make(chan struct{})
	go a.listen()
	return nil
}

// SendAudio forwards one PCM16 frame to the recognizer.
func (a *Adapter) SendAudio(ctx context.Context, audio []int16) error {
	buf := make([]byte, len(audio)*2)
	for i, s := range audio {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(s))
	}
	err := a.stream.Send(&speechpb.StreamingRecognizeRequest{
		StreamingRequest: &speechpb.StreamingRecognizeRequest_AudioContent{
			AudioContent: buf,
		},
	})
	return collab.Classify(err)
}

// Close half-closes the stream and waits for the recognizer to flush its
// remaining results, so buffered finals reach the callback before Close
// returns.
func (a *Adapter) Close() error {
	if a.stream == nil {
		return nil
	}
	err := a.stream.CloseSend()
	if a.done != nil {
		select {
		case <-a.done:
		case <-time.After(5 * time.Second):
		}
	}
	return err
}

// listen receives recognition responses and invokes callbacks.
func (a *Adapter) listen() {
	defer close(a.done)
	for {
		resp, err := a.stream.Recv()
		if err != nil {
			if err != io.EOF {
				a.cb.OnError(collab.Classify(err))
			}
			return
		}

		for _, r := range resp.Results {
			if len(r.Alternatives) == 0 {
				continue
			}
			alt := r.Alternatives[0]
			if r.IsFinal {
				var endMs int64
				if t := r.ResultEndTime; t != nil {
					endMs = t.Seconds*1000 + int64(t.Nanos)/1e6
				}
				a.cb.OnFinal(stt.Result{
					Text:       alt.Transcript,
					Confidence: float64(alt.Confidence),
					EndMs:      endMs,
				})
			} else {
				a.cb.OnPartial(alt.Transcript)
			}
		}
	}
}
