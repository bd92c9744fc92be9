// Package bridge connects a telephony media stream to the speech pipeline.
package bridge

import "encoding/base64"

// envelope is one Twilio Media Streams WebSocket message. The event field
// says which of the optional payloads is present.
type envelope struct {
	Event     string        `json:"event"`
	StreamSID string        `json:"streamSid,omitempty"`
	Start     *startPayload `json:"start,omitempty"`
	Media     *mediaPayload `json:"media,omitempty"`
	Mark      *markPayload  `json:"mark,omitempty"`
	Stop      *stopPayload  `json:"stop,omitempty"`
}

type startPayload struct {
	StreamSID    string            `json:"streamSid"`
	AccountSID   string            `json:"accountSid"`
	CallSID      string            `json:"callSid"`
	Tracks       []string          `json:"tracks"`
	MediaFormat  mediaFormat       `json:"mediaFormat"`
	CustomParams map[string]string `json:"customParameters"`
}

type mediaFormat struct {
	Encoding   string `json:"encoding"`
	SampleRate int    `json:"sampleRate"`
	Channels   int    `json:"channels"`
}

type mediaPayload struct {
	Track     string `json:"track"`
	Chunk     string `json:"chunk"`
	Timestamp string `json:"timestamp"`
	Payload   string `json:"payload"` // base64 audio
}

type markPayload struct {
	Name string `json:"name"`
}

type stopPayload struct {
	AccountSID string `json:"accountSid"`
	CallSID    string `json:"callSid"`
}

// mediaMessage builds an outbound media frame for the stream.
func mediaMessage(streamSID string, mulaw []byte) envelope {
	return envelope{
		Event:     "media",
		StreamSID: streamSID,
		Media:     &mediaPayload{Payload: base64.StdEncoding.EncodeToString(mulaw)},
	}
}

// markMessage builds an outbound mark; the peer echoes it back once all
// audio queued before it has been played.
func markMessage(streamSID, name string) envelope {
	return envelope{
		Event:     "mark",
		StreamSID: streamSID,
		Mark:      &markPayload{Name: name},
	}
}
