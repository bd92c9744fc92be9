// Package tts fetches synthesized speech from the text-to-speech service.
// The service answers with raw little-endian PCM16 and advertises the sample
// rate in a response header; downstream code resamples to the telephony rate.
package tts

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"voice-reservation-gateway/internal/collab"
)

// DefaultSampleRate is assumed when the service omits the X-Sample-Rate
// header.
const DefaultSampleRate = 24000

const sampleRateHeader = "X-Sample-Rate"

// Speech is one synthesized utterance.
type Speech struct {
	PCM        []int16
	SampleRate int
}

// Config holds client settings.
type Config struct {
	BaseURL string
	Voice   string
	Timeout time.Duration
}

// Client posts text to the synthesis service.
type Client struct {
	cfg  Config
	http *http.Client
}

// NewClient creates a synthesis client.
func NewClient(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	return &Client{cfg: cfg, http: &http.Client{Timeout: cfg.Timeout}}
}

// Synthesize converts text to speech. Empty text yields empty speech without
// a round trip.
func (c *Client) Synthesize(ctx context.Context, text string) (Speech, error) {
	if strings.TrimSpace(text) == "" {
		return Speech{SampleRate: DefaultSampleRate}, nil
	}

	body, err := json.Marshal(map[string]string{
		"text":  text,
		"voice": c.cfg.Voice,
	})
	if err != nil {
		return Speech{}, err
	}

	url := strings.TrimRight(c.cfg.BaseURL, "/") + "/synthesize"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return Speech{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return Speech{}, collab.Classify(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return Speech{}, collab.Classify(fmt.Errorf("tts: status %d", resp.StatusCode))
	}

	rate := DefaultSampleRate
	if h := resp.Header.Get(sampleRateHeader); h != "" {
		parsed, err := strconv.Atoi(h)
		if err != nil || parsed <= 0 {
			return Speech{}, fmt.Errorf("tts: bad %s header %q", sampleRateHeader, h)
		}
		rate = parsed
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return Speech{}, collab.Classify(err)
	}
	if len(raw)%2 != 0 {
		return Speech{}, fmt.Errorf("tts: odd payload length %d", len(raw))
	}

	pcm := make([]int16, len(raw)/2)
	for i := range pcm {
		pcm[i] = int16(binary.LittleEndian.Uint16(raw[2*i:]))
	}
	return Speech{PCM: pcm, SampleRate: rate}, nil
}
