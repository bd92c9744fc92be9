// Package llm talks to the chat-completions service that drives the
// reservation dialogue. The client keeps the per-call conversation history
// (append each turn, truncate to the configured window); everything else
// about the dialogue is the model's problem.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"voice-reservation-gateway/internal/collab"
)

// ReservationIntent is the structured side effect the model reports when it
// has collected a complete booking. The bridge forwards it opaquely.
type ReservationIntent struct {
	Date      string `json:"date"`
	Time      string `json:"time"`
	PartySize int    `json:"party_size"`
	GuestName string `json:"guest_name"`
	Phone     string `json:"phone"`
	Notes     string `json:"notes,omitempty"`
}

// Reply is the model's answer for one utterance.
type Reply struct {
	Text        string
	Reservation *ReservationIntent
}

// Config holds client settings.
type Config struct {
	BaseURL      string
	APIKey       string
	Model        string
	MaxTokens    int
	Temperature  float64
	HistoryLimit int
	Timeout      time.Duration
	SystemPrompt string
}

// Client is an HTTP chat-completions client with per-call history.
type Client struct {
	cfg  Config
	http *http.Client

	mu      sync.Mutex
	history map[string][]message
}

type message struct {
	Role      string     `json:"role"`
	Content   string     `json:"content"`
	ToolCalls []toolCall `json:"tool_calls,omitempty"`
}

type toolCall struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Function struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	} `json:"function"`
}

// NewClient creates a conversation client.
func NewClient(cfg Config) *Client {
	if cfg.Model == "" {
		cfg.Model = "gpt-4o-mini"
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 120
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = 8
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.SystemPrompt == "" {
		cfg.SystemPrompt = DefaultSystemPrompt
	}
	return &Client{
		cfg:     cfg,
		http:    &http.Client{Timeout: cfg.Timeout},
		history: make(map[string][]message),
	}
}

// Converse appends the utterance to the call's history, asks the model for
// a reply, and records the assistant turn. Calls for the same call ID are
// expected to arrive serialized; distinct calls may run concurrently.
func (c *Client) Converse(ctx context.Context, callID, utterance string) (Reply, error) {
	c.mu.Lock()
	turns := append([]message{}, c.history[callID]...)
	c.mu.Unlock()

	msgs := make([]message, 0, len(turns)+2)
	msgs = append(msgs, message{Role: "system", Content: c.cfg.SystemPrompt})
	msgs = append(msgs, turns...)
	msgs = append(msgs, message{Role: "user", Content: utterance})

	payload := map[string]any{
		"model":       c.cfg.Model,
		"messages":    msgs,
		"max_tokens":  c.cfg.MaxTokens,
		"temperature": c.cfg.Temperature,
		"tools":       reservationTools,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return Reply{}, err
	}

	url := strings.TrimRight(c.cfg.BaseURL, "/") + "/v1/chat/completions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return Reply{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return Reply{}, collab.Classify(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return Reply{}, collab.Classify(fmt.Errorf("llm: status %d", resp.StatusCode))
	}

	var out struct {
		Choices []struct {
			Message message `json:"message"`
		} `json:"choices"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Reply{}, collab.Classify(fmt.Errorf("llm: decode response: %w", err))
	}
	if len(out.Choices) == 0 {
		return Reply{}, collab.Classify(fmt.Errorf("llm: empty choices"))
	}

	reply := c.interpret(out.Choices[0].Message)

	c.mu.Lock()
	h := append(c.history[callID],
		message{Role: "user", Content: utterance},
		message{Role: "assistant", Content: reply.Text},
	)
	if len(h) > c.cfg.HistoryLimit {
		h = h[len(h)-c.cfg.HistoryLimit:]
	}
	c.history[callID] = h
	c.mu.Unlock()

	return reply, nil
}

// interpret extracts the reply text and any reservation tool call.
func (c *Client) interpret(m message) Reply {
	reply := Reply{Text: strings.TrimSpace(m.Content)}

	for _, tc := range m.ToolCalls {
		if tc.Function.Name != "create_reservation" {
			continue
		}
		var intent ReservationIntent
		if err := json.Unmarshal([]byte(tc.Function.Arguments), &intent); err != nil {
			log.Warn().Err(err).Msg("Discarding malformed reservation tool call")
			continue
		}
		reply.Reservation = &intent
		break
	}

	if reply.Text == "" && reply.Reservation != nil {
		r := reply.Reservation
		reply.Text = fmt.Sprintf(
			"You're all set, %s: a table for %d on %s at %s. We look forward to seeing you.",
			r.GuestName, r.PartySize, r.Date, r.Time)
	}
	return reply
}

// EndCall drops the call's conversation history.
func (c *Client) EndCall(callID string) {
	c.mu.Lock()
	delete(c.history, callID)
	c.mu.Unlock()
}

// HistoryLen reports the stored turn count for a call.
func (c *Client) HistoryLen(callID string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.history[callID])
}

// reservationTools declares the tool the model may call when a booking is
// complete.
var reservationTools = []map[string]any{
	{
		"type": "function",
		"function": map[string]any{
			"name":        "create_reservation",
			"description": "Create the reservation once date, time, party size, guest name and phone are all known.",
			"parameters": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"date":       map[string]any{"type": "string", "description": "Date in YYYY-MM-DD"},
					"time":       map[string]any{"type": "string", "description": "Time in HH:MM, 24h"},
					"party_size": map[string]any{"type": "integer"},
					"guest_name": map[string]any{"type": "string"},
					"phone":      map[string]any{"type": "string"},
					"notes":      map[string]any{"type": "string"},
				},
				"required": []string{"date", "time", "party_size", "guest_name", "phone"},
			},
		},
	},
}
