package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"voice-reservation-gateway/internal/collab"
)

type chatRequest struct {
	Model    string `json:"model"`
	Messages []struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"messages"`
}

func chatServer(t *testing.T, handler func(req chatRequest) string) (*httptest.Server, *[]chatRequest) {
	t.Helper()
	var mu sync.Mutex
	var seen []chatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		var req chatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		mu.Lock()
		seen = append(seen, req)
		mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, handler(req))
	}))
	t.Cleanup(srv.Close)
	return srv, &seen
}

func textChoice(text string) string {
	b, _ := json.Marshal(map[string]any{
		"choices": []map[string]any{
			{"message": map[string]any{"role": "assistant", "content": text}},
		},
	})
	return string(b)
}

func TestConverseKeepsHistory(t *testing.T) {
	srv, seen := chatServer(t, func(req chatRequest) string {
		return textChoice("What time would you like?")
	})
	c := NewClient(Config{BaseURL: srv.URL})

	if _, err := c.Converse(context.Background(), "CA1", "A table for two tomorrow"); err != nil {
		t.Fatalf("converse: %v", err)
	}
	if _, err := c.Converse(context.Background(), "CA1", "Seven in the evening"); err != nil {
		t.Fatalf("converse: %v", err)
	}

	second := (*seen)[1]
	// system + two prior turns + new utterance
	if len(second.Messages) != 4 {
		t.Fatalf("second request has %d messages, want 4", len(second.Messages))
	}
	if second.Messages[0].Role != "system" {
		t.Errorf("first message role = %q, want system", second.Messages[0].Role)
	}
	if second.Messages[1].Content != "A table for two tomorrow" {
		t.Errorf("history lost the first utterance: %q", second.Messages[1].Content)
	}
}

func TestConverseTruncatesHistory(t *testing.T) {
	srv, _ := chatServer(t, func(req chatRequest) string {
		return textChoice("Noted.")
	})
	c := NewClient(Config{BaseURL: srv.URL, HistoryLimit: 4})

	for i := 0; i < 6; i++ {
		if _, err := c.Converse(context.Background(), "CA1", fmt.Sprintf("turn %d", i)); err != nil {
			t.Fatalf("converse %d: %v", i, err)
		}
	}
	if got := c.HistoryLen("CA1"); got != 4 {
		t.Fatalf("history length = %d, want 4", got)
	}
}

func TestConverseHistoryIsPerCall(t *testing.T) {
	srv, seen := chatServer(t, func(req chatRequest) string {
		return textChoice("Hello.")
	})
	c := NewClient(Config{BaseURL: srv.URL})

	if _, err := c.Converse(context.Background(), "CA1", "first call"); err != nil {
		t.Fatal(err)
	}
	if _, err := c.Converse(context.Background(), "CA2", "second call"); err != nil {
		t.Fatal(err)
	}

	// The second call's request must not carry the first call's turns.
	if len((*seen)[1].Messages) != 2 {
		t.Fatalf("cross-call history leak: %d messages, want 2", len((*seen)[1].Messages))
	}
}

func TestConverseReservationToolCall(t *testing.T) {
	args := `{"date":"2026-09-01","time":"19:00","party_size":2,"guest_name":"Ada","phone":"+15551234"}`
	body, _ := json.Marshal(map[string]any{
		"choices": []map[string]any{
			{"message": map[string]any{
				"role":    "assistant",
				"content": "",
				"tool_calls": []map[string]any{
					{
						"id":   "call_1",
						"type": "function",
						"function": map[string]any{
							"name":      "create_reservation",
							"arguments": args,
						},
					},
				},
			}},
		},
	})
	srv, _ := chatServer(t, func(req chatRequest) string { return string(body) })
	c := NewClient(Config{BaseURL: srv.URL})

	reply, err := c.Converse(context.Background(), "CA1", "yes, book it")
	if err != nil {
		t.Fatalf("converse: %v", err)
	}
	if reply.Reservation == nil {
		t.Fatal("expected a reservation intent")
	}
	if reply.Reservation.GuestName != "Ada" || reply.Reservation.PartySize != 2 {
		t.Errorf("intent mismatch: %+v", reply.Reservation)
	}
	if reply.Text == "" {
		t.Error("tool call with empty content should still produce spoken text")
	}
}

func TestConverseServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	t.Cleanup(srv.Close)
	c := NewClient(Config{BaseURL: srv.URL})

	_, err := c.Converse(context.Background(), "CA1", "hello")
	if !errors.Is(err, collab.ErrUnavailable) {
		t.Fatalf("err = %v, want ErrUnavailable", err)
	}
	if got := c.HistoryLen("CA1"); got != 0 {
		t.Errorf("failed turn was recorded: history length %d", got)
	}
}

func TestEndCallClearsHistory(t *testing.T) {
	srv, _ := chatServer(t, func(req chatRequest) string { return textChoice("Bye.") })
	c := NewClient(Config{BaseURL: srv.URL})

	if _, err := c.Converse(context.Background(), "CA1", "hello"); err != nil {
		t.Fatal(err)
	}
	c.EndCall("CA1")
	if got := c.HistoryLen("CA1"); got != 0 {
		t.Errorf("history length after EndCall = %d, want 0", got)
	}
}
