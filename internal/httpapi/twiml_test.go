package httpapi

import (
	"encoding/xml"
	"strings"
	"testing"
)

func TestConnectTwiML(t *testing.T) {
	body, err := connectTwiML("Welcome.", "wss://voice.example.com/twilio/media", "+15551234")
	if err != nil {
		t.Fatal(err)
	}
	s := string(body)

	if !strings.HasPrefix(s, xml.Header) {
		t.Error("missing XML declaration")
	}
	var doc twimlResponse
	if err := xml.Unmarshal(body, &doc); err != nil {
		t.Fatalf("output is not valid XML: %v", err)
	}
	if doc.Say == nil || doc.Say.Text != "Welcome." {
		t.Errorf("Say = %+v", doc.Say)
	}
	if doc.Connect == nil || doc.Connect.Stream.URL != "wss://voice.example.com/twilio/media" {
		t.Errorf("Connect = %+v", doc.Connect)
	}
	if len(doc.Connect.Stream.Parameters) != 1 || doc.Connect.Stream.Parameters[0].Value != "+15551234" {
		t.Errorf("Parameters = %+v", doc.Connect.Stream.Parameters)
	}
	if doc.Hangup != nil {
		t.Error("connect TwiML must not hang up")
	}
}

func TestHangupTwiML(t *testing.T) {
	body, err := hangupTwiML("Thank you for calling.")
	if err != nil {
		t.Fatal(err)
	}
	var doc twimlResponse
	if err := xml.Unmarshal(body, &doc); err != nil {
		t.Fatalf("output is not valid XML: %v", err)
	}
	if doc.Hangup == nil {
		t.Error("hangup TwiML missing Hangup")
	}
	if doc.Connect != nil {
		t.Error("hangup TwiML must not open a stream")
	}
}

func TestTwiMLEscapesText(t *testing.T) {
	body, err := connectTwiML(`Det's <speak> & enjoy`, "wss://x/y", "")
	if err != nil {
		t.Fatal(err)
	}
	s := string(body)
	if strings.Contains(s, "<speak>") {
		t.Errorf("unescaped markup in Say text: %s", s)
	}
	var doc twimlResponse
	if err := xml.Unmarshal(body, &doc); err != nil {
		t.Fatalf("escaped output does not round trip: %v", err)
	}
}
