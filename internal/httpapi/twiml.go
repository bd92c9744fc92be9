package httpapi

import (
	"encoding/xml"
	"strings"
)

// TwiML voice response document. Only the verbs this service emits are
// modeled.
type twimlResponse struct {
	XMLName xml.Name      `xml:"Response"`
	Say     *twimlSay     `xml:"Say,omitempty"`
	Connect *twimlConnect `xml:"Connect,omitempty"`
	Hangup  *struct{}     `xml:"Hangup,omitempty"`
}

type twimlSay struct {
	Voice string `xml:"voice,attr,omitempty"`
	Text  string `xml:",chardata"`
}

type twimlConnect struct {
	Stream twimlStream `xml:"Stream"`
}

type twimlStream struct {
	URL        string       `xml:"url,attr"`
	Parameters []twimlParam `xml:"Parameter"`
}

type twimlParam struct {
	Name  string `xml:"name,attr"`
	Value string `xml:"value,attr"`
}

// connectTwiML greets the caller and hands the call to the media stream.
func connectTwiML(greeting, streamURL, caller string) ([]byte, error) {
	doc := twimlResponse{
		Say: &twimlSay{Voice: "Polly.Amy", Text: greeting},
		Connect: &twimlConnect{
			Stream: twimlStream{
				URL:        streamURL,
				Parameters: []twimlParam{{Name: "caller", Value: caller}},
			},
		},
	}
	return marshalTwiML(doc)
}

// hangupTwiML speaks a line and hangs up. This is the greeting-only
// degradation path when no media stream can be offered.
func hangupTwiML(message string) ([]byte, error) {
	doc := twimlResponse{
		Say:    &twimlSay{Voice: "Polly.Amy", Text: message},
		Hangup: &struct{}{},
	}
	return marshalTwiML(doc)
}

// xmlFallback is served when even TwiML marshalling fails. An empty
// response document is still a valid 200 for the provider.
const xmlFallback = xml.Header + "<Response></Response>"

func marshalTwiML(doc twimlResponse) ([]byte, error) {
	body, err := xml.Marshal(doc)
	if err != nil {
		return nil, err
	}
	var b strings.Builder
	b.WriteString(xml.Header)
	b.Write(body)
	return []byte(b.String()), nil
}
