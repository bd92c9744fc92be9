// callsim plays a WAV file into the gateway's media-stream endpoint the way
// a telephony provider would: 20ms mu-law frames over WebSocket, then a
// stop event. Reply audio and marks are logged as they come back.
package main

import (
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"github.com/gorilla/websocket"

	"voice-reservation-gateway/internal/audio"
)

const wavHeaderSize = 44

// 20ms at 8kHz 16-bit mono
const samplesPerFrame = 160

type streamMessage struct {
	Event     string          `json:"event"`
	StreamSID string          `json:"streamSid,omitempty"`
	Start     json.RawMessage `json:"start,omitempty"`
	Media     *mediaPart      `json:"media,omitempty"`
	Mark      *markPart       `json:"mark,omitempty"`
	Stop      json.RawMessage `json:"stop,omitempty"`
}

type mediaPart struct {
	Payload string `json:"payload"`
}

type markPart struct {
	Name string `json:"name"`
}

func main() {
	audioFile := flag.String("audio", "testdata/sample-8khz.wav", "path to WAV file (8kHz 16-bit mono)")
	serverURL := flag.String("server", "ws://localhost:8080/twilio/media", "media stream WebSocket URL")
	callID := flag.String("call", "CA-sim-"+time.Now().Format("150405"), "simulated call SID")
	caller := flag.String("caller", "+15550000000", "simulated caller number")
	flag.Parse()

	pcm := readWAV(*audioFile)

	conn, _, err := websocket.DefaultDialer.Dial(*serverURL, nil)
	if err != nil {
		log.Fatalf("Failed to connect: %v", err)
	}
	defer conn.Close()
	log.Printf("Connected to %s", *serverURL)

	streamID := "MZ-sim-" + time.Now().Format("150405")

	send(conn, streamMessage{Event: "connected"})
	start, _ := json.Marshal(map[string]any{
		"streamSid": streamID,
		"callSid":   *callID,
		"tracks":    []string{"inbound"},
		"mediaFormat": map[string]any{
			"encoding":   "audio/x-mulaw",
			"sampleRate": 8000,
			"channels":   1,
		},
		"customParameters": map[string]string{"caller": *caller},
	})
	send(conn, streamMessage{Event: "start", StreamSID: streamID, Start: start})

	// Log the gateway's replies while we stream.
	go func() {
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var msg streamMessage
			if err := json.Unmarshal(data, &msg); err != nil {
				continue
			}
			switch msg.Event {
			case "media":
				raw, _ := base64.StdEncoding.DecodeString(msg.Media.Payload)
				log.Printf("<- media frame (%d bytes)", len(raw))
			case "mark":
				log.Printf("<- mark %s", msg.Mark.Name)
			}
		}
	}()

	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()

	var frames int
	for off := 0; off < len(pcm); off += samplesPerFrame {
		end := off + samplesPerFrame
		if end > len(pcm) {
			end = len(pcm)
		}
		mulaw, err := audio.EncodeMulaw(pcm[off:end])
		if err != nil {
			log.Fatalf("Failed to encode frame: %v", err)
		}
		payload := base64.StdEncoding.EncodeToString(mulaw)
		send(conn, streamMessage{
			Event:     "media",
			StreamSID: streamID,
			Media:     &mediaPart{Payload: payload},
		})
		frames++
		<-ticker.C
	}
	log.Printf("Sent %d frames (%.1fs of audio)", frames, float64(frames)*0.02)

	stop, _ := json.Marshal(map[string]string{"callSid": *callID})
	send(conn, streamMessage{Event: "stop", StreamSID: streamID, Stop: stop})

	// Give the gateway a moment to answer the last utterance.
	time.Sleep(5 * time.Second)
	log.Println("Done")
}

func send(conn *websocket.Conn, msg streamMessage) {
	if err := conn.WriteJSON(msg); err != nil {
		log.Fatalf("Failed to send %s: %v", msg.Event, err)
	}
}

// readWAV loads the sample data of a PCM WAV file as int16 samples.
func readWAV(path string) []int16 {
	f, err := os.Open(path)
	if err != nil {
		log.Fatalf("Failed to open audio file: %v", err)
	}
	defer f.Close()

	header := make([]byte, wavHeaderSize)
	if _, err := io.ReadFull(f, header); err != nil {
		log.Fatalf("Failed to read WAV header: %v", err)
	}
	if string(header[0:4]) != "RIFF" || string(header[8:12]) != "WAVE" {
		log.Fatal("Not a valid WAV file")
	}

	format := binary.LittleEndian.Uint16(header[20:22])
	channels := binary.LittleEndian.Uint16(header[22:24])
	rate := binary.LittleEndian.Uint32(header[24:28])
	bits := binary.LittleEndian.Uint16(header[34:36])
	log.Printf("WAV file: format=%d channels=%d sampleRate=%d bitsPerSample=%d",
		format, channels, rate, bits)

	if format != 1 || channels != 1 || bits != 16 {
		log.Fatal("Only 16-bit mono PCM supported")
	}
	if rate != 8000 {
		fmt.Println("Warning: sample rate is not 8000 Hz, audio will play at the wrong speed")
	}

	raw, err := io.ReadAll(f)
	if err != nil {
		log.Fatalf("Failed to read audio data: %v", err)
	}
	pcm := make([]int16, len(raw)/2)
	for i := range pcm {
		pcm[i] = int16(binary.LittleEndian.Uint16(raw[2*i:]))
	}
	return pcm
}
