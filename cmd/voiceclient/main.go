// Command voiceclient sends a recorded utterance to the relay and saves the
// spoken reply.
package main

import (
	"encoding/base64"
	"encoding/binary"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/gorilla/websocket"
)

// WAV header is 44 bytes for standard PCM files
const wavHeaderSize = 44

type request struct {
	Audio         string  `json:"audio"`
	Temperature   float64 `json:"temperature"`
	ContextLength int     `json:"context_length"`
	Instructions  string  `json:"instructions,omitempty"`
}

type reply struct {
	State         string `json:"state,omitempty"`
	Transcript    string `json:"transcript,omitempty"`
	LLMResponse   string `json:"llm_response,omitempty"`
	Tokens        int    `json:"tokens,omitempty"`
	AudioResponse string `json:"audio_response,omitempty"`
	Error         string `json:"error,omitempty"`
}

func main() {
	audioFile := flag.String("audio", "testdata/utterance.webm", "Path to a recorded utterance")
	serverURL := flag.String("server", "ws://localhost:8000/ws", "Relay WebSocket URL")
	outDir := flag.String("out", ".", "Directory for reply audio")
	temperature := flag.Float64("temperature", 0.7, "Sampling temperature")
	contextLength := flag.Int("context", 10, "Conversation turns kept")
	instructions := flag.String("instructions", "", "System instructions")
	timeout := flag.Duration("timeout", 2*time.Minute, "Time to wait for the reply")
	flag.Parse()

	audio, err := os.ReadFile(*audioFile)
	if err != nil {
		log.Fatalf("Failed to read audio file: %v", err)
	}
	describeWAV(audio)

	conn, _, err := websocket.DefaultDialer.Dial(*serverURL, nil)
	if err != nil {
		log.Fatalf("Failed to connect: %v", err)
	}
	defer conn.Close()
	log.Printf("Connected to %s", *serverURL)

	req := request{
		Audio:         base64.StdEncoding.EncodeToString(audio),
		Temperature:   *temperature,
		ContextLength: *contextLength,
		Instructions:  *instructions,
	}
	if err := conn.WriteJSON(req); err != nil {
		log.Fatalf("Failed to send utterance: %v", err)
	}
	log.Printf("Sent %d bytes of audio", len(audio))

	deadline := time.Now().Add(*timeout)
	var chunks int
	for {
		_ = conn.SetReadDeadline(deadline)
		var msg reply
		if err := conn.ReadJSON(&msg); err != nil {
			log.Fatalf("Failed to read reply: %v", err)
		}

		switch {
		case msg.State != "":
			log.Printf("State: %s", msg.State)
			if msg.State == "idle" {
				log.Printf("Turn complete, %d audio chunks saved", chunks)
				_ = conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
		case msg.Transcript != "":
			log.Printf("Transcript: %s", msg.Transcript)
		case msg.LLMResponse != "":
			log.Printf("Reply (%d tokens): %s", msg.Tokens, msg.LLMResponse)
		case msg.AudioResponse != "":
			chunks++
			if err := saveChunk(*outDir, chunks, msg.AudioResponse); err != nil {
				log.Printf("Failed to save audio chunk %d: %v", chunks, err)
			}
		case msg.Error != "":
			log.Printf("Error: %s", msg.Error)
		}
	}
}

func saveChunk(dir string, n int, encoded string) error {
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return err
	}
	path := filepath.Join(dir, fmt.Sprintf("reply-%03d.wav", n))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return err
	}
	log.Printf("Saved %s (%d bytes)", path, len(data))
	return nil
}

// describeWAV logs the format of PCM WAV input; other containers are sent
// as-is.
func describeWAV(data []byte) {
	if len(data) < wavHeaderSize || string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return
	}
	log.Printf("WAV file: format=%d channels=%d sampleRate=%d bitsPerSample=%d",
		binary.LittleEndian.Uint16(data[20:22]),
		binary.LittleEndian.Uint16(data[22:24]),
		binary.LittleEndian.Uint32(data[24:28]),
		binary.LittleEndian.Uint16(data[34:36]))
}
