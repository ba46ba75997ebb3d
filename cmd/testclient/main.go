// Command testclient is a smoke test: it sends one silent utterance and
// expects the relay to answer that it heard nothing.
package main

import (
	"encoding/base64"
	"flag"
	"log"
	"time"

	"github.com/gorilla/websocket"
)

func main() {
	serverURL := flag.String("server", "ws://localhost:8000/ws", "Relay WebSocket URL")
	flag.Parse()

	conn, _, err := websocket.DefaultDialer.Dial(*serverURL, nil)
	if err != nil {
		log.Fatalf("failed to connect: %v", err)
	}
	defer conn.Close()

	log.Println("Connected to server")

	silence := make([]byte, 3200)
	msg := map[string]any{"audio": base64.StdEncoding.EncodeToString(silence)}
	if err := conn.WriteJSON(msg); err != nil {
		log.Fatalf("failed to send utterance: %v", err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(30 * time.Second))
	for {
		var reply map[string]any
		if err := conn.ReadJSON(&reply); err != nil {
			log.Fatalf("failed to read reply: %v", err)
		}
		log.Printf("Received: %v", reply)
		if reply["state"] == "idle" {
			break
		}
	}

	_ = conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}
