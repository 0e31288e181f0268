// Command audioclient streams a WAV file to the websocket endpoint at real
// time pace and prints the transcriptions that come back.
package main

import (
	"encoding/json"
	"flag"
	"io"
	"log"
	"os"
	"time"

	"github.com/gorilla/websocket"
	"github.com/youpy/go-wav"
)

const chunkIntervalMs = 100

func main() {
	audioFile := flag.String("audio", "testdata/sample-16khz.wav", "Path to WAV file (16kHz 16-bit mono)")
	serverURL := flag.String("server", "ws://localhost:8080/v1/stream", "Websocket endpoint")
	clientID := flag.String("client", "audioclient-"+time.Now().Format("150405"), "Client ID")
	token := flag.String("token", "", "Auth token, if the server requires one")
	flag.Parse()

	f, err := os.Open(*audioFile)
	if err != nil {
		log.Fatalf("Failed to open audio file: %v", err)
	}
	defer f.Close()

	reader := wav.NewReader(f)
	format, err := reader.Format()
	if err != nil {
		log.Fatalf("Failed to read WAV header: %v", err)
	}
	log.Printf("WAV file: channels=%d sampleRate=%d bitsPerSample=%d",
		format.NumChannels, format.SampleRate, format.BitsPerSample)
	if format.AudioFormat != wav.AudioFormatPCM {
		log.Fatal("Only PCM format supported")
	}

	url := *serverURL + "?clientId=" + *clientID
	if *token != "" {
		url += "&token=" + *token
	}
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		log.Fatalf("Failed to connect: %v", err)
	}
	defer conn.Close()
	log.Printf("Connected to %s", *serverURL)

	done := make(chan struct{})
	go readResults(conn, done)

	// 100ms of audio per frame at the file's own rate.
	chunkSize := int(format.SampleRate) * int(format.NumChannels) *
		int(format.BitsPerSample) / 8 * chunkIntervalMs / 1000

	chunk := make([]byte, chunkSize)
	var totalBytes int64
	var chunkNum int
	startTime := time.Now()

	ticker := time.NewTicker(chunkIntervalMs * time.Millisecond)
	defer ticker.Stop()

	for range ticker.C {
		n, err := io.ReadFull(reader, chunk)
		if n > 0 {
			if werr := conn.WriteMessage(websocket.BinaryMessage, chunk[:n]); werr != nil {
				log.Fatalf("Failed to send audio: %v", werr)
			}
			chunkNum++
			totalBytes += int64(n)
		}
		if err != nil {
			break
		}
	}

	log.Printf("Sent %d chunks (%d bytes) in %v", chunkNum, totalBytes, time.Since(startTime))

	// Ask the server to drain; it flushes the remainder and closes after
	// the last result.
	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"close"}`)); err != nil {
		log.Fatalf("Failed to send close: %v", err)
	}

	select {
	case <-done:
	case <-time.After(30 * time.Second):
		log.Print("Timed out waiting for final results")
	}
}

func readResults(conn *websocket.Conn, done chan<- struct{}) {
	defer close(done)
	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var msg struct {
			Type       string  `json:"type"`
			SessionID  string  `json:"sessionId"`
			Sequence   uint64  `json:"sequence"`
			Text       string  `json:"text"`
			Confidence float64 `json:"confidence"`
			IsFinal    bool    `json:"isFinal"`
			Provider   string  `json:"provider"`
			Message    string  `json:"message"`
		}
		if err := json.Unmarshal(payload, &msg); err != nil {
			continue
		}
		switch msg.Type {
		case "connection_established":
			log.Printf("Session: %s", msg.SessionID)
		case "transcription":
			marker := "interim"
			if msg.IsFinal {
				marker = "final"
			}
			log.Printf("[%s %d via %s, conf=%.2f] %s", marker, msg.Sequence, msg.Provider, msg.Confidence, msg.Text)
		case "error":
			log.Printf("[error %d] %s", msg.Sequence, msg.Message)
		}
	}
}
