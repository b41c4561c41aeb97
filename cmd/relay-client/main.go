package main

import (
	"encoding/base64"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/exec"
	"os/signal"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"

	"github.com/room4-2/voicerelay/messages"
)

// AudioPlayer streams audio via sox
type AudioPlayer struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	mu     sync.Mutex
	closed bool
}

func NewAudioPlayer() *AudioPlayer {
	cmd := exec.Command("sox",
		"-t", "raw",
		"-r", "24000",
		"-b", "16",
		"-c", "1",
		"-e", "signed-integer",
		"-",
		"-d",
	)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		log.Println("sox stdin error:", err)
		return nil
	}

	if err := cmd.Start(); err != nil {
		log.Println("sox start error:", err)
		return nil
	}

	return &AudioPlayer{cmd: cmd, stdin: stdin}
}

func (p *AudioPlayer) Play(audioData []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed || p.stdin == nil {
		return
	}
	p.stdin.Write(audioData)
}

func (p *AudioPlayer) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.closed = true
	if p.stdin != nil {
		p.stdin.Close()
	}
	if p.cmd != nil && p.cmd.Process != nil {
		p.cmd.Wait()
	}
}

func main() {
	// Flags
	serverURL := flag.String("server", "ws://localhost:3001/ws", "WebSocket server URL")
	audioFile := flag.String("file", "", "Audio file to send (PCM or WAV)")
	text := flag.String("text", "", "Text turn to send instead of audio")
	voice := flag.String("voice", "", "Requested voice (server resolves aliases)")
	instructions := flag.String("instructions", "", "Session instructions")
	flag.Parse()

	if *audioFile == "" && *text == "" {
		log.Fatal("Provide -file or -text")
	}

	log.Printf("🔌 Connecting to %s...", *serverURL)

	conn, _, err := websocket.DefaultDialer.Dial(*serverURL, nil)
	if err != nil {
		log.Fatalf("Failed to connect: %v", err)
	}
	defer conn.Close()

	log.Println("✅ Connected!")

	// Setup audio player
	player := NewAudioPlayer()
	if player == nil {
		log.Fatal("Failed to create audio player (is sox installed?)")
	}
	defer player.Close()

	// Handle interrupt
	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt)

	started := make(chan struct{})
	done := make(chan struct{})

	// Read events from server
	go func() {
		defer close(done)
		var startOnce sync.Once
		for {
			_, message, err := conn.ReadMessage()
			if err != nil {
				log.Println("Read error:", err)
				return
			}

			var evt messages.ServerEvent
			if err := sonic.Unmarshal(message, &evt); err != nil {
				log.Println("Parse error:", err)
				continue
			}

			switch evt.Type {
			case messages.TypeSessionStarted:
				log.Println("🎙️ Session started")
				startOnce.Do(func() { close(started) })

			case messages.TypeAudioResponse:
				audioBytes, err := base64.StdEncoding.DecodeString(evt.Audio)
				if err == nil {
					log.Printf("🔊 Playing audio: %d bytes", len(audioBytes))
					player.Play(audioBytes)
				}

			case messages.TypeTextResponse:
				fmt.Printf("📝 %s\n", evt.Text)

			case messages.TypeTranscriptionComplete:
				log.Printf("🎤 You said: %s", evt.Text)

			case messages.TypeResponseDone:
				log.Println("--- Turn complete ---")

			case messages.TypeSessionEnded:
				log.Printf("👋 Session ended: %s", evt.Message)
				return

			case messages.TypeError:
				log.Printf("❌ Error [%s]: %s", evt.Code, evt.Message)

			default:
				log.Printf("📊 %s", evt.Type)
			}
		}
	}()

	sendJSON := func(msg *messages.ClientMessage) {
		data, err := sonic.Marshal(msg)
		if err != nil {
			log.Fatalf("Marshal error: %v", err)
		}
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			log.Fatalf("Send error: %v", err)
		}
	}

	// Start the relay session and wait for the vendor handshake
	sendJSON(&messages.ClientMessage{
		Type:         messages.TypeStartSession,
		Instructions: *instructions,
		Voice:        *voice,
	})

	select {
	case <-started:
	case <-done:
		log.Fatal("Connection closed before session started")
	case <-time.After(15 * time.Second):
		log.Fatal("⏰ Timeout waiting for session_started")
	}

	if *text != "" {
		log.Printf("📤 Sending text: %s", *text)
		sendJSON(&messages.ClientMessage{Type: messages.TypeTextInput, Text: *text})
	} else {
		log.Printf("📤 Sending audio file: %s", *audioFile)

		audioData, err := loadAudioFile(*audioFile)
		if err != nil {
			log.Fatalf("Failed to load audio: %v", err)
		}

		// Send audio in chunks (simulating real-time streaming)
		chunkSize := 3200 // 100ms at 16kHz
		for i := 0; i < len(audioData); i += chunkSize {
			end := i + chunkSize
			if end > len(audioData) {
				end = len(audioData)
			}
			sendJSON(&messages.ClientMessage{
				Type:  messages.TypeAudioData,
				Audio: base64.StdEncoding.EncodeToString(audioData[i:end]),
			})

			// Simulate real-time streaming pace
			time.Sleep(100 * time.Millisecond)
		}
		sendJSON(&messages.ClientMessage{Type: messages.TypeAudioComplete})
	}

	log.Println("✅ Input sent, waiting for response...")

	// Wait for response or interrupt
	select {
	case <-done:
		log.Println("Connection closed")
	case <-interrupt:
		log.Println("\n👋 Interrupted, closing...")
		sendJSON(&messages.ClientMessage{Type: messages.TypeEndSession})
		conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	case <-time.After(60 * time.Second):
		log.Println("⏰ Timeout waiting for response")
	}
}

// loadAudioFile loads PCM or WAV file and returns raw PCM bytes
func loadAudioFile(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Check if it's a WAV file (starts with "RIFF")
	if len(data) > 44 && string(data[0:4]) == "RIFF" {
		// Skip WAV header (44 bytes for standard WAV)
		log.Println("📁 Detected WAV file, skipping header")
		return data[44:], nil
	}

	// Assume raw PCM
	log.Println("📁 Detected raw PCM file")
	return data, nil
}
