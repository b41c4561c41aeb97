package session

import (
	"context"
	"errors"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"

	"github.com/room4-2/voicerelay/messages"
	"github.com/room4-2/voicerelay/openai"
)

const (
	writeBufferSize = 256
	writeTimeout    = 10 * time.Second
	maxFrameSize    = 512 * 1024 // 512KB max message
)

// State is the lifecycle phase of a relay session.
type State int32

const (
	// StateIdle: client connected, no vendor link yet.
	StateIdle State = iota
	// StateAwaitingVendor: vendor link dialed, configuration not yet accepted.
	StateAwaitingVendor
	// StateActive: vendor accepted the configuration, full relay in both directions.
	StateActive
	// StateClosing: teardown started, no further relaying.
	StateClosing
	// StateClosed: terminal.
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAwaitingVendor:
		return "awaiting_vendor_ready"
	case StateActive:
		return "active"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// VendorLink is the session's view of one upstream realtime connection.
// *openai.Realtime satisfies it; tests substitute fakes.
type VendorLink interface {
	AppendAudio(audio string)
	CommitAudio()
	InjectText(text string)
	TriggerResponse()
	Events() <-chan openai.LinkEvent
	Close() error
}

// VendorDialer opens a vendor link for one session. The config carries the
// already-resolved voice and instructions.
type VendorDialer func(ctx context.Context, cfg openai.SessionConfig) (VendorLink, error)

// RelaySession multiplexes one browser WebSocket against at most one vendor
// link, translating between the two protocols. All state transitions happen
// on the run goroutine; other goroutines only feed its channels.
type RelaySession struct {
	ID         string
	ClientConn *websocket.Conn
	CreatedAt  time.Time
	CloseChan  chan struct{}

	dialer              VendorDialer
	defaultInstructions string

	state  atomic.Int32
	vendor VendorLink // written only by the run goroutine, under mu

	clientCh  chan *messages.ClientMessage
	writeChan chan *messages.ServerEvent

	mu           sync.RWMutex
	closed       bool
	lastActivity time.Time

	ctx    context.Context
	cancel context.CancelFunc
}

// NewRelaySession wraps an accepted client connection. No vendor resources
// are acquired until the client sends start_session.
func NewRelaySession(id string, clientConn *websocket.Conn, dialer VendorDialer, defaultInstructions string) *RelaySession {
	ctx, cancel := context.WithCancel(context.Background())

	if defaultInstructions == "" {
		defaultInstructions = DefaultInstructions
	}

	clientConn.SetReadLimit(maxFrameSize)
	clientConn.EnableWriteCompression(true)
	clientConn.SetCompressionLevel(6)

	return &RelaySession{
		ID:                  id,
		ClientConn:          clientConn,
		CreatedAt:           time.Now(),
		CloseChan:           make(chan struct{}),
		dialer:              dialer,
		defaultInstructions: defaultInstructions,
		clientCh:            make(chan *messages.ClientMessage, writeBufferSize),
		writeChan:           make(chan *messages.ServerEvent, writeBufferSize),
		lastActivity:        time.Now(),
		ctx:                 ctx,
		cancel:              cancel,
	}
}

// Start launches the session goroutines. Returns immediately.
func (s *RelaySession) Start() {
	go s.writePump()
	go s.run()
	go s.readClientMessages()
}

// State returns the current lifecycle phase.
func (s *RelaySession) State() State {
	return State(s.state.Load())
}

func (s *RelaySession) setState(next State) {
	prev := State(s.state.Swap(int32(next)))
	if prev != next {
		log.Printf("🔄 [%s] Session state: %s -> %s", s.ID[:8], prev, next)
	}
}

// LastActivity returns the time of the last client interaction.
func (s *RelaySession) LastActivity() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastActivity
}

func (s *RelaySession) touch() {
	s.mu.Lock()
	s.lastActivity = time.Now()
	s.mu.Unlock()
}

// run is the session's event loop. It owns the vendor link and the state
// machine; client frames and vendor events both funnel through here so
// transitions never race.
func (s *RelaySession) run() {
	for {
		// A nil channel select case blocks forever, which is exactly what
		// we want before a vendor link exists and after it is torn down.
		var vendorEvents <-chan openai.LinkEvent
		if s.vendor != nil {
			vendorEvents = s.vendor.Events()
		}

		select {
		case <-s.CloseChan:
			return

		case msg, ok := <-s.clientCh:
			if !ok {
				return
			}
			s.handleClientMessage(msg)

		case evt, ok := <-vendorEvents:
			if !ok {
				// Vendor stream drained after a disconnect or local close.
				s.clearVendor()
				continue
			}
			s.handleVendorEvent(evt)
		}
	}
}

// readClientMessages pumps frames off the client socket into the run loop.
// A read error means the client went away: the whole session tears down,
// including any vendor link.
func (s *RelaySession) readClientMessages() {
	defer s.Close()

	for {
		_, data, err := s.ClientConn.ReadMessage()
		if err != nil {
			if !s.IsClosed() {
				log.Printf("🔌 [%s] Client disconnected: %v", s.ID[:8], err)
			}
			return
		}

		s.touch()

		msg, err := messages.ParseClient(data)
		if err != nil {
			s.queueEvent(messages.NewError(messages.ErrCodeInvalidMessage, "Invalid message format"))
			continue
		}

		select {
		case s.clientCh <- msg:
		case <-s.CloseChan:
			return
		}
	}
}

func (s *RelaySession) handleClientMessage(msg *messages.ClientMessage) {
	switch msg.Type {
	case messages.TypeStartSession:
		s.handleStartSession(msg)

	case messages.TypeAudioData:
		if s.State() != StateActive {
			// Dropped, not buffered: audio has no meaning before the vendor
			// accepted the session configuration.
			log.Printf("⚠️ [%s] Dropping audio chunk in state %s", s.ID[:8], s.State())
			return
		}
		s.vendor.AppendAudio(msg.Audio)

	case messages.TypeAudioComplete:
		if s.State() != StateActive {
			log.Printf("⚠️ [%s] Dropping audio_complete in state %s", s.ID[:8], s.State())
			return
		}
		s.vendor.CommitAudio()

	case messages.TypeTextInput:
		if s.State() != StateActive {
			log.Printf("⚠️ [%s] Dropping text_input in state %s", s.ID[:8], s.State())
			return
		}
		s.vendor.InjectText(msg.Text)
		s.vendor.TriggerResponse()

	case messages.TypeEndSession:
		s.endSession("Session ended by client")

	default:
		s.queueEvent(messages.NewError(messages.ErrCodeInvalidMessage, "Unknown message type: "+msg.Type))
	}
}

// handleStartSession dials the vendor and moves to awaiting_vendor_ready.
// session_started is NOT sent here; it follows the vendor's acknowledgment.
// A start_session over an existing link supersedes it: at most one VendorLink
// exists per session, so the prior one is closed before the new dial.
func (s *RelaySession) handleStartSession(msg *messages.ClientMessage) {
	switch s.State() {
	case StateClosing, StateClosed:
		return
	case StateAwaitingVendor, StateActive:
		log.Printf("🔄 [%s] start_session supersedes existing vendor link", s.ID[:8])
		if s.vendor != nil {
			s.vendor.Close()
			s.clearVendor()
		}
	}

	instructions := msg.Instructions
	if instructions == "" {
		instructions = s.defaultInstructions
	}
	voice := openai.ResolveVoice(msg.Voice)

	s.setState(StateAwaitingVendor)

	vendor, err := s.dialer(s.ctx, openai.SessionConfig{
		Instructions: instructions,
		Voice:        voice,
	})
	if err != nil {
		log.Printf("❌ [%s] Failed to open vendor link: %v", s.ID[:8], err)
		s.setState(StateIdle)
		if errors.Is(err, ErrNotConfigured) {
			s.queueEvent(messages.NewError(messages.ErrCodeNotConfigured, err.Error()))
		} else {
			s.queueEvent(messages.NewError(messages.ErrCodeSessionFailed, "Failed to start session"))
		}
		return
	}

	if !s.setVendor(vendor) {
		// Session closed while the dial was in flight.
		return
	}
	log.Printf("🎙️ [%s] Vendor link open (voice=%s), awaiting acknowledgment", s.ID[:8], voice)
}

// setVendor publishes the vendor link so Close can see it. If the session
// closed while the dial was in flight, the fresh link is released instead.
func (s *RelaySession) setVendor(v VendorLink) bool {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		v.Close()
		return false
	}
	s.vendor = v
	s.mu.Unlock()
	return true
}

func (s *RelaySession) clearVendor() {
	s.mu.Lock()
	s.vendor = nil
	s.mu.Unlock()
}

func (s *RelaySession) handleVendorEvent(evt openai.LinkEvent) {
	switch evt.Kind {
	case openai.LinkReady:
		if s.State() != StateAwaitingVendor {
			return
		}
		s.setState(StateActive)
		s.queueEvent(messages.NewEvent(messages.TypeSessionStarted))
		log.Printf("✅ [%s] Session active", s.ID[:8])

	case openai.LinkForward:
		switch s.State() {
		case StateActive:
			s.queueEvent(evt.Event)
		case StateAwaitingVendor:
			// Errors surface even before the session is active; everything
			// else waits for session_started.
			if evt.Event.Type == messages.TypeError {
				s.queueEvent(evt.Event)
			}
		}

	case openai.LinkDisconnected:
		if evt.Err != nil {
			log.Printf("❌ [%s] Vendor link lost: %v", s.ID[:8], evt.Err)
		}
		s.endSession("Upstream connection lost")
	}
}

// endSession is the single teardown path for both client-initiated and
// vendor-initiated termination.
func (s *RelaySession) endSession(reason string) {
	if s.State() == StateClosing || s.State() == StateClosed {
		return
	}
	s.setState(StateClosing)
	s.queueEvent(messages.NewSessionEnded(reason))
	s.Close()
}

// writePump serializes all writes to the client socket. It drains writeChan
// fully before exiting, so events queued just before Close (like
// session_ended) still reach the client.
func (s *RelaySession) writePump() {
	defer func() {
		s.ClientConn.SetWriteDeadline(time.Now().Add(writeTimeout))
		s.ClientConn.WriteMessage(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		)
		s.ClientConn.Close()
	}()

	for evt := range s.writeChan {
		data, err := sonic.Marshal(evt)
		if err != nil {
			log.Printf("⚠️ [%s] Failed to serialize %s event: %v", s.ID[:8], evt.Type, err)
			continue
		}
		s.ClientConn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := s.ClientConn.WriteMessage(websocket.TextMessage, data); err != nil {
			return
		}
	}
}

// queueEvent adds an event to the write queue (non-blocking). The read lock
// is held across the send so Close cannot close writeChan mid-send.
func (s *RelaySession) queueEvent(evt *messages.ServerEvent) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return
	}
	select {
	case s.writeChan <- evt:
	default:
		// Queue full, drop event (shouldn't happen with proper sizing)
		log.Printf("⚠️ [%s] Write queue full, dropping %s event", s.ID[:8], evt.Type)
	}
}

// IsClosed returns whether the session is closed.
func (s *RelaySession) IsClosed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.closed
}

// Close terminates the session and releases the vendor link. Idempotent and
// safe from any goroutine.
func (s *RelaySession) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	// Closing writeChan under the lock lets writePump drain what's queued;
	// queueEvent holds the read lock while sending, so no send can race this.
	close(s.writeChan)
	vendor := s.vendor
	s.mu.Unlock()

	s.cancel()
	close(s.CloseChan)

	// The vendor link closes synchronously so that once Close returns no
	// further upstream traffic can occur for this session.
	if vendor != nil {
		vendor.Close()
	}

	s.state.Store(int32(StateClosed))
	return nil
}
