package collaboration

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"scene-sync/internal/middleware"
	"scene-sync/internal/models"

	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel/attribute"
)

/*
LEARNING: ROOM HUB

Every WebSocket connection belongs to one room. The hub only moves bytes:
client messages are encrypted with the room key, so they are relayed to the
other connections of the room exactly as received.

Each connection gets a KSUID when it registers. That id is the connection
handle the scene service keys its version cache by; the client learns it
from the welcome message and sends it along with every save. When the
connection goes away the hub calls onClose with the id, which is the only
way that cache entry is dropped.

One goroutine owns the room map writes (register / unregister / broadcast
arrive over channels); readers take the RWMutex.
*/

const (
	sendBuffer   = 256
	idleTimeout  = 5 * time.Minute
	pongWait     = 60 * time.Second
	pingInterval = 54 * time.Second
	writeWait    = 10 * time.Second
)

// Frame is one WebSocket message with its type preserved
type Frame struct {
	Type int
	Data []byte
}

// SessionManager manages all active WebSocket sessions
type SessionManager struct {
	rooms      map[string]map[*Session]bool // roomID -> set of sessions
	register   chan *Session
	unregister chan *Session
	broadcast  chan *BroadcastMessage
	mu         sync.RWMutex

	onClose func(connectionID string)
	relay   *RedisRelay

	done     chan struct{}
	stopOnce sync.Once
	cancel   context.CancelFunc
}

// Session represents an active WebSocket connection
type Session struct {
	*models.Session
	Conn    *websocket.Conn
	Send    chan Frame
	Manager *SessionManager

	lastActive atomic.Int64
}

// BroadcastMessage is a frame for every session of a room but the sender
type BroadcastMessage struct {
	RoomID    string
	Frame     Frame
	Sender    *Session
	fromRelay bool
}

// NewSessionManager creates a new session manager.
// onClose is called once for every connection that goes away.
func NewSessionManager(onClose func(connectionID string)) *SessionManager {
	if onClose == nil {
		onClose = func(string) {}
	}
	return &SessionManager{
		rooms:      make(map[string]map[*Session]bool),
		register:   make(chan *Session),
		unregister: make(chan *Session),
		broadcast:  make(chan *BroadcastMessage, sendBuffer),
		onClose:    onClose,
		done:       make(chan struct{}),
	}
}

// SetRelay fans room traffic out to other server instances
func (sm *SessionManager) SetRelay(relay *RedisRelay) {
	sm.relay = relay
}

// NewSession wraps an upgraded connection
func (sm *SessionManager) NewSession(conn *websocket.Conn, roomID, userID, userName string) *Session {
	s := &Session{
		Session: models.NewSession(roomID, userID, userName),
		Conn:    conn,
		Send:    make(chan Frame, sendBuffer),
		Manager: sm,
	}
	s.touch()
	return s
}

// Start begins the session manager event loop
func (sm *SessionManager) Start() {
	log.Println("🔄 Starting WebSocket session manager...")

	ctx, cancel := context.WithCancel(context.Background())
	sm.cancel = cancel

	go func() {
		for {
			select {
			case <-sm.done:
				return

			case session := <-sm.register:
				sm.handleRegister(session)

			case session := <-sm.unregister:
				sm.handleUnregister(session)

			case msg := <-sm.broadcast:
				sm.handleBroadcast(msg)
			}
		}
	}()

	go sm.cleanupLoop()

	if sm.relay != nil {
		go func() {
			err := sm.relay.Run(ctx, func(roomID string, frame Frame) {
				sm.enqueue(&BroadcastMessage{RoomID: roomID, Frame: frame, fromRelay: true})
			})
			if err != nil && ctx.Err() == nil {
				log.Printf("⚠️  Room relay stopped: %v", err)
			}
		}()
	}

	log.Println("✓ WebSocket session manager started")
}

// Register adds a session to its room. After Shutdown the session is
// refused and its send queue closed, which ends its pumps.
func (sm *SessionManager) Register(s *Session) {
	select {
	case sm.register <- s:
	case <-sm.done:
		close(s.Send)
	}
}

// Unregister removes a session from its room
func (sm *SessionManager) Unregister(s *Session) {
	select {
	case sm.unregister <- s:
	case <-sm.done:
	}
}

// Broadcast sends a frame to every session of a room except sender
func (sm *SessionManager) Broadcast(roomID string, frame Frame, sender *Session) {
	sm.enqueue(&BroadcastMessage{RoomID: roomID, Frame: frame, Sender: sender})
}

func (sm *SessionManager) enqueue(msg *BroadcastMessage) {
	select {
	case sm.broadcast <- msg:
	case <-sm.done:
	}
}

// NotifySaved tells a room that its scene was persisted
func (sm *SessionManager) NotifySaved(roomID, connectionID string, sceneVersion int64) {
	sm.Broadcast(roomID, jsonFrame(models.RoomMessage{
		Type:         models.MessageTypeSceneSaved,
		ConnectionID: connectionID,
		SceneVersion: sceneVersion,
	}), nil)
}

func (sm *SessionManager) handleRegister(session *Session) {
	sm.mu.Lock()
	select {
	case <-sm.done:
		sm.mu.Unlock()
		close(session.Send)
		return
	default:
	}

	if sm.rooms[session.RoomID] == nil {
		sm.rooms[session.RoomID] = make(map[*Session]bool)
	}
	sm.rooms[session.RoomID][session] = true
	peers := len(sm.rooms[session.RoomID]) - 1

	// queued under mu: once the lock is released Shutdown may close Send
	select {
	case session.Send <- jsonFrame(models.RoomMessage{
		Type:         models.MessageTypeWelcome,
		ConnectionID: session.ID,
		User:         &models.UserInfo{ID: session.UserID, Name: session.UserName},
		Peers:        peers,
	}):
	default:
	}
	sm.mu.Unlock()

	log.Printf("  Session %s joined room %s (total: %d users)", session.ID, session.RoomID, peers+1)

	sm.fanOut(session.RoomID, jsonFrame(models.RoomMessage{
		Type:         models.MessageTypeJoin,
		ConnectionID: session.ID,
		User:         &models.UserInfo{ID: session.UserID, Name: session.UserName},
	}), session)
}

func (sm *SessionManager) handleUnregister(session *Session) {
	sm.mu.Lock()
	removed := sm.remove(session)
	sm.mu.Unlock()

	if !removed {
		return
	}
	sm.closed(session)
}

// remove drops a session from its room; callers hold mu
func (sm *SessionManager) remove(session *Session) bool {
	sessions, ok := sm.rooms[session.RoomID]
	if !ok || !sessions[session] {
		return false
	}
	delete(sessions, session)
	close(session.Send)
	if len(sessions) == 0 {
		delete(sm.rooms, session.RoomID)
	}
	return true
}

// closed runs the close hooks of a removed session
func (sm *SessionManager) closed(session *Session) {
	log.Printf("  Session %s left room %s", session.ID, session.RoomID)
	sm.onClose(session.ID)

	sm.fanOut(session.RoomID, jsonFrame(models.RoomMessage{
		Type:         models.MessageTypeLeave,
		ConnectionID: session.ID,
		User:         &models.UserInfo{ID: session.UserID, Name: session.UserName},
	}), nil)
}

func (sm *SessionManager) handleBroadcast(msg *BroadcastMessage) {
	if msg.fromRelay {
		sm.deliver(msg.RoomID, msg.Frame, nil)
		return
	}
	sm.fanOut(msg.RoomID, msg.Frame, msg.Sender)
}

// fanOut delivers locally and, with a relay, to the other instances
func (sm *SessionManager) fanOut(roomID string, frame Frame, skip *Session) {
	sm.deliver(roomID, frame, skip)

	if sm.relay != nil {
		if err := sm.relay.Publish(context.Background(), roomID, frame); err != nil {
			log.Printf("⚠️  Failed to relay message for room %s: %v", roomID, err)
		}
	}
}

// deliver queues a frame on every session of a room but skip. Sessions
// whose buffer is full are dropped.
func (sm *SessionManager) deliver(roomID string, frame Frame, skip *Session) {
	var dropped []*Session

	sm.mu.Lock()
	for session := range sm.rooms[roomID] {
		if session == skip {
			continue
		}
		select {
		case session.Send <- frame:
		default:
			log.Printf("⚠️  Session %s buffer full, closing connection", session.ID)
			if sm.remove(session) {
				dropped = append(dropped, session)
			}
		}
	}
	sm.mu.Unlock()

	for _, session := range dropped {
		sm.closed(session)
	}
}

// GetSessions returns all active sessions of a room
func (sm *SessionManager) GetSessions(roomID string) []*Session {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	sessions := sm.rooms[roomID]
	result := make([]*Session, 0, len(sessions))
	for session := range sessions {
		result = append(result, session)
	}
	return result
}

// cleanupLoop periodically removes inactive sessions
func (sm *SessionManager) cleanupLoop() {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-sm.done:
			return
		case <-ticker.C:
			for _, session := range sm.stale(time.Now()) {
				log.Printf("  Cleaning up inactive session %s", session.ID)
				sm.Unregister(session)
			}
		}
	}
}

func (sm *SessionManager) stale(now time.Time) []*Session {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	var stale []*Session
	for _, sessions := range sm.rooms {
		for session := range sessions {
			if now.Sub(session.lastActiveAt()) > idleTimeout {
				stale = append(stale, session)
			}
		}
	}
	return stale
}

// Shutdown closes every connection. Close hooks still run for each.
func (sm *SessionManager) Shutdown() {
	sm.stopOnce.Do(func() {
		log.Println("🛑 Shutting down session manager...")

		close(sm.done)
		if sm.cancel != nil {
			sm.cancel()
		}

		sm.mu.Lock()
		var all []*Session
		for _, sessions := range sm.rooms {
			for session := range sessions {
				all = append(all, session)
			}
		}
		for _, session := range all {
			sm.remove(session)
			session.Conn.Close()
		}
		sm.mu.Unlock()

		for _, session := range all {
			sm.onClose(session.ID)
		}
		log.Println("✓ Session manager shutdown complete")
	})
}

func jsonFrame(msg models.RoomMessage) Frame {
	data, _ := json.Marshal(msg)
	return Frame{Type: websocket.TextMessage, Data: data}
}

// Session methods

func (s *Session) touch() {
	s.lastActive.Store(time.Now().UnixNano())
}

func (s *Session) lastActiveAt() time.Time {
	return time.Unix(0, s.lastActive.Load())
}

// ReadPump relays every message from the connection to its room
func (s *Session) ReadPump(ctx context.Context) {
	defer func() {
		s.Manager.Unregister(s)
		s.Conn.Close()
	}()

	s.Conn.SetReadDeadline(time.Now().Add(pongWait))
	s.Conn.SetPongHandler(func(string) error {
		s.Conn.SetReadDeadline(time.Now().Add(pongWait))
		s.touch()
		return nil
	})

	for {
		messageType, message, err := s.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("WebSocket error: %v", err)
			}
			break
		}

		s.touch()

		_, span := middleware.StartSpan(ctx, "WebSocket.Relay",
			attribute.String("session.id", s.ID),
			attribute.String("room.id", s.RoomID),
			attribute.Int("message.size", len(message)),
		)
		s.Manager.Broadcast(s.RoomID, Frame{Type: messageType, Data: message}, s)
		span.End()
	}
}

// WritePump writes queued frames to the connection, one message each
func (s *Session) WritePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		s.Conn.Close()
	}()

	for {
		select {
		case frame, ok := <-s.Send:
			s.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				s.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := s.Conn.WriteMessage(frame.Type, frame.Data); err != nil {
				return
			}

		case <-ticker.C:
			s.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
