package collaboration

import (
	"context"
	"log"
	"net/http"

	"scene-sync/internal/middleware"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel/attribute"
)

/*
LEARNING: WEBSOCKET UPGRADER

The upgrader converts HTTP connections to WebSocket connections.
Room traffic is ciphertext plus small JSON notices, so small buffers are
enough; the library grows them for larger frames.
*/

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// WebSocketHandler handles WebSocket connections for rooms
type WebSocketHandler struct {
	sessionManager *SessionManager
}

// NewWebSocketHandler creates a new WebSocket handler
func NewWebSocketHandler(sessionManager *SessionManager) *WebSocketHandler {
	return &WebSocketHandler{
		sessionManager: sessionManager,
	}
}

// HandleRoomConnection joins the caller to the room in the URL
func (h *WebSocketHandler) HandleRoomConnection(w http.ResponseWriter, r *http.Request) {
	roomID := mux.Vars(r)["roomId"]
	if roomID == "" {
		http.Error(w, "room id is required", http.StatusBadRequest)
		return
	}

	userID := r.URL.Query().Get("user_id")
	userName := r.URL.Query().Get("user_name")
	if userID == "" {
		userID = "anonymous"
	}
	if userName == "" {
		userName = "Anonymous"
	}

	ctx, span := middleware.StartSpan(r.Context(), "WebSocket.Connect",
		attribute.String("room.id", roomID),
		attribute.String("user.id", userID),
	)
	defer span.End()

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("Failed to upgrade WebSocket: %v", err)
		middleware.AddSpanError(ctx, err)
		return
	}

	session := h.sessionManager.NewSession(conn, roomID, userID, userName)
	middleware.AddSpanEvent(ctx, "session.created", attribute.String("session.id", session.ID))

	h.sessionManager.Register(session)

	// the request context ends when this handler returns
	go session.WritePump()
	go session.ReadPump(context.Background())

	log.Printf("✓ WebSocket connection established for room %s (user: %s, connection: %s)",
		roomID, userName, session.ID)
}
