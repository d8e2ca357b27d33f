package api

import (
	"net/http"
)

// WebSocket endpoints

// HandleRoomWebSocket joins a connection to a collaboration room
func (h *Handler) HandleRoomWebSocket(w http.ResponseWriter, r *http.Request) {
	h.wsHandler.HandleRoomConnection(w, r)
}
