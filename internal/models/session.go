package models

import (
	"time"

	"github.com/segmentio/ksuid"
)

// Session represents an active WebSocket connection to a room.
// Its ID is the connection handle the scene version cache is keyed by.
type Session struct {
	ID          string    `json:"id"`
	RoomID      string    `json:"room_id"`
	UserID      string    `json:"user_id"`
	UserName    string    `json:"user_name"`
	ConnectedAt time.Time `json:"connected_at"`
}

// RoomMessage is the envelope for server generated room messages.
// Client payloads are relayed as-is and never wrapped.
type RoomMessage struct {
	Type         MessageType `json:"type"`
	ConnectionID string      `json:"connectionId,omitempty"`
	User         *UserInfo   `json:"user,omitempty"`
	SceneVersion int64       `json:"sceneVersion,omitempty"`
	Peers        int         `json:"peers,omitempty"`
}

// UserInfo represents information about a connected user
type UserInfo struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// MessageType defines types of server messages in the room protocol
type MessageType string

const (
	MessageTypeWelcome    MessageType = "welcome"     // sent to a connection once registered
	MessageTypeJoin       MessageType = "join"        // user joined
	MessageTypeLeave      MessageType = "leave"       // user left
	MessageTypeSceneSaved MessageType = "scene-saved" // a peer persisted the scene
	MessageTypeError      MessageType = "error"
)

func NewSession(roomID, userID, userName string) *Session {
	return &Session{
		ID:          ksuid.New().String(),
		RoomID:      roomID,
		UserID:      userID,
		UserName:    userName,
		ConnectedAt: time.Now(),
	}
}
