package models

import "time"

/*
STORED SCENES

One row per collaboration room. The server only ever sees ciphertext: the
room key stays with the clients of that room.

SceneVersion is derived from the plaintext elements and lets a connection
skip saving a scene it already saved. Revision is the compare-and-swap token
of the row: every committed write bumps it, and a write only lands if the
revision it read is still current.
*/

// StoredScene is the persisted, encrypted representation of a room's scene
type StoredScene struct {
	RoomID       string    `json:"room_id" gorm:"type:varchar(255);primaryKey"`
	SceneVersion int64     `json:"scene_version" gorm:"not null"`
	Ciphertext   []byte    `json:"-" gorm:"type:bytea;not null"`
	IV           []byte    `json:"-" gorm:"column:iv;type:bytea;not null"`
	Revision     int64     `json:"revision" gorm:"not null;default:0"`
	CreatedAt    time.Time `json:"created_at" gorm:"column:created_at;autoCreateTime"`
	UpdatedAt    time.Time `json:"updated_at" gorm:"column:updated_at;autoUpdateTime"`
}

// TableName override
func (StoredScene) TableName() string {
	return "scenes"
}

// SceneMutator computes the next stored scene from the current one.
// current is nil when the room has no scene yet. It may run several times.
type SceneMutator func(current *StoredScene) (*StoredScene, error)
