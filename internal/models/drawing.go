package models

import (
	"encoding/json"
	"time"

	"github.com/segmentio/ksuid"
	"gorm.io/gorm"
)

/*
USER DRAWINGS

Named documents owned by one user. There is no merge here: the last full
write wins. Nested structures (elements, appState, files) are stored as JSON
strings, the same shape the document store used before.
*/

// DefaultDrawingName is used when a drawing is created without a name
const DefaultDrawingName = "Untitled Page"

// Drawing is the stored row
type Drawing struct {
	ID        string    `json:"id" gorm:"type:varchar(64);primaryKey"`
	UserID    string    `json:"user_id" gorm:"type:varchar(128);primaryKey;index:idx_user_updated,priority:1"`
	Name      string    `json:"name" gorm:"type:text"`
	Elements  string    `json:"-" gorm:"type:text;not null;default:'[]'"`
	AppState  string    `json:"-" gorm:"column:app_state;type:text;not null;default:'{}'"`
	Files     string    `json:"-" gorm:"type:text;not null;default:'[]'"`
	CreatedAt time.Time `json:"created_at" gorm:"column:created_at"`
	UpdatedAt time.Time `json:"updated_at" gorm:"column:updated_at;index:idx_user_updated,priority:2"`
}

// BeforeCreate hook generates KSUID before inserting
func (d *Drawing) BeforeCreate(tx *gorm.DB) error {
	if d.ID == "" {
		d.ID = ksuid.New().String()
	}
	return nil
}

// TableName override
func (Drawing) TableName() string {
	return "drawings"
}

// DrawingView is the decoded form handed to API clients
type DrawingView struct {
	ID        string          `json:"id"`
	UserID    string          `json:"userId"`
	Name      string          `json:"name,omitempty"`
	Elements  json.RawMessage `json:"elements"`
	AppState  json.RawMessage `json:"appState"`
	Files     json.RawMessage `json:"files"`
	CreatedAt time.Time       `json:"createdAt"`
	UpdatedAt time.Time       `json:"updatedAt"`
}

// DrawingSave is a full write of a drawing
type DrawingSave struct {
	Elements json.RawMessage `json:"elements"`
	AppState json.RawMessage `json:"appState"`
	Files    json.RawMessage `json:"files,omitempty"`
	Name     *string         `json:"name,omitempty"`
}

// DrawingUpdate is a partial write; nil fields are left alone
type DrawingUpdate struct {
	Name     *string         `json:"name,omitempty"`
	Elements json.RawMessage `json:"elements,omitempty"`
	AppState json.RawMessage `json:"appState,omitempty"`
	Files    json.RawMessage `json:"files,omitempty"`
}

// DefaultAppState is what a fresh drawing starts with
func DefaultAppState() map[string]any {
	return map[string]any{
		"viewBackgroundColor": "#ffffff",
		"gridSize":            nil,
		"scrollX":             0,
		"scrollY":             0,
		"zoom":                map[string]any{"value": 1},
		"theme":               "light",
	}
}

// View decodes the stored JSON strings
func (d *Drawing) View() *DrawingView {
	return &DrawingView{
		ID:        d.ID,
		UserID:    d.UserID,
		Name:      d.Name,
		Elements:  rawOr(d.Elements, "[]"),
		AppState:  rawOr(d.AppState, "{}"),
		Files:     rawOr(d.Files, "[]"),
		CreatedAt: d.CreatedAt,
		UpdatedAt: d.UpdatedAt,
	}
}

func rawOr(s, fallback string) json.RawMessage {
	if s == "" || !json.Valid([]byte(s)) {
		return json.RawMessage(fallback)
	}
	return json.RawMessage(s)
}
