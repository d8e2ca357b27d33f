package models

import (
	"encoding/json"
	"fmt"
)

/*
ELEMENTS

An Element is one graphical object of a scene. Its identity is the ID; every
edit bumps Version and re-rolls VersionNonce. Deleting an element only sets
IsDeleted, the element itself stays in the scene as a tombstone so that a
later merge against an older snapshot cannot bring it back.

Index is a fractional order key: elements sort by it to get the z-order.

Only the fields the sync layer reasons about are typed. Everything else the
editor puts on an element (strokeColor, points, roughness...) is kept in
Extra and written back untouched.
*/

// Element is a single drawing element
type Element struct {
	ID           string  `json:"id"`
	Type         string  `json:"type"`
	Version      int64   `json:"version"`
	VersionNonce int64   `json:"versionNonce"`
	Index        string  `json:"index,omitempty"`
	IsDeleted    bool    `json:"isDeleted"`
	Updated      int64   `json:"updated,omitempty"`
	X            float64 `json:"x"`
	Y            float64 `json:"y"`
	Width        float64 `json:"width"`
	Height       float64 `json:"height"`
	Text         string  `json:"text,omitempty"`
	FileID       string  `json:"fileId,omitempty"`

	// Extra holds every property not modelled above
	Extra map[string]json.RawMessage `json:"-"`
}

// ElementSet is an ordered scene snapshot
type ElementSet []Element

// ElementType values the sync layer cares about
const (
	ElementTypeText     = "text"
	ElementTypeLine     = "line"
	ElementTypeArrow    = "arrow"
	ElementTypeFreeDraw = "freedraw"
	ElementTypeImage    = "image"
)

var elementKeys = map[string]struct{}{
	"id": {}, "type": {}, "version": {}, "versionNonce": {}, "index": {},
	"isDeleted": {}, "updated": {}, "x": {}, "y": {}, "width": {}, "height": {},
	"text": {}, "fileId": {},
}

// elementFields breaks the MarshalJSON recursion
type elementFields Element

// MarshalJSON writes typed fields and Extra as one flat object
func (e Element) MarshalJSON() ([]byte, error) {
	base, err := json.Marshal(elementFields(e))
	if err != nil {
		return nil, err
	}
	if len(e.Extra) == 0 {
		return base, nil
	}

	merged := make(map[string]json.RawMessage, len(e.Extra)+len(elementKeys))
	for k, v := range e.Extra {
		if _, known := elementKeys[k]; known {
			continue
		}
		merged[k] = v
	}
	if err := json.Unmarshal(base, &merged); err != nil {
		return nil, err
	}
	return json.Marshal(merged)
}

// UnmarshalJSON reads typed fields and collects the rest into Extra
func (e *Element) UnmarshalJSON(data []byte) error {
	var fields elementFields
	if err := json.Unmarshal(data, &fields); err != nil {
		return fmt.Errorf("failed to decode element: %w", err)
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("failed to decode element: %w", err)
	}

	*e = Element(fields)
	for k, v := range raw {
		if _, known := elementKeys[k]; known {
			continue
		}
		if e.Extra == nil {
			e.Extra = make(map[string]json.RawMessage)
		}
		e.Extra[k] = v
	}
	return nil
}

// IDs returns element ids in set order
func (s ElementSet) IDs() []string {
	ids := make([]string, len(s))
	for i, el := range s {
		ids[i] = el.ID
	}
	return ids
}

// ByID indexes the set by element id
func (s ElementSet) ByID() map[string]Element {
	m := make(map[string]Element, len(s))
	for _, el := range s {
		m[el.ID] = el
	}
	return m
}

// FileIDs returns the distinct file ids referenced by image elements
func (s ElementSet) FileIDs() []string {
	seen := make(map[string]struct{})
	var ids []string
	for _, el := range s {
		if el.FileID == "" || el.IsDeleted {
			continue
		}
		if _, ok := seen[el.FileID]; ok {
			continue
		}
		seen[el.FileID] = struct{}{}
		ids = append(ids, el.FileID)
	}
	return ids
}
