package scene

import (
	"encoding/json"

	"scene-sync/internal/models"
)

// RestoreOptions tune Restore
type RestoreOptions struct {
	// DeleteInvisibleElements turns invisibly small elements into tombstones
	DeleteInvisibleElements bool
}

// Restore normalizes elements that came off the wire or out of storage:
// elements without an id are dropped, versions start at 1, duplicate ids
// collapse to their winning version (kept at the first position), and
// missing or out-of-order indices are regenerated from sequence position.
func Restore(elements models.ElementSet, opts RestoreOptions) models.ElementSet {
	out := make(models.ElementSet, 0, len(elements))
	position := make(map[string]int, len(elements))

	for _, el := range elements {
		if el.ID == "" {
			continue
		}
		if el.Version < 1 {
			el.Version = 1
		}
		if opts.DeleteInvisibleElements && !el.IsDeleted && IsInvisiblySmall(el) {
			el.IsDeleted = true
		}

		if pos, seen := position[el.ID]; seen {
			current := out[pos]
			if Wins(el, current) || (Compare(el, current) == 0 && contentWins(el, current)) {
				out[pos] = el
			}
			continue
		}
		position[el.ID] = len(out)
		out = append(out, el)
	}

	return SyncIndices(out)
}

// SyncIndices returns a copy of elements in the same order whose indices
// strictly increase. Valid indices that already increase are kept; every
// other element gets a key generated between its valid neighbours.
func SyncIndices(elements models.ElementSet) models.ElementSet {
	out := make(models.ElementSet, len(elements))
	copy(out, elements)

	prev := ""
	for i := 0; i < len(out); {
		if isOrderedAfter(out[i].Index, prev) {
			prev = out[i].Index
			i++
			continue
		}

		// run of elements needing a key, bounded by the next usable index
		j := i
		upper := ""
		for ; j < len(out); j++ {
			if isOrderedAfter(out[j].Index, prev) {
				upper = out[j].Index
				break
			}
		}

		for k := i; k < j; k++ {
			key, err := KeyBetween(prev, upper)
			if err != nil {
				// key space exhausted; leave the rest of the run untouched
				break
			}
			out[k].Index = key
			prev = key
		}
		i = j
	}
	return out
}

func isOrderedAfter(index, prev string) bool {
	if index == "" || ValidateKey(index) != nil {
		return false
	}
	return prev == "" || index > prev
}

// IsInvisiblySmall reports whether an element has nothing to draw:
// a line or freehand stroke with fewer than two points, or any other shape
// with zero width and height.
func IsInvisiblySmall(el models.Element) bool {
	switch el.Type {
	case models.ElementTypeLine, models.ElementTypeArrow, models.ElementTypeFreeDraw:
		var points []json.RawMessage
		if raw, ok := el.Extra["points"]; ok {
			if err := json.Unmarshal(raw, &points); err != nil {
				return true
			}
		}
		return len(points) < 2
	default:
		return el.Width == 0 && el.Height == 0
	}
}

// Syncable drops live elements that are invisibly small; they are never
// worth persisting. Tombstones are always kept.
func Syncable(elements models.ElementSet) models.ElementSet {
	out := make(models.ElementSet, 0, len(elements))
	for _, el := range elements {
		if !el.IsDeleted && IsInvisiblySmall(el) {
			continue
		}
		out = append(out, el)
	}
	return out
}

// Visible drops tombstones, for presentation only. Never persist its output.
func Visible(elements models.ElementSet) models.ElementSet {
	out := make(models.ElementSet, 0, len(elements))
	for _, el := range elements {
		if el.IsDeleted {
			continue
		}
		out = append(out, el)
	}
	return out
}
