package scene

import (
	"bytes"
	"encoding/json"
	"sort"

	"scene-sync/internal/models"
)

// Compare orders two versions of the same element: the higher Version wins,
// and on equal versions the higher VersionNonce wins. It depends on nothing
// but the two elements, so every peer picks the same winner.
func Compare(a, b models.Element) int {
	switch {
	case a.Version > b.Version:
		return 1
	case a.Version < b.Version:
		return -1
	case a.VersionNonce > b.VersionNonce:
		return 1
	case a.VersionNonce < b.VersionNonce:
		return -1
	default:
		return 0
	}
}

// Wins reports whether candidate should replace current
func Wins(candidate, current models.Element) bool {
	return Compare(candidate, current) > 0
}

// Reconcile merges a local and a remote scene.
//
// Each id keeps its winning version according to Compare; tombstones take
// part like any other version and are never dropped. The result is ordered
// by (Index, ID) of the winners, so it does not depend on which side an
// element came from, nor on argument order.
func Reconcile(local, remote models.ElementSet) models.ElementSet {
	winners := make(map[string]models.Element, len(local)+len(remote))

	for _, set := range []models.ElementSet{local, remote} {
		for _, el := range set {
			current, ok := winners[el.ID]
			if !ok || Wins(el, current) || (Compare(el, current) == 0 && contentWins(el, current)) {
				winners[el.ID] = el
			}
		}
	}

	merged := make(models.ElementSet, 0, len(winners))
	for _, el := range winners {
		merged = append(merged, el)
	}
	SortByIndex(merged)
	return merged
}

// contentWins settles two different payloads carrying the same version and
// nonce by comparing their encodings, so even that case converges.
func contentWins(candidate, current models.Element) bool {
	a, errA := json.Marshal(candidate)
	b, errB := json.Marshal(current)
	if errA != nil || errB != nil {
		return false
	}
	return bytes.Compare(a, b) > 0
}

// SortByIndex sorts in place by fractional index, ties broken by id
func SortByIndex(elements models.ElementSet) {
	sort.SliceStable(elements, func(i, j int) bool {
		if elements[i].Index != elements[j].Index {
			return elements[i].Index < elements[j].Index
		}
		return elements[i].ID < elements[j].ID
	})
}
