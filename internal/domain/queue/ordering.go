package queue

import (
	"sort"

	"github.com/clinicq/clinicq/internal/domain/clinic"
)

// OrderStep is the gap left between recomputed order keys.
const OrderStep = 1000

func sortKeyLess(a, b clinic.Patient) bool {
	if ka, kb := a.SortKey(), b.SortKey(); ka != kb {
		return ka < kb
	}
	if a.RegisteredAt != b.RegisteredAt {
		return a.RegisteredAt < b.RegisteredAt
	}
	return a.ID < b.ID
}

// SortPatients orders patients in place by sort key, breaking ties by
// registration time and then id so the result is a total order.
func SortPatients(patients []clinic.Patient) {
	sort.SliceStable(patients, func(i, j int) bool {
		return sortKeyLess(patients[i], patients[j])
	})
}

// SortRoom returns the patients of room in queue order. The input is not
// modified.
func SortRoom(patients []clinic.Patient, room clinic.RoomID) []clinic.Patient {
	out := make([]clinic.Patient, 0, len(patients))
	for _, p := range patients {
		if p.RoomID == room {
			out = append(out, p.Clone())
		}
	}
	SortPatients(out)
	return out
}

// Reorder moves the dragged patient to the target's position within their
// shared room and renumbers the room as min(registeredAt) + index*OrderStep.
// The returned list keeps the input's element positions; only members of
// the room get new order values. changed holds the renumbered room members
// in their new order. ok is false, and patients are returned untouched,
// when the ids are equal, either id is missing, or the rooms differ.
func Reorder(patients []clinic.Patient, draggedID, targetID string) (out []clinic.Patient, changed []clinic.Patient, ok bool) {
	if draggedID == targetID {
		return patients, nil, false
	}
	dragged, foundDragged := find(patients, draggedID)
	target, foundTarget := find(patients, targetID)
	if !foundDragged || !foundTarget || dragged.RoomID != target.RoomID {
		return patients, nil, false
	}

	room := SortRoom(patients, dragged.RoomID)
	from := indexOf(room, draggedID)
	to := indexOf(room, targetID)

	moved := room[from]
	room = append(room[:from], room[from+1:]...)
	room = append(room[:to], append([]clinic.Patient{moved}, room[to:]...)...)

	base := room[0].RegisteredAt
	for _, p := range room {
		if p.RegisteredAt < base {
			base = p.RegisteredAt
		}
	}
	orders := make(map[string]int64, len(room))
	for i := range room {
		order := base + int64(i)*OrderStep
		room[i].Order = &order
		orders[room[i].ID] = order
	}

	out = clinic.ClonePatients(patients)
	for i := range out {
		if order, ok := orders[out[i].ID]; ok {
			v := order
			out[i].Order = &v
		}
	}
	return out, room, true
}

func find(patients []clinic.Patient, id string) (clinic.Patient, bool) {
	for _, p := range patients {
		if p.ID == id {
			return p, true
		}
	}
	return clinic.Patient{}, false
}

func indexOf(patients []clinic.Patient, id string) int {
	for i, p := range patients {
		if p.ID == id {
			return i
		}
	}
	return -1
}
