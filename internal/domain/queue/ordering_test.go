package queue

import (
	"testing"

	"github.com/clinicq/clinicq/internal/domain/clinic"
)

func int64Ptr(v int64) *int64 { return &v }

func ids(patients []clinic.Patient) []string {
	out := make([]string, len(patients))
	for i, p := range patients {
		out[i] = p.ID
	}
	return out
}

func equalIDs(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func orderOf(patients []clinic.Patient, id string) int64 {
	for _, p := range patients {
		if p.ID == id {
			return p.SortKey()
		}
	}
	return -1
}

func mixedQueue() []clinic.Patient {
	return []clinic.Patient{
		{ID: "a", RoomID: clinic.Room1, RegisteredAt: 5000},
		{ID: "b", RoomID: clinic.Room1, RegisteredAt: 1000, Order: int64Ptr(7000)},
		{ID: "c", RoomID: clinic.Room1, RegisteredAt: 3000},
		{ID: "d", RoomID: clinic.Room2, RegisteredAt: 2000},
		{ID: "e", RoomID: clinic.Room1, RegisteredAt: 3000},
		{ID: "f", RoomID: clinic.Room2, RegisteredAt: 500, Order: int64Ptr(9000)},
		{ID: "g", RoomID: clinic.Room1, RegisteredAt: 2500, Order: int64Ptr(3000)},
	}
}

func TestSortRoom_OrderFallsBackToRegisteredAt(t *testing.T) {
	got := ids(SortRoom(mixedQueue(), clinic.Room1))
	// g and c/e share key 3000: registeredAt breaks the tie, then id.
	want := []string{"g", "c", "e", "a", "b"}
	if !equalIDs(got, want) {
		t.Errorf("expected %v, got %v", want, got)
	}

	got = ids(SortRoom(mixedQueue(), clinic.Room2))
	want = []string{"d", "f"}
	if !equalIDs(got, want) {
		t.Errorf("expected %v, got %v", want, got)
	}
}

func TestSortRoom_StableAcrossCalls(t *testing.T) {
	queue := mixedQueue()
	first := ids(SortRoom(queue, clinic.Room1))
	for i := 0; i < 10; i++ {
		// reversed input must not change the result either
		reversed := make([]clinic.Patient, len(queue))
		for j, p := range queue {
			reversed[len(queue)-1-j] = p
		}
		if got := ids(SortRoom(reversed, clinic.Room1)); !equalIDs(got, first) {
			t.Fatalf("iteration %d: expected %v, got %v", i, first, got)
		}
	}
}

func TestSortRoom_DoesNotModifyInput(t *testing.T) {
	queue := mixedQueue()
	before := ids(queue)
	sorted := SortRoom(queue, clinic.Room1)
	*sorted[0].Order = 1
	if !equalIDs(ids(queue), before) {
		t.Error("input order changed")
	}
	if *queue[6].Order != 3000 {
		t.Error("input patient shares order pointer with result")
	}
}

func TestReorder_DragSecondOntoFirst(t *testing.T) {
	patients := []clinic.Patient{
		{ID: "1", RoomID: clinic.Room1, RegisteredAt: 1700000000000, Order: int64Ptr(100)},
		{ID: "2", RoomID: clinic.Room1, RegisteredAt: 1700000001000, Order: int64Ptr(200)},
	}
	out, changed, ok := Reorder(patients, "2", "1")
	if !ok {
		t.Fatal("expected reorder to apply")
	}
	if got := ids(SortRoom(out, clinic.Room1)); !equalIDs(got, []string{"2", "1"}) {
		t.Errorf("expected dragged patient first, got %v", got)
	}
	base := int64(1700000000000)
	if orderOf(out, "2") != base || orderOf(out, "1") != base+OrderStep {
		t.Errorf("expected orders %d/%d, got %d/%d", base, base+OrderStep, orderOf(out, "2"), orderOf(out, "1"))
	}
	if len(changed) != 2 || changed[0].ID != "2" {
		t.Errorf("expected both members changed in new order, got %v", ids(changed))
	}
	if *patients[0].Order != 100 {
		t.Error("input was modified")
	}
}

func TestReorder_DragDown(t *testing.T) {
	patients := []clinic.Patient{
		{ID: "a", RoomID: clinic.Room1, RegisteredAt: 10},
		{ID: "b", RoomID: clinic.Room1, RegisteredAt: 20},
		{ID: "c", RoomID: clinic.Room1, RegisteredAt: 30},
		{ID: "d", RoomID: clinic.Room1, RegisteredAt: 40},
	}
	out, _, ok := Reorder(patients, "a", "c")
	if !ok {
		t.Fatal("expected reorder to apply")
	}
	if got := ids(SortRoom(out, clinic.Room1)); !equalIDs(got, []string{"b", "c", "a", "d"}) {
		t.Errorf("unexpected order %v", got)
	}
}

func TestReorder_OtherRoomsUntouched(t *testing.T) {
	queue := mixedQueue()
	out, _, ok := Reorder(queue, "b", "g")
	if !ok {
		t.Fatal("expected reorder to apply")
	}
	for i, p := range out {
		if p.RoomID != clinic.Room2 {
			continue
		}
		if p.SortKey() != queue[i].SortKey() || (p.Order == nil) != (queue[i].Order == nil) {
			t.Errorf("room 2 patient %s changed: %+v", p.ID, p)
		}
	}
	if !equalIDs(ids(out), ids(queue)) {
		t.Error("element positions in the full list changed")
	}
}

func TestReorder_PreservesRelativeOrderOfOthers(t *testing.T) {
	queue := mixedQueue()
	before := ids(SortRoom(queue, clinic.Room1))
	for _, dragged := range before {
		for _, target := range before {
			if dragged == target {
				continue
			}
			out, _, ok := Reorder(queue, dragged, target)
			if !ok {
				t.Fatalf("%s onto %s: expected reorder to apply", dragged, target)
			}
			after := ids(SortRoom(out, clinic.Room1))
			if !equalIDs(without(after, dragged), without(before, dragged)) {
				t.Errorf("%s onto %s: others reordered: %v -> %v", dragged, target, before, after)
			}
		}
	}
}

func without(list []string, id string) []string {
	out := make([]string, 0, len(list))
	for _, v := range list {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}

func TestReorder_Refused(t *testing.T) {
	queue := mixedQueue()
	tests := []struct {
		name            string
		dragged, target string
	}{
		{"different rooms", "a", "d"},
		{"same patient", "a", "a"},
		{"missing dragged", "zz", "a"},
		{"missing target", "a", "zz"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, changed, ok := Reorder(queue, tt.dragged, tt.target)
			if ok {
				t.Fatal("expected reorder to be refused")
			}
			if changed != nil {
				t.Errorf("expected no changes, got %v", ids(changed))
			}
			for i := range queue {
				if out[i].SortKey() != queue[i].SortKey() {
					t.Errorf("patient %s order changed", queue[i].ID)
				}
			}
		})
	}
}
