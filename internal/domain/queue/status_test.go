package queue

import (
	"errors"
	"testing"

	"github.com/clinicq/clinicq/internal/domain/clinic"
)

func TestApplyStatus_StampsCompletedAtOnce(t *testing.T) {
	settings := clinic.DefaultSettings()
	p := clinic.Patient{ID: "1", Status: clinic.StatusWaiting, RoomID: clinic.Room1, RegisteredAt: 100}

	p, err := ApplyStatus(settings, p, clinic.StatusCompleted, 5000)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.CompletedAt == nil || *p.CompletedAt != 5000 {
		t.Fatalf("expected completedAt 5000, got %v", p.CompletedAt)
	}

	p, _ = ApplyStatus(settings, p, clinic.StatusExamining, 6000)
	if p.CompletedAt == nil || *p.CompletedAt != 5000 {
		t.Errorf("expected completedAt kept after leaving completed, got %v", p.CompletedAt)
	}

	p, _ = ApplyStatus(settings, p, clinic.StatusCompleted, 7000)
	if *p.CompletedAt != 5000 {
		t.Errorf("expected original completedAt, got %d", *p.CompletedAt)
	}
}

func TestApplyStatus_NonTerminalDoesNotStamp(t *testing.T) {
	p, err := ApplyStatus(clinic.DefaultSettings(), clinic.Patient{ID: "1"}, clinic.StatusExamWait, 5000)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.CompletedAt != nil {
		t.Errorf("expected no completedAt, got %d", *p.CompletedAt)
	}
	if p.Status != clinic.StatusExamWait {
		t.Errorf("expected status %s, got %s", clinic.StatusExamWait, p.Status)
	}
}

func TestApplyStatus_LabelSentinelWithoutFlag(t *testing.T) {
	settings := clinic.ClinicSettings{CustomStatuses: []clinic.CustomStatus{
		{ID: "OLD_DONE", Label: "완료"},
		{ID: "OLD_WAIT", Label: "대기"},
	}}
	p, err := ApplyStatus(settings, clinic.Patient{ID: "1"}, "OLD_DONE", 42)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.CompletedAt == nil || *p.CompletedAt != 42 {
		t.Errorf("expected label-classified completion, got %v", p.CompletedAt)
	}
}

func TestApplyStatus_UnknownStatus(t *testing.T) {
	p := clinic.Patient{ID: "1", Status: clinic.StatusWaiting}
	got, err := ApplyStatus(clinic.DefaultSettings(), p, "NOPE", 1)
	if !errors.Is(err, ErrUnknownStatus) {
		t.Fatalf("expected ErrUnknownStatus, got %v", err)
	}
	if got.Status != clinic.StatusWaiting {
		t.Errorf("expected patient unchanged, got %s", got.Status)
	}
}

func TestAddStatus(t *testing.T) {
	settings := clinic.DefaultSettings()
	out, st, err := AddStatus(settings, "  수납 대기 ", "purple", 1700000000000)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if st.ID != "CUSTOM_1700000000000" {
		t.Errorf("unexpected id %s", st.ID)
	}
	if st.Label != "수납 대기" {
		t.Errorf("expected trimmed label, got %q", st.Label)
	}
	if st.BgColor != "bg-purple-50" || st.TextColor != "text-purple-700" || st.BorderColor != "border-purple-200" {
		t.Errorf("unexpected palette classes: %+v", st)
	}
	if st.IsTerminal == nil || *st.IsTerminal {
		t.Error("expected explicit non-terminal flag")
	}
	if len(out.CustomStatuses) != len(settings.CustomStatuses)+1 {
		t.Errorf("expected one more status, got %d", len(out.CustomStatuses))
	}
	if len(settings.CustomStatuses) != 4 {
		t.Error("input settings modified")
	}

	_, second, _ := AddStatus(out, "again", "nope", 1700000000000)
	if second.ID != "CUSTOM_1700000000001" {
		t.Errorf("expected id bumped past collision, got %s", second.ID)
	}
	if second.Color != "blue" {
		t.Errorf("expected unknown color to fall back to blue, got %s", second.Color)
	}

	if _, _, err := AddStatus(settings, "   ", "blue", 1); !errors.Is(err, ErrEmptyLabel) {
		t.Errorf("expected ErrEmptyLabel, got %v", err)
	}
}

func TestEditStatus(t *testing.T) {
	label, color, terminal := "진료 완료", "green", true
	out, st, err := EditStatus(clinic.DefaultSettings(), clinic.StatusExamining, StatusEdit{
		Label:      &label,
		Color:      &color,
		IsTerminal: &terminal,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if st.Label != label || st.BgColor != "bg-green-50" || !st.Terminal() {
		t.Errorf("unexpected status %+v", st)
	}
	got, _ := out.Status(clinic.StatusExamining)
	if got.Label != label {
		t.Errorf("expected stored label %q, got %q", label, got.Label)
	}

	if _, _, err := EditStatus(clinic.DefaultSettings(), "NOPE", StatusEdit{Label: &label}); !errors.Is(err, ErrUnknownStatus) {
		t.Errorf("expected ErrUnknownStatus, got %v", err)
	}
}

func TestDeleteStatus_PatientsFallBackForDisplay(t *testing.T) {
	out, err := DeleteStatus(clinic.DefaultSettings(), clinic.StatusExamWait)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := out.Status(clinic.StatusExamWait); ok {
		t.Fatal("expected status removed")
	}

	p := clinic.Patient{ID: "1", Status: clinic.StatusExamWait}
	st, known := DisplayStatus(out, p)
	if known {
		t.Error("expected dangling status to be reported unknown")
	}
	if st.Label != clinic.WaitingLabel {
		t.Errorf("expected waiting fallback, got %q", st.Label)
	}
	if out.IsCompleted(p) {
		t.Error("dangling status must not count as completed")
	}

	if _, err := DeleteStatus(out, clinic.StatusExamWait); !errors.Is(err, ErrUnknownStatus) {
		t.Errorf("expected ErrUnknownStatus, got %v", err)
	}
}

func TestMoveStatus(t *testing.T) {
	out, ok := MoveStatus(clinic.DefaultSettings(), clinic.StatusCompleted, clinic.StatusWaiting)
	if !ok {
		t.Fatal("expected move to apply")
	}
	got := make([]string, len(out.CustomStatuses))
	for i, st := range out.CustomStatuses {
		got[i] = st.ID
	}
	want := []string{clinic.StatusCompleted, clinic.StatusWaiting, clinic.StatusExamining, clinic.StatusExamWait}
	if !equalIDs(got, want) {
		t.Errorf("expected %v, got %v", want, got)
	}

	if _, ok := MoveStatus(clinic.DefaultSettings(), "NOPE", clinic.StatusWaiting); ok {
		t.Error("expected move of unknown status to be refused")
	}
}

func TestCompletedPatients(t *testing.T) {
	settings := clinic.DefaultSettings()
	patients := []clinic.Patient{
		{ID: "1", Status: clinic.StatusCompleted},
		{ID: "2", Status: clinic.StatusWaiting},
		{ID: "3", Status: "GONE"},
	}
	got := CompletedPatients(settings, patients)
	if len(got) != 1 || got[0].ID != "1" {
		t.Errorf("expected only patient 1, got %v", ids(got))
	}
}
