package queue

import (
	"fmt"

	"github.com/clinicq/clinicq/internal/domain/clinic"
)

// statusChange resolves the patch that moves p into statusID. completedAt
// is stamped with now only when the target status is terminal and p has
// never been completed; it is never cleared.
func statusChange(settings clinic.ClinicSettings, p clinic.Patient, statusID string, now int64) (clinic.PatientPatch, error) {
	st, ok := settings.Status(statusID)
	if !ok {
		return clinic.PatientPatch{}, fmt.Errorf("%w: %s", ErrUnknownStatus, statusID)
	}
	id := st.ID
	patch := clinic.PatientPatch{Status: &id}
	if st.Terminal() && p.CompletedAt == nil {
		stamp := now
		patch.CompletedAt = &stamp
	}
	return patch, nil
}

// ApplyStatus returns p moved into statusID.
func ApplyStatus(settings clinic.ClinicSettings, p clinic.Patient, statusID string, now int64) (clinic.Patient, error) {
	patch, err := statusChange(settings, p, statusID, now)
	if err != nil {
		return p, err
	}
	return patch.Apply(p), nil
}

// DisplayStatus is the status a patient is shown with. Patients whose
// status was deleted fall back to the waiting status.
func DisplayStatus(settings clinic.ClinicSettings, p clinic.Patient) (clinic.CustomStatus, bool) {
	if st, ok := settings.Status(p.Status); ok {
		return st, true
	}
	st, _ := settings.WaitingStatus()
	return st, false
}

// CompletedPatients returns every patient holding a terminal status.
func CompletedPatients(settings clinic.ClinicSettings, patients []clinic.Patient) []clinic.Patient {
	out := make([]clinic.Patient, 0)
	for _, p := range patients {
		if settings.IsCompleted(p) {
			out = append(out, p.Clone())
		}
	}
	return out
}

// StatusEdit carries the editable fields of a custom status.
type StatusEdit struct {
	Label      *string `json:"label,omitempty"`
	Color      *string `json:"color,omitempty"`
	Icon       *string `json:"icon,omitempty"`
	IsTerminal *bool   `json:"isTerminal,omitempty"`
}

func styled(st clinic.CustomStatus, color string) clinic.CustomStatus {
	opt := clinic.PaletteColor(color)
	st.Color = opt.Value
	st.BgColor = opt.Bg
	st.TextColor = opt.Text
	st.BorderColor = opt.Border
	return st
}

// AddStatus appends a status with id CUSTOM_<now>.
func AddStatus(settings clinic.ClinicSettings, label, color string, now int64) (clinic.ClinicSettings, clinic.CustomStatus, error) {
	label = clinic.Normalize(label)
	if label == "" {
		return settings, clinic.CustomStatus{}, ErrEmptyLabel
	}
	id := fmt.Sprintf("CUSTOM_%d", now)
	for {
		if _, taken := settings.Status(id); !taken {
			break
		}
		now++
		id = fmt.Sprintf("CUSTOM_%d", now)
	}
	st := styled(clinic.CustomStatus{ID: id, Label: label}, color).Materialize()

	out := settings.Clone()
	out.CustomStatuses = append(out.CustomStatuses, st)
	return out, st, nil
}

// EditStatus applies edit to the status with the given id.
func EditStatus(settings clinic.ClinicSettings, id string, edit StatusEdit) (clinic.ClinicSettings, clinic.CustomStatus, error) {
	out := settings.Clone()
	for i, st := range out.CustomStatuses {
		if st.ID != id {
			continue
		}
		if edit.Label != nil {
			label := clinic.Normalize(*edit.Label)
			if label == "" {
				return settings, clinic.CustomStatus{}, ErrEmptyLabel
			}
			st.Label = label
		}
		if edit.Color != nil {
			st = styled(st, *edit.Color)
		}
		if edit.Icon != nil {
			st.Icon = *edit.Icon
		}
		if edit.IsTerminal != nil {
			v := *edit.IsTerminal
			st.IsTerminal = &v
		}
		out.CustomStatuses[i] = st
		return out, st, nil
	}
	return settings, clinic.CustomStatus{}, fmt.Errorf("%w: %s", ErrUnknownStatus, id)
}

// DeleteStatus removes the status. Patients still referencing it keep the
// dangling id and are displayed with DisplayStatus.
func DeleteStatus(settings clinic.ClinicSettings, id string) (clinic.ClinicSettings, error) {
	out := settings.Clone()
	for i, st := range out.CustomStatuses {
		if st.ID == id {
			out.CustomStatuses = append(out.CustomStatuses[:i], out.CustomStatuses[i+1:]...)
			return out, nil
		}
	}
	return settings, fmt.Errorf("%w: %s", ErrUnknownStatus, id)
}

// MoveStatus moves the dragged status to the target's position.
func MoveStatus(settings clinic.ClinicSettings, draggedID, targetID string) (clinic.ClinicSettings, bool) {
	from, to := -1, -1
	for i, st := range settings.CustomStatuses {
		switch st.ID {
		case draggedID:
			from = i
		case targetID:
			to = i
		}
	}
	if from < 0 || to < 0 || draggedID == targetID {
		return settings, false
	}
	out := settings.Clone()
	moved := out.CustomStatuses[from]
	list := append(out.CustomStatuses[:from], out.CustomStatuses[from+1:]...)
	list = append(list[:to], append([]clinic.CustomStatus{moved}, list[to:]...)...)
	out.CustomStatuses = list
	return out, true
}
