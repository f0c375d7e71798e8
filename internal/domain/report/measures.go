package report

import (
	"time"

	"github.com/clinicq/clinicq/internal/domain/clinic"
)

// MeasureDefinition describes a figure computed over the live queue.
type MeasureDefinition struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`

	eval func(patients []clinic.Patient, settings clinic.ClinicSettings) []map[string]any
}

// MeasureReport holds the result of evaluating a measure.
type MeasureReport struct {
	MeasureID   string           `json:"measure_id"`
	MeasureName string           `json:"measure_name"`
	GeneratedAt time.Time        `json:"generated_at"`
	Results     []map[string]any `json:"results"`
}

// PredefinedMeasures is the list of available measures.
var PredefinedMeasures = []MeasureDefinition{
	{
		ID:          "waiting-by-room",
		Name:        "Waiting by Room",
		Description: "Patients not yet completed, per room",
		eval:        waitingByRoom,
	},
	{
		ID:          "completed-by-room",
		Name:        "Completed by Room",
		Description: "Completed visits and their average length in minutes, per room",
		eval:        completedByRoom,
	},
	{
		ID:          "status-distribution",
		Name:        "Status Distribution",
		Description: "Patients per status, in taxonomy order",
		eval:        statusDistribution,
	},
}

// FindMeasure looks up a measure by ID.
func FindMeasure(id string) *MeasureDefinition {
	for i := range PredefinedMeasures {
		if PredefinedMeasures[i].ID == id {
			return &PredefinedMeasures[i]
		}
	}
	return nil
}

// Evaluate computes the measure.
func (m *MeasureDefinition) Evaluate(patients []clinic.Patient, settings clinic.ClinicSettings, now time.Time) MeasureReport {
	results := m.eval(patients, settings)
	if results == nil {
		results = []map[string]any{}
	}
	return MeasureReport{
		MeasureID:   m.ID,
		MeasureName: m.Name,
		GeneratedAt: now,
		Results:     results,
	}
}

func waitingByRoom(patients []clinic.Patient, settings clinic.ClinicSettings) []map[string]any {
	counts := map[clinic.RoomID]int{}
	for _, p := range patients {
		if !settings.IsCompleted(p) {
			counts[p.RoomID]++
		}
	}
	out := make([]map[string]any, 0, len(clinic.Rooms))
	for _, room := range clinic.Rooms {
		out = append(out, map[string]any{
			"room_id":   string(room),
			"room_name": settings.RoomNames[room],
			"waiting":   counts[room],
		})
	}
	return out
}

func completedByRoom(patients []clinic.Patient, settings clinic.ClinicSettings) []map[string]any {
	type agg struct {
		count   int
		minutes int64
	}
	byRoom := map[clinic.RoomID]*agg{}
	for _, v := range Visits(patients, settings) {
		a := byRoom[v.RoomID]
		if a == nil {
			a = &agg{}
			byRoom[v.RoomID] = a
		}
		a.count++
		a.minutes += v.Minutes
	}
	out := make([]map[string]any, 0, len(clinic.Rooms))
	for _, room := range clinic.Rooms {
		row := map[string]any{
			"room_id":         string(room),
			"room_name":       settings.RoomNames[room],
			"completed":       0,
			"average_minutes": 0.0,
		}
		if a := byRoom[room]; a != nil {
			row["completed"] = a.count
			row["average_minutes"] = float64(a.minutes) / float64(a.count)
		}
		out = append(out, row)
	}
	return out
}

func statusDistribution(patients []clinic.Patient, settings clinic.ClinicSettings) []map[string]any {
	counts := map[string]int{}
	for _, p := range patients {
		counts[p.Status]++
	}
	out := make([]map[string]any, 0, len(settings.CustomStatuses)+1)
	known := 0
	for _, st := range settings.CustomStatuses {
		known += counts[st.ID]
		out = append(out, map[string]any{
			"status_id": st.ID,
			"label":     st.Label,
			"total":     counts[st.ID],
		})
	}
	if other := len(patients) - known; other > 0 {
		out = append(out, map[string]any{
			"status_id": "",
			"label":     "unknown",
			"total":     other,
		})
	}
	return out
}
