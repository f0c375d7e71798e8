// Package report summarizes the queue and exports completed visits.
package report

import (
	"sort"
	"time"

	"github.com/clinicq/clinicq/internal/domain/clinic"
	"github.com/clinicq/clinicq/internal/domain/queue"
)

// Visit is one completed patient.
type Visit struct {
	ID                   string        `json:"id"`
	Name                 string        `json:"name"`
	RoomID               clinic.RoomID `json:"roomId"`
	RoomName             string        `json:"roomName"`
	Status               string        `json:"status"`
	RegisteredAt         time.Time     `json:"registeredAt"`
	CompletedAt          time.Time     `json:"completedAt"`
	CompletedAtEstimated bool          `json:"completedAtEstimated"`
	Minutes              int64         `json:"minutes"`
}

// estimatedVisit stands in for the visit length of patients completed
// before completedAt was recorded.
const estimatedVisit = time.Hour

// Visits lists completed patients in completion order, oldest first.
func Visits(patients []clinic.Patient, settings clinic.ClinicSettings) []Visit {
	done := queue.CompletedPatients(settings, patients)
	out := make([]Visit, 0, len(done))
	for _, p := range done {
		registered := time.UnixMilli(p.RegisteredAt)
		v := Visit{
			ID:           p.ID,
			Name:         p.Name,
			RoomID:       p.RoomID,
			RoomName:     settings.RoomNames[p.RoomID],
			RegisteredAt: registered,
		}
		if st, ok := settings.Status(p.Status); ok {
			v.Status = st.Label
		}
		if p.CompletedAt != nil {
			v.CompletedAt = time.UnixMilli(*p.CompletedAt)
		} else {
			v.CompletedAt = registered.Add(estimatedVisit)
			v.CompletedAtEstimated = true
		}
		v.Minutes = int64(v.CompletedAt.Sub(registered).Round(time.Minute) / time.Minute)
		out = append(out, v)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].CompletedAt.Equal(out[j].CompletedAt) {
			return out[i].CompletedAt.Before(out[j].CompletedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}
