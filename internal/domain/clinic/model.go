package clinic

import (
	"strings"

	"golang.org/x/text/unicode/norm"
)

// RoomID identifies one of the two examination rooms.
type RoomID string

const (
	Room1 RoomID = "ROOM_1"
	Room2 RoomID = "ROOM_2"
)

// Rooms lists the rooms in display order.
var Rooms = []RoomID{Room1, Room2}

func (r RoomID) Valid() bool {
	return r == Room1 || r == Room2
}

// CompletedLabel is the label that marks a status as terminal when the
// status predates the explicit isTerminal flag.
const CompletedLabel = "완료"

// WaitingLabel is the label of the status new patients start in.
const WaitingLabel = "대기"

// Patient is one entry in a room queue.
type Patient struct {
	ID           string `json:"id" yaml:"id"`
	Name         string `json:"name" yaml:"name"`
	BirthDate    string `json:"birthDate,omitempty" yaml:"birthDate,omitempty"`
	Status       string `json:"status" yaml:"status"`
	RoomID       RoomID `json:"roomId" yaml:"roomId"`
	RegisteredAt int64  `json:"registeredAt" yaml:"registeredAt"`
	Order        *int64 `json:"order,omitempty" yaml:"order,omitempty"`
	CompletedAt  *int64 `json:"completedAt,omitempty" yaml:"completedAt,omitempty"`
}

// SortKey is order when present, registeredAt otherwise.
func (p Patient) SortKey() int64 {
	if p.Order != nil {
		return *p.Order
	}
	return p.RegisteredAt
}

// Clone returns a copy that shares no pointers with p.
func (p Patient) Clone() Patient {
	out := p
	if p.Order != nil {
		v := *p.Order
		out.Order = &v
	}
	if p.CompletedAt != nil {
		v := *p.CompletedAt
		out.CompletedAt = &v
	}
	return out
}

// WithDefaultOrder fills an absent order from registeredAt.
func (p Patient) WithDefaultOrder() Patient {
	if p.Order == nil {
		v := p.RegisteredAt
		p.Order = &v
	}
	return p
}

// PatientPatch carries the fields of a partial patient update. Nil fields
// are left untouched.
type PatientPatch struct {
	Name        *string `json:"name,omitempty"`
	BirthDate   *string `json:"birthDate,omitempty"`
	Status      *string `json:"status,omitempty"`
	RoomID      *RoomID `json:"roomId,omitempty"`
	Order       *int64  `json:"order,omitempty"`
	CompletedAt *int64  `json:"completedAt,omitempty"`
}

// Apply returns p with the patch applied.
func (pp PatientPatch) Apply(p Patient) Patient {
	out := p.Clone()
	if pp.Name != nil {
		out.Name = *pp.Name
	}
	if pp.BirthDate != nil {
		out.BirthDate = *pp.BirthDate
	}
	if pp.Status != nil {
		out.Status = *pp.Status
	}
	if pp.RoomID != nil {
		out.RoomID = *pp.RoomID
	}
	if pp.Order != nil {
		v := *pp.Order
		out.Order = &v
	}
	if pp.CompletedAt != nil {
		v := *pp.CompletedAt
		out.CompletedAt = &v
	}
	return out
}

// ClonePatients deep-copies a patient list.
func ClonePatients(in []Patient) []Patient {
	if in == nil {
		return nil
	}
	out := make([]Patient, len(in))
	for i, p := range in {
		out[i] = p.Clone()
	}
	return out
}

// CustomStatus is one entry of the user-defined status taxonomy.
type CustomStatus struct {
	ID          string `json:"id" yaml:"id"`
	Label       string `json:"label" yaml:"label"`
	Color       string `json:"color" yaml:"color"`
	BgColor     string `json:"bgColor" yaml:"bgColor"`
	TextColor   string `json:"textColor" yaml:"textColor"`
	BorderColor string `json:"borderColor,omitempty" yaml:"borderColor,omitempty"`
	Icon        string `json:"icon,omitempty" yaml:"icon,omitempty"`
	IsTerminal  *bool  `json:"isTerminal,omitempty" yaml:"isTerminal,omitempty"`
}

// Terminal reports whether patients in this status count as completed.
// An explicit isTerminal flag decides; without one the label is compared
// against CompletedLabel.
func (s CustomStatus) Terminal() bool {
	if s.IsTerminal != nil {
		return *s.IsTerminal
	}
	return Normalize(s.Label) == CompletedLabel
}

// Materialize returns s with isTerminal set from Terminal().
func (s CustomStatus) Materialize() CustomStatus {
	t := s.Terminal()
	s.IsTerminal = &t
	return s
}

// ClinicSettings is the clinic-wide configuration document.
type ClinicSettings struct {
	RoomNames       map[RoomID]string `json:"roomNames" yaml:"roomNames"`
	DoctorNames     map[RoomID]string `json:"doctorNames" yaml:"doctorNames"`
	ShowDoctorNames bool              `json:"showDoctorNames" yaml:"showDoctorNames"`
	ShowBanner      bool              `json:"showBanner" yaml:"showBanner"`
	Notices         []string          `json:"notices" yaml:"notices"`
	CustomStatuses  []CustomStatus    `json:"customStatuses" yaml:"customStatuses"`
	BannerImages    []string          `json:"bannerImages" yaml:"bannerImages"`
}

// Clone returns a deep copy.
func (s ClinicSettings) Clone() ClinicSettings {
	out := s
	out.RoomNames = cloneNames(s.RoomNames)
	out.DoctorNames = cloneNames(s.DoctorNames)
	out.Notices = append([]string(nil), s.Notices...)
	out.BannerImages = append([]string(nil), s.BannerImages...)
	out.CustomStatuses = make([]CustomStatus, len(s.CustomStatuses))
	for i, st := range s.CustomStatuses {
		if st.IsTerminal != nil {
			v := *st.IsTerminal
			st.IsTerminal = &v
		}
		out.CustomStatuses[i] = st
	}
	return out
}

func cloneNames(in map[RoomID]string) map[RoomID]string {
	out := make(map[RoomID]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// Status looks up a status by id.
func (s ClinicSettings) Status(id string) (CustomStatus, bool) {
	for _, st := range s.CustomStatuses {
		if st.ID == id {
			return st, true
		}
	}
	return CustomStatus{}, false
}

// IsCompleted reports whether p holds a terminal status. Patients whose
// status id no longer exists are not completed.
func (s ClinicSettings) IsCompleted(p Patient) bool {
	st, ok := s.Status(p.Status)
	return ok && st.Terminal()
}

// WaitingStatus is the status given to newly added patients and the display
// fallback for dangling status ids: the one labelled WaitingLabel, else the
// first configured status.
func (s ClinicSettings) WaitingStatus() (CustomStatus, bool) {
	for _, st := range s.CustomStatuses {
		if Normalize(st.Label) == WaitingLabel {
			return st, true
		}
	}
	if len(s.CustomStatuses) > 0 {
		return s.CustomStatuses[0], true
	}
	return CustomStatus{}, false
}

// WaitingStatusID returns the id of WaitingStatus, or "WAITING" when no
// statuses are configured.
func (s ClinicSettings) WaitingStatusID() string {
	if st, ok := s.WaitingStatus(); ok {
		return st.ID
	}
	return StatusWaiting
}

// Normalize trims and NFC-normalizes user-entered text so that labels typed
// on different input methods compare equal.
func Normalize(s string) string {
	return norm.NFC.String(strings.TrimSpace(s))
}
