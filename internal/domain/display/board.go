// Package display projects queue state into the two boards the clinic
// shows: the admin board over a session draft and the public waiting-room
// board over the live copy.
package display

import (
	"sort"

	"github.com/clinicq/clinicq/internal/domain/clinic"
	"github.com/clinicq/clinicq/internal/domain/queue"
)

const (
	// PinnedCount is how many patients stay fixed at the top of a public
	// room column.
	PinnedCount = 3
	// NoticeRepeat is how often the notice list is repeated in the marquee.
	NoticeRepeat = 4
	// SlideInterval is the banner auto-slide period in milliseconds.
	SlideInterval = 3000
	// estimatedVisit is added to registeredAt for completed patients that
	// predate completedAt stamping.
	estimatedVisit int64 = 60 * 60 * 1000
)

const (
	examiningIcon  = "stethoscope"
	examiningLabel = "진료 중"
	fallbackBorder = "border-gray-300"
)

// StatusBadge is the display information of a card's status.
type StatusBadge struct {
	ID          string `json:"id"`
	Label       string `json:"label"`
	Color       string `json:"color"`
	BgColor     string `json:"bgColor"`
	TextColor   string `json:"textColor"`
	BorderColor string `json:"borderColor,omitempty"`
	Icon        string `json:"icon,omitempty"`
	// Known is false when the patient's status id no longer exists and the
	// badge shows the fallback status.
	Known bool `json:"known"`
}

// Card is one patient row in a room column.
type Card struct {
	ID           string          `json:"id"`
	Name         string          `json:"name"`
	Rank         int             `json:"rank"`
	RoomID       clinic.RoomID   `json:"roomId"`
	Status       StatusBadge     `json:"status"`
	Highlighted  bool            `json:"highlighted"`
	Class        string          `json:"class"`
	RegisteredAt int64           `json:"registeredAt,omitempty"`
	SyncState    queue.SyncState `json:"syncState,omitempty"`
}

// AdminRoom is a room column on the admin board.
type AdminRoom struct {
	ID         clinic.RoomID `json:"id"`
	Name       string        `json:"name"`
	DoctorName string        `json:"doctorName"`
	Patients   []Card        `json:"patients"`
}

// CompletedCard is an entry of the admin board's completed panel.
type CompletedCard struct {
	ID                   string          `json:"id"`
	Name                 string          `json:"name"`
	RoomID               clinic.RoomID   `json:"roomId"`
	RoomName             string          `json:"roomName"`
	RegisteredAt         int64           `json:"registeredAt"`
	CompletedAt          int64           `json:"completedAt"`
	CompletedAtEstimated bool            `json:"completedAtEstimated"`
	DurationMinutes      int64           `json:"durationMinutes"`
	SyncState            queue.SyncState `json:"syncState,omitempty"`
}

// AdminView is the admin board of one session.
type AdminView struct {
	SessionID       string                `json:"sessionId"`
	Unsaved         bool                  `json:"unsaved"`
	Rooms           []AdminRoom           `json:"rooms"`
	Completed       []CompletedCard       `json:"completed"`
	Notices         []string              `json:"notices"`
	Banners         []string              `json:"banners"`
	ShowBanner      bool                  `json:"showBanner"`
	ShowDoctorNames bool                  `json:"showDoctorNames"`
	Statuses        []clinic.CustomStatus `json:"statuses"`
	Palette         []clinic.ColorOption  `json:"palette"`
}

// PublicRoom is a room column on the waiting-room display.
type PublicRoom struct {
	ID       clinic.RoomID `json:"id"`
	Number   int           `json:"number"`
	Name     string        `json:"name"`
	Doctor   string        `json:"doctor,omitempty"`
	Waiting  int           `json:"waiting"`
	Pinned   []Card        `json:"pinned"`
	Rotating []Card        `json:"rotating"`
	// Marquee is Rotating twice over so the scrolling list loops without a
	// visible seam. Empty when nothing rotates.
	Marquee []Card `json:"marquee"`
}

// BannerView is the slide block between the room columns.
type BannerView struct {
	Images     []string `json:"images"`
	AutoSlide  bool     `json:"autoSlide"`
	IntervalMs int      `json:"intervalMs"`
}

// PublicView is the waiting-room display.
type PublicView struct {
	ClinicName string       `json:"clinicName"`
	Rooms      []PublicRoom `json:"rooms"`
	Notices    []string     `json:"notices"`
	Banner     *BannerView  `json:"banner,omitempty"`
}

func badge(settings clinic.ClinicSettings, p clinic.Patient) StatusBadge {
	st, known := queue.DisplayStatus(settings, p)
	return StatusBadge{
		ID:          st.ID,
		Label:       st.Label,
		Color:       st.Color,
		BgColor:     st.BgColor,
		TextColor:   st.TextColor,
		BorderColor: st.BorderColor,
		Icon:        st.Icon,
		Known:       known,
	}
}

// Highlighted reports whether cards in this status are drawn emphasized.
func Highlighted(b StatusBadge) bool {
	return b.Icon == examiningIcon || clinic.Normalize(b.Label) == examiningLabel
}

// CardClass returns the card style classes for a status badge.
func CardClass(b StatusBadge) string {
	switch {
	case b.BgColor == "":
		return "bg-white border border-gray-100"
	case Highlighted(b):
		border := b.BorderColor
		if border == "" {
			border = fallbackBorder
		}
		return b.BgColor + "/80 border-2 " + border
	case b.BorderColor != "":
		return b.BgColor + " border " + b.BorderColor
	default:
		return b.BgColor + " border border-gray-100"
	}
}

func newCard(settings clinic.ClinicSettings, p clinic.Patient, rank int) Card {
	b := badge(settings, p)
	return Card{
		ID:           p.ID,
		Name:         p.Name,
		Rank:         rank,
		RoomID:       p.RoomID,
		Status:       b,
		Highlighted:  Highlighted(b),
		Class:        CardClass(b),
		RegisteredAt: p.RegisteredAt,
	}
}

// waiting returns the non-completed patients of room in queue order.
func waiting(settings clinic.ClinicSettings, patients []clinic.Patient, room clinic.RoomID) []clinic.Patient {
	sorted := queue.SortRoom(patients, room)
	out := sorted[:0]
	for _, p := range sorted {
		if !settings.IsCompleted(p) {
			out = append(out, p)
		}
	}
	return out
}

// AdminBoard renders a session's draft. banners is the merged banner list
// (see MergeBanners).
func AdminBoard(st queue.State, banners []string) AdminView {
	settings := st.DraftSettings
	view := AdminView{
		SessionID:       st.ID,
		Unsaved:         st.Unsaved,
		Rooms:           make([]AdminRoom, 0, len(clinic.Rooms)),
		Completed:       completedPanel(settings, st.DraftPatients, st.Sync),
		Notices:         nonNil(settings.Notices),
		Banners:         nonNil(banners),
		ShowBanner:      settings.ShowBanner,
		ShowDoctorNames: settings.ShowDoctorNames,
		Statuses:        settings.CustomStatuses,
		Palette:         clinic.Palette,
	}
	for _, room := range clinic.Rooms {
		col := AdminRoom{
			ID:         room,
			Name:       settings.RoomNames[room],
			DoctorName: settings.DoctorNames[room],
			Patients:   []Card{},
		}
		for i, p := range waiting(settings, st.DraftPatients, room) {
			card := newCard(settings, p, i+1)
			card.SyncState = syncOf(st.Sync, p.ID)
			col.Patients = append(col.Patients, card)
		}
		view.Rooms = append(view.Rooms, col)
	}
	return view
}

func syncOf(states map[string]queue.SyncState, id string) queue.SyncState {
	if s, ok := states[id]; ok {
		return s
	}
	return queue.SyncSynced
}

func completedPanel(settings clinic.ClinicSettings, patients []clinic.Patient, states map[string]queue.SyncState) []CompletedCard {
	done := queue.CompletedPatients(settings, patients)
	sort.SliceStable(done, func(i, j int) bool {
		a, b := done[i], done[j]
		if a.SortKey() != b.SortKey() {
			return a.SortKey() > b.SortKey()
		}
		if a.RegisteredAt != b.RegisteredAt {
			return a.RegisteredAt > b.RegisteredAt
		}
		return a.ID > b.ID
	})

	out := make([]CompletedCard, 0, len(done))
	for _, p := range done {
		card := CompletedCard{
			ID:           p.ID,
			Name:         p.Name,
			RoomID:       p.RoomID,
			RoomName:     settings.RoomNames[p.RoomID],
			RegisteredAt: p.RegisteredAt,
			SyncState:    syncOf(states, p.ID),
		}
		if p.CompletedAt != nil {
			card.CompletedAt = *p.CompletedAt
		} else {
			card.CompletedAt = p.RegisteredAt + estimatedVisit
			card.CompletedAtEstimated = true
		}
		card.DurationMinutes = (card.CompletedAt - p.RegisteredAt + 30_000) / 60_000
		out = append(out, card)
	}
	return out
}

// PublicBoard renders the live copy for the waiting room. Completed patients
// are left out.
func PublicBoard(clinicName string, patients []clinic.Patient, settings clinic.ClinicSettings, banners []string) PublicView {
	view := PublicView{
		ClinicName: clinicName,
		Rooms:      make([]PublicRoom, 0, len(clinic.Rooms)),
		Notices:    NoticeMarquee(settings.Notices),
	}
	for i, room := range clinic.Rooms {
		col := PublicRoom{
			ID:       room,
			Number:   i + 1,
			Name:     settings.RoomNames[room],
			Pinned:   []Card{},
			Rotating: []Card{},
			Marquee:  []Card{},
		}
		if settings.ShowDoctorNames {
			if name := settings.DoctorNames[room]; name != "" {
				col.Doctor = name + " 진료"
			}
		}
		queued := waiting(settings, patients, room)
		col.Waiting = len(queued)
		for j, p := range queued {
			card := newCard(settings, p, j+1)
			card.RegisteredAt = 0
			if j < PinnedCount {
				col.Pinned = append(col.Pinned, card)
			} else {
				col.Rotating = append(col.Rotating, card)
			}
		}
		if len(col.Rotating) > 0 {
			col.Marquee = append(append(col.Marquee, col.Rotating...), col.Rotating...)
		}
		view.Rooms = append(view.Rooms, col)
	}
	if settings.ShowBanner {
		images := nonNil(banners)
		view.Banner = &BannerView{
			Images:     images,
			AutoSlide:  len(images) > 1,
			IntervalMs: SlideInterval,
		}
	}
	return view
}

// NoticeMarquee repeats the notices NoticeRepeat times, substituting the
// default notice for an empty list.
func NoticeMarquee(notices []string) []string {
	base := notices
	if len(base) == 0 {
		base = []string{clinic.DefaultNotice}
	}
	out := make([]string, 0, len(base)*NoticeRepeat)
	for i := 0; i < NoticeRepeat; i++ {
		out = append(out, base...)
	}
	return out
}

// MergeBanners returns the remote banner references unchanged followed by
// the local references that are neither remote nor repeated, so indexes
// below len(remote) address the remote list.
func MergeBanners(remote, local []string) []string {
	out := append(make([]string, 0, len(remote)+len(local)), remote...)
	seen := make(map[string]bool, len(out))
	for _, ref := range remote {
		seen[ref] = true
	}
	for _, ref := range local {
		if ref == "" || seen[ref] {
			continue
		}
		seen[ref] = true
		out = append(out, ref)
	}
	return out
}

func nonNil(in []string) []string {
	if in == nil {
		return []string{}
	}
	return append([]string(nil), in...)
}
