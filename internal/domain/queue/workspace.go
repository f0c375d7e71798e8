package queue

import (
	"sync"
	"time"

	"github.com/clinicq/clinicq/internal/domain/clinic"
)

// SyncState tracks the remote write status of one draft patient.
type SyncState string

const (
	SyncSynced  SyncState = "synced"
	SyncPending SyncState = "pending"
	SyncFailed  SyncState = "failed"
)

const maxToasts = 20

// Workspace is one admin session: a live copy mirroring the store and a
// draft copy the admin edits. While the draft has no unsaved changes every
// live update is copied into it.
type Workspace struct {
	mu sync.Mutex

	id      string
	admin   bool
	unsaved bool
	// rev counts changes to the draft.
	rev uint64

	livePatients  []clinic.Patient
	liveSettings  clinic.ClinicSettings
	draftPatients []clinic.Patient
	draftSettings clinic.ClinicSettings

	sync     map[string]SyncState
	inflight map[string]int
	toasts   []Toast
	lastSeen time.Time
}

// State is a point-in-time copy of a workspace.
type State struct {
	ID            string                `json:"id"`
	Admin         bool                  `json:"admin"`
	Unsaved       bool                  `json:"unsaved"`
	LivePatients  []clinic.Patient      `json:"livePatients"`
	LiveSettings  clinic.ClinicSettings `json:"liveSettings"`
	DraftPatients []clinic.Patient      `json:"draftPatients"`
	DraftSettings clinic.ClinicSettings `json:"draftSettings"`
	Sync          map[string]SyncState  `json:"sync"`
	Rev           uint64                `json:"-"`
}

// NewWorkspace opens a workspace in admin mode with draft equal to live.
func NewWorkspace(id string, patients []clinic.Patient, settings clinic.ClinicSettings, now time.Time) *Workspace {
	w := &Workspace{
		id:       id,
		admin:    true,
		sync:     make(map[string]SyncState),
		inflight: make(map[string]int),
		lastSeen: now,
	}
	w.livePatients = clinic.ClonePatients(patients)
	w.liveSettings = settings.Clone()
	w.resync()
	return w
}

func (w *Workspace) ID() string { return w.id }

// resync copies live into draft. Callers hold mu.
func (w *Workspace) resync() {
	w.rev++
	w.draftPatients = clinic.ClonePatients(w.livePatients)
	if w.draftPatients == nil {
		w.draftPatients = []clinic.Patient{}
	}
	w.draftSettings = w.liveSettings.Clone()
}

// Receive replaces the live copy and reports whether the draft followed.
func (w *Workspace) Receive(patients []clinic.Patient, settings clinic.ClinicSettings) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.livePatients = clinic.ClonePatients(patients)
	w.liveSettings = settings.Clone()
	if w.admin && !w.unsaved {
		w.resync()
		return true
	}
	return false
}

func (w *Workspace) Unsaved() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.unsaved
}

func (w *Workspace) Admin() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.admin
}

// State returns a deep copy of the workspace.
func (w *Workspace) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	states := make(map[string]SyncState, len(w.sync))
	for id, st := range w.sync {
		states[id] = st
	}
	return State{
		ID:            w.id,
		Admin:         w.admin,
		Unsaved:       w.unsaved,
		LivePatients:  clinic.ClonePatients(w.livePatients),
		LiveSettings:  w.liveSettings.Clone(),
		DraftPatients: clinic.ClonePatients(w.draftPatients),
		DraftSettings: w.draftSettings.Clone(),
		Sync:          states,
		Rev:           w.rev,
	}
}

// Draft is the mutable view handed to edit functions.
type Draft struct {
	Patients []clinic.Patient
	Settings clinic.ClinicSettings
}

// Edit runs fn against a copy of the draft. When fn succeeds the copy
// becomes the draft and the workspace is marked unsaved.
func (w *Workspace) Edit(fn func(d *Draft) error) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	d := &Draft{
		Patients: clinic.ClonePatients(w.draftPatients),
		Settings: w.draftSettings.Clone(),
	}
	if err := fn(d); err != nil {
		return err
	}
	w.draftPatients = d.Patients
	w.draftSettings = d.Settings
	w.unsaved = true
	w.rev++
	return nil
}

// Promote makes the saved snapshot st the new live copy. The draft is only
// marked clean when it has not changed since st was taken; later edits stay
// unsaved. It reports whether the draft is now clean.
func (w *Workspace) Promote(st State) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.livePatients = clinic.ClonePatients(st.DraftPatients)
	w.liveSettings = st.DraftSettings.Clone()
	if w.rev != st.Rev {
		return false
	}
	w.unsaved = false
	w.sync = make(map[string]SyncState)
	return true
}

// Discard drops the draft and resumes following live.
func (w *Workspace) Discard() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.unsaved = false
	w.resync()
}

// Leave ends admin mode. Unsaved changes are only dropped with confirm.
func (w *Workspace) Leave(confirm bool) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.unsaved && !confirm {
		return ErrUnsavedChanges
	}
	w.unsaved = false
	w.admin = false
	w.resync()
	return nil
}

func (w *Workspace) beginWrite(patientID string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.inflight[patientID]++
	if w.sync[patientID] != SyncFailed {
		w.sync[patientID] = SyncPending
	}
}

// finishWrite records a write outcome. A failure sticks until the next
// save; removed drops the entry once nothing is in flight.
func (w *Workspace) finishWrite(patientID string, err error, removed bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.inflight[patientID] > 0 {
		w.inflight[patientID]--
	}
	if err != nil {
		w.sync[patientID] = SyncFailed
		return
	}
	if w.inflight[patientID] > 0 || w.sync[patientID] == SyncFailed {
		return
	}
	delete(w.inflight, patientID)
	if removed {
		delete(w.sync, patientID)
		return
	}
	w.sync[patientID] = SyncSynced
}

func (w *Workspace) SyncState(patientID string) SyncState {
	w.mu.Lock()
	defer w.mu.Unlock()
	if st, ok := w.sync[patientID]; ok {
		return st
	}
	return SyncSynced
}

func (w *Workspace) pushToast(t Toast) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.toasts = append(w.toasts, t)
	if n := len(w.toasts); n > maxToasts {
		w.toasts = append([]Toast(nil), w.toasts[n-maxToasts:]...)
	}
}

// Toasts returns the most recent notifications, oldest first.
func (w *Workspace) Toasts() []Toast {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]Toast{}, w.toasts...)
}

func (w *Workspace) touch(now time.Time) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.lastSeen = now
}

func (w *Workspace) idleSince(now time.Time) time.Duration {
	w.mu.Lock()
	defer w.mu.Unlock()
	return now.Sub(w.lastSeen)
}
