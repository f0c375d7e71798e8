package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/clinicq/clinicq/internal/domain/clinic"
)

// Readiness reports whether the realtime store is configured.
type Readiness interface {
	Ready() bool
}

// Notifier is told about admin notifications and board changes. An empty
// session id addresses the public display.
type Notifier interface {
	Toast(sessionID string, t Toast)
	BoardChanged(sessionID string)
}

type nopNotifier struct{}

func (nopNotifier) Toast(string, Toast)  {}
func (nopNotifier) BoardChanged(string) {}

// SettingsPatch carries the directly editable settings fields. Nil fields
// are left untouched.
type SettingsPatch struct {
	RoomNames       map[clinic.RoomID]string `json:"roomNames,omitempty"`
	DoctorNames     map[clinic.RoomID]string `json:"doctorNames,omitempty"`
	ShowDoctorNames *bool                    `json:"showDoctorNames,omitempty"`
	ShowBanner      *bool                    `json:"showBanner,omitempty"`
	Notices         *[]string                `json:"notices,omitempty"`
}

type Service struct {
	patients clinic.PatientRepository
	settings clinic.SettingsRepository
	feed     *LiveFeed
	ready    Readiness
	writes   *writer
	logger   zerolog.Logger
	now      func() time.Time

	mu       sync.RWMutex
	notifier Notifier
	sessions map[string]*Workspace
	detach   func()
}

func NewService(patients clinic.PatientRepository, settings clinic.SettingsRepository, feed *LiveFeed, ready Readiness, logger zerolog.Logger) *Service {
	logger = logger.With().Str("component", "queue").Logger()
	s := &Service{
		patients: patients,
		settings: settings,
		feed:     feed,
		ready:    ready,
		writes:   newWriter(logger, 256),
		logger:   logger,
		now:      time.Now,
		notifier: nopNotifier{},
		sessions: make(map[string]*Workspace),
	}
	s.detach = feed.Listen(s.onLive)
	return s
}

// SetNotifier attaches the notification sink.
func (s *Service) SetNotifier(n Notifier) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n == nil {
		n = nopNotifier{}
	}
	s.notifier = n
}

// SetClock replaces the time source.
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

func (s *Service) notify() Notifier {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.notifier
}

func (s *Service) onLive(patients []clinic.Patient, settings clinic.ClinicSettings) {
	s.mu.RLock()
	sessions := make([]*Workspace, 0, len(s.sessions))
	for _, ws := range s.sessions {
		sessions = append(sessions, ws)
	}
	s.mu.RUnlock()

	n := s.notify()
	for _, ws := range sessions {
		if ws.Receive(patients, settings) {
			n.BoardChanged(ws.ID())
		}
	}
	n.BoardChanged("")
}

// Live returns the live state shown on the public display.
func (s *Service) Live() ([]clinic.Patient, clinic.ClinicSettings) {
	return s.feed.Snapshot()
}

// Ready reports whether writes can be attempted.
func (s *Service) Ready() bool {
	return s.ready != nil && s.ready.Ready()
}

// OpenSession enters admin mode in a new workspace seeded from live.
func (s *Service) OpenSession() *Workspace {
	patients, settings := s.feed.Snapshot()
	ws := NewWorkspace(uuid.New().String(), patients, settings, s.now())
	s.mu.Lock()
	s.sessions[ws.ID()] = ws
	s.mu.Unlock()
	s.logger.Info().Str("session_id", ws.ID()).Msg("admin session opened")
	return ws
}

// Session looks up a workspace and marks it active.
func (s *Service) Session(id string) (*Workspace, error) {
	s.mu.RLock()
	ws, ok := s.sessions[id]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrSessionNotFound
	}
	ws.touch(s.now())
	return ws, nil
}

// CloseSession leaves admin mode. Unsaved changes need confirm.
func (s *Service) CloseSession(id string, confirm bool) error {
	ws, err := s.Session(id)
	if err != nil {
		return err
	}
	if err := ws.Leave(confirm); err != nil {
		return err
	}
	s.mu.Lock()
	delete(s.sessions, id)
	s.mu.Unlock()
	s.logger.Info().Str("session_id", id).Bool("discarded", confirm).Msg("admin session closed")
	return nil
}

// Discard drops the session's draft and resumes following live.
func (s *Service) Discard(id string) error {
	ws, err := s.Session(id)
	if err != nil {
		return err
	}
	ws.Discard()
	s.notify().BoardChanged(id)
	return nil
}

// CheckWritable applies the readiness guard of settings edits, for callers
// that must do work of their own before editing the draft.
func (s *Service) CheckWritable(sessionID string) error {
	_, err := s.guard(sessionID, MsgSetupSettings)
	return err
}

// Notify queues a toast for a session.
func (s *Service) Notify(sessionID, msg string, typ ToastType) error {
	ws, err := s.Session(sessionID)
	if err != nil {
		return err
	}
	s.toast(ws, msg, typ)
	return nil
}

// Sweep closes sessions idle for longer than ttl and returns how many.
func (s *Service) Sweep(ttl time.Duration) int {
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, ws := range s.sessions {
		if ws.idleSince(now) > ttl {
			if ws.Unsaved() {
				s.logger.Warn().Str("session_id", id).Bool("unsaved", true).Msg("discarding unsaved draft of idle session")
			}
			delete(s.sessions, id)
			n++
		}
	}
	if n > 0 {
		s.logger.Info().Int("sessions", n).Msg("expired idle admin sessions")
	}
	return n
}

// RunSweeper sweeps idle sessions every interval until ctx is done.
func (s *Service) RunSweeper(ctx context.Context, ttl, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.Sweep(ttl)
		case <-ctx.Done():
			return
		}
	}
}

// Wait blocks until every queued remote write has finished.
func (s *Service) Wait() {
	s.writes.wait()
}

// Close stops listening to the feed and drains the write queue.
func (s *Service) Close() {
	if s.detach != nil {
		s.detach()
	}
	s.writes.close()
}

func (s *Service) toast(ws *Workspace, msg string, typ ToastType) {
	t := newToast(msg, typ, s.now())
	ws.pushToast(t)
	s.notify().Toast(ws.ID(), t)
}

// guard resolves the session and refuses to continue without a store.
func (s *Service) guard(sessionID, setupMsg string) (*Workspace, error) {
	ws, err := s.Session(sessionID)
	if err != nil {
		return nil, err
	}
	if !s.Ready() {
		s.toast(ws, setupMsg, ToastError)
		return nil, ErrStoreNotConfigured
	}
	return ws, nil
}

// write queues a remote patient write and tracks its outcome.
func (s *Service) write(ws *Workspace, name, patientID, failMsg string, removed bool, run func(ctx context.Context) error) {
	ws.beginWrite(patientID)
	err := s.writes.submit(writeJob{
		name: name,
		run:  run,
		done: func(err error) {
			ws.finishWrite(patientID, err, removed)
			if err != nil {
				s.toast(ws, failMsg, ToastError)
			}
			s.notify().BoardChanged(ws.ID())
		},
	})
	if err != nil {
		ws.finishWrite(patientID, err, removed)
		s.toast(ws, failMsg, ToastError)
	}
}

func (s *Service) changed(ws *Workspace) {
	s.notify().BoardChanged(ws.ID())
}

// AddPatient registers a patient at the end of room in the waiting status.
func (s *Service) AddPatient(ctx context.Context, sessionID string, room clinic.RoomID, name, birthDate string) (*clinic.Patient, error) {
	ws, err := s.guard(sessionID, MsgSetupAdd)
	if err != nil {
		return nil, err
	}
	name = clinic.Normalize(name)
	if name == "" {
		return nil, ErrEmptyName
	}
	if !room.Valid() {
		return nil, fmt.Errorf("%w: %s", ErrInvalidRoom, room)
	}

	var added clinic.Patient
	err = ws.Edit(func(d *Draft) error {
		now := s.now().UnixMilli()
		taken := make(map[string]bool, len(d.Patients))
		for _, p := range d.Patients {
			taken[p.ID] = true
		}
		order := now
		added = clinic.Patient{
			ID:           clinic.NextPatientID(now, func(id string) bool { return taken[id] }),
			Name:         name,
			BirthDate:    clinic.Normalize(birthDate),
			Status:       d.Settings.WaitingStatusID(),
			RoomID:       room,
			RegisteredAt: now,
			Order:        &order,
		}
		d.Patients = append(d.Patients, added)
		return nil
	})
	if err != nil {
		return nil, err
	}

	p := added.Clone()
	s.write(ws, "add_patient", p.ID, MsgAddFailed, false, func(ctx context.Context) error {
		return s.patients.Put(ctx, p)
	})
	s.changed(ws)
	return &added, nil
}

// ChangeStatus moves a patient into statusID, stamping completedAt the
// first time the patient reaches a terminal status.
func (s *Service) ChangeStatus(ctx context.Context, sessionID, patientID, statusID string) (*clinic.Patient, error) {
	ws, err := s.guard(sessionID, MsgSetupStatus)
	if err != nil {
		return nil, err
	}

	var (
		updated clinic.Patient
		patch   clinic.PatientPatch
	)
	err = ws.Edit(func(d *Draft) error {
		i := indexOf(d.Patients, patientID)
		if i < 0 {
			return fmt.Errorf("%w: %s", clinic.ErrPatientNotFound, patientID)
		}
		pp, err := statusChange(d.Settings, d.Patients[i], statusID, s.now().UnixMilli())
		if err != nil {
			return err
		}
		patch = pp
		d.Patients[i] = patch.Apply(d.Patients[i])
		updated = d.Patients[i].Clone()
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.write(ws, "change_status", patientID, MsgStatusFailed, false, func(ctx context.Context) error {
		_, err := s.patients.Update(ctx, patientID, patch)
		return err
	})
	s.changed(ws)
	return &updated, nil
}

// DeletePatient removes a patient permanently.
func (s *Service) DeletePatient(ctx context.Context, sessionID, patientID string) error {
	ws, err := s.guard(sessionID, MsgSetupDelete)
	if err != nil {
		return err
	}
	err = ws.Edit(func(d *Draft) error {
		i := indexOf(d.Patients, patientID)
		if i < 0 {
			return fmt.Errorf("%w: %s", clinic.ErrPatientNotFound, patientID)
		}
		d.Patients = append(d.Patients[:i], d.Patients[i+1:]...)
		return nil
	})
	if err != nil {
		return err
	}
	s.write(ws, "delete_patient", patientID, MsgDeleteFailed, true, func(ctx context.Context) error {
		return s.patients.Delete(ctx, patientID)
	})
	s.changed(ws)
	return nil
}

// DeleteCompleted removes every patient currently classified completed.
func (s *Service) DeleteCompleted(ctx context.Context, sessionID string) (int, error) {
	ws, err := s.guard(sessionID, MsgSetupDelete)
	if err != nil {
		return 0, err
	}
	var removed []string
	err = ws.Edit(func(d *Draft) error {
		kept := d.Patients[:0]
		for _, p := range d.Patients {
			if d.Settings.IsCompleted(p) {
				removed = append(removed, p.ID)
				continue
			}
			kept = append(kept, p)
		}
		d.Patients = kept
		return nil
	})
	if err != nil {
		return 0, err
	}
	if len(removed) == 0 {
		return 0, nil
	}

	var (
		mu     sync.Mutex
		failed bool
		left   = len(removed)
	)
	for _, id := range removed {
		id := id
		ws.beginWrite(id)
		err := s.writes.submit(writeJob{
			name: "delete_completed",
			run: func(ctx context.Context) error {
				return s.patients.Delete(ctx, id)
			},
			done: func(err error) {
				ws.finishWrite(id, err, true)
				mu.Lock()
				defer mu.Unlock()
				failed = failed || err != nil
				left--
				if left > 0 {
					return
				}
				if failed {
					s.toast(ws, MsgPurgeFailed, ToastError)
				} else {
					s.toast(ws, MsgCompletedPurged, ToastSuccess)
				}
				s.changed(ws)
			},
		})
		if err != nil {
			ws.finishWrite(id, err, true)
			s.toast(ws, MsgPurgeFailed, ToastError)
			return len(removed), err
		}
	}
	s.changed(ws)
	return len(removed), nil
}

// Reorder drops draggedID onto targetID's position. Patients in different
// rooms are left alone and ok is false.
func (s *Service) Reorder(ctx context.Context, sessionID, draggedID, targetID string) (bool, error) {
	ws, err := s.guard(sessionID, MsgSetupReorder)
	if err != nil {
		return false, err
	}
	var changed []clinic.Patient
	err = ws.Edit(func(d *Draft) error {
		out, members, ok := Reorder(d.Patients, draggedID, targetID)
		if !ok {
			return errNoop
		}
		d.Patients = out
		changed = members
		return nil
	})
	if errors.Is(err, errNoop) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	for _, p := range changed {
		id, order := p.ID, *p.Order
		s.write(ws, "reorder", id, MsgReorderFailed, false, func(ctx context.Context) error {
			_, err := s.patients.Update(ctx, id, clinic.PatientPatch{Order: &order})
			return err
		})
	}
	s.changed(ws)
	return true, nil
}

// editSettings applies fn to the draft settings. Settings reach the store
// only on Save.
func (s *Service) editSettings(sessionID string, fn func(st *clinic.ClinicSettings) error) error {
	ws, err := s.guard(sessionID, MsgSetupSettings)
	if err != nil {
		return err
	}
	err = ws.Edit(func(d *Draft) error {
		return fn(&d.Settings)
	})
	if err != nil {
		return err
	}
	s.changed(ws)
	return nil
}

// UpdateSettings applies a settings patch to the draft.
func (s *Service) UpdateSettings(sessionID string, patch SettingsPatch) error {
	for room := range patch.RoomNames {
		if !room.Valid() {
			return fmt.Errorf("%w: %s", ErrInvalidRoom, room)
		}
	}
	for room := range patch.DoctorNames {
		if !room.Valid() {
			return fmt.Errorf("%w: %s", ErrInvalidRoom, room)
		}
	}
	return s.editSettings(sessionID, func(st *clinic.ClinicSettings) error {
		for room, name := range patch.RoomNames {
			st.RoomNames[room] = clinic.Normalize(name)
		}
		for room, name := range patch.DoctorNames {
			st.DoctorNames[room] = clinic.Normalize(name)
		}
		if patch.ShowDoctorNames != nil {
			st.ShowDoctorNames = *patch.ShowDoctorNames
		}
		if patch.ShowBanner != nil {
			st.ShowBanner = *patch.ShowBanner
		}
		if patch.Notices != nil {
			notices := make([]string, 0, len(*patch.Notices))
			for _, n := range *patch.Notices {
				if n = clinic.Normalize(n); n != "" {
					notices = append(notices, n)
				}
			}
			st.Notices = notices
		}
		return nil
	})
}

func (s *Service) SetRoomName(sessionID string, room clinic.RoomID, name string) error {
	return s.UpdateSettings(sessionID, SettingsPatch{RoomNames: map[clinic.RoomID]string{room: name}})
}

func (s *Service) SetDoctorName(sessionID string, room clinic.RoomID, name string) error {
	return s.UpdateSettings(sessionID, SettingsPatch{DoctorNames: map[clinic.RoomID]string{room: name}})
}

func (s *Service) SetShowBanner(sessionID string, on bool) error {
	return s.UpdateSettings(sessionID, SettingsPatch{ShowBanner: &on})
}

func (s *Service) SetShowDoctorNames(sessionID string, on bool) error {
	return s.UpdateSettings(sessionID, SettingsPatch{ShowDoctorNames: &on})
}

func (s *Service) AddNotice(sessionID, text string) error {
	text = clinic.Normalize(text)
	if text == "" {
		return ErrEmptyNotice
	}
	return s.editSettings(sessionID, func(st *clinic.ClinicSettings) error {
		st.Notices = append(st.Notices, text)
		return nil
	})
}

func (s *Service) RemoveNotice(sessionID string, index int) error {
	return s.editSettings(sessionID, func(st *clinic.ClinicSettings) error {
		if index < 0 || index >= len(st.Notices) {
			return ErrNoticeIndex
		}
		st.Notices = append(st.Notices[:index], st.Notices[index+1:]...)
		return nil
	})
}

func (s *Service) AddStatus(sessionID, label, color string) (*clinic.CustomStatus, error) {
	var added clinic.CustomStatus
	err := s.editSettings(sessionID, func(st *clinic.ClinicSettings) error {
		next, status, err := AddStatus(*st, label, color, s.now().UnixMilli())
		if err != nil {
			return err
		}
		*st = next
		added = status
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &added, nil
}

func (s *Service) EditStatus(sessionID, statusID string, edit StatusEdit) (*clinic.CustomStatus, error) {
	var edited clinic.CustomStatus
	err := s.editSettings(sessionID, func(st *clinic.ClinicSettings) error {
		next, status, err := EditStatus(*st, statusID, edit)
		if err != nil {
			return err
		}
		*st = next
		edited = status
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &edited, nil
}

func (s *Service) DeleteStatus(sessionID, statusID string) error {
	return s.editSettings(sessionID, func(st *clinic.ClinicSettings) error {
		next, err := DeleteStatus(*st, statusID)
		if err != nil {
			return err
		}
		*st = next
		return nil
	})
}

func (s *Service) MoveStatus(sessionID, draggedID, targetID string) (bool, error) {
	moved := false
	err := s.editSettings(sessionID, func(st *clinic.ClinicSettings) error {
		next, ok := MoveStatus(*st, draggedID, targetID)
		if !ok {
			return errNoop
		}
		*st = next
		moved = true
		return nil
	})
	if errors.Is(err, errNoop) {
		return false, nil
	}
	return moved, err
}

// AddBanner appends an uploaded banner reference to the draft.
func (s *Service) AddBanner(sessionID, ref string) error {
	err := s.editSettings(sessionID, func(st *clinic.ClinicSettings) error {
		st.BannerImages = append(st.BannerImages, ref)
		return nil
	})
	if err != nil {
		return err
	}
	if ws, err := s.Session(sessionID); err == nil {
		s.toast(ws, MsgBannerUploaded, ToastSuccess)
	}
	return nil
}

// RemoveBanner drops the banner at index from the draft and returns its
// reference so the caller can release the stored image.
func (s *Service) RemoveBanner(sessionID string, index int) (string, error) {
	var ref string
	err := s.editSettings(sessionID, func(st *clinic.ClinicSettings) error {
		if index < 0 || index >= len(st.BannerImages) {
			return ErrBannerIndex
		}
		ref = st.BannerImages[index]
		st.BannerImages = append(st.BannerImages[:index], st.BannerImages[index+1:]...)
		return nil
	})
	if err != nil {
		return "", err
	}
	if ws, err := s.Session(sessionID); err == nil {
		s.toast(ws, MsgBannerRemoved, ToastSuccess)
	}
	return ref, nil
}

// Save writes the draft settings and every draft patient, removes patients
// the draft dropped, and promotes the draft to live. On failure the draft
// stays unsaved.
func (s *Service) Save(ctx context.Context, sessionID string) error {
	ws, err := s.guard(sessionID, MsgSetupSettings)
	if err != nil {
		return err
	}
	s.writes.wait()

	st := ws.State()
	if err := s.save(ctx, st); err != nil {
		s.logger.Error().Err(err).Str("session_id", sessionID).Msg("save failed")
		s.toast(ws, MsgSaveFailed, ToastError)
		return err
	}

	clean := ws.Promote(st)
	s.feed.Promote(st.DraftPatients, st.DraftSettings)
	s.toast(ws, MsgSaved, ToastSuccess)
	s.changed(ws)
	s.logger.Info().Str("session_id", sessionID).Int("patients", len(st.DraftPatients)).Bool("unsaved", !clean).Msg("draft saved")
	return nil
}

func (s *Service) save(ctx context.Context, st State) error {
	if err := s.settings.Put(ctx, st.DraftSettings); err != nil {
		return fmt.Errorf("save settings: %w", err)
	}
	kept := make(map[string]bool, len(st.DraftPatients))
	for _, p := range st.DraftPatients {
		kept[p.ID] = true
		if err := s.patients.Put(ctx, p); err != nil {
			return fmt.Errorf("save patient %s: %w", p.ID, err)
		}
	}
	for _, p := range st.LivePatients {
		if kept[p.ID] {
			continue
		}
		if err := s.patients.Delete(ctx, p.ID); err != nil {
			return fmt.Errorf("delete patient %s: %w", p.ID, err)
		}
	}
	return nil
}
