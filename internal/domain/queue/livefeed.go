package queue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/clinicq/clinicq/internal/domain/clinic"
)

// Listener receives every new live state.
type Listener func(patients []clinic.Patient, settings clinic.ClinicSettings)

// LiveFeed keeps the live copy of patients and settings current through
// the store subscriptions. Until the settings document exists the defaults
// are served.
type LiveFeed struct {
	patients clinic.PatientRepository
	settings clinic.SettingsRepository
	logger   zerolog.Logger
	now      func() time.Time

	mu           sync.RWMutex
	demo         bool
	demoApplied  bool
	livePatients []clinic.Patient
	liveSettings clinic.ClinicSettings
	cancels      []func()
	listeners    map[int]Listener
	nextID       int
}

func NewLiveFeed(patients clinic.PatientRepository, settings clinic.SettingsRepository, logger zerolog.Logger) *LiveFeed {
	return &LiveFeed{
		patients:     patients,
		settings:     settings,
		logger:       logger.With().Str("component", "livefeed").Logger(),
		now:          time.Now,
		livePatients: []clinic.Patient{},
		liveSettings: clinic.DefaultSettings(),
		listeners:    make(map[int]Listener),
	}
}

// SetDemoMode makes the first empty patients snapshot show sample patients.
func (f *LiveFeed) SetDemoMode(on bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.demo = on
}

// Start opens both subscriptions, replacing any that are open.
func (f *LiveFeed) Start(ctx context.Context) error {
	f.Stop()

	cancelPatients, err := f.patients.Subscribe(ctx, f.onPatients)
	if err != nil {
		return fmt.Errorf("subscribe patients: %w", err)
	}
	cancelSettings, err := f.settings.Subscribe(ctx, f.onSettings)
	if err != nil {
		cancelPatients()
		return fmt.Errorf("subscribe settings: %w", err)
	}

	f.mu.Lock()
	f.cancels = []func(){cancelPatients, cancelSettings}
	f.mu.Unlock()
	f.logger.Info().Msg("live feed started")
	return nil
}

// Stop closes the subscriptions. The last live state is kept.
func (f *LiveFeed) Stop() {
	f.mu.Lock()
	cancels := f.cancels
	f.cancels = nil
	f.mu.Unlock()
	for _, cancel := range cancels {
		cancel()
	}
}

func (f *LiveFeed) onPatients(patients []clinic.Patient) {
	f.mu.Lock()
	if f.demo && !f.demoApplied && len(patients) == 0 {
		patients = clinic.SamplePatients(f.now().UnixMilli())
		f.logger.Info().Int("patients", len(patients)).Msg("store is empty, showing sample patients")
	}
	f.demoApplied = true
	f.livePatients = clinic.ClonePatients(patients)
	f.mu.Unlock()
	f.broadcast()
}

func (f *LiveFeed) onSettings(settings clinic.ClinicSettings) {
	f.mu.Lock()
	f.liveSettings = settings.Clone()
	f.mu.Unlock()
	f.broadcast()
}

// Promote replaces the live state with a locally saved copy ahead of the
// store echo.
func (f *LiveFeed) Promote(patients []clinic.Patient, settings clinic.ClinicSettings) {
	f.mu.Lock()
	f.livePatients = clinic.ClonePatients(patients)
	f.liveSettings = settings.Clone()
	f.mu.Unlock()
	f.broadcast()
}

// Snapshot returns a copy of the live state.
func (f *LiveFeed) Snapshot() ([]clinic.Patient, clinic.ClinicSettings) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return clinic.ClonePatients(f.livePatients), f.liveSettings.Clone()
}

// Listen registers fn for every live update.
func (f *LiveFeed) Listen(fn Listener) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	id := f.nextID
	f.listeners[id] = fn
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		delete(f.listeners, id)
	}
}

func (f *LiveFeed) broadcast() {
	f.mu.RLock()
	patients := clinic.ClonePatients(f.livePatients)
	settings := f.liveSettings.Clone()
	fns := make([]Listener, 0, len(f.listeners))
	for _, fn := range f.listeners {
		fns = append(fns, fn)
	}
	f.mu.RUnlock()

	for _, fn := range fns {
		fn(patients, settings)
	}
}
