package clinic

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/clinicq/clinicq/internal/platform/realtime"
)

// PatientsPath is where the patients collection lives under root.
func PatientsPath(root string) string { return realtime.Join(root, "patients") }

// SettingsPath is where the settings document lives under root.
func SettingsPath(root string) string { return realtime.Join(root, "settings") }

type realtimePatientRepo struct {
	client *realtime.Client
	root   string
	logger zerolog.Logger
}

// NewPatientRepo returns a PatientRepository backed by the realtime client,
// namespaced under root.
func NewPatientRepo(client *realtime.Client, root string, logger zerolog.Logger) PatientRepository {
	return &realtimePatientRepo{client: client, root: root, logger: logger}
}

func (r *realtimePatientRepo) path(id string) string {
	return realtime.Join(PatientsPath(r.root), id)
}

func (r *realtimePatientRepo) List(ctx context.Context) ([]Patient, error) {
	raw, ok, err := r.client.Get(ctx, PatientsPath(r.root))
	if err != nil {
		return nil, err
	}
	if !ok {
		return []Patient{}, nil
	}
	return DecodePatients(raw)
}

func (r *realtimePatientRepo) Get(ctx context.Context, id string) (*Patient, error) {
	var p Patient
	ok, err := r.client.GetJSON(ctx, r.path(id), &p)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrPatientNotFound, id)
	}
	if p.ID == "" {
		p.ID = id
	}
	p = p.WithDefaultOrder()
	return &p, nil
}

func (r *realtimePatientRepo) Put(ctx context.Context, p Patient) error {
	if p.ID == "" {
		return fmt.Errorf("put patient: empty id")
	}
	return r.client.SetJSON(ctx, r.path(p.ID), p.WithDefaultOrder())
}

func (r *realtimePatientRepo) Update(ctx context.Context, id string, patch PatientPatch) (*Patient, error) {
	current, err := r.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	updated := patch.Apply(*current)
	if err := r.client.SetJSON(ctx, r.path(id), updated); err != nil {
		return nil, err
	}
	return &updated, nil
}

func (r *realtimePatientRepo) Delete(ctx context.Context, id string) error {
	return r.client.Delete(ctx, r.path(id))
}

func (r *realtimePatientRepo) ReplaceAll(ctx context.Context, patients []Patient) error {
	m := make(map[string]Patient, len(patients))
	for _, p := range patients {
		m[p.ID] = p.WithDefaultOrder()
	}
	if len(m) == 0 {
		return r.client.Delete(ctx, PatientsPath(r.root))
	}
	return r.client.SetJSON(ctx, PatientsPath(r.root), m)
}

func (r *realtimePatientRepo) Subscribe(ctx context.Context, fn func([]Patient)) (func(), error) {
	return r.client.Subscribe(ctx, PatientsPath(r.root), func(s realtime.Snapshot) {
		if !s.Exists {
			fn([]Patient{})
			return
		}
		patients, err := DecodePatients(s.Value)
		if err != nil {
			r.logger.Error().Err(err).Msg("discarding undecodable patients snapshot")
			return
		}
		fn(patients)
	})
}

type realtimeSettingsRepo struct {
	client *realtime.Client
	root   string
	logger zerolog.Logger
}

// NewSettingsRepo returns a SettingsRepository backed by the realtime
// client, namespaced under root.
func NewSettingsRepo(client *realtime.Client, root string, logger zerolog.Logger) SettingsRepository {
	return &realtimeSettingsRepo{client: client, root: root, logger: logger}
}

func (r *realtimeSettingsRepo) Get(ctx context.Context) (*ClinicSettings, error) {
	raw, ok, err := r.client.Get(ctx, SettingsPath(r.root))
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrSettingsNotFound
	}
	s, err := DecodeSettings(raw)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *realtimeSettingsRepo) Put(ctx context.Context, s ClinicSettings) error {
	data, err := EncodeSettings(s)
	if err != nil {
		return err
	}
	return r.client.Set(ctx, SettingsPath(r.root), data)
}

func (r *realtimeSettingsRepo) Subscribe(ctx context.Context, fn func(ClinicSettings)) (func(), error) {
	return r.client.Subscribe(ctx, SettingsPath(r.root), func(s realtime.Snapshot) {
		if !s.Exists {
			return
		}
		settings, err := DecodeSettings(json.RawMessage(s.Value))
		if err != nil {
			r.logger.Error().Err(err).Msg("discarding undecodable settings snapshot")
			return
		}
		fn(settings)
	})
}
