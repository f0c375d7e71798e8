package clinic

import (
	"context"
	"errors"
)

var (
	ErrPatientNotFound  = errors.New("patient not found")
	ErrSettingsNotFound = errors.New("settings not found")
)

// PatientRepository reads and writes the patients collection.
type PatientRepository interface {
	List(ctx context.Context) ([]Patient, error)
	Get(ctx context.Context, id string) (*Patient, error)
	// Put overwrites the patient, defaulting order to registeredAt.
	Put(ctx context.Context, p Patient) error
	// Update merges patch into the stored patient.
	Update(ctx context.Context, id string, patch PatientPatch) (*Patient, error)
	Delete(ctx context.Context, id string) error
	// ReplaceAll overwrites the whole collection.
	ReplaceAll(ctx context.Context, patients []Patient) error
	// Subscribe calls fn with the full collection now and after every change.
	Subscribe(ctx context.Context, fn func([]Patient)) (func(), error)
}

// SettingsRepository reads and writes the settings document.
type SettingsRepository interface {
	Get(ctx context.Context) (*ClinicSettings, error)
	Put(ctx context.Context, s ClinicSettings) error
	// Subscribe calls fn whenever the document exists; an absent document
	// produces no call.
	Subscribe(ctx context.Context, fn func(ClinicSettings)) (func(), error)
}
