package clinic

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Fixture is initial data for an empty store, typically exported from an
// earlier installation.
type Fixture struct {
	Settings *ClinicSettings `yaml:"settings"`
	Patients []Patient       `yaml:"patients"`
}

// DemoFixture is the built-in data set: default settings plus the sample
// queue.
func DemoFixture(now int64) Fixture {
	s := DefaultSettings()
	return Fixture{Settings: &s, Patients: SamplePatients(now)}
}

// ParseFixture decodes a YAML fixture.
func ParseFixture(data []byte) (Fixture, error) {
	var fx Fixture
	if err := yaml.Unmarshal(data, &fx); err != nil {
		return Fixture{}, fmt.Errorf("parse fixture: %w", err)
	}
	for i, p := range fx.Patients {
		if p.Name == "" {
			return Fixture{}, fmt.Errorf("fixture patient %d: name is required", i)
		}
		if !p.RoomID.Valid() {
			return Fixture{}, fmt.Errorf("fixture patient %d: invalid room %q", i, p.RoomID)
		}
	}
	return fx, nil
}

// LoadFixture reads and decodes a YAML fixture file.
func LoadFixture(path string) (Fixture, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Fixture{}, fmt.Errorf("read fixture: %w", err)
	}
	return ParseFixture(data)
}

// SeedResult reports which collections Seed wrote.
type SeedResult struct {
	Patients int  `json:"patients"`
	Settings bool `json:"settings"`
}

// Seed writes fx into the store, leaving any collection that already holds
// data untouched. Seeded patients get order = registeredAt + index so the
// fixture order survives equal registration times.
func Seed(ctx context.Context, patients PatientRepository, settings SettingsRepository, fx Fixture) (SeedResult, error) {
	var res SeedResult

	existing, err := patients.List(ctx)
	if err != nil {
		return res, fmt.Errorf("list patients: %w", err)
	}
	if len(existing) == 0 && len(fx.Patients) > 0 {
		seeded := make([]Patient, len(fx.Patients))
		for i, p := range fx.Patients {
			p = p.Clone()
			p.Name = Normalize(p.Name)
			if p.ID == "" {
				p.ID = strconv.FormatInt(p.RegisteredAt+int64(i), 10)
			}
			order := p.RegisteredAt + int64(i)
			p.Order = &order
			seeded[i] = p
		}
		if err := patients.ReplaceAll(ctx, seeded); err != nil {
			return res, fmt.Errorf("write patients: %w", err)
		}
		res.Patients = len(seeded)
	}

	if fx.Settings != nil {
		_, err := settings.Get(ctx)
		switch {
		case errors.Is(err, ErrSettingsNotFound):
			if err := settings.Put(ctx, *fx.Settings); err != nil {
				return res, fmt.Errorf("write settings: %w", err)
			}
			res.Settings = true
		case err != nil:
			return res, fmt.Errorf("read settings: %w", err)
		}
	}

	return res, nil
}

// NextPatientID derives an id from the registration time, stepping forward
// a millisecond while the candidate is taken.
func NextPatientID(now int64, taken func(id string) bool) string {
	for {
		id := strconv.FormatInt(now, 10)
		if taken == nil || !taken(id) {
			return id
		}
		now++
	}
}
