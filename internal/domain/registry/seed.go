package registry

import (
	"context"
	_ "embed"
	"errors"
	"fmt"

	"gopkg.in/yaml.v3"
)

//go:embed seed.yaml
var seedYAML []byte

// DemoPatientID is the registry patient the sample ID card belongs to.
const DemoPatientID = "PT-2024-001234"

type seedFile struct {
	Patients []*Patient `yaml:"patients"`
}

// SeedPatients returns the demo registry.
func SeedPatients() ([]*Patient, error) {
	var f seedFile
	if err := yaml.Unmarshal(seedYAML, &f); err != nil {
		return nil, fmt.Errorf("parse seed patients: %w", err)
	}
	return f.Patients, nil
}

// DemoPatient returns the seeded patient the sample ID card belongs to.
func DemoPatient() (*Patient, error) {
	patients, err := SeedPatients()
	if err != nil {
		return nil, err
	}
	for _, p := range patients {
		if p.ID == DemoPatientID {
			return p, nil
		}
	}
	return nil, fmt.Errorf("seed has no patient %s", DemoPatientID)
}

// Seed creates the demo patients that are not yet registered and returns how
// many were added. Running it twice adds nothing.
func Seed(ctx context.Context, repo Repository) (int, error) {
	patients, err := SeedPatients()
	if err != nil {
		return 0, err
	}

	added := 0
	for _, p := range patients {
		_, err := repo.Get(ctx, p.ID)
		if err == nil {
			continue
		}
		if !errors.Is(err, ErrNotFound) {
			return added, err
		}
		if err := repo.Create(ctx, p); err != nil {
			return added, fmt.Errorf("seed patient %s: %w", p.ID, err)
		}
		added++
	}
	return added, nil
}
