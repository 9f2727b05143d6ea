// Package records renders the tabbed patient records view and holds the
// medical information editor used right after intake.
package records

import (
	_ "embed"
	"errors"
	"fmt"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/mediscan/mediscan/internal/domain/registry"
)

var ErrUnknownTab = errors.New("unknown tab")

type Tab string

const (
	TabOverview    Tab = "overview"
	TabVisits      Tab = "visits"
	TabMedications Tab = "medications"
	TabVitals      Tab = "vitals"
	TabLabs        Tab = "labs"
)

var Tabs = []Tab{TabOverview, TabVisits, TabMedications, TabVitals, TabLabs}

// ParseTab accepts a tab name; an empty name selects the overview.
func ParseTab(s string) (Tab, error) {
	if s == "" {
		return TabOverview, nil
	}
	for _, t := range Tabs {
		if string(t) == s {
			return t, nil
		}
	}
	return "", fmt.Errorf("%w: %s", ErrUnknownTab, s)
}

type Visit struct {
	ID            int      `json:"id" yaml:"id"`
	Date          string   `json:"date" yaml:"date"`
	Type          string   `json:"type" yaml:"type"`
	Doctor        string   `json:"doctor" yaml:"doctor"`
	Diagnosis     string   `json:"diagnosis" yaml:"diagnosis"`
	Notes         string   `json:"notes" yaml:"notes"`
	Prescriptions []string `json:"prescriptions" yaml:"prescriptions"`
}

type Medication struct {
	Name      string `json:"name" yaml:"name"`
	Dosage    string `json:"dosage" yaml:"dosage"`
	Frequency string `json:"frequency" yaml:"frequency"`
	StartDate string `json:"start_date" yaml:"start_date"`
}

type VitalSigns struct {
	LastUpdated   string `json:"last_updated" yaml:"last_updated"`
	BloodPressure string `json:"blood_pressure" yaml:"blood_pressure"`
	HeartRate     string `json:"heart_rate" yaml:"heart_rate"`
	Temperature   string `json:"temperature" yaml:"temperature"`
	Weight        string `json:"weight" yaml:"weight"`
	Height        string `json:"height" yaml:"height"`
	BMI           string `json:"bmi" yaml:"bmi"`
}

// LabResult status is one of normal, elevated or critical.
type LabResult struct {
	Test   string `json:"test" yaml:"test"`
	Value  string `json:"value" yaml:"value"`
	Date   string `json:"date" yaml:"date"`
	Status string `json:"status" yaml:"status"`
}

// History is the reference medical history behind every tab.
type History struct {
	Visits             []Visit      `json:"visits" yaml:"visits"`
	CurrentMedications []Medication `json:"current_medications" yaml:"current_medications"`
	Allergies          []string     `json:"allergies" yaml:"allergies"`
	VitalSigns         VitalSigns   `json:"vital_signs" yaml:"vital_signs"`
	LabResults         []LabResult  `json:"lab_results" yaml:"lab_results"`
}

//go:embed bundle.yaml
var bundleYAML []byte

var (
	referenceOnce sync.Once
	reference     *History
	referenceErr  error
)

// ReferenceHistory returns the embedded medical history. Callers must not
// modify the result.
func ReferenceHistory() (*History, error) {
	referenceOnce.Do(func() {
		var h History
		if err := yaml.Unmarshal(bundleYAML, &h); err != nil {
			referenceErr = fmt.Errorf("parse reference bundle: %w", err)
			return
		}
		reference = &h
	})
	return reference, referenceErr
}

// Overview is the content of the overview tab.
type Overview struct {
	Phone      string     `json:"phone"`
	Address    string     `json:"address"`
	Allergies  []string   `json:"allergies"`
	Conditions []string   `json:"conditions"`
	VitalSigns VitalSigns `json:"vital_signs"`
}

// View is one rendered tab of the records page.
type View struct {
	Patient            *registry.Patient `json:"patient"`
	Tab                Tab               `json:"tab"`
	Tabs               []Tab             `json:"tabs"`
	Content            interface{}       `json:"content"`
	MedicalInformation *Bundle           `json:"medical_information,omitempty"`
}

// Render builds the view of tab for patient. medical is the bundle saved
// during the same intake, if any.
func Render(patient *registry.Patient, tab Tab, medical *Bundle) (*View, error) {
	h, err := ReferenceHistory()
	if err != nil {
		return nil, err
	}

	v := &View{Patient: patient, Tab: tab, Tabs: Tabs, MedicalInformation: medical}
	switch tab {
	case TabOverview:
		v.Content = Overview{
			Phone:      patient.Phone,
			Address:    patient.Address,
			Allergies:  h.Allergies,
			Conditions: patient.Conditions,
			VitalSigns: h.VitalSigns,
		}
	case TabVisits:
		v.Content = h.Visits
	case TabMedications:
		v.Content = h.CurrentMedications
	case TabVitals:
		v.Content = h.VitalSigns
	case TabLabs:
		v.Content = h.LabResults
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownTab, tab)
	}
	return v, nil
}
