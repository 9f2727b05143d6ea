// Package registry holds the patient registry: registered patients, the
// demographic matcher that decides whether a scanned ID belongs to one of
// them, and patient search.
package registry

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrNotFound     = errors.New("patient not found")
	ErrUnknownField = errors.New("unknown field")
	ErrDuplicateID  = errors.New("patient id already exists")
	ErrEmptyQuery   = errors.New("query is required")
)

// Draft field names, in display order.
const (
	FieldFullName         = "full_name"
	FieldIDNumber         = "id_number"
	FieldBirthDate        = "birth_date"
	FieldAddress          = "address"
	FieldBloodType        = "blood_type"
	FieldEmergencyContact = "emergency_contact"
)

var DraftFields = []string{
	FieldFullName, FieldIDNumber, FieldBirthDate, FieldAddress, FieldBloodType, FieldEmergencyContact,
}

// BloodTypes are the accepted blood groups. An empty blood type is allowed.
var BloodTypes = []string{"A+", "A-", "B+", "B-", "AB+", "AB-", "O+", "O-"}

// Draft is the patient data read off an ID card and corrected by the
// operator before matching. BirthDate is an ISO date string.
type Draft struct {
	FullName         string `json:"full_name"`
	IDNumber         string `json:"id_number"`
	BirthDate        string `json:"birth_date"`
	Address          string `json:"address"`
	BloodType        string `json:"blood_type"`
	EmergencyContact string `json:"emergency_contact"`
}

// Missing lists the required fields that are empty. A draft may only be
// confirmed when Missing returns nothing.
func (d Draft) Missing() []string {
	var missing []string
	if d.FullName == "" {
		missing = append(missing, FieldFullName)
	}
	if d.IDNumber == "" {
		missing = append(missing, FieldIDNumber)
	}
	if d.BirthDate == "" {
		missing = append(missing, FieldBirthDate)
	}
	return missing
}

// Set edits one field. Values are free text and are not validated.
func (d *Draft) Set(field, value string) error {
	switch field {
	case FieldFullName:
		d.FullName = value
	case FieldIDNumber:
		d.IDNumber = value
	case FieldBirthDate:
		d.BirthDate = value
	case FieldAddress:
		d.Address = value
	case FieldBloodType:
		d.BloodType = value
	case FieldEmergencyContact:
		d.EmergencyContact = value
	default:
		return fmt.Errorf("%w: %s", ErrUnknownField, field)
	}
	return nil
}

// Patient is a registered patient.
type Patient struct {
	ID               string    `json:"id" yaml:"id"`
	FullName         string    `json:"full_name" yaml:"full_name"`
	IDNumber         string    `json:"id_number" yaml:"id_number"`
	BirthDate        string    `json:"birth_date" yaml:"birth_date"`
	Gender           string    `json:"gender" yaml:"gender"`
	Address          string    `json:"address" yaml:"address"`
	Phone            string    `json:"phone,omitempty" yaml:"phone"`
	Email            string    `json:"email,omitempty" yaml:"email"`
	BloodType        string    `json:"blood_type" yaml:"blood_type"`
	EmergencyContact string    `json:"emergency_contact" yaml:"emergency_contact"`
	RegistrationDate string    `json:"registration_date" yaml:"registration_date"`
	LastVisit        string    `json:"last_visit,omitempty" yaml:"last_visit"`
	TotalVisits      int       `json:"total_visits" yaml:"total_visits"`
	Conditions       []string  `json:"conditions" yaml:"conditions"`
	Allergies        []string  `json:"allergies" yaml:"allergies"`
	Insurance        string    `json:"insurance,omitempty" yaml:"insurance"`
	Status           string    `json:"status" yaml:"status"`
	CreatedAt        time.Time `json:"created_at" yaml:"-"`
}

// StatusActive is the status of every newly registered patient.
const StatusActive = "Active Patient"

// Summary is the read-only view of an existing patient shown after a match.
type Summary struct {
	ID               string   `json:"id"`
	RegistrationDate string   `json:"registration_date"`
	LastVisit        string   `json:"last_visit"`
	TotalVisits      int      `json:"total_visits"`
	Conditions       []string `json:"conditions"`
	Allergies        []string `json:"allergies"`
	BloodType        string   `json:"blood_type"`
	EmergencyContact string   `json:"emergency_contact"`
	Insurance        string   `json:"insurance"`
	Status           string   `json:"status"`
}

func (p *Patient) Summary() Summary {
	return Summary{
		ID:               p.ID,
		RegistrationDate: p.RegistrationDate,
		LastVisit:        p.LastVisit,
		TotalVisits:      p.TotalVisits,
		Conditions:       append([]string(nil), p.Conditions...),
		Allergies:        append([]string(nil), p.Allergies...),
		BloodType:        p.BloodType,
		EmergencyContact: p.EmergencyContact,
		Insurance:        p.Insurance,
		Status:           p.Status,
	}
}

// Grade buckets a match score.
type Grade string

const (
	GradeCertain      Grade = "certain"
	GradeProbable     Grade = "probable"
	GradePossible     Grade = "possible"
	GradeCertainlyNot Grade = "certainly-not"
)

// Outcome is the result of looking a draft up in the registry. Patient is
// set only when Matched.
type Outcome struct {
	Matched bool     `json:"matched"`
	Patient *Summary `json:"patient,omitempty"`
	Score   float64  `json:"score"`
	Grade   Grade    `json:"grade"`
}
