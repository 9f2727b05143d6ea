// Package registration implements the four-step new-patient wizard that
// turns an unmatched scan (or a blank form) into a registered patient.
package registration

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrInvalidStep     = errors.New("action not allowed at this step")
	ErrStepIncomplete  = errors.New("required fields are missing")
	ErrConsentRequired = errors.New("consent to treatment is required")
	ErrInvalidForm     = errors.New("invalid form update")
)

type Step string

const (
	StepBasic            Step = "basic"
	StepContact          Step = "contact"
	StepMedical          Step = "medical"
	StepInsuranceConsent Step = "insurance_consent"
	StepSubmitted        Step = "submitted"
)

// Steps lists the form steps in order. StepSubmitted is terminal and not
// part of the form.
var Steps = []Step{StepBasic, StepContact, StepMedical, StepInsuranceConsent}

var stepTitles = map[Step]string{
	StepBasic:            "Basic Information",
	StepContact:          "Contact Details",
	StepMedical:          "Medical History",
	StepInsuranceConsent: "Insurance & Consent",
}

func (s Step) Title() string { return stepTitles[s] }

// Number is the 1-based position of the step, or 0 for StepSubmitted.
func (s Step) Number() int {
	for i, st := range Steps {
		if st == s {
			return i + 1
		}
	}
	return 0
}

// Genders accepted on the basic step.
var Genders = []string{"male", "female", "other"}

// Form holds every field of the wizard. Fields may be edited at any step.
type Form struct {
	FullName  string `json:"full_name"`
	IDNumber  string `json:"id_number"`
	BirthDate string `json:"birth_date"`
	Gender    string `json:"gender"`
	BloodType string `json:"blood_type"`

	Address                  string `json:"address"`
	Phone                    string `json:"phone"`
	Email                    string `json:"email"`
	EmergencyContactName     string `json:"emergency_contact_name"`
	EmergencyContactPhone    string `json:"emergency_contact_phone"`
	EmergencyContactRelation string `json:"emergency_contact_relation"`

	Allergies          string `json:"allergies"`
	CurrentMedications string `json:"current_medications"`
	ChronicConditions  string `json:"chronic_conditions"`
	PreviousSurgeries  string `json:"previous_surgeries"`

	InsuranceProvider  string `json:"insurance_provider"`
	InsuranceNumber    string `json:"insurance_number"`
	ConsentTreatment   bool   `json:"consent_treatment"`
	ConsentDataSharing bool   `json:"consent_data_sharing"`
	ConsentMarketing   bool   `json:"consent_marketing"`
}

// Missing returns the fields that must be filled before leaving step.
func (f Form) Missing(step Step) []string {
	var required map[string]string
	switch step {
	case StepBasic:
		required = map[string]string{
			"full_name":  f.FullName,
			"id_number":  f.IDNumber,
			"birth_date": f.BirthDate,
			"gender":     f.Gender,
		}
	case StepContact:
		required = map[string]string{
			"address":                    f.Address,
			"phone":                      f.Phone,
			"emergency_contact_name":     f.EmergencyContactName,
			"emergency_contact_phone":    f.EmergencyContactPhone,
			"emergency_contact_relation": f.EmergencyContactRelation,
		}
	case StepInsuranceConsent:
		if !f.ConsentTreatment {
			return []string{"consent_treatment"}
		}
		return nil
	default:
		return nil
	}

	var missing []string
	for _, name := range requiredOrder[step] {
		if required[name] == "" {
			missing = append(missing, name)
		}
	}
	return missing
}

var requiredOrder = map[Step][]string{
	StepBasic:   {"full_name", "id_number", "birth_date", "gender"},
	StepContact: {"address", "phone", "emergency_contact_name", "emergency_contact_phone", "emergency_contact_relation"},
}

// MissingFieldsError reports which fields block leaving a step.
type MissingFieldsError struct {
	Step   Step
	Fields []string
}

func (e *MissingFieldsError) Error() string {
	return fmt.Sprintf("step %s: missing %s", e.Step, strings.Join(e.Fields, ", "))
}

func (e *MissingFieldsError) Unwrap() error {
	if e.Step == StepInsuranceConsent {
		return ErrConsentRequired
	}
	return ErrStepIncomplete
}
