package registration

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	jsonpatch "github.com/evanphx/json-patch"

	"github.com/mediscan/mediscan/internal/domain/registry"
)

// Wizard is the state of one registration. It is a plain value so it can
// be stored on the intake session.
type Wizard struct {
	Step Step `json:"step"`
	Form Form `json:"form"`
	// Seeded is true when the form was prefilled from a scanned ID.
	Seeded  bool              `json:"seeded"`
	Patient *registry.Patient `json:"patient,omitempty"`
}

// New starts a blank wizard.
func New() *Wizard {
	return &Wizard{Step: StepBasic}
}

// FromDraft starts a wizard prefilled with what was read off the ID card.
func FromDraft(d registry.Draft) *Wizard {
	name, phone := splitContact(d.EmergencyContact)
	return &Wizard{
		Step:   StepBasic,
		Seeded: true,
		Form: Form{
			FullName:              d.FullName,
			IDNumber:              d.IDNumber,
			BirthDate:             d.BirthDate,
			BloodType:             d.BloodType,
			Address:               d.Address,
			EmergencyContactName:  name,
			EmergencyContactPhone: phone,
		},
	}
}

// splitContact splits "Juan Dela Cruz (09171234567)" into its name and
// phone. Text without a trailing parenthesised part is all name.
func splitContact(s string) (name, phone string) {
	s = strings.TrimSpace(s)
	open := strings.LastIndex(s, "(")
	if open < 0 || !strings.HasSuffix(s, ")") {
		return s, ""
	}
	return strings.TrimSpace(s[:open]), strings.TrimSpace(s[open+1 : len(s)-1])
}

// Update applies a JSON merge patch to the form. Unknown fields are
// rejected and leave the form unchanged.
func (w *Wizard) Update(patch []byte) error {
	if w.Step == StepSubmitted {
		return ErrInvalidStep
	}
	current, err := json.Marshal(w.Form)
	if err != nil {
		return fmt.Errorf("encode form: %w", err)
	}
	merged, err := jsonpatch.MergePatch(current, patch)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidForm, err)
	}

	var form Form
	dec := json.NewDecoder(bytes.NewReader(merged))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&form); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidForm, err)
	}
	w.Form = form
	return nil
}

func (w *Wizard) CanNext() bool {
	switch w.Step {
	case StepBasic, StepContact, StepMedical:
		return len(w.Form.Missing(w.Step)) == 0
	}
	return false
}

func (w *Wizard) CanSubmit() bool {
	return w.Step == StepInsuranceConsent && w.Form.ConsentTreatment
}

// Next advances one step when the current step is complete. The last form
// step is left with Submit, not Next.
func (w *Wizard) Next() error {
	switch w.Step {
	case StepBasic, StepContact, StepMedical:
	default:
		return ErrInvalidStep
	}
	if missing := w.Form.Missing(w.Step); len(missing) > 0 {
		return &MissingFieldsError{Step: w.Step, Fields: missing}
	}
	w.Step = Steps[w.Step.Number()]
	return nil
}

// Previous goes back one step, keeping everything entered.
func (w *Wizard) Previous() error {
	n := w.Step.Number()
	if n <= 1 {
		return ErrInvalidStep
	}
	w.Step = Steps[n-2]
	return nil
}

// Submit finalizes the form into a patient with the given identifier,
// registered on today's date.
func (w *Wizard) Submit(id string, today time.Time) (*registry.Patient, error) {
	if w.Step != StepInsuranceConsent {
		return nil, ErrInvalidStep
	}
	if missing := w.Form.Missing(StepInsuranceConsent); len(missing) > 0 {
		return nil, &MissingFieldsError{Step: w.Step, Fields: missing}
	}

	f := w.Form
	p := &registry.Patient{
		ID:               id,
		FullName:         f.FullName,
		IDNumber:         f.IDNumber,
		BirthDate:        f.BirthDate,
		Gender:           f.Gender,
		Address:          f.Address,
		Phone:            f.Phone,
		Email:            f.Email,
		BloodType:        f.BloodType,
		EmergencyContact: formatContact(f),
		RegistrationDate: today.Format("2006-01-02"),
		Conditions:       splitList(f.ChronicConditions),
		Allergies:        splitList(f.Allergies),
		Insurance:        strings.TrimSpace(strings.Join([]string{f.InsuranceProvider, f.InsuranceNumber}, " ")),
		Status:           registry.StatusActive,
	}
	w.Step = StepSubmitted
	w.Patient = p
	return p, nil
}

// formatContact renders "Juan Dela Cruz (Spouse) - 09171234567".
func formatContact(f Form) string {
	s := f.EmergencyContactName
	if f.EmergencyContactRelation != "" {
		s += " (" + f.EmergencyContactRelation + ")"
	}
	if f.EmergencyContactPhone != "" {
		s += " - " + f.EmergencyContactPhone
	}
	return strings.TrimSpace(s)
}

func splitList(s string) []string {
	out := []string{}
	for _, part := range strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == '\n' || r == ';' }) {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// IDGenerator issues patient identifiers of the form PT-<year>-<6 digits>.
type IDGenerator struct {
	mu  sync.Mutex
	rnd *rand.Rand
	now func() time.Time
}

func NewIDGenerator(rnd *rand.Rand, now func() time.Time) *IDGenerator {
	return &IDGenerator{rnd: rnd, now: now}
}

func (g *IDGenerator) Next() string {
	g.mu.Lock()
	n := g.rnd.Intn(1000000)
	g.mu.Unlock()
	return fmt.Sprintf("PT-%d-%06d", g.now().Year(), n)
}

// Now is the generator's clock, used for the registration date.
func (g *IDGenerator) Now() time.Time {
	return g.now()
}
