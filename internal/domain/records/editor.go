package records

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrUnknownSection  = errors.New("unknown section")
	ErrEntryNotFound   = errors.New("entry not found")
	ErrEntryIncomplete = errors.New("entry is missing required fields")
	ErrInvalidStatus   = errors.New("status must be Active, Resolved or Chronic")
	ErrInvalidEntry    = errors.New("invalid entry")
)

type Section string

const (
	SectionHistory      Section = "history"
	SectionVaccinations Section = "vaccinations"
	SectionMedications  Section = "medications"
	SectionVisits       Section = "visits"
	SectionLabs         Section = "labs"
)

var Sections = []Section{SectionHistory, SectionVaccinations, SectionMedications, SectionVisits, SectionLabs}

// Condition statuses for history entries.
const (
	StatusActive   = "Active"
	StatusResolved = "Resolved"
	StatusChronic  = "Chronic"
)

type HistoryEntry struct {
	ID        int64  `json:"id"`
	Condition string `json:"condition"`
	Date      string `json:"date"`
	Status    string `json:"status"`
}

type Vaccination struct {
	ID      int64  `json:"id"`
	Vaccine string `json:"vaccine"`
	Date    string `json:"date"`
	Dose    string `json:"dose"`
	NextDue string `json:"next_due"`
}

type MedicationEntry struct {
	ID           int64  `json:"id"`
	Name         string `json:"name"`
	Dosage       string `json:"dosage"`
	Frequency    string `json:"frequency"`
	PrescribedBy string `json:"prescribed_by"`
}

type VisitEntry struct {
	ID      int64  `json:"id"`
	Date    string `json:"date"`
	Doctor  string `json:"doctor"`
	Purpose string `json:"purpose"`
	Notes   string `json:"notes"`
}

type LabEntry struct {
	ID        int64  `json:"id"`
	Test      string `json:"test"`
	Date      string `json:"date"`
	Result    string `json:"result"`
	Reference string `json:"reference"`
}

// Bundle is the medical information captured for one patient during
// intake. Entry ids are Unix milliseconds, strictly increasing.
type Bundle struct {
	History      []HistoryEntry    `json:"history"`
	Vaccinations []Vaccination     `json:"vaccinations"`
	Medications  []MedicationEntry `json:"medications"`
	Visits       []VisitEntry      `json:"visits"`
	Labs         []LabEntry        `json:"labs"`
	Remarks      string            `json:"remarks"`
	LastID       int64             `json:"last_id"`
	SavedAt      *time.Time        `json:"saved_at,omitempty"`
}

// NewBundle returns an empty bundle with every list non-nil.
func NewBundle() *Bundle {
	return &Bundle{
		History:      []HistoryEntry{},
		Vaccinations: []Vaccination{},
		Medications:  []MedicationEntry{},
		Visits:       []VisitEntry{},
		Labs:         []LabEntry{},
	}
}

// IncompleteEntryError names the fields an entry still needs.
type IncompleteEntryError struct {
	Section Section
	Fields  []string
}

func (e *IncompleteEntryError) Error() string {
	return fmt.Sprintf("%s entry: missing %s", e.Section, strings.Join(e.Fields, ", "))
}

func (e *IncompleteEntryError) Unwrap() error { return ErrEntryIncomplete }

func ParseSection(s string) (Section, error) {
	for _, sec := range Sections {
		if string(sec) == s {
			return sec, nil
		}
	}
	return "", fmt.Errorf("%w: %s", ErrUnknownSection, s)
}

func (b *Bundle) nextID(now time.Time) int64 {
	id := now.UnixMilli()
	if id <= b.LastID {
		id = b.LastID + 1
	}
	b.LastID = id
	return id
}

func decodeEntry(raw []byte, v interface{}) error {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidEntry, err)
	}
	return nil
}

func blank(fields map[string]string, order ...string) []string {
	var missing []string
	for _, name := range order {
		if fields[name] == "" {
			missing = append(missing, name)
		}
	}
	return missing
}

// AddEntry decodes raw as an entry of section and appends it when its
// required fields are present. Nothing is appended on error.
func (b *Bundle) AddEntry(section Section, raw []byte, now time.Time) (int64, error) {
	switch section {
	case SectionHistory:
		var e HistoryEntry
		if err := decodeEntry(raw, &e); err != nil {
			return 0, err
		}
		if m := blank(map[string]string{"condition": e.Condition}, "condition"); m != nil {
			return 0, &IncompleteEntryError{Section: section, Fields: m}
		}
		switch e.Status {
		case "":
			e.Status = StatusActive
		case StatusActive, StatusResolved, StatusChronic:
		default:
			return 0, ErrInvalidStatus
		}
		e.ID = b.nextID(now)
		b.History = append(b.History, e)
		return e.ID, nil

	case SectionVaccinations:
		var e Vaccination
		if err := decodeEntry(raw, &e); err != nil {
			return 0, err
		}
		if m := blank(map[string]string{"vaccine": e.Vaccine}, "vaccine"); m != nil {
			return 0, &IncompleteEntryError{Section: section, Fields: m}
		}
		e.ID = b.nextID(now)
		b.Vaccinations = append(b.Vaccinations, e)
		return e.ID, nil

	case SectionMedications:
		var e MedicationEntry
		if err := decodeEntry(raw, &e); err != nil {
			return 0, err
		}
		if m := blank(map[string]string{"name": e.Name}, "name"); m != nil {
			return 0, &IncompleteEntryError{Section: section, Fields: m}
		}
		e.ID = b.nextID(now)
		b.Medications = append(b.Medications, e)
		return e.ID, nil

	case SectionVisits:
		var e VisitEntry
		if err := decodeEntry(raw, &e); err != nil {
			return 0, err
		}
		if m := blank(map[string]string{"date": e.Date, "doctor": e.Doctor}, "date", "doctor"); m != nil {
			return 0, &IncompleteEntryError{Section: section, Fields: m}
		}
		e.ID = b.nextID(now)
		b.Visits = append(b.Visits, e)
		return e.ID, nil

	case SectionLabs:
		var e LabEntry
		if err := decodeEntry(raw, &e); err != nil {
			return 0, err
		}
		if m := blank(map[string]string{"test": e.Test, "result": e.Result}, "test", "result"); m != nil {
			return 0, &IncompleteEntryError{Section: section, Fields: m}
		}
		e.ID = b.nextID(now)
		b.Labs = append(b.Labs, e)
		return e.ID, nil
	}
	return 0, fmt.Errorf("%w: %s", ErrUnknownSection, section)
}

// RemoveEntry deletes the entry with id from section.
func (b *Bundle) RemoveEntry(section Section, id int64) error {
	var removed bool
	switch section {
	case SectionHistory:
		b.History, removed = removeByID(b.History, id, func(e HistoryEntry) int64 { return e.ID })
	case SectionVaccinations:
		b.Vaccinations, removed = removeByID(b.Vaccinations, id, func(e Vaccination) int64 { return e.ID })
	case SectionMedications:
		b.Medications, removed = removeByID(b.Medications, id, func(e MedicationEntry) int64 { return e.ID })
	case SectionVisits:
		b.Visits, removed = removeByID(b.Visits, id, func(e VisitEntry) int64 { return e.ID })
	case SectionLabs:
		b.Labs, removed = removeByID(b.Labs, id, func(e LabEntry) int64 { return e.ID })
	default:
		return fmt.Errorf("%w: %s", ErrUnknownSection, section)
	}
	if !removed {
		return ErrEntryNotFound
	}
	return nil
}

func removeByID[T any](entries []T, id int64, idOf func(T) int64) ([]T, bool) {
	for i, e := range entries {
		if idOf(e) == id {
			return append(entries[:i:i], entries[i+1:]...), true
		}
	}
	return entries, false
}

func (b *Bundle) SetRemarks(text string) {
	b.Remarks = text
}

// Len is the total number of entries across all sections.
func (b *Bundle) Len() int {
	return len(b.History) + len(b.Vaccinations) + len(b.Medications) + len(b.Visits) + len(b.Labs)
}
