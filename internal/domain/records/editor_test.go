package records

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

var t0 = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

func TestAddEntry_RequiredFields(t *testing.T) {
	tests := []struct {
		section Section
		raw     string
		missing []string
	}{
		{SectionHistory, `{"date":"2020-01-01"}`, []string{"condition"}},
		{SectionVaccinations, `{"dose":"1st"}`, []string{"vaccine"}},
		{SectionMedications, `{"name":"","dosage":"500mg"}`, []string{"name"}},
		{SectionVisits, `{"purpose":"checkup"}`, []string{"date", "doctor"}},
		{SectionVisits, `{"date":"2024-01-01"}`, []string{"doctor"}},
		{SectionLabs, `{"test":"HbA1c"}`, []string{"result"}},
	}
	for _, tt := range tests {
		b := NewBundle()
		_, err := b.AddEntry(tt.section, []byte(tt.raw), t0)
		var ie *IncompleteEntryError
		if !errors.As(err, &ie) {
			t.Errorf("%s %s: expected IncompleteEntryError, got %v", tt.section, tt.raw, err)
			continue
		}
		if diff := cmp.Diff(tt.missing, ie.Fields); diff != "" {
			t.Errorf("%s: missing fields (-want +got):\n%s", tt.section, diff)
		}
		if !errors.Is(err, ErrEntryIncomplete) {
			t.Errorf("expected ErrEntryIncomplete, got %v", err)
		}
		if b.Len() != 0 {
			t.Errorf("%s: rejected entry was appended", tt.section)
		}
	}
}

func TestAddEntry_AcceptsIffRequiredNonEmpty(t *testing.T) {
	templates := map[Section]string{
		SectionHistory:      `{"condition":%q}`,
		SectionVaccinations: `{"vaccine":%q}`,
		SectionMedications:  `{"name":%q}`,
		SectionVisits:       `{"date":"2024-01-01","doctor":%q}`,
		SectionLabs:         `{"test":"HbA1c","result":%q}`,
	}
	values := []string{"", " ", "\t", "  \n", "x"}

	for section, tmpl := range templates {
		for _, v := range values {
			b := NewBundle()
			_, err := b.AddEntry(section, []byte(fmt.Sprintf(tmpl, v)), t0)
			want := v != ""
			if (err == nil) != want {
				t.Errorf("%s %q: AddEntry() = %v, want accepted=%v", section, v, err, want)
			}
			if want && b.Len() != 1 {
				t.Errorf("%s %q: expected one entry, got %d", section, v, b.Len())
			}
		}
	}
}

func TestAddEntry_Appends(t *testing.T) {
	b := NewBundle()
	inputs := map[Section]string{
		SectionHistory:      `{"condition":"Hypertension","date":"2020-05-01"}`,
		SectionVaccinations: `{"vaccine":"Influenza","date":"2023-10-01","dose":"Annual","next_due":"2024-10-01"}`,
		SectionMedications:  `{"name":"Metformin","dosage":"500mg","frequency":"Twice daily","prescribed_by":"Dr. Elena Rodriguez"}`,
		SectionVisits:       `{"date":"2024-01-10","doctor":"Dr. Sarah Johnson","purpose":"Checkup"}`,
		SectionLabs:         `{"test":"HbA1c","result":"7.2%","reference":"<5.7%"}`,
	}
	for _, sec := range Sections {
		if _, err := b.AddEntry(sec, []byte(inputs[sec]), t0); err != nil {
			t.Fatalf("AddEntry(%s): %v", sec, err)
		}
	}
	if b.Len() != 5 {
		t.Fatalf("expected 5 entries, got %d", b.Len())
	}
	if b.History[0].Status != StatusActive {
		t.Errorf("expected default status Active, got %q", b.History[0].Status)
	}
	if b.Medications[0].PrescribedBy != "Dr. Elena Rodriguez" {
		t.Errorf("unexpected medication %+v", b.Medications[0])
	}
}

func TestAddEntry_IDsStrictlyIncrease(t *testing.T) {
	b := NewBundle()
	var last int64
	for i := 0; i < 5; i++ {
		// Same clock reading every time.
		id, err := b.AddEntry(SectionMedications, []byte(`{"name":"Amlodipine"}`), t0)
		if err != nil {
			t.Fatal(err)
		}
		if id <= last {
			t.Fatalf("id %d not greater than %d", id, last)
		}
		last = id
	}
	if b.Medications[0].ID != t0.UnixMilli() {
		t.Errorf("expected first id to be the clock in millis, got %d", b.Medications[0].ID)
	}
}

func TestAddEntry_Rejects(t *testing.T) {
	b := NewBundle()
	if _, err := b.AddEntry(SectionHistory, []byte(`{"condition":"Asthma","status":"Unknown"}`), t0); !errors.Is(err, ErrInvalidStatus) {
		t.Errorf("expected ErrInvalidStatus, got %v", err)
	}
	if _, err := b.AddEntry(SectionLabs, []byte(`{"test":"x","result":"y","flag":"H"}`), t0); err == nil {
		t.Error("expected unknown field to be rejected")
	}
	if _, err := b.AddEntry(Section("billing"), []byte(`{}`), t0); !errors.Is(err, ErrUnknownSection) {
		t.Errorf("expected ErrUnknownSection, got %v", err)
	}
	if b.Len() != 0 {
		t.Error("expected nothing appended")
	}
}

func TestRemoveEntry(t *testing.T) {
	b := NewBundle()
	first, _ := b.AddEntry(SectionVisits, []byte(`{"date":"2024-01-10","doctor":"Dr. A"}`), t0)
	second, _ := b.AddEntry(SectionVisits, []byte(`{"date":"2024-02-10","doctor":"Dr. B"}`), t0)

	if err := b.RemoveEntry(SectionVisits, first); err != nil {
		t.Fatalf("RemoveEntry: %v", err)
	}
	if len(b.Visits) != 1 || b.Visits[0].ID != second {
		t.Errorf("unexpected visits %+v", b.Visits)
	}
	if err := b.RemoveEntry(SectionVisits, first); !errors.Is(err, ErrEntryNotFound) {
		t.Errorf("expected ErrEntryNotFound, got %v", err)
	}
	if err := b.RemoveEntry(SectionLabs, second); !errors.Is(err, ErrEntryNotFound) {
		t.Errorf("expected ErrEntryNotFound for another section, got %v", err)
	}
}

func TestParseSection(t *testing.T) {
	for _, s := range Sections {
		if got, err := ParseSection(string(s)); err != nil || got != s {
			t.Errorf("ParseSection(%s) = %s, %v", s, got, err)
		}
	}
	if _, err := ParseSection("medicalHistory"); !errors.Is(err, ErrUnknownSection) {
		t.Errorf("expected ErrUnknownSection, got %v", err)
	}
}
