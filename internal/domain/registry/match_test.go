package registry

import (
	"testing"
)

func TestJaroWinkler_ExactMatch(t *testing.T) {
	if score := jaroWinklerSimilarity("Santos", "Santos"); score != 1.0 {
		t.Errorf("expected 1.0 for exact match, got %f", score)
	}
}

func TestJaroWinkler_Similar(t *testing.T) {
	if score := jaroWinklerSimilarity("Martha", "Marhta"); score <= 0.9 {
		t.Errorf("expected > 0.9 for Martha/Marhta, got %f", score)
	}
}

func TestJaroWinkler_Different(t *testing.T) {
	if score := jaroWinklerSimilarity("Smith", "Jones"); score >= 0.5 {
		t.Errorf("expected < 0.5 for Smith/Jones, got %f", score)
	}
}

func TestJaroWinkler_Empty(t *testing.T) {
	for _, pair := range [][2]string{{"", "Cruz"}, {"Cruz", ""}, {"", ""}} {
		if score := jaroWinklerSimilarity(pair[0], pair[1]); score != 0.0 {
			t.Errorf("expected 0.0 for %q/%q, got %f", pair[0], pair[1], score)
		}
	}
}

func TestJaroWinkler_CaseInsensitive(t *testing.T) {
	if score := jaroWinklerSimilarity("MARIA SANTOS DELA CRUZ", "Maria Santos Dela Cruz"); score != 1.0 {
		t.Errorf("expected 1.0 for case-insensitive match, got %f", score)
	}
}

func TestJaroWinkler_NonASCII(t *testing.T) {
	if score := jaroWinklerSimilarity("Peña", "Pena"); score <= 0.8 {
		t.Errorf("expected > 0.8 for Peña/Pena, got %f", score)
	}
}

func TestNormalizeAddress(t *testing.T) {
	got := normalizeAddress("  123 Rizal St.,   Makati City #2 ")
	if got != "123 rizal st makati city 2" {
		t.Errorf("unexpected normalized address %q", got)
	}
}

func TestNormalizeID(t *testing.T) {
	if normalizeID("id-2024-001234") != normalizeID("ID 2024 001234") {
		t.Error("expected dash and space variants to normalize equal")
	}
}

func TestAssignGrade(t *testing.T) {
	tests := []struct {
		score float64
		want  Grade
	}{
		{1.0, GradeCertain},
		{0.95, GradeCertain},
		{0.949, GradeProbable},
		{0.80, GradeProbable},
		{0.799, GradePossible},
		{0.60, GradePossible},
		{0.599, GradeCertainlyNot},
		{0, GradeCertainlyNot},
	}
	for _, tt := range tests {
		if got := assignGrade(tt.score); got != tt.want {
			t.Errorf("assignGrade(%v) = %s, want %s", tt.score, got, tt.want)
		}
	}
}

func scannedDraft() Draft {
	return Draft{
		FullName:         "MARIA SANTOS DELA CRUZ",
		IDNumber:         "ID-2024-001234",
		BirthDate:        "1985-03-15",
		Address:          "123 Rizal St., Makati City",
		BloodType:        "O+",
		EmergencyContact: "Juan Dela Cruz (09171234567)",
	}
}

func seededPatients(t *testing.T) []*Patient {
	t.Helper()
	patients, err := SeedPatients()
	if err != nil {
		t.Fatalf("SeedPatients: %v", err)
	}
	return patients
}

func TestMatcher_ExactMatch(t *testing.T) {
	ranked := NewMatcher().Rank(scannedDraft(), seededPatients(t))
	if len(ranked) != 3 {
		t.Fatalf("expected 3 ranked candidates, got %d", len(ranked))
	}
	best := ranked[0]
	if best.Patient.ID != DemoPatientID {
		t.Errorf("expected %s first, got %s", DemoPatientID, best.Patient.ID)
	}
	if best.Score != 1.0 || best.Grade != GradeCertain {
		t.Errorf("expected certain 1.0, got %s %v", best.Grade, best.Score)
	}
}

func TestMatcher_FuzzyNameMatch(t *testing.T) {
	d := scannedDraft()
	d.FullName = "MARIA SANTOS DELA CRUS"

	best := NewMatcher().Rank(d, seededPatients(t))[0]
	if best.Grade != GradeCertain {
		t.Errorf("expected a one-letter OCR slip to stay certain, got %s (%v)", best.Grade, best.Score)
	}
}

func TestMatcher_IDMismatchIsOnlyPossible(t *testing.T) {
	d := scannedDraft()
	d.IDNumber = "ID-2024-999999"

	best := NewMatcher().Rank(d, seededPatients(t))[0]
	if best.Grade != GradePossible {
		t.Errorf("expected possible without the ID number, got %s (%v)", best.Grade, best.Score)
	}
	if IsMatch(best.Grade) {
		t.Error("expected a possible grade not to count as a match")
	}
}

func TestMatcher_CustomWeights(t *testing.T) {
	m := NewMatcherWithWeights(MatchWeights{IDNumber: 1})
	d := Draft{IDNumber: "ID-2020-007733"}

	best := m.Rank(d, seededPatients(t))[0]
	if best.Patient.ID != "PT-2023-000912" || best.Score != 1.0 {
		t.Errorf("expected Ana Gonzalez at 1.0, got %s at %v", best.Patient.ID, best.Score)
	}
}
