package registry

import (
	"math"
	"sort"
	"strings"
)

// MatchWeights configures how much each field contributes to a score. The
// weights sum to 1.
type MatchWeights struct {
	IDNumber  float64
	FullName  float64
	BirthDate float64
	Address   float64
	BloodType float64
}

func DefaultMatchWeights() MatchWeights {
	return MatchWeights{
		IDNumber:  0.35,
		FullName:  0.30,
		BirthDate: 0.25,
		Address:   0.05,
		BloodType: 0.05,
	}
}

// Candidate is a scored registry patient.
type Candidate struct {
	Patient *Patient
	Score   float64
	Grade   Grade
}

// Matcher scores registry patients against a draft.
type Matcher struct {
	weights MatchWeights
}

func NewMatcher() *Matcher {
	return &Matcher{weights: DefaultMatchWeights()}
}

func NewMatcherWithWeights(w MatchWeights) *Matcher {
	return &Matcher{weights: w}
}

// Rank scores every candidate and returns them best first. Ties keep the
// registry order.
func (m *Matcher) Rank(d Draft, patients []*Patient) []Candidate {
	ranked := make([]Candidate, 0, len(patients))
	for _, p := range patients {
		score := math.Round(m.score(d, p)*1000) / 1000
		ranked = append(ranked, Candidate{Patient: p, Score: score, Grade: assignGrade(score)})
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Score > ranked[j].Score
	})
	return ranked
}

func (m *Matcher) score(d Draft, p *Patient) float64 {
	var score float64

	if id := normalizeID(d.IDNumber); id != "" && id == normalizeID(p.IDNumber) {
		score += m.weights.IDNumber
	}
	if d.FullName != "" && p.FullName != "" {
		score += m.weights.FullName * jaroWinklerSimilarity(normalizeName(d.FullName), normalizeName(p.FullName))
	}
	if bd := strings.TrimSpace(d.BirthDate); bd != "" && bd == strings.TrimSpace(p.BirthDate) {
		score += m.weights.BirthDate
	}
	if d.Address != "" && p.Address != "" {
		score += m.weights.Address * jaroWinklerSimilarity(normalizeAddress(d.Address), normalizeAddress(p.Address))
	}
	if bt := strings.TrimSpace(d.BloodType); bt != "" && strings.EqualFold(bt, strings.TrimSpace(p.BloodType)) {
		score += m.weights.BloodType
	}
	return score
}

func assignGrade(score float64) Grade {
	switch {
	case score >= 0.95:
		return GradeCertain
	case score >= 0.80:
		return GradeProbable
	case score >= 0.60:
		return GradePossible
	default:
		return GradeCertainlyNot
	}
}

// IsMatch reports whether a grade is strong enough to treat the draft as an
// existing patient.
func IsMatch(g Grade) bool {
	return g == GradeCertain || g == GradeProbable
}

// normalizeID uppercases and drops spaces and dashes, so "id-2024-001234"
// and "ID 2024 001234" compare equal.
func normalizeID(id string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case ' ', '-', '\t':
			return -1
		}
		return r
	}, strings.ToUpper(id))
}

func normalizeName(name string) string {
	return strings.Join(strings.Fields(strings.ToLower(name)), " ")
}

// normalizeAddress lowercases and removes extra whitespace and punctuation.
func normalizeAddress(addr string) string {
	addr = strings.ToLower(addr)
	addr = strings.Map(func(r rune) rune {
		if r == '.' || r == ',' || r == '#' {
			return -1
		}
		return r
	}, addr)
	return strings.Join(strings.Fields(addr), " ")
}

// jaroWinklerSimilarity computes the case-insensitive Jaro-Winkler
// similarity between two strings, from 0.0 to 1.0.
func jaroWinklerSimilarity(s1, s2 string) float64 {
	a := []rune(strings.ToLower(s1))
	b := []rune(strings.ToLower(s2))

	if len(a) == 0 || len(b) == 0 {
		return 0.0
	}
	if string(a) == string(b) {
		return 1.0
	}

	maxDist := len(a)
	if len(b) > maxDist {
		maxDist = len(b)
	}
	maxDist = maxDist/2 - 1
	if maxDist < 0 {
		maxDist = 0
	}

	aMatches := make([]bool, len(a))
	bMatches := make([]bool, len(b))
	matches := 0

	for i := range a {
		start := i - maxDist
		if start < 0 {
			start = 0
		}
		end := i + maxDist + 1
		if end > len(b) {
			end = len(b)
		}
		for j := start; j < end; j++ {
			if bMatches[j] || a[i] != b[j] {
				continue
			}
			aMatches[i] = true
			bMatches[j] = true
			matches++
			break
		}
	}
	if matches == 0 {
		return 0.0
	}

	transpositions := 0
	k := 0
	for i := range a {
		if !aMatches[i] {
			continue
		}
		for !bMatches[k] {
			k++
		}
		if a[i] != b[k] {
			transpositions++
		}
		k++
	}

	m := float64(matches)
	jaro := (m/float64(len(a)) + m/float64(len(b)) + (m-float64(transpositions/2))/m) / 3.0

	// Winkler boost for a common prefix of up to 4 characters.
	prefix := 0
	for i := 0; i < 4 && i < len(a) && i < len(b); i++ {
		if a[i] != b[i] {
			break
		}
		prefix++
	}
	return jaro + float64(prefix)*0.1*(1.0-jaro)
}
