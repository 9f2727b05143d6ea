package registry

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/mediscan/mediscan/pkg/pagination"
)

// Search floors. A substring hit on the name or ID always ranks at least
// nameFloor; hits only on gender, conditions or allergies rank at least
// attributeFloor.
const (
	nameFloor      = 0.75
	attributeFloor = 0.70
)

// Hit is one patient search result.
type Hit struct {
	ID         string   `json:"id"`
	Type       string   `json:"type"`
	Name       string   `json:"name"`
	Details    string   `json:"details"`
	Conditions []string `json:"conditions"`
	Match      int      `json:"match"`
}

type Service struct {
	repo   Repository
	now    func() time.Time
	logger zerolog.Logger
}

func NewService(repo Repository, logger zerolog.Logger) *Service {
	return &Service{
		repo:   repo,
		now:    time.Now,
		logger: logger.With().Str("component", "registry").Logger(),
	}
}

func (s *Service) Get(ctx context.Context, id string) (*Patient, error) {
	return s.repo.Get(ctx, id)
}

// Register adds a patient so that later lookups can match it.
func (s *Service) Register(ctx context.Context, p *Patient) error {
	if p.ID == "" {
		return fmt.Errorf("id is required")
	}
	if p.FullName == "" {
		return fmt.Errorf("full_name is required")
	}
	if p.IDNumber == "" {
		return fmt.Errorf("id_number is required")
	}
	if p.BirthDate == "" {
		return fmt.Errorf("birth_date is required")
	}
	if p.Status == "" {
		p.Status = StatusActive
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = s.now().UTC()
	}
	if err := s.repo.Create(ctx, p); err != nil {
		return err
	}
	s.logger.Info().Str("patient_id", p.ID).Msg("patient registered")
	return nil
}

// Search ranks registry patients against a free-text query, best match
// first, and returns one page of hits with the total hit count.
func (s *Service) Search(ctx context.Context, query string, limit, offset int) ([]Hit, int, error) {
	q := strings.TrimSpace(query)
	if q == "" {
		return nil, 0, ErrEmptyQuery
	}

	patients, err := s.repo.Find(ctx, q)
	if err != nil {
		return nil, 0, fmt.Errorf("search patients: %w", err)
	}

	hits := make([]Hit, 0, len(patients))
	for _, p := range patients {
		hits = append(hits, Hit{
			ID:         p.ID,
			Type:       "patient",
			Name:       p.FullName,
			Details:    s.details(p),
			Conditions: p.Conditions,
			Match:      searchScore(p, q),
		})
	}
	sort.SliceStable(hits, func(i, j int) bool {
		return hits[i].Match > hits[j].Match
	})

	start, end := pagination.Params{Limit: limit, Offset: offset}.Window(len(hits))
	return hits[start:end], len(hits), nil
}

func searchScore(p *Patient, q string) int {
	lq := strings.ToLower(q)
	score := jaroWinklerSimilarity(q, p.FullName)
	switch {
	case strings.Contains(strings.ToLower(p.FullName), lq),
		strings.Contains(strings.ToLower(p.IDNumber), lq),
		strings.Contains(strings.ToLower(p.ID), lq):
		score = math.Max(score, nameFloor)
	default:
		score = math.Max(score, attributeFloor)
	}
	return int(math.Round(score * 100))
}

// details renders "Female, 38 years old, Last visit: Jan 2024".
func (s *Service) details(p *Patient) string {
	var parts []string
	if p.Gender != "" {
		parts = append(parts, p.Gender)
	}
	if age, ok := ageOn(p.BirthDate, s.now()); ok {
		parts = append(parts, fmt.Sprintf("%d years old", age))
	}
	if lv, err := time.Parse("2006-01-02", p.LastVisit); err == nil {
		parts = append(parts, "Last visit: "+lv.Format("Jan 2006"))
	}
	return strings.Join(parts, ", ")
}

func ageOn(birthDate string, now time.Time) (int, bool) {
	bd, err := time.Parse("2006-01-02", birthDate)
	if err != nil {
		return 0, false
	}
	age := now.Year() - bd.Year()
	if now.Month() < bd.Month() || (now.Month() == bd.Month() && now.Day() < bd.Day()) {
		age--
	}
	return age, age >= 0
}
