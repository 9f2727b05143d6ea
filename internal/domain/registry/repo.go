package registry

import (
	"context"
	"strings"
	"sync"
)

type Repository interface {
	Create(ctx context.Context, p *Patient) error
	Get(ctx context.Context, id string) (*Patient, error)
	// Candidates returns the patients sharing the draft's ID number or birth
	// date. A patient matching neither cannot reach a matching grade.
	Candidates(ctx context.Context, d Draft) ([]*Patient, error)
	// Find returns every patient whose name, ID number, gender, conditions
	// or allergies contain query, case-insensitively.
	Find(ctx context.Context, query string) ([]*Patient, error)
	Count(ctx context.Context) (int, error)
}

// MemoryRepo is the registry used when no database is configured.
type MemoryRepo struct {
	mu       sync.RWMutex
	patients map[string]*Patient
	order    []string
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{patients: make(map[string]*Patient)}
}

func clonePatient(p *Patient) *Patient {
	c := *p
	c.Conditions = append([]string(nil), p.Conditions...)
	c.Allergies = append([]string(nil), p.Allergies...)
	return &c
}

func (r *MemoryRepo) Create(_ context.Context, p *Patient) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.patients[p.ID]; ok {
		return ErrDuplicateID
	}
	r.patients[p.ID] = clonePatient(p)
	r.order = append(r.order, p.ID)
	return nil
}

func (r *MemoryRepo) Get(_ context.Context, id string) (*Patient, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.patients[id]
	if !ok {
		return nil, ErrNotFound
	}
	return clonePatient(p), nil
}

func (r *MemoryRepo) Candidates(_ context.Context, d Draft) ([]*Patient, error) {
	id := normalizeID(d.IDNumber)
	bd := strings.TrimSpace(d.BirthDate)

	return r.filter(func(p *Patient) bool {
		return (id != "" && normalizeID(p.IDNumber) == id) || (bd != "" && p.BirthDate == bd)
	}), nil
}

func (r *MemoryRepo) Find(_ context.Context, query string) ([]*Patient, error) {
	q := strings.ToLower(strings.TrimSpace(query))
	return r.filter(func(p *Patient) bool {
		return matchesQuery(p, q)
	}), nil
}

func (r *MemoryRepo) Count(_ context.Context) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.patients), nil
}

func (r *MemoryRepo) filter(keep func(*Patient) bool) []*Patient {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*Patient
	for _, id := range r.order {
		if p := r.patients[id]; keep(p) {
			out = append(out, clonePatient(p))
		}
	}
	return out
}

// matchesQuery is the substring test shared by MemoryRepo.Find and search
// scoring. q must already be lowercased.
func matchesQuery(p *Patient, q string) bool {
	if q == "" {
		return false
	}
	for _, s := range []string{p.FullName, p.IDNumber, p.ID, p.Gender} {
		if strings.Contains(strings.ToLower(s), q) {
			return true
		}
	}
	return containsFold(p.Conditions, q) || containsFold(p.Allergies, q)
}

func containsFold(values []string, q string) bool {
	for _, v := range values {
		if strings.Contains(strings.ToLower(v), q) {
			return true
		}
	}
	return false
}
