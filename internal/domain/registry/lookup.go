package registry

import (
	"context"
	"fmt"
	"math/rand"
	"sync"

	"github.com/rs/zerolog"
)

// Lookup decides whether a draft belongs to an existing patient. The intake
// workflow depends only on this interface.
type Lookup interface {
	Lookup(ctx context.Context, d Draft) (Outcome, error)
}

// RegistryLookup scores the registry candidates for a draft and reports a
// match when the best candidate grades certain or probable. The result
// depends only on the draft and the registry contents.
type RegistryLookup struct {
	repo    Repository
	matcher *Matcher
	logger  zerolog.Logger
}

func NewRegistryLookup(repo Repository, matcher *Matcher, logger zerolog.Logger) *RegistryLookup {
	return &RegistryLookup{
		repo:    repo,
		matcher: matcher,
		logger:  logger.With().Str("component", "lookup").Logger(),
	}
}

func (l *RegistryLookup) Lookup(ctx context.Context, d Draft) (Outcome, error) {
	candidates, err := l.repo.Candidates(ctx, d)
	if err != nil {
		return Outcome{}, fmt.Errorf("load match candidates: %w", err)
	}

	ranked := l.matcher.Rank(d, candidates)
	if len(ranked) == 0 {
		l.logger.Debug().Msg("no registry candidates")
		return Outcome{Grade: GradeCertainlyNot}, nil
	}

	best := ranked[0]
	out := Outcome{Score: best.Score, Grade: best.Grade}
	if IsMatch(best.Grade) {
		s := best.Patient.Summary()
		out.Matched = true
		out.Patient = &s
	}
	l.logger.Debug().
		Int("candidates", len(ranked)).
		Float64("score", best.Score).
		Str("grade", string(best.Grade)).
		Bool("matched", out.Matched).
		Msg("lookup")
	return out, nil
}

// RandomLookup reproduces the demo behaviour: a draft matches the demo
// patient 60% of the time regardless of its content. The random source is
// injected so tests can fix the sequence.
type RandomLookup struct {
	mu      sync.Mutex
	rnd     *rand.Rand
	patient Summary
}

func NewRandomLookup(rnd *rand.Rand, patient Summary) *RandomLookup {
	return &RandomLookup{rnd: rnd, patient: patient}
}

func (l *RandomLookup) Lookup(_ context.Context, _ Draft) (Outcome, error) {
	l.mu.Lock()
	roll := l.rnd.Float64()
	l.mu.Unlock()

	if roll > 0.4 {
		s := l.patient
		return Outcome{Matched: true, Patient: &s, Score: 1, Grade: GradeCertain}, nil
	}
	return Outcome{Score: 0, Grade: GradeCertainlyNot}, nil
}
