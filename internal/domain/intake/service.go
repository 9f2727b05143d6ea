package intake

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/mediscan/mediscan/internal/domain/registration"
	"github.com/mediscan/mediscan/internal/domain/registry"
	"github.com/mediscan/mediscan/internal/platform/blobstore"
	"github.com/mediscan/mediscan/internal/platform/events"
	"github.com/mediscan/mediscan/internal/platform/session"
)

// Config holds the extraction timings.
type Config struct {
	StepInterval  time.Duration
	CompleteDelay time.Duration
}

func DefaultConfig() Config {
	return Config{
		StepInterval:  800 * time.Millisecond,
		CompleteDelay: time.Second,
	}
}

// Deps are the collaborators of the intake workflow.
type Deps struct {
	Store     session.Store
	Blobs     blobstore.BlobStore
	Extractor Extractor
	Lookup    registry.Lookup
	Registry  *registry.Service
	IDs       *registration.IDGenerator
	Events    events.Publisher
}

type Service struct {
	sessions  sessions
	blobs     blobstore.BlobStore
	extractor Extractor
	lookup    registry.Lookup
	registry  *registry.Service
	ids       *registration.IDGenerator
	events    events.Publisher
	runner    *Runner
	cfg       Config
	now       func() time.Time
	newID     func() string
	logger    zerolog.Logger
}

func NewService(deps Deps, cfg Config, logger zerolog.Logger) *Service {
	pub := deps.Events
	if pub == nil {
		pub = events.Nop{}
	}
	return &Service{
		sessions:  sessions{store: deps.Store, now: time.Now},
		blobs:     deps.Blobs,
		extractor: deps.Extractor,
		lookup:    deps.Lookup,
		registry:  deps.Registry,
		ids:       deps.IDs,
		events:    pub,
		runner:    NewRunner(),
		cfg:       cfg,
		now:       time.Now,
		newID:     func() string { return uuid.New().String() },
		logger:    logger.With().Str("component", "intake").Logger(),
	}
}

// Create opens a new intake session for operator at the capture stage.
func (s *Service) Create(ctx context.Context, operator string) (*Session, error) {
	now := s.now().UTC()
	sess := &Session{
		ID:        s.newID(),
		Operator:  operator,
		Stage:     StageCapture,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.sessions.put(ctx, sess); err != nil {
		return nil, err
	}
	s.logger.Debug().Str("session_id", sess.ID).Str("operator", operator).Msg("session created")
	return sess, nil
}

func (s *Service) Get(ctx context.Context, id string) (*Session, error) {
	return s.sessions.get(ctx, id)
}

// Delete discards a session, cancelling its extraction and removing its
// image.
func (s *Service) Delete(ctx context.Context, id string) error {
	s.runner.Cancel(id)

	sess, err := s.sessions.get(ctx, id)
	if err != nil {
		return err
	}
	if err := s.sessions.delete(ctx, id); err != nil {
		return err
	}
	if sess.Image != nil {
		s.dropImage(ctx, sess.Image.BlobID)
	}

	e := events.New(events.TypeSessionDiscarded, id, nil)
	e.Actor = sess.Operator
	s.publish(ctx, e)
	return nil
}

// Expire releases what an expired session refers to. The store has already
// dropped the session itself.
func (s *Service) Expire(id string, data []byte) {
	s.runner.Cancel(id)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var sess Session
	if err := json.Unmarshal(data, &sess); err != nil {
		s.logger.Warn().Err(err).Str("session_id", id).Msg("decode expired session")
		return
	}
	if sess.Image != nil {
		s.dropImage(ctx, sess.Image.BlobID)
	}

	e := events.New(events.TypeSessionDiscarded, id, nil)
	e.Actor = sess.Operator
	s.publish(ctx, e)
	s.logger.Info().Str("session_id", id).Msg("session expired")
}

// Shutdown cancels every running extraction and waits for them to stop.
func (s *Service) Shutdown() {
	s.runner.Shutdown()
}

func (s *Service) dropImage(ctx context.Context, blobID string) {
	if err := s.blobs.Delete(ctx, blobID); err != nil {
		s.logger.Warn().Err(err).Str("blob_id", blobID).Msg("delete image")
	}
}

func (s *Service) publish(ctx context.Context, e events.Event) {
	if err := s.events.Publish(ctx, e); err != nil {
		s.logger.Warn().Err(err).Str("event_type", e.Type).Str("session_id", e.SessionID).Msg("publish event")
	}
}
