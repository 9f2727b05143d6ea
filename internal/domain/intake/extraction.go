package intake

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"

	"github.com/mediscan/mediscan/internal/domain/registry"
	"github.com/mediscan/mediscan/internal/platform/events"
)

// LowConfidenceThreshold is the overall confidence below which the review
// screen warns the operator to double-check every field.
const LowConfidenceThreshold = 80

// Confidence is how sure the extractor is about each field, in percent.
type Confidence struct {
	Overall int            `json:"overall"`
	Fields  map[string]int `json:"fields"`
}

func (c Confidence) Low() bool {
	return c.Overall < LowConfidenceThreshold
}

// Extraction is what an Extractor reads off an ID image.
type Extraction struct {
	Draft      registry.Draft
	Confidence Confidence
}

// Extractor reads patient fields from an ID image.
type Extractor interface {
	Extract(ctx context.Context, image []byte, contentType string) (*Extraction, error)
}

// ExtractionStep is one visible phase of an extraction run.
type ExtractionStep struct {
	Label   string `json:"step"`
	Percent int    `json:"progress"`
}

var ExtractionSteps = []ExtractionStep{
	{"Analyzing image...", 20},
	{"Detecting text regions...", 40},
	{"Extracting text data...", 60},
	{"Validating information...", 80},
	{"Complete!", 100},
}

// StubExtractor returns the sample ID card regardless of the image.
type StubExtractor struct{}

func (StubExtractor) Extract(ctx context.Context, _ []byte, _ string) (*Extraction, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &Extraction{
		Draft: registry.Draft{
			FullName:         "MARIA SANTOS DELA CRUZ",
			IDNumber:         "ID-2024-001234",
			BirthDate:        "1985-03-15",
			Address:          "123 Rizal St., Makati City",
			BloodType:        "O+",
			EmergencyContact: "Juan Dela Cruz (09171234567)",
		},
		Confidence: Confidence{
			Overall: 92,
			Fields: map[string]int{
				registry.FieldFullName:         95,
				registry.FieldIDNumber:         98,
				registry.FieldBirthDate:        92,
				registry.FieldAddress:          88,
				registry.FieldBloodType:        90,
				registry.FieldEmergencyContact: 85,
			},
		},
	}, nil
}

// RemoteExtractor posts the image to an OCR service:
//
//	POST {base}/extract  (multipart "file")
//	200 {"fields": {...draft...}, "confidence": {...}, "overall_confidence": 92}
type RemoteExtractor struct {
	client *resty.Client
	logger zerolog.Logger
}

type remoteExtraction struct {
	Fields     registry.Draft `json:"fields"`
	Confidence map[string]int `json:"confidence"`
	Overall    int            `json:"overall_confidence"`
}

type remoteError struct {
	Error string `json:"error"`
}

func NewRemoteExtractor(baseURL string, timeout time.Duration, logger zerolog.Logger) *RemoteExtractor {
	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetRetryCount(2).
		SetRetryWaitTime(500*time.Millisecond).
		SetRetryMaxWaitTime(2*time.Second).
		SetRetryResetReaders(true).
		SetHeader("Accept", "application/json")

	return &RemoteExtractor{
		client: client,
		logger: logger.With().Str("component", "ocr_client").Logger(),
	}
}

func (e *RemoteExtractor) Extract(ctx context.Context, image []byte, contentType string) (*Extraction, error) {
	var out remoteExtraction
	var apiErr remoteError
	resp, err := e.client.R().
		SetContext(ctx).
		SetMultipartField("file", "id-card", contentType, bytes.NewReader(image)).
		SetResult(&out).
		SetError(&apiErr).
		Post("/extract")
	if err != nil {
		e.logger.Error().Err(err).Msg("ocr request failed")
		return nil, fmt.Errorf("call ocr service: %w", err)
	}
	if resp.IsError() {
		e.logger.Error().Int("status_code", resp.StatusCode()).Str("error", apiErr.Error).Msg("ocr service returned error")
		return nil, fmt.Errorf("ocr service returned %d: %s", resp.StatusCode(), apiErr.Error)
	}

	if out.Confidence == nil {
		out.Confidence = map[string]int{}
	}
	e.logger.Debug().Int("overall_confidence", out.Overall).Msg("ocr extraction received")
	return &Extraction{
		Draft:      out.Fields,
		Confidence: Confidence{Overall: out.Overall, Fields: out.Confidence},
	}, nil
}

// Runner owns the background extraction goroutines, at most one per
// session. Starting a run for a session cancels the one before it.
type Runner struct {
	mu   sync.Mutex
	runs map[string]runHandle
	wg   sync.WaitGroup
	base context.Context
	stop context.CancelFunc
}

type runHandle struct {
	id     string
	cancel context.CancelFunc
}

func NewRunner() *Runner {
	base, stop := context.WithCancel(context.Background())
	return &Runner{
		runs: make(map[string]runHandle),
		base: base,
		stop: stop,
	}
}

// Start runs fn in a new goroutine under a context that is cancelled by
// Cancel, by the next Start for the same session, or by Shutdown.
func (r *Runner) Start(sessionID, runID string, fn func(ctx context.Context)) {
	ctx, cancel := context.WithCancel(r.base)

	r.mu.Lock()
	if prev, ok := r.runs[sessionID]; ok {
		prev.cancel()
	}
	r.runs[sessionID] = runHandle{id: runID, cancel: cancel}
	r.wg.Add(1)
	r.mu.Unlock()

	go func() {
		defer r.wg.Done()
		defer r.finish(sessionID, runID)
		fn(ctx)
	}()
}

// Cancel stops the session's run, if any.
func (r *Runner) Cancel(sessionID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.runs[sessionID]
	if ok {
		h.cancel()
		delete(r.runs, sessionID)
	}
	return ok
}

func (r *Runner) finish(sessionID, runID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if h, ok := r.runs[sessionID]; ok && h.id == runID {
		h.cancel()
		delete(r.runs, sessionID)
	}
}

// Active returns the id of the session's running extraction.
func (r *Runner) Active(sessionID string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.runs[sessionID]
	return h.id, ok
}

// Wait blocks until every started run has returned.
func (r *Runner) Wait() {
	r.wg.Wait()
}

// Shutdown cancels all runs and waits for them.
func (r *Runner) Shutdown() {
	r.stop()
	r.wg.Wait()
}

// sleep waits for d or until ctx is done. It reports whether the full
// duration elapsed.
func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}

// Process starts an extraction run for the captured image.
func (s *Service) Process(ctx context.Context, id string) (*Session, error) {
	var runID string
	sess, err := s.sessions.update(ctx, id, func(sess *Session) error {
		if err := requireStage(sess, "process", StageCaptured, StageProcessing); err != nil {
			return err
		}
		now := s.now().UTC()
		runID = s.newID()
		sess.Stage = StageProcessing
		sess.Progress = Progress{RunID: runID, StartedAt: &now}
		sess.LastError = ""
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.runner.Start(id, runID, func(ctx context.Context) {
		s.runExtraction(ctx, id, runID)
	})
	s.logger.Info().Str("session_id", id).Str("run_id", runID).Msg("extraction started")
	return sess, nil
}

// writeRun applies fn only while runID is still the session's current
// run. It reports whether the write happened.
func (s *Service) writeRun(ctx context.Context, sessionID, runID string, fn func(*Session)) bool {
	if ctx.Err() != nil {
		return false
	}
	written := false
	_, err := s.sessions.update(ctx, sessionID, func(sess *Session) error {
		if sess.Stage != StageProcessing || sess.Progress.RunID != runID {
			return errSkipSave
		}
		fn(sess)
		written = true
		return nil
	})
	if err != nil && ctx.Err() == nil {
		s.logger.Error().Err(err).Str("session_id", sessionID).Str("run_id", runID).Msg("extraction write failed")
		return false
	}
	return written && err == nil
}

func (s *Service) runExtraction(ctx context.Context, sessionID, runID string) {
	log := s.logger.With().Str("session_id", sessionID).Str("run_id", runID).Logger()

	for _, step := range ExtractionSteps {
		if !sleep(ctx, s.cfg.StepInterval) {
			log.Debug().Msg("extraction cancelled")
			return
		}
		step := step
		if !s.writeRun(ctx, sessionID, runID, func(sess *Session) {
			sess.Progress.Step = step.Label
			sess.Progress.Percent = step.Percent
		}) {
			return
		}
		s.publish(ctx, events.New(events.TypeExtractionProgress, sessionID, step))
	}

	if !sleep(ctx, s.cfg.CompleteDelay) {
		log.Debug().Msg("extraction cancelled")
		return
	}

	result, err := s.extract(ctx, sessionID)
	if ctx.Err() != nil {
		log.Debug().Msg("extraction cancelled")
		return
	}
	if err != nil {
		log.Error().Err(err).Msg("extraction failed")
		if s.writeRun(ctx, sessionID, runID, func(sess *Session) {
			sess.Stage = StageCaptured
			sess.Progress = Progress{}
			sess.LastError = err.Error()
		}) {
			s.publish(ctx, events.New(events.TypeExtractionFailed, sessionID, map[string]string{"error": err.Error()}))
		}
		return
	}

	if !s.writeRun(ctx, sessionID, runID, func(sess *Session) {
		draft := result.Draft
		scanned := result.Draft
		conf := result.Confidence
		sess.Stage = StageReview
		sess.Draft = &draft
		sess.Scanned = &scanned
		sess.Confidence = &conf
		sess.EditMode = false
	}) {
		return
	}
	log.Info().Int("overall_confidence", result.Confidence.Overall).Msg("extraction completed")
	e := events.New(events.TypeExtractionCompleted, sessionID, map[string]int{"overall_confidence": result.Confidence.Overall})
	e.PatientName = result.Draft.FullName
	s.publish(ctx, e)
}

// extract loads the session's image and hands it to the Extractor.
func (s *Service) extract(ctx context.Context, sessionID string) (*Extraction, error) {
	sess, err := s.sessions.get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess.Image == nil {
		return nil, fmt.Errorf("session %s has no image", sessionID)
	}

	rc, meta, err := s.blobs.Download(ctx, sess.Image.BlobID)
	if err != nil {
		return nil, fmt.Errorf("load image: %w", err)
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("read image: %w", err)
	}
	return s.extractor.Extract(ctx, data, meta.ContentType)
}
