package intake

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"

	jsonpatch "github.com/evanphx/json-patch"

	"github.com/mediscan/mediscan/internal/domain/registry"
	"github.com/mediscan/mediscan/internal/platform/events"
)

var ErrInvalidPatch = errors.New("invalid draft patch")

// Review returns the session for the review screen. It needs an extracted
// draft.
func (s *Service) Review(ctx context.Context, id string) (*Session, error) {
	sess, err := s.sessions.get(ctx, id)
	if err != nil {
		return nil, err
	}
	if sess.Draft == nil {
		return nil, missingState("ocr-results", recoverToScan)
	}
	return sess, nil
}

// editDraft runs fn on the draft of a session under review.
func (s *Service) editDraft(ctx context.Context, id, action string, fn func(*Session) error) (*Session, error) {
	return s.sessions.update(ctx, id, func(sess *Session) error {
		if sess.Draft == nil {
			return missingState("ocr-results", recoverToScan)
		}
		if err := requireStage(sess, action, StageReview); err != nil {
			return err
		}
		return fn(sess)
	})
}

// SetField edits one draft field. Values are free text.
func (s *Service) SetField(ctx context.Context, id, field, value string) (*Session, error) {
	return s.editDraft(ctx, id, "edit", func(sess *Session) error {
		return sess.Draft.Set(field, value)
	})
}

// PatchDraft applies a JSON merge patch to the draft.
func (s *Service) PatchDraft(ctx context.Context, id string, patch []byte) (*Session, error) {
	return s.editDraft(ctx, id, "edit", func(sess *Session) error {
		current, err := json.Marshal(sess.Draft)
		if err != nil {
			return fmt.Errorf("encode draft: %w", err)
		}
		merged, err := jsonpatch.MergePatch(current, patch)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidPatch, err)
		}

		var d registry.Draft
		dec := json.NewDecoder(bytes.NewReader(merged))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&d); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidPatch, err)
		}
		sess.Draft = &d
		return nil
	})
}

// ToggleEditMode flips the review screen between read-only and editable.
func (s *Service) ToggleEditMode(ctx context.Context, id string) (*Session, error) {
	return s.editDraft(ctx, id, "edit mode", func(sess *Session) error {
		sess.EditMode = !sess.EditMode
		return nil
	})
}

// Confirm looks the edited draft up in the registry and moves the session
// to verification. The three identifying fields must be filled.
func (s *Service) Confirm(ctx context.Context, id string) (*Session, error) {
	sess, err := s.editDraft(ctx, id, "confirm", func(sess *Session) error {
		if missing := sess.Draft.Missing(); len(missing) > 0 {
			return &MissingFieldsError{Fields: missing}
		}
		outcome, err := s.lookup.Lookup(ctx, *sess.Draft)
		if err != nil {
			return fmt.Errorf("lookup patient: %w", err)
		}
		sess.Outcome = &outcome
		sess.EditMode = false
		sess.Stage = StageVerification
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.publish(ctx, s.actorEvent(sess, events.TypeDraftConfirmed, nil))
	if sess.Outcome.Matched {
		e := s.actorEvent(sess, events.TypePatientMatched, map[string]interface{}{
			"score": sess.Outcome.Score,
			"grade": sess.Outcome.Grade,
		})
		e.PatientID = sess.Outcome.Patient.ID
		s.publish(ctx, e)
	} else {
		s.publish(ctx, s.actorEvent(sess, events.TypePatientUnmatched, map[string]interface{}{
			"score": sess.Outcome.Score,
			"grade": sess.Outcome.Grade,
		}))
	}
	s.logger.Info().
		Str("session_id", id).
		Bool("matched", sess.Outcome.Matched).
		Str("grade", string(sess.Outcome.Grade)).
		Msg("draft confirmed")
	return sess, nil
}

// actorEvent builds an event carrying the session's operator and draft
// name.
func (s *Service) actorEvent(sess *Session, eventType string, data interface{}) events.Event {
	e := events.New(eventType, sess.ID, data)
	e.Actor = sess.Operator
	if sess.Draft != nil {
		e.PatientName = sess.Draft.FullName
	}
	return e
}
