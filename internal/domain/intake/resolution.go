package intake

import (
	"context"
	"errors"
	"fmt"

	"github.com/mediscan/mediscan/internal/domain/records"
	"github.com/mediscan/mediscan/internal/domain/registration"
	"github.com/mediscan/mediscan/internal/domain/registry"
	"github.com/mediscan/mediscan/internal/platform/events"
)

// maxIDAttempts bounds retries when a generated patient id is taken.
const maxIDAttempts = 5

// Verification returns the session for the match result screen.
func (s *Service) Verification(ctx context.Context, id string) (*Session, error) {
	sess, err := s.sessions.get(ctx, id)
	if err != nil {
		return nil, err
	}
	if sess.Outcome == nil || sess.Draft == nil {
		return nil, missingState("verification-results", recoverToScan)
	}
	return sess, nil
}

// ViewRecords opens the records of the matched patient.
func (s *Service) ViewRecords(ctx context.Context, id string) (*Session, error) {
	return s.openExisting(ctx, id, records.TabOverview)
}

// VisitHistory opens the matched patient's records on the visits tab.
func (s *Service) VisitHistory(ctx context.Context, id string) (*Session, error) {
	return s.openExisting(ctx, id, records.TabVisits)
}

func (s *Service) openExisting(ctx context.Context, id string, tab records.Tab) (*Session, error) {
	return s.sessions.update(ctx, id, func(sess *Session) error {
		if sess.Outcome == nil || sess.Draft == nil {
			return missingState("verification-results", recoverToScan)
		}
		if err := requireStage(sess, "view records", StageVerification, StageRecords); err != nil {
			return err
		}
		if !sess.Outcome.Matched || sess.Outcome.Patient == nil {
			return ErrNotMatched
		}
		sess.Patient = mergeDraft(*sess.Outcome.Patient, *sess.Draft)
		sess.RecordsTab = tab
		sess.Stage = StageRecords
		return nil
	})
}

// mergeDraft lays the reviewed draft over the registry summary. Empty
// draft fields keep the registry value.
func mergeDraft(sum registry.Summary, d registry.Draft) *registry.Patient {
	p := &registry.Patient{
		ID:               sum.ID,
		FullName:         d.FullName,
		IDNumber:         d.IDNumber,
		BirthDate:        d.BirthDate,
		Address:          d.Address,
		BloodType:        sum.BloodType,
		EmergencyContact: sum.EmergencyContact,
		RegistrationDate: sum.RegistrationDate,
		LastVisit:        sum.LastVisit,
		TotalVisits:      sum.TotalVisits,
		Conditions:       sum.Conditions,
		Allergies:        sum.Allergies,
		Insurance:        sum.Insurance,
		Status:           sum.Status,
	}
	if d.BloodType != "" {
		p.BloodType = d.BloodType
	}
	if d.EmergencyContact != "" {
		p.EmergencyContact = d.EmergencyContact
	}
	return p
}

// StartRegistration opens the new-patient wizard. Without blank it needs
// an unmatched scan and prefills the form from the draft; with blank it
// starts an empty form from any stage.
func (s *Service) StartRegistration(ctx context.Context, id string, blank bool) (*Session, error) {
	if blank {
		s.runner.Cancel(id)
	}
	return s.sessions.update(ctx, id, func(sess *Session) error {
		if blank {
			sess.Wizard = registration.New()
			sess.Patient = nil
			sess.Medical = nil
			sess.Stage = StageRegistration
			return nil
		}

		if sess.Outcome == nil || sess.Draft == nil {
			return missingState("new-patient", recoverToScan)
		}
		if sess.Outcome.Matched {
			return ErrAlreadyMatched
		}
		if sess.Stage == StageRegistration && sess.Wizard != nil {
			return errSkipSave
		}
		if err := requireStage(sess, "register", StageVerification); err != nil {
			return err
		}
		sess.Wizard = registration.FromDraft(*sess.Draft)
		sess.Stage = StageRegistration
		return nil
	})
}

// Registration returns the session for the wizard screen.
func (s *Service) Registration(ctx context.Context, id string) (*Session, error) {
	sess, err := s.sessions.get(ctx, id)
	if err != nil {
		return nil, err
	}
	if sess.Wizard == nil {
		return nil, missingState("new-patient", recoverToScan)
	}
	return sess, nil
}

func (s *Service) editWizard(ctx context.Context, id, action string, fn func(*Session) error) (*Session, error) {
	return s.sessions.update(ctx, id, func(sess *Session) error {
		if sess.Wizard == nil {
			return missingState("new-patient", recoverToScan)
		}
		if err := requireStage(sess, action, StageRegistration); err != nil {
			return err
		}
		return fn(sess)
	})
}

func (s *Service) UpdateRegistration(ctx context.Context, id string, patch []byte) (*Session, error) {
	return s.editWizard(ctx, id, "edit form", func(sess *Session) error {
		return sess.Wizard.Update(patch)
	})
}

func (s *Service) NextStep(ctx context.Context, id string) (*Session, error) {
	return s.editWizard(ctx, id, "next", func(sess *Session) error {
		return sess.Wizard.Next()
	})
}

func (s *Service) PreviousStep(ctx context.Context, id string) (*Session, error) {
	return s.editWizard(ctx, id, "previous", func(sess *Session) error {
		return sess.Wizard.Previous()
	})
}

// SubmitRegistration registers the patient so later scans match and
// opens their records.
func (s *Service) SubmitRegistration(ctx context.Context, id string) (*Session, error) {
	sess, err := s.editWizard(ctx, id, "submit", func(sess *Session) error {
		for attempt := 0; ; attempt++ {
			w := *sess.Wizard
			p, err := w.Submit(s.ids.Next(), s.ids.Now())
			if err != nil {
				return err
			}
			err = s.registry.Register(ctx, p)
			if errors.Is(err, registry.ErrDuplicateID) && attempt+1 < maxIDAttempts {
				continue
			}
			if err != nil {
				return fmt.Errorf("register patient: %w", err)
			}
			sess.Wizard = &w
			sess.Patient = p
			sess.Medical = nil
			sess.RecordsTab = records.TabOverview
			sess.Stage = StageRecords
			return nil
		}
	})
	if err != nil {
		return nil, err
	}

	e := s.actorEvent(sess, events.TypePatientRegistered, nil)
	e.PatientID = sess.Patient.ID
	e.PatientName = sess.Patient.FullName
	s.publish(ctx, e)
	s.logger.Info().Str("session_id", id).Str("patient_id", sess.Patient.ID).Msg("patient registered")
	return sess, nil
}
