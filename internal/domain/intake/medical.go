package intake

import (
	"context"

	"github.com/mediscan/mediscan/internal/domain/records"
	"github.com/mediscan/mediscan/internal/platform/events"
)

// Records renders one tab of the resolved patient's records. An empty tab
// uses the tab the session was opened on.
func (s *Service) Records(ctx context.Context, id, tab string) (*records.View, error) {
	sess, err := s.sessions.get(ctx, id)
	if err != nil {
		return nil, err
	}
	if sess.Patient == nil {
		return nil, missingState("patient-records", recoverBack)
	}

	if tab == "" {
		tab = string(sess.RecordsTab)
	}
	t, err := records.ParseTab(tab)
	if err != nil {
		return nil, err
	}

	var saved *records.Bundle
	if sess.Medical != nil && sess.Medical.SavedAt != nil {
		saved = sess.Medical
	}
	return records.Render(sess.Patient, t, saved)
}

// OpenMedical starts (or resumes) the medical information editor for the
// resolved patient.
func (s *Service) OpenMedical(ctx context.Context, id string) (*Session, error) {
	return s.sessions.update(ctx, id, func(sess *Session) error {
		if sess.Patient == nil {
			return missingState("medical-information", recoverToScan)
		}
		if sess.Medical == nil {
			sess.Medical = records.NewBundle()
		}
		sess.Stage = StageMedicalInformation
		return nil
	})
}

// Medical returns the session for the editor screen.
func (s *Service) Medical(ctx context.Context, id string) (*Session, error) {
	sess, err := s.sessions.get(ctx, id)
	if err != nil {
		return nil, err
	}
	if sess.Patient == nil || sess.Medical == nil {
		return nil, missingState("medical-information", recoverToScan)
	}
	return sess, nil
}

func (s *Service) editMedical(ctx context.Context, id, action string, fn func(*Session) error) (*Session, error) {
	return s.sessions.update(ctx, id, func(sess *Session) error {
		if sess.Patient == nil || sess.Medical == nil {
			return missingState("medical-information", recoverToScan)
		}
		if err := requireStage(sess, action, StageMedicalInformation); err != nil {
			return err
		}
		return fn(sess)
	})
}

// AddMedicalEntry appends an entry to a section and returns its id.
func (s *Service) AddMedicalEntry(ctx context.Context, id string, section records.Section, entry []byte) (int64, *Session, error) {
	var entryID int64
	sess, err := s.editMedical(ctx, id, "add entry", func(sess *Session) error {
		var err error
		entryID, err = sess.Medical.AddEntry(section, entry, s.now())
		return err
	})
	if err != nil {
		return 0, nil, err
	}
	return entryID, sess, nil
}

func (s *Service) RemoveMedicalEntry(ctx context.Context, id string, section records.Section, entryID int64) (*Session, error) {
	return s.editMedical(ctx, id, "remove entry", func(sess *Session) error {
		return sess.Medical.RemoveEntry(section, entryID)
	})
}

func (s *Service) SetRemarks(ctx context.Context, id, remarks string) (*Session, error) {
	return s.editMedical(ctx, id, "edit remarks", func(sess *Session) error {
		sess.Medical.SetRemarks(remarks)
		return nil
	})
}

// SaveMedical attaches the bundle to the patient for this session and
// returns to the records view. Nothing is written to the registry.
func (s *Service) SaveMedical(ctx context.Context, id string) (*Session, error) {
	sess, err := s.editMedical(ctx, id, "save", func(sess *Session) error {
		now := s.now().UTC()
		sess.Medical.SavedAt = &now
		sess.RecordsTab = records.TabOverview
		sess.Stage = StageRecords
		return nil
	})
	if err != nil {
		return nil, err
	}

	e := s.actorEvent(sess, events.TypeMedicalInfoSaved, map[string]int{"entries": sess.Medical.Len()})
	e.PatientID = sess.Patient.ID
	e.PatientName = sess.Patient.FullName
	s.publish(ctx, e)
	return sess, nil
}
