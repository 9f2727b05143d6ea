// Package intake runs the patient intake workflow: capture an ID image,
// extract its fields, review them, match against the registry and resolve
// to an existing or newly registered patient. All hand-off state lives in
// an explicit Session kept in a session.Store.
package intake

import (
	"errors"
	"fmt"
	"time"

	"github.com/mediscan/mediscan/internal/domain/records"
	"github.com/mediscan/mediscan/internal/domain/registration"
	"github.com/mediscan/mediscan/internal/domain/registry"
)

var (
	ErrNotFound          = errors.New("intake session not found")
	ErrInvalidTransition = errors.New("action not allowed in the current stage")
	ErrNotMatched        = errors.New("scan did not match an existing patient")
	ErrAlreadyMatched    = errors.New("scan matched an existing patient")
)

type Stage string

const (
	StageCapture            Stage = "capture"
	StageCaptured           Stage = "captured"
	StageProcessing         Stage = "processing"
	StageReview             Stage = "review"
	StageVerification       Stage = "verification"
	StageRegistration       Stage = "registration"
	StageRecords            Stage = "records"
	StageMedicalInformation Stage = "medical_information"
)

// Image references the captured ID image in the blob store.
type Image struct {
	BlobID      string `json:"blob_id"`
	FileName    string `json:"file_name"`
	ContentType string `json:"content_type"`
	Size        int64  `json:"size"`
	Source      string `json:"source"`
}

// Image sources.
const (
	SourceCamera = "camera"
	SourceUpload = "upload"
)

// Progress is the state of the current extraction run.
type Progress struct {
	RunID     string     `json:"run_id,omitempty"`
	Step      string     `json:"step"`
	Percent   int        `json:"progress"`
	StartedAt *time.Time `json:"started_at,omitempty"`
}

// Session is the hand-off record carried between stages.
type Session struct {
	ID         string               `json:"id"`
	Operator   string               `json:"operator"`
	Stage      Stage                `json:"stage"`
	Image      *Image               `json:"image,omitempty"`
	Progress   Progress             `json:"extraction"`
	Draft      *registry.Draft      `json:"draft,omitempty"`
	Scanned    *registry.Draft      `json:"scanned,omitempty"`
	Confidence *Confidence          `json:"confidence,omitempty"`
	EditMode   bool                 `json:"edit_mode"`
	Outcome    *registry.Outcome    `json:"outcome,omitempty"`
	Wizard     *registration.Wizard `json:"wizard,omitempty"`
	Patient    *registry.Patient    `json:"patient,omitempty"`
	RecordsTab records.Tab          `json:"records_tab,omitempty"`
	Medical    *records.Bundle      `json:"medical_information,omitempty"`
	LastError  string               `json:"last_error,omitempty"`
	CreatedAt  time.Time            `json:"created_at"`
	UpdatedAt  time.Time            `json:"updated_at"`
}

// clearScan drops everything derived from the current image.
func (s *Session) clearScan() {
	s.Image = nil
	s.Progress = Progress{}
	s.Draft = nil
	s.Scanned = nil
	s.Confidence = nil
	s.EditMode = false
	s.Outcome = nil
	s.Wizard = nil
	s.LastError = ""
}

// Recovery is the single action offered when a stage is reached without the
// state it needs.
type Recovery struct {
	Label string `json:"label"`
	Path  string `json:"path"`
}

var (
	recoverToScan = Recovery{Label: "Go to Scan Page", Path: "/scan"}
	recoverBack   = Recovery{Label: "Go Back", Path: "back"}
)

// MissingStateError is returned when a stage is opened before the earlier
// stages produced what it displays.
type MissingStateError struct {
	Stage    string
	Recovery Recovery
}

func (e *MissingStateError) Error() string {
	return fmt.Sprintf("no patient data found for %s", e.Stage)
}

func missingState(stage string, r Recovery) error {
	return &MissingStateError{Stage: stage, Recovery: r}
}

// StageError reports an action attempted in the wrong stage.
type StageError struct {
	Action string
	Stage  Stage
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s is not allowed in stage %s", e.Action, e.Stage)
}

func (e *StageError) Unwrap() error { return ErrInvalidTransition }

// requireStage returns a StageError unless s is in one of allowed.
func requireStage(s *Session, action string, allowed ...Stage) error {
	for _, st := range allowed {
		if s.Stage == st {
			return nil
		}
	}
	return &StageError{Action: action, Stage: s.Stage}
}

// MissingFieldsError lists required draft fields that are empty.
type MissingFieldsError struct {
	Fields []string
}

func (e *MissingFieldsError) Error() string {
	return fmt.Sprintf("missing required fields: %v", e.Fields)
}
