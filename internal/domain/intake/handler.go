package intake

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/mediscan/mediscan/internal/domain/records"
	"github.com/mediscan/mediscan/internal/domain/registration"
	"github.com/mediscan/mediscan/internal/domain/registry"
	"github.com/mediscan/mediscan/internal/platform/auth"
	"github.com/mediscan/mediscan/internal/platform/events"
	"github.com/mediscan/mediscan/internal/platform/session"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.POST("/intake/sessions", h.CreateSession)

	g := api.Group("/intake/sessions/:id", h.requireOperator)
	g.GET("", h.GetSession)
	g.DELETE("", h.DeleteSession)

	g.POST("/capture", h.Capture)
	g.POST("/upload", h.Upload)
	g.POST("/retake", h.Retake)

	g.POST("/process", h.Process)
	g.GET("/progress", h.GetProgress)

	g.GET("/ocr-results", h.GetReview)
	g.PUT("/ocr-results/fields/:field", h.SetField)
	g.PATCH("/ocr-results", h.PatchDraft)
	g.POST("/ocr-results/edit-mode", h.ToggleEditMode)
	g.POST("/ocr-results/confirm", h.Confirm)
	g.POST("/retry", h.Retry)

	g.GET("/verification-results", h.GetVerification)
	g.POST("/view-records", h.ViewRecords)
	g.POST("/visit-history", h.VisitHistory)

	g.POST("/new-patient", h.StartRegistration)
	g.GET("/new-patient", h.GetRegistration)
	g.PATCH("/new-patient", h.UpdateRegistration)
	g.POST("/new-patient/next", h.NextStep)
	g.POST("/new-patient/previous", h.PreviousStep)
	g.POST("/new-patient/submit", h.SubmitRegistration)

	g.GET("/patient-records", h.GetRecords)

	g.POST("/medical-information", h.OpenMedical)
	g.GET("/medical-information", h.GetMedical)
	g.POST("/medical-information/save", h.SaveMedical)
	g.PUT("/medical-information/remarks", h.SetRemarks)
	g.POST("/medical-information/:section", h.AddMedicalEntry)
	g.DELETE("/medical-information/:section/:entry_id", h.RemoveMedicalEntry)
}

// canView reports whether the operator on ctx may see sess. Admins see
// every session.
func canView(ctx context.Context, sess *Session) bool {
	return auth.RoleFromContext(ctx) == auth.RoleAdmin || sess.Operator == auth.UserIDFromContext(ctx)
}

// requireOperator hides sessions from everyone but the operator who opened
// them.
func (h *Handler) requireOperator(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		sess, err := h.svc.Get(ctx, c.Param("id"))
		if err != nil {
			return httpError(err)
		}
		if !canView(ctx, sess) {
			return httpError(ErrNotFound)
		}
		return next(c)
	}
}

// AuthorizeTopic decides websocket subscriptions: every operator may follow
// the dashboard, and a session topic only by whoever may see the session.
func (h *Handler) AuthorizeTopic(ctx context.Context, topic string) bool {
	if topic == events.DashboardTopic {
		return true
	}
	id, ok := strings.CutPrefix(topic, events.SessionTopic(""))
	if !ok || id == "" {
		return false
	}
	sess, err := h.svc.Get(ctx, id)
	if err != nil {
		return false
	}
	return canView(ctx, sess)
}

// httpError maps workflow errors onto HTTP responses.
func httpError(err error) error {
	var missingState *MissingStateError
	if errors.As(err, &missingState) {
		return echo.NewHTTPError(http.StatusNotFound, map[string]interface{}{
			"error":    "no patient data found",
			"stage":    missingState.Stage,
			"recovery": missingState.Recovery,
		})
	}
	var missingFields *MissingFieldsError
	if errors.As(err, &missingFields) {
		return echo.NewHTTPError(http.StatusUnprocessableEntity, map[string]interface{}{
			"error":          "Please fill in all required fields",
			"missing_fields": missingFields.Fields,
		})
	}
	var stepFields *registration.MissingFieldsError
	if errors.As(err, &stepFields) {
		return echo.NewHTTPError(http.StatusUnprocessableEntity, map[string]interface{}{
			"error":          stepFields.Unwrap().Error(),
			"step":           stepFields.Step,
			"missing_fields": stepFields.Fields,
		})
	}
	var entryFields *records.IncompleteEntryError
	if errors.As(err, &entryFields) {
		return echo.NewHTTPError(http.StatusUnprocessableEntity, map[string]interface{}{
			"error":          records.ErrEntryIncomplete.Error(),
			"section":        entryFields.Section,
			"missing_fields": entryFields.Fields,
		})
	}

	switch {
	case errors.Is(err, ErrNotFound), errors.Is(err, records.ErrEntryNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, ErrInvalidTransition),
		errors.Is(err, ErrNotMatched),
		errors.Is(err, ErrAlreadyMatched),
		errors.Is(err, registration.ErrInvalidStep),
		errors.Is(err, session.ErrLockTaken):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, ErrInvalidImage),
		errors.Is(err, ErrInvalidPatch),
		errors.Is(err, registry.ErrUnknownField),
		errors.Is(err, registration.ErrInvalidForm),
		errors.Is(err, records.ErrUnknownTab),
		errors.Is(err, records.ErrUnknownSection),
		errors.Is(err, records.ErrInvalidEntry),
		errors.Is(err, records.ErrInvalidStatus):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	// The cause stays in the request log.
	return echo.NewHTTPError(http.StatusInternalServerError, "internal server error").SetInternal(err)
}

func readBody(c echo.Context) ([]byte, error) {
	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return nil, echo.NewHTTPError(http.StatusBadRequest, "could not read request body")
	}
	if len(body) == 0 {
		return nil, echo.NewHTTPError(http.StatusBadRequest, "request body is required")
	}
	return body, nil
}

// -- Session --

func (h *Handler) CreateSession(c echo.Context) error {
	ctx := c.Request().Context()
	sess, err := h.svc.Create(ctx, auth.UserIDFromContext(ctx))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, sess)
}

func (h *Handler) GetSession(c echo.Context) error {
	sess, err := h.svc.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, sess)
}

func (h *Handler) DeleteSession(c echo.Context) error {
	if err := h.svc.Delete(c.Request().Context(), c.Param("id")); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

// -- Capture --

type captureResponse struct {
	Message string   `json:"message"`
	DataURL string   `json:"data_url"`
	Session *Session `json:"session"`
}

func (h *Handler) Capture(c echo.Context) error {
	sess, dataURL, err := h.svc.Capture(c.Request().Context(), c.Param("id"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, captureResponse{
		Message: "Patient ID photo captured successfully",
		DataURL: dataURL,
		Session: sess,
	})
}

func (h *Handler) Upload(c echo.Context) error {
	fh, err := c.FormFile("file")
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "file is required")
	}
	f, err := fh.Open()
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "could not read uploaded file")
	}
	defer f.Close()

	sess, dataURL, err := h.svc.Upload(c.Request().Context(), c.Param("id"), fh.Filename, fh.Header.Get(echo.HeaderContentType), f)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, captureResponse{
		Message: "Patient ID image uploaded successfully",
		DataURL: dataURL,
		Session: sess,
	})
}

func (h *Handler) Retake(c echo.Context) error {
	sess, err := h.svc.Retake(c.Request().Context(), c.Param("id"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, sess)
}

// -- Extraction --

type progressView struct {
	Stage      Stage  `json:"stage"`
	RunID      string `json:"run_id,omitempty"`
	Step       string `json:"step"`
	Progress   int    `json:"progress"`
	TotalSteps int    `json:"total_steps"`
	LastError  string `json:"last_error,omitempty"`
}

func newProgressView(s *Session) progressView {
	return progressView{
		Stage:      s.Stage,
		RunID:      s.Progress.RunID,
		Step:       s.Progress.Step,
		Progress:   s.Progress.Percent,
		TotalSteps: len(ExtractionSteps),
		LastError:  s.LastError,
	}
}

func (h *Handler) Process(c echo.Context) error {
	sess, err := h.svc.Process(c.Request().Context(), c.Param("id"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusAccepted, newProgressView(sess))
}

func (h *Handler) GetProgress(c echo.Context) error {
	sess, err := h.svc.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, newProgressView(sess))
}

// -- Review --

type reviewView struct {
	Draft         *registry.Draft `json:"draft"`
	Scanned       *registry.Draft `json:"scanned,omitempty"`
	Confidence    *Confidence     `json:"confidence,omitempty"`
	LowConfidence bool            `json:"low_confidence"`
	EditMode      bool            `json:"edit_mode"`
	CanConfirm    bool            `json:"can_confirm"`
	MissingFields []string        `json:"missing_fields"`
	Stage         Stage           `json:"stage"`
}

func newReviewView(s *Session) reviewView {
	missing := s.Draft.Missing()
	if missing == nil {
		missing = []string{}
	}
	v := reviewView{
		Draft:         s.Draft,
		Scanned:       s.Scanned,
		Confidence:    s.Confidence,
		EditMode:      s.EditMode,
		CanConfirm:    len(missing) == 0,
		MissingFields: missing,
		Stage:         s.Stage,
	}
	if s.Confidence != nil {
		v.LowConfidence = s.Confidence.Low()
	}
	return v
}

func (h *Handler) GetReview(c echo.Context) error {
	sess, err := h.svc.Review(c.Request().Context(), c.Param("id"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, newReviewView(sess))
}

type setFieldRequest struct {
	Value string `json:"value"`
}

func (h *Handler) SetField(c echo.Context) error {
	var req setFieldRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	sess, err := h.svc.SetField(c.Request().Context(), c.Param("id"), c.Param("field"), req.Value)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, newReviewView(sess))
}

func (h *Handler) PatchDraft(c echo.Context) error {
	body, err := readBody(c)
	if err != nil {
		return err
	}
	sess, err := h.svc.PatchDraft(c.Request().Context(), c.Param("id"), body)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, newReviewView(sess))
}

func (h *Handler) ToggleEditMode(c echo.Context) error {
	sess, err := h.svc.ToggleEditMode(c.Request().Context(), c.Param("id"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, newReviewView(sess))
}

func (h *Handler) Confirm(c echo.Context) error {
	sess, err := h.svc.Confirm(c.Request().Context(), c.Param("id"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, newVerificationView(sess))
}

func (h *Handler) Retry(c echo.Context) error {
	sess, err := h.svc.Retry(c.Request().Context(), c.Param("id"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, sess)
}

// -- Verification --

type verificationView struct {
	PatientData     *registry.Draft   `json:"patient_data"`
	Outcome         *registry.Outcome `json:"outcome"`
	IsNewPatient    bool              `json:"is_new_patient"`
	ExistingPatient *registry.Summary `json:"existing_patient,omitempty"`
	Stage           Stage             `json:"stage"`
}

func newVerificationView(s *Session) verificationView {
	return verificationView{
		PatientData:     s.Draft,
		Outcome:         s.Outcome,
		IsNewPatient:    !s.Outcome.Matched,
		ExistingPatient: s.Outcome.Patient,
		Stage:           s.Stage,
	}
}

func (h *Handler) GetVerification(c echo.Context) error {
	sess, err := h.svc.Verification(c.Request().Context(), c.Param("id"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, newVerificationView(sess))
}

func (h *Handler) ViewRecords(c echo.Context) error {
	ctx := c.Request().Context()
	if _, err := h.svc.ViewRecords(ctx, c.Param("id")); err != nil {
		return httpError(err)
	}
	return h.renderRecords(c, "")
}

func (h *Handler) VisitHistory(c echo.Context) error {
	ctx := c.Request().Context()
	if _, err := h.svc.VisitHistory(ctx, c.Param("id")); err != nil {
		return httpError(err)
	}
	return h.renderRecords(c, "")
}

// -- New patient --

type wizardView struct {
	Step          registration.Step `json:"step"`
	StepNumber    int               `json:"step_number"`
	TotalSteps    int               `json:"total_steps"`
	Title         string            `json:"title"`
	Progress      int               `json:"progress"`
	Form          registration.Form `json:"form"`
	Seeded        bool              `json:"seeded"`
	CanNext       bool              `json:"can_next"`
	CanSubmit     bool              `json:"can_submit"`
	MissingFields []string          `json:"missing_fields"`
}

func newWizardView(w *registration.Wizard) wizardView {
	total := len(registration.Steps)
	n := w.Step.Number()
	missing := w.Form.Missing(w.Step)
	if missing == nil {
		missing = []string{}
	}
	progress := 100
	if n > 0 {
		progress = n * 100 / total
	}
	return wizardView{
		Step:          w.Step,
		StepNumber:    n,
		TotalSteps:    total,
		Title:         w.Step.Title(),
		Progress:      progress,
		Form:          w.Form,
		Seeded:        w.Seeded,
		CanNext:       w.CanNext(),
		CanSubmit:     w.CanSubmit(),
		MissingFields: missing,
	}
}

func (h *Handler) StartRegistration(c echo.Context) error {
	blank, _ := strconv.ParseBool(c.QueryParam("blank"))
	sess, err := h.svc.StartRegistration(c.Request().Context(), c.Param("id"), blank)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, newWizardView(sess.Wizard))
}

func (h *Handler) GetRegistration(c echo.Context) error {
	sess, err := h.svc.Registration(c.Request().Context(), c.Param("id"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, newWizardView(sess.Wizard))
}

func (h *Handler) UpdateRegistration(c echo.Context) error {
	body, err := readBody(c)
	if err != nil {
		return err
	}
	sess, err := h.svc.UpdateRegistration(c.Request().Context(), c.Param("id"), body)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, newWizardView(sess.Wizard))
}

func (h *Handler) NextStep(c echo.Context) error {
	sess, err := h.svc.NextStep(c.Request().Context(), c.Param("id"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, newWizardView(sess.Wizard))
}

func (h *Handler) PreviousStep(c echo.Context) error {
	sess, err := h.svc.PreviousStep(c.Request().Context(), c.Param("id"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, newWizardView(sess.Wizard))
}

func (h *Handler) SubmitRegistration(c echo.Context) error {
	sess, err := h.svc.SubmitRegistration(c.Request().Context(), c.Param("id"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, map[string]interface{}{
		"message":  "New patient has been registered in the system.",
		"patient":  sess.Patient,
		"redirect": "/patient-records",
	})
}

// -- Records --

func (h *Handler) GetRecords(c echo.Context) error {
	return h.renderRecords(c, c.QueryParam("tab"))
}

func (h *Handler) renderRecords(c echo.Context, tab string) error {
	view, err := h.svc.Records(c.Request().Context(), c.Param("id"), tab)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, view)
}

// -- Medical information --

type medicalView struct {
	Patient            *registry.Patient `json:"patient"`
	MedicalInformation *records.Bundle   `json:"medical_information"`
}

func (h *Handler) OpenMedical(c echo.Context) error {
	sess, err := h.svc.OpenMedical(c.Request().Context(), c.Param("id"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, medicalView{Patient: sess.Patient, MedicalInformation: sess.Medical})
}

func (h *Handler) GetMedical(c echo.Context) error {
	sess, err := h.svc.Medical(c.Request().Context(), c.Param("id"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, medicalView{Patient: sess.Patient, MedicalInformation: sess.Medical})
}

func (h *Handler) AddMedicalEntry(c echo.Context) error {
	section, err := records.ParseSection(c.Param("section"))
	if err != nil {
		return httpError(err)
	}
	body, err := readBody(c)
	if err != nil {
		return err
	}
	entryID, sess, err := h.svc.AddMedicalEntry(c.Request().Context(), c.Param("id"), section, body)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, map[string]interface{}{
		"id":                  entryID,
		"medical_information": sess.Medical,
	})
}

func (h *Handler) RemoveMedicalEntry(c echo.Context) error {
	section, err := records.ParseSection(c.Param("section"))
	if err != nil {
		return httpError(err)
	}
	entryID, err := strconv.ParseInt(c.Param("entry_id"), 10, 64)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "entry_id must be a number")
	}
	sess, err := h.svc.RemoveMedicalEntry(c.Request().Context(), c.Param("id"), section, entryID)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, medicalView{Patient: sess.Patient, MedicalInformation: sess.Medical})
}

type remarksRequest struct {
	Remarks string `json:"remarks"`
}

func (h *Handler) SetRemarks(c echo.Context) error {
	var req remarksRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	sess, err := h.svc.SetRemarks(c.Request().Context(), c.Param("id"), req.Remarks)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, medicalView{Patient: sess.Patient, MedicalInformation: sess.Medical})
}

func (h *Handler) SaveMedical(c echo.Context) error {
	sess, err := h.svc.SaveMedical(c.Request().Context(), c.Param("id"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"message":             "Patient medical information has been successfully saved.",
		"patient":             sess.Patient,
		"medical_information": sess.Medical,
		"redirect":            "/patient-records",
	})
}
