package registry

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

func newTestHandler(t *testing.T) (*Handler, *echo.Echo) {
	t.Helper()
	return NewHandler(newTestService(t)), echo.New()
}

func TestHandler_SearchPatients(t *testing.T) {
	h, e := newTestHandler(t)
	req := httptest.NewRequest(http.MethodGet, "/patients?q=diabetes", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := h.SearchPatients(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var body struct {
		Data  []Hit `json:"data"`
		Total int   `json:"total"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if body.Total != 1 || body.Data[0].ID != DemoPatientID {
		t.Errorf("unexpected result %+v", body)
	}
}

func TestHandler_SearchPatientsRequiresQuery(t *testing.T) {
	h, e := newTestHandler(t)
	for _, target := range []string{"/patients", "/patients?q=", "/patients?q=%20%20%09"} {
		c := e.NewContext(httptest.NewRequest(http.MethodGet, target, nil), httptest.NewRecorder())

		err := h.SearchPatients(c)
		httpErr, ok := err.(*echo.HTTPError)
		if !ok || httpErr.Code != http.StatusBadRequest {
			t.Errorf("%s: expected 400, got %v", target, err)
		}
	}
}

// brokenRepo fails every query.
type brokenRepo struct{ Repository }

func (brokenRepo) Find(context.Context, string) ([]*Patient, error) {
	return nil, errors.New("dial tcp 10.0.0.5:5432: connection refused")
}

func (brokenRepo) Get(context.Context, string) (*Patient, error) {
	return nil, errors.New("dial tcp 10.0.0.5:5432: connection refused")
}

func TestHandler_StorageErrorsStayInternal(t *testing.T) {
	h := NewHandler(NewService(brokenRepo{}, zerolog.Nop()))
	e := echo.New()

	search := e.NewContext(httptest.NewRequest(http.MethodGet, "/patients?q=maria", nil), httptest.NewRecorder())
	get := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), httptest.NewRecorder())
	get.SetParamNames("id")
	get.SetParamValues(DemoPatientID)

	for name, err := range map[string]error{"search": h.SearchPatients(search), "get": h.GetPatient(get)} {
		httpErr, ok := err.(*echo.HTTPError)
		if !ok || httpErr.Code != http.StatusInternalServerError {
			t.Fatalf("%s: expected 500, got %v", name, err)
		}
		if msg, _ := httpErr.Message.(string); strings.Contains(msg, "10.0.0.5") {
			t.Errorf("%s: storage error leaked to the client: %q", name, msg)
		}
		if httpErr.Internal == nil {
			t.Errorf("%s: expected the cause to be kept for the request log", name)
		}
	}
}

func TestHandler_GetPatient(t *testing.T) {
	h, e := newTestHandler(t)

	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), rec)
	c.SetParamNames("id")
	c.SetParamValues(DemoPatientID)
	if err := h.GetPatient(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var p Patient
	json.Unmarshal(rec.Body.Bytes(), &p)
	if p.ID != DemoPatientID || p.TotalVisits != 12 {
		t.Errorf("unexpected patient %+v", p)
	}

	c = e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), httptest.NewRecorder())
	c.SetParamNames("id")
	c.SetParamValues("PT-0000-000000")
	err := h.GetPatient(c)
	httpErr, ok := err.(*echo.HTTPError)
	if !ok || httpErr.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %v", err)
	}
}
