package auth

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

func newTestHandler(t *testing.T) (*Handler, *echo.Echo) {
	t.Helper()
	revocations := NewTokenRevocationStore()
	t.Cleanup(revocations.Close)

	h := NewHandler(
		NewAuthenticator("demo123"),
		NewTokenIssuer(testSigningKey, "mediscan", time.Hour),
		revocations,
		zerolog.Nop(),
	)
	e := echo.New()
	api := e.Group("/api/v1")
	api.Use(h.tokens.Middleware(AuthSkipper, revocations))
	h.RegisterRoutes(api)
	return h, e
}

func doJSON(e *echo.Echo, method, path, body, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func login(t *testing.T, e *echo.Echo, email string) string {
	t.Helper()
	rec := doJSON(e, http.MethodPost, "/api/v1/auth/login", `{"email":"`+email+`","password":"demo123"}`, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("login: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp loginResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.Token == "" {
		t.Fatal("expected a token")
	}
	return resp.Token
}

func TestHandler_LoginMeLogout(t *testing.T) {
	_, e := newTestHandler(t)
	token := login(t, e, "maria@hospital.com")

	rec := doJSON(e, http.MethodGet, "/api/v1/auth/me", "", token)
	if rec.Code != http.StatusOK {
		t.Fatalf("me: expected 200, got %d", rec.Code)
	}
	var me User
	json.Unmarshal(rec.Body.Bytes(), &me)
	if me.Name != "Nurse Maria Garcia" || me.Role != RoleNurse {
		t.Errorf("unexpected identity %+v", me)
	}

	rec = doJSON(e, http.MethodPost, "/api/v1/auth/logout", "", token)
	if rec.Code != http.StatusOK {
		t.Fatalf("logout: expected 200, got %d", rec.Code)
	}

	rec = doJSON(e, http.MethodGet, "/api/v1/auth/me", "", token)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected revoked token to be rejected, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"redirect":"/login"`) {
		t.Errorf("expected redirect to /login, got %s", rec.Body.String())
	}
}

func TestHandler_LoginFailure(t *testing.T) {
	_, e := newTestHandler(t)
	rec := doJSON(e, http.MethodPost, "/api/v1/auth/login", `{"email":"sarah@hospital.com","password":"nope"}`, "")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestHandler_UnauthenticatedRedirects(t *testing.T) {
	_, e := newTestHandler(t)
	rec := doJSON(e, http.MethodGet, "/api/v1/auth/me", "", "")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
	var body map[string]string
	json.Unmarshal(rec.Body.Bytes(), &body)
	if body["redirect"] != "/login" {
		t.Errorf("expected redirect /login, got %v", body)
	}
}

func TestHandler_Register(t *testing.T) {
	_, e := newTestHandler(t)

	rec := doJSON(e, http.MethodPost, "/api/v1/auth/register",
		`{"first_name":"Paolo","last_name":"Reyes","email":"paolo@hospital.com","password":"x","confirm_password":"y","role":"nurse"}`, "")
	if rec.Code != http.StatusBadRequest || !strings.Contains(rec.Body.String(), "Passwords do not match") {
		t.Fatalf("expected password mismatch, got %d %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(e, http.MethodPost, "/api/v1/auth/register",
		`{"first_name":"Paolo","email":"paolo@hospital.com","password":"x","confirm_password":"x","role":"nurse"}`, "")
	if rec.Code != http.StatusBadRequest || !strings.Contains(rec.Body.String(), "Please fill in all required fields") {
		t.Fatalf("expected missing fields, got %d %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(e, http.MethodPost, "/api/v1/auth/register",
		`{"first_name":"Paolo","last_name":"Reyes","email":"paolo@hospital.com","password":"x","confirm_password":"x","role":"nurse"}`, "")
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d %s", rec.Code, rec.Body.String())
	}
}

func TestHandler_RegistrationsAdminOnly(t *testing.T) {
	_, e := newTestHandler(t)

	rec := doJSON(e, http.MethodGet, "/api/v1/auth/registrations", "", login(t, e, "sarah@hospital.com"))
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for a doctor, got %d", rec.Code)
	}

	rec = doJSON(e, http.MethodGet, "/api/v1/auth/registrations", "", login(t, e, "admin@hospital.com"))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for an admin, got %d", rec.Code)
	}
}
