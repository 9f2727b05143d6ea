package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
)

func contextWithRole(role string) echo.Context {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req = req.WithContext(context.WithValue(req.Context(), UserRoleKey, role))
	return e.NewContext(req, httptest.NewRecorder())
}

func TestRequireRole(t *testing.T) {
	tests := []struct {
		name    string
		role    string
		require []string
		allowed bool
	}{
		{"matching role", RoleNurse, []string{RoleNurse}, true},
		{"one of several", RoleDoctor, []string{RoleNurse, RoleDoctor}, true},
		{"admin bypass", RoleAdmin, []string{RoleDoctor}, true},
		{"denied", RoleOther, []string{RoleDoctor}, false},
		{"no role", "", []string{RoleDoctor}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := RequireRole(tt.require...)(okHandler)(contextWithRole(tt.role))
			if tt.allowed && err != nil {
				t.Fatalf("expected access, got %v", err)
			}
			if !tt.allowed {
				httpErr, ok := err.(*echo.HTTPError)
				if !ok || httpErr.Code != http.StatusForbidden {
					t.Fatalf("expected 403, got %v", err)
				}
			}
		})
	}
}
