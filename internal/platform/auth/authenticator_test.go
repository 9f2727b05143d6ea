package auth

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
)

func TestAuthenticator_Login(t *testing.T) {
	a := NewAuthenticator("demo123")

	tests := []struct {
		email    string
		password string
		want     *User
	}{
		{"sarah@hospital.com", "demo123", &User{Email: "sarah@hospital.com", Name: "Dr. Sarah Johnson", Role: RoleDoctor}},
		{"maria@hospital.com", "demo123", &User{Email: "maria@hospital.com", Name: "Nurse Maria Garcia", Role: RoleNurse}},
		{"admin@hospital.com", "demo123", &User{Email: "admin@hospital.com", Name: "Admin John Smith", Role: RoleAdmin}},
		{"sarah@hospital.com", "wrong", nil},
		{"nobody@hospital.com", "demo123", nil},
		{"", "", nil},
	}

	for _, tt := range tests {
		t.Run(tt.email+"/"+tt.password, func(t *testing.T) {
			got, err := a.Login(tt.email, tt.password)
			if tt.want == nil {
				if !errors.Is(err, ErrInvalidCredentials) {
					t.Fatalf("expected ErrInvalidCredentials, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Login: %v", err)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("user mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func validRegistration() RegistrationRequest {
	return RegistrationRequest{
		FirstName:       "Paolo",
		LastName:        "Reyes",
		Email:           "paolo@hospital.com",
		Password:        "s3cret",
		ConfirmPassword: "s3cret",
		Role:            "radiologist",
		Department:      "Imaging",
	}
}

func TestAuthenticator_Register(t *testing.T) {
	a := NewAuthenticator("demo123")

	acct, err := a.Register(validRegistration())
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	want := &PendingAccount{
		FirstName:   "Paolo",
		LastName:    "Reyes",
		Email:       "paolo@hospital.com",
		Role:        "radiologist",
		DisplayRole: RoleOther,
		Department:  "Imaging",
		Status:      "pending",
	}
	if diff := cmp.Diff(want, acct, cmpopts.IgnoreFields(PendingAccount{}, "ID", "CreatedAt")); diff != "" {
		t.Errorf("account mismatch (-want +got):\n%s", diff)
	}
	if len(a.Pending()) != 1 {
		t.Errorf("expected 1 pending account, got %d", len(a.Pending()))
	}

	if _, err := a.Login("paolo@hospital.com", "s3cret"); !errors.Is(err, ErrInvalidCredentials) {
		t.Error("expected pending account to be unable to sign in")
	}
}

func TestAuthenticator_RegisterValidation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*RegistrationRequest)
		want   error
	}{
		{"password mismatch", func(r *RegistrationRequest) { r.ConfirmPassword = "other" }, ErrPasswordMismatch},
		// The mismatch is reported even when required fields are also missing.
		{"mismatch before missing", func(r *RegistrationRequest) { r.FirstName = ""; r.ConfirmPassword = "x" }, ErrPasswordMismatch},
		{"missing first name", func(r *RegistrationRequest) { r.FirstName = "" }, ErrMissingFields},
		{"missing last name", func(r *RegistrationRequest) { r.LastName = "" }, ErrMissingFields},
		{"missing email", func(r *RegistrationRequest) { r.Email = "" }, ErrMissingFields},
		{"missing password", func(r *RegistrationRequest) { r.Password = ""; r.ConfirmPassword = "" }, ErrMissingFields},
		{"missing role", func(r *RegistrationRequest) { r.Role = "" }, ErrMissingFields},
		{"unknown role", func(r *RegistrationRequest) { r.Role = "janitor" }, ErrUnknownRole},
		{"demo email", func(r *RegistrationRequest) { r.Email = "sarah@hospital.com" }, ErrEmailTaken},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := NewAuthenticator("demo123")
			req := validRegistration()
			tt.mutate(&req)

			if _, err := a.Register(req); !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
			if len(a.Pending()) != 0 {
				t.Error("expected nothing stored on a rejected registration")
			}
		})
	}
}

func TestAuthenticator_RegisterDuplicate(t *testing.T) {
	a := NewAuthenticator("demo123")
	if _, err := a.Register(validRegistration()); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if _, err := a.Register(validRegistration()); !errors.Is(err, ErrEmailTaken) {
		t.Errorf("expected ErrEmailTaken, got %v", err)
	}
}

func TestDisplayRole(t *testing.T) {
	for role, want := range map[string]string{
		"doctor":      RoleDoctor,
		"nurse":       RoleNurse,
		"admin":       RoleAdmin,
		"technician":  RoleOther,
		"radiologist": RoleOther,
		"pharmacist":  RoleOther,
	} {
		if got := DisplayRole(role); got != want {
			t.Errorf("DisplayRole(%s) = %s, want %s", role, got, want)
		}
	}
}
