package auth

import (
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrPasswordMismatch   = errors.New("passwords do not match")
	ErrMissingFields      = errors.New("please fill in all required fields")
	ErrUnknownRole        = errors.New("unknown role")
	ErrEmailTaken         = errors.New("an account with this email already exists")
)

// Display roles. Registration accepts a wider set of job roles which map onto
// these four.
const (
	RoleDoctor = "doctor"
	RoleNurse  = "nurse"
	RoleAdmin  = "admin"
	RoleOther  = "other"
)

// RegistrationRoles are the job roles an applicant may pick.
var RegistrationRoles = []string{"doctor", "nurse", "admin", "technician", "radiologist", "pharmacist"}

// DisplayRole maps a job role onto doctor, nurse, admin or other.
func DisplayRole(role string) string {
	switch role {
	case RoleDoctor, RoleNurse, RoleAdmin:
		return role
	default:
		return RoleOther
	}
}

// User is an operator who can sign in.
type User struct {
	Email string `json:"email"`
	Name  string `json:"name"`
	Role  string `json:"role"`
}

// DemoUsers are the only accounts that can sign in.
var DemoUsers = []User{
	{Email: "sarah@hospital.com", Name: "Dr. Sarah Johnson", Role: RoleDoctor},
	{Email: "maria@hospital.com", Name: "Nurse Maria Garcia", Role: RoleNurse},
	{Email: "admin@hospital.com", Name: "Admin John Smith", Role: RoleAdmin},
}

type RegistrationRequest struct {
	FirstName       string `json:"first_name"`
	MiddleName      string `json:"middle_name"`
	LastName        string `json:"last_name"`
	Email           string `json:"email"`
	Password        string `json:"password"`
	ConfirmPassword string `json:"confirm_password"`
	Role            string `json:"role"`
	Department      string `json:"department"`
	LicenseNumber   string `json:"license_number"`
	Phone           string `json:"phone"`
	HospitalID      string `json:"hospital_id"`
}

// PendingAccount is an accepted registration awaiting approval. Pending
// accounts cannot sign in. The password is never retained.
type PendingAccount struct {
	ID            string    `json:"id"`
	FirstName     string    `json:"first_name"`
	MiddleName    string    `json:"middle_name,omitempty"`
	LastName      string    `json:"last_name"`
	Email         string    `json:"email"`
	Role          string    `json:"role"`
	DisplayRole   string    `json:"display_role"`
	Department    string    `json:"department,omitempty"`
	LicenseNumber string    `json:"license_number,omitempty"`
	Phone         string    `json:"phone,omitempty"`
	HospitalID    string    `json:"hospital_id,omitempty"`
	Status        string    `json:"status"`
	CreatedAt     time.Time `json:"created_at"`
}

// Authenticator checks demo credentials and records registrations.
type Authenticator struct {
	password string
	users    map[string]User

	mu      sync.RWMutex
	pending []PendingAccount
	now     func() time.Time
}

func NewAuthenticator(demoPassword string) *Authenticator {
	users := make(map[string]User, len(DemoUsers))
	for _, u := range DemoUsers {
		users[u.Email] = u
	}
	return &Authenticator{
		password: demoPassword,
		users:    users,
		now:      time.Now,
	}
}

// Login succeeds only for a demo account with the shared demo password.
func (a *Authenticator) Login(email, password string) (*User, error) {
	u, ok := a.users[email]
	if !ok || password != a.password {
		return nil, ErrInvalidCredentials
	}
	return &u, nil
}

// Lookup returns the demo account for email.
func (a *Authenticator) Lookup(email string) (*User, bool) {
	u, ok := a.users[email]
	if !ok {
		return nil, false
	}
	return &u, true
}

// Register validates a registration. The password confirmation is checked
// before required fields. Nothing is stored on error.
func (a *Authenticator) Register(req RegistrationRequest) (*PendingAccount, error) {
	if req.Password != req.ConfirmPassword {
		return nil, ErrPasswordMismatch
	}
	if req.FirstName == "" || req.LastName == "" || req.Email == "" || req.Password == "" || req.Role == "" {
		return nil, ErrMissingFields
	}
	if !validRegistrationRole(req.Role) {
		return nil, ErrUnknownRole
	}

	email := strings.TrimSpace(req.Email)

	a.mu.Lock()
	defer a.mu.Unlock()

	if _, ok := a.users[email]; ok {
		return nil, ErrEmailTaken
	}
	for _, p := range a.pending {
		if strings.EqualFold(p.Email, email) {
			return nil, ErrEmailTaken
		}
	}

	acct := PendingAccount{
		ID:            uuid.New().String(),
		FirstName:     req.FirstName,
		MiddleName:    req.MiddleName,
		LastName:      req.LastName,
		Email:         email,
		Role:          req.Role,
		DisplayRole:   DisplayRole(req.Role),
		Department:    req.Department,
		LicenseNumber: req.LicenseNumber,
		Phone:         req.Phone,
		HospitalID:    req.HospitalID,
		Status:        "pending",
		CreatedAt:     a.now().UTC(),
	}
	a.pending = append(a.pending, acct)
	return &acct, nil
}

// Pending returns a copy of the registrations awaiting approval.
func (a *Authenticator) Pending() []PendingAccount {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]PendingAccount, len(a.pending))
	copy(out, a.pending)
	return out
}

func validRegistrationRole(role string) bool {
	for _, r := range RegistrationRoles {
		if r == role {
			return true
		}
	}
	return false
}
