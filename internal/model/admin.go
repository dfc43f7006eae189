package model

import (
	"strings"
	"time"
)

// AdminUser is an operator account stored in the account directory. Every
// admin carries identical authority; there are no roles.
type AdminUser struct {
	ID                  int64      `json:"id" db:"id"`
	Email               string     `json:"email" db:"email"`
	Username            string     `json:"username" db:"username"`
	PasswordHash        string     `json:"-" db:"password_hash"`
	PasswordAlgorithm   string     `json:"-" db:"password_algorithm"`
	PasswordVersion     int        `json:"-" db:"password_version"`
	IsActive            bool       `json:"isActive" db:"is_active"`
	FailedLoginAttempts int        `json:"-" db:"failed_login_attempts"`
	LastLoginAt         *time.Time `json:"lastLoginAt,omitempty" db:"last_login_at"`
	CreatedAt           time.Time  `json:"createdAt" db:"created_at"`
	UpdatedAt           time.Time  `json:"updatedAt" db:"updated_at"`
}

// PublicAdmin is the projection of an AdminUser that is safe to return to
// clients. Credential material and lockout counters are never included.
type PublicAdmin struct {
	ID          int64      `json:"id"`
	Email       string     `json:"email"`
	Username    string     `json:"username"`
	IsActive    bool       `json:"isActive"`
	LastLoginAt *time.Time `json:"lastLoginAt,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
}

// Public returns the client-safe view of the admin.
func (a *AdminUser) Public() PublicAdmin {
	return PublicAdmin{
		ID:          a.ID,
		Email:       a.Email,
		Username:    a.Username,
		IsActive:    a.IsActive,
		LastLoginAt: a.LastLoginAt,
		CreatedAt:   a.CreatedAt,
		UpdatedAt:   a.UpdatedAt,
	}
}

// Credential is a stored password hash together with the scheme tag and
// scheme version it was produced with.
type Credential struct {
	Hash      string
	Algorithm string
	Version   int
}

// Credential returns the admin's stored credential record.
func (a *AdminUser) Credential() Credential {
	return Credential{
		Hash:      a.PasswordHash,
		Algorithm: a.PasswordAlgorithm,
		Version:   a.PasswordVersion,
	}
}

// NormalizeEmail trims and lowercases an email address. Emails are unique
// and compared case-insensitively, so every write and lookup goes through here.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// NormalizeUsername trims surrounding whitespace. Case is preserved.
func NormalizeUsername(username string) string {
	return strings.TrimSpace(username)
}
