package model

import (
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func TestNormalizeEmail(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Admin@Example.com", "admin@example.com"},
		{"  ops@example.com \t", "ops@example.com"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := NormalizeEmail(tt.in); got != tt.want {
			t.Errorf("NormalizeEmail(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestNormalizeUsernamePreservesCase(t *testing.T) {
	if got := NormalizeUsername("  RootAdmin "); got != "RootAdmin" {
		t.Errorf("NormalizeUsername = %q, want %q", got, "RootAdmin")
	}
}

func TestPublicAdminOmitsCredentials(t *testing.T) {
	a := &AdminUser{
		ID:                  7,
		Email:               "a@example.com",
		Username:            "alice",
		PasswordHash:        "$argon2id$secret",
		PasswordAlgorithm:   "argon2id",
		PasswordVersion:     2,
		IsActive:            true,
		FailedLoginAttempts: 3,
	}
	data, err := json.Marshal(a.Public())
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	s := string(data)
	for _, forbidden := range []string{"argon2id", "password", "failed"} {
		if strings.Contains(strings.ToLower(s), forbidden) {
			t.Errorf("public admin JSON leaks %q: %s", forbidden, s)
		}
	}
	if !strings.Contains(s, `"isActive":true`) {
		t.Errorf("expected isActive in %s", s)
	}
}

func TestInviteEffectiveStatus(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		name    string
		status  InviteStatus
		expires time.Time
		want    InviteStatus
		accept  bool
	}{
		{"sent and live", InviteStatusSent, now.Add(time.Hour), InviteStatusSent, true},
		{"pending and live", InviteStatusPending, now.Add(time.Minute), InviteStatusPending, true},
		{"sent but past expiry", InviteStatusSent, now.Add(-time.Second), InviteStatusExpired, false},
		{"expires exactly now", InviteStatusSent, now, InviteStatusExpired, false},
		{"accepted stays accepted", InviteStatusAccepted, now.Add(-time.Hour), InviteStatusAccepted, false},
		{"revoked stays revoked", InviteStatusRevoked, now.Add(time.Hour), InviteStatusRevoked, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			inv := &AdminInvite{Status: tt.status, ExpiresAt: tt.expires}
			if got := inv.EffectiveStatus(now); got != tt.want {
				t.Errorf("EffectiveStatus = %s, want %s", got, tt.want)
			}
			if got := inv.Acceptable(now); got != tt.accept {
				t.Errorf("Acceptable = %v, want %v", got, tt.accept)
			}
		})
	}
}

func TestInviteStatusTerminal(t *testing.T) {
	for _, s := range []InviteStatus{InviteStatusAccepted, InviteStatusRevoked} {
		if !s.IsTerminal() {
			t.Errorf("%s should be terminal", s)
		}
	}
	for _, s := range []InviteStatus{InviteStatusPending, InviteStatusSent, InviteStatusExpired} {
		if s.IsTerminal() {
			t.Errorf("%s should not be terminal", s)
		}
	}
}

func TestResetTokenUsable(t *testing.T) {
	now := time.Now()
	consumed := now.Add(-time.Minute)
	if !(&PasswordResetToken{ExpiresAt: now.Add(time.Minute)}).Usable(now) {
		t.Error("fresh token should be usable")
	}
	if (&PasswordResetToken{ExpiresAt: now.Add(-time.Minute)}).Usable(now) {
		t.Error("expired token should not be usable")
	}
	if (&PasswordResetToken{ExpiresAt: now.Add(time.Minute), ConsumedAt: &consumed}).Usable(now) {
		t.Error("consumed token should not be usable")
	}
}
