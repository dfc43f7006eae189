package service

import (
	"context"
	"testing"

	"golang.org/x/crypto/bcrypt"

	"github.com/faucetdb/gatehouse/internal/model"
	"github.com/faucetdb/gatehouse/internal/password"
)

const alicePassword = "correct horse battery"

func TestAuthenticateSuccess(t *testing.T) {
	env := newTestEnv(t)
	admin := env.createAdmin(t, "alice@example.com", "alice", alicePassword)
	auth := NewAuthenticator(env.store, env.hasher, env.opts...)
	ctx := context.Background()

	for _, id := range []string{"alice@example.com", "  ALICE@Example.com ", "alice", " alice "} {
		res, err := auth.Authenticate(ctx, id, alicePassword)
		if err != nil {
			t.Fatalf("Authenticate(%q): %v", id, err)
		}
		if res.Outcome != LoginSuccess {
			t.Fatalf("Authenticate(%q) = %v, want success", id, res.Outcome)
		}
		if res.Admin.ID != admin.ID || res.NeedsUpgrade {
			t.Errorf("unexpected result: %+v", res)
		}
		if res.Err() != nil {
			t.Errorf("Err() = %v on success", res.Err())
		}
	}

	got, _ := env.store.GetAdmin(ctx, admin.ID)
	if got.LastLoginAt == nil || !got.LastLoginAt.Equal(env.clock.Now()) {
		t.Errorf("last login = %v, want %v", got.LastLoginAt, env.clock.Now())
	}
}

func TestAuthenticateInvalidCredentials(t *testing.T) {
	env := newTestEnv(t)
	env.createAdmin(t, "alice@example.com", "alice", alicePassword)
	auth := NewAuthenticator(env.store, env.hasher, env.opts...)

	tests := []struct {
		name       string
		identifier string
		password   string
	}{
		{"unknown email", "bob@example.com", alicePassword},
		{"unknown username", "bob", alicePassword},
		{"username is case-sensitive", "Alice", alicePassword},
		{"missing identifier", "", alicePassword},
		{"missing password", "alice", ""},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			res, err := auth.Authenticate(context.Background(), tc.identifier, tc.password)
			if err != nil {
				t.Fatal(err)
			}
			if res.Outcome != LoginInvalidCredentials || res.Remaining != LockoutThreshold {
				t.Errorf("got %v remaining %d", res.Outcome, res.Remaining)
			}
			se := assertKind(t, res.Err(), KindUnauthorized)
			if se.Reason != ReasonInvalidCredentials {
				t.Errorf("reason = %q", se.Reason)
			}
		})
	}
}

func TestAuthenticateLockout(t *testing.T) {
	env := newTestEnv(t)
	admin := env.createAdmin(t, "alice@example.com", "alice", alicePassword)
	auth := NewAuthenticator(env.store, env.hasher, env.opts...)
	ctx := context.Background()

	prev := LockoutThreshold
	for i := 1; i < LockoutThreshold; i++ {
		res, err := auth.Authenticate(ctx, "alice", "wrong password!")
		if err != nil {
			t.Fatal(err)
		}
		if res.Outcome != LoginInvalidCredentials {
			t.Fatalf("attempt %d: outcome %v", i, res.Outcome)
		}
		if res.Remaining >= prev {
			t.Fatalf("attempt %d: remaining %d not below %d", i, res.Remaining, prev)
		}
		prev = res.Remaining
	}
	if prev != 1 {
		t.Fatalf("remaining before lockout = %d, want 1", prev)
	}

	res, _ := auth.Authenticate(ctx, "alice", "wrong password!")
	if res.Outcome != LoginLocked {
		t.Fatalf("threshold attempt: outcome %v, want locked", res.Outcome)
	}

	res, _ = auth.Authenticate(ctx, "alice", alicePassword)
	if res.Outcome != LoginLocked {
		t.Fatalf("correct password while locked: outcome %v, want locked", res.Outcome)
	}
	if se := assertKind(t, res.Err(), KindUnauthorized); se.Reason != ReasonAccountLocked {
		t.Errorf("reason = %q", se.Reason)
	}

	// Locked accounts are not compared, so the counter stops moving.
	got, _ := env.store.GetAdmin(ctx, admin.ID)
	if got.FailedLoginAttempts != LockoutThreshold {
		t.Errorf("failed attempts = %d, want %d", got.FailedLoginAttempts, LockoutThreshold)
	}

	// Directory intervention lifts the lockout.
	if err := env.store.ClearFailedLogins(ctx, admin.ID); err != nil {
		t.Fatal(err)
	}
	res, _ = auth.Authenticate(ctx, "alice", alicePassword)
	if res.Outcome != LoginSuccess {
		t.Errorf("after unlock: outcome %v", res.Outcome)
	}
}

func TestAuthenticateSuccessResetsCounter(t *testing.T) {
	env := newTestEnv(t)
	admin := env.createAdmin(t, "alice@example.com", "alice", alicePassword)
	auth := NewAuthenticator(env.store, env.hasher, env.opts...)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		auth.Authenticate(ctx, "alice", "wrong password!")
	}
	if res, _ := auth.Authenticate(ctx, "alice", alicePassword); res.Outcome != LoginSuccess {
		t.Fatalf("outcome %v", res.Outcome)
	}
	got, _ := env.store.GetAdmin(ctx, admin.ID)
	if got.FailedLoginAttempts != 0 {
		t.Errorf("failed attempts = %d after success", got.FailedLoginAttempts)
	}

	res, _ := auth.Authenticate(ctx, "alice", "wrong password!")
	if res.Remaining != LockoutThreshold-1 {
		t.Errorf("remaining = %d, want %d", res.Remaining, LockoutThreshold-1)
	}
}

func TestAuthenticateDisabled(t *testing.T) {
	env := newTestEnv(t)
	admin := env.createAdmin(t, "alice@example.com", "alice", alicePassword)
	auth := NewAuthenticator(env.store, env.hasher, env.opts...)
	ctx := context.Background()

	if _, err := env.store.SetAdminActive(ctx, admin.ID, false); err != nil {
		t.Fatal(err)
	}

	for _, pw := range []string{alicePassword, "wrong password!"} {
		res, err := auth.Authenticate(ctx, "alice", pw)
		if err != nil {
			t.Fatal(err)
		}
		if res.Outcome != LoginDisabled {
			t.Errorf("outcome %v, want disabled", res.Outcome)
		}
	}
	got, _ := env.store.GetAdmin(ctx, admin.ID)
	if got.FailedLoginAttempts != 0 {
		t.Errorf("disabled account counter moved to %d", got.FailedLoginAttempts)
	}
}

func TestAuthenticateRehashesLegacyCredential(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	legacy, err := bcrypt.GenerateFromPassword([]byte(alicePassword), bcrypt.MinCost)
	if err != nil {
		t.Fatal(err)
	}
	admin := &model.AdminUser{
		Email:             "alice@example.com",
		Username:          "alice",
		PasswordHash:      string(legacy),
		PasswordAlgorithm: password.AlgorithmBcrypt,
		PasswordVersion:   1,
		IsActive:          true,
	}
	if err := env.store.CreateAdmin(ctx, admin); err != nil {
		t.Fatal(err)
	}
	auth := NewAuthenticator(env.store, env.hasher, env.opts...)

	res, err := auth.Authenticate(ctx, "alice", alicePassword)
	if err != nil {
		t.Fatal(err)
	}
	if res.Outcome != LoginSuccess || !res.NeedsUpgrade {
		t.Fatalf("got %v needsUpgrade=%v", res.Outcome, res.NeedsUpgrade)
	}

	got, _ := env.store.GetAdmin(ctx, admin.ID)
	if got.PasswordAlgorithm != password.CurrentAlgorithm || got.PasswordVersion != password.CurrentVersion {
		t.Errorf("credential not upgraded: %s v%d", got.PasswordAlgorithm, got.PasswordVersion)
	}

	res, _ = auth.Authenticate(ctx, "alice", alicePassword)
	if res.Outcome != LoginSuccess || res.NeedsUpgrade {
		t.Errorf("second login: %v needsUpgrade=%v", res.Outcome, res.NeedsUpgrade)
	}
}

func TestAuthenticateUnsupportedAlgorithmCountsAsFailure(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	admin := &model.AdminUser{
		Email: "alice@example.com", Username: "alice",
		PasswordHash: "5f4dcc3b5aa765d61d8327deb882cf99", PasswordAlgorithm: "md5", PasswordVersion: 1,
		IsActive: true,
	}
	if err := env.store.CreateAdmin(ctx, admin); err != nil {
		t.Fatal(err)
	}
	auth := NewAuthenticator(env.store, env.hasher, env.opts...)

	res, _ := auth.Authenticate(ctx, "alice", "password")
	if res.Outcome != LoginInvalidCredentials || res.Remaining != LockoutThreshold-1 {
		t.Errorf("got %v remaining %d", res.Outcome, res.Remaining)
	}
}

func TestAuthenticateUnknownAccountCostsOneVerification(t *testing.T) {
	env := newTestEnv(t)
	env.createAdmin(t, "alice@example.com", "alice", alicePassword)
	hasher := &countingHasher{CredentialHasher: env.hasher}
	auth := NewAuthenticator(env.store, hasher, env.opts...)
	ctx := context.Background()

	tests := []struct {
		name       string
		identifier string
		password   string
		decoys     int
	}{
		{"unknown email", "nobody@example.com", "wrong password!!", 1},
		{"unknown username", "nobody", "wrong password!!", 1},
		{"missing password", "alice@example.com", "", 1},
		{"missing identifier", "  ", "wrong password!!", 1},
		{"known account verifies for real", "alice@example.com", "wrong password!!", 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hasher.reset()
			res, err := auth.Authenticate(ctx, tt.identifier, tt.password)
			if err != nil {
				t.Fatalf("Authenticate: %v", err)
			}
			if res.Outcome != LoginInvalidCredentials {
				t.Errorf("outcome = %v, want invalid credentials", res.Outcome)
			}
			if hasher.equalized() != tt.decoys {
				t.Errorf("decoy verifications = %d, want %d", hasher.equalized(), tt.decoys)
			}
		})
	}
}
