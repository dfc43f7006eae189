package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/faucetdb/gatehouse/internal/config"
	"github.com/faucetdb/gatehouse/internal/model"
)

// LockoutThreshold is the number of consecutive failed logins after which an
// account is locked until a successful reset or directory intervention.
const LockoutThreshold = 10

// LoginOutcome is the result class of an authentication attempt.
type LoginOutcome int

const (
	LoginSuccess LoginOutcome = iota
	LoginInvalidCredentials
	LoginLocked
	LoginDisabled
)

func (o LoginOutcome) String() string {
	switch o {
	case LoginSuccess:
		return "success"
	case LoginLocked:
		return ReasonAccountLocked
	case LoginDisabled:
		return ReasonAccountDisabled
	default:
		return ReasonInvalidCredentials
	}
}

// LoginResult describes an authentication attempt. Admin is set only on
// success; Remaining only for LoginInvalidCredentials.
type LoginResult struct {
	Outcome      LoginOutcome
	Admin        *model.AdminUser
	NeedsUpgrade bool
	Remaining    int
}

// Err converts a failed result into a client-facing *Error. It returns nil
// on success.
func (r LoginResult) Err() error {
	switch r.Outcome {
	case LoginSuccess:
		return nil
	case LoginLocked:
		return newError(KindUnauthorized, ReasonAccountLocked, "account is locked after too many failed attempts")
	case LoginDisabled:
		return newError(KindUnauthorized, ReasonAccountDisabled, "account is disabled")
	default:
		return newError(KindUnauthorized, ReasonInvalidCredentials, "invalid credentials")
	}
}

// Authenticator checks admin credentials and enforces lockout.
type Authenticator struct {
	dir    AdminDirectory
	hasher CredentialHasher
	opts   options
}

// NewAuthenticator creates an Authenticator.
func NewAuthenticator(dir AdminDirectory, hasher CredentialHasher, opts ...Option) *Authenticator {
	return &Authenticator{dir: dir, hasher: hasher, opts: buildOptions(opts)}
}

// Authenticate verifies identifier and password. An identifier containing
// "@" is matched against emails, anything else against usernames. Unknown
// accounts and wrong passwords are indistinguishable to the caller, in
// latency too: both cost one password verification. The returned error is
// only set for unexpected failures.
func (a *Authenticator) Authenticate(ctx context.Context, identifier, plaintext string) (LoginResult, error) {
	invalid := LoginResult{Outcome: LoginInvalidCredentials, Remaining: LockoutThreshold}

	identifier = strings.TrimSpace(identifier)
	if identifier == "" || plaintext == "" {
		a.hasher.Equalize(ctx, plaintext)
		return invalid, nil
	}

	admin, err := a.lookup(ctx, identifier)
	if err != nil {
		if errors.Is(err, config.ErrNotFound) {
			a.hasher.Equalize(ctx, plaintext)
			a.opts.logger.Info("login failed: unknown account")
			return invalid, nil
		}
		return LoginResult{}, fmt.Errorf("authenticate: %w", err)
	}

	if !admin.IsActive {
		a.opts.logger.Warn("login refused: account disabled", "admin_id", admin.ID)
		return LoginResult{Outcome: LoginDisabled}, nil
	}
	if admin.FailedLoginAttempts >= LockoutThreshold {
		a.opts.logger.Warn("login refused: account locked", "admin_id", admin.ID)
		return LoginResult{Outcome: LoginLocked}, nil
	}

	res, err := a.hasher.Verify(ctx, admin.Credential(), plaintext)
	if err != nil {
		return LoginResult{}, fmt.Errorf("verify password: %w", err)
	}

	if !res.Valid {
		count, err := a.dir.IncrementFailedLogins(ctx, admin.ID)
		if err != nil {
			return LoginResult{}, fmt.Errorf("record failed login: %w", err)
		}
		remaining := LockoutThreshold - count
		if remaining <= 0 {
			a.opts.logger.Warn("account locked", "admin_id", admin.ID, "failed_attempts", count)
			return LoginResult{Outcome: LoginLocked}, nil
		}
		a.opts.logger.Info("login failed: wrong password", "admin_id", admin.ID, "remaining", remaining)
		return LoginResult{Outcome: LoginInvalidCredentials, Remaining: remaining}, nil
	}

	now := a.opts.now()
	var upgraded *model.Credential
	if res.NeedsRehash {
		cred, err := a.hasher.Hash(ctx, plaintext, true)
		if err != nil {
			return LoginResult{}, fmt.Errorf("rehash password: %w", err)
		}
		upgraded = &cred
	}
	if err := a.dir.RecordLogin(ctx, admin.ID, now, upgraded); err != nil {
		return LoginResult{}, fmt.Errorf("record login: %w", err)
	}

	if upgraded != nil {
		admin.PasswordHash = upgraded.Hash
		admin.PasswordAlgorithm = upgraded.Algorithm
		if upgraded.Version > admin.PasswordVersion {
			admin.PasswordVersion = upgraded.Version
		}
		a.opts.logger.Info("password hash upgraded on login", "admin_id", admin.ID, "algorithm", upgraded.Algorithm)
	}
	admin.FailedLoginAttempts = 0
	admin.LastLoginAt = &now

	a.opts.logger.Info("login succeeded", "admin_id", admin.ID)
	return LoginResult{Outcome: LoginSuccess, Admin: admin, NeedsUpgrade: res.NeedsRehash}, nil
}

func (a *Authenticator) lookup(ctx context.Context, identifier string) (*model.AdminUser, error) {
	if strings.Contains(identifier, "@") {
		return a.dir.GetAdminByEmail(ctx, identifier)
	}
	return a.dir.GetAdminByUsername(ctx, identifier)
}
