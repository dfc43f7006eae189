// Package service implements admin authentication, password reset, the
// invite lifecycle and request authorization on top of the account
// directory.
package service

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"log/slog"
	"time"

	"github.com/faucetdb/gatehouse/internal/config"
	"github.com/faucetdb/gatehouse/internal/mail"
	"github.com/faucetdb/gatehouse/internal/model"
	"github.com/faucetdb/gatehouse/internal/password"
)

// CredentialHasher hashes and checks admin passwords. *password.Hasher
// implements it.
type CredentialHasher interface {
	Hash(ctx context.Context, plaintext string, skipPolicy bool) (model.Credential, error)
	Verify(ctx context.Context, cred model.Credential, candidate string) (password.Result, error)
	Equalize(ctx context.Context, candidate string)
}

// AdminDirectory is the subset of the account directory used for
// authentication and authorization.
type AdminDirectory interface {
	GetAdmin(ctx context.Context, id int64) (*model.AdminUser, error)
	GetAdminByEmail(ctx context.Context, email string) (*model.AdminUser, error)
	GetAdminByUsername(ctx context.Context, username string) (*model.AdminUser, error)
	IdentityTaken(ctx context.Context, email, username string) (emailTaken, usernameTaken bool, err error)
	IncrementFailedLogins(ctx context.Context, id int64) (int, error)
	RecordLogin(ctx context.Context, id int64, at time.Time, cred *model.Credential) error
}

// InviteStore persists admin invites.
type InviteStore interface {
	AdminDirectory
	CreateInvite(ctx context.Context, invite *model.AdminInvite) error
	GetInvite(ctx context.Context, id int64) (*model.AdminInvite, error)
	GetInviteByTokenHash(ctx context.Context, hash string) (*model.AdminInvite, error)
	FindOpenInviteByEmail(ctx context.Context, email string) (*model.AdminInvite, error)
	ListInvites(ctx context.Context) ([]model.AdminInvite, error)
	RotateInviteToken(ctx context.Context, id int64, rot config.InviteRotation) error
	ExpireInvite(ctx context.Context, id int64) (bool, error)
	RevokeInvite(ctx context.Context, id int64, at time.Time) error
	AcceptInvite(ctx context.Context, inviteID int64, admin *model.AdminUser, at time.Time) error
}

// ResetStore persists password reset tokens.
type ResetStore interface {
	AdminDirectory
	ReplaceResetToken(ctx context.Context, t *model.PasswordResetToken) error
	GetResetTokenByHash(ctx context.Context, hash string) (*model.PasswordResetToken, error)
	CompletePasswordReset(ctx context.Context, tokenID, adminID int64, cred model.Credential, at time.Time) error
}

// Notifier sends invite and reset links. Failures are logged by the caller
// and never fail the operation.
type Notifier struct {
	mailer   mail.Mailer
	composer *mail.Composer
}

// NewNotifier creates a Notifier delivering through mailer with links built
// by composer.
func NewNotifier(mailer mail.Mailer, composer *mail.Composer) *Notifier {
	return &Notifier{mailer: mailer, composer: composer}
}

func (n *Notifier) invite(ctx context.Context, invite *model.AdminInvite, token string) error {
	if n == nil {
		return nil
	}
	msg, err := n.composer.Invite(invite.Email, invite.Username, token, invite.ExpiresAt)
	if err != nil {
		return err
	}
	return n.mailer.Send(ctx, msg)
}

func (n *Notifier) passwordReset(ctx context.Context, admin *model.AdminUser, token string, expiresAt time.Time) error {
	if n == nil {
		return nil
	}
	msg, err := n.composer.PasswordReset(admin.Email, admin.Username, token, expiresAt)
	if err != nil {
		return err
	}
	return n.mailer.Send(ctx, msg)
}

type options struct {
	now    func() time.Time
	logger *slog.Logger
}

// Option configures a service.
type Option func(*options)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// WithLogger sets the logger used for security events.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

func buildOptions(opts []Option) options {
	o := options{now: time.Now, logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// newToken returns a random URL-safe token and the hash under which it is
// stored.
func newToken() (raw, hash string, err error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", "", fmt.Errorf("generate token: %w", err)
	}
	raw = base64.RawURLEncoding.EncodeToString(b)
	return raw, config.HashToken(raw), nil
}
