package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/faucetdb/gatehouse/internal/config"
	"github.com/faucetdb/gatehouse/internal/model"
	"github.com/faucetdb/gatehouse/internal/password"
)

// ResetRequest is returned for a reset requested against a known, active
// account. The raw Token is never stored.
type ResetRequest struct {
	Token     string
	Admin     *model.AdminUser
	ExpiresAt time.Time
}

// PasswordResets runs the out-of-band password recovery flow.
type PasswordResets struct {
	store    ResetStore
	hasher   CredentialHasher
	notifier *Notifier
	ttl      time.Duration
	opts     options

	delivery sync.WaitGroup
}

// NewPasswordResets creates the reset flow. notifier may be nil.
func NewPasswordResets(store ResetStore, hasher CredentialHasher, notifier *Notifier, ttl time.Duration, opts ...Option) *PasswordResets {
	return &PasswordResets{
		store:    store,
		hasher:   hasher,
		notifier: notifier,
		ttl:      ttl,
		opts:     buildOptions(opts),
	}
}

// Request issues a new reset token for the account owning email, replacing
// any live token it already has. Unknown and disabled accounts yield a nil
// request and no error so callers cannot tell them apart. Every outcome
// costs one password verification, and the reset mail is sent in the
// background, so latency does not tell them apart either.
func (p *PasswordResets) Request(ctx context.Context, email string) (*ResetRequest, error) {
	email = model.NormalizeEmail(email)
	p.hasher.Equalize(ctx, email)
	if email == "" {
		return nil, nil
	}

	admin, err := p.store.GetAdminByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, config.ErrNotFound) {
			p.opts.logger.Info("password reset requested for unknown account")
			return nil, nil
		}
		return nil, internalError("password reset failed", err)
	}
	if !admin.IsActive {
		p.opts.logger.Info("password reset requested for disabled account", "admin_id", admin.ID)
		return nil, nil
	}

	raw, hash, err := newToken()
	if err != nil {
		return nil, internalError("password reset failed", err)
	}
	expiresAt := p.opts.now().Add(p.ttl)

	if err := p.store.ReplaceResetToken(ctx, &model.PasswordResetToken{
		AdminUserID: admin.ID,
		TokenHash:   hash,
		ExpiresAt:   expiresAt,
	}); err != nil {
		return nil, internalError("password reset failed", err)
	}
	p.opts.logger.Info("password reset requested", "admin_id", admin.ID)

	if p.notifier != nil {
		to := *admin
		p.delivery.Add(1)
		go func() {
			defer p.delivery.Done()
			if err := p.notifier.passwordReset(context.WithoutCancel(ctx), &to, raw, expiresAt); err != nil {
				p.opts.logger.Warn("password reset mail not delivered", "admin_id", to.ID, "error", err)
			}
		}()
	}

	return &ResetRequest{Token: raw, Admin: admin, ExpiresAt: expiresAt}, nil
}

// Wait blocks until every reset mail started by Request has been handed to
// the mailer or has failed.
func (p *PasswordResets) Wait() {
	p.delivery.Wait()
}

var errResetInvalid = newError(KindGone, ReasonInvalidOrExpired, "reset token is invalid or has expired")

// Confirm consumes token and sets newPassword on its owner, lifting any
// lockout. Missing, consumed and expired tokens all fail the same way. A
// password that violates the policy does not consume the token.
func (p *PasswordResets) Confirm(ctx context.Context, token, newPassword string) (*model.AdminUser, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, errResetInvalid
	}

	t, err := p.store.GetResetTokenByHash(ctx, config.HashToken(token))
	if err != nil {
		if errors.Is(err, config.ErrNotFound) {
			return nil, errResetInvalid
		}
		return nil, internalError("password reset failed", err)
	}
	now := p.opts.now()
	if !t.Usable(now) {
		return nil, errResetInvalid
	}

	admin, err := p.store.GetAdmin(ctx, t.AdminUserID)
	if err != nil {
		if errors.Is(err, config.ErrNotFound) {
			return nil, errResetInvalid
		}
		return nil, internalError("password reset failed", err)
	}
	if !admin.IsActive {
		return nil, errResetInvalid
	}

	cred, err := p.hasher.Hash(ctx, newPassword, false)
	if err != nil {
		if errors.Is(err, password.ErrPolicyViolation) {
			return nil, &Error{Kind: KindPolicyViolation, Reason: ReasonPasswordPolicy, Message: err.Error()}
		}
		return nil, internalError("password reset failed", err)
	}

	if err := p.store.CompletePasswordReset(ctx, t.ID, admin.ID, cred, now); err != nil {
		if errors.Is(err, config.ErrStale) {
			return nil, errResetInvalid
		}
		return nil, internalError("password reset failed", err)
	}
	p.opts.logger.Info("password reset completed", "admin_id", admin.ID)

	updated, err := p.store.GetAdmin(ctx, admin.ID)
	if err != nil {
		return nil, internalError("password reset failed", err)
	}
	return updated, nil
}
