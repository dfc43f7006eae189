package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/faucetdb/gatehouse/internal/config"
	"github.com/faucetdb/gatehouse/internal/model"
	"github.com/faucetdb/gatehouse/internal/password"
)

// IssuedInvite is an invite together with the raw token that redeems it.
type IssuedInvite struct {
	Invite    model.AdminInvite
	Token     string
	ExpiresAt time.Time
}

// InvitePreview is what a recipient sees before accepting. A known invite
// that can no longer be accepted is still returned, with CanAccept false and
// a Reason.
type InvitePreview struct {
	Invite    model.AdminInvite
	CanAccept bool
	Reason    string
}

// Invites drives the invite lifecycle:
//
//	PENDING -> SENT -> ACCEPTED | EXPIRED | REVOKED
//
// ACCEPTED and REVOKED are terminal. An open invite past its expiry is
// treated as EXPIRED whenever it is read, and flipped in storage lazily.
type Invites struct {
	store    InviteStore
	hasher   CredentialHasher
	notifier *Notifier
	ttl      time.Duration
	opts     options
}

// NewInvites creates the invite lifecycle. notifier may be nil.
func NewInvites(store InviteStore, hasher CredentialHasher, notifier *Notifier, ttl time.Duration, opts ...Option) *Invites {
	return &Invites{
		store:    store,
		hasher:   hasher,
		notifier: notifier,
		ttl:      ttl,
		opts:     buildOptions(opts),
	}
}

// Issue invites email/username. If an open invite already exists for the
// email it is re-issued in place: its previous token stops working.
func (s *Invites) Issue(ctx context.Context, email, username string, invitedBy *int64) (*IssuedInvite, error) {
	email = model.NormalizeEmail(email)
	username = model.NormalizeUsername(username)
	if email == "" || username == "" {
		return nil, newError(KindValidation, "", "email and username are required")
	}
	if err := s.checkIdentityFree(ctx, email, username); err != nil {
		return nil, err
	}

	raw, hash, err := newToken()
	if err != nil {
		return nil, internalError("issue invite failed", err)
	}
	now := s.opts.now()
	expiresAt := now.Add(s.ttl)

	var id int64
	existing, err := s.store.FindOpenInviteByEmail(ctx, email)
	switch {
	case err == nil:
		id = existing.ID
		err = s.store.RotateInviteToken(ctx, id, config.InviteRotation{
			TokenHash:        hash,
			Username:         username,
			ExpiresAt:        expiresAt,
			SentAt:           now,
			InvitedByAdminID: invitedBy,
		})
		if err != nil {
			return nil, s.mapWriteError("issue invite failed", err)
		}
		s.opts.logger.Info("invite re-issued", "invite_id", id, "invited_by", invitedBy)
	case errors.Is(err, config.ErrNotFound):
		invite := &model.AdminInvite{
			Email:            email,
			Username:         username,
			Status:           model.InviteStatusSent,
			TokenHash:        hash,
			ExpiresAt:        expiresAt,
			LastSentAt:       &now,
			InvitedByAdminID: invitedBy,
		}
		if err := s.store.CreateInvite(ctx, invite); err != nil {
			return nil, s.mapWriteError("issue invite failed", err)
		}
		id = invite.ID
		s.opts.logger.Info("invite issued", "invite_id", id, "invited_by", invitedBy)
	default:
		return nil, internalError("issue invite failed", err)
	}

	return s.deliver(ctx, id, raw)
}

// Resend rotates the token of a non-terminal invite and delivers it again.
func (s *Invites) Resend(ctx context.Context, id int64, invitedBy *int64) (*IssuedInvite, error) {
	invite, err := s.store.GetInvite(ctx, id)
	if err != nil {
		return nil, s.mapReadError(err)
	}
	if invite.Status.IsTerminal() {
		return nil, terminalError(invite.Status)
	}
	if err := s.checkIdentityFree(ctx, invite.Email, invite.Username); err != nil {
		return nil, err
	}

	raw, hash, err := newToken()
	if err != nil {
		return nil, internalError("resend invite failed", err)
	}
	now := s.opts.now()
	err = s.store.RotateInviteToken(ctx, id, config.InviteRotation{
		TokenHash:        hash,
		Username:         invite.Username,
		ExpiresAt:        now.Add(s.ttl),
		SentAt:           now,
		InvitedByAdminID: invitedBy,
	})
	if err != nil {
		return nil, s.mapWriteError("resend invite failed", err)
	}
	s.opts.logger.Info("invite resent", "invite_id", id, "invited_by", invitedBy)

	return s.deliver(ctx, id, raw)
}

// Preview looks up an invite by its raw token. Unknown tokens are NotFound.
func (s *Invites) Preview(ctx context.Context, token string) (*InvitePreview, error) {
	invite, err := s.byToken(ctx, token)
	if err != nil {
		return nil, err
	}
	now := s.opts.now()
	s.expireIfDue(ctx, invite, now)

	view := invite.View(now)
	p := &InvitePreview{Invite: view, CanAccept: view.Status.IsOpen()}
	if !p.CanAccept {
		p.Reason = unavailableReason(view.Status)
	}
	return p, nil
}

// Accept redeems token, creating an active admin with plaintext as its
// password and marking the invite ACCEPTED. Exactly one of several
// concurrent accepts of the same invite succeeds.
func (s *Invites) Accept(ctx context.Context, token, plaintext string) (*model.AdminUser, *model.AdminInvite, error) {
	if strings.TrimSpace(token) == "" || plaintext == "" {
		return nil, nil, newError(KindValidation, "", "token and password are required")
	}

	invite, err := s.byToken(ctx, token)
	if err != nil {
		return nil, nil, err
	}
	now := s.opts.now()
	if !invite.Acceptable(now) {
		s.expireIfDue(ctx, invite, now)
		return nil, nil, goneError(invite.EffectiveStatus(now))
	}

	if err := s.checkIdentityFree(ctx, invite.Email, invite.Username); err != nil {
		return nil, nil, err
	}

	cred, err := s.hasher.Hash(ctx, plaintext, false)
	if err != nil {
		if errors.Is(err, password.ErrPolicyViolation) {
			return nil, nil, &Error{Kind: KindPolicyViolation, Reason: ReasonPasswordPolicy, Message: err.Error()}
		}
		return nil, nil, internalError("accept invite failed", err)
	}

	admin := &model.AdminUser{
		Email:             invite.Email,
		Username:          invite.Username,
		PasswordHash:      cred.Hash,
		PasswordAlgorithm: cred.Algorithm,
		PasswordVersion:   cred.Version,
		IsActive:          true,
	}
	if err := s.store.AcceptInvite(ctx, invite.ID, admin, now); err != nil {
		switch {
		case errors.Is(err, config.ErrStale):
			current, gerr := s.store.GetInvite(ctx, invite.ID)
			if gerr != nil {
				return nil, nil, internalError("accept invite failed", gerr)
			}
			return nil, nil, goneError(current.EffectiveStatus(now))
		case errors.Is(err, config.ErrConflict):
			return nil, nil, newError(KindConflict, ReasonIdentityTaken, "an admin with this email or username already exists")
		default:
			return nil, nil, internalError("accept invite failed", err)
		}
	}
	s.opts.logger.Info("invite accepted", "invite_id", invite.ID, "admin_id", admin.ID)

	accepted, err := s.store.GetInvite(ctx, invite.ID)
	if err != nil {
		return nil, nil, internalError("accept invite failed", err)
	}
	return admin, accepted, nil
}

// Revoke moves a non-terminal invite to REVOKED. Revoking an accepted or
// already revoked invite is a Conflict, not a no-op.
func (s *Invites) Revoke(ctx context.Context, id int64) (*model.AdminInvite, error) {
	err := s.store.RevokeInvite(ctx, id, s.opts.now())
	if err != nil {
		if errors.Is(err, config.ErrStale) {
			current, gerr := s.store.GetInvite(ctx, id)
			if gerr != nil {
				return nil, s.mapReadError(gerr)
			}
			return nil, terminalError(current.Status)
		}
		return nil, s.mapReadError(err)
	}
	s.opts.logger.Info("invite revoked", "invite_id", id)

	invite, err := s.store.GetInvite(ctx, id)
	if err != nil {
		return nil, s.mapReadError(err)
	}
	return invite, nil
}

// List returns every invite with its effective status, flipping overdue
// open invites to EXPIRED along the way.
func (s *Invites) List(ctx context.Context) ([]model.AdminInvite, error) {
	invites, err := s.store.ListInvites(ctx)
	if err != nil {
		return nil, internalError("list invites failed", err)
	}
	now := s.opts.now()
	out := make([]model.AdminInvite, 0, len(invites))
	for i := range invites {
		s.expireIfDue(ctx, &invites[i], now)
		out = append(out, invites[i].View(now))
	}
	return out, nil
}

func (s *Invites) deliver(ctx context.Context, id int64, raw string) (*IssuedInvite, error) {
	invite, err := s.store.GetInvite(ctx, id)
	if err != nil {
		return nil, internalError("load invite failed", err)
	}
	if err := s.notifier.invite(ctx, invite, raw); err != nil {
		s.opts.logger.Warn("invite mail not delivered", "invite_id", id, "error", err)
	}
	return &IssuedInvite{Invite: *invite, Token: raw, ExpiresAt: invite.ExpiresAt}, nil
}

func (s *Invites) byToken(ctx context.Context, token string) (*model.AdminInvite, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, newError(KindNotFound, ReasonInviteNotFound, "invite not found")
	}
	invite, err := s.store.GetInviteByTokenHash(ctx, config.HashToken(token))
	if err != nil {
		return nil, s.mapReadError(err)
	}
	return invite, nil
}

// expireIfDue persists the lazy EXPIRED transition. Failure is logged only;
// readers already see the effective status.
func (s *Invites) expireIfDue(ctx context.Context, invite *model.AdminInvite, now time.Time) {
	if !invite.Status.IsOpen() || invite.EffectiveStatus(now) != model.InviteStatusExpired {
		return
	}
	flipped, err := s.store.ExpireInvite(ctx, invite.ID)
	if err != nil {
		s.opts.logger.Warn("failed to mark invite expired", "invite_id", invite.ID, "error", err)
		return
	}
	if flipped {
		invite.Status = model.InviteStatusExpired
		s.opts.logger.Info("invite expired", "invite_id", invite.ID)
	}
}

func (s *Invites) checkIdentityFree(ctx context.Context, email, username string) error {
	emailTaken, usernameTaken, err := s.store.IdentityTaken(ctx, email, username)
	if err != nil {
		return internalError("check identity failed", err)
	}
	switch {
	case emailTaken && usernameTaken:
		return identityConflict("an admin with this email and username already exists", "email", "username")
	case emailTaken:
		return identityConflict("an admin with this email already exists", "email")
	case usernameTaken:
		return identityConflict("an admin with this username already exists", "username")
	}
	return nil
}

func (s *Invites) mapReadError(err error) error {
	if errors.Is(err, config.ErrNotFound) {
		return newError(KindNotFound, ReasonInviteNotFound, "invite not found")
	}
	return internalError("load invite failed", err)
}

func (s *Invites) mapWriteError(msg string, err error) error {
	switch {
	case errors.Is(err, config.ErrNotFound):
		return newError(KindNotFound, ReasonInviteNotFound, "invite not found")
	case errors.Is(err, config.ErrStale):
		return newError(KindConflict, "", "invite changed concurrently; retry")
	case errors.Is(err, config.ErrConflict):
		return newError(KindConflict, "", "invite conflicts with an existing invite")
	}
	return internalError(msg, err)
}

func identityConflict(msg string, fields ...string) *Error {
	return &Error{Kind: KindConflict, Reason: ReasonIdentityTaken, Message: msg, Err: conflictErr(fields)}
}

// conflictErr lists the identity fields behind a Conflict.
type conflictErr []string

func (c conflictErr) Error() string { return "taken: " + strings.Join(c, ", ") }

// ConflictingFields returns the identity fields behind an identity
// conflict, if err is one.
func ConflictingFields(err error) []string {
	var c conflictErr
	if errors.As(err, &c) {
		return c
	}
	return nil
}

func terminalError(status model.InviteStatus) *Error {
	reason := ReasonInviteRevoked
	if status == model.InviteStatusAccepted {
		reason = ReasonInviteAccepted
	}
	return newError(KindConflict, reason, fmt.Sprintf("invite is already %s", strings.ToLower(string(status))))
}

func goneError(status model.InviteStatus) *Error {
	reason := ReasonInviteExpired
	switch status {
	case model.InviteStatusRevoked:
		reason = ReasonInviteRevoked
	case model.InviteStatusAccepted:
		reason = ReasonInviteAccepted
	}
	return newError(KindGone, reason, unavailableReason(status))
}

func unavailableReason(status model.InviteStatus) string {
	switch status {
	case model.InviteStatusAccepted:
		return "This invite has already been accepted."
	case model.InviteStatusRevoked:
		return "This invite has been revoked."
	case model.InviteStatusExpired:
		return "This invite has expired."
	default:
		return "This invite can no longer be accepted."
	}
}
