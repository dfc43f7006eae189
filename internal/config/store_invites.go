package config

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/faucetdb/gatehouse/internal/model"
)

// ---------------------------------------------------------------------------
// Admin invites
// ---------------------------------------------------------------------------

// CreateInvite inserts a new invite row. The ID, CreatedAt, and UpdatedAt
// fields are populated after a successful insert.
func (s *Store) CreateInvite(ctx context.Context, invite *model.AdminInvite) error {
	now := time.Now().UTC()
	invite.Email = model.NormalizeEmail(invite.Email)
	invite.Username = model.NormalizeUsername(invite.Username)
	invite.CreatedAt = now
	invite.UpdatedAt = now

	const q = `INSERT INTO admin_invites
		(email, username, status, token_hash, expires_at, last_sent_at, accepted_at, revoked_at,
		 invited_by_admin_id, created_at, updated_at)
		VALUES
		(:email, :username, :status, :token_hash, :expires_at, :last_sent_at, :accepted_at, :revoked_at,
		 :invited_by_admin_id, :created_at, :updated_at)`

	id, err := s.insert(ctx, s.db, q, invite)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrConflict
		}
		return fmt.Errorf("insert invite: %w", err)
	}
	invite.ID = id
	return nil
}

// GetInvite returns an invite by ID.
func (s *Store) GetInvite(ctx context.Context, id int64) (*model.AdminInvite, error) {
	var invite model.AdminInvite
	if err := s.db.GetContext(ctx, &invite, s.db.Rebind("SELECT * FROM admin_invites WHERE id = ?"), id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get invite: %w", err)
	}
	return &invite, nil
}

// GetInviteByTokenHash looks up an invite by the SHA-256 hash of its token.
func (s *Store) GetInviteByTokenHash(ctx context.Context, hash string) (*model.AdminInvite, error) {
	var invite model.AdminInvite
	if err := s.db.GetContext(ctx, &invite,
		s.db.Rebind("SELECT * FROM admin_invites WHERE token_hash = ?"), hash); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get invite by token: %w", err)
	}
	return &invite, nil
}

// FindOpenInviteByEmail returns the most recent PENDING or SENT invite for an
// email, or ErrNotFound.
func (s *Store) FindOpenInviteByEmail(ctx context.Context, email string) (*model.AdminInvite, error) {
	var invite model.AdminInvite
	err := s.db.GetContext(ctx, &invite, s.db.Rebind(
		`SELECT * FROM admin_invites WHERE email = ? AND status IN (?, ?) ORDER BY id DESC LIMIT 1`),
		model.NormalizeEmail(email), model.InviteStatusPending, model.InviteStatusSent)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("find open invite: %w", err)
	}
	return &invite, nil
}

// ListInvites returns every invite, newest first. Rows are never deleted, so
// this includes accepted, expired and revoked history.
func (s *Store) ListInvites(ctx context.Context) ([]model.AdminInvite, error) {
	var invites []model.AdminInvite
	if err := s.db.SelectContext(ctx, &invites, "SELECT * FROM admin_invites ORDER BY created_at DESC, id DESC"); err != nil {
		return nil, fmt.Errorf("list invites: %w", err)
	}
	return invites, nil
}

// InviteRotation is the set of fields replaced when an invite token is
// (re)issued.
type InviteRotation struct {
	TokenHash        string
	Username         string
	ExpiresAt        time.Time
	SentAt           time.Time
	InvitedByAdminID *int64
}

// RotateInviteToken replaces the token of a non-terminal invite in place and
// moves it to SENT. Returns ErrStale if the invite was accepted or revoked in
// the meantime, ErrNotFound if it does not exist.
func (s *Store) RotateInviteToken(ctx context.Context, id int64, rot InviteRotation) error {
	now := time.Now().UTC()
	n, err := s.exec(ctx, s.db,
		`UPDATE admin_invites SET token_hash = ?, username = ?, status = ?, expires_at = ?,
			last_sent_at = ?, accepted_at = NULL, revoked_at = NULL,
			invited_by_admin_id = COALESCE(?, invited_by_admin_id), updated_at = ?
		WHERE id = ? AND status NOT IN (?, ?)`,
		rot.TokenHash, model.NormalizeUsername(rot.Username), model.InviteStatusSent, rot.ExpiresAt.UTC(),
		rot.SentAt.UTC(), rot.InvitedByAdminID, now,
		id, model.InviteStatusAccepted, model.InviteStatusRevoked)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrConflict
		}
		return fmt.Errorf("rotate invite token: %w", err)
	}
	if n == 0 {
		return s.staleOrMissing(ctx, id)
	}
	return nil
}

// ExpireInvite flips an open invite to EXPIRED. It reports whether this call
// performed the transition.
func (s *Store) ExpireInvite(ctx context.Context, id int64) (bool, error) {
	n, err := s.exec(ctx, s.db,
		"UPDATE admin_invites SET status = ?, updated_at = ? WHERE id = ? AND status IN (?, ?)",
		model.InviteStatusExpired, time.Now().UTC(), id, model.InviteStatusPending, model.InviteStatusSent)
	if err != nil {
		return false, fmt.Errorf("expire invite: %w", err)
	}
	return n == 1, nil
}

// RevokeInvite moves a non-terminal invite to REVOKED. The row is retained.
// Returns ErrStale if the invite is already ACCEPTED or REVOKED.
func (s *Store) RevokeInvite(ctx context.Context, id int64, at time.Time) error {
	at = at.UTC()
	n, err := s.exec(ctx, s.db,
		"UPDATE admin_invites SET status = ?, revoked_at = ?, updated_at = ? WHERE id = ? AND status NOT IN (?, ?)",
		model.InviteStatusRevoked, at, at, id, model.InviteStatusAccepted, model.InviteStatusRevoked)
	if err != nil {
		return fmt.Errorf("revoke invite: %w", err)
	}
	if n == 0 {
		return s.staleOrMissing(ctx, id)
	}
	return nil
}

// AcceptInvite creates the invited admin and marks the invite ACCEPTED in a
// single transaction. The invite transition is conditional on the row still
// being open, so of two concurrent accepts exactly one succeeds; the loser
// gets ErrStale. ErrConflict is returned if the email or username was taken
// by another account in the meantime.
func (s *Store) AcceptInvite(ctx context.Context, inviteID int64, admin *model.AdminUser, at time.Time) error {
	at = at.UTC()
	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		n, err := s.exec(ctx, tx,
			`UPDATE admin_invites SET status = ?, accepted_at = ?, revoked_at = NULL, updated_at = ?
			WHERE id = ? AND status IN (?, ?)`,
			model.InviteStatusAccepted, at, at, inviteID, model.InviteStatusPending, model.InviteStatusSent)
		if err != nil {
			return fmt.Errorf("accept invite: %w", err)
		}
		if n == 0 {
			return ErrStale
		}
		return s.createAdmin(ctx, tx, admin)
	})
}

func (s *Store) staleOrMissing(ctx context.Context, id int64) error {
	if _, err := s.GetInvite(ctx, id); err != nil {
		return err
	}
	return ErrStale
}
