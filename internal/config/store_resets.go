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
// Password reset tokens
// ---------------------------------------------------------------------------

// ReplaceResetToken deletes every unconsumed token owned by the admin and
// inserts t, keeping at most one live token per admin. A unique index backs
// that limit; when a concurrent replace wins the insert race the swap is
// retried, so the last writer's token is the one left live.
func (s *Store) ReplaceResetToken(ctx context.Context, t *model.PasswordResetToken) error {
	t.CreatedAt = time.Now().UTC()
	t.ExpiresAt = t.ExpiresAt.UTC()

	const q = `INSERT INTO password_reset_tokens
		(admin_user_id, token_hash, expires_at, consumed_at, created_at)
		VALUES
		(:admin_user_id, :token_hash, :expires_at, :consumed_at, :created_at)`

	var err error
	for attempt := 0; attempt < replaceResetAttempts; attempt++ {
		err = s.withTx(ctx, func(tx *sqlx.Tx) error {
			if _, err := s.exec(ctx, tx,
				"DELETE FROM password_reset_tokens WHERE admin_user_id = ? AND consumed_at IS NULL",
				t.AdminUserID); err != nil {
				return fmt.Errorf("delete live reset tokens: %w", err)
			}

			id, err := s.insert(ctx, tx, q, t)
			if err != nil {
				if isUniqueViolation(err) {
					return ErrConflict
				}
				return fmt.Errorf("insert reset token: %w", err)
			}
			t.ID = id
			return nil
		})
		if !errors.Is(err, ErrConflict) {
			return err
		}
	}
	return err
}

const replaceResetAttempts = 3

// GetResetTokenByHash looks up a reset token by the SHA-256 hash of its raw
// value.
func (s *Store) GetResetTokenByHash(ctx context.Context, hash string) (*model.PasswordResetToken, error) {
	var t model.PasswordResetToken
	if err := s.db.GetContext(ctx, &t,
		s.db.Rebind("SELECT * FROM password_reset_tokens WHERE token_hash = ?"), hash); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get reset token: %w", err)
	}
	return &t, nil
}

// CompletePasswordReset consumes the token iff it is still unconsumed and
// writes the new credential to its owner, clearing the lockout counter. Both
// happen in one transaction; a concurrent loser gets ErrStale.
func (s *Store) CompletePasswordReset(ctx context.Context, tokenID, adminID int64, cred model.Credential, at time.Time) error {
	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		n, err := s.exec(ctx, tx,
			"UPDATE password_reset_tokens SET consumed_at = ? WHERE id = ? AND admin_user_id = ? AND consumed_at IS NULL",
			at.UTC(), tokenID, adminID)
		if err != nil {
			return fmt.Errorf("consume reset token: %w", err)
		}
		if n == 0 {
			return ErrStale
		}
		return s.setAdminPassword(ctx, tx, adminID, cred)
	})
}
