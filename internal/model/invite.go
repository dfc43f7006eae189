package model

import "time"

// InviteStatus is the lifecycle state of an AdminInvite.
type InviteStatus string

const (
	InviteStatusPending  InviteStatus = "PENDING"
	InviteStatusSent     InviteStatus = "SENT"
	InviteStatusAccepted InviteStatus = "ACCEPTED"
	InviteStatusExpired  InviteStatus = "EXPIRED"
	InviteStatusRevoked  InviteStatus = "REVOKED"
)

// IsTerminal reports whether no further transition is possible.
func (s InviteStatus) IsTerminal() bool {
	return s == InviteStatusAccepted || s == InviteStatusRevoked
}

// IsOpen reports whether the invite is still waiting for its recipient.
func (s InviteStatus) IsOpen() bool {
	return s == InviteStatusPending || s == InviteStatusSent
}

// AdminInvite is an onboarding credential for a prospective admin. Only the
// SHA-256 hash of the raw token is persisted.
type AdminInvite struct {
	ID               int64        `json:"id" db:"id"`
	Email            string       `json:"email" db:"email"`
	Username         string       `json:"username" db:"username"`
	Status           InviteStatus `json:"status" db:"status"`
	TokenHash        string       `json:"-" db:"token_hash"`
	ExpiresAt        time.Time    `json:"expiresAt" db:"expires_at"`
	LastSentAt       *time.Time   `json:"lastSentAt,omitempty" db:"last_sent_at"`
	AcceptedAt       *time.Time   `json:"acceptedAt,omitempty" db:"accepted_at"`
	RevokedAt        *time.Time   `json:"revokedAt,omitempty" db:"revoked_at"`
	InvitedByAdminID *int64       `json:"invitedByAdminId,omitempty" db:"invited_by_admin_id"`
	CreatedAt        time.Time    `json:"createdAt" db:"created_at"`
	UpdatedAt        time.Time    `json:"updatedAt" db:"updated_at"`
}

// EffectiveStatus folds lazy expiry into the stored status: an open invite
// past its expiry reads as EXPIRED even if the row was never flipped.
func (i *AdminInvite) EffectiveStatus(now time.Time) InviteStatus {
	if i.Status.IsOpen() && !now.Before(i.ExpiresAt) {
		return InviteStatusExpired
	}
	return i.Status
}

// Acceptable reports whether the invite can still be redeemed at now.
func (i *AdminInvite) Acceptable(now time.Time) bool {
	return i.EffectiveStatus(now).IsOpen()
}

// View returns a copy of the invite with its status replaced by the
// effective status at now, suitable for returning to clients.
func (i *AdminInvite) View(now time.Time) AdminInvite {
	v := *i
	v.Status = i.EffectiveStatus(now)
	return v
}
