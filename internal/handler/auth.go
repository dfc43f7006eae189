package handler

import (
	"log/slog"
	"net/http"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"

	"github.com/faucetdb/gatehouse/internal/model"
	"github.com/faucetdb/gatehouse/internal/server/middleware"
	"github.com/faucetdb/gatehouse/internal/service"
	"github.com/faucetdb/gatehouse/internal/session"
)

// resetRequestedMessage is returned for every reset request, whether or not
// the account exists.
const resetRequestedMessage = "If an active account exists for that email, a reset link has been sent."

// AuthHandler serves the public authentication endpoints: login, logout,
// password reset and invite redemption, plus the caller's own identity.
type AuthHandler struct {
	auth     *service.Authenticator
	resets   *service.PasswordResets
	invites  *service.Invites
	sessions *session.Manager
	cookie   session.Cookie
	// exposeTokens surfaces raw tokens in responses outside production.
	exposeTokens bool
	logger       *slog.Logger
}

// NewAuthHandler creates a new AuthHandler.
func NewAuthHandler(
	auth *service.Authenticator,
	resets *service.PasswordResets,
	invites *service.Invites,
	sessions *session.Manager,
	cookie session.Cookie,
	exposeTokens bool,
	logger *slog.Logger,
) *AuthHandler {
	return &AuthHandler{
		auth:         auth,
		resets:       resets,
		invites:      invites,
		sessions:     sessions,
		cookie:       cookie,
		exposeTokens: exposeTokens,
		logger:       logger,
	}
}

// ---------------------------------------------------------------------------
// Login / Logout
// ---------------------------------------------------------------------------

type loginRequest struct {
	Identifier string `json:"identifier"`
	Password   string `json:"password"`
	Remember   bool   `json:"remember"`
}

type loginResponse struct {
	Admin                model.PublicAdmin `json:"admin"`
	NeedsPasswordUpgrade bool              `json:"needsPasswordUpgrade"`
}

// Login authenticates an admin and sets the session cookie.
// POST /auth/login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := readJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}

	res, err := h.auth.Authenticate(r.Context(), req.Identifier, req.Password)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	if err := res.Err(); err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	if !h.startSession(w, r, res.Admin, req.Remember) {
		return
	}
	writeJSON(w, http.StatusOK, loginResponse{
		Admin:                res.Admin.Public(),
		NeedsPasswordUpgrade: res.NeedsUpgrade,
	})
}

// Logout clears the session cookie. Sessions are stateless, so there is
// nothing to revoke server-side.
// POST /auth/logout
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	h.cookie.Clear(w)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"message": "Signed out",
	})
}

// Me returns the principal resolved for the request.
// GET /auth/me
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	switch p := middleware.GetPrincipal(r.Context()).(type) {
	case service.AdminPrincipal:
		writeJSON(w, http.StatusOK, map[string]interface{}{"type": p.Type(), "admin": p.Admin})
	case service.KeyPrincipal:
		writeJSON(w, http.StatusOK, map[string]interface{}{"type": p.Type()})
	default:
		writeError(w, http.StatusUnauthorized, "Authentication required")
	}
}

// ---------------------------------------------------------------------------
// Password reset
// ---------------------------------------------------------------------------

type resetRequestBody struct {
	Email string `json:"email"`
}

type resetRequestResponse struct {
	Message    string     `json:"message"`
	DebugToken string     `json:"debugToken,omitempty"`
	ExpiresAt  *time.Time `json:"expiresAt,omitempty"`
}

// RequestPasswordReset starts a reset. The response is identical for known
// and unknown accounts.
// POST /auth/password-reset/request
func (h *AuthHandler) RequestPasswordReset(w http.ResponseWriter, r *http.Request) {
	var req resetRequestBody
	if err := readJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}

	resp := resetRequestResponse{Message: resetRequestedMessage}
	out, err := h.resets.Request(r.Context(), req.Email)
	if err != nil {
		// Still 200: the outcome must not depend on the account.
		h.logger.Error("password reset request failed", "error", err)
	} else if out != nil && h.exposeTokens {
		resp.DebugToken = out.Token
		resp.ExpiresAt = &out.ExpiresAt
	}
	writeJSON(w, http.StatusOK, resp)
}

type resetConfirmRequest struct {
	Token    string `json:"token"`
	Password string `json:"password"`
}

func (r resetConfirmRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Token, validation.Required),
		validation.Field(&r.Password, validation.Required),
	)
}

// ConfirmPasswordReset consumes a reset token, sets the new password and
// signs the admin in.
// POST /auth/password-reset/confirm
func (h *AuthHandler) ConfirmPasswordReset(w http.ResponseWriter, r *http.Request) {
	var req resetConfirmRequest
	if err := readJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	if err := req.Validate(); err != nil {
		writeValidationError(w, err)
		return
	}

	admin, err := h.resets.Confirm(r.Context(), req.Token, req.Password)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	if !h.startSession(w, r, admin, false) {
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"admin": admin.Public()})
}

// ---------------------------------------------------------------------------
// Invite redemption
// ---------------------------------------------------------------------------

type invitePreviewRequest struct {
	Token string `json:"token"`
}

func (r invitePreviewRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Token, validation.Required),
	)
}

type invitePreviewResponse struct {
	Invite    model.AdminInvite `json:"invite"`
	CanAccept bool              `json:"canAccept"`
	Reason    string            `json:"reason,omitempty"`
}

// PreviewInvite shows an invite to its recipient before acceptance.
// POST /auth/invite/preview
func (h *AuthHandler) PreviewInvite(w http.ResponseWriter, r *http.Request) {
	var req invitePreviewRequest
	if err := readJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	if err := req.Validate(); err != nil {
		writeValidationError(w, err)
		return
	}

	p, err := h.invites.Preview(r.Context(), req.Token)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, invitePreviewResponse{
		Invite:    p.Invite,
		CanAccept: p.CanAccept,
		Reason:    p.Reason,
	})
}

type inviteAcceptRequest struct {
	Token    string `json:"token"`
	Password string `json:"password"`
}

func (r inviteAcceptRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Token, validation.Required),
		validation.Field(&r.Password, validation.Required),
	)
}

// AcceptInvite creates the invited admin and signs them in.
// POST /auth/invite/accept
func (h *AuthHandler) AcceptInvite(w http.ResponseWriter, r *http.Request) {
	var req inviteAcceptRequest
	if err := readJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	if err := req.Validate(); err != nil {
		writeValidationError(w, err)
		return
	}

	admin, invite, err := h.invites.Accept(r.Context(), req.Token, req.Password)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	if !h.startSession(w, r, admin, false) {
		return
	}
	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"admin":  admin.Public(),
		"invite": invite,
	})
}

// startSession issues a session for admin and sets the cookie. On failure
// it writes a 500 and returns false.
func (h *AuthHandler) startSession(w http.ResponseWriter, r *http.Request, admin *model.AdminUser, remember bool) bool {
	tok, err := h.sessions.Issue(session.Subject{
		ID:       admin.ID,
		Email:    admin.Email,
		Username: admin.Username,
	}, remember)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return false
	}
	h.cookie.Set(w, tok)
	return true
}
