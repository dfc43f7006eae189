package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"regexp"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"

	"github.com/faucetdb/gatehouse/internal/config"
	"github.com/faucetdb/gatehouse/internal/model"
	"github.com/faucetdb/gatehouse/internal/server/middleware"
	"github.com/faucetdb/gatehouse/internal/service"
)

var usernamePattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)

// AdminDirectory is the part of the account directory the users endpoints
// read and modify directly.
type AdminDirectory interface {
	ListAdmins(ctx context.Context) ([]model.AdminUser, error)
	SetAdminActive(ctx context.Context, id int64, active bool) (*model.AdminUser, error)
}

// UsersHandler serves the gated admin management endpoints.
type UsersHandler struct {
	dir          AdminDirectory
	invites      *service.Invites
	exposeTokens bool
	logger       *slog.Logger
}

// NewUsersHandler creates a new UsersHandler.
func NewUsersHandler(dir AdminDirectory, invites *service.Invites, exposeTokens bool, logger *slog.Logger) *UsersHandler {
	return &UsersHandler{dir: dir, invites: invites, exposeTokens: exposeTokens, logger: logger}
}

type listUsersResponse struct {
	Admins  []model.PublicAdmin `json:"admins"`
	Invites []model.AdminInvite `json:"invites"`
}

// List returns every admin and every invite, including invite history.
// GET /admin/users
func (h *UsersHandler) List(w http.ResponseWriter, r *http.Request) {
	admins, err := h.dir.ListAdmins(r.Context())
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	invites, err := h.invites.List(r.Context())
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	resp := listUsersResponse{
		Admins:  make([]model.PublicAdmin, 0, len(admins)),
		Invites: invites,
	}
	for i := range admins {
		resp.Admins = append(resp.Admins, admins[i].Public())
	}
	writeJSON(w, http.StatusOK, resp)
}

type inviteRequest struct {
	Email    string `json:"email"`
	Username string `json:"username"`
}

func (r inviteRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Email, validation.Required, validation.Length(3, 254), is.Email),
		validation.Field(&r.Username, validation.Required, validation.Length(2, 64),
			validation.Match(usernamePattern).Error("must start with a letter or digit and contain only letters, digits, '.', '_' or '-'")),
	)
}

type inviteResponse struct {
	Invite     model.AdminInvite `json:"invite"`
	DebugToken string            `json:"debugToken,omitempty"`
	ExpiresAt  *time.Time        `json:"expiresAt,omitempty"`
}

func (h *UsersHandler) inviteResponse(issued *service.IssuedInvite) inviteResponse {
	resp := inviteResponse{Invite: issued.Invite}
	if h.exposeTokens {
		resp.DebugToken = issued.Token
		resp.ExpiresAt = &issued.ExpiresAt
	}
	return resp
}

// Invite issues (or re-issues) an invite.
// POST /admin/users/invite
func (h *UsersHandler) Invite(w http.ResponseWriter, r *http.Request) {
	var req inviteRequest
	if err := readJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	req.Email = model.NormalizeEmail(req.Email)
	req.Username = model.NormalizeUsername(req.Username)
	if err := req.Validate(); err != nil {
		writeValidationError(w, err)
		return
	}

	issued, err := h.invites.Issue(r.Context(), req.Email, req.Username, middleware.GetAdminID(r.Context()))
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, h.inviteResponse(issued))
}

// ResendInvite rotates an invite's token and delivers it again.
// POST /admin/users/invites/{id}/resend
func (h *UsersHandler) ResendInvite(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "Invalid invite id")
		return
	}

	issued, err := h.invites.Resend(r.Context(), id, middleware.GetAdminID(r.Context()))
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, h.inviteResponse(issued))
}

// RevokeInvite revokes an invite. The row is kept for history.
// DELETE /admin/users/invites/{id}
func (h *UsersHandler) RevokeInvite(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "Invalid invite id")
		return
	}

	if _, err := h.invites.Revoke(r.Context(), id); err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type updateAdminRequest struct {
	IsActive *bool `json:"isActive"`
}

func (r updateAdminRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.IsActive, validation.NotNil),
	)
}

// UpdateAdmin enables or disables an admin account.
// PATCH /admin/users/{id}
func (h *UsersHandler) UpdateAdmin(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "Invalid admin id")
		return
	}

	var req updateAdminRequest
	if err := readJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	if err := req.Validate(); err != nil {
		writeValidationError(w, err)
		return
	}

	if self := middleware.GetAdminID(r.Context()); self != nil && *self == id && !*req.IsActive {
		writeError(w, http.StatusBadRequest, "You cannot disable your own account")
		return
	}

	admin, err := h.dir.SetAdminActive(r.Context(), id, *req.IsActive)
	if err != nil {
		if errors.Is(err, config.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Admin not found", map[string]interface{}{"reason": service.ReasonAdminNotFound})
			return
		}
		writeServiceError(w, r, h.logger, err)
		return
	}
	h.logger.Info("admin activation changed", "admin_id", admin.ID, "is_active", admin.IsActive, "by", middleware.GetAdminID(r.Context()))
	writeJSON(w, http.StatusOK, map[string]interface{}{"admin": admin.Public()})
}
