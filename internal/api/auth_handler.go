package api

import (
	"net/http"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/netctl/internal/tenant"
)

// AuthHandler implements GET /auth/me. Login/refresh/token validation
// live upstream of this process; this endpoint only reflects back the
// TenantContext resolveContext already computed from the
// upstream-validated principal header.
type AuthHandler struct {
	tenant *tenant.Core
	logger arbor.ILogger
}

// NewAuthHandler builds an AuthHandler.
func NewAuthHandler(t *tenant.Core, logger arbor.ILogger) *AuthHandler {
	return &AuthHandler{tenant: t, logger: logger}
}

// Me handles GET /auth/me.
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	ctx, err := resolveContext(r, h.tenant)
	if err != nil {
		WriteError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"user_id":                 ctx.User.ID,
		"email":                   ctx.User.Email,
		"role":                    ctx.Role,
		"customer_id":             ctx.CustomerID,
		"accessible_customer_ids": ctx.AccessibleCustomerIDs,
	})
}
