package api

import (
	"net/http"
	"strings"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/netctl/internal/models"
	"github.com/ternarybob/netctl/internal/streambus"
	"github.com/ternarybob/netctl/internal/streambus/ssh"
	"github.com/ternarybob/netctl/internal/tenant"
)

// StreamHandler implements the two WebSocket channels: /ws/jobs/{id} (Log
// Stream Bus) and /ws/devices/{id}/ssh (interactive device shell). Both
// upstream auth happens the same way as the REST handlers (resolveContext
// from request headers); the bus/bridge themselves take the already
// resolved tenant scope as a parameter, per streambus's own convention.
type StreamHandler struct {
	bus    *streambus.Bus
	ssh    *ssh.Bridge
	tenant *tenant.Core
	logger arbor.ILogger
}

// NewStreamHandler builds a StreamHandler.
func NewStreamHandler(bus *streambus.Bus, bridge *ssh.Bridge, t *tenant.Core, logger arbor.ILogger) *StreamHandler {
	return &StreamHandler{bus: bus, ssh: bridge, tenant: t, logger: logger}
}

// JobStream handles GET /ws/jobs/{id}.
func (h *StreamHandler) JobStream(w http.ResponseWriter, r *http.Request) {
	jobID := strings.TrimPrefix(r.URL.Path, "/ws/jobs/")
	jobID = strings.Trim(jobID, "/")
	if jobID == "" {
		http.NotFound(w, r)
		return
	}

	ctx, err := resolveContext(r, h.tenant)
	if err != nil {
		WriteError(w, err)
		return
	}
	if err := tenant.RequireRole(ctx, models.RoleViewer); err != nil {
		WriteError(w, err)
		return
	}

	h.bus.ServeJobStream(w, r, jobID, ctx.AccessibleCustomerIDs)
}

// DeviceShell handles GET /ws/devices/{id}/ssh.
func (h *StreamHandler) DeviceShell(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/ws/devices/")
	deviceID := strings.TrimSuffix(strings.Trim(rest, "/"), "/ssh")
	if deviceID == "" {
		http.NotFound(w, r)
		return
	}

	ctx, err := resolveContext(r, h.tenant)
	if err != nil {
		WriteError(w, err)
		return
	}
	if err := tenant.RequireRole(ctx, models.RoleViewer); err != nil {
		WriteError(w, err)
		return
	}

	h.ssh.ServeDeviceShell(w, r, deviceID, ctx.User.ID, ctx.CustomerID, ctx.AccessibleCustomerIDs)
}
