package api

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/netctl/internal/apperr"
	"github.com/ternarybob/netctl/internal/jobservice"
	"github.com/ternarybob/netctl/internal/models"
	"github.com/ternarybob/netctl/internal/reporting"
	"github.com/ternarybob/netctl/internal/store"
	"github.com/ternarybob/netctl/internal/tenant"
)

// JobsHandler implements the GET/POST /jobs family of the HTTP API: a
// thin struct holding the services it calls through to, with no business
// logic of its own.
type JobsHandler struct {
	jobs      *jobservice.Service
	store     store.Store
	reporting *reporting.Service
	tenant    *tenant.Core
	logger    arbor.ILogger
}

// NewJobsHandler builds a JobsHandler.
func NewJobsHandler(jobs *jobservice.Service, s store.Store, rep *reporting.Service, t *tenant.Core, logger arbor.ILogger) *JobsHandler {
	return &JobsHandler{jobs: jobs, store: s, reporting: rep, tenant: t, logger: logger}
}

// List handles GET /jobs?status=&type=&hostname=&skip=&limit=.
func (h *JobsHandler) List(w http.ResponseWriter, r *http.Request) {
	ctx, err := resolveContext(r, h.tenant)
	if err != nil {
		WriteError(w, err)
		return
	}
	if err := tenant.RequireRole(ctx, models.RoleViewer); err != nil {
		WriteError(w, err)
		return
	}

	q := r.URL.Query()
	filters := store.JobFilters{
		Type:     models.JobType(q.Get("type")),
		Status:   models.Status(q.Get("status")),
		Hostname: q.Get("hostname"),
		Skip:     atoiOr(q.Get("skip"), 0),
		Limit:    atoiOr(q.Get("limit"), 50),
	}

	jobs, total, err := h.store.ListJobs(r.Context(), ctx.AccessibleCustomerIDs, filters)
	if err != nil {
		WriteError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"jobs":  jobs,
		"total": total,
	})
}

// Get handles GET /jobs/{id}.
func (h *JobsHandler) Get(w http.ResponseWriter, r *http.Request, id string) {
	ctx, err := resolveContext(r, h.tenant)
	if err != nil {
		WriteError(w, err)
		return
	}
	if err := tenant.RequireRole(ctx, models.RoleViewer); err != nil {
		WriteError(w, err)
		return
	}

	job, err := h.store.GetJobForTenant(r.Context(), id, ctx.AccessibleCustomerIDs)
	if err != nil {
		WriteError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, job)
}

// Logs handles GET /jobs/{id}/logs?since_ts=&limit=.
func (h *JobsHandler) Logs(w http.ResponseWriter, r *http.Request, id string) {
	ctx, err := resolveContext(r, h.tenant)
	if err != nil {
		WriteError(w, err)
		return
	}
	if err := tenant.RequireRole(ctx, models.RoleViewer); err != nil {
		WriteError(w, err)
		return
	}

	if _, err := h.store.GetJobForTenant(r.Context(), id, ctx.AccessibleCustomerIDs); err != nil {
		WriteError(w, err)
		return
	}

	var sinceTS *time.Time
	if raw := r.URL.Query().Get("since_ts"); raw != "" {
		ts, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			WriteError(w, apperr.ErrValidation)
			return
		}
		sinceTS = &ts
	}
	limit := atoiOr(r.URL.Query().Get("limit"), 200)
	logs, err := h.store.ListLogs(r.Context(), id, sinceTS, limit)
	if err != nil {
		WriteError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{"logs": logs})
}

// Report handles GET /jobs/{id}/report, returning a PDF summary of the
// job's metadata, result, and log tail.
func (h *JobsHandler) Report(w http.ResponseWriter, r *http.Request, id string) {
	ctx, err := resolveContext(r, h.tenant)
	if err != nil {
		WriteError(w, err)
		return
	}
	if err := tenant.RequireRole(ctx, models.RoleViewer); err != nil {
		WriteError(w, err)
		return
	}

	pdfBytes, err := h.reporting.RenderJobReport(r.Context(), id, ctx.AccessibleCustomerIDs)
	if err != nil {
		WriteError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", "attachment; filename=\""+id+"-report.pdf\"")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(pdfBytes)
}

// Retry handles POST /jobs/{id}/retry.
func (h *JobsHandler) Retry(w http.ResponseWriter, r *http.Request, id string) {
	ctx, err := resolveContext(r, h.tenant)
	if err != nil {
		WriteError(w, err)
		return
	}
	if err := tenant.RequireRole(ctx, models.RoleOperator); err != nil {
		WriteError(w, err)
		return
	}

	job, err := h.jobs.RetryJob(r.Context(), id, ctx.AccessibleCustomerIDs)
	if err != nil {
		WriteError(w, err)
		return
	}
	WriteJSON(w, http.StatusAccepted, job)
}

// Cancel handles POST /jobs/{id}/cancel.
func (h *JobsHandler) Cancel(w http.ResponseWriter, r *http.Request, id string) {
	ctx, err := resolveContext(r, h.tenant)
	if err != nil {
		WriteError(w, err)
		return
	}
	if err := tenant.RequireRole(ctx, models.RoleOperator); err != nil {
		WriteError(w, err)
		return
	}

	job, err := h.jobs.CancelJob(r.Context(), id, ctx.User.ID, ctx.AccessibleCustomerIDs)
	if err != nil {
		WriteError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, job)
}

// ServeHTTP dispatches the /jobs/ subtree: /jobs/{id}, /jobs/{id}/logs,
// /jobs/{id}/report, /jobs/{id}/retry, /jobs/{id}/cancel. The bare /jobs path (List) is
// registered separately by routes.go.
func (h *JobsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/jobs/")
	parts := strings.Split(strings.Trim(rest, "/"), "/")
	if len(parts) == 0 || parts[0] == "" {
		http.NotFound(w, r)
		return
	}
	id := parts[0]

	if len(parts) == 1 {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		h.Get(w, r, id)
		return
	}

	switch parts[1] {
	case "logs":
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		h.Logs(w, r, id)
	case "report":
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		h.Report(w, r, id)
	case "retry":
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		h.Retry(w, r, id)
	case "cancel":
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		h.Cancel(w, r, id)
	default:
		http.NotFound(w, r)
	}
}

func atoiOr(s string, def int) int {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}
