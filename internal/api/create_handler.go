package api

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/netctl/internal/apperr"
	"github.com/ternarybob/netctl/internal/jobservice"
	"github.com/ternarybob/netctl/internal/models"
	"github.com/ternarybob/netctl/internal/tenant"
)

// CreateHandler implements the job-creation endpoints: /commands/run,
// /config/backup, /config/deploy/preview, /config/deploy/commit,
// /compliance/policies/{id}/run, /topology/discover. Each simply resolves
// the caller's tenant, shapes a job_type + payload, and calls through to
// jobservice.Service.CreateJob, which owns validation.
type CreateHandler struct {
	jobs   *jobservice.Service
	tenant *tenant.Core
	logger arbor.ILogger
}

// NewCreateHandler builds a CreateHandler.
func NewCreateHandler(jobs *jobservice.Service, t *tenant.Core, logger arbor.ILogger) *CreateHandler {
	return &CreateHandler{jobs: jobs, tenant: t, logger: logger}
}

// createEnvelope is the common request shape every creation endpoint
// accepts: a target filter set, an optional schedule time, plus
// type-specific fields left in the raw body for the jobtype payload
// validator to pick up.
type createEnvelope struct {
	Targets      models.TargetFilters `json:"targets"`
	ScheduledFor *time.Time           `json:"scheduled_for,omitempty"`
}

func (h *CreateHandler) create(w http.ResponseWriter, r *http.Request, jobType models.JobType, payload json.RawMessage) {
	tctx, err := resolveContext(r, h.tenant)
	if err != nil {
		WriteError(w, err)
		return
	}
	if err := tenant.RequireRole(tctx, models.RoleOperator); err != nil {
		WriteError(w, err)
		return
	}

	var env createEnvelope
	if err := json.Unmarshal(payload, &env); err != nil {
		WriteError(w, apperr.ErrValidation)
		return
	}

	job, err := h.jobs.CreateJob(r.Context(), tctx.CustomerID, tctx.User.ID, jobType, env.Targets, payload, env.ScheduledFor)
	if err != nil {
		WriteError(w, err)
		return
	}
	WriteJSON(w, http.StatusAccepted, map[string]interface{}{"job_id": job.ID, "status": job.Status})
}

func readBody(r *http.Request) (json.RawMessage, error) {
	defer r.Body.Close()
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, err
	}
	if len(body) == 0 {
		return json.RawMessage("{}"), nil
	}
	return json.RawMessage(body), nil
}

// RunCommands handles POST /commands/run.
func (h *CreateHandler) RunCommands(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(r)
	if err != nil {
		WriteError(w, apperr.ErrValidation)
		return
	}
	h.create(w, r, models.JobTypeRunCommands, body)
}

// ConfigBackup handles POST /config/backup.
func (h *CreateHandler) ConfigBackup(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(r)
	if err != nil {
		WriteError(w, apperr.ErrValidation)
		return
	}
	h.create(w, r, models.JobTypeConfigBackup, body)
}

// ConfigDeployPreview handles POST /config/deploy/preview.
func (h *CreateHandler) ConfigDeployPreview(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(r)
	if err != nil {
		WriteError(w, apperr.ErrValidation)
		return
	}
	h.create(w, r, models.JobTypeConfigDeployPreview, body)
}

// ConfigDeployCommit handles POST /config/deploy/commit. Requires
// payload.previous_job_id to reference a successful preview job; enforced
// by jobservice.Service.CreateJob.
func (h *CreateHandler) ConfigDeployCommit(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(r)
	if err != nil {
		WriteError(w, apperr.ErrValidation)
		return
	}
	h.create(w, r, models.JobTypeConfigDeployCommit, body)
}

// CompliancePolicyRun handles POST /compliance/policies/{id}/run. The
// policy id comes from the URL path, merged into the payload so the
// jobtype.PayloadComplianceCheck validator sees policy_id regardless of
// what (if anything) the caller posted.
func (h *CreateHandler) CompliancePolicyRun(w http.ResponseWriter, r *http.Request) {
	policyID := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/compliance/policies/"), "/run")
	if policyID == "" {
		WriteError(w, apperr.ErrValidation)
		return
	}

	body, err := readBody(r)
	if err != nil {
		WriteError(w, apperr.ErrValidation)
		return
	}
	var fields map[string]interface{}
	if err := json.Unmarshal(body, &fields); err != nil {
		WriteError(w, apperr.ErrValidation)
		return
	}
	fields["policy_id"] = policyID
	merged, err := json.Marshal(fields)
	if err != nil {
		WriteError(w, apperr.ErrValidation)
		return
	}
	h.create(w, r, models.JobTypeComplianceCheck, merged)
}

// TopologyDiscover handles POST /topology/discover.
func (h *CreateHandler) TopologyDiscover(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(r)
	if err != nil {
		WriteError(w, apperr.ErrValidation)
		return
	}
	h.create(w, r, models.JobTypeTopologyDiscovery, body)
}
