package api

import "net/http"

// Deps bundles every dependency routes.go wires into the mux, constructed
// once by cmd/orchestratord from an appctx.Context.
type Deps struct {
	Jobs   *JobsHandler
	Create *CreateHandler
	Auth   *AuthHandler
	Stream *StreamHandler
}

// NewMux builds the HTTP/WebSocket surface this process owns, using the
// standard library ServeMux with a prefix-plus-sub-router pattern for
// the /jobs/{id}/... subtree.
func NewMux(d Deps) *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("/auth/me", d.Auth.Me)

	mux.HandleFunc("/jobs", d.Jobs.List)
	mux.HandleFunc("/jobs/", d.Jobs.ServeHTTP)

	mux.HandleFunc("/commands/run", d.Create.RunCommands)
	mux.HandleFunc("/config/backup", d.Create.ConfigBackup)
	mux.HandleFunc("/config/deploy/preview", d.Create.ConfigDeployPreview)
	mux.HandleFunc("/config/deploy/commit", d.Create.ConfigDeployCommit)
	mux.HandleFunc("/compliance/policies/", d.Create.CompliancePolicyRun)
	mux.HandleFunc("/topology/discover", d.Create.TopologyDiscover)

	mux.HandleFunc("/ws/jobs/", d.Stream.JobStream)
	mux.HandleFunc("/ws/devices/", d.Stream.DeviceShell)

	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	return mux
}
