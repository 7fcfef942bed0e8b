// Package reporting renders a per-job PDF summary: job metadata, the
// terminal result summary, per-host config snapshots when the job is a
// config_backup, and a tail of the job's logs. It is consumed by the HTTP
// API's GET /jobs/{id}/report endpoint, not by the Worker Runtime itself.
package reporting

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/netctl/internal/models"
	"github.com/ternarybob/netctl/internal/store"
)

const logTailLimit = 200

// Service renders job reports against the Job Store.
type Service struct {
	store  store.Store
	logger arbor.ILogger
}

// New builds a Service.
func New(st store.Store, logger arbor.ILogger) *Service {
	return &Service{store: st, logger: logger}
}

// RenderJobReport builds a PDF summary of the job named by jobID, scoped
// to accessibleCustomerIDs the same way the HTTP API scopes job reads.
func (s *Service) RenderJobReport(ctx context.Context, jobID string, accessibleCustomerIDs []string) ([]byte, error) {
	job, err := s.store.GetJobForTenant(ctx, jobID, accessibleCustomerIDs)
	if err != nil {
		return nil, fmt.Errorf("load job: %w", err)
	}

	logs, err := s.store.ListLogs(ctx, jobID, nil, 0)
	if err != nil {
		return nil, fmt.Errorf("load job logs: %w", err)
	}
	if len(logs) > logTailLimit {
		logs = logs[len(logs)-logTailLimit:]
	}

	var snapshots []*models.ConfigSnapshot
	if job.Type == models.JobTypeConfigBackup {
		snapshots, err = s.store.ConfigSnapshotsByJob(ctx, jobID)
		if err != nil {
			return nil, fmt.Errorf("load config snapshots: %w", err)
		}
	}

	md := renderJobReportMarkdown(job, logs, snapshots)

	s.logger.Debug().Str("job_id", jobID).Int("markdown_len", len(md)).Msg("rendering job report")

	pdfBytes, err := renderMarkdownToPDF(md)
	if err != nil {
		return nil, err
	}
	return pdfBytes, nil
}

func renderJobReportMarkdown(job *models.Job, logs []*models.JobLog, snapshots []*models.ConfigSnapshot) string {
	var b strings.Builder

	fmt.Fprintf(&b, "# Job Report: %s\n\n", job.ID)
	fmt.Fprintf(&b, "**Type**: %s\n\n", job.Type)
	fmt.Fprintf(&b, "**Status**: %s\n\n", job.Status)
	fmt.Fprintf(&b, "**Customer**: %s\n\n", job.CustomerID)
	if job.RegionID != nil {
		fmt.Fprintf(&b, "**Region**: %s\n\n", *job.RegionID)
	}
	fmt.Fprintf(&b, "**Requested at**: %s\n\n", job.RequestedAt.Format(time.RFC3339))
	if job.StartedAt != nil {
		fmt.Fprintf(&b, "**Started at**: %s\n\n", job.StartedAt.Format(time.RFC3339))
	}
	if job.FinishedAt != nil {
		fmt.Fprintf(&b, "**Finished at**: %s\n\n", job.FinishedAt.Format(time.RFC3339))
	}

	if !job.TargetSummary.Empty() {
		b.WriteString("## Targets\n\n")
		fmt.Fprintf(&b, "- Site: %s\n", orDash(job.TargetSummary.Site))
		fmt.Fprintf(&b, "- Role: %s\n", orDash(job.TargetSummary.Role))
		fmt.Fprintf(&b, "- Vendor: %s\n", orDash(job.TargetSummary.Vendor))
		fmt.Fprintf(&b, "- Hostname: %s\n", orDash(job.TargetSummary.Hostname))
		if len(job.TargetSummary.DeviceIDs) > 0 {
			fmt.Fprintf(&b, "- Devices: %s\n", strings.Join(job.TargetSummary.DeviceIDs, ", "))
		}
		b.WriteString("\n")
	}

	if len(job.ResultSummary) > 0 {
		b.WriteString("## Result Summary\n\n")
		b.WriteString("```\n")
		b.WriteString(prettyJSON(job.ResultSummary))
		b.WriteString("\n```\n\n")
	}

	if len(snapshots) > 0 {
		b.WriteString("## Config Snapshots\n\n")
		for _, snap := range snapshots {
			fmt.Fprintf(&b, "### Device %s\n\n", snap.DeviceID)
			fmt.Fprintf(&b, "- sha256: %s\n\n", snap.Hash)
			b.WriteString("```\n")
			b.WriteString(snap.Text)
			b.WriteString("\n```\n\n")
		}
	}

	if len(logs) > 0 {
		b.WriteString("## Log Tail\n\n")
		b.WriteString("```\n")
		for _, l := range logs {
			host := ""
			if l.Host != nil {
				host = " " + *l.Host
			}
			fmt.Fprintf(&b, "%s %s%s %s\n", l.TS.Format(time.RFC3339), l.Level, host, l.Message)
		}
		b.WriteString("```\n")
	}

	return b.String()
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func prettyJSON(raw json.RawMessage) string {
	var v interface{}
	if err := json.Unmarshal(raw, &v); err != nil {
		return string(raw)
	}
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return string(raw)
	}
	return string(out)
}
