package reporting

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ternarybob/netctl/internal/models"
)

func TestRenderJobReportMarkdownIncludesCoreSections(t *testing.T) {
	job := &models.Job{
		ID:            "job-1",
		Type:          models.JobTypeRunCommands,
		Status:        models.StatusSuccess,
		CustomerID:    "cust-1",
		RequestedAt:   time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		TargetSummary: models.TargetFilters{Vendor: "cisco"},
		ResultSummary: []byte(`{"commands":1}`),
	}
	host := "sw1.example.com"
	logs := []*models.JobLog{
		{JobID: "job-1", TS: job.RequestedAt, Level: models.LogInfo, Host: &host, Message: "show version ok"},
	}

	md := renderJobReportMarkdown(job, logs, nil)

	assert.Contains(t, md, "# Job Report: job-1")
	assert.Contains(t, md, "**Status**: success")
	assert.Contains(t, md, "Vendor: cisco")
	assert.Contains(t, md, "\"commands\": 1")
	assert.Contains(t, md, "sw1.example.com show version ok")
}

func TestRenderMarkdownToPDFProducesNonEmptyDocument(t *testing.T) {
	pdfBytes, err := renderMarkdownToPDF("# Title\n\nSome **bold** text.\n\n```\nshow version\n```\n")
	require.NoError(t, err)
	require.NotEmpty(t, pdfBytes)
	assert.Equal(t, "%PDF", string(pdfBytes[:4]))
}
