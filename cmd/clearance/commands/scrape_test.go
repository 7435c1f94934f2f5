package commands

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/maltedev/clearance-scraper/internal/pagination"
	"github.com/maltedev/clearance-scraper/internal/runner"
	"github.com/stretchr/testify/assert"
)

func TestRenderReports(t *testing.T) {
	reports := []runner.Report{
		{Site: "rona", Pages: 1, Records: 42, Catalogs: 1, Reason: pagination.ReasonPageLimit, Duration: 3 * time.Second},
		{Site: "walmart", Pages: 2, Records: 0, Reason: pagination.ReasonPageFailure, Err: errors.New("blocked by Robot or human?")},
	}

	var buf bytes.Buffer
	renderReports(&buf, reports)
	out := buf.String()

	assert.Contains(t, out, "rona")
	assert.Contains(t, out, "page-limit")
	assert.Contains(t, out, "blocked by Robot or human?")
	assert.Contains(t, strings.ToLower(out), "1 failed")
}

func TestFailedSites(t *testing.T) {
	reports := []runner.Report{
		{Site: "rona"},
		{Site: "walmart", Err: errors.New("timeout")},
		{Site: "princessauto", Err: errors.New("closed")},
	}
	assert.Equal(t, []string{"walmart", "princessauto"}, failedSites(reports))
	assert.Empty(t, failedSites(reports[:1]))
}
