package logger

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLogReport_WritesSections(t *testing.T) {
	var buf bytes.Buffer
	SetReportWriter(&buf)
	defer SetReportWriter(nil)

	LogReport("reconcile", "NDX", []ReportSection{
		{Title: "UNRESOLVED", Lines: []string{"ObscureIndicator"}},
		{Title: "EMPTY"},
	})

	out := buf.String()
	assert.Contains(t, out, "[REPORT][reconcile][NDX]")
	assert.Contains(t, out, "--- UNRESOLVED ---\nObscureIndicator\n")
	assert.NotContains(t, out, "EMPTY")
	assert.True(t, strings.HasSuffix(strings.TrimSpace(out), "====="))
}

func TestLogReport_DisabledWriter(t *testing.T) {
	SetReportWriter(nil)
	assert.NotPanics(t, func() {
		LogReport("batch", "", []ReportSection{{Title: "X", Lines: []string{"a"}}})
	})
}
