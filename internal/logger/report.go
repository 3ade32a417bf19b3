package logger

import (
	"io"
	"log"
	"strings"
	"sync"
)

var (
	reportMu  sync.Mutex
	reportLog *log.Logger
)

// SetReportWriter routes resolution-gap reports to w; nil disables them.
func SetReportWriter(w io.Writer) {
	reportMu.Lock()
	defer reportMu.Unlock()
	if w == nil {
		reportLog = nil
		return
	}
	reportLog = log.New(w, "", log.LstdFlags)
}

// ReportSection is one titled block inside a report entry.
type ReportSection struct {
	Title string
	Lines []string
}

// LogReport writes a framed report entry. Sections without lines are skipped.
func LogReport(kind, subject string, sections []ReportSection) {
	reportMu.Lock()
	l := reportLog
	reportMu.Unlock()
	if l == nil {
		return
	}
	l.Print(renderReport(kind, subject, sections))
}

func renderReport(kind, subject string, sections []ReportSection) string {
	var b strings.Builder
	b.WriteString("[REPORT]")
	for _, tag := range []string{kind, subject} {
		if tag = strings.TrimSpace(tag); tag != "" {
			b.WriteString("[")
			b.WriteString(tag)
			b.WriteString("]")
		}
	}
	b.WriteString("\n")
	for _, sec := range sections {
		if len(sec.Lines) == 0 {
			continue
		}
		t := strings.TrimSpace(sec.Title)
		if t == "" {
			t = "CONTENT"
		}
		b.WriteString("--- ")
		b.WriteString(t)
		b.WriteString(" ---\n")
		for _, line := range sec.Lines {
			b.WriteString(line)
			if !strings.HasSuffix(line, "\n") {
				b.WriteString("\n")
			}
		}
	}
	b.WriteString("=====\n")
	return b.String()
}
