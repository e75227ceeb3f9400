// Package report renders phase reports and run status for people and
// machines: a styled console view, markdown for PR comments, and JSON.
package report

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/fyrsmithlabs/remediator/internal/orchestrator"
)

// Format selects a renderer.
type Format string

const (
	FormatConsole  Format = "console"
	FormatMarkdown Format = "markdown"
	FormatJSON     Format = "json"
)

// ErrUnknownFormat is returned by ParseFormat.
var ErrUnknownFormat = errors.New("unknown report format")

// ParseFormat parses console, markdown (or md) and json.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "console":
		return FormatConsole, nil
	case "markdown", "md":
		return FormatMarkdown, nil
	case "json":
		return FormatJSON, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownFormat, s)
}

// Status is a run with its phase history.
type Status struct {
	Run     *orchestrator.RunState      `json:"run"`
	History []*orchestrator.PhaseReport `json:"history"`
}

// WritePhase renders one phase report.
func WritePhase(w io.Writer, f Format, r *orchestrator.PhaseReport) error {
	if r == nil {
		return errors.New("report is nil")
	}
	switch f {
	case FormatJSON:
		return writeJSON(w, r)
	case FormatMarkdown:
		return markdownTemplates.ExecuteTemplate(w, "phase", r)
	case FormatConsole:
		_, err := io.WriteString(w, NewConsole(w).Phase(r))
		return err
	}
	return fmt.Errorf("%w: %q", ErrUnknownFormat, f)
}

// WriteStatus renders a run and its history.
func WriteStatus(w io.Writer, f Format, s Status) error {
	if s.Run == nil {
		return errors.New("run is nil")
	}
	switch f {
	case FormatJSON:
		return writeJSON(w, s)
	case FormatMarkdown:
		return markdownTemplates.ExecuteTemplate(w, "status", s)
	case FormatConsole:
		_, err := io.WriteString(w, NewConsole(w).Status(s))
		return err
	}
	return fmt.Errorf("%w: %q", ErrUnknownFormat, f)
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// FormatSeconds formats a duration in seconds as "850ms", "12.3s" or "4m 05s".
func FormatSeconds(seconds float64) string {
	switch {
	case seconds < 1:
		return fmt.Sprintf("%.0fms", seconds*1000)
	case seconds < 60:
		return fmt.Sprintf("%.1fs", seconds)
	}
	total := int64(seconds)
	return fmt.Sprintf("%dm %02ds", total/60, total%60)
}

// FormatDelta formats a signed score change as "+1.25" or "-0.40".
func FormatDelta(d float64) string {
	return fmt.Sprintf("%+.2f", d)
}

// FormatRatio formats a 0-1 ratio as a percentage.
func FormatRatio(ratio float64) string {
	return fmt.Sprintf("%.1f%%", ratio*100)
}

// ComplianceHistory returns the score after each phase, starting with the
// score before the first.
func ComplianceHistory(history []*orchestrator.PhaseReport) []float64 {
	if len(history) == 0 {
		return nil
	}
	out := make([]float64, 0, len(history)+1)
	out = append(out, history[0].ComplianceBefore)
	for _, r := range history {
		out = append(out, r.ComplianceAfter)
	}
	return out
}

func outcome(r *orchestrator.PhaseReport) string {
	switch {
	case r.Fatal:
		return "FATAL"
	case r.Aborted:
		return "ABORTED"
	case r.ErrorsFailed > 0:
		return "PARTIAL"
	}
	return "OK"
}
