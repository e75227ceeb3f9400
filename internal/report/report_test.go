package report

import (
	"bytes"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/remediator/internal/compliance"
	"github.com/fyrsmithlabs/remediator/internal/objective"
	"github.com/fyrsmithlabs/remediator/internal/orchestrator"
	"github.com/fyrsmithlabs/remediator/internal/problem"
	"github.com/fyrsmithlabs/remediator/internal/validate"
)

func sampleReport() *orchestrator.PhaseReport {
	return &orchestrator.PhaseReport{
		RunID:                "run-1",
		PhaseName:            "stabilize",
		ErrorsProcessed:      10,
		ErrorsFixed:          7,
		ErrorsFailed:         1,
		ErrorsDeferred:       2,
		ExecutionTimeSeconds: 12.34,
		ValidationScore:      87.5,
		NextActions:          []string{"Expert review: 2 TYPE_ERROR problems above the LOW ceiling"},
		DeferredByCategory:   map[problem.Category]int{problem.CategoryType: 2},
		CategoryScores: []validate.Score{
			{Category: problem.CategoryLint, Value: 100, Succeeded: 5, Total: 5},
			{Category: problem.CategorySyntax, Value: 66.7, Succeeded: 2, Total: 3, Provisional: true},
		},
		BatchesPlanned:    3,
		BatchesFailed:     0,
		Waves:             2,
		ComplianceBefore:  90,
		ComplianceAfter:   90.55,
		ComplianceDelta:   0.55,
		ObjectiveAdvances: map[string]float64{"automation_coverage": 0.05},
	}
}

func sampleStatus() Status {
	r1 := sampleReport()
	r2 := sampleReport()
	r2.PhaseName = "raise_compliance"
	r2.ComplianceBefore, r2.ComplianceAfter, r2.ComplianceDelta = 90.55, 91.1, 0.55
	r2.Fatal = true
	return Status{
		Run: &orchestrator.RunState{
			RunID: "run-1",
			Compliance: compliance.State{
				CurrentScore:            91.1,
				TargetScore:             98,
				PerCategoryContribution: map[problem.Category]float64{problem.CategoryLint: 1.1},
			},
			Objectives: []objective.Objective{
				{Name: "automation_coverage", CurrentProgress: 0.1, TargetProgress: 1},
				{Name: "integration_health", CurrentProgress: 1, TargetProgress: 1},
			},
			Phases:    []string{"stabilize", "raise_compliance"},
			UpdatedAt: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
		},
		History: []*orchestrator.PhaseReport{r1, r2},
	}
}

func TestParseFormat(t *testing.T) {
	tests := []struct {
		in      string
		want    Format
		wantErr bool
	}{
		{"", FormatConsole, false},
		{"console", FormatConsole, false},
		{"MD", FormatMarkdown, false},
		{"markdown", FormatMarkdown, false},
		{"json", FormatJSON, false},
		{"html", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseFormat(tt.in)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrUnknownFormat)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestWritePhase_Console(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WritePhase(&buf, FormatConsole, sampleReport()))
	out := buf.String()

	assert.Contains(t, out, "phase stabilize")
	assert.Contains(t, out, "PARTIAL")
	assert.Contains(t, out, "90.00 → 90.55")
	assert.Contains(t, out, "(+0.55)")
	assert.Contains(t, out, "provisional")
	assert.Contains(t, out, "TYPE_ERROR")
	assert.Contains(t, out, "automation_coverage")
	assert.Contains(t, out, "Expert review")
}

func TestWritePhase_Markdown(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WritePhase(&buf, FormatMarkdown, sampleReport()))
	out := buf.String()

	assert.Contains(t, out, "## Phase `stabilize` PARTIAL")
	assert.Contains(t, out, "| Compliance | 90.00 → 90.55 (+0.55) |")
	assert.Contains(t, out, "| SYNTAX_ERROR | 66.7 | 2/3 | provisional |")
	assert.Contains(t, out, "- TYPE_ERROR: 2")
	assert.Contains(t, out, "- automation_coverage: +0.050")
	assert.Contains(t, out, "- [ ] Expert review")
	assert.Contains(t, out, "| Duration | 12.3s |")
}

func TestWritePhase_JSON(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WritePhase(&buf, FormatJSON, sampleReport()))

	var got orchestrator.PhaseReport
	require.NoError(t, json.Unmarshal(buf.Bytes(), &got))
	assert.Equal(t, 7, got.ErrorsFixed)
}

func TestWritePhase_Errors(t *testing.T) {
	assert.Error(t, WritePhase(&bytes.Buffer{}, FormatConsole, nil))
	assert.ErrorIs(t, WritePhase(&bytes.Buffer{}, Format("html"), sampleReport()), ErrUnknownFormat)
	assert.Error(t, WriteStatus(&bytes.Buffer{}, FormatConsole, Status{}))
}

func TestWriteStatus(t *testing.T) {
	t.Run("console", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, WriteStatus(&buf, FormatConsole, sampleStatus()))
		out := buf.String()
		assert.Contains(t, out, "run run-1")
		assert.Contains(t, out, "91.10 / 98.00")
		assert.Contains(t, out, "1. stabilize")
		assert.Contains(t, out, "2. raise_compliance")
		assert.Contains(t, out, "FATAL")
		assert.Contains(t, out, "●", "completed objectives are marked")
	})

	t.Run("markdown", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, WriteStatus(&buf, FormatMarkdown, sampleStatus()))
		out := buf.String()
		assert.Contains(t, out, "# Run `run-1`")
		assert.Contains(t, out, "Compliance **91.10** of 98.00")
		assert.Contains(t, out, "| integration_health | 1.00 | 1.00 |")
		assert.Contains(t, out, "2. `raise_compliance` FATAL: fixed 7/10, compliance +0.55")
	})

	t.Run("empty history", func(t *testing.T) {
		s := sampleStatus()
		s.History = nil
		var buf bytes.Buffer
		require.NoError(t, WriteStatus(&buf, FormatMarkdown, s))
		assert.Contains(t, buf.String(), "No phases yet.")
	})
}

func TestComplianceHistory(t *testing.T) {
	assert.Nil(t, ComplianceHistory(nil))
	assert.Equal(t, []float64{90, 90.55, 91.1}, ComplianceHistory(sampleStatus().History))
}

func TestFormatters(t *testing.T) {
	assert.Equal(t, "250ms", FormatSeconds(0.25))
	assert.Equal(t, "12.3s", FormatSeconds(12.34))
	assert.Equal(t, "4m 05s", FormatSeconds(245))
	assert.Equal(t, "+1.25", FormatDelta(1.25))
	assert.Equal(t, "-0.40", FormatDelta(-0.4))
	assert.Equal(t, "45.0%", FormatRatio(0.45))
}

func TestSparkline(t *testing.T) {
	c := NewConsole(&bytes.Buffer{})
	assert.Contains(t, c.Sparkline(nil), "no data")
	assert.NotEmpty(t, c.Sparkline([]float64{90, 91, 93}))
}
