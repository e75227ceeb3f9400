package problem

import (
	"crypto/md5" //nolint:gosec // used for short stable ids, not security
	"encoding/hex"
	"fmt"
	"slices"
	"strings"
)

// Classifier turns raw detector records into classified problems using a
// category table. It holds no mutable state, so Classify is deterministic
// and safe for concurrent use.
type Classifier struct {
	table *Table
}

// NewClassifier creates a classifier backed by table. A nil table uses DefaultTable.
func NewClassifier(table *Table) *Classifier {
	if table == nil {
		table = DefaultTable()
	}
	return &Classifier{table: table}
}

// Table returns the category table the classifier uses
func (c *Classifier) Table() *Table {
	return c.table
}

// Classify produces a fully populated Problem. Unrecognized categories are
// never an error: they come back as UNKNOWN, not auto-fixable, HIGH risk.
func (c *Classifier) Classify(raw RawProblem) Problem {
	category := c.table.Resolve(raw.Category)
	profile, _ := c.table.Profile(category)
	severity := ParseSeverity(raw.Severity)

	deps := profile.Dependencies
	slices.Sort(deps)
	deps = slices.Compact(deps)

	p := Problem{
		ID:       raw.ID,
		Category: category,
		Severity: severity,
		Location: Location{
			Path:   raw.Path,
			Line:   raw.Line,
			Column: raw.Column,
		},
		Message:                strings.TrimSpace(raw.Message),
		AutoFixable:            profile.AutoFixable,
		RiskLevel:              profile.Risk,
		EstimatedEffortSeconds: profile.EffortSeconds,
		Dependencies:           deps,
		FixPriority:            PriorityForSeverity(severity),
	}
	if p.ID == "" {
		p.ID = ProblemID(p.Location, p.Message)
	}
	p.Complexity = complexityOf(p.AutoFixable, p.RiskLevel)
	return p
}

// ClassifyAll classifies every record in order
func (c *Classifier) ClassifyAll(raws []RawProblem) []Problem {
	out := make([]Problem, 0, len(raws))
	for _, raw := range raws {
		out = append(out, c.Classify(raw))
	}
	return out
}

// ProblemID derives a short stable identifier from a location and message
func ProblemID(loc Location, message string) string {
	sum := md5.Sum([]byte(fmt.Sprintf("%s:%d:%s", loc.Path, loc.Line, message))) //nolint:gosec
	return hex.EncodeToString(sum[:])[:8]
}

func complexityOf(autoFixable bool, risk RiskLevel) Complexity {
	switch {
	case !autoFixable && risk >= RiskHigh:
		return ComplexityCritical
	case !autoFixable:
		return ComplexityComplex
	case risk >= RiskMedium:
		return ComplexityModerate
	default:
		return ComplexitySimple
	}
}
