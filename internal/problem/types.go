// Package problem defines the problem data model and the table-driven
// classifier that turns raw detector records into classified problems.
package problem

import (
	"fmt"
	"slices"
	"strconv"
	"strings"
)

// Category is a fixed taxonomy tag for a problem
type Category string

const (
	CategorySyntax       Category = "SYNTAX_ERROR"
	CategoryImport       Category = "IMPORT_ERROR"
	CategoryStructural   Category = "STRUCTURAL_VIOLATION"
	CategoryMissingLogic Category = "MISSING_LOGIC"
	CategorySecurity     Category = "SECURITY_VIOLATION"
	CategoryType         Category = "TYPE_ERROR"
	CategoryLint         Category = "LINT_FORMATTING"

	// CategoryUnknown is assigned to records whose hint matches nothing in the table
	CategoryUnknown Category = "UNKNOWN"
)

// AllCategories returns the known categories in table order
func AllCategories() []Category {
	return []Category{
		CategorySyntax,
		CategoryImport,
		CategoryStructural,
		CategoryMissingLogic,
		CategorySecurity,
		CategoryType,
		CategoryLint,
	}
}

// Severity is the detector-reported severity of a problem
type Severity string

const (
	SeverityError   Severity = "ERROR"
	SeverityWarning Severity = "WARNING"
	SeverityInfo    Severity = "INFO"
)

// ParseSeverity normalizes a detector severity. Anything unrecognized is a warning.
func ParseSeverity(s string) Severity {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "ERROR", "ERR", "FATAL", "CRITICAL":
		return SeverityError
	case "INFO", "NOTE", "HINT":
		return SeverityInfo
	default:
		return SeverityWarning
	}
}

// RiskLevel estimates how likely an automated fix is to cause side effects.
// Levels are ordered: RiskLow < RiskMedium < RiskHigh.
type RiskLevel int

const (
	RiskLow RiskLevel = iota + 1
	RiskMedium
	RiskHigh
)

func (r RiskLevel) String() string {
	switch r {
	case RiskLow:
		return "LOW"
	case RiskMedium:
		return "MEDIUM"
	case RiskHigh:
		return "HIGH"
	default:
		return "RiskLevel(" + strconv.Itoa(int(r)) + ")"
	}
}

// ParseRiskLevel parses LOW, MEDIUM or HIGH (case-insensitive)
func ParseRiskLevel(s string) (RiskLevel, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "LOW":
		return RiskLow, nil
	case "MEDIUM":
		return RiskMedium, nil
	case "HIGH":
		return RiskHigh, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownRiskLevel, s)
	}
}

// MarshalText implements encoding.TextMarshaler.
func (r RiskLevel) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (r *RiskLevel) UnmarshalText(text []byte) error {
	parsed, err := ParseRiskLevel(string(text))
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}

// Priority is the fix priority derived from severity
type Priority int

const (
	PriorityLow Priority = iota + 1
	PriorityMedium
	PriorityHigh
)

func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "LOW"
	case PriorityMedium:
		return "MEDIUM"
	case PriorityHigh:
		return "HIGH"
	default:
		return "Priority(" + strconv.Itoa(int(p)) + ")"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (p Priority) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (p *Priority) UnmarshalText(text []byte) error {
	switch strings.ToUpper(string(text)) {
	case "LOW":
		*p = PriorityLow
	case "MEDIUM":
		*p = PriorityMedium
	case "HIGH":
		*p = PriorityHigh
	default:
		return fmt.Errorf("unknown priority %q", text)
	}
	return nil
}

// PriorityForSeverity maps ERROR->HIGH, WARNING->MEDIUM, INFO->LOW
func PriorityForSeverity(s Severity) Priority {
	switch s {
	case SeverityError:
		return PriorityHigh
	case SeverityInfo:
		return PriorityLow
	default:
		return PriorityMedium
	}
}

// Complexity is a coarse handling tier derived from risk and auto-fixability
type Complexity string

const (
	ComplexitySimple   Complexity = "SIMPLE"
	ComplexityModerate Complexity = "MODERATE"
	ComplexityComplex  Complexity = "COMPLEX"
	ComplexityCritical Complexity = "CRITICAL"
)

// ActionPrefix is the label used when describing how a problem of this tier is handled
func (c Complexity) ActionPrefix() string {
	switch c {
	case ComplexitySimple:
		return "Automated"
	case ComplexityModerate:
		return "Assisted"
	case ComplexityComplex:
		return "Expert review"
	default:
		return "Critical review"
	}
}

// Location is an opaque resource locator. It is only used for reporting
// and conflict detection.
type Location struct {
	Path   string `json:"path" yaml:"path"`
	Line   int    `json:"line,omitempty" yaml:"line,omitempty"`
	Column int    `json:"column,omitempty" yaml:"column,omitempty"`
}

func (l Location) String() string {
	switch {
	case l.Line > 0 && l.Column > 0:
		return fmt.Sprintf("%s:%d:%d", l.Path, l.Line, l.Column)
	case l.Line > 0:
		return fmt.Sprintf("%s:%d", l.Path, l.Line)
	default:
		return l.Path
	}
}

// RawProblem is a record as delivered by an upstream detector
type RawProblem struct {
	ID       string `json:"id,omitempty" yaml:"id,omitempty"`
	Category string `json:"category" yaml:"category"`
	Severity string `json:"severity,omitempty" yaml:"severity,omitempty"`
	Message  string `json:"message" yaml:"message"`
	Path     string `json:"path,omitempty" yaml:"path,omitempty"`
	Line     int    `json:"line,omitempty" yaml:"line,omitempty"`
	Column   int    `json:"column,omitempty" yaml:"column,omitempty"`
}

// Problem is a classified problem. It is treated as immutable once classified.
type Problem struct {
	ID                     string     `json:"id"`
	Category               Category   `json:"category"`
	Severity               Severity   `json:"severity"`
	Location               Location   `json:"location"`
	Message                string     `json:"message"`
	AutoFixable            bool       `json:"auto_fixable"`
	RiskLevel              RiskLevel  `json:"risk_level"`
	EstimatedEffortSeconds float64    `json:"estimated_effort_seconds"`
	Dependencies           []string   `json:"dependencies,omitempty"`
	FixPriority            Priority   `json:"fix_priority"`
	Complexity             Complexity `json:"complexity"`
}

// SharesDependency reports whether p and other touch a common dependency
func (p Problem) SharesDependency(other Problem) bool {
	for _, d := range p.Dependencies {
		if slices.Contains(other.Dependencies, d) {
			return true
		}
	}
	return false
}
