package problem

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassify_KnownCategories(t *testing.T) {
	c := NewClassifier(nil)

	tests := []struct {
		name        string
		raw         RawProblem
		category    Category
		autoFixable bool
		risk        RiskLevel
		priority    Priority
	}{
		{
			name:        "syntax error",
			raw:         RawProblem{Category: "SYNTAX_ERROR", Severity: "error", Message: "unexpected }", Path: "main.go", Line: 3},
			category:    CategorySyntax,
			autoFixable: true,
			risk:        RiskLow,
			priority:    PriorityHigh,
		},
		{
			name:        "alias for lint",
			raw:         RawProblem{Category: "formatting", Severity: "info", Message: "gofmt"},
			category:    CategoryLint,
			autoFixable: true,
			risk:        RiskLow,
			priority:    PriorityLow,
		},
		{
			name:        "security is never auto-fixable",
			raw:         RawProblem{Category: "security-violation", Severity: "ERROR", Message: "hardcoded credential"},
			category:    CategorySecurity,
			autoFixable: false,
			risk:        RiskHigh,
			priority:    PriorityHigh,
		},
		{
			name:        "type error is medium risk",
			raw:         RawProblem{Category: "TYPE_ERROR", Severity: "warning", Message: "mismatched types"},
			category:    CategoryType,
			autoFixable: true,
			risk:        RiskMedium,
			priority:    PriorityMedium,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := c.Classify(tt.raw)
			assert.Equal(t, tt.category, p.Category)
			assert.Equal(t, tt.autoFixable, p.AutoFixable)
			assert.Equal(t, tt.risk, p.RiskLevel)
			assert.Equal(t, tt.priority, p.FixPriority)
			assert.NotEmpty(t, p.ID)
		})
	}
}

func TestClassify_UnknownCategoryIsConservative(t *testing.T) {
	c := NewClassifier(nil)

	p := c.Classify(RawProblem{Category: "quantum_flux", Severity: "ERROR", Message: "???"})

	assert.Equal(t, CategoryUnknown, p.Category)
	assert.False(t, p.AutoFixable)
	assert.Equal(t, RiskHigh, p.RiskLevel)
	assert.Equal(t, ComplexityCritical, p.Complexity)
}

func TestClassify_Idempotent(t *testing.T) {
	c := NewClassifier(nil)
	raw := RawProblem{Category: "IMPORT_ERROR", Severity: "ERROR", Message: "cannot find package", Path: "pkg/a.go", Line: 7, Column: 2}

	first := c.Classify(raw)
	second := c.Classify(raw)

	assert.Equal(t, first, second)
	assert.Equal(t, []string{"go.mod", "go.sum"}, first.Dependencies)

	// Mutating a classified problem must not leak into the table.
	first.Dependencies[0] = "mutated"
	third := c.Classify(raw)
	assert.Equal(t, second, third)
}

func TestClassify_StableGeneratedID(t *testing.T) {
	c := NewClassifier(nil)
	raw := RawProblem{Category: "LINT", Message: "trailing whitespace", Path: "a.go", Line: 10}

	p := c.Classify(raw)
	assert.Len(t, p.ID, 8)
	assert.Equal(t, ProblemID(Location{Path: "a.go", Line: 10}, "trailing whitespace"), p.ID)

	raw.ID = "feed-1"
	assert.Equal(t, "feed-1", c.Classify(raw).ID)
}

func TestPriorityForSeverity(t *testing.T) {
	assert.Equal(t, PriorityHigh, PriorityForSeverity(SeverityError))
	assert.Equal(t, PriorityMedium, PriorityForSeverity(SeverityWarning))
	assert.Equal(t, PriorityLow, PriorityForSeverity(SeverityInfo))
	assert.Equal(t, SeverityWarning, ParseSeverity("bogus"))
}

func TestParseRiskLevel(t *testing.T) {
	r, err := ParseRiskLevel("medium")
	require.NoError(t, err)
	assert.Equal(t, RiskMedium, r)

	_, err = ParseRiskLevel("extreme")
	assert.ErrorIs(t, err, ErrUnknownRiskLevel)

	var level RiskLevel
	require.NoError(t, level.UnmarshalText([]byte("HIGH")))
	assert.Equal(t, RiskHigh, level)
	assert.True(t, RiskLow < RiskMedium && RiskMedium < RiskHigh)
}

func TestLoadTable_Overrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "categories.toml")
	content := `
[categories.TYPE_ERROR]
risk = "LOW"
effort_seconds = 12

[categories.CUSTOM_CHECK]
auto_fixable = true
risk = "MEDIUM"
priority = 2
weight = 0.01
confidence = 0.5

[aliases]
mypy = "TYPE_ERROR"
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	table, err := LoadTable(path)
	require.NoError(t, err)

	typeProfile, ok := table.Profile(CategoryType)
	require.True(t, ok)
	assert.Equal(t, RiskLow, typeProfile.Risk)
	assert.Equal(t, 12.0, typeProfile.EffortSeconds)
	assert.True(t, typeProfile.AutoFixable, "unspecified fields keep their defaults")

	assert.Equal(t, CategoryType, table.Resolve("mypy"))
	assert.Equal(t, Category("CUSTOM_CHECK"), table.Resolve("custom check"))

	custom, ok := table.Profile("CUSTOM_CHECK")
	require.True(t, ok)
	assert.Equal(t, RiskMedium, custom.Risk)
}

func TestLoadTable_MissingFileUsesDefaults(t *testing.T) {
	table, err := LoadTable(filepath.Join(t.TempDir(), "absent.toml"))
	require.NoError(t, err)
	assert.ElementsMatch(t, AllCategories(), table.Categories())
}

func TestLoadTable_InvalidProfile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.toml")
	require.NoError(t, os.WriteFile(path, []byte("[categories.SYNTAX_ERROR]\nconfidence = 4.0\n"), 0o600))

	_, err := LoadTable(path)
	assert.ErrorIs(t, err, ErrInvalidProfile)
}

func TestLoadTable_AliasToUnknownCategory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.toml")
	require.NoError(t, os.WriteFile(path, []byte("[aliases]\nfoo = \"NOPE\"\n"), 0o600))

	_, err := LoadTable(path)
	assert.ErrorIs(t, err, ErrUnknownCategory)
}
