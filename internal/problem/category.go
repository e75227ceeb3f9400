package problem

import (
	"fmt"
	"maps"
	"os"
	"slices"
	"strings"

	"github.com/BurntSushi/toml"
)

// Profile holds the classification defaults for one category.
type Profile struct {
	// Priority ranks categories against each other when scheduling (1-5, higher first)
	Priority int `toml:"priority"`

	AutoFixable bool      `toml:"auto_fixable"`
	Risk        RiskLevel `toml:"risk"`

	// EffortSeconds is the estimated time for one fix
	EffortSeconds float64 `toml:"effort_seconds"`

	// Dependencies are shared resources every fix in this category touches
	Dependencies []string `toml:"dependencies"`

	// Weight is the category's share of a phase's compliance delta
	Weight float64 `toml:"weight"`

	// Confidence scales how much a successful fix is trusted during validation (0-1)
	Confidence float64 `toml:"confidence"`
}

func (p Profile) validate() error {
	if p.Risk < RiskLow || p.Risk > RiskHigh {
		return fmt.Errorf("%w: risk out of range", ErrInvalidProfile)
	}
	if p.EffortSeconds < 0 {
		return fmt.Errorf("%w: effort_seconds must not be negative", ErrInvalidProfile)
	}
	if p.Weight < 0 {
		return fmt.Errorf("%w: weight must not be negative", ErrInvalidProfile)
	}
	if p.Confidence < 0 || p.Confidence > 1 {
		return fmt.Errorf("%w: confidence must be between 0 and 1", ErrInvalidProfile)
	}
	return nil
}

// unknownProfile is the conservative profile for unrecognized categories.
var unknownProfile = Profile{
	Priority:      1,
	AutoFixable:   false,
	Risk:          RiskHigh,
	EffortSeconds: 60,
	Weight:        0,
	Confidence:    0,
}

// Table maps categories to their classification profile. It is built once
// at startup and only read afterwards.
type Table struct {
	profiles map[Category]Profile
	aliases  map[string]Category
}

// DefaultTable returns the built-in category table.
func DefaultTable() *Table {
	t := &Table{
		profiles: map[Category]Profile{
			CategorySyntax: {
				Priority: 5, AutoFixable: true, Risk: RiskLow,
				EffortSeconds: 30, Weight: 0.02, Confidence: 1.0,
			},
			CategoryImport: {
				Priority: 4, AutoFixable: true, Risk: RiskLow,
				EffortSeconds: 15, Dependencies: []string{"go.mod", "go.sum"},
				Weight: 0.03, Confidence: 0.95,
			},
			CategoryLint: {
				Priority: 2, AutoFixable: true, Risk: RiskLow,
				EffortSeconds: 5, Weight: 0.01, Confidence: 1.0,
			},
			CategoryType: {
				Priority: 3, AutoFixable: true, Risk: RiskMedium,
				EffortSeconds: 30, Weight: 0.04, Confidence: 0.9,
			},
			CategoryStructural: {
				Priority: 3, AutoFixable: true, Risk: RiskMedium,
				EffortSeconds: 120, Dependencies: []string{"plugin-registry"},
				Weight: 0.05, Confidence: 0.85,
			},
			CategoryMissingLogic: {
				Priority: 2, AutoFixable: false, Risk: RiskHigh,
				EffortSeconds: 300, Weight: 0.06, Confidence: 0.6,
			},
			CategorySecurity: {
				Priority: 5, AutoFixable: false, Risk: RiskHigh,
				EffortSeconds: 180, Weight: 0.08, Confidence: 0.7,
			},
		},
		aliases: map[string]Category{
			"SYNTAX":        CategorySyntax,
			"PARSE_ERROR":   CategorySyntax,
			"IMPORT":        CategoryImport,
			"DEPENDENCY":    CategoryImport,
			"STRUCTURAL":    CategoryStructural,
			"PLUGIN":        CategoryStructural,
			"ARCHITECTURE":  CategoryStructural,
			"MISSING_LOGIC": CategoryMissingLogic,
			"LOGIC":         CategoryMissingLogic,
			"SECURITY":      CategorySecurity,
			"VULNERABILITY": CategorySecurity,
			"TYPE":          CategoryType,
			"TYPECHECK":     CategoryType,
			"LINT":          CategoryLint,
			"FORMATTING":    CategoryLint,
			"STYLE":         CategoryLint,
		},
	}
	return t
}

// LoadTable reads category overrides from a TOML file on top of the
// default table. A missing file yields the default table.
//
// File format:
//
//	[categories.TYPE_ERROR]
//	risk = "LOW"
//	effort_seconds = 20
//
//	[aliases]
//	mypy = "TYPE_ERROR"
func LoadTable(path string) (*Table, error) {
	t := DefaultTable()
	if path == "" {
		return t, nil
	}
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return t, nil
		}
		return nil, fmt.Errorf("stat category table: %w", err)
	}

	var file struct {
		Categories map[string]toml.Primitive `toml:"categories"`
		Aliases    map[string]string         `toml:"aliases"`
	}
	md, err := toml.DecodeFile(path, &file)
	if err != nil {
		return nil, fmt.Errorf("decoding category table %s: %w", path, err)
	}

	for name, prim := range file.Categories {
		cat := Category(normalizeHint(name))
		// Start from the existing profile so files only need the fields they change.
		profile, ok := t.profiles[cat]
		if !ok {
			profile = unknownProfile
		}
		if err := md.PrimitiveDecode(prim, &profile); err != nil {
			return nil, fmt.Errorf("decoding category %s: %w", name, err)
		}
		if err := profile.validate(); err != nil {
			return nil, fmt.Errorf("category %s: %w", name, err)
		}
		t.profiles[cat] = profile
	}

	for alias, target := range file.Aliases {
		cat := Category(normalizeHint(target))
		if _, ok := t.profiles[cat]; !ok {
			return nil, fmt.Errorf("alias %s: %w: %s", alias, ErrUnknownCategory, target)
		}
		t.aliases[normalizeHint(alias)] = cat
	}

	return t, nil
}

// Resolve maps a detector category hint onto a known category.
func (t *Table) Resolve(hint string) Category {
	key := normalizeHint(hint)
	if _, ok := t.profiles[Category(key)]; ok {
		return Category(key)
	}
	if cat, ok := t.aliases[key]; ok {
		return cat
	}
	return CategoryUnknown
}

// Profile returns the profile for a category. Unknown categories get the
// conservative default and ok=false.
func (t *Table) Profile(c Category) (Profile, bool) {
	p, ok := t.profiles[c]
	if !ok {
		return unknownProfile, false
	}
	p.Dependencies = slices.Clone(p.Dependencies)
	return p, true
}

// Categories returns the categories in the table sorted by name
func (t *Table) Categories() []Category {
	return slices.Sorted(maps.Keys(t.profiles))
}

func normalizeHint(s string) string {
	s = strings.ToUpper(strings.TrimSpace(s))
	return strings.NewReplacer(" ", "_", "-", "_", ".", "_").Replace(s)
}
