// Package validate scores how trustworthy a batch's fixes are for their category.
package validate

import (
	"errors"
	"fmt"

	"github.com/fyrsmithlabs/remediator/internal/executor"
	"github.com/fyrsmithlabs/remediator/internal/prioritize"
	"github.com/fyrsmithlabs/remediator/internal/problem"
)

var (
	ErrNoResults      = errors.New("no fix results to validate")
	ErrResultMismatch = errors.New("fix results do not match batch")
	ErrInvalidFloor   = errors.New("validation floor must be within 0-100")
)

// Score is the validation outcome for one category.
type Score struct {
	Category  problem.Category `json:"category"`
	Value     float64          `json:"value"` // 0-100
	Succeeded int              `json:"succeeded"`
	Total     int              `json:"total"`

	// Provisional marks fixes that must not count toward compliance.
	Provisional bool `json:"provisional"`
}

// Validator computes validation scores against a floor.
type Validator struct {
	table *problem.Table
	floor float64
}

// New creates a validator. A nil table uses problem.DefaultTable.
func New(table *problem.Table, floor float64) (*Validator, error) {
	if floor < 0 || floor > 100 {
		return nil, fmt.Errorf("%w: %v", ErrInvalidFloor, floor)
	}
	if table == nil {
		table = problem.DefaultTable()
	}
	return &Validator{table: table, floor: floor}, nil
}

// Floor returns the configured validation floor.
func (v *Validator) Floor() float64 {
	return v.floor
}

// Validate scores one batch: the share of successful fixes weighted by the
// category's confidence, scaled to 0-100. results must hold exactly one
// entry per batch problem.
func (v *Validator) Validate(category problem.Category, batch prioritize.Batch, results []executor.FixResult) (Score, error) {
	if len(results) == 0 {
		return Score{}, fmt.Errorf("%w: batch %s", ErrNoResults, batch.ID)
	}
	if len(results) != len(batch.Problems) {
		return Score{}, fmt.Errorf("%w: batch %s has %d problems but %d results", ErrResultMismatch, batch.ID, len(batch.Problems), len(results))
	}
	expected := make(map[string]struct{}, len(batch.Problems))
	for _, p := range batch.Problems {
		expected[p.ID] = struct{}{}
	}

	succeeded := 0
	for _, r := range results {
		if _, ok := expected[r.ProblemID]; !ok {
			return Score{}, fmt.Errorf("%w: unexpected result for %s", ErrResultMismatch, r.ProblemID)
		}
		if r.Success {
			succeeded++
		}
	}
	return v.score(category, succeeded, len(results)), nil
}

// Merge combines two scores for the same category into one.
func (v *Validator) Merge(a, b Score) Score {
	if a.Total == 0 {
		return b
	}
	if b.Total == 0 {
		return a
	}
	return v.score(a.Category, a.Succeeded+b.Succeeded, a.Total+b.Total)
}

// FromValue builds a score from an externally computed value.
func (v *Validator) FromValue(category problem.Category, value float64, succeeded, total int) Score {
	return Score{
		Category:    category,
		Value:       value,
		Succeeded:   succeeded,
		Total:       total,
		Provisional: value < v.floor,
	}
}

func (v *Validator) score(category problem.Category, succeeded, total int) Score {
	profile, _ := v.table.Profile(category)
	value := 0.0
	if total > 0 {
		value = float64(succeeded) / float64(total) * profile.Confidence * 100
	}
	return v.FromValue(category, value, succeeded, total)
}
