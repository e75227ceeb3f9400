package objective

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAdvance_EvenSplitAcrossRelevant(t *testing.T) {
	set, err := NewSet([]Objective{
		{Name: "a", Phases: []string{"stabilize"}},
		{Name: "b", Phases: []string{"stabilize", "raise_compliance"}},
		{Name: "c", Phases: []string{"raise_compliance"}},
	})
	require.NoError(t, err)

	applied := set.Advance("stabilize", 12, 25)

	assert.Equal(t, map[string]float64{"a": 6, "b": 6}, applied)
	c, _ := set.Get("c")
	assert.Zero(t, c.CurrentProgress)
}

func TestAdvance_CapsAndClamps(t *testing.T) {
	set, err := NewSet([]Objective{
		{Name: "nearly", CurrentProgress: 95},
		{Name: "fresh"},
	})
	require.NoError(t, err)

	applied := set.Advance("any", 200, 25)
	assert.Equal(t, 5.0, applied["nearly"])
	assert.Equal(t, 25.0, applied["fresh"])

	nearly, _ := set.Get("nearly")
	assert.Equal(t, 100.0, nearly.CurrentProgress)
	assert.True(t, nearly.Complete())

	// Completed objectives no longer take a share.
	applied = set.Advance("any", 10, 25)
	assert.Equal(t, map[string]float64{"fresh": 10}, applied)
}

func TestAdvance_ParallelizableDoubleShare(t *testing.T) {
	set, err := NewSet([]Objective{
		{Name: "fast", EnhancementFlags: []string{FlagParallelizable}},
		{Name: "slow"},
	})
	require.NoError(t, err)

	applied := set.Advance("p", 10, 25)
	assert.Equal(t, 10.0, applied["fast"])
	assert.Equal(t, 5.0, applied["slow"])
}

func TestAdvance_NeverDecreases(t *testing.T) {
	set, err := NewSet([]Objective{{Name: "x", CurrentProgress: 40}})
	require.NoError(t, err)

	assert.Empty(t, set.Advance("p", -50, 25))
	assert.Empty(t, set.Advance("p", 0, 25))
	x, _ := set.Get("x")
	assert.Equal(t, 40.0, x.CurrentProgress)
}

func TestNewSet_Validation(t *testing.T) {
	_, err := NewSet([]Objective{{Name: "a"}, {Name: "a"}})
	assert.ErrorIs(t, err, ErrDuplicateObjective)

	_, err = NewSet([]Objective{{}})
	assert.ErrorIs(t, err, ErrEmptyName)

	set, err := NewSet([]Objective{{Name: "over", CurrentProgress: 140, TargetProgress: 10}})
	require.NoError(t, err)
	o, _ := set.Get("over")
	assert.Equal(t, 100.0, o.CurrentProgress)
	assert.Equal(t, TargetProgress, o.TargetProgress)
}

func TestDefaults(t *testing.T) {
	set, err := NewSet(Defaults())
	require.NoError(t, err)
	assert.Len(t, set.All(), 5)
	for _, o := range set.All() {
		assert.NotEmpty(t, o.StrategyTag)
		assert.Zero(t, o.CurrentProgress)
		assert.False(t, o.HasFlag(FlagParallelizable), "%s should take an even share", o.Name)
	}
}

func TestAdvance_DefaultsSplitEvenly(t *testing.T) {
	set, err := NewSet(Defaults())
	require.NoError(t, err)

	applied := set.Advance("raise_compliance", 12, 25)
	// automation_coverage, predictive_maintenance, operational_readiness
	// and integration_health are relevant to raise_compliance.
	require.Len(t, applied, 4)
	for name, inc := range applied {
		assert.Equal(t, 3.0, inc, name)
	}
}

func TestAll_ReturnsCopies(t *testing.T) {
	set, err := NewSet([]Objective{{Name: "a", EnhancementFlags: []string{"x"}}})
	require.NoError(t, err)

	all := set.All()
	all[0].EnhancementFlags[0] = "mutated"
	all[0].CurrentProgress = 99

	a, _ := set.Get("a")
	assert.Equal(t, []string{"x"}, a.EnhancementFlags)
	assert.Zero(t, a.CurrentProgress)
}
