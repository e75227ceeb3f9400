package orchestrator

import (
	"cmp"
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/fyrsmithlabs/remediator/internal/prioritize"
	"github.com/fyrsmithlabs/remediator/internal/problem"
	"github.com/fyrsmithlabs/remediator/internal/validate"
)

// actionInput is what the report stage knows when deriving next actions.
type actionInput struct {
	phase        string
	deferred     []prioritize.Deferral
	scores       []validate.Score
	floor        float64
	noCapability []problem.Category
	aborted      bool
	fatal        bool
}

// nextActions lists outstanding work: deferred problems per category,
// largest first, then corrective entries.
func nextActions(in actionInput) []string {
	type group struct {
		category problem.Category
		count    int
		prefix   string
		reasons  map[prioritize.DeferralReason]struct{}
	}
	groups := make(map[problem.Category]*group)
	notAttempted := 0
	for _, d := range in.deferred {
		if d.Reason == prioritize.ReasonAborted {
			notAttempted++
		}
		g, ok := groups[d.Problem.Category]
		if !ok {
			g = &group{
				category: d.Problem.Category,
				prefix:   d.Problem.Complexity.ActionPrefix(),
				reasons:  make(map[prioritize.DeferralReason]struct{}),
			}
			groups[d.Problem.Category] = g
		}
		g.count++
		g.reasons[d.Reason] = struct{}{}
	}

	ordered := slices.Collect(maps.Values(groups))
	slices.SortFunc(ordered, func(a, b *group) int {
		if c := cmp.Compare(b.count, a.count); c != 0 {
			return c
		}
		return cmp.Compare(a.category, b.category)
	})

	actions := make([]string, 0, len(ordered)+len(in.scores)+2)
	for _, g := range ordered {
		reasons := make([]string, 0, len(g.reasons))
		for r := range g.reasons {
			reasons = append(reasons, string(r))
		}
		slices.Sort(reasons)
		actions = append(actions, fmt.Sprintf("%s: %d deferred %s (%s)",
			g.prefix, g.count, g.category, strings.Join(reasons, ", ")))
	}

	for _, s := range in.scores {
		if s.Provisional {
			actions = append(actions, fmt.Sprintf(
				"Re-validate %s fixes: score %.1f is below floor %.1f, %d fixes held provisional",
				s.Category, s.Value, in.floor, s.Succeeded))
		}
	}
	for _, c := range in.noCapability {
		actions = append(actions, fmt.Sprintf("Register a fix capability for %s", c))
	}
	if in.aborted && notAttempted > 0 {
		actions = append(actions, fmt.Sprintf("Resume phase %s: %d problems not attempted after abort", in.phase, notAttempted))
	}
	if in.fatal {
		actions = append(actions, fmt.Sprintf("Investigate phase %s: no batch could be validated", in.phase))
	}
	return actions
}
