package report

import (
	"maps"
	"slices"
	"text/template"

	"github.com/fyrsmithlabs/remediator/internal/problem"
)

const markdownPhase = `{{define "phase"}}## Phase ` + "`{{.PhaseName}}`" + ` {{outcome .}}

| | |
|---|---|
| Run | ` + "`{{.RunID}}`" + ` |
| Processed | {{.ErrorsProcessed}} |
| Fixed | {{.ErrorsFixed}} |
| Failed | {{.ErrorsFailed}} |
| Deferred | {{.ErrorsDeferred}} |
| Batches | {{.BatchesPlanned}} ({{.BatchesFailed}} failed, {{.Waves}} waves) |
| Validation score | {{printf "%.1f" .ValidationScore}} |
| Compliance | {{printf "%.2f" .ComplianceBefore}} → {{printf "%.2f" .ComplianceAfter}} ({{delta .ComplianceDelta}}) |
| Duration | {{seconds .ExecutionTimeSeconds}} |
{{if .CategoryScores}}
### Validation by category

| Category | Score | Fixed | |
|---|---|---|---|
{{range .CategoryScores}}| {{.Category}} | {{printf "%.1f" .Value}} | {{.Succeeded}}/{{.Total}} | {{if .Provisional}}provisional{{end}} |
{{end}}{{end}}{{if .DeferredByCategory}}
### Deferred

{{$d := .DeferredByCategory}}{{range categories $d}}- {{.}}: {{index $d .}}
{{end}}{{end}}{{if .ObjectiveAdvances}}
### Objectives advanced

{{$o := .ObjectiveAdvances}}{{range names $o}}- {{.}}: +{{printf "%.3f" (index $o .)}}
{{end}}{{end}}{{if .NextActions}}
### Next actions

{{range .NextActions}}- [ ] {{.}}
{{end}}{{end}}{{end}}`

const markdownStatus = `{{define "status"}}# Run ` + "`{{.Run.RunID}}`" + `

Compliance **{{printf "%.2f" .Run.Compliance.CurrentScore}}** of {{printf "%.2f" .Run.Compliance.TargetScore}}
{{if .Run.Objectives}}
| Objective | Progress | Target |
|---|---|---|
{{range .Run.Objectives}}| {{.Name}} | {{printf "%.2f" .CurrentProgress}} | {{printf "%.2f" .TargetProgress}} |
{{end}}{{end}}
## History
{{if not .History}}
No phases yet.
{{end}}{{range $i, $r := .History}}
{{inc $i}}. ` + "`{{$r.PhaseName}}`" + ` {{outcome $r}}: fixed {{$r.ErrorsFixed}}/{{$r.ErrorsProcessed}}, compliance {{delta $r.ComplianceDelta}}{{end}}
{{end}}`

var markdownTemplates = template.Must(template.New("report").Funcs(template.FuncMap{
	"outcome": outcome,
	"delta":   FormatDelta,
	"seconds": FormatSeconds,
	"inc":     func(i int) int { return i + 1 },
	"categories": func(m map[problem.Category]int) []problem.Category {
		return slices.Sorted(maps.Keys(m))
	},
	"names": func(m map[string]float64) []string {
		return slices.Sorted(maps.Keys(m))
	},
}).Parse(markdownPhase + markdownStatus))
