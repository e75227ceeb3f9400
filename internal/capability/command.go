// Package capability provides fix capabilities that shell out to external
// fixer commands (gofmt, goimports, codemods, ...).
//
// A command receives the problem through argument placeholders:
//
//	{path} {line} {column} {id} {message} {category}
//
// and through REMEDIATOR_* environment variables of the same names. Exit
// status 0 is success. A command may print a JSON object as its last line
// of stdout to report details:
//
//	{"action": "gofmt -w", "resources_modified": ["a.go"], "revert_required": false}
package capability

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/fyrsmithlabs/remediator/internal/config"
	"github.com/fyrsmithlabs/remediator/internal/executor"
	"github.com/fyrsmithlabs/remediator/internal/problem"
)

const (
	// maxDiagnostic bounds the stderr kept on a failed fix.
	maxDiagnostic = 2048

	// waitDelay bounds how long output pipes are drained after a kill.
	waitDelay = 2 * time.Second
)

var (
	ErrEmptyCommand    = errors.New("capability command is empty")
	ErrUnknownCategory = errors.New("capability bound to unknown category")

	errReportedFailure = errors.New("command reported failure")
)

// Command runs an external program to fix one problem.
type Command struct {
	Argv    []string
	Dir     string
	Timeout time.Duration
	Env     []string
}

var _ executor.FixCapability = (*Command)(nil)

// NewCommand validates argv.
func NewCommand(argv []string, dir string, timeout time.Duration) (*Command, error) {
	if len(argv) == 0 || strings.TrimSpace(argv[0]) == "" {
		return nil, ErrEmptyCommand
	}
	return &Command{Argv: argv, Dir: dir, Timeout: timeout}, nil
}

type report struct {
	Action            string   `json:"action"`
	ResourcesModified []string `json:"resources_modified"`
	RevertRequired    bool     `json:"revert_required"`
	Success           *bool    `json:"success"`
}

// ApplyFix runs the command for p.
func (c *Command) ApplyFix(ctx context.Context, p problem.Problem) (executor.Outcome, error) {
	if c.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.Timeout)
		defer cancel()
	}

	vars := placeholders(p)
	args := make([]string, len(c.Argv))
	for i, a := range c.Argv {
		args[i] = expand(a, vars)
	}

	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	cmd.Dir = c.Dir
	cmd.WaitDelay = waitDelay
	cmd.Env = append(os.Environ(), c.Env...)
	for k, v := range vars {
		cmd.Env = append(cmd.Env, "REMEDIATOR_"+strings.ToUpper(k)+"="+v)
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()
	if ctxErr := ctx.Err(); ctxErr != nil {
		return executor.Outcome{}, fmt.Errorf("%s: %w", args[0], ctxErr)
	}

	out := executor.Outcome{
		Action: strings.Join(args, " "),
	}
	if p.Location.Path != "" {
		out.ResourcesModified = []string{p.Location.Path}
	}
	if r, ok := lastJSONLine(stdout.Bytes()); ok {
		if r.Action != "" {
			out.Action = r.Action
		}
		if r.ResourcesModified != nil {
			out.ResourcesModified = r.ResourcesModified
		}
		out.RevertRequired = r.RevertRequired
		if r.Success != nil && !*r.Success && runErr == nil {
			runErr = errReportedFailure
		}
	}

	if runErr != nil {
		var exitErr *exec.ExitError
		if !errors.As(runErr, &exitErr) && !errors.Is(runErr, errReportedFailure) {
			// The program never started.
			return executor.Outcome{}, fmt.Errorf("running %s: %w", args[0], runErr)
		}
		out.ResourcesModified = nil
		out.Diagnostic = diagnostic(runErr, stderr.Bytes())
		return out, nil
	}
	out.Success = !out.RevertRequired
	if out.RevertRequired {
		out.Diagnostic = diagnostic(errors.New("command requested revert"), stderr.Bytes())
	}
	return out, nil
}

func placeholders(p problem.Problem) map[string]string {
	return map[string]string{
		"path":     p.Location.Path,
		"line":     strconv.Itoa(p.Location.Line),
		"column":   strconv.Itoa(p.Location.Column),
		"id":       p.ID,
		"message":  p.Message,
		"category": string(p.Category),
	}
}

func expand(arg string, vars map[string]string) string {
	if !strings.Contains(arg, "{") {
		return arg
	}
	pairs := make([]string, 0, 2*len(vars))
	for k, v := range vars {
		pairs = append(pairs, "{"+k+"}", v)
	}
	return strings.NewReplacer(pairs...).Replace(arg)
}

func lastJSONLine(stdout []byte) (report, bool) {
	lines := bytes.Split(bytes.TrimSpace(stdout), []byte("\n"))
	last := bytes.TrimSpace(lines[len(lines)-1])
	if len(last) == 0 || last[0] != '{' {
		return report{}, false
	}
	var r report
	if err := json.Unmarshal(last, &r); err != nil {
		return report{}, false
	}
	return r, true
}

func diagnostic(err error, stderr []byte) string {
	msg := strings.TrimSpace(string(stderr))
	if len(msg) > maxDiagnostic {
		msg = msg[:maxDiagnostic] + "..."
	}
	if msg == "" {
		return err.Error()
	}
	return err.Error() + ": " + msg
}

// Register builds a Command for every configured capability and registers
// it on reg. Keys are category names or aliases known to table.
func Register(reg *executor.Registry, table *problem.Table, caps map[string]config.CapabilityConfig) error {
	for name, cc := range caps {
		category := table.Resolve(name)
		if category == problem.CategoryUnknown {
			return fmt.Errorf("%w: %s", ErrUnknownCategory, name)
		}
		cmd, err := NewCommand(cc.Command, cc.Dir, cc.Timeout.Duration())
		if err != nil {
			return fmt.Errorf("capability %s: %w", name, err)
		}
		if err := reg.Register(category, cmd); err != nil {
			return err
		}
	}
	return nil
}
