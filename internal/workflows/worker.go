package workflows

import (
	"context"
	"fmt"

	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"
)

// NewWorker creates a worker on taskQueue with the remediation workflow and
// activities registered.
func NewWorker(c client.Client, taskQueue string, acts *Activities) worker.Worker {
	w := worker.New(c, taskQueue, worker.Options{})
	w.RegisterWorkflow(RemediationWorkflow)
	w.RegisterActivity(acts)
	return w
}

// WorkflowID is the workflow id used for a run. One workflow per run id
// keeps two plans from interleaving on the same run.
func WorkflowID(runID string) string {
	return "remediation-" + runID
}

// StartRun starts the remediation workflow for input.RunID.
func StartRun(ctx context.Context, c client.Client, taskQueue string, input RunInput) (client.WorkflowRun, error) {
	run, err := c.ExecuteWorkflow(ctx, client.StartWorkflowOptions{
		ID:        WorkflowID(input.RunID),
		TaskQueue: taskQueue,
	}, RemediationWorkflow, input)
	if err != nil {
		return nil, fmt.Errorf("starting workflow for run %s: %w", input.RunID, err)
	}
	return run, nil
}
