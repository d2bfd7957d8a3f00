package dispute

import (
	"fmt"

	"github.com/peacprotocol/peac-core/pkg/schema"
)

// ValidateWorkflowTransition checks that a workflow's step DAG is still
// well-formed after adding newStep, without mutating the caller's slice.
func ValidateWorkflowTransition(w schema.Workflow, newStep schema.WorkflowStep) error {
	candidate := schema.Workflow{
		WorkflowID: w.WorkflowID,
		Status:     w.Status,
		Steps:      append(append([]schema.WorkflowStep{}, w.Steps...), newStep),
	}
	if err := schema.ValidateWorkflow(candidate); err != nil {
		return fmt.Errorf("dispute: %w", err)
	}
	return nil
}
