package engine

import (
	"context"
	"fmt"

	"github.com/dshills/flowmonkey-go/store"
)

// ValidateFlow checks graph integrity: every transition target exists, the
// initial step exists, every step's handler type is registered, and every
// pipe's table/column linkage is satisfiable. A flow failing any of these
// is rejected outright at registration (spec §4.1 Flow validator, §4.3
// Validation).
func ValidateFlow(ctx context.Context, flow *store.Flow, handlers store.HandlerRegistry, tables store.TableRegistry) error {
	if flow.ID == "" {
		return newError(CodeFlowNotFound, "flow id is required")
	}
	if _, ok := flow.Steps[flow.InitialStepID]; !ok {
		return newError(CodeStepNotFound, "initial step not found", "stepId", flow.InitialStepID)
	}

	for stepID, step := range flow.Steps {
		if _, _, ok := handlers.Get(step.Type); !ok {
			return newError(CodeHandlerNotFound, "unknown handler type", "stepId", stepID, "type", step.Type)
		}
		for kind, transition := range step.Transitions {
			if transition.Terminal {
				continue
			}
			if transition.Target == "" {
				continue
			}
			if _, ok := flow.Steps[transition.Target]; !ok {
				return newError(CodeStepNotFound, "transition target not found",
					"stepId", stepID, "kind", string(kind), "target", transition.Target)
			}
		}
	}

	for _, pipe := range flow.Pipes {
		if err := validatePipe(ctx, flow, pipe, tables); err != nil {
			return err
		}
	}

	return nil
}

func validatePipe(ctx context.Context, flow *store.Flow, pipe store.Pipe, tables store.TableRegistry) error {
	if _, ok := flow.Steps[pipe.StepID]; !ok {
		return newError(CodePipeValidationFailed, "pipe references unknown step", "pipeId", pipe.ID, "stepId", pipe.StepID)
	}

	table, err := tables.Get(ctx, pipe.TableID)
	if err != nil {
		return newError(CodePipeValidationFailed, fmt.Sprintf("pipe references unknown table: %v", err), "pipeId", pipe.ID, "tableId", pipe.TableID)
	}

	mapped := make(map[string]bool, len(pipe.Mappings))
	columnsByID := make(map[string]store.Column, len(table.Columns))
	for _, column := range table.Columns {
		columnsByID[column.ID] = column
	}

	for _, mapping := range pipe.Mappings {
		if _, ok := columnsByID[mapping.ColumnID]; !ok {
			return newError(CodePipeValidationFailed, "pipe maps to unknown column", "pipeId", pipe.ID, "columnId", mapping.ColumnID)
		}
		mapped[mapping.ColumnID] = true
	}
	for key := range pipe.StaticValues {
		if _, ok := columnsByID[key]; ok {
			mapped[key] = true
		}
	}

	for _, column := range table.Columns {
		if column.Required && !mapped[column.ID] {
			return newError(CodePipeValidationFailed, "required column has no mapping or static value",
				"pipeId", pipe.ID, "columnId", column.ID)
		}
	}

	return nil
}
