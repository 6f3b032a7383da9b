package pipeline

import (
	"fmt"

	"github.com/angelmondragon/studioflow-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/studioflow-backend/pkg/errors"
)

var runTransitions = map[enums.RunStatus][]enums.RunStatus{
	enums.RunStatusCreated:    {enums.RunStatusPending, enums.RunStatusFailed},
	enums.RunStatusPending:    {enums.RunStatusProcessing, enums.RunStatusFailed},
	enums.RunStatusProcessing: {enums.RunStatusCompleted, enums.RunStatusFailed},
}

// running -> running covers redelivered tasks re-entering a stage.
var stepTransitions = map[enums.StepStatus][]enums.StepStatus{
	enums.StepStatusPending: {enums.StepStatusRunning, enums.StepStatusFailed},
	enums.StepStatusRunning: {enums.StepStatusRunning, enums.StepStatusCompleted, enums.StepStatusFailed},
}

func canTransitionRun(from, to enums.RunStatus) bool {
	for _, allowed := range runTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

func canTransitionStep(from, to enums.StepStatus) bool {
	for _, allowed := range stepTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

func runTransitionError(from, to enums.RunStatus) error {
	return pkgerrors.New(pkgerrors.CodeStateConflict, fmt.Sprintf("run cannot move from %s to %s", from, to)).
		WithDetails(map[string]any{"from": from, "to": to})
}

func stepTransitionError(from, to enums.StepStatus) error {
	return pkgerrors.New(pkgerrors.CodeStateConflict, fmt.Sprintf("step cannot move from %s to %s", from, to)).
		WithDetails(map[string]any{"from": from, "to": to})
}
