package enums

import "fmt"

// RunStatus tracks a pipeline run.
type RunStatus string

const (
	RunStatusCreated    RunStatus = "created"
	RunStatusPending    RunStatus = "pending"
	RunStatusProcessing RunStatus = "processing"
	RunStatusCompleted  RunStatus = "completed"
	RunStatusFailed     RunStatus = "failed"
)

var validRunStatuses = []RunStatus{
	RunStatusCreated,
	RunStatusPending,
	RunStatusProcessing,
	RunStatusCompleted,
	RunStatusFailed,
}

func (s RunStatus) String() string {
	return string(s)
}

func (s RunStatus) IsValid() bool {
	for _, candidate := range validRunStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further transition is allowed.
func (s RunStatus) IsTerminal() bool {
	return s == RunStatusCompleted || s == RunStatusFailed
}

func ParseRunStatus(value string) (RunStatus, error) {
	for _, candidate := range validRunStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid run status %q", value)
}

// StepStatus tracks one stage inside a run.
type StepStatus string

const (
	StepStatusPending   StepStatus = "pending"
	StepStatusRunning   StepStatus = "running"
	StepStatusCompleted StepStatus = "completed"
	StepStatusFailed    StepStatus = "failed"
)

var validStepStatuses = []StepStatus{
	StepStatusPending,
	StepStatusRunning,
	StepStatusCompleted,
	StepStatusFailed,
}

func (s StepStatus) String() string {
	return string(s)
}

func (s StepStatus) IsValid() bool {
	for _, candidate := range validStepStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

func ParseStepStatus(value string) (StepStatus, error) {
	for _, candidate := range validStepStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid step status %q", value)
}

// StageName identifies a pipeline stage. The order of PipelineStages is the
// execution order.
type StageName string

const (
	StageMerge        StageName = "merge"
	StageDownscale720 StageName = "downscale_720p"
	StageThumbnail    StageName = "thumbnail"
	StageExtractAudio StageName = "extract_audio"
	StageTranscript   StageName = "transcript"
)

var PipelineStages = []StageName{
	StageMerge,
	StageDownscale720,
	StageThumbnail,
	StageExtractAudio,
	StageTranscript,
}

func (s StageName) String() string {
	return string(s)
}

func (s StageName) IsValid() bool {
	_, ok := StageIndex(s)
	return ok
}

// StageIndex returns the zero-based position of the stage in the pipeline.
func StageIndex(name StageName) (int, bool) {
	for i, candidate := range PipelineStages {
		if candidate == name {
			return i, true
		}
	}
	return -1, false
}

func ParseStageName(value string) (StageName, error) {
	for _, candidate := range PipelineStages {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid stage name %q", value)
}
