package domain

// OutcomeStatus is the terminal result of processing one work item
type OutcomeStatus string

const (
	OutcomeSuccess OutcomeStatus = "success"
	OutcomeError   OutcomeStatus = "error"
)

// RunPhase represents the execution state of a queue run
type RunPhase string

const (
	PhaseIdle      RunPhase = "idle"
	PhaseRunning   RunPhase = "running"
	PhasePaused    RunPhase = "paused"
	PhaseCompleted RunPhase = "completed"
	PhaseStopped   RunPhase = "stopped"
)

// Terminal reports whether no further transitions are possible
func (p RunPhase) Terminal() bool {
	return p == PhaseCompleted || p == PhaseStopped
}

// Stage is the per-item sub-phase of the pipeline
type Stage string

const (
	StageNone        Stage = ""
	StageExtracting  Stage = "extracting"
	StageSolving     Stage = "solving"
	StageScaffolding Stage = "scaffolding"
	StagePersisting  Stage = "persisting"
)

// ThinkingLevel is the reasoning effort requested from the generation backend
type ThinkingLevel string

const (
	ThinkingLow  ThinkingLevel = "LOW"
	ThinkingHigh ThinkingLevel = "HIGH"
)
