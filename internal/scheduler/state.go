package scheduler

import (
	"github.com/tyemirov/pipegate/internal/store"
	"github.com/tyemirov/pipegate/internal/trigger"
)

// JobStatus is the state of a job template within a run.
type JobStatus string

// Job states.
const (
	JobStatusPending       JobStatus = "pending"
	JobStatusWaitingOnDeps JobStatus = "waiting-on-deps"
	JobStatusRunning       JobStatus = "running"
	JobStatusSucceeded     JobStatus = "succeeded"
	JobStatusFailed        JobStatus = "failed"
	JobStatusSkipped       JobStatus = "skipped"
	JobStatusCancelled     JobStatus = "cancelled"
)

// IsTerminal reports whether no further transition is possible.
func (status JobStatus) IsTerminal() bool {
	switch status {
	case JobStatusSucceeded, JobStatusFailed, JobStatusSkipped, JobStatusCancelled:
		return true
	default:
		return false
	}
}

// InstanceStatus is the final status of one job instance.
type InstanceStatus string

// Instance states.
const (
	InstanceStatusSucceeded InstanceStatus = "succeeded"
	InstanceStatusFailed    InstanceStatus = "failed"
	InstanceStatusCancelled InstanceStatus = "cancelled"
)

// PipelineStatus is the terminal status of a run.
type PipelineStatus string

// Pipeline states.
const (
	PipelineStatusSucceeded PipelineStatus = "succeeded"
	PipelineStatusFailed    PipelineStatus = "failed"
)

// FailureKind classifies why a job did not succeed.
type FailureKind string

// Failure kinds.
const (
	FailureKindNone                FailureKind = ""
	FailureKindTaskFailure         FailureKind = "task-failure"
	FailureKindInfrastructureError FailureKind = "infrastructure-error"
	FailureKindConfigurationError  FailureKind = "configuration-error"
	FailureKindDependencyFailure   FailureKind = "dependency-failure"
	FailureKindCancellation        FailureKind = "cancellation"
)

// RunState is the shared state of one pipeline run. Outcomes are written once
// per job template; states track live transitions.
type RunState struct {
	Trigger   trigger.Trigger
	States    *store.MemStore[JobStatus]
	Outcomes  *store.MemStore[JobStatus]
	Instances *store.MemStore[InstanceReport]
}

// NewRunState initializes every job as pending.
func NewRunState(runTrigger trigger.Trigger, jobNames []string) (*RunState, error) {
	runState := &RunState{
		Trigger:   runTrigger,
		States:    store.NewMemStore[JobStatus](),
		Outcomes:  store.NewMemStore[JobStatus](),
		Instances: store.NewMemStore[InstanceReport](),
	}
	for _, jobName := range jobNames {
		if setError := runState.States.Set(jobName, JobStatusPending); setError != nil {
			return nil, setError
		}
	}
	return runState, nil
}

// Outcome returns the recorded aggregate status of a job.
func (runState *RunState) Outcome(jobName string) (JobStatus, bool) {
	status, getError := runState.Outcomes.Get(jobName)
	if getError != nil {
		return "", false
	}
	return status, true
}
