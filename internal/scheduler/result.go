package scheduler

import (
	"time"

	"github.com/tyemirov/pipegate/internal/pipeline"
	"github.com/tyemirov/pipegate/internal/release"
	"github.com/tyemirov/pipegate/internal/tasks"
	"github.com/tyemirov/pipegate/internal/trigger"
)

// TaskReport records one executed task.
type TaskReport struct {
	Name      string            `json:"name"`
	Kind      pipeline.TaskKind `json:"kind"`
	Outcome   tasks.Outcome     `json:"outcome"`
	ExitCode  int               `json:"exit_code,omitempty"`
	Detail    string            `json:"detail,omitempty"`
	Tolerated bool              `json:"tolerated,omitempty"`
	Duration  time.Duration     `json:"duration"`
}

// InstanceReport records the execution of one job instance.
type InstanceReport struct {
	ID             string               `json:"id"`
	JobName        string               `json:"job"`
	DisplayName    string               `json:"display_name"`
	Point          pipeline.MatrixPoint `json:"matrix,omitempty"`
	Status         InstanceStatus       `json:"status"`
	FailedTask     string               `json:"failed_task,omitempty"`
	FailureOutcome tasks.Outcome        `json:"failure_outcome,omitempty"`
	FailureOutput  string               `json:"failure_output,omitempty"`
	Tasks          []TaskReport         `json:"tasks"`
	StartTime      time.Time            `json:"start_time"`
	EndTime        time.Time            `json:"end_time"`
}

// JobReport records the terminal state of one job template.
type JobReport struct {
	Name        string           `json:"name"`
	Status      JobStatus        `json:"status"`
	Release     bool             `json:"release,omitempty"`
	Needs       []string         `json:"needs,omitempty"`
	FailureKind FailureKind      `json:"failure_kind,omitempty"`
	Reason      string           `json:"reason,omitempty"`
	Instances   []InstanceReport `json:"instances,omitempty"`
	StartTime   time.Time        `json:"start_time,omitempty"`
	EndTime     time.Time        `json:"end_time,omitempty"`
}

// FirstFailure returns the first failed instance in expansion order, falling
// back to the first cancelled one.
func (report JobReport) FirstFailure() (InstanceReport, bool) {
	var cancelled *InstanceReport
	for instanceIndex := range report.Instances {
		instance := report.Instances[instanceIndex]
		switch instance.Status {
		case InstanceStatusFailed:
			return instance, true
		case InstanceStatusCancelled:
			if cancelled == nil {
				cancelled = &report.Instances[instanceIndex]
			}
		}
	}
	if cancelled != nil {
		return *cancelled, true
	}
	return InstanceReport{}, false
}

// RunResult is the outcome of a pipeline run.
type RunResult struct {
	RunID     string            `json:"run_id"`
	Pipeline  string            `json:"pipeline"`
	Trigger   trigger.Trigger   `json:"trigger"`
	Jobs      []JobReport       `json:"jobs"`
	Status    PipelineStatus    `json:"status"`
	Release   *release.Decision `json:"release,omitempty"`
	StartTime time.Time         `json:"start_time"`
	EndTime   time.Time         `json:"end_time"`
}

// Job returns the report for the named job.
func (result RunResult) Job(name string) (JobReport, bool) {
	for _, job := range result.Jobs {
		if job.Name == name {
			return job, true
		}
	}
	return JobReport{}, false
}

// Succeeded reports whether every job succeeded.
func (result RunResult) Succeeded() bool {
	return result.Status == PipelineStatusSucceeded
}
