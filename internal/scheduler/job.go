package scheduler

import (
	"context"
	"io"
	"time"

	"github.com/tyemirov/pipegate/internal/pipeline"
	"github.com/tyemirov/pipegate/internal/tasks"
)

// executeTasks runs the tasks of one instance in order. The first task that
// does not succeed stops the instance unless it continues on failure.
func executeTasks(executionContext context.Context, runner TaskRunner, runID string, instance pipeline.JobInstance, outputWriter io.Writer, clock func() time.Time, report *InstanceReport) InstanceStatus {
	for _, task := range instance.Tasks {
		if contextError := executionContext.Err(); contextError != nil {
			recordFailure(report, task.Name, tasks.Result{Outcome: tasks.OutcomeCancelled, Output: contextError.Error()})
			return InstanceStatusCancelled
		}

		startTime := clock()
		result := runner.Run(executionContext, tasks.Invocation{
			RunID:        runID,
			Instance:     instance,
			Task:         task,
			OutputWriter: outputWriter,
		})
		taskReport := TaskReport{
			Name:     task.Name,
			Kind:     task.Kind,
			Outcome:  result.Outcome,
			ExitCode: result.ExitCode,
			Detail:   result.Detail,
			Duration: clock().Sub(startTime),
		}

		switch {
		case result.Outcome.Succeeded():
			report.Tasks = append(report.Tasks, taskReport)
		case result.Outcome == tasks.OutcomeCancelled:
			report.Tasks = append(report.Tasks, taskReport)
			recordFailure(report, task.Name, result)
			return InstanceStatusCancelled
		case task.ContinueOnFailure:
			taskReport.Tolerated = true
			report.Tasks = append(report.Tasks, taskReport)
		default:
			report.Tasks = append(report.Tasks, taskReport)
			recordFailure(report, task.Name, result)
			return InstanceStatusFailed
		}
	}
	return InstanceStatusSucceeded
}

func recordFailure(report *InstanceReport, taskName string, result tasks.Result) {
	report.FailedTask = taskName
	report.FailureOutcome = result.Outcome
	report.FailureOutput = result.Output
	if len(report.FailureOutput) == 0 && result.Err != nil {
		report.FailureOutput = result.Err.Error()
	}
}

// aggregateInstances derives the job status from its instances: success only
// when every instance succeeded. A job without instances never ran anything and
// counts as a configuration failure.
func aggregateInstances(instances []InstanceReport) (JobStatus, FailureKind) {
	if len(instances) == 0 {
		return JobStatusFailed, FailureKindConfigurationError
	}
	cancelled := false
	for _, instance := range instances {
		switch instance.Status {
		case InstanceStatusSucceeded:
		case InstanceStatusCancelled:
			cancelled = true
		default:
			return JobStatusFailed, failureKindFor(instance.FailureOutcome)
		}
	}
	if cancelled {
		return JobStatusCancelled, FailureKindCancellation
	}
	return JobStatusSucceeded, FailureKindNone
}

func failureKindFor(outcome tasks.Outcome) FailureKind {
	switch outcome {
	case tasks.OutcomeConfigurationError:
		return FailureKindConfigurationError
	case tasks.OutcomeInfrastructureError:
		return FailureKindInfrastructureError
	case tasks.OutcomeCancelled:
		return FailureKindCancellation
	default:
		return FailureKindTaskFailure
	}
}
