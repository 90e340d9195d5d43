// Package scheduler runs expanded job instances as a dependency graph with
// bounded parallelism and records every job's terminal state.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"runtime"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/tyemirov/pipegate/internal/pipeline"
	"github.com/tyemirov/pipegate/internal/tasks"
	"github.com/tyemirov/pipegate/internal/trigger"
)

const (
	pipelineStartedMessageConstant     = "pipeline started"
	pipelineFinishedMessageConstant    = "pipeline finished"
	jobStartedMessageConstant          = "job started"
	jobFinishedMessageConstant         = "job finished"
	jobFailedMessageConstant           = "job failed"
	jobConfigurationMessageConstant    = "job configuration error"
	jobSkippedMessageConstant          = "job skipped"
	outcomeRecordFailedMessageConstant = "job outcome already recorded"
	runIDFieldNameConstant             = "run_id"
	pipelineFieldNameConstant          = "pipeline"
	triggerFieldNameConstant           = "trigger"
	jobFieldNameConstant               = "job"
	statusFieldNameConstant            = "status"
	instancesFieldNameConstant         = "instances"
	reasonFieldNameConstant            = "reason"
	failedTaskFieldNameConstant        = "failed_task"
	instanceFieldNameConstant          = "instance"
	maxParallelFieldNameConstant       = "max_parallel"
	dependencyReasonTemplate           = "dependency %s %s"
	cancelledReasonConstant            = "run cancelled"
	noInstancesReasonConstant          = "matrix expanded to no instances"
)

var (
	// ErrTaskRunnerNotConfigured indicates the scheduler has no task runner.
	ErrTaskRunnerNotConfigured = errors.New("task runner not configured")
	// ErrPlanEmpty indicates a plan without jobs.
	ErrPlanEmpty = errors.New("pipeline plan has no jobs")
	// ErrUnknownDependency indicates a job needing an undeclared job.
	ErrUnknownDependency = errors.New("job depends on an undeclared job")
)

// TaskRunner executes a single task.
type TaskRunner interface {
	Run(executionContext context.Context, invocation tasks.Invocation) tasks.Result
}

// OutputFactory returns the writer receiving live output of an instance.
type OutputFactory func(instance pipeline.JobInstance) io.Writer

// Options configure a Scheduler.
type Options struct {
	// MaxParallel bounds concurrently running instances across the run. Zero
	// selects the number of CPUs.
	MaxParallel int
	// RunID identifies the run; generated when empty.
	RunID  string
	Output OutputFactory
	Clock  func() time.Time
}

// Scheduler executes pipeline plans.
type Scheduler struct {
	logger  *zap.Logger
	runner  TaskRunner
	options Options
}

// New constructs a Scheduler.
func New(logger *zap.Logger, runner TaskRunner, options Options) (*Scheduler, error) {
	if runner == nil {
		return nil, ErrTaskRunnerNotConfigured
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if options.MaxParallel <= 0 {
		options.MaxParallel = runtime.NumCPU()
	}
	if options.Clock == nil {
		options.Clock = time.Now
	}
	return &Scheduler{logger: logger, runner: runner, options: options}, nil
}

// MaxParallel returns the effective worker slot count.
func (scheduler *Scheduler) MaxParallel() int {
	return scheduler.options.MaxParallel
}

// Run executes every job of the plan and returns the run result. Job failures
// are reported in the result; an error means the run could not be attempted.
func (scheduler *Scheduler) Run(executionContext context.Context, plan pipeline.Plan, runTrigger trigger.Trigger) (RunResult, error) {
	if len(plan.Definition.Jobs) == 0 {
		return RunResult{}, ErrPlanEmpty
	}

	jobNames := make([]string, 0, len(plan.Definition.Jobs))
	for _, job := range plan.Definition.Jobs {
		jobNames = append(jobNames, job.Name)
	}
	dependencyGraph := pipeline.BuildDependencyGraph(plan.Definition)
	for _, jobName := range jobNames {
		for _, dependencyName := range dependencyGraph[jobName] {
			if _, exists := dependencyGraph[dependencyName]; !exists {
				return RunResult{}, fmt.Errorf("%w: %s needs %s", ErrUnknownDependency, jobName, dependencyName)
			}
		}
	}
	if _, stagesError := pipeline.PlanStages(plan.Definition.Jobs); stagesError != nil {
		return RunResult{}, stagesError
	}

	runState, stateError := NewRunState(runTrigger, jobNames)
	if stateError != nil {
		return RunResult{}, stateError
	}

	runID := scheduler.options.RunID
	if len(runID) == 0 {
		runID = uuid.NewString()
	}
	result := RunResult{
		RunID:     runID,
		Pipeline:  plan.Definition.Name,
		Trigger:   runTrigger,
		StartTime: scheduler.options.Clock(),
	}
	runLogger := scheduler.logger.With(zap.String(runIDFieldNameConstant, runID))
	runLogger.Info(pipelineStartedMessageConstant,
		zap.String(pipelineFieldNameConstant, plan.Definition.Name),
		zap.String(triggerFieldNameConstant, string(runTrigger.Kind)),
		zap.Int(maxParallelFieldNameConstant, scheduler.options.MaxParallel),
	)

	completion := make(map[string]chan struct{}, len(jobNames))
	for _, jobName := range jobNames {
		completion[jobName] = make(chan struct{})
	}

	execution := &runExecution{
		scheduler:  scheduler,
		logger:     runLogger,
		runID:      runID,
		state:      runState,
		graph:      dependencyGraph,
		completion: completion,
		slots:      semaphore.NewWeighted(int64(scheduler.options.MaxParallel)),
		reports:    make([]JobReport, len(plan.Definition.Jobs)),
	}

	var jobGroup errgroup.Group
	for jobIndex, job := range plan.Definition.Jobs {
		jobGroup.Go(func() error {
			execution.reports[jobIndex] = execution.runJob(executionContext, job)
			return nil
		})
	}
	_ = jobGroup.Wait()

	result.Jobs = execution.reports
	result.Status = PipelineStatusSucceeded
	for _, report := range result.Jobs {
		if report.Status != JobStatusSucceeded {
			result.Status = PipelineStatusFailed
			break
		}
	}
	result.EndTime = scheduler.options.Clock()
	runLogger.Info(pipelineFinishedMessageConstant, zap.String(statusFieldNameConstant, string(result.Status)))
	return result, nil
}

type runExecution struct {
	scheduler  *Scheduler
	logger     *zap.Logger
	runID      string
	state      *RunState
	graph      pipeline.DependencyGraph
	completion map[string]chan struct{}
	slots      *semaphore.Weighted
	reports    []JobReport
}

func (execution *runExecution) runJob(executionContext context.Context, job pipeline.JobTemplate) JobReport {
	report := JobReport{Name: job.Name, Release: job.Release, Needs: append([]string(nil), job.Needs...)}
	defer close(execution.completion[job.Name])

	execution.transition(job.Name, JobStatusWaitingOnDeps)
	dependencies := execution.graph[job.Name]
	for _, dependencyName := range dependencies {
		<-execution.completion[dependencyName]
	}
	for _, dependencyName := range dependencies {
		dependencyStatus, _ := execution.state.Outcome(dependencyName)
		if dependencyStatus != JobStatusSucceeded {
			report.Status = JobStatusSkipped
			report.FailureKind = FailureKindDependencyFailure
			report.Reason = fmt.Sprintf(dependencyReasonTemplate, dependencyName, dependencyStatus)
			return execution.finish(report)
		}
	}
	if executionContext.Err() != nil {
		report.Status = JobStatusSkipped
		report.FailureKind = FailureKindCancellation
		report.Reason = cancelledReasonConstant
		return execution.finish(report)
	}

	execution.transition(job.Name, JobStatusRunning)
	instances := job.Expand()
	report.StartTime = execution.scheduler.options.Clock()
	execution.logger.Info(jobStartedMessageConstant,
		zap.String(jobFieldNameConstant, job.Name),
		zap.Int(instancesFieldNameConstant, len(instances)),
	)

	instanceReports := make([]InstanceReport, len(instances))
	var instanceGroup errgroup.Group
	for instanceIndex, instance := range instances {
		instanceGroup.Go(func() error {
			instanceReports[instanceIndex] = execution.runInstance(executionContext, instance)
			return nil
		})
	}
	_ = instanceGroup.Wait()

	report.Instances = instanceReports
	report.EndTime = execution.scheduler.options.Clock()
	report.Status, report.FailureKind = aggregateInstances(instanceReports)
	if len(instanceReports) == 0 {
		report.Reason = noInstancesReasonConstant
	}
	return execution.finish(report)
}

func (execution *runExecution) runInstance(executionContext context.Context, instance pipeline.JobInstance) InstanceReport {
	report := InstanceReport{
		ID:          instance.ID,
		JobName:     instance.JobName,
		DisplayName: instance.DisplayName(),
		Point:       instance.Point,
		Tasks:       make([]TaskReport, 0, len(instance.Tasks)),
	}
	defer execution.recordInstance(&report)

	if acquireError := execution.slots.Acquire(executionContext, 1); acquireError != nil {
		report.Status = InstanceStatusCancelled
		report.FailureOutcome = tasks.OutcomeCancelled
		now := execution.scheduler.options.Clock()
		report.StartTime, report.EndTime = now, now
		return report
	}
	defer execution.slots.Release(1)

	var outputWriter io.Writer
	if execution.scheduler.options.Output != nil {
		outputWriter = execution.scheduler.options.Output(instance)
	}
	if flusher, ok := outputWriter.(interface{ Flush() error }); ok {
		defer func() { _ = flusher.Flush() }()
	}

	report.StartTime = execution.scheduler.options.Clock()
	report.Status = executeTasks(executionContext, execution.scheduler.runner, execution.runID, instance, outputWriter, execution.scheduler.options.Clock, &report)
	report.EndTime = execution.scheduler.options.Clock()
	return report
}

func (execution *runExecution) recordInstance(report *InstanceReport) {
	if setError := execution.state.Instances.Set(report.ID, *report); setError != nil {
		execution.logger.Error(outcomeRecordFailedMessageConstant, zap.String(instanceFieldNameConstant, report.ID), zap.Error(setError))
	}
}

func (execution *runExecution) transition(jobName string, status JobStatus) {
	_ = execution.state.States.Update(jobName, status)
}

func (execution *runExecution) finish(report JobReport) JobReport {
	if setError := execution.state.Outcomes.Set(report.Name, report.Status); setError != nil {
		execution.logger.Error(outcomeRecordFailedMessageConstant, zap.String(jobFieldNameConstant, report.Name), zap.Error(setError))
	}
	execution.transition(report.Name, report.Status)

	fields := []zap.Field{
		zap.String(jobFieldNameConstant, report.Name),
		zap.String(statusFieldNameConstant, string(report.Status)),
	}
	switch {
	case report.Status == JobStatusSkipped:
		execution.logger.Warn(jobSkippedMessageConstant, append(fields, zap.String(reasonFieldNameConstant, report.Reason))...)
	case report.FailureKind == FailureKindConfigurationError:
		failure, _ := report.FirstFailure()
		execution.logger.Error(jobConfigurationMessageConstant, append(fields,
			zap.String(failedTaskFieldNameConstant, failure.FailedTask),
			zap.String(reasonFieldNameConstant, report.Reason),
		)...)
	case report.Status != JobStatusSucceeded:
		failure, _ := report.FirstFailure()
		execution.logger.Warn(jobFailedMessageConstant, append(fields,
			zap.String(instanceFieldNameConstant, failure.ID),
			zap.String(failedTaskFieldNameConstant, failure.FailedTask),
		)...)
	default:
		execution.logger.Info(jobFinishedMessageConstant, fields...)
	}
	return report
}
