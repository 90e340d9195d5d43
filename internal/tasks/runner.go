package tasks

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/tyemirov/pipegate/internal/execshell"
	"github.com/tyemirov/pipegate/internal/objectstore"
	"github.com/tyemirov/pipegate/internal/pipeline"
	"github.com/tyemirov/pipegate/internal/release"
)

// Environment variables exported to every task command.
const (
	RunIDEnvironmentVariable     = "PIPEGATE_RUN_ID"
	JobEnvironmentVariable       = "PIPEGATE_JOB"
	InstanceEnvironmentVariable  = "PIPEGATE_INSTANCE"
	ToolchainEnvironmentVariable = "PIPEGATE_TOOLCHAIN"
)

const (
	taskFinishedMessageConstant  = "task finished"
	taskFieldNameConstant        = "task"
	kindFieldNameConstant        = "kind"
	instanceFieldNameConstant    = "instance"
	outcomeFieldNameConstant     = "outcome"
	exitCodeFieldNameConstant    = "exit_code"
	uploadSkippedDetailConstant  = "upload skipped"
	publishModeDetailTemplate    = "publish mode %s"
	uploadLocationDetailTemplate = "uploaded to %s"
)

var (
	// ErrExecutorNotConfigured indicates the runner has no command executor.
	ErrExecutorNotConfigured = errors.New("task command executor not configured")
	// ErrReleaseGateNotConfigured indicates a publish task ran without a release gate.
	ErrReleaseGateNotConfigured = errors.New("release gate not configured")
	// ErrUnsupportedTaskKind indicates a task kind the runner cannot execute.
	ErrUnsupportedTaskKind = errors.New("unsupported task kind")
	// ErrCommandMissing indicates a command task without a command.
	ErrCommandMissing = errors.New("task command not provided")
)

// CommandExecutor runs shell commands.
type CommandExecutor interface {
	Execute(executionContext context.Context, command execshell.ShellCommand) (execshell.ExecutionResult, error)
}

// PublishGate runs publish commands in the mode selected for the run.
type PublishGate interface {
	Publish(executionContext context.Context, command execshell.ShellCommand, dryRunArguments []string) (execshell.ExecutionResult, error)
	Mode() (release.PublishMode, error)
}

// Invocation is one task of one job instance.
type Invocation struct {
	RunID        string
	Instance     pipeline.JobInstance
	Task         pipeline.TaskSpec
	OutputWriter io.Writer
}

// Runner executes tasks. It never returns a Go error for a task's own failure.
type Runner struct {
	executor  CommandExecutor
	uploader  objectstore.ArtifactUploader
	gate      PublishGate
	workspace string
	logger    *zap.Logger
}

// NewRunner constructs a Runner. A nil uploader skips uploads; a nil gate makes
// publish tasks fail with a configuration error.
func NewRunner(logger *zap.Logger, executor CommandExecutor, uploader objectstore.ArtifactUploader, gate PublishGate, workspace string) (*Runner, error) {
	if executor == nil {
		return nil, ErrExecutorNotConfigured
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if uploader == nil {
		uploader = objectstore.NewNoopUploader(logger)
	}
	return &Runner{executor: executor, uploader: uploader, gate: gate, workspace: workspace, logger: logger}, nil
}

// Run executes the invocation and classifies the outcome.
func (runner *Runner) Run(executionContext context.Context, invocation Invocation) Result {
	result := runner.run(executionContext, invocation)
	runner.logger.Debug(taskFinishedMessageConstant,
		zap.String(taskFieldNameConstant, invocation.Task.Name),
		zap.String(kindFieldNameConstant, string(invocation.Task.Kind)),
		zap.String(instanceFieldNameConstant, invocation.Instance.ID),
		zap.String(outcomeFieldNameConstant, string(result.Outcome)),
		zap.Int(exitCodeFieldNameConstant, result.ExitCode),
	)
	return result
}

func (runner *Runner) run(executionContext context.Context, invocation Invocation) Result {
	if contextError := executionContext.Err(); contextError != nil {
		return Result{Outcome: OutcomeCancelled, Err: contextError}
	}

	renderedTask, renderError := pipeline.RenderTask(invocation.Task, invocation.Instance)
	if renderError != nil {
		return Result{Outcome: OutcomeConfigurationError, Err: renderError}
	}

	switch renderedTask.Kind {
	case pipeline.TaskKindToolchainSetup, pipeline.TaskKindRunCommand:
		command, commandError := runner.buildCommand(renderedTask, invocation)
		if commandError != nil {
			return Result{Outcome: OutcomeConfigurationError, Err: commandError}
		}
		executionResult, executionError := runner.executor.Execute(executionContext, command)
		return classifyExecution(executionContext, executionResult, executionError)
	case pipeline.TaskKindUploadArtifact:
		return runner.upload(executionContext, renderedTask, invocation)
	case pipeline.TaskKindPublish:
		return runner.publish(executionContext, renderedTask, invocation)
	default:
		return Result{Outcome: OutcomeConfigurationError, Err: fmt.Errorf("%w: %s", ErrUnsupportedTaskKind, renderedTask.Kind)}
	}
}

func (runner *Runner) upload(executionContext context.Context, task pipeline.TaskSpec, invocation Invocation) Result {
	artifactPath := runner.resolvePath(runner.resolvePath(runner.workspace, task.WorkingDirectory), task.Path)
	uploadResult, uploadError := runner.uploader.Upload(executionContext, objectstore.Artifact{
		RunID:      invocation.RunID,
		InstanceID: invocation.Instance.ID,
		Path:       artifactPath,
	})
	if uploadError != nil {
		if contextError := executionContext.Err(); contextError != nil {
			return Result{Outcome: OutcomeCancelled, Err: contextError}
		}
		var missingError objectstore.ArtifactMissingError
		if errors.As(uploadError, &missingError) {
			return Result{Outcome: OutcomeFailure, Output: missingError.Error(), Err: uploadError}
		}
		return Result{Outcome: OutcomeInfrastructureError, Output: uploadError.Error(), Err: uploadError}
	}
	if uploadResult.Skipped {
		return Result{Outcome: OutcomeSuccess, Detail: uploadSkippedDetailConstant}
	}
	return Result{Outcome: OutcomeSuccess, Detail: fmt.Sprintf(uploadLocationDetailTemplate, uploadResult.Location)}
}

func (runner *Runner) publish(executionContext context.Context, task pipeline.TaskSpec, invocation Invocation) Result {
	if runner.gate == nil {
		return Result{Outcome: OutcomeConfigurationError, Err: ErrReleaseGateNotConfigured}
	}
	command, commandError := runner.buildCommand(task, invocation)
	if commandError != nil {
		return Result{Outcome: OutcomeConfigurationError, Err: commandError}
	}

	executionResult, publishError := runner.gate.Publish(executionContext, command, task.DryRunArguments)
	result := classifyExecution(executionContext, executionResult, publishError)
	if mode, modeError := runner.gate.Mode(); modeError == nil {
		result.Detail = fmt.Sprintf(publishModeDetailTemplate, mode.ModeName())
	}
	return result
}

func (runner *Runner) buildCommand(task pipeline.TaskSpec, invocation Invocation) (execshell.ShellCommand, error) {
	if len(task.Command) == 0 || len(strings.TrimSpace(task.Command[0])) == 0 {
		return execshell.ShellCommand{}, fmt.Errorf("%w: %s", ErrCommandMissing, task.Name)
	}

	environment := make(map[string]string, len(task.Environment)+4)
	for key, value := range task.Environment {
		environment[key] = value
	}
	environment[RunIDEnvironmentVariable] = invocation.RunID
	environment[JobEnvironmentVariable] = invocation.Instance.JobName
	environment[InstanceEnvironmentVariable] = invocation.Instance.ID
	if toolchain, exists := invocation.Instance.Point.Value(pipeline.ToolchainAxisName); exists {
		environment[ToolchainEnvironmentVariable] = toolchain
	}

	return execshell.ShellCommand{
		Name: execshell.CommandName(task.Command[0]),
		Details: execshell.CommandDetails{
			Arguments:            append([]string(nil), task.Command[1:]...),
			WorkingDirectory:     runner.resolvePath(runner.workspace, task.WorkingDirectory),
			EnvironmentVariables: environment,
			Image:                task.Image,
			OutputWriter:         invocation.OutputWriter,
		},
	}, nil
}

func (runner *Runner) resolvePath(base string, candidate string) string {
	trimmedCandidate := strings.TrimSpace(candidate)
	if len(trimmedCandidate) == 0 {
		return base
	}
	if filepath.IsAbs(trimmedCandidate) || len(base) == 0 {
		return trimmedCandidate
	}
	return filepath.Join(base, trimmedCandidate)
}

func classifyExecution(executionContext context.Context, executionResult execshell.ExecutionResult, executionError error) Result {
	result := Result{ExitCode: executionResult.ExitCode, Output: executionResult.CombinedOutput(), Err: executionError}
	if executionError == nil {
		result.Outcome = OutcomeSuccess
		return result
	}
	if contextError := executionContext.Err(); contextError != nil {
		result.Outcome = OutcomeCancelled
		return result
	}

	var configurationError release.ConfigurationError
	if errors.As(executionError, &configurationError) || errors.Is(executionError, execshell.ErrContainerRunnerNotConfigured) {
		result.Outcome = OutcomeConfigurationError
		return result
	}

	var failedError execshell.CommandFailedError
	if errors.As(executionError, &failedError) {
		result.Outcome = OutcomeFailure
		result.ExitCode = failedError.Result.ExitCode
		return result
	}

	result.Outcome = OutcomeInfrastructureError
	if len(result.Output) == 0 {
		result.Output = executionError.Error()
		var launchError execshell.CommandExecutionError
		if errors.As(executionError, &launchError) && launchError.Cause != nil {
			result.Output = fmt.Sprintf("%s: %v", result.Output, launchError.Cause)
		}
	}
	return result
}
