package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/tyemirov/pipegate/internal/container"
	"github.com/tyemirov/pipegate/internal/execshell"
	"github.com/tyemirov/pipegate/internal/objectstore"
	"github.com/tyemirov/pipegate/internal/pipeline"
	"github.com/tyemirov/pipegate/internal/release"
	"github.com/tyemirov/pipegate/internal/report"
	"github.com/tyemirov/pipegate/internal/scheduler"
	"github.com/tyemirov/pipegate/internal/tasks"
	"github.com/tyemirov/pipegate/internal/trigger"
	"github.com/tyemirov/pipegate/internal/utils"
	flagutils "github.com/tyemirov/pipegate/internal/utils/flags"
)

const (
	runCommandUseConstant                   = "run [definition]"
	runCommandShortDescriptionConstant      = "Run the pipeline for the triggering event"
	runCommandLongDescriptionConstant       = "run classifies the triggering event, executes every job of the pipeline definition as a dependency graph, and gates the release publish on the verification results. The event is read from flags when --event is given and from the CI environment otherwise."
	planCommandUseConstant                  = "plan [definition]"
	planCommandShortDescriptionConstant     = "Validate a pipeline definition and print its stages"
	planCommandLongDescriptionConstant      = "plan validates the pipeline definition and prints its parallel stages together with every expanded job instance."
	classifyCommandUseConstant              = "classify"
	classifyCommandShortDescriptionConstant = "Print the trigger derived from an event"
	classifyCommandLongDescriptionConstant  = "classify derives the trigger facts from the event flags or the CI environment and prints them as JSON."
	eventFlagNameConstant                   = "event"
	eventFlagUsageConstant                  = "Event type (push or pull_request). Reads the CI environment when omitted."
	refFlagNameConstant                     = "ref"
	refFlagUsageConstant                    = "Git reference of the event (refs/tags/1.2.3, refs/heads/main)."
	baseRefFlagNameConstant                 = "base-ref"
	baseRefFlagUsageConstant                = "Target branch of a pull request."
	pullRequestActionFlagNameConstant       = "pr-action"
	pullRequestActionFlagUsageConstant      = "Pull request action (opened, synchronize)."
	secretPresentFlagNameConstant           = "secret-present"
	secretPresentFlagUsageConstant          = "Declare the publish secret available. Defaults to the presence of the credential variable."
	mainBranchFlagNameConstant              = "main-branch"
	mainBranchFlagUsageConstant             = "Override the main branch name."
	maxParallelFlagNameConstant             = "max-parallel"
	maxParallelFlagUsageConstant            = "Maximum concurrently running job instances (0 uses the CPU count)."
	workspaceFlagNameConstant               = "workspace"
	workspaceFlagUsageConstant              = "Working directory for task commands."
	dockerFlagNameConstant                  = "docker"
	dockerFlagUsageConstant                 = "Run tasks that declare an image inside containers."
	reportFileFlagNameConstant              = "report-file"
	reportFileFlagUsageConstant             = "Write the machine-readable run result to this path."
	notApplicableMessageConstant            = "event does not trigger the pipeline"
	notApplicableConsoleTemplateConstant    = "Event %q on %q does not trigger the pipeline; nothing to run.\n"
	pipelineFailedErrorTemplateConstant     = "pipeline %s failed (run %s)"
	eventDescriptorErrorTemplateConstant    = "unable to read the triggering event: %w"
	definitionErrorTemplateConstant         = "unable to load pipeline definition: %w"
	runtimeErrorTemplateConstant            = "unable to prepare pipeline runtime: %w"
	dockerClientErrorTemplateConstant       = "unable to connect to the container engine: %w"
	reportFileErrorTemplateConstant         = "unable to write report file: %w"
	planStageTemplateConstant               = "Stage %d: %s\n"
	planInstanceTemplateConstant            = "  %-24s %s\n"
	planHeaderTemplateConstant              = "Pipeline %s: %d job(s), %d stage(s)\n"
	planReleaseSuffixConstant               = " (release)"
	eventFieldConstant                      = "event"
	refFieldConstant                        = "ref"
	triggerFieldConstant                    = "trigger"
	timeoutFieldConstant                    = "timeout"
	runStartedMessageConstant               = "pipeline run starting"
	jsonIndentConstant                      = "  "
)

// PipelineFailedError reports a completed run whose status is failed.
type PipelineFailedError struct {
	Pipeline string
	RunID    string
}

func (failedError PipelineFailedError) Error() string {
	return fmt.Sprintf(pipelineFailedErrorTemplateConstant, failedError.Pipeline, failedError.RunID)
}

type runRuntime struct {
	gate      *release.Gate
	scheduler *scheduler.Scheduler
}

func (application *Application) registerEventFlags(command *cobra.Command) {
	command.Flags().String(eventFlagNameConstant, "", eventFlagUsageConstant)
	command.Flags().String(refFlagNameConstant, "", refFlagUsageConstant)
	command.Flags().String(baseRefFlagNameConstant, "", baseRefFlagUsageConstant)
	command.Flags().String(pullRequestActionFlagNameConstant, "", pullRequestActionFlagUsageConstant)
	command.Flags().Bool(secretPresentFlagNameConstant, false, secretPresentFlagUsageConstant)
	command.Flags().String(mainBranchFlagNameConstant, "", mainBranchFlagUsageConstant)
}

func (application *Application) newRunCommand() *cobra.Command {
	command := &cobra.Command{
		Use:           runCommandUseConstant,
		Short:         runCommandShortDescriptionConstant,
		Long:          runCommandLongDescriptionConstant,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(command *cobra.Command, arguments []string) error {
			return application.runPipeline(command, arguments)
		},
	}
	application.registerEventFlags(command)
	command.Flags().Int(maxParallelFlagNameConstant, 0, maxParallelFlagUsageConstant)
	command.Flags().String(workspaceFlagNameConstant, "", workspaceFlagUsageConstant)
	command.Flags().Bool(dockerFlagNameConstant, false, dockerFlagUsageConstant)
	command.Flags().String(reportFileFlagNameConstant, "", reportFileFlagUsageConstant)
	return command
}

func (application *Application) newPlanCommand() *cobra.Command {
	return &cobra.Command{
		Use:           planCommandUseConstant,
		Short:         planCommandShortDescriptionConstant,
		Long:          planCommandLongDescriptionConstant,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(command *cobra.Command, arguments []string) error {
			plan, loadError := application.loadPlan(arguments)
			if loadError != nil {
				return loadError
			}
			return writePlan(command.OutOrStdout(), plan)
		},
	}
}

func (application *Application) newClassifyCommand() *cobra.Command {
	command := &cobra.Command{
		Use:           classifyCommandUseConstant,
		Short:         classifyCommandShortDescriptionConstant,
		Long:          classifyCommandLongDescriptionConstant,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(command *cobra.Command, arguments []string) error {
			classifiedTrigger, applicable, classifyError := application.classifyEvent(command)
			if classifyError != nil {
				return classifyError
			}
			if !applicable {
				application.reportNotApplicable(command)
				return nil
			}
			encoder := json.NewEncoder(command.OutOrStdout())
			encoder.SetIndent("", jsonIndentConstant)
			return encoder.Encode(classifiedTrigger)
		},
	}
	application.registerEventFlags(command)
	return command
}

func (application *Application) runPipeline(command *cobra.Command, arguments []string) error {
	plan, loadError := application.loadPlan(arguments)
	if loadError != nil {
		return loadError
	}

	runTrigger, applicable, classifyError := application.classifyEvent(command)
	if classifyError != nil {
		return classifyError
	}
	if !applicable {
		application.reportNotApplicable(command)
		return nil
	}

	outputLock := &sync.Mutex{}
	runtime, runtimeError := application.buildRuntime(command, runTrigger, outputLock)
	if runtimeError != nil {
		return fmt.Errorf(runtimeErrorTemplateConstant, runtimeError)
	}

	executionContext, stopSignals := signal.NotifyContext(command.Context(), os.Interrupt, syscall.SIGTERM)
	defer stopSignals()
	if timeout := application.configuration.Pipeline.Timeout; timeout > 0 {
		var cancelTimeout context.CancelFunc
		executionContext, cancelTimeout = context.WithTimeout(executionContext, timeout)
		defer cancelTimeout()
	}

	application.logger.Info(runStartedMessageConstant,
		zap.String(triggerFieldConstant, string(runTrigger.Kind)),
		zap.String(refFieldConstant, runTrigger.Ref),
		zap.Duration(timeoutFieldConstant, application.configuration.Pipeline.Timeout),
	)

	result, runError := runtime.scheduler.Run(executionContext, plan, runTrigger)
	if runError != nil {
		return runError
	}
	if decision, resolved := runtime.gate.Decision(); resolved {
		result.Release = &decision
	}

	outputLock.Lock()
	renderError := report.NewConsoleRenderer(command.OutOrStdout()).Render(result)
	outputLock.Unlock()
	if renderError != nil {
		return renderError
	}
	report.LogSummary(application.logger, result)

	reportFile, _, _ := flagutils.StringFlag(command, reportFileFlagNameConstant)
	if len(strings.TrimSpace(reportFile)) == 0 {
		reportFile = application.configuration.Report.File
	}
	if len(strings.TrimSpace(reportFile)) > 0 {
		if writeError := report.WriteJSONFile(reportFile, result); writeError != nil {
			return fmt.Errorf(reportFileErrorTemplateConstant, writeError)
		}
	}

	if !result.Succeeded() {
		return PipelineFailedError{Pipeline: result.Pipeline, RunID: result.RunID}
	}
	return nil
}

func (application *Application) reportNotApplicable(command *cobra.Command) {
	descriptor, _ := application.resolveEventDescriptor(command)
	application.logger.Info(notApplicableMessageConstant,
		zap.String(eventFieldConstant, descriptor.EventType),
		zap.String(refFieldConstant, descriptor.Ref),
	)
	fmt.Fprintf(command.OutOrStdout(), notApplicableConsoleTemplateConstant, descriptor.EventType, descriptor.Ref)
}

func (application *Application) buildRuntime(command *cobra.Command, runTrigger trigger.Trigger, outputLock *sync.Mutex) (runRuntime, error) {
	pipelineConfiguration := application.configuration.Pipeline

	workspace := pipelineConfiguration.Workspace
	if flagValue, changed, _ := flagutils.StringFlag(command, workspaceFlagNameConstant); changed {
		workspace = flagValue
	}
	maxParallel := pipelineConfiguration.MaxParallel
	if flagValue, changed, _ := flagutils.IntFlag(command, maxParallelFlagNameConstant); changed {
		maxParallel = flagValue
	}
	dockerEnabled := pipelineConfiguration.Docker.Enabled
	if flagValue, changed, _ := flagutils.BoolFlag(command, dockerFlagNameConstant); changed {
		dockerEnabled = flagValue
	}

	routingRunner := execshell.RoutingRunner{Local: application.commandRunner}
	if dockerEnabled {
		dockerClient, clientError := application.dockerClientFactory()
		if clientError != nil {
			return runRuntime{}, fmt.Errorf(dockerClientErrorTemplateConstant, clientError)
		}
		dockerRunner, dockerRunnerError := container.NewDockerRunner(application.logger, dockerClient, container.Options{
			Workspace:  workspace,
			PullImages: pipelineConfiguration.Docker.PullImages,
		})
		if dockerRunnerError != nil {
			return runRuntime{}, dockerRunnerError
		}
		routingRunner.Container = dockerRunner
	}

	executor, executorError := execshell.NewShellExecutor(application.logger, routingRunner, application.humanReadableLoggingEnabled())
	if executorError != nil {
		return runRuntime{}, executorError
	}

	credentialVariable := application.configuration.Release.CredentialVariable
	publisher, publisherError := release.NewCommandPublisher(executor, credentialVariable)
	if publisherError != nil {
		return runRuntime{}, publisherError
	}
	gate, gateError := release.NewGate(
		application.logger,
		runTrigger,
		release.ResolveCredentials(application.environmentLookup, credentialVariable),
		publisher,
	)
	if gateError != nil {
		return runRuntime{}, gateError
	}

	uploader, uploaderError := application.buildUploader()
	if uploaderError != nil {
		return runRuntime{}, uploaderError
	}

	taskRunner, taskRunnerError := tasks.NewRunner(application.logger, executor, uploader, gate, workspace)
	if taskRunnerError != nil {
		return runRuntime{}, taskRunnerError
	}

	output := command.OutOrStdout()
	pipelineScheduler, schedulerError := scheduler.New(application.logger, taskRunner, scheduler.Options{
		MaxParallel: maxParallel,
		Output: func(instance pipeline.JobInstance) io.Writer {
			return utils.NewPrefixedWriter(instance.DisplayName(), output, outputLock)
		},
	})
	if schedulerError != nil {
		return runRuntime{}, schedulerError
	}

	return runRuntime{gate: gate, scheduler: pipelineScheduler}, nil
}

func (application *Application) buildUploader() (objectstore.ArtifactUploader, error) {
	artifactsConfiguration := application.configuration.Artifacts
	if !artifactsConfiguration.Enabled {
		return objectstore.NewNoopUploader(application.logger), nil
	}
	minioClient, clientError := objectstore.NewMinIOClient(artifactsConfiguration)
	if clientError != nil {
		return nil, clientError
	}
	return objectstore.NewMinIOUploader(application.logger, minioClient, artifactsConfiguration)
}

func (application *Application) loadPlan(arguments []string) (pipeline.Plan, error) {
	definitionPath := application.configuration.Pipeline.Definition
	if len(arguments) > 0 {
		definitionPath = arguments[0]
	}

	var (
		plan      pipeline.Plan
		loadError error
	)
	if len(strings.TrimSpace(definitionPath)) == 0 {
		plan, loadError = pipeline.LoadDefault()
	} else {
		plan, loadError = pipeline.Load(definitionPath)
	}
	if loadError != nil {
		return pipeline.Plan{}, fmt.Errorf(definitionErrorTemplateConstant, loadError)
	}
	return plan, nil
}

func (application *Application) classifyEvent(command *cobra.Command) (trigger.Trigger, bool, error) {
	descriptor, descriptorError := application.resolveEventDescriptor(command)
	if descriptorError != nil {
		return trigger.Trigger{}, false, fmt.Errorf(eventDescriptorErrorTemplateConstant, descriptorError)
	}

	mainBranch := application.configuration.Pipeline.MainBranch
	if flagValue, changed, _ := flagutils.StringFlag(command, mainBranchFlagNameConstant); changed {
		mainBranch = flagValue
	}

	classifiedTrigger, applicable := trigger.NewClassifier(mainBranch).Classify(descriptor)
	return classifiedTrigger, applicable, nil
}

func (application *Application) resolveEventDescriptor(command *cobra.Command) (trigger.EventDescriptor, error) {
	credentialVariable := application.configuration.Release.CredentialVariable

	eventType, eventChanged, _ := flagutils.StringFlag(command, eventFlagNameConstant)
	if !eventChanged || len(strings.TrimSpace(eventType)) == 0 {
		descriptor, environmentError := trigger.DescriptorFromEnvironment(application.environmentLookup, application.fileReader, credentialVariable)
		if environmentError != nil {
			return trigger.EventDescriptor{}, environmentError
		}
		if secretPresent, secretChanged, _ := flagutils.BoolFlag(command, secretPresentFlagNameConstant); secretChanged {
			descriptor.SecretPresent = secretPresent
		}
		return descriptor, nil
	}

	reference, _, _ := flagutils.StringFlag(command, refFlagNameConstant)
	baseReference, _, _ := flagutils.StringFlag(command, baseRefFlagNameConstant)
	pullRequestAction, _, _ := flagutils.StringFlag(command, pullRequestActionFlagNameConstant)

	secretPresent, secretChanged, _ := flagutils.BoolFlag(command, secretPresentFlagNameConstant)
	if !secretChanged {
		credentials := release.ResolveCredentials(application.environmentLookup, credentialVariable)
		secretPresent = len(credentials.Value) > 0
	}

	return trigger.EventDescriptor{
		EventType:         eventType,
		Ref:               reference,
		BaseRef:           baseReference,
		PullRequestAction: pullRequestAction,
		SecretPresent:     secretPresent,
	}, nil
}

func writePlan(output io.Writer, plan pipeline.Plan) error {
	if _, writeError := fmt.Fprintf(output, planHeaderTemplateConstant, plan.Definition.Name, len(plan.Definition.Jobs), len(plan.Stages)); writeError != nil {
		return writeError
	}
	for stageIndex, stage := range plan.Stages {
		if _, writeError := fmt.Fprintf(output, planStageTemplateConstant, stageIndex+1, strings.Join(stage.Jobs, ", ")); writeError != nil {
			return writeError
		}
		for _, jobName := range stage.Jobs {
			job, found := plan.Definition.Job(jobName)
			if !found {
				continue
			}
			for _, instance := range job.Expand() {
				description := instance.DisplayName()
				if job.Release {
					description += planReleaseSuffixConstant
				}
				if _, writeError := fmt.Fprintf(output, planInstanceTemplateConstant, instance.ID, description); writeError != nil {
					return writeError
				}
			}
		}
	}
	return nil
}
