package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tyemirov/pipegate/internal/execshell"
	"github.com/tyemirov/pipegate/internal/release"
	"github.com/tyemirov/pipegate/internal/trigger"
)

const (
	testCredentialValueConstant    = "registry-token"
	testCoverageFileNameConstant   = "cobertura.xml"
	testPublishCommandLineConstant = "cargo publish"
)

type recordingCommandRunner struct {
	lock             sync.Mutex
	failingFragment  string
	recordedCommands []execshell.ShellCommand
}

func (runner *recordingCommandRunner) Run(executionContext context.Context, command execshell.ShellCommand) (execshell.ExecutionResult, error) {
	runner.lock.Lock()
	runner.recordedCommands = append(runner.recordedCommands, command)
	runner.lock.Unlock()

	if len(runner.failingFragment) > 0 && strings.Contains(command.CommandLine(), runner.failingFragment) {
		return execshell.ExecutionResult{StandardError: "error: lint failed\n", ExitCode: 101}, nil
	}
	return execshell.ExecutionResult{StandardOutput: "ok\n"}, nil
}

func (runner *recordingCommandRunner) commandsContaining(fragment string) []execshell.ShellCommand {
	runner.lock.Lock()
	defer runner.lock.Unlock()
	matching := make([]execshell.ShellCommand, 0)
	for _, command := range runner.recordedCommands {
		if strings.Contains(command.CommandLine(), fragment) {
			matching = append(matching, command)
		}
	}
	return matching
}

type testApplicationHarness struct {
	application *Application
	runner      *recordingCommandRunner
	output      *bytes.Buffer
	workspace   string
}

func newTestApplicationHarness(testInstance *testing.T, environment map[string]string, failingFragment string) testApplicationHarness {
	testInstance.Helper()
	testInstance.Setenv(configurationSearchPathEnvironmentVariableConstant, testInstance.TempDir())

	workspace := testInstance.TempDir()
	require.NoError(testInstance, os.WriteFile(filepath.Join(workspace, testCoverageFileNameConstant), []byte("<coverage/>"), 0o600))

	runner := &recordingCommandRunner{failingFragment: failingFragment}
	output := &bytes.Buffer{}

	application := NewApplication()
	application.commandRunner = runner
	application.environmentLookup = func(key string) (string, bool) {
		value, exists := environment[key]
		return value, exists
	}
	application.fileReader = func(path string) ([]byte, error) {
		return []byte(`{"action":"opened"}`), nil
	}
	application.exitFunction = func(int) {}
	application.SetOutput(output)

	return testApplicationHarness{application: application, runner: runner, output: output, workspace: workspace}
}

func (harness testApplicationHarness) execute(arguments ...string) error {
	baseArguments := []string{"--log-level", "error"}
	return harness.application.ExecuteWithArguments(append(baseArguments, arguments...))
}

func TestRunCommandBranchPushPerformsDryRunPublish(testInstance *testing.T) {
	harness := newTestApplicationHarness(testInstance, map[string]string{defaultCredentialVariableConstant: testCredentialValueConstant}, "")

	executionError := harness.execute("run", "--event", "push", "--ref", "refs/heads/main", "--workspace", harness.workspace)
	require.NoError(testInstance, executionError)

	publishCommands := harness.runner.commandsContaining(testPublishCommandLineConstant)
	require.Len(testInstance, publishCommands, 1)
	require.Equal(testInstance, []string{"publish", "--dry-run"}, publishCommands[0].Details.Arguments)
	require.Contains(testInstance, publishCommands[0].Details.ExcludedEnvironment, defaultCredentialVariableConstant)
	require.NotContains(testInstance, publishCommands[0].Details.EnvironmentVariables, defaultCredentialVariableConstant)

	require.Contains(testInstance, harness.output.String(), "Release: "+release.ModeNameDryRun)
	require.Contains(testInstance, harness.output.String(), "Result: SUCCEEDED")
}

func TestRunCommandTagPushPublishesWithCredential(testInstance *testing.T) {
	harness := newTestApplicationHarness(testInstance, map[string]string{defaultCredentialVariableConstant: testCredentialValueConstant}, "")

	executionError := harness.execute("run", "--event", "push", "--ref", "refs/tags/1.2.3", "--workspace", harness.workspace)
	require.NoError(testInstance, executionError)

	publishCommands := harness.runner.commandsContaining(testPublishCommandLineConstant)
	require.Len(testInstance, publishCommands, 1)
	require.Equal(testInstance, []string{"publish"}, publishCommands[0].Details.Arguments)
	require.Equal(testInstance, testCredentialValueConstant, publishCommands[0].Details.EnvironmentVariables[defaultCredentialVariableConstant])
	require.Contains(testInstance, harness.output.String(), "Release: "+release.ModeNameReal)
}

func TestRunCommandVerificationFailureBlocksRelease(testInstance *testing.T) {
	harness := newTestApplicationHarness(testInstance, map[string]string{defaultCredentialVariableConstant: testCredentialValueConstant}, "clippy --")
	reportPath := filepath.Join(testInstance.TempDir(), "reports", "run.json")

	executionError := harness.execute("run", "--event", "push", "--ref", "refs/tags/1.2.3", "--workspace", harness.workspace, "--report-file", reportPath)
	require.Error(testInstance, executionError)

	var failedError PipelineFailedError
	require.ErrorAs(testInstance, executionError, &failedError)
	require.Equal(testInstance, "crate", failedError.Pipeline)

	require.Empty(testInstance, harness.runner.commandsContaining(testPublishCommandLineConstant))
	require.Contains(testInstance, harness.output.String(), "Release: not reached")
	require.Contains(testInstance, harness.output.String(), "Result: FAILED")
	require.Contains(testInstance, harness.output.String(), "lint failed")

	reportContent, readError := os.ReadFile(reportPath)
	require.NoError(testInstance, readError)

	var decoded map[string]any
	require.NoError(testInstance, json.Unmarshal(reportContent, &decoded))
	require.Equal(testInstance, failedError.RunID, decoded["run_id"])
}

func TestRunCommandTagWithoutSecretIsConfigurationError(testInstance *testing.T) {
	harness := newTestApplicationHarness(testInstance, map[string]string{}, "")

	executionError := harness.execute("run", "--event", "push", "--ref", "refs/tags/1.2.3", "--workspace", harness.workspace)

	var failedError PipelineFailedError
	require.ErrorAs(testInstance, executionError, &failedError)
	require.Empty(testInstance, harness.runner.commandsContaining(testPublishCommandLineConstant))
	require.Contains(testInstance, harness.output.String(), "configuration error")
}

func TestRunCommandIgnoresNotApplicableEvents(testInstance *testing.T) {
	testCases := []struct {
		name      string
		arguments []string
	}{
		{
			name:      "feature_branch_push",
			arguments: []string{"--event", "push", "--ref", "refs/heads/feature"},
		},
		{
			name:      "closed_pull_request",
			arguments: []string{"--event", "pull_request", "--ref", "refs/pull/7/merge", "--base-ref", "main", "--pr-action", "closed"},
		},
		{
			name:      "non_semver_tag",
			arguments: []string{"--event", "push", "--ref", "refs/tags/v1.2"},
		},
	}

	for _, testCase := range testCases {
		testInstance.Run(testCase.name, func(subtest *testing.T) {
			harness := newTestApplicationHarness(subtest, map[string]string{}, "")

			executionError := harness.execute(append([]string{"run"}, testCase.arguments...)...)
			require.NoError(subtest, executionError)
			require.Empty(subtest, harness.runner.commandsContaining(""))
			require.Contains(subtest, harness.output.String(), "nothing to run")
		})
	}
}

func TestRunCommandReadsEventFromEnvironment(testInstance *testing.T) {
	harness := newTestApplicationHarness(testInstance, map[string]string{
		trigger.EventNameEnvironmentVariable: trigger.EventTypePullRequest,
		trigger.RefEnvironmentVariable:       "refs/pull/7/merge",
		trigger.BaseRefEnvironmentVariable:   "main",
		trigger.EventPathEnvironmentVariable: "/tmp/event.json",
	}, "")

	executionError := harness.execute("run", "--workspace", harness.workspace, "--max-parallel", "1")
	require.NoError(testInstance, executionError)
	require.Len(testInstance, harness.runner.commandsContaining(testPublishCommandLineConstant+" --dry-run"), 1)
}

func TestRunCommandRequiresEvent(testInstance *testing.T) {
	harness := newTestApplicationHarness(testInstance, map[string]string{}, "")

	executionError := harness.execute("run", "--workspace", harness.workspace)
	require.ErrorIs(testInstance, executionError, trigger.ErrEventNameMissing)
}

func TestPlanCommandPrintsStagesAndInstances(testInstance *testing.T) {
	harness := newTestApplicationHarness(testInstance, map[string]string{}, "")

	require.NoError(testInstance, harness.execute("plan"))

	output := harness.output.String()
	require.Contains(testInstance, output, "Pipeline crate: 6 job(s), 2 stage(s)")
	require.Contains(testInstance, output, "Stage 1: ")
	require.Contains(testInstance, output, "Stage 2: publish")
	require.Contains(testInstance, output, "clippy-1-56-0")
	require.Contains(testInstance, output, "(release)")
	require.Empty(testInstance, harness.runner.commandsContaining(""))
}

func TestPlanCommandRejectsInvalidDefinition(testInstance *testing.T) {
	harness := newTestApplicationHarness(testInstance, map[string]string{}, "")
	definitionPath := filepath.Join(testInstance.TempDir(), "pipeline.yaml")
	require.NoError(testInstance, os.WriteFile(definitionPath, []byte("name: broken\njobs:\n  - name: a\n    needs: [b]\n    tasks:\n      - name: t\n        kind: run-command\n        command: [\"true\"]\n"), 0o600))

	executionError := harness.execute("plan", definitionPath)
	require.Error(testInstance, executionError)
	require.Contains(testInstance, executionError.Error(), "unable to load pipeline definition")
}

func TestClassifyCommandPrintsTrigger(testInstance *testing.T) {
	harness := newTestApplicationHarness(testInstance, map[string]string{}, "")

	require.NoError(testInstance, harness.execute("classify", "--event", "push", "--ref", "refs/tags/1.2.3-rc.1", "--secret-present"))

	var classified trigger.Trigger
	require.NoError(testInstance, json.Unmarshal(harness.output.Bytes(), &classified))
	require.Equal(testInstance, trigger.KindPushTag, classified.Kind)
	require.True(testInstance, classified.IsPrerelease)
	require.True(testInstance, classified.IsSecretAvailable)
	require.Equal(testInstance, "v1.2.3-rc.1", classified.Version)
}

func TestVersionCommandUsesResolver(testInstance *testing.T) {
	harness := newTestApplicationHarness(testInstance, map[string]string{}, "")
	harness.application.versionResolver = func(context.Context) string { return "v9.9.9" }

	require.NoError(testInstance, harness.execute("version"))
	require.Equal(testInstance, "pipegate version: v9.9.9\n", harness.output.String())
}

func TestNormalizeInitializationScopeArguments(testInstance *testing.T) {
	testCases := []struct {
		name         string
		input        []string
		expectedArgs []string
	}{
		{
			name:         "NoArguments",
			input:        nil,
			expectedArgs: nil,
		},
		{
			name:         "ImplicitLocalValue",
			input:        []string{"--init"},
			expectedArgs: []string{"--init=local"},
		},
		{
			name:         "ImplicitLocalWithFollowingFlag",
			input:        []string{"--init", "--force"},
			expectedArgs: []string{"--init=local", "--force"},
		},
		{
			name:         "ExplicitUserValue",
			input:        []string{"--init=user"},
			expectedArgs: []string{"--init=user"},
		},
		{
			name:         "EmptyAssignmentDefaultsToLocal",
			input:        []string{"--init="},
			expectedArgs: []string{"--init=local"},
		},
	}

	for _, testCase := range testCases {
		testInstance.Run(testCase.name, func(subtest *testing.T) {
			require.Equal(subtest, testCase.expectedArgs, normalizeInitializationScopeArguments(testCase.input))
		})
	}
}
