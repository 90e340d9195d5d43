package execshell_test

import (
	"bytes"
	"context"
	"os/exec"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tyemirov/pipegate/internal/execshell"
)

func requireShell(testInstance *testing.T) {
	testInstance.Helper()
	if _, lookupError := exec.LookPath("sh"); lookupError != nil {
		testInstance.Skip("sh not available")
	}
}

func TestProcessRunnerCapturesOutputAndExitCode(testInstance *testing.T) {
	requireShell(testInstance)

	testCases := []struct {
		name             string
		script           string
		expectedOutput   string
		expectedError    string
		expectedExitCode int
	}{
		{name: "success", script: "echo out; echo err 1>&2", expectedOutput: "out\n", expectedError: "err\n"},
		{name: "non_zero_exit", script: "echo broken 1>&2; exit 3", expectedError: "broken\n", expectedExitCode: 3},
	}

	for _, testCase := range testCases {
		testInstance.Run(testCase.name, func(subTest *testing.T) {
			var liveOutput bytes.Buffer
			runner := execshell.NewProcessRunner()
			result, runError := runner.Run(context.Background(), execshell.ShellCommand{
				Name:    "sh",
				Details: execshell.CommandDetails{Arguments: []string{"-c", testCase.script}, OutputWriter: &liveOutput},
			})
			require.NoError(subTest, runError)
			require.Equal(subTest, testCase.expectedExitCode, result.ExitCode)
			require.Equal(subTest, testCase.expectedOutput, result.StandardOutput)
			require.Equal(subTest, testCase.expectedError, result.StandardError)
			require.Equal(subTest, len(testCase.expectedOutput)+len(testCase.expectedError), liveOutput.Len())
		})
	}
}

func TestProcessRunnerPassesEnvironmentOverrides(testInstance *testing.T) {
	requireShell(testInstance)

	runner := execshell.ProcessRunner{}
	result, runError := runner.Run(context.Background(), execshell.ShellCommand{
		Name: "sh",
		Details: execshell.CommandDetails{
			Arguments:            []string{"-c", "printf %s \"$PIPEGATE_TEST_VALUE\""},
			EnvironmentVariables: map[string]string{"PIPEGATE_TEST_VALUE": "matrix"},
		},
	})
	require.NoError(testInstance, runError)
	require.Equal(testInstance, "matrix", result.StandardOutput)
}

func TestProcessRunnerReportsLaunchFailure(testInstance *testing.T) {
	runner := execshell.NewProcessRunner()
	_, runError := runner.Run(context.Background(), execshell.ShellCommand{Name: "pipegate-definitely-missing-binary"})
	require.Error(testInstance, runError)
}

func TestProcessRunnerReportsCancellation(testInstance *testing.T) {
	requireShell(testInstance)

	cancelledContext, cancel := context.WithCancel(context.Background())
	cancel()

	runner := execshell.NewProcessRunner()
	_, runError := runner.Run(cancelledContext, execshell.ShellCommand{
		Name:    "sh",
		Details: execshell.CommandDetails{Arguments: []string{"-c", "sleep 5"}},
	})
	require.ErrorIs(testInstance, runError, context.Canceled)
}
