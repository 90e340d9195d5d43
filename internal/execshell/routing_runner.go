package execshell

import (
	"context"
	"errors"
	"strings"
)

// ErrContainerRunnerNotConfigured indicates a command requested an image but no
// container runner is available.
var ErrContainerRunnerNotConfigured = errors.New("container runner not configured")

// RoutingRunner dispatches commands with an image to the container runner and
// every other command to the local runner.
type RoutingRunner struct {
	Local     CommandRunner
	Container CommandRunner
}

// Run executes the command with the runner matching its details.
func (runner RoutingRunner) Run(executionContext context.Context, command ShellCommand) (ExecutionResult, error) {
	if len(strings.TrimSpace(command.Details.Image)) > 0 {
		if runner.Container == nil {
			return ExecutionResult{}, ErrContainerRunnerNotConfigured
		}
		return runner.Container.Run(executionContext, command)
	}
	if runner.Local == nil {
		return ExecutionResult{}, ErrCommandRunnerNotConfigured
	}
	return runner.Local.Run(executionContext, command)
}
