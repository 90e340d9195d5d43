package release

import (
	"context"
	"errors"
	"strings"

	"github.com/tyemirov/pipegate/internal/execshell"
)

var (
	// ErrExecutorNotConfigured indicates the publisher has no command executor.
	ErrExecutorNotConfigured = errors.New("publish command executor not configured")
	// ErrCredentialVariableMissing indicates no variable was configured to carry the credential.
	ErrCredentialVariableMissing = errors.New("publish credential variable not configured")
	// ErrUnsupportedPublishMode indicates a mode outside RealPublish and DryRunPublish.
	ErrUnsupportedPublishMode = errors.New("unsupported publish mode")
	// ErrDryRunArgumentsMissing indicates a dry run whose command would be identical to a real publish.
	ErrDryRunArgumentsMissing = errors.New("dry-run publish requires dry-run arguments")
)

// CommandExecutor runs shell commands.
type CommandExecutor interface {
	Execute(executionContext context.Context, command execshell.ShellCommand) (execshell.ExecutionResult, error)
}

// CommandPublisher publishes by running the publish task's command.
type CommandPublisher struct {
	executor           CommandExecutor
	credentialVariable string
}

// NewCommandPublisher constructs a CommandPublisher that hands the credential to
// the command through credentialVariable.
func NewCommandPublisher(executor CommandExecutor, credentialVariable string) (*CommandPublisher, error) {
	if executor == nil {
		return nil, ErrExecutorNotConfigured
	}
	trimmedVariable := strings.TrimSpace(credentialVariable)
	if len(trimmedVariable) == 0 {
		return nil, ErrCredentialVariableMissing
	}
	return &CommandPublisher{executor: executor, credentialVariable: trimmedVariable}, nil
}

// Publish runs the command with the credential for a real publish. A dry run
// appends the dry-run arguments and withholds the credential variable.
func (publisher *CommandPublisher) Publish(executionContext context.Context, request Request) (execshell.ExecutionResult, error) {
	command := request.Command
	environment := make(map[string]string, len(command.Details.EnvironmentVariables)+1)
	for key, value := range command.Details.EnvironmentVariables {
		if key == publisher.credentialVariable {
			continue
		}
		environment[key] = value
	}

	switch mode := request.Mode.(type) {
	case RealPublish:
		environment[publisher.credentialVariable] = mode.Credential
	case DryRunPublish:
		if len(request.DryRunArguments) == 0 {
			return execshell.ExecutionResult{}, ConfigurationError{Cause: ErrDryRunArgumentsMissing}
		}
		command.Details.Arguments = append(append([]string(nil), command.Details.Arguments...), request.DryRunArguments...)
		command.Details.ExcludedEnvironment = append(append([]string(nil), command.Details.ExcludedEnvironment...), publisher.credentialVariable)
	default:
		return execshell.ExecutionResult{}, ErrUnsupportedPublishMode
	}
	command.Details.EnvironmentVariables = environment

	return publisher.executor.Execute(executionContext, command)
}
