package execshell

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"os/exec"
	"sort"
	"strings"
)

// ProcessRunner executes commands as local processes.
type ProcessRunner struct {
	// InheritEnvironment passes the parent process environment to children.
	InheritEnvironment bool
}

// NewProcessRunner constructs a ProcessRunner that inherits the parent environment.
func NewProcessRunner() ProcessRunner {
	return ProcessRunner{InheritEnvironment: true}
}

// Run launches the command and waits for it. A process that starts and exits with a
// non-zero code is reported through ExecutionResult.ExitCode, not as an error.
func (runner ProcessRunner) Run(executionContext context.Context, command ShellCommand) (ExecutionResult, error) {
	process := exec.CommandContext(executionContext, string(command.Name), command.Details.Arguments...)
	process.Dir = command.Details.WorkingDirectory
	process.Env = runner.buildEnvironment(command.Details.EnvironmentVariables, command.Details.ExcludedEnvironment)
	if len(command.Details.StandardInput) > 0 {
		process.Stdin = bytes.NewReader(command.Details.StandardInput)
	}

	var standardOutput bytes.Buffer
	var standardError bytes.Buffer
	process.Stdout = teeTarget(&standardOutput, command.Details.OutputWriter)
	process.Stderr = teeTarget(&standardError, command.Details.OutputWriter)

	runError := process.Run()
	result := ExecutionResult{
		StandardOutput: standardOutput.String(),
		StandardError:  standardError.String(),
	}
	if runError == nil {
		return result, nil
	}

	var exitError *exec.ExitError
	if errors.As(runError, &exitError) {
		if contextError := executionContext.Err(); contextError != nil {
			return result, contextError
		}
		result.ExitCode = exitError.ExitCode()
		return result, nil
	}
	return result, runError
}

func (runner ProcessRunner) buildEnvironment(overrides map[string]string, excluded []string) []string {
	excludedSet := make(map[string]struct{}, len(excluded))
	for _, name := range excluded {
		excludedSet[name] = struct{}{}
	}

	environment := make([]string, 0)
	if runner.InheritEnvironment {
		for _, assignment := range os.Environ() {
			name, _, _ := strings.Cut(assignment, "=")
			if _, withheld := excludedSet[name]; withheld {
				continue
			}
			environment = append(environment, assignment)
		}
	}
	keys := make([]string, 0, len(overrides))
	for key := range overrides {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		if _, withheld := excludedSet[key]; withheld {
			continue
		}
		environment = append(environment, key+"="+overrides[key])
	}
	return environment
}

func teeTarget(capture *bytes.Buffer, live io.Writer) io.Writer {
	if live == nil {
		return capture
	}
	return io.MultiWriter(capture, live)
}
