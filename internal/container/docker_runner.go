// Package container runs task commands inside Docker containers.
package container

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/docker/docker/api/types"
	dockercontainer "github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/google/uuid"
	"github.com/gosimple/slug"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
	"go.uber.org/zap"

	"github.com/tyemirov/pipegate/internal/execshell"
)

const (
	// DefaultContainerWorkspace is the mount point of the workspace inside containers.
	DefaultContainerWorkspace = "/workspace"

	containerNamePrefixConstant           = "pipegate"
	removalTimeoutConstant                = 30 * time.Second
	imageFieldNameConstant                = "image"
	containerFieldNameConstant            = "container"
	imagePullMessageConstant              = "pulling container image"
	containerRemovalFailedMessageConstant = "unable to remove container"
	clientNotConfiguredMessageConstant    = "docker client not configured"
	imageMissingMessageConstant           = "container image not provided"
	workspaceMissingMessageConstant       = "container workspace not provided"
)

var (
	// ErrClientNotConfigured indicates the Docker API client was missing.
	ErrClientNotConfigured = errors.New(clientNotConfiguredMessageConstant)
	// ErrImageMissing indicates a command reached the runner without an image.
	ErrImageMissing = errors.New(imageMissingMessageConstant)
	// ErrWorkspaceMissing indicates the host workspace was not configured.
	ErrWorkspaceMissing = errors.New(workspaceMissingMessageConstant)
)

// DockerAPI is the subset of the Docker client used by DockerRunner.
type DockerAPI interface {
	ImagePull(ctx context.Context, refStr string, options types.ImagePullOptions) (io.ReadCloser, error)
	ContainerCreate(ctx context.Context, config *dockercontainer.Config, hostConfig *dockercontainer.HostConfig, networkingConfig *network.NetworkingConfig, platform *ocispec.Platform, containerName string) (dockercontainer.CreateResponse, error)
	ContainerStart(ctx context.Context, containerID string, options types.ContainerStartOptions) error
	ContainerLogs(ctx context.Context, containerID string, options types.ContainerLogsOptions) (io.ReadCloser, error)
	ContainerWait(ctx context.Context, containerID string, condition dockercontainer.WaitCondition) (<-chan dockercontainer.WaitResponse, <-chan error)
	ContainerRemove(ctx context.Context, containerID string, options types.ContainerRemoveOptions) error
}

// Options configures container execution.
type Options struct {
	// Workspace is the host directory bind-mounted into every container.
	Workspace string
	// PullImages pulls the image before each run.
	PullImages bool
}

// DockerRunner implements execshell.CommandRunner by running commands in containers.
type DockerRunner struct {
	apiClient DockerAPI
	logger    *zap.Logger
	options   Options
}

// NewDockerClient connects to the Docker daemon described by the environment.
func NewDockerClient() (*client.Client, error) {
	return client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
}

// NewDockerRunner constructs a DockerRunner.
func NewDockerRunner(logger *zap.Logger, apiClient DockerAPI, options Options) (*DockerRunner, error) {
	if apiClient == nil {
		return nil, ErrClientNotConfigured
	}
	if len(strings.TrimSpace(options.Workspace)) == 0 {
		return nil, ErrWorkspaceMissing
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	absoluteWorkspace, absoluteError := filepath.Abs(options.Workspace)
	if absoluteError != nil {
		return nil, fmt.Errorf("resolve container workspace: %w", absoluteError)
	}
	options.Workspace = absoluteWorkspace
	return &DockerRunner{apiClient: apiClient, logger: logger, options: options}, nil
}

// Run executes the command in a fresh container built from command.Details.Image.
// A container exiting with a non-zero status is reported through ExitCode.
func (runner *DockerRunner) Run(executionContext context.Context, command execshell.ShellCommand) (execshell.ExecutionResult, error) {
	image := strings.TrimSpace(command.Details.Image)
	if len(image) == 0 {
		return execshell.ExecutionResult{}, ErrImageMissing
	}

	if runner.options.PullImages {
		if pullError := runner.pullImage(executionContext, image); pullError != nil {
			return execshell.ExecutionResult{}, pullError
		}
	}

	containerName := slug.Make(containerNamePrefixConstant + "-" + uuid.NewString())
	createResponse, createError := runner.apiClient.ContainerCreate(executionContext, &dockercontainer.Config{
		Image:      image,
		Env:        buildEnvironment(command.Details.EnvironmentVariables),
		Cmd:        append([]string{string(command.Name)}, command.Details.Arguments...),
		WorkingDir: runner.containerWorkingDirectory(command.Details.WorkingDirectory),
	}, &dockercontainer.HostConfig{
		Mounts: []mount.Mount{
			{
				Type:   mount.TypeBind,
				Source: runner.options.Workspace,
				Target: DefaultContainerWorkspace,
			},
		},
	}, nil, nil, containerName)
	if createError != nil {
		return execshell.ExecutionResult{}, fmt.Errorf("unable to create container %s: %w", containerName, createError)
	}
	defer runner.removeContainer(createResponse.ID)

	if startError := runner.apiClient.ContainerStart(executionContext, createResponse.ID, types.ContainerStartOptions{}); startError != nil {
		return execshell.ExecutionResult{}, fmt.Errorf("unable to start container %s: %w", containerName, startError)
	}

	logs, logsError := runner.apiClient.ContainerLogs(executionContext, createResponse.ID, types.ContainerLogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Follow:     true,
	})
	if logsError != nil {
		return execshell.ExecutionResult{}, fmt.Errorf("unable to attach logs for %s: %w", containerName, logsError)
	}
	defer logs.Close()

	var standardOutput strings.Builder
	var standardError strings.Builder
	stdoutTarget := teeTarget(&standardOutput, command.Details.OutputWriter)
	stderrTarget := teeTarget(&standardError, command.Details.OutputWriter)
	if _, copyError := stdcopy.StdCopy(stdoutTarget, stderrTarget, logs); copyError != nil {
		if contextError := executionContext.Err(); contextError != nil {
			return execshell.ExecutionResult{}, contextError
		}
		return execshell.ExecutionResult{}, fmt.Errorf("unable to read container logs from %s: %w", containerName, copyError)
	}

	result := execshell.ExecutionResult{StandardOutput: standardOutput.String(), StandardError: standardError.String()}
	statusChannel, errorChannel := runner.apiClient.ContainerWait(executionContext, createResponse.ID, dockercontainer.WaitConditionNotRunning)
	select {
	case waitError := <-errorChannel:
		if contextError := executionContext.Err(); contextError != nil {
			return result, contextError
		}
		return result, fmt.Errorf("error waiting for container %s to stop: %w", containerName, waitError)
	case status := <-statusChannel:
		if status.Error != nil && len(status.Error.Message) > 0 {
			return result, fmt.Errorf("container %s wait failed: %s", containerName, status.Error.Message)
		}
		result.ExitCode = int(status.StatusCode)
		return result, nil
	case <-executionContext.Done():
		return result, executionContext.Err()
	}
}

func (runner *DockerRunner) pullImage(executionContext context.Context, image string) error {
	runner.logger.Info(imagePullMessageConstant, zap.String(imageFieldNameConstant, image))
	reader, pullError := runner.apiClient.ImagePull(executionContext, image, types.ImagePullOptions{})
	if pullError != nil {
		return fmt.Errorf("unable to pull image %s: %w", image, pullError)
	}
	defer reader.Close()
	if _, drainError := io.Copy(io.Discard, reader); drainError != nil {
		return fmt.Errorf("unable to read image pull progress for %s: %w", image, drainError)
	}
	return nil
}

func (runner *DockerRunner) removeContainer(containerID string) {
	removalContext, cancel := context.WithTimeout(context.Background(), removalTimeoutConstant)
	defer cancel()
	if removeError := runner.apiClient.ContainerRemove(removalContext, containerID, types.ContainerRemoveOptions{Force: true}); removeError != nil {
		runner.logger.Warn(containerRemovalFailedMessageConstant, zap.String(containerFieldNameConstant, containerID), zap.Error(removeError))
	}
}

// containerWorkingDirectory maps a host working directory inside the workspace onto the mount.
func (runner *DockerRunner) containerWorkingDirectory(hostWorkingDirectory string) string {
	trimmed := strings.TrimSpace(hostWorkingDirectory)
	if len(trimmed) == 0 {
		return DefaultContainerWorkspace
	}
	if !filepath.IsAbs(trimmed) {
		return filepath.ToSlash(filepath.Join(DefaultContainerWorkspace, trimmed))
	}
	relativePath, relativeError := filepath.Rel(runner.options.Workspace, trimmed)
	if relativeError != nil || strings.HasPrefix(relativePath, "..") {
		return DefaultContainerWorkspace
	}
	return filepath.ToSlash(filepath.Join(DefaultContainerWorkspace, relativePath))
}

func buildEnvironment(variables map[string]string) []string {
	keys := make([]string, 0, len(variables))
	for key := range variables {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	environment := make([]string, 0, len(keys))
	for _, key := range keys {
		environment = append(environment, fmt.Sprintf("%s=%s", key, variables[key]))
	}
	return environment
}

func teeTarget(capture io.Writer, live io.Writer) io.Writer {
	if live == nil {
		return capture
	}
	return io.MultiWriter(capture, live)
}
