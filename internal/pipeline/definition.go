// Package pipeline models pipeline definitions, validates their dependency graph
// and expands job templates across matrix axes.
package pipeline

import (
	"strings"
)

// TaskKind identifies the behavior of a task.
type TaskKind string

// Supported task kinds.
const (
	TaskKindToolchainSetup TaskKind = TaskKind("toolchain-setup")
	TaskKindRunCommand     TaskKind = TaskKind("run-command")
	TaskKindUploadArtifact TaskKind = TaskKind("upload-artifact")
	TaskKindPublish        TaskKind = TaskKind("publish")
)

// ToolchainAxisName is the matrix axis exposed to templates as .Toolchain.
const ToolchainAxisName = "toolchain"

// Definition is a complete pipeline: an ordered set of job templates.
type Definition struct {
	Name string        `yaml:"name" json:"name" validate:"required"`
	Jobs []JobTemplate `yaml:"jobs" json:"jobs" validate:"required,min=1,dive"`
}

// JobTemplate declares a job that expands into one instance per matrix point.
type JobTemplate struct {
	Name    string     `yaml:"name" json:"name" validate:"required"`
	Matrix  Matrix     `yaml:"matrix,omitempty" json:"-"`
	Needs   []string   `yaml:"needs,omitempty" json:"needs,omitempty"`
	Release bool       `yaml:"release,omitempty" json:"release,omitempty"`
	Tasks   []TaskSpec `yaml:"tasks" json:"tasks" validate:"required,min=1,dive"`
}

// TaskSpec declares one opaque external task.
type TaskSpec struct {
	Name              string            `yaml:"name" json:"name" validate:"required"`
	Kind              TaskKind          `yaml:"kind" json:"kind" validate:"required,oneof=toolchain-setup run-command upload-artifact publish"`
	Command           []string          `yaml:"command,omitempty" json:"command,omitempty"`
	Image             string            `yaml:"image,omitempty" json:"image,omitempty"`
	WorkingDirectory  string            `yaml:"working_directory,omitempty" json:"working_directory,omitempty"`
	Environment       map[string]string `yaml:"env,omitempty" json:"env,omitempty"`
	Path              string            `yaml:"path,omitempty" json:"path,omitempty"`
	DryRunArguments   []string          `yaml:"dry_run_args,omitempty" json:"dry_run_args,omitempty"`
	ContinueOnFailure bool              `yaml:"continue_on_failure,omitempty" json:"continue_on_failure,omitempty"`
}

// Job returns the template with the provided name.
func (definition Definition) Job(name string) (JobTemplate, bool) {
	trimmedName := strings.TrimSpace(name)
	for _, job := range definition.Jobs {
		if job.Name == trimmedName {
			return job, true
		}
	}
	return JobTemplate{}, false
}

// ReleaseJob returns the designated release gate job, if any.
func (definition Definition) ReleaseJob() (JobTemplate, bool) {
	for _, job := range definition.Jobs {
		if job.Release {
			return job, true
		}
	}
	return JobTemplate{}, false
}

// VerificationJobNames lists every non-release job in declaration order.
func (definition Definition) VerificationJobNames() []string {
	names := make([]string, 0, len(definition.Jobs))
	for _, job := range definition.Jobs {
		if job.Release {
			continue
		}
		names = append(names, job.Name)
	}
	return names
}

// PublishTask returns the publish task of the template, if any.
func (template JobTemplate) PublishTask() (TaskSpec, bool) {
	for _, task := range template.Tasks {
		if task.Kind == TaskKindPublish {
			return task, true
		}
	}
	return TaskSpec{}, false
}
