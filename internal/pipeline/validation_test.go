package pipeline_test

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tyemirov/pipegate/internal/pipeline"
)

func runCommandTask(name string) pipeline.TaskSpec {
	return pipeline.TaskSpec{Name: name, Kind: pipeline.TaskKindRunCommand, Command: []string{"cargo", name}}
}

func publishTask() pipeline.TaskSpec {
	return pipeline.TaskSpec{Name: "cargo publish", Kind: pipeline.TaskKindPublish, Command: []string{"cargo", "publish"}, DryRunArguments: []string{"--dry-run"}}
}

func TestValidateNormalizesReleaseNeeds(testInstance *testing.T) {
	definition := pipeline.Definition{
		Name: "crate",
		Jobs: []pipeline.JobTemplate{
			{Name: " check ", Tasks: []pipeline.TaskSpec{runCommandTask("check")}},
			{Name: "test", Needs: []string{"check", " check", ""}, Tasks: []pipeline.TaskSpec{runCommandTask("test")}},
			{Name: "publish", Release: true, Needs: []string{"test"}, Tasks: []pipeline.TaskSpec{publishTask()}},
		},
	}

	validated, stages, validationError := pipeline.Validate(definition)
	require.NoError(testInstance, validationError)

	releaseJob, exists := validated.ReleaseJob()
	require.True(testInstance, exists)
	require.Equal(testInstance, []string{"check", "test"}, releaseJob.Needs)

	testJob, exists := validated.Job("test")
	require.True(testInstance, exists)
	require.Equal(testInstance, []string{"check"}, testJob.Needs)

	require.Len(testInstance, stages, 3)
	require.Equal(testInstance, []string{"publish"}, stages[2].Jobs)
}

func TestValidateReportsProblems(testInstance *testing.T) {
	testCases := []struct {
		name            string
		definition      pipeline.Definition
		expectedProblem string
	}{
		{
			name:            "missing_name",
			definition:      pipeline.Definition{Jobs: []pipeline.JobTemplate{{Name: "check", Tasks: []pipeline.TaskSpec{runCommandTask("check")}}}},
			expectedProblem: "Definition.Name",
		},
		{
			name:            "no_jobs",
			definition:      pipeline.Definition{Name: "crate"},
			expectedProblem: "Definition.Jobs",
		},
		{
			name: "duplicate_job",
			definition: pipeline.Definition{Name: "crate", Jobs: []pipeline.JobTemplate{
				{Name: "check", Tasks: []pipeline.TaskSpec{runCommandTask("check")}},
				{Name: "check", Tasks: []pipeline.TaskSpec{runCommandTask("check")}},
			}},
			expectedProblem: `job "check" defined multiple times`,
		},
		{
			name: "unknown_need",
			definition: pipeline.Definition{Name: "crate", Jobs: []pipeline.JobTemplate{
				{Name: "test", Needs: []string{"build"}, Tasks: []pipeline.TaskSpec{runCommandTask("test")}},
			}},
			expectedProblem: `job "test" needs unknown job "build"`,
		},
		{
			name: "self_need",
			definition: pipeline.Definition{Name: "crate", Jobs: []pipeline.JobTemplate{
				{Name: "test", Needs: []string{"test"}, Tasks: []pipeline.TaskSpec{runCommandTask("test")}},
			}},
			expectedProblem: `job "test" cannot depend on itself`,
		},
		{
			name: "cycle",
			definition: pipeline.Definition{Name: "crate", Jobs: []pipeline.JobTemplate{
				{Name: "a", Needs: []string{"b"}, Tasks: []pipeline.TaskSpec{runCommandTask("a")}},
				{Name: "b", Needs: []string{"a"}, Tasks: []pipeline.TaskSpec{runCommandTask("b")}},
			}},
			expectedProblem: pipeline.ErrDependencyCycle.Error(),
		},
		{
			name: "two_release_jobs",
			definition: pipeline.Definition{Name: "crate", Jobs: []pipeline.JobTemplate{
				{Name: "publish", Release: true, Tasks: []pipeline.TaskSpec{publishTask()}},
				{Name: "publish-again", Release: true, Tasks: []pipeline.TaskSpec{publishTask()}},
			}},
			expectedProblem: "only one release job may be declared",
		},
		{
			name: "release_without_publish",
			definition: pipeline.Definition{Name: "crate", Jobs: []pipeline.JobTemplate{
				{Name: "publish", Release: true, Tasks: []pipeline.TaskSpec{runCommandTask("package")}},
			}},
			expectedProblem: `release job "publish" must contain exactly one publish task, found 0`,
		},
		{
			name: "publish_without_dry_run_arguments",
			definition: pipeline.Definition{Name: "crate", Jobs: []pipeline.JobTemplate{
				{Name: "publish", Release: true, Tasks: []pipeline.TaskSpec{{Name: "cargo publish", Kind: pipeline.TaskKindPublish, Command: []string{"cargo", "publish"}}}},
			}},
			expectedProblem: `job "publish" publish task "cargo publish" requires dry_run_args`,
		},
		{
			name: "publish_outside_release",
			definition: pipeline.Definition{Name: "crate", Jobs: []pipeline.JobTemplate{
				{Name: "test", Tasks: []pipeline.TaskSpec{publishTask()}},
			}},
			expectedProblem: `job "test" contains a publish task but is not the release job`,
		},
		{
			name: "depends_on_release",
			definition: pipeline.Definition{Name: "crate", Jobs: []pipeline.JobTemplate{
				{Name: "test", Needs: []string{"publish"}, Tasks: []pipeline.TaskSpec{runCommandTask("test")}},
				{Name: "publish", Release: true, Tasks: []pipeline.TaskSpec{publishTask()}},
			}},
			expectedProblem: `job "test" cannot depend on release job "publish"`,
		},
		{
			name: "unsupported_task_kind",
			definition: pipeline.Definition{Name: "crate", Jobs: []pipeline.JobTemplate{
				{Name: "test", Tasks: []pipeline.TaskSpec{{Name: "deploy", Kind: "deploy"}}},
			}},
			expectedProblem: "Kind",
		},
		{
			name: "run_command_without_command",
			definition: pipeline.Definition{Name: "crate", Jobs: []pipeline.JobTemplate{
				{Name: "test", Tasks: []pipeline.TaskSpec{{Name: "cargo test", Kind: pipeline.TaskKindRunCommand}}},
			}},
			expectedProblem: `job "test" task "cargo test" requires a command`,
		},
		{
			name: "upload_without_path",
			definition: pipeline.Definition{Name: "crate", Jobs: []pipeline.JobTemplate{
				{Name: "coverage", Tasks: []pipeline.TaskSpec{{Name: "upload", Kind: pipeline.TaskKindUploadArtifact}}},
			}},
			expectedProblem: `job "coverage" task "upload" requires an artifact path`,
		},
		{
			name: "empty_matrix_axis",
			definition: pipeline.Definition{Name: "crate", Jobs: []pipeline.JobTemplate{
				{
					Name:   "test",
					Matrix: pipeline.Matrix{Axes: []pipeline.MatrixAxis{{Name: "toolchain"}}},
					Tasks:  []pipeline.TaskSpec{runCommandTask("test")},
				},
			}},
			expectedProblem: `job "test" matrix axis "toolchain" has no values`,
		},
		{
			name: "repeated_matrix_value",
			definition: pipeline.Definition{Name: "crate", Jobs: []pipeline.JobTemplate{
				{
					Name:   "test",
					Matrix: pipeline.Matrix{Axes: []pipeline.MatrixAxis{{Name: "toolchain", Values: []string{"stable", "stable"}}}},
					Tasks:  []pipeline.TaskSpec{runCommandTask("test")},
				},
			}},
			expectedProblem: `job "test" matrix axis "toolchain" repeats value "stable"`,
		},
	}

	for _, testCase := range testCases {
		testInstance.Run(testCase.name, func(subTest *testing.T) {
			_, _, validationError := pipeline.Validate(testCase.definition)
			require.Error(subTest, validationError)

			var definitionError pipeline.ValidationError
			require.True(subTest, errors.As(validationError, &definitionError))
			require.True(subTest, strings.Contains(definitionError.Error(), testCase.expectedProblem), definitionError.Error())
		})
	}
}
