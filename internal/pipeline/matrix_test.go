package pipeline_test

import (
	"testing"

	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/tyemirov/pipegate/internal/pipeline"
)

func TestJobTemplateExpandProducesCartesianProduct(testInstance *testing.T) {
	template := pipeline.JobTemplate{
		Name: "test",
		Matrix: pipeline.Matrix{Axes: []pipeline.MatrixAxis{
			{Name: "toolchain", Values: []string{"stable", "1.56.0"}},
			{Name: "os", Values: []string{"linux", "macos", "windows"}},
		}},
		Tasks: []pipeline.TaskSpec{{Name: "cargo test", Kind: pipeline.TaskKindRunCommand, Command: []string{"cargo", "test"}}},
	}

	instances := template.Expand()
	require.Len(testInstance, instances, 6)

	expectedPoints := []string{
		"toolchain=stable, os=linux",
		"toolchain=stable, os=macos",
		"toolchain=stable, os=windows",
		"toolchain=1.56.0, os=linux",
		"toolchain=1.56.0, os=macos",
		"toolchain=1.56.0, os=windows",
	}
	identifiers := make(map[string]struct{}, len(instances))
	for instanceIndex, instance := range instances {
		require.Equal(testInstance, expectedPoints[instanceIndex], instance.Point.String())
		require.Equal(testInstance, instanceIndex, instance.Index)
		require.Equal(testInstance, "test", instance.JobName)
		require.Len(testInstance, instance.Tasks, 1)
		identifiers[instance.ID] = struct{}{}
	}
	require.Len(testInstance, identifiers, len(instances))
}

func TestJobTemplateExpandIsDeterministic(testInstance *testing.T) {
	template := pipeline.JobTemplate{
		Name: "clippy",
		Matrix: pipeline.Matrix{Axes: []pipeline.MatrixAxis{
			{Name: "toolchain", Values: []string{"stable", "1.56.0"}},
			{Name: "features", Values: []string{"default", "all"}},
		}},
	}

	require.Equal(testInstance, template.Expand(), template.Expand())
}

func TestJobTemplateExpandEmptyMatrix(testInstance *testing.T) {
	template := pipeline.JobTemplate{Name: "publish", Release: true}

	instances := template.Expand()
	require.Len(testInstance, instances, 1)
	require.Empty(testInstance, instances[0].Point)
	require.Equal(testInstance, "publish", instances[0].ID)
	require.Equal(testInstance, "publish", instances[0].DisplayName())
	require.True(testInstance, instances[0].Release)
}

func TestJobInstanceDisplayNameAndIdentifier(testInstance *testing.T) {
	template := pipeline.JobTemplate{
		Name:   "clippy",
		Matrix: pipeline.Matrix{Axes: []pipeline.MatrixAxis{{Name: "toolchain", Values: []string{"stable"}}}},
	}

	instances := template.Expand()
	require.Len(testInstance, instances, 1)
	require.Equal(testInstance, "clippy-stable", instances[0].ID)
	require.Equal(testInstance, "clippy (toolchain=stable)", instances[0].DisplayName())

	toolchain, exists := instances[0].Point.Value("toolchain")
	require.True(testInstance, exists)
	require.Equal(testInstance, "stable", toolchain)
	require.Equal(testInstance, map[string]string{"toolchain": "stable"}, instances[0].Point.Map())
}

func TestMatrixUnmarshalPreservesAxisOrder(testInstance *testing.T) {
	content := []byte("zeta: [\"1\", \"2\"]\nalpha: single\nmiddle:\n  - a\n  - b\n")

	var matrix pipeline.Matrix
	require.NoError(testInstance, yaml.Unmarshal(content, &matrix))
	require.Equal(testInstance, []pipeline.MatrixAxis{
		{Name: "zeta", Values: []string{"1", "2"}},
		{Name: "alpha", Values: []string{"single"}},
		{Name: "middle", Values: []string{"a", "b"}},
	}, matrix.Axes)

	encoded, marshalError := yaml.Marshal(matrix)
	require.NoError(testInstance, marshalError)

	var roundTripped pipeline.Matrix
	require.NoError(testInstance, yaml.Unmarshal(encoded, &roundTripped))
	require.Equal(testInstance, matrix, roundTripped)
}

func TestMatrixUnmarshalRejectsInvalidShapes(testInstance *testing.T) {
	testCases := []struct {
		name    string
		content string
	}{
		{name: "sequence", content: "- stable\n- beta\n"},
		{name: "nested_mapping", content: "toolchain:\n  stable: true\n"},
		{name: "nested_sequence", content: "toolchain:\n  - [stable]\n"},
	}

	for _, testCase := range testCases {
		testInstance.Run(testCase.name, func(subTest *testing.T) {
			var matrix pipeline.Matrix
			require.Error(subTest, yaml.Unmarshal([]byte(testCase.content), &matrix))
		})
	}
}
