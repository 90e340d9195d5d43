package docs_test

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/tyemirov/pipegate/cmd/cli"
	"github.com/tyemirov/pipegate/internal/pipeline"
)

const (
	documentationFileNameConstant    = "README.md"
	yamlFenceStartConstant           = "```yaml"
	yamlFenceEndConstant             = "```"
	pipelineHeaderMarkerConstant     = "# pipeline.yaml"
	configHeaderMarkerConstant       = "# config.yaml"
	parentDirectoryReferenceConstant = ".."
	missingHeaderMessageTemplate     = "README example missing header marker %s"
	missingStartFenceMessageConstant = "README example missing yaml fence start"
	missingEndFenceMessageConstant   = "README example missing yaml fence end"
)

func readDocumentation(testInstance *testing.T) string {
	testInstance.Helper()

	workingDirectory, workingDirectoryError := os.Getwd()
	require.NoError(testInstance, workingDirectoryError)

	documentationPath := filepath.Join(workingDirectory, parentDirectoryReferenceConstant, documentationFileNameConstant)
	contentBytes, readError := os.ReadFile(documentationPath)
	require.NoError(testInstance, readError)
	return string(contentBytes)
}

func extractSnippet(testInstance *testing.T, contentText string, headerMarker string) string {
	testInstance.Helper()

	headerIndex := strings.Index(contentText, headerMarker)
	require.NotEqual(testInstance, -1, headerIndex, missingHeaderMessageTemplate, headerMarker)

	fenceStartIndex := strings.LastIndex(contentText[:headerIndex], yamlFenceStartConstant)
	require.NotEqual(testInstance, -1, fenceStartIndex, missingStartFenceMessageConstant)

	remainingText := contentText[headerIndex:]
	fenceEndRelativeIndex := strings.Index(remainingText, yamlFenceEndConstant)
	require.NotEqual(testInstance, -1, fenceEndRelativeIndex, missingEndFenceMessageConstant)
	fenceEndIndex := headerIndex + fenceEndRelativeIndex

	return strings.TrimSpace(contentText[fenceStartIndex+len(yamlFenceStartConstant) : fenceEndIndex])
}

func TestReadmePipelineDefinitionParses(testInstance *testing.T) {
	snippetContent := extractSnippet(testInstance, readDocumentation(testInstance), pipelineHeaderMarkerConstant)

	plan, parseError := pipeline.Parse([]byte(snippetContent))
	require.NoError(testInstance, parseError)

	releaseJob, releaseFound := plan.Definition.ReleaseJob()
	require.True(testInstance, releaseFound)
	require.ElementsMatch(testInstance, []string{"test", "clippy"}, releaseJob.Needs)
	require.Len(testInstance, plan.Stages, 2)
}

func TestReadmeConfigurationMatchesEmbeddedDefaults(testInstance *testing.T) {
	snippetContent := extractSnippet(testInstance, readDocumentation(testInstance), configHeaderMarkerConstant)

	var documented map[string]any
	require.NoError(testInstance, yaml.Unmarshal([]byte(snippetContent), &documented))

	embeddedContent, _ := cli.EmbeddedDefaultConfiguration()
	var embedded map[string]any
	require.NoError(testInstance, yaml.Unmarshal(embeddedContent, &embedded))

	require.Equal(testInstance, sortedKeys(embedded), sortedKeys(documented))
	for sectionName, sectionValue := range documented {
		documentedSection, documentedIsMap := sectionValue.(map[string]any)
		embeddedSection, embeddedIsMap := embedded[sectionName].(map[string]any)
		require.True(testInstance, documentedIsMap, sectionName)
		require.True(testInstance, embeddedIsMap, sectionName)
		for key, value := range documentedSection {
			require.Contains(testInstance, embeddedSection, key, "%s.%s", sectionName, key)
			require.Equal(testInstance, embeddedSection[key], value, "%s.%s", sectionName, key)
		}
	}
}

func sortedKeys(values map[string]any) []string {
	keys := make([]string, 0, len(values))
	for key := range values {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
