// Package report renders pipeline run results for people and machines.
package report

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/tyemirov/pipegate/internal/scheduler"
)

const (
	headerTemplate            = "Pipeline %s  run %s  trigger %s"
	triggerRefTemplate        = "%s (%s)"
	instanceCountTemplate     = "%d instance(s)"
	failureLineTemplate       = "%s: task %q %s"
	exitCodeTemplate          = " (exit %d)"
	releaseModeTemplate       = "Release: %s"
	releaseErrorTemplate      = "Release: configuration error: %s"
	releaseNotReachedConstant = "Release: not reached"
	resultTemplate            = "Result: %s"
	outputIndentConstant      = "      "
	nameColumnWidth           = 16
	statusColumnWidth         = 11
	maxOutputLines            = 12
)

// ConsoleRenderer writes a styled summary of a run.
type ConsoleRenderer struct {
	writer        io.Writer
	renderer      *lipgloss.Renderer
	header        lipgloss.Style
	name          lipgloss.Style
	statusStyles  map[scheduler.JobStatus]lipgloss.Style
	configuration lipgloss.Style
	detail        lipgloss.Style
}

// NewConsoleRenderer builds a renderer whose colour profile follows the writer.
func NewConsoleRenderer(writer io.Writer) *ConsoleRenderer {
	renderer := lipgloss.NewRenderer(writer)
	return &ConsoleRenderer{
		writer:   writer,
		renderer: renderer,
		header:   renderer.NewStyle().Bold(true),
		name:     renderer.NewStyle().Width(nameColumnWidth),
		statusStyles: map[scheduler.JobStatus]lipgloss.Style{
			scheduler.JobStatusSucceeded: renderer.NewStyle().Width(statusColumnWidth).Foreground(lipgloss.Color("#4CAF50")).Bold(true),
			scheduler.JobStatusFailed:    renderer.NewStyle().Width(statusColumnWidth).Foreground(lipgloss.Color("#FF6B6B")).Bold(true),
			scheduler.JobStatusCancelled: renderer.NewStyle().Width(statusColumnWidth).Foreground(lipgloss.Color("#F7B801")).Bold(true),
			scheduler.JobStatusSkipped:   renderer.NewStyle().Width(statusColumnWidth).Foreground(lipgloss.Color("#999999")),
		},
		configuration: renderer.NewStyle().Foreground(lipgloss.Color("#F7B801")).Bold(true),
		detail:        renderer.NewStyle().Foreground(lipgloss.Color("#A0AEC0")),
	}
}

// Render writes the run summary.
func (console *ConsoleRenderer) Render(result scheduler.RunResult) error {
	var builder strings.Builder

	triggerDescription := string(result.Trigger.Kind)
	if len(result.Trigger.RefName) > 0 {
		triggerDescription = fmt.Sprintf(triggerRefTemplate, result.Trigger.Kind, result.Trigger.RefName)
	}
	builder.WriteString(console.header.Render(fmt.Sprintf(headerTemplate, result.Pipeline, result.RunID, triggerDescription)))
	builder.WriteString("\n")

	for _, job := range result.Jobs {
		builder.WriteString("  ")
		builder.WriteString(console.name.Render(job.Name))
		builder.WriteString(console.statusStyle(job.Status).Render(string(job.Status)))
		builder.WriteString(" ")
		builder.WriteString(console.describeJob(job))
		builder.WriteString("\n")
		console.writeFailureOutput(&builder, job)
	}

	builder.WriteString(console.describeRelease(result))
	builder.WriteString("\n")
	resultStyle := console.statusStyle(scheduler.JobStatusSucceeded).UnsetWidth()
	if !result.Succeeded() {
		resultStyle = console.statusStyle(scheduler.JobStatusFailed).UnsetWidth()
	}
	builder.WriteString(resultStyle.Render(fmt.Sprintf(resultTemplate, strings.ToUpper(string(result.Status)))))
	builder.WriteString("\n")

	_, writeError := io.WriteString(console.writer, builder.String())
	return writeError
}

func (console *ConsoleRenderer) statusStyle(status scheduler.JobStatus) lipgloss.Style {
	if style, exists := console.statusStyles[status]; exists {
		return style
	}
	return console.renderer.NewStyle().Width(statusColumnWidth)
}

func (console *ConsoleRenderer) describeJob(job scheduler.JobReport) string {
	switch job.Status {
	case scheduler.JobStatusSkipped:
		return console.detail.Render(job.Reason)
	case scheduler.JobStatusSucceeded:
		return console.detail.Render(fmt.Sprintf(instanceCountTemplate, len(job.Instances)))
	}

	failure, exists := job.FirstFailure()
	if !exists {
		if job.FailureKind == scheduler.FailureKindConfigurationError {
			return console.configuration.Render(job.Reason)
		}
		return console.detail.Render(job.Reason)
	}
	outcome := string(failure.FailureOutcome)
	if exitCode := failedTaskExitCode(failure); exitCode != 0 {
		outcome += fmt.Sprintf(exitCodeTemplate, exitCode)
	}
	description := fmt.Sprintf(failureLineTemplate, failure.DisplayName, failure.FailedTask, outcome)
	if job.FailureKind == scheduler.FailureKindConfigurationError {
		return console.configuration.Render(description)
	}
	return console.detail.Render(description)
}

func (console *ConsoleRenderer) writeFailureOutput(builder *strings.Builder, job scheduler.JobReport) {
	if job.Status != scheduler.JobStatusFailed {
		return
	}
	failure, exists := job.FirstFailure()
	if !exists {
		return
	}
	for _, line := range tailLines(failure.FailureOutput, maxOutputLines) {
		builder.WriteString(outputIndentConstant)
		builder.WriteString(console.detail.Render(line))
		builder.WriteString("\n")
	}
}

func (console *ConsoleRenderer) describeRelease(result scheduler.RunResult) string {
	if result.Release == nil {
		return console.detail.Render(releaseNotReachedConstant)
	}
	if len(result.Release.Error) > 0 {
		return console.configuration.Render(fmt.Sprintf(releaseErrorTemplate, result.Release.Error))
	}
	return fmt.Sprintf(releaseModeTemplate, result.Release.ModeName)
}

func failedTaskExitCode(instance scheduler.InstanceReport) int {
	for _, task := range instance.Tasks {
		if task.Name == instance.FailedTask {
			return task.ExitCode
		}
	}
	return 0
}

func tailLines(output string, limit int) []string {
	lines := make([]string, 0)
	for _, line := range strings.Split(strings.TrimRight(output, "\n"), "\n") {
		if len(strings.TrimSpace(line)) > 0 {
			lines = append(lines, strings.TrimRight(line, "\r"))
		}
	}
	if len(lines) > limit {
		lines = lines[len(lines)-limit:]
	}
	return lines
}
