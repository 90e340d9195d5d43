package pipeline

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"
)

const (
	templateMissingKeyOptionConstant = "missingkey=error"
	templateRenderErrorTemplate      = "render %s of task %q: %w"
)

// TemplateData is exposed to task templates.
type TemplateData struct {
	Matrix    map[string]string
	Toolchain string
	Job       string
	Instance  string
}

// NewTemplateData builds the template context for an instance.
func NewTemplateData(instance JobInstance) TemplateData {
	toolchain, _ := instance.Point.Value(ToolchainAxisName)
	return TemplateData{
		Matrix:    instance.Point.Map(),
		Toolchain: toolchain,
		Job:       instance.JobName,
		Instance:  instance.ID,
	}
}

// RenderTask resolves every templated field of the task for the instance.
func RenderTask(task TaskSpec, instance JobInstance) (TaskSpec, error) {
	data := NewTemplateData(instance)
	rendered := task

	var renderError error
	if rendered.Command, renderError = renderTemplateValues(task.Command, data); renderError != nil {
		return TaskSpec{}, fmt.Errorf(templateRenderErrorTemplate, "command", task.Name, renderError)
	}
	if rendered.DryRunArguments, renderError = renderTemplateValues(task.DryRunArguments, data); renderError != nil {
		return TaskSpec{}, fmt.Errorf(templateRenderErrorTemplate, "dry-run arguments", task.Name, renderError)
	}
	if rendered.Image, renderError = renderTemplateValue(task.Image, data); renderError != nil {
		return TaskSpec{}, fmt.Errorf(templateRenderErrorTemplate, "image", task.Name, renderError)
	}
	if rendered.Path, renderError = renderTemplateValue(task.Path, data); renderError != nil {
		return TaskSpec{}, fmt.Errorf(templateRenderErrorTemplate, "path", task.Name, renderError)
	}
	if rendered.WorkingDirectory, renderError = renderTemplateValue(task.WorkingDirectory, data); renderError != nil {
		return TaskSpec{}, fmt.Errorf(templateRenderErrorTemplate, "working directory", task.Name, renderError)
	}
	if len(task.Environment) > 0 {
		rendered.Environment = make(map[string]string, len(task.Environment))
		for key, value := range task.Environment {
			renderedValue, valueError := renderTemplateValue(value, data)
			if valueError != nil {
				return TaskSpec{}, fmt.Errorf(templateRenderErrorTemplate, "environment "+key, task.Name, valueError)
			}
			rendered.Environment[key] = renderedValue
		}
	}
	return rendered, nil
}

func renderTemplateValues(rawTemplates []string, data TemplateData) ([]string, error) {
	if len(rawTemplates) == 0 {
		return nil, nil
	}
	rendered := make([]string, 0, len(rawTemplates))
	for _, rawTemplate := range rawTemplates {
		renderedValue, renderError := renderTemplateValue(rawTemplate, data)
		if renderError != nil {
			return nil, renderError
		}
		rendered = append(rendered, renderedValue)
	}
	return rendered, nil
}

func renderTemplateValue(rawTemplate string, data TemplateData) (string, error) {
	if !strings.Contains(rawTemplate, "{{") {
		return rawTemplate, nil
	}

	tmpl, parseError := template.New("task").Option(templateMissingKeyOptionConstant).Parse(rawTemplate)
	if parseError != nil {
		return "", parseError
	}

	var buffer bytes.Buffer
	if executeError := tmpl.Execute(&buffer, data); executeError != nil {
		return "", executeError
	}
	return buffer.String(), nil
}
