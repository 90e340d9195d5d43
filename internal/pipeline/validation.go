package pipeline

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

const (
	validationErrorPrefixConstant   = "invalid pipeline definition"
	validationProblemSeparator      = "; "
	fieldValidationTemplateConstant = "%s failed %q validation"
)

// ValidationError lists every problem found in a definition.
type ValidationError struct {
	Problems []string
}

// Error joins the problems into a single message.
func (validationError ValidationError) Error() string {
	return validationErrorPrefixConstant + ": " + strings.Join(validationError.Problems, validationProblemSeparator)
}

var structValidator = validator.New(validator.WithRequiredStructEnabled())

// Validate normalizes the definition and checks its structural invariants. The
// release job's needs become every verification job. The returned stages are
// the topological order of the jobs.
func Validate(definition Definition) (Definition, []Stage, error) {
	normalized := normalizeDefinition(definition)

	problems := make([]string, 0)
	if structError := structValidator.Struct(normalized); structError != nil {
		var fieldErrors validator.ValidationErrors
		if errors.As(structError, &fieldErrors) {
			for _, fieldError := range fieldErrors {
				problems = append(problems, fmt.Sprintf(fieldValidationTemplateConstant, fieldError.Namespace(), fieldError.Tag()))
			}
		} else {
			problems = append(problems, structError.Error())
		}
	}

	problems = append(problems, validateJobs(normalized)...)
	if len(problems) > 0 {
		return Definition{}, nil, ValidationError{Problems: problems}
	}

	normalized = assignReleaseNeeds(normalized)
	stages, planError := PlanStages(normalized.Jobs)
	if planError != nil {
		return Definition{}, nil, ValidationError{Problems: []string{planError.Error()}}
	}
	return normalized, stages, nil
}

func normalizeDefinition(definition Definition) Definition {
	normalized := Definition{Name: strings.TrimSpace(definition.Name), Jobs: make([]JobTemplate, 0, len(definition.Jobs))}
	for _, job := range definition.Jobs {
		normalizedJob := job
		normalizedJob.Name = strings.TrimSpace(job.Name)
		normalizedJob.Needs = make([]string, 0, len(job.Needs))
		seenNeeds := make(map[string]struct{}, len(job.Needs))
		for _, dependencyName := range job.Needs {
			trimmedDependency := strings.TrimSpace(dependencyName)
			if len(trimmedDependency) == 0 {
				continue
			}
			if _, duplicate := seenNeeds[trimmedDependency]; duplicate {
				continue
			}
			seenNeeds[trimmedDependency] = struct{}{}
			normalizedJob.Needs = append(normalizedJob.Needs, trimmedDependency)
		}
		normalizedJob.Tasks = make([]TaskSpec, 0, len(job.Tasks))
		for _, task := range job.Tasks {
			task.Name = strings.TrimSpace(task.Name)
			task.Kind = TaskKind(strings.TrimSpace(string(task.Kind)))
			normalizedJob.Tasks = append(normalizedJob.Tasks, task)
		}
		normalized.Jobs = append(normalized.Jobs, normalizedJob)
	}
	return normalized
}

func validateJobs(definition Definition) []string {
	problems := make([]string, 0)
	declared := make(map[string]struct{}, len(definition.Jobs))
	releaseJobs := make([]string, 0, 1)

	for _, job := range definition.Jobs {
		if len(job.Name) == 0 {
			continue
		}
		if _, exists := declared[job.Name]; exists {
			problems = append(problems, fmt.Sprintf("job %q defined multiple times", job.Name))
		}
		declared[job.Name] = struct{}{}
		if job.Release {
			releaseJobs = append(releaseJobs, job.Name)
		}
	}

	if len(releaseJobs) > 1 {
		problems = append(problems, fmt.Sprintf("only one release job may be declared, found %s", strings.Join(releaseJobs, ", ")))
	}

	for _, job := range definition.Jobs {
		for _, dependencyName := range job.Needs {
			if dependencyName == job.Name {
				problems = append(problems, fmt.Sprintf("job %q cannot depend on itself", job.Name))
				continue
			}
			if _, exists := declared[dependencyName]; !exists {
				problems = append(problems, fmt.Sprintf("job %q needs unknown job %q", job.Name, dependencyName))
				continue
			}
			for _, releaseJobName := range releaseJobs {
				if dependencyName == releaseJobName {
					problems = append(problems, fmt.Sprintf("job %q cannot depend on release job %q", job.Name, releaseJobName))
				}
			}
		}
		problems = append(problems, validateMatrix(job)...)
		problems = append(problems, validateTasks(job)...)
	}
	return problems
}

func validateMatrix(job JobTemplate) []string {
	problems := make([]string, 0)
	seenAxes := make(map[string]struct{}, len(job.Matrix.Axes))
	for _, axis := range job.Matrix.Axes {
		if len(axis.Name) == 0 {
			problems = append(problems, fmt.Sprintf("job %q declares a matrix axis without a name", job.Name))
			continue
		}
		if _, duplicate := seenAxes[axis.Name]; duplicate {
			problems = append(problems, fmt.Sprintf("job %q declares matrix axis %q multiple times", job.Name, axis.Name))
		}
		seenAxes[axis.Name] = struct{}{}
		if len(axis.Values) == 0 {
			problems = append(problems, fmt.Sprintf("job %q matrix axis %q has no values", job.Name, axis.Name))
		}
		seenValues := make(map[string]struct{}, len(axis.Values))
		for _, value := range axis.Values {
			if _, duplicate := seenValues[value]; duplicate {
				problems = append(problems, fmt.Sprintf("job %q matrix axis %q repeats value %q", job.Name, axis.Name, value))
			}
			seenValues[value] = struct{}{}
		}
	}
	return problems
}

func validateTasks(job JobTemplate) []string {
	problems := make([]string, 0)
	publishTasks := 0
	for _, task := range job.Tasks {
		switch task.Kind {
		case TaskKindToolchainSetup, TaskKindRunCommand:
			if len(task.Command) == 0 {
				problems = append(problems, fmt.Sprintf("job %q task %q requires a command", job.Name, task.Name))
			}
		case TaskKindUploadArtifact:
			if len(strings.TrimSpace(task.Path)) == 0 {
				problems = append(problems, fmt.Sprintf("job %q task %q requires an artifact path", job.Name, task.Name))
			}
		case TaskKindPublish:
			publishTasks++
			if len(task.Command) == 0 {
				problems = append(problems, fmt.Sprintf("job %q task %q requires a publish command", job.Name, task.Name))
			}
			if len(task.DryRunArguments) == 0 {
				problems = append(problems, fmt.Sprintf("job %q publish task %q requires dry_run_args", job.Name, task.Name))
			}
			if task.ContinueOnFailure {
				problems = append(problems, fmt.Sprintf("job %q publish task %q cannot continue on failure", job.Name, task.Name))
			}
		}
	}

	if job.Release && publishTasks != 1 {
		problems = append(problems, fmt.Sprintf("release job %q must contain exactly one publish task, found %d", job.Name, publishTasks))
	}
	if !job.Release && publishTasks > 0 {
		problems = append(problems, fmt.Sprintf("job %q contains a publish task but is not the release job", job.Name))
	}
	return problems
}

func assignReleaseNeeds(definition Definition) Definition {
	verificationJobNames := definition.VerificationJobNames()
	for jobIndex := range definition.Jobs {
		if definition.Jobs[jobIndex].Release {
			definition.Jobs[jobIndex].Needs = verificationJobNames
		}
	}
	return definition
}
