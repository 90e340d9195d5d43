package pipeline

import (
	"errors"
	"fmt"
	"strings"
)

// ErrDependencyCycle indicates the needs graph is not acyclic.
var ErrDependencyCycle = errors.New("pipeline jobs contain a dependency cycle")

// Stage groups job templates whose dependencies are satisfied by earlier stages.
type Stage struct {
	Jobs []string
}

// DependencyGraph maps each job name to its prerequisite job names.
type DependencyGraph map[string][]string

// BuildDependencyGraph returns the adjacency structure for the definition.
func BuildDependencyGraph(definition Definition) DependencyGraph {
	graph := make(DependencyGraph, len(definition.Jobs))
	for _, job := range definition.Jobs {
		graph[job.Name] = append([]string(nil), job.Needs...)
	}
	return graph
}

// PlanStages orders the jobs topologically. Jobs within one stage have no edges
// between them; stage membership follows declaration order.
func PlanStages(jobs []JobTemplate) ([]Stage, error) {
	if len(jobs) == 0 {
		return nil, nil
	}

	declared := make(map[string]struct{}, len(jobs))
	inDegree := make(map[string]int, len(jobs))
	adjacency := make(map[string][]string, len(jobs))
	order := make([]string, 0, len(jobs))

	for _, job := range jobs {
		name := strings.TrimSpace(job.Name)
		if len(name) == 0 {
			return nil, errors.New("pipeline job missing name")
		}
		if _, exists := declared[name]; exists {
			return nil, fmt.Errorf("pipeline job %q defined multiple times", name)
		}
		declared[name] = struct{}{}
		inDegree[name] = 0
		order = append(order, name)
	}

	for _, job := range jobs {
		seenDependencies := make(map[string]struct{}, len(job.Needs))
		for _, dependencyName := range job.Needs {
			if dependencyName == job.Name {
				return nil, fmt.Errorf("pipeline job %q cannot depend on itself", job.Name)
			}
			if _, exists := declared[dependencyName]; !exists {
				return nil, fmt.Errorf("pipeline job %q depends on unknown job %q", job.Name, dependencyName)
			}
			if _, alreadyIncluded := seenDependencies[dependencyName]; alreadyIncluded {
				continue
			}
			seenDependencies[dependencyName] = struct{}{}
			inDegree[job.Name]++
			adjacency[dependencyName] = append(adjacency[dependencyName], job.Name)
		}
	}

	ready := make([]string, 0)
	for _, name := range order {
		if inDegree[name] == 0 {
			ready = append(ready, name)
		}
	}

	stages := make([]Stage, 0)
	processed := 0
	for len(ready) > 0 {
		stageNames := ready
		ready = nil
		stages = append(stages, Stage{Jobs: stageNames})
		processed += len(stageNames)

		nextReadySet := make(map[string]struct{})
		for _, name := range stageNames {
			for _, dependent := range adjacency[name] {
				inDegree[dependent]--
				if inDegree[dependent] == 0 {
					nextReadySet[dependent] = struct{}{}
				}
			}
		}
		for _, name := range order {
			if _, available := nextReadySet[name]; available {
				ready = append(ready, name)
			}
		}
	}

	if processed != len(jobs) {
		return nil, ErrDependencyCycle
	}
	return stages, nil
}
