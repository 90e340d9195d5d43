// Package tasks runs a single task of a job instance and classifies its outcome.
package tasks

// Outcome classifies a task result.
type Outcome string

// Task outcomes.
const (
	OutcomeSuccess             Outcome = "success"
	OutcomeFailure             Outcome = "failure"
	OutcomeInfrastructureError Outcome = "infrastructure-error"
	OutcomeConfigurationError  Outcome = "configuration-error"
	OutcomeCancelled           Outcome = "cancelled"
)

// Succeeded reports whether the outcome lets the job continue.
func (outcome Outcome) Succeeded() bool {
	return outcome == OutcomeSuccess
}

// Result is the observable result of one task.
type Result struct {
	Outcome  Outcome
	ExitCode int
	Output   string
	// Detail carries kind-specific facts such as the publish mode or artifact location.
	Detail string
	Err    error
}
