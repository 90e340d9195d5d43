package release

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/tyemirov/pipegate/internal/execshell"
	"github.com/tyemirov/pipegate/internal/trigger"
)

const (
	publishModeSelectedMessageConstant = "release gate selected publish mode"
	publishModeRejectedMessageConstant = "release gate configuration error"
	modeFieldNameConstant              = "mode"
	triggerKindFieldNameConstant       = "trigger_kind"
	referenceFieldNameConstant         = "ref"
	prereleaseFieldNameConstant        = "prerelease"
	publisherNotConfiguredMessage      = "release publisher not configured"
)

// ErrPublisherNotConfigured indicates the gate has no publisher.
var ErrPublisherNotConfigured = errors.New(publisherNotConfiguredMessage)

// Request describes one publish invocation.
type Request struct {
	Mode            PublishMode
	Command         execshell.ShellCommand
	DryRunArguments []string
}

// Publisher performs the publish side effect for the selected mode.
type Publisher interface {
	Publish(executionContext context.Context, request Request) (execshell.ExecutionResult, error)
}

// Decision records the mode chosen by the gate.
type Decision struct {
	ModeName string `json:"mode,omitempty"`
	Error    string `json:"error,omitempty"`
}

// Gate selects the publish mode once per run and forwards publishes to the Publisher.
type Gate struct {
	releaseTrigger trigger.Trigger
	credentials    Credentials
	publisher      Publisher
	logger         *zap.Logger

	lock          sync.Mutex
	resolved      bool
	selectedMode  PublishMode
	selectedError error
}

// NewGate constructs a Gate for the run's trigger.
func NewGate(logger *zap.Logger, releaseTrigger trigger.Trigger, credentials Credentials, publisher Publisher) (*Gate, error) {
	if publisher == nil {
		return nil, ErrPublisherNotConfigured
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Gate{releaseTrigger: releaseTrigger, credentials: credentials, publisher: publisher, logger: logger}, nil
}

// Mode returns the publish mode, selecting it on first use.
func (gate *Gate) Mode() (PublishMode, error) {
	gate.lock.Lock()
	defer gate.lock.Unlock()

	if gate.resolved {
		return gate.selectedMode, gate.selectedError
	}
	gate.resolved = true
	gate.selectedMode, gate.selectedError = SelectPublishMode(gate.releaseTrigger, gate.credentials)
	if gate.selectedError != nil {
		gate.logger.Error(publishModeRejectedMessageConstant,
			zap.String(triggerKindFieldNameConstant, string(gate.releaseTrigger.Kind)),
			zap.String(referenceFieldNameConstant, gate.releaseTrigger.Ref),
			zap.Error(gate.selectedError),
		)
		return nil, gate.selectedError
	}
	gate.logger.Info(publishModeSelectedMessageConstant,
		zap.String(modeFieldNameConstant, gate.selectedMode.ModeName()),
		zap.String(triggerKindFieldNameConstant, string(gate.releaseTrigger.Kind)),
		zap.String(referenceFieldNameConstant, gate.releaseTrigger.Ref),
		zap.Bool(prereleaseFieldNameConstant, gate.releaseTrigger.IsPrerelease),
	)
	return gate.selectedMode, nil
}

// Decision reports the selected mode. The boolean is false when the gate never ran.
func (gate *Gate) Decision() (Decision, bool) {
	gate.lock.Lock()
	defer gate.lock.Unlock()

	if !gate.resolved {
		return Decision{}, false
	}
	if gate.selectedError != nil {
		return Decision{Error: gate.selectedError.Error()}, true
	}
	return Decision{ModeName: gate.selectedMode.ModeName()}, true
}

// Publish runs the publish command in the selected mode. A ConfigurationError is
// returned without invoking the publisher.
func (gate *Gate) Publish(executionContext context.Context, command execshell.ShellCommand, dryRunArguments []string) (execshell.ExecutionResult, error) {
	mode, modeError := gate.Mode()
	if modeError != nil {
		return execshell.ExecutionResult{}, modeError
	}
	return gate.publisher.Publish(executionContext, Request{Mode: mode, Command: command, DryRunArguments: dryRunArguments})
}
