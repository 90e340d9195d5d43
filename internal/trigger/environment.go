package trigger

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
)

// Environment variables consulted when the descriptor comes from the CI environment.
const (
	EventNameEnvironmentVariable = "GITHUB_EVENT_NAME"
	RefEnvironmentVariable       = "GITHUB_REF"
	BaseRefEnvironmentVariable   = "GITHUB_BASE_REF"
	EventPathEnvironmentVariable = "GITHUB_EVENT_PATH"
)

const (
	eventNameMissingMessageConstant        = "event name not provided by the environment"
	eventPayloadReadErrorTemplateConstant  = "read event payload %s: %w"
	eventPayloadParseErrorTemplateConstant = "parse event payload %s: %w"
)

// ErrEventNameMissing indicates the environment does not describe an event.
var ErrEventNameMissing = errors.New(eventNameMissingMessageConstant)

// LookupFunc resolves an environment variable.
type LookupFunc func(key string) (string, bool)

// FileReader reads a file by path.
type FileReader func(path string) ([]byte, error)

type eventPayload struct {
	Action string `json:"action"`
}

// DescriptorFromEnvironment builds an event descriptor from CI environment variables.
// Secret presence is true when credentialVariable resolves to a non-empty value.
func DescriptorFromEnvironment(lookup LookupFunc, readFile FileReader, credentialVariable string) (EventDescriptor, error) {
	if lookup == nil {
		lookup = os.LookupEnv
	}
	if readFile == nil {
		readFile = os.ReadFile
	}

	eventName := lookupTrimmed(lookup, EventNameEnvironmentVariable)
	if len(eventName) == 0 {
		return EventDescriptor{}, ErrEventNameMissing
	}

	descriptor := EventDescriptor{
		EventType: eventName,
		Ref:       lookupTrimmed(lookup, RefEnvironmentVariable),
		BaseRef:   lookupTrimmed(lookup, BaseRefEnvironmentVariable),
	}

	if trimmedCredentialVariable := strings.TrimSpace(credentialVariable); len(trimmedCredentialVariable) > 0 {
		descriptor.SecretPresent = len(lookupTrimmed(lookup, trimmedCredentialVariable)) > 0
	}

	if eventPath := lookupTrimmed(lookup, EventPathEnvironmentVariable); len(eventPath) > 0 {
		payloadBytes, readError := readFile(eventPath)
		if readError != nil {
			return EventDescriptor{}, fmt.Errorf(eventPayloadReadErrorTemplateConstant, eventPath, readError)
		}
		var payload eventPayload
		if parseError := json.Unmarshal(payloadBytes, &payload); parseError != nil {
			return EventDescriptor{}, fmt.Errorf(eventPayloadParseErrorTemplateConstant, eventPath, parseError)
		}
		descriptor.PullRequestAction = strings.TrimSpace(payload.Action)
	}

	return descriptor, nil
}

func lookupTrimmed(lookup LookupFunc, key string) string {
	value, exists := lookup(key)
	if !exists {
		return ""
	}
	return strings.TrimSpace(value)
}
