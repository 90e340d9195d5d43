// Package release implements the release gate that decides between a real,
// credential-gated publish and a dry-run publish.
package release

import (
	"errors"
	"fmt"
	"strings"

	"github.com/tyemirov/pipegate/internal/trigger"
)

// Publish mode names.
const (
	ModeNameReal   = "real"
	ModeNameDryRun = "dry-run"
)

const configurationErrorPrefixConstant = "release configuration error"

var (
	// ErrSecretUnavailable indicates a tag release ran without the protected secret configured.
	ErrSecretUnavailable = errors.New("publish credential secret is not available for a tag release")
	// ErrCredentialEmpty indicates the secret is configured but resolves to an empty credential.
	ErrCredentialEmpty = errors.New("publish credential is empty")
)

// PublishMode is either RealPublish or DryRunPublish.
type PublishMode interface {
	ModeName() string
	publishMode()
}

// RealPublish performs the external publish with the credential.
type RealPublish struct {
	Credential string
}

// ModeName returns ModeNameReal.
func (RealPublish) ModeName() string { return ModeNameReal }

func (RealPublish) publishMode() {}

// String hides the credential.
func (RealPublish) String() string { return ModeNameReal }

// DryRunPublish validates the package without external side effects.
type DryRunPublish struct{}

// ModeName returns ModeNameDryRun.
func (DryRunPublish) ModeName() string { return ModeNameDryRun }

func (DryRunPublish) publishMode() {}

// Credentials carries the resolved publish credential.
type Credentials struct {
	Variable string
	Value    string
}

// ResolveCredentials reads the credential from the named variable.
func ResolveCredentials(lookup func(string) (string, bool), variable string) Credentials {
	trimmedVariable := strings.TrimSpace(variable)
	if lookup == nil || len(trimmedVariable) == 0 {
		return Credentials{Variable: trimmedVariable}
	}
	value, _ := lookup(trimmedVariable)
	return Credentials{Variable: trimmedVariable, Value: value}
}

// ConfigurationError reports a release that cannot proceed because of missing
// configuration rather than a failing task.
type ConfigurationError struct {
	Cause error
}

// Error describes the configuration problem.
func (configurationError ConfigurationError) Error() string {
	return fmt.Sprintf("%s: %v", configurationErrorPrefixConstant, configurationError.Cause)
}

// Unwrap exposes the cause.
func (configurationError ConfigurationError) Unwrap() error {
	return configurationError.Cause
}

// SelectPublishMode chooses the real publish only for tag pushes. Tag pushes
// without a usable credential yield a ConfigurationError.
func SelectPublishMode(releaseTrigger trigger.Trigger, credentials Credentials) (PublishMode, error) {
	if releaseTrigger.Kind != trigger.KindPushTag {
		return DryRunPublish{}, nil
	}
	if !releaseTrigger.IsSecretAvailable {
		return nil, ConfigurationError{Cause: ErrSecretUnavailable}
	}
	if len(strings.TrimSpace(credentials.Value)) == 0 {
		return nil, ConfigurationError{Cause: ErrCredentialEmpty}
	}
	return RealPublish{Credential: credentials.Value}, nil
}
