// Package trigger classifies the event that started a pipeline run.
package trigger

import (
	"regexp"
	"strings"

	"golang.org/x/mod/semver"
)

// Kind enumerates the trigger kinds that start a pipeline.
type Kind string

// Supported trigger kinds.
const (
	KindPushTag     Kind = "push-tag"
	KindPushBranch  Kind = "push-branch"
	KindPullRequest Kind = "pull-request"
)

// Event types understood by the classifier.
const (
	EventTypePush        = "push"
	EventTypePullRequest = "pull_request"
)

const (
	// DefaultMainBranch names the branch that receives push and pull-request runs.
	DefaultMainBranch = "main"

	tagReferencePrefixConstant    = "refs/tags/"
	branchReferencePrefixConstant = "refs/heads/"
	versionPrefixConstant         = "v"
)

var (
	releaseTagPattern    = regexp.MustCompile(`^\d+\.\d+\.\d+$`)
	prereleaseTagPattern = regexp.MustCompile(`^\d+\.\d+\.\d+-.*$`)

	pullRequestActions = map[string]struct{}{
		"opened":       {},
		"synchronize":  {},
		"synchronized": {},
	}
)

// EventDescriptor is the raw description of the inciting event.
type EventDescriptor struct {
	EventType         string `json:"event_type"`
	Ref               string `json:"ref"`
	BaseRef           string `json:"base_ref,omitempty"`
	PullRequestAction string `json:"pull_request_action,omitempty"`
	SecretPresent     bool   `json:"secret_present"`
}

// Trigger holds the facts derived from an applicable event.
type Trigger struct {
	Kind              Kind   `json:"kind"`
	Ref               string `json:"ref"`
	RefName           string `json:"ref_name"`
	IsSecretAvailable bool   `json:"is_secret_available"`
	IsPrerelease      bool   `json:"is_prerelease"`
	// Version is the canonical semantic version for tag triggers.
	Version string `json:"version,omitempty"`
}

// IsTag reports whether the trigger is a release tag push.
func (trigger Trigger) IsTag() bool {
	return trigger.Kind == KindPushTag
}

// IsMainBranch reports whether the trigger is a push to the main branch.
func (trigger Trigger) IsMainBranch() bool {
	return trigger.Kind == KindPushBranch
}

// IsPullRequest reports whether the trigger is a pull request against the main branch.
func (trigger Trigger) IsPullRequest() bool {
	return trigger.Kind == KindPullRequest
}

// Classifier derives triggers from event descriptors.
type Classifier struct {
	MainBranch string
}

// NewClassifier constructs a Classifier for the provided main branch name.
func NewClassifier(mainBranch string) Classifier {
	trimmedMainBranch := strings.TrimSpace(mainBranch)
	if len(trimmedMainBranch) == 0 {
		trimmedMainBranch = DefaultMainBranch
	}
	return Classifier{MainBranch: trimmedMainBranch}
}

// Classify returns the trigger for the event. The boolean is false when the
// pipeline does not apply to the event.
func (classifier Classifier) Classify(descriptor EventDescriptor) (Trigger, bool) {
	eventType := normalizeEventType(descriptor.EventType)
	reference := strings.TrimSpace(descriptor.Ref)

	switch eventType {
	case EventTypePush:
		if tagName, isTag := classifier.tagName(reference); isTag {
			return Trigger{
				Kind:              KindPushTag,
				Ref:               reference,
				RefName:           tagName,
				IsSecretAvailable: descriptor.SecretPresent,
				IsPrerelease:      prereleaseTagPattern.MatchString(tagName),
				Version:           semver.Canonical(versionPrefixConstant + tagName),
			}, true
		}
		if classifier.isMainBranch(reference) {
			return Trigger{
				Kind:              KindPushBranch,
				Ref:               reference,
				RefName:           shortReferenceName(reference),
				IsSecretAvailable: descriptor.SecretPresent,
			}, true
		}
	case EventTypePullRequest:
		targetReference := strings.TrimSpace(descriptor.BaseRef)
		if len(targetReference) == 0 {
			targetReference = reference
		}
		action := strings.ToLower(strings.TrimSpace(descriptor.PullRequestAction))
		if _, supportedAction := pullRequestActions[action]; supportedAction && classifier.isMainBranch(targetReference) {
			return Trigger{
				Kind:              KindPullRequest,
				Ref:               reference,
				RefName:           shortReferenceName(targetReference),
				IsSecretAvailable: descriptor.SecretPresent,
			}, true
		}
	}

	return Trigger{}, false
}

func (classifier Classifier) tagName(reference string) (string, bool) {
	if strings.HasPrefix(reference, branchReferencePrefixConstant) {
		return "", false
	}
	candidate := strings.TrimPrefix(reference, tagReferencePrefixConstant)
	if releaseTagPattern.MatchString(candidate) || prereleaseTagPattern.MatchString(candidate) {
		return candidate, true
	}
	return "", false
}

func (classifier Classifier) isMainBranch(reference string) bool {
	if strings.HasPrefix(reference, tagReferencePrefixConstant) {
		return false
	}
	mainBranch := classifier.MainBranch
	if len(mainBranch) == 0 {
		mainBranch = DefaultMainBranch
	}
	return shortReferenceName(reference) == mainBranch
}

func shortReferenceName(reference string) string {
	for _, prefix := range []string{branchReferencePrefixConstant, tagReferencePrefixConstant} {
		if strings.HasPrefix(reference, prefix) {
			return strings.TrimPrefix(reference, prefix)
		}
	}
	return reference
}

func normalizeEventType(eventType string) string {
	normalized := strings.ToLower(strings.TrimSpace(eventType))
	normalized = strings.ReplaceAll(normalized, "-", "_")
	return normalized
}
