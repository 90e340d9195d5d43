package trigger_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tyemirov/pipegate/internal/trigger"
)

const testCredentialVariableConstant = "CARGO_REGISTRY_TOKEN"

func mapLookup(values map[string]string) trigger.LookupFunc {
	return func(key string) (string, bool) {
		value, exists := values[key]
		return value, exists
	}
}

func TestDescriptorFromEnvironment(testInstance *testing.T) {
	testCases := []struct {
		name               string
		environment        map[string]string
		files              map[string]string
		expectedDescriptor trigger.EventDescriptor
		expectedError      error
		expectAnyError     bool
	}{
		{
			name: "tag_push_with_secret",
			environment: map[string]string{
				trigger.EventNameEnvironmentVariable: "push",
				trigger.RefEnvironmentVariable:       "refs/tags/1.0.0",
				testCredentialVariableConstant:       "token",
			},
			expectedDescriptor: trigger.EventDescriptor{EventType: "push", Ref: "refs/tags/1.0.0", SecretPresent: true},
		},
		{
			name: "pull_request_payload_action",
			environment: map[string]string{
				trigger.EventNameEnvironmentVariable: "pull_request",
				trigger.RefEnvironmentVariable:       "refs/pull/3/merge",
				trigger.BaseRefEnvironmentVariable:   "main",
				trigger.EventPathEnvironmentVariable: "/event.json",
				testCredentialVariableConstant:       "  ",
			},
			files: map[string]string{"/event.json": `{"action":"synchronize","number":3}`},
			expectedDescriptor: trigger.EventDescriptor{
				EventType:         "pull_request",
				Ref:               "refs/pull/3/merge",
				BaseRef:           "main",
				PullRequestAction: "synchronize",
			},
		},
		{
			name:          "missing_event_name",
			environment:   map[string]string{trigger.RefEnvironmentVariable: "refs/heads/main"},
			expectedError: trigger.ErrEventNameMissing,
		},
		{
			name: "unreadable_payload",
			environment: map[string]string{
				trigger.EventNameEnvironmentVariable: "pull_request",
				trigger.EventPathEnvironmentVariable: "/missing.json",
			},
			expectAnyError: true,
		},
		{
			name: "malformed_payload",
			environment: map[string]string{
				trigger.EventNameEnvironmentVariable: "pull_request",
				trigger.EventPathEnvironmentVariable: "/event.json",
			},
			files:          map[string]string{"/event.json": "{"},
			expectAnyError: true,
		},
	}

	for _, testCase := range testCases {
		testInstance.Run(testCase.name, func(subTest *testing.T) {
			readFile := func(path string) ([]byte, error) {
				contents, exists := testCase.files[path]
				if !exists {
					return nil, errors.New("file not found")
				}
				return []byte(contents), nil
			}

			descriptor, descriptorError := trigger.DescriptorFromEnvironment(mapLookup(testCase.environment), readFile, testCredentialVariableConstant)
			switch {
			case testCase.expectedError != nil:
				require.ErrorIs(subTest, descriptorError, testCase.expectedError)
			case testCase.expectAnyError:
				require.Error(subTest, descriptorError)
			default:
				require.NoError(subTest, descriptorError)
				require.Equal(subTest, testCase.expectedDescriptor, descriptor)
			}
		})
	}
}
