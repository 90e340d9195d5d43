package pipeline

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	definitionPathRequiredMessageConstant = "pipeline definition path must be provided"
	definitionLoadErrorTemplateConstant   = "failed to load pipeline definition: %w"
	definitionParseErrorTemplateConstant  = "failed to parse pipeline definition: %w"
)

//go:embed defaults/pipeline.yaml
var defaultDefinitionContent []byte

// Plan is a validated definition together with its execution stages.
type Plan struct {
	Definition Definition
	Stages     []Stage
}

// DefaultDefinitionContent returns the embedded default pipeline definition.
func DefaultDefinitionContent() []byte {
	return append([]byte(nil), defaultDefinitionContent...)
}

// LoadDefault parses and validates the embedded default definition.
func LoadDefault() (Plan, error) {
	return Parse(defaultDefinitionContent)
}

// Load reads, parses and validates the definition at filePath.
func Load(filePath string) (Plan, error) {
	trimmedPath := strings.TrimSpace(filePath)
	if len(trimmedPath) == 0 {
		return Plan{}, errors.New(definitionPathRequiredMessageConstant)
	}

	contentBytes, readError := os.ReadFile(trimmedPath)
	if readError != nil {
		return Plan{}, fmt.Errorf(definitionLoadErrorTemplateConstant, readError)
	}
	return Parse(contentBytes)
}

// Parse decodes YAML content and validates the resulting definition. Unknown
// fields are rejected.
func Parse(contentBytes []byte) (Plan, error) {
	decoder := yaml.NewDecoder(bytes.NewReader(contentBytes))
	decoder.KnownFields(true)

	var definition Definition
	if decodeError := decoder.Decode(&definition); decodeError != nil {
		if errors.Is(decodeError, io.EOF) {
			return Plan{}, ValidationError{Problems: []string{"pipeline definition is empty"}}
		}
		return Plan{}, fmt.Errorf(definitionParseErrorTemplateConstant, decodeError)
	}

	validatedDefinition, stages, validationError := Validate(definition)
	if validationError != nil {
		return Plan{}, validationError
	}
	return Plan{Definition: validatedDefinition, Stages: stages}, nil
}
