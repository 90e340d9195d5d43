package utils

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	mapstructure "github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

const (
	environmentKeySeparatorConstant              = "_"
	configurationKeySeparatorConstant            = "."
	embeddedConfigurationMergeErrorTemplate      = "unable to merge embedded configuration: %w"
	configurationFileMergeErrorTemplate          = "unable to read configuration file %s: %w"
	configurationDecodeErrorTemplate             = "unable to decode configuration: %w"
	configurationTargetMissingMessageConstant    = "configuration target must be provided"
	configurationSearchPathStatErrorTemplate     = "unable to inspect configuration candidate %s: %w"
	configurationCandidateIsDirectoryTemplate    = "configuration candidate %s is a directory"
	configurationExplicitFileMissingTemplate     = "configuration file %s does not exist"
	configurationExplicitFileInspectErrorMessage = "unable to inspect configuration file %s: %w"
)

// ErrConfigurationTargetMissing indicates LoadConfiguration was called without a decode target.
var ErrConfigurationTargetMissing = errors.New(configurationTargetMissingMessageConstant)

// LoadedConfiguration describes where the effective configuration came from.
type LoadedConfiguration struct {
	ConfigFileUsed string
}

// ConfigurationLoader layers defaults, embedded configuration, a configuration file, and environment variables.
type ConfigurationLoader struct {
	configurationName         string
	configurationType         string
	environmentPrefix         string
	searchPaths               []string
	embeddedConfiguration     []byte
	embeddedConfigurationType string
}

// NewConfigurationLoader constructs a loader that searches the provided directories in order.
func NewConfigurationLoader(configurationName string, configurationType string, environmentPrefix string, searchPaths []string) *ConfigurationLoader {
	return &ConfigurationLoader{
		configurationName: strings.TrimSpace(configurationName),
		configurationType: strings.TrimSpace(configurationType),
		environmentPrefix: strings.TrimSpace(environmentPrefix),
		searchPaths:       append([]string{}, searchPaths...),
	}
}

// SetEmbeddedConfiguration registers configuration content compiled into the binary.
func (loader *ConfigurationLoader) SetEmbeddedConfiguration(configurationData []byte, configurationType string) {
	loader.embeddedConfiguration = append([]byte{}, configurationData...)
	loader.embeddedConfigurationType = strings.TrimSpace(configurationType)
}

// LoadConfiguration merges all configuration layers and decodes them into target.
// Precedence from lowest to highest: defaults, embedded configuration, configuration file, environment.
func (loader *ConfigurationLoader) LoadConfiguration(configurationFilePath string, defaultValues map[string]any, target any) (LoadedConfiguration, error) {
	if target == nil {
		return LoadedConfiguration{}, ErrConfigurationTargetMissing
	}

	viperInstance := viper.New()
	for key, value := range defaultValues {
		viperInstance.SetDefault(key, value)
	}

	if len(loader.embeddedConfiguration) > 0 {
		embeddedType := loader.embeddedConfigurationType
		if len(embeddedType) == 0 {
			embeddedType = loader.configurationType
		}
		viperInstance.SetConfigType(embeddedType)
		if mergeError := viperInstance.MergeConfig(bytes.NewReader(loader.embeddedConfiguration)); mergeError != nil {
			return LoadedConfiguration{}, fmt.Errorf(embeddedConfigurationMergeErrorTemplate, mergeError)
		}
	}

	resolvedFilePath, resolveError := loader.resolveConfigurationFile(configurationFilePath)
	if resolveError != nil {
		return LoadedConfiguration{}, resolveError
	}

	if len(resolvedFilePath) > 0 {
		viperInstance.SetConfigFile(resolvedFilePath)
		if mergeError := viperInstance.MergeInConfig(); mergeError != nil {
			return LoadedConfiguration{}, fmt.Errorf(configurationFileMergeErrorTemplate, resolvedFilePath, mergeError)
		}
	}

	if len(loader.environmentPrefix) > 0 {
		viperInstance.SetEnvPrefix(loader.environmentPrefix)
	}
	viperInstance.SetEnvKeyReplacer(strings.NewReplacer(configurationKeySeparatorConstant, environmentKeySeparatorConstant))
	viperInstance.AutomaticEnv()

	decodeHook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))
	if decodeError := viperInstance.Unmarshal(target, decodeHook); decodeError != nil {
		return LoadedConfiguration{}, fmt.Errorf(configurationDecodeErrorTemplate, decodeError)
	}

	return LoadedConfiguration{ConfigFileUsed: resolvedFilePath}, nil
}

func (loader *ConfigurationLoader) resolveConfigurationFile(configurationFilePath string) (string, error) {
	explicitPath := strings.TrimSpace(configurationFilePath)
	if len(explicitPath) > 0 {
		fileInfo, statError := os.Stat(explicitPath)
		if statError != nil {
			if errors.Is(statError, os.ErrNotExist) {
				return "", fmt.Errorf(configurationExplicitFileMissingTemplate, explicitPath)
			}
			return "", fmt.Errorf(configurationExplicitFileInspectErrorMessage, explicitPath, statError)
		}
		if fileInfo.IsDir() {
			return "", fmt.Errorf(configurationCandidateIsDirectoryTemplate, explicitPath)
		}
		return explicitPath, nil
	}

	if len(loader.configurationName) == 0 || len(loader.configurationType) == 0 {
		return "", nil
	}

	fileName := loader.configurationName + configurationKeySeparatorConstant + loader.configurationType
	for _, searchPath := range loader.searchPaths {
		trimmedSearchPath := strings.TrimSpace(searchPath)
		if len(trimmedSearchPath) == 0 {
			continue
		}
		candidatePath := filepath.Join(trimmedSearchPath, fileName)
		fileInfo, statError := os.Stat(candidatePath)
		if statError != nil {
			if errors.Is(statError, os.ErrNotExist) {
				continue
			}
			return "", fmt.Errorf(configurationSearchPathStatErrorTemplate, candidatePath, statError)
		}
		if fileInfo.IsDir() {
			continue
		}
		return candidatePath, nil
	}

	return "", nil
}
