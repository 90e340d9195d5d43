package cli

import (
	_ "embed"
	"time"

	"github.com/tyemirov/pipegate/internal/objectstore"
)

//go:embed default_config.yaml
var embeddedDefaultConfiguration []byte

// EmbeddedDefaultConfiguration returns the configuration compiled into the binary and its type.
func EmbeddedDefaultConfiguration() ([]byte, string) {
	return append([]byte(nil), embeddedDefaultConfiguration...), configurationTypeConstant
}

// ApplicationConfiguration describes the persisted configuration for the CLI entrypoint.
type ApplicationConfiguration struct {
	Common    ApplicationCommonConfiguration   `mapstructure:"common"`
	Pipeline  ApplicationPipelineConfiguration `mapstructure:"pipeline"`
	Release   ApplicationReleaseConfiguration  `mapstructure:"release"`
	Artifacts objectstore.Config               `mapstructure:"artifacts"`
	Report    ApplicationReportConfiguration   `mapstructure:"report"`
}

// ApplicationCommonConfiguration stores logging defaults shared across commands.
type ApplicationCommonConfiguration struct {
	LogLevel  string `mapstructure:"log_level"`
	LogFormat string `mapstructure:"log_format"`
}

// ApplicationPipelineConfiguration selects the pipeline definition and execution limits.
type ApplicationPipelineConfiguration struct {
	Definition  string                         `mapstructure:"definition"`
	MainBranch  string                         `mapstructure:"main_branch"`
	MaxParallel int                            `mapstructure:"max_parallel"`
	Workspace   string                         `mapstructure:"workspace"`
	Timeout     time.Duration                  `mapstructure:"timeout"`
	Docker      ApplicationDockerConfiguration `mapstructure:"docker"`
}

// ApplicationDockerConfiguration controls the container runner used by tasks declaring an image.
type ApplicationDockerConfiguration struct {
	Enabled    bool `mapstructure:"enabled"`
	PullImages bool `mapstructure:"pull_images"`
}

// ApplicationReleaseConfiguration names the variable carrying the publish credential.
type ApplicationReleaseConfiguration struct {
	CredentialVariable string `mapstructure:"credential_variable"`
}

// ApplicationReportConfiguration controls the machine-readable run report.
type ApplicationReportConfiguration struct {
	File string `mapstructure:"file"`
}

func defaultConfigurationValues() map[string]any {
	return map[string]any{
		commonLogLevelConfigKeyConstant:            "info",
		commonLogFormatConfigKeyConstant:           "console",
		pipelineMainBranchConfigKeyConstant:        "main",
		pipelineWorkspaceConfigKeyConstant:         ".",
		releaseCredentialVariableConfigKeyConstant: defaultCredentialVariableConstant,
		pipelineDockerPullImagesConfigKeyConstant:  true,
	}
}
