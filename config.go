package azlet

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/cockroachdb/errors"
	"github.com/spf13/viper"

	defaults "github.com/Paranoid-AF/azlet/default"
)

// Config represents the user's azlet configuration.
type Config struct {
	Worker     WorkerConfig     `mapstructure:"worker" json:"worker"`
	Resources  ResourcesConfig  `mapstructure:"resources" json:"resources"`
	Completion CompletionConfig `mapstructure:"completion" json:"completion"`
	Recommend  RecommendConfig  `mapstructure:"recommend" json:"recommend"`
}

// WorkerConfig controls how the worker process is found and started.
type WorkerConfig struct {
	Tool       string        `mapstructure:"tool" json:"tool"`
	MinVersion string        `mapstructure:"min_version" json:"min_version"`
	Python     string        `mapstructure:"python" json:"python"`
	Module     string        `mapstructure:"module" json:"module"`
	ServiceDir string        `mapstructure:"service_dir" json:"service_dir"`
	RetryDelay time.Duration `mapstructure:"retry_delay" json:"retry_delay"`
}

// ResourcesConfig controls live resource lookups.
type ResourcesConfig struct {
	AzureDir     string        `mapstructure:"azure_dir" json:"azure_dir"`
	ARMEndpoint  string        `mapstructure:"arm_endpoint" json:"arm_endpoint"`
	APIVersion   string        `mapstructure:"api_version" json:"api_version"`
	Staleness    time.Duration `mapstructure:"staleness" json:"staleness"`
	FetchTimeout time.Duration `mapstructure:"fetch_timeout" json:"fetch_timeout"`
	PollInterval time.Duration `mapstructure:"poll_interval" json:"poll_interval"`
}

// CompletionConfig holds completion settings.
type CompletionConfig struct {
	MaxCandidates int `mapstructure:"max_candidates" json:"max_candidates"`
}

// RecommendConfig holds recommendation settings.
type RecommendConfig struct {
	MaxCommands int `mapstructure:"max_commands" json:"max_commands"`
}

// ConfigDir returns the config directory path.
// Resolution order: $AZLET_CONFIG_DIR > $XDG_CONFIG_HOME/azlet > ~/.config/azlet
func ConfigDir() string {
	if dir := os.Getenv("AZLET_CONFIG_DIR"); dir != "" {
		return dir
	}
	if configHome := os.Getenv("XDG_CONFIG_HOME"); configHome != "" {
		return filepath.Join(configHome, "azlet")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join("/tmp", "azlet-config")
	}
	return filepath.Join(home, ".config", "azlet")
}

// ConfigPath returns the full path to the config file.
func ConfigPath() string {
	return filepath.Join(ConfigDir(), "config.toml")
}

// newViper returns a viper instance seeded with the embedded defaults and
// bound to AZLET_<SECTION>_<KEY> environment variables.
func newViper() (*viper.Viper, error) {
	v := viper.New()
	v.SetConfigType("toml")
	if err := v.ReadConfig(bytes.NewReader(defaults.ConfigTOML)); err != nil {
		return nil, errors.Wrap(err, "embedded default_config.toml")
	}
	v.SetEnvPrefix("AZLET")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v, nil
}

func unmarshal(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal config")
	}
	return &cfg, nil
}

// DefaultConfig returns the configuration from the embedded default_config.toml.
func DefaultConfig() *Config {
	v := viper.New()
	v.SetConfigType("toml")
	if err := v.ReadConfig(bytes.NewReader(defaults.ConfigTOML)); err != nil {
		panic("azlet: invalid embedded default_config.toml: " + err.Error())
	}
	cfg, err := unmarshal(v)
	if err != nil {
		panic("azlet: invalid embedded default_config.toml: " + err.Error())
	}
	return cfg
}

// LoadConfig loads the config file, falling back to defaults for missing
// keys or a missing file. Environment variables override both.
func LoadConfig() (*Config, error) {
	return LoadConfigFile(ConfigPath())
}

// LoadConfigFile is LoadConfig for an explicit path.
func LoadConfigFile(path string) (*Config, error) {
	v, err := newViper()
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	switch {
	case err == nil:
		defer f.Close()
		if err := v.MergeConfig(f); err != nil {
			return nil, errors.Wrapf(err, "failed to read config file %s", path)
		}
	case !os.IsNotExist(err):
		return nil, errors.Wrap(err, "open config")
	}
	return unmarshal(v)
}

// ValidateConfig checks configuration for potential issues and returns warnings.
func ValidateConfig(cfg *Config) []string {
	var warnings []string
	if cfg == nil {
		return warnings
	}
	if _, err := semver.NewVersion(cfg.Worker.MinVersion); err != nil {
		warnings = append(warnings, "worker.min_version "+quote(cfg.Worker.MinVersion)+" is not a semantic version")
	}
	if cfg.Worker.ServiceDir == "" {
		warnings = append(warnings, "worker.service_dir is not set; the "+cfg.Worker.Module+" module must be importable by "+cfg.Worker.Python)
	} else if st, err := os.Stat(cfg.Worker.ServiceDir); err != nil || !st.IsDir() {
		warnings = append(warnings, "worker.service_dir "+quote(cfg.Worker.ServiceDir)+" is not a directory")
	}
	for _, d := range []struct {
		key string
		val time.Duration
	}{
		{"worker.retry_delay", cfg.Worker.RetryDelay},
		{"resources.staleness", cfg.Resources.Staleness},
		{"resources.fetch_timeout", cfg.Resources.FetchTimeout},
		{"resources.poll_interval", cfg.Resources.PollInterval},
	} {
		if d.val <= 0 {
			warnings = append(warnings, d.key+" must be positive")
		}
	}
	if cfg.Completion.MaxCandidates < 0 {
		warnings = append(warnings, "completion.max_candidates must not be negative")
	}
	if cfg.Recommend.MaxCommands <= 0 {
		warnings = append(warnings, "recommend.max_commands must be positive")
	}
	return warnings
}

func quote(s string) string { return `"` + s + `"` }

// ResolveAzureDir returns the az configuration directory.
// Priority: $AZURE_CONFIG_DIR env > config value, with a leading ~ expanded.
func ResolveAzureDir(cfg *Config) string {
	if dir := os.Getenv("AZURE_CONFIG_DIR"); dir != "" {
		return dir
	}
	dir := "~/.azure"
	if cfg != nil && cfg.Resources.AzureDir != "" {
		dir = cfg.Resources.AzureDir
	}
	if dir == "~" || strings.HasPrefix(dir, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return dir
		}
		dir = filepath.Join(home, strings.TrimPrefix(dir, "~"))
	}
	return dir
}
