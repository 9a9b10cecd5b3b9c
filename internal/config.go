package internal

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is the application configuration. The broker section is parsed
// separately by pkg/worker from the same file.
type Config struct {
	// Logging holds the process-wide log settings.
	Logging struct {
		Level string `yaml:"level"`
	} `yaml:"logging"`
	// SoftwareFactory configures the client used for Zuul and Gerrit calls.
	SoftwareFactory SoftwareFactoryConfig `yaml:"softwarefactory"`
	// Hooks maps hook types to their per-instance configuration.
	Hooks HooksConfig `yaml:"hooks"`
}

// SoftwareFactoryConfig holds the endpoints and service credentials for a
// Software Factory deployment.
type SoftwareFactoryConfig struct {
	URL                string      `yaml:"url"`
	ManageSF           string      `yaml:"managesf"`
	Gerrit             string      `yaml:"gerrit"`
	Auth               Credentials `yaml:"auth"`
	InsecureSkipVerify bool        `yaml:"insecure_skip_verify"`
}

// Credentials is a username/password pair.
type Credentials struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// HooksConfig lists the hook instances to build at startup.
type HooksConfig struct {
	Tracker  []TrackerHookConfig  `yaml:"tracker"`
	Autohold []AutoholdHookConfig `yaml:"autohold"`
	Debug    []DebugHookConfig    `yaml:"debug"`
}

// TrackerHookConfig configures one tracker-update hook instance.
type TrackerHookConfig struct {
	// Project is a regular expression matched against the Gerrit project.
	Project string `yaml:"project"`
	// When is an optional guard expression over the event payload.
	When  string      `yaml:"when"`
	Taiga TaigaConfig `yaml:"taiga"`
}

// TaigaConfig holds the Taiga API endpoint, credentials, and target project.
type TaigaConfig struct {
	URL     string      `yaml:"url"`
	Project string      `yaml:"project"`
	Auth    Credentials `yaml:"auth"`
}

// AutoholdHookConfig configures one autohold hook instance.
type AutoholdHookConfig struct {
	Project string `yaml:"project"`
	When    string `yaml:"when"`
}

// DebugHookConfig configures one debug hook instance. The hook logs every
// Gerrit event it sees, so there is nothing to configure yet.
type DebugHookConfig struct{}

// LoadConfig loads the application configuration from a YAML file. It
// expands environment variables, applies defaults, and validates that every
// configured hook instance has what it needs.
func LoadConfig(path string) (Config, error) {
	var cfg Config
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}

	expanded := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return cfg, err
	}

	applyDefaults(&cfg)
	if err := cfg.validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	for i := range cfg.Hooks.Tracker {
		if cfg.Hooks.Tracker[i].Taiga.URL == "" {
			cfg.Hooks.Tracker[i].Taiga.URL = "https://api.taiga.io/api/v1"
		}
	}
	for i := range cfg.Hooks.Autohold {
		if cfg.Hooks.Autohold[i].Project == "" {
			cfg.Hooks.Autohold[i].Project = ".*"
		}
	}
	if cfg.SoftwareFactory.URL != "" {
		if cfg.SoftwareFactory.ManageSF == "" {
			cfg.SoftwareFactory.ManageSF = strings.TrimRight(cfg.SoftwareFactory.URL, "/") + "/manage"
		}
		if cfg.SoftwareFactory.Gerrit == "" {
			cfg.SoftwareFactory.Gerrit = strings.TrimRight(cfg.SoftwareFactory.URL, "/") + "/r/a/"
		}
	}
}

func (cfg Config) validate() error {
	total := len(cfg.Hooks.Tracker) + len(cfg.Hooks.Autohold) + len(cfg.Hooks.Debug)
	if total == 0 {
		return errors.New("no hooks configured")
	}
	for i, hook := range cfg.Hooks.Tracker {
		if hook.Project == "" {
			return fmt.Errorf("tracker hook %d is missing project", i)
		}
		if hook.Taiga.Project == "" {
			return fmt.Errorf("tracker hook %d is missing taiga project", i)
		}
		if hook.Taiga.Auth.Username == "" || hook.Taiga.Auth.Password == "" {
			return fmt.Errorf("tracker hook %d is missing taiga credentials", i)
		}
	}
	if len(cfg.Hooks.Autohold) > 0 {
		sf := cfg.SoftwareFactory
		if sf.URL == "" || sf.Auth.Username == "" || sf.Auth.Password == "" {
			return errors.New("autohold hooks require a softwarefactory url and credentials")
		}
	}
	return nil
}
