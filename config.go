package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	envBaseURL     = "DATASIGHT_BASE_URL"
	envBearerToken = "DATASIGHT_BEARER_TOKEN"
	envConfigPath  = "DATASIGHT_CONFIG"
)

// cliConfig is the file-backed configuration. The loader accepts YAML and,
// since YAML is a superset of JSON, the legacy config.json shape too.
type cliConfig struct {
	BaseURL     string `yaml:"base_url"`
	BearerToken string `yaml:"bearer_token"`
	Timeout     string `yaml:"timeout"`
	Insecure    bool   `yaml:"insecure"`
	HistoryDB   string `yaml:"history_db"`

	TimeoutDuration time.Duration `yaml:"-"`
	TimeoutSet      bool          `yaml:"-"`
}

func (c *cliConfig) normalize() error {
	if c == nil {
		return nil
	}
	if strings.TrimSpace(c.Timeout) == "" {
		return nil
	}
	parsed, err := time.ParseDuration(strings.TrimSpace(c.Timeout))
	if err != nil {
		return fmt.Errorf("invalid timeout: %w", err)
	}
	c.TimeoutDuration = parsed
	c.TimeoutSet = true
	return nil
}

func pickString(primary, secondary, fallback string) string {
	if strings.TrimSpace(primary) != "" {
		return primary
	}
	if strings.TrimSpace(secondary) != "" {
		return secondary
	}
	return fallback
}

func addConfigFlag(fs *flag.FlagSet, defaultPath string) *string {
	return fs.String("config", defaultPath, "Config file path (YAML or JSON)")
}

// resolveConfig loads the config file for a command before its FlagSet runs,
// scanning args for an explicit --config. A .env file in the working
// directory is folded into the environment first, so env fallbacks see it.
func resolveConfig(args []string) (*cliConfig, string, error) {
	_ = godotenv.Load()

	path, explicit, err := findConfigPath(args)
	if err != nil {
		return nil, "", err
	}
	if !explicit {
		if envPath := strings.TrimSpace(os.Getenv(envConfigPath)); envPath != "" {
			path = envPath
			explicit = true
		}
	}

	if strings.TrimSpace(path) == "" {
		path = defaultConfigPath()
	}

	if strings.TrimSpace(path) == "" {
		return &cliConfig{}, "", nil
	}

	expanded, err := expandPath(path)
	if err != nil {
		return nil, path, err
	}
	path = filepath.Clean(expanded)

	cfg, err := loadConfigFile(path)
	if err != nil {
		if !explicit && errors.Is(err, os.ErrNotExist) {
			return &cliConfig{}, path, nil
		}
		return nil, path, err
	}

	return cfg, path, nil
}

// defaultConfigPath prefers a config.json next to the invocation (the
// original tool's convention), then the per-user config directory.
func defaultConfigPath() string {
	if _, err := os.Stat("config.json"); err == nil {
		return "config.json"
	}
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "datasight", "config.yaml")
}

func findConfigPath(args []string) (string, bool, error) {
	for i := 0; i < len(args); i++ {
		arg := args[i]
		if arg == "--" {
			break
		}
		if arg == "--config" {
			if i+1 >= len(args) {
				return "", true, fmt.Errorf("--config requires a value")
			}
			value := strings.TrimSpace(args[i+1])
			if value == "" {
				return "", true, fmt.Errorf("--config requires a value")
			}
			return value, true, nil
		}
		if strings.HasPrefix(arg, "--config=") {
			value := strings.TrimSpace(strings.TrimPrefix(arg, "--config="))
			if value == "" {
				return "", true, fmt.Errorf("--config requires a value")
			}
			return value, true, nil
		}
	}
	return "", false, nil
}

func expandPath(path string) (string, error) {
	if path == "" {
		return "", nil
	}
	if path == "~" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		return home, nil
	}
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(home, path[2:]), nil
	}
	return path, nil
}

func loadConfigFile(path string) (*cliConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	if strings.TrimSpace(string(data)) == "" {
		return &cliConfig{}, nil
	}

	var cfg cliConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	if err := cfg.normalize(); err != nil {
		return nil, err
	}

	return &cfg, nil
}
