// Package config – loader.go reads config.yaml with environment variable
// expansion. .env and .env.local are loaded first and never override
// variables already set in the process environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// envVarPattern matches environment variable references in config values:
//   - ${VAR_NAME}          simple variable
//   - ${VAR_NAME:-default} default value if not set
//   - ${VAR_NAME:?error}   error message if not set
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::(-|\?)([^}]*))?\}`)

// Load reads the config file at path. An empty path searches the standard
// locations; if none exists the defaults are returned.
func Load(path string) (*Config, error) {
	loadEnvFiles()

	if path == "" {
		path = FindConfigFile()
		if path == "" {
			cfg := DefaultConfig()
			cfg.resolve("")
			return cfg, nil
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	expanded, err := ExpandEnv(string(data))
	if err != nil {
		return nil, fmt.Errorf("expanding environment variables: %w", err)
	}

	cfg, err := Parse([]byte(expanded))
	if err != nil {
		return nil, err
	}
	cfg.resolve(filepath.Dir(path))
	return cfg, nil
}

// Parse maps YAML onto the defaults.
func Parse(data []byte) (*Config, error) {
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config YAML: %w", err)
	}
	return cfg, nil
}

// ExpandEnv substitutes ${VAR} references. A ${VAR:?message} whose
// variable is unset or empty is an error.
func ExpandEnv(input string) (string, error) {
	var errs []error
	out := envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		m := envVarPattern.FindStringSubmatch(match)
		name, modifier, arg := m[1], m[2], m[3]
		val, set := os.LookupEnv(name)
		if set && val != "" {
			return val
		}
		switch modifier {
		case "-":
			return arg
		case "?":
			if arg == "" {
				arg = "required environment variable not set"
			}
			errs = append(errs, fmt.Errorf("%s: %s", name, arg))
		}
		return ""
	})
	if len(errs) > 0 {
		return "", errors.Join(errs...)
	}
	return out, nil
}

// FindConfigFile searches for config files in standard locations.
func FindConfigFile() string {
	candidates := []string{
		"config.yaml",
		"config.yml",
		"pocketclaw.yaml",
		"pocketclaw.yml",
		"configs/config.yaml",
	}
	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// Save writes cfg as YAML with owner-only permissions.
func Save(cfg *Config, path string) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	return nil
}

// resolve fills derived paths and makes relative paths relative to the
// config file's directory.
func (c *Config) resolve(baseDir string) {
	abs := func(p string) string {
		if p == "" || filepath.IsAbs(p) || baseDir == "" {
			return p
		}
		return filepath.Join(baseDir, p)
	}

	c.DataDir = abs(c.DataDir)
	if c.Database.Backend == "" || c.Database.Backend == "sqlite" {
		if c.Database.Path == "" {
			c.Database.Path = filepath.Join(c.DataDir, "pocketclaw.db")
		} else {
			c.Database.Path = abs(c.Database.Path)
		}
	}
	if c.Channels.WhatsApp.SessionDB == "" {
		c.Channels.WhatsApp.SessionDB = filepath.Join(c.DataDir, "whatsapp.db")
	} else {
		c.Channels.WhatsApp.SessionDB = abs(c.Channels.WhatsApp.SessionDB)
	}
	c.Skills.Dir = abs(c.Skills.Dir)
	c.Logging.Level = strings.ToLower(c.Logging.Level)
}

// loadEnvFiles loads .env files from the working directory. godotenv.Load
// does not overwrite variables that are already set.
func loadEnvFiles() {
	for _, f := range []string{".env", ".env.local"} {
		_ = godotenv.Load(f)
	}
}
