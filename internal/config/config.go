// Package config loads and edits ivaldi-objects configuration.
//
// Settings come from a global file in the user's home directory and a
// repository file under the store directory; repository values override
// global ones, which override the defaults. Files are YAML, so plain JSON
// is accepted too.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"sigs.k8s.io/yaml"

	"github.com/javanhut/Ivaldi-objects/internal/errors"
)

// Config represents ivaldi-objects configuration
type Config struct {
	User  UserConfig  `json:"user"`
	Core  CoreConfig  `json:"core"`
	Fetch FetchConfig `json:"fetch"`
	Log   LogConfig   `json:"log"`
	Color ColorConfig `json:"color"`
}

// UserConfig holds user identity information
type UserConfig struct {
	Name  string `json:"name,omitempty"`
	Email string `json:"email,omitempty"`
}

// CoreConfig names the store directory, relative to the working directory.
type CoreConfig struct {
	Store string `json:"store,omitempty"`
}

// FetchConfig tunes how missing objects are pulled from peers.
type FetchConfig struct {
	MaxRounds   int `json:"maxrounds"`
	BatchSize   int `json:"batchsize"`
	Concurrency int `json:"concurrency"`
}

type LogConfig struct {
	Verbosity int `json:"verbosity"`
}

type ColorConfig struct {
	UI bool `json:"ui"`
}

// DefaultStoreDir is the store directory used when core.store is unset.
const DefaultStoreDir = ".ivaldi-objects"

// DefaultConfig returns a config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Core: CoreConfig{Store: DefaultStoreDir},
		Fetch: FetchConfig{
			MaxRounds:   4,
			BatchSize:   64,
			Concurrency: 4,
		},
		Color: ColorConfig{UI: true},
	}
}

// GlobalPath returns the path of the global config file.
func GlobalPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, ".ivaldi-objects.yaml"), nil
}

// RepoPath returns the path of the repository config file inside storeDir.
func RepoPath(storeDir string) string {
	return filepath.Join(storeDir, "config.yaml")
}

// Load reads the defaults, then globalPath, then repoPath. Missing files
// are skipped; an empty path is treated as missing.
func Load(globalPath, repoPath string) (*Config, error) {
	cfg := DefaultConfig()
	for _, p := range []string{globalPath, repoPath} {
		if err := readInto(cfg, p); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

// readInto overlays the file at path onto cfg. Only keys present in the
// file are changed.
func readInto(cfg *Config, path string) error {
	if path == "" {
		return nil
	}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return errors.E(errors.Op("config.Load"), errors.Configuration, fmt.Errorf("parse %s: %w", path, err))
	}
	return nil
}

type field struct {
	get func(*Config) any
	set func(*Config, string) error
}

func stringField(p func(*Config) *string) field {
	return field{
		get: func(c *Config) any { return *p(c) },
		set: func(c *Config, v string) error { *p(c) = v; return nil },
	}
}

func intField(p func(*Config) *int, min int) field {
	return field{
		get: func(c *Config) any { return *p(c) },
		set: func(c *Config, v string) error {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("not an integer: %q", v)
			}
			if n < min {
				return fmt.Errorf("must be at least %d, got %d", min, n)
			}
			*p(c) = n
			return nil
		},
	}
}

func boolField(p func(*Config) *bool) field {
	return field{
		get: func(c *Config) any { return *p(c) },
		set: func(c *Config, v string) error {
			b, err := strconv.ParseBool(v)
			if err != nil {
				return fmt.Errorf("not a boolean: %q", v)
			}
			*p(c) = b
			return nil
		},
	}
}

var fields = map[string]field{
	"user.name":         stringField(func(c *Config) *string { return &c.User.Name }),
	"user.email":        stringField(func(c *Config) *string { return &c.User.Email }),
	"core.store":        stringField(func(c *Config) *string { return &c.Core.Store }),
	"fetch.maxrounds":   intField(func(c *Config) *int { return &c.Fetch.MaxRounds }, 0),
	"fetch.batchsize":   intField(func(c *Config) *int { return &c.Fetch.BatchSize }, 1),
	"fetch.concurrency": intField(func(c *Config) *int { return &c.Fetch.Concurrency }, 1),
	"log.verbosity":     intField(func(c *Config) *int { return &c.Log.Verbosity }, 0),
	"color.ui":          boolField(func(c *Config) *bool { return &c.Color.UI }),
}

// Keys lists every supported key in sorted order.
func Keys() []string {
	out := make([]string, 0, len(fields))
	for k := range fields {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func lookup(op errors.Op, key string) (field, error) {
	if len(strings.Split(key, ".")) != 2 {
		return field{}, errors.E(op, errors.Configuration, "invalid config key: %s (expected format: section.key)", key)
	}
	f, ok := fields[strings.ToLower(key)]
	if !ok {
		return field{}, errors.E(op, errors.NotFound, "unknown config key: %s", key)
	}
	return f, nil
}

// GetValue retrieves a configuration value by key (e.g., "user.name")
func GetValue(cfg *Config, key string) (string, error) {
	f, err := lookup("config.GetValue", key)
	if err != nil {
		return "", err
	}
	return fmt.Sprint(f.get(cfg)), nil
}

// SetValue sets key in the file at path. Other keys in the file are kept
// as they are and unset keys stay unset.
func SetValue(path, key, value string) error {
	const op errors.Op = "config.SetValue"
	f, err := lookup(op, key)
	if err != nil {
		return err
	}
	scratch := DefaultConfig()
	if err := f.set(scratch, value); err != nil {
		return errors.E(op, errors.Configuration, fmt.Errorf("%s: %w", key, err))
	}

	doc := map[string]map[string]any{}
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return errors.E(op, errors.Configuration, fmt.Errorf("parse %s: %w", path, err))
		}
	case !os.IsNotExist(err):
		return fmt.Errorf("failed to read config %s: %w", path, err)
	}
	section, name, _ := strings.Cut(strings.ToLower(key), ".")
	if doc[section] == nil {
		doc[section] = map[string]any{}
	}
	doc[section][name] = f.get(scratch)

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	out, err := yaml.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	return os.WriteFile(path, out, 0644)
}
