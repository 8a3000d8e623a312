package config

import (
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/buildbuddy-io/redis-memory-usage/cli/log"

	yaml "gopkg.in/yaml.v2"
)

const (
	// Path where we expect to find the user's config, relative to the
	// user's home directory.
	HomeRelativeUserConfigPath = ".rmu.yaml"
)

// Config holds flag defaults read from the YAML config file. Every field
// corresponds to the command flag of the same name.
type Config struct {
	Src         string `yaml:"src,omitempty"`
	Dst         string `yaml:"dst,omitempty"`
	BatchSize   int    `yaml:"batch_size,omitempty"`
	ReportLimit int    `yaml:"report_limit,omitempty"`
	Flush       *bool  `yaml:"flush,omitempty"`
	Image       string `yaml:"image,omitempty"`
	Tag         string `yaml:"tag,omitempty"`
	Port        int    `yaml:"port,omitempty"`

	// Path is the file the config was read from, empty if none.
	Path string `yaml:"-"`
}

var current = &Config{}

// Current returns the config loaded by the CLI entrypoint.
func Current() *Config {
	return current
}

// SetCurrent makes cfg the config returned by Current.
func SetCurrent(cfg *Config) {
	if cfg == nil {
		cfg = &Config{}
	}
	current = cfg
}

// Load reads the config at path. An empty path selects ~/.rmu.yaml, which
// may be absent; an explicit path must exist.
func Load(path string) (*Config, error) {
	if path != "" {
		return LoadFile(path, true)
	}
	homeDir := os.Getenv("HOME")
	if homeDir == "" {
		log.Debugf("not reading ~/%s: $HOME environment variable is not set", HomeRelativeUserConfigPath)
		return &Config{}, nil
	}
	return LoadFile(filepath.Join(homeDir, HomeRelativeUserConfigPath), false)
}

// LoadFile reads a single config file. Environment variables like ${HOME}
// are expanded before decoding.
func LoadFile(path string, required bool) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) && !required {
			log.Debugf("%s not found", path)
			return &Config{}, nil
		}
		return nil, fmt.Errorf("read %q: %w", path, err)
	}
	log.Debugf("Reading %s", path)
	cfg := &Config{}
	s := os.ExpandEnv(string(b))
	// Decode YAML but ignore EOF errors, which happen when the file is empty.
	if err := yaml.NewDecoder(strings.NewReader(s)).Decode(cfg); err != nil && err != io.EOF {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	cfg.Path = path
	return cfg, nil
}

func (c *Config) values() map[string]string {
	v := map[string]string{}
	if c.Src != "" {
		v["src"] = c.Src
	}
	if c.Dst != "" {
		v["dst"] = c.Dst
	}
	if c.BatchSize != 0 {
		v["batch_size"] = strconv.Itoa(c.BatchSize)
	}
	if c.ReportLimit != 0 {
		v["limit"] = strconv.Itoa(c.ReportLimit)
	}
	if c.Flush != nil {
		v["flush"] = strconv.FormatBool(*c.Flush)
	}
	if c.Image != "" {
		v["image"] = c.Image
	}
	if c.Tag != "" {
		v["tag"] = c.Tag
	}
	if c.Port != 0 {
		v["port"] = strconv.Itoa(c.Port)
	}
	return v
}

// ApplyDefaults sets every flag of fs that was not given on the command
// line, and that the config has a value for, to the config value. It must
// be called after fs has been parsed.
func (c *Config) ApplyDefaults(fs *flag.FlagSet) error {
	explicit := map[string]bool{}
	fs.Visit(func(f *flag.Flag) { explicit[f.Name] = true })
	for name, value := range c.values() {
		if explicit[name] || fs.Lookup(name) == nil {
			continue
		}
		if err := fs.Set(name, value); err != nil {
			return fmt.Errorf("invalid %s in %s: %w", name, c.Path, err)
		}
	}
	return nil
}
