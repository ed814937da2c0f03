package discovery

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config describes where state files may live. MaxDepth is the number of
// directory levels entered below a root.
type Config struct {
	Roots          []string      `yaml:"roots"`
	Patterns       []string      `yaml:"patterns"`
	MaxDepth       int           `yaml:"max_depth"`
	WellKnown      []string      `yaml:"well_known"`
	RescanInterval time.Duration `yaml:"rescan_interval"`
}

// DefaultConfig covers the usual MetaTrader, cTrader and NinjaTrader
// shared-file locations on Windows, Wine and macOS.
func DefaultConfig() Config {
	return Config{
		Roots: []string{
			"$APPDATA/MetaQuotes/Terminal",
			"~/.wine/drive_c/users",
			"~/Library/Application Support",
		},
		Patterns: []string{
			"**/MQL4/Files/IPTRADECSV2*.csv",
			"**/MQL5/Files/IPTRADECSV2*.csv",
			"**/Common/Files/IPTRADECSV2*.csv",
		},
		MaxDepth: 12,
		WellKnown: []string{
			"$APPDATA/MetaQuotes/Terminal/Common/Files/IPTRADECSV2.csv",
			"~/Documents/NinjaTrader 8/IPTRADECSV2.csv",
			"~/Documents/cAlgo/Data/IPTRADECSV2.csv",
		},
		RescanInterval: 5 * time.Minute,
	}
}

// ConfigFile represents the top-level YAML structure.
type ConfigFile struct {
	Discovery Config `yaml:"discovery"`
}

// LoadConfig reads the search configuration from a YAML file. Fields left
// empty fall back to DefaultConfig.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}

	var file ConfigFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return Config{}, fmt.Errorf("parse %s: %w", path, err)
	}
	return file.Discovery.withDefaults(), nil
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if len(c.Roots) == 0 {
		c.Roots = def.Roots
	}
	if len(c.Patterns) == 0 {
		c.Patterns = def.Patterns
	}
	if c.MaxDepth <= 0 {
		c.MaxDepth = def.MaxDepth
	}
	if c.WellKnown == nil {
		c.WellKnown = def.WellKnown
	}
	if c.RescanInterval <= 0 {
		c.RescanInterval = def.RescanInterval
	}
	return c
}

// expandPath resolves a leading ~ and $VARS. ok is false when a referenced
// variable is unset, so "$APPDATA/x" is not mistaken for "/x" off Windows.
func expandPath(p string) (string, bool) {
	ok := true
	if p == "~" || strings.HasPrefix(p, "~/") {
		home, err := os.UserHomeDir()
		if err != nil || home == "" {
			return "", false
		}
		p = home + p[1:]
	}
	p = os.Expand(p, func(name string) string {
		v, set := os.LookupEnv(name)
		if !set || v == "" {
			ok = false
		}
		return v
	})
	if !ok {
		return "", false
	}
	return filepath.Clean(filepath.FromSlash(p)), true
}
