// Package config implements spec.md §4.K: a line-oriented key=value parser
// with a fixed set of recognised keys. Unrecognised keys are ignored, as
// the spec requires, so future versions can add keys without breaking
// older configs.
package config

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// EnvVar is the environment variable the loader reads the config path
// from (spec.md §6).
const EnvVar = "CHEEKY_LAYER_CONFIG"

// CompiledGrammarVersion is the rule-file grammar version this build of
// the layer understands (spec.md §9 Open Questions: "breaking grammar
// changes must bump a declared layer_version in config and be rejected by
// older layers"). Bump this alongside any breaking change to
// internal/rules/parser's grammar.
const CompiledGrammarVersion = "1"

// Config is the parsed, typed view of a layer.conf file.
type Config struct {
	Dump               bool
	DumpDirectory      string
	Override           bool
	OverrideDirectory  string
	LogFile            string
	RuleFile           string
	HookDraw           bool
	Application        string
	PluginDirectory    string
	DumpPNG            bool
	DumpPNGFlipped     bool
	OverridePNGFlipped bool

	// SingleQueueFamily preserves the original's undocumented behaviour of
	// always reporting a single queue family from
	// GetPhysicalDeviceQueueFamilyProperties[2] (spec.md §9 Open
	// Questions); default false since the reason for the original
	// behaviour was never documented.
	SingleQueueFamily bool

	// LayerVersion guards against loading a rule file written against a
	// future, incompatible grammar (spec.md §9 Open Questions). Defaults
	// to "1", the only grammar version this implementation understands.
	LayerVersion string

	// Unrecognised carries every key this parser doesn't special-case, in
	// case a plugin wants to read its own config keys out of the same
	// file.
	Unrecognised map[string]string
}

// Default returns the zero-value configuration with the few keys that
// must not be empty strings populated.
func Default() *Config {
	return &Config{
		LayerVersion: "1",
		Unrecognised: map[string]string{},
	}
}

// Load reads and parses the config file at path.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()
	return Parse(f)
}

// LoadFromEnv reads CHEEKY_LAYER_CONFIG and loads it; an unset variable
// yields the default (all-disabled) configuration, not an error, since a
// layer with no config file is a legitimate no-op deployment.
func LoadFromEnv() (*Config, error) {
	path := os.Getenv(EnvVar)
	if path == "" {
		return Default(), nil
	}
	return Load(path)
}

// Parse reads key=value lines from r. '#' starts a line comment; blank
// lines are ignored; unrecognised keys are kept in Unrecognised rather
// than rejected.
func Parse(r io.Reader) (*Config, error) {
	cfg := Default()
	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			return nil, fmt.Errorf("config:%d: expected key=value, got %q", lineNo, line)
		}
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)
		applyKey(cfg, key, value)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("config: scan: %w", err)
	}
	if cfg.LayerVersion != CompiledGrammarVersion {
		return nil, fmt.Errorf("config: layerVersion %q is not supported by this layer build (understands %q)",
			cfg.LayerVersion, CompiledGrammarVersion)
	}
	return cfg, nil
}

func applyKey(cfg *Config, key, value string) {
	switch key {
	case "dump":
		cfg.Dump = parseBool(value)
	case "dumpDirectory":
		cfg.DumpDirectory = value
	case "override":
		cfg.Override = parseBool(value)
	case "overrideDirectory":
		cfg.OverrideDirectory = value
	case "logFile":
		cfg.LogFile = value
	case "ruleFile":
		cfg.RuleFile = value
	case "hookDraw":
		cfg.HookDraw = parseBool(value)
	case "application":
		cfg.Application = value
	case "pluginDirectory":
		cfg.PluginDirectory = value
	case "dump_png":
		cfg.DumpPNG = parseBool(value)
	case "dump_png_flipped":
		cfg.DumpPNGFlipped = parseBool(value)
	case "override_png_flipped":
		cfg.OverridePNGFlipped = parseBool(value)
	case "singleQueueFamily":
		cfg.SingleQueueFamily = parseBool(value)
	case "layerVersion":
		cfg.LayerVersion = value
	default:
		cfg.Unrecognised[key] = value
	}
}

func parseBool(value string) bool {
	b, err := strconv.ParseBool(value)
	if err != nil {
		// Accept the common "yes"/"no"/"on"/"off" spellings config files in
		// the wild tend to use, on top of strconv.ParseBool's set.
		switch strings.ToLower(value) {
		case "yes", "on":
			return true
		case "no", "off":
			return false
		}
		return false
	}
	return b
}

// AppliesTo reports whether this config's application filter matches the
// host application name. An empty filter always matches (spec.md §4.K).
func (c *Config) AppliesTo(applicationName string) bool {
	return c.Application == "" || c.Application == applicationName
}
