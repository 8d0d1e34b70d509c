package localstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/natefinch/atomic"
	"github.com/tailscale/hujson"
)

// Config holds the engine-level options the sync engine (or cmd/localstore)
// resolves before constructing a [LocalStore]/Persistence pair.
type Config struct {
	EnginePath          string        `json:"engine_path"` //nolint:tagliatelle
	GCTargetBytes       int64         `json:"gc_target_bytes,omitempty"`
	ResumeTokenStaleAge time.Duration `json:"resume_token_stale_age,omitempty"`
	TransactionTimeout  time.Duration `json:"transaction_timeout,omitempty"`
}

// ConfigFileName is the default project config file name.
const ConfigFileName = ".localstore.json"

// DefaultConfig returns the built-in defaults, the lowest-precedence layer
// loaded by [LoadConfig].
func DefaultConfig() Config {
	return Config{
		EnginePath:          ".localstore/store.db",
		GCTargetBytes:       64 << 20,
		ResumeTokenStaleAge: targetDataPersistStaleness,
		TransactionTimeout:  30 * time.Second,
	}
}

var (
	errConfigFileNotFound = errors.New("config file not found")
	errConfigFileRead     = errors.New("failed to read config file")
	errConfigInvalid      = errors.New("invalid config file")
	errEnginePathEmpty    = errors.New("engine_path must not be empty")
)

// ConfigSources reports which files contributed to a loaded [Config].
type ConfigSources struct {
	Global  string
	Project string
}

// LoadConfig resolves configuration with the following precedence, highest
// wins: (1) DefaultConfig, (2) the global user config
// (~/.config/localstore/config.json, or $XDG_CONFIG_HOME/localstore/config.json),
// (3) the project config at workDir/.localstore.json, or an explicit
// configPath if non-empty, (4) cliOverrides for fields the caller marks set.
func LoadConfig(workDir, configPath string, cliOverrides Config, hasEnginePathOverride bool, env []string) (Config, ConfigSources, error) {
	cfg := DefaultConfig()

	var sources ConfigSources

	globalCfg, globalPath, err := loadGlobalConfig(env)
	if err != nil {
		return Config{}, ConfigSources{}, err
	}

	sources.Global = globalPath
	cfg = mergeConfig(cfg, globalCfg)

	projectCfg, projectPath, err := loadProjectConfig(workDir, configPath)
	if err != nil {
		return Config{}, ConfigSources{}, err
	}

	sources.Project = projectPath
	cfg = mergeConfig(cfg, projectCfg)

	if hasEnginePathOverride {
		cfg.EnginePath = cliOverrides.EnginePath
	}

	if err := validateConfig(cfg); err != nil {
		return Config{}, ConfigSources{}, err
	}

	return cfg, sources, nil
}

func getGlobalConfigPath(env []string) string {
	for _, e := range env {
		if after, ok := strings.CutPrefix(e, "XDG_CONFIG_HOME="); ok {
			return filepath.Join(after, "localstore", "config.json")
		}
	}

	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "localstore", "config.json")
	}

	home, err := os.UserHomeDir()
	if err == nil {
		return filepath.Join(home, ".config", "localstore", "config.json")
	}

	return ""
}

func loadGlobalConfig(env []string) (Config, string, error) {
	path := getGlobalConfigPath(env)
	if path == "" {
		return Config{}, "", nil
	}

	cfg, loaded, err := loadConfigFile(path, false)
	if err != nil {
		return Config{}, "", err
	}

	if !loaded {
		return Config{}, "", nil
	}

	return cfg, path, nil
}

func loadProjectConfig(workDir, configPath string) (Config, string, error) {
	var cfgFile string

	var mustExist bool

	if configPath != "" {
		cfgFile = configPath
		if !filepath.IsAbs(cfgFile) {
			cfgFile = filepath.Join(workDir, cfgFile)
		}

		mustExist = true

		if _, err := os.Stat(cfgFile); err != nil {
			return Config{}, "", fmt.Errorf("%w: %s", errConfigFileNotFound, configPath)
		}
	} else {
		cfgFile = filepath.Join(workDir, ConfigFileName)
		mustExist = false
	}

	cfg, loaded, err := loadConfigFile(cfgFile, mustExist)
	if err != nil {
		return Config{}, "", err
	}

	if !loaded {
		return Config{}, "", nil
	}

	return cfg, cfgFile, nil
}

func loadConfigFile(path string, mustExist bool) (Config, bool, error) {
	data, err := os.ReadFile(path) //nolint:gosec
	if err != nil {
		if os.IsNotExist(err) && !mustExist {
			return Config{}, false, nil
		}

		if mustExist {
			return Config{}, false, fmt.Errorf("%w: %s", errConfigFileRead, path)
		}

		return Config{}, false, nil
	}

	cfg, err := parseConfig(data)
	if err != nil {
		return Config{}, false, fmt.Errorf("%w %s: %w", errConfigInvalid, path, err)
	}

	return cfg, true, nil
}

func parseConfig(data []byte) (Config, error) {
	standardized, err := hujson.Standardize(data)
	if err != nil {
		return Config{}, fmt.Errorf("invalid JSONC: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(standardized, &cfg); err != nil {
		return Config{}, fmt.Errorf("invalid JSON: %w", err)
	}

	return cfg, nil
}

func mergeConfig(base, overlay Config) Config {
	if overlay.EnginePath != "" {
		base.EnginePath = overlay.EnginePath
	}

	if overlay.GCTargetBytes != 0 {
		base.GCTargetBytes = overlay.GCTargetBytes
	}

	if overlay.ResumeTokenStaleAge != 0 {
		base.ResumeTokenStaleAge = overlay.ResumeTokenStaleAge
	}

	if overlay.TransactionTimeout != 0 {
		base.TransactionTimeout = overlay.TransactionTimeout
	}

	return base
}

func validateConfig(cfg Config) error {
	if cfg.EnginePath == "" {
		return errEnginePathEmpty
	}

	return nil
}

// FormatConfig renders cfg as indented JSON, for `localstore config show`.
func FormatConfig(cfg Config) (string, error) {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return "", fmt.Errorf("format config: %w", err)
	}

	return string(data), nil
}

// WriteProjectConfig writes cfg to workDir/[ConfigFileName], replacing any
// existing file atomically so a crash or concurrent reader never observes a
// half-written config.
func WriteProjectConfig(workDir string, cfg Config) error {
	data, err := FormatConfig(cfg)
	if err != nil {
		return err
	}

	path := filepath.Join(workDir, ConfigFileName)

	if err := atomic.WriteFile(path, strings.NewReader(data)); err != nil {
		return fmt.Errorf("write project config: %w", err)
	}

	return nil
}
