// Package config loads pipeline configuration from the environment and
// optional .env files.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/goliatone/go-sceneexport/scene"
	"github.com/joho/godotenv"
)

// Engine names accepted by SCENE_ENGINE.
const (
	EngineMemory   = "memory"
	EngineChromium = "chromium"
)

// legacyAliases maps older variable names onto their SCENE_* equivalent.
var legacyAliases = map[string]string{
	"LICENSE_KEY":    "SCENE_LICENSE",
	"CESDK_BASE_URL": "SCENE_ASSET_BASE_URL",
}

// Config holds process configuration.
type Config struct {
	License         string        `env:"SCENE_LICENSE"`
	AssetBaseURL    string        `env:"SCENE_ASSET_BASE_URL"`
	UserID          string        `env:"SCENE_USER_ID"`
	Engine          string        `env:"SCENE_ENGINE" envDefault:"memory"`
	OutputDir       string        `env:"SCENE_OUTPUT_DIR" envDefault:"assets"`
	ExclusiveWrites bool          `env:"SCENE_EXCLUSIVE_WRITES"`
	WriteMetadata   bool          `env:"SCENE_WRITE_METADATA"`
	HistoryDB       string        `env:"SCENE_HISTORY_DB"`
	LogLevel        string        `env:"SCENE_LOG_LEVEL" envDefault:"info"`
	ChromiumPath    string        `env:"SCENE_CHROMIUM_PATH"`
	ChromiumArgs    []string      `env:"SCENE_CHROMIUM_ARGS" envSeparator:","`
	ChromiumHeaded  bool          `env:"SCENE_CHROMIUM_HEADFUL"`
	RenderTimeout   time.Duration `env:"SCENE_RENDER_TIMEOUT" envDefault:"30s"`
}

// Load reads the given .env files, overlays the process environment and
// parses the result. Process variables always win over file values.
func Load(envFiles ...string) (Config, error) {
	vars := map[string]string{}
	files := make([]string, 0, len(envFiles))
	for _, file := range envFiles {
		if strings.TrimSpace(file) != "" {
			files = append(files, file)
		}
	}
	if len(files) > 0 {
		fileVars, err := godotenv.Read(files...)
		if err != nil {
			return Config{}, scene.NewError(scene.KindConfiguration, fmt.Sprintf("load env files %s", strings.Join(files, ", ")), err)
		}
		for k, v := range fileVars {
			vars[k] = v
		}
	}
	for _, kv := range os.Environ() {
		key, value, ok := strings.Cut(kv, "=")
		if ok {
			vars[key] = value
		}
	}
	return Parse(vars)
}

// Parse builds a Config from an explicit variable map.
func Parse(vars map[string]string) (Config, error) {
	resolved := make(map[string]string, len(vars))
	for k, v := range vars {
		resolved[k] = v
	}
	for legacy, current := range legacyAliases {
		if strings.TrimSpace(resolved[current]) == "" && strings.TrimSpace(resolved[legacy]) != "" {
			resolved[current] = resolved[legacy]
		}
	}

	var cfg Config
	if err := env.ParseWithOptions(&cfg, env.Options{Environment: resolved}); err != nil {
		return Config{}, scene.NewError(scene.KindConfiguration, "parse environment", err)
	}
	cfg.Engine = strings.ToLower(strings.TrimSpace(cfg.Engine))
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks settings that do not depend on the command being run.
// The license is checked by SessionConfig before any engine call.
func (c Config) Validate() error {
	switch c.Engine {
	case EngineMemory, EngineChromium:
	default:
		return scene.NewError(scene.KindConfiguration, fmt.Sprintf("unknown engine %q (want %s or %s)", c.Engine, EngineMemory, EngineChromium), nil)
	}
	if strings.TrimSpace(c.OutputDir) == "" {
		return scene.NewError(scene.KindConfiguration, "output directory is required", nil)
	}
	if c.RenderTimeout < 0 {
		return scene.NewError(scene.KindConfiguration, "render timeout must not be negative", nil)
	}
	return nil
}

// SessionConfig returns the engine initialization inputs.
func (c Config) SessionConfig() scene.SessionConfig {
	return scene.SessionConfig{
		License: c.License,
		BaseURL: c.AssetBaseURL,
		UserID:  c.UserID,
	}
}
