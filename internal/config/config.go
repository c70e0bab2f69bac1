package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
)

type Config struct {
	EngineBinary    string         `toml:"engine_binary"`
	AssemblerBinary string         `toml:"assembler_binary"`
	RosterPath      string         `toml:"roster_path"`
	OutDir          string         `toml:"out_dir"`
	DBPath          string         `toml:"db_path"`
	Seeds           string         `toml:"seeds"`
	Workers         int            `toml:"workers"`
	MatchTimeoutMS  int            `toml:"match_timeout_ms"`
	Visualize       bool           `toml:"visualize"`
	Bracket         bool           `toml:"bracket"`
	Engine          EngineConfig   `toml:"engine"`
	Raw             map[string]any `toml:"-"`
	Path            string         `toml:"-"`
}

// EngineConfig overrides the engine's stock match parameters. Zero values
// keep the defaults. Contract and headless declare what the installed engine
// build supports; arenactl never probes the engine to find out.
type EngineConfig struct {
	Contract        int    `toml:"contract"`
	Headless        bool   `toml:"headless"`
	ArenaSize       int    `toml:"arena_size"`
	TickBudget      int    `toml:"tick_budget"`
	WinMode         string `toml:"win_mode"`
	TerritoryWeight int    `toml:"territory_weight"`
	TerritoryBucket int    `toml:"territory_bucket"`
	SpawnOffsetA    int    `toml:"spawn_offset_a"`
	SpawnOffsetB    int    `toml:"spawn_offset_b"`
}

func Load(path string) (Config, error) {
	resolved := path
	if resolved == "" {
		resolved = defaultConfigPath()
	}
	if strings.HasPrefix(resolved, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return Config{}, fmt.Errorf("resolve home directory: %w", err)
		}
		trimmed := strings.TrimPrefix(resolved, "~")
		trimmed = strings.TrimPrefix(trimmed, "\\")
		trimmed = strings.TrimPrefix(trimmed, "/")
		resolved = filepath.Join(home, trimmed)
	}
	resolved = filepath.Clean(resolved)

	bytes, err := os.ReadFile(resolved)
	if err != nil {
		return Config{}, fmt.Errorf("read config file %s: %w", resolved, err)
	}

	var cfg Config
	if _, err := toml.Decode(string(bytes), &cfg); err != nil {
		return Config{}, fmt.Errorf("decode config file: %w", err)
	}
	var raw map[string]any
	if _, err := toml.Decode(string(bytes), &raw); err != nil {
		return Config{}, fmt.Errorf("decode raw config: %w", err)
	}
	cfg.Raw = raw
	cfg.Path = resolved
	return cfg, nil
}

func defaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".arenactl/config.toml"
	}
	return filepath.Join(home, ".arenactl", "config.toml")
}
