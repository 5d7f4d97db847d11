package scheduler

import (
	"os"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Config is immutable once loaded for a server lifetime, modulo an
// explicit reload that swaps the whole value out from under a *Config
// pointer held by the Spawner.
type Config struct {
	MaxBotsTotal   int `json:"max_bots_total"`
	MaxBotsPerZone int `json:"max_bots_per_zone"`
	MaxBotsPerMap  int `json:"max_bots_per_map"`

	SpawnBatchSize int `json:"spawn_batch_size"`
	SpawnDelayMs   int `json:"spawn_delay_ms"`

	EnableDynamicSpawning bool `json:"enable_dynamic_spawning"`
	RespectPopulationCaps bool `json:"respect_population_caps"`
	SpawnOnServerStart    bool `json:"spawn_on_server_start"`

	BotToPlayerRatio   float64 `json:"bot_to_player_ratio"`
	MinimumBotsPerZone int     `json:"minimum_bots_per_zone"`
	AutoCreateCharacters bool  `json:"auto_create_characters"`

	// MaxCharactersPerAccount is the hard per-account character limit
	// enforced during character creation (§4.6.e step 2). The spec fixes
	// this at 10; it is still a field so tests can shrink it.
	MaxCharactersPerAccount int `json:"max_characters_per_account"`
}

// DefaultConfig returns conservative defaults matching the spec's examples.
func DefaultConfig() Config {
	return Config{
		MaxBotsTotal:            5000,
		MaxBotsPerZone:          200,
		MaxBotsPerMap:           1000,
		SpawnBatchSize:          10,
		SpawnDelayMs:            100,
		EnableDynamicSpawning:   true,
		RespectPopulationCaps:   true,
		SpawnOnServerStart:      true,
		BotToPlayerRatio:        0.5,
		MinimumBotsPerZone:      0,
		AutoCreateCharacters:    true,
		MaxCharactersPerAccount: 10,
	}
}

// LoadConfig reads a JSON-encoded Config from path, falling back to
// DefaultConfig for any zero-valued field the file omits by decoding over
// a default-initialized value.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	f, err := os.Open(path)
	if err != nil {
		return Config{}, err
	}
	defer f.Close()

	if err := json.NewDecoder(f).Decode(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
