package core

import (
	"fmt"
	"os"

	"github.com/pelletier/go-toml/v2"
)

type LogConfig struct {
	/** @brief One of debug, info, warn, error. */
	Level string `toml:"level"`
}

type JobsConfig struct {
	/** @brief Number of worker goroutines running instantiation tasks. */
	Workers int `toml:"workers"`
	/** @brief Capacity of the pending task channel. */
	QueueSize int `toml:"queue_size"`
}

type StreamingConfig struct {
	/** @brief Total GPU budget for streamed assets in MiB. 0 picks half of the largest device-local heap. */
	BudgetMiB uint64 `toml:"budget_mib"`
	/** @brief Estimated cost that may be activated in a single iteration, in bytes. */
	BudgetPerIteration uint64 `toml:"budget_per_iteration"`
	/** @brief auto, encoded, decoded or classic. */
	MeshEncoding string `toml:"mesh_encoding"`
	/** @brief wireframe, untextured, textured or skinned. */
	MeshStyle string `toml:"mesh_style"`
	/** @brief Directory watched for hot reload. Empty disables watching. */
	WatchDir string `toml:"watch_dir"`
}

type ArenaConfig struct {
	/** @brief Number of slice allocator tiers. Sub-blocks grow by 32x per tier. */
	Tiers uint32 `toml:"tiers"`
	/** @brief Chunk groups (32 meshlets each) reserved up front in every mesh arena. */
	PrimeChunks uint32 `toml:"prime_chunks"`
}

type Config struct {
	Log       LogConfig       `toml:"log"`
	Jobs      JobsConfig      `toml:"jobs"`
	Streaming StreamingConfig `toml:"streaming"`
	Arena     ArenaConfig     `toml:"arena"`
}

func DefaultConfig() *Config {
	return &Config{
		Log: LogConfig{
			Level: "info",
		},
		Jobs: JobsConfig{
			Workers:   4,
			QueueSize: 256,
		},
		Streaming: StreamingConfig{
			BudgetPerIteration: 2 * 1000 * 1000,
			MeshEncoding:       "auto",
			MeshStyle:          "textured",
		},
		Arena: ArenaConfig{
			Tiers:       2,
			PrimeChunks: 0,
		},
	}
}

// ParseConfig overlays the TOML document on top of DefaultConfig.
func ParseConfig(data []byte) (*Config, error) {
	cfg := DefaultConfig()
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse streaming config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read streaming config '%s': %w", path, err)
	}
	return ParseConfig(data)
}

func (c *Config) Validate() error {
	if c.Jobs.Workers <= 0 {
		return fmt.Errorf("jobs.workers must be > 0, got %d", c.Jobs.Workers)
	}
	if c.Jobs.QueueSize < 0 {
		return fmt.Errorf("jobs.queue_size must be >= 0, got %d", c.Jobs.QueueSize)
	}
	if c.Arena.Tiers == 0 || c.Arena.Tiers > 4 {
		return fmt.Errorf("arena.tiers must be within [1, 4], got %d", c.Arena.Tiers)
	}
	switch c.Streaming.MeshEncoding {
	case "auto", "encoded", "decoded", "classic":
	default:
		return fmt.Errorf("unknown streaming.mesh_encoding '%s'", c.Streaming.MeshEncoding)
	}
	switch c.Streaming.MeshStyle {
	case "wireframe", "untextured", "textured", "skinned":
	default:
		return fmt.Errorf("unknown streaming.mesh_style '%s'", c.Streaming.MeshStyle)
	}
	return nil
}
