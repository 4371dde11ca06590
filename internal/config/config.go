package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Config holds all synapse configuration.
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Logging       LoggingConfig       `yaml:"logging"`
	Archive       ArchiveConfig       `yaml:"archive"`
	Embedder      EmbedderConfig      `yaml:"embedder"`
	Engine        EngineConfig        `yaml:"engine"`
	Consolidation ConsolidationConfig `yaml:"consolidation"`
}

type ServerConfig struct {
	Bind string `yaml:"bind"`
	Port int    `yaml:"port"`
}

type LoggingConfig struct {
	Env   string `yaml:"env"`   // "production" or "development"
	Level string `yaml:"level"` // zap level string
}

type ArchiveConfig struct {
	Path string `yaml:"path"` // sqlite archive path; empty disables archiving
	Keep int    `yaml:"keep"` // snapshots retained after pruning
}

type EmbedderConfig struct {
	OllamaURL  string `yaml:"ollama_url"`
	Model      string `yaml:"model"`
	Dimensions int    `yaml:"dimensions"` // hash fallback dimension
}

// EngineConfig mirrors engine.Params in file form.
type EngineConfig struct {
	RelationThreshold      float64 `yaml:"relation_threshold"`
	RelevanceThreshold     float64 `yaml:"relevance_threshold"`
	ClusterThreshold       float64 `yaml:"cluster_threshold"`
	DecayRate              float64 `yaml:"decay_rate"`
	ReinforcementBoost     float64 `yaml:"reinforcement_boost"`
	ImportanceFloor        float64 `yaml:"importance_floor"`
	DecayDeleteImportance  float64 `yaml:"decay_delete_importance"`
	DecayDeleteAgeDays     int     `yaml:"decay_delete_age_days"`
	StrongImportance       float64 `yaml:"strong_importance"`
	RelationBoost          float64 `yaml:"relation_boost"`
	PruneThreshold         float64 `yaml:"prune_threshold"`
	ConsolidationThreshold int     `yaml:"consolidation_threshold"`
}

type ConsolidationConfig struct {
	Schedule string `yaml:"schedule"` // standard 5-field cron; empty disables the sweep
}

// Default returns a Config with sensible defaults.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Bind: "127.0.0.1",
			Port: 37900,
		},
		Logging: LoggingConfig{
			Env:   "production",
			Level: "info",
		},
		Archive: ArchiveConfig{
			Path: "", // resolved at runtime via store.DefaultArchivePath()
			Keep: 5,
		},
		Embedder: EmbedderConfig{
			OllamaURL:  "http://localhost:11434",
			Model:      "nomic-embed-text",
			Dimensions: 256,
		},
		Engine: EngineConfig{
			RelationThreshold:      0.75,
			RelevanceThreshold:     0.3,
			ClusterThreshold:       0.85,
			DecayRate:              0.01,
			ReinforcementBoost:     0.1,
			ImportanceFloor:        0.1,
			DecayDeleteImportance:  0.2,
			DecayDeleteAgeDays:     30,
			StrongImportance:       0.7,
			RelationBoost:          1.1,
			PruneThreshold:         0.2,
			ConsolidationThreshold: 100,
		},
		Consolidation: ConsolidationConfig{
			Schedule: "", // on-threshold only unless scheduled
		},
	}
}

// Load builds the effective config: defaults, then the YAML file at path
// (or $SYNAPSE_CONFIG when path is empty; a missing file is not an error),
// then SYNAPSE_* environment overrides.
func Load(path string) (Config, error) {
	cfg := Default()

	if path == "" {
		path = os.Getenv("SYNAPSE_CONFIG")
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return cfg, fmt.Errorf("read config %s: %w", path, err)
			}
		} else if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	applyEnv(&cfg)
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("SYNAPSE_BIND"); v != "" {
		cfg.Server.Bind = v
	}
	if v := os.Getenv("SYNAPSE_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("SYNAPSE_LOG_ENV"); v != "" {
		cfg.Logging.Env = v
	}
	if v := os.Getenv("SYNAPSE_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("SYNAPSE_ARCHIVE"); v != "" {
		cfg.Archive.Path = v
	}
	if v := os.Getenv("SYNAPSE_OLLAMA_URL"); v != "" {
		cfg.Embedder.OllamaURL = v
	}
	if v := os.Getenv("SYNAPSE_EMBED_MODEL"); v != "" {
		cfg.Embedder.Model = v
	}
	if v := os.Getenv("SYNAPSE_SCHEDULE"); v != "" {
		cfg.Consolidation.Schedule = v
	}
}

// ListenAddr returns the bind:port address string.
func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.Server.Bind, c.Server.Port)
}
