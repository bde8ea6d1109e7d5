package config

import (
	"fmt"
	"strconv"
)

// Config represents the persistent engram configuration stored as config.toml
// in the .engram/ directory. The TOML layout uses sections for logical grouping.
type Config struct {
	Version   int             `toml:"version"`
	Storage   StorageConfig   `toml:"storage"`
	API       APIConfig       `toml:"api"`
	Embedding EmbeddingConfig `toml:"embedding"`
	Decay     DecayConfig     `toml:"decay"`
	Search    SearchConfig    `toml:"search"`
	Events    EventsConfig    `toml:"events"`
}

// StorageConfig selects and configures the store backend.
type StorageConfig struct {
	// Provider selects the backend: "sqlite", "postgres", "neo4j", or "memory".
	Provider string `toml:"provider,omitempty"`

	// SQLitePath is the database file path for the sqlite provider.
	SQLitePath string `toml:"sqlite_path,omitempty"`

	// PostgresURL is the connection string for the postgres provider.
	PostgresURL string `toml:"postgres_url,omitempty"`

	// Neo4j connection settings for the neo4j provider.
	Neo4jURI      string `toml:"neo4j_uri,omitempty"`
	Neo4jUsername string `toml:"neo4j_username,omitempty"`
	Neo4jPassword string `toml:"neo4j_password,omitempty"`
}

// APIConfig holds HTTP and MCP server settings.
type APIConfig struct {
	Listen string `toml:"listen,omitempty"`
}

// EmbeddingConfig holds embedding provider settings.
type EmbeddingConfig struct {
	Provider   string `toml:"provider,omitempty"`
	Target     string `toml:"target,omitempty"`
	Model      string `toml:"model,omitempty"`
	Dimensions uint   `toml:"dimensions,omitempty"`
}

// DecayConfig holds confidence decay tuning.
type DecayConfig struct {
	Enabled       bool    `toml:"enabled,omitempty"`
	HalfLifeDays  float64 `toml:"half_life_days,omitempty"`
	MinConfidence float64 `toml:"min_confidence,omitempty"`
}

// SearchConfig holds retrieval tuning.
type SearchConfig struct {
	MinSimilarity float64 `toml:"min_similarity,omitempty"`
	DefaultLimit  int     `toml:"default_limit,omitempty"`
}

// EventsConfig holds mutation event stream settings.
type EventsConfig struct {
	// Provider selects the publisher: "none" or "kafka".
	Provider string `toml:"provider,omitempty"`

	// Brokers is the comma-separated Kafka broker list.
	Brokers string `toml:"brokers,omitempty"`

	// Topic overrides the default mutation topic.
	Topic string `toml:"topic,omitempty"`
}

// configKeyInfo maps a user-facing dotted key name to a getter and setter on *Config.
type configKeyInfo struct {
	get func(c *Config) string
	set func(c *Config, v string) error
}

// configKeys is the authoritative map of all supported config keys.
// Keys use dotted notation matching the TOML section structure.
var configKeys = map[string]configKeyInfo{
	"storage.provider": {
		get: func(c *Config) string { return c.Storage.Provider },
		set: func(c *Config, v string) error { c.Storage.Provider = v; return nil },
	},
	"storage.sqlite_path": {
		get: func(c *Config) string { return c.Storage.SQLitePath },
		set: func(c *Config, v string) error { c.Storage.SQLitePath = v; return nil },
	},
	"storage.postgres_url": {
		get: func(c *Config) string { return c.Storage.PostgresURL },
		set: func(c *Config, v string) error { c.Storage.PostgresURL = v; return nil },
	},
	"storage.neo4j_uri": {
		get: func(c *Config) string { return c.Storage.Neo4jURI },
		set: func(c *Config, v string) error { c.Storage.Neo4jURI = v; return nil },
	},
	"storage.neo4j_username": {
		get: func(c *Config) string { return c.Storage.Neo4jUsername },
		set: func(c *Config, v string) error { c.Storage.Neo4jUsername = v; return nil },
	},
	"storage.neo4j_password": {
		get: func(c *Config) string { return c.Storage.Neo4jPassword },
		set: func(c *Config, v string) error { c.Storage.Neo4jPassword = v; return nil },
	},
	"api.listen": {
		get: func(c *Config) string { return c.API.Listen },
		set: func(c *Config, v string) error { c.API.Listen = v; return nil },
	},
	"embedding.provider": {
		get: func(c *Config) string { return c.Embedding.Provider },
		set: func(c *Config, v string) error { c.Embedding.Provider = v; return nil },
	},
	"embedding.target": {
		get: func(c *Config) string { return c.Embedding.Target },
		set: func(c *Config, v string) error { c.Embedding.Target = v; return nil },
	},
	"embedding.model": {
		get: func(c *Config) string { return c.Embedding.Model },
		set: func(c *Config, v string) error { c.Embedding.Model = v; return nil },
	},
	"embedding.dimensions": {
		get: func(c *Config) string {
			if c.Embedding.Dimensions == 0 {
				return ""
			}
			return strconv.FormatUint(uint64(c.Embedding.Dimensions), 10)
		},
		set: func(c *Config, v string) error {
			n, err := strconv.ParseUint(v, 10, 64)
			if err != nil {
				return fmt.Errorf("invalid value for embedding.dimensions: %w", err)
			}
			c.Embedding.Dimensions = uint(n)
			return nil
		},
	},
	"decay.enabled": {
		get: func(c *Config) string { return strconv.FormatBool(c.Decay.Enabled) },
		set: func(c *Config, v string) error {
			b, err := strconv.ParseBool(v)
			if err != nil {
				return fmt.Errorf("invalid value for decay.enabled: %w", err)
			}
			c.Decay.Enabled = b
			return nil
		},
	},
	"decay.half_life_days": {
		get: func(c *Config) string { return formatFloat(c.Decay.HalfLifeDays) },
		set: func(c *Config, v string) error {
			f, err := strconv.ParseFloat(v, 64)
			if err != nil || f <= 0 {
				return fmt.Errorf("invalid value for decay.half_life_days: %q", v)
			}
			c.Decay.HalfLifeDays = f
			return nil
		},
	},
	"decay.min_confidence": {
		get: func(c *Config) string { return formatFloat(c.Decay.MinConfidence) },
		set: func(c *Config, v string) error {
			f, err := strconv.ParseFloat(v, 64)
			if err != nil || f < 0 || f > 1 {
				return fmt.Errorf("invalid value for decay.min_confidence: %q", v)
			}
			c.Decay.MinConfidence = f
			return nil
		},
	},
	"search.min_similarity": {
		get: func(c *Config) string { return formatFloat(c.Search.MinSimilarity) },
		set: func(c *Config, v string) error {
			f, err := strconv.ParseFloat(v, 64)
			if err != nil || f < 0 || f > 1 {
				return fmt.Errorf("invalid value for search.min_similarity: %q", v)
			}
			c.Search.MinSimilarity = f
			return nil
		},
	},
	"search.default_limit": {
		get: func(c *Config) string { return strconv.Itoa(c.Search.DefaultLimit) },
		set: func(c *Config, v string) error {
			n, err := strconv.Atoi(v)
			if err != nil || n <= 0 {
				return fmt.Errorf("invalid value for search.default_limit: %q", v)
			}
			c.Search.DefaultLimit = n
			return nil
		},
	},
	"events.provider": {
		get: func(c *Config) string { return c.Events.Provider },
		set: func(c *Config, v string) error { c.Events.Provider = v; return nil },
	},
	"events.brokers": {
		get: func(c *Config) string { return c.Events.Brokers },
		set: func(c *Config, v string) error { c.Events.Brokers = v; return nil },
	},
	"events.topic": {
		get: func(c *Config) string { return c.Events.Topic },
		set: func(c *Config, v string) error { c.Events.Topic = v; return nil },
	},
}

func formatFloat(f float64) string {
	if f == 0 {
		return ""
	}
	return strconv.FormatFloat(f, 'g', -1, 64)
}
