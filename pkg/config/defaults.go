package config

import "github.com/papercomputeco/engram/pkg/engine"

const (
	defaultStorageProvider = "sqlite"
	defaultSQLiteFile      = "engram.db"

	defaultAPIListen = ":8080"

	defaultEmbeddingProvider   = "ollama"
	defaultEmbeddingTarget     = "http://localhost:11434"
	defaultEmbeddingModel      = "nomic-embed-text"
	defaultEmbeddingDimensions = 768

	defaultEventsProvider = "none"
)

// NewDefaultConfig returns a Config with sane defaults for all fields.
// This is the single source of truth for default values.
func NewDefaultConfig() *Config {
	return &Config{
		Version: CurrentV,
		Storage: StorageConfig{
			Provider: defaultStorageProvider,
		},
		API: APIConfig{
			Listen: defaultAPIListen,
		},
		Embedding: EmbeddingConfig{
			Provider:   defaultEmbeddingProvider,
			Target:     defaultEmbeddingTarget,
			Model:      defaultEmbeddingModel,
			Dimensions: defaultEmbeddingDimensions,
		},
		Decay: DecayConfig{
			Enabled:       true,
			HalfLifeDays:  engine.DefaultHalfLifeDays,
			MinConfidence: engine.DefaultMinConfidence,
		},
		Search: SearchConfig{
			MinSimilarity: engine.DefaultMinSimilarity,
			DefaultLimit:  engine.DefaultSearchLimit,
		},
		Events: EventsConfig{
			Provider: defaultEventsProvider,
		},
	}
}
