// Package embeddings defines the embedding gateway consumed by the engram
// engine. Providers turn text into fixed-length unit vectors; the engine
// tolerates the gateway being absent entirely, in which case semantic search
// degrades to lexical matching.
//
// Providers are pluggable via configuration:
//
//	[embedding]
//	provider = "ollama"   # or "none"
package embeddings

import (
	"context"
	"errors"
)

// ErrEmbedding is returned when embedding generation fails.
var ErrEmbedding = errors.New("embedding failed")

// ProviderInfo describes a configured embedding provider.
type ProviderInfo struct {
	// Name identifies the provider (e.g. "ollama").
	Name string `json:"name"`

	// Dimensions is the vector length the provider produces. Zero when the
	// provider cannot report it before the first call.
	Dimensions int `json:"dimensions"`
}

// Embedder provides text embedding capabilities.
type Embedder interface {
	// Embed converts text into a vector embedding.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch converts multiple texts in one call. The result has one
	// vector per input, in input order.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Info reports the provider name and vector dimensionality.
	Info() ProviderInfo

	// Close releases any resources held by the embedder.
	Close() error
}
