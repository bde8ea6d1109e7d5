package engine

import (
	"math"
	"time"

	"github.com/papercomputeco/engram/pkg/graph"
)

const (
	// DefaultHalfLifeDays is the confidence half-life when none is configured.
	DefaultHalfLifeDays = 90

	// DefaultMinConfidence is the decay floor: relations are never presented
	// below this confidence.
	DefaultMinConfidence = 0.1

	millisPerDay = 86_400_000.0
)

// DecayConfig configures read-time confidence decay.
type DecayConfig struct {
	// Enabled turns decay on. Disabled mode returns graphs unchanged.
	Enabled bool

	// HalfLifeDays is the age at which confidence halves.
	HalfLifeDays float64

	// MinConfidence is the floor decayed confidence never drops below.
	MinConfidence float64
}

func (c DecayConfig) withDefaults() DecayConfig {
	if c.HalfLifeDays <= 0 {
		c.HalfLifeDays = DefaultHalfLifeDays
	}
	if c.MinConfidence <= 0 {
		c.MinConfidence = DefaultMinConfidence
	}
	return c
}

// DecayedConfidence computes the effective confidence of a relation with
// base confidence c0 aged by ageMillis. Pure: same inputs, same output.
//
//	k = ln(0.5) / (H * millisPerDay)
//	c = max(minConfidence, c0 * e^(k * age))
func DecayedConfidence(cfg DecayConfig, c0 float64, ageMillis float64) float64 {
	if ageMillis < 0 {
		ageMillis = 0
	}

	k := math.Log(0.5) / (cfg.HalfLifeDays * millisPerDay)
	decayed := c0 * math.Exp(k*ageMillis)

	return math.Max(cfg.MinConfidence, decayed)
}

// ApplyDecay returns a copy of g with every relation's confidence decayed by
// its age at instant now. Only confidence decays; strength is untouched.
// Stored rows are never mutated; the decay reshapes an in-memory copy.
// Disabled mode returns g itself.
func ApplyDecay(cfg DecayConfig, g *graph.Graph, now time.Time) *graph.Graph {
	if !cfg.Enabled || g == nil {
		return g
	}

	cfg = cfg.withDefaults()

	relations := make([]graph.Relation, len(g.Relations))
	copy(relations, g.Relations)

	for i := range relations {
		anchor := relations[i].ValidFrom
		if anchor.IsZero() {
			anchor = relations[i].CreatedAt
		}

		age := float64(now.Sub(anchor).Milliseconds())
		relations[i].Confidence = DecayedConfidence(cfg, relations[i].Confidence, age)
	}

	return &graph.Graph{
		Entities:  g.Entities,
		Relations: relations,
		Total:     g.Total,
		TimeTaken: g.TimeTaken,
	}
}
