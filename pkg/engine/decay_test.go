package engine_test

import (
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/engram/pkg/engine"
	"github.com/papercomputeco/engram/pkg/graph"
)

var _ = Describe("Decay", func() {
	const dayMillis = 86_400_000.0

	cfg := engine.DecayConfig{
		Enabled:       true,
		HalfLifeDays:  90,
		MinConfidence: 0.1,
	}

	Describe("DecayedConfidence", func() {
		It("returns the base confidence at age zero", func() {
			Expect(engine.DecayedConfidence(cfg, 0.95, 0)).To(BeNumerically("~", 0.95, 1e-12))
		})

		It("halves confidence at exactly one half-life", func() {
			age := cfg.HalfLifeDays * dayMillis
			Expect(engine.DecayedConfidence(cfg, 0.8, age)).To(BeNumerically("~", 0.4, 1e-9))
		})

		It("quarters confidence at two half-lives", func() {
			age := 2 * cfg.HalfLifeDays * dayMillis
			Expect(engine.DecayedConfidence(cfg, 0.8, age)).To(BeNumerically("~", 0.2, 1e-9))
		})

		It("never drops below the floor", func() {
			age := 100 * cfg.HalfLifeDays * dayMillis
			Expect(engine.DecayedConfidence(cfg, 0.95, age)).To(Equal(0.1))
		})

		It("treats negative ages as zero", func() {
			Expect(engine.DecayedConfidence(cfg, 0.7, -dayMillis)).To(BeNumerically("~", 0.7, 1e-12))
		})

		It("is monotonically non-increasing in age", func() {
			prev := engine.DecayedConfidence(cfg, 0.9, 0)
			for days := 1.0; days <= 720; days += 30 {
				cur := engine.DecayedConfidence(cfg, 0.9, days*dayMillis)
				Expect(cur).To(BeNumerically("<=", prev))
				prev = cur
			}
		})
	})

	Describe("ApplyDecay", func() {
		var (
			now time.Time
			g   *graph.Graph
		)

		BeforeEach(func() {
			now = time.Now().UTC()
			g = &graph.Graph{
				Entities: []graph.Entity{{Name: "alice"}, {Name: "acme"}},
				Relations: []graph.Relation{
					{
						From: "alice", To: "acme", RelationType: "works_at",
						Confidence: 0.8,
						ValidFrom:  now.Add(-90 * 24 * time.Hour),
					},
				},
				Total: 2,
			}
		})

		It("returns the graph unchanged when disabled", func() {
			out := engine.ApplyDecay(engine.DecayConfig{Enabled: false}, g, now)
			Expect(out).To(BeIdenticalTo(g))
			Expect(out.Relations[0].Confidence).To(Equal(0.8))
		})

		It("decays relation confidence by age", func() {
			out := engine.ApplyDecay(cfg, g, now)
			Expect(out.Relations[0].Confidence).To(BeNumerically("~", 0.4, 1e-6))
		})

		It("never mutates the input graph", func() {
			engine.ApplyDecay(cfg, g, now)
			Expect(g.Relations[0].Confidence).To(Equal(0.8))
		})

		It("leaves entities and strength untouched", func() {
			g.Relations[0].Strength = 0.9
			out := engine.ApplyDecay(cfg, g, now)
			Expect(out.Entities).To(HaveLen(2))
			Expect(out.Relations[0].Strength).To(Equal(0.9))
		})

		It("anchors on CreatedAt when ValidFrom is unset", func() {
			g.Relations[0].ValidFrom = time.Time{}
			g.Relations[0].CreatedAt = now.Add(-90 * 24 * time.Hour)

			out := engine.ApplyDecay(cfg, g, now)
			Expect(out.Relations[0].Confidence).To(BeNumerically("~", 0.4, 1e-6))
		})

		It("leaves fresh relations effectively undecayed", func() {
			g.Relations[0].ValidFrom = now
			out := engine.ApplyDecay(cfg, g, now)
			Expect(out.Relations[0].Confidence).To(BeNumerically("~", 0.8, 1e-6))
		})
	})
})
