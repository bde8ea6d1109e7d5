package engine_test

import (
	"context"
	"errors"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/papercomputeco/engram/pkg/engine"
	"github.com/papercomputeco/engram/pkg/store"
	"github.com/papercomputeco/engram/pkg/store/inmemory"
	testutils "github.com/papercomputeco/engram/pkg/utils/test"
)

// vectorlessDriver simulates a backend with no vector index support.
type vectorlessDriver struct {
	*inmemory.Driver
}

func (d *vectorlessDriver) EnsureVectorIndex(_ context.Context, _ int) error {
	return store.ErrVectorIndexUnavailable
}

func (d *vectorlessDriver) QueryByVector(_ context.Context, _ []float32, _ int) ([]store.ScoredEntity, error) {
	return nil, store.ErrVectorIndexUnavailable
}

// brokenIndexDriver simulates a backend whose vector index fails to
// initialize with a driver-specific error.
type brokenIndexDriver struct {
	*inmemory.Driver
}

func (d *brokenIndexDriver) EnsureVectorIndex(_ context.Context, _ int) error {
	return errors.New("vec0 creation failed: disk I/O error")
}

var _ = Describe("Retrieval", func() {
	var (
		ctx      context.Context
		driver   *inmemory.Driver
		embedder *testutils.MockEmbedder
		eng      *engine.Engine
	)

	BeforeEach(func() {
		ctx = context.Background()
		driver = inmemory.NewDriver()
		embedder = testutils.NewMockEmbedder()

		var err error
		eng, err = engine.New(engine.Config{
			Store:    driver,
			Embedder: embedder,
			Logger:   zap.NewNop(),
		})
		Expect(err).NotTo(HaveOccurred())
	})

	create := func(e *engine.Engine, name, entityType string, observations ...string) {
		created, err := e.CreateEntities(ctx, []engine.EntityInput{
			{Name: name, EntityType: entityType, Observations: observations},
		})
		Expect(err).NotTo(HaveOccurred())
		Expect(created).To(HaveLen(1))
	}

	Describe("Search", func() {
		BeforeEach(func() {
			create(eng, "alice", "person", "writes go services")
			create(eng, "bob", "person", "writes rust tooling")
			create(eng, "engram", "project", "a go knowledge graph")
		})

		It("matches case-insensitively over name, type, and observations", func() {
			g, err := eng.Search(ctx, "GO", engine.SearchOptions{})
			Expect(err).NotTo(HaveOccurred())
			Expect(g.EntityNames()).To(ConsistOf("alice", "engram"))
		})

		It("applies the entity type filter", func() {
			g, err := eng.Search(ctx, "go", engine.SearchOptions{
				EntityTypes: []string{"project"},
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(g.EntityNames()).To(ConsistOf("engram"))
		})

		It("caps results at the requested limit", func() {
			g, err := eng.Search(ctx, "writes", engine.SearchOptions{Limit: 1})
			Expect(err).NotTo(HaveOccurred())
			Expect(g.Entities).To(HaveLen(1))
		})

		It("hydrates relations between the results", func() {
			_, err := eng.CreateRelations(ctx, []engine.RelationInput{
				{From: "alice", To: "engram", RelationType: "contributes_to"},
			})
			Expect(err).NotTo(HaveOccurred())

			g, err := eng.Search(ctx, "go", engine.SearchOptions{})
			Expect(err).NotTo(HaveOccurred())
			Expect(g.Relations).To(HaveLen(1))
			Expect(g.Relations[0].RelationType).To(Equal("contributes_to"))
		})

		It("returns an empty graph for no matches", func() {
			g, err := eng.Search(ctx, "cobol", engine.SearchOptions{})
			Expect(err).NotTo(HaveOccurred())
			Expect(g.Entities).To(BeEmpty())
			Expect(g.Relations).To(BeEmpty())
		})
	})

	Describe("SemanticSearch", func() {
		It("queries the vector index with an explicit vector", func() {
			create(eng, "alice", "person", "likes go")
			create(eng, "bob", "person", "likes rust")

			g, err := eng.SemanticSearch(ctx, "", engine.SearchOptions{
				Vector: []float32{0.1, 0.2, 0.3},
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(g.EntityNames()).To(ConsistOf("alice", "bob"))
		})

		It("excludes candidates below the similarity floor", func() {
			embedder.Embeddings["just above the floor"] = []float32{0.22, 0.9755, 0}
			embedder.Embeddings["just below the floor"] = []float32{0.18, 0.9837, 0}
			create(eng, "kept", "person", "just above the floor")
			create(eng, "dropped", "person", "just below the floor")

			g, err := eng.SemanticSearch(ctx, "", engine.SearchOptions{
				Vector: []float32{1, 0, 0},
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(g.EntityNames()).To(ConsistOf("kept"))
		})

		It("honors a per-call similarity floor override", func() {
			create(eng, "alice", "person", "likes go")

			g, err := eng.SemanticSearch(ctx, "", engine.SearchOptions{
				Vector:        []float32{0.1, 0.2, 0.3},
				MinSimilarity: 0.999,
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(g.EntityNames()).To(ConsistOf("alice"))

			g, err = eng.SemanticSearch(ctx, "", engine.SearchOptions{
				Vector:        []float32{-0.1, -0.2, -0.3},
				MinSimilarity: 0.999,
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(g.Entities).To(BeEmpty())
		})

		It("applies the entity type filter after vector retrieval", func() {
			create(eng, "alice", "person", "likes go")
			create(eng, "engram", "project", "stores memories")

			g, err := eng.SemanticSearch(ctx, "", engine.SearchOptions{
				Vector:      []float32{0.1, 0.2, 0.3},
				EntityTypes: []string{"project"},
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(g.EntityNames()).To(ConsistOf("engram"))
		})

		It("embeds the query text when no vector is supplied", func() {
			embedder.Embeddings["who likes go"] = []float32{0.1, 0.2, 0.3}
			create(eng, "alice", "person", "likes go")

			g, err := eng.SemanticSearch(ctx, "who likes go", engine.SearchOptions{})
			Expect(err).NotTo(HaveOccurred())
			Expect(g.EntityNames()).To(ConsistOf("alice"))
			Expect(embedder.Calls).To(ContainElement("who likes go"))
		})

		It("falls back to lexical search when query embedding fails", func() {
			create(eng, "alice", "person", "likes go")
			embedder.FailOn = "likes"

			trace := &engine.Trace{}
			g, err := eng.SemanticSearch(ctx, "likes", engine.SearchOptions{Trace: trace})
			Expect(err).NotTo(HaveOccurred())
			Expect(g.EntityNames()).To(ConsistOf("alice"))

			names := traceStepNames(trace)
			Expect(names).To(ContainElement("embed_query_failed"))
			Expect(names).To(ContainElement("lexical"))
		})

		It("falls back to lexical search when no embedder is configured", func() {
			lexical, err := engine.New(engine.Config{
				Store:  driver,
				Logger: zap.NewNop(),
			})
			Expect(err).NotTo(HaveOccurred())

			create(lexical, "alice", "person", "likes go")

			g, err := lexical.SemanticSearch(ctx, "go", engine.SearchOptions{})
			Expect(err).NotTo(HaveOccurred())
			Expect(g.EntityNames()).To(ConsistOf("alice"))
		})

		It("falls back to lexical search when the vector index is unavailable", func() {
			vectorless, err := engine.New(engine.Config{
				Store:    &vectorlessDriver{Driver: driver},
				Embedder: embedder,
				Logger:   zap.NewNop(),
			})
			Expect(err).NotTo(HaveOccurred())

			create(vectorless, "alice", "person", "likes go")

			trace := &engine.Trace{}
			g, err := vectorless.SemanticSearch(ctx, "go", engine.SearchOptions{Trace: trace})
			Expect(err).NotTo(HaveOccurred())
			Expect(g.EntityNames()).To(ConsistOf("alice"))
			Expect(traceStepNames(trace)).To(ContainElement("index_unavailable"))
		})

		It("falls back to lexical search when index initialization fails", func() {
			broken, err := engine.New(engine.Config{
				Store:    &brokenIndexDriver{Driver: driver},
				Embedder: embedder,
				Logger:   zap.NewNop(),
			})
			Expect(err).NotTo(HaveOccurred())

			create(broken, "alice", "person", "likes go")

			trace := &engine.Trace{}
			g, err := broken.SemanticSearch(ctx, "go", engine.SearchOptions{Trace: trace})
			Expect(err).NotTo(HaveOccurred())
			Expect(g.EntityNames()).To(ConsistOf("alice"))
			Expect(traceStepNames(trace)).To(ContainElement("index_unavailable"))
		})

		It("records retrieval steps in the trace", func() {
			create(eng, "alice", "person", "likes go")

			trace := &engine.Trace{}
			_, err := eng.SemanticSearch(ctx, "", engine.SearchOptions{
				Vector: []float32{0.1, 0.2, 0.3},
				Trace:  trace,
			})
			Expect(err).NotTo(HaveOccurred())

			names := traceStepNames(trace)
			Expect(names).To(ContainElement("vector_ready"))
			Expect(names).To(ContainElement("vector_query"))
			Expect(names).To(ContainElement("vector_filtered"))
		})
	})

	Describe("Retune", func() {
		It("applies a new default limit to subsequent searches", func() {
			create(eng, "alice", "person", "writes go")
			create(eng, "bob", "person", "writes go")

			eng.Retune(engine.DecayConfig{}, engine.SearchConfig{DefaultLimit: 1})

			g, err := eng.Search(ctx, "writes", engine.SearchOptions{})
			Expect(err).NotTo(HaveOccurred())
			Expect(g.Entities).To(HaveLen(1))
		})
	})
})

func traceStepNames(t *engine.Trace) []string {
	names := make([]string, 0, len(t.Steps))
	for _, s := range t.Steps {
		names = append(names, s.Name)
	}
	return names
}
