package inmemory_test

import (
	"context"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/engram/pkg/graph"
	"github.com/papercomputeco/engram/pkg/store"
	"github.com/papercomputeco/engram/pkg/store/inmemory"
)

var _ = Describe("Driver", func() {
	var (
		ctx    context.Context
		driver *inmemory.Driver
		now    time.Time
	)

	BeforeEach(func() {
		ctx = context.Background()
		driver = inmemory.NewDriver()
		now = time.Now().UTC()
	})

	entity := func(id, name string) graph.Entity {
		return graph.Entity{
			ID:        id,
			Name:      name,
			Version:   1,
			CreatedAt: now,
			UpdatedAt: now,
			ValidFrom: now,
		}
	}

	relation := func(id, from, to, relationType string) graph.Relation {
		return graph.Relation{
			ID:           id,
			From:         from,
			To:           to,
			RelationType: relationType,
			Strength:     0.9,
			Confidence:   0.95,
			Version:      1,
			CreatedAt:    now,
			UpdatedAt:    now,
			ValidFrom:    now,
		}
	}

	Describe("Apply", func() {
		BeforeEach(func() {
			Expect(driver.InsertEntities(ctx, []graph.Entity{entity("e1", "alice")})).To(Succeed())
		})

		It("closes the old row and inserts the successor", func() {
			at := now.Add(time.Second)
			successor := entity("e2", "alice")
			successor.Version = 2
			successor.ValidFrom = at

			Expect(driver.Apply(ctx, store.Transition{
				At:             at,
				CloseEntityIDs: []string{"e1"},
				InsertEntities: []graph.Entity{successor},
			})).To(Succeed())

			cur, err := driver.CurrentEntity(ctx, "alice")
			Expect(err).NotTo(HaveOccurred())
			Expect(cur.ID).To(Equal("e2"))

			history, err := driver.EntityHistory(ctx, "alice")
			Expect(err).NotTo(HaveOccurred())
			Expect(history).To(HaveLen(2))
			Expect(history[0].ValidTo).NotTo(BeNil())
			Expect(*history[0].ValidTo).To(Equal(at))
		})

		It("rejects closing a row that is already closed", func() {
			at := now.Add(time.Second)
			Expect(driver.Apply(ctx, store.Transition{
				At:             at,
				CloseEntityIDs: []string{"e1"},
			})).To(Succeed())

			err := driver.Apply(ctx, store.Transition{
				At:             at.Add(time.Second),
				CloseEntityIDs: []string{"e1"},
			})
			Expect(err).To(MatchError(store.ConflictError{RowID: "e1"}))
		})

		It("rejects closing an unknown row", func() {
			err := driver.Apply(ctx, store.Transition{
				At:             now,
				CloseEntityIDs: []string{"ghost"},
			})
			Expect(err).To(MatchError(store.ConflictError{RowID: "ghost"}))
		})

		It("leaves state untouched when a transition conflicts", func() {
			successor := entity("e2", "alice")

			err := driver.Apply(ctx, store.Transition{
				At:             now,
				CloseEntityIDs: []string{"e1", "ghost"},
				InsertEntities: []graph.Entity{successor},
			})
			Expect(err).To(HaveOccurred())

			cur, err := driver.CurrentEntity(ctx, "alice")
			Expect(err).NotTo(HaveOccurred())
			Expect(cur.ID).To(Equal("e1"))
			Expect(cur.ValidTo).To(BeNil())
		})

		It("accepts an empty transition", func() {
			Expect(driver.Apply(ctx, store.Transition{})).To(Succeed())
		})
	})

	Describe("time travel", func() {
		It("returns rows live at the queried instant", func() {
			e1 := entity("e1", "alice")
			e1.ValidFrom = now.Add(-2 * time.Hour)
			Expect(driver.InsertEntities(ctx, []graph.Entity{e1})).To(Succeed())

			closedAt := now.Add(-time.Hour)
			e2 := entity("e2", "alice")
			e2.Version = 2
			e2.ValidFrom = closedAt
			Expect(driver.Apply(ctx, store.Transition{
				At:             closedAt,
				CloseEntityIDs: []string{"e1"},
				InsertEntities: []graph.Entity{e2},
			})).To(Succeed())

			past, err := driver.EntitiesAt(ctx, now.Add(-90*time.Minute))
			Expect(err).NotTo(HaveOccurred())
			Expect(past).To(HaveLen(1))
			Expect(past[0].ID).To(Equal("e1"))

			// ValidFrom is inclusive, ValidTo exclusive.
			atBoundary, err := driver.EntitiesAt(ctx, closedAt)
			Expect(err).NotTo(HaveOccurred())
			Expect(atBoundary).To(HaveLen(1))
			Expect(atBoundary[0].ID).To(Equal("e2"))

			before, err := driver.EntitiesAt(ctx, now.Add(-3*time.Hour))
			Expect(err).NotTo(HaveOccurred())
			Expect(before).To(BeEmpty())
		})
	})

	Describe("DeleteEntities", func() {
		It("removes all versions and touching relations", func() {
			Expect(driver.InsertEntities(ctx, []graph.Entity{
				entity("e1", "alice"),
				entity("e2", "acme"),
			})).To(Succeed())
			Expect(driver.InsertRelations(ctx, []graph.Relation{
				relation("r1", "alice", "acme", "works_at"),
			})).To(Succeed())

			Expect(driver.DeleteEntities(ctx, []string{"alice"})).To(Succeed())

			_, err := driver.CurrentEntity(ctx, "alice")
			Expect(err).To(MatchError(graph.EntityNotFoundError{Name: "alice"}))

			_, err = driver.RelationHistory(ctx, graph.RelationKey{
				From: "alice", To: "acme", RelationType: "works_at",
			})
			Expect(err).To(HaveOccurred())

			_, err = driver.CurrentEntity(ctx, "acme")
			Expect(err).NotTo(HaveOccurred())
		})
	})

	Describe("MatchEntities", func() {
		BeforeEach(func() {
			a := entity("e1", "alice")
			a.EntityType = "person"
			a.Observations = []string{"writes Go services"}

			b := entity("e2", "engram")
			b.EntityType = "project"
			b.Observations = []string{"a go knowledge graph"}

			Expect(driver.InsertEntities(ctx, []graph.Entity{a, b})).To(Succeed())
		})

		It("matches case-insensitively", func() {
			out, err := driver.MatchEntities(ctx, "GO", nil, 0)
			Expect(err).NotTo(HaveOccurred())
			Expect(out).To(HaveLen(2))
		})

		It("filters by entity type", func() {
			out, err := driver.MatchEntities(ctx, "go", []string{"person"}, 0)
			Expect(err).NotTo(HaveOccurred())
			Expect(out).To(HaveLen(1))
			Expect(out[0].Name).To(Equal("alice"))
		})

		It("excludes closed rows", func() {
			Expect(driver.Apply(ctx, store.Transition{
				At:             now.Add(time.Second),
				CloseEntityIDs: []string{"e1"},
			})).To(Succeed())

			out, err := driver.MatchEntities(ctx, "go", nil, 0)
			Expect(err).NotTo(HaveOccurred())
			Expect(out).To(HaveLen(1))
			Expect(out[0].Name).To(Equal("engram"))
		})
	})

	Describe("vector index", func() {
		It("rejects queries before initialization", func() {
			_, err := driver.QueryByVector(ctx, []float32{1, 0}, 5)
			Expect(err).To(MatchError(store.ErrVectorIndexUnavailable))
		})

		It("is idempotent for matching dimensions", func() {
			Expect(driver.EnsureVectorIndex(ctx, 3)).To(Succeed())
			Expect(driver.EnsureVectorIndex(ctx, 3)).To(Succeed())
		})

		It("rejects a dimensionality change", func() {
			Expect(driver.EnsureVectorIndex(ctx, 3)).To(Succeed())
			Expect(driver.EnsureVectorIndex(ctx, 4)).NotTo(Succeed())
		})

		It("ranks current entities by cosine similarity", func() {
			near := entity("e1", "near")
			near.Embedding = []float32{1, 0, 0}
			far := entity("e2", "far")
			far.Embedding = []float32{0, 1, 0}
			unembedded := entity("e3", "unembedded")

			Expect(driver.InsertEntities(ctx, []graph.Entity{near, far, unembedded})).To(Succeed())
			Expect(driver.EnsureVectorIndex(ctx, 3)).To(Succeed())

			scored, err := driver.QueryByVector(ctx, []float32{1, 0, 0}, 10)
			Expect(err).NotTo(HaveOccurred())
			Expect(scored).To(HaveLen(2))
			Expect(scored[0].Name).To(Equal("near"))
			Expect(scored[0].Score).To(BeNumerically("~", 1.0, 1e-6))
			Expect(scored[1].Name).To(Equal("far"))
			Expect(scored[1].Score).To(BeNumerically("~", 0.5, 1e-6))
		})

		It("caps results at topK", func() {
			for _, e := range []graph.Entity{entity("e1", "a"), entity("e2", "b"), entity("e3", "c")} {
				e.Embedding = []float32{1, 0, 0}
				Expect(driver.InsertEntities(ctx, []graph.Entity{e})).To(Succeed())
			}
			Expect(driver.EnsureVectorIndex(ctx, 3)).To(Succeed())

			scored, err := driver.QueryByVector(ctx, []float32{1, 0, 0}, 2)
			Expect(err).NotTo(HaveOccurred())
			Expect(scored).To(HaveLen(2))
		})
	})
})
