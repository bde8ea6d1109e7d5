package sqlitevec_test

import (
	"context"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/papercomputeco/engram/pkg/graph"
	"github.com/papercomputeco/engram/pkg/store"
	"github.com/papercomputeco/engram/pkg/store/sqlitevec"
)

var _ = Describe("Driver", func() {
	var (
		ctx    context.Context
		driver *sqlitevec.Driver
		now    time.Time
	)

	BeforeEach(func() {
		ctx = context.Background()
		// Validity instants are stored as millisecond integers.
		now = time.Now().UTC().Truncate(time.Millisecond)

		var err error
		driver, err = sqlitevec.NewDriver(sqlitevec.Config{DBPath: ":memory:"}, zap.NewNop())
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		Expect(driver.Close()).To(Succeed())
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

	Describe("NewDriver", func() {
		It("requires a database path", func() {
			_, err := sqlitevec.NewDriver(sqlitevec.Config{}, zap.NewNop())
			Expect(err).To(HaveOccurred())
			Expect(err.Error()).To(ContainSubstring("database path is required"))
		})
	})

	Describe("Interface compliance", func() {
		It("implements store.Driver", func() {
			var _ store.Driver = (*sqlitevec.Driver)(nil)
		})
	})

	Describe("Apply", func() {
		BeforeEach(func() {
			Expect(driver.InsertEntities(ctx, []graph.Entity{entity("e1", "alice")})).To(Succeed())
		})

		It("accepts an empty transition", func() {
			Expect(driver.Apply(ctx, store.Transition{At: now})).To(Succeed())
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
			Expect(cur.Version).To(Equal(2))

			history, err := driver.EntityHistory(ctx, "alice")
			Expect(err).NotTo(HaveOccurred())
			Expect(history).To(HaveLen(2))
			Expect(history[0].ValidTo).NotTo(BeNil())
			Expect(history[0].ValidTo.Equal(at)).To(BeTrue())
		})

		It("conflicts when the row is already closed", func() {
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

		It("conflicts when the row does not exist", func() {
			err := driver.Apply(ctx, store.Transition{
				At:             now.Add(time.Second),
				CloseEntityIDs: []string{"missing"},
			})
			Expect(err).To(MatchError(store.ConflictError{RowID: "missing"}))
		})

		It("rolls back the whole transition on conflict", func() {
			err := driver.Apply(ctx, store.Transition{
				At:             now.Add(time.Second),
				CloseEntityIDs: []string{"e1", "missing"},
				InsertEntities: []graph.Entity{entity("e2", "bob")},
			})
			Expect(err).To(MatchError(store.ConflictError{RowID: "missing"}))

			cur, err := driver.CurrentEntity(ctx, "alice")
			Expect(err).NotTo(HaveOccurred())
			Expect(cur.ID).To(Equal("e1"))
			Expect(cur.ValidTo).To(BeNil())

			_, err = driver.CurrentEntity(ctx, "bob")
			Expect(err).To(MatchError(graph.EntityNotFoundError{Name: "bob"}))
		})

		It("closes relation rows with the entity transition", func() {
			Expect(driver.InsertEntities(ctx, []graph.Entity{entity("e2", "bob")})).To(Succeed())
			Expect(driver.InsertRelations(ctx, []graph.Relation{relation("r1", "alice", "bob", "knows")})).To(Succeed())

			at := now.Add(time.Second)
			next := relation("r2", "alice", "bob", "knows")
			next.Version = 2
			next.ValidFrom = at

			Expect(driver.Apply(ctx, store.Transition{
				At:               at,
				CloseRelationIDs: []string{"r1"},
				InsertRelations:  []graph.Relation{next},
			})).To(Succeed())

			cur, err := driver.CurrentRelation(ctx, graph.RelationKey{From: "alice", To: "bob", RelationType: "knows"})
			Expect(err).NotTo(HaveOccurred())
			Expect(cur.ID).To(Equal("r2"))

			history, err := driver.RelationHistory(ctx, graph.RelationKey{From: "alice", To: "bob", RelationType: "knows"})
			Expect(err).NotTo(HaveOccurred())
			Expect(history).To(HaveLen(2))
		})
	})

	Describe("time travel", func() {
		var closedAt time.Time

		BeforeEach(func() {
			closedAt = now.Add(time.Minute)
			Expect(driver.InsertEntities(ctx, []graph.Entity{entity("e1", "alice")})).To(Succeed())

			successor := entity("e2", "alice")
			successor.Version = 2
			successor.ValidFrom = closedAt
			Expect(driver.Apply(ctx, store.Transition{
				At:             closedAt,
				CloseEntityIDs: []string{"e1"},
				InsertEntities: []graph.Entity{successor},
			})).To(Succeed())
		})

		It("returns the row live during the past interval", func() {
			got, err := driver.EntitiesAt(ctx, now.Add(time.Second))
			Expect(err).NotTo(HaveOccurred())
			Expect(got).To(HaveLen(1))
			Expect(got[0].ID).To(Equal("e1"))
		})

		It("returns the successor exactly at the transition instant", func() {
			got, err := driver.EntitiesAt(ctx, closedAt)
			Expect(err).NotTo(HaveOccurred())
			Expect(got).To(HaveLen(1))
			Expect(got[0].ID).To(Equal("e2"))
		})

		It("returns nothing before the entity existed", func() {
			got, err := driver.EntitiesAt(ctx, now.Add(-time.Hour))
			Expect(err).NotTo(HaveOccurred())
			Expect(got).To(BeEmpty())
		})
	})

	Describe("MatchEntities", func() {
		BeforeEach(func() {
			alice := entity("e1", "alice")
			alice.EntityType = "person"
			alice.Observations = []string{"Writes Go servers"}
			project := entity("e2", "engram")
			project.EntityType = "project"
			project.Observations = []string{"a go knowledge graph"}
			Expect(driver.InsertEntities(ctx, []graph.Entity{alice, project})).To(Succeed())
		})

		It("matches case-insensitively over name, type, and observations", func() {
			got, err := driver.MatchEntities(ctx, "GO", nil, 0)
			Expect(err).NotTo(HaveOccurred())
			Expect(names(got)).To(ConsistOf("alice", "engram"))
		})

		It("filters by entity type", func() {
			got, err := driver.MatchEntities(ctx, "go", []string{"project"}, 0)
			Expect(err).NotTo(HaveOccurred())
			Expect(names(got)).To(ConsistOf("engram"))
		})

		It("applies the limit", func() {
			got, err := driver.MatchEntities(ctx, "go", nil, 1)
			Expect(err).NotTo(HaveOccurred())
			Expect(got).To(HaveLen(1))
		})

		It("excludes closed rows", func() {
			Expect(driver.Apply(ctx, store.Transition{
				At:             now.Add(time.Second),
				CloseEntityIDs: []string{"e1"},
			})).To(Succeed())

			got, err := driver.MatchEntities(ctx, "go", nil, 0)
			Expect(err).NotTo(HaveOccurred())
			Expect(names(got)).To(ConsistOf("engram"))
		})
	})

	Describe("DeleteEntities", func() {
		BeforeEach(func() {
			Expect(driver.InsertEntities(ctx, []graph.Entity{
				entity("e1", "alice"),
				entity("e2", "bob"),
			})).To(Succeed())
			Expect(driver.InsertRelations(ctx, []graph.Relation{
				relation("r1", "alice", "bob", "knows"),
			})).To(Succeed())
		})

		It("removes every version row and touching relations", func() {
			Expect(driver.DeleteEntities(ctx, []string{"alice"})).To(Succeed())

			_, err := driver.EntityHistory(ctx, "alice")
			Expect(err).To(MatchError(graph.EntityNotFoundError{Name: "alice"}))

			touching, err := driver.RelationsTouching(ctx, "bob")
			Expect(err).NotTo(HaveOccurred())
			Expect(touching).To(BeEmpty())

			cur, err := driver.CurrentEntity(ctx, "bob")
			Expect(err).NotTo(HaveOccurred())
			Expect(cur.Name).To(Equal("bob"))
		})
	})

	Describe("vector index", func() {
		withEmbedding := func(id, name string, vec []float32) graph.Entity {
			e := entity(id, name)
			e.Embedding = vec
			return e
		}

		It("reports unavailable before initialization", func() {
			_, err := driver.QueryByVector(ctx, []float32{1, 0, 0}, 5)
			Expect(err).To(MatchError(store.ErrVectorIndexUnavailable))
		})

		It("rejects non-positive dimensions", func() {
			Expect(driver.EnsureVectorIndex(ctx, 0)).NotTo(Succeed())
		})

		It("is idempotent", func() {
			Expect(driver.EnsureVectorIndex(ctx, 3)).To(Succeed())
			Expect(driver.EnsureVectorIndex(ctx, 3)).To(Succeed())
		})

		It("backfills embeddings written before initialization", func() {
			Expect(driver.InsertEntities(ctx, []graph.Entity{
				withEmbedding("e1", "near", []float32{1, 0, 0}),
				withEmbedding("e2", "far", []float32{0, 1, 0}),
				entity("e3", "unembedded"),
			})).To(Succeed())

			Expect(driver.EnsureVectorIndex(ctx, 3)).To(Succeed())

			scored, err := driver.QueryByVector(ctx, []float32{1, 0, 0}, 5)
			Expect(err).NotTo(HaveOccurred())
			Expect(scored).To(HaveLen(2))
			Expect(scored[0].Name).To(Equal("near"))
			Expect(scored[1].Name).To(Equal("far"))
			Expect(scored[0].Score).To(BeNumerically(">", scored[1].Score))
		})

		It("indexes rows inserted after initialization", func() {
			Expect(driver.EnsureVectorIndex(ctx, 3)).To(Succeed())
			Expect(driver.InsertEntities(ctx, []graph.Entity{
				withEmbedding("e1", "alice", []float32{1, 0, 0}),
			})).To(Succeed())

			scored, err := driver.QueryByVector(ctx, []float32{1, 0, 0}, 5)
			Expect(err).NotTo(HaveOccurred())
			Expect(scored).To(HaveLen(1))
			Expect(scored[0].Name).To(Equal("alice"))
		})

		It("drops closed rows from the index", func() {
			Expect(driver.EnsureVectorIndex(ctx, 3)).To(Succeed())
			Expect(driver.InsertEntities(ctx, []graph.Entity{
				withEmbedding("e1", "alice", []float32{1, 0, 0}),
			})).To(Succeed())

			Expect(driver.Apply(ctx, store.Transition{
				At:             now.Add(time.Second),
				CloseEntityIDs: []string{"e1"},
			})).To(Succeed())

			scored, err := driver.QueryByVector(ctx, []float32{1, 0, 0}, 5)
			Expect(err).NotTo(HaveOccurred())
			Expect(scored).To(BeEmpty())
		})

		It("drops deleted entities from the index", func() {
			Expect(driver.EnsureVectorIndex(ctx, 3)).To(Succeed())
			Expect(driver.InsertEntities(ctx, []graph.Entity{
				withEmbedding("e1", "alice", []float32{1, 0, 0}),
			})).To(Succeed())

			Expect(driver.DeleteEntities(ctx, []string{"alice"})).To(Succeed())

			scored, err := driver.QueryByVector(ctx, []float32{1, 0, 0}, 5)
			Expect(err).NotTo(HaveOccurred())
			Expect(scored).To(BeEmpty())
		})

		It("caps results at topK", func() {
			Expect(driver.EnsureVectorIndex(ctx, 3)).To(Succeed())
			Expect(driver.InsertEntities(ctx, []graph.Entity{
				withEmbedding("e1", "a", []float32{1, 0, 0}),
				withEmbedding("e2", "b", []float32{0.9, 0.1, 0}),
				withEmbedding("e3", "c", []float32{0, 0, 1}),
			})).To(Succeed())

			scored, err := driver.QueryByVector(ctx, []float32{1, 0, 0}, 2)
			Expect(err).NotTo(HaveOccurred())
			Expect(scored).To(HaveLen(2))
		})
	})

	Describe("round trips", func() {
		It("preserves entity fields and embeddings", func() {
			e := entity("e1", "alice")
			e.EntityType = "person"
			e.Observations = []string{"likes go", "writes servers"}
			e.ChangedBy = "agent-1"
			e.Embedding = []float32{0.25, -1, 3.5}
			Expect(driver.InsertEntities(ctx, []graph.Entity{e})).To(Succeed())

			cur, err := driver.CurrentEntity(ctx, "alice")
			Expect(err).NotTo(HaveOccurred())
			Expect(cur.EntityType).To(Equal("person"))
			Expect(cur.Observations).To(Equal([]string{"likes go", "writes servers"}))
			Expect(cur.ChangedBy).To(Equal("agent-1"))
			Expect(cur.Embedding).To(Equal([]float32{0.25, -1, 3.5}))
			Expect(cur.ValidFrom.Equal(now)).To(BeTrue())
		})

		It("preserves relation metadata", func() {
			Expect(driver.InsertEntities(ctx, []graph.Entity{
				entity("e1", "alice"), entity("e2", "bob"),
			})).To(Succeed())

			r := relation("r1", "alice", "bob", "knows")
			r.Metadata = map[string]any{"source": "import"}
			Expect(driver.InsertRelations(ctx, []graph.Relation{r})).To(Succeed())

			cur, err := driver.CurrentRelation(ctx, graph.RelationKey{From: "alice", To: "bob", RelationType: "knows"})
			Expect(err).NotTo(HaveOccurred())
			Expect(cur.Metadata).To(HaveKeyWithValue("source", "import"))
			Expect(cur.Strength).To(Equal(0.9))
			Expect(cur.Confidence).To(Equal(0.95))
		})
	})
})

func names(entities []graph.Entity) []string {
	out := make([]string, len(entities))
	for i := range entities {
		out[i] = entities[i].Name
	}
	return out
}
