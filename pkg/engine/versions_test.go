package engine_test

import (
	"context"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/papercomputeco/engram/pkg/engine"
	"github.com/papercomputeco/engram/pkg/eventstream"
	"github.com/papercomputeco/engram/pkg/graph"
	"github.com/papercomputeco/engram/pkg/store/inmemory"
	testutils "github.com/papercomputeco/engram/pkg/utils/test"
)

var _ = Describe("Versions", func() {
	var (
		ctx       context.Context
		driver    *inmemory.Driver
		embedder  *testutils.MockEmbedder
		publisher *testutils.MockPublisher
		eng       *engine.Engine
	)

	BeforeEach(func() {
		ctx = context.Background()
		driver = inmemory.NewDriver()
		embedder = testutils.NewMockEmbedder()
		publisher = testutils.NewMockPublisher()

		var err error
		eng, err = engine.New(engine.Config{
			Store:    driver,
			Embedder: embedder,
			Events:   publisher,
			Logger:   zap.NewNop(),
		})
		Expect(err).NotTo(HaveOccurred())
	})

	createEntity := func(name string, observations ...string) {
		created, err := eng.CreateEntities(ctx, []engine.EntityInput{
			{Name: name, EntityType: "person", Observations: observations},
		})
		Expect(err).NotTo(HaveOccurred())
		Expect(created).To(HaveLen(1))
	}

	Describe("CreateEntities", func() {
		It("creates version 1 rows that are current", func() {
			created, err := eng.CreateEntities(ctx, []engine.EntityInput{
				{Name: "alice", EntityType: "person", Observations: []string{"likes go"}},
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(created).To(HaveLen(1))
			Expect(created[0].Version).To(Equal(1))
			Expect(created[0].ValidTo).To(BeNil())
			Expect(created[0].ID).NotTo(BeEmpty())

			cur, err := driver.CurrentEntity(ctx, "alice")
			Expect(err).NotTo(HaveOccurred())
			Expect(cur.Name).To(Equal("alice"))
			Expect(cur.Observations).To(Equal([]string{"likes go"}))
		})

		It("attaches embeddings from the gateway", func() {
			embedder.Embeddings["likes go"] = []float32{1, 0, 0}
			createEntity("alice", "likes go")

			cur, err := driver.CurrentEntity(ctx, "alice")
			Expect(err).NotTo(HaveOccurred())
			Expect(cur.Embedding).To(Equal([]float32{1, 0, 0}))
		})

		It("creates entities without embeddings when the gateway fails", func() {
			embedder.FailOn = "broken"
			created, err := eng.CreateEntities(ctx, []engine.EntityInput{
				{Name: "bob", Observations: []string{"broken"}},
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(created).To(HaveLen(1))
			Expect(created[0].Embedding).To(BeEmpty())
		})

		It("skips names that already have a current version", func() {
			createEntity("alice", "first")

			created, err := eng.CreateEntities(ctx, []engine.EntityInput{
				{Name: "alice", Observations: []string{"second"}},
				{Name: "bob"},
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(created).To(HaveLen(1))
			Expect(created[0].Name).To(Equal("bob"))

			cur, err := driver.CurrentEntity(ctx, "alice")
			Expect(err).NotTo(HaveOccurred())
			Expect(cur.Observations).To(Equal([]string{"first"}))
		})

		It("inserts one row when a name repeats within the batch", func() {
			created, err := eng.CreateEntities(ctx, []engine.EntityInput{
				{Name: "alice", Observations: []string{"first"}},
				{Name: "alice", Observations: []string{"second"}},
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(created).To(HaveLen(1))
			Expect(created[0].Observations).To(Equal([]string{"first"}))

			history, err := eng.EntityHistory(ctx, "alice")
			Expect(err).NotTo(HaveOccurred())
			Expect(history).To(HaveLen(1))

			current := 0
			for _, row := range history {
				if row.Current() {
					current++
				}
			}
			Expect(current).To(Equal(1))
		})

		It("publishes a created event", func() {
			createEntity("alice")
			Expect(publisher.EventTypes()).To(ContainElement(eventstream.EventTypeEntitiesCreated))
		})
	})

	Describe("CreateRelations", func() {
		BeforeEach(func() {
			createEntity("alice")
			createEntity("acme")
		})

		It("applies default strength and confidence", func() {
			created, err := eng.CreateRelations(ctx, []engine.RelationInput{
				{From: "alice", To: "acme", RelationType: "works_at"},
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(created).To(HaveLen(1))
			Expect(created[0].Strength).To(Equal(engine.DefaultStrength))
			Expect(created[0].Confidence).To(Equal(engine.DefaultConfidence))
			Expect(created[0].Version).To(Equal(1))
		})

		It("keeps explicit strength and confidence", func() {
			created, err := eng.CreateRelations(ctx, []engine.RelationInput{
				{From: "alice", To: "acme", RelationType: "works_at", Strength: 0.5, Confidence: 0.4},
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(created[0].Strength).To(Equal(0.5))
			Expect(created[0].Confidence).To(Equal(0.4))
		})

		It("skips relations whose endpoints do not exist", func() {
			created, err := eng.CreateRelations(ctx, []engine.RelationInput{
				{From: "alice", To: "ghost", RelationType: "knows"},
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(created).To(BeEmpty())
		})

		It("skips relations that already have a current version", func() {
			_, err := eng.CreateRelations(ctx, []engine.RelationInput{
				{From: "alice", To: "acme", RelationType: "works_at"},
			})
			Expect(err).NotTo(HaveOccurred())

			created, err := eng.CreateRelations(ctx, []engine.RelationInput{
				{From: "alice", To: "acme", RelationType: "works_at"},
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(created).To(BeEmpty())
		})
	})

	Describe("AddObservations", func() {
		BeforeEach(func() {
			createEntity("alice", "likes go")
		})

		It("appends new observations as a new version", func() {
			results, err := eng.AddObservations(ctx, []engine.ObservationInput{
				{EntityName: "alice", Contents: []string{"works remotely"}},
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(results).To(HaveLen(1))
			Expect(results[0].AddedObservations).To(Equal([]string{"works remotely"}))

			cur, err := driver.CurrentEntity(ctx, "alice")
			Expect(err).NotTo(HaveOccurred())
			Expect(cur.Version).To(Equal(2))
			Expect(cur.Observations).To(Equal([]string{"likes go", "works remotely"}))
		})

		It("is idempotent for duplicate observations", func() {
			results, err := eng.AddObservations(ctx, []engine.ObservationInput{
				{EntityName: "alice", Contents: []string{"likes go"}},
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(results[0].AddedObservations).To(BeEmpty())

			history, err := eng.EntityHistory(ctx, "alice")
			Expect(err).NotTo(HaveOccurred())
			Expect(history).To(HaveLen(1))
		})

		It("closes the previous version", func() {
			_, err := eng.AddObservations(ctx, []engine.ObservationInput{
				{EntityName: "alice", Contents: []string{"new fact"}},
			})
			Expect(err).NotTo(HaveOccurred())

			history, err := eng.EntityHistory(ctx, "alice")
			Expect(err).NotTo(HaveOccurred())
			Expect(history).To(HaveLen(2))
			Expect(history[0].ValidTo).NotTo(BeNil())
			Expect(history[1].ValidTo).To(BeNil())
		})

		It("re-points adjacent relations at the new version", func() {
			createEntity("acme")
			_, err := eng.CreateRelations(ctx, []engine.RelationInput{
				{From: "alice", To: "acme", RelationType: "works_at"},
			})
			Expect(err).NotTo(HaveOccurred())

			_, err = eng.AddObservations(ctx, []engine.ObservationInput{
				{EntityName: "alice", Contents: []string{"promoted"}},
			})
			Expect(err).NotTo(HaveOccurred())

			key := graph.RelationKey{From: "alice", To: "acme", RelationType: "works_at"}
			cur, err := driver.CurrentRelation(ctx, key)
			Expect(err).NotTo(HaveOccurred())
			Expect(cur.Version).To(Equal(2))

			history, err := eng.RelationHistory(ctx, "alice", "acme", "works_at")
			Expect(err).NotTo(HaveOccurred())
			Expect(history).To(HaveLen(2))
		})

		It("skips unknown entities without aborting the batch", func() {
			results, err := eng.AddObservations(ctx, []engine.ObservationInput{
				{EntityName: "ghost", Contents: []string{"boo"}},
				{EntityName: "alice", Contents: []string{"real"}},
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(results).To(HaveLen(2))
			Expect(results[0].AddedObservations).To(BeEmpty())
			Expect(results[1].AddedObservations).To(Equal([]string{"real"}))
		})
	})

	Describe("DeleteObservations", func() {
		BeforeEach(func() {
			createEntity("alice", "likes go", "works remotely")
		})

		It("removes observations as a new version", func() {
			results, err := eng.DeleteObservations(ctx, []engine.ObservationDeletion{
				{EntityName: "alice", Observations: []string{"works remotely"}},
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(results[0].RemovedObservations).To(Equal([]string{"works remotely"}))

			cur, err := driver.CurrentEntity(ctx, "alice")
			Expect(err).NotTo(HaveOccurred())
			Expect(cur.Version).To(Equal(2))
			Expect(cur.Observations).To(Equal([]string{"likes go"}))
		})

		It("leaves the entity untouched when nothing matches", func() {
			results, err := eng.DeleteObservations(ctx, []engine.ObservationDeletion{
				{EntityName: "alice", Observations: []string{"never said"}},
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(results[0].RemovedObservations).To(BeEmpty())

			cur, err := driver.CurrentEntity(ctx, "alice")
			Expect(err).NotTo(HaveOccurred())
			Expect(cur.Version).To(Equal(1))
		})
	})

	Describe("UpdateRelation", func() {
		BeforeEach(func() {
			createEntity("alice")
			createEntity("acme")
			_, err := eng.CreateRelations(ctx, []engine.RelationInput{
				{From: "alice", To: "acme", RelationType: "works_at", Strength: 0.8, Confidence: 0.7},
			})
			Expect(err).NotTo(HaveOccurred())
		})

		It("carries forward omitted fields", func() {
			conf := 0.3
			next, err := eng.UpdateRelation(ctx, engine.RelationUpdate{
				From: "alice", To: "acme", RelationType: "works_at",
				Confidence: &conf,
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(next.Confidence).To(Equal(0.3))
			Expect(next.Strength).To(Equal(0.8))
			Expect(next.Version).To(Equal(2))
		})

		It("keeps exactly one current version", func() {
			strength := 0.4
			_, err := eng.UpdateRelation(ctx, engine.RelationUpdate{
				From: "alice", To: "acme", RelationType: "works_at",
				Strength: &strength,
			})
			Expect(err).NotTo(HaveOccurred())

			history, err := eng.RelationHistory(ctx, "alice", "acme", "works_at")
			Expect(err).NotTo(HaveOccurred())
			Expect(history).To(HaveLen(2))

			currents := 0
			for _, r := range history {
				if r.ValidTo == nil {
					currents++
				}
			}
			Expect(currents).To(Equal(1))
		})

		It("returns not found for unknown relations", func() {
			_, err := eng.UpdateRelation(ctx, engine.RelationUpdate{
				From: "alice", To: "nowhere", RelationType: "visits",
			})
			Expect(err).To(MatchError(ContainSubstring("not found")))
		})
	})

	Describe("DeleteEntities", func() {
		It("removes all versions and touching relations", func() {
			createEntity("alice", "v1")
			createEntity("acme")
			_, err := eng.CreateRelations(ctx, []engine.RelationInput{
				{From: "alice", To: "acme", RelationType: "works_at"},
			})
			Expect(err).NotTo(HaveOccurred())
			_, err = eng.AddObservations(ctx, []engine.ObservationInput{
				{EntityName: "alice", Contents: []string{"v2"}},
			})
			Expect(err).NotTo(HaveOccurred())

			Expect(eng.DeleteEntities(ctx, []string{"alice"})).To(Succeed())

			_, err = eng.EntityHistory(ctx, "alice")
			Expect(err).To(MatchError(ContainSubstring("not found")))

			_, err = eng.RelationHistory(ctx, "alice", "acme", "works_at")
			Expect(err).To(MatchError(ContainSubstring("not found")))

			// The untouched endpoint survives.
			_, err = driver.CurrentEntity(ctx, "acme")
			Expect(err).NotTo(HaveOccurred())
		})
	})

	Describe("GraphAtTime", func() {
		It("reconstructs past states", func() {
			createEntity("alice", "old fact")

			cur, err := driver.CurrentEntity(ctx, "alice")
			Expect(err).NotTo(HaveOccurred())
			beforeUpdate := cur.ValidFrom

			_, err = eng.AddObservations(ctx, []engine.ObservationInput{
				{EntityName: "alice", Contents: []string{"new fact"}},
			})
			Expect(err).NotTo(HaveOccurred())

			past, err := eng.GraphAtTime(ctx, beforeUpdate)
			Expect(err).NotTo(HaveOccurred())
			Expect(past.Entities).To(HaveLen(1))
			Expect(past.Entities[0].Observations).To(Equal([]string{"old fact"}))
			Expect(past.Entities[0].Version).To(Equal(1))

			now, err := eng.ReadGraph(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(now.Entities[0].Version).To(Equal(2))
		})
	})

	Describe("OpenNodes", func() {
		It("returns named entities and relations among them", func() {
			createEntity("alice")
			createEntity("acme")
			createEntity("bob")
			_, err := eng.CreateRelations(ctx, []engine.RelationInput{
				{From: "alice", To: "acme", RelationType: "works_at"},
				{From: "bob", To: "acme", RelationType: "works_at"},
			})
			Expect(err).NotTo(HaveOccurred())

			g, err := eng.OpenNodes(ctx, []string{"alice", "acme", "ghost"})
			Expect(err).NotTo(HaveOccurred())
			Expect(g.EntityNames()).To(ConsistOf("alice", "acme"))
			Expect(g.Relations).To(HaveLen(1))
			Expect(g.Relations[0].From).To(Equal("alice"))
		})
	})
})
