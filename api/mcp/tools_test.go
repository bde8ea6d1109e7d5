package mcp

import (
	"context"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/papercomputeco/engram/pkg/engine"
	"github.com/papercomputeco/engram/pkg/store/inmemory"
	testutils "github.com/papercomputeco/engram/pkg/utils/test"
)

var _ = Describe("Graph tools", func() {
	var (
		ctx    context.Context
		server *Server
	)

	BeforeEach(func() {
		ctx = context.Background()

		eng, err := engine.New(engine.Config{
			Store:    inmemory.NewDriver(),
			Embedder: testutils.NewMockEmbedder(),
			Logger:   zap.NewNop(),
		})
		Expect(err).NotTo(HaveOccurred())

		server, err = NewServer(Config{
			Engine: eng,
			Logger: zap.NewNop(),
		})
		Expect(err).NotTo(HaveOccurred())
	})

	createEntities := func(names ...string) {
		inputs := make([]engine.EntityInput, 0, len(names))
		for _, n := range names {
			inputs = append(inputs, engine.EntityInput{
				Name: n, EntityType: "person", Observations: []string{"about " + n},
			})
		}

		result, output, err := server.handleCreateEntities(ctx, nil, CreateEntitiesInput{Entities: inputs})
		Expect(err).NotTo(HaveOccurred())
		Expect(result.IsError).To(BeFalse())
		Expect(output.Count).To(Equal(len(names)))
	}

	Describe("create_entities", func() {
		It("creates entities and serializes them into the text content", func() {
			result, output, err := server.handleCreateEntities(ctx, nil, CreateEntitiesInput{
				Entities: []engine.EntityInput{{Name: "alice", EntityType: "person"}},
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(result.IsError).To(BeFalse())
			Expect(result.Content).To(HaveLen(1))
			Expect(output.Count).To(Equal(1))
			Expect(output.Created[0].Version).To(Equal(1))
		})
	})

	Describe("create_relations", func() {
		It("creates relations between existing entities", func() {
			createEntities("alice", "acme")

			result, output, err := server.handleCreateRelations(ctx, nil, CreateRelationsInput{
				Relations: []engine.RelationInput{
					{From: "alice", To: "acme", RelationType: "works_at"},
				},
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(result.IsError).To(BeFalse())
			Expect(output.Count).To(Equal(1))
			Expect(output.Created[0].Confidence).To(Equal(engine.DefaultConfidence))
		})
	})

	Describe("add_observations and delete_observations", func() {
		It("versions the entity through the round trip", func() {
			createEntities("alice")

			_, added, err := server.handleAddObservations(ctx, nil, AddObservationsInput{
				Observations: []engine.ObservationInput{
					{EntityName: "alice", Contents: []string{"new fact"}},
				},
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(added.Results[0].AddedObservations).To(Equal([]string{"new fact"}))

			_, removed, err := server.handleDeleteObservations(ctx, nil, DeleteObservationsInput{
				Deletions: []engine.ObservationDeletion{
					{EntityName: "alice", Observations: []string{"new fact"}},
				},
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(removed.Results[0].RemovedObservations).To(Equal([]string{"new fact"}))

			_, history, err := server.handleEntityHistory(ctx, nil, EntityHistoryInput{Name: "alice"})
			Expect(err).NotTo(HaveOccurred())
			Expect(history.Count).To(Equal(3))
		})
	})

	Describe("update_relation", func() {
		It("returns an error result for an unknown relation", func() {
			result, _, err := server.handleUpdateRelation(ctx, nil, UpdateRelationInput{
				From: "ghost", To: "nowhere", RelationType: "haunts",
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(result.IsError).To(BeTrue())
		})
	})

	Describe("read_graph and open_nodes", func() {
		It("reads the full graph", func() {
			createEntities("alice", "bob")

			result, output, err := server.handleReadGraph(ctx, nil, ReadGraphInput{})
			Expect(err).NotTo(HaveOccurred())
			Expect(result.IsError).To(BeFalse())
			Expect(output.Graph.Entities).To(HaveLen(2))
		})

		It("opens only the named nodes", func() {
			createEntities("alice", "bob")

			_, output, err := server.handleOpenNodes(ctx, nil, OpenNodesInput{Names: []string{"bob"}})
			Expect(err).NotTo(HaveOccurred())
			Expect(output.Graph.Entities).To(HaveLen(1))
			Expect(output.Graph.Entities[0].Name).To(Equal("bob"))
		})
	})

	Describe("search_nodes", func() {
		It("matches by keyword", func() {
			createEntities("alice", "bob")

			_, output, err := server.handleSearchNodes(ctx, nil, SearchNodesInput{Query: "alice"})
			Expect(err).NotTo(HaveOccurred())
			Expect(output.Graph.Entities).To(HaveLen(1))
		})
	})

	Describe("semantic_search", func() {
		It("returns the nearest entities", func() {
			createEntities("alice")

			_, output, err := server.handleSemanticSearch(ctx, nil, SemanticSearchInput{
				Query: "who is alice",
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(output.Graph.Entities).To(HaveLen(1))
		})
	})

	Describe("graph_at_time", func() {
		It("rejects a malformed timestamp", func() {
			result, _, err := server.handleGraphAtTime(ctx, nil, GraphAtTimeInput{Timestamp: "yesterday"})
			Expect(err).NotTo(HaveOccurred())
			Expect(result.IsError).To(BeTrue())
		})

		It("reconstructs the graph at an instant", func() {
			createEntities("alice")

			_, output, err := server.handleGraphAtTime(ctx, nil, GraphAtTimeInput{
				Timestamp: "2000-01-01T00:00:00Z",
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(output.Graph.Entities).To(BeEmpty())
		})
	})

	Describe("delete_entities", func() {
		It("removes entities and reports the count", func() {
			createEntities("alice")

			result, output, err := server.handleDeleteEntities(ctx, nil, DeleteEntitiesInput{Names: []string{"alice"}})
			Expect(err).NotTo(HaveOccurred())
			Expect(result.IsError).To(BeFalse())
			Expect(output.Deleted).To(Equal(1))

			historyResult, _, err := server.handleEntityHistory(ctx, nil, EntityHistoryInput{Name: "alice"})
			Expect(err).NotTo(HaveOccurred())
			Expect(historyResult.IsError).To(BeTrue())
		})
	})
})
