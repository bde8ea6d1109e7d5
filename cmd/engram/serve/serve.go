// Package servecmder provides the serve command for running the engram server.
package servecmder

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/papercomputeco/engram/api"
	"github.com/papercomputeco/engram/api/mcp"
	"github.com/papercomputeco/engram/pkg/config"
	embeddingutils "github.com/papercomputeco/engram/pkg/embeddings/utils"
	"github.com/papercomputeco/engram/pkg/engine"
	"github.com/papercomputeco/engram/pkg/eventstream"
	kafkastream "github.com/papercomputeco/engram/pkg/eventstream/kafka"
	nopstream "github.com/papercomputeco/engram/pkg/eventstream/nop"
	"github.com/papercomputeco/engram/pkg/logger"
	"github.com/papercomputeco/engram/pkg/store"
	"github.com/papercomputeco/engram/pkg/store/inmemory"
	"github.com/papercomputeco/engram/pkg/store/neo4j"
	"github.com/papercomputeco/engram/pkg/store/postgres"
	"github.com/papercomputeco/engram/pkg/store/sqlitevec"
)

// serveFlags is the flag registry for the serve command.
var serveFlags = config.FlagSet{
	config.FlagAPIListen: {
		Name:        "listen",
		Shorthand:   "l",
		ViperKey:    "api.listen",
		Description: "Address for the API server to listen on",
	},
	config.FlagStorageProvider: {
		Name:        "storage",
		ViperKey:    "storage.provider",
		Description: "Storage backend (sqlite, postgres, neo4j, memory)",
	},
	config.FlagSQLite: {
		Name:        "sqlite",
		Shorthand:   "s",
		ViperKey:    "storage.sqlite_path",
		Description: "Path to SQLite database (default: .engram/engram.db)",
	},
	config.FlagPostgresURL: {
		Name:        "postgres-url",
		ViperKey:    "storage.postgres_url",
		Description: "PostgreSQL connection string",
	},
	config.FlagNeo4jURI: {
		Name:        "neo4j-uri",
		ViperKey:    "storage.neo4j_uri",
		Description: "Neo4j bolt URI",
	},
	config.FlagEmbeddingProv: {
		Name:        "embedding-provider",
		ViperKey:    "embedding.provider",
		Description: "Embedding provider (ollama, none)",
	},
	config.FlagEmbeddingTgt: {
		Name:        "embedding-target",
		ViperKey:    "embedding.target",
		Description: "Embedding provider base URL",
	},
	config.FlagEmbeddingModel: {
		Name:        "embedding-model",
		ViperKey:    "embedding.model",
		Description: "Embedding model name",
	},
	config.FlagEmbeddingDims: {
		Name:        "embedding-dimensions",
		ViperKey:    "embedding.dimensions",
		Description: "Embedding dimensionality",
	},
	config.FlagEventsProvider: {
		Name:        "events-provider",
		ViperKey:    "events.provider",
		Description: "Mutation event publisher (none, kafka)",
	},
	config.FlagEventsBrokers: {
		Name:        "events-brokers",
		ViperKey:    "events.brokers",
		Description: "Comma-separated Kafka broker addresses",
	},
}

var serveFlagKeys = []string{
	config.FlagAPIListen,
	config.FlagStorageProvider,
	config.FlagSQLite,
	config.FlagPostgresURL,
	config.FlagNeo4jURI,
	config.FlagEmbeddingProv,
	config.FlagEmbeddingTgt,
	config.FlagEmbeddingModel,
	config.FlagEmbeddingDims,
	config.FlagEventsProvider,
	config.FlagEventsBrokers,
}

type ServeCommander struct {
	listen        string
	storage       string
	sqlitePath    string
	postgresURL   string
	neo4jURI      string
	embeddingProv string
	embeddingTgt  string
	embeddingMod  string
	embeddingDims uint
	eventsProv    string
	eventsBrokers string

	noMCP     bool
	debug     bool
	configDir string
	logger    *zap.Logger
}

const serveLongDesc string = `Run the engram server.

Serves the HTTP API and, unless disabled, a streaming MCP endpoint at /mcp
backed by the same engine. Configuration comes from flags, ENGRAM_ environment
variables, and config.toml in the .engram/ directory, in that order of
precedence. Decay and search tuning in config.toml is hot-reloaded while the
server runs.

Examples:
  engram serve
  engram serve --storage memory
  engram serve --sqlite ./graph.db --embedding-provider none`

const serveShortDesc string = "Run the engram server"

func NewServeCmd() *cobra.Command {
	cmder := &ServeCommander{}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: serveShortDesc,
		Long:  serveLongDesc,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var err error
			cmder.debug, err = cmd.Flags().GetBool("debug")
			if err != nil {
				return fmt.Errorf("could not get debug flag: %v", err)
			}
			cmder.configDir, _ = cmd.Flags().GetString("config-dir")

			v, err := config.InitViper(cmder.configDir)
			if err != nil {
				return err
			}
			config.BindRegisteredFlags(v, cmd, serveFlags, serveFlagKeys)

			return cmder.run(config.ConfigFromViper(v))
		},
	}

	config.AddStringFlag(cmd, serveFlags, config.FlagAPIListen, &cmder.listen)
	config.AddStringFlag(cmd, serveFlags, config.FlagStorageProvider, &cmder.storage)
	config.AddStringFlag(cmd, serveFlags, config.FlagSQLite, &cmder.sqlitePath)
	config.AddStringFlag(cmd, serveFlags, config.FlagPostgresURL, &cmder.postgresURL)
	config.AddStringFlag(cmd, serveFlags, config.FlagNeo4jURI, &cmder.neo4jURI)
	config.AddStringFlag(cmd, serveFlags, config.FlagEmbeddingProv, &cmder.embeddingProv)
	config.AddStringFlag(cmd, serveFlags, config.FlagEmbeddingTgt, &cmder.embeddingTgt)
	config.AddStringFlag(cmd, serveFlags, config.FlagEmbeddingModel, &cmder.embeddingMod)
	config.AddUintFlag(cmd, serveFlags, config.FlagEmbeddingDims, &cmder.embeddingDims)
	config.AddStringFlag(cmd, serveFlags, config.FlagEventsProvider, &cmder.eventsProv)
	config.AddStringFlag(cmd, serveFlags, config.FlagEventsBrokers, &cmder.eventsBrokers)

	cmd.Flags().BoolVar(&cmder.noMCP, "no-mcp", false, "Disable the MCP endpoint")

	return cmd
}

func (c *ServeCommander) run(cfg *config.Config) error {
	c.logger = logger.NewLogger(c.debug)
	defer c.logger.Sync()

	ctx := context.Background()

	driver, err := c.newStoreDriver(ctx, cfg)
	if err != nil {
		return err
	}

	embedder, err := embeddingutils.NewEmbedder(&embeddingutils.NewEmbedderOpts{
		ProviderType: cfg.Embedding.Provider,
		TargetURL:    cfg.Embedding.Target,
		Model:        cfg.Embedding.Model,
		Dimensions:   int(cfg.Embedding.Dimensions),
	})
	if err != nil {
		driver.Close()
		return fmt.Errorf("creating embedder: %w", err)
	}

	publisher, err := c.newPublisher(cfg)
	if err != nil {
		driver.Close()
		return err
	}

	eng, err := engine.New(engine.Config{
		Store:    driver,
		Embedder: embedder,
		Events:   publisher,
		Logger:   c.logger,
		Decay: engine.DecayConfig{
			Enabled:       cfg.Decay.Enabled,
			HalfLifeDays:  cfg.Decay.HalfLifeDays,
			MinConfidence: cfg.Decay.MinConfidence,
		},
		Search: engine.SearchConfig{
			MinSimilarity: float32(cfg.Search.MinSimilarity),
			DefaultLimit:  cfg.Search.DefaultLimit,
		},
	})
	if err != nil {
		driver.Close()
		return fmt.Errorf("creating engine: %w", err)
	}
	defer eng.Close()

	server := api.NewServer(api.Config{ListenAddr: cfg.API.Listen}, eng, c.logger)

	if !c.noMCP {
		mcpServer, err := mcp.NewServer(mcp.Config{
			Engine: eng,
			Logger: c.logger,
		})
		if err != nil {
			return fmt.Errorf("creating MCP server: %w", err)
		}
		server.MountMCP("/mcp", mcpServer.Handler())
	}

	// Hot-reload decay and search tuning while the server runs.
	watchCtx, cancelWatch := context.WithCancel(ctx)
	defer cancelWatch()
	go c.watchTuning(watchCtx, eng)

	errChan := make(chan error, 1)
	go func() {
		if err := server.Run(); err != nil {
			errChan <- fmt.Errorf("API server error: %w", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errChan:
		return err
	case sig := <-sigChan:
		c.logger.Info("received signal, shutting down", zap.String("signal", sig.String()))
		return server.Shutdown()
	}
}

func (c *ServeCommander) newStoreDriver(ctx context.Context, cfg *config.Config) (store.Driver, error) {
	switch cfg.Storage.Provider {
	case "sqlite", "":
		cfger, err := config.NewConfiger(c.configDir)
		if err != nil {
			return nil, err
		}
		path := cfger.SQLitePath(cfg)
		driver, err := sqlitevec.NewDriver(sqlitevec.Config{DBPath: path}, c.logger)
		if err != nil {
			return nil, fmt.Errorf("creating sqlite store: %w", err)
		}
		c.logger.Info("using SQLite storage", zap.String("path", path))
		return driver, nil

	case "postgres":
		driver, err := postgres.NewDriver(ctx, cfg.Storage.PostgresURL, c.logger)
		if err != nil {
			return nil, fmt.Errorf("creating postgres store: %w", err)
		}
		c.logger.Info("using PostgreSQL storage")
		return driver, nil

	case "neo4j":
		driver, err := neo4j.NewDriver(ctx, neo4j.Config{
			URI:      cfg.Storage.Neo4jURI,
			Username: cfg.Storage.Neo4jUsername,
			Password: cfg.Storage.Neo4jPassword,
		}, c.logger)
		if err != nil {
			return nil, fmt.Errorf("creating neo4j store: %w", err)
		}
		c.logger.Info("using Neo4j storage", zap.String("uri", cfg.Storage.Neo4jURI))
		return driver, nil

	case "memory":
		c.logger.Info("using in-memory storage")
		return inmemory.NewDriver(), nil

	default:
		return nil, fmt.Errorf("unsupported storage provider: %s", cfg.Storage.Provider)
	}
}

func (c *ServeCommander) newPublisher(cfg *config.Config) (eventstream.Publisher, error) {
	switch cfg.Events.Provider {
	case "kafka":
		brokers := strings.Split(cfg.Events.Brokers, ",")
		for i := range brokers {
			brokers[i] = strings.TrimSpace(brokers[i])
		}
		publisher, err := kafkastream.NewPublisher(kafkastream.Config{
			Brokers: brokers,
			Topic:   cfg.Events.Topic,
		}, c.logger)
		if err != nil {
			return nil, fmt.Errorf("creating kafka publisher: %w", err)
		}
		return publisher, nil

	case "none", "":
		return nopstream.NewPublisher(), nil

	default:
		return nil, fmt.Errorf("unsupported events provider: %s", cfg.Events.Provider)
	}
}

// watchTuning follows config.toml and applies decay/search changes live.
func (c *ServeCommander) watchTuning(ctx context.Context, eng *engine.Engine) {
	cfger, err := config.NewConfiger(c.configDir)
	if err != nil {
		c.logger.Warn("config watcher disabled", zap.Error(err))
		return
	}

	err = cfger.Watch(ctx, func(cfg *config.Config) {
		eng.Retune(
			engine.DecayConfig{
				Enabled:       cfg.Decay.Enabled,
				HalfLifeDays:  cfg.Decay.HalfLifeDays,
				MinConfidence: cfg.Decay.MinConfidence,
			},
			engine.SearchConfig{
				MinSimilarity: float32(cfg.Search.MinSimilarity),
				DefaultLimit:  cfg.Search.DefaultLimit,
			},
		)
		c.logger.Info("applied updated tuning from config",
			zap.Float64("half_life_days", cfg.Decay.HalfLifeDays),
			zap.Float64("min_similarity", cfg.Search.MinSimilarity),
		)
	})
	if err != nil && ctx.Err() == nil {
		c.logger.Warn("config watcher stopped", zap.Error(err))
	}
}
