package bootstrap

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"askdoc/internal/ai"
	"askdoc/internal/app"
	"askdoc/internal/cache"
	"askdoc/internal/config"
	"askdoc/internal/model"
	applog "askdoc/internal/platform/log"
	mysqlClient "askdoc/internal/platform/mysql"
	postgresClient "askdoc/internal/platform/postgres"
	rabbitmqClient "askdoc/internal/platform/rabbitmq"
	redisClient "askdoc/internal/platform/redis"
	"askdoc/internal/repository"
	"askdoc/internal/vectorindex"
	"askdoc/internal/worker"
)

type App struct {
	Config       *config.Config
	MySQL        *gorm.DB
	Redis        *redis.Client
	MQConn       *amqp.Connection
	Postgres     *pgxpool.Pool
	VectorIndex  vectorindex.Index
	StatusWorker *worker.IngestionStatusWorker

	Users        *repository.UserRepository
	Documents    *repository.DocumentRepository
	Messages     *repository.MessageRepository
	HistoryCache *cache.HistoryCache

	AuthService    *app.AuthService
	QueryPipeline  *app.QueryPipeline
	MessageService *app.MessageService
	IngestService  *app.IngestService

	StartedAt time.Time
}

func New(ctx context.Context) (*App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config failed: %w", err)
	}
	applog.Init(applog.Config{
		Level:     cfg.Log.Level,
		Format:    cfg.Log.Format,
		AddSource: cfg.Log.AddSource,
	})

	a := &App{Config: cfg, StartedAt: time.Now()}
	if err := a.init(ctx); err != nil {
		_ = a.Close()
		return nil, err
	}
	applog.Info("application initialized",
		"env", cfg.App.Env,
		"llm_provider", cfg.LLM.Provider,
		"vector_provider", cfg.Vector.Provider,
	)
	return a, nil
}

func (a *App) init(ctx context.Context) error {
	cfg := a.Config

	mysqlDB, err := mysqlClient.New(ctx, cfg.MySQLDSN(), cfg.MySQL)
	if err != nil {
		return err
	}
	a.MySQL = mysqlDB
	if err := mysqlDB.AutoMigrate(&model.User{}, &model.Document{}, &model.Message{}); err != nil {
		return fmt.Errorf("auto migrate tables failed: %w", err)
	}

	redisCli, err := redisClient.New(ctx, cfg.Redis)
	if err != nil {
		return err
	}
	a.Redis = redisCli

	mqConn, err := rabbitmqClient.New(ctx, cfg.RabbitMQ.URL)
	if err != nil {
		return err
	}
	a.MQConn = mqConn

	llm, err := ai.NewClient(ai.Config{
		Provider:       cfg.LLM.Provider,
		BaseURL:        cfg.LLM.BaseURL,
		APIKey:         cfg.LLM.APIKey,
		Model:          cfg.LLM.Model,
		EmbeddingModel: cfg.LLM.EmbeddingModel,
		EmbeddingBatch: cfg.Ingest.EmbeddingBatch,
	})
	if err != nil {
		return fmt.Errorf("create llm client failed: %w", err)
	}

	index, err := a.newVectorIndex(ctx, llm)
	if err != nil {
		return err
	}
	a.VectorIndex = index

	a.Users = repository.NewUserRepository(mysqlDB)
	a.Documents = repository.NewDocumentRepository(mysqlDB)
	a.Messages = repository.NewMessageRepository(mysqlDB)
	a.HistoryCache = cache.NewHistoryCache(
		redisCli,
		time.Duration(cfg.Redis.HistoryTTLSeconds)*time.Second,
		time.Duration(cfg.Redis.HistoryDirtyTTLSeconds)*time.Second,
	)

	a.StatusWorker = worker.NewIngestionStatusWorker(mqConn, a.Documents, cfg.RabbitMQ.IngestionStatusQueue)
	if err := a.StatusWorker.Start(ctx); err != nil {
		return fmt.Errorf("start ingestion status worker failed: %w", err)
	}

	a.AuthService = app.NewAuthService(
		a.Users,
		cfg.Auth.JWTSecret,
		time.Duration(cfg.Auth.JWTExpireMinute)*time.Minute,
	)
	a.QueryPipeline = app.NewQueryPipeline(a.Documents, a.Messages, index, llm, a.HistoryCache, app.PipelineConfig{
		TopK:                cfg.Pipeline.TopK,
		HistorySize:         cfg.Pipeline.HistorySize,
		PersistOnDisconnect: cfg.Pipeline.PersistOnDisconnect,
		DrainTimeout:        cfg.DrainTimeout(),
	})
	a.MessageService = app.NewMessageService(a.Documents, a.Messages, a.HistoryCache)
	a.IngestService = app.NewIngestService(
		a.Documents,
		index,
		rabbitmqClient.NewStatusPublisher(mqConn, cfg.RabbitMQ.IngestionStatusQueue),
		app.IngestConfig{
			ChunkSize:    cfg.Ingest.ChunkSize,
			ChunkOverlap: cfg.Ingest.ChunkOverlap,
			Timeout:      time.Duration(cfg.Ingest.TimeoutSeconds) * time.Second,
		},
	)
	return nil
}

func (a *App) newVectorIndex(ctx context.Context, embedder ai.Embedder) (vectorindex.Index, error) {
	cfg := a.Config.Vector
	switch cfg.Provider {
	case config.VectorProviderMemory:
		applog.Warn("using in-memory vector index, indexed documents are lost on restart")
		return vectorindex.NewMemoryIndex(embedder), nil
	default:
		pool, err := postgresClient.New(ctx, cfg.PostgresURL)
		if err != nil {
			return nil, err
		}
		a.Postgres = pool
		index := vectorindex.NewPGVectorIndex(pool, embedder, cfg.Table, cfg.Dimensions)
		if err := index.EnsureSchema(ctx); err != nil {
			return nil, fmt.Errorf("ensure vector schema failed: %w", err)
		}
		return index, nil
	}
}

// Close waits for in-flight ingestions before releasing connections.
func (a *App) Close() error {
	var closeErr error
	if a.IngestService != nil {
		a.IngestService.Wait()
	}
	if a.StatusWorker != nil {
		a.StatusWorker.Close()
	}
	if a.Redis != nil {
		if err := a.Redis.Close(); err != nil {
			closeErr = err
		}
	}
	if a.MQConn != nil {
		if err := a.MQConn.Close(); err != nil {
			closeErr = err
		}
	}
	if a.Postgres != nil {
		a.Postgres.Close()
	}
	if a.MySQL != nil {
		sqlDB, err := a.MySQL.DB()
		if err == nil {
			if err := sqlDB.Close(); err != nil {
				closeErr = err
			}
		}
	}
	return closeErr
}
