package cmd

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-amqp/pkg/amqp"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/spf13/viper"
	weaviateClient "github.com/weaviate/weaviate-go-client/v4/weaviate"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"docqa/src/core/chunker"
	"docqa/src/core/extractor"
	"docqa/src/core/rag"
	"docqa/src/fsutil"
	"docqa/src/infrastructure/integrations/anthropic"
	"docqa/src/infrastructure/integrations/ollama"
	"docqa/src/infrastructure/integrations/openai"
	"docqa/src/infrastructure/integrations/unstructured"
	jobctrl "docqa/src/infrastructure/job"
	"docqa/src/log"
	"docqa/src/storage/elasticsearch"
	"docqa/src/storage/minioctrl"
	"docqa/src/storage/postgres/conversationctrl"
	"docqa/src/storage/postgres/documentctrl"
	"docqa/src/storage/vectorindex/pgvector"
	"docqa/src/storage/vectorindex/sqlite"
	"docqa/src/storage/weaviate"
)

// app holds the long-lived dependencies shared by the commands.
type app struct {
	db            *gorm.DB
	blobs         fsutil.FileStore
	documents     *documentctrl.Repository
	conversations *conversationctrl.Repository
	index         rag.VectorIndex
	models        *rag.Models
	checks        map[string]rag.HealthCheck
	closers       []func() error
}

func newApp(ctx context.Context) (*app, error) {
	a := &app{checks: map[string]rag.HealthCheck{}}

	db, err := openDatabase()
	if err != nil {
		return nil, err
	}
	a.db = db
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying *sql.DB: %v", err)
	}
	a.closers = append(a.closers, sqlDB.Close)
	a.checks["database"] = sqlDB.PingContext

	if a.documents, err = documentctrl.NewRepository(db); err != nil {
		a.Close()
		return nil, err
	}
	if a.conversations, err = conversationctrl.NewRepository(db); err != nil {
		a.Close()
		return nil, err
	}

	if a.blobs, err = a.newFileStore(ctx); err != nil {
		a.Close()
		return nil, err
	}

	if a.models, err = a.newModels(); err != nil {
		a.Close()
		return nil, err
	}

	if a.index, err = a.newVectorIndex(ctx, a.models.Model()); err != nil {
		a.Close()
		return nil, err
	}
	a.checks["vector_index"] = func(ctx context.Context) error {
		_, err := a.index.Count(ctx)
		return err
	}

	return a, nil
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			log.Error(err, "Error closing resource")
		}
	}
	a.closers = nil
}

func (a *app) documentService() *rag.DocumentService {
	return rag.NewDocumentService(a.blobs, a.documents, viper.GetInt64("upload.max_bytes"))
}

func (a *app) indexingPipeline() (*rag.IndexingPipeline, error) {
	ch, err := newChunker()
	if err != nil {
		return nil, fmt.Errorf("invalid chunking config: %w", err)
	}
	ex, err := a.newExtractor()
	if err != nil {
		return nil, err
	}
	return rag.NewIndexingPipeline(a.blobs, a.documents, ex, ch, a.models, a.index), nil
}

func newChunker() (rag.Chunker, error) {
	size, overlap := viper.GetInt("rag.chunk_size"), viper.GetInt("rag.chunk_overlap")
	switch name := viper.GetString("rag.chunker"); name {
	case "recursive":
		return chunker.New(size, overlap, chunker.DefaultSeparators)
	case "langchaingo":
		return chunker.NewLangchain(size, overlap, chunker.DefaultSeparators)
	default:
		return nil, fmt.Errorf("unknown chunker %q", name)
	}
}

func (a *app) newExtractor() (rag.Extractor, error) {
	switch driver := viper.GetString("extractor.driver"); driver {
	case "langchaingo":
		return extractor.NewPDFExtractor(), nil
	case "unstructured":
		svc := unstructured.NewUnstructuredService(viper.GetString("unstructured.url"), &http.Client{Timeout: 5 * time.Minute})
		a.checks["unstructured"] = svc.Ping
		return svc, nil
	default:
		return nil, fmt.Errorf("unknown extractor driver %q", driver)
	}
}

func (a *app) queryPipeline() *rag.QueryPipeline {
	return rag.NewQueryPipeline(a.models, a.index, a.models, a.conversations, viper.GetInt("rag.top_k"))
}

func (a *app) systemService() *rag.SystemService {
	return rag.NewSystemService(a.checks)
}

func openDatabase() (*gorm.DB, error) {
	dsn := fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=disable",
		viper.GetString("postgres.host"),
		viper.GetString("postgres.user"),
		viper.GetString("postgres.password"),
		viper.GetString("postgres.db"),
		viper.GetString("postgres.port"))
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %v", err)
	}
	return db, nil
}

func (a *app) newFileStore(ctx context.Context) (fsutil.FileStore, error) {
	switch driver := viper.GetString("storage.driver"); driver {
	case "local":
		return fsutil.NewLocalFileStore(viper.GetString("storage.data_root"))
	case "minio":
		svc, err := minioctrl.NewMinioService(
			viper.GetString("minio.endpoint"),
			viper.GetString("minio.access_key"),
			viper.GetString("minio.secret_key"),
			viper.GetBool("minio.use_ssl"),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize minio service: %v", err)
		}
		store, err := minioctrl.NewFileStore(ctx, svc, viper.GetString("minio.pdf_bucket"))
		if err != nil {
			return nil, err
		}
		a.checks["blob_storage"] = store.Ping
		return store, nil
	default:
		return nil, fmt.Errorf("unknown storage driver %q", driver)
	}
}

func (a *app) newVectorIndex(ctx context.Context, model string) (rag.VectorIndex, error) {
	switch driver := viper.GetString("index.driver"); driver {
	case "sqlite":
		idx, err := sqlite.Open(ctx, viper.GetString("index.sqlite_path"), model)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, idx.Close)
		return idx, nil
	case "pgvector":
		return pgvector.NewIndex(ctx, a.db, model)
	case "weaviate":
		wc, err := weaviateClient.NewClient(weaviateClient.Config{
			Host:   viper.GetString("weaviate.url"),
			Scheme: viper.GetString("weaviate.scheme"),
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create weaviate client: %w", err)
		}
		return weaviate.NewIndex(ctx, weaviate.NewSDK(wc), model, viper.GetInt64("index.node"))
	case "elasticsearch":
		client, err := elasticsearch.NewClient(
			viper.GetStringSlice("elasticsearch.addresses"),
			viper.GetString("elasticsearch.username"),
			viper.GetString("elasticsearch.password"),
		)
		if err != nil {
			return nil, err
		}
		return elasticsearch.NewIndex(ctx, client, model, viper.GetInt64("index.node"))
	default:
		return nil, fmt.Errorf("unknown index driver %q", driver)
	}
}

// newModels resolves the providers eagerly but builds the clients lazily.
func (a *app) newModels() (*rag.Models, error) {
	var (
		ollamaMu     sync.Mutex
		ollamaClient *ollama.Client
	)
	getOllama := func() (*ollama.Client, error) {
		ollamaMu.Lock()
		defer ollamaMu.Unlock()
		if ollamaClient != nil {
			return ollamaClient, nil
		}
		timeout, err := time.ParseDuration(viper.GetString("ollama.timeout"))
		if err != nil {
			return nil, fmt.Errorf("invalid ollama timeout: %w", err)
		}
		c, err := ollama.NewClient(viper.GetString("ollama.url"), &http.Client{Timeout: timeout})
		if err != nil {
			return nil, err
		}
		ollamaClient = c
		return c, nil
	}

	embeddingProvider := viper.GetString("embedding.provider")
	embeddingModel := viper.GetString("embedding.model")
	var newEmbedder rag.EmbedderFactory
	switch embeddingProvider {
	case "ollama":
		if embeddingModel == "" {
			embeddingModel = ollama.DefaultEmbeddingModel
		}
		newEmbedder = func(ctx context.Context) (rag.Embedder, error) {
			c, err := getOllama()
			if err != nil {
				return nil, err
			}
			return ollama.NewEmbedder(c, embeddingModel), nil
		}
	case "openai":
		if embeddingModel == "" {
			embeddingModel = openai.DefaultEmbeddingModel
		}
		newEmbedder = func(ctx context.Context) (rag.Embedder, error) {
			c, err := openai.NewClient(viper.GetString("openai.api_key"), viper.GetString("openai.base_url"))
			if err != nil {
				return nil, err
			}
			return openai.NewEmbedder(c, embeddingModel), nil
		}
	default:
		return nil, fmt.Errorf("unknown embedding provider %q", embeddingProvider)
	}

	generationProvider := viper.GetString("generation.provider")
	generationModel := viper.GetString("generation.model")
	temperature := viper.GetFloat64("generation.temperature")
	maxTokens := viper.GetInt("generation.max_tokens")
	var newGenerator rag.GeneratorFactory
	switch generationProvider {
	case "ollama":
		newGenerator = func(ctx context.Context) (rag.Generator, error) {
			c, err := getOllama()
			if err != nil {
				return nil, err
			}
			return ollama.NewGenerator(c, generationModel, temperature), nil
		}
	case "openai":
		newGenerator = func(ctx context.Context) (rag.Generator, error) {
			c, err := openai.NewClient(viper.GetString("openai.api_key"), viper.GetString("openai.base_url"))
			if err != nil {
				return nil, err
			}
			return openai.NewGenerator(c, generationModel, float32(temperature), maxTokens), nil
		}
	case "anthropic":
		newGenerator = func(ctx context.Context) (rag.Generator, error) {
			return anthropic.NewGenerator(viper.GetString("anthropic.api_key"), generationModel, temperature, maxTokens)
		}
	default:
		return nil, fmt.Errorf("unknown generation provider %q", generationProvider)
	}

	if embeddingProvider == "ollama" || generationProvider == "ollama" {
		a.checks["ollama"] = func(ctx context.Context) error {
			c, err := getOllama()
			if err != nil {
				return err
			}
			return c.Ping(ctx)
		}
	}

	return rag.NewModels(embeddingModel, newEmbedder, newGenerator), nil
}

// newJobTransport returns the publisher and subscriber for the jobs topic.
func newJobTransport(logger watermill.LoggerAdapter) (message.Publisher, message.Subscriber, func() error, error) {
	switch driver := viper.GetString("queue.driver"); driver {
	case "gochannel":
		pubSub := gochannel.NewGoChannel(gochannel.Config{}, logger)
		return pubSub, pubSub, pubSub.Close, nil
	case "amqp":
		publisher, err := amqp.NewPublisher(amqp.NewDurableQueueConfig(viper.GetString("amqp.url")), logger)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("failed to create amqp publisher: %w", err)
		}
		subscriberConfig := amqp.NewDurableQueueConfig(viper.GetString("amqp.url"))
		subscriberConfig.Consume.NoRequeueOnNack = true
		subscriber, err := amqp.NewSubscriber(subscriberConfig, logger)
		if err != nil {
			publisher.Close()
			return nil, nil, nil, fmt.Errorf("failed to create amqp subscriber: %w", err)
		}
		closeAll := func() error {
			subErr := subscriber.Close()
			if err := publisher.Close(); err != nil {
				return err
			}
			return subErr
		}
		return publisher, subscriber, closeAll, nil
	default:
		return nil, nil, nil, fmt.Errorf("unknown queue driver %q", driver)
	}
}

// newJobService wires the job service and its router onto the configured
// transport. Jobs share pipeline with the caller so runs for the same
// document stay serialized.
func (a *app) newJobService(pipeline *rag.IndexingPipeline) (*jobctrl.JobService, *message.Router, error) {
	logger := log.NewWatermillAdapter(log.WithName("jobs"))

	publisher, subscriber, closeTransport, err := newJobTransport(logger)
	if err != nil {
		return nil, nil, err
	}
	a.closers = append(a.closers, closeTransport)

	repo, err := jobctrl.NewPostgresJobRepository(a.db)
	if err != nil {
		return nil, nil, err
	}

	service := jobctrl.NewJobService(publisher, repo, logger, pipeline)
	router, err := jobctrl.NewRouter(service, subscriber, publisher, logger)
	if err != nil {
		return nil, nil, err
	}
	return service, router, nil
}
