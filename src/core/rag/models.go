package rag

import (
	"context"
	"sync"
)

// EmbedderFactory and GeneratorFactory build model clients on first use.
type (
	EmbedderFactory  func(ctx context.Context) (Embedder, error)
	GeneratorFactory func(ctx context.Context) (Generator, error)
)

// Models is the process-wide handle to the embedding and generation
// clients. Each client is built at most once; concurrent first callers
// wait for the same construction. A failed construction is retried by the
// next caller.
//
// Models implements both Embedder and Generator, so pipelines depend on the
// interfaces and tests can pass fakes directly.
type Models struct {
	embeddingModel string
	newEmbedder    EmbedderFactory
	newGenerator   GeneratorFactory

	embedMu   sync.Mutex
	embedder  Embedder
	genMu     sync.Mutex
	generator Generator
}

func NewModels(embeddingModel string, newEmbedder EmbedderFactory, newGenerator GeneratorFactory) *Models {
	return &Models{
		embeddingModel: embeddingModel,
		newEmbedder:    newEmbedder,
		newGenerator:   newGenerator,
	}
}

// Model returns the configured embedding model without building the client.
func (m *Models) Model() string {
	return m.embeddingModel
}

func (m *Models) Embed(ctx context.Context, text string) ([]float32, error) {
	e, err := m.Embedder(ctx)
	if err != nil {
		return nil, err
	}
	return e.Embed(ctx, text)
}

func (m *Models) Generate(ctx context.Context, prompt Prompt) (string, error) {
	g, err := m.Generator(ctx)
	if err != nil {
		return "", err
	}
	return g.Generate(ctx, prompt)
}

// Embedder returns the shared embedding client, building it if needed.
func (m *Models) Embedder(ctx context.Context) (Embedder, error) {
	m.embedMu.Lock()
	defer m.embedMu.Unlock()

	if m.embedder != nil {
		return m.embedder, nil
	}
	e, err := m.newEmbedder(ctx)
	if err != nil {
		return nil, EmbeddingError(err, "failed to initialize embedding model %s", m.embeddingModel)
	}
	m.embedder = e
	return e, nil
}

// Generator returns the shared generation client, building it if needed.
func (m *Models) Generator(ctx context.Context) (Generator, error) {
	m.genMu.Lock()
	defer m.genMu.Unlock()

	if m.generator != nil {
		return m.generator, nil
	}
	g, err := m.newGenerator(ctx)
	if err != nil {
		return nil, GenerationError(err, "failed to initialize generation model")
	}
	m.generator = g
	return g, nil
}
