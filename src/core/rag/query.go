package rag

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"docqa/src/log"
)

// DefaultTopK is the number of passages retrieved per question.
const DefaultTopK = 3

const maxTitleLength = 80

// QueryPipeline answers questions from the vector index and records the
// resulting conversation turn.
type QueryPipeline struct {
	embedder      Embedder
	index         VectorIndex
	generator     Generator
	conversations ConversationRepository
	topK          int
}

func NewQueryPipeline(embedder Embedder, index VectorIndex, generator Generator, conversations ConversationRepository, topK int) *QueryPipeline {
	if topK <= 0 {
		topK = DefaultTopK
	}
	return &QueryPipeline{
		embedder:      embedder,
		index:         index,
		generator:     generator,
		conversations: conversations,
		topK:          topK,
	}
}

// Retrieve embeds the question and returns the k nearest passages. It
// returns ErrEmptyIndex when nothing has been indexed yet.
func (p *QueryPipeline) Retrieve(ctx context.Context, question string, k int) ([]SearchResult, error) {
	if k <= 0 {
		k = p.topK
	}

	n, err := p.index.Count(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to count index entries: %w", err)
	}
	if n == 0 {
		return nil, ErrEmptyIndex
	}

	vec, err := p.embedder.Embed(ctx, question)
	if err != nil {
		if KindOf(err) == KindEmbedding {
			return nil, err
		}
		return nil, EmbeddingError(err, "failed to embed question")
	}

	results, err := p.index.Search(ctx, vec, k)
	if err != nil {
		if KindOf(err) == KindEmbedding {
			return nil, err
		}
		return nil, fmt.Errorf("failed to search vector index: %w", err)
	}
	return results, nil
}

// Ask answers a question and appends the turn to the given conversation,
// or to a new one when q.ConversationID is empty. The question text is
// embedded, prompted and stored verbatim.
func (p *QueryPipeline) Ask(ctx context.Context, q Question) (*Answer, error) {
	if strings.TrimSpace(q.Text) == "" {
		return nil, ValidationError("question must not be empty")
	}

	if q.ConversationID != "" {
		conv, err := p.conversations.Get(ctx, q.ConversationID)
		if err != nil {
			return nil, fmt.Errorf("failed to get conversation: %w", err)
		}
		if conv == nil {
			return nil, NotFoundError("conversation %s not found", q.ConversationID)
		}
	}

	results, err := p.Retrieve(ctx, q.Text, p.topK)
	if err != nil {
		return nil, err
	}

	prompt, err := BuildPrompt(AssembleContext(results), q.Text)
	if err != nil {
		return nil, err
	}

	answer, err := p.generator.Generate(ctx, prompt)
	if err != nil {
		if KindOf(err) == KindGeneration {
			return nil, err
		}
		return nil, GenerationError(err, "failed to generate answer")
	}

	// Abandoned requests must not leave a half recorded turn.
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	conv, err := p.conversations.AppendTurn(ctx, Turn{
		ConversationID: q.ConversationID,
		Title:          conversationTitle(strings.TrimSpace(q.Text)),
		Question:       q.Text,
		Answer:         answer,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to save conversation turn: %w", err)
	}

	sources := make([]Metadata, len(results))
	for i, r := range results {
		sources[i] = r.Metadata
	}

	log.Info("Question answered", "conversation_id", conv.ID, "num_docs", len(results))
	return &Answer{
		Answer:         answer,
		Sources:        sources,
		NumDocs:        len(results),
		ConversationID: conv.ID,
	}, nil
}

func conversationTitle(question string) string {
	if utf8.RuneCountInString(question) <= maxTitleLength {
		return question
	}
	return string([]rune(question)[:maxTitleLength])
}
