package rag

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type queryFixture struct {
	embedder      *letterEmbedder
	index         *memoryIndex
	generator     *fakeGenerator
	conversations *memoryConversations
	pipeline      *QueryPipeline
}

func newQueryFixture(t *testing.T, topK int) *queryFixture {
	t.Helper()
	f := &queryFixture{
		embedder:      &letterEmbedder{},
		index:         &memoryIndex{},
		generator:     &fakeGenerator{answer: "The answer."},
		conversations: newMemoryConversations(),
	}
	f.pipeline = NewQueryPipeline(f.embedder, f.index, f.generator, f.conversations, topK)
	return f
}

func (f *queryFixture) add(t *testing.T, doc string, page int, text string) {
	t.Helper()
	vec, err := f.embedder.Embed(context.Background(), text)
	require.NoError(t, err)
	require.NoError(t, f.index.Add(context.Background(), []Entry{{
		Vector:   vec,
		Text:     text,
		Metadata: Metadata{DocumentID: doc, Page: PageNumber(page)},
	}}))
}

func TestAsk(t *testing.T) {
	ctx := context.Background()

	t.Run("answers from the nearest passages", func(t *testing.T) {
		f := newQueryFixture(t, 2)
		f.add(t, "a.pdf", 1, "aaaa")
		f.add(t, "b.pdf", 2, "bbbb")
		f.add(t, "c.pdf", 3, "cccc")
		f.add(t, "a.pdf", 4, "aaab")

		answer, err := f.pipeline.Ask(ctx, Question{Text: "  aaa?  "})
		require.NoError(t, err)
		assert.Equal(t, "The answer.", answer.Answer)
		assert.Equal(t, 2, answer.NumDocs)
		require.Len(t, answer.Sources, 2)
		assert.Equal(t, "a.pdf", answer.Sources[0].DocumentID)
		assert.Equal(t, 1, *answer.Sources[0].Page)
		assert.Equal(t, 4, *answer.Sources[1].Page)

		require.Len(t, f.generator.prompts, 1)
		prompt := f.generator.prompts[0]
		assert.Equal(t, SystemInstruction, prompt.System)
		assert.Contains(t, prompt.User, "Source: a.pdf, page 1\naaaa"+ContextDelimiter+"Source: a.pdf, page 4\naaab")
		assert.True(t, strings.HasSuffix(prompt.User, "Question:   aaa?  "))

		msgs, _ := f.conversations.Messages(ctx, answer.ConversationID)
		require.Len(t, msgs, 2)
		assert.Equal(t, "  aaa?  ", msgs[0].Content)
		conv, _ := f.conversations.Get(ctx, answer.ConversationID)
		require.NotNil(t, conv)
		assert.Equal(t, "aaa?", conv.Title)
		assert.Equal(t, "The answer.", msgs[1].Content)
	})

	t.Run("continues an existing conversation", func(t *testing.T) {
		f := newQueryFixture(t, 0)
		f.add(t, "a.pdf", 1, "aaaa")
		first, err := f.pipeline.Ask(ctx, Question{Text: "a?"})
		require.NoError(t, err)
		second, err := f.pipeline.Ask(ctx, Question{Text: "b?", ConversationID: first.ConversationID})
		require.NoError(t, err)
		assert.Equal(t, first.ConversationID, second.ConversationID)

		msgs, _ := f.conversations.Messages(ctx, first.ConversationID)
		assert.Len(t, msgs, 4)
	})

	t.Run("fewer passages than k", func(t *testing.T) {
		f := newQueryFixture(t, 5)
		f.add(t, "a.pdf", 1, "aaaa")
		answer, err := f.pipeline.Ask(ctx, Question{Text: "a?"})
		require.NoError(t, err)
		assert.Equal(t, 1, answer.NumDocs)
	})

	t.Run("empty question", func(t *testing.T) {
		f := newQueryFixture(t, 3)
		_, err := f.pipeline.Ask(ctx, Question{Text: " \n\t"})
		assert.True(t, IsKind(err, KindValidation))
		assert.Zero(t, f.embedder.calls)
	})

	t.Run("empty index", func(t *testing.T) {
		f := newQueryFixture(t, 3)
		_, err := f.pipeline.Ask(ctx, Question{Text: "anything?"})
		assert.ErrorIs(t, err, ErrEmptyIndex)
		assert.True(t, IsKind(err, KindEmptyIndex))
		assert.Zero(t, f.embedder.calls)
		assert.Empty(t, f.conversations.convs)
	})

	t.Run("unknown conversation", func(t *testing.T) {
		f := newQueryFixture(t, 3)
		f.add(t, "a.pdf", 1, "aaaa")
		_, err := f.pipeline.Ask(ctx, Question{Text: "a?", ConversationID: "nope"})
		assert.True(t, IsKind(err, KindNotFound))
		assert.Empty(t, f.generator.prompts)
	})

	t.Run("embedding failure", func(t *testing.T) {
		f := newQueryFixture(t, 3)
		f.add(t, "a.pdf", 1, "aaaa")
		f.embedder.failAt = 1
		_, err := f.pipeline.Ask(ctx, Question{Text: "a?"})
		assert.True(t, IsKind(err, KindEmbedding))
	})

	t.Run("generation failure persists nothing", func(t *testing.T) {
		f := newQueryFixture(t, 3)
		f.add(t, "a.pdf", 1, "aaaa")
		f.generator.err = errors.New("model overloaded")
		_, err := f.pipeline.Ask(ctx, Question{Text: "a?"})
		assert.True(t, IsKind(err, KindGeneration))
		assert.Empty(t, f.conversations.convs)
	})

	t.Run("cancelled during generation persists nothing", func(t *testing.T) {
		f := newQueryFixture(t, 3)
		f.add(t, "a.pdf", 1, "aaaa")
		cctx, cancel := context.WithCancel(ctx)
		f.generator.before = cancel
		_, err := f.pipeline.Ask(cctx, Question{Text: "a?"})
		assert.ErrorIs(t, err, context.Canceled)
		assert.Empty(t, f.conversations.convs)
	})

	t.Run("long questions get a truncated title", func(t *testing.T) {
		f := newQueryFixture(t, 3)
		f.add(t, "a.pdf", 1, "aaaa")
		question := strings.Repeat("é", 100)
		_, err := f.pipeline.Ask(ctx, Question{Text: question})
		require.NoError(t, err)
		require.Len(t, f.conversations.convs, 1)
		assert.Equal(t, strings.Repeat("é", maxTitleLength), f.conversations.convs[0].Title)
	})
}

func TestRetrieveIsDeterministic(t *testing.T) {
	ctx := context.Background()
	f := newQueryFixture(t, 3)
	for i := 0; i < 5; i++ {
		f.add(t, "a.pdf", i+1, "abab")
	}

	first, err := f.pipeline.Retrieve(ctx, "ab", 3)
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		again, err := f.pipeline.Retrieve(ctx, "ab", 3)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
	// equal distances fall back to insertion order
	assert.Equal(t, 1, *first[0].Metadata.Page)
	assert.Equal(t, 3, *first[2].Metadata.Page)
}
