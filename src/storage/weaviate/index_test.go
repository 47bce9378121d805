package weaviate_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"docqa/src/core/rag"
	"docqa/src/storage/weaviate"
)

func TestClassName(t *testing.T) {
	tests := []struct {
		model string
		want  string
	}{
		{model: "nomic-embed-text", want: "Chunks_nomic_embed_text"},
		{model: "text-embedding-3-small", want: "Chunks_text_embedding_3_small"},
		{model: "", want: "Chunks_default"},
	}

	for _, tt := range tests {
		t.Run(tt.model, func(t *testing.T) {
			assert.Equal(t, tt.want, weaviate.ClassName(rag.SpaceName(tt.model)))
		})
	}
}
