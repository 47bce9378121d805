package anthropic

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docqa/src/core/rag"
)

func TestNewGeneratorRequiresKey(t *testing.T) {
	_, err := NewGenerator("", "", 0, 0)
	assert.Error(t, err)
}

func TestGenerate(t *testing.T) {
	var got map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/messages", r.URL.Path)
		assert.Equal(t, "test-key", r.Header.Get("X-Api-Key"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"id": "msg_1", "type": "message", "role": "assistant", "model": "claude-test",
			"content": [{"type": "text", "text": " The term is 12 months. "}],
			"stop_reason": "end_turn",
			"usage": {"input_tokens": 10, "output_tokens": 7}
		}`))
	}))
	defer srv.Close()

	g, err := NewGenerator("test-key", "claude-test", 0, 256, option.WithBaseURL(srv.URL), option.WithMaxRetries(0))
	require.NoError(t, err)

	answer, err := g.Generate(context.Background(), rag.Prompt{System: "be brief", User: "How long?"})
	require.NoError(t, err)
	assert.Equal(t, "The term is 12 months.", answer)

	assert.Equal(t, "claude-test", got["model"])
	assert.EqualValues(t, 256, got["max_tokens"])
	assert.EqualValues(t, 0, got["temperature"])
}
