//go:build integration

package openai

import (
	"context"
	"os"
	"strings"
	"testing"

	"github.com/cloo-solutions/kbchat/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIntegration_GenerateEmbedding_RealAPI(t *testing.T) {
	apiKey := os.Getenv("KBCHAT_OPENAI_API_KEY")
	if apiKey == "" {
		t.Skip("KBCHAT_OPENAI_API_KEY not set, skipping integration test")
	}

	client := NewClient(apiKey)
	ctx := context.Background()

	embedding, err := client.GenerateEmbedding(ctx, "This is a test document for generating embeddings.")

	require.NoError(t, err)
	assert.Len(t, embedding, DefaultEmbeddingDimensions)
}

func TestIntegration_StreamCompletion_RealAPI(t *testing.T) {
	apiKey := os.Getenv("KBCHAT_OPENAI_API_KEY")
	if apiKey == "" {
		t.Skip("KBCHAT_OPENAI_API_KEY not set, skipping integration test")
	}

	client := NewClient(apiKey)

	var sb strings.Builder
	err := client.StreamCompletion(context.Background(), []domain.ChatMessage{
		{Role: domain.ChatRoleUser, Content: "Reply with the single word: pong"},
	}, func(delta string) error {
		sb.WriteString(delta)
		return nil
	})

	require.NoError(t, err)
	assert.NotEmpty(t, sb.String())
}
