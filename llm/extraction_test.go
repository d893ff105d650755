package llm

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/bidflow/types"
)

func TestExtractEntities(t *testing.T) {
	provider := &StaticProvider{Responses: []string{
		"```json\n[{\"name\": \"Acme Corp\", \"type\": \"organization\", \"confidence\": 0.9},\n" +
			"{\"name\": \"Kubernetes\", \"type\": \"technology\", \"confidence\": 0.8},\n" +
			"{\"name\": \"Weird\", \"type\": \"animal\", \"confidence\": 0.5}]\n```",
	}}
	client := NewExtractionClient(provider, zap.NewNop())

	entities, err := client.ExtractEntities(context.Background(), "Acme Corp proposes Kubernetes.")
	require.NoError(t, err)

	// 非法类型的条目被丢弃
	require.Len(t, entities, 2)
	assert.Equal(t, "Acme Corp", entities[0].Name)
	assert.Equal(t, "organization", entities[0].Type)
}

func TestExtractEntitiesUnparsable(t *testing.T) {
	provider := &StaticProvider{Responses: []string{"I could not find any entities, sorry!"}}
	client := NewExtractionClient(provider, zap.NewNop())

	_, err := client.ExtractEntities(context.Background(), "some text")
	require.Error(t, err)
	assert.Equal(t, types.ErrUnparsableOutput, types.CodeOf(err))
}

func TestExtractEntitiesProviderError(t *testing.T) {
	provider := &StaticProvider{Err: errors.New("connection refused")}
	client := NewExtractionClient(provider, zap.NewNop())

	_, err := client.ExtractEntities(context.Background(), "some text")
	require.Error(t, err)
}

func TestExtractRelationships(t *testing.T) {
	provider := &StaticProvider{Responses: []string{
		`The relationships are: [{"source": "Acme Corp", "target": "Kubernetes", "type": "uses", "confidence": 0.7}]`,
	}}
	client := NewExtractionClient(provider, zap.NewNop())

	rels, err := client.ExtractRelationships(context.Background(), []ExtractedEntity{
		{Name: "Acme Corp", Type: "organization"},
		{Name: "Kubernetes", Type: "technology"},
	})
	require.NoError(t, err)
	require.Len(t, rels, 1)
	assert.Equal(t, "uses", rels[0].Type)
}

func TestExtractRelationshipsTooFewEntities(t *testing.T) {
	client := NewExtractionClient(&StaticProvider{}, zap.NewNop())

	rels, err := client.ExtractRelationships(context.Background(), []ExtractedEntity{{Name: "solo", Type: "concept"}})
	require.NoError(t, err)
	assert.Nil(t, rels)
}
