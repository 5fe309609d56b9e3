package dedupe

import (
	"context"
	"errors"
	"testing"

	"github.com/agenthands/geargraph/internal/core/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type MockLLMClient struct {
	Response string
	Err      error
	Prompt   string
}

func (m *MockLLMClient) Generate(ctx context.Context, prompt string) (string, error) {
	m.Prompt = prompt
	if m.Err != nil {
		return "", m.Err
	}
	return m.Response, nil
}

func TestAdvise(t *testing.T) {
	mockLLM := &MockLLMClient{
		Response: "```json\n{\"entity_id\": \"e1\", \"confidence\": 0.82, \"reasoning\": \"typo\"}\n```",
	}
	advisor := NewLLMAdvisor(mockLLM, "")
	c := candidate(t, "Exso 58", "Osprey", "backpack")

	s, err := advisor.Advise(context.Background(), c, []model.Match{
		{EntityID: "e1", Name: "Exos 58", Brand: "Osprey", Score: 0.87},
		{EntityID: "e2", Name: "Exos 48", Brand: "Osprey", Score: 0.74},
	})
	require.NoError(t, err)
	assert.Equal(t, "e1", s.EntityID)
	assert.Equal(t, 0.82, s.Confidence)
	assert.Contains(t, mockLLM.Prompt, "ID: e2, Name: Exos 48")
}

func TestAdvise_UnknownIDIsDropped(t *testing.T) {
	advisor := NewLLMAdvisor(&MockLLMClient{Response: `{"entity_id": "made-up", "confidence": 0.99}`}, "")
	c := candidate(t, "Exso 58", "Osprey", "backpack")

	s, err := advisor.Advise(context.Background(), c, []model.Match{{EntityID: "e1", Score: 0.8}})
	require.NoError(t, err)
	assert.Empty(t, s.EntityID)
	assert.Equal(t, 0.0, s.Confidence)
}

func TestAdvise_Errors(t *testing.T) {
	c := candidate(t, "Exso 58", "Osprey", "backpack")
	matches := []model.Match{{EntityID: "e1", Score: 0.8}}

	_, err := NewLLMAdvisor(&MockLLMClient{Err: errors.New("rate limited")}, "").Advise(context.Background(), c, matches)
	assert.Error(t, err)

	_, err = NewLLMAdvisor(&MockLLMClient{Response: "no idea"}, "").Advise(context.Background(), c, matches)
	assert.Error(t, err)

	s, err := NewLLMAdvisor(&MockLLMClient{}, "").Advise(context.Background(), c, nil)
	assert.NoError(t, err)
	assert.Nil(t, s)
}
