package extraction

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agenthands/geargraph/internal/config"
	"github.com/agenthands/geargraph/internal/core/model"
)

func TestExtractCandidates(t *testing.T) {
	// fenced, with a trailing comma the repair step has to cope with
	mockJSON := "```json\n" + `{
		"candidates": [
			{"name": "Exos 58", "brand": "Osprey", "category": "backpack",
			 "fields": {"weight": {"value": "1.2 kg", "confidence": 0.8}, "price": "$220"}},
			{"name": "", "brand": "Osprey"},
			{"name": "Talon 22", "brand": "Osprey", "category": "backpack", "source_ref": "https://osprey.com/talon",},
		]
	}` + "\n```"

	mockLLM := &MockLLMClient{Response: mockJSON}
	extractor := NewExtractor(mockLLM, config.ExtractionPrompts{Candidates: "title=%s content=%s"})

	got, err := extractor.ExtractCandidates(context.Background(), "https://example.com/review", "Pack review", "I carried the Exos 58...")
	require.NoError(t, err)
	require.Len(t, got, 2)

	assert.Equal(t, "Exos 58", got[0].Name)
	assert.Equal(t, "https://example.com/review", got[0].SourceRef)
	assert.Equal(t, model.RawField{Value: "1.2 kg", Confidence: model.Conf(0.8)}, got[0].Fields["weight"])
	assert.Equal(t, model.RawField{Value: "$220"}, got[0].Fields["price"], "bare scalars are accepted")
	assert.Equal(t, "https://osprey.com/talon", got[1].SourceRef)

	require.Len(t, mockLLM.Prompts, 1)
	assert.Equal(t, "title=Pack review content=I carried the Exos 58...", mockLLM.Prompts[0])
}

func TestExtractCandidates_DefaultPrompt(t *testing.T) {
	mockLLM := &MockLLMClient{Response: `{"candidates": []}`}
	extractor := NewExtractor(mockLLM, config.ExtractionPrompts{})

	got, err := extractor.ExtractCandidates(context.Background(), "ref", "Title", "body text")
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.Contains(t, mockLLM.Prompts[0], "Source title: Title")
	assert.Contains(t, mockLLM.Prompts[0], "body text")
}

func TestExtractCandidates_Errors(t *testing.T) {
	_, err := NewExtractor(nil, config.ExtractionPrompts{}).ExtractCandidates(context.Background(), "ref", "", "text")
	assert.ErrorIs(t, err, ErrNoLLM)

	boom := errors.New("rate limited")
	_, err = NewExtractor(&MockLLMClient{Err: boom}, config.ExtractionPrompts{}).ExtractCandidates(context.Background(), "ref", "", "text")
	assert.ErrorIs(t, err, boom)

	got, err := NewExtractor(&MockLLMClient{}, config.ExtractionPrompts{}).ExtractCandidates(context.Background(), "ref", "", "   ")
	require.NoError(t, err)
	assert.Nil(t, got)
}
