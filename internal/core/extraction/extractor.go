package extraction

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/agenthands/geargraph/internal/config"
	"github.com/agenthands/geargraph/internal/core/common"
	"github.com/agenthands/geargraph/internal/core/model"
	"github.com/agenthands/geargraph/internal/llm"
)

// ErrNoLLM is returned when raw content arrives but no LLM provider is configured.
var ErrNoLLM = errors.New("no llm configured for content extraction")

const defaultCandidatesPrompt = `You extract outdoor gear products from source material.

Source title: %s

Return JSON of the form {"candidates": [...]}. Each candidate has:
- "name": product name without the brand
- "brand": manufacturer
- "category": one of backpack, tent, sleeping_bag, sleeping_pad, clothing, footwear, cookware, stove, water_filtration, lighting, trekking_poles, navigation, accessories, first_aid, other
- "fields": object of field name to {"value": ..., "confidence": 0..1}; use the units written in the source (e.g. "1.2 kg", "$199", "20°F")
- "lists": optional {"materials": [], "features": [], "use_cases": []}
- "experiences": optional [{"summary", "content", "scenario", "sentiment"}] for first-hand usage reports

Only include values stated in the source. Omit unknown values instead of guessing.

Source:
%s`

type extractedCandidates struct {
	Candidates []model.Candidate `json:"candidates"`
}

type Extractor struct {
	LLM     llm.LLMClient
	Prompts config.ExtractionPrompts
}

func NewExtractor(llmClient llm.LLMClient, prompts config.ExtractionPrompts) *Extractor {
	return &Extractor{
		LLM:     llmClient,
		Prompts: prompts,
	}
}

// ExtractCandidates asks the LLM for gear candidates mentioned in content.
// Every returned candidate is attributed to sourceRef unless the model
// already attributed it.
func (e *Extractor) ExtractCandidates(ctx context.Context, sourceRef, title, content string) ([]model.Candidate, error) {
	if e == nil || e.LLM == nil {
		return nil, ErrNoLLM
	}
	if strings.TrimSpace(content) == "" {
		return nil, nil
	}

	tmpl := e.Prompts.Candidates
	if tmpl == "" {
		tmpl = defaultCandidatesPrompt
	}
	prompt := fmt.Sprintf(tmpl, title, content)

	response, err := e.LLM.Generate(ctx, prompt)
	if err != nil {
		return nil, fmt.Errorf("failed to generate candidates: %w", err)
	}

	result, err := common.ParseJSON[extractedCandidates](response)
	if err != nil {
		return nil, fmt.Errorf("failed to extract candidates: %w", err)
	}

	out := make([]model.Candidate, 0, len(result.Candidates))
	for _, c := range result.Candidates {
		if strings.TrimSpace(c.Name) == "" {
			continue
		}
		if c.SourceRef == "" {
			c.SourceRef = sourceRef
		}
		out = append(out, c)
	}
	return out, nil
}
