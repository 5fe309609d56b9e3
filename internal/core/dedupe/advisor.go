package dedupe

import (
	"context"
	"fmt"
	"strings"

	"github.com/agenthands/geargraph/internal/core/common"
	"github.com/agenthands/geargraph/internal/core/model"
	"github.com/agenthands/geargraph/internal/llm"
)

// Advisor suggests which existing entity an ambiguous candidate refers to.
// Suggestions are attached to review items and never applied automatically.
type Advisor interface {
	Advise(ctx context.Context, c model.NormalizedCandidate, matches []model.Match) (*model.Suggestion, error)
}

type LLMAdvisor struct {
	LLM    llm.LLMClient
	Prompt string
}

func NewLLMAdvisor(client llm.LLMClient, prompt string) *LLMAdvisor {
	return &LLMAdvisor{LLM: client, Prompt: prompt}
}

const defaultAdvisePrompt = `
<CANDIDATE>
%s
</CANDIDATE>

<EXISTING ITEMS>
%s
</EXISTING ITEMS>

Instructions:
Decide whether the CANDIDATE is the same physical product as one of the EXISTING ITEMS.
Sizes, versions and gender variants of a product are different products.
Return a JSON object with "entity_id" (the matching existing id, or "" if none),
"confidence" (float between 0 and 1) and "reasoning" (one sentence).

Example JSON:
{"entity_id": "existing-1", "confidence": 0.8, "reasoning": "Same pack, name differs only by a typo."}
`

func (a *LLMAdvisor) Advise(ctx context.Context, c model.NormalizedCandidate, matches []model.Match) (*model.Suggestion, error) {
	if len(matches) == 0 {
		return nil, nil
	}

	tmpl := a.Prompt
	if tmpl == "" {
		tmpl = defaultAdvisePrompt
	}
	prompt := fmt.Sprintf(tmpl, serializeCandidate(c), serializeMatches(matches))

	response, err := a.LLM.Generate(ctx, prompt)
	if err != nil {
		return nil, fmt.Errorf("failed to generate match advice: %w", err)
	}

	s, err := common.ParseJSON[model.Suggestion](response)
	if err != nil {
		return nil, fmt.Errorf("failed to parse match advice: %w", err)
	}

	if s.EntityID != "" && !containsMatch(matches, s.EntityID) {
		// hallucinated id
		s.EntityID = ""
		s.Confidence = 0
	}
	if s.Confidence < 0 {
		s.Confidence = 0
	}
	if s.Confidence > 1 {
		s.Confidence = 1
	}
	return &s, nil
}

func containsMatch(matches []model.Match, id string) bool {
	for _, m := range matches {
		if m.EntityID == id {
			return true
		}
	}
	return false
}

func serializeCandidate(c model.NormalizedCandidate) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Name: %s, Brand: %s, Category: %s\n", c.Name, c.Brand, c.Category)
	for _, o := range c.Observations {
		fmt.Fprintf(&b, "- %s: %s\n", o.Field, o.Value.String())
	}
	return b.String()
}

func serializeMatches(matches []model.Match) string {
	var b strings.Builder
	for _, m := range matches {
		fmt.Fprintf(&b, "- ID: %s, Name: %s, Brand: %s, Score: %.2f\n", m.EntityID, m.Name, m.Brand, m.Score)
	}
	return b.String()
}
