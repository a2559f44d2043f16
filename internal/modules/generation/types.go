package generation

import (
	"context"

	"github.com/infinity-learn/core/internal/models"
)

// Backend is a single LLM provider capable of one-shot completions.
type Backend interface {
	Name() string
	Complete(ctx context.Context, systemPrompt, prompt string, maxTokens int) (string, error)
}

// CardDraft is a generated card before persistence.
type CardDraft struct {
	Question   string `json:"question"`
	Answer     string `json:"answer"`
	Difficulty int    `json:"difficulty"`
	ConceptTag string `json:"concept"`
	Model      string `json:"-"`
}

type analysisPayload struct {
	Concepts        []string `json:"concepts"`
	Hooks           []string `json:"hooks"`
	Misconceptions  []string `json:"misconceptions"`
	Prerequisites   []string `json:"prerequisites"`
	DifficultyRange struct {
		Min int `json:"min"`
		Max int `json:"max"`
	} `json:"difficulty_range"`
}

type cardBatchPayload struct {
	Cards []CardDraft `json:"cards"`
}

func (p analysisPayload) toModel() *models.TopicAnalysis {
	out := &models.TopicAnalysis{
		Concepts:       p.Concepts,
		Hooks:          p.Hooks,
		Misconceptions: p.Misconceptions,
		Prerequisites:  p.Prerequisites,
	}
	out.DifficultyRange.Min = clampDifficulty(p.DifficultyRange.Min)
	out.DifficultyRange.Max = clampDifficulty(p.DifficultyRange.Max)
	if out.DifficultyRange.Max < out.DifficultyRange.Min {
		out.DifficultyRange.Max = out.DifficultyRange.Min
	}
	return out
}

func clampDifficulty(v int) int {
	if v < 1 {
		return 1
	}
	if v > 5 {
		return 5
	}
	return v
}
