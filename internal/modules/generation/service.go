package generation

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	appcfg "github.com/infinity-learn/core/internal/config"
	"github.com/infinity-learn/core/internal/models"
	"go.uber.org/zap"
)

const (
	analysisCachePrefix = "ifl:topic_analysis:"
	analysisCacheTTL    = 7 * 24 * time.Hour

	maxQuestionLen = 80
	maxAnswerLen   = 300

	// FallbackModel marks content synthesized without a working backend.
	FallbackModel = "fallback"
)

// Cache is the subset of the redis client the generator needs.
type Cache interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
}

// Service produces topic analyses, card batches and explanations. Every
// operation degrades through the backend chain and, for analysis and cards,
// to synthesized content, so callers never block on a dead provider.
type Service struct {
	log              *zap.Logger
	cache            Cache
	analysisBackends []Backend
	cardBackends     []Backend
	explainBackends  []Backend
}

// NewService wires backends from the AI config: the assigned provider first,
// then the remaining enabled providers as fallbacks.
func NewService(log *zap.Logger, cache Cache, cfg appcfg.AIConfig) *Service {
	return &Service{
		log:              log,
		cache:            cache,
		analysisBackends: backendChain(cfg, cfg.AnalysisModel),
		cardBackends:     backendChain(cfg, cfg.CardModel),
		explainBackends:  backendChain(cfg, cfg.ExplanationModel),
	}
}

// NewServiceWithBackends builds a service over explicit backends, shared by
// all features. Used by tests and by callers that manage providers directly.
func NewServiceWithBackends(log *zap.Logger, cache Cache, backends ...Backend) *Service {
	return &Service{
		log:              log,
		cache:            cache,
		analysisBackends: backends,
		cardBackends:     backends,
		explainBackends:  backends,
	}
}

func backendChain(cfg appcfg.AIConfig, assignment *appcfg.AIModelAssignment) []Backend {
	chain := make([]Backend, 0, 2)
	skip := make(map[string]bool)

	if primary := selectProvider(cfg, assignment, skip); primary != nil {
		chain = append(chain, newProviderBackend(*primary))
		skip[primary.ID] = true
	}
	if fallback := selectProvider(cfg, nil, skip); fallback != nil {
		chain = append(chain, newProviderBackend(*fallback))
	}
	return chain
}

// AnalyzeTopic returns the learning structure for a topic. Results are cached
// for a week; when every backend fails a minimal synthesized analysis is
// returned (and not cached, so a healthy backend can replace it later).
func (s *Service) AnalyzeTopic(ctx context.Context, topicName string) *models.TopicAnalysis {
	key := analysisCacheKey(topicName)

	if cached, err := s.cache.Get(ctx, key); err == nil && cached != "" {
		var analysis models.TopicAnalysis
		if json.Unmarshal([]byte(cached), &analysis) == nil && len(analysis.Concepts) > 0 {
			return &analysis
		}
	}

	prompt := buildAnalysisPrompt(topicName)
	for _, backend := range s.analysisBackends {
		raw, err := backend.Complete(ctx, analysisSystemPrompt, prompt, 1024)
		if err != nil {
			s.log.Warn("topic analysis backend failed",
				zap.String("backend", backend.Name()),
				zap.String("topic", topicName),
				zap.Error(err))
			continue
		}

		var payload analysisPayload
		if err := unmarshalAIJSON(raw, &payload); err != nil || len(payload.Concepts) == 0 {
			s.log.Warn("topic analysis response unusable",
				zap.String("backend", backend.Name()),
				zap.String("topic", topicName))
			continue
		}

		analysis := payload.toModel()
		if encoded, err := json.Marshal(analysis); err == nil {
			if err := s.cache.Set(ctx, key, string(encoded), analysisCacheTTL); err != nil {
				s.log.Warn("topic analysis cache write failed", zap.Error(err))
			}
		}
		return analysis
	}

	s.log.Warn("all analysis backends failed, synthesizing", zap.String("topic", topicName))
	return fallbackAnalysis(topicName)
}

// GenerateCardBatch produces up to count card drafts over the given concepts,
// avoiding previously asked questions. Falls back to one synthesized card per
// concept when every backend fails.
func (s *Service) GenerateCardBatch(ctx context.Context, topicName string, concepts []string, count int, previousQuestions []string) []CardDraft {
	if count <= 0 || len(concepts) == 0 {
		return nil
	}

	prompt := buildCardBatchPrompt(topicName, concepts, count, previousQuestions)
	for _, backend := range s.cardBackends {
		raw, err := backend.Complete(ctx, cardBatchSystemPrompt, prompt, 2048)
		if err != nil {
			s.log.Warn("card batch backend failed",
				zap.String("backend", backend.Name()),
				zap.String("topic", topicName),
				zap.Error(err))
			continue
		}

		var payload cardBatchPayload
		if err := unmarshalAIJSON(raw, &payload); err != nil {
			s.log.Warn("card batch response unusable",
				zap.String("backend", backend.Name()),
				zap.String("topic", topicName))
			continue
		}

		drafts := sanitizeDrafts(payload.Cards, concepts, count, previousQuestions, backend.Name())
		if len(drafts) > 0 {
			return drafts
		}
	}

	s.log.Warn("all card backends failed, synthesizing", zap.String("topic", topicName))
	return fallbackCards(topicName, concepts, count)
}

// Explain generates a deeper explanation of a card for the learner's level.
// Unlike analysis and cards there is no useful synthesized fallback, so the
// error is surfaced.
func (s *Service) Explain(ctx context.Context, question, answer, level string) (string, error) {
	return s.completeChain(ctx, s.explainBackends, explanationSystemPrompt, buildExplanationPrompt(question, answer, level), 1024)
}

// Refine answers a follow-up question about an existing explanation.
func (s *Service) Refine(ctx context.Context, question, answer, explanation, followUp string) (string, error) {
	return s.completeChain(ctx, s.explainBackends, explanationSystemPrompt, buildRefinePrompt(question, answer, explanation, followUp), 1024)
}

func (s *Service) completeChain(ctx context.Context, backends []Backend, systemPrompt, prompt string, maxTokens int) (string, error) {
	var lastErr error
	for _, backend := range backends {
		text, err := backend.Complete(ctx, systemPrompt, prompt, maxTokens)
		if err != nil {
			s.log.Warn("completion backend failed",
				zap.String("backend", backend.Name()),
				zap.Error(err))
			lastErr = err
			continue
		}
		if strings.TrimSpace(text) != "" {
			return text, nil
		}
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("no generation backend configured")
	}
	return "", lastErr
}

func analysisCacheKey(topicName string) string {
	normalized := strings.ToLower(strings.TrimSpace(topicName))
	sum := sha256.Sum256([]byte(normalized))
	return analysisCachePrefix + hex.EncodeToString(sum[:])
}

func fallbackAnalysis(topicName string) *models.TopicAnalysis {
	return &models.TopicAnalysis{
		Concepts: []string{
			fmt.Sprintf("%s Basics", topicName),
			fmt.Sprintf("Advanced %s", topicName),
		},
		Hooks:           []string{fmt.Sprintf("Why does %s matter?", topicName)},
		Misconceptions:  []string{},
		Prerequisites:   []string{},
		DifficultyRange: models.DifficultyRange{Min: 1, Max: 3},
	}
}

func fallbackCards(topicName string, concepts []string, count int) []CardDraft {
	n := count
	if len(concepts) < n {
		n = len(concepts)
	}
	drafts := make([]CardDraft, 0, n)
	for _, concept := range concepts[:n] {
		drafts = append(drafts, CardDraft{
			Question:   fmt.Sprintf("What is %s?", concept),
			Answer:     fmt.Sprintf("**%s** is a key concept in %s.", concept, topicName),
			Difficulty: 2,
			ConceptTag: concept,
			Model:      FallbackModel,
		})
	}
	return drafts
}

func sanitizeDrafts(raw []CardDraft, concepts []string, count int, previousQuestions []string, model string) []CardDraft {
	seen := make(map[string]bool, len(previousQuestions)+len(raw))
	for _, q := range previousQuestions {
		seen[normalizeQuestion(q)] = true
	}

	conceptSet := make(map[string]bool, len(concepts))
	for _, c := range concepts {
		conceptSet[c] = true
	}

	out := make([]CardDraft, 0, count)
	for _, draft := range raw {
		question := truncateRunes(strings.TrimSpace(draft.Question), maxQuestionLen)
		answer := truncateRunes(strings.TrimSpace(draft.Answer), maxAnswerLen)
		if question == "" || answer == "" {
			continue
		}
		norm := normalizeQuestion(question)
		if seen[norm] {
			continue
		}
		seen[norm] = true

		concept := strings.TrimSpace(draft.ConceptTag)
		if concept == "" || !conceptSet[concept] {
			concept = concepts[0]
		}

		out = append(out, CardDraft{
			Question:   question,
			Answer:     answer,
			Difficulty: clampDifficulty(draft.Difficulty),
			ConceptTag: concept,
			Model:      model,
		})
		if len(out) == count {
			break
		}
	}
	return out
}

func normalizeQuestion(q string) string {
	return strings.ToLower(strings.TrimSpace(q))
}

func truncateRunes(text string, maxLen int) string {
	runes := []rune(text)
	if len(runes) <= maxLen {
		return text
	}
	return string(runes[:maxLen])
}
