package generation

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"
)

type fakeCache struct {
	data map[string]string
	sets int
}

func newFakeCache() *fakeCache {
	return &fakeCache{data: map[string]string{}}
}

func (c *fakeCache) Get(_ context.Context, key string) (string, error) {
	return c.data[key], nil
}

func (c *fakeCache) Set(_ context.Context, key string, value interface{}, _ time.Duration) error {
	c.data[key] = toString(value)
	c.sets++
	return nil
}

func toString(v interface{}) string {
	switch s := v.(type) {
	case string:
		return s
	case []byte:
		return string(s)
	default:
		return ""
	}
}

type fakeBackend struct {
	name     string
	response string
	err      error
	calls    int
}

func (b *fakeBackend) Name() string { return b.name }

func (b *fakeBackend) Complete(_ context.Context, _, _ string, _ int) (string, error) {
	b.calls++
	if b.err != nil {
		return "", b.err
	}
	return b.response, nil
}

func TestAnalyzeTopicCachesResult(t *testing.T) {
	cache := newFakeCache()
	backend := &fakeBackend{
		name:     "primary",
		response: `{"concepts":["Goroutines","Channels","Select"],"hooks":["h"],"misconceptions":[],"prerequisites":[],"difficulty_range":{"min":1,"max":4}}`,
	}
	svc := NewServiceWithBackends(zap.NewNop(), cache, backend)

	first := svc.AnalyzeTopic(context.Background(), "Go Concurrency")
	if len(first.Concepts) != 3 {
		t.Fatalf("expected 3 concepts, got %d", len(first.Concepts))
	}
	if cache.sets != 1 {
		t.Fatalf("expected analysis to be cached once, got %d sets", cache.sets)
	}

	second := svc.AnalyzeTopic(context.Background(), "go concurrency")
	if backend.calls != 1 {
		t.Fatalf("cache hit should not call backend again, got %d calls", backend.calls)
	}
	if second.Concepts[0] != "Goroutines" {
		t.Fatalf("unexpected cached concept: %s", second.Concepts[0])
	}
}

func TestAnalyzeTopicFallsBackThroughChain(t *testing.T) {
	primary := &fakeBackend{name: "primary", err: errors.New("rate limited")}
	fallback := &fakeBackend{
		name:     "fallback",
		response: "```json\n{\"concepts\":[\"A\",\"B\"],\"difficulty_range\":{\"min\":2,\"max\":3}}\n```",
	}
	svc := NewServiceWithBackends(zap.NewNop(), newFakeCache(), primary, fallback)

	analysis := svc.AnalyzeTopic(context.Background(), "Linear Algebra")
	if primary.calls != 1 || fallback.calls != 1 {
		t.Fatalf("expected both backends tried, got %d/%d", primary.calls, fallback.calls)
	}
	if len(analysis.Concepts) != 2 || analysis.Concepts[0] != "A" {
		t.Fatalf("unexpected analysis: %+v", analysis)
	}
}

func TestAnalyzeTopicSynthesizesWhenAllBackendsFail(t *testing.T) {
	cache := newFakeCache()
	primary := &fakeBackend{name: "primary", err: errors.New("down")}
	fallback := &fakeBackend{name: "fallback", err: errors.New("down too")}
	svc := NewServiceWithBackends(zap.NewNop(), cache, primary, fallback)

	analysis := svc.AnalyzeTopic(context.Background(), "Recursion")
	if len(analysis.Concepts) < 2 {
		t.Fatalf("synthesized analysis needs at least 2 concepts, got %d", len(analysis.Concepts))
	}
	if analysis.Concepts[0] != "Recursion Basics" {
		t.Fatalf("unexpected first concept: %s", analysis.Concepts[0])
	}
	if analysis.DifficultyRange.Min < 1 || analysis.DifficultyRange.Max > 5 {
		t.Fatalf("difficulty range out of bounds: %+v", analysis.DifficultyRange)
	}
	if cache.sets != 0 {
		t.Fatalf("synthesized analysis must not be cached")
	}
}

func TestGenerateCardBatchSanitizes(t *testing.T) {
	payload := map[string]any{
		"cards": []map[string]any{
			{"question": "What is a goroutine?", "answer": "A lightweight thread.", "difficulty": 9, "concept": "Goroutines"},
			{"question": "what is a goroutine?", "answer": "duplicate", "difficulty": 2, "concept": "Goroutines"},
			{"question": "", "answer": "no question", "difficulty": 2, "concept": "Goroutines"},
			{"question": strings.Repeat("q", 200), "answer": "long", "difficulty": 0, "concept": "Unknown"},
		},
	}
	raw, _ := json.Marshal(payload)
	backend := &fakeBackend{name: "primary", response: string(raw)}
	svc := NewServiceWithBackends(zap.NewNop(), newFakeCache(), backend)

	drafts := svc.GenerateCardBatch(context.Background(), "Go", []string{"Goroutines", "Channels"}, 5, nil)
	if len(drafts) != 2 {
		t.Fatalf("expected 2 drafts after sanitizing, got %d", len(drafts))
	}
	if drafts[0].Difficulty != 5 {
		t.Fatalf("difficulty not clamped: %d", drafts[0].Difficulty)
	}
	if len([]rune(drafts[1].Question)) != 80 {
		t.Fatalf("question not truncated: %d", len([]rune(drafts[1].Question)))
	}
	if drafts[1].ConceptTag != "Goroutines" {
		t.Fatalf("unknown concept should map to first concept, got %s", drafts[1].ConceptTag)
	}
}

func TestGenerateCardBatchSkipsAskedQuestions(t *testing.T) {
	payload := `{"cards":[{"question":"What is X?","answer":"a","difficulty":2,"concept":"X"},{"question":"What is Y?","answer":"b","difficulty":2,"concept":"X"}]}`
	backend := &fakeBackend{name: "primary", response: payload}
	svc := NewServiceWithBackends(zap.NewNop(), newFakeCache(), backend)

	drafts := svc.GenerateCardBatch(context.Background(), "T", []string{"X"}, 5, []string{"what is x?"})
	if len(drafts) != 1 || drafts[0].Question != "What is Y?" {
		t.Fatalf("asked question not suppressed: %+v", drafts)
	}
}

func TestGenerateCardBatchFallbackPerConcept(t *testing.T) {
	backend := &fakeBackend{name: "primary", err: errors.New("down")}
	svc := NewServiceWithBackends(zap.NewNop(), newFakeCache(), backend)

	concepts := []string{"Base Case", "Call Stack", "Tail Calls"}
	drafts := svc.GenerateCardBatch(context.Background(), "Recursion", concepts, 10, nil)
	if len(drafts) != 3 {
		t.Fatalf("expected min(count, concepts)=3 fallback cards, got %d", len(drafts))
	}
	if drafts[0].Question != "What is Base Case?" {
		t.Fatalf("unexpected fallback question: %s", drafts[0].Question)
	}
	if drafts[0].Model != FallbackModel {
		t.Fatalf("fallback cards must be tagged, got %s", drafts[0].Model)
	}
}

func TestExplainSurfacesErrors(t *testing.T) {
	backend := &fakeBackend{name: "primary", err: errors.New("down")}
	svc := NewServiceWithBackends(zap.NewNop(), newFakeCache(), backend)

	if _, err := svc.Explain(context.Background(), "Q", "A", "beginner"); err == nil {
		t.Fatal("expected error when all backends fail")
	}
}

func TestUnmarshalAIJSONStripsProse(t *testing.T) {
	var out struct {
		Value int `json:"value"`
	}
	if err := unmarshalAIJSON("Here you go: {\"value\": 7} hope that helps", &out); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if out.Value != 7 {
		t.Fatalf("expected 7, got %d", out.Value)
	}
}
