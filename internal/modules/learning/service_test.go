package learning

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/infinity-learn/core/internal/models"
	"github.com/infinity-learn/core/internal/modules/generation"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type fakeGenerator struct {
	mu           sync.Mutex
	analyzeCalls int
	batchCalls   int
	concepts     []string
	noCards      bool
	fallback     bool
	nextQuestion int
}

func newFakeGenerator(concepts ...string) *fakeGenerator {
	if len(concepts) == 0 {
		concepts = []string{"Alpha", "Beta", "Gamma", "Delta", "Epsilon", "Zeta", "Eta"}
	}
	return &fakeGenerator{concepts: concepts}
}

func (g *fakeGenerator) AnalyzeTopic(_ context.Context, topicName string) *models.TopicAnalysis {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.analyzeCalls++
	return &models.TopicAnalysis{
		Concepts:        append([]string(nil), g.concepts...),
		Hooks:           []string{"hook"},
		DifficultyRange: models.DifficultyRange{Min: 1, Max: 4},
	}
}

func (g *fakeGenerator) GenerateCardBatch(_ context.Context, topicName string, concepts []string, count int, _ []string) []generation.CardDraft {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.batchCalls++
	if g.noCards || len(concepts) == 0 {
		return nil
	}

	if g.fallback {
		n := len(concepts)
		if n > count {
			n = count
		}
		drafts := make([]generation.CardDraft, 0, n)
		for _, concept := range concepts[:n] {
			drafts = append(drafts, generation.CardDraft{
				Question:   fmt.Sprintf("What is %s?", concept),
				Answer:     fmt.Sprintf("%s is a core part of this topic.", concept),
				Difficulty: 2,
				ConceptTag: concept,
				Model:      generation.FallbackModel,
			})
		}
		return drafts
	}

	drafts := make([]generation.CardDraft, 0, count)
	for i := 0; i < count; i++ {
		g.nextQuestion++
		concept := concepts[i%len(concepts)]
		drafts = append(drafts, generation.CardDraft{
			Question:   fmt.Sprintf("Question %d on %s?", g.nextQuestion, concept),
			Answer:     fmt.Sprintf("Answer %d.", g.nextQuestion),
			Difficulty: 2,
			ConceptTag: concept,
			Model:      "fake",
		})
	}
	return drafts
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(
		&models.TopicModel{},
		&models.CardModel{},
		&models.LearningSession{},
	); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func newTestService(t *testing.T, gen Generator) *Service {
	t.Helper()
	svc := NewService(newTestDB(t), zap.NewNop(), gen, Options{
		RefillInterval: time.Hour, // refills driven manually in tests
		IdleTTL:        time.Hour,
	})
	t.Cleanup(svc.Close)
	return svc
}

func TestInitializeSessionServesFirstBatch(t *testing.T) {
	gen := newFakeGenerator()
	svc := newTestService(t, gen)

	result, err := svc.InitializeSession(context.Background(), "user-1", "Go Concurrency", "")
	if err != nil {
		t.Fatalf("initialize: %v", err)
	}
	if len(result.Cards) != serveBatchSize {
		t.Fatalf("expected %d served cards, got %d", serveBatchSize, len(result.Cards))
	}
	if result.TotalConcepts != 7 {
		t.Fatalf("expected 7 concepts, got %d", result.TotalConcepts)
	}

	firstSpan := map[string]bool{"Alpha": true, "Beta": true, "Gamma": true, "Delta": true, "Epsilon": true}
	for _, card := range result.Cards {
		if !firstSpan[card.ConceptTag] {
			t.Fatalf("served card tagged outside the first concepts: %s", card.ConceptTag)
		}
	}

	var session models.LearningSession
	if err := svc.db.First(&session, "id = ?", result.SessionID).Error; err != nil {
		t.Fatalf("session row missing: %v", err)
	}
	if len(session.CardQueue) != initialBatchSize {
		t.Fatalf("expected queue of %d, got %d", initialBatchSize, len(session.CardQueue))
	}
	if session.CurrentCardIndex != 0 {
		t.Fatalf("cursor must start at the top of the queue, got %d", session.CurrentCardIndex)
	}
}

func TestInitializeSessionReusesExistingCards(t *testing.T) {
	gen := newFakeGenerator()
	svc := newTestService(t, gen)

	topic := models.TopicModel{Name: "Chemistry", Slug: "chemistry"}
	if err := svc.db.Create(&topic).Error; err != nil {
		t.Fatalf("seed topic: %v", err)
	}
	for i := 0; i < 6; i++ {
		card := models.CardModel{
			TopicID:    topic.ID,
			Question:   fmt.Sprintf("Seeded %d?", i),
			Answer:     "seeded",
			Difficulty: i%5 + 1,
			ConceptTag: "Alpha",
		}
		if err := svc.db.Create(&card).Error; err != nil {
			t.Fatalf("seed card: %v", err)
		}
	}

	result, err := svc.InitializeSession(context.Background(), "user-1", "Chemistry", "")
	if err != nil {
		t.Fatalf("initialize: %v", err)
	}
	if gen.batchCalls != 0 {
		t.Fatalf("reuse path must not generate cards, got %d batch calls", gen.batchCalls)
	}
	if len(result.Cards) != serveBatchSize {
		t.Fatalf("expected %d served cards, got %d", serveBatchSize, len(result.Cards))
	}
	// reused cards come back ordered by difficulty
	for i := 1; i < len(result.Cards); i++ {
		if result.Cards[i].Difficulty < result.Cards[i-1].Difficulty {
			t.Fatalf("reused cards not ordered by difficulty")
		}
	}
}

func TestInitializeSessionSurvivesGenerationOutage(t *testing.T) {
	// two synthesized concepts and per-concept fallback cards, the shape the
	// generator degrades to when every provider is down
	gen := newFakeGenerator("Recursion Basics", "Advanced Recursion")
	gen.fallback = true
	svc := newTestService(t, gen)

	result, err := svc.InitializeSession(context.Background(), "user-1", "Recursion", "")
	if err != nil {
		t.Fatalf("initialize: %v", err)
	}
	if result.TotalConcepts != 2 {
		t.Fatalf("expected 2 concepts, got %d", result.TotalConcepts)
	}
	if len(result.Cards) != 2 {
		t.Fatalf("short batch should be previewed whole, got %d cards", len(result.Cards))
	}
	if result.Cards[0].Question != "What is Recursion Basics?" {
		t.Fatalf("unexpected fallback question: %s", result.Cards[0].Question)
	}

	var session models.LearningSession
	if err := svc.db.First(&session, "id = ?", result.SessionID).Error; err != nil {
		t.Fatalf("session row: %v", err)
	}
	if len(session.CardQueue) != 2 {
		t.Fatalf("expected queue of 2, got %d", len(session.CardQueue))
	}

	gen.mu.Lock()
	gen.noCards = true
	gen.mu.Unlock()

	for i := 0; i < 2; i++ {
		next, err := svc.GetNextCard(context.Background(), result.SessionID, "user-1")
		if err != nil {
			t.Fatalf("next card %d: %v", i, err)
		}
		if next.Card.ID != session.CardQueue[i] {
			t.Fatalf("card %d out of queue order", i)
		}
	}
	if _, err := svc.GetNextCard(context.Background(), result.SessionID, "user-1"); err != ErrNoMoreCards {
		t.Fatalf("expected ErrNoMoreCards, got %v", err)
	}
}

func TestAnalysisAttachedOnce(t *testing.T) {
	gen := newFakeGenerator()
	svc := newTestService(t, gen)

	first, err := svc.InitializeSession(context.Background(), "user-1", "Biology", "")
	if err != nil {
		t.Fatalf("first initialize: %v", err)
	}
	if _, err := svc.InitializeSession(context.Background(), "user-2", "Biology", ""); err != nil {
		t.Fatalf("second initialize: %v", err)
	}
	if gen.analyzeCalls != 1 {
		t.Fatalf("analysis should run once per topic, got %d", gen.analyzeCalls)
	}

	var topic models.TopicModel
	if err := svc.db.First(&topic, "id = ?", first.TopicID).Error; err != nil {
		t.Fatalf("topic missing: %v", err)
	}
	if topic.Structure == nil || len(topic.Structure.Concepts) != 7 {
		t.Fatalf("topic structure not attached")
	}
}

func TestGetNextCardFollowsQueueOrder(t *testing.T) {
	gen := newFakeGenerator()
	svc := newTestService(t, gen)

	result, err := svc.InitializeSession(context.Background(), "user-1", "History", "")
	if err != nil {
		t.Fatalf("initialize: %v", err)
	}

	// freeze the queue so the background refill cannot extend it
	gen.mu.Lock()
	gen.noCards = true
	gen.mu.Unlock()

	var session models.LearningSession
	if err := svc.db.First(&session, "id = ?", result.SessionID).Error; err != nil {
		t.Fatalf("session row: %v", err)
	}

	// the start response is a preview; GetNextCard serves the whole queue
	seen := map[string]bool{}
	for i := 0; i < len(session.CardQueue); i++ {
		next, err := svc.GetNextCard(context.Background(), result.SessionID, "user-1")
		if err != nil {
			t.Fatalf("next card %d: %v", i, err)
		}
		if next.Card.ID != session.CardQueue[i] {
			t.Fatalf("card %d out of queue order", i)
		}
		if seen[next.Card.ID] {
			t.Fatalf("card %s served twice", next.Card.ID)
		}
		seen[next.Card.ID] = true
	}
	if len(seen) != len(session.CardQueue) {
		t.Fatalf("served %d cards for a queue of %d", len(seen), len(session.CardQueue))
	}

	if _, err := svc.GetNextCard(context.Background(), result.SessionID, "user-1"); err != ErrNoMoreCards {
		t.Fatalf("expected ErrNoMoreCards, got %v", err)
	}
}

func TestGetNextCardPersistsCursor(t *testing.T) {
	gen := newFakeGenerator()
	svc := newTestService(t, gen)

	result, err := svc.InitializeSession(context.Background(), "user-1", "Physics", "")
	if err != nil {
		t.Fatalf("initialize: %v", err)
	}
	if _, err := svc.GetNextCard(context.Background(), result.SessionID, "user-1"); err != nil {
		t.Fatalf("next: %v", err)
	}

	var session models.LearningSession
	if err := svc.db.First(&session, "id = ?", result.SessionID).Error; err != nil {
		t.Fatalf("session row: %v", err)
	}
	if session.CurrentCardIndex != 1 {
		t.Fatalf("cursor not persisted, got %d", session.CurrentCardIndex)
	}
	if session.CardsViewed != 1 {
		t.Fatalf("cards_viewed not persisted, got %d", session.CardsViewed)
	}
}

func TestEvictedSessionResumesAtCursor(t *testing.T) {
	gen := newFakeGenerator()
	svc := newTestService(t, gen)

	result, err := svc.InitializeSession(context.Background(), "user-1", "Astronomy", "")
	if err != nil {
		t.Fatalf("initialize: %v", err)
	}

	first, err := svc.GetNextCard(context.Background(), result.SessionID, "user-1")
	if err != nil {
		t.Fatalf("next before evict: %v", err)
	}

	svc.Registry().Remove(result.SessionID)
	if svc.Registry().Len() != 0 {
		t.Fatalf("session still loaded after remove")
	}

	var session models.LearningSession
	if err := svc.db.First(&session, "id = ?", result.SessionID).Error; err != nil {
		t.Fatalf("session row: %v", err)
	}

	second, err := svc.GetNextCard(context.Background(), result.SessionID, "user-1")
	if err != nil {
		t.Fatalf("next after reload: %v", err)
	}
	if second.Card.ID == first.Card.ID {
		t.Fatalf("reload replayed an already served card")
	}
	if second.Card.ID != session.CardQueue[session.CurrentCardIndex] {
		t.Fatalf("reload did not resume at persisted cursor")
	}
}

func TestRefillAppendsBelowThreshold(t *testing.T) {
	gen := newFakeGenerator()
	svc := newTestService(t, gen)

	result, err := svc.InitializeSession(context.Background(), "user-1", "Geometry", "")
	if err != nil {
		t.Fatalf("initialize: %v", err)
	}

	st, ok := svc.Registry().Get(result.SessionID)
	if !ok {
		t.Fatalf("session not loaded")
	}

	// queue 10, cursor 5 -> remaining 5, below the refill threshold
	st.mu.Lock()
	st.cursor = serveBatchSize
	st.mu.Unlock()
	svc.refillOnce(context.Background(), st)

	st.mu.Lock()
	queueLen := len(st.buffer)
	asked := len(st.session.AskedQuestions)
	st.mu.Unlock()

	if queueLen != initialBatchSize+refillBatchSize {
		t.Fatalf("expected %d cards after refill, got %d", initialBatchSize+refillBatchSize, queueLen)
	}
	if asked != queueLen {
		t.Fatalf("asked questions not tracked with the queue")
	}

	var session models.LearningSession
	if err := svc.db.First(&session, "id = ?", result.SessionID).Error; err != nil {
		t.Fatalf("session row: %v", err)
	}
	if len(session.CardQueue) != queueLen {
		t.Fatalf("refill not persisted, queue %d", len(session.CardQueue))
	}
}

func TestRefillSkipsWhenBufferHealthy(t *testing.T) {
	gen := newFakeGenerator()
	svc := newTestService(t, gen)

	result, err := svc.InitializeSession(context.Background(), "user-1", "Botany", "")
	if err != nil {
		t.Fatalf("initialize: %v", err)
	}

	st, _ := svc.Registry().Get(result.SessionID)

	// nothing served yet, the full queue of 10 is ahead of the cursor
	calls := gen.batchCalls
	svc.refillOnce(context.Background(), st)
	if gen.batchCalls != calls {
		t.Fatalf("refill ran with %d cards remaining", initialBatchSize)
	}
}

func TestLowWatermarkSignalsRefill(t *testing.T) {
	gen := newFakeGenerator()
	svc := newTestService(t, gen)

	result, err := svc.InitializeSession(context.Background(), "user-1", "Ecology", "")
	if err != nil {
		t.Fatalf("initialize: %v", err)
	}

	// serve until only 4 cards remain: below the serve low watermark,
	// which wakes the refill loop without waiting for the ticker
	for i := 0; i < initialBatchSize-serveLowWatermark+1; i++ {
		if _, err := svc.GetNextCard(context.Background(), result.SessionID, "user-1"); err != nil {
			t.Fatalf("next %d: %v", i, err)
		}
	}

	st, _ := svc.Registry().Get(result.SessionID)
	deadline := time.Now().Add(3 * time.Second)
	for {
		st.mu.Lock()
		queueLen := len(st.buffer)
		st.mu.Unlock()
		if queueLen > initialBatchSize {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("refill loop did not react to the low watermark signal")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestEndSessionStampsAndUnloads(t *testing.T) {
	gen := newFakeGenerator()
	svc := newTestService(t, gen)

	result, err := svc.InitializeSession(context.Background(), "user-1", "Music Theory", "")
	if err != nil {
		t.Fatalf("initialize: %v", err)
	}

	stats, err := svc.EndSession(context.Background(), result.SessionID, "user-1")
	if err != nil {
		t.Fatalf("end: %v", err)
	}
	if !stats.Ended {
		t.Fatalf("stats should report ended")
	}
	if svc.Registry().Len() != 0 {
		t.Fatalf("ended session still loaded")
	}

	if _, err := svc.GetNextCard(context.Background(), result.SessionID, "user-1"); err != ErrSessionEnded {
		t.Fatalf("expected ErrSessionEnded, got %v", err)
	}

	// ending twice is idempotent
	again, err := svc.EndSession(context.Background(), result.SessionID, "user-1")
	if err != nil {
		t.Fatalf("second end: %v", err)
	}
	if again.TotalTimeSeconds != stats.TotalTimeSeconds {
		t.Fatalf("second end changed recorded time")
	}
}

func TestGetNextCardUnknownSession(t *testing.T) {
	svc := newTestService(t, newFakeGenerator())
	if _, err := svc.GetNextCard(context.Background(), "no-such-session", "user-1"); err != ErrSessionNotFound {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestGetNextCardOwnership(t *testing.T) {
	gen := newFakeGenerator()
	svc := newTestService(t, gen)

	result, err := svc.InitializeSession(context.Background(), "user-1", "Drawing", "")
	if err != nil {
		t.Fatalf("initialize: %v", err)
	}
	if _, err := svc.GetNextCard(context.Background(), result.SessionID, "someone-else"); err != ErrSessionNotFound {
		t.Fatalf("foreign user must not read the session, got %v", err)
	}
}

func TestNextConceptsProgressesAndWraps(t *testing.T) {
	all := []string{"a", "b", "c", "d", "e"}

	got := nextConcepts(all, []string{"a", "b"}, 3)
	if len(got) != 3 || got[0] != "c" || got[2] != "e" {
		t.Fatalf("expected uncovered concepts in order, got %v", got)
	}

	wrapped := nextConcepts(all, all, 3)
	if len(wrapped) != 3 || wrapped[0] != "a" {
		t.Fatalf("expected wrap to the start, got %v", wrapped)
	}
}
