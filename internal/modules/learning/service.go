package learning

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/infinity-learn/core/internal/models"
	"github.com/infinity-learn/core/internal/modules/generation"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Buffer tuning. A session starts with up to 10 generated (or 20 reused)
// cards, previews the first 5 in the start response, and the refill loop
// keeps at least 10 ahead of the cursor.
const (
	initialBatchSize   = 10
	serveBatchSize     = 5
	reuseThreshold     = 5
	reuseQueueLimit    = 20
	initialConceptSpan = 5

	serveLowWatermark = 5
	refillThreshold   = 10
	refillBatchSize   = 5
	refillConceptSpan = 3

	defaultRefillInterval = 5 * time.Second
	defaultIdleTTL        = 30 * time.Minute
)

var (
	ErrSessionNotFound = errors.New("learning session not found")
	ErrSessionEnded    = errors.New("learning session already ended")
	ErrNoMoreCards     = errors.New("no more cards in this session")
)

// Generator produces topic analyses and card batches.
type Generator interface {
	AnalyzeTopic(ctx context.Context, topicName string) *models.TopicAnalysis
	GenerateCardBatch(ctx context.Context, topicName string, concepts []string, count int, previousQuestions []string) []generation.CardDraft
}

// Options tunes the session lifecycle. Zero values pick the defaults above.
type Options struct {
	RefillInterval time.Duration
	IdleTTL        time.Duration
}

// Service runs learning sessions: initialization, card serving with a
// persisted cursor, and a supervised background refill loop per session.
type Service struct {
	db       *gorm.DB
	log      *zap.Logger
	gen      Generator
	registry *Registry

	refillInterval time.Duration

	baseCtx  context.Context
	baseStop context.CancelFunc
	wg       sync.WaitGroup
}

func NewService(db *gorm.DB, log *zap.Logger, gen Generator, opts Options) *Service {
	if opts.RefillInterval <= 0 {
		opts.RefillInterval = defaultRefillInterval
	}
	if opts.IdleTTL <= 0 {
		opts.IdleTTL = defaultIdleTTL
	}

	ctx, stop := context.WithCancel(context.Background())
	return &Service{
		db:             db,
		log:            log,
		gen:            gen,
		registry:       NewRegistry(opts.IdleTTL),
		refillInterval: opts.RefillInterval,
		baseCtx:        ctx,
		baseStop:       stop,
	}
}

// Registry exposes the session registry for maintenance jobs.
func (s *Service) Registry() *Registry { return s.registry }

// Close stops every refill goroutine and waits for them to drain.
func (s *Service) Close() {
	s.baseStop()
	s.registry.Close()
	s.wg.Wait()
}

// InitializeSession starts a learning run on a topic, creating the topic on
// first reference. It returns the first batch of cards immediately; the
// refill loop keeps the queue topped up afterwards.
func (s *Service) InitializeSession(ctx context.Context, userID, topicQuery, mode string) (*StartResult, error) {
	topicQuery = strings.TrimSpace(topicQuery)
	if topicQuery == "" {
		return nil, errors.New("topic is required")
	}

	mode = normalizeMode(mode)

	topic, err := s.resolveTopic(topicQuery)
	if err != nil {
		return nil, err
	}

	analysis, err := s.ensureAnalysis(ctx, topic)
	if err != nil {
		return nil, err
	}

	cards, err := s.initialCards(ctx, topic, analysis)
	if err != nil {
		return nil, err
	}

	served := len(cards)
	if served > serveBatchSize {
		served = serveBatchSize
	}

	// the returned batch is a preview: the cursor stays at 0 so GetNextCard
	// serves every queued card exactly once, in queue order
	session := &models.LearningSession{
		UserID:          userID,
		TopicID:         topic.ID,
		SessionType:     mode,
		StartedAt:       time.Now(),
		CardQueue:       cardIDs(cards),
		AskedQuestions:  cardQuestions(cards),
		CoveredConcepts: cardConcepts(nil, cards),
	}
	if err := s.db.Create(session).Error; err != nil {
		return nil, err
	}

	st := &sessionState{
		session:  session,
		topic:    *topic,
		analysis: analysis,
		buffer:   cards,
		lastUsed: time.Now(),
		wake:     make(chan struct{}, 1),
	}
	s.install(session.ID, st)

	s.log.Info("learning session started",
		zap.String("session_id", session.ID),
		zap.String("topic", topic.Name),
		zap.String("mode", mode),
		zap.Int("initial_cards", len(cards)))

	return &StartResult{
		SessionID:     session.ID,
		TopicID:       topic.ID,
		TopicName:     topic.Name,
		Cards:         cardViews(cards[:served]),
		TotalConcepts: len(analysis.Concepts),
	}, nil
}

// GetNextCard serves the card at the session cursor and advances it. The
// cursor and view count are persisted on every serve, so an evicted session
// resumes exactly where it stopped.
func (s *Service) GetNextCard(ctx context.Context, sessionID, userID string) (*NextCardResult, error) {
	st, err := s.load(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	if userID != "" && st.session.UserID != userID {
		return nil, ErrSessionNotFound
	}
	if st.session.EndedAt != nil {
		return nil, ErrSessionEnded
	}
	if st.cursor >= len(st.buffer) {
		st.signalRefill()
		return nil, ErrNoMoreCards
	}

	card := st.buffer[st.cursor]
	st.cursor++
	st.session.CurrentCardIndex = st.cursor
	st.session.CardsViewed++
	st.lastUsed = time.Now()

	if err := s.db.Model(&models.LearningSession{}).
		Where("id = ?", st.session.ID).
		Updates(map[string]interface{}{
			"current_card_index": st.session.CurrentCardIndex,
			"cards_viewed":       st.session.CardsViewed,
		}).Error; err != nil {
		return nil, err
	}

	remaining := len(st.buffer) - st.cursor
	if remaining < serveLowWatermark {
		st.signalRefill()
	}

	return &NextCardResult{
		Card: cardView(card),
		Progress: Progress{
			Position:    st.cursor,
			QueueLength: len(st.buffer),
			Remaining:   remaining,
		},
	}, nil
}

// EndSession stamps the end time, computes the final stats and unloads the
// session. Ending an already-ended session returns its stats unchanged.
func (s *Service) EndSession(ctx context.Context, sessionID, userID string) (*SessionStats, error) {
	var session models.LearningSession
	if err := s.db.First(&session, "id = ?", sessionID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, err
	}
	if userID != "" && session.UserID != userID {
		return nil, ErrSessionNotFound
	}

	s.registry.Remove(sessionID)

	if session.EndedAt == nil {
		now := time.Now()
		session.EndedAt = &now
		session.TotalTimeSeconds = now.Sub(session.StartedAt).Seconds()
		session.EngagementScore = engagementScore(session.CardsViewed, session.TotalTimeSeconds)

		if err := s.db.Model(&models.LearningSession{}).
			Where("id = ?", session.ID).
			Updates(map[string]interface{}{
				"ended_at":           session.EndedAt,
				"total_time_seconds": session.TotalTimeSeconds,
				"engagement_score":   session.EngagementScore,
			}).Error; err != nil {
			return nil, err
		}

		s.log.Info("learning session ended",
			zap.String("session_id", session.ID),
			zap.Int("cards_viewed", session.CardsViewed))
	}

	return statsOf(&session), nil
}

// SessionStats reports the current state of a session.
func (s *Service) SessionStats(ctx context.Context, sessionID, userID string) (*SessionStats, error) {
	if st, ok := s.registry.Get(sessionID); ok {
		st.mu.Lock()
		defer st.mu.Unlock()
		if userID != "" && st.session.UserID != userID {
			return nil, ErrSessionNotFound
		}
		return statsOf(st.session), nil
	}

	var session models.LearningSession
	if err := s.db.First(&session, "id = ?", sessionID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, err
	}
	if userID != "" && session.UserID != userID {
		return nil, ErrSessionNotFound
	}
	return statsOf(&session), nil
}

// ListSessions returns a user's sessions, newest first.
func (s *Service) ListSessions(userID string, limit, offset int) ([]models.LearningSession, int64, error) {
	var total int64
	query := s.db.Model(&models.LearningSession{}).Where("user_id = ?", userID)
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var sessions []models.LearningSession
	if err := query.Order("started_at DESC").Limit(limit).Offset(offset).Find(&sessions).Error; err != nil {
		return nil, 0, err
	}
	return sessions, total, nil
}

// load returns the in-memory state for a session, rehydrating it from the
// database when the registry evicted it.
func (s *Service) load(ctx context.Context, sessionID string) (*sessionState, error) {
	if st, ok := s.registry.Get(sessionID); ok {
		return st, nil
	}

	var session models.LearningSession
	if err := s.db.First(&session, "id = ?", sessionID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, err
	}
	if session.EndedAt != nil {
		return nil, ErrSessionEnded
	}

	var topic models.TopicModel
	if err := s.db.First(&topic, "id = ?", session.TopicID).Error; err != nil {
		return nil, err
	}

	analysis := topic.Structure
	if analysis == nil {
		analysis = s.gen.AnalyzeTopic(ctx, topic.Name)
	}

	buffer, err := s.cardsInQueueOrder(session.CardQueue)
	if err != nil {
		return nil, err
	}

	cursor := session.CurrentCardIndex
	if cursor > len(buffer) {
		cursor = len(buffer)
	}

	st := &sessionState{
		session:  &session,
		topic:    topic,
		analysis: analysis,
		buffer:   buffer,
		cursor:   cursor,
		lastUsed: time.Now(),
		wake:     make(chan struct{}, 1),
	}
	return s.install(sessionID, st), nil
}

// install registers the state and starts its refill goroutine. On a racing
// double-load the registry keeps the first state and this one is discarded.
func (s *Service) install(sessionID string, st *sessionState) *sessionState {
	ctx, cancel := context.WithCancel(s.baseCtx)
	st.cancel = cancel

	winner := s.registry.Put(sessionID, st)
	if winner != st {
		return winner
	}

	s.wg.Add(1)
	go s.refillLoop(ctx, st)
	return st
}

// refillLoop tops up the session buffer until the session is unloaded. It
// wakes on a fixed interval and early on the low-watermark signal.
func (s *Service) refillLoop(ctx context.Context, st *sessionState) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.refillInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-st.wake:
		}
		s.refillOnce(ctx, st)
	}
}

func (s *Service) refillOnce(ctx context.Context, st *sessionState) {
	st.mu.Lock()
	if st.session.EndedAt != nil {
		st.mu.Unlock()
		return
	}
	remaining := len(st.buffer) - st.cursor
	if remaining >= refillThreshold {
		st.mu.Unlock()
		return
	}
	topicName := st.topic.Name
	topicID := st.topic.ID
	sessionID := st.session.ID
	concepts := nextConcepts(st.analysis.Concepts, st.session.CoveredConcepts, refillConceptSpan)
	asked := append([]string(nil), st.session.AskedQuestions...)
	st.mu.Unlock()

	if len(concepts) == 0 {
		return
	}

	// generation happens outside the session lock; serving never blocks on it
	drafts := s.gen.GenerateCardBatch(ctx, topicName, concepts, refillBatchSize, asked)
	if len(drafts) == 0 || ctx.Err() != nil {
		return
	}

	cards, err := s.persistDrafts(topicID, drafts)
	if err != nil {
		s.log.Warn("refill card persist failed",
			zap.String("session_id", sessionID),
			zap.Error(err))
		return
	}

	st.mu.Lock()
	defer st.mu.Unlock()
	if st.session.EndedAt != nil {
		return
	}

	st.buffer = append(st.buffer, cards...)
	st.session.CardQueue = append(st.session.CardQueue, cardIDs(cards)...)
	st.session.AskedQuestions = append(st.session.AskedQuestions, cardQuestions(cards)...)
	st.session.CoveredConcepts = cardConcepts(st.session.CoveredConcepts, cards)

	if err := s.db.Model(&models.LearningSession{}).
		Where("id = ?", st.session.ID).
		Updates(map[string]interface{}{
			"card_queue":       st.session.CardQueue,
			"asked_questions":  st.session.AskedQuestions,
			"covered_concepts": st.session.CoveredConcepts,
		}).Error; err != nil {
		s.log.Warn("refill session persist failed",
			zap.String("session_id", st.session.ID),
			zap.Error(err))
		return
	}

	s.log.Debug("session buffer refilled",
		zap.String("session_id", st.session.ID),
		zap.Int("added", len(cards)),
		zap.Int("queue_length", len(st.buffer)))
}

func (s *Service) resolveTopic(query string) (*models.TopicModel, error) {
	var topic models.TopicModel

	err := s.db.First(&topic, "id = ?", query).Error
	if err == nil {
		return &topic, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	err = s.db.First(&topic, "name = ?", query).Error
	if err == nil {
		return &topic, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	topic = models.TopicModel{
		Name: query,
		Slug: slugify(query),
	}
	if err := s.db.Create(&topic).Error; err != nil {
		// lost a creation race; the existing row wins
		if lookupErr := s.db.First(&topic, "name = ?", query).Error; lookupErr == nil {
			return &topic, nil
		}
		return nil, err
	}
	return &topic, nil
}

// ensureAnalysis attaches the topic structure exactly once. Concurrent first
// sessions race on the conditional update and the loser adopts the stored
// structure.
func (s *Service) ensureAnalysis(ctx context.Context, topic *models.TopicModel) (*models.TopicAnalysis, error) {
	if topic.Structure != nil {
		return topic.Structure, nil
	}

	analysis := s.gen.AnalyzeTopic(ctx, topic.Name)

	res := s.db.Model(&models.TopicModel{}).
		Where("id = ? AND structure IS NULL", topic.ID).
		Updates(&models.TopicModel{
			Structure:    analysis,
			CoreConcepts: models.StringArray(analysis.Concepts),
		})
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		var fresh models.TopicModel
		if err := s.db.First(&fresh, "id = ?", topic.ID).Error; err != nil {
			return nil, err
		}
		if fresh.Structure != nil {
			*topic = fresh
			return fresh.Structure, nil
		}
	}

	topic.Structure = analysis
	topic.CoreConcepts = models.StringArray(analysis.Concepts)
	return analysis, nil
}

// initialCards reuses stored cards when the topic already has enough,
// otherwise generates a fresh batch over the first concepts.
func (s *Service) initialCards(ctx context.Context, topic *models.TopicModel, analysis *models.TopicAnalysis) ([]models.CardModel, error) {
	var existing []models.CardModel
	if err := s.db.Where("topic_id = ?", topic.ID).
		Order("difficulty ASC").
		Limit(reuseQueueLimit).
		Find(&existing).Error; err != nil {
		return nil, err
	}
	if len(existing) >= reuseThreshold {
		return existing, nil
	}

	span := initialConceptSpan
	if len(analysis.Concepts) < span {
		span = len(analysis.Concepts)
	}
	drafts := s.gen.GenerateCardBatch(ctx, topic.Name, analysis.Concepts[:span], initialBatchSize, nil)
	if len(drafts) == 0 {
		return existing, nil
	}
	return s.persistDrafts(topic.ID, drafts)
}

func (s *Service) persistDrafts(topicID string, drafts []generation.CardDraft) ([]models.CardModel, error) {
	cards := make([]models.CardModel, 0, len(drafts))
	for _, draft := range drafts {
		cards = append(cards, models.CardModel{
			TopicID:         topicID,
			Question:        draft.Question,
			Answer:          draft.Answer,
			Difficulty:      draft.Difficulty,
			ConceptTag:      draft.ConceptTag,
			GenerationModel: draft.Model,
		})
	}
	if err := s.db.Create(&cards).Error; err != nil {
		return nil, err
	}
	return cards, nil
}

func (s *Service) cardsInQueueOrder(queue []string) ([]models.CardModel, error) {
	if len(queue) == 0 {
		return nil, nil
	}

	var rows []models.CardModel
	if err := s.db.Where("id IN ?", []string(queue)).Find(&rows).Error; err != nil {
		return nil, err
	}

	byID := make(map[string]models.CardModel, len(rows))
	for _, row := range rows {
		byID[row.ID] = row
	}

	ordered := make([]models.CardModel, 0, len(queue))
	for _, id := range queue {
		if card, ok := byID[id]; ok {
			ordered = append(ordered, card)
		}
	}
	return ordered, nil
}

// nextConcepts picks up to span concepts not yet covered, in analysis order.
// When everything is covered it wraps to the start so long sessions keep
// getting material.
func nextConcepts(all []string, covered []string, span int) []string {
	coveredSet := make(map[string]bool, len(covered))
	for _, c := range covered {
		coveredSet[c] = true
	}

	out := make([]string, 0, span)
	for _, concept := range all {
		if coveredSet[concept] {
			continue
		}
		out = append(out, concept)
		if len(out) == span {
			return out
		}
	}
	if len(out) > 0 {
		return out
	}

	if len(all) < span {
		span = len(all)
	}
	return append(out, all[:span]...)
}

func normalizeMode(mode string) string {
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case models.SessionTypeReview:
		return models.SessionTypeReview
	case models.SessionTypePractice:
		return models.SessionTypePractice
	default:
		return models.SessionTypeStandard
	}
}

var slugStripper = regexp.MustCompile(`[^a-z0-9]+`)

func slugify(name string) string {
	slug := strings.ToLower(strings.TrimSpace(name))
	slug = slugStripper.ReplaceAllString(slug, "-")
	return strings.Trim(slug, "-")
}

func cardIDs(cards []models.CardModel) []string {
	ids := make([]string, 0, len(cards))
	for _, card := range cards {
		ids = append(ids, card.ID)
	}
	return ids
}

func cardQuestions(cards []models.CardModel) []string {
	questions := make([]string, 0, len(cards))
	for _, card := range cards {
		questions = append(questions, card.Question)
	}
	return questions
}

func cardConcepts(existing []string, cards []models.CardModel) []string {
	seen := make(map[string]bool, len(existing)+len(cards))
	out := make([]string, 0, len(existing)+len(cards))
	for _, c := range existing {
		if c == "" || seen[c] {
			continue
		}
		seen[c] = true
		out = append(out, c)
	}
	for _, card := range cards {
		if card.ConceptTag == "" || seen[card.ConceptTag] {
			continue
		}
		seen[card.ConceptTag] = true
		out = append(out, card.ConceptTag)
	}
	return out
}

func engagementScore(cardsViewed int, totalSeconds float64) float64 {
	if totalSeconds <= 0 {
		return 0
	}
	perMinute := float64(cardsViewed) / (totalSeconds / 60)
	if perMinute > 10 {
		perMinute = 10
	}
	return perMinute
}

func statsOf(session *models.LearningSession) *SessionStats {
	return &SessionStats{
		SessionID:        session.ID,
		TopicID:          session.TopicID,
		SessionType:      session.SessionType,
		CardsViewed:      session.CardsViewed,
		QueueLength:      len(session.CardQueue),
		CoveredConcepts:  append([]string(nil), session.CoveredConcepts...),
		TotalTimeSeconds: session.TotalTimeSeconds,
		EngagementScore:  session.EngagementScore,
		Ended:            session.EndedAt != nil,
	}
}
