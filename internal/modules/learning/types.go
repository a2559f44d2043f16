package learning

import "github.com/infinity-learn/core/internal/models"

type startSessionDTO struct {
	Topic string `json:"topic" binding:"required"`
	Mode  string `json:"mode"`
}

// CardView is the wire shape of a card served to a session.
type CardView struct {
	ID         string `json:"id"`
	Question   string `json:"question"`
	Answer     string `json:"answer"`
	Difficulty int    `json:"difficulty"`
	ConceptTag string `json:"concept_tag"`
}

// StartResult is the response of session initialization.
type StartResult struct {
	SessionID     string     `json:"session_id"`
	TopicID       string     `json:"topic_id"`
	TopicName     string     `json:"topic_name"`
	Cards         []CardView `json:"cards"`
	TotalConcepts int        `json:"total_concepts"`
}

// Progress reports where the session cursor sits inside the card queue.
type Progress struct {
	Position    int `json:"position"`
	QueueLength int `json:"queue_length"`
	Remaining   int `json:"remaining"`
}

// NextCardResult is the response of a next-card request.
type NextCardResult struct {
	Card     CardView `json:"card"`
	Progress Progress `json:"progress"`
}

// SessionStats summarizes one session.
type SessionStats struct {
	SessionID        string   `json:"session_id"`
	TopicID          string   `json:"topic_id"`
	SessionType      string   `json:"session_type"`
	CardsViewed      int      `json:"cards_viewed"`
	QueueLength      int      `json:"queue_length"`
	CoveredConcepts  []string `json:"covered_concepts"`
	TotalTimeSeconds float64  `json:"total_time_seconds"`
	EngagementScore  float64  `json:"engagement_score"`
	Ended            bool     `json:"ended"`
}

func cardView(card models.CardModel) CardView {
	return CardView{
		ID:         card.ID,
		Question:   card.Question,
		Answer:     card.Answer,
		Difficulty: card.Difficulty,
		ConceptTag: card.ConceptTag,
	}
}

func cardViews(cards []models.CardModel) []CardView {
	out := make([]CardView, 0, len(cards))
	for _, card := range cards {
		out = append(out, cardView(card))
	}
	return out
}
