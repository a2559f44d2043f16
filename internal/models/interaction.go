package models

// Card interaction actions.
const (
	ActionView   = "view"
	ActionSkip   = "skip"
	ActionSave   = "save"
	ActionMaster = "master"
)

// CardInteraction records one user action on one card within a session,
// feeding session stats and per-card aggregate counters.
type CardInteraction struct {
	Base
	UserID           string  `json:"user_id"    gorm:"index;not null"`
	CardID           string  `json:"card_id"    gorm:"index;not null"`
	SessionID        string  `json:"session_id" gorm:"index;not null"`
	Action           string  `json:"action"     gorm:"not null"` // view | skip | save | master
	TimeSpentSeconds float64 `json:"time_spent_seconds"`
	AnswerRevealed   bool    `json:"answer_revealed"`
	ConfidenceRating *int    `json:"confidence_rating"` // 1-5
}

func (CardInteraction) TableName() string { return "card_interactions" }
