package models

import "time"

// Session types.
const (
	SessionTypeStandard = "standard"
	SessionTypeReview   = "review"
	SessionTypePractice = "practice"
)

// LearningSession tracks a user's progress through one learning run on a
// topic. CardQueue holds the ids of every card issued to the session, in
// serve order; CurrentCardIndex is the persisted cursor into it and is
// always <= len(CardQueue). AskedQuestions and CoveredConcepts feed the
// duplicate suppression and concept progression of the refill path.
type LearningSession struct {
	Base
	UserID           string      `json:"user_id"            gorm:"index:idx_sessions_user_started;not null"`
	TopicID          string      `json:"topic_id"           gorm:"index;not null"`
	SessionType      string      `json:"session_type"       gorm:"default:'standard'"`
	StartedAt        time.Time   `json:"started_at"         gorm:"index:idx_sessions_user_started"`
	EndedAt          *time.Time  `json:"ended_at"`
	CardQueue        StringArray `json:"card_queue"         gorm:"type:longtext"`
	CurrentCardIndex int         `json:"current_card_index" gorm:"default:0"`
	AskedQuestions   StringArray `json:"asked_questions"    gorm:"type:longtext"`
	CoveredConcepts  StringArray `json:"covered_concepts"   gorm:"type:longtext"`
	CardsViewed      int         `json:"cards_viewed"       gorm:"default:0"`
	TotalTimeSeconds float64     `json:"total_time_seconds" gorm:"default:0"`
	EngagementScore  float64     `json:"engagement_score"   gorm:"default:0"`
}

func (LearningSession) TableName() string { return "learning_sessions" }
