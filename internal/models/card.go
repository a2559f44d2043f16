package models

// CardModel is a single question/answer learning unit. Immutable after
// creation except for the aggregate counters maintained by analytics.
type CardModel struct {
	Base
	TopicID         string  `json:"topic_id"         gorm:"index:idx_cards_topic_difficulty;not null"`
	Question        string  `json:"question"         gorm:"size:100;not null"`
	Answer          string  `json:"answer"           gorm:"size:300;not null"` // markdown
	Difficulty      int     `json:"difficulty"       gorm:"index:idx_cards_topic_difficulty"` // 1-5
	ConceptTag      string  `json:"concept_tag"      gorm:"index"`
	GenerationModel string  `json:"generation_model"`
	TotalViews      int     `json:"total_views"      gorm:"default:0"`
	SkipRate        float64 `json:"skip_rate"        gorm:"default:0"`
	SaveRate        float64 `json:"save_rate"        gorm:"default:0"`
}

func (CardModel) TableName() string { return "cards" }

// SavedCardModel is a user's bookmark of a card for later review.
type SavedCardModel struct {
	Base
	UserID      string      `json:"user_id" gorm:"uniqueIndex:uix_saved_user_card;index;not null"`
	CardID      string      `json:"card_id" gorm:"uniqueIndex:uix_saved_user_card;index;not null"`
	Folder      string      `json:"folder"  gorm:"index"`
	Tags        StringArray `json:"tags"    gorm:"type:longtext"`
	Notes       string      `json:"notes"   gorm:"type:text"`
	ReviewCount int         `json:"review_count" gorm:"default:0"`
	Mastered    bool        `json:"mastered"     gorm:"default:false"`
}

func (SavedCardModel) TableName() string { return "saved_cards" }
