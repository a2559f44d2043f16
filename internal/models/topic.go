package models

// TopicAnalysis is the derived learning structure for a topic, produced once
// by the generation layer and then reused. Concepts are ordered from basic
// to advanced.
type TopicAnalysis struct {
	Concepts        []string        `json:"concepts"`
	Hooks           []string        `json:"hooks"`
	Misconceptions  []string        `json:"misconceptions"`
	Prerequisites   []string        `json:"prerequisites"`
	DifficultyRange DifficultyRange `json:"difficulty_range"`
}

// DifficultyRange bounds the 1-5 difficulty of generated cards for a topic.
type DifficultyRange struct {
	Min int `json:"min"`
	Max int `json:"max"`
}

// TopicModel represents a learnable subject. Created on first reference by
// name; Structure is attached exactly once after the first analysis.
type TopicModel struct {
	Base
	Name           string         `json:"name"            gorm:"uniqueIndex;not null"`
	Slug           string         `json:"slug"            gorm:"uniqueIndex;not null"`
	Category       string         `json:"category"        gorm:"index;default:'general'"`
	Description    string         `json:"description"     gorm:"type:text"`
	Structure      *TopicAnalysis `json:"topic_structure" gorm:"type:longtext;serializer:json"`
	CoreConcepts   StringArray    `json:"core_concepts"   gorm:"type:longtext"`
	EstimatedCards int            `json:"estimated_cards" gorm:"default:30"`
}

func (TopicModel) TableName() string { return "topics" }
