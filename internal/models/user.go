package models

import "time"

// Learning style preferences, from the onboarding questionnaire.
const (
	LearningStyleVisual      = "visual"
	LearningStyleAuditory    = "auditory"
	LearningStyleKinesthetic = "kinesthetic"
	LearningStyleReading     = "reading_writing"
)

// UserModel represents a learner account.
type UserModel struct {
	Base
	Username            string     `json:"username"              gorm:"uniqueIndex;not null"`
	Email               string     `json:"email"                 gorm:"uniqueIndex;not null"`
	Password            string     `json:"-"                     gorm:"not null"`
	FullName            string     `json:"full_name"`
	Avatar              string     `json:"avatar"`
	Bio                 string     `json:"bio"                   gorm:"type:text"`
	Interests           StringArray `json:"interests"            gorm:"type:longtext"`
	LearningStyle       string     `json:"learning_style"        gorm:"default:'visual'"`
	PreferredDifficulty string     `json:"preferred_difficulty"  gorm:"default:'intermediate'"` // beginner | intermediate | advanced
	DailyGoalMinutes    int        `json:"daily_goal_minutes"    gorm:"default:30"`
	IsVerified          bool       `json:"is_verified"`
	LastLoginTime       *time.Time `json:"last_login_time"`
	LastLoginIP         string     `json:"last_login_ip"`
	APITokens           []APIToken `json:"api_tokens,omitempty"  gorm:"foreignKey:UserID"`
}

func (UserModel) TableName() string { return "users" }

// APIToken represents a personal API token for programmatic access.
type APIToken struct {
	Base
	UserID    string     `json:"-"          gorm:"index;not null"`
	Token     string     `json:"token"      gorm:"uniqueIndex;not null"`
	Name      string     `json:"name"`
	ExpiredAt *time.Time `json:"expired_at"`
}

func (APIToken) TableName() string { return "api_tokens" }
