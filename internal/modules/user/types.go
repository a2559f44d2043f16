package user

type updateProfileDTO struct {
	FullName  *string  `json:"full_name"`
	Avatar    *string  `json:"avatar"`
	Bio       *string  `json:"bio"`
	Interests []string `json:"interests"`
}

type updatePreferencesDTO struct {
	LearningStyle       *string `json:"learning_style"`
	PreferredDifficulty *string `json:"preferred_difficulty"`
	DailyGoalMinutes    *int    `json:"daily_goal_minutes"`
}
