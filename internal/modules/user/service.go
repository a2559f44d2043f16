package user

import (
	"errors"

	"github.com/infinity-learn/core/internal/models"
	"gorm.io/gorm"
)

var (
	errInvalidLearningStyle = errors.New("invalid learning style")
	errInvalidDifficulty    = errors.New("invalid preferred difficulty")
	errInvalidDailyGoal     = errors.New("daily goal must be between 5 and 480 minutes")
)

type Service struct{ db *gorm.DB }

func NewService(db *gorm.DB) *Service { return &Service{db: db} }

func (s *Service) Get(userID string) (*models.UserModel, error) {
	var u models.UserModel
	if err := s.db.First(&u, "id = ?", userID).Error; err != nil {
		return nil, err
	}
	return &u, nil
}

func (s *Service) UpdateProfile(userID string, dto *updateProfileDTO) (*models.UserModel, error) {
	updates := map[string]interface{}{}
	if dto.FullName != nil {
		updates["full_name"] = *dto.FullName
	}
	if dto.Avatar != nil {
		updates["avatar"] = *dto.Avatar
	}
	if dto.Bio != nil {
		updates["bio"] = *dto.Bio
	}
	if dto.Interests != nil {
		updates["interests"] = models.StringArray(dto.Interests)
	}

	if len(updates) > 0 {
		if err := s.db.Model(&models.UserModel{}).Where("id = ?", userID).Updates(updates).Error; err != nil {
			return nil, err
		}
	}
	return s.Get(userID)
}

func (s *Service) UpdatePreferences(userID string, dto *updatePreferencesDTO) (*models.UserModel, error) {
	updates := map[string]interface{}{}

	if dto.LearningStyle != nil {
		switch *dto.LearningStyle {
		case models.LearningStyleVisual, models.LearningStyleAuditory,
			models.LearningStyleKinesthetic, models.LearningStyleReading:
			updates["learning_style"] = *dto.LearningStyle
		default:
			return nil, errInvalidLearningStyle
		}
	}
	if dto.PreferredDifficulty != nil {
		switch *dto.PreferredDifficulty {
		case "beginner", "intermediate", "advanced":
			updates["preferred_difficulty"] = *dto.PreferredDifficulty
		default:
			return nil, errInvalidDifficulty
		}
	}
	if dto.DailyGoalMinutes != nil {
		if *dto.DailyGoalMinutes < 5 || *dto.DailyGoalMinutes > 480 {
			return nil, errInvalidDailyGoal
		}
		updates["daily_goal_minutes"] = *dto.DailyGoalMinutes
	}

	if len(updates) > 0 {
		if err := s.db.Model(&models.UserModel{}).Where("id = ?", userID).Updates(updates).Error; err != nil {
			return nil, err
		}
	}
	return s.Get(userID)
}
