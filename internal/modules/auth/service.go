package auth

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"time"

	"github.com/infinity-learn/core/internal/models"
	sessionpkg "github.com/infinity-learn/core/internal/pkg/session"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

const apiTokenPrefix = "txo"

type Service struct{ db *gorm.DB }

func NewService(db *gorm.DB) *Service { return &Service{db: db} }

func (s *Service) Register(dto *RegisterDTO) (*models.UserModel, error) {
	var count int64
	if err := s.db.Model(&models.UserModel{}).Where("username = ?", dto.Username).Count(&count).Error; err != nil {
		return nil, err
	}
	if count > 0 {
		return nil, errUsernameTaken
	}
	if err := s.db.Model(&models.UserModel{}).Where("email = ?", dto.Email).Count(&count).Error; err != nil {
		return nil, err
	}
	if count > 0 {
		return nil, errEmailTaken
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(dto.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}

	fullName := dto.FullName
	if fullName == "" {
		fullName = dto.Username
	}
	u := models.UserModel{
		Username: dto.Username,
		Email:    dto.Email,
		Password: string(hash),
		FullName: fullName,
	}
	return &u, s.db.Create(&u).Error
}

func (s *Service) Login(dto *LoginDTO, ip, ua string) (string, *models.UserModel, error) {
	var u models.UserModel
	if err := s.db.Where("username = ? OR email = ?", dto.Username, dto.Username).
		First(&u).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			time.Sleep(3 * time.Second)
			return "", nil, errInvalidCredentials
		}
		return "", nil, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.Password), []byte(dto.Password)); err != nil {
		time.Sleep(3 * time.Second)
		return "", nil, errInvalidCredentials
	}

	token, _, err := sessionpkg.Issue(s.db, u.ID, ip, ua, sessionpkg.DefaultTTL)
	if err != nil {
		return "", nil, err
	}

	now := time.Now()
	_ = s.db.Model(&models.UserModel{}).Where("id = ?", u.ID).Updates(map[string]interface{}{
		"last_login_time": &now,
		"last_login_ip":   ip,
	}).Error
	u.LastLoginTime = &now
	u.LastLoginIP = ip

	return token, &u, nil
}

func (s *Service) Logout(userID, sessionID string) error {
	if sessionID == "" {
		return nil
	}
	return sessionpkg.Revoke(s.db, userID, sessionID)
}

func (s *Service) Sessions(userID string) ([]models.UserSession, error) {
	return sessionpkg.ListActive(s.db, userID)
}

func (s *Service) RevokeSession(userID, sessionID string) error {
	return sessionpkg.Revoke(s.db, userID, sessionID)
}

func (s *Service) RevokeOtherSessions(userID, keepSessionID string) error {
	return sessionpkg.RevokeAllExcept(s.db, userID, keepSessionID)
}

func (s *Service) CreateToken(userID string, dto *CreateTokenDTO) (*models.APIToken, error) {
	raw := make([]byte, 24)
	if _, err := rand.Read(raw); err != nil {
		return nil, err
	}

	token := models.APIToken{
		UserID:    userID,
		Token:     apiTokenPrefix + hex.EncodeToString(raw),
		Name:      dto.Name,
		ExpiredAt: dto.ExpiredAt,
	}
	return &token, s.db.Create(&token).Error
}

func (s *Service) ListTokens(userID string) ([]models.APIToken, error) {
	var tokens []models.APIToken
	err := s.db.Where("user_id = ? AND (expired_at IS NULL OR expired_at > ?)", userID, time.Now()).
		Find(&tokens).Error
	return tokens, err
}

func (s *Service) DeleteToken(userID, tokenID string) error {
	res := s.db.Where("id = ? AND user_id = ?", tokenID, userID).Delete(&models.APIToken{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}
