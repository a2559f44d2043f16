package analytics

import (
	"fmt"
	"testing"

	"github.com/infinity-learn/core/internal/models"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestService(t *testing.T) (*Service, *gorm.DB) {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(
		&models.CardModel{},
		&models.LearningSession{},
		&models.CardInteraction{},
		&models.SavedCardModel{},
	); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return NewService(db, zap.NewNop()), db
}

func seedCard(t *testing.T, db *gorm.DB) *models.CardModel {
	t.Helper()
	card := models.CardModel{
		TopicID:    "topic-1",
		Question:   "What is a closure?",
		Answer:     "A function plus its captured environment.",
		Difficulty: 2,
	}
	if err := db.Create(&card).Error; err != nil {
		t.Fatalf("seed card: %v", err)
	}
	return &card
}

func TestRecordRefreshesCardRates(t *testing.T) {
	svc, db := newTestService(t)
	card := seedCard(t, db)

	actions := []string{models.ActionView, models.ActionView, models.ActionView, models.ActionSkip}
	for _, action := range actions {
		dto := recordInteractionDTO{CardID: card.ID, SessionID: "sess-1", Action: action}
		if _, err := svc.Record("user-1", &dto); err != nil {
			t.Fatalf("record %s: %v", action, err)
		}
	}
	dto := recordInteractionDTO{CardID: card.ID, SessionID: "sess-1", Action: models.ActionSave}
	if _, err := svc.Record("user-1", &dto); err != nil {
		t.Fatalf("record save: %v", err)
	}

	var got models.CardModel
	if err := db.First(&got, "id = ?", card.ID).Error; err != nil {
		t.Fatalf("reload card: %v", err)
	}
	// 3 views + 1 skip; saves do not count toward the denominator
	if got.SkipRate != 0.25 {
		t.Fatalf("skip rate = %v, want 0.25", got.SkipRate)
	}
	if got.SaveRate != 0.25 {
		t.Fatalf("save rate = %v, want 0.25", got.SaveRate)
	}
}

func TestRecordRejectsInvalidInput(t *testing.T) {
	svc, db := newTestService(t)
	card := seedCard(t, db)

	dto := recordInteractionDTO{CardID: card.ID, SessionID: "s", Action: "shred"}
	if _, err := svc.Record("user-1", &dto); err != errInvalidAction {
		t.Fatalf("expected errInvalidAction, got %v", err)
	}

	bad := 9
	dto = recordInteractionDTO{CardID: card.ID, SessionID: "s", Action: models.ActionView, ConfidenceRating: &bad}
	if _, err := svc.Record("user-1", &dto); err != errInvalidConfidence {
		t.Fatalf("expected errInvalidConfidence, got %v", err)
	}
}

func TestSessionReportAggregates(t *testing.T) {
	svc, db := newTestService(t)
	card := seedCard(t, db)

	session := models.LearningSession{UserID: "user-1", TopicID: card.TopicID}
	if err := db.Create(&session).Error; err != nil {
		t.Fatalf("seed session: %v", err)
	}

	interactions := []models.CardInteraction{
		{UserID: "user-1", CardID: card.ID, SessionID: session.ID, Action: models.ActionView, TimeSpentSeconds: 10},
		{UserID: "user-1", CardID: card.ID, SessionID: session.ID, Action: models.ActionView, TimeSpentSeconds: 20},
		{UserID: "user-1", CardID: card.ID, SessionID: session.ID, Action: models.ActionSkip, TimeSpentSeconds: 3},
	}
	for i := range interactions {
		if err := db.Create(&interactions[i]).Error; err != nil {
			t.Fatalf("seed interaction: %v", err)
		}
	}

	report, err := svc.SessionReport(session.ID, "user-1")
	if err != nil {
		t.Fatalf("session report: %v", err)
	}
	if report.CardsViewed != 2 || report.CardsSkipped != 1 {
		t.Fatalf("unexpected counts: %+v", report)
	}
	if report.AvgTimeSeconds != 11 {
		t.Fatalf("avg time = %v, want 11", report.AvgTimeSeconds)
	}
}

func TestSessionReportHidesOtherUsers(t *testing.T) {
	svc, db := newTestService(t)

	session := models.LearningSession{UserID: "owner", TopicID: "topic-1"}
	if err := db.Create(&session).Error; err != nil {
		t.Fatalf("seed session: %v", err)
	}

	if _, err := svc.SessionReport(session.ID, "intruder"); err != gorm.ErrRecordNotFound {
		t.Fatalf("expected not found for foreign session, got %v", err)
	}
}
