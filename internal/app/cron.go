package app

import (
	"context"
	"fmt"
	"time"

	"github.com/infinity-learn/core/internal/models"
	"github.com/infinity-learn/core/internal/modules/analytics"
	"github.com/infinity-learn/core/internal/modules/explanation"
	"github.com/infinity-learn/core/internal/modules/learning"
	pkgcron "github.com/infinity-learn/core/internal/pkg/cron"
	"github.com/infinity-learn/core/internal/pkg/taskqueue"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const staleSessionAge = 24 * time.Hour

// registerCronJobs registers all scheduled background jobs.
func registerCronJobs(
	sched *pkgcron.Scheduler,
	db *gorm.DB,
	logger *zap.Logger,
	learningSvc *learning.Service,
	analyticsSvc *analytics.Service,
	explanationSvc *explanation.Service,
	taskSvc *taskqueue.Service,
) {
	cronLogger := logger.Named("cron")

	sched.Register(pkgcron.Job{
		Name:        "evict_idle_sessions",
		Description: "Unload learning sessions idle beyond the registry TTL",
		Interval:    10 * time.Minute,
		Fn: func(ctx context.Context) error {
			if n := learningSvc.Registry().EvictIdle(time.Now()); n > 0 {
				cronLogger.Info(fmt.Sprintf("evicted %d idle sessions", n))
			}
			return nil
		},
	})

	sched.Register(pkgcron.Job{
		Name:        "close_stale_sessions",
		Description: "End learning sessions abandoned for over a day",
		Interval:    time.Hour,
		Fn: func(ctx context.Context) error {
			cutoff := time.Now().Add(-staleSessionAge)
			var stale []models.LearningSession
			if err := db.Where("ended_at IS NULL AND updated_at < ?", cutoff).Find(&stale).Error; err != nil {
				return err
			}
			for i := range stale {
				now := time.Now()
				err := db.Model(&stale[i]).Updates(map[string]interface{}{
					"ended_at":           &now,
					"total_time_seconds": now.Sub(stale[i].StartedAt).Seconds(),
				}).Error
				if err != nil {
					cronLogger.Warn("stale session close failed",
						zap.String("session_id", stale[i].ID), zap.Error(err))
				}
			}
			if len(stale) > 0 {
				cronLogger.Info(fmt.Sprintf("closed %d stale sessions", len(stale)))
			}
			return nil
		},
	})

	sched.Register(pkgcron.Job{
		Name:        "refresh_card_stats",
		Description: "Recompute skip/save rates for recently used cards",
		Interval:    6 * time.Hour,
		Fn: func(ctx context.Context) error {
			since := time.Now().Add(-6 * time.Hour)
			var cardIDs []string
			if err := db.Model(&models.CardInteraction{}).
				Where("created_at > ?", since).
				Distinct("card_id").
				Pluck("card_id", &cardIDs).Error; err != nil {
				return err
			}
			for _, id := range cardIDs {
				if err := analyticsSvc.RefreshCardRates(id); err != nil {
					cronLogger.Warn("card rate refresh failed", zap.String("card_id", id), zap.Error(err))
				}
			}
			return nil
		},
	})

	sched.Register(pkgcron.Job{
		Name:        "run_explanation_tasks",
		Description: "Execute queued explanation warm-ups",
		Interval:    time.Minute,
		Fn: func(ctx context.Context) error {
			taskType := explanation.TaskTypeExplanation
			status := taskqueue.TaskPending
			tasks, _, err := taskSvc.List(ctx, 1, 20, &taskType, &status)
			if err != nil {
				return err
			}
			for _, task := range tasks {
				if err := taskSvc.UpdateStatus(ctx, task.ID, taskqueue.TaskRunning, nil, ""); err != nil {
					continue
				}
				explanationSvc.RunWarmTask(ctx, task)
			}
			return nil
		},
	})

	sched.Register(pkgcron.Job{
		Name:        "cleanup_completed_tasks",
		Description: "Drop finished queue tasks older than a week",
		Interval:    24 * time.Hour,
		Fn: func(ctx context.Context) error {
			before := time.Now().Add(-7 * 24 * time.Hour).UnixMilli()
			return taskSvc.DeleteCompleted(ctx, before)
		},
	})
}
