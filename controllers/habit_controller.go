package controllers

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/taskforge/taskforge/activity"
	"github.com/taskforge/taskforge/models"
	"github.com/taskforge/taskforge/notify"
	"github.com/taskforge/taskforge/storage"
	"github.com/taskforge/taskforge/streak"
	"github.com/taskforge/taskforge/utils"
)

// completionRateWindow is the trailing window reported with each habit.
const completionRateWindow = 30

// HabitController exposes the check-in surface: listing habits with their
// streak facts and toggling a day's completion, which drives the streak
// counter, the weekly activity counters, and milestone notifications.
type HabitController struct {
	store      *storage.Store
	streaks    *streak.Engine
	tracker    *activity.Tracker
	dispatcher *notify.Dispatcher
	log        *zap.SugaredLogger
}

// NewHabitController creates a new controller instance.
func NewHabitController(store *storage.Store, streaks *streak.Engine, tracker *activity.Tracker, dispatcher *notify.Dispatcher, log *zap.SugaredLogger) *HabitController {
	return &HabitController{store: store, streaks: streaks, tracker: tracker, dispatcher: dispatcher, log: log}
}

type habitView struct {
	models.Habit
	DoneToday      bool    `json:"done_today"`
	CompletionRate float64 `json:"completion_rate"`
}

// ListHabits returns the user's active habits annotated with today's
// completion state and the trailing completion rate.
func (h *HabitController) ListHabits(ctx *gin.Context) {
	userID, ok := getUserID(ctx)
	if !ok {
		utils.Error(ctx, http.StatusUnauthorized, 40110, "unauthorized")
		return
	}

	habits, err := h.store.ActiveHabits(ctx, userID)
	if err != nil {
		utils.Error(ctx, http.StatusInternalServerError, 50001, "database error")
		return
	}

	now := time.Now()
	views := make([]habitView, 0, len(habits))
	for _, habit := range habits {
		done, err := h.streaks.IsDoneToday(ctx, habit.ID, now)
		if err != nil {
			utils.Error(ctx, http.StatusInternalServerError, 50001, "database error")
			return
		}
		rate, err := h.streaks.CompletionRate(ctx, habit.ID, now, completionRateWindow)
		if err != nil {
			utils.Error(ctx, http.StatusInternalServerError, 50001, "database error")
			return
		}
		views = append(views, habitView{Habit: habit, DoneToday: done, CompletionRate: rate})
	}
	utils.Success(ctx, views)
}

// Checkin toggles a day's completion for a habit. The streak counter is
// re-derived from history after every toggle, so historical edits and
// today's check-ins go through the same path. Completing a day records
// weekly activity and may emit a milestone notification.
func (h *HabitController) Checkin(ctx *gin.Context) {
	userID, ok := getUserID(ctx)
	if !ok {
		utils.Error(ctx, http.StatusUnauthorized, 40110, "unauthorized")
		return
	}

	var req struct {
		HabitID   uint   `json:"habit_id" binding:"required"`
		Date      string `json:"date"` // YYYY-MM-DD, defaults to today
		Completed *bool  `json:"completed" binding:"required"`
	}
	if err := ctx.ShouldBindJSON(&req); err != nil {
		utils.Error(ctx, http.StatusBadRequest, 40010, "invalid payload")
		return
	}

	habit, err := h.store.HabitByID(ctx, userID, req.HabitID)
	if err != nil {
		utils.Error(ctx, http.StatusInternalServerError, 50001, "database error")
		return
	}
	if habit == nil {
		utils.Error(ctx, http.StatusNotFound, 40410, "habit not found")
		return
	}

	now := time.Now()
	day := models.DateOf(now)
	if req.Date != "" {
		parsed, err := time.ParseInLocation("2006-01-02", req.Date, now.Location())
		if err != nil {
			utils.Error(ctx, http.StatusBadRequest, 40011, "invalid date")
			return
		}
		day = parsed
	}
	if day.After(models.DateOf(now)) {
		utils.Error(ctx, http.StatusBadRequest, 40012, "cannot check in for a future day")
		return
	}

	if err := h.store.UpsertCheckin(ctx, habit.ID, day, *req.Completed); err != nil {
		utils.Error(ctx, http.StatusInternalServerError, 50010, "failed to record check-in")
		return
	}
	if err := h.streaks.Recompute(ctx, habit.ID, day); err != nil {
		utils.Error(ctx, http.StatusInternalServerError, 50011, "failed to update streak")
		return
	}

	updated, err := h.store.HabitByID(ctx, userID, habit.ID)
	if err != nil || updated == nil {
		utils.Error(ctx, http.StatusInternalServerError, 50001, "database error")
		return
	}

	if *req.Completed {
		if err := h.tracker.Record(ctx, userID, now, 1); err != nil {
			// activity counters are best-effort; the check-in itself stands
			h.log.Warnf("recording activity for user %d: %v", userID, err)
		}
		invalidateActivityCache(userID)
		h.maybeCelebrate(ctx, updated)
	}

	utils.Success(ctx, gin.H{
		"habit":       updated,
		"streak_days": updated.StreakDays,
	})
}

// maybeCelebrate emits an achievement notification when the streak lands
// on a week multiple. Delivery reuses the dispatcher's two-channel path.
func (h *HabitController) maybeCelebrate(ctx *gin.Context, habit *models.Habit) {
	if habit.StreakDays == 0 || habit.StreakDays%7 != 0 {
		return
	}
	key := fmt.Sprintf("%d:milestone:%d:%d", habit.UserID, habit.ID, habit.StreakDays)
	n := &models.Notification{
		UserID:           habit.UserID,
		Message:          fmt.Sprintf("🎉 %d days straight on %q. Keep it going!", habit.StreakDays, habit.Name),
		NotificationType: models.NotificationAchievement,
		RelatedHabitID:   &habit.ID,
		DedupeKey:        &key,
	}
	created, err := h.store.CreateNotification(ctx, n)
	if err != nil {
		h.log.Warnf("milestone notification for habit %d: %v", habit.ID, err)
		return
	}
	if created {
		h.dispatcher.Deliver(ctx, n)
	}
}
