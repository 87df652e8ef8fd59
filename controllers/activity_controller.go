package controllers

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/taskforge/taskforge/activity"
	"github.com/taskforge/taskforge/models"
	"github.com/taskforge/taskforge/utils"
)

// activityCacheTTL keeps the weekly chart payload hot without letting it
// drift far behind check-ins (which invalidate it anyway).
const activityCacheTTL = 10 * time.Minute

// ActivityController serves the weekly activity chart payload.
type ActivityController struct {
	tracker *activity.Tracker
	log     *zap.SugaredLogger
}

// NewActivityController creates a new controller instance.
func NewActivityController(tracker *activity.Tracker, log *zap.SugaredLogger) *ActivityController {
	return &ActivityController{tracker: tracker, log: log}
}

// Weekly returns the user's current-week snapshot, via the redis cache
// when fresh. The snapshot read itself performs lazy rollover, so a stale
// cached entry can never straddle a week boundary longer than the TTL.
func (a *ActivityController) Weekly(ctx *gin.Context) {
	userID, ok := getUserID(ctx)
	if !ok {
		utils.Error(ctx, http.StatusUnauthorized, 40110, "unauthorized")
		return
	}

	key := activityCacheKey(userID)
	if raw, hit := utils.CacheGetBytes(key); hit {
		var snap activity.Snapshot
		if err := json.Unmarshal(raw, &snap); err == nil && snap.WeekStart.Equal(models.MondayOf(time.Now())) {
			utils.Success(ctx, snap)
			return
		}
	}

	snap, err := a.tracker.CurrentWeek(ctx, userID, time.Now())
	if err != nil {
		utils.Error(ctx, http.StatusInternalServerError, 50020, "failed to load activity")
		return
	}
	utils.CacheSetJSON(key, snap, activityCacheTTL)
	utils.Success(ctx, snap)
}

func activityCacheKey(userID uint) string {
	return "activity:week:" + strconv.FormatUint(uint64(userID), 10)
}

// invalidateActivityCache drops the cached weekly payload after a write.
func invalidateActivityCache(userID uint) {
	utils.InvalidateByPrefix(activityCacheKey(userID))
}
