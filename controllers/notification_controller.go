package controllers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/taskforge/taskforge/storage"
	"github.com/taskforge/taskforge/utils"
)

const notificationPageSize = 50

// NotificationController is the web read surface for delivered
// notifications: the unread badge list and read acknowledgements.
type NotificationController struct {
	store *storage.Store
}

// NewNotificationController creates a new controller instance.
func NewNotificationController(store *storage.Store) *NotificationController {
	return &NotificationController{store: store}
}

// Unread lists the user's unread notifications, newest first.
func (n *NotificationController) Unread(ctx *gin.Context) {
	userID, ok := getUserID(ctx)
	if !ok {
		utils.Error(ctx, http.StatusUnauthorized, 40110, "unauthorized")
		return
	}
	list, err := n.store.UnreadNotifications(ctx, userID, notificationPageSize)
	if err != nil {
		utils.Error(ctx, http.StatusInternalServerError, 50001, "database error")
		return
	}
	utils.Success(ctx, list)
}

// Recent lists the user's latest notifications regardless of read state.
func (n *NotificationController) Recent(ctx *gin.Context) {
	userID, ok := getUserID(ctx)
	if !ok {
		utils.Error(ctx, http.StatusUnauthorized, 40110, "unauthorized")
		return
	}
	list, err := n.store.RecentNotifications(ctx, userID, notificationPageSize)
	if err != nil {
		utils.Error(ctx, http.StatusInternalServerError, 50001, "database error")
		return
	}
	utils.Success(ctx, list)
}

// MarkRead acknowledges one notification.
func (n *NotificationController) MarkRead(ctx *gin.Context) {
	userID, ok := getUserID(ctx)
	if !ok {
		utils.Error(ctx, http.StatusUnauthorized, 40110, "unauthorized")
		return
	}
	id, err := strconv.ParseUint(ctx.Param("id"), 10, 64)
	if err != nil {
		utils.Error(ctx, http.StatusBadRequest, 40020, "invalid notification id")
		return
	}
	if err := n.store.MarkNotificationRead(ctx, userID, uint(id)); err != nil {
		utils.Error(ctx, http.StatusInternalServerError, 50001, "database error")
		return
	}
	utils.Success(ctx, nil)
}

// MarkAllRead acknowledges everything unread.
func (n *NotificationController) MarkAllRead(ctx *gin.Context) {
	userID, ok := getUserID(ctx)
	if !ok {
		utils.Error(ctx, http.StatusUnauthorized, 40110, "unauthorized")
		return
	}
	count, err := n.store.MarkAllNotificationsRead(ctx, userID)
	if err != nil {
		utils.Error(ctx, http.StatusInternalServerError, 50001, "database error")
		return
	}
	utils.Success(ctx, gin.H{"marked": count})
}
