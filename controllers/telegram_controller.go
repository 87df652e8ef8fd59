package controllers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/taskforge/taskforge/storage"
	"github.com/taskforge/taskforge/utils"
)

const (
	bindCodeLength   = 6
	bindCodeCooldown = time.Minute
)

// TelegramController manages the web side of the chat link: issuing bind
// codes and reading link state.
type TelegramController struct {
	store *storage.Store
	log   *zap.SugaredLogger
}

// NewTelegramController creates a new controller instance.
func NewTelegramController(store *storage.Store, log *zap.SugaredLogger) *TelegramController {
	return &TelegramController{store: store, log: log}
}

// BindCode stages a fresh short code on the user's profile. The user sends
// it to the bot as /bind <code>; the bot side completes the link.
func (t *TelegramController) BindCode(ctx *gin.Context) {
	userID, ok := getUserID(ctx)
	if !ok {
		utils.Error(ctx, http.StatusUnauthorized, 40110, "unauthorized")
		return
	}

	if !utils.BindCodeCooldownTrySet(userID, bindCodeCooldown) {
		utils.Error(ctx, http.StatusTooManyRequests, 42902, "bind code recently issued, wait a moment")
		return
	}

	profile, err := t.store.EnsureProfile(ctx, userID)
	if err != nil {
		utils.Error(ctx, http.StatusInternalServerError, 50001, "database error")
		return
	}
	if profile.Connected {
		utils.Error(ctx, http.StatusConflict, 40903, "a chat is already linked; unbind it first")
		return
	}

	code := utils.GenerateBindCode(bindCodeLength)
	if err := t.store.SetBindCode(ctx, userID, code); err != nil {
		utils.Error(ctx, http.StatusInternalServerError, 50001, "database error")
		return
	}
	utils.Success(ctx, gin.H{"code": code})
}

// Status reports the chat link and its preferences.
func (t *TelegramController) Status(ctx *gin.Context) {
	userID, ok := getUserID(ctx)
	if !ok {
		utils.Error(ctx, http.StatusUnauthorized, 40110, "unauthorized")
		return
	}
	profile, err := t.store.ProfileByUser(ctx, userID)
	if err != nil {
		utils.Error(ctx, http.StatusInternalServerError, 50001, "database error")
		return
	}
	if profile == nil {
		utils.Success(ctx, gin.H{"connected": false})
		return
	}
	utils.Success(ctx, profile)
}
