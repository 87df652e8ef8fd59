package controllers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/taskforge/taskforge/models"
	"github.com/taskforge/taskforge/session"
	"github.com/taskforge/taskforge/storage"
	"github.com/taskforge/taskforge/utils"
)

const tokenDuration = 72 * time.Hour

// AuthController handles registration and the (optionally two-factor) login flow.
type AuthController struct {
	store    *storage.Store
	sessions *session.Manager
	log      *zap.SugaredLogger
}

// NewAuthController creates a new controller instance.
func NewAuthController(store *storage.Store, sessions *session.Manager, log *zap.SugaredLogger) *AuthController {
	return &AuthController{store: store, sessions: sessions, log: log}
}

// Register creates an account and issues a token right away.
func (a *AuthController) Register(ctx *gin.Context) {
	var req struct {
		Username string `json:"username" binding:"required,min=3,max=64"`
		Email    string `json:"email"`
		Password string `json:"password" binding:"required,min=8"`
	}
	if err := ctx.ShouldBindJSON(&req); err != nil {
		utils.Error(ctx, http.StatusBadRequest, 40001, "invalid payload: "+err.Error())
		return
	}

	existing, err := a.store.UserByUsername(ctx, req.Username)
	if err != nil {
		utils.Error(ctx, http.StatusInternalServerError, 50001, "database error")
		return
	}
	if existing != nil {
		utils.Error(ctx, http.StatusConflict, 40901, "username already taken")
		return
	}

	hash, err := utils.HashPassword(req.Password)
	if err != nil {
		utils.Error(ctx, http.StatusInternalServerError, 50002, "failed to hash password")
		return
	}

	user := &models.User{Username: req.Username, Email: req.Email, PasswordHash: hash}
	if err := a.store.CreateUser(ctx, user); err != nil {
		utils.Error(ctx, http.StatusInternalServerError, 50003, "failed to create user")
		return
	}
	if _, err := a.store.EnsureProfile(ctx, user.ID); err != nil {
		a.log.Warnf("creating chat profile for user %d: %v", user.ID, err)
	}

	token, err := utils.GenerateToken(user.ID, user.Username, tokenDuration)
	if err != nil {
		utils.Error(ctx, http.StatusInternalServerError, 50004, "failed to issue token")
		return
	}
	utils.Success(ctx, gin.H{"token": token, "user": user})
}

// Login checks credentials. With 2FA enabled the token is withheld: the
// client gets a session reference and polls LoginStatus while the user
// approves in chat.
func (a *AuthController) Login(ctx *gin.Context) {
	var req struct {
		Username string `json:"username" binding:"required"`
		Password string `json:"password" binding:"required"`
	}
	if err := ctx.ShouldBindJSON(&req); err != nil {
		utils.Error(ctx, http.StatusBadRequest, 40002, "invalid payload")
		return
	}

	user, err := a.store.UserByUsername(ctx, req.Username)
	if err != nil {
		utils.Error(ctx, http.StatusInternalServerError, 50001, "database error")
		return
	}
	if user == nil || !utils.CheckPassword(user.PasswordHash, req.Password) {
		utils.Error(ctx, http.StatusUnauthorized, 40106, "invalid username or password")
		return
	}

	profile, err := a.store.ProfileByUser(ctx, user.ID)
	if err != nil {
		utils.Error(ctx, http.StatusInternalServerError, 50001, "database error")
		return
	}

	if profile != nil && profile.TwoFactorEnabled && profile.ChatDeliverable() {
		reference, err := a.sessions.BeginLogin2FA(ctx, user, profile)
		if err != nil {
			a.log.Errorf("starting 2fa for user %d: %v", user.ID, err)
			utils.Error(ctx, http.StatusInternalServerError, 50005, "failed to start confirmation")
			return
		}
		utils.Success(ctx, gin.H{
			"two_factor_required": true,
			"reference":           reference,
		})
		return
	}

	token, err := utils.GenerateToken(user.ID, user.Username, tokenDuration)
	if err != nil {
		utils.Error(ctx, http.StatusInternalServerError, 50004, "failed to issue token")
		return
	}
	utils.Success(ctx, gin.H{"token": token, "user": user})
}

// LoginStatus is the 2FA poll endpoint. It reports the session status and,
// once the session is approved, atomically consumes it and issues the
// token — the consume step guarantees the same approval cannot complete
// two logins.
func (a *AuthController) LoginStatus(ctx *gin.Context) {
	var req struct {
		Username  string `json:"username" binding:"required"`
		Reference string `json:"reference" binding:"required"`
	}
	if err := ctx.ShouldBindJSON(&req); err != nil {
		utils.Error(ctx, http.StatusBadRequest, 40003, "invalid payload")
		return
	}

	user, err := a.store.UserByUsername(ctx, req.Username)
	if err != nil {
		utils.Error(ctx, http.StatusInternalServerError, 50001, "database error")
		return
	}
	if user == nil {
		utils.Error(ctx, http.StatusNotFound, 40401, "no confirmation session")
		return
	}

	// the reference was handed only to the client that presented valid
	// credentials; requiring it back stops other pollers of the same account
	latest, err := a.store.LatestByUser(ctx, user.ID, models.SessionKindLogin2FA)
	if err != nil {
		utils.Error(ctx, http.StatusInternalServerError, 50001, "database error")
		return
	}
	if latest == nil || latest.Reference != req.Reference {
		utils.Error(ctx, http.StatusNotFound, 40401, "no confirmation session")
		return
	}

	status, err := a.sessions.Status(ctx, user.ID)
	if err == session.ErrNotFound {
		utils.Error(ctx, http.StatusNotFound, 40401, "no confirmation session")
		return
	}
	if err != nil {
		utils.Error(ctx, http.StatusInternalServerError, 50005, "failed to read session")
		return
	}

	if status != models.SessionApproved {
		utils.Success(ctx, gin.H{"status": status})
		return
	}

	won, err := a.sessions.ConsumeApproval(ctx, user.ID)
	if err != nil {
		utils.Error(ctx, http.StatusInternalServerError, 50005, "failed to consume approval")
		return
	}
	if !won {
		// another poller claimed it first
		utils.Error(ctx, http.StatusConflict, 40902, "approval already consumed")
		return
	}

	token, err := utils.GenerateToken(user.ID, user.Username, tokenDuration)
	if err != nil {
		utils.Error(ctx, http.StatusInternalServerError, 50004, "failed to issue token")
		return
	}
	utils.Success(ctx, gin.H{"status": models.SessionConsumed, "token": token, "user": user})
}

// Me returns the authenticated account with its chat profile state.
func (a *AuthController) Me(ctx *gin.Context) {
	userID, ok := getUserID(ctx)
	if !ok {
		utils.Error(ctx, http.StatusUnauthorized, 40110, "unauthorized")
		return
	}
	user, err := a.store.UserByID(ctx, userID)
	if err != nil || user == nil {
		utils.Error(ctx, http.StatusInternalServerError, 50001, "database error")
		return
	}
	profile, err := a.store.ProfileByUser(ctx, userID)
	if err != nil {
		utils.Error(ctx, http.StatusInternalServerError, 50001, "database error")
		return
	}
	utils.Success(ctx, gin.H{"user": user, "telegram": profile})
}

// UpdateSettings toggles notification and 2FA preferences.
func (a *AuthController) UpdateSettings(ctx *gin.Context) {
	userID, ok := getUserID(ctx)
	if !ok {
		utils.Error(ctx, http.StatusUnauthorized, 40110, "unauthorized")
		return
	}

	var req struct {
		PushEnabled      *bool `json:"push_enabled"`
		TwoFactorEnabled *bool `json:"two_factor_enabled"`
	}
	if err := ctx.ShouldBindJSON(&req); err != nil {
		utils.Error(ctx, http.StatusBadRequest, 40004, "invalid payload")
		return
	}

	if req.PushEnabled != nil {
		if err := a.store.SetPushEnabled(ctx, userID, *req.PushEnabled); err != nil {
			utils.Error(ctx, http.StatusInternalServerError, 50001, "database error")
			return
		}
	}
	if req.TwoFactorEnabled != nil {
		if err := a.store.SetTwoFactor(ctx, userID, *req.TwoFactorEnabled); err != nil {
			utils.Error(ctx, http.StatusBadRequest, 40005, "link a telegram chat before enabling 2fa")
			return
		}
	}

	utils.Success(ctx, nil)
}
