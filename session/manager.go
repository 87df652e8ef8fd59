// Package session manages the short-lived out-of-band confirmation
// sessions gating login (2FA approval in chat) and password reset
// (double-entry of the new credential in chat). Every transition out of
// pending is a compare-and-set against the datastore, so the chat
// callback, the polling web client, and the expiry sweep can race without
// lost updates: exactly one actor wins, the others observe a no-op.
package session

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/taskforge/taskforge/models"
	"github.com/taskforge/taskforge/utils"
)

// Expected outcomes surfaced to callers. Expired is deliberately distinct
// from NotFound and Declined so the user sees the right message.
var (
	ErrNotFound         = errors.New("no confirmation session")
	ErrExpired          = errors.New("confirmation session expired")
	ErrAlreadyPending   = errors.New("a confirmation session is already pending")
	ErrPasswordTooShort = errors.New("password below minimum length")
)

// Outcome reports how an approval or decline event landed.
type Outcome int

const (
	// OutcomeApplied: this actor won the transition.
	OutcomeApplied Outcome = iota
	// OutcomeAlreadyResolved: someone else transitioned the session first;
	// the losing operation is a silent no-op.
	OutcomeAlreadyResolved
	// OutcomeExpired: the session's TTL lapsed before the event arrived.
	OutcomeExpired
	// OutcomeNotFound: no matching session exists.
	OutcomeNotFound
)

// ResetStep reports where a password-reset entry left the double-entry flow.
type ResetStep int

const (
	// ResetStaged: first entry accepted, awaiting confirmation.
	ResetStaged ResetStep = iota
	// ResetApplied: confirmation matched; the credential was applied and
	// the session consumed.
	ResetApplied
	// ResetMismatch: confirmation differed; staging was cleared and a
	// fresh first entry is awaited. The TTL is unaffected.
	ResetMismatch
)

// Store is the datastore surface for confirmation sessions. Transition is
// a single conditional update (status = to WHERE id AND status = from),
// not read-then-write. Implemented by storage.Store.
type Store interface {
	CreateSession(ctx context.Context, s *models.ConfirmationSession) error
	// DeleteUserSessions removes all sessions for (user, kind), any status.
	DeleteUserSessions(ctx context.Context, userID uint, kind string) error
	// LatestByUser returns the most recently created session for
	// (user, kind), or nil when none exists.
	LatestByUser(ctx context.Context, userID uint, kind string) (*models.ConfirmationSession, error)
	// PendingByTelegramID lists pending sessions for a chat identity and
	// kind, most recent first.
	PendingByTelegramID(ctx context.Context, telegramID, kind string) ([]models.ConfirmationSession, error)
	// SessionByReference returns a chat identity's session with the given
	// reference regardless of status, or nil when none exists.
	SessionByReference(ctx context.Context, telegramID, reference string) (*models.ConfirmationSession, error)
	// Transition applies the compare-and-set status change and reports
	// whether this caller won it.
	Transition(ctx context.Context, id uint, from, to string) (bool, error)
	SetStagedHash(ctx context.Context, id uint, hash string) error
	SetPromptMessageID(ctx context.Context, id uint, messageID string) error
	DeleteSession(ctx context.Context, id uint) error
	// PendingExpiredBefore lists pending sessions whose expiry has passed.
	PendingExpiredBefore(ctx context.Context, now time.Time) ([]models.ConfirmationSession, error)
	// PurgeTerminal deletes terminal sessions updated before the cutoff.
	PurgeTerminal(ctx context.Context, cutoff time.Time) (int64, error)
	// ApplyPassword stores a new credential hash on the user account.
	ApplyPassword(ctx context.Context, userID uint, hash string) error
}

// Prompter renders chat-side approval affordances. Implemented by the bot.
type Prompter interface {
	// PresentApprovalPrompt shows an approve/decline keyboard and returns
	// the chat message reference for later retraction.
	PresentApprovalPrompt(ctx context.Context, telegramID, username, reference string) (string, error)
	// UpdatePromptToExpired retracts a stale prompt.
	UpdatePromptToExpired(ctx context.Context, telegramID, messageID string)
}

// Config bounds session lifetimes.
type Config struct {
	Login2FATTL      time.Duration
	PasswordResetTTL time.Duration
	Retention        time.Duration
	MinPasswordLen   int
}

// Manager drives the confirmation session state machine.
type Manager struct {
	store   Store
	prompts Prompter
	log     *zap.SugaredLogger
	cfg     Config

	now func() time.Time
}

// NewManager wires the manager. prompts may be nil (headless tests).
func NewManager(store Store, prompts Prompter, log *zap.SugaredLogger, cfg Config) *Manager {
	return &Manager{store: store, prompts: prompts, log: log, cfg: cfg, now: time.Now}
}

// SetClock overrides the manager clock, for tests.
func (m *Manager) SetClock(now func() time.Time) { m.now = now }

// BeginLogin2FA purges any prior login session for the user (any status,
// so stale approvals cannot be resurrected), creates a fresh pending
// session, and pushes the approval prompt to the user's chat. Returns the
// session reference the web client polls against.
func (m *Manager) BeginLogin2FA(ctx context.Context, user *models.User, profile *models.TelegramProfile) (string, error) {
	if err := m.store.DeleteUserSessions(ctx, user.ID, models.SessionKindLogin2FA); err != nil {
		return "", err
	}

	now := m.now()
	s := &models.ConfirmationSession{
		UserID:     user.ID,
		Kind:       models.SessionKindLogin2FA,
		TelegramID: profile.TelegramID,
		Reference:  uuid.NewString(),
		Status:     models.SessionPending,
		ExpiresAt:  now.Add(m.cfg.Login2FATTL),
	}
	if err := m.store.CreateSession(ctx, s); err != nil {
		return "", err
	}

	if m.prompts != nil {
		messageID, err := m.prompts.PresentApprovalPrompt(ctx, profile.TelegramID, user.Username, s.Reference)
		if err != nil {
			// the prompt is best-effort; the user can still retry login
			m.log.Warnf("2fa prompt for user %d failed: %v", user.ID, err)
		} else if err := m.store.SetPromptMessageID(ctx, s.ID, messageID); err != nil {
			m.log.Warnf("recording prompt message for session %d: %v", s.ID, err)
		}
	}
	return s.Reference, nil
}

// Status peeks at the user's latest login session without consuming an
// approval. A pending session past its TTL is lazily transitioned to
// expired before reporting.
func (m *Manager) Status(ctx context.Context, userID uint) (string, error) {
	s, err := m.store.LatestByUser(ctx, userID, models.SessionKindLogin2FA)
	if err != nil {
		return "", err
	}
	if s == nil {
		return "", ErrNotFound
	}
	if s.Status == models.SessionPending && s.ExpiredAt(m.now()) {
		if won, err := m.store.Transition(ctx, s.ID, models.SessionPending, models.SessionExpired); err != nil {
			return "", err
		} else if won {
			m.retractPrompt(s)
		}
		return models.SessionExpired, nil
	}
	return s.Status, nil
}

// ConsumeApproval atomically claims an approved login session so the same
// approval cannot complete two logins. Reports whether this caller won;
// the session is marked consumed and left for the retention purge.
func (m *Manager) ConsumeApproval(ctx context.Context, userID uint) (bool, error) {
	s, err := m.store.LatestByUser(ctx, userID, models.SessionKindLogin2FA)
	if err != nil {
		return false, err
	}
	if s == nil {
		return false, ErrNotFound
	}
	return m.store.Transition(ctx, s.ID, models.SessionApproved, models.SessionConsumed)
}

// Approve handles the chat-side approval event. An approval arriving after
// expiry transitions the session to expired instead and is rejected.
func (m *Manager) Approve(ctx context.Context, telegramID, reference string) (Outcome, error) {
	s, err := m.pendingLoginSession(ctx, telegramID, reference)
	if err != nil {
		return OutcomeNotFound, err
	}
	if s == nil {
		return m.resolvedOutcome(ctx, telegramID, reference)
	}

	if s.ExpiredAt(m.now()) {
		won, err := m.store.Transition(ctx, s.ID, models.SessionPending, models.SessionExpired)
		if err != nil {
			return OutcomeExpired, err
		}
		if won {
			m.retractPrompt(s)
		}
		return OutcomeExpired, nil
	}

	won, err := m.store.Transition(ctx, s.ID, models.SessionPending, models.SessionApproved)
	if err != nil {
		return OutcomeNotFound, err
	}
	if !won {
		return m.resolvedOutcome(ctx, telegramID, reference)
	}
	return OutcomeApplied, nil
}

// Decline handles the chat-side decline event. A user-initiated decline is
// honored while pending regardless of expiry.
func (m *Manager) Decline(ctx context.Context, telegramID, reference string) (Outcome, error) {
	s, err := m.pendingLoginSession(ctx, telegramID, reference)
	if err != nil {
		return OutcomeNotFound, err
	}
	if s == nil {
		return m.resolvedOutcome(ctx, telegramID, reference)
	}

	won, err := m.store.Transition(ctx, s.ID, models.SessionPending, models.SessionDeclined)
	if err != nil {
		return OutcomeNotFound, err
	}
	if !won {
		return m.resolvedOutcome(ctx, telegramID, reference)
	}
	return OutcomeApplied, nil
}

// BeginPasswordReset opens a reset session for a chat identity. Only one
// may be pending per identity; a second request is rejected until the
// first resolves or expires.
func (m *Manager) BeginPasswordReset(ctx context.Context, userID uint, telegramID string) error {
	existing, err := m.store.PendingByTelegramID(ctx, telegramID, models.SessionKindPasswordReset)
	if err != nil {
		return err
	}
	now := m.now()
	for _, s := range existing {
		if !s.ExpiredAt(now) {
			return ErrAlreadyPending
		}
		// lazily expire, then fall through to create a fresh session
		if won, err := m.store.Transition(ctx, s.ID, models.SessionPending, models.SessionExpired); err != nil {
			return err
		} else if !won {
			return ErrAlreadyPending
		}
	}

	s := &models.ConfirmationSession{
		UserID:     userID,
		Kind:       models.SessionKindPasswordReset,
		TelegramID: telegramID,
		Reference:  uuid.NewString(),
		Status:     models.SessionPending,
		ExpiresAt:  now.Add(m.cfg.PasswordResetTTL),
	}
	return m.store.CreateSession(ctx, s)
}

// SubmitResetEntry processes one inbound chat message of the double-entry
// flow. The first entry is validated and staged (as a bcrypt hash); the
// second is compared against the staged value. A match applies the
// credential and consumes the session; a mismatch clears staging and
// awaits a fresh first entry without restarting the TTL.
func (m *Manager) SubmitResetEntry(ctx context.Context, telegramID, password string) (ResetStep, error) {
	s, err := m.pendingResetSession(ctx, telegramID)
	if err != nil {
		return ResetMismatch, err
	}
	if s == nil {
		return ResetMismatch, ErrNotFound
	}

	if s.ExpiredAt(m.now()) {
		if _, err := m.store.Transition(ctx, s.ID, models.SessionPending, models.SessionExpired); err != nil {
			return ResetMismatch, err
		}
		return ResetMismatch, ErrExpired
	}

	if s.StagedHash == "" {
		if len(password) < m.cfg.MinPasswordLen {
			return ResetMismatch, ErrPasswordTooShort
		}
		hash, err := utils.HashPassword(password)
		if err != nil {
			return ResetMismatch, err
		}
		if err := m.store.SetStagedHash(ctx, s.ID, hash); err != nil {
			return ResetMismatch, err
		}
		return ResetStaged, nil
	}

	if !utils.CheckPassword(s.StagedHash, password) {
		if err := m.store.SetStagedHash(ctx, s.ID, ""); err != nil {
			return ResetMismatch, err
		}
		return ResetMismatch, nil
	}

	// claim the session first so a duplicate message cannot apply twice
	won, err := m.store.Transition(ctx, s.ID, models.SessionPending, models.SessionConsumed)
	if err != nil {
		return ResetMismatch, err
	}
	if !won {
		return ResetMismatch, ErrNotFound
	}
	if err := m.store.ApplyPassword(ctx, s.UserID, s.StagedHash); err != nil {
		return ResetMismatch, err
	}
	return ResetApplied, nil
}

// ExpireSweep transitions every overdue pending session to expired and
// retracts their chat prompts. Invoked hourly by the scheduler; the lazy
// checks above make it a safety net rather than the primary mechanism.
func (m *Manager) ExpireSweep(ctx context.Context) (int, error) {
	overdue, err := m.store.PendingExpiredBefore(ctx, m.now())
	if err != nil {
		return 0, err
	}
	expired := 0
	for i := range overdue {
		s := &overdue[i]
		won, err := m.store.Transition(ctx, s.ID, models.SessionPending, models.SessionExpired)
		if err != nil {
			m.log.Warnf("expiring session %d: %v", s.ID, err)
			continue
		}
		if !won {
			continue
		}
		expired++
		m.retractPrompt(s)
	}
	return expired, nil
}

// PurgeSweep deletes terminal sessions older than the retention window.
func (m *Manager) PurgeSweep(ctx context.Context) (int64, error) {
	return m.store.PurgeTerminal(ctx, m.now().Add(-m.cfg.Retention))
}

// pendingLoginSession resolves the target of an approval/decline event:
// by reference when given, otherwise the chat identity's pending login
// session. Finding more than one pending session violates the at-most-one
// invariant; the handler keeps the newest and purges the rest rather than
// failing the job.
func (m *Manager) pendingLoginSession(ctx context.Context, telegramID, reference string) (*models.ConfirmationSession, error) {
	pending, err := m.store.PendingByTelegramID(ctx, telegramID, models.SessionKindLogin2FA)
	if err != nil {
		return nil, err
	}
	if len(pending) == 0 {
		return nil, nil
	}
	if len(pending) > 1 {
		m.log.Errorf("invariant violation: %d pending login sessions for chat %s, keeping newest", len(pending), telegramID)
		for _, extra := range pending[1:] {
			if err := m.store.DeleteSession(ctx, extra.ID); err != nil {
				m.log.Warnf("purging surplus session %d: %v", extra.ID, err)
			}
		}
	}
	s := &pending[0]
	if reference != "" && s.Reference != reference {
		return nil, nil
	}
	return s, nil
}

// resolvedOutcome inspects a session that is no longer pending so a late
// approve/decline still gets the right reply: a session the sweep already
// expired reads as expired, any other terminal status as already handled.
func (m *Manager) resolvedOutcome(ctx context.Context, telegramID, reference string) (Outcome, error) {
	if reference == "" {
		return OutcomeNotFound, nil
	}
	s, err := m.store.SessionByReference(ctx, telegramID, reference)
	if err != nil {
		return OutcomeNotFound, err
	}
	if s == nil {
		return OutcomeNotFound, nil
	}
	if s.Status == models.SessionExpired {
		return OutcomeExpired, nil
	}
	return OutcomeAlreadyResolved, nil
}

func (m *Manager) pendingResetSession(ctx context.Context, telegramID string) (*models.ConfirmationSession, error) {
	pending, err := m.store.PendingByTelegramID(ctx, telegramID, models.SessionKindPasswordReset)
	if err != nil {
		return nil, err
	}
	if len(pending) == 0 {
		return nil, nil
	}
	if len(pending) > 1 {
		m.log.Errorf("invariant violation: %d pending reset sessions for chat %s, keeping newest", len(pending), telegramID)
		for _, extra := range pending[1:] {
			if err := m.store.DeleteSession(ctx, extra.ID); err != nil {
				m.log.Warnf("purging surplus session %d: %v", extra.ID, err)
			}
		}
	}
	return &pending[0], nil
}

func (m *Manager) retractPrompt(s *models.ConfirmationSession) {
	if m.prompts == nil || s.PromptMessageID == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	m.prompts.UpdatePromptToExpired(ctx, s.TelegramID, s.PromptMessageID)
}
