// Package bot is the Telegram side of the system: account binding, the
// 2FA approve/decline prompt, the password-reset conversation, and the
// outbound chat delivery channel.
package bot

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"gopkg.in/tucnak/telebot.v2"

	"github.com/taskforge/taskforge/models"
	"github.com/taskforge/taskforge/notify"
	"github.com/taskforge/taskforge/session"
	"github.com/taskforge/taskforge/storage"
)

var (
	_ notify.ChatChannel = (*Bot)(nil)
	_ session.Prompter   = (*Bot)(nil)
)

// Bot wraps the telebot instance. It implements notify.ChatChannel and
// session.Prompter; the session manager is attached after construction
// because it needs the bot as its prompter.
type Bot struct {
	tb       *telebot.Bot
	store    *storage.Store
	sessions *session.Manager
	log      *zap.SugaredLogger
}

// New connects to the Telegram API with a long poller.
func New(token string, store *storage.Store, log *zap.SugaredLogger) (*Bot, error) {
	tb, err := telebot.NewBot(telebot.Settings{
		Token:  token,
		Poller: &telebot.LongPoller{Timeout: 10 * time.Second},
	})
	if err != nil {
		return nil, err
	}
	b := &Bot{tb: tb, store: store, log: log}
	b.registerHandlers()
	return b, nil
}

// SetSessions attaches the session manager. Must be called before Start.
func (b *Bot) SetSessions(m *session.Manager) { b.sessions = m }

// Start begins long polling. Blocks; run in a goroutine.
func (b *Bot) Start() { b.tb.Start() }

// Stop terminates long polling.
func (b *Bot) Stop() { b.tb.Stop() }

func (b *Bot) registerHandlers() {
	b.tb.Handle("/start", b.handleStart)
	b.tb.Handle("/bind", b.handleBind)
	b.tb.Handle("/unbind", b.handleUnbind)
	b.tb.Handle("/notifications", b.handleNotifications)
	b.tb.Handle("/reset", b.handleReset)
	b.tb.Handle(telebot.OnText, b.handleText)
	b.tb.Handle(telebot.OnCallback, b.handleCallback)
}

func (b *Bot) handleStart(m *telebot.Message) {
	ctx, cancel := b.opCtx()
	defer cancel()
	profile, err := b.store.ProfileByTelegramID(ctx, senderID(m.Sender))
	if err != nil {
		b.log.Errorf("profile lookup for chat %s: %v", senderID(m.Sender), err)
	}
	b.tb.Send(m.Sender,
		"Hi! I deliver your habit reminders and approve your logins.\n"+
			statusLine(profile)+"\n\n"+
			"/bind <code> — link this chat to your account\n"+
			"/notifications on|off — toggle reminder delivery here\n"+
			"/reset — reset your account password\n"+
			"/unbind — unlink this chat")
}

// handleBind consumes the short-lived code issued in the web UI. The
// connect is conditional on the code still being staged, so two chats
// racing on the same code bind exactly once.
func (b *Bot) handleBind(m *telebot.Message) {
	code := strings.TrimSpace(m.Payload)
	if code == "" {
		b.tb.Send(m.Sender, "Usage: /bind <code> — get the code from your account settings.")
		return
	}
	ctx, cancel := b.opCtx()
	defer cancel()

	profile, err := b.store.ProfileByBindCode(ctx, code)
	if err != nil {
		b.log.Errorf("bind code lookup: %v", err)
		b.tb.Send(m.Sender, "Something went wrong, try again.")
		return
	}
	if profile == nil {
		b.tb.Send(m.Sender, "That code is not valid. Request a fresh one in your account settings.")
		return
	}

	bound, err := b.store.ConnectProfile(ctx, profile.ID, senderID(m.Sender))
	if err != nil {
		b.log.Errorf("connecting profile %d: %v", profile.ID, err)
		b.tb.Send(m.Sender, "Something went wrong, try again.")
		return
	}
	if !bound {
		b.tb.Send(m.Sender, "That code was already used.")
		return
	}
	b.tb.Send(m.Sender, "Linked! You'll get your habit reminders here.")
}

func (b *Bot) handleUnbind(m *telebot.Message) {
	ctx, cancel := b.opCtx()
	defer cancel()
	if err := b.store.DisconnectProfile(ctx, senderID(m.Sender)); err != nil {
		b.log.Errorf("unbind for chat %s: %v", senderID(m.Sender), err)
		b.tb.Send(m.Sender, "Something went wrong, try again.")
		return
	}
	b.tb.Send(m.Sender, "Unlinked. Two-factor login is off until you bind again.")
}

func (b *Bot) handleNotifications(m *telebot.Message) {
	arg := strings.ToLower(strings.TrimSpace(m.Payload))
	if arg != "on" && arg != "off" {
		b.tb.Send(m.Sender, "Usage: /notifications on|off")
		return
	}
	ctx, cancel := b.opCtx()
	defer cancel()
	if err := b.store.SetChatNotifications(ctx, senderID(m.Sender), arg == "on"); err != nil {
		b.log.Errorf("notification toggle for chat %s: %v", senderID(m.Sender), err)
		b.tb.Send(m.Sender, "Something went wrong, try again.")
		return
	}
	if arg == "on" {
		b.tb.Send(m.Sender, "Reminders will be delivered here.")
	} else {
		b.tb.Send(m.Sender, "Reminders here are off. Web notifications continue.")
	}
}

// handleReset opens the password-reset conversation for a bound chat.
func (b *Bot) handleReset(m *telebot.Message) {
	ctx, cancel := b.opCtx()
	defer cancel()

	profile, err := b.store.ProfileByTelegramID(ctx, senderID(m.Sender))
	if err != nil {
		b.log.Errorf("reset lookup for chat %s: %v", senderID(m.Sender), err)
		b.tb.Send(m.Sender, "Something went wrong, try again.")
		return
	}
	if profile == nil {
		b.tb.Send(m.Sender, "This chat is not linked to an account. Use /bind first.")
		return
	}

	err = b.sessions.BeginPasswordReset(ctx, profile.UserID, profile.TelegramID)
	switch {
	case err == nil:
		b.tb.Send(m.Sender, "Send your new password. You'll be asked to repeat it.")
	case err == session.ErrAlreadyPending:
		b.tb.Send(m.Sender, "A password reset is already in progress. Send the password, or wait for it to expire.")
	default:
		b.log.Errorf("starting reset for user %d: %v", profile.UserID, err)
		b.tb.Send(m.Sender, "Something went wrong, try again.")
	}
}

// handleText feeds free-form messages into the reset double-entry flow.
// Messages arriving with no reset in progress are ignored.
func (b *Bot) handleText(m *telebot.Message) {
	ctx, cancel := b.opCtx()
	defer cancel()

	step, err := b.sessions.SubmitResetEntry(ctx, senderID(m.Sender), m.Text)
	if err == session.ErrNotFound {
		return
	}
	// the message carries a candidate password; take it off the screen
	if delErr := b.tb.Delete(m); delErr != nil {
		b.log.Debugf("deleting password message: %v", delErr)
	}

	switch {
	case err == session.ErrExpired:
		b.tb.Send(m.Sender, "The reset expired. Send /reset to start over.")
	case err == session.ErrPasswordTooShort:
		b.tb.Send(m.Sender, "That password is too short. Try a longer one.")
	case err != nil:
		b.log.Errorf("reset entry for chat %s: %v", senderID(m.Sender), err)
		b.tb.Send(m.Sender, "Something went wrong, try again.")
	case step == session.ResetStaged:
		b.tb.Send(m.Sender, "Now send it again to confirm.")
	case step == session.ResetApplied:
		b.tb.Send(m.Sender, "Done — your password has been changed.")
	case step == session.ResetMismatch:
		b.tb.Send(m.Sender, "The passwords didn't match. Send your new password again.")
	}
}

// handleCallback routes the 2FA keyboard. Callback data is the raw
// "<action>:<reference>" pair prefixed with the telebot unique marker.
func (b *Bot) handleCallback(c *telebot.Callback) {
	data := strings.TrimPrefix(c.Data, "\f")
	parts := strings.SplitN(data, ":", 2)
	if len(parts) != 2 {
		b.tb.Respond(c, &telebot.CallbackResponse{})
		return
	}
	action, reference := parts[0], parts[1]

	ctx, cancel := b.opCtx()
	defer cancel()

	var (
		out session.Outcome
		err error
	)
	switch action {
	case "approve":
		out, err = b.sessions.Approve(ctx, senderID(c.Sender), reference)
	case "decline":
		out, err = b.sessions.Decline(ctx, senderID(c.Sender), reference)
	default:
		b.tb.Respond(c, &telebot.CallbackResponse{})
		return
	}
	if err != nil {
		b.log.Errorf("2fa %s for chat %s: %v", action, senderID(c.Sender), err)
		b.tb.Respond(c, &telebot.CallbackResponse{Text: "Something went wrong."})
		return
	}

	switch out {
	case session.OutcomeApplied:
		if action == "approve" {
			b.tb.Edit(c.Message, "Login approved ✅")
		} else {
			b.tb.Edit(c.Message, "Login declined ❌")
		}
	case session.OutcomeExpired:
		b.tb.Edit(c.Message, "This login request expired.")
	case session.OutcomeAlreadyResolved, session.OutcomeNotFound:
		b.tb.Edit(c.Message, "This login request was already handled.")
	}
	b.tb.Respond(c, &telebot.CallbackResponse{})
}

// Send implements notify.ChatChannel. telebot's transport carries its own
// long client timeout, so the call is raced against the context deadline:
// a slow chat API surfaces as a send failure instead of stalling the caller.
func (b *Bot) Send(ctx context.Context, telegramID, message string) error {
	chat, err := recipient(telegramID)
	if err != nil {
		return err
	}
	return awaitSend(ctx, func() error {
		_, err := b.tb.Send(chat, message)
		return err
	})
}

// awaitSend runs fn in its own goroutine and returns its error, or the
// context error if the deadline hits first. A send that completes after
// the deadline is abandoned, not retried.
func awaitSend(ctx context.Context, fn func() error) error {
	done := make(chan error, 1)
	go func() { done <- fn() }()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// PresentApprovalPrompt implements session.Prompter: it shows the
// approve/decline keyboard and returns the message id for retraction.
func (b *Bot) PresentApprovalPrompt(_ context.Context, telegramID, username, reference string) (string, error) {
	chat, err := recipient(telegramID)
	if err != nil {
		return "", err
	}

	markup := &telebot.ReplyMarkup{}
	approve := markup.Data("Approve", "approve:"+reference)
	decline := markup.Data("Decline", "decline:"+reference)
	markup.Inline(markup.Row(approve, decline))

	msg, err := b.tb.Send(chat, fmt.Sprintf("Login attempt for %s. Was this you?", username), markup)
	if err != nil {
		return "", err
	}
	return strconv.Itoa(msg.ID), nil
}

// UpdatePromptToExpired implements session.Prompter: it replaces a stale
// prompt's keyboard with a terminal message.
func (b *Bot) UpdatePromptToExpired(_ context.Context, telegramID, messageID string) {
	stored := telebot.StoredMessage{MessageID: messageID, ChatID: chatIDOrZero(telegramID)}
	if _, err := b.tb.Edit(stored, "This login request expired."); err != nil {
		b.log.Debugf("retracting prompt %s for chat %s: %v", messageID, telegramID, err)
	}
}

func (b *Bot) opCtx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 10*time.Second)
}

func senderID(u *telebot.User) string {
	return strconv.FormatInt(int64(u.ID), 10)
}

func recipient(telegramID string) (telebot.Recipient, error) {
	id, err := strconv.ParseInt(telegramID, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("bad telegram id %q: %w", telegramID, err)
	}
	return telebot.ChatID(id), nil
}

func chatIDOrZero(telegramID string) int64 {
	id, _ := strconv.ParseInt(telegramID, 10, 64)
	return id
}

// statusLine is used by /start replies when a chat is already bound.
func statusLine(p *models.TelegramProfile) string {
	if p == nil || !p.Connected {
		return "Not linked."
	}
	if p.NotificationsEnabled {
		return "Linked, reminders on."
	}
	return "Linked, reminders off."
}
