package bot

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestAwaitSendReturnsResult(t *testing.T) {
	want := errors.New("chat api said no")
	err := awaitSend(context.Background(), func() error { return want })
	if err != want {
		t.Errorf("awaitSend = %v, want %v", err, want)
	}

	if err := awaitSend(context.Background(), func() error { return nil }); err != nil {
		t.Errorf("awaitSend(ok) = %v, want nil", err)
	}
}

func TestAwaitSendDeadlineBeatsSlowSend(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	release := make(chan struct{})
	defer close(release)

	start := time.Now()
	err := awaitSend(ctx, func() error {
		<-release
		return nil
	})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("awaitSend = %v, want deadline exceeded", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("awaitSend blocked %v past its deadline", elapsed)
	}
}

func TestRecipientParsesChatID(t *testing.T) {
	if _, err := recipient("12345"); err != nil {
		t.Errorf("recipient(valid) = %v, want nil", err)
	}
	if _, err := recipient("not-a-number"); err == nil {
		t.Error("recipient(garbage) = nil error, want parse failure")
	}
}
