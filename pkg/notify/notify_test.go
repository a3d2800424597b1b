package notify

import (
	"context"
	"testing"
)

func TestSMTPNotifier_NoRecipientsErrors(t *testing.T) {
	n := NewSMTPNotifier(SMTPConfig{Host: "localhost", Port: 25, From: "a@example.com"})
	if err := n.Notify(context.Background(), Notification{RemoteID: "r1"}); err == nil {
		t.Fatal("expected an error when no recipients are configured")
	}
}

func TestNopNotifier_NeverErrors(t *testing.T) {
	var n NopNotifier
	if err := n.Notify(context.Background(), Notification{}); err != nil {
		t.Errorf("expected NopNotifier to never fail, got %v", err)
	}
}
