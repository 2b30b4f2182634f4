package mailer

import (
	"strings"
	"testing"
)

func TestResetPasswordMessage(t *testing.T) {
	msg := ResetPassword("jo@example.com", "Jo", "https://app.example.com/auth/reset-password?resetPasswordToken=abc")
	if msg.To != "jo@example.com" {
		t.Fatalf("unexpected recipient %q", msg.To)
	}
	if msg.Subject != "You have received a forgot password request" {
		t.Fatalf("unexpected subject %q", msg.Subject)
	}
	if !strings.Contains(msg.Body, "Hi Jo,") {
		t.Fatalf("body missing greeting: %q", msg.Body)
	}
	if !strings.Contains(msg.Body, "resetPasswordToken=abc") {
		t.Fatalf("body missing reset link: %q", msg.Body)
	}
}

func TestResetPasswordFallbackName(t *testing.T) {
	msg := ResetPassword("jo@example.com", "", "https://example.com/reset")
	if !strings.Contains(msg.Body, "Hi User,") {
		t.Fatalf("expected fallback greeting, got %q", msg.Body)
	}
}

func TestMemberWelcomeMessage(t *testing.T) {
	msg := MemberWelcome("new@example.com", "Ada")
	if msg.Subject != "Welcome aboard" {
		t.Fatalf("unexpected subject %q", msg.Subject)
	}
	if !strings.Contains(msg.Body, "Hi Ada,") {
		t.Fatalf("body missing greeting: %q", msg.Body)
	}
}

func TestLogMailerNeverFails(t *testing.T) {
	if err := (Log{}).Send(MemberWelcome("new@example.com", "")); err != nil {
		t.Fatalf("unexpected: %v", err)
	}
}
