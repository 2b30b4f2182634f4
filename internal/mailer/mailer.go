// Package mailer delivers the transactional emails sent by the auth
// flows. The log driver is the dev default; the smtp driver talks to a
// relay configured at startup.
package mailer

import (
	"fmt"
	"net/smtp"
	"strings"

	"github.com/atelierhq/atelier/internal/obs"
)

// Message is one outbound email.
type Message struct {
	To      string
	Subject string
	Body    string
}

// Mailer sends messages. Implementations must be safe for concurrent
// use by request handlers.
type Mailer interface {
	Send(msg Message) error
}

// Log writes messages to the structured log instead of delivering them.
type Log struct{}

func (Log) Send(msg Message) error {
	obs.Info("outbound email", map[string]any{
		"to":      msg.To,
		"subject": msg.Subject,
	})
	return nil
}

// SMTP delivers through a relay using PLAIN auth. An empty username
// skips authentication for relays that allow it.
type SMTP struct {
	Addr     string
	Username string
	Password string
	From     string
}

func (m *SMTP) Send(msg Message) error {
	host := m.Addr
	if i := strings.IndexByte(host, ':'); i >= 0 {
		host = host[:i]
	}
	var auth smtp.Auth
	if m.Username != "" {
		auth = smtp.PlainAuth("", m.Username, m.Password, host)
	}

	var body strings.Builder
	fmt.Fprintf(&body, "From: %s\r\n", m.From)
	fmt.Fprintf(&body, "To: %s\r\n", msg.To)
	fmt.Fprintf(&body, "Subject: %s\r\n", msg.Subject)
	body.WriteString("MIME-Version: 1.0\r\nContent-Type: text/plain; charset=utf-8\r\n\r\n")
	body.WriteString(msg.Body)

	return smtp.SendMail(m.Addr, auth, m.From, []string{msg.To}, []byte(body.String()))
}

// ResetPassword builds the forgot-password message.
func ResetPassword(email, firstName, resetLink string) Message {
	if firstName == "" {
		firstName = "User"
	}
	return Message{
		To:      email,
		Subject: "You have received a forgot password request",
		Body: fmt.Sprintf(
			"Hi %s,\n\nA password reset was requested for your account. Follow the link below to choose a new password. The link expires in 15 minutes.\n\n%s\n\nIf you did not request this, you can ignore this email.\n",
			firstName, resetLink),
	}
}

// MemberWelcome builds the registration welcome message.
func MemberWelcome(email, firstName string) Message {
	if firstName == "" {
		firstName = "User"
	}
	return Message{
		To:      email,
		Subject: "Welcome aboard",
		Body:    fmt.Sprintf("Hi %s,\n\nYour account has been created. You can sign in right away.\n", firstName),
	}
}
