// Package mail delivers outbound account e-mail.
package mail

import (
	"context"
	"fmt"
	"net"
	"net/smtp"
	"strconv"
	"strings"
	"time"

	"github.com/rewired-gh/hdbinsight/internal/logger"
)

// Message is a plain-text e-mail.
type Message struct {
	Subject string
	Body    string
	From    string
	To      []string
}

// Sender delivers messages.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// SMTPSender sends mail through an SMTP relay with PLAIN auth when a
// username is configured.
type SMTPSender struct {
	addr string
	auth smtp.Auth

	// sendMail is smtp.SendMail; replaced in tests.
	sendMail func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

// NewSMTPSender creates a sender for host:port.
func NewSMTPSender(host string, port int, username, password string) *SMTPSender {
	s := &SMTPSender{
		addr:     net.JoinHostPort(host, strconv.Itoa(port)),
		sendMail: smtp.SendMail,
	}
	if username != "" {
		s.auth = smtp.PlainAuth("", username, password, host)
	}
	return s
}

func (s *SMTPSender) Send(ctx context.Context, msg Message) error {
	if len(msg.To) == 0 {
		return fmt.Errorf("failed to send mail: no recipients")
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("failed to send mail: %w", err)
	}
	if err := s.sendMail(s.addr, s.auth, msg.From, msg.To, encode(msg)); err != nil {
		return fmt.Errorf("failed to send mail: %w", err)
	}
	return nil
}

func encode(msg Message) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", msg.From)
	fmt.Fprintf(&b, "To: %s\r\n", strings.Join(msg.To, ", "))
	fmt.Fprintf(&b, "Subject: %s\r\n", msg.Subject)
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=\"utf-8\"\r\n")
	b.WriteString("\r\n")
	b.WriteString(strings.ReplaceAll(msg.Body, "\n", "\r\n"))
	return []byte(b.String())
}

// LogSender writes messages to the log instead of delivering them.
// Used when no SMTP host is configured.
type LogSender struct{}

func (LogSender) Send(_ context.Context, msg Message) error {
	logger.Info("Mail to %s: %s\n%s", strings.Join(msg.To, ", "), msg.Subject, msg.Body)
	return nil
}

// ResetSubject is the subject line of password reset mail.
const ResetSubject = "Password Reset Request"

// ResetBody renders the password reset mail body for link, requested at now.
func ResetBody(link string, now time.Time) string {
	return fmt.Sprintf(`Hello,

We received a request to reset your password on %s.

To reset your password, please click the link below:
%s

If you did not request this, you can safely ignore this email.

Best regards,
HDB Resale Support Team
`, now.Format("2006-01-02 15:04:05"), link)
}
