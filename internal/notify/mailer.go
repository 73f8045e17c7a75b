package notify

import (
	"context"
	"fmt"
	"net"
	"net/smtp"
	"strconv"
	"strings"

	"github.com/iliyamo/account-service/internal/logging"
	"github.com/iliyamo/account-service/internal/queue"
)

// SMTPMailer delivers email through an SMTP relay with PLAIN auth.
type SMTPMailer struct {
	Host string
	Port int
	User string
	Pass string
	From string

	send func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

func NewSMTPMailer(host string, port int, user, pass, from string) *SMTPMailer {
	return &SMTPMailer{Host: host, Port: port, User: user, Pass: pass, From: from, send: smtp.SendMail}
}

func (m *SMTPMailer) Send(_ context.Context, msg queue.EmailMessage) error {
	var auth smtp.Auth
	if m.User != "" {
		auth = smtp.PlainAuth("", m.User, m.Pass, m.Host)
	}
	addr := net.JoinHostPort(m.Host, strconv.Itoa(m.Port))
	return m.send(addr, auth, m.From, []string{msg.To}, buildMIME(m.From, msg))
}

func buildMIME(from string, msg queue.EmailMessage) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", from)
	fmt.Fprintf(&b, "To: %s\r\n", msg.To)
	fmt.Fprintf(&b, "Subject: %s\r\n", msg.Subject)
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/html; charset=\"UTF-8\"\r\n\r\n")
	b.WriteString(msg.HTML)
	return []byte(b.String())
}

// LogMailer writes emails to the log instead of sending them.  Used when no
// SMTP host is configured.
type LogMailer struct{ Log logging.Logger }

func (m LogMailer) Send(ctx context.Context, msg queue.EmailMessage) error {
	m.Log.Info(ctx, "email (not sent, no SMTP host)", "kind", msg.Kind, "to", msg.To, "subject", msg.Subject)
	return nil
}
