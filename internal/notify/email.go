package notify

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"

	"beacon/internal/config"
	"beacon/internal/logger"
	"beacon/pkg/circuitbreaker"
	"beacon/pkg/retry"
)

// EmailSender delivers a notification email.
type EmailSender interface {
	Send(ctx context.Context, msg EmailMessage) error
}

// SMTPEmailSender sends over SMTP with STARTTLS and PLAIN auth.
type SMTPEmailSender struct {
	addr     string
	username string
	password string
	from     string
	breaker  *circuitbreaker.Wrapper
	logger   logger.Logger
}

func NewEmailSender(cfg config.EmailConfig, log logger.Logger) *SMTPEmailSender {
	return &SMTPEmailSender{
		addr:     net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		username: cfg.Username,
		password: cfg.Password,
		from:     cfg.From,
		breaker:  circuitbreaker.NewWrapper(circuitbreaker.DefaultConfig("smtp")),
		logger:   log,
	}
}

func (s *SMTPEmailSender) Send(ctx context.Context, msg EmailMessage) error {
	if s.addr == "" || s.addr == ":0" {
		return fmt.Errorf("smtp not configured")
	}
	if msg.To == "" {
		return fmt.Errorf("email recipient is empty")
	}

	raw := s.buildMessage(msg)

	return retry.Retry(ctx, retry.DeliveryPolicy(), func() error {
		_, err := s.breaker.ExecuteWithContext(ctx, func() (interface{}, error) {
			var auth sasl.Client
			if s.username != "" {
				auth = sasl.NewPlainClient("", s.username, s.password)
			}
			return nil, smtp.SendMail(s.addr, auth, s.from, []string{msg.To}, strings.NewReader(raw))
		})
		return err
	})
}

func (s *SMTPEmailSender) buildMessage(msg EmailMessage) string {
	var b strings.Builder

	fmt.Fprintf(&b, "From: %s\r\n", s.from)
	if msg.Name != "" {
		fmt.Fprintf(&b, "To: %s <%s>\r\n", msg.Name, msg.To)
	} else {
		fmt.Fprintf(&b, "To: %s\r\n", msg.To)
	}
	fmt.Fprintf(&b, "Subject: %s\r\n", msg.Subject)
	fmt.Fprintf(&b, "Date: %s\r\n", time.Now().Format(time.RFC1123Z))
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=utf-8\r\n")
	b.WriteString("\r\n")

	body := msg.Body
	if body == "" {
		body = msg.Subject
	}
	b.WriteString(body)
	b.WriteString("\r\n")
	if msg.Href != "" {
		fmt.Fprintf(&b, "\r\n%s\r\n", msg.Href)
	}

	return b.String()
}
