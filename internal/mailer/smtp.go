package mailer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"
	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"bison/internal/config"
	"bison/internal/utils/logger"
)

// SMTPSender delivers mail through a single SMTP relay. Sends are paced
// with a token-bucket limiter to respect the relay's rate limits.
type SMTPSender struct {
	cfg     config.SMTPConfig
	limiter *rate.Limiter
	log     *logger.Logger
}

func NewSMTPSender(cfg config.SMTPConfig) *SMTPSender {
	sendRate := cfg.SendRate
	if sendRate <= 0 {
		sendRate = 10
	}
	return &SMTPSender{
		cfg:     cfg,
		limiter: rate.NewLimiter(rate.Limit(sendRate), sendRate),
		log:     logger.New("SMTP"),
	}
}

// Send composes and submits one message. SMTP 5xx replies are permanent;
// everything else (connectivity, 4xx) is transient and retried by the
// caller.
func (s *SMTPSender) Send(ctx context.Context, to, subject, body string) (*Result, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return nil, Transient(err)
	}

	messageID := fmt.Sprintf("<%s@%s>", uuid.New().String(), s.cfg.Host)
	msg := strings.NewReader(
		"From: " + s.cfg.From + "\r\n" +
			"To: " + to + "\r\n" +
			"Subject: " + subject + "\r\n" +
			"Message-ID: " + messageID + "\r\n" +
			"MIME-Version: 1.0\r\n" +
			"Content-Type: text/html; charset=UTF-8\r\n" +
			"\r\n" +
			body,
	)

	auth := sasl.NewPlainClient("", s.cfg.Username, s.cfg.Password)
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)

	if err := smtp.SendMail(addr, auth, s.cfg.From, []string{to}, msg); err != nil {
		return nil, classify(err)
	}

	s.log.Debug("sent message %s to %s", messageID, to)
	return &Result{MessageID: messageID, SentAt: time.Now()}, nil
}

func classify(err error) error {
	var smtpErr *smtp.SMTPError
	if errors.As(err, &smtpErr) && smtpErr.Code >= 500 {
		return Permanent(err)
	}
	return Transient(err)
}
