package mailer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"

	"github.com/unclebandit/campaign-dispatch/internal/config"
)

var (
	ErrFailedToSend  = errors.New("failed to send email")
	ErrInvalidConfig = errors.New("invalid mailer configuration")
	ErrInvalidParams = errors.New("invalid email parameters")
)

// Sender delivers one rendered HTML email. The error text is stored on the
// recipient as is, so implementations keep it human readable.
type Sender interface {
	Deliver(ctx context.Context, to, subject, html string) error
}

// New picks the transport named by cfg.Driver.
func New(cfg config.MailConfig, logger *slog.Logger) (Sender, error) {
	switch cfg.Driver {
	case "smtp":
		return NewSMTPSender(SMTPConfig{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			Username: cfg.SMTPUser,
			Password: cfg.SMTPPass,
			TLSMode:  cfg.SMTPTLSMode,
			From:     cfg.From,
		})
	case "postmark":
		return NewPostmarkSender(PostmarkConfig{
			ServerToken:  cfg.PostmarkServerToken,
			AccountToken: cfg.PostmarkAccountToken,
			From:         cfg.From,
			ReplyTo:      cfg.PostmarkReplyTo,
			Tag:          cfg.PostmarkTag,
		})
	case "dev":
		return NewDevSender(cfg.DevDir), nil
	case "mock":
		return NewMockSender(cfg.MockFailureRate, logger), nil
	default:
		return nil, fmt.Errorf("%w: unknown driver %q", ErrInvalidConfig, cfg.Driver)
	}
}

func validate(to, subject string) error {
	if _, err := mail.ParseAddress(to); err != nil {
		return fmt.Errorf("%w: recipient %q: %v", ErrInvalidParams, to, err)
	}
	if subject == "" {
		return fmt.Errorf("%w: subject is required", ErrInvalidParams)
	}
	return nil
}
