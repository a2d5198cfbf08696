package workers

import (
	"context"

	"bison/internal/config"
	"bison/internal/services"
	"bison/internal/utils"
	"bison/internal/utils/logger"
)

// InboxSync pulls unseen messages from the configured IMAP mailbox into
// the mail store's inbox folder. Disabled when no IMAP host is set.
type InboxSync struct {
	cfg    config.IMAPConfig
	emails *services.EmailService
	log    *logger.Logger
}

func NewInboxSync(cfg config.IMAPConfig, emails *services.EmailService) *InboxSync {
	return &InboxSync{
		cfg:    cfg,
		emails: emails,
		log:    logger.New("INBOX"),
	}
}

// Enabled reports whether an IMAP endpoint is configured.
func (w *InboxSync) Enabled() bool {
	return w.cfg.Host != ""
}

// Sync fetches and stores one batch of unseen messages. Duplicates
// (by Message-ID) are skipped so re-delivery is harmless.
func (w *InboxSync) Sync(ctx context.Context) error {
	if !w.Enabled() {
		return nil
	}

	fetched, err := utils.FetchUnseen(w.cfg)
	if err != nil {
		return w.log.Error("inbox fetch failed", err)
	}
	if len(fetched) == 0 {
		return nil
	}

	stored := 0
	for _, m := range fetched {
		created, err := w.emails.StoreInbound(ctx, m)
		if err != nil {
			w.log.Warn("failed to store message %s: %v", m.MessageID, err)
			continue
		}
		if created {
			stored++
		}
	}
	w.log.Info("inbox sync stored %d of %d fetched message(s)", stored, len(fetched))
	return nil
}
