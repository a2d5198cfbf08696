package utils

import (
	"crypto/tls"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	"github.com/emersion/go-message/mail"

	"bison/internal/config"
)

// FetchedMail is one message pulled from the IMAP mailbox.
type FetchedMail struct {
	MessageID string
	From      string
	To        string
	Subject   string
	BodyText  string
	BodyHTML  string
	Date      time.Time
}

// FetchUnseen connects to the configured IMAP server, collects all unseen
// messages from the mailbox and returns them parsed. Messages are fetched
// with BODY.PEEK so the \Seen flag is only set once storage succeeded and
// the caller marks them.
func FetchUnseen(cfg config.IMAPConfig) ([]FetchedMail, error) {
	c, err := dial(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to IMAP server: %w", err)
	}
	defer c.Logout()

	if err := c.Login(cfg.Username, cfg.Password); err != nil {
		return nil, fmt.Errorf("failed to login to IMAP server: %w", err)
	}

	mailbox := cfg.Mailbox
	if mailbox == "" {
		mailbox = "INBOX"
	}
	if _, err := c.Select(mailbox, false); err != nil {
		return nil, fmt.Errorf("failed to select mailbox %s: %w", mailbox, err)
	}

	criteria := imap.NewSearchCriteria()
	criteria.WithoutFlags = []string{imap.SeenFlag}
	ids, err := c.Search(criteria)
	if err != nil {
		return nil, fmt.Errorf("failed to search messages: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	seqset := new(imap.SeqSet)
	seqset.AddNum(ids...)

	messages := make(chan *imap.Message, 10)
	done := make(chan error, 1)
	go func() {
		done <- c.Fetch(seqset, []imap.FetchItem{imap.FetchEnvelope, imap.FetchItem("BODY.PEEK[]")}, messages)
	}()

	var fetched []FetchedMail
	for msg := range messages {
		parsed, err := parseMessage(msg)
		if err != nil {
			// A single unparsable message should not abort the batch.
			continue
		}
		fetched = append(fetched, *parsed)
	}

	if err := <-done; err != nil {
		return fetched, fmt.Errorf("error during fetch: %w", err)
	}

	// Mark the batch seen only after every message was handed back.
	item := imap.FormatFlagsOp(imap.AddFlags, true)
	if err := c.Store(seqset, item, []interface{}{imap.SeenFlag}, nil); err != nil {
		return fetched, fmt.Errorf("failed to mark messages seen: %w", err)
	}

	return fetched, nil
}

func dial(cfg config.IMAPConfig) (*client.Client, error) {
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	tlsConfig := &tls.Config{ServerName: cfg.Host}

	switch strings.ToUpper(cfg.Encryption) {
	case "SSL", "TLS":
		return client.DialTLS(addr, tlsConfig)
	case "STARTTLS":
		c, err := client.Dial(addr)
		if err != nil {
			return nil, err
		}
		if err := c.StartTLS(tlsConfig); err != nil {
			return nil, err
		}
		return c, nil
	default:
		return client.Dial(addr)
	}
}

func parseMessage(msg *imap.Message) (*FetchedMail, error) {
	if msg.Envelope == nil {
		return nil, fmt.Errorf("message %d has no envelope", msg.SeqNum)
	}

	parsed := &FetchedMail{
		MessageID: msg.Envelope.MessageId,
		Subject:   msg.Envelope.Subject,
		From:      formatAddresses(msg.Envelope.From),
		To:        formatAddresses(msg.Envelope.To),
		Date:      msg.Envelope.Date,
	}

	literal := msg.GetBody(&imap.BodySectionName{Peek: true})
	if literal == nil {
		literal = msg.GetBody(&imap.BodySectionName{})
	}
	if literal == nil {
		return parsed, nil
	}

	mr, err := mail.CreateReader(literal)
	if err != nil {
		return nil, fmt.Errorf("failed to create message reader: %w", err)
	}

	for {
		p, err := mr.NextPart()
		if err == io.EOF {
			break
		} else if err != nil {
			return nil, fmt.Errorf("failed to read next part: %w", err)
		}

		if h, ok := p.Header.(*mail.InlineHeader); ok {
			contentType, _, _ := h.ContentType()
			b, err := io.ReadAll(p.Body)
			if err != nil {
				return nil, fmt.Errorf("failed to read body part: %w", err)
			}
			if strings.Contains(contentType, "text/html") {
				parsed.BodyHTML = string(b)
			} else if strings.Contains(contentType, "text/plain") {
				parsed.BodyText = string(b)
			}
		}
	}

	return parsed, nil
}

func formatAddresses(addrs []*imap.Address) string {
	var out []string
	for _, a := range addrs {
		out = append(out, a.Address())
	}
	return strings.Join(out, ", ")
}
