// Package email polls the removal mailbox over IMAP for broker
// confirmation messages and pulls the confirmation link out of them.
package email

import (
	"context"
	"fmt"
	"io"
	"regexp"
	"strings"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	"github.com/emersion/go-message/mail"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/expunge/internal/models"
)

// Config holds the mailbox connection settings.
type Config struct {
	Host         string
	Port         int
	Username     string
	Password     string
	UseTLS       bool
	Address      string
	PollInterval time.Duration
	Retries      int
}

// Service reads the removal mailbox. One service instance serves every
// broker; messages are matched on the recipient address.
type Service struct {
	config Config
	logger arbor.ILogger
}

// NewService creates an email confirmation reader.
func NewService(config Config, logger arbor.ILogger) *Service {
	if config.PollInterval <= 0 {
		config.PollInterval = 30 * time.Second
	}
	if config.Retries <= 0 {
		config.Retries = 10
	}
	if config.Port == 0 {
		config.Port = 993
	}
	return &Service{config: config, logger: logger}
}

// Address returns the mailbox address opt-out forms are filled with.
func (s *Service) Address() string {
	return s.config.Address
}

// Configured reports whether the mailbox settings are usable.
func (s *Service) Configured() bool {
	return s.config.Host != "" && s.config.Username != "" && s.config.Password != ""
}

// GetConfirmationLink polls the mailbox until a confirmation message for
// the address arrives, then returns the link it carries. Zero retries or
// interval fall back to the configured defaults.
func (s *Service) GetConfirmationLink(ctx context.Context, address string, retries int, interval time.Duration) (string, error) {
	if !s.Configured() {
		return "", models.Classified(models.ErrorKindEmail, fmt.Errorf("mailbox not configured"))
	}
	if retries <= 0 {
		retries = s.config.Retries
	}
	if interval <= 0 {
		interval = s.config.PollInterval
	}
	if address == "" {
		address = s.config.Address
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for attempt := 0; attempt < retries; attempt++ {
		select {
		case <-ctx.Done():
			return "", models.Classified(models.ErrorKindEmail, ctx.Err())
		case <-ticker.C:
		}

		link, err := s.fetchConfirmationLink(address)
		if err != nil {
			s.logger.Warn().Err(err).Int("attempt", attempt+1).Msg("Mailbox poll failed")
			continue
		}
		if link != "" {
			return link, nil
		}
	}

	return "", models.Classified(models.ErrorKindEmail, fmt.Errorf("no confirmation message after %d polls", retries))
}

// fetchConfirmationLink checks unseen messages for a confirmation link
// and marks the message seen when one is found.
func (s *Service) fetchConfirmationLink(address string) (string, error) {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)

	var c *client.Client
	var err error
	if s.config.UseTLS {
		c, err = client.DialTLS(addr, nil)
	} else {
		c, err = client.Dial(addr)
	}
	if err != nil {
		return "", fmt.Errorf("failed to connect to IMAP server: %w", err)
	}
	defer c.Logout()

	if err := c.Login(s.config.Username, s.config.Password); err != nil {
		return "", fmt.Errorf("IMAP login failed: %w", err)
	}

	mbox, err := c.Select("INBOX", false)
	if err != nil {
		return "", fmt.Errorf("failed to select INBOX: %w", err)
	}
	if mbox.Messages == 0 {
		return "", nil
	}

	criteria := imap.NewSearchCriteria()
	criteria.WithoutFlags = []string{imap.SeenFlag}
	seqNums, err := c.Search(criteria)
	if err != nil {
		return "", fmt.Errorf("failed to search for unseen messages: %w", err)
	}
	if len(seqNums) == 0 {
		return "", nil
	}

	seqSet := new(imap.SeqSet)
	seqSet.AddNum(seqNums...)

	section := &imap.BodySectionName{}
	messages := make(chan *imap.Message, len(seqNums))
	done := make(chan error, 1)
	go func() {
		done <- c.Fetch(seqSet, []imap.FetchItem{imap.FetchEnvelope, section.FetchItem()}, messages)
	}()

	var link string
	var matchedSeq uint32
	for msg := range messages {
		if msg == nil || link != "" {
			continue
		}
		if !addressedTo(msg, address) {
			continue
		}

		body, err := readBody(msg, section)
		if err != nil {
			s.logger.Warn().Err(err).Int64("seq", int64(msg.SeqNum)).Msg("Failed to read message body")
			continue
		}

		if l := ExtractConfirmationLink(body); l != "" {
			link = l
			matchedSeq = msg.SeqNum
		}
	}

	if err := <-done; err != nil {
		return "", fmt.Errorf("failed to fetch messages: %w", err)
	}

	if link != "" && matchedSeq != 0 {
		markSet := new(imap.SeqSet)
		markSet.AddNum(matchedSeq)
		item := imap.FormatFlagsOp(imap.AddFlags, true)
		if err := c.Store(markSet, item, []interface{}{imap.SeenFlag}, nil); err != nil {
			s.logger.Warn().Err(err).Int64("seq", int64(matchedSeq)).Msg("Failed to mark message seen")
		}
	}

	return link, nil
}

func addressedTo(msg *imap.Message, address string) bool {
	if address == "" || msg.Envelope == nil {
		return true
	}
	for _, to := range msg.Envelope.To {
		if strings.EqualFold(to.Address(), address) {
			return true
		}
	}
	return false
}

func readBody(msg *imap.Message, section *imap.BodySectionName) (string, error) {
	r := msg.GetBody(section)
	if r == nil {
		return "", fmt.Errorf("message has no body section")
	}

	mr, err := mail.CreateReader(r)
	if err != nil {
		return "", fmt.Errorf("failed to create mail reader: %w", err)
	}

	var sb strings.Builder
	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", fmt.Errorf("failed to read mail part: %w", err)
		}
		if _, ok := part.Header.(*mail.InlineHeader); ok {
			if _, err := io.Copy(&sb, part.Body); err != nil {
				return "", fmt.Errorf("failed to read part body: %w", err)
			}
		}
	}
	return sb.String(), nil
}

// confirmationLinkPattern matches links whose path or parameters signal a
// removal confirmation. Brokers phrase these differently but the URLs
// consistently carry one of these markers.
var confirmationLinkPattern = regexp.MustCompile(`https?://[^\s"'<>]*(?:confirm|verify|opt[-_]?out|removal)[^\s"'<>]*`)

// ExtractConfirmationLink returns the first confirmation-looking link in
// the message body, HTML or plain text.
func ExtractConfirmationLink(body string) string {
	match := confirmationLinkPattern.FindString(body)
	return strings.TrimRight(match, ".,;)")
}
