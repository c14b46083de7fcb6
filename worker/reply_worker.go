package worker

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"log"
	"strings"
	"time"

	"salesloop/config"
	"salesloop/models"
	"salesloop/utils"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	"github.com/emersion/go-message/mail"
)

// ReplyWorker polls an IMAP mailbox for inbound email replies and
// feeds them through the shared reply pipeline, so email answers get
// the same enrollment/scoring/classification treatment as webhook
// messages.
type ReplyWorker struct {
	Config    config.IMAPConfig
	Processor *utils.ReplyProcessor
	Logger    *log.Logger

	Interval time.Duration
}

func NewReplyWorker(cfg config.IMAPConfig, processor *utils.ReplyProcessor, logger *log.Logger) *ReplyWorker {
	return &ReplyWorker{
		Config:    cfg,
		Processor: processor,
		Logger:    logger,
		Interval:  5 * time.Minute,
	}
}

func (rw *ReplyWorker) Start(ctx context.Context) {
	rw.Logger.Println("Reply worker started")
	ticker := time.NewTicker(rw.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			rw.Logger.Println("Reply worker shutting down...")
			return
		case <-ticker.C:
			if err := rw.fetchReplies(); err != nil {
				rw.Logger.Printf("Reply fetch failed: %v", err)
			}
		}
	}
}

// fetchReplies connects, pulls unseen messages and hands each one to
// the processor. Messages are fetched with BODY.PEEK so a processing
// failure leaves them unseen for the next pass; successfully handled
// ones are flagged seen.
func (rw *ReplyWorker) fetchReplies() error {
	addr := fmt.Sprintf("%s:%d", rw.Config.Host, rw.Config.Port)
	imapClient, err := client.DialTLS(addr, &tls.Config{ServerName: rw.Config.Host})
	if err != nil {
		return fmt.Errorf("failed to connect to IMAP server: %v", err)
	}
	defer imapClient.Logout()

	if err := imapClient.Login(rw.Config.Username, rw.Config.Password); err != nil {
		return fmt.Errorf("failed to login to IMAP server: %v", err)
	}

	mailbox := rw.Config.Mailbox
	if mailbox == "" {
		mailbox = "INBOX"
	}
	if _, err := imapClient.Select(mailbox, false); err != nil {
		return fmt.Errorf("failed to select mailbox: %v", err)
	}

	criteria := imap.NewSearchCriteria()
	criteria.WithoutFlags = []string{"\\Seen"}
	ids, err := imapClient.Search(criteria)
	if err != nil {
		return fmt.Errorf("failed to search messages: %v", err)
	}
	if len(ids) == 0 {
		return nil
	}

	seqset := new(imap.SeqSet)
	seqset.AddNum(ids...)

	messages := make(chan *imap.Message, 10)
	done := make(chan error, 1)
	go func() {
		done <- imapClient.Fetch(seqset, []imap.FetchItem{imap.FetchEnvelope, imap.FetchItem("BODY.PEEK[]")}, messages)
	}()

	handled := new(imap.SeqSet)
	for msg := range messages {
		if err := rw.processMessage(msg); err != nil {
			rw.Logger.Printf("Failed to process message %d: %v", msg.SeqNum, err)
			continue
		}
		handled.AddNum(msg.SeqNum)
	}

	if err := <-done; err != nil {
		return fmt.Errorf("error during fetch: %v", err)
	}

	if !handled.Empty() {
		item := imap.FormatFlagsOp(imap.AddFlags, true)
		if err := imapClient.Store(handled, item, []interface{}{imap.SeenFlag}, nil); err != nil {
			rw.Logger.Printf("Failed to mark messages seen: %v", err)
		}
	}
	return nil
}

func (rw *ReplyWorker) processMessage(msg *imap.Message) error {
	if msg.Envelope == nil || len(msg.Envelope.From) == 0 {
		return fmt.Errorf("message has no sender envelope")
	}
	from := msg.Envelope.From[0].Address()

	// Skip our own outbound copies
	if strings.EqualFold(from, rw.Config.Username) {
		return nil
	}

	body, err := extractTextBody(msg)
	if err != nil {
		return err
	}

	inbound := models.InboundMessage{
		Platform:  "email",
		From:      from,
		MessageID: msg.Envelope.MessageId,
		Text:      body,
		Type:      "text",
		Timestamp: msg.Envelope.Date,
	}
	return rw.Processor.HandleInbound(context.Background(), &inbound)
}

// extractTextBody walks the MIME parts, preferring text/plain over
// text/html.
func extractTextBody(msg *imap.Message) (string, error) {
	if msg.Body == nil {
		return "", fmt.Errorf("message body not found")
	}
	section := imap.BodySectionName{}
	literal, ok := msg.Body[&section]
	if !ok {
		return "", fmt.Errorf("message body not found")
	}

	mr, err := mail.CreateReader(literal)
	if err != nil {
		return "", fmt.Errorf("failed to create message reader: %v", err)
	}

	var plain, html string
	for {
		p, err := mr.NextPart()
		if err == io.EOF {
			break
		} else if err != nil {
			return "", fmt.Errorf("failed to read next part: %v", err)
		}

		if h, ok := p.Header.(*mail.InlineHeader); ok {
			contentType, _, _ := h.ContentType()
			b, err := io.ReadAll(p.Body)
			if err != nil {
				return "", fmt.Errorf("failed to read body: %v", err)
			}
			if strings.Contains(contentType, "text/plain") {
				plain = string(b)
			} else if strings.Contains(contentType, "text/html") {
				html = string(b)
			}
		}
	}

	if plain != "" {
		return plain, nil
	}
	return html, nil
}
