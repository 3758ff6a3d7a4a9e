// Package worker holds the background loops that run beside the HTTP
// surface.
package worker

import (
	"context"
	"fmt"
	"io"
	"log"
	"regexp"
	"strings"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	"github.com/emersion/go-message/mail"

	"phishgrid/config"
	"phishgrid/models"
	"phishgrid/phishing"
	"phishgrid/utils"
)

// refPattern finds a correlation ref inside a forwarded lure link. The
// original message travels inside the user's report, so the link survives
// verbatim in at least one part.
var refPattern = regexp.MustCompile(`ref=([A-Za-z0-9]{16})`)

// ReportWatcher polls a shared mailbox where users forward suspected
// phishing mails and turns recognized lures into report events.
type ReportWatcher struct {
	cfg        config.ReportMailboxConfig
	correlator *phishing.EventCorrelator
	logger     *log.Logger
}

func NewReportWatcher(cfg config.ReportMailboxConfig, correlator *phishing.EventCorrelator) *ReportWatcher {
	return &ReportWatcher{
		cfg:        cfg,
		correlator: correlator,
		logger:     log.New(log.Writer(), "[report-watcher] ", log.LstdFlags),
	}
}

// Start polls until the context is cancelled. One failed poll is logged and
// retried on the next tick; the mailbox being down must not take the engine
// with it.
func (w *ReportWatcher) Start(ctx context.Context) {
	w.logger.Printf("watching %s/%s every %s", w.cfg.Host, w.cfg.Folder, w.cfg.PollInterval)

	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.logger.Println("report watcher stopped")
			return
		case <-ticker.C:
			if err := w.poll(); err != nil {
				w.logger.Printf("mailbox poll failed: %v", err)
			}
		}
	}
}

func (w *ReportWatcher) poll() error {
	c, err := client.DialTLS(fmt.Sprintf("%s:%d", w.cfg.Host, w.cfg.Port), nil)
	if err != nil {
		return fmt.Errorf("failed to connect to report mailbox: %w", err)
	}
	defer c.Logout()

	if err := c.Login(w.cfg.Username, w.cfg.Password); err != nil {
		return fmt.Errorf("report mailbox login failed: %w", err)
	}
	if _, err := c.Select(w.cfg.Folder, false); err != nil {
		return fmt.Errorf("failed to select folder %s: %w", w.cfg.Folder, err)
	}

	criteria := imap.NewSearchCriteria()
	criteria.WithoutFlags = []string{imap.SeenFlag}
	ids, err := c.Search(criteria)
	if err != nil {
		return fmt.Errorf("mailbox search failed: %w", err)
	}
	if len(ids) == 0 {
		return nil
	}

	seqset := new(imap.SeqSet)
	seqset.AddNum(ids...)

	section := &imap.BodySectionName{}
	messages := make(chan *imap.Message, 10)
	done := make(chan error, 1)
	go func() {
		done <- c.Fetch(seqset, []imap.FetchItem{imap.FetchEnvelope, section.FetchItem()}, messages)
	}()

	reported := new(imap.SeqSet)
	for msg := range messages {
		if w.handleMessage(msg, section) {
			reported.AddNum(msg.SeqNum)
		}
	}
	if err := <-done; err != nil {
		return fmt.Errorf("mailbox fetch failed: %w", err)
	}

	if w.cfg.DeleteReported && !reported.Empty() {
		item := imap.FormatFlagsOp(imap.AddFlags, true)
		if err := c.Store(reported, item, []interface{}{imap.DeletedFlag}, nil); err != nil {
			return fmt.Errorf("failed to flag reported messages: %w", err)
		}
		if err := c.Expunge(nil); err != nil {
			return fmt.Errorf("failed to expunge reported messages: %w", err)
		}
	}
	return nil
}

// handleMessage scans one reported mail for lure refs and records a report
// event per recognized ref. Returns true if at least one ref correlated.
func (w *ReportWatcher) handleMessage(msg *imap.Message, section *imap.BodySectionName) bool {
	sender := ""
	if msg.Envelope != nil && len(msg.Envelope.From) > 0 {
		sender = msg.Envelope.From[0].Address()
	}

	if w.cfg.RestrictDomain != "" {
		if !strings.HasSuffix(strings.ToLower(sender), "@"+strings.ToLower(w.cfg.RestrictDomain)) {
			return false
		}
	}

	body := msg.GetBody(section)
	if body == nil {
		return false
	}

	matched := false
	for _, ref := range w.extractRefs(body) {
		campaignKey, targetKey, ok := utils.SplitRef(ref)
		if !ok {
			continue
		}
		accepted, err := w.correlator.HandleEvent(campaignKey, targetKey, models.EventReport, &models.ReportPayload{
			Source: sender,
		}, phishing.CallerWeb)
		if err != nil {
			continue // stale or foreign ref, not ours to count
		}
		matched = true
		if accepted {
			w.logger.Printf("report recorded for %s/%s from %s", campaignKey, targetKey, sender)
		}
	}
	return matched
}

// extractRefs walks every text part of the message, forwarded attachments
// included, and collects the distinct refs it finds.
func (w *ReportWatcher) extractRefs(body io.Reader) []string {
	mr, err := mail.CreateReader(body)
	if err != nil {
		return nil
	}

	seen := make(map[string]struct{})
	var refs []string
	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			break
		}

		content, err := io.ReadAll(part.Body)
		if err != nil {
			continue
		}
		for _, match := range refPattern.FindAllStringSubmatch(string(content), -1) {
			ref := match[1]
			if _, dup := seen[ref]; dup {
				continue
			}
			seen[ref] = struct{}{}
			refs = append(refs, ref)
		}
	}
	return refs
}
