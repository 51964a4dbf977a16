package mailbox

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/FezaSmartContracts/betmimi/logging"
)

const (
	// MailsQueue holds user-facing notifications
	MailsQueue = "mails_queue"

	// AlertsQueue holds administrative alerts
	AlertsQueue = "alerts_queue"
)

// Mail is a single queued notification
type Mail struct {
	Recipients []string `json:"recipients"`
	Subject    string   `json:"subject"`
	Body       string   `json:"body"`
}

// Sender delivers a composed mail to its recipients
type Sender interface {
	Send(ctx context.Context, mail *Mail) error
}

// Manager queues outbound notifications in Redis and periodically drains
// both queues, batching mails that share a subject and body into a single
// send so one on-chain event fanning out to many recipients costs one
// delivery call.
type Manager struct {
	rdb    *redis.Client
	sender Sender
	logger zerolog.Logger

	stop chan struct{}
	done chan struct{}
}

// NewManager creates a mailbox manager
func NewManager(rdb *redis.Client, sender Sender, logger zerolog.Logger) *Manager {
	return &Manager{
		rdb:    rdb,
		sender: sender,
		logger: logger.With().Str(logging.FieldModule, "mailbox").Logger(),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
}

// PushMail queues a user notification
func (m *Manager) PushMail(ctx context.Context, mail *Mail) error {
	return m.push(ctx, MailsQueue, mail)
}

// PushAlert queues an administrative alert
func (m *Manager) PushAlert(ctx context.Context, mail *Mail) error {
	return m.push(ctx, AlertsQueue, mail)
}

func (m *Manager) push(ctx context.Context, queue string, mail *Mail) error {
	payload, err := json.Marshal(mail)
	if err != nil {
		return fmt.Errorf("failed to encode mail: %v", err)
	}

	if err := m.rdb.RPush(ctx, queue, payload).Err(); err != nil {
		return fmt.Errorf("failed to queue mail: %v", err)
	}

	m.logger.Debug().
		Str(logging.FieldQueue, queue).
		Str("subject", mail.Subject).
		Msg("Mail queued")
	return nil
}

// ProcessQueued drains both queues, groups the drained mails and sends each
// group. Mails whose send fails are pushed back for the next cycle.
func (m *Manager) ProcessQueued(ctx context.Context) error {
	for _, queue := range []string{MailsQueue, AlertsQueue} {
		if err := m.processQueue(ctx, queue); err != nil {
			return err
		}
	}
	return nil
}

func (m *Manager) processQueue(ctx context.Context, queue string) error {
	var mails []*Mail
	for {
		payload, err := m.rdb.LPop(ctx, queue).Result()
		if err == redis.Nil {
			break
		}
		if err != nil {
			return fmt.Errorf("failed to drain queue %s: %v", queue, err)
		}

		var mail Mail
		if err := json.Unmarshal([]byte(payload), &mail); err != nil {
			m.logger.Error().Err(err).Str(logging.FieldQueue, queue).Msg("Dropping undecodable mail")
			continue
		}
		mails = append(mails, &mail)
	}

	if len(mails) == 0 {
		return nil
	}

	for _, grouped := range groupMails(mails) {
		if m.sender == nil {
			m.logger.Info().
				Str(logging.FieldQueue, queue).
				Str("subject", grouped.Subject).
				Int("recipients", len(grouped.Recipients)).
				Msg("No mail sender configured, dropping mail")
			continue
		}
		if err := m.sender.Send(ctx, grouped); err != nil {
			m.logger.Error().Err(err).
				Str(logging.FieldQueue, queue).
				Str("subject", grouped.Subject).
				Msg("Failed to send mail, requeueing")
			if pushErr := m.push(ctx, queue, grouped); pushErr != nil {
				return pushErr
			}
			continue
		}
		m.logger.Info().
			Str(logging.FieldQueue, queue).
			Str("subject", grouped.Subject).
			Int("recipients", len(grouped.Recipients)).
			Msg("Mail sent")
	}
	return nil
}

// groupMails merges mails with identical subject and body, deduplicating
// recipients while keeping first-seen order.
func groupMails(mails []*Mail) []*Mail {
	var order []string
	groups := make(map[string]*Mail)
	seen := make(map[string]map[string]bool)

	for _, mail := range mails {
		key := mail.Subject + "\x00" + mail.Body
		group, ok := groups[key]
		if !ok {
			group = &Mail{Subject: mail.Subject, Body: mail.Body}
			groups[key] = group
			seen[key] = make(map[string]bool)
			order = append(order, key)
		}
		for _, recipient := range mail.Recipients {
			if !seen[key][recipient] {
				seen[key][recipient] = true
				group.Recipients = append(group.Recipients, recipient)
			}
		}
	}

	grouped := make([]*Mail, 0, len(order))
	for _, key := range order {
		grouped = append(grouped, groups[key])
	}
	return grouped
}

// Start drains the queues on a fixed interval until Stop is called
func (m *Manager) Start(interval time.Duration) {
	go func() {
		defer close(m.done)

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-m.stop:
				return
			case <-ticker.C:
				ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
				if err := m.ProcessQueued(ctx); err != nil {
					m.logger.Error().Err(err).Msg("Failed to process mail queues")
				}
				cancel()
			}
		}
	}()

	m.logger.Info().Dur("interval", interval).Msg("Mailbox manager started")
}

// Stop halts the drain loop and waits for the in-progress cycle to finish
func (m *Manager) Stop() {
	close(m.stop)
	<-m.done
}
