package campaign

import (
	"context"
	"errors"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"

	"wa-blast/internal/dispatch"
	"wa-blast/internal/humanize"
	"wa-blast/internal/metrics"
	"wa-blast/internal/repo"
)

var (
	// ErrNoRecipients indicates the bulk request listed no destinations.
	ErrNoRecipients = errors.New("no recipients")
	// ErrEmptyBody indicates the bulk request carried no message text.
	ErrEmptyBody = errors.New("empty message body")
)

// Sender transmits a single prepared message.
type Sender interface {
	Send(ctx context.Context, in dispatch.SendInput) (*dispatch.Result, error)
}

// BulkInput describes one bulk-send campaign.
type BulkInput struct {
	SessionID   string               `json:"sessionId"`
	Title       string               `json:"title"`
	Recipients  []string             `json:"recipients"`
	Body        string               `json:"body"`
	Attachment  *dispatch.Attachment `json:"attachment,omitempty"`
	DelayRange  string               `json:"delayRange"`
	OwnerUserID string               `json:"-"`
}

// BulkResult acknowledges campaign acceptance. Delivery continues in the
// background after the result is returned.
type BulkResult struct {
	CampaignID string `json:"campaignId"`
	Status     string `json:"status"`
	Total      int    `json:"total"`
}

// Scheduler launches campaigns and paces their per-recipient sends.
type Scheduler struct {
	sessions dispatch.Sessions
	sender   Sender
	store    repo.Store
	metrics  *metrics.Metrics
	logger   *slog.Logger
	variator *humanize.Variator

	mu    sync.Mutex
	rnd   *rand.Rand
	sleep func(time.Duration)
}

// NewScheduler builds a Scheduler. A nil rnd selects a time-seeded source.
func NewScheduler(sessions dispatch.Sessions, sender Sender, store repo.Store, m *metrics.Metrics, logger *slog.Logger, variator *humanize.Variator, rnd *rand.Rand) *Scheduler {
	if rnd == nil {
		rnd = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &Scheduler{
		sessions: sessions,
		sender:   sender,
		store:    store,
		metrics:  m,
		logger:   logger.With("component", "campaign"),
		variator: variator,
		rnd:      rnd,
		sleep:    time.Sleep,
	}
}

// SendBulk validates the request, registers the campaign and hands delivery
// to a background loop. The returned result only acknowledges acceptance.
func (s *Scheduler) SendBulk(ctx context.Context, in BulkInput) (*BulkResult, error) {
	if len(in.Recipients) == 0 {
		return nil, ErrNoRecipients
	}
	if in.Body == "" && in.Attachment == nil {
		return nil, ErrEmptyBody
	}
	if _, err := s.sessions.Handle(in.SessionID); err != nil {
		return nil, err
	}

	title := in.Title
	if title == "" {
		title = "campaign " + time.Now().UTC().Format(time.RFC3339)
	}
	c, err := s.store.InsertCampaign(ctx, repo.Campaign{ID: uuid.NewString(), Title: title})
	if err != nil {
		return nil, err
	}

	s.metrics.CampaignsStarted.Inc()
	s.logger.Info("campaign accepted",
		"campaign_id", c.ID, "session_id", in.SessionID, "recipients", len(in.Recipients))

	go s.run(c.ID, in)

	return &BulkResult{CampaignID: c.ID, Status: "PROCESSING", Total: len(in.Recipients)}, nil
}

// runRand derives a dedicated random source for one campaign loop so
// concurrent campaigns never share a Rand.
func (s *Scheduler) runRand() *rand.Rand {
	s.mu.Lock()
	defer s.mu.Unlock()
	return rand.New(rand.NewSource(s.rnd.Int63()))
}

// run delivers the campaign sequentially. Each recipient gets its own
// variation of the body and failures never stop the loop.
func (s *Scheduler) run(campaignID string, in BulkInput) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("campaign loop panic", "campaign_id", campaignID, "panic", r)
			s.metrics.Errors.WithLabelValues("campaign").Inc()
		}
	}()

	ctx := context.Background()
	rnd := s.runRand()
	sent, failed := 0, 0

	for i, recipient := range in.Recipients {
		if i > 0 {
			s.sleep(humanize.Delay(rnd, in.DelayRange))
		}

		res, err := s.sender.Send(ctx, dispatch.SendInput{
			SessionID:   in.SessionID,
			To:          recipient,
			Body:        s.variator.Apply(in.Body),
			Attachment:  in.Attachment,
			CampaignID:  campaignID,
			OwnerUserID: in.OwnerUserID,
		})
		switch {
		case err != nil:
			failed++
			s.logger.Warn("campaign send rejected",
				"campaign_id", campaignID, "recipient", recipient, "error", err)
		case res.Status == repo.MessageFailed:
			failed++
		default:
			sent++
		}
	}

	s.logger.Info("campaign complete",
		"campaign_id", campaignID, "sent", sent, "failed", failed)
}
