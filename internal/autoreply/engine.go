package autoreply

import (
	"context"
	"errors"
	"log/slog"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"wa-blast/internal/cache"
	"wa-blast/internal/dispatch"
	"wa-blast/internal/humanize"
	"wa-blast/internal/metrics"
	"wa-blast/internal/repo"
	"wa-blast/internal/wa"
)

// ErrNoTriggerWords indicates a rule set was submitted without any triggers.
var ErrNoTriggerWords = errors.New("rule set has no trigger words")

// ErrNoReplyRules indicates a rule set was submitted without any replies.
var ErrNoReplyRules = errors.New("rule set has no reply rules")

const (
	ruleCachePrefix = "autoreply:ruleset:"
	ruleCacheTTL    = 5 * time.Minute
)

// Sender transmits the chosen reply.
type Sender interface {
	Send(ctx context.Context, in dispatch.SendInput) (*dispatch.Result, error)
}

// RuleInput describes one campaign's auto-reply configuration.
type RuleInput struct {
	TriggerWords    []string         `json:"triggerWords"`
	ReplyRules      []repo.ReplyRule `json:"replyRules"`
	ReplyDelayRange string           `json:"replyDelayRange"`
}

// Engine matches inbound messages against campaign-scoped reply rules.
type Engine struct {
	store   repo.Store
	cache   *cache.Redis
	sender  Sender
	metrics *metrics.Metrics
	logger  *slog.Logger

	mu    sync.Mutex
	rnd   *rand.Rand
	sleep func(time.Duration)
}

// NewEngine builds an auto-reply Engine. The cache may be nil, in which case
// every lookup goes to the store.
func NewEngine(store repo.Store, c *cache.Redis, sender Sender, m *metrics.Metrics, logger *slog.Logger, rnd *rand.Rand) *Engine {
	if rnd == nil {
		rnd = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &Engine{
		store:   store,
		cache:   c,
		sender:  sender,
		metrics: m,
		logger:  logger.With("component", "autoreply"),
		rnd:     rnd,
		sleep:   time.Sleep,
	}
}

// UpsertRule stores the rule set for a campaign, replacing any previous one,
// and drops the cached copy.
func (e *Engine) UpsertRule(ctx context.Context, campaignID string, in RuleInput) (*repo.AutoReplyRuleSet, error) {
	if len(in.TriggerWords) == 0 {
		return nil, ErrNoTriggerWords
	}
	if len(in.ReplyRules) == 0 {
		return nil, ErrNoReplyRules
	}

	rs, err := e.store.UpsertRuleSet(ctx, repo.AutoReplyRuleSet{
		ID:              uuid.NewString(),
		CampaignID:      campaignID,
		TriggerWords:    in.TriggerWords,
		ReplyRules:      in.ReplyRules,
		ReplyDelayRange: in.ReplyDelayRange,
	})
	if err != nil {
		return nil, err
	}

	if e.cache != nil {
		if err := e.cache.Delete(ctx, ruleCachePrefix+campaignID); err != nil {
			e.logger.Warn("rule cache invalidation failed", "campaign_id", campaignID, "error", err)
		}
	}

	e.logger.Info("auto-reply rules updated",
		"campaign_id", campaignID, "triggers", len(in.TriggerWords), "rules", len(in.ReplyRules))
	return rs, nil
}

// OnInbound evaluates an incoming message against the rules of the most
// recent campaign that targeted the sender, replying when a trigger matches.
func (e *Engine) OnInbound(ctx context.Context, sessionID string, msg wa.Inbound) {
	if msg.FromSelf || strings.TrimSpace(msg.Text) == "" {
		return
	}

	campaignID, err := e.store.LatestCampaignForRecipient(ctx, msg.Sender)
	if err != nil {
		e.logger.Warn("campaign lookup failed", "sender", msg.Sender, "error", err)
		e.metrics.Errors.WithLabelValues("autoreply").Inc()
		return
	}
	if campaignID == "" {
		e.metrics.AutoReplies.WithLabelValues("no_rule").Inc()
		return
	}

	rs, err := e.ruleSet(ctx, campaignID)
	if err != nil {
		e.logger.Warn("rule set lookup failed", "campaign_id", campaignID, "error", err)
		e.metrics.Errors.WithLabelValues("autoreply").Inc()
		return
	}
	if rs == nil {
		e.metrics.AutoReplies.WithLabelValues("no_rule").Inc()
		return
	}

	if !triggered(msg.Text, rs.TriggerWords) {
		e.metrics.AutoReplies.WithLabelValues("no_match").Inc()
		return
	}

	reply, ok := selectReply(msg.Text, rs.ReplyRules)
	if !ok {
		e.metrics.AutoReplies.WithLabelValues("no_match").Inc()
		return
	}

	e.sleep(e.replyDelay(rs.ReplyDelayRange))

	res, err := e.sender.Send(ctx, dispatch.SendInput{
		SessionID:  sessionID,
		To:         msg.Sender,
		Body:       reply,
		CampaignID: campaignID,
	})
	if err != nil {
		e.logger.Warn("auto-reply send rejected",
			"campaign_id", campaignID, "sender", msg.Sender, "error", err)
		e.metrics.Errors.WithLabelValues("autoreply").Inc()
		return
	}

	e.metrics.AutoReplies.WithLabelValues("sent").Inc()
	e.logger.Info("auto-reply sent",
		"campaign_id", campaignID, "recipient", msg.Sender, "message_id", res.MessageID)
}

// replyDelay draws the pre-reply pause. Inbound messages are handled on
// separate goroutines, so draws from the shared Rand are serialized.
func (e *Engine) replyDelay(spec string) time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()
	return humanize.Delay(e.rnd, spec)
}

func (e *Engine) ruleSet(ctx context.Context, campaignID string) (*repo.AutoReplyRuleSet, error) {
	key := ruleCachePrefix + campaignID

	if e.cache != nil {
		var cached repo.AutoReplyRuleSet
		found, err := e.cache.GetJSON(ctx, key, &cached)
		if err != nil {
			e.logger.Warn("rule cache read failed", "campaign_id", campaignID, "error", err)
		} else if found {
			return &cached, nil
		}
	}

	rs, err := e.store.GetRuleSetByCampaign(ctx, campaignID)
	if err != nil || rs == nil {
		return rs, err
	}

	if e.cache != nil {
		if err := e.cache.SetJSON(ctx, key, rs, ruleCacheTTL); err != nil {
			e.logger.Warn("rule cache write failed", "campaign_id", campaignID, "error", err)
		}
	}
	return rs, nil
}

// triggered reports whether any trigger word occurs in the text,
// case-insensitively.
func triggered(text string, triggers []string) bool {
	lower := strings.ToLower(text)
	for _, t := range triggers {
		t = strings.ToLower(strings.TrimSpace(t))
		if t != "" && strings.Contains(lower, t) {
			return true
		}
	}
	return false
}

// selectReply picks the reply whose match text equals the message, falling
// back to the first substring match.
func selectReply(text string, rules []repo.ReplyRule) (string, bool) {
	trimmed := strings.TrimSpace(text)
	for _, r := range rules {
		if strings.EqualFold(trimmed, strings.TrimSpace(r.MatchText)) {
			return r.ReplyText, true
		}
	}
	lower := strings.ToLower(trimmed)
	for _, r := range rules {
		match := strings.ToLower(strings.TrimSpace(r.MatchText))
		if match != "" && strings.Contains(lower, match) {
			return r.ReplyText, true
		}
	}
	return "", false
}
