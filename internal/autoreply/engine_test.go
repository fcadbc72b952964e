package autoreply

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"wa-blast/internal/dispatch"
	"wa-blast/internal/metrics"
	"wa-blast/internal/repo"
	"wa-blast/internal/wa"
)

type fakeStore struct {
	repo.Store

	latestCampaign string
	ruleSet        *repo.AutoReplyRuleSet
	upserted       *repo.AutoReplyRuleSet
}

func (s *fakeStore) LatestCampaignForRecipient(ctx context.Context, recipient string) (string, error) {
	return s.latestCampaign, nil
}

func (s *fakeStore) GetRuleSetByCampaign(ctx context.Context, campaignID string) (*repo.AutoReplyRuleSet, error) {
	return s.ruleSet, nil
}

func (s *fakeStore) UpsertRuleSet(ctx context.Context, rs repo.AutoReplyRuleSet) (*repo.AutoReplyRuleSet, error) {
	rs.CreatedAt = time.Now()
	rs.UpdatedAt = rs.CreatedAt
	s.upserted = &rs
	return &rs, nil
}

type fakeSender struct {
	mu     sync.Mutex
	inputs []dispatch.SendInput
}

func (s *fakeSender) Send(ctx context.Context, in dispatch.SendInput) (*dispatch.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inputs = append(s.inputs, in)
	return &dispatch.Result{MessageID: "m", Status: repo.MessageSent}, nil
}

func (s *fakeSender) sent() []dispatch.SendInput {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]dispatch.SendInput(nil), s.inputs...)
}

func newTestEngine(store *fakeStore, sender *fakeSender) *Engine {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	e := NewEngine(store, nil, sender, metrics.Registry("test"), logger, rand.New(rand.NewSource(1)))
	e.sleep = func(time.Duration) {}
	return e
}

func ruleSet(campaignID string) *repo.AutoReplyRuleSet {
	return &repo.AutoReplyRuleSet{
		ID:           "rs1",
		CampaignID:   campaignID,
		TriggerWords: []string{"price", "promo"},
		ReplyRules: []repo.ReplyRule{
			{MatchText: "price", ReplyText: "substring reply"},
			{MatchText: "price list", ReplyText: "exact reply"},
		},
		ReplyDelayRange: "1-1",
	}
}

func TestOnInboundRepliesOnTrigger(t *testing.T) {
	store := &fakeStore{latestCampaign: "c1", ruleSet: ruleSet("c1")}
	sender := &fakeSender{}
	e := newTestEngine(store, sender)

	e.OnInbound(context.Background(), "s1", wa.Inbound{
		Sender: "628123@s.whatsapp.net",
		Text:   "what is the price today",
	})

	require.Len(t, sender.inputs, 1)
	in := sender.inputs[0]
	require.Equal(t, "s1", in.SessionID)
	require.Equal(t, "628123@s.whatsapp.net", in.To)
	require.Equal(t, "c1", in.CampaignID)
	require.Equal(t, "substring reply", in.Body)
}

func TestOnInboundPrefersExactMatch(t *testing.T) {
	store := &fakeStore{latestCampaign: "c1", ruleSet: ruleSet("c1")}
	sender := &fakeSender{}
	e := newTestEngine(store, sender)

	e.OnInbound(context.Background(), "s1", wa.Inbound{
		Sender: "628123@s.whatsapp.net",
		Text:   "Price List",
	})

	require.Len(t, sender.inputs, 1)
	require.Equal(t, "exact reply", sender.inputs[0].Body)
}

func TestOnInboundIgnoresUnmatchedText(t *testing.T) {
	store := &fakeStore{latestCampaign: "c1", ruleSet: ruleSet("c1")}
	sender := &fakeSender{}
	e := newTestEngine(store, sender)

	e.OnInbound(context.Background(), "s1", wa.Inbound{
		Sender: "628123@s.whatsapp.net",
		Text:   "how are you",
	})
	require.Empty(t, sender.inputs)
}

func TestOnInboundSkipsSelfAndEmpty(t *testing.T) {
	store := &fakeStore{latestCampaign: "c1", ruleSet: ruleSet("c1")}
	sender := &fakeSender{}
	e := newTestEngine(store, sender)

	e.OnInbound(context.Background(), "s1", wa.Inbound{Sender: "628@s.whatsapp.net", Text: "price", FromSelf: true})
	e.OnInbound(context.Background(), "s1", wa.Inbound{Sender: "628@s.whatsapp.net", Text: "   "})
	require.Empty(t, sender.inputs)
}

func TestOnInboundWithoutCampaignHistory(t *testing.T) {
	store := &fakeStore{latestCampaign: ""}
	sender := &fakeSender{}
	e := newTestEngine(store, sender)

	e.OnInbound(context.Background(), "s1", wa.Inbound{Sender: "628@s.whatsapp.net", Text: "price"})
	require.Empty(t, sender.inputs)
}

func TestOnInboundWithoutRuleSet(t *testing.T) {
	store := &fakeStore{latestCampaign: "c1", ruleSet: nil}
	sender := &fakeSender{}
	e := newTestEngine(store, sender)

	e.OnInbound(context.Background(), "s1", wa.Inbound{Sender: "628@s.whatsapp.net", Text: "price"})
	require.Empty(t, sender.inputs)
}

func TestOnInboundConcurrentMessages(t *testing.T) {
	store := &fakeStore{latestCampaign: "c1", ruleSet: ruleSet("c1")}
	sender := &fakeSender{}
	e := newTestEngine(store, sender)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			e.OnInbound(context.Background(), "s1", wa.Inbound{
				Sender: fmt.Sprintf("62812%d@s.whatsapp.net", n),
				Text:   "what is the price",
			})
		}(i)
	}
	wg.Wait()

	require.Len(t, sender.sent(), 8)
}

func TestUpsertRuleValidation(t *testing.T) {
	e := newTestEngine(&fakeStore{}, &fakeSender{})

	_, err := e.UpsertRule(context.Background(), "c1", RuleInput{
		ReplyRules: []repo.ReplyRule{{MatchText: "a", ReplyText: "b"}},
	})
	require.ErrorIs(t, err, ErrNoTriggerWords)

	_, err = e.UpsertRule(context.Background(), "c1", RuleInput{
		TriggerWords: []string{"price"},
	})
	require.ErrorIs(t, err, ErrNoReplyRules)
}

func TestUpsertRuleStoresRuleSet(t *testing.T) {
	store := &fakeStore{}
	e := newTestEngine(store, &fakeSender{})

	rs, err := e.UpsertRule(context.Background(), "c1", RuleInput{
		TriggerWords:    []string{"price"},
		ReplyRules:      []repo.ReplyRule{{MatchText: "price", ReplyText: "here"}},
		ReplyDelayRange: "3-7",
	})
	require.NoError(t, err)
	require.Equal(t, "c1", rs.CampaignID)
	require.NotEmpty(t, rs.ID)
	require.Equal(t, "c1", store.upserted.CampaignID)
	require.Equal(t, "3-7", store.upserted.ReplyDelayRange)
}
