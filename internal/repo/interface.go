package repo

import (
	"context"
	"io/fs"
)

// Store defines the interface for data persistence.
type Store interface {
	// Lifecycle
	Close()
	Ping(ctx context.Context) error
	RunMigrations(ctx context.Context, filesystem fs.FS) error

	// Sessions
	UpsertSession(ctx context.Context, s Session) error
	UpdateSessionStatus(ctx context.Context, id string, status SessionStatus) error
	SetSessionConnected(ctx context.Context, id, phoneNumber string) error
	GetSession(ctx context.Context, id string) (*Session, error)
	ListSessionsByStatus(ctx context.Context, status SessionStatus) ([]Session, error)

	// Campaigns
	InsertCampaign(ctx context.Context, c Campaign) (*Campaign, error)

	// Message logs
	InsertMessageLog(ctx context.Context, m MessageLog) error
	MarkMessageSent(ctx context.Context, id, protocolMessageID string) error
	MarkMessageFailed(ctx context.Context, id string) error
	UpdateStatusByProtocolID(ctx context.Context, protocolMessageID string, status MessageStatus) (int64, error)
	ListMessagesByCampaign(ctx context.Context, campaignID string) ([]MessageLog, error)
	LatestCampaignForRecipient(ctx context.Context, recipient string) (string, error)

	// Auto-reply rules
	UpsertRuleSet(ctx context.Context, rs AutoReplyRuleSet) (*AutoReplyRuleSet, error)
	GetRuleSetByCampaign(ctx context.Context, campaignID string) (*AutoReplyRuleSet, error)
}
