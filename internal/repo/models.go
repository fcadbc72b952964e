package repo

import "time"

// SessionStatus tracks where a session is in its connect lifecycle.
type SessionStatus string

const (
	SessionInitializing SessionStatus = "INITIALIZING"
	SessionWaitingQR    SessionStatus = "WAITING_QR"
	SessionConnected    SessionStatus = "CONNECTED"
	SessionDisconnected SessionStatus = "DISCONNECTED"
)

// Session represents the sessions table row. Rows are never deleted; only the
// on-disk credential material is purged on logout.
type Session struct {
	ID          string        `json:"id"`
	OwnerUserID string        `json:"ownerUserId"`
	PhoneNumber *string       `json:"phoneNumber,omitempty"`
	Status      SessionStatus `json:"status"`
	CreatedAt   time.Time     `json:"createdAt"`
	UpdatedAt   time.Time     `json:"updatedAt"`
}

// MessageStatus is the delivery state of one outbound message.
type MessageStatus string

const (
	MessagePending   MessageStatus = "PENDING"
	MessageSent      MessageStatus = "SENT"
	MessageDelivered MessageStatus = "DELIVERED"
	MessageRead      MessageStatus = "READ"
	MessageFailed    MessageStatus = "FAILED"
)

// MessageLog represents one attempted transmission. Created PENDING before
// any transmit call so every attempt leaves a record.
type MessageLog struct {
	ID                string        `json:"id"`
	SessionID         string        `json:"sessionId"`
	Recipient         string        `json:"recipient"`
	Body              string        `json:"body"`
	Status            MessageStatus `json:"status"`
	ProtocolMessageID *string       `json:"protocolMessageId,omitempty"`
	CampaignID        *string       `json:"campaignId,omitempty"`
	OwnerUserID       *string       `json:"ownerUserId,omitempty"`
	CreatedAt         time.Time     `json:"createdAt"`
	UpdatedAt         time.Time     `json:"updatedAt"`
}

// Campaign groups the message logs of one bulk send.
type Campaign struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"createdAt"`
}

// ReplyRule pairs a match text with the reply it triggers. Order matters:
// the first substring match wins when no exact match exists.
type ReplyRule struct {
	MatchText string `json:"match_text"`
	ReplyText string `json:"reply_text"`
}

// AutoReplyRuleSet is the auto-reply configuration of one campaign. At most
// one rule set exists per campaign.
type AutoReplyRuleSet struct {
	ID              string      `json:"id"`
	CampaignID      string      `json:"campaignId"`
	TriggerWords    []string    `json:"triggerWords"`
	ReplyRules      []ReplyRule `json:"replyRules"`
	ReplyDelayRange string      `json:"replyDelayRange"`
	CreatedAt       time.Time   `json:"createdAt"`
	UpdatedAt       time.Time   `json:"updatedAt"`
}
