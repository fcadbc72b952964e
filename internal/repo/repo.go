package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository provides typed access to the Postgres database.
type Repository struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// New opens a new connection pool to the database.
func New(ctx context.Context, databaseURL string, logger *slog.Logger) (*Repository, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	cfg.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	r := &Repository{
		pool:   pool,
		logger: logger.With("component", "repo"),
	}

	if err := r.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return r, nil
}

// Close releases the connection pool.
func (r *Repository) Close() {
	if r.pool != nil {
		r.pool.Close()
	}
}

// Ping ensures the database is reachable.
func (r *Repository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

// RunMigrations applies schema migrations on the connected database.
func (r *Repository) RunMigrations(ctx context.Context, filesystem fs.FS) error {
	return ApplyMigrations(ctx, r.pool, filesystem)
}

// UpsertSession stores or refreshes a session row.
func (r *Repository) UpsertSession(ctx context.Context, s Session) error {
	const q = `
INSERT INTO sessions (id, owner_user_id, phone_number, status, updated_at)
VALUES ($1, $2, $3, $4, NOW())
ON CONFLICT (id) DO UPDATE SET
    owner_user_id = EXCLUDED.owner_user_id,
    phone_number = COALESCE(EXCLUDED.phone_number, sessions.phone_number),
    status = EXCLUDED.status,
    updated_at = NOW();
`
	if _, err := r.pool.Exec(ctx, q, s.ID, s.OwnerUserID, s.PhoneNumber, s.Status); err != nil {
		return fmt.Errorf("upsert session: %w", err)
	}
	return nil
}

// UpdateSessionStatus moves a session to the given lifecycle status.
func (r *Repository) UpdateSessionStatus(ctx context.Context, id string, status SessionStatus) error {
	const q = `UPDATE sessions SET status = $2, updated_at = NOW() WHERE id = $1;`
	ct, err := r.pool.Exec(ctx, q, id, status)
	if err != nil {
		return fmt.Errorf("update session status: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return fmt.Errorf("session not found: %s", id)
	}
	return nil
}

// SetSessionConnected marks a session CONNECTED and records the authenticated
// phone number.
func (r *Repository) SetSessionConnected(ctx context.Context, id, phoneNumber string) error {
	const q = `
UPDATE sessions SET status = $2, phone_number = NULLIF($3, ''), updated_at = NOW()
WHERE id = $1;
`
	ct, err := r.pool.Exec(ctx, q, id, SessionConnected, phoneNumber)
	if err != nil {
		return fmt.Errorf("set session connected: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return fmt.Errorf("session not found: %s", id)
	}
	return nil
}

// GetSession fetches one session row.
func (r *Repository) GetSession(ctx context.Context, id string) (*Session, error) {
	const q = `
SELECT id, owner_user_id, phone_number, status, created_at, updated_at
FROM sessions WHERE id = $1;
`
	var s Session
	err := r.pool.QueryRow(ctx, q, id).Scan(&s.ID, &s.OwnerUserID, &s.PhoneNumber, &s.Status, &s.CreatedAt, &s.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	return &s, nil
}

// ListSessionsByStatus returns every session currently in the given status.
func (r *Repository) ListSessionsByStatus(ctx context.Context, status SessionStatus) ([]Session, error) {
	const q = `
SELECT id, owner_user_id, phone_number, status, created_at, updated_at
FROM sessions WHERE status = $1 ORDER BY created_at;
`
	rows, err := r.pool.Query(ctx, q, status)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var sessions []Session
	for rows.Next() {
		var s Session
		if err := rows.Scan(&s.ID, &s.OwnerUserID, &s.PhoneNumber, &s.Status, &s.CreatedAt, &s.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		sessions = append(sessions, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sessions: %w", err)
	}
	return sessions, nil
}

// InsertCampaign creates a campaign row.
func (r *Repository) InsertCampaign(ctx context.Context, c Campaign) (*Campaign, error) {
	const q = `INSERT INTO campaigns (id, title) VALUES ($1, $2) RETURNING created_at;`
	if err := r.pool.QueryRow(ctx, q, c.ID, c.Title).Scan(&c.CreatedAt); err != nil {
		return nil, fmt.Errorf("insert campaign: %w", err)
	}
	return &c, nil
}

// InsertMessageLog records an attempted transmission.
func (r *Repository) InsertMessageLog(ctx context.Context, m MessageLog) error {
	const q = `
INSERT INTO message_logs (id, session_id, recipient, body, status, protocol_message_id, campaign_id, owner_user_id)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8);
`
	_, err := r.pool.Exec(ctx, q, m.ID, m.SessionID, m.Recipient, m.Body, m.Status, m.ProtocolMessageID, m.CampaignID, m.OwnerUserID)
	if err != nil {
		return fmt.Errorf("insert message log: %w", err)
	}
	return nil
}

// MarkMessageSent flips a log to SENT and records the protocol message id
// required for later acknowledgment correlation.
func (r *Repository) MarkMessageSent(ctx context.Context, id, protocolMessageID string) error {
	const q = `
UPDATE message_logs SET status = $2, protocol_message_id = $3, updated_at = NOW()
WHERE id = $1;
`
	if _, err := r.pool.Exec(ctx, q, id, MessageSent, protocolMessageID); err != nil {
		return fmt.Errorf("mark message sent: %w", err)
	}
	return nil
}

// MarkMessageFailed flips a log to FAILED after a transmit error.
func (r *Repository) MarkMessageFailed(ctx context.Context, id string) error {
	const q = `UPDATE message_logs SET status = $2, updated_at = NOW() WHERE id = $1;`
	if _, err := r.pool.Exec(ctx, q, id, MessageFailed); err != nil {
		return fmt.Errorf("mark message failed: %w", err)
	}
	return nil
}

// UpdateStatusByProtocolID applies an acknowledgment status to every log
// carrying the protocol message id. Idempotent; no ordering guard.
func (r *Repository) UpdateStatusByProtocolID(ctx context.Context, protocolMessageID string, status MessageStatus) (int64, error) {
	const q = `
UPDATE message_logs SET status = $2, updated_at = NOW()
WHERE protocol_message_id = $1;
`
	ct, err := r.pool.Exec(ctx, q, protocolMessageID, status)
	if err != nil {
		return 0, fmt.Errorf("update status by protocol id: %w", err)
	}
	return ct.RowsAffected(), nil
}

// ListMessagesByCampaign returns a campaign's logs for progress polling.
func (r *Repository) ListMessagesByCampaign(ctx context.Context, campaignID string) ([]MessageLog, error) {
	const q = `
SELECT id, session_id, recipient, body, status, protocol_message_id, campaign_id, owner_user_id, created_at, updated_at
FROM message_logs WHERE campaign_id = $1 ORDER BY created_at;
`
	rows, err := r.pool.Query(ctx, q, campaignID)
	if err != nil {
		return nil, fmt.Errorf("list campaign messages: %w", err)
	}
	defer rows.Close()

	var logs []MessageLog
	for rows.Next() {
		var m MessageLog
		if err := rows.Scan(&m.ID, &m.SessionID, &m.Recipient, &m.Body, &m.Status, &m.ProtocolMessageID, &m.CampaignID, &m.OwnerUserID, &m.CreatedAt, &m.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan campaign message: %w", err)
		}
		logs = append(logs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate campaign messages: %w", err)
	}
	return logs, nil
}

// LatestCampaignForRecipient returns the campaign id of the recipient's most
// recent campaign-tagged outbound log, or "" when none exists.
func (r *Repository) LatestCampaignForRecipient(ctx context.Context, recipient string) (string, error) {
	const q = `
SELECT campaign_id FROM message_logs
WHERE recipient = $1 AND campaign_id IS NOT NULL
ORDER BY created_at DESC LIMIT 1;
`
	var campaignID string
	err := r.pool.QueryRow(ctx, q, recipient).Scan(&campaignID)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("latest campaign for recipient: %w", err)
	}
	return campaignID, nil
}

// UpsertRuleSet replaces the auto-reply rule set of a campaign.
func (r *Repository) UpsertRuleSet(ctx context.Context, rs AutoReplyRuleSet) (*AutoReplyRuleSet, error) {
	triggers, err := json.Marshal(rs.TriggerWords)
	if err != nil {
		return nil, fmt.Errorf("marshal trigger words: %w", err)
	}
	rules, err := json.Marshal(rs.ReplyRules)
	if err != nil {
		return nil, fmt.Errorf("marshal reply rules: %w", err)
	}

	const q = `
INSERT INTO auto_reply_rules (id, campaign_id, trigger_words, reply_rules, reply_delay_range, updated_at)
VALUES ($1, $2, $3, $4, $5, NOW())
ON CONFLICT (campaign_id) DO UPDATE SET
    trigger_words = EXCLUDED.trigger_words,
    reply_rules = EXCLUDED.reply_rules,
    reply_delay_range = EXCLUDED.reply_delay_range,
    updated_at = NOW()
RETURNING id, created_at, updated_at;
`
	if err := r.pool.QueryRow(ctx, q, rs.ID, rs.CampaignID, triggers, rules, rs.ReplyDelayRange).
		Scan(&rs.ID, &rs.CreatedAt, &rs.UpdatedAt); err != nil {
		return nil, fmt.Errorf("upsert rule set: %w", err)
	}
	return &rs, nil
}

// GetRuleSetByCampaign fetches a campaign's rule set, nil when unset.
func (r *Repository) GetRuleSetByCampaign(ctx context.Context, campaignID string) (*AutoReplyRuleSet, error) {
	const q = `
SELECT id, campaign_id, trigger_words, reply_rules, reply_delay_range, created_at, updated_at
FROM auto_reply_rules WHERE campaign_id = $1;
`
	var rs AutoReplyRuleSet
	var triggers, rules []byte
	err := r.pool.QueryRow(ctx, q, campaignID).
		Scan(&rs.ID, &rs.CampaignID, &triggers, &rules, &rs.ReplyDelayRange, &rs.CreatedAt, &rs.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get rule set: %w", err)
	}
	if err := json.Unmarshal(triggers, &rs.TriggerWords); err != nil {
		return nil, fmt.Errorf("unmarshal trigger words: %w", err)
	}
	if err := json.Unmarshal(rules, &rs.ReplyRules); err != nil {
		return nil, fmt.Errorf("unmarshal reply rules: %w", err)
	}
	return &rs, nil
}
