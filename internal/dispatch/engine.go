package dispatch

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"wa-blast/internal/humanize"
	"wa-blast/internal/metrics"
	"wa-blast/internal/repo"
	"wa-blast/internal/session"
	"wa-blast/internal/wa"
)

var (
	// ErrRecipientNotRegistered indicates the destination number has no
	// account on the network.
	ErrRecipientNotRegistered = errors.New("recipient not registered")
	// ErrUnsupportedMediaType indicates the attachment kind is not one of
	// image, video, audio or document.
	ErrUnsupportedMediaType = errors.New("unsupported media type")
	// ErrNoMediaSource indicates an attachment carried no usable payload.
	ErrNoMediaSource = errors.New("attachment has no media source")
	// ErrEmptyMessage indicates neither body nor attachment was provided.
	ErrEmptyMessage = errors.New("message has no content")
)

// Sessions resolves live connections by session id.
type Sessions interface {
	Handle(sessionID string) (session.Conn, error)
}

// Attachment describes optional media for an outbound message. Exactly one
// of Data, Base64 or URL must be set.
type Attachment struct {
	Kind     wa.MediaKind `json:"kind"`
	Data     []byte       `json:"-"`
	Base64   string       `json:"base64,omitempty"`
	URL      string       `json:"url,omitempty"`
	MimeType string       `json:"mimeType,omitempty"`
	FileName string       `json:"fileName,omitempty"`
}

// SendInput describes one outbound message.
type SendInput struct {
	SessionID   string
	To          string
	Body        string
	Attachment  *Attachment
	CampaignID  string
	OwnerUserID string
}

// Result reports the outcome of a single send.
type Result struct {
	MessageID         string             `json:"messageId"`
	Recipient         string             `json:"recipient"`
	Status            repo.MessageStatus `json:"status"`
	ProtocolMessageID string             `json:"protocolMessageId,omitempty"`
	Error             string             `json:"error,omitempty"`
}

// Engine performs single message sends with delivery logging.
type Engine struct {
	sessions Sessions
	store    repo.Store
	metrics  *metrics.Metrics
	logger   *slog.Logger

	sleep func(time.Duration)
}

// NewEngine builds a dispatch Engine.
func NewEngine(sessions Sessions, store repo.Store, m *metrics.Metrics, logger *slog.Logger) *Engine {
	return &Engine{
		sessions: sessions,
		store:    store,
		metrics:  m,
		logger:   logger.With("component", "dispatch"),
		sleep:    time.Sleep,
	}
}

// Send validates the input, records a pending message log, simulates typing
// and transmits. Validation failures return an error before any log row is
// written. Transmission failures are reported through the Result with a
// FAILED status, not through the error return.
func (e *Engine) Send(ctx context.Context, in SendInput) (*Result, error) {
	if in.Body == "" && in.Attachment == nil {
		return nil, ErrEmptyMessage
	}

	conn, err := e.sessions.Handle(in.SessionID)
	if err != nil {
		return nil, err
	}

	recipient := CanonicalAddress(in.To)

	media, err := e.resolveAttachment(in.Attachment)
	if err != nil {
		return nil, err
	}

	if !strings.Contains(in.To, "@") {
		phone := strings.TrimSuffix(recipient, "@s.whatsapp.net")
		registered, err := conn.IsRegistered(ctx, phone)
		if err != nil {
			return nil, fmt.Errorf("registration probe for %s: %w", recipient, err)
		}
		if !registered {
			return nil, fmt.Errorf("%w: %s", ErrRecipientNotRegistered, recipient)
		}
	}

	logID := uuid.NewString()
	now := time.Now().UTC()
	entry := repo.MessageLog{
		ID:        logID,
		SessionID: in.SessionID,
		Recipient: recipient,
		Body:      in.Body,
		Status:    repo.MessagePending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if in.CampaignID != "" {
		entry.CampaignID = &in.CampaignID
	}
	if in.OwnerUserID != "" {
		entry.OwnerUserID = &in.OwnerUserID
	}
	if err := e.store.InsertMessageLog(ctx, entry); err != nil {
		return nil, fmt.Errorf("insert message log: %w", err)
	}

	e.sleep(humanize.TypingDelay(in.Body))

	var protoID string
	if media != nil {
		media.Caption = in.Body
		protoID, err = conn.SendMedia(ctx, recipient, *media)
	} else {
		protoID, err = conn.SendText(ctx, recipient, in.Body)
	}

	if err != nil {
		e.logger.Warn("send failed", "session_id", in.SessionID, "recipient", recipient, "error", err)
		e.metrics.OutgoingMessages.WithLabelValues("failed").Inc()
		if markErr := e.store.MarkMessageFailed(ctx, logID); markErr != nil {
			e.logger.Error("failed status write", "message_id", logID, "error", markErr)
		}
		return &Result{
			MessageID: logID,
			Recipient: recipient,
			Status:    repo.MessageFailed,
			Error:     err.Error(),
		}, nil
	}

	e.metrics.OutgoingMessages.WithLabelValues("sent").Inc()
	if err := e.store.MarkMessageSent(ctx, logID, protoID); err != nil {
		e.logger.Error("sent status write", "message_id", logID, "error", err)
	}

	return &Result{
		MessageID:         logID,
		Recipient:         recipient,
		Status:            repo.MessageSent,
		ProtocolMessageID: protoID,
	}, nil
}

// CanonicalAddress normalizes a destination into a full network address.
// Inputs already carrying a server part pass through unchanged, anything
// else is stripped to digits and suffixed with the user server.
func CanonicalAddress(to string) string {
	if strings.Contains(to, "@") {
		return to
	}
	var b strings.Builder
	for _, r := range to {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String() + "@s.whatsapp.net"
}

func (e *Engine) resolveAttachment(a *Attachment) (*wa.Media, error) {
	if a == nil {
		return nil, nil
	}
	if !wa.KnownMediaKind(a.Kind) {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedMediaType, a.Kind)
	}

	media := &wa.Media{
		Kind:     a.Kind,
		MimeType: a.MimeType,
		FileName: a.FileName,
	}
	if media.MimeType == "" && a.FileName != "" {
		media.MimeType = mime.TypeByExtension(filepath.Ext(a.FileName))
	}

	switch {
	case len(a.Data) > 0:
		media.Data = a.Data
	case a.URL != "":
		media.URL = a.URL
	case a.Base64 != "":
		data, err := base64.StdEncoding.DecodeString(a.Base64)
		if err != nil {
			return nil, fmt.Errorf("decode attachment: %w", err)
		}
		media.Data = data
	default:
		return nil, ErrNoMediaSource
	}

	return media, nil
}
