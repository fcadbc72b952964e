package wa

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.mau.fi/whatsmeow"
	waProto "go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	waLog "go.mau.fi/whatsmeow/util/log"
	"google.golang.org/protobuf/proto"
	_ "modernc.org/sqlite"
)

// Config holds configuration shared by every session connection.
type Config struct {
	// StoreDir is the directory holding one SQLite credential store per
	// session. Purged on explicit logout.
	StoreDir string
	// LogLevel is forwarded to the whatsmeow loggers.
	LogLevel string
}

// Dialer opens new connections, one credential store per session.
type Dialer struct {
	cfg    Config
	logger *slog.Logger
}

// NewDialer validates the configuration and prepares the store directory.
func NewDialer(cfg Config, logger *slog.Logger) (*Dialer, error) {
	if cfg.StoreDir == "" {
		return nil, errors.New("session store dir is required")
	}
	if err := os.MkdirAll(cfg.StoreDir, 0o755); err != nil {
		return nil, fmt.Errorf("ensure store dir: %w", err)
	}
	return &Dialer{cfg: cfg, logger: logger.With("component", "wa")}, nil
}

// Dial opens (or reopens) the credential store for sessionID and builds a
// connection around it. The connection is not yet connected to the network.
func (d *Dialer) Dial(ctx context.Context, sessionID string) (*Client, error) {
	storePath := filepath.Join(d.cfg.StoreDir, sessionID+".db")

	storeLogger := waLog.Stdout("whatsmeow/sqlstore", d.cfg.LogLevel, true)
	container, err := sqlstore.New(ctx, "sqlite", fmt.Sprintf("file:%s?_pragma=busy_timeout=10000&_pragma=foreign_keys(ON)", storePath), storeLogger)
	if err != nil {
		return nil, fmt.Errorf("create sqlstore: %w", err)
	}

	deviceStore, err := container.GetFirstDevice(ctx)
	if err != nil {
		container.Close()
		return nil, fmt.Errorf("get device: %w", err)
	}

	clientLogger := waLog.Stdout("whatsmeow/client", d.cfg.LogLevel, true)
	cli := whatsmeow.NewClient(deviceStore, clientLogger)

	c := &Client{
		sessionID: sessionID,
		cli:       cli,
		container: container,
		storePath: storePath,
		logger:    d.logger.With("session_id", sessionID),
		events:    make(chan Event, 128),
		http:      &http.Client{Timeout: 30 * time.Second},
	}
	cli.AddEventHandler(c.handleEvent)
	return c, nil
}

// Client wraps one whatsmeow client plus its credential store and translates
// whatsmeow callbacks into this module's event stream.
type Client struct {
	sessionID string
	cli       *whatsmeow.Client
	container *sqlstore.Container
	storePath string
	logger    *slog.Logger
	http      *http.Client

	events chan Event
	mu     sync.RWMutex
	closed bool
}

// Events returns the connection's event stream. Exactly one consumer must
// drain it.
func (c *Client) Events() <-chan Event {
	return c.events
}

// Connect opens the network connection. When no credentials are stored yet a
// QR pairing channel is attached first and QR codes surface on the event
// stream.
func (c *Client) Connect(ctx context.Context) error {
	if c.cli.Store.ID == nil {
		qrChan, err := c.cli.GetQRChannel(ctx)
		if err != nil && !errors.Is(err, whatsmeow.ErrQRStoreContainsID) {
			return fmt.Errorf("get qr channel: %w", err)
		}
		if err == nil {
			go func() {
				for evt := range qrChan {
					if evt.Event == "code" {
						c.emit(QRCode{Code: evt.Code})
					}
				}
			}()
		}
	}
	if err := c.cli.Connect(); err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	return nil
}

// IsLoggedIn reports whether the connection is authenticated.
func (c *Client) IsLoggedIn() bool {
	return c.cli.IsLoggedIn()
}

// Logout signs the session out on the network side. The resulting close
// event carries the logged-out reason so the owner can purge credentials.
func (c *Client) Logout(ctx context.Context) error {
	if err := c.cli.Logout(ctx); err != nil {
		return fmt.Errorf("logout: %w", err)
	}
	return nil
}

// Disconnect drops the network connection and stops the event stream.
func (c *Client) Disconnect() {
	c.close()
	c.cli.Disconnect()
}

// PurgeCredentials disconnects and removes the on-disk credential store.
func (c *Client) PurgeCredentials() error {
	c.Disconnect()
	c.container.Close()
	for _, path := range []string{c.storePath, c.storePath + "-wal", c.storePath + "-shm"} {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("remove credential store: %w", err)
		}
	}
	return nil
}

// SendText transmits a plain text message and returns the protocol-assigned
// message id.
func (c *Client) SendText(ctx context.Context, to, body string) (string, error) {
	jid, err := parseJID(to)
	if err != nil {
		return "", err
	}
	resp, err := c.cli.SendMessage(ctx, jid, &waProto.Message{
		Conversation: proto.String(body),
	})
	if err != nil {
		return "", fmt.Errorf("send text: %w", err)
	}
	return string(resp.ID), nil
}

// SendMedia uploads the attachment and transmits it. URL sources are fetched
// first; the network only accepts uploaded bytes.
func (c *Client) SendMedia(ctx context.Context, to string, media Media) (string, error) {
	jid, err := parseJID(to)
	if err != nil {
		return "", err
	}

	data := media.Data
	if len(data) == 0 && media.URL != "" {
		data, err = c.fetch(ctx, media.URL)
		if err != nil {
			return "", err
		}
	}
	if len(data) == 0 {
		return "", errors.New("send media: empty payload")
	}

	mimeType := media.MimeType
	if mimeType == "" {
		mimeType = http.DetectContentType(data)
	}

	uploaded, err := c.cli.Upload(ctx, data, uploadKind(media.Kind))
	if err != nil {
		return "", fmt.Errorf("upload media: %w", err)
	}

	msg, err := mediaMessage(media, uploaded, mimeType, uint64(len(data)))
	if err != nil {
		return "", err
	}
	resp, err := c.cli.SendMessage(ctx, jid, msg)
	if err != nil {
		return "", fmt.Errorf("send media: %w", err)
	}
	return string(resp.ID), nil
}

// IsRegistered queries the network whether the phone number has an account.
func (c *Client) IsRegistered(ctx context.Context, phone string) (bool, error) {
	resp, err := c.cli.IsOnWhatsApp([]string{"+" + strings.TrimPrefix(phone, "+")})
	if err != nil {
		return false, fmt.Errorf("registration query: %w", err)
	}
	for _, entry := range resp {
		if entry.IsIn {
			return true, nil
		}
	}
	return false, nil
}

// JoinedGroups lists the group chats this session participates in.
func (c *Client) JoinedGroups(ctx context.Context) ([]Group, error) {
	infos, err := c.cli.GetJoinedGroups(ctx)
	if err != nil {
		return nil, fmt.Errorf("list groups: %w", err)
	}
	groups := make([]Group, 0, len(infos))
	for _, info := range infos {
		groups = append(groups, Group{
			JID:          info.JID.String(),
			Name:         info.Name,
			Participants: len(info.Participants),
		})
	}
	return groups, nil
}

// GroupMembers returns the member JIDs of one group.
func (c *Client) GroupMembers(ctx context.Context, groupJID string) ([]string, error) {
	jid, err := types.ParseJID(groupJID)
	if err != nil {
		return nil, fmt.Errorf("parse group jid: %w", err)
	}
	info, err := c.cli.GetGroupInfo(jid)
	if err != nil {
		return nil, fmt.Errorf("group info: %w", err)
	}
	members := make([]string, 0, len(info.Participants))
	for _, p := range info.Participants {
		members = append(members, p.JID.String())
	}
	return members, nil
}

func (c *Client) handleEvent(evt interface{}) {
	switch v := evt.(type) {
	case *events.Connected:
		phone := ""
		if id := c.cli.Store.ID; id != nil {
			phone = id.User
		}
		c.emit(Connected{PhoneNumber: phone})
	case *events.LoggedOut:
		c.emit(Disconnected{LoggedOut: true, Reason: fmt.Sprintf("logged out: %v", v.Reason)})
	case *events.Disconnected:
		c.emit(Disconnected{Reason: "connection closed"})
	case *events.Message:
		c.emit(Inbound{
			Sender:   v.Info.Sender.ToNonAD().String(),
			Text:     extractText(v.Message),
			PushName: v.Info.PushName,
			FromSelf: v.Info.IsFromMe,
		})
	case *events.Receipt:
		kind := ackKind(v.Type)
		for _, id := range v.MessageIDs {
			c.emit(Ack{MessageID: string(id), Kind: kind})
		}
	}
}

func (c *Client) emit(evt Event) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return
	}
	select {
	case c.events <- evt:
	default:
		c.logger.Warn("event buffer full, dropping event", "event", fmt.Sprintf("%T", evt))
	}
}

func (c *Client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	c.cli.RemoveEventHandlers()
	close(c.events)
}

func (c *Client) fetch(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build media request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch media: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch media: unexpected status %d", resp.StatusCode)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read media body: %w", err)
	}
	return data, nil
}

func uploadKind(kind MediaKind) whatsmeow.MediaType {
	switch kind {
	case MediaVideo:
		return whatsmeow.MediaVideo
	case MediaAudio:
		return whatsmeow.MediaAudio
	case MediaDocument:
		return whatsmeow.MediaDocument
	default:
		return whatsmeow.MediaImage
	}
}

func mediaMessage(media Media, uploaded whatsmeow.UploadResponse, mimeType string, size uint64) (*waProto.Message, error) {
	switch media.Kind {
	case MediaImage:
		msg := &waProto.ImageMessage{
			URL:           proto.String(uploaded.URL),
			DirectPath:    proto.String(uploaded.DirectPath),
			MediaKey:      uploaded.MediaKey,
			FileEncSHA256: uploaded.FileEncSHA256,
			FileSHA256:    uploaded.FileSHA256,
			FileLength:    proto.Uint64(size),
			Mimetype:      proto.String(mimeType),
		}
		if media.Caption != "" {
			msg.Caption = proto.String(media.Caption)
		}
		return &waProto.Message{ImageMessage: msg}, nil
	case MediaVideo:
		msg := &waProto.VideoMessage{
			URL:           proto.String(uploaded.URL),
			DirectPath:    proto.String(uploaded.DirectPath),
			MediaKey:      uploaded.MediaKey,
			FileEncSHA256: uploaded.FileEncSHA256,
			FileSHA256:    uploaded.FileSHA256,
			FileLength:    proto.Uint64(size),
			Mimetype:      proto.String(mimeType),
		}
		if media.Caption != "" {
			msg.Caption = proto.String(media.Caption)
		}
		return &waProto.Message{VideoMessage: msg}, nil
	case MediaAudio:
		return &waProto.Message{AudioMessage: &waProto.AudioMessage{
			URL:           proto.String(uploaded.URL),
			DirectPath:    proto.String(uploaded.DirectPath),
			MediaKey:      uploaded.MediaKey,
			FileEncSHA256: uploaded.FileEncSHA256,
			FileSHA256:    uploaded.FileSHA256,
			FileLength:    proto.Uint64(size),
			Mimetype:      proto.String(mimeType),
		}}, nil
	case MediaDocument:
		msg := &waProto.DocumentMessage{
			URL:           proto.String(uploaded.URL),
			DirectPath:    proto.String(uploaded.DirectPath),
			MediaKey:      uploaded.MediaKey,
			FileEncSHA256: uploaded.FileEncSHA256,
			FileSHA256:    uploaded.FileSHA256,
			FileLength:    proto.Uint64(size),
			Mimetype:      proto.String(mimeType),
			FileName:      proto.String(media.FileName),
		}
		if media.Caption != "" {
			msg.Caption = proto.String(media.Caption)
		}
		return &waProto.Message{DocumentMessage: msg}, nil
	}
	return nil, fmt.Errorf("unsupported media kind %q", media.Kind)
}

func ackKind(t types.ReceiptType) AckKind {
	switch t {
	case types.ReceiptTypeDelivered:
		return AckDelivered
	case types.ReceiptTypeRead, types.ReceiptTypeReadSelf:
		return AckRead
	case types.ReceiptTypeSender:
		return AckServer
	default:
		return AckKind(string(t))
	}
}

func extractText(msg *waProto.Message) string {
	if msg == nil {
		return ""
	}
	switch {
	case msg.GetConversation() != "":
		return msg.GetConversation()
	case msg.ExtendedTextMessage != nil:
		return msg.GetExtendedTextMessage().GetText()
	case msg.ImageMessage != nil:
		return msg.GetImageMessage().GetCaption()
	case msg.VideoMessage != nil:
		return msg.GetVideoMessage().GetCaption()
	}
	return ""
}

func parseJID(addr string) (types.JID, error) {
	if strings.Contains(addr, "@") {
		jid, err := types.ParseJID(addr)
		if err != nil {
			return types.JID{}, fmt.Errorf("parse jid %q: %w", addr, err)
		}
		return jid, nil
	}
	if addr == "" {
		return types.JID{}, errors.New("empty recipient")
	}
	return types.NewJID(addr, types.DefaultUserServer), nil
}
