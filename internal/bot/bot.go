// ABOUTME: Matrix bot core for keydrop
// ABOUTME: Handles the Matrix sync loop and routes chat commands to the issuer

package bot

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"github.com/2389/keydrop/internal/auth"
	"github.com/2389/keydrop/internal/config"
	"github.com/2389/keydrop/internal/dedupe"
	"github.com/2389/keydrop/internal/issuer"
)

// typingTimeout is the duration the typing indicator shows (30 seconds).
const typingTimeout = 30 * time.Second

// networkTimeout is the timeout for short Matrix API calls.
const networkTimeout = 10 * time.Second

// sendTimeout is the timeout for sending messages (they can be large).
const sendTimeout = 30 * time.Second

// Matrix redelivers events after reconnects, so processed event IDs are
// remembered for a while. The cache is bounded; an eviction only risks
// re-answering a very old duplicate.
const (
	dedupeTTL     = 30 * time.Minute
	dedupeMaxSize = 4096
)

// Bot connects a Matrix account to the issuance service.
type Bot struct {
	cfg    config.MatrixConfig
	client *mautrix.Client
	svc    *issuer.Service
	admins *auth.Allowlist
	seen   *dedupe.Cache
	logger *slog.Logger

	// Track rooms we're actively processing to avoid duplicate handling
	processing sync.Map

	// ctx is the parent context for command processing goroutines
	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a Matrix bot for the given account. The admin allow-list is
// consulted before acting on file uploads; per-command authorization is
// enforced by the issuer itself.
func New(cfg config.MatrixConfig, svc *issuer.Service, admins *auth.Allowlist, logger *slog.Logger) (*Bot, error) {
	client, err := mautrix.NewClient(cfg.Homeserver, id.UserID(cfg.UserID), cfg.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("creating matrix client: %w", err)
	}

	return &Bot{
		cfg:    cfg,
		client: client,
		svc:    svc,
		admins: admins,
		seen:   dedupe.New(dedupeTTL, dedupeMaxSize),
		logger: logger.With("component", "bot"),
	}, nil
}

// Run starts the bot and blocks until the context is cancelled.
func (b *Bot) Run(ctx context.Context) error {
	b.logger.Info("starting matrix bot",
		"homeserver", b.cfg.Homeserver,
		"user_id", b.cfg.UserID,
		"allowed_rooms", len(b.cfg.AllowedRooms),
	)
	defer b.seen.Close()

	// Store context for command processing goroutines
	b.ctx, b.cancel = context.WithCancel(ctx)
	defer b.cancel()

	// The access token does not tell us our device ID, and the crypto
	// store needs it to detect stale sessions.
	whoami, err := b.client.Whoami(b.ctx)
	if err != nil {
		return fmt.Errorf("matrix whoami: %w", err)
	}
	b.client.DeviceID = whoami.DeviceID
	if whoami.UserID.String() != b.cfg.UserID {
		b.logger.Warn("access token belongs to a different user",
			"configured", b.cfg.UserID,
			"actual", whoami.UserID.String(),
		)
	}

	if b.cfg.CryptoDBPath != "" {
		crypto, err := setupCrypto(b.ctx, b.client, b.cfg, b.logger)
		if err != nil {
			return fmt.Errorf("setting up encryption: %w", err)
		}
		defer crypto.Close()
	} else {
		b.logger.Info("encryption disabled (no crypto database configured)")
	}

	// Register event handler for messages
	syncer, ok := b.client.Syncer.(*mautrix.DefaultSyncer)
	if !ok {
		return fmt.Errorf("unexpected syncer type: %T", b.client.Syncer)
	}
	syncer.OnEventType(event.EventMessage, b.handleMessageEvent)

	b.logger.Info("connecting to matrix homeserver")

	syncErr := make(chan error, 1)
	go func() {
		syncErr <- b.client.SyncWithContext(b.ctx)
	}()

	b.logger.Info("matrix bot running")

	// Wait for context cancellation or sync error
	select {
	case <-ctx.Done():
		b.logger.Info("shutting down matrix bot")
		b.cancel()
		return nil
	case err := <-syncErr:
		return fmt.Errorf("matrix sync failed: %w", err)
	}
}

// handleMessageEvent processes incoming Matrix messages.
func (b *Bot) handleMessageEvent(ctx context.Context, evt *event.Event) {
	// Ignore our own messages
	if evt.Sender == id.UserID(b.cfg.UserID) {
		return
	}

	content, ok := evt.Content.Parsed.(*event.MessageEventContent)
	if !ok {
		return
	}

	roomID := evt.RoomID.String()
	if !b.isRoomAllowed(roomID) {
		b.logger.Debug("ignoring message from non-allowed room", "room", roomID)
		return
	}

	// Sync can replay events after a reconnect; act on each event once.
	if b.seen.CheckAndMark(evt.ID.String()) {
		b.logger.Debug("ignoring duplicate event", "event_id", evt.ID.String())
		return
	}

	switch content.MsgType {
	case event.MsgText:
		b.handleTextMessage(evt, content)
	case event.MsgFile:
		b.handleFileMessage(evt, content)
	}
}

// handleTextMessage parses a text message as a command and dispatches it.
func (b *Bot) handleTextMessage(evt *event.Event, content *event.MessageEventContent) {
	cmd, ok := parseCommand(b.cfg.CommandPrefix, content.Body)
	if !ok {
		return
	}

	b.logger.Info("received command",
		"room", evt.RoomID.String(),
		"sender", evt.Sender.String(),
		"command", cmd.name,
	)

	// Process in a goroutine to not block sync. Use the bot context for
	// graceful shutdown support.
	go b.processCommand(b.ctx, evt.RoomID, evt.Sender, cmd)
}

// handleFileMessage treats a file sent by an admin as a credential upload.
// Files from anyone else are ignored without a reply so the bot does not
// nag rooms it merely lurks in.
func (b *Bot) handleFileMessage(evt *event.Event, content *event.MessageEventContent) {
	if !b.admins.IsAdmin(evt.Sender.String()) {
		b.logger.Debug("ignoring file from non-admin", "sender", evt.Sender.String())
		return
	}

	b.logger.Info("received credential file",
		"room", evt.RoomID.String(),
		"sender", evt.Sender.String(),
		"filename", content.Body,
	)

	go b.processFileUpload(b.ctx, evt.RoomID, evt.Sender, content)
}

// processCommand runs one command and sends the reply to the room.
func (b *Bot) processCommand(ctx context.Context, roomID id.RoomID, sender id.UserID, cmd command) {
	roomStr := roomID.String()

	// Check if we're already processing a command in this room
	if _, loaded := b.processing.LoadOrStore(roomStr, true); loaded {
		b.logger.Debug("already processing command in room, dropping", "room", roomStr)
		return
	}
	defer b.processing.Delete(roomStr)

	if b.cfg.TypingIndicator {
		b.setTyping(roomID, true)
		defer b.setTyping(roomID, false)
	}

	actor := issuer.Actor{
		ID:     sender.String(),
		Handle: b.displayName(ctx, sender),
	}

	reply := b.runCommand(ctx, actor, cmd)
	if reply == "" {
		return
	}
	b.sendMarkdown(roomID, reply)
}

// processFileUpload downloads the attached file and enqueues its lines.
func (b *Bot) processFileUpload(ctx context.Context, roomID id.RoomID, sender id.UserID, content *event.MessageEventContent) {
	roomStr := roomID.String()

	if _, loaded := b.processing.LoadOrStore(roomStr, true); loaded {
		b.logger.Debug("already processing command in room, dropping", "room", roomStr)
		return
	}
	defer b.processing.Delete(roomStr)

	if b.cfg.TypingIndicator {
		b.setTyping(roomID, true)
		defer b.setTyping(roomID, false)
	}

	text, err := b.fetchFileText(ctx, content)
	if err != nil {
		b.logger.Error("failed to fetch credential file", "room", roomStr, "error", err)
		b.sendMarkdown(roomID, "I could not read that file: "+err.Error())
		return
	}

	actor := issuer.Actor{
		ID:     sender.String(),
		Handle: b.displayName(ctx, sender),
	}

	count, err := b.svc.Upload(ctx, actor, text)
	if err != nil {
		b.sendMarkdown(roomID, b.errorReply("upload", err))
		return
	}
	b.sendMarkdown(roomID, formatUploaded(count))
}

// isRoomAllowed checks if the room is in the allowed list.
func (b *Bot) isRoomAllowed(roomID string) bool {
	if len(b.cfg.AllowedRooms) == 0 {
		return true // Allow all if no filter
	}

	for _, allowed := range b.cfg.AllowedRooms {
		if allowed == roomID {
			return true
		}
	}
	return false
}

// displayName looks up the sender's display name. When the lookup fails
// or the profile has no name, the localpart of the Matrix ID stands in so
// the ledger always records a readable handle.
func (b *Bot) displayName(ctx context.Context, userID id.UserID) string {
	ctx, cancel := context.WithTimeout(ctx, networkTimeout)
	defer cancel()

	resp, err := b.client.GetDisplayName(ctx, userID)
	if err != nil {
		b.logger.Debug("failed to fetch display name", "user", userID.String(), "error", err)
		return userID.Localpart()
	}
	if resp.DisplayName == "" {
		return userID.Localpart()
	}
	return resp.DisplayName
}

// setTyping sends typing indicator to room.
func (b *Bot) setTyping(roomID id.RoomID, typing bool) {
	var timeout time.Duration
	if typing {
		timeout = typingTimeout
	}
	// Use a timeout context to avoid hanging during shutdown or network issues
	ctx, cancel := context.WithTimeout(context.Background(), networkTimeout)
	defer cancel()
	_, err := b.client.UserTyping(ctx, roomID, typing, timeout)
	if err != nil {
		b.logger.Debug("failed to set typing indicator", "room", roomID.String(), "error", err)
	}
}

// sendMarkdown sends a markdown-formatted message to a room.
func (b *Bot) sendMarkdown(roomID id.RoomID, markdown string) {
	ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
	defer cancel()

	content := renderMarkdown(markdown)
	if _, err := b.client.SendMessageEvent(ctx, roomID, event.EventMessage, &content); err != nil {
		b.logger.Error("failed to send message", "room", roomID.String(), "error", err)
	}
}
