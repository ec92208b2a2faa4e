// Package sync orchestrates the stores against the channel and the REST
// surface: it reacts to inbound relay events, runs the optimistic send and
// reconcile flow, and owns the open-conversation / mark-read protocol.
package sync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/taskora/chatsync/internal/api"
	"github.com/taskora/chatsync/internal/bus"
	"github.com/taskora/chatsync/internal/channel"
	"github.com/taskora/chatsync/internal/model"
	"github.com/taskora/chatsync/internal/store"
)

// Channel is the slice of the relay connection the engine uses.
type Channel interface {
	State() channel.State
	JoinConversation(conversationID string) error
	SendMessage(p channel.SendMessagePayload, ack channel.AckFunc) error
}

// Rest is the slice of the collaborating REST surface the engine uses.
type Rest interface {
	Me(ctx context.Context) (model.User, error)
	ListConversations(ctx context.Context, page int) ([]model.Conversation, error)
	ListMessages(ctx context.Context, conversationID string, page int) ([]model.Message, error)
	CreateConversation(ctx context.Context, req api.CreateConversationRequest) (model.Conversation, error)
	MarkRead(ctx context.Context, conversationID string) error
	ToggleFavorite(ctx context.Context, conversationID string) (bool, error)
	SendMessageMultipart(ctx context.Context, conversationID, text, clientKey string, uploads []api.Upload) (model.Message, error)
}

// ErrUnknownConversation is returned for commands against a conversation the
// store has never seen.
var ErrUnknownConversation = errors.New("sync: unknown conversation")

// Engine wires channel events into the stores and executes user commands.
// Inbound events for a conversation are processed in arrival order by a
// single goroutine; every handler runs to completion before the next event.
type Engine struct {
	ch     Channel
	rest   Rest
	convs  *store.ConversationStore
	msgs   *store.MessageStore
	bus    *bus.Bus
	logger *zap.Logger
	cancel context.CancelFunc

	mu       sync.Mutex
	selfID   string
	fetchGen map[string]uint64
	// uploads holds the attachment bodies of unconfirmed sends, keyed by
	// clientKey, so a retry resubmits the files and not just the text.
	uploads map[string][]api.Upload
}

// NewEngine creates an engine over the given collaborators.
func NewEngine(ch Channel, rest Rest, convs *store.ConversationStore, msgs *store.MessageStore, b *bus.Bus, logger *zap.Logger) *Engine {
	return &Engine{
		ch:       ch,
		rest:     rest,
		convs:    convs,
		msgs:     msgs,
		bus:      b,
		logger:   logger,
		fetchGen: make(map[string]uint64),
		uploads:  make(map[string][]api.Upload),
	}
}

// Start subscribes to inbound channel events on the bus.
func (e *Engine) Start(ctx context.Context) {
	ctx, e.cancel = context.WithCancel(ctx)
	ch, unsub := e.bus.Subscribe("channel.", 256)

	go func() {
		defer unsub()
		for {
			select {
			case evt := <-ch:
				e.handleEvent(ctx, evt)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop stops the engine.
func (e *Engine) Stop() {
	if e.cancel != nil {
		e.cancel()
	}
}

func (e *Engine) handleEvent(ctx context.Context, evt bus.Event) {
	switch evt.Kind {
	case bus.KindChannelConnected:
		if err := e.snapshot(ctx); err != nil {
			e.logger.Error("state snapshot failed", zap.Error(err))
		}
	case bus.KindChannelNewMessage:
		msg, ok := evt.Payload.(*model.Message)
		if !ok {
			return
		}
		e.ingestInbound(*msg)
	case bus.KindChannelNotification:
		n, ok := evt.Payload.(*channel.NotificationPayload)
		if !ok {
			return
		}
		e.convs.ApplyInboundNotification(n.ConversationID, n.FromSelf)
	case bus.KindChannelDisconnected:
		// Pending sends fail through their ack callbacks; nothing to do here.
	}
}

// snapshot runs the initial state fetch after the channel opens: current
// user, first conversation page, and the re-join of the active conversation.
func (e *Engine) snapshot(ctx context.Context) error {
	user, err := e.rest.Me(ctx)
	if err != nil {
		return fmt.Errorf("fetch current user: %w", err)
	}
	e.mu.Lock()
	e.selfID = user.ID
	e.mu.Unlock()

	convs, err := e.rest.ListConversations(ctx, 1)
	if err != nil {
		return fmt.Errorf("fetch conversations: %w", err)
	}
	e.convs.UpsertMany(convs)

	if active := e.convs.ActiveID(); active != "" {
		if err := e.ch.JoinConversation(active); err != nil {
			e.logger.Warn("re-join active conversation", zap.Error(err), zap.String("conversation", active))
		}
	}
	e.logger.Info("snapshot applied", zap.String("user", user.ID), zap.Int("conversations", len(convs)))
	return nil
}

// SelfID returns the authenticated user id from the last snapshot.
func (e *Engine) SelfID() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.selfID
}

func (e *Engine) ingestInbound(msg model.Message) {
	msg.FromSelf = msg.AuthorID == e.SelfID()
	outcome := e.msgs.Reconcile(msg.ConversationID, msg)
	e.convs.Touch(msg.ConversationID, msg.CreatedAt)
	if outcome == store.ReconcileAppended {
		e.convs.ApplyInboundNotification(msg.ConversationID, msg.FromSelf)
	}
}

// OpenConversation makes a conversation active, joins it on the channel,
// fetches its latest page and then issues the read receipt. A fetch
// superseded by a newer open of the same conversation is discarded.
func (e *Engine) OpenConversation(ctx context.Context, conversationID string) error {
	if _, ok := e.convs.Get(conversationID); !ok {
		return ErrUnknownConversation
	}
	e.convs.SetActive(conversationID)

	if err := e.ch.JoinConversation(conversationID); err != nil {
		// Channel may be down; the page fetch and read receipt still apply.
		e.logger.Warn("join conversation", zap.Error(err), zap.String("conversation", conversationID))
	}

	gen := e.nextGen(conversationID)
	page, err := e.rest.ListMessages(ctx, conversationID, 1)
	if err != nil {
		return fmt.Errorf("fetch messages: %w", err)
	}
	if e.isStale(conversationID, gen) {
		return nil
	}
	e.msgs.IngestPage(conversationID, reverse(page))

	// Mark read strictly after the open completed, so an in-flight
	// notification cannot strand a nonzero count. Skip if the user already
	// moved on.
	if e.convs.ActiveID() != conversationID {
		return nil
	}
	e.convs.MarkRead(conversationID)
	e.sendReadReceipt(conversationID)
	return nil
}

// FetchOlderMessages loads an additional page for a conversation.
func (e *Engine) FetchOlderMessages(ctx context.Context, conversationID string, page int) error {
	if _, ok := e.convs.Get(conversationID); !ok {
		return ErrUnknownConversation
	}
	gen := e.nextGen(conversationID)
	msgs, err := e.rest.ListMessages(ctx, conversationID, page)
	if err != nil {
		return fmt.Errorf("fetch messages: %w", err)
	}
	if e.isStale(conversationID, gen) {
		return nil
	}
	// Re-validate: the conversation may have been archived meanwhile, but it
	// is never hard-deleted, so ingesting is safe as long as it exists.
	if _, ok := e.convs.Get(conversationID); !ok {
		return nil
	}
	e.msgs.IngestPage(conversationID, reverse(msgs))
	return nil
}

// CloseConversation clears the active conversation.
func (e *Engine) CloseConversation() {
	e.convs.SetActive("")
}

// SendText runs the optimistic send flow: append a pending draft, then
// transmit over the channel with acknowledgment, falling back to the REST
// multipart path when the channel is unavailable or attachments are present.
// Returns the draft's clientKey.
func (e *Engine) SendText(ctx context.Context, conversationID, text string, uploads []api.Upload) (string, error) {
	if _, ok := e.convs.Get(conversationID); !ok {
		return "", ErrUnknownConversation
	}

	draft := model.Message{
		Text:      text,
		AuthorID:  e.SelfID(),
		CreatedAt: time.Now(),
	}
	for _, up := range uploads {
		draft.Attachments = append(draft.Attachments, model.Attachment{Name: up.Name, MimeType: up.MimeType})
	}
	key := e.msgs.AppendLocal(conversationID, draft)
	e.convs.Touch(conversationID, draft.CreatedAt)

	if len(uploads) > 0 {
		e.mu.Lock()
		e.uploads[key] = uploads
		e.mu.Unlock()
	}

	e.transmit(ctx, conversationID, key, text, uploads)
	return key, nil
}

// RetrySend resubmits a failed draft under its original clientKey, replaying
// any attachment uploads from the original send.
func (e *Engine) RetrySend(ctx context.Context, clientKey string) error {
	draft, ok := e.msgs.Retry(clientKey)
	if !ok {
		return fmt.Errorf("sync: no failed draft for key %s", clientKey)
	}
	e.transmit(ctx, draft.ConversationID, clientKey, draft.Text, e.uploadsFor(clientKey))
	return nil
}

// DiscardSend drops a failed draft and releases its retained uploads.
func (e *Engine) DiscardSend(clientKey string) bool {
	e.clearUploads(clientKey)
	return e.msgs.Discard(clientKey)
}

func (e *Engine) uploadsFor(clientKey string) []api.Upload {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.uploads[clientKey]
}

func (e *Engine) clearUploads(clientKey string) {
	e.mu.Lock()
	delete(e.uploads, clientKey)
	e.mu.Unlock()
}

func (e *Engine) transmit(ctx context.Context, conversationID, clientKey, text string, uploads []api.Upload) {
	if e.ch.State() == channel.Open && len(uploads) == 0 {
		draft := model.Message{
			ClientKey:      clientKey,
			ConversationID: conversationID,
			AuthorID:       e.SelfID(),
			Text:           text,
			CreatedAt:      time.Now(),
		}
		payload := channel.SendMessagePayload{
			ConversationID: conversationID,
			Message:        draft,
			ClientKey:      clientKey,
		}
		err := e.ch.SendMessage(payload, func(data json.RawMessage, err error) {
			if err != nil {
				e.logger.Warn("send not acknowledged", zap.Error(err), zap.String("client_key", clientKey))
				e.msgs.MarkFailed(clientKey)
				return
			}
			e.applyConfirmed(conversationID, clientKey, data)
		})
		if err == nil {
			return
		}
		if !errors.Is(err, channel.ErrConnectionClosed) {
			e.msgs.MarkFailed(clientKey)
			return
		}
		// Channel raced shut between the state check and the write: fall
		// through to the REST path.
	}

	confirmed, err := e.rest.SendMessageMultipart(ctx, conversationID, text, clientKey, uploads)
	if err != nil {
		e.logger.Warn("multipart send failed", zap.Error(err), zap.String("client_key", clientKey))
		e.msgs.MarkFailed(clientKey)
		return
	}
	confirmed.FromSelf = true
	if confirmed.ClientKey == "" {
		confirmed.ClientKey = clientKey
	}
	e.clearUploads(clientKey)
	e.msgs.Reconcile(conversationID, confirmed)
	e.convs.Touch(conversationID, confirmed.CreatedAt)
}

// applyConfirmed merges an ack payload into the store. The entity is
// re-validated because the ack arrives after a suspension point.
func (e *Engine) applyConfirmed(conversationID, clientKey string, data json.RawMessage) {
	var confirmed model.Message
	if err := json.Unmarshal(data, &confirmed); err != nil {
		e.logger.Warn("malformed ack payload", zap.Error(err), zap.String("client_key", clientKey))
		e.msgs.MarkFailed(clientKey)
		return
	}
	confirmed.FromSelf = true
	if confirmed.ClientKey == "" {
		confirmed.ClientKey = clientKey
	}
	e.clearUploads(clientKey)
	e.msgs.Reconcile(conversationID, confirmed)
	e.convs.Touch(conversationID, confirmed.CreatedAt)
}

// MarkConversationRead zeroes the unread count and issues the durable read
// receipt. Safe to call repeatedly.
func (e *Engine) MarkConversationRead(conversationID string) {
	if _, ok := e.convs.Get(conversationID); !ok {
		return
	}
	e.convs.MarkRead(conversationID)
	e.sendReadReceipt(conversationID)
}

// sendReadReceipt is fire-and-forget: the optimistic zero is not rolled back
// if the receipt fails.
func (e *Engine) sendReadReceipt(conversationID string) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := e.rest.MarkRead(ctx, conversationID); err != nil {
			e.logger.Warn("read receipt failed", zap.Error(err), zap.String("conversation", conversationID))
		}
	}()
}

// ToggleFavorite flips the server-backed favorite flag optimistically and
// reconciles against the authoritative response.
func (e *Engine) ToggleFavorite(ctx context.Context, conversationID string) error {
	if _, ok := e.convs.Get(conversationID); !ok {
		return ErrUnknownConversation
	}
	e.convs.ToggleFavorite(conversationID)

	authoritative, err := e.rest.ToggleFavorite(ctx, conversationID)
	if err != nil {
		e.logger.Warn("favorite toggle not confirmed", zap.Error(err), zap.String("conversation", conversationID))
		return err
	}
	if _, ok := e.convs.Get(conversationID); ok {
		e.convs.SetFavorite(conversationID, authoritative)
	}
	return nil
}

// TogglePin flips the device-local pin flag.
func (e *Engine) TogglePin(conversationID string) bool {
	return e.convs.TogglePin(conversationID)
}

// ToggleArchive flips the device-local archive flag.
func (e *Engine) ToggleArchive(conversationID string) bool {
	return e.convs.ToggleArchive(conversationID)
}

// CreateConversation creates (or fetches) a conversation via the REST
// surface, mirrors it and opens it.
func (e *Engine) CreateConversation(ctx context.Context, req api.CreateConversationRequest) (model.Conversation, error) {
	conv, err := e.rest.CreateConversation(ctx, req)
	if err != nil {
		return model.Conversation{}, fmt.Errorf("create conversation: %w", err)
	}
	e.convs.UpsertMany([]model.Conversation{conv})
	if err := e.OpenConversation(ctx, conv.ID); err != nil {
		e.logger.Warn("open created conversation", zap.Error(err), zap.String("conversation", conv.ID))
	}
	return conv, nil
}

func (e *Engine) nextGen(conversationID string) uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.fetchGen[conversationID]++
	return e.fetchGen[conversationID]
}

func (e *Engine) isStale(conversationID string, gen uint64) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.fetchGen[conversationID] != gen
}

// reverse flips a newest-first API page into the store's oldest-first order.
func reverse(msgs []model.Message) []model.Message {
	out := make([]model.Message, len(msgs))
	for i, m := range msgs {
		out[len(msgs)-1-i] = m
	}
	return out
}
