// Package store holds the in-memory mirror the UI renders from: conversation
// summaries and per-conversation message lists. Stores publish on every
// mutation and carry no dependency on any UI layer. All mutations are
// synchronous; a mutation completes before the next handler runs.
package store

import (
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/taskora/chatsync/internal/bus"
	"github.com/taskora/chatsync/internal/model"
)

// Tab selects which slice of the conversation list is visible.
type Tab string

const (
	TabAll       Tab = "all"
	TabFavorites Tab = "favorites"
	TabArchived  Tab = "archived"
)

// FlagWriter persists the client-asserted conversation flags. Writes happen
// synchronously inside the toggle mutation.
type FlagWriter interface {
	SetFavorite(conversationID string, v bool) error
	SetPinned(conversationID string, v bool) error
	SetArchived(conversationID string, v bool) error
}

// ConversationStore is the authoritative local cache of conversation
// summaries.
type ConversationStore struct {
	bus    *bus.Bus
	flags  FlagWriter
	logger *zap.Logger

	mu     sync.Mutex
	convs  map[string]*model.Conversation
	active string
}

// NewConversationStore creates an empty store.
func NewConversationStore(b *bus.Bus, flags FlagWriter, logger *zap.Logger) *ConversationStore {
	return &ConversationStore{
		bus:    b,
		flags:  flags,
		logger: logger,
		convs:  make(map[string]*model.Conversation),
	}
}

// UpsertMany merges server conversation summaries by id. Client-asserted
// favorite/pin/archive flags survive payloads that omit them: pin and
// archive never arrive from the server, and favorite is only taken when the
// payload carried it (HasFavorite).
func (s *ConversationStore) UpsertMany(incoming []model.Conversation) {
	s.mu.Lock()
	for _, in := range incoming {
		if in.ID == "" {
			continue
		}
		existing, ok := s.convs[in.ID]
		if !ok {
			c := in
			s.convs[in.ID] = &c
			continue
		}
		existing.Participants = in.Participants
		if in.About != "" {
			existing.About = in.About
		}
		if in.LastActivityAt.After(existing.LastActivityAt) {
			existing.LastActivityAt = in.LastActivityAt
		}
		existing.UnreadCount = in.UnreadCount
		if in.HasFavorite {
			existing.IsFavorite = in.IsFavorite
		}
	}
	s.mu.Unlock()
	s.bus.Emit(bus.KindConversationList, nil)
}

// RestoreFlags applies the flag sets loaded from the side-store at startup.
// Conversations not yet fetched get a placeholder entry so the flags are not
// lost when the summary arrives later.
func (s *ConversationStore) RestoreFlags(favorites, pins, archived map[string]bool) {
	s.mu.Lock()
	apply := func(set map[string]bool, assign func(c *model.Conversation)) {
		for id := range set {
			c, ok := s.convs[id]
			if !ok {
				c = &model.Conversation{ID: id}
				s.convs[id] = c
			}
			assign(c)
		}
	}
	apply(favorites, func(c *model.Conversation) { c.IsFavorite = true; c.HasFavorite = true })
	apply(pins, func(c *model.Conversation) { c.IsPinned = true })
	apply(archived, func(c *model.Conversation) { c.IsArchived = true })
	s.mu.Unlock()
	s.bus.Emit(bus.KindConversationList, nil)
}

// ApplyInboundNotification bumps the unread counter for an inbound message,
// unless the message is self-authored or the conversation is the active one.
func (s *ConversationStore) ApplyInboundNotification(conversationID string, fromSelf bool) {
	s.mu.Lock()
	c, ok := s.convs[conversationID]
	if !ok || fromSelf || s.active == conversationID {
		s.mu.Unlock()
		return
	}
	c.UnreadCount++
	snapshot := *c
	s.mu.Unlock()
	s.bus.Emit(bus.KindConversationUpdated, snapshot)
}

// Touch advances a conversation's last-activity time.
func (s *ConversationStore) Touch(conversationID string, at time.Time) {
	s.mu.Lock()
	c, ok := s.convs[conversationID]
	if !ok || !at.After(c.LastActivityAt) {
		s.mu.Unlock()
		return
	}
	c.LastActivityAt = at
	s.mu.Unlock()
	s.bus.Emit(bus.KindConversationList, nil)
}

// MarkRead optimistically zeroes the unread counter. Idempotent. The durable
// read receipt is the caller's responsibility and is issued fire-and-forget.
func (s *ConversationStore) MarkRead(conversationID string) {
	s.mu.Lock()
	c, ok := s.convs[conversationID]
	if !ok || c.UnreadCount == 0 {
		s.mu.Unlock()
		return
	}
	c.UnreadCount = 0
	snapshot := *c
	s.mu.Unlock()
	s.bus.Emit(bus.KindConversationUpdated, snapshot)
}

// ToggleFavorite flips the favorite flag, persisting it synchronously.
// Returns the new value.
func (s *ConversationStore) ToggleFavorite(conversationID string) bool {
	return s.toggle(conversationID, func(c *model.Conversation) bool {
		c.IsFavorite = !c.IsFavorite
		c.HasFavorite = true
		if err := s.flags.SetFavorite(conversationID, c.IsFavorite); err != nil {
			s.logger.Warn("persist favorite flag", zap.Error(err), zap.String("conversation", conversationID))
		}
		return c.IsFavorite
	})
}

// SetFavorite applies the server-authoritative favorite state, e.g. after
// the REST toggle responds.
func (s *ConversationStore) SetFavorite(conversationID string, v bool) {
	s.mu.Lock()
	c, ok := s.convs[conversationID]
	if !ok || c.IsFavorite == v {
		s.mu.Unlock()
		return
	}
	c.IsFavorite = v
	c.HasFavorite = true
	if err := s.flags.SetFavorite(conversationID, v); err != nil {
		s.logger.Warn("persist favorite flag", zap.Error(err), zap.String("conversation", conversationID))
	}
	s.mu.Unlock()
	s.bus.Emit(bus.KindConversationList, nil)
}

// TogglePin flips the device-local pin flag. Returns the new value.
func (s *ConversationStore) TogglePin(conversationID string) bool {
	return s.toggle(conversationID, func(c *model.Conversation) bool {
		c.IsPinned = !c.IsPinned
		if err := s.flags.SetPinned(conversationID, c.IsPinned); err != nil {
			s.logger.Warn("persist pin flag", zap.Error(err), zap.String("conversation", conversationID))
		}
		return c.IsPinned
	})
}

// ToggleArchive flips the device-local archive flag. Archive is a soft flag;
// conversations are never hard-deleted client-side. Returns the new value.
func (s *ConversationStore) ToggleArchive(conversationID string) bool {
	return s.toggle(conversationID, func(c *model.Conversation) bool {
		c.IsArchived = !c.IsArchived
		if err := s.flags.SetArchived(conversationID, c.IsArchived); err != nil {
			s.logger.Warn("persist archive flag", zap.Error(err), zap.String("conversation", conversationID))
		}
		return c.IsArchived
	})
}

func (s *ConversationStore) toggle(conversationID string, mut func(*model.Conversation) bool) bool {
	s.mu.Lock()
	c, ok := s.convs[conversationID]
	if !ok {
		s.mu.Unlock()
		return false
	}
	v := mut(c)
	s.mu.Unlock()
	s.bus.Emit(bus.KindConversationList, nil)
	return v
}

// SetActive marks a conversation as the one currently open. Inbound
// notifications for the active conversation do not bump its unread counter.
func (s *ConversationStore) SetActive(conversationID string) {
	s.mu.Lock()
	s.active = conversationID
	s.mu.Unlock()
}

// ActiveID returns the currently active conversation id, or "".
func (s *ConversationStore) ActiveID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// Get returns a copy of the conversation, if present.
func (s *ConversationStore) Get(conversationID string) (model.Conversation, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.convs[conversationID]
	if !ok {
		return model.Conversation{}, false
	}
	return *c, true
}

// List produces the visible ordered sequence: filter by case-insensitive
// substring match on participant display names, then by tab, then sort by
// (pinned desc, favorite desc, lastActivityAt desc). Pinned conversations
// always precede non-pinned regardless of recency.
func (s *ConversationStore) List(tab Tab, query string) []model.Conversation {
	s.mu.Lock()
	out := make([]model.Conversation, 0, len(s.convs))
	q := strings.ToLower(strings.TrimSpace(query))
	for _, c := range s.convs {
		if q != "" && !matchesParticipant(c, q) {
			continue
		}
		switch tab {
		case TabFavorites:
			if !c.IsFavorite || c.IsArchived {
				continue
			}
		case TabArchived:
			if !c.IsArchived {
				continue
			}
		default:
			if c.IsArchived {
				continue
			}
		}
		out = append(out, *c)
	}
	s.mu.Unlock()

	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.IsPinned != b.IsPinned {
			return a.IsPinned
		}
		if a.IsFavorite != b.IsFavorite {
			return a.IsFavorite
		}
		return a.LastActivityAt.After(b.LastActivityAt)
	})
	return out
}

func matchesParticipant(c *model.Conversation, loweredQuery string) bool {
	for _, p := range c.Participants {
		if strings.Contains(strings.ToLower(p.DisplayName), loweredQuery) {
			return true
		}
	}
	return false
}
