package store

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/taskora/chatsync/internal/bus"
	"github.com/taskora/chatsync/internal/model"
)

// ReconcileOutcome reports how a server message was merged.
type ReconcileOutcome int

const (
	// ReconcileReplaced means an unconfirmed draft was confirmed in place.
	ReconcileReplaced ReconcileOutcome = iota
	// ReconcileDuplicate means the server id was already present; no-op.
	ReconcileDuplicate
	// ReconcileAppended means the message was new and appended at the tail.
	ReconcileAppended
)

// MessageStore keeps the per-conversation ordered message lists and performs
// optimistic-send reconciliation.
//
// Within one conversation the list is totally ordered by CreatedAt with ties
// broken by insertion order. Entries are never reordered after insertion;
// the only in-place mutation is the reconciliation replace, which preserves
// the pending entry's position.
type MessageStore struct {
	bus *bus.Bus
	// window bounds the content+time heuristic used when the relay does not
	// echo clientKey. Best-effort compatibility shim, not a correctness
	// guarantee.
	window time.Duration

	mu    sync.Mutex
	lists map[string][]model.Message
}

// NewMessageStore creates an empty message store. window configures the
// heuristic reconciliation fallback.
func NewMessageStore(b *bus.Bus, window time.Duration) *MessageStore {
	return &MessageStore{
		bus:    b,
		window: window,
		lists:  make(map[string][]model.Message),
	}
}

// AppendLocal inserts a pending draft with a fresh clientKey and returns the
// key. At most one pending entry exists per clientKey because the key is
// never reused.
func (s *MessageStore) AppendLocal(conversationID string, draft model.Message) string {
	key := uuid.New().String()
	draft.ID = ""
	draft.ClientKey = key
	draft.ConversationID = conversationID
	draft.FromSelf = true
	draft.Delivery = model.DeliveryPending
	if draft.CreatedAt.IsZero() {
		draft.CreatedAt = time.Now()
	}

	s.mu.Lock()
	s.lists[conversationID] = append(s.lists[conversationID], draft)
	s.mu.Unlock()

	s.bus.Emit(bus.KindMessageAppended, draft)
	return key
}

// Reconcile merges a server-confirmed message into the conversation's list
// without duplication. Match order: exact clientKey against an unconfirmed
// draft (replace in place), server-id dedup (no-op), content+time heuristic
// for relays that drop the clientKey (replace in place), else append
// confirmed at the tail. A failed draft whose confirmation arrives late is
// confirmed in place like a pending one: the relay persisting the message is
// authoritative over the local failure mark.
func (s *MessageStore) Reconcile(conversationID string, server model.Message) ReconcileOutcome {
	server.ConversationID = conversationID
	server.Delivery = model.DeliveryConfirmed

	s.mu.Lock()
	list := s.lists[conversationID]

	if server.ClientKey != "" {
		for i := range list {
			if list[i].ClientKey != server.ClientKey {
				continue
			}
			if list[i].Delivery == model.DeliveryConfirmed {
				// Already confirmed under this key: duplicate delivery.
				s.mu.Unlock()
				return ReconcileDuplicate
			}
			// The confirmed copy may already have landed through a page
			// fetch that raced the ack. Collapse to the earlier entry
			// instead of confirming the draft into a second copy of the
			// same server id.
			if server.ID != "" && indexByID(list, server.ID) >= 0 {
				s.lists[conversationID] = append(list[:i], list[i+1:]...)
				s.mu.Unlock()
				s.bus.Emit(bus.KindMessageReconciled, server)
				return ReconcileDuplicate
			}
			s.replaceAt(list, i, server)
			s.mu.Unlock()
			s.bus.Emit(bus.KindMessageReconciled, server)
			return ReconcileReplaced
		}
	}

	if server.ID != "" && indexByID(list, server.ID) >= 0 {
		s.mu.Unlock()
		return ReconcileDuplicate
	}

	if server.ClientKey == "" && server.FromSelf {
		if i := s.heuristicMatch(list, server); i >= 0 {
			s.replaceAt(list, i, server)
			s.mu.Unlock()
			s.bus.Emit(bus.KindMessageReconciled, server)
			return ReconcileReplaced
		}
	}

	s.lists[conversationID] = append(list, server)
	s.mu.Unlock()
	s.bus.Emit(bus.KindMessageReconciled, server)
	return ReconcileAppended
}

// replaceAt confirms the draft at index i in place, keeping its position and
// clientKey.
func (s *MessageStore) replaceAt(list []model.Message, i int, server model.Message) {
	key := list[i].ClientKey
	if server.ClientKey == "" {
		server.ClientKey = key
	}
	list[i] = server
}

// indexByID returns the index of the entry with the given server id, or -1.
func indexByID(list []model.Message, id string) int {
	for i := range list {
		if list[i].ID == id {
			return i
		}
	}
	return -1
}

// heuristicMatch locates a pending, self-authored entry whose text is
// byte-equal and whose local timestamp falls within the configured window of
// the server timestamp. Used only when the relay omitted the clientKey.
func (s *MessageStore) heuristicMatch(list []model.Message, server model.Message) int {
	for i := range list {
		m := &list[i]
		if m.Delivery != model.DeliveryPending || !m.FromSelf {
			continue
		}
		if m.Text != server.Text {
			continue
		}
		delta := m.CreatedAt.Sub(server.CreatedAt)
		if delta < 0 {
			delta = -delta
		}
		if delta <= s.window {
			return i
		}
	}
	return -1
}

// MarkFailed transitions a pending entry to failed without removing it, so
// the user can see and retry or discard it.
func (s *MessageStore) MarkFailed(clientKey string) bool {
	s.mu.Lock()
	m := s.findByKey(clientKey, model.DeliveryPending)
	if m == nil {
		s.mu.Unlock()
		return false
	}
	m.Delivery = model.DeliveryFailed
	snapshot := *m
	s.mu.Unlock()
	s.bus.Emit(bus.KindMessageFailed, snapshot)
	return true
}

// Retry transitions a failed entry back to pending under the same clientKey
// for resubmission. Returns the draft to resend.
func (s *MessageStore) Retry(clientKey string) (model.Message, bool) {
	s.mu.Lock()
	m := s.findByKey(clientKey, model.DeliveryFailed)
	if m == nil {
		s.mu.Unlock()
		return model.Message{}, false
	}
	m.Delivery = model.DeliveryPending
	snapshot := *m
	s.mu.Unlock()
	s.bus.Emit(bus.KindMessageAppended, snapshot)
	return snapshot, true
}

// Discard removes a failed draft.
func (s *MessageStore) Discard(clientKey string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for convID, list := range s.lists {
		for i := range list {
			if list[i].ClientKey == clientKey && list[i].Delivery == model.DeliveryFailed {
				s.lists[convID] = append(list[:i], list[i+1:]...)
				return true
			}
		}
	}
	return false
}

// IngestPage merges a fetched message page: entries already present by
// server id are skipped, entries echoing an unconfirmed draft's clientKey
// confirm that draft in place, new ones are inserted in timestamp order
// without disturbing existing entries. Returns the number of list changes.
func (s *MessageStore) IngestPage(conversationID string, page []model.Message) int {
	s.mu.Lock()
	list := s.lists[conversationID]
	seen := make(map[string]bool, len(list))
	for _, m := range list {
		if m.ID != "" {
			seen[m.ID] = true
		}
	}

	changed := 0
	for _, m := range page {
		if m.ID == "" || seen[m.ID] {
			continue
		}
		seen[m.ID] = true
		m.ConversationID = conversationID
		m.Delivery = model.DeliveryConfirmed
		// A page can carry the confirmation of a send whose ack never
		// arrived. Confirm the draft in place rather than inserting a
		// second copy next to it.
		if m.ClientKey != "" {
			if i := indexByUnconfirmedKey(list, m.ClientKey); i >= 0 {
				s.replaceAt(list, i, m)
				changed++
				continue
			}
		}
		// Insert after the last entry not newer than m, so equal timestamps
		// keep insertion order.
		pos := sort.Search(len(list), func(i int) bool {
			return list[i].CreatedAt.After(m.CreatedAt)
		})
		list = append(list, model.Message{})
		copy(list[pos+1:], list[pos:])
		list[pos] = m
		changed++
	}
	s.lists[conversationID] = list
	s.mu.Unlock()

	if changed > 0 {
		s.bus.Emit(bus.KindMessagePageIngested, conversationID)
	}
	return changed
}

// indexByUnconfirmedKey returns the index of the pending or failed draft with
// the given clientKey, or -1.
func indexByUnconfirmedKey(list []model.Message, clientKey string) int {
	for i := range list {
		if list[i].ClientKey == clientKey && list[i].Delivery != model.DeliveryConfirmed {
			return i
		}
	}
	return -1
}

// Messages returns a snapshot copy of a conversation's ordered list.
func (s *MessageStore) Messages(conversationID string) []model.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := s.lists[conversationID]
	out := make([]model.Message, len(list))
	copy(out, list)
	return out
}

// findByKey returns a pointer into the stored list for the entry with the
// given clientKey in the given delivery state. Caller holds the lock.
func (s *MessageStore) findByKey(clientKey string, state model.DeliveryState) *model.Message {
	for _, list := range s.lists {
		for i := range list {
			if list[i].ClientKey == clientKey && list[i].Delivery == state {
				return &list[i]
			}
		}
	}
	return nil
}
