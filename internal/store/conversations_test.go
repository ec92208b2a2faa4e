package store

import (
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/taskora/chatsync/internal/bus"
	"github.com/taskora/chatsync/internal/model"
)

// memFlags records flag writes in memory.
type memFlags struct {
	favorites map[string]bool
	pins      map[string]bool
	archived  map[string]bool
}

func newMemFlags() *memFlags {
	return &memFlags{
		favorites: map[string]bool{},
		pins:      map[string]bool{},
		archived:  map[string]bool{},
	}
}

func (m *memFlags) SetFavorite(id string, v bool) error { m.favorites[id] = v; return nil }
func (m *memFlags) SetPinned(id string, v bool) error   { m.pins[id] = v; return nil }
func (m *memFlags) SetArchived(id string, v bool) error { m.archived[id] = v; return nil }

func testConvStore(t *testing.T) (*ConversationStore, *memFlags) {
	t.Helper()
	flags := newMemFlags()
	return NewConversationStore(bus.New(), flags, zap.NewNop()), flags
}

func conv(id string, t time.Time) model.Conversation {
	return model.Conversation{
		ID:             id,
		Participants:   []model.Participant{{ID: "u-" + id, DisplayName: "User " + id}},
		LastActivityAt: t,
	}
}

func TestUpsertManyPreservesClientFlags(t *testing.T) {
	s, _ := testConvStore(t)
	base := time.Now()

	s.UpsertMany([]model.Conversation{conv("a", base)})
	s.TogglePin("a")
	s.ToggleArchive("a")
	s.ToggleFavorite("a")

	// A refresh that omits every flag must not clobber them.
	s.UpsertMany([]model.Conversation{conv("a", base.Add(time.Minute))})

	got, ok := s.Get("a")
	if !ok {
		t.Fatal("conversation lost")
	}
	if !got.IsPinned || !got.IsArchived || !got.IsFavorite {
		t.Errorf("flags clobbered: pinned=%v archived=%v favorite=%v", got.IsPinned, got.IsArchived, got.IsFavorite)
	}

	// A payload that does carry favorite takes effect.
	update := conv("a", base.Add(2*time.Minute))
	update.HasFavorite = true
	update.IsFavorite = false
	s.UpsertMany([]model.Conversation{update})

	got, _ = s.Get("a")
	if got.IsFavorite {
		t.Error("explicit favorite=false from server not applied")
	}
	if !got.IsPinned || !got.IsArchived {
		t.Error("device-local flags clobbered by favorite-bearing payload")
	}
}

func TestOrderingLaw(t *testing.T) {
	s, _ := testConvStore(t)
	epoch := time.Unix(0, 0)

	a := conv("a", epoch.Add(10*time.Second))
	b := conv("b", epoch.Add(1*time.Second))
	c := conv("c", epoch.Add(5*time.Second))
	s.UpsertMany([]model.Conversation{a, b, c})
	s.TogglePin("b")
	s.ToggleFavorite("c")

	got := s.List(TabAll, "")
	if len(got) != 3 {
		t.Fatalf("got %d conversations, want 3", len(got))
	}
	want := []string{"b", "c", "a"}
	for i, id := range want {
		if got[i].ID != id {
			t.Errorf("list[%d] = %s, want %s (full order %v)", i, got[i].ID, id, ids(got))
		}
	}
}

func ids(convs []model.Conversation) []string {
	out := make([]string, len(convs))
	for i, c := range convs {
		out[i] = c.ID
	}
	return out
}

func TestListTabFilters(t *testing.T) {
	s, _ := testConvStore(t)
	now := time.Now()
	s.UpsertMany([]model.Conversation{conv("plain", now), conv("fav", now), conv("arch", now), conv("favarch", now)})
	s.ToggleFavorite("fav")
	s.ToggleArchive("arch")
	s.ToggleFavorite("favarch")
	s.ToggleArchive("favarch")

	if got := ids(s.List(TabAll, "")); len(got) != 2 {
		t.Errorf("all tab = %v, want plain+fav", got)
	}
	favs := s.List(TabFavorites, "")
	if len(favs) != 1 || favs[0].ID != "fav" {
		t.Errorf("favorites tab = %v, want [fav]", ids(favs))
	}
	arch := s.List(TabArchived, "")
	if len(arch) != 2 {
		t.Errorf("archived tab = %v, want arch+favarch", ids(arch))
	}
}

func TestListQueryFilter(t *testing.T) {
	s, _ := testConvStore(t)
	now := time.Now()
	alice := model.Conversation{ID: "1", Participants: []model.Participant{{ID: "u1", DisplayName: "Alice Seller"}}, LastActivityAt: now}
	bob := model.Conversation{ID: "2", Participants: []model.Participant{{ID: "u2", DisplayName: "Bob Buyer"}}, LastActivityAt: now}
	s.UpsertMany([]model.Conversation{alice, bob})

	got := s.List(TabAll, "aLiCe")
	if len(got) != 1 || got[0].ID != "1" {
		t.Errorf("query match = %v, want [1]", ids(got))
	}
	if got := s.List(TabAll, "zzz"); len(got) != 0 {
		t.Errorf("no-match query returned %v", ids(got))
	}
}

func TestUnreadLaw(t *testing.T) {
	s, _ := testConvStore(t)
	s.UpsertMany([]model.Conversation{conv("a", time.Now())})

	// Inbound non-self on inactive conversation: +1 exactly.
	s.ApplyInboundNotification("a", false)
	if got, _ := s.Get("a"); got.UnreadCount != 1 {
		t.Errorf("unread = %d, want 1", got.UnreadCount)
	}

	// Self-authored: no-op.
	s.ApplyInboundNotification("a", true)
	if got, _ := s.Get("a"); got.UnreadCount != 1 {
		t.Errorf("unread after self = %d, want 1", got.UnreadCount)
	}

	// Active conversation: no-op.
	s.SetActive("a")
	s.ApplyInboundNotification("a", false)
	if got, _ := s.Get("a"); got.UnreadCount != 1 {
		t.Errorf("unread while active = %d, want 1", got.UnreadCount)
	}
}

func TestMarkReadIdempotent(t *testing.T) {
	s, _ := testConvStore(t)
	s.UpsertMany([]model.Conversation{conv("a", time.Now())})
	s.ApplyInboundNotification("a", false)
	s.ApplyInboundNotification("a", false)

	s.MarkRead("a")
	if got, _ := s.Get("a"); got.UnreadCount != 0 {
		t.Fatalf("unread = %d, want 0", got.UnreadCount)
	}
	s.MarkRead("a")
	if got, _ := s.Get("a"); got.UnreadCount != 0 {
		t.Errorf("unread after second MarkRead = %d, want 0", got.UnreadCount)
	}
}

func TestTogglesWriteThrough(t *testing.T) {
	s, flags := testConvStore(t)
	s.UpsertMany([]model.Conversation{conv("a", time.Now())})

	if v := s.ToggleFavorite("a"); !v {
		t.Error("ToggleFavorite returned false")
	}
	if !flags.favorites["a"] {
		t.Error("favorite not persisted")
	}
	s.ToggleFavorite("a")
	if flags.favorites["a"] {
		t.Error("favorite un-set not persisted")
	}

	s.TogglePin("a")
	if !flags.pins["a"] {
		t.Error("pin not persisted")
	}
	s.ToggleArchive("a")
	if !flags.archived["a"] {
		t.Error("archive not persisted")
	}
}

func TestRestoreFlagsBeforeFetch(t *testing.T) {
	s, _ := testConvStore(t)
	s.RestoreFlags(map[string]bool{"a": true}, map[string]bool{"a": true}, nil)

	// Summary arrives after restore; flags must survive the upsert.
	s.UpsertMany([]model.Conversation{conv("a", time.Now())})
	got, ok := s.Get("a")
	if !ok {
		t.Fatal("conversation missing")
	}
	if !got.IsFavorite || !got.IsPinned {
		t.Errorf("restored flags lost: favorite=%v pinned=%v", got.IsFavorite, got.IsPinned)
	}
}

func TestUpsertKeepsNewerActivity(t *testing.T) {
	s, _ := testConvStore(t)
	now := time.Now()
	s.UpsertMany([]model.Conversation{conv("a", now)})
	// A stale page must not roll the activity time backwards.
	s.UpsertMany([]model.Conversation{conv("a", now.Add(-time.Hour))})

	got, _ := s.Get("a")
	if !got.LastActivityAt.Equal(now) {
		t.Errorf("lastActivityAt = %v, want %v", got.LastActivityAt, now)
	}
}
