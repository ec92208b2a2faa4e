// Package model holds the domain types shared by the stores, the channel
// layer and the REST client.
package model

import "time"

// DeliveryState tracks the lifecycle of a locally originated message.
type DeliveryState string

const (
	DeliveryPending   DeliveryState = "pending"
	DeliveryConfirmed DeliveryState = "confirmed"
	DeliveryFailed    DeliveryState = "failed"
)

// Participant is a user taking part in a conversation.
type Participant struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
	AvatarURL   string `json:"avatarUrl,omitempty"`
	Role        string `json:"role,omitempty"` // buyer, seller, admin
}

// Conversation is a summary of one conversation as the client mirrors it.
//
// The favorite/pin/archive flags are client-authoritative once asserted:
// a server payload that omits them must never clobber a locally set value.
// HasFavorite reports whether the incoming payload carried the favorite
// flag at all; pin and archive are device-local and never arrive from the
// server.
type Conversation struct {
	ID             string        `json:"id"`
	Participants   []Participant `json:"participants"`
	About          string        `json:"about,omitempty"`
	LastActivityAt time.Time     `json:"lastActivityAt"`
	UnreadCount    int           `json:"unreadCount"`
	IsFavorite     bool          `json:"isFavorite"`
	IsPinned       bool          `json:"isPinned"`
	IsArchived     bool          `json:"isArchived"`
	HasFavorite    bool          `json:"-"`
}

// Counterpart returns the first participant whose ID differs from selfID,
// falling back to the first participant.
func (c *Conversation) Counterpart(selfID string) Participant {
	for _, p := range c.Participants {
		if p.ID != selfID {
			return p
		}
	}
	if len(c.Participants) > 0 {
		return c.Participants[0]
	}
	return Participant{}
}

// Attachment is an opaque reference to an uploaded resource.
type Attachment struct {
	URL      string `json:"url"`
	Name     string `json:"name,omitempty"`
	MimeType string `json:"mimeType,omitempty"`
}

// Message is one entry in a conversation's message list.
//
// ID is assigned by the server once the message is confirmed and is empty
// for local drafts. ClientKey is always present on self-authored messages
// and is the reconciliation handle; it is never used as the display id.
type Message struct {
	ID             string        `json:"id,omitempty"`
	ClientKey      string        `json:"clientKey,omitempty"`
	ConversationID string        `json:"conversationId"`
	AuthorID       string        `json:"authorId"`
	Text           string        `json:"text,omitempty"`
	Attachments    []Attachment  `json:"attachments,omitempty"`
	CreatedAt      time.Time     `json:"createdAt"`
	FromSelf       bool          `json:"fromSelf"`
	Delivery       DeliveryState `json:"delivery"`
}

// User is a minimal account reference returned by user search and the
// session snapshot.
type User struct {
	ID          string `json:"id"`
	Username    string `json:"username"`
	DisplayName string `json:"displayName"`
	AvatarURL   string `json:"avatarUrl,omitempty"`
}
