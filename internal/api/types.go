package api

import (
	"time"

	"github.com/taskora/chatsync/internal/model"
)

// conversationDTO is the wire shape of a conversation summary. Favorite is a
// pointer so a payload that omits it can be told apart from favorite=false.
type conversationDTO struct {
	ID            string              `json:"id"`
	Participants  []model.Participant `json:"participants"`
	About         string              `json:"about,omitempty"`
	LastMessageAt time.Time           `json:"lastMessageAt"`
	UnreadCount   int                 `json:"unreadCount"`
	Favorite      *bool               `json:"favorite,omitempty"`
}

func (d conversationDTO) toModel() model.Conversation {
	c := model.Conversation{
		ID:             d.ID,
		Participants:   d.Participants,
		About:          d.About,
		LastActivityAt: d.LastMessageAt,
		UnreadCount:    d.UnreadCount,
	}
	if d.Favorite != nil {
		c.IsFavorite = *d.Favorite
		c.HasFavorite = true
	}
	return c
}

// CreateConversationRequest starts a conversation with another user,
// optionally anchored to a gig or an order.
type CreateConversationRequest struct {
	OtherUserID    string `json:"otherUserId"`
	ServiceID      string `json:"serviceId,omitempty"`
	OrderID        string `json:"orderId,omitempty"`
	InitialMessage string `json:"initialMessage,omitempty"`
}

// Upload is an attachment body for the multipart send fallback. The upload
// transport itself is opaque to the core.
type Upload struct {
	Name     string
	MimeType string
	Data     []byte
}

type favoriteResponse struct {
	Favorite bool `json:"favorite"`
}
