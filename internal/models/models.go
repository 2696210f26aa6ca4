package models

// Timestamps are Unix milliseconds.

type MessageType string

const (
	MessageTypeText  MessageType = "text"
	MessageTypeImage MessageType = "image"
	MessageTypeFile  MessageType = "file"
)

// Valid reports whether t is one of the known message types.
func (t MessageType) Valid() bool {
	switch t {
	case MessageTypeText, MessageTypeImage, MessageTypeFile:
		return true
	}
	return false
}

type User struct {
	ID          string  `json:"id"`
	IdentityKey string  `json:"identity_key"`
	Name        string  `json:"name"`
	Email       string  `json:"email"`
	ImageURL    *string `json:"image_url,omitempty"`
	IsOnline    bool    `json:"is_online"`
	LastSeen    int64   `json:"last_seen"`
	CreatedAt   int64   `json:"created_at"`
}

type Conversation struct {
	ID               string   `json:"id"`
	ParticipantIDs   []string `json:"participant_ids"`
	IsGroup          bool     `json:"is_group"`
	GroupName        *string  `json:"group_name,omitempty"`
	GroupDescription *string  `json:"group_description,omitempty"`
	GroupImage       *string  `json:"group_image,omitempty"`
	CreatedBy        string   `json:"created_by"`
	LastMessageID    *string  `json:"last_message_id,omitempty"`
	LastMessageAt    int64    `json:"last_message_at"`
	CreatedAt        int64    `json:"created_at"`
}

// HasParticipant reports whether userID is among the participants.
func (c *Conversation) HasParticipant(userID string) bool {
	for _, id := range c.ParticipantIDs {
		if id == userID {
			return true
		}
	}
	return false
}

type Reaction struct {
	UserID string `json:"user_id"`
	Emoji  string `json:"emoji"`
}

type Message struct {
	ID             string      `json:"id"`
	ConversationID string      `json:"conversation_id"`
	SenderID       string      `json:"sender_id"`
	Content        string      `json:"content"`
	Type           MessageType `json:"message_type"`
	IsDeleted      bool        `json:"is_deleted"`
	DeletedAt      *int64      `json:"deleted_at,omitempty"`
	Reactions      []Reaction  `json:"reactions"`
	CreatedAt      int64       `json:"created_at"`
}

type ReadReceipt struct {
	ConversationID    string  `json:"conversation_id"`
	UserID            string  `json:"user_id"`
	LastReadMessageID *string `json:"last_read_message_id,omitempty"`
	LastReadAt        int64   `json:"last_read_at"`
}

type TypingIndicator struct {
	ConversationID string `json:"conversation_id"`
	UserID         string `json:"user_id"`
	IsTyping       bool   `json:"is_typing"`
	LastTypingAt   int64  `json:"last_typing_at"`
}

// ConversationSummary is a conversation enriched for the caller's sidebar.
type ConversationSummary struct {
	Conversation
	Participants []*User  `json:"participants"`
	LastMessage  *Message `json:"last_message"`
	UnreadCount  int      `json:"unread_count"`
}

// MessageWithSender carries the resolved sender, nil when the sender is gone.
type MessageWithSender struct {
	Message
	Sender *User `json:"sender"`
}
