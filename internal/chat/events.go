package chat

// EventType names a change the subscription layer pushes to clients.
type EventType string

const (
	EventUserUpdated         EventType = "user.updated"
	EventConversationUpdated EventType = "conversation.updated"
	EventMessageCreated      EventType = "message.created"
	EventMessageUpdated      EventType = "message.updated"
	EventReceiptUpdated      EventType = "receipt.updated"
	EventTypingUpdated       EventType = "typing.updated"
)

// Event tells subscribers which records changed. Clients re-run the
// affected queries on receipt. An event without recipients goes to every
// connected user.
type Event struct {
	Type           EventType `json:"type"`
	ConversationID string    `json:"conversation_id,omitempty"`
	MessageID      string    `json:"message_id,omitempty"`
	UserID         string    `json:"user_id,omitempty"`
	Recipients     []string  `json:"recipients,omitempty"`
	At             int64     `json:"at"`
}

// Notifier delivers change events. Publish must not block on slow clients.
type Notifier interface {
	Publish(ev Event)
}

// Pusher sends out-of-band notifications for new messages. NotifyMessage
// must return promptly; delivery happens in the background.
type Pusher interface {
	NotifyMessage(msg *MessageNotification)
}

// MessageNotification describes a freshly appended message.
type MessageNotification struct {
	ConversationID string
	MessageID      string
	SenderName     string
	Content        string
	Recipients     []string
}

func (s *Service) emit(ev Event) {
	if s.notifier == nil {
		return
	}
	if ev.At == 0 {
		ev.At = s.now()
	}
	s.notifier.Publish(ev)
}
