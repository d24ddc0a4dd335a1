package domain

import "time"

// InboundMessage is one chat message received from a channel. In group chats
// SenderID is the author inside the group and ChatID is the group itself.
type InboundMessage struct {
	Channel         string
	ChatID          string
	SenderID        string
	PushName        string
	MessageID       string
	Content         string
	QuotedAuthor    string // author of the replied-to message, if any
	QuotedMessageID string
	Timestamp       time.Time
}

// IsGroup reports whether the message was sent in a group chat.
func (m InboundMessage) IsGroup() bool {
	return IsGroupChat(m.ChatID)
}

type MediaKind string

const (
	MediaVideo    MediaKind = "video"
	MediaAudio    MediaKind = "audio"
	MediaDocument MediaKind = "document"
	MediaImage    MediaKind = "image"
)

// Media is a local file attached to an outbound message.
type Media struct {
	Path     string
	Kind     MediaKind
	Caption  string
	Mimetype string
	// Remove deletes Path once the message has been delivered.
	Remove bool
}
