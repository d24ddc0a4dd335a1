package domain

import "context"

// Channel is the interface for user-facing I/O (WhatsApp, console).
type Channel interface {
	Name() string
	Start(ctx context.Context, bus MessageBus) error
	Stop() error
	Send(ctx context.Context, chatID string, content string) error
}

// Sender delivers outbound messages and reports whether the transport is
// currently able to do so.
type Sender interface {
	SendText(ctx context.Context, chatID, text, replyTo string) error
	SendMedia(ctx context.Context, chatID string, media Media, replyTo string) error
	Online() bool
}

// Participant is a member of a group chat.
type Participant struct {
	ID         string // user part of the JID, e.g. 6281234567890
	LID        string
	Phone      string
	IsAdmin    bool
	SuperAdmin bool
}

// GroupInfo is the subset of group metadata the bot needs.
type GroupInfo struct {
	ID           string
	Name         string
	Announce     bool // only admins can send messages
	Participants []Participant
}

// Find returns the participant matching the given user id, phone or LID.
func (g *GroupInfo) Find(user string) (Participant, bool) {
	user = UserPart(user)
	for _, p := range g.Participants {
		if p.ID == user || (p.Phone != "" && p.Phone == user) || (p.LID != "" && p.LID == user) {
			return p, true
		}
	}
	return Participant{}, false
}

// IsAdmin reports whether user is an admin or super admin of the group.
func (g *GroupInfo) IsAdmin(user string) bool {
	p, ok := g.Find(user)
	return ok && (p.IsAdmin || p.SuperAdmin)
}

// GroupAdmin exposes the group administration calls of the messaging
// transport.
type GroupAdmin interface {
	GroupInfo(ctx context.Context, chatID string) (*GroupInfo, error)
	SetAnnounce(ctx context.Context, chatID string, adminsOnly bool) error
	RemoveParticipant(ctx context.Context, chatID, user string) error
	// SelfIDs returns the bot's own user ids (phone and LID when known).
	SelfIDs() []string
}
