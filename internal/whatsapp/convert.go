package whatsapp

import (
	"strings"

	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"

	"zideebot/internal/domain"
)

const channelName = "whatsapp"

// toInbound converts a whatsmeow message event. Own messages, status
// broadcasts, newsletters and messages without text are skipped.
func toInbound(evt *events.Message) (domain.InboundMessage, bool) {
	if evt == nil || evt.Message == nil || evt.Info.IsFromMe {
		return domain.InboundMessage{}, false
	}
	chat := evt.Info.Chat
	if chat == types.StatusBroadcastJID || chat.Server == types.BroadcastServer || chat.Server == types.NewsletterServer {
		return domain.InboundMessage{}, false
	}
	text := strings.TrimSpace(messageText(evt.Message))
	if text == "" {
		return domain.InboundMessage{}, false
	}

	in := domain.InboundMessage{
		Channel:   channelName,
		ChatID:    chat.String(),
		SenderID:  evt.Info.Sender.ToNonAD().String(),
		PushName:  evt.Info.PushName,
		MessageID: evt.Info.ID,
		Content:   text,
		Timestamp: evt.Info.Timestamp,
	}
	if ci := contextInfo(evt.Message); ci != nil && ci.GetStanzaID() != "" {
		in.QuotedMessageID = ci.GetStanzaID()
		in.QuotedAuthor = ci.GetParticipant()
	}
	return in, true
}

func messageText(m *waE2E.Message) string {
	switch {
	case m.GetConversation() != "":
		return m.GetConversation()
	case m.GetExtendedTextMessage() != nil:
		return m.GetExtendedTextMessage().GetText()
	case m.GetImageMessage() != nil:
		return m.GetImageMessage().GetCaption()
	case m.GetVideoMessage() != nil:
		return m.GetVideoMessage().GetCaption()
	case m.GetDocumentMessage() != nil:
		return m.GetDocumentMessage().GetCaption()
	}
	return ""
}

func contextInfo(m *waE2E.Message) *waE2E.ContextInfo {
	switch {
	case m.GetExtendedTextMessage() != nil:
		return m.GetExtendedTextMessage().GetContextInfo()
	case m.GetImageMessage() != nil:
		return m.GetImageMessage().GetContextInfo()
	case m.GetVideoMessage() != nil:
		return m.GetVideoMessage().GetContextInfo()
	}
	return nil
}

// parseJID accepts a full JID, a legacy "@c.us" id or a bare phone number.
func parseJID(id string) (types.JID, error) {
	return types.ParseJID(domain.PhoneJID(id))
}

func toGroupInfo(info *types.GroupInfo) *domain.GroupInfo {
	g := &domain.GroupInfo{
		ID:       info.JID.String(),
		Name:     info.Name,
		Announce: info.IsAnnounce,
	}
	for _, p := range info.Participants {
		g.Participants = append(g.Participants, domain.Participant{
			ID:         p.JID.User,
			LID:        p.LID.User,
			Phone:      p.PhoneNumber.User,
			IsAdmin:    p.IsAdmin,
			SuperAdmin: p.IsSuperAdmin,
		})
	}
	return g
}

// participantJID finds the group member matching user and returns the JID
// the server knows it by.
func participantJID(info *types.GroupInfo, user string) (types.JID, bool) {
	user = domain.UserPart(user)
	for _, p := range info.Participants {
		if p.JID.User == user || (!p.LID.IsEmpty() && p.LID.User == user) ||
			(!p.PhoneNumber.IsEmpty() && p.PhoneNumber.User == user) {
			return p.JID, true
		}
	}
	return types.JID{}, false
}

// allowSet normalizes allowFrom entries: group ids keep their user part,
// phone numbers are normalized to the international form.
func allowSet(entries []string) map[string]struct{} {
	if len(entries) == 0 {
		return nil
	}
	set := make(map[string]struct{}, len(entries))
	for _, e := range entries {
		e = strings.TrimSpace(e)
		if e == "" {
			continue
		}
		if domain.IsGroupChat(e) {
			set[domain.UserPart(e)] = struct{}{}
			continue
		}
		set[domain.NormalizePhone(domain.UserPart(e))] = struct{}{}
	}
	return set
}

// accept applies the ignoreGroups and allowFrom filters.
func (c *Client) accept(in domain.InboundMessage) bool {
	if c.cfg.IgnoreGroups && in.IsGroup() {
		return false
	}
	if len(c.allow) == 0 {
		return true
	}
	for _, id := range []string{in.ChatID, in.SenderID} {
		user := domain.UserPart(id)
		if !domain.IsGroupChat(id) {
			user = domain.NormalizePhone(user)
		}
		if _, ok := c.allow[user]; ok {
			return true
		}
	}
	return false
}
