package whatsapp

import (
	"context"
	"fmt"

	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/types"

	"zideebot/internal/domain"
)

func (c *Client) GroupInfo(ctx context.Context, chatID string) (*domain.GroupInfo, error) {
	info, err := c.groupInfo(ctx, chatID)
	if err != nil {
		return nil, err
	}
	return toGroupInfo(info), nil
}

func (c *Client) groupInfo(ctx context.Context, chatID string) (*types.GroupInfo, error) {
	if !c.Online() {
		return nil, ErrNotConnected
	}
	jid, err := types.ParseJID(chatID)
	if err != nil || jid.Server != types.GroupServer {
		return nil, fmt.Errorf("not a group chat: %q", chatID)
	}
	info, err := c.waClient().GetGroupInfo(ctx, jid)
	if err != nil {
		return nil, fmt.Errorf("group info: %w", err)
	}
	return info, nil
}

// SetAnnounce toggles admins-only messaging for the group.
func (c *Client) SetAnnounce(ctx context.Context, chatID string, adminsOnly bool) error {
	if !c.Online() {
		return ErrNotConnected
	}
	jid, err := types.ParseJID(chatID)
	if err != nil {
		return fmt.Errorf("invalid group id %q: %w", chatID, err)
	}
	if err := c.waClient().SetGroupAnnounce(ctx, jid, adminsOnly); err != nil {
		return fmt.Errorf("set announce: %w", err)
	}
	return nil
}

// RemoveParticipant removes user (phone, LID or JID) from the group. The
// member is looked up first so the server gets the JID it addresses the
// member by.
func (c *Client) RemoveParticipant(ctx context.Context, chatID, user string) error {
	info, err := c.groupInfo(ctx, chatID)
	if err != nil {
		return err
	}
	target, ok := participantJID(info, user)
	if !ok {
		return fmt.Errorf("participant %s not in group", domain.UserPart(user))
	}
	res, err := c.waClient().UpdateGroupParticipants(ctx, info.JID, []types.JID{target}, whatsmeow.ParticipantChangeRemove)
	if err != nil {
		return fmt.Errorf("remove participant: %w", err)
	}
	for _, p := range res {
		if p.Error != 0 {
			return fmt.Errorf("remove participant: server error %d", p.Error)
		}
	}
	return nil
}

// SelfIDs returns the bot's own phone JID and LID, when known.
func (c *Client) SelfIDs() []string {
	cli := c.waClient()
	if cli == nil || cli.Store == nil {
		return nil
	}
	var ids []string
	if cli.Store.ID != nil {
		ids = append(ids, cli.Store.ID.String())
	}
	if !cli.Store.LID.IsEmpty() {
		ids = append(ids, cli.Store.LID.String())
	}
	return ids
}
