package realtime

import (
	"context"
	"time"

	"protoimsg/cmd/internal/community"
	"protoimsg/cmd/internal/dm"
	"protoimsg/cmd/internal/presence"
	"protoimsg/cmd/internal/records"
	"protoimsg/cmd/internal/rooms"
	v1 "protoimsg/shared/contracts/realtime/v1"
)

// Dispatch runs the handler for one authenticated frame. A returned error is reported to
// the client; the connection stays open.
func (r *Registry) Dispatch(ctx context.Context, c *Client, f v1.Frame) error {
	switch f.Type {
	case v1.TypePing:
		c.Enqueue(pongFrame)
		return nil
	case v1.TypeJoinRoom:
		var m v1.JoinRoom
		if err := decodeBody(f, &m); err != nil {
			return err
		}
		return r.joinRoom(ctx, c, m.RoomID)
	case v1.TypeLeaveRoom:
		var m v1.LeaveRoom
		if err := decodeBody(f, &m); err != nil {
			return err
		}
		return r.leaveRoom(ctx, c, m.RoomID)
	case v1.TypeStatusChange:
		var m v1.StatusChange
		if err := decodeBody(f, &m); err != nil {
			return err
		}
		return r.statusChange(ctx, c, m)
	case v1.TypeRequestCommunityPresence:
		var m v1.RequestCommunityPresence
		if err := decodeBody(f, &m); err != nil {
			return err
		}
		return r.communityPresence(ctx, c, m.DIDs)
	case v1.TypeRoomTyping:
		var m v1.RoomTyping
		if err := decodeBody(f, &m); err != nil {
			return err
		}
		r.roomTyping(c, m.RoomID)
		return nil
	case v1.TypeSyncBlocks:
		var m v1.SyncBlocks
		if err := decodeBody(f, &m); err != nil {
			return err
		}
		r.blocks.Sync(c.DID, m.BlockedDIDs)
		return nil
	case v1.TypeSyncCommunity:
		var m v1.SyncCommunity
		if err := decodeBody(f, &m); err != nil {
			return err
		}
		return r.syncCommunity(ctx, c, m)
	case v1.TypeDMOpen:
		var m v1.DMOpen
		if err := decodeBody(f, &m); err != nil {
			return err
		}
		return r.dmOpen(ctx, c, m.RecipientDID)
	case v1.TypeDMClose:
		var m v1.DMClose
		if err := decodeBody(f, &m); err != nil {
			return err
		}
		return r.dmClose(ctx, c, m.ConversationID)
	case v1.TypeDMSend:
		var m v1.DMSend
		if err := decodeBody(f, &m); err != nil {
			return err
		}
		return r.dmSend(ctx, c, m)
	case v1.TypeDMTyping:
		var m v1.DMTyping
		if err := decodeBody(f, &m); err != nil {
			return err
		}
		return r.dmTyping(c, m.ConversationID)
	case v1.TypeDMTogglePersist:
		var m v1.DMTogglePersist
		if err := decodeBody(f, &m); err != nil {
			return err
		}
		return r.dmTogglePersist(ctx, c, m)
	default:
		return clientErr(v1.ErrCodeInvalidMessage, "Unknown message type")
	}
}

func decodeBody(f v1.Frame, dst any) error {
	if err := f.Body(dst); err != nil {
		return clientErr(v1.ErrCodeInvalidMessage, "Invalid message format")
	}
	return records.ValidateStruct(dst)
}

// ---- rooms ----

func (r *Registry) joinRoom(ctx context.Context, c *Client, roomID string) error {
	if err := rooms.CheckJoin(ctx, r.rooms, roomID, c.DID); err != nil {
		return err
	}
	r.roomHub.Subscribe(roomID, c)
	if err := r.presence.JoinRoom(ctx, c.DID, roomID); err != nil {
		return err
	}

	members, err := r.presence.RoomMembers(ctx, roomID)
	if err != nil {
		return err
	}
	c.Enqueue(encode(v1.RoomJoined{Type: v1.TypeRoomJoined, RoomID: roomID, Members: entries(members)}))

	rec, err := r.presence.Presence(ctx, c.DID)
	if err != nil {
		return err
	}
	r.roomHub.Broadcast(roomID, presenceFrame(presence.Public(c.DID, rec)), nil)
	return nil
}

func (r *Registry) leaveRoom(ctx context.Context, c *Client, roomID string) error {
	r.roomHub.Unsubscribe(roomID, c)
	if r.roomHub.HasDID(roomID, c.DID) {
		return nil
	}
	if err := r.presence.LeaveRoom(ctx, c.DID, roomID); err != nil {
		return err
	}
	r.roomHub.Broadcast(roomID, offlineFrame(c.DID), nil)
	return nil
}

func (r *Registry) roomTyping(c *Client, roomID string) {
	if !r.roomHub.IsSubscribed(roomID, c) {
		return
	}
	frame := encode(v1.RoomTypingEvent{Type: v1.TypeRoomTyping, RoomID: roomID, DID: c.DID})
	r.roomHub.BroadcastFunc(roomID, frame, func(o *Client) bool { return o.DID != c.DID })
}

// ---- presence ----

func (r *Registry) statusChange(ctx context.Context, c *Client, m v1.StatusChange) error {
	var vis presence.Visibility
	if m.VisibleTo != "" {
		vis = presence.ParseVisibility(m.VisibleTo)
	}
	rec, err := r.presence.ChangeStatus(ctx, c.DID, presence.ParseStatus(m.Status), m.AwayMessage, vis)
	if err != nil {
		return err
	}

	joined, err := r.presence.UserRooms(ctx, c.DID)
	if err != nil {
		return err
	}
	frame := presenceFrame(presence.Public(c.DID, rec))
	for _, roomID := range joined {
		r.roomHub.Broadcast(roomID, frame, nil)
	}
	r.watch.Notify(c.DID, rec.Status, rec.AwayMessage, rec.Visibility)
	return nil
}

func (r *Registry) communityPresence(ctx context.Context, c *Client, dids []string) error {
	obs, err := r.presence.ObserveMany(ctx, c.DID, dids)
	if err != nil {
		return err
	}
	c.Enqueue(encode(v1.CommunityPresence{Type: v1.TypeCommunityPresence, Data: entries(obs)}))
	r.watch.Watch(c, dids)
	return nil
}

func (r *Registry) syncCommunity(ctx context.Context, c *Client, m v1.SyncCommunity) error {
	groups := make([]community.Group, 0, len(m.Groups))
	for _, g := range m.Groups {
		members := make([]community.Member, 0, len(g.Members))
		for _, mem := range g.Members {
			added, _ := time.Parse(time.RFC3339Nano, mem.AddedAt)
			members = append(members, community.Member{DID: mem.DID, AddedAt: added.UTC()})
		}
		groups = append(groups, community.Group{Name: g.Name, IsInnerCircle: g.IsInnerCircle, Members: members})
	}
	return r.community.Put(ctx, c.DID, community.Dedupe(groups))
}

// ---- direct messages ----

var errBlocked = clientErr(v1.ErrCodeBlocked, "Cannot message this user")

func dmWire(m dm.Message) v1.DMMessage {
	return v1.DMMessage{
		ID:             m.ID,
		ConversationID: m.ConversationID,
		SenderDID:      m.SenderDID,
		Text:           m.Text,
		CreatedAt:      m.CreatedAt,
	}
}

func (r *Registry) dmOpen(ctx context.Context, c *Client, recipient string) error {
	if r.blocks.IsBlocked(c.DID, recipient) {
		return errBlocked
	}
	res, err := r.dms.Open(ctx, c.DID, recipient)
	if err != nil {
		return err
	}
	r.dmHub.Subscribe(res.Conversation.ID, c)

	msgs := make([]v1.DMMessage, 0, len(res.Messages))
	for _, m := range res.Messages {
		msgs = append(msgs, dmWire(m))
	}
	c.Enqueue(encode(v1.DMOpened{
		Type:           v1.TypeDMOpened,
		ConversationID: res.Conversation.ID,
		RecipientDID:   recipient,
		Persist:        res.Conversation.Persist,
		Messages:       msgs,
	}))
	return nil
}

func (r *Registry) dmClose(ctx context.Context, c *Client, conversationID string) error {
	if r.dmHub.Unsubscribe(conversationID, c) > 0 {
		return nil
	}
	_, err := r.dms.CleanupIfEmpty(ctx, conversationID)
	return err
}

func (r *Registry) dmSend(ctx context.Context, c *Client, m v1.DMSend) error {
	conv, err := r.dms.Conversation(ctx, m.ConversationID, c.DID)
	if err != nil {
		return err
	}
	if r.blocks.IsBlocked(c.DID, conv.Other(c.DID)) {
		return errBlocked
	}
	res, err := r.dms.Send(ctx, m.ConversationID, c.DID, m.Text)
	if err != nil {
		return err
	}

	topic := res.Message.ConversationID
	r.dmHub.Broadcast(topic, encode(v1.DMMessageEvent{Type: v1.TypeDMMessage, Data: dmWire(res.Message)}), nil)

	incoming := encode(v1.DMIncoming{
		Type:           v1.TypeDMIncoming,
		ConversationID: topic,
		SenderDID:      c.DID,
		Preview:        dm.Preview(res.Message.Text),
	})
	r.SendToDID(res.RecipientDID, incoming, func(o *Client) bool { return !r.dmHub.IsSubscribed(topic, o) })
	return nil
}

func (r *Registry) dmTyping(c *Client, conversationID string) error {
	if !r.dmHub.IsSubscribed(conversationID, c) {
		return clientErr(v1.ErrCodeNotParticipant, "Conversation is not open")
	}
	frame := encode(v1.DMTypingEvent{Type: v1.TypeDMTyping, ConversationID: conversationID, SenderDID: c.DID})
	r.dmHub.BroadcastFunc(conversationID, frame, func(o *Client) bool { return o.DID != c.DID })
	return nil
}

func (r *Registry) dmTogglePersist(ctx context.Context, c *Client, m v1.DMTogglePersist) error {
	if err := r.dms.TogglePersist(ctx, m.ConversationID, c.DID, m.Persist); err != nil {
		return err
	}
	r.dmHub.Broadcast(m.ConversationID, encode(v1.DMPersistChanged{
		Type:           v1.TypeDMPersistChanged,
		ConversationID: m.ConversationID,
		Persist:        m.Persist,
		ChangedBy:      c.DID,
	}), nil)
	return nil
}
