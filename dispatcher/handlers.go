package dispatcher

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/samber/lo"

	"office-messenger/contract"
	"office-messenger/domain"
	"office-messenger/envelope"
	apperrors "office-messenger/errors"
)

func (d *Dispatcher) register(sess contract.Session, cmd *domain.RegisterCommand) bool {
	err := d.registry.Register(sess, cmd.Identity)
	success := err == nil

	var payload any
	var message string
	if success {
		ident := sess.Identity()
		payload = onlineUser{Identity: *ident, Timestamp: sess.RegisteredAt().UnixMilli()}
		message = fmt.Sprintf("client profile (%s, %s, %s, %s, %s) attached to connection",
			ident.IP, ident.Domain, ident.UserID, ident.Username, ident.Department)
		d.log.Info(message)
	} else {
		message = "register rejected: identity claim is not well-formed"
		d.log.Warn(message, "err", err, "claim", cmd.Identity)
	}

	d.sendAck(sess, envelope.AckPayload{
		Command: "register",
		Payload: payload,
		Success: success,
		Message: message,
	}, domain.AckRegister)
	return success
}

// channelEntry annotates a directory row with the add action the client UI
// applies to its channel list.
type channelEntry struct {
	Action string `json:"action"`
	domain.Channel
}

func (d *Dispatcher) myChannel(sess contract.Session) bool {
	ident := sess.Identity()
	if ident == nil {
		d.log.Warn("mychannel requires a registered connection", "err", apperrors.ErrNoIdentity)
		return false
	}
	err := d.directory.ChannelsByParticipant(ident.UserID, func(ch domain.Channel) {
		d.sendAck(sess, envelope.AckPayload{
			Command: "mychannel",
			Payload: channelEntry{Action: "add", Channel: ch},
			Success: true,
			Message: fmt.Sprintf("found channel %d", ch.ID),
		}, domain.AckMyChannel)
	})
	if err != nil {
		d.log.Warn("mychannel lookup failed", "user", ident.UserID, "err", err)
		return false
	}
	return true
}

// onlineUser is one presence entry: the attached identity plus the moment it
// registered.
type onlineUser struct {
	domain.Identity
	Timestamp int64 `json:"timestamp"`
}

type onlinePayload struct {
	Channel domain.Name  `json:"channel"`
	Users   []onlineUser `json:"users"`
}

func (d *Dispatcher) online(sess contract.Session, cmd *domain.OnlineCommand) bool {
	channel := cmd.Channel.String()
	sessions := d.registry.All()
	if domain.IsDepartment(channel) {
		sessions = d.registry.FilterByDepartment(channel)
	}

	// Later registrants first; ties keep their relative order.
	sort.SliceStable(sessions, func(i, j int) bool {
		return sessions[i].RegisteredAt().After(sessions[j].RegisteredAt())
	})

	users := lo.FilterMap(sessions, func(s contract.Session, _ int) (onlineUser, bool) {
		ident := s.Identity()
		if ident == nil {
			return onlineUser{}, false
		}
		return onlineUser{Identity: *ident, Timestamp: s.RegisteredAt().UnixMilli()}, true
	})

	return d.sendAck(sess, envelope.AckPayload{
		Command: "online",
		Payload: onlinePayload{Channel: cmd.Channel, Users: users},
		Success: len(users) > 0,
		Message: fmt.Sprintf("found %d connected users", len(users)),
	}, domain.AckOnline)
}

func (d *Dispatcher) latest(sess contract.Session, cmd *domain.LatestCommand) bool {
	channel := cmd.Channel.String()
	count := int(cmd.Count.Value())
	if count <= 0 {
		count = d.latestCount
	}
	records, err := d.store.LatestMessagesByCount(channel, count)
	if err != nil {
		d.log.Warn("latest query failed", "channel", channel, "err", err)
		return false
	}
	for _, rec := range records {
		payload, err := d.codec.PackRecord(channel, rec, false)
		if err != nil {
			d.log.Warn("latest record packing failed", "channel", channel, "id", rec.ID, "err", err)
			continue
		}
		if err := sess.Send(payload); err != nil {
			d.log.Debug("latest push skipped", "channel", channel, "err", err)
		}
	}
	return true
}

func (d *Dispatcher) previous(sess contract.Session, cmd *domain.PreviousCommand) bool {
	channel := cmd.Channel.String()
	count := int(cmd.Count.Value())
	if count <= 0 {
		count = 1
	}
	records, err := d.store.PreviousMessagesByCount(channel, cmd.HeadID.Value(), count)
	if err != nil {
		d.log.Warn("previous query failed", "channel", channel, "err", err)
		records = nil
	}

	// Oldest first, so the client prepends them in display order.
	for i := len(records) - 1; i >= 0; i-- {
		payload, err := d.codec.PackRecord(channel, records[i], true)
		if err != nil {
			d.log.Warn("previous record packing failed", "channel", channel, "id", records[i].ID, "err", err)
			continue
		}
		if err := sess.Send(payload); err != nil {
			d.log.Debug("previous push skipped", "channel", channel, "err", err)
		}
	}

	hasMessages := len(records) > 0
	message := "no more history"
	if hasMessages {
		message = fmt.Sprintf("history of %s loaded", channel)
	}
	d.sendAck(sess, envelope.AckPayload{
		Command: "previous",
		Payload: cmd,
		Success: hasMessages,
		Message: message,
	}, domain.AckPrevious)
	return true
}

func (d *Dispatcher) setRead(sess contract.Session, cmd *domain.SetReadCommand) bool {
	channel := cmd.Channel.String()
	ok, err := d.store.MarkRead(channel, cmd.ID.Value(), int(cmd.Flag.Value()))
	success := err == nil && ok
	if err != nil {
		d.log.Warn("set_read failed", "channel", channel, "id", cmd.ID.Value(), "err", err)
	}

	// The original sender, if online, learns their message was read and may
	// use the cascade flag to propagate the state to their own copy.
	if target, online := d.registry.FindByUserID(cmd.Sender); online {
		cascade := cmd.Cascade
		d.sendAck(target, envelope.AckPayload{
			Command: "set_read",
			Payload: cmd,
			Success: success,
			Cascade: &cascade,
			Message: fmt.Sprintf("marking message #%d of %s read: %t", cmd.ID.Value(), channel, success),
		}, domain.AckSetRead)
	}
	return true
}

func (d *Dispatcher) checkRead(sess contract.Session, cmd *domain.CheckReadCommand) bool {
	channel := cmd.Channel.String()
	read, err := d.store.IsRead(channel, cmd.ID.Value())
	success := err == nil && read
	if err != nil {
		d.log.Warn("check_read failed", "channel", channel, "id", cmd.ID.Value(), "err", err)
	}

	if target, online := d.registry.FindByUserID(cmd.Sender); online {
		d.sendAck(target, envelope.AckPayload{
			Command: "check_read",
			Payload: cmd,
			Success: success,
			Message: fmt.Sprintf("message #%d of %s read state: %t", cmd.ID.Value(), channel, success),
		}, domain.AckCheckRead)
	}

	// Second hop of the cascade: the sender's own copy is marked read too.
	// Best effort; the primary acknowledgement is already out.
	if success {
		senderChannel := cmd.Sender
		marked, err := d.store.MarkRead(senderChannel, cmd.SenderChannelMessageID.Value(), int(cmd.SenderChannelMessageFlag.Value()))
		if err != nil || !marked {
			d.log.Warn("cascade mark-read failed",
				"channel", senderChannel, "id", cmd.SenderChannelMessageID.Value(), "err", err)
		}
	}
	return true
}

// unreadEcho mirrors the request arguments back with the computed count.
type unreadEcho struct {
	domain.UnreadCommand
	Unread int `json:"unread"`
}

func (d *Dispatcher) unread(sess contract.Session, cmd *domain.UnreadCommand) bool {
	channel := cmd.Channel.String()
	count, err := d.store.UnreadCount(channel, cmd.Last.Value())
	if err != nil {
		d.log.Warn("unread query failed", "channel", channel, "err", err)
		return d.sendAck(sess, envelope.AckPayload{
			Command: "unread",
			Payload: unreadEcho{UnreadCommand: *cmd},
			Success: false,
			Message: fmt.Sprintf("unread count of %s unavailable", channel),
		}, domain.AckUnread)
	}
	return d.sendAck(sess, envelope.AckPayload{
		Command: "unread",
		Payload: unreadEcho{UnreadCommand: *cmd, Unread: count},
		Success: true,
		Message: fmt.Sprintf("%s has %d unread messages", channel, count),
	}, domain.AckUnread)
}

func (d *Dispatcher) removeMessage(cmd *domain.RemoveMessageCommand) bool {
	channel := cmd.Channel.String()
	ok, err := d.store.RemoveMessage(channel, cmd.ID.Value())
	success := err == nil && ok
	if err != nil {
		d.log.Warn("remove_message failed", "channel", channel, "id", cmd.ID.Value(), "err", err)
	}

	outcome := "failed"
	if success {
		outcome = "succeeded"
	}
	// Every connected client hears about the removal, whatever channel it
	// is in; retractions must reach clients still displaying the message.
	for _, s := range d.registry.All() {
		d.sendAck(s, envelope.AckPayload{
			Command: "remove_message",
			Payload: cmd,
			Success: success,
			Message: fmt.Sprintf("removing message #%d from %s %s", cmd.ID.Value(), channel, outcome),
		}, domain.AckRemoveMessage)
	}
	return true
}

func (d *Dispatcher) removeChannel(cmd *domain.RemoveChannelCommand) bool {
	channel := cmd.ID.String()
	ok, err := d.store.RemoveChannel(channel)
	success := err == nil && ok
	if err != nil {
		d.log.Warn("remove_channel failed", "channel", channel, "err", err)
	}

	message := fmt.Sprintf("channel %s / %s removed", channel, cmd.ChannelName)
	if !success {
		message = fmt.Sprintf("removing channel %s / %s failed, try again later", channel, cmd.ChannelName)
	}
	for _, userID := range cmd.Participants {
		target, online := d.registry.FindByUserID(userID)
		if !online {
			continue
		}
		d.sendAck(target, envelope.AckPayload{
			Command: "remove_channel",
			Payload: cmd,
			Success: success,
			Message: message,
		}, domain.AckRemoveChannel)
	}
	return true
}

func (d *Dispatcher) updateUser(cmd *domain.UpdateUserCommand) bool {
	target, online := d.registry.FindByUserID(cmd.ID)
	if !online {
		d.log.Warn("update_user target is offline, cached profile not refreshed", "user", cmd.ID)
		return true
	}
	payload, err := d.codec.Command("update_user", cmd.Info)
	if err != nil {
		d.log.Warn("update_user packing failed", "user", cmd.ID, "err", err)
		return false
	}
	if err := target.Send(payload); err != nil {
		d.log.Debug("update_user push skipped", "user", cmd.ID, "err", err)
		return true
	}
	d.log.Info("profile update pushed", "user", cmd.ID)
	return true
}

// handleChat inserts a client-submitted chat message into the addressed
// channel's log. Delivery then happens through the watcher like any other
// storage write.
func (d *Dispatcher) handleChat(sess contract.Session, raw []byte) bool {
	var msg domain.ChatMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		d.log.Warn("Unparseable chat frame", "err", err)
		return false
	}
	channel := msg.Channel.String()
	if channel == domain.ChatChannel {
		d.log.Info("chat frame addressed to the ambient room, skipping", "err", apperrors.ErrChannelRejected, "sender", msg.Sender)
		return false
	}

	title := msg.Title
	if title == "" {
		title = "dontcare"
	}
	priority := 3
	if msg.Priority != nil {
		priority = int(msg.Priority.Value())
	}

	info, err := d.store.InsertMessage(channel, domain.Draft{
		Title:    title,
		Content:  msg.Message,
		Sender:   msg.Sender,
		Priority: priority,
		FromIP:   msg.From,
		Flag:     int(msg.Flag.Value()),
	})
	if err != nil {
		d.log.Warn("chat insert failed", "channel", channel, "err", err)
		return false
	}
	if err := d.directory.TouchLastActivity(channel); err != nil {
		d.log.Debug("last-activity touch failed", "channel", channel, "err", err)
	}

	// Direct/group channels deliver by target-id matching, so the author is
	// not necessarily in the delivery set of its own write. Echo the insert
	// back so the sending UI can append its own record.
	if info.Changes == 1 && domain.IsPersonal(channel) {
		d.sendAck(sess, envelope.AckPayload{
			Command: "private_message",
			Payload: privateEcho{
				ChatMessage: msg,
				InsertedID:  info.NewID,
				Flag:        domain.FlagRead,
				Remove:      domain.RemovePointer{To: channel, ID: info.NewID},
			},
			Success: true,
			Message: fmt.Sprintf("message #%d added to channel %s", info.NewID, channel),
		}, domain.AckPrivateMessage)
	}
	return true
}

// privateEcho is the self-addressed acknowledgement of a private insert.
type privateEcho struct {
	domain.ChatMessage
	InsertedID int64                `json:"insertedId"`
	Flag       int                  `json:"flag"`
	Remove     domain.RemovePointer `json:"remove"`
}
