package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"

	apperrors "office-messenger/errors"
)

// Synthetic acknowledgement ids, one per command kind. Data pushes carry the
// originating record id instead.
const (
	AckRegister       = -1
	AckMyChannel      = -2
	AckRemoveChannel  = -3
	AckPrevious       = -4
	AckUnread         = -5
	AckRemoveMessage  = -6
	AckOnline         = -7
	AckSetRead        = -8
	AckCheckRead      = -9
	AckPrivateMessage = -99
)

// Command is the tagged union of everything a client can ask the dispatcher
// to do. Each variant carries its own validated argument struct; unknown
// tags are a parse error, not a silent no-op.
type Command interface {
	Name() string
}

// Int64 decodes JSON numbers as well as numeric strings. Clients routinely
// send ids as strings ("id":"23").
type Int64 int64

func (n *Int64) UnmarshalJSON(data []byte) error {
	data = bytes.Trim(data, `"`)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*n = 0
		return nil
	}
	v, err := strconv.ParseInt(string(data), 10, 64)
	if err != nil {
		// Coerce like the clients expect: junk counts as zero.
		*n = 0
		return nil
	}
	*n = Int64(v)
	return nil
}

func (n Int64) Value() int64 { return int64(n) }

// Name decodes a channel identifier that may arrive as string or number
// (directory channel ids are numeric, sticky channels are words).
type Name string

func (s *Name) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '"' {
		var v string
		if err := json.Unmarshal(data, &v); err != nil {
			return err
		}
		*s = Name(v)
		return nil
	}
	*s = Name(bytes.TrimSpace(data))
	return nil
}

func (s Name) String() string { return string(s) }

type RegisterCommand struct {
	Identity
}

func (RegisterCommand) Name() string { return "register" }

type MyChannelCommand struct{}

func (MyChannelCommand) Name() string { return "mychannel" }

type OnlineCommand struct {
	Channel Name `json:"channel"`
}

func (OnlineCommand) Name() string { return "online" }

type LatestCommand struct {
	Channel Name  `json:"channel"`
	Count   Int64 `json:"count"`
}

func (LatestCommand) Name() string { return "latest" }

type PreviousCommand struct {
	Channel Name  `json:"channel"`
	Count   Int64 `json:"count"`
	HeadID  Int64 `json:"headId"`
}

func (PreviousCommand) Name() string { return "previous" }

type SetReadCommand struct {
	Channel Name   `json:"channel"`
	ID      Int64  `json:"id"`
	Flag    Int64  `json:"flag"`
	Sender  string `json:"sender" validate:"required"`
	Cascade bool   `json:"cascade"`
}

func (SetReadCommand) Name() string { return "set_read" }

type CheckReadCommand struct {
	Channel                  Name   `json:"channel"`
	ID                       Int64  `json:"id"`
	Sender                   string `json:"sender" validate:"required"`
	SenderChannelMessageID   Int64  `json:"senderChannelMessageId"`
	SenderChannelMessageFlag Int64  `json:"senderChannelMessageFlag"`
}

func (CheckReadCommand) Name() string { return "check_read" }

type UnreadCommand struct {
	Channel Name  `json:"channel"`
	Last    Int64 `json:"last"`
}

func (UnreadCommand) Name() string { return "unread" }

type RemoveMessageCommand struct {
	Channel Name  `json:"channel"`
	ID      Int64 `json:"id"`
}

func (RemoveMessageCommand) Name() string { return "remove_message" }

type RemoveChannelCommand struct {
	ID           Name     `json:"id"`
	ChannelName  string   `json:"name"`
	Participants []string `json:"participants" validate:"required"`
	Type         Int64    `json:"type"`
}

func (RemoveChannelCommand) Name() string { return "remove_channel" }

// UserInfo is the out-of-band profile payload pushed by update_user.
type UserInfo struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Dept string `json:"dept"`
	Ext  string `json:"ext"`
	IP   string `json:"ip"`
	Work string `json:"work"`
}

type UpdateUserCommand struct {
	ID   string   `json:"id" validate:"required"`
	Info UserInfo `json:"info"`
}

func (UpdateUserCommand) Name() string { return "update_user" }

// ChatMessage is a client-submitted chat frame (type "mine"), inserted into
// the addressed channel's log rather than handled as a command.
type ChatMessage struct {
	Channel  Name   `json:"channel"`
	Message  string `json:"message"`
	Sender   string `json:"sender"`
	Title    string `json:"title"`
	Priority *Int64 `json:"priority"`
	From     string `json:"from"`
	Flag     Int64  `json:"flag"`
}

// ParseCommand decodes one command object into its typed variant.
func ParseCommand(raw []byte) (Command, error) {
	var probe struct {
		Command string `json:"command"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return nil, fmt.Errorf("%w: %v", apperrors.ErrMalformedFrame, err)
	}

	var cmd Command
	switch probe.Command {
	case "register":
		cmd = &RegisterCommand{}
	case "mychannel":
		cmd = &MyChannelCommand{}
	case "online":
		cmd = &OnlineCommand{}
	case "latest":
		cmd = &LatestCommand{}
	case "previous":
		cmd = &PreviousCommand{}
	case "set_read":
		cmd = &SetReadCommand{}
	case "check_read":
		cmd = &CheckReadCommand{}
	case "unread":
		cmd = &UnreadCommand{}
	case "remove_message":
		cmd = &RemoveMessageCommand{}
	case "remove_channel":
		cmd = &RemoveChannelCommand{}
	case "update_user":
		cmd = &UpdateUserCommand{}
	default:
		return nil, fmt.Errorf("%w: %q", apperrors.ErrUnknownCommand, probe.Command)
	}
	if err := json.Unmarshal(raw, cmd); err != nil {
		return nil, fmt.Errorf("%w: %v", apperrors.ErrMalformedFrame, err)
	}
	return cmd, nil
}
