// Package dispatcher parses inbound client frames, validates them, and
// routes each to its command handler. Handlers call into the storage
// collaborators and the connection registry and answer with acknowledgement
// envelopes.
package dispatcher

import (
	"encoding/json"
	"log/slog"

	"github.com/go-playground/validator/v10"

	"office-messenger/contract"
	"office-messenger/domain"
	"office-messenger/envelope"
	apperrors "office-messenger/errors"
)

const defaultLatestCount = 30

type Dispatcher struct {
	log       *slog.Logger
	registry  contract.IRegistry
	store     contract.MessageStore
	directory contract.ChannelDirectory
	codec     *envelope.Codec
	validate  *validator.Validate

	latestCount int
}

func New(
	log *slog.Logger,
	registry contract.IRegistry,
	store contract.MessageStore,
	directory contract.ChannelDirectory,
	codec *envelope.Codec,
	latestCount int,
) *Dispatcher {
	if latestCount <= 0 {
		latestCount = defaultLatestCount
	}
	return &Dispatcher{
		log:         log,
		registry:    registry,
		store:       store,
		directory:   directory,
		codec:       codec,
		validate:    validator.New(),
		latestCount: latestCount,
	}
}

// frame is the inbound envelope. Message is either a command object (type
// "command") or the chat body of a client-sent message (type "mine"); some
// clients double-encode the command object as a JSON string.
type frame struct {
	Type    string          `json:"type"`
	Message json.RawMessage `json:"message"`
	Channel domain.Name     `json:"channel"`
}

// Handle runs one inbound frame through the pipeline: received, parsed,
// type-routed, command-routed, handled. A false return is the failure
// signal; the transport answers it with a generic failure envelope.
func (d *Dispatcher) Handle(sess contract.Session, raw []byte) bool {
	var f frame
	if err := json.Unmarshal(raw, &f); err != nil {
		d.log.Warn("Unparseable frame, skipping request", "err", err, "raw", string(raw))
		return false
	}

	if !d.hasChannel(f) {
		d.log.Warn("Frame carries no channel, cannot route it", "err", apperrors.ErrMissingChannel, "raw", string(raw))
		return false
	}

	switch f.Type {
	case "command":
		return d.handleCommand(sess, commandBody(f.Message))
	case "mine":
		return d.handleChat(sess, raw)
	default:
		d.log.Warn("Unknown frame type", "err", apperrors.ErrUnknownFrameType, "type", f.Type)
		return false
	}
}

// hasChannel accepts a channel on the frame itself or nested inside the
// message object.
func (d *Dispatcher) hasChannel(f frame) bool {
	if f.Channel != "" {
		return true
	}
	var nested struct {
		Channel domain.Name `json:"channel"`
	}
	if err := json.Unmarshal(commandBody(f.Message), &nested); err != nil {
		return false
	}
	return nested.Channel != ""
}

// commandBody unwraps a double-encoded command object.
func commandBody(raw json.RawMessage) []byte {
	if len(raw) > 0 && raw[0] == '"' {
		var inner string
		if err := json.Unmarshal(raw, &inner); err == nil {
			return []byte(inner)
		}
	}
	return raw
}

func (d *Dispatcher) handleCommand(sess contract.Session, body []byte) bool {
	cmd, err := domain.ParseCommand(body)
	if err != nil {
		d.log.Warn("Command rejected", "err", err)
		return false
	}

	// register answers a structured failure ack instead; every other
	// command fails fast on malformed arguments.
	if _, isRegister := cmd.(*domain.RegisterCommand); !isRegister {
		if err := d.validate.Struct(cmd); err != nil {
			d.log.Warn("Command arguments rejected", "command", cmd.Name(), "err", err)
			return false
		}
	}

	switch c := cmd.(type) {
	case *domain.RegisterCommand:
		return d.register(sess, c)
	case *domain.MyChannelCommand:
		return d.myChannel(sess)
	case *domain.OnlineCommand:
		return d.online(sess, c)
	case *domain.LatestCommand:
		return d.latest(sess, c)
	case *domain.PreviousCommand:
		return d.previous(sess, c)
	case *domain.SetReadCommand:
		return d.setRead(sess, c)
	case *domain.CheckReadCommand:
		return d.checkRead(sess, c)
	case *domain.UnreadCommand:
		return d.unread(sess, c)
	case *domain.RemoveMessageCommand:
		return d.removeMessage(c)
	case *domain.RemoveChannelCommand:
		return d.removeChannel(c)
	case *domain.UpdateUserCommand:
		return d.updateUser(c)
	default:
		d.log.Warn("Command has no handler", "command", cmd.Name())
		return false
	}
}

// sendAck packs and pushes one acknowledgement envelope.
func (d *Dispatcher) sendAck(s contract.Session, p envelope.AckPayload, ackID int) bool {
	payload, err := d.codec.Ack(p, ackID)
	if err != nil {
		d.log.Warn("Ack packing failed", "command", p.Command, "err", err)
		return false
	}
	if err := s.Send(payload); err != nil {
		d.log.Debug("Ack send skipped", "command", p.Command, "err", err)
		return false
	}
	return true
}
