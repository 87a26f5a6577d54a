// Package fanout decides the delivery set for one observed (channel, record)
// pair and pushes serialized envelopes to live connections.
package fanout

import (
	"log/slog"
	"sync"

	"github.com/samber/lo"

	"office-messenger/contract"
	"office-messenger/domain"
	"office-messenger/envelope"
)

// Engine routes a record to its recipients. Sticky channels get broadcast
// semantics, optionally narrowed by department; every other channel is
// delivered by target-id and participant matching.
type Engine struct {
	// mu is the broadcast reentrancy guard: a pass must finish attempting
	// every connection before another pass may start, otherwise two events
	// could interleave sends to the same connection.
	mu        sync.Mutex
	log       *slog.Logger
	registry  contract.IRegistry
	directory contract.ChannelDirectory
	codec     *envelope.Codec
}

func NewEngine(log *slog.Logger, registry contract.IRegistry, directory contract.ChannelDirectory, codec *envelope.Codec) *Engine {
	return &Engine{log: log, registry: registry, directory: directory, codec: codec}
}

// Deliver pushes one record to every eligible connection and returns the
// number of successful sends. Zero recipients is not an error; a send to a
// closed peer is skipped silently.
func (e *Engine) Deliver(channelID string, rec domain.Record) int {
	e.mu.Lock()
	defer e.mu.Unlock()

	payload, err := e.codec.PackRecord(channelID, rec, false)
	if err != nil {
		e.log.Warn("Dropping undeliverable record", "channel", channelID, "id", rec.ID, "err", err)
		return 0
	}

	var recipients []contract.Session
	if domain.IsSticky(channelID) {
		recipients = e.broadcastSet(channelID)
	} else {
		recipients = e.targetSet(channelID)
	}

	delivered := 0
	for _, s := range recipients {
		if !s.Open() {
			continue
		}
		if err := s.Send(payload); err != nil {
			e.log.Debug("Send skipped", "channel", channelID, "addr", s.RemoteAddr(), "err", err)
			continue
		}
		delivered++
	}
	e.log.Debug("Fan-out pass complete", "channel", channelID, "id", rec.ID, "delivered", delivered)
	return delivered
}

// broadcastSet is every identified connection, narrowed to one department
// when the channel identifier itself names a department.
func (e *Engine) broadcastSet(channelID string) []contract.Session {
	if domain.IsDepartment(channelID) {
		return e.registry.FilterByDepartment(channelID)
	}
	return lo.Filter(e.registry.All(), func(s contract.Session, _ int) bool {
		return s.Identity() != nil
	})
}

// targetSet is the union of the channel owner's own connection, connections
// currently attached to the channel, and the channel's participant set from
// the directory, without duplicates.
func (e *Engine) targetSet(channelID string) []contract.Session {
	seen := make(map[contract.Session]struct{})
	var recipients []contract.Session
	add := func(s contract.Session) {
		if _, dup := seen[s]; dup {
			return
		}
		seen[s] = struct{}{}
		recipients = append(recipients, s)
	}

	for _, s := range e.registry.All() {
		ident := s.Identity()
		if ident == nil {
			continue
		}
		if ident.UserID == channelID || ident.Channel == channelID {
			add(s)
		}
	}

	participants, err := e.directory.ParticipantsOf(channelID)
	if err != nil {
		e.log.Debug("No participant entry for channel", "channel", channelID, "err", err)
		return recipients
	}
	for _, userID := range participants {
		if s, ok := e.registry.FindByUserID(userID); ok {
			add(s)
		}
	}
	return recipients
}
