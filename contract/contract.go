//go:generate go run go.uber.org/mock/mockgen -source=contract.go -destination=../mocks/mock_contract.go -package=mocks
package contract

import (
	"context"
	"reflect"
	"time"

	"office-messenger/domain"
)

type ISupervisor interface {
	Add(worker ...Worker) ISupervisor
	Run(ctx context.Context)
	Start(ctx context.Context, worker Worker)
	Stop()
}

type WorkerName string

// Worker doesn't protect itself
// Can be silly, focused
type Worker interface {
	Run(ctx context.Context) error
}

// GetWorkerName uses reflection to retrieve the type name of the worker.
// This is used for logging and supervision purposes during worker initialization
// or lifecycle events, avoiding the need for manual naming in the Worker interface.
func GetWorkerName(w Worker) string {
	if w == nil {
		return "NilWorker"
	}
	t := reflect.TypeOf(w)
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	return t.Name()
}

// Peer is one live client transport. The registry owns the session state on
// top of it; the fan-out engine only writes to it.
type Peer interface {
	Send(payload []byte) error
	Ping() error
	Close() error
	Open() bool
	RemoteAddr() string
}

// Session is a live connection as seen by the dispatcher and the fan-out
// engine: a peer plus the identity state the registry attached to it.
type Session interface {
	Peer
	Attach(identity domain.Identity) error
	Identity() *domain.Identity
	RegisteredAt() time.Time
	Alive() bool
	MarkAlive()
	Expire()
}

// IRegistry owns the set of live connections and answers the membership and
// filter queries used by fan-out and presence commands.
type IRegistry interface {
	Register(s Session, claim domain.Identity) error
	FindByUserID(id string) (Session, bool)
	FilterByDepartment(dept string) []Session
	All() []Session
	Count() int
	Remove(s Session)
}

// Deliverer receives a freshly observed (channel, record) pair and pushes it
// to the computed set of live connections.
type Deliverer interface {
	Deliver(channelID string, rec domain.Record) int
}

// MessageStore is the per-channel message log collaborator. One log per
// channel identifier; record ids are monotonic within a channel.
type MessageStore interface {
	CreateOrOpen(channelID string) error
	InsertMessage(channelID string, draft domain.Draft) (domain.InsertInfo, error)
	LatestMessage(channelID string) (*domain.Record, error)
	LatestMessagesByCount(channelID string, n int) ([]domain.Record, error)
	PreviousMessagesByCount(channelID string, headID int64, n int) ([]domain.Record, error)
	MarkRead(channelID string, id int64, flag int) (bool, error)
	IsRead(channelID string, id int64) (bool, error)
	UnreadCount(channelID string, sinceID int64) (int, error)
	RemoveMessage(channelID string, id int64) (bool, error)
	RemoveChannel(channelID string) (bool, error)
}

// ChannelDirectory is the channel/participant directory collaborator.
type ChannelDirectory interface {
	InsertChannel(ch domain.Channel) (int64, error)
	ChannelsByHost(userID string) ([]domain.Channel, error)
	ChannelsByParticipant(userID string, fn func(domain.Channel)) error
	ParticipantsOf(channelID string) ([]string, error)
	TouchLastActivity(channelID string) error
}
