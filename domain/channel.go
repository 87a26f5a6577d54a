package domain

import "strings"

// Channel identifiers live in two spaces. A small fixed set of sticky
// department/broadcast identifiers is known at start-up; everything else is a
// dynamic direct/group conversation backed by its own message log.

// AnnouncementPrefix marks broadcast announcement channels. Any identifier
// starting with it gets broadcast delivery even when not in the sticky list.
const AnnouncementPrefix = "announcement"

// ChatChannel is the ambient chatting room literal. Client inserts addressed
// to it are rejected outright.
const ChatChannel = "chat"

// SystemChannel carries synthetic acknowledgements and system pushes.
const SystemChannel = "system"

// stickyChannels receive broadcast semantics on fan-out.
var stickyChannels = []string{
	"announcement",
	"adm",
	"reg",
	"sur",
	"inf",
	"val",
	"supervisor",
	"lds",
}

// departments are the identifiers that double as department codes. A sticky
// channel naming a department narrows its broadcast to that department; the
// online query filters by the same set.
var departments = []string{"adm", "inf", "reg", "sur", "val", "acc", "hr", "supervisor"}

// StickyChannels returns the fixed broadcast identifiers whose logs exist
// for the lifetime of the server.
func StickyChannels() []string {
	out := make([]string, len(stickyChannels))
	copy(out, stickyChannels)
	return out
}

func IsSticky(id string) bool {
	if strings.HasPrefix(id, AnnouncementPrefix) {
		return true
	}
	for _, s := range stickyChannels {
		if s == id {
			return true
		}
	}
	return false
}

func IsDepartment(id string) bool {
	for _, d := range departments {
		if d == id {
			return true
		}
	}
	return false
}

// IsPersonal reports whether a successful insert into the channel should be
// acknowledged back to the sender. Sticky and department channels deliver to
// the sender through broadcast anyway; direct/group channels deliver by
// target-id matching and may skip the author.
func IsPersonal(id string) bool {
	if id == ChatChannel || id == "lds" || strings.HasPrefix(id, AnnouncementPrefix) {
		return false
	}
	return !IsSticky(id) && !IsDepartment(id)
}

// Channel is a row of the channel directory.
type Channel struct {
	ID           int64    `json:"id"`
	Name         string   `json:"name"`
	Host         string   `json:"host"`
	Password     string   `json:"password,omitempty"`
	Type         int      `json:"type"` // 0 one-on-one, 1 group, 2 broadcast
	Last         int64    `json:"last"` // last-activity epoch millis
	Participants []string `json:"participants,omitempty"`
}

// Channel classes stored in the directory.
const (
	ChannelDirect    = 0
	ChannelGroup     = 1
	ChannelBroadcast = 2
)
