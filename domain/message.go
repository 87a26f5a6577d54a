// Package domain contains core concepts of the messaging system.
// This file defines the persisted message record and related rules.
// Records are immutable once written except for the read flag.
package domain

// Flag values of a record. The flag only ever moves from unread to read.
const (
	FlagUnread = 0
	FlagRead   = 1
)

// Record is one persisted message of a channel log. IDs are monotonic per
// channel. Title is repurposed as a cross-channel remove pointer for paired
// direct-message copies.
type Record struct {
	ID             int64  `json:"id"`
	Title          string `json:"title"`
	Content        string `json:"content"`
	Sender         string `json:"sender"`
	Priority       int    `json:"priority"`
	FromIP         string `json:"ip"`
	Flag           int    `json:"flag"`
	CreateDatetime string `json:"create_datetime"` // "2006-01-02 15:04:05"
}

// Date returns the date half of CreateDatetime, Time the clock half.
func (r Record) Date() string { return splitDatetime(r.CreateDatetime, 0) }
func (r Record) Time() string { return splitDatetime(r.CreateDatetime, 1) }

func splitDatetime(dt string, part int) string {
	for i := 0; i < len(dt); i++ {
		if dt[i] == ' ' {
			if part == 0 {
				return dt[:i]
			}
			return dt[i+1:]
		}
	}
	if part == 0 {
		return dt
	}
	return ""
}

// Draft is the insert shape handed to the message store.
type Draft struct {
	Title    string
	Content  string
	Sender   string
	Priority int
	FromIP   string
	Flag     int
}

// InsertInfo reports the outcome of an insert, mirroring the change count
// and last-insert id of the underlying store.
type InsertInfo struct {
	Changes int64
	NewID   int64
}

// RemovePointer links a message copy to its counterpart in the paired
// channel so a retraction can reach both logs.
type RemovePointer struct {
	To string `json:"to"`
	ID int64  `json:"id"`
}
