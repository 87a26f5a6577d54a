// Package storage implements the persistence collaborators: one SQLite log
// per channel plus the channel/participant directory. Other processes write
// the same files, which is what the filesystem watcher relies on.
package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"office-messenger/domain"
)

const messageSchema = `
	CREATE TABLE IF NOT EXISTS "message" (
		"id" INTEGER,
		"title" TEXT,
		"content" TEXT NOT NULL,
		"sender" TEXT NOT NULL,
		"priority" INTEGER NOT NULL DEFAULT 3,
		"from_ip" TEXT,
		"flag" INTEGER NOT NULL DEFAULT 0,
		"create_datetime" TEXT NOT NULL,
		PRIMARY KEY("id" AUTOINCREMENT)
	)
`

// MessageStore maps channel identifiers to per-channel SQLite files under
// one root directory. The file base name is the channel identifier, which
// the watcher uses to route change events back to a channel.
type MessageStore struct {
	root string
	log  *slog.Logger

	mu      sync.Mutex
	handles map[string]*sql.DB
}

func NewMessageStore(root string, log *slog.Logger) (*MessageStore, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("message store root: %w", err)
	}
	return &MessageStore{root: root, log: log, handles: make(map[string]*sql.DB)}, nil
}

func (s *MessageStore) path(channelID string) string {
	return filepath.Join(s.root, channelID+".db")
}

func (s *MessageStore) open(channelID string) (*sql.DB, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if db, ok := s.handles[channelID]; ok {
		return db, nil
	}
	db, err := sql.Open("sqlite3", s.path(channelID))
	if err != nil {
		return nil, fmt.Errorf("open channel log %s: %w", channelID, err)
	}
	if _, err := db.Exec(messageSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("channel log schema %s: %w", channelID, err)
	}
	s.handles[channelID] = db
	return db, nil
}

// CreateOrOpen makes sure the channel's log artifact exists.
func (s *MessageStore) CreateOrOpen(channelID string) error {
	_, err := s.open(channelID)
	return err
}

func (s *MessageStore) InsertMessage(channelID string, draft domain.Draft) (domain.InsertInfo, error) {
	db, err := s.open(channelID)
	if err != nil {
		return domain.InsertInfo{}, err
	}
	res, err := db.Exec(`
		INSERT INTO message(title, content, sender, priority, from_ip, flag, create_datetime)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, draft.Title, draft.Content, draft.Sender, draft.Priority, draft.FromIP, draft.Flag, now())
	if err != nil {
		return domain.InsertInfo{}, fmt.Errorf("insert into %s: %w", channelID, err)
	}
	changes, _ := res.RowsAffected()
	newID, _ := res.LastInsertId()
	return domain.InsertInfo{Changes: changes, NewID: newID}, nil
}

// LatestMessage returns the newest record of the channel, nil when the log
// is empty. An empty log is a benign race for the watcher, not an error.
func (s *MessageStore) LatestMessage(channelID string) (*domain.Record, error) {
	db, err := s.open(channelID)
	if err != nil {
		return nil, err
	}
	row := db.QueryRow(selectRecord + ` ORDER BY id DESC LIMIT 1`)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// LatestMessagesByCount returns up to n newest records, newest first.
func (s *MessageStore) LatestMessagesByCount(channelID string, n int) ([]domain.Record, error) {
	db, err := s.open(channelID)
	if err != nil {
		return nil, err
	}
	rows, err := db.Query(selectRecord+` ORDER BY id DESC LIMIT ?`, n)
	if err != nil {
		return nil, err
	}
	return collectRecords(rows)
}

// PreviousMessagesByCount returns up to n records preceding headID, newest
// first. Callers paginating backwards reverse the slice for display.
func (s *MessageStore) PreviousMessagesByCount(channelID string, headID int64, n int) ([]domain.Record, error) {
	db, err := s.open(channelID)
	if err != nil {
		return nil, err
	}
	rows, err := db.Query(selectRecord+` WHERE id < ? ORDER BY id DESC LIMIT ?`, headID, n)
	if err != nil {
		return nil, err
	}
	return collectRecords(rows)
}

// MarkRead stores the given flag on the record, floored to the read value so
// a receipt carrying the unread flag cannot regress a record. The stored flag
// never moves back either; a record already read stays read.
func (s *MessageStore) MarkRead(channelID string, id int64, flag int) (bool, error) {
	db, err := s.open(channelID)
	if err != nil {
		return false, err
	}
	if flag < domain.FlagRead {
		flag = domain.FlagRead
	}
	res, err := db.Exec(`UPDATE message SET flag = MAX(flag, ?) WHERE id = ?`, flag, id)
	if err != nil {
		return false, err
	}
	changes, _ := res.RowsAffected()
	return changes > 0, nil
}

func (s *MessageStore) IsRead(channelID string, id int64) (bool, error) {
	db, err := s.open(channelID)
	if err != nil {
		return false, err
	}
	var flag int
	err = db.QueryRow(`SELECT flag FROM message WHERE id = ?`, id).Scan(&flag)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return flag > domain.FlagUnread, nil
}

// UnreadCount counts records above the watermark still flagged unread.
func (s *MessageStore) UnreadCount(channelID string, sinceID int64) (int, error) {
	db, err := s.open(channelID)
	if err != nil {
		return 0, err
	}
	var count int
	err = db.QueryRow(`SELECT COUNT(*) FROM message WHERE id > ? AND flag = ?`, sinceID, domain.FlagUnread).Scan(&count)
	return count, err
}

func (s *MessageStore) RemoveMessage(channelID string, id int64) (bool, error) {
	db, err := s.open(channelID)
	if err != nil {
		return false, err
	}
	res, err := db.Exec(`DELETE FROM message WHERE id = ?`, id)
	if err != nil {
		return false, err
	}
	changes, _ := res.RowsAffected()
	return changes > 0, nil
}

// RemoveChannel drops the channel's whole log artifact from disk, including
// any journal files SQLite left next to it.
func (s *MessageStore) RemoveChannel(channelID string) (bool, error) {
	s.mu.Lock()
	if db, ok := s.handles[channelID]; ok {
		_ = db.Close()
		delete(s.handles, channelID)
	}
	s.mu.Unlock()

	path := s.path(channelID)
	if _, err := os.Stat(path); err != nil {
		return false, nil
	}
	if err := os.Remove(path); err != nil {
		return false, err
	}
	for _, suffix := range []string{"-journal", "-wal", "-shm"} {
		_ = os.Remove(path + suffix)
	}
	s.log.Info("Channel log removed", "channel", channelID)
	return true, nil
}

// Close releases every cached handle.
func (s *MessageStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, db := range s.handles {
		_ = db.Close()
		delete(s.handles, id)
	}
	return nil
}

const selectRecord = `
	SELECT id, IFNULL(title, ''), content, sender, priority, IFNULL(from_ip, ''), flag, create_datetime
	FROM message`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (domain.Record, error) {
	var rec domain.Record
	err := row.Scan(&rec.ID, &rec.Title, &rec.Content, &rec.Sender, &rec.Priority, &rec.FromIP, &rec.Flag, &rec.CreateDatetime)
	return rec, err
}

func collectRecords(rows *sql.Rows) ([]domain.Record, error) {
	defer rows.Close()
	var records []domain.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

func now() string {
	return time.Now().Format("2006-01-02 15:04:05")
}
