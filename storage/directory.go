package storage

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/crypto/bcrypt"

	"office-messenger/domain"
)

const directorySchema = `
	CREATE TABLE IF NOT EXISTS "channel" (
		"id" INTEGER,
		"name" TEXT NOT NULL,
		"host" TEXT,
		"password" TEXT,
		"type" INTEGER NOT NULL DEFAULT 0,
		"last" INTEGER NOT NULL DEFAULT -1,
		PRIMARY KEY("id" AUTOINCREMENT)
	);
	CREATE TABLE IF NOT EXISTS "participant" (
		"id" INTEGER,
		"channel_id" INTEGER NOT NULL,
		"user_id" TEXT NOT NULL,
		PRIMARY KEY("id" AUTOINCREMENT)
	);
`

// Sticky channels live in the directory under fixed numeric ids so their
// last-activity timestamp can be touched by name.
var stickyDirectoryIDs = map[string]int64{
	"inf":          1,
	"adm":          2,
	"reg":          3,
	"sur":          4,
	"val":          5,
	"supervisor":   6,
	"hr":           7,
	"acc":          8,
	"lds":          9,
	"announcement": 10,
}

// Directory is the channel/participant directory, one SQLite file shared by
// every channel.
type Directory struct {
	db  *sql.DB
	log *slog.Logger
}

func NewDirectory(root string, log *slog.Logger) (*Directory, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("directory root: %w", err)
	}
	db, err := sql.Open("sqlite3", filepath.Join(root, "channel.db"))
	if err != nil {
		return nil, fmt.Errorf("open channel directory: %w", err)
	}
	if _, err := db.Exec(directorySchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("channel directory schema: %w", err)
	}
	return &Directory{db: db, log: log}, nil
}

func (d *Directory) Close() error { return d.db.Close() }

// InsertChannel creates a directory row. A non-empty access secret is
// stored as a bcrypt hash, never in the clear.
func (d *Directory) InsertChannel(ch domain.Channel) (int64, error) {
	password := ch.Password
	if password != "" {
		hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
		if err != nil {
			return 0, fmt.Errorf("hash channel secret: %w", err)
		}
		password = string(hash)
	}
	res, err := d.db.Exec(`
		INSERT INTO channel(name, host, password, type)
		VALUES (?, ?, ?, ?)
	`, ch.Name, ch.Host, password, ch.Type)
	if err != nil {
		return 0, fmt.Errorf("insert channel: %w", err)
	}
	newID, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	d.log.Debug("Channel created", "id", newID, "name", ch.Name)
	return newID, nil
}

// AddParticipant records a membership row for a channel.
func (d *Directory) AddParticipant(channelID int64, userID string) error {
	_, err := d.db.Exec(`INSERT INTO participant(channel_id, user_id) VALUES (?, ?)`, channelID, userID)
	return err
}

func (d *Directory) ChannelsByHost(userID string) ([]domain.Channel, error) {
	rows, err := d.db.Query(selectChannel+` WHERE host = ? ORDER BY name, id`, userID)
	if err != nil {
		return nil, err
	}
	return collectChannels(rows)
}

// ChannelsByParticipant streams every channel the user participates in, each
// annotated with its resolved participant list.
func (d *Directory) ChannelsByParticipant(userID string, fn func(domain.Channel)) error {
	rows, err := d.db.Query(selectChannel+`
		WHERE id IN (SELECT DISTINCT channel_id FROM participant WHERE user_id = ?)
		ORDER BY name, id
	`, userID)
	if err != nil {
		return err
	}
	channels, err := collectChannels(rows)
	if err != nil {
		return err
	}
	for _, ch := range channels {
		participants, err := d.ParticipantsOf(fmt.Sprintf("%d", ch.ID))
		if err != nil {
			return err
		}
		ch.Participants = participants
		fn(ch)
	}
	return nil
}

// ParticipantsOf resolves the membership set of a channel. Dynamic channels
// name their log after the numeric directory id, so the identifier is
// matched as-is.
func (d *Directory) ParticipantsOf(channelID string) ([]string, error) {
	rows, err := d.db.Query(`
		SELECT user_id FROM participant WHERE channel_id = ? ORDER BY user_id
	`, channelID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var users []string
	for rows.Next() {
		var userID string
		if err := rows.Scan(&userID); err != nil {
			return nil, err
		}
		users = append(users, userID)
	}
	return users, rows.Err()
}

// TouchLastActivity stamps the channel's last-activity time. Sticky channel
// names are translated to their fixed directory ids first.
func (d *Directory) TouchLastActivity(channelID string) error {
	id := channelID
	if numeric, ok := stickyDirectoryIDs[channelID]; ok {
		id = fmt.Sprintf("%d", numeric)
	}
	_, err := d.db.Exec(`UPDATE channel SET last = ? WHERE id = ?`, time.Now().UnixMilli(), id)
	return err
}

const selectChannel = `
	SELECT id, name, IFNULL(host, ''), IFNULL(password, ''), type, last
	FROM channel`

func collectChannels(rows *sql.Rows) ([]domain.Channel, error) {
	defer rows.Close()
	var channels []domain.Channel
	for rows.Next() {
		var ch domain.Channel
		if err := rows.Scan(&ch.ID, &ch.Name, &ch.Host, &ch.Password, &ch.Type, &ch.Last); err != nil {
			return nil, err
		}
		channels = append(channels, ch)
	}
	return channels, rows.Err()
}
