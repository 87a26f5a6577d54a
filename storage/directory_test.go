package storage

import (
	"fmt"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"office-messenger/domain"
)

func newDirectory(t *testing.T) *Directory {
	t.Helper()
	d, err := NewDirectory(t.TempDir(), slog.Default())
	require.NoError(t, err)
	t.Cleanup(func() { _ = d.Close() })
	return d
}

func TestDirectory_InsertChannelHashesSecret(t *testing.T) {
	req := require.New(t)
	d := newDirectory(t)

	// When a channel is created with an access secret
	id, err := d.InsertChannel(domain.Channel{
		Name:     "project-x",
		Host:     "u1",
		Password: "hunter2",
		Type:     domain.ChannelGroup,
	})
	req.NoError(err)
	req.Positive(id)

	// Then the stored secret is a bcrypt hash, never the clear text
	channels, err := d.ChannelsByHost("u1")
	req.NoError(err)
	req.Len(channels, 1)
	req.NotEqual("hunter2", channels[0].Password)
	req.NoError(bcrypt.CompareHashAndPassword([]byte(channels[0].Password), []byte("hunter2")))
}

func TestDirectory_ChannelsByParticipant(t *testing.T) {
	req := require.New(t)
	d := newDirectory(t)

	// Given two channels, one of which u2 participates in
	chatID, err := d.InsertChannel(domain.Channel{Name: "standup", Host: "u1", Type: domain.ChannelGroup})
	req.NoError(err)
	otherID, err := d.InsertChannel(domain.Channel{Name: "lunch", Host: "u3", Type: domain.ChannelGroup})
	req.NoError(err)
	req.NoError(d.AddParticipant(chatID, "u1"))
	req.NoError(d.AddParticipant(chatID, "u2"))
	req.NoError(d.AddParticipant(otherID, "u3"))

	// When streaming u2's channels
	var seen []domain.Channel
	req.NoError(d.ChannelsByParticipant("u2", func(ch domain.Channel) {
		seen = append(seen, ch)
	}))

	// Then only the membership channel is streamed, with its participants
	req.Len(seen, 1)
	req.Equal("standup", seen[0].Name)
	req.Equal([]string{"u1", "u2"}, seen[0].Participants)

	participants, err := d.ParticipantsOf(fmt.Sprintf("%d", chatID))
	req.NoError(err)
	req.Equal([]string{"u1", "u2"}, participants)
}

func TestDirectory_TouchLastActivity(t *testing.T) {
	req := require.New(t)
	d := newDirectory(t)

	id, err := d.InsertChannel(domain.Channel{Name: "standup", Host: "u1", Type: domain.ChannelGroup})
	req.NoError(err)

	channels, err := d.ChannelsByHost("u1")
	req.NoError(err)
	req.EqualValues(-1, channels[0].Last)

	// When the channel sees activity
	req.NoError(d.TouchLastActivity(fmt.Sprintf("%d", id)))

	// Then the stamp moved forward
	channels, err = d.ChannelsByHost("u1")
	req.NoError(err)
	req.Positive(channels[0].Last)
}
