// Package envelope builds and serializes the outer wire structure pushed to
// clients. String bodies are rendered from markdown to sanitized HTML the
// same way for every push, so a record inserted by another process looks
// identical to one inserted by the live server.
package envelope

import (
	"bytes"
	"encoding/json"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/renderer/html"

	"office-messenger/domain"
)

// Envelope is the outbound frame. ID is a small negative integer for
// synthetic acknowledgements and the originating record id for data pushes.
type Envelope struct {
	Type    string `json:"type"`
	ID      string `json:"id"`
	Sender  string `json:"sender"`
	Date    string `json:"date"`
	Time    string `json:"time"`
	Message any    `json:"message"`
	From    string `json:"from"`
	Channel string `json:"channel"`
	Prepend bool   `json:"prepend"`
	Flag    *int   `json:"flag,omitempty"`
	Remove  any    `json:"remove,omitempty"`
}

// AckPayload is the inner payload of command acknowledgements.
type AckPayload struct {
	Command string `json:"command"`
	Payload any    `json:"payload"`
	Success bool   `json:"success"`
	Cascade *bool  `json:"cascade,omitempty"`
	Message string `json:"message"`
}

// SystemCommand is an out-of-band instruction pushed to one client, e.g. a
// profile-update payload.
type SystemCommand struct {
	Command string `json:"command"`
	Payload any    `json:"payload"`
}

// Overrides selects non-default envelope fields. Zero values keep defaults.
type Overrides struct {
	Type    string
	ID      string
	Sender  string
	Date    string
	Time    string
	From    string
	Channel string
	Prepend bool
	Flag    *int
	Remove  any
}

var (
	paragraphTags = regexp.MustCompile(`(?i)(<p[^>]*?>|</p>)`)
	htmlTag       = regexp.MustCompile(`(?is)</?[a-z].*>`)
	lineBreaks    = regexp.MustCompile(`\r\n|\r|\n`)
)

type Codec struct {
	md     goldmark.Markdown
	policy *bluemonday.Policy
	robot  string
	from   string
}

// NewCodec builds a codec stamping envelopes with the given robot sender
// name and origin address.
func NewCodec(robot, from string) *Codec {
	return &Codec{
		// Raw HTML passes through the renderer and is stripped by the
		// sanitizer afterwards, mirroring a markdown+purifier pipeline.
		md:     goldmark.New(goldmark.WithRendererOptions(html.WithUnsafe())),
		policy: bluemonday.UGCPolicy(),
		robot:  robot,
		from:   from,
	}
}

// Pack wraps a payload in the outbound envelope. String payloads are
// rendered; anything else is embedded as-is.
func (c *Codec) Pack(payload any, o Overrides) ([]byte, error) {
	date, clock := nowSplit()
	env := Envelope{
		Type:    "remote",
		ID:      "0",
		Sender:  c.robot,
		Date:    date,
		Time:    clock,
		Message: payload,
		From:    c.from,
		Channel: "blackhole",
		Prepend: o.Prepend,
		Flag:    o.Flag,
		Remove:  o.Remove,
	}
	if o.Type != "" {
		env.Type = o.Type
	}
	if o.ID != "" {
		env.ID = o.ID
	}
	if o.Sender != "" {
		env.Sender = o.Sender
	}
	if o.Date != "" {
		env.Date = o.Date
	}
	if o.Time != "" {
		env.Time = o.Time
	}
	if o.From != "" {
		env.From = o.From
	}
	if o.Channel != "" {
		env.Channel = o.Channel
	}
	if s, ok := payload.(string); ok {
		env.Message = c.Render(s)
	}
	return json.Marshal(env)
}

// Ack wraps a command acknowledgement with the reserved negative id on the
// system channel.
func (c *Codec) Ack(p AckPayload, ackID int) ([]byte, error) {
	return c.Pack(p, Overrides{
		Type:    "ack",
		ID:      strconv.Itoa(ackID),
		Channel: domain.SystemChannel,
	})
}

// Command wraps a system push targeted at a single client.
func (c *Codec) Command(cmd string, payload any) ([]byte, error) {
	return c.Pack(SystemCommand{Command: cmd, Payload: payload}, Overrides{
		Channel: domain.SystemChannel,
	})
}

// PackRecord serializes one persisted record for delivery. Announcement
// channels ship the whole record; other channels ship the rendered body plus
// routing metadata, including the read flag and the cross-channel remove
// pointer the client needs for retractions.
func (c *Codec) PackRecord(channelID string, rec domain.Record, prepend bool) ([]byte, error) {
	id := strconv.FormatInt(rec.ID, 10)
	if strings.HasPrefix(channelID, domain.AnnouncementPrefix) {
		return c.Pack(rec, Overrides{ID: id, Channel: channelID, Prepend: prepend})
	}
	flag := rec.Flag
	return c.Pack(rec.Content, Overrides{
		ID:      id,
		Sender:  rec.Sender,
		Date:    rec.Date(),
		Time:    rec.Time(),
		From:    rec.FromIP,
		Channel: channelID,
		Prepend: prepend,
		Flag:    &flag,
		Remove:  rec.Title,
	})
}

// Render converts a markdown body to sanitized HTML. When the rendered
// paragraph contains no further markup, bare line breaks are upgraded to
// <br/> so plain-text messages keep their shape.
func (c *Codec) Render(body string) string {
	var buf bytes.Buffer
	if err := c.md.Convert([]byte(body), &buf); err != nil {
		return c.policy.Sanitize(body)
	}
	out := strings.TrimSpace(c.policy.Sanitize(buf.String()))
	inner := paragraphTags.ReplaceAllString(out, "")
	if !htmlTag.MatchString(inner) {
		out = lineBreaks.ReplaceAllString(out, "<br/>")
	}
	return out
}

// nowSplit returns the current wall clock as separate date and time parts.
func nowSplit() (string, string) {
	now := time.Now()
	return now.Format("2006-01-02"), now.Format("15:04:05")
}
