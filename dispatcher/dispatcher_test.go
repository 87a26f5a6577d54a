package dispatcher

import (
	"encoding/json"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"office-messenger/contract"
	"office-messenger/domain"
	"office-messenger/envelope"
	apperrors "office-messenger/errors"
	"office-messenger/mocks"
)

func allSessions(sessions ...contract.Session) []contract.Session {
	return sessions
}

type fixture struct {
	registry  *mocks.MockIRegistry
	store     *mocks.MockMessageStore
	directory *mocks.MockChannelDirectory
	sess      *mocks.MockSession
	d         *Dispatcher
}

func newFixture(ctrl *gomock.Controller) *fixture {
	registry := mocks.NewMockIRegistry(ctrl)
	store := mocks.NewMockMessageStore(ctrl)
	directory := mocks.NewMockChannelDirectory(ctrl)
	codec := envelope.NewCodec("robot", "127.0.0.1")
	return &fixture{
		registry:  registry,
		store:     store,
		directory: directory,
		sess:      mocks.NewMockSession(ctrl),
		d:         New(slog.Default(), registry, store, directory, codec, 30),
	}
}

// capture collects every envelope pushed to the session.
func capture(sess *mocks.MockSession, sink *[][]byte) {
	sess.EXPECT().Send(gomock.Any()).DoAndReturn(func(b []byte) error {
		*sink = append(*sink, b)
		return nil
	}).AnyTimes()
}

func decodeEnvelope(t *testing.T, raw []byte) envelope.Envelope {
	t.Helper()
	var env envelope.Envelope
	require.NoError(t, json.Unmarshal(raw, &env))
	return env
}

func TestDispatcher_Register_Success(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()
	f := newFixture(ctrl)

	ident := domain.Identity{UserID: "u1", Username: "alice", Department: "inf"}
	f.registry.EXPECT().Register(f.sess, ident).Return(nil)
	f.sess.EXPECT().Identity().Return(&ident).AnyTimes()
	f.sess.EXPECT().RegisteredAt().Return(time.Now()).AnyTimes()

	var sent [][]byte
	capture(f.sess, &sent)

	// When a register frame arrives
	ok := f.d.Handle(f.sess, []byte(`{
		"type":"command","channel":"system",
		"message":{"command":"register","userid":"u1","username":"alice","dept":"inf"}
	}`))

	// Then the claim is attached and acknowledged with the reserved id
	req.True(ok)
	req.Len(sent, 1)
	env := decodeEnvelope(t, sent[0])
	req.Equal("ack", env.Type)
	req.Equal("-1", env.ID)
}

func TestDispatcher_Register_Rejected(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()
	f := newFixture(ctrl)

	// Given a claim the registry refuses
	f.registry.EXPECT().Register(f.sess, gomock.Any()).Return(apperrors.ErrInvalidIdentity)

	var sent [][]byte
	capture(f.sess, &sent)

	ok := f.d.Handle(f.sess, []byte(`{
		"type":"command","channel":"system",
		"message":{"command":"register","username":"alice"}
	}`))

	// Then the handler reports failure but still answers a structured ack
	req.False(ok)
	req.Len(sent, 1)
	var ack struct {
		Message struct {
			Command string `json:"command"`
			Success bool   `json:"success"`
		} `json:"message"`
	}
	req.NoError(json.Unmarshal(sent[0], &ack))
	req.Equal("register", ack.Message.Command)
	req.False(ack.Message.Success)
}

func TestDispatcher_RejectsFrameWithoutChannel(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()
	f := newFixture(ctrl)

	req.False(f.d.Handle(f.sess, []byte(`{"type":"command","message":{"command":"online"}}`)))
	req.False(f.d.Handle(f.sess, []byte(`not json`)))
	req.False(f.d.Handle(f.sess, []byte(`{"type":"telemetry","channel":"system","message":{}}`)))
}

func TestDispatcher_DoubleEncodedCommand(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()
	f := newFixture(ctrl)

	f.store.EXPECT().UnreadCount("42", int64(7)).Return(3, nil)
	var sent [][]byte
	capture(f.sess, &sent)

	// Given a client that serialized the command object twice
	ok := f.d.Handle(f.sess, []byte(`{
		"type":"command","channel":"42",
		"message":"{\"command\":\"unread\",\"channel\":\"42\",\"last\":7}"
	}`))

	req.True(ok)
	req.Len(sent, 1)
	env := decodeEnvelope(t, sent[0])
	req.Equal("-5", env.ID)
}

func TestDispatcher_Chat_InsertsAndEchoes(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()
	f := newFixture(ctrl)

	// Title and priority fall back to their defaults when absent.
	f.store.EXPECT().
		InsertMessage("u2", gomock.Any()).
		DoAndReturn(func(_ string, draft domain.Draft) (domain.InsertInfo, error) {
			req.Equal("dontcare", draft.Title)
			req.Equal(3, draft.Priority)
			req.Equal("hello bob", draft.Content)
			return domain.InsertInfo{Changes: 1, NewID: 5}, nil
		})
	f.directory.EXPECT().TouchLastActivity("u2").Return(nil)

	var sent [][]byte
	capture(f.sess, &sent)

	ok := f.d.Handle(f.sess, []byte(`{
		"type":"mine","channel":"u2",
		"message":"hello bob","sender":"alice","from":"10.0.0.7"
	}`))

	// Then the insert is echoed back as a private-message ack
	req.True(ok)
	req.Len(sent, 1)
	env := decodeEnvelope(t, sent[0])
	req.Equal("-99", env.ID)
}

func TestDispatcher_Chat_ExplicitZeroPriorityKept(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()
	f := newFixture(ctrl)

	f.store.EXPECT().
		InsertMessage("u2", gomock.Any()).
		DoAndReturn(func(_ string, draft domain.Draft) (domain.InsertInfo, error) {
			req.Equal(0, draft.Priority)
			return domain.InsertInfo{Changes: 1, NewID: 6}, nil
		})
	f.directory.EXPECT().TouchLastActivity("u2").Return(nil)
	var sent [][]byte
	capture(f.sess, &sent)

	ok := f.d.Handle(f.sess, []byte(`{
		"type":"mine","channel":"u2","message":"urgent","sender":"alice","priority":0
	}`))
	req.True(ok)
}

func TestDispatcher_Chat_AmbientRoomRejected(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()
	f := newFixture(ctrl)

	// No insert may happen for the ambient room identifier
	ok := f.d.Handle(f.sess, []byte(`{
		"type":"mine","channel":"chat","message":"hi all","sender":"alice"
	}`))
	req.False(ok)
}

func TestDispatcher_CheckRead_Cascades(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()
	f := newFixture(ctrl)

	target := mocks.NewMockSession(ctrl)
	var toSender [][]byte
	capture(target, &toSender)

	// Given the message is read on the recipient's side
	f.store.EXPECT().IsRead("u2", int64(10)).Return(true, nil)
	f.registry.EXPECT().FindByUserID("alice").Return(target, true)
	// Then the sender's own copy is marked read as the second hop
	f.store.EXPECT().MarkRead("alice", int64(44), 1).Return(true, nil)

	ok := f.d.Handle(f.sess, []byte(`{
		"type":"command","channel":"u2",
		"message":{"command":"check_read","channel":"u2","id":10,"sender":"alice",
			"senderChannelMessageId":44,"senderChannelMessageFlag":1}
	}`))

	req.True(ok)
	req.Len(toSender, 1)
	env := decodeEnvelope(t, toSender[0])
	req.Equal("-9", env.ID)
}

func TestDispatcher_RemoveMessage_NotifiesEveryone(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()
	f := newFixture(ctrl)

	a := mocks.NewMockSession(ctrl)
	b := mocks.NewMockSession(ctrl)
	a.EXPECT().Send(gomock.Any()).Return(nil).Times(1)
	b.EXPECT().Send(gomock.Any()).Return(nil).Times(1)

	f.store.EXPECT().RemoveMessage("u2", int64(12)).Return(true, nil)
	f.registry.EXPECT().All().Return(allSessions(a, b))

	ok := f.d.Handle(f.sess, []byte(`{
		"type":"command","channel":"u2",
		"message":{"command":"remove_message","channel":"u2","id":12}
	}`))
	req.True(ok)
}

func TestDispatcher_Online_DepartmentFilterAndOrdering(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()
	f := newFixture(ctrl)

	// Given two colleagues of the addressed department, registered an hour
	// apart
	t0 := time.Now().Add(-time.Hour)
	early := mocks.NewMockSession(ctrl)
	early.EXPECT().Identity().Return(&domain.Identity{UserID: "u1", Username: "alice", Department: "inf"}).AnyTimes()
	early.EXPECT().RegisteredAt().Return(t0).AnyTimes()
	late := mocks.NewMockSession(ctrl)
	late.EXPECT().Identity().Return(&domain.Identity{UserID: "u2", Username: "carol", Department: "inf"}).AnyTimes()
	late.EXPECT().RegisteredAt().Return(t0.Add(time.Hour)).AnyTimes()

	f.registry.EXPECT().All().Return(allSessions(early, late)).AnyTimes()
	f.registry.EXPECT().FilterByDepartment("inf").Return(allSessions(early, late))

	var sent [][]byte
	capture(f.sess, &sent)

	// When presence is asked for a department channel
	ok := f.d.Handle(f.sess, []byte(`{
		"type":"command","channel":"inf",
		"message":{"command":"online","channel":"inf"}
	}`))

	// Then the ack lists later registrants first
	req.True(ok)
	req.Len(sent, 1)
	env := decodeEnvelope(t, sent[0])
	req.Equal("-7", env.ID)

	var ack struct {
		Message struct {
			Success bool `json:"success"`
			Payload struct {
				Channel string `json:"channel"`
				Users   []struct {
					UserID string `json:"userid"`
				} `json:"users"`
			} `json:"payload"`
		} `json:"message"`
	}
	req.NoError(json.Unmarshal(sent[0], &ack))
	req.True(ack.Message.Success)
	req.Equal("inf", ack.Message.Payload.Channel)
	req.Len(ack.Message.Payload.Users, 2)
	req.Equal("u2", ack.Message.Payload.Users[0].UserID)
	req.Equal("u1", ack.Message.Payload.Users[1].UserID)
}

func TestDispatcher_Online_AnonymousSocketsExcluded(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()
	f := newFixture(ctrl)

	// Given one identified connection and one anonymous socket on a
	// non-department channel
	alice := mocks.NewMockSession(ctrl)
	alice.EXPECT().Identity().Return(&domain.Identity{UserID: "u1", Username: "alice", Department: "inf"}).AnyTimes()
	alice.EXPECT().RegisteredAt().Return(time.Now()).AnyTimes()
	anon := mocks.NewMockSession(ctrl)
	anon.EXPECT().Identity().Return(nil).AnyTimes()
	anon.EXPECT().RegisteredAt().Return(time.Time{}).AnyTimes()
	f.registry.EXPECT().All().Return(allSessions(alice, anon))

	var sent [][]byte
	capture(f.sess, &sent)

	ok := f.d.Handle(f.sess, []byte(`{
		"type":"command","channel":"u2",
		"message":{"command":"online","channel":"u2"}
	}`))

	req.True(ok)
	req.Len(sent, 1)
	var ack struct {
		Message struct {
			Payload struct {
				Users []struct {
					UserID string `json:"userid"`
				} `json:"users"`
			} `json:"payload"`
		} `json:"message"`
	}
	req.NoError(json.Unmarshal(sent[0], &ack))
	req.Len(ack.Message.Payload.Users, 1)
	req.Equal("u1", ack.Message.Payload.Users[0].UserID)
}

func TestDispatcher_SetRead_AcksOnlineSender(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()
	f := newFixture(ctrl)

	f.store.EXPECT().MarkRead("u2", int64(10), 1).Return(true, nil)

	// Given the original sender is connected
	target := mocks.NewMockSession(ctrl)
	var toSender [][]byte
	capture(target, &toSender)
	f.registry.EXPECT().FindByUserID("bob").Return(target, true)

	// When the recipient reports the message read
	ok := f.d.Handle(f.sess, []byte(`{
		"type":"command","channel":"u2",
		"message":{"command":"set_read","channel":"u2","id":10,"flag":1,"sender":"bob","cascade":true}
	}`))

	// Then the ack goes to the sender's connection, not the reporter, and
	// carries the cascade flag
	req.True(ok)
	req.Len(toSender, 1)
	env := decodeEnvelope(t, toSender[0])
	req.Equal("-8", env.ID)

	var ack struct {
		Message struct {
			Success bool  `json:"success"`
			Cascade *bool `json:"cascade"`
		} `json:"message"`
	}
	req.NoError(json.Unmarshal(toSender[0], &ack))
	req.True(ack.Message.Success)
	req.NotNil(ack.Message.Cascade)
	req.True(*ack.Message.Cascade)
}

func TestDispatcher_SetRead_OfflineSenderIsSilent(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()
	f := newFixture(ctrl)

	// Given the original sender is gone; the mark still lands, nothing is
	// pushed anywhere
	f.store.EXPECT().MarkRead("u2", int64(10), 1).Return(true, nil)
	f.registry.EXPECT().FindByUserID("bob").Return(nil, false)

	ok := f.d.Handle(f.sess, []byte(`{
		"type":"command","channel":"u2",
		"message":{"command":"set_read","channel":"u2","id":10,"flag":1,"sender":"bob"}
	}`))
	req.True(ok)
}

func TestDispatcher_SetRead_RequiresSender(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()
	f := newFixture(ctrl)

	// Given a set_read command without its sender argument
	ok := f.d.Handle(f.sess, []byte(`{
		"type":"command","channel":"u2",
		"message":{"command":"set_read","channel":"u2","id":10}
	}`))

	// Then validation fails before any storage call
	req.False(ok)
}
