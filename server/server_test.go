package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"office-messenger/dispatcher"
	"office-messenger/envelope"
	"office-messenger/runtime"
	"office-messenger/storage"
)

// newTestServer wires real collaborators on temporary storage and exposes
// the websocket endpoint over httptest.
func newTestServer(t *testing.T) (*httptest.Server, *runtime.Registry) {
	t.Helper()
	log := slog.Default()

	store, err := storage.NewMessageStore(t.TempDir(), log)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	directory, err := storage.NewDirectory(t.TempDir(), log)
	require.NoError(t, err)
	t.Cleanup(func() { _ = directory.Close() })

	codec := envelope.NewCodec("robot", "127.0.0.1")
	registry := runtime.NewRegistry(log)
	d := dispatcher.New(log, registry, store, directory, codec, 30)
	s := New(log, "127.0.0.1:0", registry, d, codec)

	ts := httptest.NewServer(http.HandlerFunc(s.serveWS))
	t.Cleanup(ts.Close)
	return ts, registry
}

func dial(t *testing.T, ts *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readEnvelope(t *testing.T, conn *websocket.Conn) envelope.Envelope {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, raw, err := conn.ReadMessage()
	require.NoError(t, err)
	var env envelope.Envelope
	require.NoError(t, json.Unmarshal(raw, &env))
	return env
}

func TestServer_RegisterRoundTrip(t *testing.T) {
	req := require.New(t)
	ts, registry := newTestServer(t)
	conn := dial(t, ts)

	// When the client registers over the wire
	req.NoError(conn.WriteMessage(websocket.TextMessage, []byte(`{
		"type":"command","channel":"system",
		"message":{"command":"register","userid":"u1","username":"alice","dept":"inf"}
	}`)))

	// Then it is acknowledged with the register ack id
	env := readEnvelope(t, conn)
	req.Equal("ack", env.Type)
	req.Equal("-1", env.ID)

	// And the registry can find the identity
	req.Eventually(func() bool {
		_, ok := registry.FindByUserID("u1")
		return ok
	}, time.Second, 10*time.Millisecond)
}

func TestServer_ChatInsertEchoesPrivateAck(t *testing.T) {
	req := require.New(t)
	ts, _ := newTestServer(t)
	conn := dial(t, ts)

	// When a direct message is submitted
	req.NoError(conn.WriteMessage(websocket.TextMessage, []byte(`{
		"type":"mine","channel":"u2","message":"hello bob","sender":"alice","from":"10.0.0.7"
	}`)))

	// Then the insert is echoed back to the author
	env := readEnvelope(t, conn)
	req.Equal("ack", env.Type)
	req.Equal("-99", env.ID)
}

func TestServer_RejectedFrameGetsFailureNotice(t *testing.T) {
	req := require.New(t)
	ts, _ := newTestServer(t)
	conn := dial(t, ts)

	// When a frame without channel arrives
	req.NoError(conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"command","message":{"command":"online"}}`)))

	// Then a generic failure envelope comes back on the default channel
	env := readEnvelope(t, conn)
	req.Equal("remote", env.Type)
	req.Equal("blackhole", env.Channel)
}

func TestServer_DisconnectRemovesConnection(t *testing.T) {
	req := require.New(t)
	ts, registry := newTestServer(t)
	conn := dial(t, ts)

	req.Eventually(func() bool { return registry.Count() == 1 }, time.Second, 10*time.Millisecond)

	// When the client goes away
	req.NoError(conn.Close())

	// Then the registry forgets the connection
	req.Eventually(func() bool { return registry.Count() == 0 }, time.Second, 10*time.Millisecond)
}
