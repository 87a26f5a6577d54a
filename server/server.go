// Package server exposes the WebSocket endpoint. It upgrades each HTTP
// request, hands the socket to the registry as a session, and shuttles
// inbound frames into the dispatcher.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"office-messenger/contract"
	"office-messenger/dispatcher"
	"office-messenger/envelope"
	"office-messenger/runtime"
)

const shutdownGrace = 5 * time.Second

type Server struct {
	log        *slog.Logger
	addr       string
	registry   *runtime.Registry
	dispatcher *dispatcher.Dispatcher
	codec      *envelope.Codec
	upgrader   websocket.Upgrader
}

func New(
	log *slog.Logger,
	addr string,
	registry *runtime.Registry,
	d *dispatcher.Dispatcher,
	codec *envelope.Codec,
) *Server {
	return &Server{
		log:        log,
		addr:       addr,
		registry:   registry,
		dispatcher: d,
		codec:      codec,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Intranet deployment; clients connect from file:// shells and
			// arbitrary desktop origins.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// Run serves until ctx is canceled, then drains with a bounded grace period.
func (s *Server) Run(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.serveWS)

	srv := &http.Server{
		Addr:              s.addr,
		Handler:           mux,
		ReadHeaderTimeout: 15 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	s.log.Info("Listening for connections", "addr", s.addr)

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.log.Warn("Shutdown did not drain in time", "err", err)
		}
		return ctx.Err()
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func (s *Server) serveWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("Upgrade rejected", "remote", r.RemoteAddr, "err", err)
		return
	}

	client := newClient(s.log, conn)
	sess := s.registry.Add(client)

	// A probe answer only refreshes the liveness flag once an identity is
	// attached; MarkAlive enforces that.
	conn.SetPongHandler(func(string) error {
		sess.MarkAlive()
		return nil
	})

	go client.writePump()
	go s.readLoop(client, sess)
}

// readLoop pulls frames off the socket and runs each through the dispatcher.
// A failed frame is answered with a generic failure push; a read error ends
// the session.
func (s *Server) readLoop(client *Client, sess contract.Session) {
	defer func() {
		_ = client.Close()
		s.registry.Remove(sess)
	}()

	for {
		_, raw, err := client.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				s.log.Warn("Read failed", "addr", client.RemoteAddr(), "err", err)
			} else {
				s.log.Debug("Connection closed by peer", "addr", client.RemoteAddr())
			}
			return
		}

		if ok := s.dispatcher.Handle(sess, raw); !ok {
			s.rejectFrame(sess)
		}
	}
}

// rejectFrame pushes the generic failure notice used for every frame the
// dispatcher refused.
func (s *Server) rejectFrame(sess contract.Session) {
	payload, err := s.codec.Pack("the server did not accept the request", envelope.Overrides{})
	if err != nil {
		s.log.Warn("Failure notice packing failed", "err", err)
		return
	}
	if err := sess.Send(payload); err != nil {
		s.log.Debug("Failure notice skipped", "addr", sess.RemoteAddr(), "err", err)
	}
}
