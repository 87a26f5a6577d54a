package runtime

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/samber/lo"

	"office-messenger/contract"
	"office-messenger/domain"
	apperrors "office-messenger/errors"
)

// Registry owns the set of live connections. It is the only structure
// mutated by several independent triggers (inbound commands, the liveness
// sweep, transport close), so every mutation goes through one RWMutex.
type Registry struct {
	mu       sync.RWMutex
	log      *slog.Logger
	validate *validator.Validate
	conns    map[*Connection]struct{}
}

func NewRegistry(log *slog.Logger) *Registry {
	return &Registry{
		log:      log,
		validate: validator.New(),
		conns:    make(map[*Connection]struct{}),
	}
}

// Add tracks a freshly opened socket. Identity is attached later by the
// register command.
func (r *Registry) Add(peer contract.Peer) *Connection {
	conn := NewConnection(peer)
	r.mu.Lock()
	r.conns[conn] = struct{}{}
	total := len(r.conns)
	r.mu.Unlock()
	r.log.Info("Connection opened", "addr", peer.RemoteAddr(), "total", total)
	return conn
}

// Remove detaches a connection from the registry. Safe to call twice; the
// sweep and the transport close handler may race on the same connection.
func (r *Registry) Remove(s contract.Session) {
	conn, ok := s.(*Connection)
	if !ok {
		return
	}
	r.mu.Lock()
	_, tracked := r.conns[conn]
	delete(r.conns, conn)
	total := len(r.conns)
	r.mu.Unlock()
	if tracked {
		r.log.Info("Connection removed", "addr", conn.RemoteAddr(), "total", total)
	}
}

// Register validates an identity claim and attaches it to the connection.
// The claim only fails when it is not well-formed; no authentication is
// performed.
func (r *Registry) Register(s contract.Session, claim domain.Identity) error {
	if err := r.validate.Struct(claim); err != nil {
		return fmt.Errorf("%w: %v", apperrors.ErrInvalidIdentity, err)
	}
	return s.Attach(claim)
}

func (r *Registry) FindByUserID(id string) (contract.Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for conn := range r.conns {
		if ident := conn.Identity(); ident != nil && ident.UserID == id {
			return conn, true
		}
	}
	return nil, false
}

func (r *Registry) FilterByDepartment(dept string) []contract.Session {
	return lo.Filter(r.All(), func(s contract.Session, _ int) bool {
		ident := s.Identity()
		return ident != nil && ident.Department == dept
	})
}

// All returns a snapshot; a pass iterating it may still hit a connection
// closed in the meantime, which must fail silently at the transport.
func (r *Registry) All() []contract.Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sessions := make([]contract.Session, 0, len(r.conns))
	for conn := range r.conns {
		sessions = append(sessions, conn)
	}
	return sessions
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}
