package runtime

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"office-messenger/contract"
	"office-messenger/domain"
	apperrors "office-messenger/errors"
)

// Connection is one live socket tracked by the Registry. It wraps the
// transport peer with the identity state attached by the register command
// and the liveness flag driven by the probe sweep.
type Connection struct {
	id   string
	peer contract.Peer

	mu           sync.RWMutex
	identity     *domain.Identity
	registeredAt time.Time
	alive        bool
}

// NewConnection wraps a freshly opened socket. It starts alive so the first
// sweep probes it instead of terminating it; the client gets one full probe
// cycle to register before MarkAlive's identity requirement lets it expire.
func NewConnection(peer contract.Peer) *Connection {
	return &Connection{id: uuid.NewString(), peer: peer, alive: true}
}

func (c *Connection) ID() string { return c.id }

// Attach binds an identity to the connection. The first identity wins;
// re-registration within one session is rejected so the identity can never
// end up split across two partial states.
func (c *Connection) Attach(identity domain.Identity) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.identity != nil {
		return apperrors.ErrAlreadyRegistered
	}
	ident := identity
	c.identity = &ident
	c.registeredAt = time.Now()
	c.alive = true
	return nil
}

// Identity returns a copy of the attached identity, nil before registration.
func (c *Connection) Identity() *domain.Identity {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.identity == nil {
		return nil
	}
	ident := *c.identity
	return &ident
}

func (c *Connection) RegisteredAt() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.registeredAt
}

func (c *Connection) Alive() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.alive
}

// MarkAlive refreshes the liveness flag on a probe acknowledgment. A
// connection without an identity is never considered alive, which forces
// clients to register promptly or be dropped by the sweep.
func (c *Connection) MarkAlive() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.alive = c.identity != nil
}

// Expire marks the connection presumptively dead until the next probe
// acknowledgment refreshes it.
func (c *Connection) Expire() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.alive = false
}

func (c *Connection) Send(payload []byte) error { return c.peer.Send(payload) }
func (c *Connection) Ping() error               { return c.peer.Ping() }
func (c *Connection) Close() error              { return c.peer.Close() }
func (c *Connection) Open() bool                { return c.peer.Open() }
func (c *Connection) RemoteAddr() string        { return c.peer.RemoteAddr() }
