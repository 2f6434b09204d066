// Package registry tracks the set of live client sessions and routes outbound
// messages to one or all of them.
package registry

import (
	"io"
	"log/slog"
	"sync"
)

// Session is one live client connection. Implementations must allow Send to be
// called from multiple goroutines. Sessions are compared by interface identity
// for membership; the registry never inspects them beyond that.
type Session interface {
	Send(message []byte) error
}

// Registry is the thread-safe membership set. The engine holds the sole
// reference; sessions join on connect and leave on disconnect and belong to no
// other collection.
type Registry struct {
	mu       sync.Mutex
	sessions map[Session]struct{}
}

func New() *Registry {
	return &Registry{sessions: map[Session]struct{}{}}
}

// Register adds the session. Registering an existing member is a no-op.
func (r *Registry) Register(session Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[session] = struct{}{}
}

// Unregister removes the session. Unregistering a non-member is a no-op.
func (r *Registry) Unregister(session Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, session)
}

// Len returns the current number of registered sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// SendTo delivers one message to one session. A send failure is logged and
// swallowed; delivery is best effort.
func (r *Registry) SendTo(session Session, message []byte) {
	if err := session.Send(message); err != nil {
		slog.Error("failed to send to session", "session", session, "err", err)
	}
}

// Broadcast delivers the message to every registered session except the
// excluded one. Membership is snapshotted once, so a session that disconnects
// mid-broadcast may still receive the message. A failure sending to one
// recipient is logged and does not affect the others.
func (r *Registry) Broadcast(message []byte, except Session) {
	r.mu.Lock()
	recipients := make([]Session, 0, len(r.sessions))
	for session := range r.sessions {
		if session != except {
			recipients = append(recipients, session)
		}
	}
	r.mu.Unlock()
	for _, session := range recipients {
		if err := session.Send(message); err != nil {
			slog.Error("failed to broadcast to session", "session", session, "err", err)
		}
	}
}

// Drain unregisters every session and closes those that support closing. Used
// on server shutdown.
func (r *Registry) Drain() {
	r.mu.Lock()
	sessions := make([]Session, 0, len(r.sessions))
	for session := range r.sessions {
		sessions = append(sessions, session)
	}
	r.sessions = map[Session]struct{}{}
	r.mu.Unlock()
	for _, session := range sessions {
		if closer, ok := session.(io.Closer); ok {
			if err := closer.Close(); err != nil {
				slog.Error("failed to close session", "session", session, "err", err)
			}
		}
	}
}
