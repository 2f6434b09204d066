// Package engine is the synchronization core: it owns session membership,
// decodes and dispatches inbound messages, reconciles client versions against
// the repository, and drives all outbound traffic.
package engine

import (
	"errors"
	"log/slog"

	"github.com/astromechza/sketch-sync/pkg/keyedmutex"
	"github.com/astromechza/sketch-sync/pkg/protocol"
	"github.com/astromechza/sketch-sync/pkg/registry"
	"github.com/astromechza/sketch-sync/pkg/store"
)

// pushLockKey serialises all durable pushes across all sessions. Per-room keys
// would slot in here if rooms were ever partitioned.
const pushLockKey = "push"

type Engine struct {
	repository store.Repository
	sessions   *registry.Registry
	locks      *keyedmutex.KeyedMutex
}

func New(repository store.Repository, sessions *registry.Registry) *Engine {
	return &Engine{
		repository: repository,
		sessions:   sessions,
		locks:      keyedmutex.New(),
	}
}

// Connect adds a session to the membership set.
func (e *Engine) Connect(session registry.Session) {
	e.sessions.Register(session)
	slog.Info("session connected", "session", session, "sessions", e.sessions.Len())
}

// Disconnect removes a session from the membership set.
func (e *Engine) Disconnect(session registry.Session) {
	e.sessions.Unregister(session)
	slog.Info("session disconnected", "session", session, "sessions", e.sessions.Len())
}

// HandleMessage decodes one raw inbound message from a session and dispatches
// it. A message that cannot be decoded is logged and dropped with no reply and
// no effect on other sessions.
func (e *Engine) HandleMessage(session registry.Session, raw []byte) {
	message, err := protocol.DecodeClientMessage(raw)
	if err != nil {
		slog.Error("dropping undecodable message", "session", session, "err", err)
		return
	}
	switch {
	case message.Relay != nil:
		e.relay(session, message.Relay.Increments)
	case message.Pull != nil:
		e.pull(session, message.Pull.LastAcknowledgedVersion)
	case message.Push != nil:
		e.push(session, message.Push)
	}
}

// Shutdown closes every connected session.
func (e *Engine) Shutdown() {
	e.sessions.Drain()
}

// pull compares the client's acknowledged version against the repository and
// returns the missing increments, if any, to the requester only.
func (e *Engine) pull(session registry.Session, lastAcknowledged int64) {
	current, err := e.repository.LastVersion()
	if err != nil {
		slog.Error("failed to read current version", "err", err)
		return
	}
	delta := current - lastAcknowledged
	switch {
	case delta == 0:
		slog.Info("pull from up to date client", "session", session, "version", current)
	case delta < 0:
		// A client can never legitimately be ahead of the repository. Whether
		// to force a full resync here is still unresolved; for now it is only
		// surfaced in the logs.
		slog.Error("client claims version ahead of server", "session", session, "client", lastAcknowledged, "server", current)
	default:
		increments, err := e.repository.SinceVersion(lastAcknowledged)
		if err != nil {
			slog.Error("failed to load increments", "err", err)
			return
		}
		raw, err := protocol.EncodeAcknowledged(increments)
		if err != nil {
			slog.Error("failed to encode acknowledgement", "err", err)
			return
		}
		e.sessions.SendTo(session, raw)
	}
}

// push routes a push by kind: ephemeral increments go straight to the relay fan
// out, durable increments go through the serialised repository append.
func (e *Engine) push(session registry.Session, request *protocol.PushRequest) {
	switch request.Kind {
	case protocol.PushEphemeral:
		e.relay(session, request.Increments)
	case protocol.PushDurable:
		e.pushDurable(session, request.Increments)
	default:
		slog.Error("dropping push with unknown kind", "session", session, "kind", request.Kind)
	}
}

// pushDurable appends the batch under the global push lock so appends from
// concurrent sessions apply one at a time in arrival order. On success every
// session, the sender included, learns the committed form; on rejection only
// the sender hears about it.
func (e *Engine) pushDurable(session registry.Session, increments []protocol.Increment) {
	var committed []protocol.Increment
	err := e.locks.RunExclusive(pushLockKey, func() error {
		var err error
		committed, err = e.repository.SaveAll(increments)
		return err
	})
	if err != nil {
		reason := err.Error()
		var rejection *store.RejectionError
		if errors.As(err, &rejection) {
			reason = rejection.Reason
		}
		slog.Error("rejected durable push", "session", session, "reason", reason)
		raw, err := protocol.EncodeRejected(reason, increments)
		if err != nil {
			slog.Error("failed to encode rejection", "err", err)
			return
		}
		e.sessions.SendTo(session, raw)
		return
	}
	raw, err := protocol.EncodeAcknowledged(committed)
	if err != nil {
		slog.Error("failed to encode acknowledgement", "err", err)
		return
	}
	e.sessions.Broadcast(raw, nil)
}

// relay fans increments out to every session except the sender. Nothing is
// persisted and nothing is acknowledged.
func (e *Engine) relay(session registry.Session, increments []protocol.Increment) {
	raw, err := protocol.EncodeRelayed(increments)
	if err != nil {
		slog.Error("failed to encode relay", "err", err)
		return
	}
	e.sessions.Broadcast(raw, session)
}
