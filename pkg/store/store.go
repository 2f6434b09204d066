// Package store holds the durable increment log behind the sync engine. The
// repository owns the monotonic version counter: the engine only reads it or
// appends through SaveAll, never computes a version itself.
package store

import (
	"encoding/json"
	"fmt"

	"github.com/oklog/ulid/v2"

	"github.com/astromechza/sketch-sync/pkg/protocol"
)

// Repository is the narrow contract the sync engine consumes.
type Repository interface {
	// LastVersion returns the count of durable increments committed so far.
	LastVersion() (int64, error)
	// SinceVersion returns the increments committed strictly after version, in
	// commit order, in their committed form.
	SinceVersion(version int64) ([]protocol.Increment, error)
	// SaveAll appends the batch atomically and returns each increment as
	// committed, which may differ from the input (assigned id and version). A
	// refused batch fails with a *RejectionError and leaves the log unchanged.
	SaveAll(increments []protocol.Increment) ([]protocol.Increment, error)
}

// RejectionError signals that a batch could not be committed, with a reason fit
// to return to the submitting client.
type RejectionError struct {
	Reason string
	Cause  error
}

func (e *RejectionError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Reason, e.Cause)
	}
	return e.Reason
}

func (e *RejectionError) Unwrap() error {
	return e.Cause
}

// maxIncrementBytes bounds a single increment payload; larger batches are
// rejected rather than committed.
const maxIncrementBytes = 64 * 1024

// stampIncrement validates one submitted increment and produces its committed
// form: the same object with repository-assigned "id" and "version" fields.
func stampIncrement(increment protocol.Increment, version int64) (protocol.Increment, string, error) {
	if len(increment) > maxIncrementBytes {
		return nil, "", &RejectionError{Reason: fmt.Sprintf("increment exceeds %d bytes", maxIncrementBytes)}
	}
	var fields map[string]interface{}
	if err := json.Unmarshal(increment, &fields); err != nil {
		return nil, "", &RejectionError{Reason: "increment is not a JSON object", Cause: err}
	}
	id := ulid.Make().String()
	fields["id"] = id
	fields["version"] = version
	committed, err := json.Marshal(fields)
	if err != nil {
		return nil, "", fmt.Errorf("failed to encode committed increment: %w", err)
	}
	return committed, id, nil
}
