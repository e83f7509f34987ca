// Package snapshot implements the snapshot/serializer (C8): a
// versioned, opaque wire format for a paused Automa's full state, and a
// Store abstraction for persisting and reloading it by run ID, grounded
// on the teacher's session.Store/run.Store persist-by-ID pattern.
package snapshot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// SerializationVersion tags every Snapshot produced by Encode. Decode
// rejects a Snapshot whose Version does not match it, rather than attempt
// a best-effort decode; Store.Load implementations return whatever was
// stored without checking the version.
const SerializationVersion = "automa.snapshot.v1"

// ErrNotFound is returned by Store.Load when no snapshot exists for the
// given run ID.
var ErrNotFound = errors.New("snapshot: not found")

// Snapshot is an opaque, versioned capture of a paused Automa's state.
// Callers never inspect Bytes directly; they round-trip it through
// Encode/Decode against a concrete state struct (the root automa
// package's stateDTO).
type Snapshot struct {
	Version string
	Bytes   []byte
}

// Store persists and reloads Snapshots by run ID.
type Store interface {
	// Dump persists snap under id, replacing any prior snapshot for the
	// same id.
	Dump(ctx context.Context, id string, snap Snapshot) error
	// Load returns the snapshot previously dumped under id, or
	// ErrNotFound if none exists.
	Load(ctx context.Context, id string) (Snapshot, error)
	// Delete removes the snapshot for id, if one exists. Deleting a
	// missing id is not an error.
	Delete(ctx context.Context, id string) error
}

// Encode marshals state to JSON and wraps it as a Snapshot tagged with
// SerializationVersion.
func Encode(state any) (Snapshot, error) {
	b, err := json.Marshal(state)
	if err != nil {
		return Snapshot{}, fmt.Errorf("snapshot: encode: %w", err)
	}
	return Snapshot{Version: SerializationVersion, Bytes: b}, nil
}

// Decode unmarshals snap into dest, rejecting a version mismatch rather
// than attempting to read a foreign wire format.
func Decode(snap Snapshot, dest any) error {
	if snap.Version != SerializationVersion {
		return fmt.Errorf("snapshot: unsupported version %q, want %q", snap.Version, SerializationVersion)
	}
	if err := json.Unmarshal(snap.Bytes, dest); err != nil {
		return fmt.Errorf("snapshot: decode: %w", err)
	}
	return nil
}
