// Package storage - Serialization helpers for BadgerDB.
package storage

import (
	"encoding/json"
	"fmt"

	"github.com/orneryd/edgesample/pkg/snapshot"
)

// serializeSnapshot converts a Snapshot to JSON bytes for BadgerDB storage.
func serializeSnapshot(snap *snapshot.Snapshot) ([]byte, error) {
	return json.Marshal(snap)
}

// deserializeSnapshot converts JSON bytes back to a Snapshot.
func deserializeSnapshot(data []byte) (*snapshot.Snapshot, error) {
	var snap snapshot.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("unmarshaling snapshot: %w", err)
	}
	return &snap, nil
}

// serializeMeta converts Meta to JSON bytes for BadgerDB storage.
func serializeMeta(m *Meta) ([]byte, error) {
	return json.Marshal(m)
}

// deserializeMeta converts JSON bytes back to Meta.
func deserializeMeta(data []byte) (*Meta, error) {
	var m Meta
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("unmarshaling meta: %w", err)
	}
	return &m, nil
}
