package storage

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"alarmd/internal/alarm"
)

const snapshotVersion = 1

type snapshot struct {
	Version int           `json:"version"`
	Alarms  []alarm.Alarm `json:"alarms"`
}

// Encode renders alarms in the on-disk snapshot format.
func Encode(alarms []alarm.Alarm) ([]byte, error) {
	if alarms == nil {
		alarms = []alarm.Alarm{}
	}
	b, err := json.MarshalIndent(snapshot{Version: snapshotVersion, Alarms: alarms}, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(b, '\n'), nil
}

// Decode parses a snapshot. Empty input is an empty collection.
func Decode(b []byte) ([]alarm.Alarm, error) {
	if len(bytes.TrimSpace(b)) == 0 {
		return nil, nil
	}
	var s snapshot
	if err := json.Unmarshal(b, &s); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	if s.Version > snapshotVersion {
		return nil, fmt.Errorf("snapshot version %d is newer than supported %d", s.Version, snapshotVersion)
	}
	return s.Alarms, nil
}

// Hash fingerprints a collection by its encoded snapshot.
func Hash(alarms []alarm.Alarm) string {
	b, err := Encode(alarms)
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}
