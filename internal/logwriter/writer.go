// Package logwriter encodes one dump file from a boot's event log, per
// spec §4.8.
package logwriter

import (
	"encoding/json"
	"os"

	"github.com/memfault/bort/internal/storage"
)

const schemaVersion = 1

type dumpFile struct {
	SchemaVersion int             `json:"schema_version"`
	LinuxBootID   string          `json:"linux_boot_id"`
	Cid           string          `json:"cid"`
	NextCid       string          `json:"next_cid"`
	Events        []eventEnvelope `json:"events"`
}

// eventEnvelope is marshaled by hand (not via struct tags) because the key
// name for the type field switches between "type" and "_type" depending on
// the internal flag.
type eventEnvelope struct {
	ts       float64
	typeKey  string
	typeVal  string
	data     json.RawMessage
}

func (e eventEnvelope) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]interface{}{
		"ts":    e.ts,
		e.typeKey: e.typeVal,
		"data":  e.data,
	})
}

// Write streams view as one JSON dump file at path. If an event's blob
// fails to parse as JSON, it is wrapped as an invalid_data entry (spec
// §4.8). Returns the number of events written.
func Write(path string, view storage.BootView) (int, error) {
	envelopes := make([]eventEnvelope, 0, len(view.Events))
	for _, e := range view.Events {
		envelopes = append(envelopes, encodeEvent(e))
	}

	df := dumpFile{
		SchemaVersion: schemaVersion,
		LinuxBootID:   view.BootID,
		Cid:           view.Cid,
		NextCid:       view.NextCid,
		Events:        envelopes,
	}

	data, err := json.Marshal(df)
	if err != nil {
		return 0, err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return 0, err
	}
	return len(envelopes), nil
}

func encodeEvent(e storage.LogEntry) eventEnvelope {
	tsMs := float64(e.TimestampNs) / 1e6

	raw := json.RawMessage(e.Blob)
	if !json.Valid(raw) || len(raw) == 0 {
		invalid, _ := json.Marshal(map[string]interface{}{
			"original_type": e.Type,
			"original_data": string(e.Blob),
		})
		return eventEnvelope{ts: tsMs, typeKey: "_type", typeVal: "invalid_data", data: invalid}
	}

	key := "type"
	if e.Internal {
		key = "_type"
	}
	return eventEnvelope{ts: tsMs, typeKey: key, typeVal: e.Type, data: raw}
}
