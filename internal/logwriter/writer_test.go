package logwriter

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/memfault/bort/internal/storage"
)

func TestWriteValidAndInvalidEvents(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "dump.json")

	view := storage.BootView{
		BootID:  "boot-1",
		Cid:     "cid-a",
		NextCid: "cid-b",
		Events: []storage.LogEntry{
			{TimestampNs: 1_000_000_000, Type: "heartbeat", Blob: storage.CompressedText(`{"x":1}`), Internal: false},
			{TimestampNs: 2_000_000_000, Type: "internal_thing", Blob: storage.CompressedText(`{"y":2}`), Internal: true},
			{TimestampNs: 3_000_000_000, Type: "broken", Blob: storage.CompressedText(`not json`), Internal: false},
		},
	}

	n, err := Write(path, view)
	if err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if n != 3 {
		t.Fatalf("wrote %d events, want 3", n)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}

	var decoded map[string]interface{}
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("dump file is not valid JSON: %v", err)
	}

	if decoded["linux_boot_id"] != "boot-1" {
		t.Errorf("linux_boot_id = %v, want boot-1", decoded["linux_boot_id"])
	}
	if decoded["cid"] != "cid-a" || decoded["next_cid"] != "cid-b" {
		t.Errorf("cid/next_cid = %v/%v", decoded["cid"], decoded["next_cid"])
	}

	events, ok := decoded["events"].([]interface{})
	if !ok || len(events) != 3 {
		t.Fatalf("events = %v", decoded["events"])
	}

	first := events[0].(map[string]interface{})
	if first["type"] != "heartbeat" {
		t.Errorf("first event type = %v, want heartbeat", first["type"])
	}
	if _, hasUnderscoreType := first["_type"]; hasUnderscoreType {
		t.Errorf("non-internal event should not carry _type")
	}

	second := events[1].(map[string]interface{})
	if second["_type"] != "internal_thing" {
		t.Errorf("internal event should use _type key, got %v", second)
	}

	third := events[2].(map[string]interface{})
	if third["_type"] != "invalid_data" {
		t.Errorf("malformed blob should become invalid_data, got %v", third)
	}
	data := third["data"].(map[string]interface{})
	if data["original_type"] != "broken" {
		t.Errorf("invalid_data.original_type = %v, want broken", data["original_type"])
	}
}

func TestWritePreservesSubMillisecondTimestamp(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "dump.json")

	view := storage.BootView{
		BootID: "boot-1",
		Events: []storage.LogEntry{
			{TimestampNs: 1_500_000_001, Type: "heartbeat", Blob: storage.CompressedText(`{"x":1}`)},
		},
	}

	if _, err := Write(path, view); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	var decoded map[string]interface{}
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("dump file is not valid JSON: %v", err)
	}
	events := decoded["events"].([]interface{})
	ts := events[0].(map[string]interface{})["ts"].(float64)
	const want = 1500.000001
	if diff := ts - want; diff > 1e-6 || diff < -1e-6 {
		t.Errorf("ts = %v, want %v (fractional millisecond truncated)", ts, want)
	}
}
