package storage

import (
	"testing"
)

func TestCompressedText(t *testing.T) {
	tests := []struct {
		name string
		text string
	}{
		{"EmptyBlob", ""},
		{"ShortEventBlob", `{"type":"heartbeat"}`},
		{"LongEventBlob", `{"type":"diagnostic","payload":"` +
			`repeated log line repeated log line repeated log line ` +
			`repeated log line repeated log line repeated log line ` +
			`repeated log line repeated log line repeated log line"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ct := CompressedText(tt.text)

			value, err := ct.Value()
			if err != nil {
				t.Fatalf("Value() error = %v", err)
			}

			if tt.text == "" {
				if value != "" {
					t.Errorf("Expected empty value for empty blob, got %v", value)
				}
				return
			}

			bytes, ok := value.([]byte)
			if !ok {
				t.Fatalf("Value() did not return []byte, got %T", value)
			}

			if string(bytes[:4]) != zstdMagic {
				t.Errorf("Expected zstd magic header, got %v", bytes[:4])
			}

			var scanned CompressedText
			if err := scanned.Scan(bytes); err != nil {
				t.Fatalf("Scan() error = %v", err)
			}

			if string(scanned) != tt.text {
				t.Errorf("Scan() result = %v, want %v", string(scanned), tt.text)
			}
		})
	}
}

func TestCompressedTextScanAcceptsPreExistingUncompressedRows(t *testing.T) {
	// A row written before CompressedText started zstd-encoding blobs (or by
	// a direct SQL insert) has no magic header; Scan must still decode it.
	legacyBlob := `{"type":"boot","blob":"uncompressed"}`
	var scanned CompressedText
	if err := scanned.Scan([]byte(legacyBlob)); err != nil {
		t.Fatalf("Scan() legacy error = %v", err)
	}

	if string(scanned) != legacyBlob {
		t.Errorf("Scan() legacy result = %v, want %v", string(scanned), legacyBlob)
	}
}
