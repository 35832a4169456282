package snapshot

import (
	"reflect"
	"testing"
)

func TestMarshalUnmarshalRoundTrip(t *testing.T) {
	m := validManifest()

	data, err := m.Marshal()
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}

	got, err := Unmarshal(data)
	if err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}

	if !reflect.DeepEqual(m, got) {
		t.Fatalf("round trip mismatch:\n got  %+v\n want %+v", got, m)
	}
}

func TestMarshalRejectsInvalidManifest(t *testing.T) {
	m := validManifest()
	m.Height = 0

	if _, err := m.Marshal(); err == nil {
		t.Fatal("expected Marshal to reject an invalid manifest")
	}
}

func TestUnmarshalRejectsTruncatedHeader(t *testing.T) {
	if _, err := Unmarshal([]byte{1, 2, 3}); err == nil {
		t.Fatal("expected Unmarshal to reject data shorter than the header")
	}
}

func TestUnmarshalRejectsSizeMismatch(t *testing.T) {
	m := validManifest()
	data, err := m.Marshal()
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}

	truncated := data[:len(data)-1]
	if _, err := Unmarshal(truncated); err == nil {
		t.Fatal("expected Unmarshal to reject truncated chunk data")
	}
}

func TestUnmarshalEmptyChunks(t *testing.T) {
	m := &Manifest{Height: 1, Timestamp: 2, TotalSize: 0}
	data, err := Unmarshal(mustMarshalUnvalidated(m))
	if err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if data.Height != 1 || len(data.Chunks) != 0 {
		t.Fatalf("unexpected result: %+v", data)
	}
}

// mustMarshalUnvalidated bypasses Marshal's IsValid guard to exercise
// Unmarshal against a header-only manifest with zero chunks.
func mustMarshalUnvalidated(m *Manifest) []byte {
	buf := make([]byte, headerSize)
	buf[0] = byte(m.Height)
	buf[4] = byte(m.Timestamp)
	buf[12] = byte(m.TotalSize)
	return buf
}
