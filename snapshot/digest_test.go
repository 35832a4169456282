package snapshot

import (
	"encoding/hex"
	"testing"
)

// sha256sum of "abc" (the standard NIST test vector), as an external tool
// using sha256sum would print it: big-endian hex.
const abcSHA256Hex = "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad"

func TestDigestChunkByteOrder(t *testing.T) {
	want, err := hex.DecodeString(abcSHA256Hex)
	if err != nil {
		t.Fatalf("bad test vector: %v", err)
	}

	// Reverse the external tool's big-endian bytes by hand, independent of
	// the implementation under test, to pin the documented convention.
	wantReversed := make([]byte, 32)
	for i := 0; i < 32; i++ {
		wantReversed[i] = want[32-1-i]
	}

	got := DigestChunk([]byte("abc"))

	if hex.EncodeToString(got[:]) != hex.EncodeToString(wantReversed) {
		t.Fatalf("digest byte order mismatch: got %x, want %x", got[:], wantReversed)
	}
}

func TestVerifyChunk(t *testing.T) {
	data := []byte("abcd")
	m := &Manifest{
		Height:    1,
		TotalSize: 4,
		Chunks: []ChunkInfo{
			{Index: 0, Size: 4, Digest: DigestChunk(data)},
		},
	}

	if !VerifyChunk(m, 0, data) {
		t.Fatal("expected chunk to verify")
	}
}

func TestVerifyChunkRejectsSizeMismatch(t *testing.T) {
	m := &Manifest{
		Height:    1,
		TotalSize: 4,
		Chunks: []ChunkInfo{
			{Index: 0, Size: 4, Digest: DigestChunk([]byte("abcd"))},
		},
	}

	if VerifyChunk(m, 0, []byte("abcde")) {
		t.Fatal("expected size mismatch to fail verification")
	}
}

func TestVerifyChunkRejectsDigestMismatch(t *testing.T) {
	m := &Manifest{
		Height:    1,
		TotalSize: 4,
		Chunks: []ChunkInfo{
			{Index: 0, Size: 4, Digest: DigestChunk([]byte("abcd"))},
		},
	}

	if VerifyChunk(m, 0, []byte("zzzz")) {
		t.Fatal("expected digest mismatch to fail verification")
	}
}

func TestVerifyChunkRejectsOutOfRange(t *testing.T) {
	m := &Manifest{
		Height:    1,
		TotalSize: 4,
		Chunks: []ChunkInfo{
			{Index: 0, Size: 4, Digest: DigestChunk([]byte("abcd"))},
		},
	}

	if VerifyChunk(m, 1, []byte("abcd")) {
		t.Fatal("expected out-of-range index to fail verification")
	}
}
