package snapshot

import "testing"

func validManifest() *Manifest {
	return &Manifest{
		Height:    100,
		Timestamp: 1700000000,
		TotalSize: 10,
		Chunks: []ChunkInfo{
			{Index: 0, Size: 4, Digest: DigestChunk([]byte("abcd"))},
			{Index: 1, Size: 4, Digest: DigestChunk([]byte("efgh"))},
			{Index: 2, Size: 2, Digest: DigestChunk([]byte("ij"))},
		},
	}
}

func TestManifestIsValid(t *testing.T) {
	m := validManifest()
	if !m.IsValid() {
		t.Fatal("expected valid manifest")
	}
}

func TestManifestIsValidRejectsZeroHeight(t *testing.T) {
	m := validManifest()
	m.Height = 0
	if m.IsValid() {
		t.Fatal("expected invalid manifest with zero height")
	}
}

func TestManifestIsValidRejectsGap(t *testing.T) {
	m := validManifest()
	m.Chunks[1].Index = 5
	if m.IsValid() {
		t.Fatal("expected invalid manifest with index gap")
	}
}

func TestManifestIsValidRejectsSizeMismatch(t *testing.T) {
	m := validManifest()
	m.TotalSize = 999
	if m.IsValid() {
		t.Fatal("expected invalid manifest with total size mismatch")
	}
}

func TestManifestIsValidRejectsZeroLastChunk(t *testing.T) {
	m := validManifest()
	m.Chunks[2].Size = 0
	m.TotalSize = 8
	if m.IsValid() {
		t.Fatal("expected invalid manifest with zero-sized last chunk")
	}
}

func TestManifestIsValidRejectsOversizedNonLastChunk(t *testing.T) {
	m := validManifest()
	m.Chunks[0].Size = ChunkSize + 1
	m.TotalSize = m.Chunks[0].Size + m.Chunks[1].Size + m.Chunks[2].Size
	if m.IsValid() {
		t.Fatal("expected invalid manifest with non-last chunk larger than ChunkSize")
	}
}

func TestManifestIsValidEmptyChunks(t *testing.T) {
	m := &Manifest{Height: 1, TotalSize: 1}
	if m.IsValid() {
		t.Fatal("expected invalid manifest with no chunks")
	}
}

func TestChunkAt(t *testing.T) {
	m := validManifest()

	c, ok := m.ChunkAt(1)
	if !ok || c.Index != 1 {
		t.Fatalf("expected chunk 1, got %+v ok=%v", c, ok)
	}

	if _, ok := m.ChunkAt(99); ok {
		t.Fatal("expected out-of-range lookup to fail")
	}
}
