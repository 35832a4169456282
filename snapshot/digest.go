package snapshot

import (
	"crypto/sha256"

	"github.com/ZclassicCommunity/zclassic/kvstore"
)

// reverse32 reverses the byte order of a 32-byte digest. Centralizing this
// in one place matters: the manifest's expected digests are generated by
// an external tool (sha256sum) that emits big-endian hex, while
// kvstore.Hash displays little-endian. Every conversion between the two
// representations must go through here.
func reverse32(b [32]byte) kvstore.Hash {
	var out kvstore.Hash
	for i := 0; i < 32; i++ {
		out[i] = b[32-1-i]
	}
	return out
}

// DigestChunk computes the manifest-convention digest of raw chunk bytes:
// a single pass of SHA-256, byte-reversed to the internal representation.
// This is not a double-SHA256 — the manifest's chunk digests are produced
// once, by the external packaging tool, over the exact chunk bytes.
func DigestChunk(data []byte) kvstore.Hash {
	sum := sha256.Sum256(data)
	return reverse32(sum)
}

// VerifyChunk reports whether data is the exact, correctly sized payload
// for chunk index i of the manifest. It fails closed: an out-of-range
// index or a size mismatch is rejected before any hashing happens.
func VerifyChunk(m *Manifest, index uint32, data []byte) bool {
	info, ok := m.ChunkAt(index)
	if !ok {
		return false
	}
	if uint64(len(data)) != info.Size {
		return false
	}
	return DigestChunk(data) == info.Digest
}
