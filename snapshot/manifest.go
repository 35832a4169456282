// Package snapshot defines the content-addressed chunk and manifest model
// for chain-state snapshot distribution: fixed-size chunks, per-chunk
// digests, and the total-size invariant a manifest must satisfy.
package snapshot

import (
	"fmt"

	"github.com/ZclassicCommunity/zclassic/kvstore"
)

// ChunkSize is the maximum payload size of a single snapshot chunk, in
// bytes. Only the final chunk of a manifest may be smaller.
const ChunkSize = 52428800 // 50 MB

// ChunkInfo is an immutable record describing one chunk of a snapshot:
// its dense 0-based index, expected payload size, and digest.
type ChunkInfo struct {
	Index  uint32
	Size   uint64
	Digest kvstore.Hash
}

// Manifest is the pinned, immutable description of a snapshot at a given
// block height: total payload size and an ordered sequence of ChunkInfo.
type Manifest struct {
	Height    uint32
	Timestamp uint64
	TotalSize uint64
	Chunks    []ChunkInfo
}

// ChunkCount returns the number of chunks described by the manifest.
func (m *Manifest) ChunkCount() uint32 {
	return uint32(len(m.Chunks))
}

// IsValid reports whether the manifest satisfies the invariants required
// of any manifest used by the snapshot subsystem:
//   - height > 0
//   - at least one chunk
//   - total size > 0
//   - chunks numbered 0..N-1 with no gaps (index density)
//   - the sum of chunk sizes equals TotalSize
//   - every chunk but possibly the last has size ChunkSize
//   - the last chunk is never zero-sized
func (m *Manifest) IsValid() bool {
	if m.Height == 0 || len(m.Chunks) == 0 || m.TotalSize == 0 {
		return false
	}

	var sum uint64
	last := len(m.Chunks) - 1
	for i, c := range m.Chunks {
		if c.Index != uint32(i) {
			return false
		}
		if i < last {
			if c.Size != ChunkSize {
				return false
			}
		} else {
			if c.Size == 0 || c.Size > ChunkSize {
				return false
			}
		}
		sum += c.Size
	}

	return sum == m.TotalSize
}

// ChunkAt returns the ChunkInfo for the given index and whether it exists.
func (m *Manifest) ChunkAt(index uint32) (ChunkInfo, bool) {
	if int(index) >= len(m.Chunks) {
		return ChunkInfo{}, false
	}
	return m.Chunks[index], true
}

// validateManifest is a shared guard used by ChunkStore before it will
// accept a manifest, whether loaded from disk or compiled into the binary.
func validateManifest(m *Manifest) error {
	if m == nil {
		return fmt.Errorf("manifest is nil")
	}
	if !m.IsValid() {
		return fmt.Errorf("manifest invalid: height=%d chunks=%d totalSize=%d", m.Height, len(m.Chunks), m.TotalSize)
	}
	return nil
}
