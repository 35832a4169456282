package snapshot

import (
	"encoding/binary"
	"fmt"
)

// On-disk/wire layout (fixed field order, little-endian, matching the
// header-field convention used elsewhere for chain data):
//
//	height:     4 bytes (uint32)
//	timestamp:  8 bytes (uint64)
//	totalSize:  8 bytes (uint64)
//	chunkCount: 4 bytes (uint32)
//	chunks[i]:  index (4) || digest (32) || size (8)
const (
	headerSize = 4 + 8 + 8 + 4
	chunkSize  = 4 + 32 + 8
)

// Marshal serializes a manifest to its fixed binary layout.
func (m *Manifest) Marshal() ([]byte, error) {
	if err := validateManifest(m); err != nil {
		return nil, err
	}

	buf := make([]byte, headerSize+len(m.Chunks)*chunkSize)

	binary.LittleEndian.PutUint32(buf[0:4], m.Height)
	binary.LittleEndian.PutUint64(buf[4:12], m.Timestamp)
	binary.LittleEndian.PutUint64(buf[12:20], m.TotalSize)
	binary.LittleEndian.PutUint32(buf[20:24], uint32(len(m.Chunks)))

	off := headerSize
	for _, c := range m.Chunks {
		binary.LittleEndian.PutUint32(buf[off:off+4], c.Index)
		copy(buf[off+4:off+36], c.Digest[:])
		binary.LittleEndian.PutUint64(buf[off+36:off+44], c.Size)
		off += chunkSize
	}

	return buf, nil
}

// Unmarshal deserializes a manifest from its fixed binary layout. It does
// not call IsValid — callers that need a validated manifest (ChunkStore on
// load) must check separately, so a corrupt-but-parseable manifest can be
// distinguished from a truncated one.
func Unmarshal(data []byte) (*Manifest, error) {
	if len(data) < headerSize {
		return nil, fmt.Errorf("manifest data too short: %d bytes, need at least %d", len(data), headerSize)
	}

	m := &Manifest{
		Height:    binary.LittleEndian.Uint32(data[0:4]),
		Timestamp: binary.LittleEndian.Uint64(data[4:12]),
		TotalSize: binary.LittleEndian.Uint64(data[12:20]),
	}

	count := binary.LittleEndian.Uint32(data[20:24])
	want := headerSize + int(count)*chunkSize
	if len(data) != want {
		return nil, fmt.Errorf("manifest data size mismatch: got %d bytes, expected %d for %d chunks", len(data), want, count)
	}

	m.Chunks = make([]ChunkInfo, count)
	off := headerSize
	for i := uint32(0); i < count; i++ {
		var c ChunkInfo
		c.Index = binary.LittleEndian.Uint32(data[off : off+4])
		copy(c.Digest[:], data[off+4:off+36])
		c.Size = binary.LittleEndian.Uint64(data[off+36 : off+44])
		m.Chunks[i] = c
		off += chunkSize
	}

	return m, nil
}
