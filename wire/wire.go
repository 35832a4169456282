// Package wire defines the request/response messages exchanged between
// snapshot peers, and their compact binary codec.
package wire

import (
	"fmt"

	varint "github.com/multiformats/go-varint"
)

// MessageType tags which wire message a payload decodes to.
type MessageType byte

const (
	// MessageGetChunk requests one chunk by index.
	MessageGetChunk MessageType = 1
	// MessageChunk carries one chunk's index and payload.
	MessageChunk MessageType = 2
)

// GetChunk requests a specific chunk by index.
type GetChunk struct {
	ChunkNumber uint32
}

// Chunk carries a chunk's index and raw payload bytes.
type Chunk struct {
	ChunkNumber uint32
	Data        []byte
}

// Encode serializes a GetChunk as: type byte || varint(chunkNumber).
func (g GetChunk) Encode() []byte {
	buf := make([]byte, 0, 1+varint.UvarintSize(uint64(g.ChunkNumber)))
	buf = append(buf, byte(MessageGetChunk))
	buf = append(buf, varint.ToUvarint(uint64(g.ChunkNumber))...)
	return buf
}

// DecodeGetChunk parses a GetChunk previously produced by Encode.
func DecodeGetChunk(data []byte) (GetChunk, error) {
	if len(data) < 1 {
		return GetChunk{}, fmt.Errorf("wire: empty GetChunk message")
	}
	if MessageType(data[0]) != MessageGetChunk {
		return GetChunk{}, fmt.Errorf("wire: expected GetChunk type 0x%x, got 0x%x", MessageGetChunk, data[0])
	}

	n, bytesRead, err := varint.FromUvarint(data[1:])
	if err != nil {
		return GetChunk{}, fmt.Errorf("wire: failed to decode chunk number: %w", err)
	}
	if bytesRead != len(data)-1 {
		return GetChunk{}, fmt.Errorf("wire: %d trailing bytes after GetChunk payload", len(data)-1-bytesRead)
	}

	return GetChunk{ChunkNumber: uint32(n)}, nil
}

// Encode serializes a Chunk as:
// type byte || varint(chunkNumber) || varint(len(data)) || data.
func (c Chunk) Encode() []byte {
	head := make([]byte, 0, 1+varint.UvarintSize(uint64(c.ChunkNumber))+varint.UvarintSize(uint64(len(c.Data))))
	head = append(head, byte(MessageChunk))
	head = append(head, varint.ToUvarint(uint64(c.ChunkNumber))...)
	head = append(head, varint.ToUvarint(uint64(len(c.Data)))...)
	return append(head, c.Data...)
}

// DecodeChunk parses a Chunk previously produced by Encode.
func DecodeChunk(data []byte) (Chunk, error) {
	if len(data) < 1 {
		return Chunk{}, fmt.Errorf("wire: empty Chunk message")
	}
	if MessageType(data[0]) != MessageChunk {
		return Chunk{}, fmt.Errorf("wire: expected Chunk type 0x%x, got 0x%x", MessageChunk, data[0])
	}

	rest := data[1:]
	chunkNumber, n1, err := varint.FromUvarint(rest)
	if err != nil {
		return Chunk{}, fmt.Errorf("wire: failed to decode chunk number: %w", err)
	}
	rest = rest[n1:]

	length, n2, err := varint.FromUvarint(rest)
	if err != nil {
		return Chunk{}, fmt.Errorf("wire: failed to decode data length: %w", err)
	}
	rest = rest[n2:]

	if uint64(len(rest)) != length {
		return Chunk{}, fmt.Errorf("wire: data length mismatch: header says %d, have %d", length, len(rest))
	}

	// Copy so the returned Chunk does not alias the caller's buffer.
	payload := make([]byte, len(rest))
	copy(payload, rest)

	return Chunk{ChunkNumber: uint32(chunkNumber), Data: payload}, nil
}
