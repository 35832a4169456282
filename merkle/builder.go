// Package merkle builds binary Merkle trees over leaf hashes, persisting
// each internal node in IPLD format (64-byte nodes: left || right) so a
// tree can later be walked without recomputation.
package merkle

import (
	"context"
	"crypto/sha256"
	"fmt"

	"github.com/ZclassicCommunity/zclassic/kvstore"
	"github.com/ZclassicCommunity/zclassic/multihash"
)

// Builder builds Merkle trees and stores their internal nodes.
type Builder struct {
	store kvstore.KVStore
}

// NewBuilder creates a new Merkle tree builder backed by store.
func NewBuilder(store kvstore.KVStore) *Builder {
	return &Builder{store: store}
}

// BuildRoot builds a Merkle tree over leaves and returns the multihash of
// its root. leaves are combined pairwise, duplicating a dangling last leaf
// at each level, until a single root remains. This is the shape used both
// for a transaction subtree's root and for a canonicalized UTXO set's root.
func (b *Builder) BuildRoot(ctx context.Context, leaves [][32]byte) (multihash.MerkleHash, error) {
	if len(leaves) == 0 {
		return nil, fmt.Errorf("cannot build tree with zero leaves")
	}

	if len(leaves) == 1 {
		return multihash.WrapMerkleHash(leaves[0])
	}

	root, err := b.buildTree(ctx, leaves)
	if err != nil {
		return nil, err
	}

	return multihash.WrapMerkleHash(root)
}

// buildTree recursively builds the merkle tree
func (b *Builder) buildTree(ctx context.Context, hashes [][32]byte) ([32]byte, error) {
	n := len(hashes)
	if n == 0 {
		return [32]byte{}, fmt.Errorf("cannot build tree with zero hashes")
	}

	if n == 1 {
		return hashes[0], nil
	}

	nextLevel := make([][32]byte, 0, (n+1)/2)

	for i := 0; i < n; i += 2 {
		left := hashes[i]
		var right [32]byte

		if i+1 < n {
			right = hashes[i+1]
		} else {
			right = left
		}

		parent := hashPair(left, right)

		node := make([]byte, 64)
		copy(node[0:32], left[:])
		copy(node[32:64], right[:])

		mh, err := multihash.WrapMerkleHash(parent)
		if err != nil {
			return [32]byte{}, fmt.Errorf("failed to wrap hash: %w", err)
		}

		if err := b.store.Put(ctx, mh.Bytes(), node); err != nil {
			return [32]byte{}, fmt.Errorf("failed to store node: %w", err)
		}

		nextLevel = append(nextLevel, parent)
	}

	return b.buildTree(ctx, nextLevel)
}

// hashPair computes the double-SHA256 merkle hash of two child hashes
func hashPair(left, right [32]byte) [32]byte {
	var combined [64]byte
	copy(combined[0:32], left[:])
	copy(combined[32:64], right[:])
	return doubleSHA256(combined[:])
}

// doubleSHA256 computes SHA256(SHA256(data))
func doubleSHA256(data []byte) [32]byte {
	first := sha256.Sum256(data)
	second := sha256.Sum256(first[:])
	return second
}
