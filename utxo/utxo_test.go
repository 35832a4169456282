package utxo

import (
	"context"
	"testing"

	"github.com/ZclassicCommunity/zclassic/chainparams"
	"github.com/ZclassicCommunity/zclassic/kvstore"
)

type fakeChainState struct {
	stats *Stats
	err   error
}

func (f *fakeChainState) GetStats(ctx context.Context, blockHash kvstore.Hash) (*Stats, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.stats, nil
}

func hashFromByte(b byte) kvstore.Hash {
	var h kvstore.Hash
	h[0] = b
	return h
}

func TestVerifySnapshotUTXOHashNoCheckpoints(t *testing.T) {
	cs := &fakeChainState{}
	ok, err := VerifySnapshotUTXOHash(context.Background(), cs, chainparams.Mainnet(), hashFromByte(1), 100, nil)
	if err != nil || !ok {
		t.Fatalf("expected verification to pass with no checkpoints, ok=%v err=%v", ok, err)
	}
}

func TestVerifySnapshotUTXOHashNoMatchingCheckpoint(t *testing.T) {
	cs := &fakeChainState{}
	params := chainparams.WithCheckpoints(chainparams.Mainnet(), []chainparams.Checkpoint{
		{Height: 200, BlockHash: hashFromByte(2), UTXODigest: hashFromByte(3)},
	})

	ok, err := VerifySnapshotUTXOHash(context.Background(), cs, params, hashFromByte(1), 100, nil)
	if err != nil || !ok {
		t.Fatalf("expected verification to pass with no matching checkpoint, ok=%v err=%v", ok, err)
	}
}

func TestVerifySnapshotUTXOHashPlaceholderSkipped(t *testing.T) {
	cs := &fakeChainState{}
	blockHash := hashFromByte(9)
	params := chainparams.WithCheckpoints(chainparams.Mainnet(), []chainparams.Checkpoint{
		{Height: 100, BlockHash: blockHash}, // zero-value UTXODigest
	})

	ok, err := VerifySnapshotUTXOHash(context.Background(), cs, params, blockHash, 100, nil)
	if err != nil || !ok {
		t.Fatalf("expected placeholder checkpoint to skip verification, ok=%v err=%v", ok, err)
	}
}

func TestVerifySnapshotUTXOHashMatch(t *testing.T) {
	blockHash := hashFromByte(9)
	digest := hashFromByte(42)

	cs := &fakeChainState{stats: &Stats{BlockHash: blockHash, HashSerialized: digest}}
	params := chainparams.WithCheckpoints(chainparams.Mainnet(), []chainparams.Checkpoint{
		{Height: 100, BlockHash: blockHash, UTXODigest: digest},
	})

	ok, err := VerifySnapshotUTXOHash(context.Background(), cs, params, blockHash, 100, nil)
	if err != nil || !ok {
		t.Fatalf("expected matching digest to verify, ok=%v err=%v", ok, err)
	}
}

func TestVerifySnapshotUTXOHashMismatch(t *testing.T) {
	blockHash := hashFromByte(9)

	cs := &fakeChainState{stats: &Stats{BlockHash: blockHash, HashSerialized: hashFromByte(100)}}
	params := chainparams.WithCheckpoints(chainparams.Mainnet(), []chainparams.Checkpoint{
		{Height: 100, BlockHash: blockHash, UTXODigest: hashFromByte(42)},
	})

	ok, err := VerifySnapshotUTXOHash(context.Background(), cs, params, blockHash, 100, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Fatal("expected digest mismatch to fail verification")
	}
}

func TestVerifySnapshotUTXOHashChainStateError(t *testing.T) {
	blockHash := hashFromByte(9)
	cs := &fakeChainState{err: context.DeadlineExceeded}
	params := chainparams.WithCheckpoints(chainparams.Mainnet(), []chainparams.Checkpoint{
		{Height: 100, BlockHash: blockHash, UTXODigest: hashFromByte(42)},
	})

	if _, err := VerifySnapshotUTXOHash(context.Background(), cs, params, blockHash, 100, nil); err == nil {
		t.Fatal("expected error to propagate from ChainState.GetStats")
	}
}
