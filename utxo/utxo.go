// Package utxo computes and verifies the deterministic UTXO-set digest a
// downloaded snapshot is checked against, mirroring the chain's own
// coin-database statistics rather than re-deriving them independently.
package utxo

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ZclassicCommunity/zclassic/chainparams"
	"github.com/ZclassicCommunity/zclassic/kvstore"
)

// Stats mirrors the coin database's own notion of its contents at a given
// block: the digest is a canonical hash over every unspent output, built
// the same way regardless of how the set was populated (full sync or
// snapshot restore).
type Stats struct {
	BlockHash        kvstore.Hash
	Height           uint32
	Transactions     uint64
	TransactionOutputs uint64
	TotalAmount      int64
	HashSerialized   kvstore.Hash
}

// ChainState is the coin database's read side: the one method the
// snapshot subsystem needs in order to verify what it downloaded.
type ChainState interface {
	// GetStats computes Stats for the UTXO set as of blockHash. It does
	// not mutate the chain state; implementations that need to flush
	// buffered writes first should do so before returning.
	GetStats(ctx context.Context, blockHash kvstore.Hash) (*Stats, error)
}

// CalculateUTXOSetHash computes the chain state's own UTXO-set digest as
// of blockHash. Be very careful changing this: it is the canonical
// definition of the digest every snapshot checkpoint is measured against,
// and changing it invalidates every previously-issued checkpoint.
func CalculateUTXOSetHash(ctx context.Context, cs ChainState, blockHash kvstore.Hash, log *slog.Logger) (kvstore.Hash, error) {
	if log == nil {
		log = slog.Default()
	}

	stats, err := cs.GetStats(ctx, blockHash)
	if err != nil {
		return kvstore.Hash{}, fmt.Errorf("failed to compute UTXO set stats: %w", err)
	}

	if stats.BlockHash != blockHash {
		log.Warn("UTXO stats computed for unexpected block",
			"expected", blockHash.String(), "got", stats.BlockHash.String())
	}

	log.Info("calculated UTXO set hash",
		"blockHash", blockHash.String(),
		"height", stats.Height,
		"transactions", stats.Transactions,
		"outputs", stats.TransactionOutputs,
		"hash", stats.HashSerialized.String())

	return stats.HashSerialized, nil
}

// VerifySnapshotUTXOHash checks a downloaded snapshot's claimed state, at
// (blockHash, height), against the network's pinned checkpoints. It
// returns true whenever verification should be treated as passing: no
// checkpoints configured, no checkpoint at this height, a placeholder
// (all-zero) checkpoint digest, or a checkpoint whose digest matches. It
// returns false only on an actual digest mismatch against a real,
// non-placeholder checkpoint.
func VerifySnapshotUTXOHash(ctx context.Context, cs ChainState, params chainparams.ChainParams, blockHash kvstore.Hash, height uint32, log *slog.Logger) (bool, error) {
	if log == nil {
		log = slog.Default()
	}

	checkpoints := params.SnapshotCheckpoints()
	if len(checkpoints) == 0 {
		log.Info("no snapshot checkpoints configured, skipping verification")
		return true, nil
	}

	var checkpoint *chainparams.Checkpoint
	for i := range checkpoints {
		if checkpoints[i].Height == height && checkpoints[i].BlockHash == blockHash {
			checkpoint = &checkpoints[i]
			break
		}
	}

	if checkpoint == nil {
		log.Info("no checkpoint found for height, skipping verification", "height", height)
		return true, nil
	}

	var zero kvstore.Hash
	if checkpoint.UTXODigest == zero {
		log.Warn("checkpoint has placeholder UTXO digest, skipping verification", "height", height)
		return true, nil
	}

	actual, err := CalculateUTXOSetHash(ctx, cs, blockHash, log)
	if err != nil {
		return false, err
	}

	if actual != checkpoint.UTXODigest {
		log.Error("UTXO hash mismatch",
			"height", height,
			"blockHash", blockHash.String(),
			"expected", checkpoint.UTXODigest.String(),
			"actual", actual.String())
		return false, nil
	}

	log.Info("UTXO hash matches checkpoint", "height", height, "hash", actual.String())
	return true, nil
}
