// Package badger provides a BadgerDB-backed implementation of
// utxo.ChainState: it iterates the coin database in key order and folds
// every entry into a deterministic Merkle root, the same way regardless
// of whether the coins arrived via normal block validation or a restored
// snapshot.
package badger

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"log/slog"

	badgerdb "github.com/dgraph-io/badger/v4"

	"github.com/ZclassicCommunity/zclassic/kvstore"
	nodestore "github.com/ZclassicCommunity/zclassic/kvstore/badger"
	"github.com/ZclassicCommunity/zclassic/merkle"
	"github.com/ZclassicCommunity/zclassic/utxo"
)

// Coin is a single unspent output as stored in the chain state: enough to
// reconstruct the canonical leaf bytes that feed the UTXO-set digest.
type Coin struct {
	TxID        kvstore.Hash
	OutputIndex uint32
	Height      uint32
	Amount      int64
	Script      []byte
}

// key returns the coin's lookup key: txid || 4-byte big-endian output
// index, so badger's key-ordered iteration visits outputs of the same
// transaction together and in index order.
func (c Coin) key() []byte {
	k := make([]byte, 32+4)
	copy(k[:32], c.TxID[:])
	binary.BigEndian.PutUint32(k[32:], c.OutputIndex)
	return k
}

// leaf returns the double-SHA256 of the coin's canonical serialization:
// txid || index || height || amount || script. Changing this layout
// invalidates every previously issued snapshot checkpoint.
func (c Coin) leaf() [32]byte {
	buf := make([]byte, 0, 32+4+4+8+len(c.Script))
	buf = append(buf, c.TxID[:]...)
	buf = binary.BigEndian.AppendUint32(buf, c.OutputIndex)
	buf = binary.BigEndian.AppendUint32(buf, c.Height)
	buf = binary.BigEndian.AppendUint64(buf, uint64(c.Amount))
	buf = append(buf, c.Script...)

	first := sha256.Sum256(buf)
	return sha256.Sum256(first[:])
}

// Store is a BadgerDB-backed coin database, keyed by outpoint.
type Store struct {
	db  *badgerdb.DB
	log *slog.Logger

	// nodes persists the internal nodes of the Merkle tree GetStats
	// builds over the coin set, so they survive a restart instead of
	// being discarded the moment the root digest is computed.
	nodes *nodestore.Store
}

// Config holds configuration for the coin database's storage.
type Config struct {
	DataDir string
	Logger  *slog.Logger
}

// New opens (or creates) a BadgerDB-backed Store at cfg.DataDir.
func New(cfg Config) (*Store, error) {
	if cfg.DataDir == "" {
		return nil, fmt.Errorf("DataDir is required")
	}

	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}

	opts := badgerdb.DefaultOptions(cfg.DataDir).WithLogger(nil)
	db, err := badgerdb.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger coin database: %w", err)
	}

	nodes, err := nodestore.New(&nodestore.Config{DataDir: cfg.DataDir + "/merkle-nodes"})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to open merkle node store: %w", err)
	}

	return &Store{db: db, log: log, nodes: nodes}, nil
}

// PutCoin records or overwrites a single unspent output.
func (s *Store) PutCoin(c Coin) error {
	value := make([]byte, 4+8+len(c.Script))
	binary.BigEndian.PutUint32(value[0:4], c.Height)
	binary.BigEndian.PutUint64(value[4:12], uint64(c.Amount))
	copy(value[12:], c.Script)

	return s.db.Update(func(txn *badgerdb.Txn) error {
		return txn.Set(c.key(), value)
	})
}

// DeleteCoin removes a spent output.
func (s *Store) DeleteCoin(txid kvstore.Hash, outputIndex uint32) error {
	c := Coin{TxID: txid, OutputIndex: outputIndex}
	return s.db.Update(func(txn *badgerdb.Txn) error {
		return txn.Delete(c.key())
	})
}

// Close releases the underlying BadgerDB resources.
func (s *Store) Close() error {
	if err := s.nodes.Close(); err != nil {
		s.db.Close()
		return fmt.Errorf("failed to close merkle node store: %w", err)
	}
	return s.db.Close()
}

// GetStats implements utxo.ChainState: it walks every coin in key order,
// builds the Merkle root of their leaf hashes, persisting internal nodes
// to disk, and reports the totals alongside the root digest.
func (s *Store) GetStats(ctx context.Context, blockHash kvstore.Hash) (*utxo.Stats, error) {
	var leaves [][32]byte
	var totalAmount int64
	var outputCount uint64
	txids := make(map[kvstore.Hash]struct{})
	var height uint32

	err := s.db.View(func(txn *badgerdb.Txn) error {
		opts := badgerdb.DefaultIteratorOptions
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}

			item := it.Item()
			key := item.KeyCopy(nil)
			if len(key) != 32+4 {
				return fmt.Errorf("corrupt coin key: %d bytes", len(key))
			}

			var c Coin
			copy(c.TxID[:], key[:32])
			c.OutputIndex = binary.BigEndian.Uint32(key[32:])
			txids[c.TxID] = struct{}{}

			if err := item.Value(func(val []byte) error {
				if len(val) < 12 {
					return fmt.Errorf("corrupt coin value: %d bytes", len(val))
				}
				c.Height = binary.BigEndian.Uint32(val[0:4])
				c.Amount = int64(binary.BigEndian.Uint64(val[4:12]))
				c.Script = append([]byte{}, val[12:]...)
				return nil
			}); err != nil {
				return err
			}

			if c.Height > height {
				height = c.Height
			}
			totalAmount += c.Amount
			outputCount++
			leaves = append(leaves, c.leaf())
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to iterate coin database: %w", err)
	}

	stats := &utxo.Stats{
		BlockHash:          blockHash,
		Height:             height,
		Transactions:       uint64(len(txids)),
		TransactionOutputs: outputCount,
		TotalAmount:        totalAmount,
	}

	if len(leaves) == 0 {
		return stats, nil
	}

	builder := merkle.NewBuilder(s.nodes)
	root, err := builder.BuildRoot(ctx, leaves)
	if err != nil {
		return nil, fmt.Errorf("failed to build UTXO set root: %w", err)
	}

	raw, err := root.Raw()
	if err != nil {
		return nil, fmt.Errorf("failed to extract UTXO set root: %w", err)
	}
	stats.HashSerialized = kvstore.Hash(raw)

	return stats, nil
}
