package badger

import (
	"context"
	"testing"

	"github.com/ZclassicCommunity/zclassic/kvstore"
)

func TestStorePutCoinAndStats(t *testing.T) {
	s, err := New(Config{DataDir: t.TempDir()})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer s.Close()

	var txid1, txid2 kvstore.Hash
	txid1[0] = 1
	txid2[0] = 2

	coins := []Coin{
		{TxID: txid1, OutputIndex: 0, Height: 10, Amount: 500, Script: []byte("a")},
		{TxID: txid1, OutputIndex: 1, Height: 10, Amount: 250, Script: []byte("b")},
		{TxID: txid2, OutputIndex: 0, Height: 12, Amount: 1000, Script: []byte("c")},
	}
	for _, c := range coins {
		if err := s.PutCoin(c); err != nil {
			t.Fatalf("PutCoin failed: %v", err)
		}
	}

	var blockHash kvstore.Hash
	blockHash[0] = 0xaa

	stats, err := s.GetStats(context.Background(), blockHash)
	if err != nil {
		t.Fatalf("GetStats failed: %v", err)
	}

	if stats.Transactions != 2 {
		t.Fatalf("expected 2 distinct transactions, got %d", stats.Transactions)
	}
	if stats.TransactionOutputs != 3 {
		t.Fatalf("expected 3 outputs, got %d", stats.TransactionOutputs)
	}
	if stats.TotalAmount != 1750 {
		t.Fatalf("expected total amount 1750, got %d", stats.TotalAmount)
	}
	if stats.Height != 12 {
		t.Fatalf("expected height 12, got %d", stats.Height)
	}

	var zero kvstore.Hash
	if stats.HashSerialized == zero {
		t.Fatal("expected a non-zero UTXO set digest")
	}
}

func TestStoreGetStatsDeterministic(t *testing.T) {
	s, err := New(Config{DataDir: t.TempDir()})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer s.Close()

	var txid kvstore.Hash
	txid[0] = 9
	if err := s.PutCoin(Coin{TxID: txid, OutputIndex: 0, Height: 1, Amount: 42}); err != nil {
		t.Fatalf("PutCoin failed: %v", err)
	}

	var blockHash kvstore.Hash
	first, err := s.GetStats(context.Background(), blockHash)
	if err != nil {
		t.Fatalf("GetStats failed: %v", err)
	}
	second, err := s.GetStats(context.Background(), blockHash)
	if err != nil {
		t.Fatalf("GetStats failed: %v", err)
	}

	if first.HashSerialized != second.HashSerialized {
		t.Fatal("expected repeated GetStats calls to produce the same digest")
	}
}

func TestStoreDeleteCoin(t *testing.T) {
	s, err := New(Config{DataDir: t.TempDir()})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer s.Close()

	var txid kvstore.Hash
	txid[0] = 3
	if err := s.PutCoin(Coin{TxID: txid, OutputIndex: 0, Height: 1, Amount: 5}); err != nil {
		t.Fatalf("PutCoin failed: %v", err)
	}

	var blockHash kvstore.Hash
	before, err := s.GetStats(context.Background(), blockHash)
	if err != nil {
		t.Fatalf("GetStats failed: %v", err)
	}
	if before.TransactionOutputs != 1 {
		t.Fatalf("expected 1 output before delete, got %d", before.TransactionOutputs)
	}

	if err := s.DeleteCoin(txid, 0); err != nil {
		t.Fatalf("DeleteCoin failed: %v", err)
	}

	after, err := s.GetStats(context.Background(), blockHash)
	if err != nil {
		t.Fatalf("GetStats failed: %v", err)
	}
	if after.TransactionOutputs != 0 {
		t.Fatalf("expected 0 outputs after delete, got %d", after.TransactionOutputs)
	}
}
