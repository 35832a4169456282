package state

import (
	"testing"
	"time"
)

func TestDownloadStateMarkAndComplete(t *testing.T) {
	s := New(3, nil)

	if s.IsComplete() {
		t.Fatal("expected incomplete at start")
	}

	s.MarkChunkReceived(0)
	s.MarkChunkReceived(2)
	if s.IsComplete() {
		t.Fatal("expected incomplete with one chunk missing")
	}
	if s.GetReceivedCount() != 2 {
		t.Fatalf("expected received count 2, got %d", s.GetReceivedCount())
	}

	s.MarkChunkReceived(1)
	if !s.IsComplete() {
		t.Fatal("expected complete once all chunks received")
	}
}

func TestGetNextChunkToRequest(t *testing.T) {
	s := New(3, nil)
	s.MarkChunkReceived(0)

	if next := s.GetNextChunkToRequest(); next != 1 {
		t.Fatalf("expected next chunk 1, got %d", next)
	}

	s.MarkChunkReceived(1)
	s.MarkChunkReceived(2)

	if next := s.GetNextChunkToRequest(); next != 3 {
		t.Fatalf("expected totalChunks sentinel 3 when complete, got %d", next)
	}
}

func TestRecordChunkRequestAndHasRecentRequest(t *testing.T) {
	s := New(3, nil)
	now := time.Now()

	s.RecordChunkRequest(0, now)

	if !s.HasRecentRequest(0, now.Add(5*time.Second), time.Minute) {
		t.Fatal("expected recent request to still be recent")
	}
	if s.HasRecentRequest(0, now.Add(2*time.Minute), time.Minute) {
		t.Fatal("expected stale request to no longer be recent")
	}
	if s.HasRecentRequest(1, now, time.Minute) {
		t.Fatal("expected no request recorded for chunk 1")
	}
}

func TestMarkChunkReceivedClearsPendingRequest(t *testing.T) {
	s := New(3, nil)
	now := time.Now()

	s.RecordChunkRequest(0, now)
	s.MarkChunkReceived(0)

	if s.HasRecentRequest(0, now, time.Minute) {
		t.Fatal("expected pending request to be cleared on receipt")
	}
}

func TestEstimateETA(t *testing.T) {
	if eta := estimateETA(0, 10, time.Minute); eta != 0 {
		t.Fatalf("expected zero ETA with no progress, got %v", eta)
	}
	if eta := estimateETA(10, 10, time.Minute); eta != 0 {
		t.Fatalf("expected zero ETA when complete, got %v", eta)
	}

	eta := estimateETA(5, 10, 10*time.Second)
	if eta != 10*time.Second {
		t.Fatalf("expected 10s ETA for halfway at constant rate, got %v", eta)
	}
}
