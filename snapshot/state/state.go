// Package state tracks which chunks of a snapshot download have been
// received and which are outstanding, plus coarse progress reporting.
package state

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/bits-and-blooms/bitset"
)

// progressLogInterval is how often LogProgress will actually emit a line,
// even if called more frequently by a tight polling loop.
const progressLogInterval = 30 * time.Second

// progressLogChunks is the minimum number of newly received chunks since
// the last log line before LogProgress will emit again on chunk-count
// grounds alone.
const progressLogChunks = 10

// DownloadState tracks per-chunk receipt and in-flight request timestamps
// for a single snapshot download, numbered 0..totalChunks-1.
type DownloadState struct {
	mu sync.Mutex

	totalChunks uint32
	received    *bitset.BitSet
	requestedAt map[uint32]time.Time

	startedAt      time.Time
	lastLogAt      time.Time
	lastLogCount   uint32
	log            *slog.Logger
}

// New creates a DownloadState for a snapshot with totalChunks chunks.
func New(totalChunks uint32, log *slog.Logger) *DownloadState {
	if log == nil {
		log = slog.Default()
	}
	return &DownloadState{
		totalChunks: totalChunks,
		received:    bitset.New(uint(totalChunks)),
		requestedAt: make(map[uint32]time.Time),
		startedAt:   time.Now(),
		log:         log,
	}
}

// MarkChunkReceived records that chunk has been verified and saved. If this
// is the chunk that completes the download, it logs a completion line with
// the total elapsed time.
func (s *DownloadState) MarkChunkReceived(chunk uint32) {
	s.mu.Lock()

	wasComplete := s.received.Count() == uint(s.totalChunks)
	s.received.Set(uint(chunk))
	delete(s.requestedAt, chunk)
	nowComplete := s.received.Count() == uint(s.totalChunks)

	if !wasComplete && nowComplete {
		total := s.totalChunks
		elapsed := time.Since(s.startedAt)
		s.mu.Unlock()
		s.log.Info("snapshot download complete", "total", total, "elapsed", elapsed.Round(time.Second))
		return
	}
	s.mu.Unlock()
}

// IsChunkReceived reports whether chunk has already been received.
func (s *DownloadState) IsChunkReceived(chunk uint32) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.received.Test(uint(chunk))
}

// IsComplete reports whether every chunk has been received.
func (s *DownloadState) IsComplete() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.received.Count() == uint(s.totalChunks)
}

// GetReceivedCount returns the number of chunks received so far.
func (s *DownloadState) GetReceivedCount() uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()

	return uint32(s.received.Count())
}

// GetNextChunkToRequest returns the lowest-indexed chunk not yet received.
// It returns totalChunks if the download is already complete.
func (s *DownloadState) GetNextChunkToRequest() uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := uint32(0); i < s.totalChunks; i++ {
		if !s.received.Test(uint(i)) {
			return i
		}
	}
	return s.totalChunks
}

// RecordChunkRequest timestamps an outstanding request for chunk.
func (s *DownloadState) RecordChunkRequest(chunk uint32, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.requestedAt[chunk] = at
}

// HasRecentRequest reports whether chunk has an outstanding request
// recorded within the last maxAge.
func (s *DownloadState) HasRecentRequest(chunk uint32, now time.Time, maxAge time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.requestedAt[chunk]
	if !ok {
		return false
	}
	return now.Sub(t) < maxAge
}

// LogProgress emits a progress line, throttled to at most once per
// progressLogInterval unless at least progressLogChunks new chunks have
// landed since the last line.
func (s *DownloadState) LogProgress() {
	s.mu.Lock()
	received := uint32(s.received.Count())
	now := time.Now()
	sinceLast := now.Sub(s.lastLogAt)
	newChunks := received - s.lastLogCount
	if s.lastLogAt.IsZero() || sinceLast >= progressLogInterval || newChunks >= progressLogChunks {
		s.lastLogAt = now
		s.lastLogCount = received
		total := s.totalChunks
		elapsed := now.Sub(s.startedAt)
		s.mu.Unlock()

		pct := float64(0)
		if total > 0 {
			pct = float64(received) / float64(total) * 100
		}

		eta := estimateETA(received, total, elapsed)
		s.log.Info("snapshot download progress",
			"received", received,
			"total", total,
			"percent", fmt.Sprintf("%.1f", pct),
			"elapsed", elapsed.Round(time.Second),
			"eta", eta,
		)
		return
	}
	s.mu.Unlock()
}

// estimateETA projects remaining time from the average rate observed so
// far. It returns 0 once received reaches total or before any progress
// has been made.
func estimateETA(received, total uint32, elapsed time.Duration) time.Duration {
	if received == 0 || received >= total || elapsed <= 0 {
		return 0
	}
	rate := float64(received) / elapsed.Seconds()
	if rate <= 0 {
		return 0
	}
	remaining := float64(total - received)
	return time.Duration(remaining/rate) * time.Second
}
