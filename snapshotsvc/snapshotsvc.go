// Package snapshotsvc wires the snapshot chunk store, client download
// coordinator, and server rate limiter together behind the handlers a P2P
// transport calls when GetChunk/Chunk messages arrive.
package snapshotsvc

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ZclassicCommunity/zclassic/ratelimit"
	"github.com/ZclassicCommunity/zclassic/snapshot"
	"github.com/ZclassicCommunity/zclassic/snapshot/coordinator"
	"github.com/ZclassicCommunity/zclassic/snapshot/state"
	"github.com/ZclassicCommunity/zclassic/snapshot/store"
	"github.com/ZclassicCommunity/zclassic/wire"
)

// Publisher sends outgoing wire messages to the network. *p2p.Listener
// satisfies this.
type Publisher interface {
	PublishGetChunk(req wire.GetChunk) error
	PublishChunk(chunk wire.Chunk) error
}

// Service is an explicit handle owning one snapshot download's store,
// coordinator, download state, and the server-side rate limiter guarding
// chunks this node serves to others. It holds no package-level state:
// callers construct and pass it explicitly rather than reaching for a
// singleton.
type Service struct {
	sessionID   uuid.UUID
	store       *store.ChunkStore
	coordinator *coordinator.Coordinator
	state       *state.DownloadState
	limiter     *ratelimit.Limiter
	pub         Publisher
	log         *slog.Logger

	mu     sync.Mutex
	serves bool
}

// Config configures a Service.
type Config struct {
	Store     *store.ChunkStore
	Limiter   *ratelimit.Limiter
	Publisher Publisher
	Logger    *slog.Logger

	// CanServe, when true, lets this node answer GetChunk requests for the
	// snapshot it currently has a manifest for. A node still syncing its
	// own snapshot should leave this false.
	CanServe bool
}

// New creates a Service for one in-progress or completed snapshot download.
// cfg.Store must already have a manifest loaded (via Initialize or
// LoadManifest).
func New(cfg Config) (*Service, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("Store is required")
	}
	if cfg.Publisher == nil {
		return nil, fmt.Errorf("Publisher is required")
	}

	m := cfg.Store.Manifest()
	if m == nil {
		return nil, fmt.Errorf("store has no manifest loaded")
	}

	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}

	limiter := cfg.Limiter
	if limiter == nil {
		limiter = ratelimit.New(ratelimit.DefaultLimits(), log)
	}

	ds := state.New(m.ChunkCount(), log)
	for i := uint32(0); i < m.ChunkCount(); i++ {
		if cfg.Store.HasChunk(i) {
			ds.MarkChunkReceived(i)
		}
	}

	sessionID := uuid.New()
	log = log.With("snapshotSession", sessionID)

	return &Service{
		sessionID:   sessionID,
		store:       cfg.Store,
		coordinator: coordinator.New(ds, log),
		state:       ds,
		limiter:     limiter,
		pub:         cfg.Publisher,
		log:         log,
		serves:      cfg.CanServe,
	}, nil
}

// SessionID identifies this Service in its log lines. A new ID is
// generated on every call to New, so it does not survive a restart; it
// has no on-wire meaning.
func (s *Service) SessionID() uuid.UUID {
	return s.sessionID
}

// CanServeSnapshots reports whether this node currently answers GetChunk
// requests from peers.
func (s *Service) CanServeSnapshots() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.serves
}

// SetCanServeSnapshots flips whether this node answers GetChunk requests,
// e.g. once its own download finishes.
func (s *Service) SetCanServeSnapshots(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.serves = v
}

// IsComplete reports whether every chunk of the tracked download has been
// received.
func (s *Service) IsComplete() bool {
	return s.state.IsComplete()
}

// peerAddr adapts a P2P peer identifier string to net.Addr, since the
// rate limiter is keyed by net.Addr but this transport identifies peers by
// an opaque string ID rather than an IP/port pair.
type peerAddr string

func (a peerAddr) Network() string { return "p2p" }
func (a peerAddr) String() string  { return string(a) }

// HandleGetChunk answers a peer's request for one chunk, subject to the
// rate limiter. It returns a nil error (and sends nothing) for requests
// this node refuses to serve; callers should not treat that as failure.
func (s *Service) HandleGetChunk(from string, req wire.GetChunk) error {
	if !s.CanServeSnapshots() {
		return nil
	}

	addr := peerAddr(from)

	allowed, reason := s.limiter.AllowRequest(addr, req.ChunkNumber)
	if !allowed {
		s.log.Debug("refusing GetChunk", "peer", from, "chunk", req.ChunkNumber, "reason", reason)
		return nil
	}
	defer s.limiter.CompleteTransfer()

	if !s.store.HasChunk(req.ChunkNumber) {
		s.log.Debug("refusing GetChunk for chunk we do not have", "peer", from, "chunk", req.ChunkNumber)
		return nil
	}

	data, err := s.store.LoadChunk(req.ChunkNumber)
	if err != nil {
		return fmt.Errorf("failed to load chunk %d: %w", req.ChunkNumber, err)
	}

	if err := s.pub.PublishChunk(wire.Chunk{ChunkNumber: req.ChunkNumber, Data: data}); err != nil {
		return fmt.Errorf("failed to publish chunk %d: %w", req.ChunkNumber, err)
	}

	s.limiter.RecordServed(addr, req.ChunkNumber, uint64(len(data)))
	return nil
}

// HandleChunk verifies and persists a chunk received from a peer in
// response to an earlier GetChunk, and records the outcome with the
// download coordinator so the peer's backoff schedule reflects it.
func (s *Service) HandleChunk(from string, chunk wire.Chunk) error {
	peer := coordinator.PeerID(from)

	if s.state.IsChunkReceived(chunk.ChunkNumber) {
		return nil
	}

	if err := s.store.SaveChunk(chunk.ChunkNumber, chunk.Data); err != nil {
		s.coordinator.RecordFailure(peer, chunk.ChunkNumber)
		return fmt.Errorf("chunk %d from %s failed verification: %w", chunk.ChunkNumber, from, err)
	}

	s.coordinator.RecordSuccess(peer, chunk.ChunkNumber)
	s.state.MarkChunkReceived(chunk.ChunkNumber)
	s.state.LogProgress()

	return nil
}

// RequestNextChunk asks the coordinator to pick the best available peer
// for the next outstanding chunk and, if one is found, publishes a
// GetChunk for it. It returns ok=false if nothing was requested (download
// complete, no eligible peer, or concurrency cap reached).
func (s *Service) RequestNextChunk(availablePeers []string) (ok bool, err error) {
	peers := make([]coordinator.PeerID, len(availablePeers))
	for i, p := range availablePeers {
		peers[i] = coordinator.PeerID(p)
	}

	peer, chunk, ok := s.coordinator.SelectPeerForNextChunk(peers)
	if !ok {
		return false, nil
	}

	if err := s.pub.PublishGetChunk(wire.GetChunk{ChunkNumber: chunk}); err != nil {
		return false, fmt.Errorf("failed to publish GetChunk for chunk %d: %w", chunk, err)
	}

	s.coordinator.RecordRequest(peer, chunk)
	return true, nil
}

// SweepTimeouts releases any in-flight requests that have exceeded the
// coordinator's RequestTimeout, making their chunks eligible for
// re-request against a different peer, and applies the coordinator's
// backoff schedule to the peer each timed-out request was in flight to.
// Call this periodically from a ticker.
func (s *Service) SweepTimeouts() []coordinator.TimedOutRequest {
	timedOut := s.coordinator.GetTimedOutRequests()
	for _, t := range timedOut {
		s.coordinator.RecordFailure(t.Peer, t.Chunk)
	}
	return timedOut
}

// MaintenanceTick runs the periodic housekeeping a running node should
// perform once per tick: sweeping timed-out chunk requests (backing off
// the peers responsible) and expiring stale rate-limiter state. Call this
// from a single ticker goroutine.
func (s *Service) MaintenanceTick(ctx context.Context) {
	for _, t := range s.SweepTimeouts() {
		s.log.Warn("chunk request timed out", "peer", t.Peer, "chunk", t.Chunk)
	}
	s.limiter.Cleanup()
}

// ExtractAndFinish extracts the completed snapshot into destDir and, on
// success, verifies the resulting chain state's UTXO hash via verify, if
// non-nil, then removes the chunk files to reclaim disk space. If verify
// returns an error, the chunk files are left in place.
func (s *Service) ExtractAndFinish(destDir string, verify func(m *snapshot.Manifest) error) error {
	if !s.state.IsComplete() {
		return fmt.Errorf("cannot extract: download is not complete")
	}

	if err := s.store.ExtractSnapshot(destDir); err != nil {
		return err
	}

	if verify != nil {
		if err := verify(s.store.Manifest()); err != nil {
			return fmt.Errorf("snapshot verification failed: %w", err)
		}
	}

	if err := s.store.CleanupChunks(); err != nil {
		return fmt.Errorf("failed to clean up chunk files: %w", err)
	}

	s.log.Info("snapshot download finished", "destDir", destDir)
	return nil
}

// DriveDownload runs RequestNextChunk and MaintenanceTick on a fixed
// interval until the download completes or ctx is canceled, using
// getPeers to look up currently connected peers on each tick.
func DriveDownload(ctx context.Context, s *Service, interval time.Duration, getPeers func() []string) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if s.IsComplete() {
				return nil
			}

			s.MaintenanceTick(ctx)

			if _, err := s.RequestNextChunk(getPeers()); err != nil {
				s.log.Warn("failed to request next chunk", "err", err)
			}
		}
	}
}
