// Package coordinator implements the client side of respectful snapshot
// chunk downloading: spreading requests across peers, backing off from
// peers that fail, and detecting timed-out requests.
package coordinator

import (
	"log/slog"
	"sync"
	"time"

	"github.com/ZclassicCommunity/zclassic/snapshot/state"
)

const (
	// MaxConcurrentPeerRequests caps how many chunks may be in flight to
	// peers at once.
	MaxConcurrentPeerRequests = 12

	// MinSecondsBetweenRequests is the minimum spacing this coordinator
	// will leave between two requests to the same peer.
	MinSecondsBetweenRequests = 3 * time.Second

	// RequestTimeout is how long an in-flight request is given before it
	// is considered lost and eligible for retry.
	RequestTimeout = 60 * time.Second
)

// PeerID identifies a download peer. Concrete transports map their own
// connection identifiers onto this type.
type PeerID string

type peerState struct {
	lastRequestAt      time.Time
	chunksRequested    uint32
	chunksFailed       uint32
	consecutiveFailures uint32
	backoffUntil       time.Time
}

// Coordinator selects peers for outstanding chunks and tracks each peer's
// recent success/failure history to back off from unreliable peers
// without ever requesting the same chunk from two peers at once.
type Coordinator struct {
	mu sync.Mutex

	state *state.DownloadState

	peers        map[PeerID]*peerState
	chunkToPeer  map[uint32]PeerID

	log *slog.Logger
}

// New creates a Coordinator driving downloads tracked by s.
func New(s *state.DownloadState, log *slog.Logger) *Coordinator {
	if log == nil {
		log = slog.Default()
	}
	return &Coordinator{
		state:       s,
		peers:       make(map[PeerID]*peerState),
		chunkToPeer: make(map[uint32]PeerID),
		log:         log,
	}
}

// SelectPeerForNextChunk picks the best available peer to request the next
// needed chunk from, and returns that chunk index alongside the peer. It
// returns ok=false if the download is complete, the next chunk is already
// in flight, the concurrency cap is reached, or no peer is currently
// eligible (all in backoff or requested too recently).
func (c *Coordinator) SelectPeerForNextChunk(availablePeers []PeerID) (peer PeerID, chunk uint32, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(availablePeers) == 0 {
		return "", 0, false
	}

	chunk = c.state.GetNextChunkToRequest()
	if c.state.IsComplete() {
		return "", 0, false
	}

	if _, inFlight := c.chunkToPeer[chunk]; inFlight {
		return "", 0, false
	}

	if uint32(len(c.chunkToPeer)) >= MaxConcurrentPeerRequests {
		return "", 0, false
	}

	now := time.Now()
	var best PeerID
	var bestSeen bool
	oldest := now

	for _, p := range availablePeers {
		st, exists := c.peers[p]
		if !exists {
			best, bestSeen = p, true
			break
		}
		if st.backoffUntil.After(now) {
			continue
		}
		if now.Sub(st.lastRequestAt) < MinSecondsBetweenRequests {
			continue
		}
		if !bestSeen || st.lastRequestAt.Before(oldest) {
			best, bestSeen, oldest = p, true, st.lastRequestAt
		}
	}

	if !bestSeen {
		return "", 0, false
	}
	return best, chunk, true
}

// RecordRequest marks chunk as in flight to peer.
func (c *Coordinator) RecordRequest(peer PeerID, chunk uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()

	st := c.peerStateLocked(peer)
	st.lastRequestAt = time.Now()
	st.chunksRequested++

	c.chunkToPeer[chunk] = peer
	c.state.RecordChunkRequest(chunk, st.lastRequestAt)
}

// RecordSuccess clears a peer's failure streak and its in-flight tracking
// for chunk. The caller is still responsible for calling
// state.MarkChunkReceived once the chunk is verified and saved.
func (c *Coordinator) RecordSuccess(peer PeerID, chunk uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()

	st := c.peerStateLocked(peer)
	st.consecutiveFailures = 0
	st.backoffUntil = time.Time{}

	delete(c.chunkToPeer, chunk)
}

// RecordFailure records a failed request and applies the backoff
// schedule: 10s, 30s, 60s, 300s as consecutive failures accumulate.
func (c *Coordinator) RecordFailure(peer PeerID, chunk uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()

	st := c.peerStateLocked(peer)
	st.chunksFailed++
	st.consecutiveFailures++

	backoff := 10 * time.Second
	switch {
	case st.consecutiveFailures >= 4:
		backoff = 300 * time.Second
	case st.consecutiveFailures == 3:
		backoff = 60 * time.Second
	case st.consecutiveFailures == 2:
		backoff = 30 * time.Second
	}
	st.backoffUntil = time.Now().Add(backoff)

	delete(c.chunkToPeer, chunk)

	c.log.Warn("chunk request failed", "chunk", chunk, "peer", peer,
		"consecutiveFailures", st.consecutiveFailures, "backoff", backoff)
}

// GetPeerBackoff returns how long until peer is eligible to be selected
// again, or zero if it is already eligible.
func (c *Coordinator) GetPeerBackoff(peer PeerID) time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()

	st, ok := c.peers[peer]
	if !ok {
		return 0
	}
	if d := st.backoffUntil.Sub(time.Now()); d > 0 {
		return d
	}
	return 0
}

// TimedOutRequest pairs a peer and chunk whose in-flight request has
// exceeded RequestTimeout.
type TimedOutRequest struct {
	Peer  PeerID
	Chunk uint32
}

// GetTimedOutRequests removes and returns every in-flight request older
// than RequestTimeout, so the caller can retry them against a new peer.
func (c *Coordinator) GetTimedOutRequests() []TimedOutRequest {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	var timedOut []TimedOutRequest

	for chunk, peer := range c.chunkToPeer {
		st, ok := c.peers[peer]
		if !ok {
			continue
		}
		if now.Sub(st.lastRequestAt) > RequestTimeout {
			timedOut = append(timedOut, TimedOutRequest{Peer: peer, Chunk: chunk})
			delete(c.chunkToPeer, chunk)
		}
	}

	return timedOut
}

// RemovePeer discards all state for peer and releases any chunks it had
// in flight, making them eligible for re-request.
func (c *Coordinator) RemovePeer(peer PeerID) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.peers, peer)

	for chunk, p := range c.chunkToPeer {
		if p == peer {
			delete(c.chunkToPeer, chunk)
		}
	}
}

func (c *Coordinator) peerStateLocked(peer PeerID) *peerState {
	st, ok := c.peers[peer]
	if !ok {
		st = &peerState{}
		c.peers[peer] = st
	}
	return st
}
