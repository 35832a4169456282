package coordinator

import (
	"testing"
	"time"

	"github.com/ZclassicCommunity/zclassic/snapshot/state"
)

func newTestCoordinator(total uint32) (*Coordinator, *state.DownloadState) {
	s := state.New(total, nil)
	return New(s, nil), s
}

func TestSelectPeerForNextChunkPicksUnusedPeer(t *testing.T) {
	c, _ := newTestCoordinator(3)

	peer, chunk, ok := c.SelectPeerForNextChunk([]PeerID{"peerA"})
	if !ok {
		t.Fatal("expected a peer to be selected")
	}
	if peer != "peerA" || chunk != 0 {
		t.Fatalf("unexpected selection: peer=%s chunk=%d", peer, chunk)
	}
}

func TestSelectPeerForNextChunkSingleFlight(t *testing.T) {
	c, _ := newTestCoordinator(3)

	peer, chunk, ok := c.SelectPeerForNextChunk([]PeerID{"peerA"})
	if !ok {
		t.Fatal("expected first selection to succeed")
	}
	c.RecordRequest(peer, chunk)

	// The same chunk must not be handed to a second peer while in flight,
	// even though peerB has never been asked for anything.
	if _, _, ok := c.SelectPeerForNextChunk([]PeerID{"peerA", "peerB"}); ok {
		t.Fatal("expected no selection while chunk 0 is already in flight")
	}
}

func TestSelectPeerForNextChunkNoneWhenComplete(t *testing.T) {
	c, s := newTestCoordinator(1)
	s.MarkChunkReceived(0)

	if _, _, ok := c.SelectPeerForNextChunk([]PeerID{"peerA"}); ok {
		t.Fatal("expected no selection once download is complete")
	}
}

func TestRecordFailureBackoffSchedule(t *testing.T) {
	c, _ := newTestCoordinator(1)

	expected := []time.Duration{10 * time.Second, 30 * time.Second, 60 * time.Second, 300 * time.Second, 300 * time.Second}
	for i, want := range expected {
		c.RecordFailure("peerA", 0)
		got := c.GetPeerBackoff("peerA")
		// Allow a small amount of slack for the time elapsed between
		// RecordFailure setting backoffUntil and this check reading it.
		if got <= 0 || got > want {
			t.Fatalf("failure %d: backoff %v not in (0, %v]", i+1, got, want)
		}
	}
}

func TestRecordSuccessResetsBackoff(t *testing.T) {
	c, _ := newTestCoordinator(1)

	c.RecordFailure("peerA", 0)
	c.RecordFailure("peerA", 0)
	if c.GetPeerBackoff("peerA") <= 0 {
		t.Fatal("expected nonzero backoff after two failures")
	}

	c.RecordSuccess("peerA", 0)
	if c.GetPeerBackoff("peerA") != 0 {
		t.Fatal("expected backoff cleared after success")
	}
}

func TestGetTimedOutRequests(t *testing.T) {
	c, _ := newTestCoordinator(1)

	c.RecordRequest("peerA", 0)
	c.mu.Lock()
	c.peers["peerA"].lastRequestAt = time.Now().Add(-2 * RequestTimeout)
	c.mu.Unlock()

	timedOut := c.GetTimedOutRequests()
	if len(timedOut) != 1 || timedOut[0].Peer != "peerA" || timedOut[0].Chunk != 0 {
		t.Fatalf("unexpected timed-out requests: %+v", timedOut)
	}

	// Once removed, the chunk should be selectable again.
	if _, _, ok := c.SelectPeerForNextChunk([]PeerID{"peerA"}); !ok {
		t.Fatal("expected chunk to be selectable again after timeout")
	}
}

func TestRemovePeerReleasesInFlightChunks(t *testing.T) {
	c, _ := newTestCoordinator(1)

	c.RecordRequest("peerA", 0)
	c.RemovePeer("peerA")

	if _, _, ok := c.SelectPeerForNextChunk([]PeerID{"peerB"}); !ok {
		t.Fatal("expected chunk to be releasable to another peer after RemovePeer")
	}
}
