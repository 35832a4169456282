// Package ratelimit implements server-side admission control for serving
// snapshot chunks: a sliding per-minute window per peer, minimum spacing
// between requests, duplicate-chunk suppression, temporary bans for
// severe abuse, and a global cap on concurrent transfers.
package ratelimit

import (
	"container/list"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
)

// Limits configures a Limiter. Defaults favor helping new nodes bootstrap
// quickly over aggressively restricting well-behaved peers; only
// sustained, heavy abuse trips the ban threshold.
type Limits struct {
	// MaxChunksPerPeerPerMinute caps requests within the trailing 60s
	// sliding window.
	MaxChunksPerPeerPerMinute uint32

	// MaxConcurrentTransfers caps in-flight transfers across all peers.
	MaxConcurrentTransfers uint32

	// MinSecondsBetweenRequests is the minimum spacing the same peer must
	// leave between two requests.
	MinSecondsBetweenRequests time.Duration

	// DuplicateChunkWindow suppresses re-serving the same chunk to the
	// same peer within this window.
	DuplicateChunkWindow time.Duration

	// BanThreshold is the request count within the sliding window that
	// triggers a ban, rather than a plain rejection.
	BanThreshold uint32

	// BanDuration is how long a banned peer is refused all requests.
	BanDuration time.Duration
}

// DefaultLimits mirrors the generous bootstrap-friendly defaults: 30
// chunks/min, 25 concurrent transfers, 2s minimum spacing, a 5 minute
// duplicate-chunk suppression window, and a ban once 100 requests
// accumulate within the sliding window, lasting 5 minutes.
func DefaultLimits() Limits {
	return Limits{
		MaxChunksPerPeerPerMinute: 30,
		MaxConcurrentTransfers:    25,
		MinSecondsBetweenRequests: 2 * time.Second,
		DuplicateChunkWindow:      300 * time.Second,
		BanThreshold:              100,
		BanDuration:               300 * time.Second,
	}
}

type peerInfo struct {
	requestTimes    *list.List // of time.Time, oldest first
	servedChunks    map[uint32]time.Time
	lastRequestTime time.Time
	totalRequests   uint32
	banned          bool
	banUntil        time.Time
}

func newPeerInfo() *peerInfo {
	return &peerInfo{
		requestTimes: list.New(),
		servedChunks: make(map[uint32]time.Time),
	}
}

// Limiter enforces Limits across all peers requesting snapshot chunks. A
// zero Limiter is not usable; construct one with New.
type Limiter struct {
	mu     sync.Mutex
	limits Limits
	peers  map[string]*peerInfo

	sem *semaphore.Weighted

	totalBytesServed uint64
	lastResetTime    time.Time

	// onBan, if set, is called (without the Limiter's lock held) whenever
	// a peer is newly banned, so a caller can persist the ban across
	// restarts.
	onBan func(peer string, until time.Time)

	log *slog.Logger
}

// SetBanHook registers a callback invoked whenever AllowRequest bans a
// peer. Only one hook is supported; a later call replaces an earlier one.
func (l *Limiter) SetBanHook(f func(peer string, until time.Time)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.onBan = f
}

// New creates a Limiter enforcing limits.
func New(limits Limits, log *slog.Logger) *Limiter {
	if log == nil {
		log = slog.Default()
	}
	return &Limiter{
		limits:        limits,
		peers:         make(map[string]*peerInfo),
		sem:           semaphore.NewWeighted(int64(limits.MaxConcurrentTransfers)),
		lastResetTime: time.Now(),
		log:           log,
	}
}

func peerKey(addr net.Addr) string {
	return addr.String()
}

// AllowRequest reports whether addr may request chunk right now. On
// success it reserves one slot of the global concurrency budget and the
// caller must call CompleteTransfer exactly once when the transfer ends,
// win or lose. On failure it returns a human-readable reason.
func (l *Limiter) AllowRequest(addr net.Addr, chunk uint32) (bool, string) {
	key := peerKey(addr)

	l.mu.Lock()
	now := time.Now()
	info, ok := l.peers[key]
	if !ok {
		info = newPeerInfo()
		l.peers[key] = info
	}

	if info.banned {
		if now.Before(info.banUntil) {
			reason := fmt.Sprintf("peer banned until %s", info.banUntil.Format(time.RFC3339))
			l.mu.Unlock()
			return false, reason
		}
		info.banned = false
		info.banUntil = time.Time{}
		info.requestTimes.Init()
	}

	// Every attempt within the last 60s counts toward the sliding window,
	// whether or not it is ultimately admitted below: the ban threshold
	// guards against request volume, not just successful transfers.
	for info.requestTimes.Len() > 0 {
		front := info.requestTimes.Front()
		if now.Sub(front.Value.(time.Time)) <= 60*time.Second {
			break
		}
		info.requestTimes.Remove(front)
	}
	info.requestTimes.PushBack(now)
	windowLen := uint32(info.requestTimes.Len())

	if windowLen >= l.limits.BanThreshold {
		info.banned = true
		info.banUntil = now.Add(l.limits.BanDuration)
		l.log.Warn("banning peer for excessive requests", "peer", key, "duration", l.limits.BanDuration)

		reason := fmt.Sprintf("rate limit: max %d chunks per minute", l.limits.MaxChunksPerPeerPerMinute)
		if hook := l.onBan; hook != nil {
			banUntil := info.banUntil
			l.mu.Unlock()
			hook(key, banUntil)
			return false, reason
		}

		l.mu.Unlock()
		return false, reason
	}

	if windowLen > l.limits.MaxChunksPerPeerPerMinute {
		l.mu.Unlock()
		return false, fmt.Sprintf("rate limit: max %d chunks per minute", l.limits.MaxChunksPerPeerPerMinute)
	}

	if !info.lastRequestTime.IsZero() {
		since := now.Sub(info.lastRequestTime)
		if since < l.limits.MinSecondsBetweenRequests {
			wait := l.limits.MinSecondsBetweenRequests - since
			l.mu.Unlock()
			return false, fmt.Sprintf("too fast - wait %s between requests", wait)
		}
	}

	if servedAt, ok := info.servedChunks[chunk]; ok {
		since := now.Sub(servedAt)
		if since < l.limits.DuplicateChunkWindow {
			l.mu.Unlock()
			return false, fmt.Sprintf("already served chunk %d %s ago", chunk, since.Round(time.Second))
		}
	}

	// TryAcquire is non-blocking, so it is safe to call while still
	// holding the lock: it settles the global capacity check atomically
	// with the per-peer bookkeeping below, rather than risking another
	// goroutine mutating info.requestTimes in between.
	if !l.sem.TryAcquire(1) {
		l.mu.Unlock()
		return false, fmt.Sprintf("server at capacity (%d concurrent transfers)", l.limits.MaxConcurrentTransfers)
	}

	info.lastRequestTime = now
	info.totalRequests++
	l.mu.Unlock()

	return true, ""
}

// RecordServed records that chunk was served to addr, for duplicate
// suppression, and adds to the bandwidth counter.
func (l *Limiter) RecordServed(addr net.Addr, chunk uint32, bytes uint64) {
	key := peerKey(addr)

	l.mu.Lock()
	defer l.mu.Unlock()

	info, ok := l.peers[key]
	if !ok {
		info = newPeerInfo()
		l.peers[key] = info
	}
	info.servedChunks[chunk] = time.Now()
	l.totalBytesServed += bytes
}

// CompleteTransfer releases one slot of the global concurrency budget
// reserved by a successful AllowRequest.
func (l *Limiter) CompleteTransfer() {
	l.sem.Release(1)
}

// IsBanned reports whether addr is currently under an active ban.
func (l *Limiter) IsBanned(addr net.Addr) bool {
	key := peerKey(addr)

	l.mu.Lock()
	defer l.mu.Unlock()

	info, ok := l.peers[key]
	if !ok {
		return false
	}
	return info.banned && time.Now().Before(info.banUntil)
}

// Cleanup drops state for peers not seen in 10 minutes (unless currently
// banned) and resets the hourly bandwidth counter, logging the total
// served since the last reset.
func (l *Limiter) Cleanup() {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	for key, info := range l.peers {
		if now.Sub(info.lastRequestTime) > 10*time.Minute && !info.banned {
			delete(l.peers, key)
		}
	}

	if now.Sub(l.lastResetTime) > time.Hour {
		l.log.Info("snapshot bandwidth served in last hour", "megabytes", l.totalBytesServed/(1024*1024))
		l.totalBytesServed = 0
		l.lastResetTime = now
	}
}

// SetLimits updates the per-peer and concurrency limits in place. The
// global concurrency semaphore is rebuilt, so any transfers already
// counted against the old limit are not carried over; callers should only
// call this between transfers (e.g. on a config reload), not mid-burst.
func (l *Limiter) SetLimits(limits Limits) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.limits = limits
	l.sem = semaphore.NewWeighted(int64(limits.MaxConcurrentTransfers))

	l.log.Info("snapshot rate limits updated",
		"chunksPerMinute", limits.MaxChunksPerPeerPerMinute,
		"maxConcurrent", limits.MaxConcurrentTransfers,
		"minSecondsBetween", limits.MinSecondsBetweenRequests)
}
