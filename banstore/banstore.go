// Package banstore persists snapshot rate-limiter bans so a restarted
// node does not forget about a peer it just banned.
package banstore

import (
	"context"
	"time"
)

// Ban records that a peer address was banned and until when.
type Ban struct {
	Address  string
	BannedAt time.Time
	BanUntil time.Time
}

// Store persists and queries peer bans.
type Store interface {
	// PutBan records or overwrites a ban for address.
	PutBan(ctx context.Context, ban Ban) error

	// GetBan returns the ban for address, or nil if none is recorded.
	GetBan(ctx context.Context, address string) (*Ban, error)

	// DeleteExpired removes every ban whose BanUntil is before now.
	DeleteExpired(ctx context.Context, now time.Time) error

	// Close releases any resources.
	Close() error
}
