// Package chainparams defines the pinned, network-specific values the
// snapshot subsystem checks itself against: UTXO-set checkpoints and
// hardcoded manifests for a network's initial snapshot and parameter
// files.
package chainparams

import (
	"github.com/ZclassicCommunity/zclassic/kvstore"
	"github.com/ZclassicCommunity/zclassic/snapshot"
)

// Checkpoint pins the expected UTXO-set digest at a given block. A
// zero-valued UTXODigest is a documented placeholder: verification
// against it is skipped rather than treated as a mismatch.
type Checkpoint struct {
	Height     uint32
	BlockHash  kvstore.Hash
	UTXODigest kvstore.Hash
}

// ChainParams exposes the network-specific values the snapshot subsystem
// needs: where to verify a downloaded snapshot against, and what manifest
// to serve when no peer-provided one is available yet.
type ChainParams interface {
	// Name identifies the network ("main", "test", "regtest").
	Name() string

	// SnapshotCheckpoints returns the pinned UTXO-set checkpoints for
	// this network, if any. An empty slice disables verification
	// entirely (no checkpoints configured for this network).
	SnapshotCheckpoints() []Checkpoint

	// HardcodedManifest returns the manifest for this network's
	// chain-state snapshot, or nil if none is compiled in.
	HardcodedManifest() *snapshot.Manifest

	// HardcodedParamsManifest returns the manifest for this network's
	// zk-SNARK parameter files snapshot, or nil if none is compiled in.
	HardcodedParamsManifest() *snapshot.Manifest
}

type params struct {
	name                    string
	checkpoints             []Checkpoint
	hardcodedManifest       *snapshot.Manifest
	hardcodedParamsManifest *snapshot.Manifest
}

func (p *params) Name() string                               { return p.name }
func (p *params) SnapshotCheckpoints() []Checkpoint           { return p.checkpoints }
func (p *params) HardcodedManifest() *snapshot.Manifest       { return p.hardcodedManifest }
func (p *params) HardcodedParamsManifest() *snapshot.Manifest { return p.hardcodedParamsManifest }

// Mainnet returns the ChainParams for the production network. Callers
// that have compiled-in hardcoded manifests or checkpoints should build
// their own ChainParams instead; this constructor intentionally ships
// with no baked-in data so a binary never silently trusts a stale
// checkpoint.
func Mainnet() ChainParams {
	return &params{name: "main"}
}

// Testnet returns the ChainParams for the public test network.
func Testnet() ChainParams {
	return &params{name: "test"}
}

// Regtest returns the ChainParams for local regression testing, where
// snapshot verification is never meaningful.
func Regtest() ChainParams {
	return &params{name: "regtest"}
}

// WithCheckpoints returns a copy of p with its checkpoints replaced.
func WithCheckpoints(p ChainParams, checkpoints []Checkpoint) ChainParams {
	return &params{
		name:                    p.Name(),
		checkpoints:             checkpoints,
		hardcodedManifest:       p.HardcodedManifest(),
		hardcodedParamsManifest: p.HardcodedParamsManifest(),
	}
}

// WithHardcodedManifest returns a copy of p with its chain-state manifest
// replaced.
func WithHardcodedManifest(p ChainParams, m *snapshot.Manifest) ChainParams {
	return &params{
		name:                    p.Name(),
		checkpoints:             p.SnapshotCheckpoints(),
		hardcodedManifest:       m,
		hardcodedParamsManifest: p.HardcodedParamsManifest(),
	}
}

// WithHardcodedParamsManifest returns a copy of p with its params-file
// manifest replaced.
func WithHardcodedParamsManifest(p ChainParams, m *snapshot.Manifest) ChainParams {
	return &params{
		name:                    p.Name(),
		checkpoints:             p.SnapshotCheckpoints(),
		hardcodedManifest:       p.HardcodedManifest(),
		hardcodedParamsManifest: m,
	}
}
