package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/ZclassicCommunity/zclassic/banstore"
	"github.com/ZclassicCommunity/zclassic/banstore/sqlite"
	"github.com/ZclassicCommunity/zclassic/chainparams"
	"github.com/ZclassicCommunity/zclassic/chainstate/badger"
	"github.com/ZclassicCommunity/zclassic/models"
	"github.com/ZclassicCommunity/zclassic/p2p"
	"github.com/ZclassicCommunity/zclassic/ratelimit"
	"github.com/ZclassicCommunity/zclassic/snapshot"
	"github.com/ZclassicCommunity/zclassic/snapshot/store"
	"github.com/ZclassicCommunity/zclassic/snapshotsvc"
	"github.com/ZclassicCommunity/zclassic/utxo"
)

// splitAndTrim splits a string by delimiter and trims whitespace from each part
func splitAndTrim(s, delim string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, delim)
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}

// seenPeers tracks peer IDs this node has actually exchanged snapshot
// messages with, since they are the only peers we know can speak the
// snapshot protocol.
type seenPeers struct {
	mu  sync.Mutex
	ids map[string]time.Time
}

func newSeenPeers() *seenPeers {
	return &seenPeers{ids: make(map[string]time.Time)}
}

func (s *seenPeers) touch(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ids[id] = time.Now()
}

func (s *seenPeers) list() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.ids))
	for id := range s.ids {
		out = append(out, id)
	}
	return out
}

// checkpointBlockHash returns the pinned block hash for height, or the
// zero hash if this network has no checkpoint there.
func checkpointBlockHash(params chainparams.ChainParams, height uint32) (hash [32]byte) {
	for _, cp := range params.SnapshotCheckpoints() {
		if cp.Height == height {
			return cp.BlockHash
		}
	}
	return hash
}

// loadManifestFile reads and validates a manifest previously written by the
// snapshot-generating tooling, in the same fixed binary layout ChunkStore
// persists to disk.
func loadManifestFile(path string) (*snapshot.Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest file: %w", err)
	}
	m, err := snapshot.Unmarshal(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse manifest file: %w", err)
	}
	if !m.IsValid() {
		return nil, fmt.Errorf("manifest file is invalid")
	}
	return m, nil
}

// loadBans prunes stale ban records on startup. The store is keyed by
// individual peer address, not listable in bulk, so active bans are
// re-learned through AllowRequest as each peer reconnects rather than
// eagerly replayed into the in-memory limiter here.
func loadBans(ctx context.Context, bans banstore.Store, logger *slog.Logger) {
	if err := bans.DeleteExpired(ctx, time.Now()); err != nil {
		logger.Warn("failed to prune expired bans at startup", "err", err)
	}
}

func main() {
	dataDir := flag.String("data-dir", "./data", "Data directory for the snapshot store and chainstate DB")
	chainDir := flag.String("chain-dir", "./chaindata", "Directory the extracted snapshot is written into")
	banDBPath := flag.String("ban-db", "./data/bans.db", "Path to the SQLite peer-ban database")
	network := flag.String("network", "main", "Network: main, test, or regtest")
	p2pPort := flag.Int("p2p-port", 9906, "P2P listen port")
	topicPrefix := flag.String("topic-prefix", "mainnet", "Topic prefix (mainnet, testnet, etc.)")
	bootstrapPeers := flag.String("bootstrap-peers", "", "Comma-separated list of bootstrap peer multiaddrs")
	canServe := flag.Bool("serve-snapshots", false, "Answer peers' GetChunk requests for our snapshot")
	manifestFile := flag.String("manifest", "", "Path to a manifest file to synthesize chain-state data from, for networks with no compiled-in manifest")
	requestInterval := flag.Duration("request-interval", 2*time.Second, "How often to consider requesting the next chunk")
	logLevel := flag.String("log-level", "info", "Log level: debug, info, warn, error")
	flag.Parse()

	var level slog.Level
	switch *logLevel {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	log.Println("Starting snapshot node...")

	var params chainparams.ChainParams
	switch *network {
	case "main":
		params = chainparams.Mainnet()
	case "test":
		params = chainparams.Testnet()
	case "regtest":
		params = chainparams.Regtest()
	default:
		log.Fatalf("Unknown network: %s (use 'main', 'test', or 'regtest')", *network)
	}

	if params.HardcodedManifest() == nil {
		if *manifestFile == "" {
			log.Fatalf("no hardcoded snapshot manifest for network %q; pass -manifest to synthesize one from a manifest file", params.Name())
		}
		m, err := loadManifestFile(*manifestFile)
		if err != nil {
			log.Fatalf("Failed to load manifest file %q: %v", *manifestFile, err)
		}
		params = chainparams.WithHardcodedManifest(params, m)
	}
	manifest := params.HardcodedManifest()

	chainStore, err := badger.New(badger.Config{DataDir: *dataDir + "/chainstate"})
	if err != nil {
		log.Fatalf("Failed to open chainstate database: %v", err)
	}
	defer chainStore.Close()

	chunkStore, err := store.New(store.Config{DataDir: *dataDir + "/snapshot", Logger: logger})
	if err != nil {
		log.Fatalf("Failed to open chunk store: %v", err)
	}

	if _, err := chunkStore.LoadManifest(); err != nil {
		log.Printf("No existing manifest on disk, initializing from network params: %v", err)
		if err := chunkStore.Initialize(manifest); err != nil {
			log.Fatalf("Failed to initialize chunk store: %v", err)
		}
	}

	bans, err := sqlite.New(&sqlite.Config{DBPath: *banDBPath})
	if err != nil {
		log.Fatalf("Failed to open ban database: %v", err)
	}
	defer bans.Close()

	limiter := ratelimit.New(ratelimit.DefaultLimits(), logger)
	limiter.SetBanHook(func(peer string, until time.Time) {
		if err := bans.PutBan(context.Background(), banstore.Ban{
			Address:  peer,
			BannedAt: time.Now(),
			BanUntil: until,
		}); err != nil {
			logger.Warn("failed to persist ban", "peer", peer, "err", err)
		}
	})
	loadBans(context.Background(), bans, logger)

	var bootstrapPeerList []string
	if *bootstrapPeers != "" {
		bootstrapPeerList = splitAndTrim(*bootstrapPeers, ",")
	}

	p2pConfig := &p2p.Config{
		Port:           *p2pPort,
		BootstrapPeers: bootstrapPeerList,
		TopicPrefix:    *topicPrefix,
	}

	listener, err := p2p.NewListener(p2pConfig, logger)
	if err != nil {
		log.Fatalf("Failed to create P2P listener: %v", err)
	}
	if err := listener.Start(); err != nil {
		log.Fatalf("Failed to start P2P listener: %v", err)
	}
	defer listener.Stop()

	svc, err := snapshotsvc.New(snapshotsvc.Config{
		Store:     chunkStore,
		Limiter:   limiter,
		Publisher: listener,
		Logger:    logger,
		CanServe:  *canServe,
	})
	if err != nil {
		log.Fatalf("Failed to create snapshot service: %v", err)
	}

	headers := models.NewHeaderChain()

	log.Printf("Snapshot node started | session %s | height %d | peers %d",
		svc.SessionID(), manifest.Height, listener.PeerCount())

	getChunkCh := listener.SubscribeGetChunk()
	chunkCh := listener.SubscribeChunk()
	peers := newSeenPeers()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	requestTicker := time.NewTicker(*requestInterval)
	defer requestTicker.Stop()

	maintenanceTicker := time.NewTicker(30 * time.Second)
	defer maintenanceTicker.Stop()

	banSweepTicker := time.NewTicker(time.Minute)
	defer banSweepTicker.Stop()

	for {
		select {
		case <-sigCh:
			log.Println("Shutting down...")
			return

		case m := <-getChunkCh:
			peers.touch(m.From)
			if err := svc.HandleGetChunk(m.From, m.Req); err != nil {
				logger.Warn("failed to handle GetChunk", "from", m.From, "chunk", m.Req.ChunkNumber, "err", err)
			}

		case m := <-chunkCh:
			peers.touch(m.From)
			if err := svc.HandleChunk(m.From, m.Chunk); err != nil {
				logger.Warn("failed to handle Chunk", "from", m.From, "chunk", m.Chunk.ChunkNumber, "err", err)
				continue
			}
			if svc.IsComplete() {
				logger.Info("snapshot download complete, extracting", "destDir", *chainDir)
				if err := svc.ExtractAndFinish(*chainDir, func(m *snapshot.Manifest) error {
					blockHash := checkpointBlockHash(params, m.Height)

					ok, err := utxo.VerifySnapshotUTXOHash(ctx, chainStore, params, blockHash, m.Height, logger)
					if err != nil {
						return err
					}
					if !ok {
						logger.Error("downloaded snapshot failed UTXO hash verification", "height", m.Height)
						return nil
					}

					// Seed the header chain with the restored tip so normal
					// header sync can pick up from here instead of genesis.
					headers.AddHeader(&models.BlockHeader{
						Height: uint64(m.Height),
						Hash:   append([]byte{}, blockHash[:]...),
					})
					return nil
				}); err != nil {
					logger.Error("failed to finish snapshot download", "err", err)
				}
			}

		case <-requestTicker.C:
			if svc.IsComplete() {
				continue
			}
			if _, err := svc.RequestNextChunk(peers.list()); err != nil {
				logger.Warn("failed to request next chunk", "err", err)
			}

		case <-maintenanceTicker.C:
			svc.MaintenanceTick(ctx)

		case <-banSweepTicker.C:
			if err := bans.DeleteExpired(ctx, time.Now()); err != nil {
				logger.Warn("failed to sweep expired bans", "err", err)
			}
		}
	}
}
