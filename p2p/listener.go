package p2p

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	p2p "github.com/bsv-blockchain/go-p2p-message-bus"
	"github.com/libp2p/go-libp2p/core/crypto"

	"github.com/ZclassicCommunity/zclassic/wire"
)

// Config holds P2P listener configuration
type Config struct {
	Port           int
	BootstrapPeers []string
	PrivateKey     string // hex-encoded private key
	TopicPrefix    string // e.g., "testnet", "mainnet"
	PeerCacheFile  string
}

// GetChunkFrom pairs an incoming chunk request with the peer that sent it.
type GetChunkFrom struct {
	From string
	Req  wire.GetChunk
}

// ChunkFrom pairs an incoming chunk response with the peer that sent it.
type ChunkFrom struct {
	From  string
	Chunk wire.Chunk
}

// Listener handles P2P network communication for snapshot chunk requests
// and responses.
type Listener struct {
	config        *Config
	client        p2p.Client
	logger        *slog.Logger
	ctx           context.Context
	cancel        context.CancelFunc
	getChunkCh    chan GetChunkFrom
	chunkCh       chan ChunkFrom
	getChunkTopic string
	chunkTopic    string
	mu            sync.Mutex
}

// NewListener creates a new P2P listener
func NewListener(config *Config, logger *slog.Logger) (*Listener, error) {
	if config.TopicPrefix == "" {
		config.TopicPrefix = "mainnet"
	}
	if config.PeerCacheFile == "" {
		config.PeerCacheFile = "peer_cache.json"
	}
	if logger == nil {
		logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Listener{
		config:        config,
		logger:        logger,
		ctx:           ctx,
		cancel:        cancel,
		getChunkCh:    make(chan GetChunkFrom, 100),
		chunkCh:       make(chan ChunkFrom, 100),
		getChunkTopic: fmt.Sprintf("zclassic/snapshot/1.0.0/%s-get-chunk", config.TopicPrefix),
		chunkTopic:    fmt.Sprintf("zclassic/snapshot/1.0.0/%s-chunk", config.TopicPrefix),
	}, nil
}

// Start initializes the P2P client and begins listening
func (l *Listener) Start() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.logger.Info("snapshot P2P listener starting", "port", l.config.Port, "network", l.config.TopicPrefix)

	var privKey crypto.PrivKey
	var err error

	if l.config.PrivateKey != "" {
		privKey, err = p2p.PrivateKeyFromHex(l.config.PrivateKey)
		if err != nil {
			return fmt.Errorf("failed to decode private key: %w", err)
		}
	} else {
		privKey, err = p2p.GeneratePrivateKey()
		if err != nil {
			return fmt.Errorf("failed to generate private key: %w", err)
		}
		keyHex, _ := p2p.PrivateKeyToHex(privKey)
		l.logger.Info("generated new private key", "key", keyHex)
	}

	clientConfig := p2p.Config{
		Name:          "zclassic-snapshot",
		Logger:        NewSlogAdapter(l.logger),
		PrivateKey:    privKey,
		Port:          l.config.Port,
		PeerCacheFile: l.config.PeerCacheFile,
	}

	if len(l.config.BootstrapPeers) > 0 {
		clientConfig.BootstrapPeers = l.config.BootstrapPeers
	}

	client, err := p2p.NewClient(clientConfig)
	if err != nil {
		return fmt.Errorf("failed to create P2P client: %w", err)
	}

	l.client = client

	l.logger.Info("subscribing to snapshot topics", "getChunk", l.getChunkTopic, "chunk", l.chunkTopic)

	getChunkMsgChan := l.client.Subscribe(l.getChunkTopic)
	chunkMsgChan := l.client.Subscribe(l.chunkTopic)

	go l.forwardGetChunk(getChunkMsgChan)
	go l.forwardChunk(chunkMsgChan)

	l.logger.Info("snapshot P2P listener started", "peerID", l.client.GetID())

	return nil
}

func (l *Listener) forwardGetChunk(msgChan <-chan p2p.Message) {
	for msg := range msgChan {
		req, err := wire.DecodeGetChunk(msg.Data)
		if err != nil {
			l.logger.Warn("dropping malformed GetChunk message", "from", msg.From, "err", err)
			continue
		}

		select {
		case l.getChunkCh <- GetChunkFrom{From: msg.From, Req: req}:
		default:
			l.logger.Warn("GetChunk channel full, dropping message", "chunk", req.ChunkNumber)
		}
	}
	l.logger.Warn("get-chunk topic channel closed")
}

func (l *Listener) forwardChunk(msgChan <-chan p2p.Message) {
	for msg := range msgChan {
		chunk, err := wire.DecodeChunk(msg.Data)
		if err != nil {
			l.logger.Warn("dropping malformed Chunk message", "from", msg.From, "err", err)
			continue
		}

		select {
		case l.chunkCh <- ChunkFrom{From: msg.From, Chunk: chunk}:
		default:
			l.logger.Warn("Chunk channel full, dropping message", "chunk", chunk.ChunkNumber)
		}
	}
	l.logger.Warn("chunk topic channel closed")
}

// PublishGetChunk broadcasts a chunk request to the network.
func (l *Listener) PublishGetChunk(req wire.GetChunk) error {
	l.mu.Lock()
	client := l.client
	l.mu.Unlock()

	if client == nil {
		return fmt.Errorf("listener not started")
	}
	return client.Publish(l.ctx, l.getChunkTopic, req.Encode())
}

// PublishChunk broadcasts a chunk response to the network.
func (l *Listener) PublishChunk(chunk wire.Chunk) error {
	l.mu.Lock()
	client := l.client
	l.mu.Unlock()

	if client == nil {
		return fmt.Errorf("listener not started")
	}
	return client.Publish(l.ctx, l.chunkTopic, chunk.Encode())
}

// SubscribeGetChunk returns a channel of incoming chunk requests, tagged
// with the requesting peer.
func (l *Listener) SubscribeGetChunk() <-chan GetChunkFrom {
	return l.getChunkCh
}

// SubscribeChunk returns a channel of incoming chunk responses, tagged
// with the sending peer.
func (l *Listener) SubscribeChunk() <-chan ChunkFrom {
	return l.chunkCh
}

// Stop shuts down the P2P listener
func (l *Listener) Stop() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.cancel()

	if l.client != nil {
		return l.client.Close()
	}

	return nil
}

// PeerCount returns the number of connected peers
func (l *Listener) PeerCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.client == nil {
		return 0
	}

	return len(l.client.GetPeers())
}

// GetPeers returns information about all connected peers
func (l *Listener) GetPeers() []p2p.PeerInfo {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.client == nil {
		return nil
	}

	return l.client.GetPeers()
}
