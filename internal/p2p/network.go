package p2p

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/goatnetwork/bond-aevum/internal/bridge"
	"github.com/goatnetwork/bond-aevum/internal/config"
	pubsub "github.com/libp2p/go-libp2p-pubsub"
	"github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/protocol"
	log "github.com/sirupsen/logrus"
)

const LibP2PTopic = "bond-aevum-bridge"

type Config struct {
	ListenHost string
	Port       int
	BootNodes  []string
	// KeyDir holds the persistent node identity.
	KeyDir            string
	HeartbeatInterval time.Duration
}

func ConfigFromApp(cfg config.Config) Config {
	return Config{
		Port:              cfg.Libp2pPort,
		BootNodes:         strings.Split(cfg.Libp2pBootNodes, ","),
		KeyDir:            cfg.DbDir,
		HeartbeatInterval: 60 * time.Second,
	}
}

// SignHandler answers sign requests; *bridge.Validator implements it.
type SignHandler interface {
	Sign(req *bridge.SignRequest) *bridge.SignResponse
}

// Network carries bridge sign requests and responses over a gossipsub topic. It
// implements bridge.Transport for the coordinator and serves the local validator,
// if any, to the coordinators of other nodes.
type Network struct {
	cfg     Config
	logger  *log.Entry
	host    host.Host
	ps      *pubsub.PubSub
	topic   *pubsub.Topic
	handler SignHandler

	mu      sync.Mutex
	pending map[string]chan *bridge.SignResponse

	ctx    context.Context
	cancel context.CancelFunc
}

// displayPublicKey prints the node's public key in hex format and PeerID
func displayPublicKey(host host.Host) {
	pub := host.Peerstore().PubKey(host.ID())
	if pub == nil {
		log.Errorf("public key not found in peerstore")
		return
	}
	raw, err := crypto.MarshalPublicKey(pub)
	if err != nil {
		log.Errorf("marshal public key error: %v", err)
		return
	}
	log.Debugf("Node PeerID: %s", host.ID().String())
	log.Debugf("Public Key hex: %s", hex.EncodeToString(raw))
}

// NewNetwork starts a node and joins the bridge topic. handler may be nil on nodes
// that are not bridge validators.
func NewNetwork(cfg Config, handler SignHandler) (*Network, error) {
	logger := log.WithFields(log.Fields{
		"module": "p2p",
	})
	priv, err := loadOrCreatePrivateKey(cfg.KeyDir, privKeyFile)
	if err != nil {
		return nil, err
	}
	node, err := createNode(cfg, priv)
	if err != nil {
		return nil, fmt.Errorf("failed to create libp2p host: %w", err)
	}
	displayPublicKey(node)

	node.SetStreamHandler(protocol.ID(handshakeProtocol), func(s network.Stream) {
		handleHandshake(s, node)
		s.Close()
	})

	ctx, cancel := context.WithCancel(context.Background())
	ps, err := pubsub.NewGossipSub(ctx, node,
		pubsub.WithMessageSignaturePolicy(pubsub.StrictSign),
		pubsub.WithPeerOutboundQueueSize(1000),
		pubsub.WithPeerExchange(true),
	)
	if err != nil {
		cancel()
		_ = node.Close()
		return nil, fmt.Errorf("failed to create pubsub: %w", err)
	}

	topic, err := ps.Join(LibP2PTopic)
	if err != nil {
		cancel()
		_ = node.Close()
		return nil, fmt.Errorf("failed to join topic %s: %w", LibP2PTopic, err)
	}
	sub, err := topic.Subscribe()
	if err != nil {
		cancel()
		_ = node.Close()
		return nil, fmt.Errorf("failed to subscribe to topic %s: %w", LibP2PTopic, err)
	}

	n := &Network{
		cfg:     cfg,
		logger:  logger,
		host:    node,
		ps:      ps,
		topic:   topic,
		handler: handler,
		pending: make(map[string]chan *bridge.SignResponse),
		ctx:     ctx,
		cancel:  cancel,
	}

	go n.handlePubSubMessages(sub)
	go n.startHeartbeat()

	logger.Infof("P2P network initialized with PubSub. Node ID: %s", n.host.ID())
	printNodeAddrInfo(node)
	return n, nil
}

// Start connects to the configured boot nodes.
func (n *Network) Start(ctx context.Context) error {
	return n.connectToBootstrapPeers(ctx)
}

func (n *Network) ID() peer.ID {
	return n.host.ID()
}

// AddrInfo is how other nodes reach this one.
func (n *Network) AddrInfo() peer.AddrInfo {
	return peer.AddrInfo{ID: n.host.ID(), Addrs: n.host.Network().ListenAddresses()}
}

// Connect connects and handshakes with a specific peer.
func (n *Network) Connect(ctx context.Context, info peer.AddrInfo) error {
	return connectPeer(ctx, n.host, info)
}

func (n *Network) GetPeers() []peer.ID {
	return n.host.Network().Peers()
}

// TopicPeers are the peers subscribed to the bridge topic.
func (n *Network) TopicPeers() []peer.ID {
	return n.topic.ListPeers()
}

func (n *Network) Close() error {
	n.cancel()
	return n.host.Close()
}

// RequestSignatures broadcasts req and streams back the responses of every
// validator reachable over the topic, this node's own validator included.
func (n *Network) RequestSignatures(ctx context.Context, req *bridge.SignRequest) (<-chan *bridge.SignResponse, error) {
	out := make(chan *bridge.SignResponse, 64)

	n.mu.Lock()
	if _, ok := n.pending[req.RequestID]; ok {
		n.mu.Unlock()
		return nil, fmt.Errorf("sign request %s already in flight", req.RequestID)
	}
	n.pending[req.RequestID] = out
	n.mu.Unlock()

	go func() {
		select {
		case <-ctx.Done():
		case <-n.ctx.Done():
		}
		n.mu.Lock()
		delete(n.pending, req.RequestID)
		close(out)
		n.mu.Unlock()
	}()

	if n.handler != nil {
		go n.deliver(n.handler.Sign(req))
	}

	msg := Message[any]{
		MessageType: MessageTypeSigReq,
		RequestId:   req.RequestID,
		DataType:    dataTypeSignRequest,
		Data:        req,
	}
	if err := n.BroadcastMessage(msg); err != nil {
		return nil, err
	}
	return out, nil
}

// deliver hands a response to the request waiting for it, if still open.
func (n *Network) deliver(resp *bridge.SignResponse) {
	n.mu.Lock()
	defer n.mu.Unlock()
	ch, ok := n.pending[resp.RequestID]
	if !ok {
		return
	}
	select {
	case ch <- resp:
	default:
		n.logger.Warnf("Dropping response of validator %d to %s, requester not reading", resp.Signer, resp.RequestID)
	}
}

func (n *Network) BroadcastMessage(msg any) error {
	msgBytes, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	if err := n.topic.Publish(n.ctx, msgBytes); err != nil {
		return fmt.Errorf("failed to publish to topic %s: %w", LibP2PTopic, err)
	}
	return nil
}

// checkWhitelisted requires the sender's key to be known. Responses carry
// validator signatures that the coordinator verifies on its own.
func (n *Network) checkWhitelisted(peerID peer.ID) error {
	if n.host.Peerstore().PubKey(peerID) == nil {
		return fmt.Errorf("public key not found for peer %s", peerID)
	}
	return nil
}

// connectToBootstrapPeers connects to the configured boot nodes.
func (n *Network) connectToBootstrapPeers(ctx context.Context) error {
	validAddrs := []string{}
	for _, addr := range n.cfg.BootNodes {
		if addr = strings.TrimSpace(addr); addr != "" {
			validAddrs = append(validAddrs, addr)
		}
	}
	if len(validAddrs) == 0 {
		n.logger.Warnf("No bootstrap peer addresses configured. Set LIBP2P_BOOT_NODES to connect to other nodes.")
		return nil
	}

	successfulConnections := 0
	for _, addr := range validAddrs {
		if err := connectToBootNode(ctx, n.host, addr); err != nil {
			n.logger.Errorf("Failed to connect to bootstrap peer %s: %v", addr, err)
			continue
		}
		successfulConnections++
	}
	if successfulConnections == 0 {
		return fmt.Errorf("failed to connect to any bootstrap peers")
	}
	return nil
}
