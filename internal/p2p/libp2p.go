package p2p

import (
	"context"
	"crypto/rand"
	"fmt"
	"os"
	"path/filepath"
	"time"

	libp2p "github.com/libp2p/go-libp2p"
	"github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/peerstore"
	"github.com/libp2p/go-libp2p/core/protocol"
	tcp "github.com/libp2p/go-libp2p/p2p/transport/tcp"
	"github.com/multiformats/go-multiaddr"
	log "github.com/sirupsen/logrus"
)

const (
	handshakeProtocol = "/bond-aevum/bridge/handshake/1.0.0"
	expectedHandshake = "bondaevumbridge"
	privKeyFile       = "node_private_key.pem"
)

func createNode(cfg Config, privKey crypto.PrivKey) (host.Host, error) {
	listenHost := cfg.ListenHost
	if listenHost == "" {
		listenHost = "0.0.0.0"
	}
	listenAddr := fmt.Sprintf("/ip4/%s/tcp/%d", listenHost, cfg.Port)
	return libp2p.New(
		libp2p.Identity(privKey),
		libp2p.Transport(tcp.NewTCPTransport), // TCP only
		libp2p.ListenAddrStrings(listenAddr),  // ipv4 only
	)
}

// connectToBootNode connects to one boot node and handshakes with it.
func connectToBootNode(ctx context.Context, node host.Host, bootNodeAddr string) error {
	multiAddr, err := multiaddr.NewMultiaddr(bootNodeAddr)
	if err != nil {
		return fmt.Errorf("parse bootnode address %s: %w", bootNodeAddr, err)
	}

	peerInfo, err := peer.AddrInfoFromP2pAddr(multiAddr)
	if err != nil {
		return fmt.Errorf("peer info from address %s: %w", bootNodeAddr, err)
	}
	if peerInfo.ID == node.ID() {
		log.Debugf("Skipping self connection to bootnode %s", peerInfo.ID)
		return nil
	}
	return connectPeer(ctx, node, *peerInfo)
}

func connectPeer(ctx context.Context, node host.Host, peerInfo peer.AddrInfo) error {
	node.Peerstore().AddAddrs(peerInfo.ID, peerInfo.Addrs, peerstore.PermanentAddrTTL)
	if err := node.Connect(ctx, peerInfo); err != nil {
		return fmt.Errorf("connect to %s: %w", peerInfo.ID, err)
	}
	log.Infof("Connected to peer: %s", peerInfo.ID)

	// Handshake after connect
	hsCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	s, err := node.NewStream(hsCtx, peerInfo.ID, protocol.ID(handshakeProtocol))
	if err != nil {
		return fmt.Errorf("open handshake stream to %s: %w", peerInfo.ID, err)
	}
	defer s.Close()

	if _, err := s.Write([]byte(expectedHandshake)); err != nil {
		_ = s.Reset()
		return fmt.Errorf("send handshake to %s: %w", peerInfo.ID, err)
	}
	return nil
}

// loadOrCreatePrivateKey keeps the node identity in dir so the peer ID survives
// restarts.
func loadOrCreatePrivateKey(dir, fileName string) (crypto.PrivKey, error) {
	if err := os.MkdirAll(dir, os.ModePerm); err != nil {
		return nil, fmt.Errorf("create key directory: %w", err)
	}

	pemPath := filepath.Join(dir, fileName)
	if _, err := os.Stat(pemPath); err == nil {
		privKeyBytes, err := os.ReadFile(pemPath)
		if err != nil {
			return nil, err
		}
		return crypto.UnmarshalPrivateKey(privKeyBytes)
	}

	privKey, _, err := crypto.GenerateKeyPairWithReader(crypto.Ed25519, 2048, rand.Reader)
	if err != nil {
		return nil, err
	}

	privKeyBytes, err := crypto.MarshalPrivateKey(privKey)
	if err != nil {
		return nil, err
	}

	if err := os.WriteFile(pemPath, privKeyBytes, 0600); err != nil {
		return nil, err
	}

	return privKey, nil
}

func printNodeAddrInfo(node host.Host) {
	peerID := node.ID().String()
	for _, addr := range node.Network().ListenAddresses() {
		log.Infof("Bootnode address: %s/p2p/%s", addr, peerID)
	}
}
