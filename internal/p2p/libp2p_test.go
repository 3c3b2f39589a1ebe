package p2p

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/goatnetwork/bond-aevum/internal/bridge"
	"github.com/goatnetwork/bond-aevum/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubValidator signs every request with a fixed signature.
type stubValidator struct {
	index int
}

func (s *stubValidator) Sign(req *bridge.SignRequest) *bridge.SignResponse {
	return &bridge.SignResponse{RequestID: req.RequestID, Signer: s.index, Signature: []byte{byte(s.index)}}
}

func newTestNetwork(t *testing.T, handler SignHandler) *Network {
	t.Helper()
	n, err := NewNetwork(Config{
		ListenHost:        "127.0.0.1",
		Port:              0,
		KeyDir:            t.TempDir(),
		HeartbeatInterval: time.Second,
	}, handler)
	require.NoError(t, err)
	t.Cleanup(func() { _ = n.Close() })
	return n
}

func TestLoadOrCreatePrivateKey(t *testing.T) {
	dir := t.TempDir()
	first, err := loadOrCreatePrivateKey(dir, privKeyFile)
	require.NoError(t, err)
	second, err := loadOrCreatePrivateKey(dir, privKeyFile)
	require.NoError(t, err)
	assert.True(t, first.Equals(second), "identity persists across restarts")

	other, err := loadOrCreatePrivateKey(t.TempDir(), privKeyFile)
	require.NoError(t, err)
	assert.False(t, first.Equals(other))
}

func TestNetworkStartWithoutBootNodes(t *testing.T) {
	n := newTestNetwork(t, nil)
	assert.NoError(t, n.Start(context.Background()))
	assert.Empty(t, n.GetPeers())
	assert.NotEmpty(t, n.AddrInfo().Addrs)
}

func TestBootNodeConnect(t *testing.T) {
	boot := newTestNetwork(t, nil)
	info := boot.AddrInfo()
	require.NotEmpty(t, info.Addrs)

	n, err := NewNetwork(Config{
		ListenHost: "127.0.0.1",
		KeyDir:     t.TempDir(),
		BootNodes:  []string{"", fmt.Sprintf("%s/p2p/%s", info.Addrs[0], info.ID)},
	}, nil)
	require.NoError(t, err)
	defer n.Close()

	require.NoError(t, n.Start(context.Background()))
	assert.Contains(t, n.GetPeers(), boot.ID())

	bad, err := NewNetwork(Config{ListenHost: "127.0.0.1", KeyDir: t.TempDir(), BootNodes: []string{"not-a-multiaddr"}}, nil)
	require.NoError(t, err)
	defer bad.Close()
	assert.Error(t, bad.Start(context.Background()))
}

func TestRequestSignaturesAcrossNodes(t *testing.T) {
	coordinator := newTestNetwork(t, &stubValidator{index: 0})
	remotes := []*Network{
		newTestNetwork(t, &stubValidator{index: 1}),
		newTestNetwork(t, &stubValidator{index: 2}),
	}
	for _, r := range remotes {
		require.NoError(t, r.Connect(context.Background(), coordinator.AddrInfo()))
	}
	require.Eventually(t, func() bool {
		return len(coordinator.TopicPeers()) == len(remotes)
	}, 10*time.Second, 100*time.Millisecond)

	// Give the mesh a heartbeat to form before publishing.
	time.Sleep(time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	req := &bridge.SignRequest{RequestID: "req-1", Lock: types.ChainBond, Target: types.ChainAevum, Tx: []byte{1}}
	responses, err := coordinator.RequestSignatures(ctx, req)
	require.NoError(t, err)

	_, err = coordinator.RequestSignatures(ctx, req)
	assert.Error(t, err, "duplicate request id")

	signers := make(map[int]bool)
	for len(signers) < 3 {
		select {
		case resp, ok := <-responses:
			require.True(t, ok, "channel closed after %d responses", len(signers))
			assert.Equal(t, req.RequestID, resp.RequestID)
			assert.Equal(t, []byte{byte(resp.Signer)}, resp.Signature)
			signers[resp.Signer] = true
		case <-ctx.Done():
			t.Fatalf("only %d responses before timeout", len(signers))
		}
	}

	cancel()
	require.Eventually(t, func() bool {
		select {
		case _, ok := <-responses:
			return !ok
		default:
			return false
		}
	}, 5*time.Second, 50*time.Millisecond)
}
