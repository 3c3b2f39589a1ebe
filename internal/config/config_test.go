package config

import (
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, logrus.InfoLevel, cfg.LogLevel)
	assert.Equal(t, UtxoBackendBolt, cfg.UtxoBackend)
	assert.Equal(t, 6, cfg.Bond.Confirmations)
	assert.Equal(t, 2, cfg.Aevum.Confirmations)
	assert.Equal(t, uint32(0x1d00ffff), cfg.Bond.PowLimitBits)
	assert.Equal(t, 600*time.Second, cfg.Bond.TargetSpacing)
	assert.Equal(t, EvictionPolicyFee, cfg.Mempool.EvictionPolicy)
	assert.Equal(t, 336*time.Hour, cfg.Mempool.TTL)
	assert.Empty(t, cfg.Bridge.Validators)
}

func TestLoadOverridesAndClamps(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	t.Setenv("LOG_LEVEL", "DEBUG")
	t.Setenv("BOND_CONFIRMATIONS", "1")
	t.Setenv("AEVUM_CONFIRMATIONS", "3")
	t.Setenv("AEVUM_MAX_REORG_DEPTH", "1")
	t.Setenv("BOND_POW_LIMIT_BITS", "0x207fffff")
	t.Setenv("MEMPOOL_EVICTION_POLICY", "LRU")
	t.Setenv("BRIDGE_VALIDATORS", " aa , bb,,cc ")
	t.Setenv("AEVUM_DELEGATES", "02aa:10,03bb:30")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, logrus.DebugLevel, cfg.LogLevel)
	assert.Equal(t, MinBondConfirmations, cfg.Bond.Confirmations)
	assert.Equal(t, 3, cfg.Aevum.Confirmations)
	assert.Equal(t, 3, cfg.Aevum.MaxReorgDepth)
	assert.Equal(t, uint32(0x207fffff), cfg.Bond.PowLimitBits)
	assert.Equal(t, EvictionPolicyLRU, cfg.Mempool.EvictionPolicy)
	assert.Equal(t, []string{"aa", "bb", "cc"}, cfg.Bridge.Validators)
	assert.Equal(t, []DelegateConfig{{PubKey: "02aa", Stake: 10}, {PubKey: "03bb", Stake: 30}}, cfg.Aevum.Delegates)
}

func TestLoadRejectsBadValues(t *testing.T) {
	tests := []struct {
		name string
		key  string
		val  string
	}{
		{"log level", "LOG_LEVEL", "loud"},
		{"pow limit", "BOND_POW_LIMIT_BITS", "xyz"},
		{"backend", "UTXO_BACKEND", "rocksdb"},
		{"eviction", "MEMPOOL_EVICTION_POLICY", "random"},
		{"delegate format", "AEVUM_DELEGATES", "02aa"},
		{"delegate stake", "AEVUM_DELEGATES", "02aa:0"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			viper.Reset()
			t.Cleanup(viper.Reset)
			t.Setenv(tt.key, tt.val)

			_, err := Load()
			assert.Error(t, err)
		})
	}
}
