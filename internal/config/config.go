package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

var AppConfig Config

const (
	// Minimum reorg-safe confirmation depths. Lower configured values are raised.
	MinBondConfirmations  = 6
	MinAevumConfirmations = 2

	EvictionPolicyFee = "fee"
	EvictionPolicyLRU = "lru"

	UtxoBackendBolt   = "bbolt"
	UtxoBackendMemory = "memory"
)

func setDefaults() {
	viper.SetDefault("LOG_LEVEL", "info")
	viper.SetDefault("DB_DIR", "/app/db")
	viper.SetDefault("UTXO_BACKEND", UtxoBackendBolt)
	viper.SetDefault("METRICS_ENABLED", true)
	viper.SetDefault("METRICS_ADDR", ":9090")

	viper.SetDefault("LIBP2P_PORT", 4001)
	viper.SetDefault("LIBP2P_BOOT_NODES", "")

	viper.SetDefault("BOND_CONFIRMATIONS", 6)
	viper.SetDefault("BOND_MAX_REORG_DEPTH", 100)
	viper.SetDefault("BOND_TARGET_SPACING", "600s")
	viper.SetDefault("BOND_RETARGET_WINDOW", 144)
	viper.SetDefault("BOND_POW_LIMIT_BITS", "1d00ffff")
	viper.SetDefault("BOND_BLOCK_REWARD", 5000000000)
	viper.SetDefault("BOND_GENESIS_TIME", 1700000000)

	viper.SetDefault("AEVUM_CONFIRMATIONS", 2)
	viper.SetDefault("AEVUM_MAX_REORG_DEPTH", 20)
	viper.SetDefault("AEVUM_TARGET_SPACING", "5s")
	viper.SetDefault("AEVUM_BLOCK_REWARD", 100000000)
	viper.SetDefault("AEVUM_GENESIS_TIME", 1700000000)
	viper.SetDefault("AEVUM_DELEGATES", "")

	viper.SetDefault("MAX_FUTURE_DRIFT", "2h")
	viper.SetDefault("MINER_PRIVATE_KEY", "")

	viper.SetDefault("MEMPOOL_MAX_ENTRIES", 50000)
	viper.SetDefault("MEMPOOL_MAX_BYTES", 300*1024*1024)
	viper.SetDefault("MEMPOOL_TTL", "336h")
	viper.SetDefault("MEMPOOL_EXPIRE_INTERVAL", "1m")
	viper.SetDefault("MEMPOOL_EVICTION_POLICY", EvictionPolicyFee)
	viper.SetDefault("MEMPOOL_MIN_FEE_RATE", 0)
	viper.SetDefault("MEMPOOL_ORPHAN_LIMIT", 100)
	viper.SetDefault("MEMPOOL_ORPHAN_TTL", "20m")

	viper.SetDefault("BRIDGE_VALIDATORS", "")
	viper.SetDefault("BRIDGE_THRESHOLD", 0)
	viper.SetDefault("BRIDGE_SOURCE_TIMEOUT", "24h")
	viper.SetDefault("BRIDGE_QUORUM_TIMEOUT", "1h")
	viper.SetDefault("BRIDGE_POLL_INTERVAL", "10s")
	viper.SetDefault("BRIDGE_SIG_TIMEOUT", "30s")
	viper.SetDefault("VALIDATOR_PRIVATE_KEY", "")
}

// Load reads the environment into a Config. It fails on values that cannot be
// parsed and clamps values that are parseable but unsafe.
func Load() (Config, error) {
	viper.AutomaticEnv()
	setDefaults()

	logLevel, err := logrus.ParseLevel(strings.ToLower(viper.GetString("LOG_LEVEL")))
	if err != nil {
		return Config{}, fmt.Errorf("invalid log level: %w", err)
	}

	powLimitBits, err := strconv.ParseUint(strings.TrimPrefix(viper.GetString("BOND_POW_LIMIT_BITS"), "0x"), 16, 32)
	if err != nil {
		return Config{}, fmt.Errorf("invalid BOND_POW_LIMIT_BITS: %w", err)
	}

	delegates, err := parseDelegates(viper.GetString("AEVUM_DELEGATES"))
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		LogLevel:        logLevel,
		DbDir:           viper.GetString("DB_DIR"),
		UtxoBackend:     strings.ToLower(viper.GetString("UTXO_BACKEND")),
		MetricsEnabled:  viper.GetBool("METRICS_ENABLED"),
		MetricsAddr:     viper.GetString("METRICS_ADDR"),
		Libp2pPort:      viper.GetInt("LIBP2P_PORT"),
		Libp2pBootNodes: viper.GetString("LIBP2P_BOOT_NODES"),
		Bond: ChainConfig{
			Confirmations:  viper.GetInt("BOND_CONFIRMATIONS"),
			MaxReorgDepth:  viper.GetInt("BOND_MAX_REORG_DEPTH"),
			TargetSpacing:  viper.GetDuration("BOND_TARGET_SPACING"),
			RetargetWindow: viper.GetInt("BOND_RETARGET_WINDOW"),
			PowLimitBits:   uint32(powLimitBits),
			BlockReward:    viper.GetUint64("BOND_BLOCK_REWARD"),
			GenesisTime:    viper.GetInt64("BOND_GENESIS_TIME"),
		},
		Aevum: ChainConfig{
			Confirmations: viper.GetInt("AEVUM_CONFIRMATIONS"),
			MaxReorgDepth: viper.GetInt("AEVUM_MAX_REORG_DEPTH"),
			TargetSpacing: viper.GetDuration("AEVUM_TARGET_SPACING"),
			BlockReward:   viper.GetUint64("AEVUM_BLOCK_REWARD"),
			GenesisTime:   viper.GetInt64("AEVUM_GENESIS_TIME"),
			Delegates:     delegates,
		},
		MaxFutureDrift:  viper.GetDuration("MAX_FUTURE_DRIFT"),
		MinerPrivateKey: viper.GetString("MINER_PRIVATE_KEY"),
		Mempool: MempoolConfig{
			MaxEntries:     viper.GetInt("MEMPOOL_MAX_ENTRIES"),
			MaxBytes:       viper.GetInt("MEMPOOL_MAX_BYTES"),
			TTL:            viper.GetDuration("MEMPOOL_TTL"),
			ExpireInterval: viper.GetDuration("MEMPOOL_EXPIRE_INTERVAL"),
			EvictionPolicy: strings.ToLower(viper.GetString("MEMPOOL_EVICTION_POLICY")),
			MinFeeRate:     viper.GetUint64("MEMPOOL_MIN_FEE_RATE"),
			OrphanLimit:    viper.GetInt("MEMPOOL_ORPHAN_LIMIT"),
			OrphanTTL:      viper.GetDuration("MEMPOOL_ORPHAN_TTL"),
		},
		Bridge: BridgeConfig{
			Validators:          splitList(viper.GetString("BRIDGE_VALIDATORS")),
			Threshold:           viper.GetInt("BRIDGE_THRESHOLD"),
			SourceTimeout:       viper.GetDuration("BRIDGE_SOURCE_TIMEOUT"),
			QuorumTimeout:       viper.GetDuration("BRIDGE_QUORUM_TIMEOUT"),
			PollInterval:        viper.GetDuration("BRIDGE_POLL_INTERVAL"),
			SigTimeout:          viper.GetDuration("BRIDGE_SIG_TIMEOUT"),
			ValidatorPrivateKey: viper.GetString("VALIDATOR_PRIVATE_KEY"),
		},
	}

	if cfg.UtxoBackend != UtxoBackendBolt && cfg.UtxoBackend != UtxoBackendMemory {
		return Config{}, fmt.Errorf("unknown UTXO_BACKEND %q", cfg.UtxoBackend)
	}
	if cfg.Mempool.EvictionPolicy != EvictionPolicyFee && cfg.Mempool.EvictionPolicy != EvictionPolicyLRU {
		return Config{}, fmt.Errorf("unknown MEMPOOL_EVICTION_POLICY %q", cfg.Mempool.EvictionPolicy)
	}

	if cfg.Bond.Confirmations < MinBondConfirmations {
		logrus.Warnf("Bond confirmations %d is too low, set to %d", cfg.Bond.Confirmations, MinBondConfirmations)
		cfg.Bond.Confirmations = MinBondConfirmations
	}
	if cfg.Aevum.Confirmations < MinAevumConfirmations {
		logrus.Warnf("Aevum confirmations %d is too low, set to %d", cfg.Aevum.Confirmations, MinAevumConfirmations)
		cfg.Aevum.Confirmations = MinAevumConfirmations
	}
	// A transfer must never be confirmed at a depth the chain could still reorganize.
	for _, c := range []*ChainConfig{&cfg.Bond, &cfg.Aevum} {
		if c.MaxReorgDepth < c.Confirmations {
			logrus.Warnf("Max reorg depth %d below confirmation depth, set to %d", c.MaxReorgDepth, c.Confirmations)
			c.MaxReorgDepth = c.Confirmations
		}
	}

	return cfg, nil
}

func InitConfig() {
	cfg, err := Load()
	if err != nil {
		logrus.Fatalf("Failed to load config: %v", err)
	}
	AppConfig = cfg

	logrus.Infof("Init config, BondConfirmations %d, AevumConfirmations %d, BridgeValidators %d, UtxoBackend %s",
		AppConfig.Bond.Confirmations, AppConfig.Aevum.Confirmations, len(AppConfig.Bridge.Validators), AppConfig.UtxoBackend)

	logrus.SetOutput(os.Stdout)
	logrus.SetLevel(AppConfig.LogLevel)
}

func splitList(s string) []string {
	var out []string
	for _, item := range strings.Split(s, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

// parseDelegates reads "pubkeyhex:stake,pubkeyhex:stake".
func parseDelegates(s string) ([]DelegateConfig, error) {
	var delegates []DelegateConfig
	for _, item := range splitList(s) {
		parts := strings.SplitN(item, ":", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("invalid delegate %q, expected pubkey:stake", item)
		}
		stake, err := strconv.ParseUint(parts[1], 10, 64)
		if err != nil || stake == 0 {
			return nil, fmt.Errorf("invalid stake for delegate %q", parts[0])
		}
		delegates = append(delegates, DelegateConfig{PubKey: parts[0], Stake: stake})
	}
	return delegates, nil
}

type Config struct {
	LogLevel        logrus.Level
	DbDir           string
	UtxoBackend     string
	MetricsEnabled  bool
	MetricsAddr     string
	Libp2pPort      int
	Libp2pBootNodes string
	Bond            ChainConfig
	Aevum           ChainConfig
	MaxFutureDrift  time.Duration
	MinerPrivateKey string
	Mempool         MempoolConfig
	Bridge          BridgeConfig
}

type ChainConfig struct {
	Confirmations  int
	MaxReorgDepth  int
	TargetSpacing  time.Duration
	RetargetWindow int
	PowLimitBits   uint32
	BlockReward    uint64
	GenesisTime    int64
	Delegates      []DelegateConfig
}

type DelegateConfig struct {
	PubKey string
	Stake  uint64
}

type MempoolConfig struct {
	MaxEntries     int
	MaxBytes       int
	TTL            time.Duration
	ExpireInterval time.Duration
	EvictionPolicy string
	MinFeeRate     uint64
	OrphanLimit    int
	OrphanTTL      time.Duration
}

type BridgeConfig struct {
	Validators          []string
	Threshold           int
	SourceTimeout       time.Duration
	QuorumTimeout       time.Duration
	PollInterval        time.Duration
	SigTimeout          time.Duration
	ValidatorPrivateKey string
}
