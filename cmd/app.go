package main

import (
	"context"
	"encoding/hex"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"

	"github.com/goatnetwork/bond-aevum/internal/blockstore"
	"github.com/goatnetwork/bond-aevum/internal/bridge"
	"github.com/goatnetwork/bond-aevum/internal/chain"
	"github.com/goatnetwork/bond-aevum/internal/config"
	"github.com/goatnetwork/bond-aevum/internal/consensus"
	"github.com/goatnetwork/bond-aevum/internal/crypto"
	"github.com/goatnetwork/bond-aevum/internal/db"
	"github.com/goatnetwork/bond-aevum/internal/events"
	"github.com/goatnetwork/bond-aevum/internal/mempool"
	"github.com/goatnetwork/bond-aevum/internal/metrics"
	"github.com/goatnetwork/bond-aevum/internal/p2p"
	"github.com/goatnetwork/bond-aevum/internal/types"
	"github.com/goatnetwork/bond-aevum/internal/utxo"
	"github.com/goatnetwork/bond-aevum/internal/validator"
	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"
)

type Application struct {
	DatabaseManager *db.DatabaseManager
	EventBus        *events.EventBus
	Bond            *chain.Chain
	Aevum           *chain.Chain
	Stores          []*utxo.Store
	Network         *p2p.Network
	Coordinator     *bridge.Coordinator
	Producers       []*Producer
}

func NewApplication() *Application {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Warnf("Failed to load .env: %v", err)
	}
	config.InitConfig()
	cfg := config.AppConfig

	dbm, err := db.NewDatabaseManager(cfg.DbDir)
	if err != nil {
		log.Fatalf("Failed to open databases: %v", err)
	}
	app := &Application{DatabaseManager: dbm, EventBus: events.NewEventBus()}

	bridgeRules, err := loadBridgeRules(cfg.Bridge)
	if err != nil {
		log.Fatalf("Invalid bridge validator set: %v", err)
	}

	var miner *crypto.SchnorrSigner
	if cfg.MinerPrivateKey != "" {
		if miner, err = crypto.SignerFromHex(cfg.MinerPrivateKey); err != nil {
			log.Fatalf("Invalid MINER_PRIVATE_KEY: %v", err)
		}
	}

	var payout []byte
	if miner != nil {
		payout = types.PayToPubKeyScript(miner.PubKey())
	}
	app.Bond = app.openChain(cfg, types.ChainBond, cfg.Bond, bridgeRules, payout)
	app.Aevum = app.openChain(cfg, types.ChainAevum, cfg.Aevum, bridgeRules, payout)

	if miner != nil {
		bondParams := app.Bond.Params()
		aevumParams := app.Aevum.Params()
		app.Producers = append(app.Producers,
			NewProducer(app.Bond, consensus.NewPowEngine(bondParams), bondParams.TargetSpacing),
			NewProducer(app.Aevum, consensus.NewDelegateSealer(consensus.NewPodEngine(aevumParams, crypto.SchnorrVerifier{}), miner), aevumParams.TargetSpacing),
		)
	}

	if bridgeRules == nil {
		log.Warn("No bridge validators configured, cross-chain transfers are disabled")
		return app
	}

	var local *bridge.Validator
	if cfg.Bridge.ValidatorPrivateKey != "" {
		signer, err := crypto.SignerFromHex(cfg.Bridge.ValidatorPrivateKey)
		if err != nil {
			log.Fatalf("Invalid VALIDATOR_PRIVATE_KEY: %v", err)
		}
		idx := bridgeRules.IndexOf(signer.PubKey())
		if idx < 0 {
			log.Fatalf("Validator key %x is not in BRIDGE_VALIDATORS", signer.PubKey())
		}
		local = bridge.NewValidator(idx, signer, dbm.GetBridgeDB(), app.Bond, app.Aevum)
	}

	var handler p2p.SignHandler
	if local != nil {
		handler = local
	}
	app.Network, err = p2p.NewNetwork(p2p.ConfigFromApp(cfg), handler)
	if err != nil {
		log.Fatalf("Failed to start p2p network: %v", err)
	}

	app.Coordinator = bridge.New(bridge.ConfigFromApp(cfg.Bridge, bridgeRules), bridge.NewLedger(dbm.GetBridgeDB()),
		app.Network, app.EventBus, app.Bond, app.Aevum)
	if _, err := app.Coordinator.Load(); err != nil {
		log.Fatalf("Failed to load transfers: %v", err)
	}
	return app
}

func loadBridgeRules(cfg config.BridgeConfig) (*validator.BridgeRules, error) {
	if len(cfg.Validators) == 0 {
		return nil, nil
	}
	pubKeys := make([][]byte, len(cfg.Validators))
	for i, v := range cfg.Validators {
		pub, err := hex.DecodeString(v)
		if err != nil {
			return nil, err
		}
		pubKeys[i] = pub
	}
	return validator.NewBridgeRules(pubKeys, cfg.Threshold)
}

func (app *Application) openChain(cfg config.Config, id types.ChainID, chainCfg config.ChainConfig,
	bridgeRules *validator.BridgeRules, payout []byte) *chain.Chain {
	params, err := consensus.ParamsFromConfig(id, chainCfg, cfg.MaxFutureDrift)
	if err != nil {
		log.Fatalf("Invalid %s parameters: %v", id, err)
	}

	var backend utxo.Backend = utxo.NewMemoryBackend()
	if cfg.UtxoBackend == config.UtxoBackendBolt {
		path := filepath.Join(cfg.DbDir, id.String()+"_utxo.db")
		if backend, err = utxo.OpenBoltBackend(path); err != nil {
			log.Fatalf("Failed to open %s UTXO store: %v", id, err)
		}
	}
	store := utxo.NewStore(backend, id == types.ChainAevum)
	app.Stores = append(app.Stores, store)

	c, err := chain.New(chain.Config{
		Rules:        validator.NewRules(params, crypto.SchnorrVerifier{}, bridgeRules),
		Store:        store,
		Blocks:       blockstore.New(app.DatabaseManager.GetChainDB(id), id),
		Mempool:      mempool.ConfigFromApp(cfg.Mempool),
		Events:       app.EventBus,
		PayoutScript: payout,
	})
	if err != nil {
		log.Fatalf("Failed to open %s chain: %v", id, err)
	}
	return c
}

func (app *Application) Run() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	var wg sync.WaitGroup
	goStart := func(fn func(ctx context.Context)) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			fn(ctx)
		}()
	}

	if config.AppConfig.MetricsEnabled {
		goStart(func(ctx context.Context) {
			if err := metrics.Serve(ctx, config.AppConfig.MetricsAddr); err != nil {
				log.Errorf("Metrics endpoint stopped: %v", err)
			}
		})
	}

	goStart(app.Bond.Start)
	goStart(app.Aevum.Start)
	for _, p := range app.Producers {
		goStart(p.Start)
	}

	if app.Network != nil {
		if err := app.Network.Start(ctx); err != nil {
			log.Errorf("Failed to reach boot nodes: %v", err)
		}
		goStart(app.Coordinator.Start)
	}

	<-stop
	log.Info("Receiving exit signal...")

	cancel()

	wg.Wait()
	app.close()
	log.Info("Server stopped")
}

func (app *Application) close() {
	if app.Network != nil {
		if err := app.Network.Close(); err != nil {
			log.Errorf("Error closing p2p network: %v", err)
		}
	}
	for _, s := range app.Stores {
		if err := s.Close(); err != nil {
			log.Errorf("Error closing UTXO store: %v", err)
		}
	}
	if err := app.DatabaseManager.Close(); err != nil {
		log.Errorf("Error closing databases: %v", err)
	}
}

func main() {
	app := NewApplication()
	app.Run()
}
