package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/ethereum/go-ethereum/ethclient"
	"go.uber.org/zap"

	"github.com/uhyunpark/hyperswap/params"
	"github.com/uhyunpark/hyperswap/pkg/api"
	"github.com/uhyunpark/hyperswap/pkg/app/core/custody"
	"github.com/uhyunpark/hyperswap/pkg/app/exchange"
	"github.com/uhyunpark/hyperswap/pkg/crypto"
	"github.com/uhyunpark/hyperswap/pkg/feed"
	"github.com/uhyunpark/hyperswap/pkg/metrics"
	"github.com/uhyunpark/hyperswap/pkg/sequencer"
	"github.com/uhyunpark/hyperswap/pkg/storage"
	"github.com/uhyunpark/hyperswap/pkg/util"
)

func main() {
	// Load config from .env file and environment variables
	cfg := params.LoadFromEnv("")

	logger, err := util.NewLoggerWithFile(cfg.Node.LogFile, cfg.Node.Verbose)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()
	sugar := logger.Sugar()
	sugar.Infow("logger_initialized", "log_file", cfg.Node.LogFile, "verbose", cfg.Node.Verbose)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ---- Storage ----
	store, err := storage.NewPebbleStore(filepath.Join(cfg.Node.DataDir, "db"))
	if err != nil {
		sugar.Fatalw("storage_open_failed", "dir", cfg.Node.DataDir, "err", err)
	}
	defer store.Close()

	var wal sequencer.WAL = storage.NewNopWAL()
	if cfg.Node.WALFile != "" {
		last, err := storage.LastCommit(cfg.Node.WALFile)
		if err != nil {
			sugar.Fatalw("wal_read_failed", "file", cfg.Node.WALFile, "err", err)
		}
		fw, err := storage.NewFileWAL(cfg.Node.WALFile, cfg.Node.WALSync)
		if err != nil {
			sugar.Fatalw("wal_open_failed", "file", cfg.Node.WALFile, "err", err)
		}
		defer fw.Close()
		wal = fw
		sugar.Infow("wal_opened", "file", cfg.Node.WALFile, "last_commit", last)
	}

	// ---- Feeds ----
	fanout := feed.NewFanout(sugar)
	if len(cfg.Feed.KafkaBrokers) > 0 {
		k := feed.NewKafka(cfg.Feed.KafkaBrokers, cfg.Feed.KafkaTopic)
		defer k.Close()
		fanout.Add(k)
		sugar.Infow("kafka_feed_enabled", "brokers", cfg.Feed.KafkaBrokers, "topic", cfg.Feed.KafkaTopic)
	}
	if cfg.Feed.P2PListen != "" {
		g, err := feed.NewGossip(ctx, feed.GossipConfig{
			ListenAddr: cfg.Feed.P2PListen,
			Bootstrap:  cfg.Feed.P2PBootstrap,
			Topic:      cfg.Feed.P2PTopic,
			Logger:     sugar,
		})
		if err != nil {
			sugar.Fatalw("gossip_init_failed", "err", err)
		}
		defer g.Close()
		fanout.Add(g)
	}

	// ---- App ----
	m := metrics.New(nil)
	appCfg := exchange.Config{
		ChainID:   cfg.Chain.ChainID,
		Custodian: cfg.Chain.CustodyAddress,
		Persister: store,
		Publisher: fanout,
		Metrics:   m,
		Logger:    sugar,
	}
	if cfg.Chain.CustodyMode == params.CustodyChain {
		chain, err := dialChain(ctx, cfg.Chain, sugar)
		if err != nil {
			sugar.Fatalw("custody_init_failed", "rpc", cfg.Chain.RPCURL, "err", err)
		}
		appCfg.Gateway = chain
		appCfg.Custodian = chain.Custodian()
	}
	app := exchange.NewApp(appCfg)

	st, ok, err := store.LoadState()
	if err != nil {
		sugar.Fatalw("state_load_failed", "err", err)
	}
	if ok {
		if err := app.Restore(st); err != nil {
			sugar.Fatalw("state_restore_failed", "err", err)
		}
	} else {
		genesis, err := params.LoadGenesis(cfg.Node.GenesisFile)
		if err != nil {
			sugar.Fatalw("genesis_load_failed", "err", err)
		}
		if err := app.InitGenesis(genesis); err != nil {
			sugar.Fatalw("genesis_init_failed", "err", err)
		}
	}

	// ---- API Server ----
	apiServer := api.NewServer(api.Config{
		App:            app,
		Blocks:         store,
		Metrics:        m.Handler(),
		AllowedOrigins: cfg.API.AllowedOrigins,
		Logger:         sugar,
	})
	fanout.Add(apiServer.Hub())

	// ---- Sequencer ----
	seq, err := sequencer.New(app, store, sequencer.Config{
		MinBlockTime:  cfg.Node.MinBlockTime,
		MaxBlockBytes: cfg.Node.MaxBlockBytes,
		Logger:        sugar,
		WAL:           wal,
		OnBlockCommit: func(b sequencer.Block) { apiServer.BroadcastBook(b.Height) },
	})
	if err != nil {
		sugar.Fatalw("sequencer_init_failed", "err", err)
	}
	// A block saved without its state means the node stopped mid-commit.
	if seq.Height() != app.Height() {
		sugar.Fatalw("height_mismatch", "block_height", seq.Height(), "state_height", app.Height())
	}

	// ---- Transaction Feeder (optional) ----
	if cfg.Node.TxFeeder {
		cancelFeeder, err := startFeeder(ctx, app, sugar)
		if err != nil {
			sugar.Fatalw("feeder_init_failed", "err", err)
		}
		defer cancelFeeder()
	}

	go func() {
		if err := apiServer.Serve(ctx, cfg.API.Addr); err != nil {
			sugar.Errorw("api_server_failed", "err", err)
			stop()
		}
	}()

	sugar.Infow("node_starting",
		"height", app.Height(),
		"app_hash", app.AppHash().String(),
		"custody_mode", cfg.Chain.CustodyMode,
		"custodian", appCfg.Custodian.Hex(),
		"min_block_time_ms", cfg.Node.MinBlockTime.Milliseconds())

	if err := seq.Run(ctx); err != nil && ctx.Err() == nil {
		sugar.Fatalw("sequencer_failed", "err", err)
	}
	sugar.Infow("node_stopped", "height", seq.Height())
}

func dialChain(ctx context.Context, c params.Chain, log *zap.SugaredLogger) (*custody.Chain, error) {
	client, err := ethclient.DialContext(ctx, c.RPCURL)
	if err != nil {
		return nil, err
	}
	return custody.NewChain(client, custody.ChainConfig{
		ChainID:        c.ChainID,
		PrivateKeyHex:  c.PrivateKey,
		ConfirmTimeout: c.ConfirmTimeout,
		Logger:         log,
	})
}

// startFeeder trades between the devnet accounts, continuing their nonces.
func startFeeder(ctx context.Context, app *exchange.App, log *zap.SugaredLogger) (context.CancelFunc, error) {
	var signers []*crypto.Signer
	for _, k := range params.DevnetKeys {
		s, err := crypto.FromPrivateKeyHex(k)
		if err != nil {
			return nil, err
		}
		signers = append(signers, s)
	}
	assets := app.Assets()
	if len(assets) == 0 {
		return func() {}, nil
	}
	f, err := exchange.NewFeeder(signers, app.Domain(), exchange.DefaultFeederConfig(assets[0].Address, assets[0].Decimals))
	if err != nil {
		return nil, err
	}
	for _, s := range signers {
		f.StartAt(s.Address(), app.Nonce(s.Address()))
	}
	return exchange.StartFeeder(ctx, app, f, log), nil
}
