// Command channeld hosts one participant's view of the event-sourced
// channel core: it wires durable storage, the engine, the chain bridge
// poller and the HTTP control surface together and runs until asked to
// stop. Grounded on teacher main.go's flag-parse / config.Load /
// component-wiring / signal.Notify shutdown shape, trimmed to the
// components this module actually has.
package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	dbm "github.com/cometbft/cometbft-db"
	"github.com/ethereum/go-ethereum/common"

	"github.com/evchannel/core/pkg/chainbridge"
	"github.com/evchannel/core/pkg/config"
	"github.com/evchannel/core/pkg/engine"
	"github.com/evchannel/core/pkg/eventstore"
	"github.com/evchannel/core/pkg/eventstore/sqlstore"
	"github.com/evchannel/core/pkg/kvdb"
	"github.com/evchannel/core/pkg/server"
	"github.com/evchannel/core/pkg/signer"
	"github.com/evchannel/core/pkg/snapshot"
)

func main() {
	log.SetOutput(os.Stdout)
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	showHelp := flag.Bool("help", false, "Show help message")
	flag.Parse()
	if *showHelp {
		flag.Usage()
		return
	}

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}

	localSigner, err := signer.LoadOrGenerate(cfg.SignerKeyPath)
	if err != nil {
		log.Fatalf("load signer: %v", err)
	}
	log.Printf("local signing identity: %s", localSigner.Address())

	store, closeStore := openEventStore(cfg)
	defer closeStore()

	snapDB, err := openSnapshotDB(cfg)
	if err != nil {
		log.Fatalf("open snapshot store: %v", err)
	}
	snapshots := snapshot.NewManager(snapDB)

	metrics := server.NewMetrics()
	eng := engine.New(store, snapshots, localSigner, metrics, log.New(log.Writer(), "[Engine] ", log.LstdFlags))

	registered, err := eng.Bootstrap()
	if err != nil {
		log.Fatalf("bootstrap engine from event log: %v", err)
	}
	log.Printf("recovered %d active objective(s) from the event log", registered)

	handlers := server.NewHandlers(eng, metrics, log.New(log.Writer(), "[ChannelAPI] ", log.LstdFlags))
	httpServer := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: server.NewMux(handlers),
	}

	ctx, cancel := context.WithCancel(context.Background())

	var poller *chainbridge.Poller
	if cfg.EthereumURL != "" {
		poller, err = newChainBridgePoller(cfg, snapDB, eng)
		if err != nil {
			log.Fatalf("start chain bridge: %v", err)
		}
		go poller.Run(ctx, cfg.ChainPollInterval, func() int64 { return time.Now().UnixMilli() })
		log.Printf("chain bridge polling %s every %s", cfg.EthereumURL, cfg.ChainPollInterval)
	} else {
		log.Printf("ETHEREUM_URL not set: running without a chain bridge")
	}

	go func() {
		log.Printf("control surface listening on %s", cfg.ListenAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("http server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Printf("shutting down")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("http server shutdown error: %v", err)
	}
	log.Printf("stopped")
}

// openEventStore returns the durable Store named by configuration: a
// Postgres-backed sqlstore.Store when DATABASE_URL is set, otherwise a
// process-local MemoryStore for single-node/dev use.
func openEventStore(cfg *config.Config) (eventstore.Store, func()) {
	if cfg.DatabaseURL != "" {
		store, err := sqlstore.Open(cfg.DatabaseURL, sqlstore.DefaultPoolConfig())
		if err != nil {
			log.Fatalf("open sql event store: %v", err)
		}
		log.Printf("event store: postgres")
		return store, func() { store.Close() }
	}
	log.Printf("event store: in-memory (set DATABASE_URL for durable storage)")
	return eventstore.NewMemoryStore(0), func() {}
}

// openSnapshotDB opens the on-disk KV backend snapshots are kept in,
// rooted at cfg.DataDir.
func openSnapshotDB(cfg *config.Config) (kvdb.KV, error) {
	if cfg.DataDir == "" {
		return kvdb.NewMemory(), nil
	}
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, err
	}
	db, err := dbm.NewGoLevelDB("snapshots", filepath.Clean(cfg.DataDir))
	if err != nil {
		return nil, err
	}
	return kvdb.NewAdapter(db), nil
}

func newChainBridgePoller(cfg *config.Config, snapDB kvdb.KV, eng *engine.Engine) (*chainbridge.Poller, error) {
	adjudicator := common.HexToAddress(cfg.AdjudicatorAddress)
	client, err := chainbridge.NewEthClient(cfg.EthereumURL, adjudicator)
	if err != nil {
		return nil, err
	}
	return chainbridge.NewPoller(client, snapDB, eng, log.New(log.Writer(), "[ChainBridge] ", log.LstdFlags)), nil
}
