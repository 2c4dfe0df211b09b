package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/peerdex-network/peerdex-daemon/internal/config"
	"github.com/peerdex-network/peerdex-daemon/internal/core/application"
	"github.com/peerdex-network/peerdex-daemon/internal/core/ports"
	"github.com/peerdex-network/peerdex-daemon/internal/core/store"
	dbbadger "github.com/peerdex-network/peerdex-daemon/internal/infrastructure/storage/db/badger"
	"github.com/peerdex-network/peerdex-daemon/internal/infrastructure/transport/ws"
	"github.com/peerdex-network/peerdex-daemon/internal/infrastructure/wallet"
	httpinterface "github.com/peerdex-network/peerdex-daemon/internal/interfaces/http"
	"github.com/peerdex-network/peerdex-daemon/pkg/circuitbreaker"
	"github.com/peerdex-network/peerdex-daemon/pkg/crypto"
	"github.com/peerdex-network/peerdex-daemon/pkg/scheduler"
	"github.com/peerdex-network/peerdex-daemon/pkg/stats"
)

// Set at build time through ldflags.
var (
	version = "dev"
	commit  = "none"
)

const nodeKeyFileName = "node.key"

func main() {
	if err := config.InitConfig(); err != nil {
		log.WithError(err).Fatal("invalid config")
	}
	log.SetLevel(log.Level(config.GetInt(config.LogLevelKey)))

	datadir := config.GetDatadir()
	nodeKey, err := loadOrCreateNodeKey(datadir)
	if err != nil {
		log.WithError(err).Fatal("error while loading node key")
	}

	dbManager, err := dbbadger.NewDbManager(
		filepath.Join(datadir, config.DbLocation), nil,
	)
	if err != nil {
		log.WithError(err).Fatal("error while opening db")
	}
	defer dbManager.Close()

	sched := scheduler.New()
	defer sched.Stop()

	publicAddr := ports.NodeAddress(config.GetString(config.P2PPublicAddrKey))
	peers := make([]ports.NodeAddress, 0)
	for _, p := range config.GetStringSlice(config.P2PPeersKey) {
		peers = append(peers, ports.NodeAddress(p))
	}
	transport := ws.NewTransport(ws.Opts{
		ListenAddr:    config.GetString(config.P2PListenAddrKey),
		PublicAddress: publicAddr,
		Peers:         peers,
	})

	entryStore := store.NewStore(store.Opts{
		Transport:           transport,
		Scheduler:           sched,
		Sequences:           dbbadger.NewSequenceRepositoryImpl(dbManager),
		SweepInterval:       config.GetDuration(config.StoreSweepIntervalKey),
		BroadcastsPerSecond: config.GetInt(config.BroadcastsPerSecondKey),
	})

	offerBook := application.NewOfferBookService(application.OfferBookOpts{
		Store:      entryStore,
		Scheduler:  sched,
		Repository: dbbadger.NewOfferRepositoryImpl(dbManager),
		OwnKey:     nodeKey,
		Address:    publicAddr,
		OfferTTL:   config.GetDuration(config.OfferTTLKey),
	})

	walletSvc := wallet.NewSimulated(uint64(config.GetInt(config.WalletBalanceKey)))

	tradeManager := application.NewTradeManager(application.TradeManagerOpts{
		Transport: transport,
		Scheduler: sched,
		Wallet:    walletSvc,
		OfferBook: offerBook,
		Trades:    dbbadger.NewTradeRepositoryImpl(dbManager),
		OwnKey:    nodeKey,
	})

	hashMonitor := application.NewNetworkHashMonitor(application.HashMonitorOpts{
		Transport: transport,
		Scheduler: sched,
		Store:     entryStore,
		OwnKey:    nodeKey,
		Interval:  config.GetDuration(config.HashMonitorIntervalKey),
		Breaker:   circuitbreaker.NewCircuitBreaker("hash-monitor"),
	})

	var auth *httpinterface.Authenticator
	if !config.GetBool(config.NoAuthKey) {
		auth, err = httpinterface.NewAuthenticator(
			filepath.Join(datadir, config.TokenLocation),
		)
		if err != nil {
			log.WithError(err).Fatal("error while loading admin token")
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	adminSvc := httpinterface.NewService(httpinterface.ServiceOpts{
		Addr:    config.GetString(config.AdminListenAddrKey),
		Wallet:  walletSvc,
		Auth:    auth,
		Version: version,
		Commit:  commit,
		OnStop:  cancel,
	})

	statsInterval := time.Duration(config.GetInt(config.StatsIntervalKey)) * time.Second
	stats.EnableMemoryStatistics(ctx, statsInterval, datadir)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := transport.Start(); err != nil {
			return err
		}
		entryStore.Start()
		offerBook.Start()
		tradeManager.Start()
		hashMonitor.Start()
		adminSvc.Start()
		log.Infof("peerdex daemon %s up, peer address %s", version, publicAddr)

		<-gctx.Done()

		adminSvc.Stop()
		hashMonitor.Stop()
		tradeManager.Stop()
		offerBook.Stop()
		entryStore.Stop()
		transport.Stop()
		return nil
	})
	g.Go(func() error {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGTERM, syscall.SIGINT)
		select {
		case sig := <-sigChan:
			log.Infof("received signal %s, shutting down", sig)
			cancel()
		case <-gctx.Done():
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		log.WithError(err).Fatal("daemon terminated")
	}
	log.Info("exiting")
}

// loadOrCreateNodeKey reads the node identity key from datadir, generating
// and persisting a fresh one on first run.
func loadOrCreateNodeKey(datadir string) (*btcec.PrivateKey, error) {
	path := filepath.Join(datadir, nodeKeyFileName)
	buf, err := os.ReadFile(path)
	if err == nil {
		raw, err := hex.DecodeString(string(buf))
		if err != nil {
			return nil, fmt.Errorf("malformed node key file: %w", err)
		}
		priv, _ := btcec.PrivKeyFromBytes(raw)
		return priv, nil
	}
	if !os.IsNotExist(err) {
		return nil, err
	}

	priv, err := crypto.GenerateKeyPair()
	if err != nil {
		return nil, err
	}
	encoded := hex.EncodeToString(priv.Serialize())
	if err := os.WriteFile(path, []byte(encoded), 0600); err != nil {
		return nil, err
	}
	return priv, nil
}
