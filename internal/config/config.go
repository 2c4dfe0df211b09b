package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/spf13/viper"
)

const (
	// P2PListenAddrKey is the local bind address of the websocket peer transport
	P2PListenAddrKey = "P2P_LISTEN_ADDR"
	// P2PPublicAddrKey is the address advertised to peers; must route back to the listen address
	P2PPublicAddrKey = "P2P_PUBLIC_ADDR"
	// P2PPeersKey is the comma-separated list of bootstrap peers to dial on startup
	P2PPeersKey = "P2P_PEERS"
	// AdminListenAddrKey is the bind address of the admin HTTP interface
	AdminListenAddrKey = "ADMIN_LISTEN_ADDR"
	// DatadirKey is the local data directory to store the internal state of daemon
	DatadirKey = "DATADIR"
	// LogLevelKey are the different logging levels. For reference on the values https://godoc.org/github.com/sirupsen/logrus#Level
	LogLevelKey = "LOG_LEVEL"
	// OfferTTLKey is the duration replicated offers stay alive without a refresh
	OfferTTLKey = "OFFER_TTL"
	// HashMonitorIntervalKey is the interval between network state hash publications
	HashMonitorIntervalKey = "HASH_MONITOR_INTERVAL"
	// StoreSweepIntervalKey is the interval between expired-entry sweeps of the replicated store
	StoreSweepIntervalKey = "STORE_SWEEP_INTERVAL"
	// BroadcastsPerSecondKey caps the gossip broadcast rate; negative disables the limiter
	BroadcastsPerSecondKey = "BROADCASTS_PER_SECOND"
	// StatsIntervalKey defines interval for printing basic runtime statistics
	StatsIntervalKey = "STATS_INTERVAL"
	// NoAuthKey is used to start the daemon without bearer auth on the admin interface
	NoAuthKey = "NO_AUTH"
	// WalletBalanceKey is the starting balance of the simulated funding service, in satoshis
	WalletBalanceKey = "WALLET_BALANCE"

	DbLocation    = "db"
	TokenLocation = "auth"
)

var vip *viper.Viper
var defaultDatadir = btcutil.AppDataDir("peerdex-daemon", false)

func InitConfig() error {
	vip = viper.New()
	vip.SetEnvPrefix("PEERDEX")
	vip.AutomaticEnv()

	vip.SetDefault(P2PListenAddrKey, ":9735")
	vip.SetDefault(AdminListenAddrKey, "localhost:9000")
	vip.SetDefault(LogLevelKey, 4)
	vip.SetDefault(DatadirKey, defaultDatadir)
	vip.SetDefault(OfferTTLKey, 30*time.Minute)
	vip.SetDefault(HashMonitorIntervalKey, 5*time.Minute)
	vip.SetDefault(StoreSweepIntervalKey, time.Minute)
	vip.SetDefault(BroadcastsPerSecondKey, 50)
	vip.SetDefault(StatsIntervalKey, 600)
	vip.SetDefault(NoAuthKey, false)
	vip.SetDefault(WalletBalanceKey, 100_000_000)

	if err := validate(); err != nil {
		return fmt.Errorf("error while validating config: %s", err)
	}

	if err := initDatadir(); err != nil {
		return fmt.Errorf("error while creating datadir: %s", err)
	}

	return nil
}

func GetString(key string) string {
	return vip.GetString(key)
}

func GetInt(key string) int {
	return vip.GetInt(key)
}

func GetStringSlice(key string) []string {
	return vip.GetStringSlice(key)
}

func GetDuration(key string) time.Duration {
	return vip.GetDuration(key)
}

func GetBool(key string) bool {
	return vip.GetBool(key)
}

func GetDatadir() string {
	return GetString(DatadirKey)
}

func validate() error {
	datadir := GetString(DatadirKey)
	if len(datadir) <= 0 {
		return fmt.Errorf("missing datadir")
	}

	if !vip.IsSet(P2PPublicAddrKey) {
		return fmt.Errorf("missing public peer address")
	}

	if GetDuration(OfferTTLKey) <= 0 {
		return fmt.Errorf("%s must be a positive duration", OfferTTLKey)
	}
	if GetDuration(HashMonitorIntervalKey) <= 0 {
		return fmt.Errorf("%s must be a positive duration", HashMonitorIntervalKey)
	}

	return nil
}

func initDatadir() error {
	datadir := GetDatadir()
	if err := makeDirectoryIfNotExists(filepath.Join(datadir, DbLocation)); err != nil {
		return err
	}

	noAuth := GetBool(NoAuthKey)
	if !noAuth {
		if err := makeDirectoryIfNotExists(filepath.Join(datadir, TokenLocation)); err != nil {
			return err
		}
	}
	return nil
}

func makeDirectoryIfNotExists(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return os.MkdirAll(path, os.ModeDir|0755)
	}
	return nil
}
