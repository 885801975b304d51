package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/viper"
	"github.com/tdex-network/tdex-p2p/pkg/mathutil"
)

const (
	// DatadirKey is the local data directory to store the internal state of daemon
	DatadirKey = "DATADIR"
	// LogLevelKey are the different logging levels. For reference on the values https://godoc.org/github.com/sirupsen/logrus#Level
	LogLevelKey = "LOG_LEVEL"
	// NetworkKey is the bitcoin network, one of mainnet, testnet, signet, regtest
	NetworkKey = "NETWORK"
	// NatsURLKey is the url of the NATS server used to exchange trade messages
	NatsURLKey = "NATS_URL"
	// NodeAddressKey is the address other peers use to reach this node
	NodeAddressKey = "NODE_ADDRESS"
	// MinerFeeKey is the fee in BTC paid by both the deposit and the payout tx
	MinerFeeKey = "MINER_FEE"
	// BroadcastTimeoutKey is the max wait for a broadcast to be accepted before
	// a trade advances optimistically
	BroadcastTimeoutKey = "BROADCAST_TIMEOUT"
	// ProtocolTimeoutKey is the max wait for a peer reply before the deposit
	// is published. Zero disables it.
	ProtocolTimeoutKey = "PROTOCOL_TIMEOUT"
	// PersistIntervalKey is the period of the coalesced trade writes
	PersistIntervalKey = "PERSIST_INTERVAL"
	// PaymentAccountIdKey identifies the local payment account shared with peers
	PaymentAccountIdKey = "PAYMENT_ACCOUNT_ID"
	// MailboxRetryIntervalKey is how often messages to offline peers are
	// redelivered
	MailboxRetryIntervalKey = "MAILBOX_RETRY_INTERVAL"
	// MailboxRetryRateKey is the max number of mailbox messages redelivered
	// per second
	MailboxRetryRateKey = "MAILBOX_RETRY_RATE"
	// WebhookEndpointsKey is the comma separated list of [TOPIC=]URL webhooks
	// invoked on trade events
	WebhookEndpointsKey = "WEBHOOK_ENDPOINTS"
	// WebhookSecretKey is the secret used to sign webhook requests
	WebhookSecretKey = "WEBHOOK_SECRET"
	// EnableProfilerKey enables periodic memory stats and metrics dumps
	EnableProfilerKey = "ENABLE_PROFILER"
	// StatsIntervalKey defines interval for printing basic statistics
	StatsIntervalKey = "STATS_INTERVAL"

	DbLocation       = "db"
	ProfilerLocation = "stats"

	MainNet = "mainnet"
	TestNet = "testnet"
	SigNet  = "signet"
	RegTest = "regtest"
)

var (
	vip            *viper.Viper
	defaultDatadir = btcutil.AppDataDir("tdex-p2p", false)

	networks = map[string]*chaincfg.Params{
		MainNet: &chaincfg.MainNetParams,
		TestNet: &chaincfg.TestNet3Params,
		SigNet:  &chaincfg.SigNetParams,
		RegTest: &chaincfg.RegressionNetParams,
	}
)

func InitConfig() error {
	vip = viper.New()
	vip.SetEnvPrefix("TDEXP2P")
	vip.AutomaticEnv()

	vip.SetDefault(DatadirKey, defaultDatadir)
	vip.SetDefault(LogLevelKey, int(log.InfoLevel))
	vip.SetDefault(NetworkKey, RegTest)
	vip.SetDefault(MinerFeeKey, "0.00005")
	vip.SetDefault(BroadcastTimeoutKey, 10*time.Second)
	vip.SetDefault(ProtocolTimeoutKey, 120*time.Second)
	vip.SetDefault(PersistIntervalKey, time.Second)
	vip.SetDefault(MailboxRetryIntervalKey, 30*time.Second)
	vip.SetDefault(MailboxRetryRateKey, 10)
	vip.SetDefault(EnableProfilerKey, false)
	vip.SetDefault(StatsIntervalKey, 600*time.Second)

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

func GetDuration(key string) time.Duration {
	return vip.GetDuration(key)
}

func GetBool(key string) bool {
	return vip.GetBool(key)
}

func GetDatadir() string {
	return GetString(DatadirKey)
}

func GetDbDir() string {
	return filepath.Join(GetDatadir(), DbLocation)
}

func GetLogLevel() log.Level {
	return log.Level(GetInt(LogLevelKey))
}

func GetNetwork() *chaincfg.Params {
	return networks[strings.ToLower(GetString(NetworkKey))]
}

// GetMinerFee returns the configured miner fee in satoshis.
func GetMinerFee() uint64 {
	fee, _ := mathutil.BtcStringToSats(GetString(MinerFeeKey))
	return fee
}

// GetWebhookEndpoints returns the list of configured webhooks, accepting both
// a comma separated env var and a list.
func GetWebhookEndpoints() []string {
	endpoints := make([]string, 0)
	for _, v := range vip.GetStringSlice(WebhookEndpointsKey) {
		for _, endpoint := range strings.Split(v, ",") {
			if endpoint = strings.TrimSpace(endpoint); len(endpoint) > 0 {
				endpoints = append(endpoints, endpoint)
			}
		}
	}
	return endpoints
}

func validate() error {
	datadir := GetString(DatadirKey)
	if len(datadir) <= 0 {
		return fmt.Errorf("missing datadir")
	}

	level := GetInt(LogLevelKey)
	if level < int(log.PanicLevel) || level > int(log.TraceLevel) {
		return fmt.Errorf("%s must be in range [%d, %d]",
			LogLevelKey, log.PanicLevel, log.TraceLevel)
	}

	if GetNetwork() == nil {
		return fmt.Errorf("unknown network %s", GetString(NetworkKey))
	}

	if !vip.IsSet(NatsURLKey) {
		return fmt.Errorf("missing nats url")
	}
	if !vip.IsSet(NodeAddressKey) {
		return fmt.Errorf("missing node address")
	}

	fee, err := mathutil.BtcStringToSats(GetString(MinerFeeKey))
	if err != nil {
		return fmt.Errorf("invalid %s: %s", MinerFeeKey, err)
	}
	if fee == 0 {
		return fmt.Errorf("%s must be greater than zero", MinerFeeKey)
	}

	for _, key := range []string{
		BroadcastTimeoutKey, ProtocolTimeoutKey, PersistIntervalKey,
		MailboxRetryIntervalKey, StatsIntervalKey,
	} {
		if GetDuration(key) < 0 {
			return fmt.Errorf("%s must not be negative", key)
		}
	}
	if GetInt(MailboxRetryRateKey) <= 0 {
		return fmt.Errorf("%s must be greater than zero", MailboxRetryRateKey)
	}

	if len(GetWebhookEndpoints()) > 0 && len(GetString(WebhookSecretKey)) <= 0 {
		log.Warn("webhooks are configured without secret, requests won't be signed")
	}

	return nil
}

func initDatadir() error {
	datadir := GetDatadir()
	if err := makeDirectoryIfNotExists(filepath.Join(datadir, DbLocation)); err != nil {
		return err
	}

	if GetBool(EnableProfilerKey) {
		if err := makeDirectoryIfNotExists(filepath.Join(datadir, ProfilerLocation)); err != nil {
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
