package main

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/tdex-network/tdex-p2p/internal/config"
	"github.com/tdex-network/tdex-p2p/internal/core/application/protocol"
	"github.com/tdex-network/tdex-p2p/internal/core/ports"
	natsmessenger "github.com/tdex-network/tdex-p2p/internal/infrastructure/messenger/nats"
	webhookpubsub "github.com/tdex-network/tdex-p2p/internal/infrastructure/pubsub/webhook"
	simwallet "github.com/tdex-network/tdex-p2p/internal/infrastructure/sim-wallet"
	dbbadger "github.com/tdex-network/tdex-p2p/internal/infrastructure/storage/db/badger"
	"github.com/tdex-network/tdex-p2p/pkg/stats"
)

const shutdownTimeout = 30 * time.Second

func main() {
	if err := config.InitConfig(); err != nil {
		log.WithError(err).Fatal("failed to load config")
	}
	log.SetLevel(config.GetLogLevel())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if config.GetBool(config.EnableProfilerKey) {
		stats.EnableStatistics(
			ctx, config.GetDuration(config.StatsIntervalKey),
			filepath.Join(config.GetDatadir(), config.ProfilerLocation),
		)
	}

	repoManager, err := dbbadger.NewRepoManager(
		config.GetDbDir(), dbbadger.NewLogger("db"),
	)
	if err != nil {
		log.WithError(err).Fatal("failed to open db")
	}
	defer repoManager.Close()

	messenger, err := natsmessenger.NewMessenger(natsmessenger.Config{
		URL:           config.GetString(config.NatsURLKey),
		Address:       config.GetString(config.NodeAddressKey),
		RetryInterval: config.GetDuration(config.MailboxRetryIntervalKey),
		RetryRate:     config.GetInt(config.MailboxRetryRateKey),
	}, repoManager.MailboxRepository())
	if err != nil {
		log.WithError(err).Fatal("failed to connect to nats")
	}
	defer messenger.Close()

	var publisher ports.EventPublisher
	if endpoints := config.GetWebhookEndpoints(); len(endpoints) > 0 {
		publisher, err = webhookpubsub.NewWebhookPublisherFromConfig(
			endpoints, config.GetString(config.WebhookSecretKey), 0,
		)
		if err != nil {
			log.WithError(err).Fatal("failed to setup webhooks")
		}
		defer publisher.Close()
	}

	// Only the simulated wallet is available, funds never leave the process.
	// The sim chain starts empty and unfunded at every run.
	wallet := simwallet.NewWallet(simwallet.NewChain(config.GetNetwork()))
	if openTrades, err := repoManager.TradeRepository().GetOpenTrades(ctx); err == nil &&
		len(openTrades) > 0 {
		log.Warnf(
			"resuming %d open trades over an empty simulated chain, "+
				"their txs can't be found or broadcast again", len(openTrades),
		)
	}

	svc, err := protocol.NewService(wallet, messenger, repoManager, publisher, protocol.Config{
		MinerFee:         config.GetMinerFee(),
		BroadcastTimeout: config.GetDuration(config.BroadcastTimeoutKey),
		ProtocolTimeout:  config.GetDuration(config.ProtocolTimeoutKey),
		PersistInterval:  config.GetDuration(config.PersistIntervalKey),
		PaymentAccountId: config.GetString(config.PaymentAccountIdKey),
	})
	if err != nil {
		log.WithError(err).Fatal("failed to create protocol service")
	}

	if err := svc.Start(ctx); err != nil {
		log.WithError(err).Fatal("failed to start protocol service")
	}
	log.Infof("node %s is listening on %s",
		messenger.Address(), config.GetString(config.NatsURLKey))

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGTERM, syscall.SIGINT)
	<-sigChan

	log.Info("shutting down")
	stopCtx, stopCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer stopCancel()
	if err := svc.Stop(stopCtx); err != nil {
		log.WithError(err).Warn("failed to stop protocol service")
	}
	log.Info("exiting")
}
