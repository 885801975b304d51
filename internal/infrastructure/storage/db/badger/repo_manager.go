package dbbadger

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/dgraph-io/badger/v3"
	"github.com/dgraph-io/badger/v3/options"
	log "github.com/sirupsen/logrus"
	"github.com/tdex-network/tdex-p2p/internal/core/domain"
	"github.com/tdex-network/tdex-p2p/internal/core/ports"
	"github.com/timshannon/badgerhold/v4"
)

const (
	tradesDir  = "trades"
	mailboxDir = "mailbox"

	valueLogGCInterval = 30 * time.Minute
)

type repoManager struct {
	tradeStore   *badgerhold.Store
	mailboxStore *badgerhold.Store

	tradeRepository   domain.TradeRepository
	mailboxRepository ports.MailboxRepository

	quit chan struct{}
}

// NewRepoManager opens (or creates if not exists) the badger stores of trades
// and mailbox under baseDbDir. An empty baseDbDir makes the stores in-memory.
func NewRepoManager(baseDbDir string, logger badger.Logger) (ports.RepoManager, error) {
	var tradesDbDir, mailboxDbDir string
	if len(baseDbDir) > 0 {
		tradesDbDir = filepath.Join(baseDbDir, tradesDir)
		mailboxDbDir = filepath.Join(baseDbDir, mailboxDir)
	}

	quit := make(chan struct{})
	tradeStore, err := createDb(tradesDbDir, logger, quit)
	if err != nil {
		return nil, fmt.Errorf("opening trades db: %w", err)
	}
	mailboxStore, err := createDb(mailboxDbDir, logger, quit)
	if err != nil {
		tradeStore.Close()
		return nil, fmt.Errorf("opening mailbox db: %w", err)
	}

	return &repoManager{
		tradeStore:        tradeStore,
		mailboxStore:      mailboxStore,
		tradeRepository:   NewTradeRepositoryImpl(tradeStore),
		mailboxRepository: NewMailboxRepositoryImpl(mailboxStore),
		quit:              quit,
	}, nil
}

func (r *repoManager) TradeRepository() domain.TradeRepository {
	return r.tradeRepository
}

func (r *repoManager) MailboxRepository() ports.MailboxRepository {
	return r.mailboxRepository
}

func (r *repoManager) Close() {
	close(r.quit)
	r.tradeStore.Close()
	r.mailboxStore.Close()
}

func createDb(
	dbDir string, logger badger.Logger, quit chan struct{},
) (*badgerhold.Store, error) {
	isInMemory := len(dbDir) <= 0

	opts := badger.DefaultOptions(dbDir)
	opts.Logger = logger

	if isInMemory {
		opts.InMemory = true
	} else {
		opts.Compression = options.ZSTD
	}

	db, err := badgerhold.Open(badgerhold.Options{
		Encoder:          badgerhold.DefaultEncode,
		Decoder:          badgerhold.DefaultDecode,
		SequenceBandwith: 100,
		Options:          opts,
	})
	if err != nil {
		return nil, err
	}

	if !isInMemory {
		ticker := time.NewTicker(valueLogGCInterval)

		go func() {
			defer ticker.Stop()
			for {
				select {
				case <-quit:
					return
				case <-ticker.C:
					if err := db.Badger().RunValueLogGC(0.5); err != nil &&
						err != badger.ErrNoRewrite {
						log.Error(err)
					}
				}
			}
		}()
	}

	return db, nil
}
