package inmemory

import (
	"github.com/tdex-network/tdex-p2p/internal/core/domain"
	"github.com/tdex-network/tdex-p2p/internal/core/ports"
)

type repoManager struct {
	tradeRepository   domain.TradeRepository
	mailboxRepository ports.MailboxRepository
}

func NewRepoManager() ports.RepoManager {
	return &repoManager{
		tradeRepository:   NewTradeRepositoryImpl(),
		mailboxRepository: NewMailboxRepositoryImpl(),
	}
}

func (r *repoManager) TradeRepository() domain.TradeRepository {
	return r.tradeRepository
}

func (r *repoManager) MailboxRepository() ports.MailboxRepository {
	return r.mailboxRepository
}

func (r *repoManager) Close() {}
