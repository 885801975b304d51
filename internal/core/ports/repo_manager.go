package ports

import (
	"context"
	"errors"
	"time"

	"github.com/tdex-network/tdex-p2p/internal/core/domain"
)

// ErrMailboxEntryNotFound ...
var ErrMailboxEntryNotFound = errors.New("mailbox entry not found")

// RepoManager gives access to the repositories of the daemon.
type RepoManager interface {
	TradeRepository() domain.TradeRepository
	MailboxRepository() MailboxRepository
	Close()
}

// MailboxEntry is an encoded message waiting to be delivered to an offline
// peer.
type MailboxEntry struct {
	Id        string
	Peer      string
	TradeId   string
	Payload   []byte
	CreatedAt int64
	Attempts  int
}

// MailboxRepository stores the messages addressed to offline peers.
type MailboxRepository interface {
	AddEntry(ctx context.Context, entry MailboxEntry) error
	// ListEntries returns the entries addressed to the given peer, or all of
	// them if peer is empty, oldest first.
	ListEntries(ctx context.Context, peer string) ([]MailboxEntry, error)
	UpdateEntry(ctx context.Context, entry MailboxEntry) error
	DeleteEntry(ctx context.Context, id string) error
}

// NewMailboxEntry ...
func NewMailboxEntry(id, peer, tradeId string, payload []byte) MailboxEntry {
	return MailboxEntry{
		Id:        id,
		Peer:      peer,
		TradeId:   tradeId,
		Payload:   payload,
		CreatedAt: time.Now().Unix(),
	}
}
