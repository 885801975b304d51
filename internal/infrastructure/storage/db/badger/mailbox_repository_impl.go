package dbbadger

import (
	"context"
	"errors"

	"github.com/tdex-network/tdex-p2p/internal/core/ports"
	"github.com/timshannon/badgerhold/v4"
)

type mailboxRepositoryImpl struct {
	store *badgerhold.Store
}

func NewMailboxRepositoryImpl(store *badgerhold.Store) ports.MailboxRepository {
	return &mailboxRepositoryImpl{store}
}

func (r *mailboxRepositoryImpl) AddEntry(
	_ context.Context, entry ports.MailboxEntry,
) error {
	return r.store.Insert(entry.Id, entry)
}

func (r *mailboxRepositoryImpl) ListEntries(
	_ context.Context, peer string,
) ([]ports.MailboxEntry, error) {
	query := &badgerhold.Query{}
	if len(peer) > 0 {
		query = badgerhold.Where("Peer").Eq(peer)
	}

	var entries []ports.MailboxEntry
	if err := r.store.Find(&entries, query.SortBy("CreatedAt")); err != nil {
		return nil, err
	}
	return entries, nil
}

func (r *mailboxRepositoryImpl) UpdateEntry(
	_ context.Context, entry ports.MailboxEntry,
) error {
	if err := r.store.Update(entry.Id, entry); err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return ports.ErrMailboxEntryNotFound
		}
		return err
	}
	return nil
}

func (r *mailboxRepositoryImpl) DeleteEntry(_ context.Context, id string) error {
	if err := r.store.Delete(id, ports.MailboxEntry{}); err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return nil
		}
		return err
	}
	return nil
}
