package inmemory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/tdex-network/tdex-p2p/internal/core/ports"
)

type mailboxRepositoryImpl struct {
	lock    *sync.RWMutex
	entries map[string]ports.MailboxEntry
	// insertion order breaks ties of entries created in the same second.
	seq   map[string]int
	count int
}

func NewMailboxRepositoryImpl() ports.MailboxRepository {
	return &mailboxRepositoryImpl{
		lock:    &sync.RWMutex{},
		entries: make(map[string]ports.MailboxEntry),
		seq:     make(map[string]int),
	}
}

func (r *mailboxRepositoryImpl) AddEntry(_ context.Context, entry ports.MailboxEntry) error {
	r.lock.Lock()
	defer r.lock.Unlock()

	if _, ok := r.entries[entry.Id]; ok {
		return fmt.Errorf("mailbox entry %s already exists", entry.Id)
	}
	r.entries[entry.Id] = copyEntry(entry)
	r.seq[entry.Id] = r.count
	r.count++
	return nil
}

func (r *mailboxRepositoryImpl) ListEntries(
	_ context.Context, peer string,
) ([]ports.MailboxEntry, error) {
	r.lock.RLock()
	defer r.lock.RUnlock()

	entries := make([]ports.MailboxEntry, 0)
	for _, entry := range r.entries {
		if len(peer) > 0 && entry.Peer != peer {
			continue
		}
		entries = append(entries, copyEntry(entry))
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].CreatedAt != entries[j].CreatedAt {
			return entries[i].CreatedAt < entries[j].CreatedAt
		}
		return r.seq[entries[i].Id] < r.seq[entries[j].Id]
	})
	return entries, nil
}

func (r *mailboxRepositoryImpl) UpdateEntry(_ context.Context, entry ports.MailboxEntry) error {
	r.lock.Lock()
	defer r.lock.Unlock()

	if _, ok := r.entries[entry.Id]; !ok {
		return ports.ErrMailboxEntryNotFound
	}
	r.entries[entry.Id] = copyEntry(entry)
	return nil
}

func (r *mailboxRepositoryImpl) DeleteEntry(_ context.Context, id string) error {
	r.lock.Lock()
	defer r.lock.Unlock()

	delete(r.entries, id)
	delete(r.seq, id)
	return nil
}

func copyEntry(entry ports.MailboxEntry) ports.MailboxEntry {
	entry.Payload = append([]byte{}, entry.Payload...)
	return entry
}
