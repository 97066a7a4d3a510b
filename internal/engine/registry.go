package engine

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	"armory/internal/armor"
	"armory/internal/domain"
)

// registry caches live suits. Each entry serializes the operations on one
// suit so a change and the write that stores it cannot interleave with
// another change to the same suit in this process. Writes from other
// processes are picked up through the stored revision.
type registry struct {
	mu      sync.Mutex
	entries map[string]*entry
}

type entry struct {
	mu sync.Mutex
	// refs counts the callers holding or waiting on mu; guarded by registry.mu.
	refs int
	// suit is nil until loaded, and again after a failed write or a delete.
	suit *armor.Suit
	// revision is the stored revision suit was built from.
	revision string
}

func newRegistry() *registry {
	return &registry{entries: make(map[string]*entry)}
}

// acquire returns the locked entry for id, creating it if needed.
func (r *registry) acquire(id string) *entry {
	r.mu.Lock()
	ent, ok := r.entries[id]
	if !ok {
		ent = &entry{}
		r.entries[id] = ent
	}
	ent.refs++
	r.mu.Unlock()

	ent.mu.Lock()
	return ent
}

// release unlocks ent. The entry is forgotten once nobody holds it and it
// has no live suit, so unknown and deleted IDs do not accumulate.
func (r *registry) release(id string, ent *entry) {
	r.mu.Lock()
	ent.refs--
	if ent.refs == 0 && ent.suit == nil {
		delete(r.entries, id)
	}
	r.mu.Unlock()
	ent.mu.Unlock()
}

func (r *registry) size() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// load rebuilds the live suit when nothing is cached or the stored revision
// has moved on.
func (e Engine) load(ctx context.Context, tx *sql.Tx, ent *entry, rec domain.Suit) error {
	if ent.suit != nil && ent.revision == rec.Revision {
		return nil
	}
	if ent.suit != nil {
		e.logger().Printf("engine: suit %s changed in storage, reloading", rec.ID)
	}
	ent.suit = nil
	records, err := e.Repo.ListArmorTx(ctx, tx, rec.ID)
	if err != nil {
		return err
	}
	s, err := buildSuit(rec.Version, records)
	if err != nil {
		return err
	}
	ent.suit, ent.revision = s, rec.Revision
	return nil
}

// mutate runs fn against the live suit inside a transaction. If fn or the
// commit fails the cached suit is dropped and reloaded on next use.
func (e Engine) mutate(ctx context.Context, id string, fn func(*sql.Tx, domain.Suit, *armor.Suit) error) error {
	ent := e.suits.acquire(id)
	defer e.suits.release(id, ent)

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	rec, err := e.Repo.GetSuitTx(ctx, tx, id)
	if err != nil {
		ent.suit = nil
		return err
	}
	if err := e.load(ctx, tx, ent, rec); err != nil {
		return err
	}
	if err := fn(tx, rec, ent.suit); err != nil {
		e.drop(ent, id, err)
		return err
	}
	revision, err := e.Repo.SuitRevisionTx(ctx, tx, id)
	if err != nil {
		e.drop(ent, id, err)
		return err
	}
	if err := tx.Commit(); err != nil {
		e.drop(ent, id, err)
		return err
	}
	ent.revision = revision
	return nil
}

// read runs fn against the live suit, loading it if needed.
func (e Engine) read(ctx context.Context, id string, fn func(domain.Suit, *armor.Suit)) error {
	ent := e.suits.acquire(id)
	defer e.suits.release(id, ent)

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	rec, err := e.Repo.GetSuitTx(ctx, tx, id)
	if err != nil {
		ent.suit = nil
		return err
	}
	if err := e.load(ctx, tx, ent, rec); err != nil {
		return err
	}
	fn(rec, ent.suit)
	return nil
}

func (e Engine) drop(ent *entry, id string, cause error) {
	if ent.suit != nil {
		e.logger().Printf("engine: dropping cached suit %s: %v", id, cause)
	}
	ent.suit = nil
	ent.revision = ""
}

// buildSuit replays stored records, oldest first, onto a fresh list.
func buildSuit(version int, records []domain.ArmorRecord) (*armor.Suit, error) {
	s := armor.NewSuit(version)
	for i, rec := range records {
		a, err := rec.Armor()
		if err != nil {
			return nil, fmt.Errorf("stored armor %d: %w", i, err)
		}
		s.Armor.Push(a)
	}
	return s, nil
}

// suitView describes the live suit. The list is walked with a cloned cursor,
// so the suit itself is not consumed.
func suitView(rec domain.Suit, s *armor.Suit) domain.Suit {
	cursor := s.Armor.Clone()
	records := make([]domain.ArmorRecord, 0, cursor.Size())
	for {
		a, ok := cursor.Pop()
		if !ok {
			break
		}
		records = append(records, domain.RecordFromArmor(a))
	}
	rec.Version = s.Version
	rec.Size = len(records)
	rec.Armor = records
	return rec
}

func headFirst(oldest []domain.ArmorRecord) []domain.ArmorRecord {
	out := make([]domain.ArmorRecord, len(oldest))
	for i, rec := range oldest {
		out[len(oldest)-1-i] = rec
	}
	return out
}

func oldestFirst(head []domain.ArmorRecord) []domain.ArmorRecord {
	return headFirst(head)
}
