package preference

import (
	"context"
	"errors"

	"github.com/azizikri/offer-feed/internal/domain"
)

type write struct {
	identifier string
	op         domain.MutationOp
}

// Mutation is one optimistic change to a single collection. Apply updates
// memory, Commit sends the writes to the backend and Rollback restores every
// touched identifier to the membership it had before Apply.
type Mutation struct {
	s       *Store
	bucket  domain.Category
	writes  []write
	prior   map[string]bool
	epoch   uint64
	applied bool
}

func (m *Mutation) Apply() {
	s := m.s
	s.mu.Lock()
	set := s.bucketLocked(m.bucket)
	m.epoch = s.epoch
	m.prior = make(map[string]bool, len(m.writes))
	for _, w := range m.writes {
		_, had := set[w.identifier]
		m.prior[w.identifier] = had
		if w.op == domain.OpAdd {
			set[w.identifier] = struct{}{}
		} else {
			delete(set, w.identifier)
		}
	}
	m.applied = true
	s.mu.Unlock()

	s.notify()
}

// Commit stops at the first failed write. Rows that already exist on add, or
// are already gone on remove, count as written.
func (m *Mutation) Commit(ctx context.Context) error {
	for _, w := range m.writes {
		err := m.s.send(ctx, m.bucket, w)
		if err == nil || errors.Is(err, domain.ErrAlreadyExists) || errors.Is(err, domain.ErrNotFound) {
			continue
		}
		return err
	}
	return nil
}

// Rollback is a no-op if the store was reloaded or cleared since Apply.
func (m *Mutation) Rollback() {
	if !m.applied {
		return
	}
	s := m.s
	s.mu.Lock()
	if s.epoch != m.epoch {
		s.mu.Unlock()
		return
	}
	set := s.bucketLocked(m.bucket)
	for id, had := range m.prior {
		if had {
			set[id] = struct{}{}
		} else {
			delete(set, id)
		}
	}
	m.applied = false
	s.mu.Unlock()

	s.notify()
}

// Identifiers returns the identifiers this mutation writes, in order.
func (m *Mutation) Identifiers() []string {
	out := make([]string, len(m.writes))
	for i, w := range m.writes {
		out[i] = w.identifier
	}
	return out
}
