package memory

import (
	"bytes"
	"context"

	kerrors "github.com/liftlog/liftsocial/internal/errors"
	"github.com/liftlog/liftsocial/internal/store"
)

// PutSharedItem stores a new shared item.
func (s *Store) PutSharedItem(_ context.Context, item store.SharedItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.data.Shared[item.ID]; ok {
		return kerrors.ErrAlreadyExists
	}
	item.Ciphertext = bytes.Clone(item.Ciphertext)
	item.IV = bytes.Clone(item.IV)
	s.data.Shared[item.ID] = &item
	return s.persistLocked()
}

// SharedItem returns a copy of the stored item.
func (s *Store) SharedItem(_ context.Context, id string) (store.SharedItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	item, ok := s.data.Shared[id]
	if !ok {
		return store.SharedItem{}, kerrors.ErrSharedItemNotFound
	}
	out := *item
	out.Ciphertext = bytes.Clone(item.Ciphertext)
	out.IV = bytes.Clone(item.IV)
	return out, nil
}
