package postgres

import (
	"context"

	kerrors "github.com/liftlog/liftsocial/internal/errors"
	"github.com/liftlog/liftsocial/internal/store"
)

// PutSharedItem stores a new shared item.
func (s *Store) PutSharedItem(ctx context.Context, item store.SharedItem) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO shared_items (id, user_id, ciphertext, iv, ts, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		item.ID, item.UserID, item.Ciphertext, item.IV, item.Timestamp, item.ExpiresAt)
	if isUniqueViolation(err) {
		return kerrors.ErrAlreadyExists
	}
	return err
}

// SharedItem returns the stored item, expired or not.
func (s *Store) SharedItem(ctx context.Context, id string) (store.SharedItem, error) {
	var item store.SharedItem
	err := s.pool.QueryRow(ctx, `
		SELECT id, user_id, ciphertext, iv, ts, expires_at FROM shared_items WHERE id = $1`, id).
		Scan(&item.ID, &item.UserID, &item.Ciphertext, &item.IV, &item.Timestamp, &item.ExpiresAt)
	if err != nil {
		return store.SharedItem{}, notFound(err, kerrors.ErrSharedItemNotFound)
	}
	return item, nil
}
