package postgres

import (
	"context"
	"fmt"
	"time"

	kerrors "github.com/liftlog/liftsocial/internal/errors"
	"github.com/liftlog/liftsocial/internal/store"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// PutPublicKey publishes or replaces a user's public key.
func (s *Store) PutPublicKey(ctx context.Context, userID string, publicKeyPEM []byte) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO public_keys (user_id, public_key, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (user_id) DO UPDATE SET public_key = EXCLUDED.public_key, updated_at = now()`,
		userID, publicKeyPEM)
	return err
}

// PublicKey returns a user's public key.
func (s *Store) PublicKey(ctx context.Context, userID string) ([]byte, error) {
	var key []byte
	err := s.pool.QueryRow(ctx, `SELECT public_key FROM public_keys WHERE user_id = $1`, userID).Scan(&key)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", userID, notFound(err, kerrors.ErrUserNotFound))
	}
	return key, nil
}

// CreateSecret stores a new follow secret.
func (s *Store) CreateSecret(ctx context.Context, secret store.FollowSecret) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO follow_secrets (token, owner_id, state, policy, created_at, revoked_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		secret.Token, secret.OwnerID, string(secret.State), string(secret.Policy), secret.CreatedAt, nullTime(secret.RevokedAt))
	if isUniqueViolation(err) {
		return kerrors.ErrAlreadyExists
	}
	return err
}

const selectSecret = `
	SELECT s.token, s.owner_id, s.state, s.policy, s.created_at, s.revoked_at,
	       COALESCE(array_agg(r.redeemer_id ORDER BY r.redeemed_at) FILTER (WHERE r.redeemer_id IS NOT NULL), '{}')
	FROM follow_secrets s
	LEFT JOIN follow_redemptions r ON r.token = s.token`

func scanSecret(row pgx.Row) (store.FollowSecret, error) {
	var (
		secret    store.FollowSecret
		state     string
		pol       string
		revokedAt *time.Time
	)
	if err := row.Scan(&secret.Token, &secret.OwnerID, &state, &pol, &secret.CreatedAt, &revokedAt, &secret.Redeemers); err != nil {
		return store.FollowSecret{}, err
	}
	secret.State = store.SecretState(state)
	secret.Policy = store.RedeemPolicy(pol)
	secret.RevokedAt = fromNullTime(revokedAt)
	return secret, nil
}

// Secret returns a follow secret with its redeemers.
func (s *Store) Secret(ctx context.Context, token string) (store.FollowSecret, error) {
	secret, err := scanSecret(s.pool.QueryRow(ctx, selectSecret+` WHERE s.token = $1 GROUP BY s.token`, token))
	if err != nil {
		return store.FollowSecret{}, notFound(err, kerrors.ErrFollowSecretNotFound)
	}
	return secret, nil
}

// SecretsByOwner lists an owner's secrets, oldest first.
func (s *Store) SecretsByOwner(ctx context.Context, ownerID string) ([]store.FollowSecret, error) {
	rows, err := s.pool.Query(ctx, selectSecret+` WHERE s.owner_id = $1 GROUP BY s.token ORDER BY s.created_at`, ownerID)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (store.FollowSecret, error) {
		return scanSecret(row)
	})
}

// RevokeSecret marks a secret revoked. Revoking twice keeps the first time.
func (s *Store) RevokeSecret(ctx context.Context, token string, at time.Time) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE follow_secrets SET state = $2, revoked_at = COALESCE(revoked_at, $3)
		WHERE token = $1`,
		token, string(store.SecretRevoked), at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return kerrors.ErrFollowSecretNotFound
	}
	return nil
}

// ClaimRedemption locks the secret row so concurrent claims on a
// single-use secret serialise.
func (s *Store) ClaimRedemption(ctx context.Context, token, redeemerID string) (store.FollowSecret, error) {
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		var state, pol string
		err := tx.QueryRow(ctx, `SELECT state, policy FROM follow_secrets WHERE token = $1 FOR UPDATE`, token).Scan(&state, &pol)
		if err != nil {
			return notFound(err, kerrors.ErrFollowSecretNotFound)
		}
		if store.SecretState(state) == store.SecretRevoked {
			return kerrors.ErrSecretRevoked
		}
		if store.RedeemPolicy(pol) == store.RedeemSingle {
			var n int
			if err := tx.QueryRow(ctx, `SELECT count(*) FROM follow_redemptions WHERE token = $1`, token).Scan(&n); err != nil {
				return err
			}
			if n > 0 {
				return kerrors.ErrSecretExhausted
			}
		}
		_, err = tx.Exec(ctx, `
			INSERT INTO follow_redemptions (token, redeemer_id) VALUES ($1, $2)
			ON CONFLICT (token, redeemer_id) DO NOTHING`,
			token, redeemerID)
		return err
	})
	if err != nil {
		return store.FollowSecret{}, err
	}
	return s.Secret(ctx, token)
}

// Append queues an envelope.
func (s *Store) Append(ctx context.Context, env store.Envelope) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO inbox_envelopes (id, recipient_id, kind, blocks, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		env.ID, env.RecipientID, string(env.Kind), env.Blocks, env.CreatedAt, nullTime(env.ExpiresAt))
	if isUniqueViolation(err) {
		return kerrors.ErrAlreadyExists
	}
	return err
}

// Drain deletes and returns the recipient's envelopes in one statement.
func (s *Store) Drain(ctx context.Context, recipientID string, now time.Time) ([]store.Envelope, error) {
	rows, err := s.pool.Query(ctx, `
		WITH drained AS (
			DELETE FROM inbox_envelopes WHERE recipient_id = $1
			RETURNING id, recipient_id, kind, blocks, created_at, expires_at
		)
		SELECT id, recipient_id, kind, blocks, created_at, expires_at
		FROM drained ORDER BY created_at, id`,
		recipientID)
	if err != nil {
		return nil, err
	}
	all, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (store.Envelope, error) {
		var (
			env       store.Envelope
			kind      string
			expiresAt *time.Time
		)
		err := row.Scan(&env.ID, &env.RecipientID, &kind, &env.Blocks, &env.CreatedAt, &expiresAt)
		env.Kind = store.MessageKind(kind)
		env.ExpiresAt = fromNullTime(expiresAt)
		return env, err
	})
	if err != nil {
		return nil, err
	}

	out := all[:0]
	for _, env := range all {
		if !env.Expired(now) {
			out = append(out, env)
		}
	}
	if len(out) == 0 {
		return nil, nil
	}
	return out, nil
}

// CreateClub inserts the club and owner row in one transaction.
func (s *Store) CreateClub(ctx context.Context, club store.Club, owner store.Member) error {
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO clubs (id, owner_id, encrypted_name, name_iv, encrypted_description, description_iv,
				is_public, members_can_post, members_can_invite, max_members, key_version, rekey_needed, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
			club.ID, club.OwnerID, club.EncryptedName, club.NameIV, club.EncryptedDescription, club.DescriptionIV,
			club.IsPublic, club.Settings.MembersCanPost, club.Settings.MembersCanInvite, club.Settings.MaxMembers,
			club.KeyVersion, club.RekeyNeeded, club.CreatedAt)
		if err != nil {
			return err
		}
		return insertMember(ctx, tx, owner)
	})
	if isUniqueViolation(err) {
		return kerrors.ErrAlreadyExists
	}
	return err
}

const selectClub = `
	SELECT c.id, c.owner_id, c.encrypted_name, c.name_iv, c.encrypted_description, c.description_iv,
	       c.is_public, c.members_can_post, c.members_can_invite, c.max_members, c.key_version,
	       c.rekey_needed, c.created_at,
	       (SELECT count(*) FROM club_members m WHERE m.club_id = c.id)
	FROM clubs c`

func scanClub(row pgx.Row) (store.Club, error) {
	var c store.Club
	err := row.Scan(&c.ID, &c.OwnerID, &c.EncryptedName, &c.NameIV, &c.EncryptedDescription, &c.DescriptionIV,
		&c.IsPublic, &c.Settings.MembersCanPost, &c.Settings.MembersCanInvite, &c.Settings.MaxMembers, &c.KeyVersion,
		&c.RekeyNeeded, &c.CreatedAt, &c.MemberCount)
	return c, err
}

func collectClubs(rows pgx.Rows) ([]store.Club, error) {
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (store.Club, error) {
		return scanClub(row)
	})
}

// Club returns a club with its member count.
func (s *Store) Club(ctx context.Context, clubID string) (store.Club, error) {
	club, err := scanClub(s.pool.QueryRow(ctx, selectClub+` WHERE c.id = $1`, clubID))
	if err != nil {
		return store.Club{}, notFound(err, kerrors.ErrClubNotFound)
	}
	return club, nil
}

// UpdateClub replaces a club's mutable fields.
func (s *Store) UpdateClub(ctx context.Context, club store.Club) error {
	return updateClub(ctx, s.pool, club)
}

type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

func updateClub(ctx context.Context, db execer, club store.Club) error {
	tag, err := db.Exec(ctx, `
		UPDATE clubs SET encrypted_name = $2, name_iv = $3, encrypted_description = $4, description_iv = $5,
			is_public = $6, members_can_post = $7, members_can_invite = $8, max_members = $9,
			key_version = $10, rekey_needed = $11
		WHERE id = $1`,
		club.ID, club.EncryptedName, club.NameIV, club.EncryptedDescription, club.DescriptionIV,
		club.IsPublic, club.Settings.MembersCanPost, club.Settings.MembersCanInvite, club.Settings.MaxMembers,
		club.KeyVersion, club.RekeyNeeded)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return kerrors.ErrClubNotFound
	}
	return nil
}

// DeleteClub removes a club; member rows cascade.
func (s *Store) DeleteClub(ctx context.Context, clubID string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM clubs WHERE id = $1`, clubID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return kerrors.ErrClubNotFound
	}
	return nil
}

// PublicClubs pages through public clubs, newest first.
func (s *Store) PublicClubs(ctx context.Context, limit, offset int) ([]store.Club, error) {
	if limit <= 0 {
		limit = store.DefaultFeedLimit
	}
	rows, err := s.pool.Query(ctx, selectClub+` WHERE c.is_public ORDER BY c.created_at DESC, c.id LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, err
	}
	return collectClubs(rows)
}

// ClubsForUser lists clubs with a row for userID, newest first.
func (s *Store) ClubsForUser(ctx context.Context, userID string) ([]store.Club, error) {
	rows, err := s.pool.Query(ctx, selectClub+`
		WHERE EXISTS (SELECT 1 FROM club_members m WHERE m.club_id = c.id AND m.user_id = $1)
		ORDER BY c.created_at DESC, c.id`, userID)
	if err != nil {
		return nil, err
	}
	return collectClubs(rows)
}

func insertMember(ctx context.Context, tx pgx.Tx, m store.Member) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO club_members (club_id, user_id, role, state, wrapped_key, key_version, joined_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		m.ClubID, m.UserID, m.Role.String(), string(m.State), m.WrappedKey, m.KeyVersion, m.JoinedAt)
	return err
}

// AddMember inserts a row unless one already exists.
func (s *Store) AddMember(ctx context.Context, m store.Member) (bool, error) {
	var exists bool
	if err := s.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM clubs WHERE id = $1)`, m.ClubID).Scan(&exists); err != nil {
		return false, err
	}
	if !exists {
		return false, kerrors.ErrClubNotFound
	}

	tag, err := s.pool.Exec(ctx, `
		INSERT INTO club_members (club_id, user_id, role, state, wrapped_key, key_version, joined_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (club_id, user_id) DO NOTHING`,
		m.ClubID, m.UserID, m.Role.String(), string(m.State), m.WrappedKey, m.KeyVersion, m.JoinedAt)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

const selectMember = `SELECT club_id, user_id, role, state, wrapped_key, key_version, joined_at FROM club_members`

func scanMember(row pgx.Row) (store.Member, error) {
	var (
		m     store.Member
		role  string
		state string
	)
	if err := row.Scan(&m.ClubID, &m.UserID, &role, &state, &m.WrappedKey, &m.KeyVersion, &m.JoinedAt); err != nil {
		return store.Member{}, err
	}
	if err := m.Role.UnmarshalText([]byte(role)); err != nil {
		return store.Member{}, err
	}
	m.State = store.MemberState(state)
	return m, nil
}

// Member returns one membership row.
func (s *Store) Member(ctx context.Context, clubID, userID string) (store.Member, error) {
	m, err := scanMember(s.pool.QueryRow(ctx, selectMember+` WHERE club_id = $1 AND user_id = $2`, clubID, userID))
	if err != nil {
		return store.Member{}, notFound(err, kerrors.ErrMemberNotFound)
	}
	return m, nil
}

// Members lists a club's rows, oldest first.
func (s *Store) Members(ctx context.Context, clubID string) ([]store.Member, error) {
	return s.queryMembers(ctx, selectMember+` WHERE club_id = $1 ORDER BY joined_at, user_id`, clubID)
}

// PendingMembers lists rows still waiting for the club key.
func (s *Store) PendingMembers(ctx context.Context, clubID string) ([]store.Member, error) {
	return s.queryMembers(ctx, selectMember+` WHERE club_id = $1 AND state = $2 ORDER BY joined_at, user_id`, clubID, string(store.MemberPendingKey))
}

func (s *Store) queryMembers(ctx context.Context, sql string, args ...any) ([]store.Member, error) {
	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (store.Member, error) {
		return scanMember(row)
	})
}

// UpdateMember replaces role, state and key columns of an existing row.
func (s *Store) UpdateMember(ctx context.Context, m store.Member) error {
	return updateMember(ctx, s.pool, m)
}

func updateMember(ctx context.Context, db execer, m store.Member) error {
	tag, err := db.Exec(ctx, `
		UPDATE club_members SET role = $3, state = $4, wrapped_key = $5, key_version = $6
		WHERE club_id = $1 AND user_id = $2`,
		m.ClubID, m.UserID, m.Role.String(), string(m.State), m.WrappedKey, m.KeyVersion)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return kerrors.ErrMemberNotFound
	}
	return nil
}

// RemoveMember deletes a row.
func (s *Store) RemoveMember(ctx context.Context, clubID, userID string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM club_members WHERE club_id = $1 AND user_id = $2`, clubID, userID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return kerrors.ErrMemberNotFound
	}
	return nil
}

// Rekey stores the new key version and the re-wrapped rows in one
// transaction. Rows removed concurrently are skipped.
func (s *Store) Rekey(ctx context.Context, club store.Club, members []store.Member) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if err := updateClub(ctx, tx, club); err != nil {
			return err
		}
		for _, m := range members {
			_, err := tx.Exec(ctx, `
				UPDATE club_members SET wrapped_key = $3, key_version = $4
				WHERE club_id = $1 AND user_id = $2`,
				m.ClubID, m.UserID, m.WrappedKey, m.KeyVersion)
			if err != nil {
				return err
			}
		}
		return nil
	})
}

// PutEvent inserts or replaces a feed record. Only the original author may
// replace a record.
func (s *Store) PutEvent(ctx context.Context, rec store.FeedRecord) error {
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO feed_events (feed_id, event_id, scope, author_id, ciphertext, iv, key_version, ts, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (feed_id, event_id) DO UPDATE SET
			scope = EXCLUDED.scope, ciphertext = EXCLUDED.ciphertext, iv = EXCLUDED.iv,
			key_version = EXCLUDED.key_version, ts = EXCLUDED.ts, expires_at = EXCLUDED.expires_at
		WHERE feed_events.author_id = EXCLUDED.author_id`,
		rec.FeedID, rec.EventID, string(rec.Scope), rec.AuthorID, rec.Ciphertext, rec.IV, rec.KeyVersion, rec.Timestamp, nullTime(rec.ExpiresAt))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("event %s belongs to another author: %w", rec.EventID, kerrors.ErrUnauthorized)
	}
	return nil
}

// ListEvents returns non-expired records newest first.
func (s *Store) ListEvents(ctx context.Context, feedID string, q store.FeedQuery) ([]store.FeedRecord, error) {
	now := q.Now
	if now.IsZero() {
		now = time.Now()
	}
	rows, err := s.pool.Query(ctx, `
		SELECT feed_id, event_id, scope, author_id, ciphertext, iv, key_version, ts, expires_at
		FROM feed_events
		WHERE feed_id = $1
		  AND (expires_at IS NULL OR expires_at > $2)
		  AND ($3::timestamptz IS NULL OR ts > $3)
		ORDER BY ts DESC, event_id DESC
		LIMIT $4`,
		feedID, now, nullTime(q.Since), q.EffectiveLimit())
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (store.FeedRecord, error) {
		var (
			rec       store.FeedRecord
			scope     string
			expiresAt *time.Time
		)
		err := row.Scan(&rec.FeedID, &rec.EventID, &scope, &rec.AuthorID, &rec.Ciphertext, &rec.IV, &rec.KeyVersion, &rec.Timestamp, &expiresAt)
		rec.Scope = store.FeedScope(scope)
		rec.ExpiresAt = fromNullTime(expiresAt)
		return rec, err
	})
}

// DeleteFeed removes every record of a feed.
func (s *Store) DeleteFeed(ctx context.Context, feedID string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM feed_events WHERE feed_id = $1`, feedID)
	return err
}
