package feed

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/liftlog/liftsocial/internal/audit"
	kerrors "github.com/liftlog/liftsocial/internal/errors"
	"github.com/liftlog/liftsocial/internal/secrets"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestShareAndOpen(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	ev := testSession()
	item, link, err := f.feed.Share(ctx, f.owner.Identity, ev, time.Time{})
	require.NoError(t, err)
	assert.Equal(t, f.owner.ID(), item.UserID)
	assert.WithinDuration(t, time.Now().Add(DefaultShareTTL), item.ExpiresAt, time.Minute)

	stored, err := f.store.SharedItem(ctx, item.ID)
	require.NoError(t, err)
	assert.NotContains(t, string(stored.Ciphertext), ev.Title)

	parsed, err := ParseShareLink("https://liftsocial.example/s/" + link.String())
	require.NoError(t, err)
	assert.Equal(t, link, parsed)

	opened, err := f.feed.OpenShared(ctx, parsed)
	require.NoError(t, err)
	assert.Equal(t, item.ID, opened.Item.ID)
	got := opened.Event.(Session)
	assert.Equal(t, ev.Title, got.Title)
	assert.Equal(t, ev.Exercises, got.Exercises)

	entries, err := f.audit.ReadEntries()
	require.NoError(t, err)
	var shared []string
	for _, e := range entries {
		if e.Operation == audit.OpFeedShare {
			shared = append(shared, e.EventID)
		}
	}
	assert.Equal(t, []string{item.ID}, shared)
}

func TestOpenSharedFailures(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	item, link, err := f.feed.Share(ctx, f.owner.Identity, Announcement{Text: "new 200kg deadlift"}, time.Now().Add(time.Hour))
	require.NoError(t, err)

	wrongKey, err := secrets.GenerateAESKey()
	require.NoError(t, err)
	_, err = f.feed.OpenShared(ctx, ShareLink{ID: item.ID, Key: wrongKey})
	assert.Error(t, err)

	_, err = f.feed.OpenShared(ctx, ShareLink{ID: "missing", Key: link.Key})
	assert.ErrorIs(t, err, kerrors.ErrSharedItemNotFound)

	f.feed.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	_, err = f.feed.OpenShared(ctx, link)
	assert.ErrorIs(t, err, kerrors.ErrSharedItemNotFound)
}

func TestShareLimits(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, _, err := f.feed.Share(ctx, f.owner.Identity, Announcement{Text: "late"}, time.Now().Add(-time.Minute))
	assert.Error(t, err)
	_, _, err = f.feed.Share(ctx, f.owner.Identity, Announcement{Text: "forever"}, time.Now().Add(MaxShareTTL+time.Hour))
	assert.Error(t, err)

	// Larger than a feed event, within the shared cap.
	_, _, err = f.feed.Share(ctx, f.owner.Identity, Announcement{Text: strings.Repeat("x", 2*DefaultMaxEventBytes)}, time.Time{})
	require.NoError(t, err)

	_, _, err = f.feed.Share(ctx, f.owner.Identity, Announcement{Text: strings.Repeat("x", MaxSharedBytes)}, time.Time{})
	assert.ErrorIs(t, err, kerrors.ErrEventTooLarge)
}

func TestParseShareLink(t *testing.T) {
	key, err := secrets.GenerateAESKey()
	require.NoError(t, err)
	link := ShareLink{ID: "5d1e", Key: key}

	got, err := ParseShareLink(" " + link.String() + "\n")
	require.NoError(t, err)
	assert.Equal(t, link, got)

	for _, bad := range []string{"", "5d1e", "#" + link.String()[5:], "5d1e#!!!", "5d1e#AAAA"} {
		_, err := ParseShareLink(bad)
		assert.ErrorIs(t, err, kerrors.ErrInvalidShareLink, bad)
	}
}
