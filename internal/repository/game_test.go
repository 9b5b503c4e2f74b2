package repository

import (
	"context"
	"testing"
	"time"

	"playforge/internal/models"
	"playforge/internal/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGameRepository_Visibility(t *testing.T) {
	db := testutil.NewTestDB(t)
	repo := NewGameRepository(db)
	ctx := context.Background()

	owner := testutil.CreateUser(t, db, "owner", 0)
	draft := testutil.CreateGame(t, db, owner.ID, "Secret draft", models.GameStatusDraft)
	pub := testutil.CreateGame(t, db, owner.ID, "Snake", models.GameStatusPublished)

	feed, err := repo.Feed(ctx, FeedQuery{Sort: SortNew})
	require.NoError(t, err)
	require.Len(t, feed, 1)
	assert.Equal(t, pub.ID, feed[0].ID)
	assert.Empty(t, feed[0].Code, "feed rows omit code")
	assert.Equal(t, owner.ID, feed[0].User.ID)

	got, err := repo.GetByID(ctx, draft.ID, owner.ID)
	require.NoError(t, err)
	assert.Equal(t, models.GameStatusDraft, got.Status)
	assert.NotEmpty(t, got.Code)

	mine, err := repo.ListByUser(ctx, owner.ID, true, owner.ID, 10, 0)
	require.NoError(t, err)
	assert.Len(t, mine, 2)

	public, err := repo.ListByUser(ctx, owner.ID, false, 0, 10, 0)
	require.NoError(t, err)
	assert.Len(t, public, 1)
}

func TestGameRepository_LikesAreIdempotent(t *testing.T) {
	db := testutil.NewTestDB(t)
	repo := NewGameRepository(db)
	ctx := context.Background()

	owner := testutil.CreateUser(t, db, "owner", 0)
	fan := testutil.CreateUser(t, db, "fan", 0)
	g := testutil.CreateGame(t, db, owner.ID, "Pong", models.GameStatusPublished)

	created, err := repo.Like(ctx, fan.ID, g.ID)
	require.NoError(t, err)
	assert.True(t, created)

	created, err = repo.Like(ctx, fan.ID, g.ID)
	require.NoError(t, err)
	assert.False(t, created)

	got, err := repo.GetByID(ctx, g.ID, fan.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), got.LikesCount)
	assert.True(t, got.Liked)

	received, err := repo.CountLikesReceived(ctx, owner.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), received)

	removed, err := repo.Unlike(ctx, fan.ID, g.ID)
	require.NoError(t, err)
	assert.True(t, removed)
	removed, err = repo.Unlike(ctx, fan.ID, g.ID)
	require.NoError(t, err)
	assert.False(t, removed)
}

func TestGameRepository_FeedSorts(t *testing.T) {
	db := testutil.NewTestDB(t)
	repo := NewGameRepository(db)
	follows := NewFollowRepository(db)
	ctx := context.Background()

	alice := testutil.CreateUser(t, db, "alice", 0)
	bob := testutil.CreateUser(t, db, "bob", 0)
	viewer := testutil.CreateUser(t, db, "viewer", 0)

	older := testutil.CreateGame(t, db, alice.ID, "Older", models.GameStatusPublished)
	past := time.Now().UTC().Add(-48 * time.Hour)
	require.NoError(t, db.Model(older).Update("published_at", past).Error)
	newer := testutil.CreateGame(t, db, bob.ID, "Newer", models.GameStatusPublished)

	for _, u := range []*models.User{bob, viewer} {
		_, err := repo.Like(ctx, u.ID, older.ID)
		require.NoError(t, err)
	}

	byNew, err := repo.Feed(ctx, FeedQuery{Sort: SortNew})
	require.NoError(t, err)
	require.Len(t, byNew, 2)
	assert.Equal(t, newer.ID, byNew[0].ID)

	byTop, err := repo.Feed(ctx, FeedQuery{Sort: SortTop})
	require.NoError(t, err)
	require.Len(t, byTop, 2)
	assert.Equal(t, older.ID, byTop[0].ID)
	assert.Equal(t, int64(2), byTop[0].LikesCount)

	byHot, err := repo.Feed(ctx, FeedQuery{Sort: SortHot})
	require.NoError(t, err)
	assert.Len(t, byHot, 2)

	_, err = follows.Follow(ctx, viewer.ID, bob.ID)
	require.NoError(t, err)
	following, err := repo.Feed(ctx, FeedQuery{Sort: SortFollowing, ViewerID: viewer.ID})
	require.NoError(t, err)
	require.Len(t, following, 1)
	assert.Equal(t, newer.ID, following[0].ID)

	anon, err := repo.Feed(ctx, FeedQuery{Sort: SortFollowing})
	require.NoError(t, err)
	assert.Empty(t, anon)
}

func TestGameRepository_TagsSearchAndPlays(t *testing.T) {
	db := testutil.NewTestDB(t)
	repo := NewGameRepository(db)
	ctx := context.Background()

	owner := testutil.CreateUser(t, db, "owner", 0)
	g := testutil.CreateGame(t, db, owner.ID, "Space Invaders Remake", models.GameStatusPublished)
	g.Tags = models.JoinTags([]string{"Arcade", "space", "arcade"})
	require.NoError(t, repo.Update(ctx, g))
	other := testutil.CreateGame(t, db, owner.ID, "Chess", models.GameStatusPublished)
	other.Tags = "board,arcadeish"
	require.NoError(t, repo.Update(ctx, other))

	tagged, err := repo.Feed(ctx, FeedQuery{Tag: "arcade"})
	require.NoError(t, err)
	require.Len(t, tagged, 1)
	assert.Equal(t, []string{"arcade", "space"}, tagged[0].TagList)

	found, err := repo.Search(ctx, "invaders", 0, 10, 0)
	require.NoError(t, err)
	require.Len(t, found, 1)

	require.NoError(t, repo.IncrementPlayCount(ctx, g.ID))
	require.NoError(t, repo.IncrementPlayCount(ctx, g.ID))
	plays, err := repo.SumPlaysReceived(ctx, owner.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), plays)
}

func TestGameRepository_SetStatusStampsPublishedOnce(t *testing.T) {
	db := testutil.NewTestDB(t)
	repo := NewGameRepository(db)
	ctx := context.Background()

	owner := testutil.CreateUser(t, db, "owner", 0)
	g := testutil.CreateGame(t, db, owner.ID, "Draft", models.GameStatusDraft)

	require.NoError(t, repo.SetStatus(ctx, g.ID, models.GameStatusPublished))
	first, err := repo.GetByID(ctx, g.ID, owner.ID)
	require.NoError(t, err)
	require.NotNil(t, first.PublishedAt)

	require.NoError(t, repo.SetStatus(ctx, g.ID, models.GameStatusDraft))
	require.NoError(t, repo.SetStatus(ctx, g.ID, models.GameStatusPublished))
	second, err := repo.GetByID(ctx, g.ID, owner.ID)
	require.NoError(t, err)
	assert.True(t, first.PublishedAt.Equal(*second.PublishedAt))

	n, err := repo.CountPublished(ctx, owner.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	assert.Equal(t, 404, models.StatusFor(repo.SetStatus(ctx, 4242, models.GameStatusArchived)))
}
