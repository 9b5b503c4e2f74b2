package repository

import (
	"context"
	"testing"

	"playforge/internal/models"
	"playforge/internal/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUserRepository_CreateAndLookup(t *testing.T) {
	db := testutil.NewTestDB(t)
	repo := NewUserRepository(db)
	ctx := context.Background()

	u := &models.User{Username: "PixelPete", Email: " Pete@Example.com ", Password: "hash"}
	require.NoError(t, repo.Create(ctx, u))
	assert.Equal(t, "pete@example.com", u.Email)

	t.Run("by email is case insensitive", func(t *testing.T) {
		got, err := repo.GetByLogin(ctx, "PETE@example.com")
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, "hash", got.Password)
	})

	t.Run("by username", func(t *testing.T) {
		got, err := repo.GetByLogin(ctx, "pixelpete")
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, u.ID, got.ID)
	})

	t.Run("missing login returns nil", func(t *testing.T) {
		got, err := repo.GetByLogin(ctx, "nobody")
		require.NoError(t, err)
		assert.Nil(t, got)
	})

	t.Run("duplicate is a conflict", func(t *testing.T) {
		err := repo.Create(ctx, &models.User{Username: "PixelPete", Email: "other@example.com", Password: "x"})
		assert.Equal(t, 409, models.StatusFor(err))
	})

	t.Run("GetByID not found", func(t *testing.T) {
		_, err := repo.GetByID(ctx, 9999)
		assert.Equal(t, 404, models.StatusFor(err))
	})
}

func TestUserRepository_UpdateDoesNotTouchCoins(t *testing.T) {
	db := testutil.NewTestDB(t)
	repo := NewUserRepository(db)
	ctx := context.Background()
	u := testutil.CreateUser(t, db, "ada", 40)

	u.Bio = "makes puzzle games"
	u.Coins = 1_000_000
	require.NoError(t, repo.Update(ctx, u))

	got, err := repo.GetByID(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, "makes puzzle games", got.Bio)
	assert.Equal(t, int64(40), got.Coins)
}

func TestUserRepository_SearchAndCounts(t *testing.T) {
	db := testutil.NewTestDB(t)
	repo := NewUserRepository(db)
	follows := NewFollowRepository(db)
	ctx := context.Background()

	a := testutil.CreateUser(t, db, "searchable", 0)
	b := testutil.CreateUser(t, db, "other", 0)
	banned := testutil.CreateUser(t, db, "searchable_banned", 0)
	require.NoError(t, repo.SetBanned(ctx, banned.ID, true))

	found, err := repo.Search(ctx, "SEARCH", 10, 0)
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, a.ID, found[0].ID)

	_, err = follows.Follow(ctx, b.ID, a.ID)
	require.NoError(t, err)
	testutil.CreateGame(t, db, a.ID, "Published", models.GameStatusPublished)
	testutil.CreateGame(t, db, a.ID, "Draft", models.GameStatusDraft)

	require.NoError(t, repo.FillCounts(ctx, a))
	assert.Equal(t, int64(1), a.FollowersCount)
	assert.Equal(t, int64(0), a.FollowingCount)
	assert.Equal(t, int64(1), a.GamesCount)

	assert.Equal(t, 404, models.StatusFor(repo.SetAdmin(ctx, 12345, true)))
}
