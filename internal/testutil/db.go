package testutil

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"playforge/internal/config"
	"playforge/internal/database"
	"playforge/internal/models"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

var dbSeq atomic.Int64

// NewTestDB returns a migrated in-memory SQLite database private to t.
// The pool holds a single connection so every query sees the same database.
func NewTestDB(t testing.TB) *gorm.DB {
	t.Helper()
	cfg := &config.Config{Env: "test", DBSchemaMode: database.SchemaModeAuto, DBMaxOpenConns: 1}

	dsn := fmt.Sprintf("file:testdb_%d?mode=memory&cache=private&_foreign_keys=0", dbSeq.Add(1))
	db, err := database.Open(sqlite.Open(dsn), cfg)
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := database.ApplySchema(context.Background(), db, cfg); err != nil {
		t.Fatalf("apply schema: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return db
}

// NewRedis starts a miniredis server and returns a client for it.
func NewRedis(t testing.TB) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return mr, rdb
}

// CreateUser inserts a user with a unique username derived from name.
func CreateUser(t testing.TB, db *gorm.DB, name string, coins int64) *models.User {
	t.Helper()
	n := dbSeq.Add(1)
	u := &models.User{
		Username:    fmt.Sprintf("%s_%d", name, n),
		Email:       fmt.Sprintf("%s_%d@example.com", name, n),
		Password:    "x",
		DisplayName: name,
		Coins:       coins,
	}
	if err := db.Create(u).Error; err != nil {
		t.Fatalf("create user: %v", err)
	}
	return u
}

// CreateGame inserts a game owned by userID with the given status.
func CreateGame(t testing.TB, db *gorm.DB, userID uint, title string, status models.GameStatus) *models.Game {
	t.Helper()
	g := &models.Game{
		UserID: userID,
		Title:  title,
		Code:   "<!doctype html><canvas></canvas>",
		Status: status,
	}
	if status == models.GameStatusPublished {
		now := time.Now()
		g.PublishedAt = &now
	}
	if err := db.Omit("User").Create(g).Error; err != nil {
		t.Fatalf("create game: %v", err)
	}
	return g
}
