// Package bootstrap prepares the database and Redis handles a process
// needs before it serves traffic.
package bootstrap

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"playforge/internal/cache"
	"playforge/internal/config"
	"playforge/internal/database"
	"playforge/internal/middleware"
	"playforge/internal/models"
	"playforge/internal/seed"

	"github.com/redis/go-redis/v9"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

// Options control runtime initialization behavior.
type Options struct {
	// SeedPreset seeds an empty development database with this preset.
	SeedPreset string
}

// InitRuntime connects to DB and Redis and runs the development bootstrap.
// The Redis client is nil when Redis is unreachable.
func InitRuntime(ctx context.Context, cfg *config.Config, opts Options) (*gorm.DB, *redis.Client, error) {
	db, err := database.Connect(cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("database connection failed: %w", err)
	}

	cache.InitRedis(cfg.RedisURL)
	r := cache.GetClient()

	if err := EnsureDevRootAdmin(ctx, cfg, db); err != nil {
		return nil, nil, fmt.Errorf("failed to bootstrap development root admin: %w", err)
	}

	if opts.SeedPreset != "" && isDevelopment(cfg) {
		if err := seedIfEmpty(ctx, db, opts.SeedPreset); err != nil {
			return nil, nil, fmt.Errorf("failed to seed %q: %w", opts.SeedPreset, err)
		}
	}

	return db, r, nil
}

func isDevelopment(cfg *config.Config) bool {
	return cfg != nil && strings.EqualFold(cfg.Env, "development")
}

// seedIfEmpty applies preset only when no games exist yet, so restarts do
// not pile up demo data.
func seedIfEmpty(ctx context.Context, db *gorm.DB, preset string) error {
	var games int64
	if err := db.WithContext(ctx).Model(&models.Game{}).Count(&games).Error; err != nil {
		return err
	}
	if games > 0 {
		return nil
	}

	s, err := seed.NewSeeder(db, seed.Options{SkipBcrypt: true})
	if err != nil {
		return err
	}
	_, err = s.ApplyPreset(ctx, preset)
	return err
}

// rootAccount is the development admin pinned to user ID 1.
type rootAccount struct {
	username, email, passwordHash string
}

func rootAccountFrom(cfg *config.Config) (rootAccount, error) {
	if cfg.DevRootPassword == "" {
		return rootAccount{}, errors.New("DEV_ROOT_PASSWORD must be set when DEV_BOOTSTRAP_ROOT is enabled")
	}
	acct := rootAccount{
		username: cmp.Or(strings.TrimSpace(cfg.DevRootUsername), "playforge_root"),
		email:    cmp.Or(strings.ToLower(strings.TrimSpace(cfg.DevRootEmail)), "root@playforge.local"),
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(cfg.DevRootPassword), bcrypt.DefaultCost)
	if err != nil {
		return rootAccount{}, fmt.Errorf("hash root password: %w", err)
	}
	acct.passwordHash = string(hash)
	return acct, nil
}

// EnsureDevRootAdmin makes user 1 an unbanned admin in development when
// DEV_BOOTSTRAP_ROOT is enabled, creating it if needed. An existing user 1
// keeps its credentials unless DEV_ROOT_FORCE_CREDENTIALS is set.
func EnsureDevRootAdmin(ctx context.Context, cfg *config.Config, db *gorm.DB) error {
	if db == nil || !isDevelopment(cfg) || !cfg.DevBootstrapRoot {
		return nil
	}
	acct, err := rootAccountFrom(cfg)
	if err != nil {
		return err
	}

	err = db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := upsertRoot(tx, acct, cfg.DevRootForceCredentials); err != nil {
			return err
		}
		return resyncUserSequence(tx)
	})
	if err != nil {
		return err
	}

	middleware.Logger.InfoContext(ctx, "development root admin ensured",
		slog.Uint64("user_id", 1), slog.String("email", acct.email))
	return nil
}

func upsertRoot(tx *gorm.DB, acct rootAccount, force bool) error {
	var existing models.User
	err := tx.Select("id").First(&existing, 1).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return tx.Create(&models.User{
			ID:          1,
			Username:    acct.username,
			Email:       acct.email,
			Password:    acct.passwordHash,
			DisplayName: acct.username,
			IsAdmin:     true,
		}).Error
	}
	if err != nil {
		return err
	}

	updates := map[string]any{"is_admin": true, "is_banned": false}
	if force {
		updates["username"] = acct.username
		updates["email"] = acct.email
		updates["password"] = acct.passwordHash
	}
	return tx.Model(&models.User{}).Where("id = ?", 1).Updates(updates).Error
}

// resyncUserSequence moves the users id sequence past explicit-ID inserts.
func resyncUserSequence(tx *gorm.DB) error {
	if tx.Dialector.Name() != "postgres" {
		return nil
	}
	err := tx.Exec(`SELECT setval(pg_get_serial_sequence('users', 'id'),
		GREATEST((SELECT COALESCE(MAX(id), 1) FROM users), 1), true)`).Error
	if err != nil {
		return fmt.Errorf("reset users sequence: %w", err)
	}
	return nil
}
