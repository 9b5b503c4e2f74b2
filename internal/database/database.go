// Package database opens the Postgres handles and owns the schema.
package database

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"playforge/internal/config"
	"playforge/internal/middleware"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/plugin/dbresolver"
)

// DB is the primary handle set by Connect.
var DB *gorm.DB

// readDB is pinned to the replica when one is registered.
var readDB *gorm.DB

// endpoint is one Postgres server.
type endpoint struct {
	host, port, user, password string
}

// dsn renders a keyword/value connection string. Values are quoted so a
// password with spaces or quotes survives.
func (e endpoint) dsn(name, sslMode string) string {
	if sslMode == "" {
		sslMode = "disable"
	}
	quote := func(v string) string {
		v = strings.ReplaceAll(v, `\`, `\\`)
		return "'" + strings.ReplaceAll(v, "'", `\'`) + "'"
	}
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		quote(e.host), quote(e.port), quote(e.user), quote(e.password), quote(name), sslMode)
}

func primaryEndpoint(cfg *config.Config) endpoint {
	return endpoint{cfg.DBHost, cfg.DBPort, cfg.DBUser, cfg.DBPassword}
}

// replicaEndpoint falls back to the primary's port and credentials for any
// DB_READ_* value left empty.
func replicaEndpoint(cfg *config.Config) (endpoint, bool) {
	if cfg.DBReadHost == "" {
		return endpoint{}, false
	}
	e := primaryEndpoint(cfg)
	e.host = cfg.DBReadHost
	if cfg.DBReadPort != "" {
		e.port = cfg.DBReadPort
	}
	if cfg.DBReadUser != "" {
		e.user = cfg.DBReadUser
		e.password = cfg.DBReadPassword
	}
	return e, true
}

// pool holds the connection pool limits shared by primary and replica.
type pool struct {
	maxOpen, maxIdle int
	lifetime         time.Duration
}

func poolFor(cfg *config.Config) pool {
	return pool{
		maxOpen:  cfg.DBMaxOpenConns,
		maxIdle:  cfg.DBMaxIdleConns,
		lifetime: time.Duration(cfg.DBConnMaxLifetimeMinutes) * time.Minute,
	}
}

// apply calls the setters for every limit that is configured.
func (p pool) apply(open, idle func(int), lifetime func(time.Duration)) {
	if p.maxOpen > 0 {
		open(p.maxOpen)
	}
	if p.maxIdle > 0 {
		idle(p.maxIdle)
	}
	if p.lifetime > 0 {
		lifetime(p.lifetime)
	}
}

// ConnectOptions tune ConnectWithOptions.
type ConnectOptions struct {
	// ApplySchema runs migrations per DB_SCHEMA_MODE after connecting.
	ApplySchema bool
}

// Connect opens the primary, registers the read replica when DB_READ_HOST
// is set, and applies the schema.
func Connect(cfg *config.Config) (*gorm.DB, error) {
	return ConnectWithOptions(cfg, ConnectOptions{ApplySchema: true})
}

// ConnectWithOptions is Connect with the schema step optional, for tools
// that manage migrations themselves.
func ConnectWithOptions(cfg *config.Config, opts ConnectOptions) (*gorm.DB, error) {
	db, err := Open(postgres.Open(primaryEndpoint(cfg).dsn(cfg.DBName, cfg.DBSSLMode)), cfg)
	if err != nil {
		return nil, fmt.Errorf("connect to %s:%s: %w", cfg.DBHost, cfg.DBPort, err)
	}
	middleware.Logger.Info("database connected", slog.String("host", cfg.DBHost), slog.String("db", cfg.DBName))

	if replica, ok := replicaEndpoint(cfg); ok {
		if err := registerReplica(db, postgres.Open(replica.dsn(cfg.DBName, cfg.DBSSLMode)), poolFor(cfg)); err != nil {
			return nil, fmt.Errorf("register read replica: %w", err)
		}
		middleware.Logger.Info("read replica registered", slog.String("host", replica.host))
	}

	if opts.ApplySchema {
		if err := ApplySchema(context.Background(), db, cfg); err != nil {
			return nil, fmt.Errorf("apply schema: %w", err)
		}
	}

	DB = db
	return DB, nil
}

// Open creates a gorm handle with the slog query logger and, when cfg is
// set, its pool limits. Tests pass a sqlite dialector.
func Open(dialector gorm.Dialector, cfg *config.Config) (*gorm.DB, error) {
	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: newQueryLogger(middleware.Logger),
	})
	if err != nil {
		return nil, err
	}
	if cfg == nil {
		return db, nil
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	poolFor(cfg).apply(sqlDB.SetMaxOpenConns, sqlDB.SetMaxIdleConns, sqlDB.SetConnMaxLifetime)
	return db, nil
}

func registerReplica(db *gorm.DB, replica gorm.Dialector, limits pool) error {
	resolver := dbresolver.Register(dbresolver.Config{
		Replicas: []gorm.Dialector{replica},
		Policy:   dbresolver.RandomPolicy{},
	})
	limits.apply(
		func(n int) { resolver.SetMaxOpenConns(n) },
		func(n int) { resolver.SetMaxIdleConns(n) },
		func(d time.Duration) { resolver.SetConnMaxLifetime(d) },
	)
	if err := db.Use(resolver); err != nil {
		return err
	}
	readDB = db.Clauses(dbresolver.Read)
	return nil
}

// GetReadDB returns a handle pinned to the read replica, or nil when none is configured.
func GetReadDB() *gorm.DB {
	return readDB
}

// Ping checks the primary connection.
func Ping(ctx context.Context, db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}
