package database

import (
	"context"
	"testing"
	"testing/fstest"

	"playforge/internal/config"
	"playforge/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
)

func TestOpenConfiguresPool(t *testing.T) {
	cfg := &config.Config{
		DBMaxOpenConns:           10,
		DBMaxIdleConns:           5,
		DBConnMaxLifetimeMinutes: 15,
	}

	db, err := Open(sqlite.Open(":memory:"), cfg)
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	assert.Equal(t, 10, sqlDB.Stats().MaxOpenConnections)
	assert.NoError(t, Ping(context.Background(), db))
}

func TestEndpointDSN(t *testing.T) {
	dsn := endpoint{host: "db", port: "5432", user: "u", password: "it's a secret"}.dsn("playforge", "")
	assert.Contains(t, dsn, "sslmode=disable")
	assert.Contains(t, dsn, "dbname='playforge'")
	assert.Contains(t, dsn, `password='it\'s a secret'`)
}

func TestReplicaEndpointFallsBackToPrimary(t *testing.T) {
	cfg := &config.Config{DBHost: "primary", DBPort: "5432", DBUser: "app", DBPassword: "pw"}
	_, ok := replicaEndpoint(cfg)
	assert.False(t, ok)

	cfg.DBReadHost = "replica"
	e, ok := replicaEndpoint(cfg)
	require.True(t, ok)
	assert.Equal(t, endpoint{host: "replica", port: "5432", user: "app", password: "pw"}, e)

	cfg.DBReadPort, cfg.DBReadUser, cfg.DBReadPassword = "6432", "reader", "rpw"
	e, _ = replicaEndpoint(cfg)
	assert.Equal(t, endpoint{host: "replica", port: "6432", user: "reader", password: "rpw"}, e)
}

func TestGetReadDBNilWithoutReplica(t *testing.T) {
	assert.Nil(t, GetReadDB())
}

func TestEmbeddedMigrationsLoad(t *testing.T) {
	ms, err := Migrations()
	require.NoError(t, err)
	require.NotEmpty(t, ms)
	for i := 1; i < len(ms); i++ {
		assert.Less(t, ms[i-1].Version, ms[i].Version)
	}

	first, ok := MigrationByVersion(1)
	require.True(t, ok)
	assert.Equal(t, "000001_init_schema", first.String())
	assert.Contains(t, first.Up, "CREATE TABLE IF NOT EXISTS games")
	assert.Len(t, first.Checksum, 64)

	_, ok = MigrationByVersion(999999)
	assert.False(t, ok)
}

func TestLoadMigrationsRejectsBadInput(t *testing.T) {
	_, err := LoadMigrations(fstest.MapFS{}, "migrations")
	assert.Error(t, err, "missing directory")

	_, err = LoadMigrations(fstest.MapFS{
		"migrations/000001_a.up.sql": {Data: []byte("SELECT 1;")},
	}, "migrations")
	assert.ErrorContains(t, err, "no down script")

	_, err = LoadMigrations(fstest.MapFS{
		"migrations/first.up.sql":   {Data: []byte("SELECT 1;")},
		"migrations/first.down.sql": {Data: []byte("SELECT 1;")},
	}, "migrations")
	assert.ErrorContains(t, err, "expected NNNNNN_name")

	_, err = LoadMigrations(fstest.MapFS{
		"migrations/000001_a.up.sql":   {Data: []byte("SELECT 1;")},
		"migrations/000001_a.down.sql": {Data: []byte("SELECT 1;")},
		"migrations/1_b.up.sql":        {Data: []byte("SELECT 1;")},
		"migrations/1_b.down.sql":      {Data: []byte("SELECT 1;")},
	}, "migrations")
	assert.ErrorContains(t, err, "used by both")
}

func sqliteMigrations(t *testing.T) []Migration {
	t.Helper()
	ms, err := LoadMigrations(fstest.MapFS{
		"migrations/000001_widgets.up.sql":      {Data: []byte("CREATE TABLE widgets (id INTEGER PRIMARY KEY, name TEXT);")},
		"migrations/000001_widgets.down.sql":    {Data: []byte("DROP TABLE widgets;")},
		"migrations/000002_widget_idx.up.sql":   {Data: []byte("CREATE INDEX idx_widgets_name ON widgets (name);")},
		"migrations/000002_widget_idx.down.sql": {Data: []byte("DROP INDEX idx_widgets_name;")},
	}, "migrations")
	require.NoError(t, err)
	return ms
}

func TestMigratorUpDown(t *testing.T) {
	ctx := context.Background()
	db, err := Open(sqlite.Open(":memory:"), &config.Config{DBMaxOpenConns: 1})
	require.NoError(t, err)

	m, err := NewMigrator(db, sqliteMigrations(t))
	require.NoError(t, err)

	pending, err := m.Pending(ctx)
	require.NoError(t, err)
	assert.Len(t, pending, 2, "fresh database has everything pending")

	n, err := m.Up(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.True(t, db.Migrator().HasTable("widgets"))

	n, err = m.Up(ctx)
	require.NoError(t, err)
	assert.Zero(t, n, "second run is a no-op")

	require.NoError(t, m.Down(ctx, 2))
	assert.False(t, db.Migrator().HasIndex("widgets", "idx_widgets_name"))
	assert.ErrorContains(t, m.Down(ctx, 2), "has not been applied")
	assert.ErrorContains(t, m.Down(ctx, 42), "not found")

	pending, err = m.Pending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, 2, pending[0].Version)
}

func TestMigratorRefusesDrift(t *testing.T) {
	ctx := context.Background()
	db, err := Open(sqlite.Open(":memory:"), &config.Config{DBMaxOpenConns: 1})
	require.NoError(t, err)

	ms := sqliteMigrations(t)
	m, err := NewMigrator(db, ms)
	require.NoError(t, err)
	_, err = m.Up(ctx)
	require.NoError(t, err)

	edited := append([]Migration(nil), ms...)
	edited[0].Checksum = "edited"
	m, err = NewMigrator(db, edited)
	require.NoError(t, err)
	_, err = m.Up(ctx)
	assert.ErrorContains(t, err, "edited afterwards")

	m, err = NewMigrator(db, ms[:1])
	require.NoError(t, err)
	_, err = m.Up(ctx)
	assert.ErrorContains(t, err, "does not know: 000002")
}

func TestAutoMigrateWithSQLite(t *testing.T) {
	cfg := &config.Config{Env: "test", DBSchemaMode: SchemaModeAuto, DBMaxOpenConns: 1}
	db, err := Open(sqlite.Open(":memory:"), cfg)
	require.NoError(t, err)

	require.NoError(t, ApplySchema(context.Background(), db, cfg))

	assert.True(t, db.Migrator().HasTable(&models.Game{}))
	assert.True(t, db.Migrator().HasTable(&models.CoinLedgerEntry{}))
}

func TestSchemaPolicy(t *testing.T) {
	tests := []struct {
		name    string
		cfg     config.Config
		wantSQL bool
		wantAut bool
		wantErr bool
	}{
		{"hybrid dev", config.Config{Env: "development"}, true, true, false},
		{"hybrid prod", config.Config{Env: "production"}, true, false, false},
		{"sql only", config.Config{Env: "development", DBSchemaMode: "sql"}, true, false, false},
		{"auto in prod refused", config.Config{Env: "production", DBSchemaMode: "auto"}, false, false, true},
		{"unknown", config.Config{Env: "development", DBSchemaMode: "magic"}, false, false, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			plan, err := planSchema(&tt.cfg)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantSQL, plan.runSQL)
			assert.Equal(t, tt.wantAut, plan.runAuto)
		})
	}
}
