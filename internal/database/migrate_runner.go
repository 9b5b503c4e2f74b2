package database

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"playforge/internal/middleware"

	"gorm.io/gorm"
)

// migrationLockID keys the Postgres advisory lock held while a migration
// runs, so replicas starting together apply each script once.
const migrationLockID = 7_150_271_033

// MigrationLog is one applied migration.
type MigrationLog struct {
	Version   int       `gorm:"primaryKey;autoIncrement:false"`
	Name      string    `gorm:"size:255;not null"`
	Checksum  string    `gorm:"size:64"`
	AppliedAt time.Time `gorm:"autoCreateTime;index"`
}

func (MigrationLog) TableName() string {
	return "migration_logs"
}

// Migrator applies a set of migrations and records them in migration_logs.
type Migrator struct {
	db         *gorm.DB
	migrations []Migration
}

// NewMigrator uses the given migrations; nil means the embedded set.
func NewMigrator(db *gorm.DB, migrations []Migration) (*Migrator, error) {
	if migrations == nil {
		var err error
		if migrations, err = Migrations(); err != nil {
			return nil, err
		}
	}
	return &Migrator{db: db, migrations: migrations}, nil
}

func (m *Migrator) ensureLogTable(ctx context.Context) error {
	if err := m.db.WithContext(ctx).AutoMigrate(&MigrationLog{}); err != nil {
		return fmt.Errorf("ensure migration_logs: %w", err)
	}
	return nil
}

// Applied returns applied migrations ordered by version. A database that
// has never been migrated has none.
func (m *Migrator) Applied(ctx context.Context) ([]MigrationLog, error) {
	var logs []MigrationLog
	err := m.db.WithContext(ctx).Order("version ASC").Find(&logs).Error
	if err != nil {
		if isMissingTableError(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("list applied migrations: %w", err)
	}
	return logs, nil
}

// Pending returns known migrations that have not been applied.
func (m *Migrator) Pending(ctx context.Context) ([]Migration, error) {
	logs, err := m.Applied(ctx)
	if err != nil {
		return nil, err
	}
	done := make(map[int]bool, len(logs))
	for _, l := range logs {
		done[l.Version] = true
	}
	var pending []Migration
	for _, mig := range m.migrations {
		if !done[mig.Version] {
			pending = append(pending, mig)
		}
	}
	return pending, nil
}

// Up applies every pending migration in version order, each in its own
// transaction. It refuses to run when the log holds versions this build does
// not know or scripts that changed after being applied.
func (m *Migrator) Up(ctx context.Context) (int, error) {
	if err := m.ensureLogTable(ctx); err != nil {
		return 0, err
	}
	logs, err := m.Applied(ctx)
	if err != nil {
		return 0, err
	}
	if err := m.verify(logs); err != nil {
		return 0, err
	}

	pending, err := m.Pending(ctx)
	if err != nil {
		return 0, err
	}
	applied := 0
	for _, mig := range pending {
		ran, err := m.apply(ctx, mig)
		if err != nil {
			return applied, err
		}
		if ran {
			applied++
		}
	}
	return applied, nil
}

func (m *Migrator) apply(ctx context.Context, mig Migration) (bool, error) {
	ran := false
	err := m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if tx.Dialector.Name() == "postgres" {
			if err := tx.Exec("SELECT pg_advisory_xact_lock(?)", migrationLockID).Error; err != nil {
				return fmt.Errorf("acquire migration lock: %w", err)
			}
		}
		// Another replica may have applied it while we waited on the lock.
		var count int64
		if err := tx.Model(&MigrationLog{}).Where("version = ?", mig.Version).Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return nil
		}

		middleware.Logger.InfoContext(ctx, "applying migration", slog.String("migration", mig.String()))
		if err := tx.Exec(mig.Up).Error; err != nil {
			return fmt.Errorf("apply migration %s: %w", mig, err)
		}
		ran = true
		return tx.Create(&MigrationLog{Version: mig.Version, Name: mig.Name, Checksum: mig.Checksum}).Error
	})
	return ran, err
}

// Down reverts one applied migration.
func (m *Migrator) Down(ctx context.Context, version int) error {
	var mig *Migration
	for i := range m.migrations {
		if m.migrations[i].Version == version {
			mig = &m.migrations[i]
			break
		}
	}
	if mig == nil {
		return fmt.Errorf("migration version %d not found", version)
	}

	return m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Where("version = ?", version).Delete(&MigrationLog{})
		if res.Error != nil {
			if isMissingTableError(res.Error) {
				return fmt.Errorf("migration %d has not been applied", version)
			}
			return res.Error
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("migration %d has not been applied", version)
		}
		middleware.Logger.InfoContext(ctx, "rolling back migration", slog.String("migration", mig.String()))
		if err := tx.Exec(mig.Down).Error; err != nil {
			return fmt.Errorf("roll back migration %s: %w", mig, err)
		}
		return nil
	})
}

func (m *Migrator) verify(logs []MigrationLog) error {
	known := make(map[int]Migration, len(m.migrations))
	for _, mig := range m.migrations {
		known[mig.Version] = mig
	}

	var unknown, drifted []string
	for _, l := range logs {
		mig, ok := known[l.Version]
		switch {
		case !ok:
			unknown = append(unknown, fmt.Sprintf("%06d", l.Version))
		case l.Checksum != "" && l.Checksum != mig.Checksum:
			drifted = append(drifted, mig.String())
		}
	}
	sort.Strings(unknown)

	var errs []error
	if len(unknown) > 0 {
		errs = append(errs, fmt.Errorf("migration_logs has versions this build does not know: %s", strings.Join(unknown, ", ")))
	}
	if len(drifted) > 0 {
		errs = append(errs, fmt.Errorf("applied migrations were edited afterwards: %s", strings.Join(drifted, ", ")))
	}
	return errors.Join(errs...)
}

func isMissingTableError(err error) bool {
	msg := err.Error()
	return (strings.Contains(msg, "relation") && strings.Contains(msg, "does not exist")) ||
		strings.Contains(msg, "no such table")
}

// RunMigrations applies the embedded migrations.
func RunMigrations(ctx context.Context, db *gorm.DB) error {
	m, err := NewMigrator(db, nil)
	if err != nil {
		return err
	}
	n, err := m.Up(ctx)
	if err != nil {
		return err
	}
	middleware.Logger.InfoContext(ctx, "sql migrations complete", slog.Int("applied", n))
	return nil
}

// RollbackMigration reverts one embedded migration by version.
func RollbackMigration(ctx context.Context, db *gorm.DB, version int) error {
	m, err := NewMigrator(db, nil)
	if err != nil {
		return err
	}
	return m.Down(ctx, version)
}

// PendingMigrations lists embedded migrations not yet applied.
func PendingMigrations(ctx context.Context, db *gorm.DB) ([]Migration, error) {
	m, err := NewMigrator(db, nil)
	if err != nil {
		return nil, err
	}
	return m.Pending(ctx)
}
