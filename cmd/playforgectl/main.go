// Command playforgectl is the operator CLI: schema migrations, seeding,
// account administration and realtime probes.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"playforge/internal/config"
	"playforge/internal/database"
	"playforge/internal/models"
	"playforge/internal/repository"

	"github.com/spf13/cobra"
	"gorm.io/gorm"
)

// app carries state shared by subcommands. Config and the database are
// loaded lazily so `help` and `ws-probe` work without either.
type app struct {
	cfg *config.Config
	db  *gorm.DB
}

func (a *app) config() (*config.Config, error) {
	if a.cfg != nil {
		return a.cfg, nil
	}
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	a.cfg = cfg
	return cfg, nil
}

// database connects without touching the schema; migrate owns that.
func (a *app) database() (*gorm.DB, error) {
	if a.db != nil {
		return a.db, nil
	}
	cfg, err := a.config()
	if err != nil {
		return nil, err
	}
	db, err := database.ConnectWithOptions(cfg, database.ConnectOptions{ApplySchema: false})
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	a.db = db
	return db, nil
}

// resolveUser accepts a numeric ID or a username.
func (a *app) resolveUser(ctx context.Context, ref string) (*models.User, error) {
	db, err := a.database()
	if err != nil {
		return nil, err
	}
	users := repository.NewUserRepository(db)

	if id, err := strconv.ParseUint(ref, 10, 32); err == nil {
		return users.GetByID(ctx, uint(id))
	}
	u, err := users.GetByUsername(ctx, strings.TrimPrefix(ref, "@"))
	if err != nil {
		return nil, err
	}
	if u == nil {
		return nil, fmt.Errorf("user %q not found", ref)
	}
	return u, nil
}

func newRootCmd() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:           "playforgectl",
		Short:         "Operate a Playforge deployment.",
		SilenceErrors: true,
		SilenceUsage:  true,
	}
	root.CompletionOptions.HiddenDefaultCmd = true

	root.AddCommand(
		newMigrateCmd(a),
		newSeedCmd(a),
		newRoleCmd(a, "promote", true),
		newRoleCmd(a, "demote", false),
		newBanCmd(a, "ban", true),
		newBanCmd(a, "unban", false),
		newGrantCoinsCmd(a),
		newExpireQueueCmd(a),
		newWSProbeCmd(),
	)
	return root
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
