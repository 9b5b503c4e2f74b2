package main

import (
	"fmt"
	"strconv"

	"playforge/internal/cache"
	"playforge/internal/middleware"
	"playforge/internal/repository"
	"playforge/internal/service"

	"github.com/spf13/cobra"
)

func newRoleCmd(a *app, use string, admin bool) *cobra.Command {
	short := "Grant admin rights to a user."
	if !admin {
		short = "Revoke admin rights from a user."
	}
	return &cobra.Command{
		Use:   use + " <user-id|username>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			u, err := a.resolveUser(ctx, args[0])
			if err != nil {
				return err
			}
			if u.IsAdmin == admin {
				fmt.Fprintf(cmd.OutOrStdout(), "%s (id %d) already has is_admin=%t\n", u.Username, u.ID, admin)
				return nil
			}
			svc := service.NewUserService(repository.NewUserRepository(a.db), repository.NewFollowRepository(a.db))
			if _, err := svc.SetAdmin(ctx, u.ID, admin); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s (id %d) is_admin=%t\n", u.Username, u.ID, admin)
			return nil
		},
	}
}

// newBanCmd bans or unbans a user. With Redis reachable the ban marker is
// written too, so live sessions are cut off immediately.
func newBanCmd(a *app, use string, banned bool) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <user-id|username>",
		Short: "Set a user's banned state.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			u, err := a.resolveUser(ctx, args[0])
			if err != nil {
				return err
			}
			svc := service.NewUserService(repository.NewUserRepository(a.db), repository.NewFollowRepository(a.db))
			if _, err := svc.SetBanned(ctx, u.ID, banned); err != nil {
				return err
			}

			cache.InitRedis(a.cfg.RedisURL)
			if rdb := cache.GetClient(); rdb != nil {
				key := "banned_user:" + strconv.FormatUint(uint64(u.ID), 10)
				if banned {
					err = rdb.Set(ctx, key, 1, middleware.AccessTokenTTL).Err()
				} else {
					err = rdb.Del(ctx, key).Err()
				}
				if err != nil {
					fmt.Fprintf(cmd.ErrOrStderr(), "warning: ban marker not updated: %v\n", err)
				}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s (id %d) is_banned=%t\n", u.Username, u.ID, banned)
			return nil
		},
	}
}

func newGrantCoinsCmd(a *app) *cobra.Command {
	var note string
	cmd := &cobra.Command{
		Use:   "grant-coins <user-id|username> <amount>",
		Short: "Credit (or, with a negative amount, debit) coins.",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			amount, err := strconv.ParseInt(args[1], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid amount %q: %w", args[1], err)
			}
			ctx := cmd.Context()
			u, err := a.resolveUser(ctx, args[0])
			if err != nil {
				return err
			}
			coins := service.NewCoinService(repository.NewCoinRepository(a.db), 0)
			entry, err := coins.AdminGrant(ctx, u.ID, amount, note)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s (id %d) balance %d (%+d)\n", u.Username, u.ID, entry.BalanceAfter, entry.Delta)
			return nil
		},
	}
	cmd.Flags().StringVar(&note, "note", "playforgectl", "ledger note")
	return cmd
}
