package main

import (
	"fmt"
	"time"

	"playforge/internal/repository"
	"playforge/internal/service"

	"github.com/spf13/cobra"
)

func newExpireQueueCmd(a *app) *cobra.Command {
	var maxAge time.Duration
	cmd := &cobra.Command{
		Use:   "expire-queue",
		Short: "Expire matchmaking tickets that waited too long.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			db, err := a.database()
			if err != nil {
				return err
			}
			mm := service.NewMatchmakingService(repository.NewMatchRepository(db), repository.NewGameRepository(db), nil, nil, nil)
			n, err := mm.ExpireStale(cmd.Context(), maxAge)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "expired %d tickets\n", n)
			return nil
		},
	}
	cmd.Flags().DurationVar(&maxAge, "max-age", service.QueueMaxWait, "expire tickets older than this")
	return cmd
}
