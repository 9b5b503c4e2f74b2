package main

import (
	"errors"
	"fmt"
	"strings"

	"playforge/internal/seed"

	"github.com/spf13/cobra"
)

func newSeedCmd(a *app) *cobra.Command {
	var (
		preset string
		clean  bool
		fast   bool
		seedN  int64
	)

	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Fill the database with demo users, games and activity.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := a.config()
			if err != nil {
				return err
			}
			if cfg.IsProduction() {
				return errors.New("refusing to seed a production database")
			}
			db, err := a.database()
			if err != nil {
				return err
			}

			s, err := seed.NewSeeder(db, seed.Options{SkipBcrypt: fast, Seed: seedN})
			if err != nil {
				return err
			}
			if clean {
				if err := s.ClearAll(cmd.Context()); err != nil {
					return fmt.Errorf("cleanup failed: %w", err)
				}
			}
			sum, err := s.ApplyPreset(cmd.Context(), preset)
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "seeded %d users, %d games, %d likes, %d comments, %d follows, %d conversations\n",
				sum.Users, sum.Games, sum.Likes, sum.Comments, sum.Follows, sum.Conversations)
			fmt.Fprintf(cmd.OutOrStdout(), "every seeded user has the password %q\n", seed.DefaultPassword)
			return nil
		},
	}

	cmd.Flags().StringVar(&preset, "preset", "demo", "preset to apply ("+strings.Join(seed.PresetNames(), ", ")+")")
	cmd.Flags().BoolVar(&clean, "clean", false, "delete all application data first")
	cmd.Flags().BoolVar(&fast, "fast", true, "hash passwords at minimum bcrypt cost")
	cmd.Flags().Int64Var(&seedN, "seed", 0, "random seed for reproducible content (0 uses the clock)")
	return cmd
}
