package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/repostdhq/repostd/internal/config"
	"github.com/repostdhq/repostd/internal/db"
)

func main() {
	root := &cobra.Command{
		Use:           "repostd",
		Short:         "Channel repost service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "Run the repost server",
		Run: func(cmd *cobra.Command, args []string) {
			runServe()
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			return db.Migrate(cfg.Postgres)
		},
	})

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
