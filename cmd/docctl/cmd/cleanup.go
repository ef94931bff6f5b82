package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"doc-ingest-service/internal/repository/postgresql"
	"doc-ingest-service/internal/worker"
)

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Delete documents older than the given number of days",
	Long:  `Run one retention sweep against Postgres. Chunks are removed together with their documents.`,
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		days, _ := cmd.Flags().GetInt("days")
		dsn, _ := cmd.Flags().GetString("dsn")
		if dsn == "" {
			dsn = viper.GetString("dsn")
		}
		if days <= 0 {
			return fmt.Errorf("--days must be positive")
		}
		if dsn == "" {
			return fmt.Errorf("postgres DSN not set; use --dsn or DOCCTL_DSN")
		}

		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}

		pool, err := postgresql.NewPool(ctx, dsn)
		if err != nil {
			return err
		}
		defer pool.Close()

		maxAge := time.Duration(days) * 24 * time.Hour
		n, err := worker.NewRetention(postgresql.NewDocumentRepository(pool), maxAge, 0).Sweep(ctx)
		if err != nil {
			return err
		}
		cmd.Printf("Removed %d documents older than %d days\n", n, days)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(cleanupCmd)

	cleanupCmd.Flags().Int("days", 0, "retention in days")
	cleanupCmd.Flags().String("dsn", "", "Postgres DSN (default $DOCCTL_DSN)")
}
