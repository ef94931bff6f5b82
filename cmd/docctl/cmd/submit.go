package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var submitCmd = &cobra.Command{
	Use:   "submit [file]",
	Short: "Upload a PDF or DOCX document",
	Long:  `Upload a document for processing. The command prints the task id; with --wait it polls the task until it succeeds or fails.`,
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		owner, _ := cmd.Flags().GetInt64("owner")
		wait, _ := cmd.Flags().GetBool("wait")
		interval, _ := cmd.Flags().GetDuration("interval")

		if owner <= 0 {
			return fmt.Errorf("--owner must be a positive id")
		}

		data, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("read %s: %w", args[0], err)
		}

		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}

		client := NewClient(viper.GetString("url"))
		resp, err := client.Submit(ctx, args[0], data, owner)
		if err != nil {
			return err
		}
		cmd.Printf("Task %s submitted (%s)\n", resp.TaskID, resp.Status)

		if !wait {
			return nil
		}

		st, err := client.WaitForTask(ctx, resp.TaskID, interval, func(s TaskStatus) {
			cmd.Printf("  %3d%% %s\n", s.Progress, s.Message)
		})
		if err != nil {
			return err
		}
		return printOutcome(cmd, st)
	},
}

func init() {
	rootCmd.AddCommand(submitCmd)

	submitCmd.Flags().Int64("owner", 0, "owner id to attach to the document")
	submitCmd.Flags().Bool("wait", false, "poll the task until it finishes")
	submitCmd.Flags().Duration("interval", defaultPollInterval, "poll interval used with --wait")
}
