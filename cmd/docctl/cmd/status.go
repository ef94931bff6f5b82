package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const defaultPollInterval = time.Second

var statusCmd = &cobra.Command{
	Use:   "status [task_id]",
	Short: "Get status of a processing task",
	Long:  `Retrieve the state (PENDING, PROGRESS, SUCCESS, FAILURE), progress and result of an upload task.`,
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}

		st, err := NewClient(viper.GetString("url")).TaskStatus(ctx, args[0])
		if err != nil {
			return err
		}

		cmd.Printf("Task:     %s\n", st.TaskID)
		cmd.Printf("State:    %s\n", st.State)
		cmd.Printf("Progress: %d%%\n", st.Progress)
		cmd.Printf("Message:  %s\n", st.Message)
		if st.Result != nil {
			cmd.Printf("Document: %d (%d chunks)\n", st.Result.DocumentID, st.Result.NumChunks)
		}
		if st.Error != "" {
			cmd.Printf("Error:    %s\n", st.Error)
		}
		return nil
	},
}

func printOutcome(cmd *cobra.Command, st *TaskStatus) error {
	if st.State == "FAILURE" {
		cmd.Printf("Task %s failed: %s\n", st.TaskID, st.Error)
		return fmt.Errorf("task %s failed", st.TaskID)
	}
	if st.Result != nil {
		cmd.Printf("Task %s done: document %d, %d chunks\n", st.TaskID, st.Result.DocumentID, st.Result.NumChunks)
	}
	return nil
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
