package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "docctl",
	Short: "docctl talks to the document ingestion service",
	Long: `docctl is the command-line interface for the document ingestion service.

Uploads are accepted by the API, queued, and processed by workers which
extract the text, split it into chunks and store the result in Postgres.

Common workflows:

  Upload a document and wait for it to finish:
    docctl submit report.pdf --owner 42 --wait

  Check a task:
    docctl status <task-id>

  Remove documents older than 30 days:
    docctl cleanup --days 30 --dsn postgres://...

Configuration:
  DOCCTL_URL    API endpoint (default: http://localhost:8080)
  DOCCTL_DSN    Postgres DSN used by cleanup`,
	SilenceUsage: true,
}

func Execute() error {
	return rootCmd.Execute()
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			fmt.Println(err)
			os.Exit(1)
		}

		viper.AddConfigPath(home)
		viper.SetConfigName(".docctl")
		viper.SetConfigType("yaml")
	}

	viper.SetEnvPrefix("DOCCTL")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.docctl.yaml)")

	rootCmd.PersistentFlags().String("url", "http://localhost:8080", "document service URL")
	viper.BindPFlag("url", rootCmd.PersistentFlags().Lookup("url"))
}
