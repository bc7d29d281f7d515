package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/timmy/voicecat/internal/logger"
)

var version = "dev"

func main() {
	appLogger := logger.NewFromEnv(nil)
	logger.SetDefaultLogger(appLogger)
	defer logger.Sync()

	rootCmd := &cobra.Command{
		Use:     "voicecat-analyze",
		Short:   "Speaker and gender analysis of utterance embeddings",
		Long:    "Merges the embedding shards of a source, clusters speakers, classifies gender and writes the results to the catalogue.",
		Version: version,
	}
	rootCmd.PersistentFlags().String("config", os.Getenv("CONFIG_PATH"), "Path to config file")

	rootCmd.AddCommand(newRunCmd())
	rootCmd.AddCommand(newMergeCmd())
	rootCmd.AddCommand(newRunsCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		_ = logger.Sync()
		os.Exit(1)
	}
}
