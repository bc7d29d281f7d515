package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/timmy/voicecat/internal/app"
	"github.com/timmy/voicecat/internal/config"
	"github.com/timmy/voicecat/internal/logger"
	"github.com/timmy/voicecat/internal/service"
)

// setup loads the configuration, applies flag overrides and wires the app.
// The returned context is cancelled on SIGINT or SIGTERM.
func setup(cmd *cobra.Command, override func(*config.Config)) (context.Context, *app.App, func(), error) {
	configPath, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load config: %w", err)
	}
	if override != nil {
		override(cfg)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	a, err := app.New(ctx, cfg, nil)
	if err != nil {
		stop()
		return nil, nil, nil, err
	}

	cleanup := func() {
		stop()
		if err := a.Close(); err != nil {
			logger.Warn("Close failed: %v", err)
		}
	}
	return ctx, a, cleanup, nil
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newRunCmd() *cobra.Command {
	c := &cobra.Command{
		Use:   "run",
		Short: "Run the full analysis of one source",
		RunE: func(cmd *cobra.Command, args []string) error {
			source, _ := cmd.Flags().GetString("source")
			if err := service.ValidateSource(source); err != nil {
				return err
			}

			ctx, a, cleanup, err := setup(cmd, func(cfg *config.Config) {
				opts := &cfg.AudioAnalysis.Options
				if cmd.Flags().Changed("speaker") {
					opts.SpeakerAnalysis, _ = cmd.Flags().GetBool("speaker")
				}
				if cmd.Flags().Changed("gender") {
					opts.GenderAnalysis, _ = cmd.Flags().GetBool("gender")
				}
				if cmd.Flags().Changed("voice-index") {
					opts.VoiceIndex, _ = cmd.Flags().GetBool("voice-index")
				}
			})
			if err != nil {
				return err
			}
			defer cleanup()

			report, runErr := a.Analysis.Run(ctx, service.RunRequest{Source: source})
			if report != nil {
				if err := printJSON(report); err != nil {
					return err
				}
			}
			return runErr
		},
	}
	c.Flags().String("source", "", "Source to analyse (required)")
	c.Flags().Bool("speaker", false, "Override analysis_options.speaker_analysis")
	c.Flags().Bool("gender", false, "Override analysis_options.gender_analysis")
	c.Flags().Bool("voice-index", false, "Override analysis_options.voice_index")
	_ = c.MarkFlagRequired("source")
	return c
}

func newMergeCmd() *cobra.Command {
	c := &cobra.Command{
		Use:   "merge",
		Short: "Merge the embedding shards of a source without running any analysis",
		RunE: func(cmd *cobra.Command, args []string) error {
			source, _ := cmd.Flags().GetString("source")
			if err := service.ValidateSource(source); err != nil {
				return err
			}

			// Adapters are not needed to merge.
			ctx, a, cleanup, err := setup(cmd, func(cfg *config.Config) {
				cfg.AudioAnalysis.Options = config.AnalysisOptions{}
			})
			if err != nil {
				return err
			}
			defer cleanup()

			res, err := a.Aggregator.Aggregate(logger.SetSource(ctx, source), source)
			if err != nil {
				return err
			}
			out := map[string]interface{}{
				"source":          res.Source,
				"local_path":      res.LocalPath,
				"remote_path":     res.RemotePath,
				"from_cache":      res.FromCache,
				"cached":          res.Cached,
				"shard_count":     res.ShardCount,
				"embedding_count": res.EmbeddingCount,
			}
			if res.CacheErr != nil {
				out["cache_error"] = res.CacheErr.Error()
			}
			return printJSON(out)
		},
	}
	c.Flags().String("source", "", "Source to merge (required)")
	_ = c.MarkFlagRequired("source")
	return c
}

func newRunsCmd() *cobra.Command {
	c := &cobra.Command{
		Use:   "runs",
		Short: "List recorded analysis runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			source, _ := cmd.Flags().GetString("source")
			limit, _ := cmd.Flags().GetInt("limit")

			ctx, a, cleanup, err := setup(cmd, func(cfg *config.Config) {
				cfg.AudioAnalysis.Options = config.AnalysisOptions{}
			})
			if err != nil {
				return err
			}
			defer cleanup()

			runs, err := a.Runs.ListBySource(ctx, source, limit)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tSOURCE\tSTATE\tSPEAKERS\tUTTERANCES\tGENDER\tSTARTED")
			for _, r := range runs {
				started := ""
				if r.StartedAt != nil {
					started = r.StartedAt.Format(time.RFC3339)
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%d\t%s\n",
					r.ID, r.Source, r.State, r.SpeakersCreated+r.SpeakersReused, r.UtterancesUpdated, r.GenderUpdated, started)
			}
			return w.Flush()
		},
	}
	c.Flags().String("source", "", "Only list runs of this source")
	c.Flags().Int("limit", 20, "Maximum number of runs")
	return c
}
