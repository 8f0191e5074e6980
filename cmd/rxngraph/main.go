// Package main provides the rxngraph CLI entry point.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/crnlab/rxngraph/pkg/config"
	"github.com/crnlab/rxngraph/pkg/dataset"
	"github.com/crnlab/rxngraph/pkg/reaction"
	"github.com/crnlab/rxngraph/pkg/scale"
	"github.com/crnlab/rxngraph/pkg/store"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "rxngraph",
		Short: "rxngraph - reaction graph dataset preparation",
		Long: `rxngraph merges per-molecule graphs into reaction-level graphs,
standardizes features and labels, and persists sample collections into
sharded embedded key-value stores for training workers.

Configuration comes from RXNGRAPH_* environment variables; flags
override them per invocation.`,
	}

	// Version command
	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("rxngraph v%s (%s)\n", version, commit)
		},
	})

	// Build command
	buildCmd := &cobra.Command{
		Use:   "build",
		Short: "Build a merged sample store from molecules and reaction records",
		Long: `Build assembles the dataset: loads pre-featurized molecule graphs and
raw reaction records, validates and merges each reaction, standardizes
features and labels, writes shards in parallel and merges them into one
store.`,
		RunE: runBuild,
	}
	buildCmd.Flags().String("molecules", "", "Pre-featurized molecule YAML file (required)")
	buildCmd.Flags().String("records", "", "Raw reaction-record YAML file (required)")
	buildCmd.Flags().String("data-dir", "", "Scratch and output directory")
	buildCmd.Flags().String("store-name", "", "Merged store name under the data directory")
	buildCmd.Flags().Int("workers", 0, "Parallel shard writers")
	buildCmd.Flags().String("state", "", "Reuse a previously saved statistics file")
	buildCmd.Flags().String("stats-out", "", "Write dataset statistics to this file")
	rootCmd.AddCommand(buildCmd)

	// Merge command
	mergeCmd := &cobra.Command{
		Use:   "merge [shard...]",
		Short: "Merge existing shard stores into one store",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runMerge,
	}
	mergeCmd.Flags().String("out", "", "Merged store path (required)")
	rootCmd.AddCommand(mergeCmd)

	// Inspect command
	inspectCmd := &cobra.Command{
		Use:   "inspect [store]",
		Short: "Print a store's length, metadata and fingerprint",
		Args:  cobra.ExactArgs(1),
		RunE:  runInspect,
	}
	rootCmd.AddCommand(inspectCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runBuild(cmd *cobra.Command, args []string) error {
	cfg := config.LoadFromEnv()
	applyBuildFlags(cmd, cfg)
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	moleculesPath, _ := cmd.Flags().GetString("molecules")
	if moleculesPath == "" {
		return fmt.Errorf("--molecules is required")
	}
	if cfg.Data.RecordsFile == "" {
		return fmt.Errorf("--records is required")
	}

	logger, err := cfg.NewLogger()
	if err != nil {
		return err
	}
	defer logger.Sync()
	logger.Info("build starting", zap.String("config", cfg.String()))

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	mols, err := dataset.LoadMolecules(moleculesPath)
	if err != nil {
		return err
	}
	records, err := dataset.LoadRawRecords(cfg.Data.RecordsFile)
	if err != nil {
		return err
	}
	grapher, err := dataset.NewStaticGrapher(mols)
	if err != nil {
		return err
	}

	builder := &dataset.Builder{
		Grapher:          grapher,
		Molecules:        mols,
		Records:          records,
		Dtype:            cfg.Pipeline.Dtype,
		FeatureTransform: cfg.Pipeline.FeatureTransform,
		LabelTransform:   cfg.Pipeline.LabelTransform,
		Classifier:       cfg.Pipeline.Classifier,
		Categories:       cfg.Pipeline.Categories,
		Logger:           logger,
	}
	if cfg.Pipeline.LabelPolicy == "extensive" {
		builder.LabelPolicy = dataset.LabelExtensive
	}
	if cfg.Data.StatisticsFile != "" {
		state, err := scale.LoadStatistics(cfg.Data.StatisticsFile)
		if err != nil {
			return err
		}
		builder.State = state
		logger.Info("reusing statistics state", zap.String("path", cfg.Data.StatisticsFile))
	}

	ds, err := builder.Build()
	if err != nil {
		return err
	}

	outPath, err := ds.WriteStore(ctx, reaction.NewBuilder(logger),
		cfg.Data.DataDir, cfg.Data.StoreName, cfg.Pipeline.NumWorkers, logger)
	if err != nil {
		return err
	}

	if statsOut, _ := cmd.Flags().GetString("stats-out"); statsOut != "" {
		if err := scale.SaveStatistics(statsOut, ds.Statistics); err != nil {
			return err
		}
		logger.Info("statistics written", zap.String("path", statsOut))
	}

	fmt.Printf("Wrote %d samples to %s\n", ds.Len(), outPath)
	return nil
}

// applyBuildFlags overlays explicitly set flags on the env-derived config.
func applyBuildFlags(cmd *cobra.Command, cfg *config.Config) {
	if v, _ := cmd.Flags().GetString("records"); v != "" {
		cfg.Data.RecordsFile = v
	}
	if v, _ := cmd.Flags().GetString("data-dir"); v != "" {
		cfg.Data.DataDir = v
	}
	if v, _ := cmd.Flags().GetString("store-name"); v != "" {
		cfg.Data.StoreName = v
	}
	if v, _ := cmd.Flags().GetInt("workers"); v > 0 {
		cfg.Pipeline.NumWorkers = v
	}
	if v, _ := cmd.Flags().GetString("state"); v != "" {
		cfg.Data.StatisticsFile = v
	}
}

func runMerge(cmd *cobra.Command, args []string) error {
	outPath, _ := cmd.Flags().GetString("out")
	if outPath == "" {
		return fmt.Errorf("--out is required")
	}

	cfg := config.LoadFromEnv()
	logger, err := cfg.NewLogger()
	if err != nil {
		return err
	}
	defer logger.Sync()

	if err := store.MergeShards(args, outPath, logger); err != nil {
		return err
	}
	fmt.Printf("Merged %d shards into %s\n", len(args), outPath)
	return nil
}

func runInspect(cmd *cobra.Command, args []string) error {
	s, err := store.Open(args[0], nil)
	if err != nil {
		return err
	}
	defer s.Close()

	fmt.Printf("Store:   %s\n", args[0])
	fmt.Printf("Length:  %d\n", s.Length())

	if dtype, err := s.Dtype(); err == nil {
		fmt.Printf("Dtype:   %s\n", dtype)
	}
	if sizes, err := s.FeatureSize(); err == nil {
		fmt.Printf("Feature sizes:\n")
		for t, n := range sizes {
			fmt.Printf("  %-8s %d\n", t, n)
		}
	}
	if fp, err := s.Fingerprint(); err == nil {
		fmt.Printf("Fingerprint: %s\n", fp)
	}
	return nil
}
