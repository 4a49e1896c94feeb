// voxprep prepares volumetric medical-imaging datasets for training or
// inference: it resolves each manifest subject, applies the configured
// transform pipeline once, and persists training-ready artifacts plus a
// resumable output manifest.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"voxprep/internal/config"
	"voxprep/internal/logging"
	"voxprep/internal/manifest"
	"voxprep/internal/pipeline"
	"voxprep/internal/telemetry"
)

// version is stamped by the release build.
var version = "dev"

var (
	logLevel string
	logJSON  bool

	configPath   string
	inputData    string
	outputRoot   string
	modeName     string
	labelPadMode string
	augment      bool
	zeroCrop     bool
	force        bool
	workers      int
	metricsPort  int
)

var rootCmd = &cobra.Command{
	Use:           "voxprep",
	Short:         "preprocess volumetric imaging datasets into training-ready artifacts",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		logging.Configure(logging.Options{Level: logLevel, JSON: logJSON})
	},
}

var preprocessCmd = &cobra.Command{
	Use:   "preprocess",
	Short: "run the transform pipeline over every subject in the input manifest",
	RunE:  runPreprocess,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "print the build version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("voxprep", version)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug|info|warn|error)")
	rootCmd.PersistentFlags().BoolVar(&logJSON, "log-json", false, "emit JSON logs")

	f := preprocessCmd.Flags()
	f.StringVar(&configPath, "config", "", "pipeline configuration YAML")
	f.StringVar(&inputData, "inputdata", "", "input subject manifest CSV")
	f.StringVar(&outputRoot, "output", "", "output directory for artifacts and the output manifest")
	f.StringVar(&modeName, "mode", "train", "pipeline mode (train|inference)")
	f.StringVar(&labelPadMode, "label-pad-mode", "constant", "label padding strategy (constant|edge|reflect|none)")
	f.BoolVar(&augment, "augment", false, "apply seeded augmentation (train mode only)")
	f.BoolVar(&zeroCrop, "zero-crop", false, "crop subjects to their foreground bounding box")
	f.BoolVar(&force, "force", false, "reprocess subjects already present in the output manifest")
	f.IntVar(&workers, "workers", 0, "concurrent subjects (0 = GOMAXPROCS, capped at 8)")
	f.IntVar(&metricsPort, "metrics-port", 0, "Prometheus /metrics port (0 = disabled)")
	_ = preprocessCmd.MarkFlagRequired("config")
	_ = preprocessCmd.MarkFlagRequired("inputdata")
	_ = preprocessCmd.MarkFlagRequired("output")

	rootCmd.AddCommand(preprocessCmd, versionCmd)
}

func runPreprocess(cmd *cobra.Command, args []string) error {
	mode, err := config.ParseMode(modeName)
	if err != nil {
		return err
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	// flags override config fields only when the user set them explicitly
	if cmd.Flags().Changed("label-pad-mode") {
		cfg.Preprocessing.LabelPadMode = labelPadMode
	}
	if cmd.Flags().Changed("augment") {
		cfg.Augmentation.Enabled = augment
	}
	if cmd.Flags().Changed("zero-crop") {
		cfg.Preprocessing.ZeroCrop = zeroCrop
	}
	if cmd.Flags().Changed("workers") && workers > 0 {
		cfg.Runtime.Workers = workers
	}
	if cmd.Flags().Changed("metrics-port") {
		cfg.Runtime.MetricsPort = metricsPort
	}

	rows, err := manifest.ParseInput(inputData, cfg.Data.Modalities)
	if err != nil {
		return err
	}
	runner, err := pipeline.Compile(cfg, pipeline.Options{
		OutputRoot: outputRoot,
		Mode:       mode,
		Force:      force,
	})
	if err != nil {
		return err
	}

	metrics := telemetry.Expose(cfg.Runtime.MetricsPort)
	defer func() {
		ctx, stop := context.WithTimeout(context.Background(), 2*time.Second)
		defer stop()
		metrics.Stop(ctx)
	}()

	sum, err := runner.Run(cmd.Context(), rows)
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	fmt.Printf("voxprep: %d succeeded, %d skipped, %d failed", sum.Succeeded, sum.Skipped, sum.Failed)
	if sum.Warnings > 0 {
		fmt.Printf(" (%d warnings)", sum.Warnings)
	}
	fmt.Println()
	for _, f := range sum.Failures {
		fmt.Printf("  failed %s: %v\n", f.Subject, f.Err)
	}
	if errors.Is(err, context.Canceled) {
		fmt.Println("voxprep: interrupted; rerun with the same arguments to resume")
	}
	return nil
}

func main() {
	logging.InitFromEnv()
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		logging.L().Error("fatal", "error", err)
		fmt.Fprintln(os.Stderr, "voxprep:", err)
		os.Exit(1)
	}
}
