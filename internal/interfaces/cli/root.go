package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/turtacn/gnn-opf/internal/application/pipeline"
	"github.com/turtacn/gnn-opf/internal/config"
	"github.com/turtacn/gnn-opf/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/gnn-opf/internal/infrastructure/monitoring/prometheus"
	"github.com/turtacn/gnn-opf/internal/infrastructure/storage/minio"
	"github.com/turtacn/gnn-opf/pkg/errors"
)

// Build-time variables injected via ldflags.
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

// cliContextKey is the context key for CLIContext.
type cliContextKey struct{}

// RootOptions holds global CLI flags.
type RootOptions struct {
	ConfigPath   string
	LogLevel     string
	OutputFormat string
	Verbose      bool
	Timeout      time.Duration

	// Run parameter overrides; applied only when the flag is set.
	NumScenarios  int
	LoadVariation float64
	Epochs        int
	BatchSize     int
	LearningRate  float64
	Seed          uint64
	Case          string
	DataDir       string
}

// CLIContext carries initialized dependencies through the command tree.
type CLIContext struct {
	Config       *config.Config
	Logger       logging.Logger
	Collector    prometheus.MetricsCollector
	Store        minio.ArtifactRepository
	OutputFormat string

	cancel context.CancelFunc
}

// NewRootCommand creates the root command with all global flags and subcommands.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "gnnopf",
		Short: "GNN-OPF: learn optimal power flow costs from grid topology",
		Long: `gnnopf generates load scenarios on a transmission network, prices them with a
DC optimal power flow, and trains a feed-forward baseline and a graph neural
network to predict the total generation cost.`,
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", Version, GitCommit, BuildDate),
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return persistentPreRun(cmd, opts)
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if cliCtx, err := GetCLIContext(cmd); err == nil && cliCtx.cancel != nil {
				cliCtx.cancel()
			}
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := cmd.PersistentFlags()
	pf.StringVarP(&opts.ConfigPath, "config", "c", "", "config file path (default: ./gnnopf.yaml)")
	pf.StringVar(&opts.LogLevel, "log-level", "", "log level (debug, info, warn, error)")
	pf.StringVarP(&opts.OutputFormat, "output", "o", "table", "output format (table, json)")
	pf.BoolVarP(&opts.Verbose, "verbose", "v", false, "enable debug logging")
	pf.DurationVar(&opts.Timeout, "timeout", 0, "abort the command after this long (0 disables)")

	pf.IntVar(&opts.NumScenarios, "num-scenarios", 0, "number of scenarios to generate")
	pf.Float64Var(&opts.LoadVariation, "load-variation", 0, "relative load perturbation in (0, 1)")
	pf.IntVar(&opts.Epochs, "epochs", 0, "training epochs")
	pf.IntVar(&opts.BatchSize, "batch-size", 0, "baseline mini-batch size")
	pf.Float64Var(&opts.LearningRate, "learning-rate", 0, "Adam learning rate")
	pf.Uint64Var(&opts.Seed, "seed", 0, "random seed")
	pf.StringVar(&opts.Case, "case", "", "built-in network case (see 'gnnopf cases')")
	pf.StringVar(&opts.DataDir, "data-dir", "", "directory for scenarios, checkpoints and reports")

	cmd.AddCommand(
		NewRunCmd(),
		NewGenerateCmd(),
		NewTrainCmd(),
		NewEvaluateCmd(),
		NewInferCmd(),
		NewCasesCmd(),
		NewVersionCmd(),
	)
	return cmd
}

// persistentPreRun initializes config, logger, metrics and storage, then
// stores CLIContext.
func persistentPreRun(cmd *cobra.Command, opts *RootOptions) error {
	cfg, err := initConfig(cmd, opts)
	if err != nil {
		return err
	}

	logger := initLogger(cmd, cfg)

	cliCtx := &CLIContext{
		Config:       cfg,
		Logger:       logger,
		OutputFormat: opts.OutputFormat,
	}
	if cfg.Metrics.Enabled {
		cliCtx.Collector, err = prometheus.NewMetricsCollector(prometheus.CollectorConfig{
			Namespace:            cfg.Metrics.Namespace,
			EnableProcessMetrics: true,
			EnableGoMetrics:      true,
		}, logger)
		if err != nil {
			return err
		}
	}
	if cliCtx.Store, err = initStore(cmd.Context(), cfg, logger); err != nil {
		return err
	}

	ctx := context.WithValue(cmd.Context(), cliContextKey{}, cliCtx)
	if opts.Timeout > 0 {
		ctx, cliCtx.cancel = context.WithTimeout(ctx, opts.Timeout)
	}
	cmd.SetContext(ctx)
	return nil
}

// initConfig loads configuration with priority: flags > env > file > defaults.
func initConfig(cmd *cobra.Command, opts *RootOptions) (*config.Config, error) {
	cfg, err := loadConfig(cmd, opts.ConfigPath)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeConfigError, "load configuration")
	}
	if err := applyOverrides(cmd, cfg, opts); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadConfig(cmd *cobra.Command, path string) (*config.Config, error) {
	if path != "" {
		return config.Load(path)
	}

	searchPaths := []string{"./gnnopf.yaml"}
	if homeDir, err := os.UserHomeDir(); err == nil {
		searchPaths = append(searchPaths, filepath.Join(homeDir, ".gnnopf", "config.yaml"))
	}
	searchPaths = append(searchPaths, "/etc/gnnopf/config.yaml")

	for _, p := range searchPaths {
		if _, statErr := os.Stat(p); statErr == nil {
			return config.Load(p)
		}
	}

	fmt.Fprintln(cmd.ErrOrStderr(), "Warning: no config file found, using defaults")
	return config.LoadFromEnv()
}

// applyOverrides copies explicitly set flags onto cfg and revalidates.
func applyOverrides(cmd *cobra.Command, cfg *config.Config, opts *RootOptions) error {
	flags := cmd.Flags()
	if flags.Changed("num-scenarios") {
		cfg.Pipeline.NumScenarios = opts.NumScenarios
	}
	if flags.Changed("load-variation") {
		cfg.Pipeline.LoadVariation = opts.LoadVariation
	}
	if flags.Changed("epochs") {
		cfg.Pipeline.Epochs = opts.Epochs
	}
	if flags.Changed("batch-size") {
		cfg.Pipeline.BatchSize = opts.BatchSize
	}
	if flags.Changed("learning-rate") {
		cfg.Pipeline.LearningRate = opts.LearningRate
	}
	if flags.Changed("seed") {
		cfg.Pipeline.Seed = opts.Seed
	}
	if flags.Changed("case") {
		cfg.Network.Case = opts.Case
		cfg.Network.ConfigPath = ""
	}
	if flags.Changed("data-dir") {
		cfg.Paths.DataDir = opts.DataDir
	}
	if opts.LogLevel != "" {
		cfg.Log.Level = opts.LogLevel
	}
	if opts.Verbose {
		cfg.Log.Level = "debug"
	}
	if err := cfg.Validate(); err != nil {
		return errors.Wrap(err, errors.CodeConfigError, "invalid flag override")
	}
	return nil
}

// initLogger creates a logger that writes to stderr so stdout carries only
// command results.
func initLogger(cmd *cobra.Command, cfg *config.Config) logging.Logger {
	return logging.NewLoggerTo(cmd.ErrOrStderr(), logging.LogConfig{
		Level:  strings.ToLower(cfg.Log.Level),
		Format: cfg.Log.Format,
	})
}

// initStore connects to the artifact store when the minio backend is selected.
func initStore(ctx context.Context, cfg *config.Config, logger logging.Logger) (minio.ArtifactRepository, error) {
	if cfg.Storage.Backend != "minio" {
		return nil, nil
	}
	mc := cfg.Storage.MinIO
	client, err := minio.NewMinIOClient(ctx, &minio.MinIOConfig{
		Endpoint:       mc.Endpoint,
		AccessKey:      mc.AccessKey,
		SecretKey:      mc.SecretKey,
		Bucket:         mc.Bucket,
		Region:         mc.Region,
		UseSSL:         mc.UseSSL,
		ConnectTimeout: mc.ConnectTimeout,
	}, logger)
	if err != nil {
		return nil, err
	}
	return minio.NewArtifactRepository(client, logger), nil
}

// GetCLIContext extracts CLIContext from a cobra command's context.
func GetCLIContext(cmd *cobra.Command) (*CLIContext, error) {
	ctx := cmd.Context()
	if ctx == nil {
		return nil, errors.Internal("command context is nil")
	}
	cliCtx, ok := ctx.Value(cliContextKey{}).(*CLIContext)
	if !ok || cliCtx == nil {
		return nil, errors.Internal("CLIContext not found in command context")
	}
	return cliCtx, nil
}

// NewPipeline builds a pipeline from the command's CLIContext.
func NewPipeline(cmd *cobra.Command) (*pipeline.Pipeline, *CLIContext, error) {
	cliCtx, err := GetCLIContext(cmd)
	if err != nil {
		return nil, nil, err
	}
	opts := []pipeline.Option{pipeline.WithLogger(cliCtx.Logger)}
	if cliCtx.Collector != nil {
		opts = append(opts, pipeline.WithCollector(cliCtx.Collector))
	}
	if cliCtx.Store != nil {
		opts = append(opts, pipeline.WithArtifactStore(cliCtx.Store))
	}
	p, err := pipeline.New(cliCtx.Config, opts...)
	if err != nil {
		return nil, nil, err
	}
	return p, cliCtx, nil
}

// Execute runs the CLI and returns the process exit status.
func Execute(ctx context.Context) int {
	rootCmd := NewRootCommand()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		PrintError(rootCmd, err)
		return ExitStatus(err)
	}
	return 0
}

// ExitStatus maps err to a process exit status by its error code.
func ExitStatus(err error) int {
	return errors.ExitStatusForCode(errors.GetCode(err))
}

// PrintResult outputs data in the format specified by CLIContext.
func PrintResult(cmd *cobra.Command, data interface{}) error {
	format := "table"
	if cliCtx, err := GetCLIContext(cmd); err == nil {
		format = cliCtx.OutputFormat
	}
	if strings.ToLower(format) == "json" {
		return printJSON(cmd, data)
	}
	return printTable(cmd, data)
}

func printJSON(cmd *cobra.Command, data interface{}) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(data)
}

func printText(cmd *cobra.Command, data interface{}) error {
	switch v := data.(type) {
	case string:
		fmt.Fprintln(cmd.OutOrStdout(), v)
	case fmt.Stringer:
		fmt.Fprintln(cmd.OutOrStdout(), v.String())
	default:
		fmt.Fprintf(cmd.OutOrStdout(), "%+v\n", v)
	}
	return nil
}

// printTable outputs data as a table if it implements tableProvider,
// otherwise falls back to text.
func printTable(cmd *cobra.Command, data interface{}) error {
	type tableProvider interface {
		TableHeaders() []string
		TableRows() [][]string
	}

	if tp, ok := data.(tableProvider); ok {
		fmt.Fprint(cmd.OutOrStdout(), FormatTable(tp.TableHeaders(), tp.TableRows()))
		return nil
	}
	return printText(cmd, data)
}

// PrintError writes a formatted error message to stderr.
func PrintError(cmd *cobra.Command, err error) {
	if err == nil {
		return
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "Error: %s\n", err.Error())
}

// FormatTable renders headers and rows as an aligned ASCII table.
func FormatTable(headers []string, rows [][]string) string {
	if len(headers) == 0 {
		return ""
	}

	colWidths := make([]int, len(headers))
	for i, h := range headers {
		colWidths[i] = len(h)
	}
	for _, row := range rows {
		for i := 0; i < len(row) && i < len(colWidths); i++ {
			if len(row[i]) > colWidths[i] {
				colWidths[i] = len(row[i])
			}
		}
	}

	var sb strings.Builder
	for i, h := range headers {
		if i > 0 {
			sb.WriteString("  ")
		}
		sb.WriteString(padRight(h, colWidths[i]))
	}
	sb.WriteString("\n")

	for i, w := range colWidths {
		if i > 0 {
			sb.WriteString("  ")
		}
		sb.WriteString(strings.Repeat("-", w))
	}
	sb.WriteString("\n")

	for _, row := range rows {
		for i := 0; i < len(headers); i++ {
			if i > 0 {
				sb.WriteString("  ")
			}
			val := ""
			if i < len(row) {
				val = row[i]
			}
			sb.WriteString(padRight(val, colWidths[i]))
		}
		sb.WriteString("\n")
	}
	return sb.String()
}

func padRight(s string, width int) string {
	if len(s) >= width {
		return s
	}
	return s + strings.Repeat(" ", width-len(s))
}
