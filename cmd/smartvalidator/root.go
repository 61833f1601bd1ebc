package main

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/ahrav/smartvalidator/internal/application"
)

// version is set at build time via -ldflags.
var version = "dev"

// deps are the process-wide collaborators a command run is built from.
type deps struct {
	// newClient replaces the provider registry when set.
	newClient application.ClientFactory
	// registerer and gatherer back the metrics collector and GET /metrics.
	registerer prometheus.Registerer
	gatherer   prometheus.Gatherer
	// newLogger builds the process logger.
	newLogger func(verbose bool) (*zap.Logger, error)
}

func defaultDeps() deps {
	return deps{
		registerer: prometheus.DefaultRegisterer,
		gatherer:   prometheus.DefaultGatherer,
		newLogger:  newProductionLogger,
	}
}

// cli carries the root flags and the state PersistentPreRunE prepares for
// subcommands.
type cli struct {
	deps deps

	configPath string
	envFiles   []string
	verbose    bool

	logger *zap.Logger
	config application.Config
}

func newRootCmd(d deps) *cobra.Command {
	c := &cli{deps: d}

	root := &cobra.Command{
		Use:   "smartvalidator",
		Short: "LLM validation of SAP warehouse records",
		Long: `smartvalidator sends each warehouse record to a language model and
reports a verdict per record: status, reasoning and a 1-10 confidence score.

Configuration is read from --config (YAML), then SMARTVALIDATOR_* environment
variables. API keys come from GROQ_API_KEY, per-channel variables such as
GROQ_API_KEY_REACT, or the secrets file.`,
		SilenceUsage: true,
		CompletionOptions: cobra.CompletionOptions{
			HiddenDefaultCmd: true,
		},
		PersistentPreRunE: c.setup,
		PersistentPostRun: func(*cobra.Command, []string) {
			if c.logger != nil {
				_ = c.logger.Sync()
			}
		},
	}
	root.Version = version

	f := root.PersistentFlags()
	f.StringVarP(&c.configPath, "config", "c", "", "Path to a YAML config file")
	f.StringSliceVar(&c.envFiles, "env-file", []string{".env"}, "Dotenv files loaded before configuration")
	f.BoolVarP(&c.verbose, "verbose", "v", false, "Enable debug logging")

	root.AddCommand(newServeCmd(c))
	root.AddCommand(newValidateCmd(c))
	return root
}

// setup loads dotenv files, builds the logger and loads configuration.
func (c *cli) setup(*cobra.Command, []string) error {
	if err := application.LoadDotEnv(c.envFiles...); err != nil {
		return fmt.Errorf("failed to load env files: %w", err)
	}

	newLogger := c.deps.newLogger
	if newLogger == nil {
		newLogger = newProductionLogger
	}
	logger, err := newLogger(c.verbose)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	c.logger = logger

	config, err := application.LoadConfig(c.configPath)
	if err != nil {
		return err
	}
	c.config = config
	return nil
}

func newProductionLogger(verbose bool) (*zap.Logger, error) {
	config := zap.NewProductionConfig()
	if verbose {
		config.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	}
	return config.Build()
}
