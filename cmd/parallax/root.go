package main

import (
	"bytes"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/jamesainslie/parallax/pkg/parallax/cache"
	"github.com/jamesainslie/parallax/pkg/parallax/config"
	"github.com/jamesainslie/parallax/pkg/parallax/history"
	"github.com/jamesainslie/parallax/pkg/parallax/logging"
	"github.com/jamesainslie/parallax/pkg/parallax/optimizer"
	"github.com/jamesainslie/parallax/pkg/parallax/output"
	"github.com/jamesainslie/parallax/pkg/parallax/profiler"
	"github.com/jamesainslie/parallax/pkg/parallax/types"
)

var logger = logging.Get("cli")

// app holds the state shared by all commands of one invocation.
type app struct {
	cfgFile string
	format  string
	verbose bool
	quiet   bool

	v   *viper.Viper
	cfg *config.Config

	// profile supplies the system profile; tests replace it.
	profile func() *types.SystemProfile
}

func newApp() *app {
	return &app{profile: profiler.Get}
}

// Execute runs the root command.
func Execute() error {
	return newRootCmd(newApp()).Execute()
}

func newRootCmd(a *app) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "parallax",
		Short: "Decide whether and how to parallelize a job",
		Long: `Parallax measures this machine and a sample of a job's items, then predicts
whether running the job in parallel pays off and with how many workers, what
chunk size and which backend.

Examples:
  parallax plan --items 10000 --item-time 50ms      # Plan a synthetic CPU-bound job
  parallax plan --items 500 --io-fraction 0.9       # Plan a mostly IO-bound job
  parallax profile                                  # Show the measured system profile
  parallax history                                  # List recent decisions
  parallax config show                              # Show configuration`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.setup(cmd)
		},
		PersistentPostRun: func(_ *cobra.Command, _ []string) {
			_ = logging.Close()
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&a.cfgFile, "config", "", "config file (default: ~/.config/parallax/config.yaml)")
	flags.StringVarP(&a.format, "output", "o", "pretty", fmt.Sprintf("output format %v", output.Available()))
	flags.BoolVarP(&a.verbose, "verbose", "v", false, "log debug output to stderr")
	flags.BoolVarP(&a.quiet, "quiet", "q", false, "minimal output")

	rootCmd.AddCommand(
		newPlanCmd(a),
		newProfileCmd(a),
		newCacheCmd(a),
		newHistoryCmd(a),
		newConfigCmd(a),
		newVersionCmd(),
	)
	return rootCmd
}

// flagBindings maps config keys to the command-line flags that override
// them. Only flags defined on the running command are bound.
var flagBindings = map[string]string{
	"optimizer.sample_size":           "sample-size",
	"optimizer.target_chunk_duration": "target-chunk",
	"optimizer.max_memory_per_worker": "max-memory",
	"optimizer.force_backend":         "backend",
	"optimizer.min_speedup":           "min-speedup",
	"history.retention_days":          "days",
}

// setup loads configuration and starts logging.
func (a *app) setup(cmd *cobra.Command) error {
	a.v = viper.New()
	for key, name := range flagBindings {
		if f := cmd.Flags().Lookup(name); f != nil {
			if err := a.v.BindPFlag(key, f); err != nil {
				return fmt.Errorf("binding flag %s: %w", name, err)
			}
		}
	}

	cfg, err := config.LoadFrom(a.v, a.cfgFile)
	if err != nil {
		return err
	}
	a.cfg = cfg

	lc, err := cfg.LoggingSettings()
	if err != nil {
		return err
	}
	if a.verbose {
		lc.ConsoleLevel = "debug"
	}
	if err := logging.Init(lc); err != nil {
		a.warnf("logging disabled: %v", err)
	}
	logger.Debug("configuration loaded", "file", cfg.File, "command", cmd.CommandPath())
	return nil
}

// openCache opens the configured decision cache.
func (a *app) openCache() (*cache.Cache, error) {
	c, err := cache.Open(a.cfg.CacheOptions())
	if err != nil {
		return nil, fmt.Errorf("failed to open cache: %w", err)
	}
	return c, nil
}

// openHistory opens the configured history store.
func (a *app) openHistory() (*history.Store, error) {
	h, err := history.New(a.cfg.History.Path, a.cfg.HistoryOptions())
	if err != nil {
		return nil, fmt.Errorf("failed to open history: %w", err)
	}
	return h, nil
}

// newOptimizer builds an optimizer wired to the enabled collaborators. The
// returned function releases them.
func (a *app) newOptimizer(useCache, useHistory bool) (*optimizer.Optimizer, func(), error) {
	cfg, err := a.cfg.OptimizerConfig()
	if err != nil {
		return nil, nil, err
	}

	opts := []optimizer.Option{optimizer.WithProfileFunc(a.profile)}
	release := func() {}

	if useCache && a.cfg.Cache.Enabled {
		c, err := a.openCache()
		if err != nil {
			// Without a cache every run samples.
			logger.Warn("running without cache", "error", err)
			a.warnf("%v; continuing without cache", err)
		} else {
			opts = append(opts, optimizer.WithCache(c))
			release = func() {
				if err := c.Close(); err != nil {
					logger.Warn("failed to close cache", "error", err)
				}
			}
		}
	}

	if useHistory && a.cfg.History.Enabled {
		h, err := a.openHistory()
		if err != nil {
			return nil, nil, err
		}
		opts = append(opts, optimizer.WithPredictor(h), optimizer.WithRecorder(h))
	}

	o, err := optimizer.New(cfg, opts...)
	if err != nil {
		release()
		return nil, nil, err
	}
	return o, release, nil
}

// render writes a report in the selected output format.
func (a *app) render(w io.Writer, r *output.Report) error {
	formatter, err := output.Get(a.format)
	if err != nil {
		return err
	}

	var buf bytes.Buffer
	if err := formatter.Format(&buf, r); err != nil {
		return fmt.Errorf("failed to format output: %w", err)
	}
	_, err = w.Write(buf.Bytes())
	return err
}

// infof prints a message unless quiet mode is enabled.
func (a *app) infof(w io.Writer, format string, args ...any) {
	if !a.quiet {
		fmt.Fprintf(w, format+"\n", args...)
	}
}

// warnf prints a warning to stderr.
func (a *app) warnf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "Warning: "+format+"\n", args...)
}
