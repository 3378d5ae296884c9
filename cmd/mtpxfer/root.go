package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/opd-ai/mtpxfer"
	"github.com/opd-ai/mtpxfer/factory"
	"github.com/opd-ai/mtpxfer/file"
	"github.com/opd-ai/mtpxfer/interfaces"
	"github.com/samber/lo"
	"github.com/schollz/progressbar/v3"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var logFormats = []string{"text", "json"}

// cli carries the state shared by all subcommands.
type cli struct {
	v       *viper.Viper
	cfgFile string
	logger  *logrus.Logger
}

func newRootCmd() *cobra.Command {
	return newCLI().command()
}

func newCLI() *cli {
	return &cli{v: viper.New(), logger: logrus.New()}
}

func (c *cli) command() *cobra.Command {
	root := &cobra.Command{
		Use:   "mtpxfer",
		Short: "Transfer files to and from a portable media device",
		Long: `mtpxfer moves files to and from a portable media device in chunks,
reporting progress and retrying transport failures with a fresh session.

Usage:
  Upload a file:      mtpxfer send /path/to/track.mp3 --storage 0x10001
  Upload from stdin:  cat notes.txt | mtpxfer send --stdin --name notes.txt
  Download an object: mtpxfer get 42 ./track.mp3
  Run a simulator:    mtpxfer simulate --listen 127.0.0.1:7070

Every flag can also be set with an MTPX_ environment variable, e.g.
MTPX_ADDRESS or MTPX_RETRY_ATTEMPTS.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := c.initConfig(); err != nil {
				return err
			}
			return c.initLogging(cmd.ErrOrStderr())
		},
	}

	defaults := factory.DefaultConfig()
	flags := root.PersistentFlags()
	flags.StringVar(&c.cfgFile, "config", "", "config file (default is $HOME/.mtpxfer.yaml)")
	flags.String("address", defaults.Address, "device bridge address")
	flags.Bool("use-simulation", defaults.UseSimulation, "use an in-process simulated device")
	flags.String("simulation-root", "", "directory backing the simulated device")
	flags.Int("chunk-size", defaults.ChunkSize, "preferred chunk size in bytes")
	flags.Duration("io-timeout", defaults.IOTimeout, "timeout for one device round trip")
	flags.Duration("transfer-timeout", defaults.TransferTimeout, "timeout for one transfer attempt (0 disables)")
	flags.Int("retry-attempts", defaults.RetryAttempts, "fresh attempts after a transport failure")
	flags.String("log-level", "warning", "log level (trace, debug, info, warning, error)")
	flags.String("log-format", "text", "log format (text, json)")

	c.v.SetEnvPrefix(factory.EnvPrefix)
	c.v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	c.v.AutomaticEnv()
	c.v.BindPFlags(flags)

	root.AddCommand(newSendCmd(c), newGetCmd(c), newSimulateCmd(c))
	return root
}

// initConfig reads the optional config file.
func (c *cli) initConfig() error {
	if c.cfgFile != "" {
		c.v.SetConfigFile(c.cfgFile)
		if err := c.v.ReadInConfig(); err != nil {
			return fmt.Errorf("read config %s: %w", c.cfgFile, err)
		}
		return nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return nil
	}
	c.v.AddConfigPath(home)
	c.v.SetConfigType("yaml")
	c.v.SetConfigName(".mtpxfer")

	var notFound viper.ConfigFileNotFoundError
	if err := c.v.ReadInConfig(); err != nil && !errors.As(err, &notFound) {
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

func (c *cli) initLogging(out io.Writer) error {
	level, err := logrus.ParseLevel(c.v.GetString("log-level"))
	if err != nil {
		return err
	}
	format := c.v.GetString("log-format")
	if !lo.Contains(logFormats, format) {
		return fmt.Errorf("unknown log format %q, want one of %s", format, strings.Join(logFormats, ", "))
	}

	c.logger.SetOutput(out)
	c.logger.SetLevel(level)
	if format == "json" {
		c.logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		c.logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	// Packages that log through the standard logger follow the CLI settings.
	logrus.SetOutput(out)
	logrus.SetLevel(level)
	logrus.SetFormatter(c.logger.Formatter)
	return nil
}

func (c *cli) transportConfig() (*interfaces.TransportConfig, error) {
	config := &interfaces.TransportConfig{
		UseSimulation:   c.v.GetBool("use-simulation"),
		Address:         c.v.GetString("address"),
		IOTimeout:       c.v.GetDuration("io-timeout"),
		TransferTimeout: c.v.GetDuration("transfer-timeout"),
		RetryAttempts:   c.v.GetInt("retry-attempts"),
		ChunkSize:       c.v.GetInt("chunk-size"),
		SimulationRoot:  c.v.GetString("simulation-root"),
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

func (c *cli) openDevice(cmd *cobra.Command) (*mtpxfer.Device, error) {
	config, err := c.transportConfig()
	if err != nil {
		return nil, err
	}
	return mtpxfer.New(cmd.Context(), &mtpxfer.Options{Config: config, Logger: c.logger})
}

// progressBar draws transfer progress on w when enabled. The bar is sized
// from the first event, which carries the declared total.
func progressBar(w io.Writer, enabled bool, description string) file.ProgressFunc {
	if !enabled {
		return nil
	}
	var bar *progressbar.ProgressBar
	return func(ev file.ProgressEvent) {
		if bar == nil {
			bar = progressbar.NewOptions64(int64(ev.Total),
				progressbar.OptionSetDescription(description),
				progressbar.OptionSetWriter(w),
				progressbar.OptionShowBytes(true),
				progressbar.OptionSetWidth(40),
				progressbar.OptionThrottle(100*time.Millisecond),
				progressbar.OptionShowCount(),
				progressbar.OptionSetRenderBlankState(true),
				progressbar.OptionShowElapsedTimeOnFinish(),
				progressbar.OptionSetPredictTime(false),
				progressbar.OptionOnCompletion(func() { fmt.Fprintln(w) }),
			)
		}
		_ = bar.Set64(int64(ev.Transferred))
	}
}

func resultError(res file.Result) error {
	if res.OK() {
		return nil
	}
	return fmt.Errorf("%s after %d/%d bytes: %w", res.Outcome, res.Transferred, res.Total, res.Err)
}
