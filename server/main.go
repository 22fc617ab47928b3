package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/burntcarrot/pairpad/config"
)

// Options represents the command-line flags that are passed to pairpad's server.
type Options struct {
	Addr             string
	Config           string
	Name             string
	Advertise        bool
	ChecksumInterval time.Duration
	Debug            bool
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	opts := &Options{}

	cmd := &cobra.Command{
		Use:           "pairpad-server",
		Short:         "Host a pairpad session",
		Long:          "Hosts shared documents and keeps every participant's copy consistent.",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, opts)
			if err != nil {
				color.Red("%s", err)
				return err
			}
			if err := serve(cmd.Context(), cfg, newLogger(opts.Debug)); err != nil {
				color.Red("Server error, exiting: %s", err)
				return err
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&opts.Addr, "addr", config.DefaultAddr, "Server's network address")
	cmd.Flags().StringVarP(&opts.Config, "config", "c", "", "Session configuration file (YAML)")
	cmd.Flags().StringVar(&opts.Name, "name", config.DefaultName, "Host's display name")
	cmd.Flags().BoolVar(&opts.Advertise, "advertise", false, "Announce the session on the local network (mDNS)")
	cmd.Flags().DurationVar(&opts.ChecksumInterval, "checksum-interval", config.DefaultChecksumInterval, "How often to send document checksums, 0 disables them")
	cmd.Flags().BoolVar(&opts.Debug, "debug", false, "Enable debugging mode to show more verbose logs")

	return cmd
}

// loadConfig reads the configuration file, if any. Flags given on the command
// line take precedence over the file.
func loadConfig(cmd *cobra.Command, opts *Options) (config.Config, error) {
	cfg := config.Default()
	if opts.Config != "" {
		var err error
		if cfg, err = config.Load(opts.Config); err != nil {
			return config.Config{}, err
		}
	}

	flags := cmd.Flags()
	if flags.Changed("addr") {
		cfg.Addr = opts.Addr
	}
	if flags.Changed("name") {
		cfg.Name = opts.Name
	}
	if flags.Changed("advertise") {
		cfg.Advertise = opts.Advertise
	}
	if flags.Changed("checksum-interval") {
		cfg.ChecksumInterval = opts.ChecksumInterval
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func newLogger(debug bool) *logrus.Logger {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	if debug {
		logger.SetLevel(logrus.DebugLevel)
	}
	return logger
}

// serve runs the session until SIGINT or SIGTERM.
func serve(ctx context.Context, cfg config.Config, logger *logrus.Logger) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	h := newHub(cfg, logger)
	srv := &http.Server{Addr: cfg.Addr, Handler: newRouter(h), ReadHeaderTimeout: 10 * time.Second}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return h.run(ctx)
	})
	g.Go(func() error {
		color.Green("Starting server on %s\n", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	if cfg.Advertise {
		g.Go(func() error {
			return advertise(ctx, cfg, logger)
		})
	}

	return g.Wait()
}
