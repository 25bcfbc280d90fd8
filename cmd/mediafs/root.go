package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/brettbedarf/mediafs"
	"github.com/brettbedarf/mediafs/client"
	"github.com/brettbedarf/mediafs/config"
	"github.com/brettbedarf/mediafs/internal/util"
	"github.com/brettbedarf/mediafs/provider"
	"github.com/brettbedarf/mediafs/request"
)

// options are the persistent flags shared by every command
type options struct {
	configPath  string
	verbose     int
	baseURL     string
	storageRoot string
	workers     int
}

// session is what a command works with once flags are resolved
type session struct {
	cfg      *config.Config
	client   *client.Client
	provider *provider.Provider
	logger   util.Logger
}

func (s *session) Close() {
	s.client.Close()
}

func newRootCmd() *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:   "mediafs",
		Short: "Browse and mount a remote media store",
		Long: `mediafs talks to a media store over its /media, /file and /preview endpoints.

Example:
  # List the root of the store
  mediafs --url http://localhost:8080 ls

  # Mount the store
  mediafs mount /mnt/media`,
		SilenceUsage: true,
	}

	flags := root.PersistentFlags()
	flags.StringVarP(&opts.configPath, "config", "c", "", "Path to a yaml or json config file")
	flags.IntVarP(&opts.verbose, "verbose", "v", 3, "Log verbosity level between 1 (error) and 5 (trace)")
	flags.StringVar(&opts.baseURL, "url", "", "Base URL of the media store (default "+config.DefaultBaseURL+")")
	flags.StringVar(&opts.storageRoot, "storage", "", "Directory for local copies of provided files")
	flags.IntVar(&opts.workers, "workers", config.DefaultWorkers, "Max concurrent requests; 0 is unbounded")

	root.AddCommand(
		newLsCmd(opts),
		newMkdirCmd(opts),
		newRmCmd(opts),
		newPutCmd(opts),
		newGetCmd(opts),
		newPreviewCmd(opts),
		newThumbsCmd(opts),
		newChangesCmd(opts),
		newMountCmd(opts),
	)
	return root
}

// loadConfig layers the config file, then explicitly set flags, over the defaults
func (o *options) loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg := config.NewDefaultConfig()
	if o.configPath != "" {
		override, err := config.LoadConfigOverrideFile(o.configPath)
		if err != nil {
			return nil, err
		}
		cfg.Merge(override)
	}

	flags := cmd.Flags()
	override := &config.ConfigOverride{}
	if flags.Changed("verbose") || o.configPath == "" {
		override.LogLvl = &o.verbose
	}
	if flags.Changed("url") {
		override.BaseURL = &o.baseURL
	}
	if flags.Changed("storage") {
		override.StorageRoot = &o.storageRoot
	}
	if flags.Changed("workers") {
		override.Workers = &o.workers
	}
	cfg.Merge(override)
	return cfg, cfg.Validate()
}

func (o *options) open(cmd *cobra.Command) (*session, error) {
	cfg, err := o.loadConfig(cmd)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	util.InitializeLogger(cfg.LogLvl)

	c, err := client.New(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create client: %w", err)
	}
	return &session{
		cfg:      cfg,
		client:   c,
		provider: provider.New(c, cfg.StorageRoot),
		logger:   util.GetLogger("cli"),
	}, nil
}

// signalContext is cancelled on the first interrupt
func signalContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
}

// await starts an operation and blocks until it completes or ctx ends,
// cancelling the request in the latter case
func await(ctx context.Context, start func(done func(error)) (*request.Request, error)) error {
	ch := make(chan error, 1)
	r, err := start(func(err error) { ch <- err })
	if err != nil {
		return err
	}
	select {
	case err := <-ch:
		return err
	case <-ctx.Done():
		if r != nil {
			r.Cancel()
		}
		return ctx.Err()
	}
}

func parsePathArg(args []string, i int) (mediafs.Path, error) {
	if len(args) <= i {
		return nil, nil
	}
	p, err := mediafs.ParsePath(args[i])
	if err != nil {
		return nil, fmt.Errorf("invalid path %q: %w", args[i], err)
	}
	return p, nil
}
