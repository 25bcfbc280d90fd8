package main

import (
	"os"
	"os/exec"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/brettbedarf/mediafs/mount"
)

func newMountCmd(opts *options) *cobra.Command {
	var umount bool
	cmd := &cobra.Command{
		Use:   "mount <mountpoint>",
		Short: "Mount the store as a FUSE filesystem",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			mnt := args[0]
			s, err := opts.open(cmd)
			if err != nil {
				return err
			}
			defer s.Close()
			logger := s.logger
			logger.Info().Str("url", s.cfg.BaseURL).Str("mnt", mnt).Msg("MediaFS server initializing")

			// Try unmount if requested
			if umount {
				// we ignore error here if not already mounted
				exec.Command("fusermount", "-u", mnt).Run() // nolint:errcheck
			}

			fs := mount.NewServer(s.cfg, s.provider, s.client)
			if err := fs.Serve(mnt); err != nil {
				logger.Error().Err(err).Msg("Failed to mount filesystem")
				return err
			}

			// Setup signal handling for graceful shutdown
			signalChan := make(chan os.Signal, 1)
			signal.Notify(signalChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
			defer signal.Stop(signalChan)

			logger.Info().Str("mountpoint", mnt).Msg("Filesystem mounted successfully")

			unmounted := make(chan struct{})
			go func() {
				fs.Wait()
				close(unmounted)
			}()

			select {
			case sig := <-signalChan:
				logger.Info().Str("signal", sig.String()).Msg("Received signal, unmounting filesystem")
			case <-unmounted:
				logger.Info().Msg("Filesystem unmounted externally")
				return nil
			}

			if err := fs.Unmount(); err != nil {
				logger.Error().Err(err).Msg("Failed to unmount filesystem")
				return err
			}
			logger.Info().Msg("Filesystem unmounted successfully")
			return nil
		},
	}
	cmd.Flags().BoolVarP(&umount, "umount", "u", false,
		"Unmount the fs first if needed before mounting again. Useful for debuggers that don't exit properly.")
	return cmd
}
