package mount

import (
	"time"

	"github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"

	"github.com/brettbedarf/mediafs/config"
	"github.com/brettbedarf/mediafs/internal/util"
	"github.com/brettbedarf/mediafs/provider"
)

// Server owns the FUSE session of one mount
type Server struct {
	*MediaFS
	cfg    *config.Config
	server *fuse.Server
}

// NewServer creates a Server given your config.
func NewServer(cfg *config.Config, p *provider.Provider, remote Remote) *Server {
	return &Server{
		MediaFS: NewMediaFS(cfg, p, remote),
		cfg:     cfg,
	}
}

func (s *Server) options() *fs.Options {
	opts := s.cfg.MountOptions
	attr, entry := s.attrTimeout, s.entryTimeout
	return &fs.Options{
		MountOptions: fuse.MountOptions{
			Name:   opts.Name,
			FsName: opts.FsName,
			Debug:  opts.Debug || s.cfg.LogLvl == util.TraceLevel,
			Logger: util.NewLogLogger("FuseServer", util.TraceLevel),
		},
		AttrTimeout:  &attr,
		EntryTimeout: &entry,
		UID:          s.uid,
		GID:          s.gid,
	}
}

// Serve mounts and serves the filesystem at the given mountPoint.
// Returns once the kernel has acknowledged the mount.
func (s *Server) Serve(mountPoint string) error {
	s.mountedAt = time.Now()
	srv, err := fs.Mount(mountPoint, s.Root(), s.options())
	if err != nil {
		return err
	}
	s.server = srv
	s.logger.Info().Str("mountpoint", mountPoint).Msg("Filesystem mounted")
	return nil
}

func (s *Server) ServeAsync(mountPoint string) <-chan error {
	done := make(chan error, 1)

	go func() {
		done <- s.Serve(mountPoint)
		close(done)
	}()

	return done
}

// Wait blocks until the filesystem is unmounted
func (s *Server) Wait() {
	if s.server != nil {
		s.server.Wait()
	}
}

// Unmount cleanly unmounts the filesystem.
func (s *Server) Unmount() error {
	if s.server == nil {
		return nil
	}
	return s.server.Unmount()
}
