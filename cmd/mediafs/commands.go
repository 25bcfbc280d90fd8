package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/brettbedarf/mediafs"
	"github.com/brettbedarf/mediafs/enumerate"
	"github.com/brettbedarf/mediafs/request"
)

// listing collects one enumeration for the list-style commands
type listing struct {
	items []mediafs.Item
	done  chan error
}

func (l *listing) DidEnumerate(items []mediafs.Item) { l.items = append(l.items, items...) }
func (l *listing) FinishEnumerating(enumerate.Page) { l.done <- nil }
func (l *listing) FinishWithError(err error)        { l.done <- err }

func (s *session) list(ctx context.Context, p mediafs.Path) ([]mediafs.Item, error) {
	e, err := s.provider.EnumeratorFor(mediafs.IdentifierFor(p))
	if err != nil {
		return nil, err
	}
	obs := &listing{done: make(chan error, 1)}
	e.EnumerateItems(obs, enumerate.InitialPage)
	select {
	case err := <-obs.done:
		return obs.items, err
	case <-ctx.Done():
		e.Invalidate()
		return nil, ctx.Err()
	}
}

func newLsCmd(opts *options) *cobra.Command {
	var showIDs bool
	cmd := &cobra.Command{
		Use:   "ls [path]",
		Short: "List a directory of the store",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := parsePathArg(args, 0)
			if err != nil {
				return err
			}
			s, err := opts.open(cmd)
			if err != nil {
				return err
			}
			defer s.Close()
			ctx, stop := signalContext(cmd)
			defer stop()

			items, err := s.list(ctx, p)
			if err != nil {
				return fmt.Errorf("failed to list %q: %w", p.String(), err)
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			for _, it := range items {
				size := "-"
				if it.Size != nil {
					size = fmt.Sprint(*it.Size)
				}
				name := it.Name
				if it.IsDirectory() {
					name += "/"
				}
				if showIDs {
					fmt.Fprintf(w, "%s\t%s\t%s\n", name, size, it.Identifier())
				} else {
					fmt.Fprintf(w, "%s\t%s\n", name, size)
				}
			}
			return w.Flush()
		},
	}
	cmd.Flags().BoolVar(&showIDs, "ids", false, "Print item identifiers")
	return cmd
}

func newMkdirCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "mkdir <path>",
		Short: "Create a directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := parsePathArg(args, 0)
			if err != nil {
				return err
			}
			s, err := opts.open(cmd)
			if err != nil {
				return err
			}
			defer s.Close()
			ctx, stop := signalContext(cmd)
			defer stop()

			return await(ctx, func(done func(error)) (*request.Request, error) {
				return s.client.CreateDirectory(p, done)
			})
		},
	}
}

func newRmCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "rm <path>",
		Short: "Remove a file or directory tree",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := parsePathArg(args, 0)
			if err != nil {
				return err
			}
			s, err := opts.open(cmd)
			if err != nil {
				return err
			}
			defer s.Close()
			ctx, stop := signalContext(cmd)
			defer stop()

			return await(ctx, func(done func(error)) (*request.Request, error) {
				return s.client.Remove(p, done)
			})
		},
	}
}

func newPutCmd(opts *options) *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "put <local file> [directory]",
		Short: "Upload a file",
		Long: `Upload a local file into a directory of the store.

Without --name the file is imported under a fresh <uuid>.<ext> name.`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, err := parsePathArg(args, 1)
			if err != nil {
				return err
			}
			s, err := opts.open(cmd)
			if err != nil {
				return err
			}
			defer s.Close()
			ctx, stop := signalContext(cmd)
			defer stop()

			if name != "" {
				data, err := os.ReadFile(args[0])
				if err != nil {
					return err
				}
				target := dir.Child(name)
				err = await(ctx, func(done func(error)) (*request.Request, error) {
					return s.client.Upload(data, target, done)
				})
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), target.String())
				return nil
			}

			var item mediafs.Item
			err = await(ctx, func(done func(error)) (*request.Request, error) {
				var err error
				item, err = s.provider.ImportDocument(args[0], mediafs.IdentifierFor(dir), done)
				return nil, err
			})
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), item.Path().String())
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "Upload under this name instead of a generated one")
	return cmd
}

func newGetCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "get <path> [local file]",
		Short: "Download a file",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := parsePathArg(args, 0)
			if err != nil {
				return err
			}
			if p.IsRoot() {
				return fmt.Errorf("cannot download the root")
			}
			dest := p.Name()
			if len(args) > 1 {
				dest = args[1]
			}
			s, err := opts.open(cmd)
			if err != nil {
				return err
			}
			defer s.Close()
			ctx, stop := signalContext(cmd)
			defer stop()

			return await(ctx, func(done func(error)) (*request.Request, error) {
				return s.client.Download(p, dest, done)
			})
		},
	}
}

func newPreviewCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "preview <path> [local file]",
		Short: "Fetch the preview of a file, to stdout unless a local file is given",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := parsePathArg(args, 0)
			if err != nil {
				return err
			}
			s, err := opts.open(cmd)
			if err != nil {
				return err
			}
			defer s.Close()
			ctx, stop := signalContext(cmd)
			defer stop()

			var data []byte
			err = await(ctx, func(done func(error)) (*request.Request, error) {
				return s.client.FetchPreview(p, func(b []byte, err error) {
					data = b
					done(err)
				})
			})
			if err != nil {
				return err
			}
			if len(args) > 1 {
				return os.WriteFile(args[1], data, 0o644)
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}
}

func newThumbsCmd(opts *options) *cobra.Command {
	var quiet bool
	cmd := &cobra.Command{
		Use:   "thumbs <directory> <local directory>",
		Short: "Fetch the previews of every file in a directory",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := parsePathArg(args, 0)
			if err != nil {
				return err
			}
			outDir := args[1]
			if err := os.MkdirAll(outDir, 0o755); err != nil {
				return err
			}
			s, err := opts.open(cmd)
			if err != nil {
				return err
			}
			defer s.Close()
			ctx, stop := signalContext(cmd)
			defer stop()

			items, err := s.list(ctx, p)
			if err != nil {
				return fmt.Errorf("failed to list %q: %w", p.String(), err)
			}
			var ids []mediafs.Identifier
			names := make(map[mediafs.Identifier]string)
			for _, it := range items {
				if it.IsDirectory() {
					continue
				}
				ids = append(ids, it.Identifier())
				names[it.Identifier()] = it.Name
			}

			bar := progressbar.NewOptions(len(ids),
				progressbar.OptionSetDescription("thumbnails"),
				progressbar.OptionSetWriter(cmd.ErrOrStderr()),
				progressbar.OptionSetVisibility(!quiet),
				progressbar.OptionSetWidth(40),
				progressbar.OptionShowCount(),
				progressbar.OptionThrottle(100*time.Millisecond),
				progressbar.OptionClearOnFinish(),
			)
			failed := 0
			finished := make(chan error, 1)
			agg := s.provider.FetchThumbnails(ids, func(id mediafs.Identifier, data []byte, err error) {
				_ = bar.Add(1)
				if err == nil {
					err = os.WriteFile(filepath.Join(outDir, names[id]), data, 0o644)
				}
				if err != nil {
					failed++
					s.logger.Warn().Err(err).Str("name", names[id]).Msg("Thumbnail failed")
				}
			}, func(err error) { finished <- err })

			select {
			case err = <-finished:
			case <-ctx.Done():
				agg.Cancel()
				err = ctx.Err()
			}
			_ = bar.Finish()
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d/%d thumbnails written to %s\n", len(ids)-failed, len(ids), outDir)
			if failed > 0 {
				return fmt.Errorf("%d thumbnails failed", failed)
			}
			return nil
		},
	}
	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "Hide the progress bar")
	return cmd
}

// changeReport prints a change enumeration
type changeReport struct {
	w      *strings.Builder
	anchor enumerate.SyncAnchor
	done   chan error
}

func (r *changeReport) DidUpdate(items []mediafs.Item) {
	for _, it := range items {
		fmt.Fprintf(r.w, "+ %s\n", it.Name)
	}
}

func (r *changeReport) DidDelete(ids []mediafs.Identifier) {
	for _, id := range ids {
		name := string(id)
		if p, err := mediafs.Decode(id); err == nil {
			name = p.Name()
		}
		fmt.Fprintf(r.w, "- %s\n", name)
	}
}

func (r *changeReport) FinishEnumeratingChanges(anchor enumerate.SyncAnchor, _ bool) {
	r.anchor = anchor
	r.done <- nil
}

func (r *changeReport) FinishWithError(err error) { r.done <- err }

func newChangesCmd(opts *options) *cobra.Command {
	var anchorArg string
	cmd := &cobra.Command{
		Use:   "changes <directory>",
		Short: "Print the current sync anchor, or the changes since --anchor",
		Long: `Without --anchor, print the sync anchor of a directory.
With --anchor, print added or updated (+) and deleted (-) entries since that anchor,
followed by the new anchor.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := parsePathArg(args, 0)
			if err != nil {
				return err
			}
			s, err := opts.open(cmd)
			if err != nil {
				return err
			}
			defer s.Close()
			ctx, stop := signalContext(cmd)
			defer stop()

			e, err := s.provider.EnumeratorFor(mediafs.IdentifierFor(p))
			if err != nil {
				return err
			}
			defer e.Invalidate()

			report := &changeReport{w: &strings.Builder{}, done: make(chan error, 1)}
			if anchorArg == "" {
				e.CurrentSyncAnchor(func(a enumerate.SyncAnchor, err error) {
					report.anchor = a
					report.done <- err
				})
			} else {
				e.EnumerateChanges(report, enumerate.SyncAnchor(anchorArg))
			}

			select {
			case err = <-report.done:
			case <-ctx.Done():
				err = ctx.Err()
			}
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprint(out, report.w.String())
			fmt.Fprintf(out, "anchor %s\n", report.anchor)
			return nil
		},
	}
	cmd.Flags().StringVar(&anchorArg, "anchor", "", "Anchor printed by a previous run")
	return cmd
}
