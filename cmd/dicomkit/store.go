package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/caio-sobreiro/dicomkit/client"
	"github.com/caio-sobreiro/dicomkit/dicom"
	dicomerrors "github.com/caio-sobreiro/dicomkit/errors"
)

func newStoreCmd(root *rootOptions) *cobra.Command {
	peer := &peerFlags{}
	cmd := &cobra.Command{
		Use:   "store FILE...",
		Short: "Send DICOM files with C-STORE",
		Long: `Send each file over one association. Files that cannot be parsed or are
refused by the peer are reported and skipped; the command fails if any file
was not stored.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := peer.apply(root.cfg)
			if err != nil {
				return err
			}
			files := make(map[string]*dicom.File, len(args))
			var failed int
			for _, path := range args {
				f, err := readPart10(path, cfg.ReadOptions())
				if err != nil {
					root.logger.Error("skipping unreadable file", "path", path, "error", err)
					failed++
					continue
				}
				files[path] = f
			}
			if len(files) == 0 {
				return errors.New("no readable files")
			}

			assoc, err := client.Connect(cmd.Context(), cfg.Remote.Address, cfg.ToClientConfig(root.logger))
			if err != nil {
				return err
			}
			defer assoc.Close()

			out := cmd.OutOrStdout()
			for _, path := range args {
				f, ok := files[path]
				if !ok {
					continue
				}
				result, err := assoc.StoreFile(cmd.Context(), f)
				var rejection *dicomerrors.RemoteRejection
				switch {
				case errors.As(err, &rejection):
					fmt.Fprintf(out, "%s: failed 0x%04X %s\n", path, rejection.Status, rejection.ErrorComment)
					failed++
				case errors.Is(err, dicomerrors.ErrNoPresentationCtx), errors.Is(err, dicomerrors.ErrUnsupportedTransfer):
					fmt.Fprintf(out, "%s: %v\n", path, err)
					failed++
				case err != nil:
					return err
				case result.Warning != nil:
					fmt.Fprintf(out, "%s: warning 0x%04X %s\n", path, result.Status, result.Warning.ErrorComment)
				default:
					fmt.Fprintf(out, "%s: stored\n", path)
				}
			}
			if err := assoc.Release(cmd.Context()); err != nil {
				return err
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d files not stored", failed, len(args))
			}
			return nil
		},
	}
	peer.register(cmd)
	return cmd
}

func readPart10(path string, opts dicom.ReadOptions) (*dicom.File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return dicom.ReadFile(data, opts)
}
