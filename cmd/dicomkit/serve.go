package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/caio-sobreiro/dicomkit/dicom"
	"github.com/caio-sobreiro/dicomkit/server"
	"github.com/caio-sobreiro/dicomkit/services"
)

type serveFlags struct {
	listen   string
	aeTitle  string
	preload  []string
	worklist []string
}

func newServeCmd(root *rootOptions) *cobra.Command {
	flags := &serveFlags{}
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run an in-memory archive SCP",
		Long: `Accept associations and serve verification, storage, query/retrieve,
modality worklist and MPPS requests from an in-memory archive.

Move destinations come from the [destinations] table of the configuration.
Press Ctrl+C to stop the server gracefully.`,
		Example: `  dicomkit serve --listen :11112 --ae-title ARCHIVE
  dicomkit serve -c archive.yaml --preload study/*.dcm`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := root.cfg.Clone()
			if flags.listen != "" {
				cfg.Local.ListenAddress = flags.listen
			}
			if flags.aeTitle != "" {
				cfg.Local.AETitle = flags.aeTitle
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			store := services.NewMemoryStore()
			if err := preload(cmd.Context(), store, flags, cfg.ReadOptions()); err != nil {
				return err
			}
			root.logger.Info("archive ready", "instances", store.Len())

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			handler := services.NewArchive(store, cfg.Local.AETitle, cfg.Destinations, root.logger)
			err := server.ListenAndServe(ctx, cfg.Local.ListenAddress, cfg.Local.AETitle, handler, cfg.ToServerOptions(root.logger)...)
			if errors.Is(err, context.Canceled) {
				root.logger.Info("server stopped")
				return nil
			}
			return err
		},
	}
	cmd.Flags().StringVar(&flags.listen, "listen", "", "Listen address (default from config)")
	cmd.Flags().StringVar(&flags.aeTitle, "ae-title", "", "Local AE title")
	cmd.Flags().StringArrayVar(&flags.preload, "preload", nil, "DICOM files to load into the archive")
	cmd.Flags().StringArrayVar(&flags.worklist, "worklist", nil, "DICOM files holding worklist items")
	return cmd
}

func preload(ctx context.Context, store *services.MemoryStore, flags *serveFlags, opts dicom.ReadOptions) error {
	for _, path := range flags.preload {
		f, err := readPart10(path, opts)
		if err != nil {
			return err
		}
		if err := store.Store(ctx, services.InstanceFromDataset(f.Dataset)); err != nil {
			return err
		}
	}
	for _, path := range flags.worklist {
		f, err := readPart10(path, opts)
		if err != nil {
			return err
		}
		store.AddWorklistItem(f.Dataset)
	}
	return nil
}
