package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/caio-sobreiro/dicomkit/dicom"
)

type dumpFlags struct {
	strict   bool
	tolerant bool
	metaOnly bool
}

func newDumpCmd(root *rootOptions) *cobra.Command {
	flags := &dumpFlags{}
	cmd := &cobra.Command{
		Use:   "dump FILE...",
		Short: "Print the elements of DICOM files",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := root.cfg.ReadOptions()
			if cmd.Flags().Changed("strict") {
				opts.Decode.Strict = flags.strict
			}
			if cmd.Flags().Changed("tolerant") {
				opts.Tolerant = flags.tolerant
			}

			out := cmd.OutOrStdout()
			failed := 0
			for _, path := range args {
				if err := dumpFile(out, root.logger, path, opts, flags.metaOnly); err != nil {
					root.logger.Error("failed to read file", "path", path, "error", err)
					failed++
				}
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d files could not be read", failed, len(args))
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&flags.strict, "strict", false, "Report duplicate tags")
	cmd.Flags().BoolVar(&flags.tolerant, "tolerant", false, "Accept files without preamble or meta group")
	cmd.Flags().BoolVar(&flags.metaOnly, "meta", false, "Print only the file meta group")
	return cmd
}

func dumpFile(out io.Writer, logger *slog.Logger, path string, opts dicom.ReadOptions, metaOnly bool) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	f, err := dicom.ReadFile(data, opts)
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "# %s (%s)\n", path, f.TransferSyntax.UID)
	if f.Meta != nil {
		printDataset(out, f.Meta, 0)
	}
	if metaOnly {
		return nil
	}
	fmt.Fprintln(out, "#")
	printDataset(out, f.Dataset, 0)
	for _, a := range f.Dataset.AllAnomalies() {
		logger.Warn("decode anomaly", "path", path, "tag", a.Tag.String(), "msg", a.Msg)
		fmt.Fprintf(out, "# anomaly: %s %s\n", a.Tag, a.Msg)
	}
	return nil
}

func printDataset(out io.Writer, ds *dicom.Dataset, depth int) {
	indent := strings.Repeat("  ", depth)
	for _, el := range ds.Elements() {
		fmt.Fprintf(out, "%s%s\n", indent, el)
		for i, item := range el.Items {
			fmt.Fprintf(out, "%s  > item %d\n", indent, i+1)
			printDataset(out, item, depth+2)
		}
	}
}
