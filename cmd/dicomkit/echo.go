package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/caio-sobreiro/dicomkit/client"
)

func newEchoCmd(root *rootOptions) *cobra.Command {
	peer := &peerFlags{}
	cmd := &cobra.Command{
		Use:   "echo",
		Short: "Verify connectivity with a C-ECHO",
		Example: `  dicomkit echo --address pacs:104 --called-ae PACS
  dicomkit echo -c dicomkit.toml`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := peer.apply(root.cfg)
			if err != nil {
				return err
			}
			assoc, err := client.Connect(cmd.Context(), cfg.Remote.Address, cfg.ToClientConfig(root.logger))
			if err != nil {
				return err
			}
			defer assoc.Close()

			result, err := assoc.Echo(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "C-ECHO %s -> %s: status 0x%04X in %s\n",
				cfg.Local.AETitle, cfg.Remote.AETitle, result.Status, result.Elapsed)
			return assoc.Release(cmd.Context())
		},
	}
	peer.register(cmd)
	return cmd
}
