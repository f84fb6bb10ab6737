package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/caio-sobreiro/dicomkit/config"
)

type rootOptions struct {
	configPath string
	logLevel   string

	cfg    *config.Config
	logger *slog.Logger
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	rootCmd := &cobra.Command{
		Use:   "dicomkit",
		Short: "DICOM file and network toolkit",
		Long: `dicomkit reads and writes DICOM Part 10 files and speaks the DICOM upper
layer protocol as both service class user and provider.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return opts.load(cmd)
		},
	}
	rootCmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "TOML or YAML configuration file")
	rootCmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "Log level (debug, info, warn, error)")

	rootCmd.AddCommand(newEchoCmd(opts))
	rootCmd.AddCommand(newFindCmd(opts))
	rootCmd.AddCommand(newStoreCmd(opts))
	rootCmd.AddCommand(newDumpCmd(opts))
	rootCmd.AddCommand(newServeCmd(opts))
	return rootCmd
}

func (o *rootOptions) load(cmd *cobra.Command) error {
	cfg := config.Default()
	if o.configPath != "" {
		loaded, err := config.Load(o.configPath)
		if err != nil {
			return err
		}
		cfg = loaded
	}
	if o.logLevel != "" {
		cfg.Logging.Level = o.logLevel
	}
	level, err := config.ParseLevel(cfg.Logging.Level)
	if err != nil {
		return err
	}
	o.cfg = cfg
	o.logger = slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))
	slog.SetDefault(o.logger)
	return nil
}

// peerFlags overrides the remote peer from the configuration.
type peerFlags struct {
	address   string
	calledAE  string
	callingAE string
}

func (p *peerFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&p.address, "address", "a", "", "Peer host:port (default from config)")
	cmd.Flags().StringVar(&p.calledAE, "called-ae", "", "Called AE title")
	cmd.Flags().StringVar(&p.callingAE, "calling-ae", "", "Calling AE title")
}

// apply returns a copy of cfg with the flag overrides applied.
func (p *peerFlags) apply(cfg *config.Config) (*config.Config, error) {
	out := cfg.Clone()
	if p.address != "" {
		out.Remote.Address = p.address
	}
	if p.calledAE != "" {
		out.Remote.AETitle = p.calledAE
	}
	if p.callingAE != "" {
		out.Local.AETitle = p.callingAE
	}
	if err := out.Validate(); err != nil {
		return nil, err
	}
	return out, nil
}
