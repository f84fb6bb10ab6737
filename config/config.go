// Package config loads dicomkit settings from TOML or YAML files.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/jinzhu/copier"
	"gopkg.in/yaml.v3"

	"github.com/caio-sobreiro/dicomkit/client"
	"github.com/caio-sobreiro/dicomkit/dicom"
	"github.com/caio-sobreiro/dicomkit/pdu"
	"github.com/caio-sobreiro/dicomkit/server"
	"github.com/caio-sobreiro/dicomkit/types"
)

const (
	maxAETitleLength = 16
	minPDULength     = 4096
)

// Config is the file-level configuration shared by the CLI commands.
type Config struct {
	Local            Local             `toml:"local" yaml:"local"`
	Remote           Remote            `toml:"remote" yaml:"remote"`
	Timeouts         Timeouts          `toml:"timeouts" yaml:"timeouts"`
	TransferSyntaxes []string          `toml:"transfer_syntaxes" yaml:"transfer_syntaxes"`
	Logging          Logging           `toml:"logging" yaml:"logging"`
	Storage          Storage           `toml:"storage" yaml:"storage"`
	Destinations     map[string]string `toml:"destinations" yaml:"destinations"` // Move destination AE -> host:port
}

// Local describes this application entity.
type Local struct {
	AETitle                   string `toml:"ae_title" yaml:"ae_title"`
	ListenAddress             string `toml:"listen_address" yaml:"listen_address"`
	MaxPDULength              uint32 `toml:"max_pdu_length" yaml:"max_pdu_length"`
	MaxAssociations           int    `toml:"max_associations" yaml:"max_associations"`
	ImplementationClassUID    string `toml:"implementation_class_uid" yaml:"implementation_class_uid"`
	ImplementationVersionName string `toml:"implementation_version_name" yaml:"implementation_version_name"`
}

// Remote describes the default peer for SCU commands.
type Remote struct {
	AETitle string `toml:"ae_title" yaml:"ae_title"`
	Address string `toml:"address" yaml:"address"`
}

// Timeouts holds durations in time.ParseDuration syntax ("30s", "2m").
// An empty operation timeout means no limit.
type Timeouts struct {
	Connect   string `toml:"connect" yaml:"connect"`
	Idle      string `toml:"idle" yaml:"idle"`
	Operation string `toml:"operation" yaml:"operation"`
}

// Logging selects the slog level.
type Logging struct {
	Level string `toml:"level" yaml:"level"`
}

// Storage tunes Part 10 decoding.
type Storage struct {
	Strict   bool `toml:"strict" yaml:"strict"`
	Tolerant bool `toml:"tolerant" yaml:"tolerant"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Local: Local{
			AETitle:                   "DICOMKIT",
			ListenAddress:             ":104",
			MaxPDULength:              pdu.DefaultMaxPDULength,
			ImplementationClassUID:    dicom.ImplementationClassUIDValue,
			ImplementationVersionName: dicom.ImplementationVersionNameValue,
		},
		Remote: Remote{
			AETitle: "ANY-SCP",
			Address: "localhost:104",
		},
		Timeouts: Timeouts{
			Connect: "30s",
			Idle:    "60s",
		},
		TransferSyntaxes: types.DefaultTransferSyntaxes(),
		Logging:          Logging{Level: "info"},
		Destinations:     map[string]string{},
	}
}

// Load reads path over the defaults. The decoder is chosen by extension.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	cfg := Default()
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".toml":
		err = cfg.decodeTOML(data)
	case ".yaml", ".yml":
		err = cfg.decodeYAML(data)
	default:
		err = fmt.Errorf("unsupported config format %q", ext)
	}
	if err != nil {
		return nil, fmt.Errorf("load config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("load config %s: %w", path, err)
	}
	return cfg, nil
}

func (c *Config) decodeTOML(data []byte) error {
	meta, err := toml.Decode(string(data), c)
	if err != nil {
		return err
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return fmt.Errorf("unknown keys: %s", strings.Join(keys, ", "))
	}
	c.trim()
	return nil
}

func (c *Config) decodeYAML(data []byte) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	if c.Destinations == nil {
		c.Destinations = map[string]string{}
	}
	c.trim()
	return nil
}

func (c *Config) trim() {
	c.Local.AETitle = strings.TrimSpace(c.Local.AETitle)
	c.Local.ListenAddress = strings.TrimSpace(c.Local.ListenAddress)
	c.Remote.AETitle = strings.TrimSpace(c.Remote.AETitle)
	c.Remote.Address = withDefaultPort(strings.TrimSpace(c.Remote.Address))
	for ae, addr := range c.Destinations {
		c.Destinations[ae] = withDefaultPort(strings.TrimSpace(addr))
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
}

// Validate checks AE titles, PDU size, durations and transfer syntaxes.
func (c *Config) Validate() error {
	var errs []error
	for name, ae := range map[string]string{"local.ae_title": c.Local.AETitle, "remote.ae_title": c.Remote.AETitle} {
		if ae == "" {
			errs = append(errs, fmt.Errorf("%s is required", name))
		} else if len(ae) > maxAETitleLength {
			errs = append(errs, fmt.Errorf("%s %q exceeds %d characters", name, ae, maxAETitleLength))
		}
	}
	if c.Local.MaxPDULength < minPDULength {
		errs = append(errs, fmt.Errorf("local.max_pdu_length %d is below %d", c.Local.MaxPDULength, minPDULength))
	}
	if c.Local.MaxAssociations < 0 {
		errs = append(errs, errors.New("local.max_associations must not be negative"))
	}
	if _, err := parseDuration(c.Timeouts.Connect); err != nil {
		errs = append(errs, fmt.Errorf("timeouts.connect: %w", err))
	}
	if _, err := parseDuration(c.Timeouts.Idle); err != nil {
		errs = append(errs, fmt.Errorf("timeouts.idle: %w", err))
	}
	if _, err := parseDuration(c.Timeouts.Operation); err != nil {
		errs = append(errs, fmt.Errorf("timeouts.operation: %w", err))
	}
	if len(c.TransferSyntaxes) == 0 {
		errs = append(errs, errors.New("transfer_syntaxes must not be empty"))
	}
	for _, uid := range c.TransferSyntaxes {
		if _, ok := types.LookupTransferSyntax(uid); !ok {
			errs = append(errs, fmt.Errorf("unknown transfer syntax %q", uid))
		}
	}
	if _, err := ParseLevel(c.Logging.Level); err != nil {
		errs = append(errs, err)
	}
	for ae, addr := range c.Destinations {
		if len(ae) > maxAETitleLength || addr == "" {
			errs = append(errs, fmt.Errorf("invalid destination %q -> %q", ae, addr))
		}
	}
	return errors.Join(errs...)
}

// Clone returns a deep copy.
func (c *Config) Clone() *Config {
	out := &Config{}
	if err := copier.CopyWithOption(out, c, copier.Option{DeepCopy: true}); err != nil {
		panic(fmt.Sprintf("config clone: %v", err))
	}
	return out
}

// ParseLevel maps a level name to a slog.Level.
func ParseLevel(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("unknown log level %q", level)
}

// ReadOptions returns the Part 10 decoding options.
func (c *Config) ReadOptions() dicom.ReadOptions {
	return dicom.ReadOptions{
		Tolerant: c.Storage.Tolerant,
		Decode:   dicom.DecodeOptions{Strict: c.Storage.Strict},
	}
}

// ToClientConfig builds an association configuration for the remote peer.
func (c *Config) ToClientConfig(logger *slog.Logger) client.Config {
	connect, _ := parseDuration(c.Timeouts.Connect)
	idle, _ := parseDuration(c.Timeouts.Idle)
	operation, _ := parseDuration(c.Timeouts.Operation)
	return client.Config{
		CallingAETitle:            c.Local.AETitle,
		CalledAETitle:             c.Remote.AETitle,
		MaxPDULength:              c.Local.MaxPDULength,
		ConnectTimeout:            connect,
		IdleTimeout:               idle,
		OperationTimeout:          operation,
		Logger:                    logger,
		PreferredTransferSyntaxes: append([]string(nil), c.TransferSyntaxes...),
		ImplementationClassUID:    c.Local.ImplementationClassUID,
		ImplementationVersionName: c.Local.ImplementationVersionName,
	}
}

// ToServerOptions builds the listener options.
func (c *Config) ToServerOptions(logger *slog.Logger) []server.Option {
	idle, _ := parseDuration(c.Timeouts.Idle)
	opts := []server.Option{
		server.WithMaxPDULength(c.Local.MaxPDULength),
		server.WithMaxAssociations(c.Local.MaxAssociations),
		server.WithPolicy(pdu.AcceptorPolicy{
			AETitle:          c.Local.AETitle,
			TransferSyntaxes: append([]string(nil), c.TransferSyntaxes...),
			MaxPDULength:     c.Local.MaxPDULength,
		}),
	}
	if idle > 0 {
		opts = append(opts, server.WithIdleTimeout(idle))
	}
	if logger != nil {
		opts = append(opts, server.WithLogger(logger))
	}
	return opts
}

// withDefaultPort appends the registered DICOM port to a bare host.
func withDefaultPort(addr string) string {
	if addr == "" {
		return addr
	}
	if _, _, err := net.SplitHostPort(addr); err == nil {
		return addr
	}
	return net.JoinHostPort(addr, "104")
}

func parseDuration(s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, err
	}
	if d < 0 {
		return 0, fmt.Errorf("negative duration %q", s)
	}
	return d, nil
}
