package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/A-ryanVAT-S/Provify/internal/config"
	"github.com/A-ryanVAT-S/Provify/internal/logging"
	"github.com/A-ryanVAT-S/Provify/internal/service"
	"github.com/A-ryanVAT-S/Provify/internal/storage"
)

// app carries the state every subcommand shares once the root has opened it
type app struct {
	configPath string
	dir        string
	backend    string
	logLevel   string
	logFormat  string
	devices    []string

	cfg      *config.Config
	svc      *service.Service
	lockPath string
	deps     service.Deps
}

// newRootCmd builds the command tree. The caller closes a after Execute,
// which runs even when a subcommand fails.
func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:   "provify",
		Short: "Bug intake and multi-device reproduction",
		Long: `Provify collects bug reports for mobile apps, merges near-duplicates and
verifies each report by running a reproduction agent on every connected device.
A majority of devices decides whether a bug is verified.`,
		Version:           version,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: a.open,
		CompletionOptions: cobra.CompletionOptions{
			HiddenDefaultCmd: true,
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&a.configPath, "config", "", "Project config file (default: nearest .provify/config.yaml)")
	flags.StringVarP(&a.dir, "dir", "d", "", "Storage directory")
	flags.StringVar(&a.backend, "backend", "", "Storage backend: json, sqlite or bolt")
	flags.StringVar(&a.logLevel, "log-level", "", "Log level: debug, info, warn or error")
	flags.StringVar(&a.logFormat, "log-format", "", "Log format: text or json")
	flags.StringSliceVar(&a.devices, "device", nil, "Use these devices instead of discovery (serial or serial=Name, repeatable)")

	root.AddCommand(
		newServeCmd(a),
		newMCPCmd(a),
		newREPLCmd(a),
		newAddCmd(a),
		newImportCmd(a),
		newLoadCmd(a),
		newSampleCmd(a),
		newListCmd(a),
		newShowCmd(a),
		newStatsCmd(a),
		newUpdateCmd(a),
		newFixCmd(a),
		newDeleteCmd(a),
		newVerifyCmd(a),
		newVerifyAllCmd(a),
		newReverifyFixedCmd(a),
		newDevicesCmd(a),
	)
	return root
}

// overrides turns the flags the user actually set into config keys
func (a *app) overrides(cmd *cobra.Command) map[string]any {
	out := map[string]any{}
	flags := cmd.Flags()
	if flags.Changed("dir") {
		out[config.KeyStorageDir] = a.dir
	}
	if flags.Changed("backend") {
		out[config.KeyStorageBackend] = a.backend
	}
	if flags.Changed("log-level") {
		out[config.KeyLogLevel] = a.logLevel
	}
	if flags.Changed("log-format") {
		out[config.KeyLogFormat] = a.logFormat
	}
	if flags.Changed("device") {
		out[config.KeyDevicesStatic] = a.devices
	}
	if flags.Lookup("addr") != nil && flags.Changed("addr") {
		addr, _ := flags.GetString("addr")
		out[config.KeyServerAddr] = addr
	}
	return out
}

// open loads configuration, claims the storage directory and builds the service.
func (a *app) open(cmd *cobra.Command, _ []string) error {
	opts := []config.Option{config.WithOverrides(a.overrides(cmd))}
	if a.configPath != "" {
		opts = append(opts, config.WithProjectConfig(a.configPath))
	}
	cfg, err := config.Load(opts...)
	if err != nil {
		return err
	}
	a.cfg = cfg

	level, err := logging.ParseLevel(cfg.Log.Level)
	if err != nil {
		return err
	}
	logging.Init(level, cfg.Log.Format)
	logging.New("cli").Debug("configuration loaded", "config", cfg.String())

	lockPath, err := storage.AcquireExclusiveLock(cfg.Storage.Dir, "provify "+cmd.Name(), version)
	if err != nil {
		return err
	}
	a.lockPath = lockPath

	svc, err := service.Open(cmd.Context(), cfg, version, a.deps)
	if err != nil {
		_ = storage.ReleaseExclusiveLock(lockPath)
		a.lockPath = ""
		return err
	}
	a.svc = svc
	return nil
}

// close releases the service and the storage lock. Safe to call twice.
func (a *app) close() error {
	var firstErr error
	if a.svc != nil {
		if err := a.svc.Close(); err != nil {
			firstErr = fmt.Errorf("failed to close store: %w", err)
		}
		a.svc = nil
	}
	if err := storage.ReleaseExclusiveLock(a.lockPath); err != nil && firstErr == nil {
		firstErr = err
	}
	a.lockPath = ""
	return firstErr
}
