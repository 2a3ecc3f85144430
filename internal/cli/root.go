// Package cli wires the soundfault commands.
package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"soundfault/internal/config"
	"soundfault/internal/logging"
	"soundfault/internal/rules"
	"soundfault/internal/storage"
)

type rootOptions struct {
	configPath string
	version    string
}

func NewRootCommand(version string) *cobra.Command {
	opts := &rootOptions{version: version}
	cmd := &cobra.Command{
		Use:   "soundfault",
		Short: "Acoustic fault diagnosis for appliances and vehicles",
		Long: `soundfault listens to a short recording of a device, extracts a few
acoustic features and maps them through an editable rule table to a
diagnosis with a severity color and a list of likely causes.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "path to YAML or JSON config file")
	cmd.CompletionOptions.DisableDefaultCmd = true
	cmd.SetVersionTemplate(fmt.Sprintf("soundfault version %s\n", version))

	cmd.AddCommand(newServeCommand(opts))
	cmd.AddCommand(newDiagnoseCommand(opts))
	cmd.AddCommand(newRulesCommand(opts))
	return cmd
}

func (o *rootOptions) loadConfig() (*config.Manager, error) {
	mgr, err := config.NewManager(config.ResolvePath(o.configPath))
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return mgr, nil
}

func newLogger(cfg *config.Config) *slog.Logger {
	return logging.New(cfg.LogLevel, cfg.LogFormat, os.Stderr)
}

// openStore returns nil when storage is disabled.
func openStore(ctx context.Context, cfg *config.Config) (storage.Store, error) {
	store, err := storage.NewStore(cfg.Storage)
	if err != nil || store == nil {
		return nil, err
	}
	if err := store.Init(ctx); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("init storage: %w", err)
	}
	return store, nil
}

func ruleSource(cfg *config.Config, store storage.Store) (rules.Source, error) {
	switch cfg.Rules.Source {
	case "file":
		return rules.NewFileSource(config.ResolvePath(cfg.Rules.Path)), nil
	case "db":
		if store == nil {
			return nil, fmt.Errorf("rules.source db needs storage")
		}
		return rules.NewStoreSource(store), nil
	default:
		return rules.EmbeddedSource(), nil
	}
}
