package cli

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"soundfault/internal/rules"
)

func newRulesCommand(root *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rules",
		Short: "Inspect and publish rule documents",
	}
	cmd.AddCommand(newRulesValidateCommand())
	cmd.AddCommand(newRulesExportCommand(root))
	cmd.AddCommand(newRulesPushCommand(root))
	return cmd
}

func newRulesValidateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <file>",
		Short: "Check a rule document without loading it anywhere",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			reg, err := readRegistry(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "ok: version %d, %d rules, fingerprint %s\n",
				reg.Version(), reg.RuleCount(), reg.Fingerprint()[:12])
			return nil
		},
	}
}

func newRulesExportCommand(root *rootOptions) *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Print the rules the configured source currently serves",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := commandContext(cmd)
			mgr, err := root.loadConfig()
			if err != nil {
				return err
			}
			store, err := openStore(ctx, mgr.Get())
			if err != nil {
				return err
			}
			if store != nil {
				defer store.Close()
			}
			source, err := ruleSource(mgr.Get(), store)
			if err != nil {
				return err
			}
			doc, err := source.Load(ctx)
			if err != nil {
				return err
			}
			out, err := rules.Marshal(doc, format)
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(out)
			return err
		},
	}
	cmd.Flags().StringVarP(&format, "format", "f", "yaml", "yaml or json")
	return cmd
}

func newRulesPushCommand(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "push <file>",
		Short: "Store a rule document as the newest database revision",
		Long: `Push validates the document and appends it to the rule_revisions table.
Running servers with rules.source db pick it up on their next reload.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := commandContext(cmd)
			reg, err := readRegistry(args[0])
			if err != nil {
				return err
			}
			mgr, err := root.loadConfig()
			if err != nil {
				return err
			}
			store, err := openStore(ctx, mgr.Get())
			if err != nil {
				return err
			}
			if store == nil {
				return errors.New("storage is disabled; set storage.enabled")
			}
			defer store.Close()
			if err := rules.NewStoreSource(store).Save(ctx, reg.Document()); err != nil {
				return fmt.Errorf("push rules: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "pushed version %d (%s)\n", reg.Version(), reg.Fingerprint()[:12])
			return nil
		},
	}
}

func readRegistry(path string) (*rules.Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	doc, err := rules.Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return rules.NewRegistry(doc)
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
