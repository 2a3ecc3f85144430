package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"soundfault/internal/analyzer"
	"soundfault/internal/engine"
	"soundfault/internal/features"
	"soundfault/internal/metrics"
	"soundfault/internal/model"
	"soundfault/internal/normalize"
	"soundfault/internal/rules"
)

type diagnoseOptions struct {
	category  string
	features  string
	rulesPath string
	output    string
}

func newDiagnoseCommand(root *rootOptions) *cobra.Command {
	opts := &diagnoseOptions{}
	cmd := &cobra.Command{
		Use:   "diagnose [recording.wav]",
		Short: "Diagnose one recording or a feature vector",
		Long: `Diagnose runs the analysis pipeline locally and prints the report.

Pass a WAV file, or skip the audio and give the four features directly
as --features zcr,centroid,onset,rms.`,
		Example: `  soundfault diagnose --category car engine.wav
  soundfault diagnose --category refrigerator --features 0.02,1800,1.6,0.5`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDiagnose(cmd, root, opts, args)
		},
	}
	cmd.Flags().StringVar(&opts.category, "category", string(model.Generic), "device category")
	cmd.Flags().StringVar(&opts.features, "features", "", "comma separated zcr,centroid,onset,rms")
	cmd.Flags().StringVar(&opts.rulesPath, "rules", "", "rule document to use instead of the configured source")
	cmd.Flags().StringVarP(&opts.output, "output", "o", "json", "output format: json or text")
	return cmd
}

func runDiagnose(cmd *cobra.Command, root *rootOptions, opts *diagnoseOptions, args []string) error {
	if (len(args) == 0) == (opts.features == "") {
		return errors.New("give either a recording or --features")
	}
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	mgr, err := root.loadConfig()
	if err != nil {
		return err
	}
	cfg := mgr.Get()
	logger := newLogger(cfg)

	var source rules.Source
	if opts.rulesPath != "" {
		source = rules.NewFileSource(opts.rulesPath)
	} else {
		store, err := openStore(ctx, cfg)
		if err != nil {
			return err
		}
		if store != nil {
			defer store.Close()
		}
		if source, err = ruleSource(cfg, store); err != nil {
			return err
		}
	}
	eng := engine.NewEngine(cfg, rules.MustDefaultRegistry(), logger, metrics.NewStore())
	if _, err := engine.NewRuleManager(source, eng, logger).Reload(ctx); err != nil {
		return err
	}
	an := analyzer.New(features.New(features.OptionsFromConfig(cfg.Extractor)), eng, cfg.API.WaveformPoints, logger)

	var report model.Report
	if opts.features != "" {
		fv, err := parseFeatureList(opts.features)
		if err != nil {
			return err
		}
		report = an.AnalyzeFeatures(fv, opts.category)
	} else {
		report, err = analyzeFile(ctx, an, args[0], opts.category)
		if err != nil {
			return err
		}
	}
	return printReport(cmd.OutOrStdout(), report, opts.output)
}

func analyzeFile(ctx context.Context, an *analyzer.Analyzer, path, category string) (model.Report, error) {
	f, err := os.Open(path)
	if err != nil {
		return model.Report{}, err
	}
	defer f.Close()
	return an.Analyze(ctx, f, category)
}

// parseFeatureList reads zcr,centroid,onset,rms in that order.
func parseFeatureList(raw string) (model.FeatureVector, error) {
	parts := strings.Split(raw, ",")
	if len(parts) != 4 {
		return model.FeatureVector{}, fmt.Errorf("expected 4 features, got %d", len(parts))
	}
	values := make([]float64, len(parts))
	for i, p := range parts {
		v, err := normalize.ParseFeature(p)
		if err != nil {
			return model.FeatureVector{}, fmt.Errorf("feature %d: %w", i+1, err)
		}
		values[i] = v
	}
	return model.FeatureVector{
		ZeroCrossingRate:     values[0],
		SpectralCentroidMean: values[1],
		OnsetStrengthMean:    values[2],
		RMSMean:              values[3],
	}, nil
}

func printReport(w io.Writer, report model.Report, format string) error {
	switch strings.ToLower(format) {
	case "text":
		d := report.Diagnosis
		_, err := fmt.Fprintf(w, "%s [%s]\n%s\n", d.Title, d.Severity.Code(), d.Detail)
		return err
	case "json", "":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	default:
		return fmt.Errorf("unknown output format %q", format)
	}
}

