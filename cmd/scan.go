package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/klocfix/klocfix/pkg/classify"
	"github.com/klocfix/klocfix/pkg/config"
	"github.com/klocfix/klocfix/pkg/detect"
	"github.com/klocfix/klocfix/pkg/engine"
	"github.com/klocfix/klocfix/pkg/pipeline"
	"github.com/klocfix/klocfix/pkg/resolve"
	"github.com/klocfix/klocfix/pkg/rules"
	"github.com/klocfix/klocfix/pkg/utils"
)

var (
	scanKBFlag            string
	scanOfflineFlag       bool
	scanMinConfidenceFlag float64
)

var scanCmd = &cobra.Command{
	Use:   "scan <path>",
	Short: "Detect rule violations without fixing anything",
	Long: `Runs the pattern detector (and, unless --offline, the AI confirmation
classifier) over the given file or directory and prints the resolved
violations. No files are modified.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := utils.GetLogger(true)
		defer logger.Close()

		cfg, err := config.LoadOrInitConfig(true)
		if err != nil {
			return err
		}
		if scanKBFlag != "" {
			cfg.KnowledgeBaseDir = scanKBFlag
		}
		if cmdFlagChanged(cmd, "min-confidence") {
			cfg.MinConfidence = scanMinConfidenceFlag
		}

		cat, err := rules.LoadCatalog(cfg.KnowledgeBaseDir, logger)
		if err != nil {
			return fmt.Errorf("loading rule catalog: %w", err)
		}

		files, err := pipeline.GatherSourceFiles(args[0])
		if err != nil {
			return err
		}

		var eng engine.Engine
		if !scanOfflineFlag {
			eng = engine.NewHTTPEngine(cfg, logger)
		}

		total := 0
		for _, file := range files {
			n, serr := scanOne(cmd.Context(), file, cat, cfg, eng, logger)
			if serr != nil {
				fmt.Fprintf(os.Stderr, "error scanning %s: %v\n", file, serr)
				continue
			}
			total += n
		}
		fmt.Printf("\n%d violation(s) across %d file(s)\n", total, len(files))
		return nil
	},
}

func scanOne(ctx context.Context, file string, cat *rules.Catalog, cfg *config.Config, eng engine.Engine, logger *utils.Logger) (int, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	data, err := os.ReadFile(file)
	if err != nil {
		return 0, err
	}
	text := string(data)

	cands := detect.Scan(file, text, cat, logger)
	if eng != nil {
		cands = classify.Confirm(ctx, eng, file, text, cands, cfg.ClassifierWindow, logger)
	}
	res := resolve.Resolve(file, cands, cat, cfg.MinConfidence, logger)

	if len(res.Violations) == 0 {
		fmt.Printf("%s: clean\n", file)
		return 0, nil
	}
	fmt.Printf("%s:\n", file)
	for _, v := range res.Violations {
		c, ok := severityColors[string(v.Severity)]
		if !ok {
			c = color.New()
		}
		c.Printf("  %-13s", v.Severity)
		fmt.Printf(" %s lines %d-%d (%s, confidence %.2f)\n",
			v.RuleID, v.Span.StartLine, v.Span.EndLine, v.Agreement, v.Confidence)
	}
	for _, s := range res.Suppressed {
		fmt.Printf("  suppressed: %s lines %d-%d (by %s)\n", s.RuleID, s.Span.StartLine, s.Span.EndLine, s.SuppressedBy)
	}
	return len(res.Violations), nil
}

func init() {
	scanCmd.Flags().StringVar(&scanKBFlag, "kb", "", "Knowledge base directory with rule markdown files")
	scanCmd.Flags().BoolVar(&scanOfflineFlag, "offline", false, "Skip the AI confirmation classifier")
	scanCmd.Flags().Float64Var(&scanMinConfidenceFlag, "min-confidence", 0.5, "Minimum confidence for classifier-only findings")
}
