package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/klocfix/klocfix/pkg/config"
	"github.com/klocfix/klocfix/pkg/engine"
	"github.com/klocfix/klocfix/pkg/patch"
	"github.com/klocfix/klocfix/pkg/pipeline"
	"github.com/klocfix/klocfix/pkg/report"
	"github.com/klocfix/klocfix/pkg/rules"
	"github.com/klocfix/klocfix/pkg/utils"
)

var (
	fixModeFlag          string
	fixOutputFlag        string
	fixKBFlag            string
	fixWorkersFlag       int
	fixModelFlag         string
	fixSkipPromptFlag    bool
	fixMinConfidenceFlag float64
)

var fixCmd = &cobra.Command{
	Use:   "fix <path>",
	Short: "Detect rule violations and apply AI-generated fixes",
	Long: `Scans the file or directory for MISRA/Klocwork violations, asks the
remediation engine for fixes and applies them. STRICT mode restricts edits to
violation spans; IMPROVE allows adjacent cleanup; ADVISE only records
suggested diffs.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := utils.GetLogger(fixSkipPromptFlag)
		defer logger.Close()

		cfg, err := loadRunConfig(cmd, logger)
		if err != nil {
			return err
		}

		if cfg.Mode != config.ModeAdvise && !fixSkipPromptFlag {
			if !logger.AskForConfirmation(fmt.Sprintf("This will modify C sources under %s in place. Continue?", args[0]), true) {
				fmt.Println("Aborted.")
				return nil
			}
		}

		cat, err := rules.LoadCatalog(cfg.KnowledgeBaseDir, logger)
		if err != nil {
			return fmt.Errorf("loading rule catalog: %w", err)
		}
		if cat.Len() == 0 {
			return fmt.Errorf("rule catalog %s is empty", cfg.KnowledgeBaseDir)
		}

		files, err := pipeline.GatherSourceFiles(args[0])
		if err != nil {
			return err
		}
		if len(files) == 0 {
			fmt.Printf("No C files found in %s\n", args[0])
			return nil
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		eng := engine.NewHTTPEngine(cfg, logger)
		run, err := pipeline.New(cfg, cat, eng, logger).Run(ctx, files)
		if err != nil {
			return err
		}

		// The JSON report and the patch artifacts are independent outputs; a
		// failure writing one must not prevent the other.
		reportPath := filepath.Join(cfg.OutputDir, "full_report.json")
		if werr := run.WriteJSON(reportPath); werr != nil {
			logger.LogError(werr)
			fmt.Fprintf(os.Stderr, "warning: could not write JSON report: %v\n", werr)
		} else {
			fmt.Printf("Report: %s\n", reportPath)
		}
		if werr := run.WriteCombinedPatch(cfg.OutputDir); werr != nil {
			logger.LogError(werr)
			fmt.Fprintf(os.Stderr, "warning: could not write combined patch: %v\n", werr)
		}

		printSummary(run)
		return nil
	},
}

func loadRunConfig(cmd *cobra.Command, logger *utils.Logger) (*config.Config, error) {
	cfg, err := config.LoadOrInitConfig(fixSkipPromptFlag)
	if err != nil {
		return nil, err
	}
	mode, err := config.ParseMode(fixModeFlag)
	if err != nil {
		return nil, err
	}
	cfg.Mode = mode
	if fixOutputFlag != "" {
		cfg.OutputDir = fixOutputFlag
	}
	if fixKBFlag != "" {
		cfg.KnowledgeBaseDir = fixKBFlag
	}
	if fixWorkersFlag > 0 {
		cfg.MaxWorkers = fixWorkersFlag
	}
	if fixModelFlag != "" {
		cfg.Model = fixModelFlag
	}
	if cmdFlagChanged(cmd, "min-confidence") {
		cfg.MinConfidence = fixMinConfidenceFlag
	}
	if cfg.APIKey == "" {
		logger.Log("KLOCFIX_API_KEY not set; engine calls will fail and files will be reported ABSTAINED")
		fmt.Fprintln(os.Stderr, "warning: KLOCFIX_API_KEY not set")
	}
	return cfg, nil
}

func cmdFlagChanged(cmd *cobra.Command, name string) bool {
	f := cmd.Flags().Lookup(name)
	return f != nil && f.Changed
}

var severityColors = map[string]*color.Color{
	string(rules.SeverityHighCritical): color.New(color.FgRed, color.Bold),
	string(rules.SeverityCritical):     color.New(color.FgRed),
	string(rules.SeverityHigh):         color.New(color.FgYellow, color.Bold),
	string(rules.SeverityMedium):       color.New(color.FgYellow),
	string(rules.SeverityLow):          color.New(color.FgCyan),
}

func printSummary(run *report.RunReport) {
	applied, rejected, abstained, conflicted, clean := 0, 0, 0, 0, 0
	for _, f := range run.Files {
		switch f.Status {
		case string(patch.StatusApplied), string(patch.StatusSuggested):
			applied++
		case string(patch.StatusRejected):
			rejected++
		case string(patch.StatusAbstained):
			abstained++
		case string(patch.StatusConflict):
			conflicted++
		case report.FileStatusClean:
			clean++
		}
	}

	fmt.Printf("\nProcessed %d files: %d fixed, %d clean, %d rejected, %d abstained, %d conflicted\n",
		run.TotalFiles, applied, clean, rejected, abstained, conflicted)
	for sev, n := range run.Totals {
		c, ok := severityColors[sev]
		if !ok {
			c = color.New()
		}
		c.Printf("  %-13s %d\n", sev, n)
	}
}

func init() {
	fixCmd.Flags().StringVarP(&fixModeFlag, "mode", "", "strict", "Fixing mode: strict, improve or advise")
	fixCmd.Flags().StringVarP(&fixOutputFlag, "output", "o", "", "Output directory for reports and patches")
	fixCmd.Flags().StringVar(&fixKBFlag, "kb", "", "Knowledge base directory with rule markdown files")
	fixCmd.Flags().IntVar(&fixWorkersFlag, "workers", 0, "Maximum number of files processed in parallel")
	fixCmd.Flags().StringVarP(&fixModelFlag, "model", "m", "", "Model name to use with the engine")
	fixCmd.Flags().BoolVar(&fixSkipPromptFlag, "skip-prompt", false, "Skip the confirmation prompt before modifying files")
	fixCmd.Flags().Float64Var(&fixMinConfidenceFlag, "min-confidence", 0.5, "Minimum confidence for classifier-only findings")
}
