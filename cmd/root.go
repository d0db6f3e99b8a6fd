package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "klocfix",
	Short: "AI-assisted remediation of MISRA/Klocwork rule violations in C sources",
	Long: `klocfix detects static-analysis rule violations in C source files using a
deterministic pattern scan backed by an AI classifier, then asks an AI
remediation engine for minimal unified-diff fixes and applies them safely.`,
}

// Execute runs the CLI. Exit code is 0 on a clean run even when individual
// files ended REJECTED or ABSTAINED; non-zero means a pipeline-level failure.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.AddCommand(fixCmd)
	rootCmd.AddCommand(scanCmd)
	rootCmd.AddCommand(rulesCmd)
	rootCmd.AddCommand(watchCmd)
}
