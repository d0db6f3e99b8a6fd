package cmd

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/klocfix/klocfix/pkg/config"
	"github.com/klocfix/klocfix/pkg/rules"
	"github.com/klocfix/klocfix/pkg/utils"
)

var rulesKBFlag string

var rulesCmd = &cobra.Command{
	Use:   "rules",
	Short: "List the rules loaded from the knowledge base",
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := utils.GetLogger(true)
		defer logger.Close()

		cfg, err := config.LoadOrInitConfig(true)
		if err != nil {
			return err
		}
		if rulesKBFlag != "" {
			cfg.KnowledgeBaseDir = rulesKBFlag
		}

		cat, err := rules.LoadCatalog(cfg.KnowledgeBaseDir, logger)
		if err != nil {
			return fmt.Errorf("loading rule catalog: %w", err)
		}

		for _, def := range cat.Rules() {
			c, ok := severityColors[string(def.Severity)]
			if !ok {
				c = color.New()
			}
			c.Printf("%-13s", def.Severity)
			desc := def.Description
			if len(desc) > 80 {
				desc = desc[:77] + "..."
			}
			fmt.Printf(" %-40s %s\n", def.ID, desc)
		}
		fmt.Printf("\n%d rule(s) loaded from %s\n", cat.Len(), cfg.KnowledgeBaseDir)
		return nil
	},
}

func init() {
	rulesCmd.Flags().StringVar(&rulesKBFlag, "kb", "", "Knowledge base directory with rule markdown files")
}
