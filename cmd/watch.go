package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"

	"github.com/klocfix/klocfix/pkg/config"
	"github.com/klocfix/klocfix/pkg/rules"
	"github.com/klocfix/klocfix/pkg/utils"
)

var watchKBFlag string

// debounce window: editors fire several write events per save.
const watchSettle = 300 * time.Millisecond

var watchCmd = &cobra.Command{
	Use:   "watch <dir>",
	Short: "Re-scan C files whenever they change",
	Long: `Watches a directory tree and runs the offline pattern scan on every C file
as it is written. Useful as a lightweight advisory loop while editing.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := utils.GetLogger(true)
		defer logger.Close()

		cfg, err := config.LoadOrInitConfig(true)
		if err != nil {
			return err
		}
		if watchKBFlag != "" {
			cfg.KnowledgeBaseDir = watchKBFlag
		}
		cat, err := rules.LoadCatalog(cfg.KnowledgeBaseDir, logger)
		if err != nil {
			return fmt.Errorf("loading rule catalog: %w", err)
		}

		watcher, err := fsnotify.NewWatcher()
		if err != nil {
			return err
		}
		defer watcher.Close()

		root := args[0]
		if err := addWatchDirs(watcher, root); err != nil {
			return err
		}
		fmt.Printf("Watching %s (Ctrl-C to stop)\n", root)

		pending := map[string]time.Time{}
		ticker := time.NewTicker(watchSettle)
		defer ticker.Stop()

		for {
			select {
			case ev, ok := <-watcher.Events:
				if !ok {
					return nil
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				if info, serr := os.Stat(ev.Name); serr == nil && info.IsDir() {
					_ = addWatchDirs(watcher, ev.Name)
					continue
				}
				ext := strings.ToLower(filepath.Ext(ev.Name))
				if ext == ".c" || ext == ".h" {
					pending[ev.Name] = time.Now()
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return nil
				}
				logger.LogError(err)
			case <-ticker.C:
				now := time.Now()
				for file, at := range pending {
					if now.Sub(at) < watchSettle {
						continue
					}
					delete(pending, file)
					if _, serr := scanOne(cmd.Context(), file, cat, cfg, nil, logger); serr != nil {
						fmt.Fprintf(os.Stderr, "error scanning %s: %v\n", file, serr)
					}
				}
			case <-cmd.Context().Done():
				return nil
			}
		}
	},
}

func addWatchDirs(watcher *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(p string, d os.DirEntry, werr error) error {
		if werr != nil {
			return werr
		}
		if d.IsDir() {
			if d.Name() == ".git" || d.Name() == ".klocfix" {
				return filepath.SkipDir
			}
			return watcher.Add(p)
		}
		return nil
	})
}

func init() {
	watchCmd.Flags().StringVar(&watchKBFlag, "kb", "", "Knowledge base directory with rule markdown files")
}
