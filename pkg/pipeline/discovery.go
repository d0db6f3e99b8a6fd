package pipeline

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	ignore "github.com/sabhiram/go-gitignore"
)

var cExtensions = map[string]bool{".c": true, ".h": true}

// GatherSourceFiles collects the C sources to process. A file argument must
// itself be a C file; a directory is walked recursively, honoring .gitignore
// and .klocfix/.ignore rules.
func GatherSourceFiles(path string) ([]string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}
	if !info.IsDir() {
		if !cExtensions[strings.ToLower(filepath.Ext(path))] {
			return nil, fmt.Errorf("%s is not a C source file", path)
		}
		return []string{path}, nil
	}

	rules := loadIgnoreRules(path)
	var files []string
	err = filepath.WalkDir(path, func(p string, d fs.DirEntry, werr error) error {
		if werr != nil {
			return werr
		}
		rel, rerr := filepath.Rel(path, p)
		if rerr != nil {
			rel = p
		}
		if d.IsDir() {
			if d.Name() == ".git" || d.Name() == ".klocfix" {
				return filepath.SkipDir
			}
			if rules != nil && rel != "." && rules.MatchesPath(rel) {
				return filepath.SkipDir
			}
			return nil
		}
		if !cExtensions[strings.ToLower(filepath.Ext(p))] {
			return nil
		}
		if rules != nil && rules.MatchesPath(rel) {
			return nil
		}
		files = append(files, p)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(files)
	return files, nil
}

// loadIgnoreRules combines .gitignore and .klocfix/.ignore when present.
func loadIgnoreRules(rootDir string) *ignore.GitIgnore {
	var allRules []string
	for _, name := range []string{".gitignore", filepath.Join(".klocfix", ".ignore")} {
		data, err := os.ReadFile(filepath.Join(rootDir, name))
		if err != nil {
			continue
		}
		for _, line := range strings.Split(string(data), "\n") {
			if line = strings.TrimSpace(line); line != "" {
				allRules = append(allRules, line)
			}
		}
	}
	if len(allRules) == 0 {
		return nil
	}
	return ignore.CompileIgnoreLines(allRules...)
}
