package rules

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"
	"gopkg.in/yaml.v3"

	"github.com/klocfix/klocfix/pkg/utils"
)

// Catalog is an indexed, read-only snapshot of the rule knowledge base.
// Rules keep their load order so ties between overlapping violations can be
// broken deterministically.
type Catalog struct {
	byID    map[string]*RuleDefinition
	ordered []*RuleDefinition
}

// NewCatalog builds a catalog from in-memory definitions, preserving order.
// Duplicate ids keep the first definition.
func NewCatalog(defs ...*RuleDefinition) *Catalog {
	cat := &Catalog{byID: make(map[string]*RuleDefinition, len(defs))}
	for _, def := range defs {
		if _, dup := cat.byID[def.ID]; dup {
			continue
		}
		cat.byID[def.ID] = def
		cat.ordered = append(cat.ordered, def)
	}
	return cat
}

// frontMatter is the optional YAML header of a rule markdown file.
type frontMatter struct {
	Severity string   `yaml:"severity"`
	Hints    []string `yaml:"hints"`
}

// LoadCatalog reads every <RULE.ID>.md under dir into an immutable catalog.
// The filename stem is the rule id (FNH.MIGHT.md -> FNH.MIGHT). A rule with a
// malformed header still loads with defaults; the defect is logged and the run
// continues. Only an unreadable directory is fatal.
func LoadCatalog(dir string, logger *utils.Logger) (*Catalog, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading knowledge base %s: %w", dir, err)
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() || !strings.EqualFold(filepath.Ext(e.Name()), ".md") {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)

	cat := &Catalog{byID: make(map[string]*RuleDefinition)}
	for _, name := range names {
		path := filepath.Join(dir, name)
		text, rerr := readRuleFile(path)
		if rerr != nil {
			logger.Logf("skipping unreadable rule file %s: %v", path, rerr)
			continue
		}
		id := strings.TrimSuffix(name, filepath.Ext(name))
		def := parseRule(id, text, logger)
		if _, dup := cat.byID[id]; dup {
			logger.Logf("duplicate rule id %s, keeping first", id)
			continue
		}
		cat.byID[id] = def
		cat.ordered = append(cat.ordered, def)
	}
	return cat, nil
}

// readRuleFile reads a rule markdown file as UTF-8, falling back to Latin-1
// when the content is not valid UTF-8.
func readRuleFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	if !utf8.Valid(data) {
		decoded, derr := charmap.ISO8859_1.NewDecoder().Bytes(data)
		if derr == nil {
			data = decoded
		}
	}
	return string(data), nil
}

// parseRule splits optional YAML front matter from the markdown body. The
// body's first non-heading paragraph becomes the description; the full body is
// the fix guidance injected into remediation prompts.
func parseRule(id, text string, logger *utils.Logger) *RuleDefinition {
	def := &RuleDefinition{ID: id, Severity: SeverityMedium}

	body := text
	if rest, ok := strings.CutPrefix(text, "---\n"); ok {
		if header, tail, found := strings.Cut(rest, "\n---"); found {
			var fm frontMatter
			if err := yaml.Unmarshal([]byte(header), &fm); err != nil {
				logger.Logf("rule %s: malformed front matter, using defaults: %v", id, err)
			} else {
				if fm.Severity != "" {
					sev, serr := ParseSeverity(fm.Severity)
					if serr != nil {
						logger.Logf("rule %s: %v, defaulting to MEDIUM", id, serr)
					} else {
						def.Severity = sev
					}
				}
				def.DetectionHints = fm.Hints
			}
			body = strings.TrimPrefix(tail, "\n")
		}
	}

	body = strings.TrimSpace(body)
	def.FixGuidance = body
	def.Description = firstParagraph(body)
	return def
}

func firstParagraph(body string) string {
	for _, para := range strings.Split(body, "\n\n") {
		para = strings.TrimSpace(para)
		if para == "" || strings.HasPrefix(para, "#") {
			continue
		}
		return strings.Join(strings.Fields(para), " ")
	}
	return ""
}

// Get returns the rule with the given id.
func (c *Catalog) Get(id string) (*RuleDefinition, bool) {
	def, ok := c.byID[id]
	return def, ok
}

// Rules returns all rules in catalog order.
func (c *Catalog) Rules() []*RuleDefinition {
	return append([]*RuleDefinition{}, c.ordered...)
}

// Order returns the catalog position of a rule id, used as the final
// tie-break between overlapping violations. Unknown ids sort last.
func (c *Catalog) Order(id string) int {
	for i, def := range c.ordered {
		if def.ID == id {
			return i
		}
	}
	return len(c.ordered)
}

// Len returns the number of loaded rules.
func (c *Catalog) Len() int { return len(c.ordered) }

// Severity returns the catalog severity for a rule id, MEDIUM when unknown.
func (c *Catalog) Severity(id string) Severity {
	if def, ok := c.byID[id]; ok {
		return def.Severity
	}
	return SeverityMedium
}
