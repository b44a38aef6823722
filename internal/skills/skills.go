// File: internal/skills/skills.go
// Description: Skill collaborator contract. A skill match seeds the InfoPool
// with extra context before the loop starts; the core treats the returned
// string as opaque text.

package skills

import (
	"context"
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// Provider matches an instruction against known skills and returns context to
// seed the run with, or an empty string when nothing matches.
type Provider interface {
	MatchOrGenerateContext(ctx context.Context, instruction string) (string, error)
}

// None is the no-op provider used when no catalog is configured.
type None struct{}

func (None) MatchOrGenerateContext(ctx context.Context, instruction string) (string, error) {
	return "", nil
}

// catalogEntry is one skill in the yaml catalog.
type catalogEntry struct {
	Name     string   `yaml:"name"`
	Keywords []string `yaml:"keywords"`
	Context  string   `yaml:"context"`
}

// CatalogProvider matches instructions against a yaml skill catalog by
// keyword. Matching is deliberately dumb; richer delegation lives outside the
// automation core.
type CatalogProvider struct {
	logger  *zap.Logger
	entries []catalogEntry
}

// LoadCatalog reads and parses a skill catalog file.
func LoadCatalog(logger *zap.Logger, path string) (*CatalogProvider, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read skill catalog: %w", err)
	}
	var entries []catalogEntry
	if err := yaml.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("parse skill catalog: %w", err)
	}
	logger = logger.Named("skills")
	logger.Info("skill catalog loaded", zap.Int("entries", len(entries)))
	return &CatalogProvider{logger: logger, entries: entries}, nil
}

// MatchOrGenerateContext returns the context of every entry whose keywords all
// appear in the instruction, joined in catalog order.
func (p *CatalogProvider) MatchOrGenerateContext(ctx context.Context, instruction string) (string, error) {
	lowered := strings.ToLower(instruction)
	var matched []string
	for _, e := range p.entries {
		if len(e.Keywords) == 0 {
			continue
		}
		all := true
		for _, kw := range e.Keywords {
			if !strings.Contains(lowered, strings.ToLower(kw)) {
				all = false
				break
			}
		}
		if all {
			p.logger.Debug("skill matched", zap.String("skill", e.Name))
			matched = append(matched, e.Context)
		}
	}
	return strings.Join(matched, "\n"), nil
}
