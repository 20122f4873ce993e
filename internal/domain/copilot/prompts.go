package copilot

import (
	_ "embed"
	"errors"
	"fmt"

	"gopkg.in/yaml.v3"
)

//go:embed prompts.yaml
var promptsYAML []byte

// Prompt is one catalog entry.
type Prompt struct {
	System       string `yaml:"system"`
	Instructions string `yaml:"instructions"`
}

// Catalog holds the prompts of every kernel.
type Catalog struct {
	LeadScore       Prompt `yaml:"lead_score"`
	Discount        Prompt `yaml:"discount"`
	CallSummary     Prompt `yaml:"call_summary"`
	KnowledgeAnswer Prompt `yaml:"knowledge_answer"`
}

var errEmptyPrompt = errors.New("copilot: prompt catalog entry has no system prompt")

// LoadCatalog parses a YAML prompt catalog. Every entry needs a system prompt.
func LoadCatalog(data []byte) (Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return Catalog{}, fmt.Errorf("copilot: parse prompt catalog: %w", err)
	}
	for name, p := range map[string]Prompt{
		"lead_score":       c.LeadScore,
		"discount":         c.Discount,
		"call_summary":     c.CallSummary,
		"knowledge_answer": c.KnowledgeAnswer,
	} {
		if p.System == "" {
			return Catalog{}, fmt.Errorf("%w: %s", errEmptyPrompt, name)
		}
	}
	return c, nil
}

// DefaultCatalog returns the embedded catalog.
func DefaultCatalog() Catalog {
	return defaultCatalog
}

var defaultCatalog = func() Catalog {
	c, err := LoadCatalog(promptsYAML)
	if err != nil {
		panic(err)
	}
	return c
}()
