// Package kb loads the static knowledge base: noise filter rules and
// attack pattern definitions. The knowledge base is read once before a
// run; a malformed entry is disabled and reported rather than aborting the
// load, but an unreadable document is fatal.
package kb

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"threatlens/internal/correlate"
	"threatlens/internal/noise"
)

// Document is the on-disk knowledge-base format.
type Document struct {
	NoiseRules     []noise.Rule              `yaml:"noise_rules"`
	AttackPatterns []correlate.AttackPattern `yaml:"attack_patterns"`
}

// Loader parses and validates knowledge-base documents.
type Loader struct {
	validate *validator.Validate
}

// NewLoader creates a knowledge-base loader.
func NewLoader() *Loader {
	return &Loader{validate: validator.New()}
}

// LoadFile reads a knowledge-base YAML document from disk.
func (l *Loader) LoadFile(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read knowledge base %s: %w", path, err)
	}
	return l.Parse(data)
}

// Parse decodes and validates a knowledge-base document. Invalid noise
// rules are disabled in place; invalid attack patterns are dropped. Both
// are logged so the operator can repair the source document.
func (l *Loader) Parse(data []byte) (*Document, error) {
	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse knowledge base: %w", err)
	}

	for i := range doc.NoiseRules {
		rule := &doc.NoiseRules[i]
		if !rule.Enabled {
			continue
		}
		if err := l.validate.Struct(rule); err != nil {
			slog.Warn("disabling malformed noise rule",
				"rule", rule.Name, "error", err)
			rule.Enabled = false
		}
	}

	valid := doc.AttackPatterns[:0]
	for _, pattern := range doc.AttackPatterns {
		if err := l.validate.Struct(pattern); err != nil {
			slog.Warn("dropping malformed attack pattern",
				"pattern", pattern.ID, "error", err)
			continue
		}
		valid = append(valid, pattern)
	}
	doc.AttackPatterns = valid

	slog.Info("knowledge base loaded",
		"noise_rules", len(doc.NoiseRules),
		"attack_patterns", len(doc.AttackPatterns))
	return &doc, nil
}
