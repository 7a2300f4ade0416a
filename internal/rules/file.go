package rules

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

type fileDocument struct {
	Rules []Spec `yaml:"rules"`
}

// LoadFile reads a YAML rule file. A missing file yields an empty set.
// Entries that fail validation are skipped and reported in skipped.
func LoadFile(path string) (set Set, skipped []error, err error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Set{}, nil, nil
		}
		return Set{}, nil, fmt.Errorf("read rules file: %w", err)
	}

	var doc fileDocument
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return Set{}, nil, fmt.Errorf("parse rules file %s: %w", path, err)
	}

	rs, skipped := FromSpecs(doc.Rules)
	for _, r := range rs {
		next, addErr := set.Add(r)
		if addErr != nil {
			skipped = append(skipped, addErr)
			continue
		}
		set = next
	}
	return set, skipped, nil
}

// SaveFile writes the set as YAML, creating parent directories.
func SaveFile(path string, set Set) error {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create rules dir: %w", err)
		}
	}

	data, err := yaml.Marshal(fileDocument{Rules: set.Specs()})
	if err != nil {
		return fmt.Errorf("encode rules: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write rules file: %w", err)
	}
	return nil
}
