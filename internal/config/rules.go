package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// CategoryRules maps room grouping categories to name keywords. A room whose
// name contains any keyword (case-insensitive) is filed under that category.
type CategoryRules struct {
	Categories map[string][]string `yaml:"categories"`
}

// DefaultRules returns the built-in keyword table used when no rules file is
// configured.
func DefaultRules() *CategoryRules {
	return &CategoryRules{
		Categories: map[string][]string{
			"clientDesk":    {"クライアント", "client", "顧客", "お客様", "案件"},
			"projects":      {"プロジェクト", "project", "pj"},
			"teams":         {"チーム", "team", "部", "課", "department"},
			"meetings":      {"会議", "meeting", "ミーティング", "打ち合わせ"},
			"development":   {"テスト", "test", "開発", "dev", "development", "ai manager"},
			"announcements": {"通知", "notice", "アナウンス", "announce", "連絡"},
		},
	}
}

// LoadRules reads a YAML rules file. Categories missing from the file fall
// back to the built-in table; an empty path returns the defaults unchanged.
func LoadRules(path string) (*CategoryRules, error) {
	rules := DefaultRules()
	if path == "" {
		return rules, nil
	}

	data, err := os.ReadFile(ExpandPath(path))
	if err != nil {
		return nil, fmt.Errorf("cannot read rules file %s: %w", path, err)
	}

	var loaded CategoryRules
	if err := yaml.Unmarshal(data, &loaded); err != nil {
		return nil, fmt.Errorf("cannot parse rules file %s: %w", path, err)
	}

	for cat, keywords := range loaded.Categories {
		rules.Categories[cat] = keywords
	}
	return rules, nil
}
