package papers

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// LoadTopics reads categories and keywords from a YAML file. A missing file
// yields the built-in defaults.
func LoadTopics(path string) (*Topics, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		slog.Debug("Topics file not found, using defaults", "path", path)
		return defaultTopics(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	return ParseTopics(data)
}

func ParseTopics(data []byte) (*Topics, error) {
	var topics Topics
	if err := yaml.Unmarshal(data, &topics); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if len(topics.Categories) == 0 {
		topics.Categories = append([]string(nil), DefaultCategories...)
	}
	if len(topics.Keywords) == 0 {
		topics.Keywords = append([]string(nil), DefaultKeywords...)
	}

	if err := validateTopics(&topics); err != nil {
		return nil, fmt.Errorf("invalid topics: %w", err)
	}

	return &topics, nil
}

func defaultTopics() *Topics {
	return &Topics{
		Categories: append([]string(nil), DefaultCategories...),
		Keywords:   append([]string(nil), DefaultKeywords...),
	}
}

func validateTopics(topics *Topics) error {
	for i, category := range topics.Categories {
		category = strings.TrimSpace(category)
		if category == "" {
			return fmt.Errorf("empty category at index %d", i)
		}
		if strings.ContainsAny(category, " :") {
			return fmt.Errorf("invalid category at index %d: %q", i, category)
		}
		topics.Categories[i] = category
	}

	for i, keyword := range topics.Keywords {
		if strings.TrimSpace(keyword) == "" {
			return fmt.Errorf("empty keyword at index %d", i)
		}
	}

	return nil
}
