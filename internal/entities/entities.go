// Package entities loads the ordered list of cities the ingestion loop polls.
package entities

import (
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

var ErrEmpty = errors.New("entity list is empty")

// yamlFile is the YAML form of the entity list.
type yamlFile struct {
	Cities []string `yaml:"cities"`
}

// Load reads the entity list from path. Files ending in .yaml or .yml are
// decoded as YAML; anything else is treated as delimited text.
func Load(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read entities file: %w", err)
	}

	var list []string
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		list, err = ParseYAML(data)
	default:
		list, err = ParseDelimited(string(data))
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return list, nil
}

// ParseDelimited reads comma-separated entries across any number of lines.
// Entries containing commas, such as "Columbus, OH, US", must be quoted.
// Lines starting with # are comments.
func ParseDelimited(text string) ([]string, error) {
	r := csv.NewReader(strings.NewReader(text))
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true
	r.Comment = '#'

	records, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parse entities: %w", err)
	}

	var list []string
	for _, fields := range records {
		for _, f := range fields {
			if f = strings.TrimSpace(f); f != "" {
				list = append(list, f)
			}
		}
	}

	if len(list) == 0 {
		return nil, ErrEmpty
	}
	return list, nil
}

// ParseYAML decodes a document of the form `cities: [...]`.
func ParseYAML(data []byte) ([]string, error) {
	var doc yamlFile
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode yaml: %w", err)
	}

	list := make([]string, 0, len(doc.Cities))
	for _, c := range doc.Cities {
		if c = strings.TrimSpace(c); c != "" {
			list = append(list, c)
		}
	}
	if len(list) == 0 {
		return nil, ErrEmpty
	}
	return list, nil
}
