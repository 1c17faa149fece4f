package config

import (
	"fmt"
	"os"
	"regexp"

	"gopkg.in/yaml.v3"
)

// FilterFile is the YAML form of the capture filters:
//
//	url: api\.example\.com
//	url_regex: true
//	methods: [GET, POST]
//	resource_types: [xhr, fetch]
type FilterFile struct {
	URL           string   `yaml:"url"`
	URLRegex      bool     `yaml:"url_regex"`
	Methods       []string `yaml:"methods"`
	ResourceTypes []string `yaml:"resource_types"`
}

// LoadFilterFile reads and validates a filter YAML file.
func LoadFilterFile(path string) (*FilterFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("filter file: %w", err)
	}
	var ff FilterFile
	if err := yaml.Unmarshal(data, &ff); err != nil {
		return nil, fmt.Errorf("filter file: %w", err)
	}
	if ff.URLRegex {
		if ff.URL == "" {
			return nil, fmt.Errorf("filter file: url_regex set without url")
		}
		if _, err := regexp.Compile(ff.URL); err != nil {
			return nil, fmt.Errorf("filter file: url: %w", err)
		}
	}
	for i, m := range ff.Methods {
		if m == "" {
			return nil, fmt.Errorf("filter file: methods[%d] is empty", i)
		}
	}
	for i, rt := range ff.ResourceTypes {
		if rt == "" {
			return nil, fmt.Errorf("filter file: resource_types[%d] is empty", i)
		}
	}
	return &ff, nil
}

func (ff *FilterFile) apply(cfg *Config) {
	cfg.URLFilter = ff.URL
	cfg.URLFilterRegex = ff.URLRegex
	cfg.MethodFilter = ff.Methods
	cfg.ResourceTypeFilter = ff.ResourceTypes
}
