package main

import (
	"fmt"
	"os"

	"github.com/goccy/go-yaml"
)

// loadContext reads the render context from a YAML or JSON file. Without a
// file templates render against an empty map.
func loadContext(path string) (map[string]any, error) {
	ctx := map[string]any{}

	if path == "" {
		return ctx, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read context file: %w", err)
	}

	if err := yaml.Unmarshal(data, &ctx); err != nil {
		return nil, fmt.Errorf("decode context file: %w", err)
	}

	if ctx == nil {
		ctx = map[string]any{}
	}

	return ctx, nil
}
