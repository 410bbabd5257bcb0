package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// loadLocals reads template locals from a JSON or YAML file. An empty path
// yields an empty map.
func loadLocals(path string) (map[string]any, error) {
	locals := map[string]any{}
	if path == "" {
		return locals, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read locals file: %w", err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		err = json.Unmarshal(data, &locals)
	default:
		err = yaml.Unmarshal(data, &locals)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse locals file %s: %w", path, err)
	}
	if locals == nil {
		locals = map[string]any{}
	}
	return locals, nil
}

// parseSets applies key=value pairs on top of locals. Values are strings.
func parseSets(locals map[string]any, sets []string) error {
	for _, s := range sets {
		key, value, ok := strings.Cut(s, "=")
		if !ok || key == "" {
			return fmt.Errorf("invalid --set value %q, expected key=value", s)
		}
		locals[key] = value
	}
	return nil
}
