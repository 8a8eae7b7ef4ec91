package config

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	json5 "github.com/yosuke-furukawa/json5/encoding/json5"
	"gopkg.in/yaml.v3"
)

const includeKey = "$include"

// Load reads, composes, and validates the config at path. Values start from
// DefaultConfig and are overridden by included files (in order) and finally
// the file itself. Environment variables in the file body are expanded.
func Load(path string) (*Config, error) {
	raw, err := LoadRaw(path)
	if err != nil {
		return nil, err
	}
	cfg, err := decodeRaw(raw)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// LoadRaw reads a config file into a merged raw map, resolving $include
// directives with cycle detection.
func LoadRaw(path string) (map[string]any, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("config path is required")
	}
	return loadRawRecursive(path, map[string]bool{})
}

func loadRawRecursive(path string, seen map[string]bool) (map[string]any, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	if seen[absPath] {
		return nil, fmt.Errorf("config include cycle detected at %s", absPath)
	}
	seen[absPath] = true
	defer delete(seen, absPath)

	data, err := os.ReadFile(absPath)
	if err != nil {
		return nil, err
	}
	raw, err := parseRawBytes([]byte(os.ExpandEnv(string(data))), absPath)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", absPath, err)
	}

	includes, err := extractIncludes(raw)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", absPath, err)
	}

	merged := map[string]any{}
	baseDir := filepath.Dir(absPath)
	for _, include := range includes {
		if strings.TrimSpace(include) == "" {
			continue
		}
		if !filepath.IsAbs(include) {
			include = filepath.Join(baseDir, include)
		}
		includedRaw, err := loadRawRecursive(include, seen)
		if err != nil {
			return nil, err
		}
		merged = mergeMaps(merged, includedRaw)
	}
	return mergeMaps(merged, raw), nil
}

// parseRawBytes decodes one document, picking the format from the file
// extension: .json/.json5 via json5, anything else as YAML.
func parseRawBytes(data []byte, pathHint string) (map[string]any, error) {
	ext := strings.ToLower(filepath.Ext(pathHint))
	if ext == ".json" || ext == ".json5" {
		var raw map[string]any
		if err := json5.Unmarshal(data, &raw); err != nil {
			return nil, err
		}
		if raw == nil {
			raw = map[string]any{}
		}
		return raw, nil
	}

	decoder := yaml.NewDecoder(bytes.NewReader(data))
	var raw map[string]any
	if err := decoder.Decode(&raw); err != nil {
		if err == io.EOF {
			return map[string]any{}, nil
		}
		return nil, err
	}
	if err := decoder.Decode(&struct{}{}); err != io.EOF {
		return nil, fmt.Errorf("expected a single document")
	}
	if raw == nil {
		raw = map[string]any{}
	}
	return raw, nil
}

func extractIncludes(raw map[string]any) ([]string, error) {
	value, ok := raw[includeKey]
	if !ok {
		return nil, nil
	}
	delete(raw, includeKey)

	switch typed := value.(type) {
	case string:
		return []string{typed}, nil
	case []any:
		paths := make([]string, 0, len(typed))
		for _, entry := range typed {
			path, ok := entry.(string)
			if !ok {
				return nil, fmt.Errorf("%s entries must be strings", includeKey)
			}
			paths = append(paths, path)
		}
		return paths, nil
	default:
		return nil, fmt.Errorf("%s must be a string or list of strings", includeKey)
	}
}

// mergeMaps overlays src onto dst, merging nested maps and replacing
// everything else.
func mergeMaps(dst, src map[string]any) map[string]any {
	if dst == nil {
		dst = map[string]any{}
	}
	for key, value := range src {
		if srcMap, ok := value.(map[string]any); ok {
			if dstMap, ok := dst[key].(map[string]any); ok {
				dst[key] = mergeMaps(dstMap, srcMap)
				continue
			}
		}
		dst[key] = value
	}
	return dst
}

func decodeRaw(raw map[string]any) (*Config, error) {
	payload, err := yaml.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("serialize config: %w", err)
	}
	cfg := DefaultConfig()
	decoder := yaml.NewDecoder(bytes.NewReader(payload))
	decoder.KnownFields(true)
	if err := decoder.Decode(cfg); err != nil && err != io.EOF {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}
