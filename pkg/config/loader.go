package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"gopkg.in/yaml.v3"

	"github.com/resubd/resubd/pkg/subscription"
)

// Common errors for configuration loading and validation.
var (
	ErrFileNotFound     = errors.New("configuration file not found")
	ErrPermissionDenied = errors.New("permission denied")
	ErrInvalidJSON      = errors.New("invalid JSON syntax")
	ErrInvalidYAML      = errors.New("invalid YAML syntax")
	ErrEmptyFile        = errors.New("configuration file is empty")
	ErrValidation       = errors.New("invalid configuration")
)

// Load reads, defaults, and validates a configuration file. The format is
// detected by extension (.yaml/.yml for YAML, otherwise JSON). Descriptor
// files referenced by subscriptionFiles are resolved relative to the config
// file's directory and merged into Subscriptions, later files winning on
// duplicate names.
func Load(path string) (*Config, error) {
	data, err := readFile(path)
	if err != nil {
		return nil, err
	}

	cfg := &Config{}
	if isYAMLPath(path) {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidYAML, err)
		}
	} else {
		if !json.Valid(data) {
			return nil, fmt.Errorf("%w in file: %s", ErrInvalidJSON, path)
		}
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidJSON, err)
		}
	}

	if len(cfg.SubscriptionFiles) > 0 {
		extra, err := loadDescriptorFiles(filepath.Dir(path), cfg.SubscriptionFiles)
		if err != nil {
			return nil, err
		}
		cfg.Subscriptions = mergeDescriptors(cfg.Subscriptions, extra)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func readFile(path string) ([]byte, error) {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrFileNotFound, path)
		}
		if os.IsPermission(err) {
			return nil, fmt.Errorf("%w: %s", ErrPermissionDenied, path)
		}
		return nil, fmt.Errorf("failed to stat file: %w", err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("path is a directory, not a file: %s", path)
	}

	file, err := os.Open(path)
	if err != nil {
		if os.IsPermission(err) {
			return nil, fmt.Errorf("%w: %s", ErrPermissionDenied, path)
		}
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer func() { _ = file.Close() }()

	data, err := io.ReadAll(file)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrEmptyFile, path)
	}
	return data, nil
}

func isYAMLPath(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}

// descriptorFile is the shape of a standalone descriptor file: either a
// single descriptor or a list of them.
type descriptorFile struct {
	single subscription.Descriptor
	list   []subscription.Descriptor
	isList bool
}

func (f *descriptorFile) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.SequenceNode {
		f.isList = true
		return node.Decode(&f.list)
	}
	return node.Decode(&f.single)
}

func (f *descriptorFile) descriptors() []subscription.Descriptor {
	if f.isList {
		return f.list
	}
	return []subscription.Descriptor{f.single}
}

// loadDescriptorFiles expands each glob pattern relative to baseDir and
// parses every match as a descriptor file. Matches are sorted so merge
// order is deterministic. A pattern with no matches is not an error.
func loadDescriptorFiles(baseDir string, patterns []string) ([]subscription.Descriptor, error) {
	var out []subscription.Descriptor
	for _, pattern := range patterns {
		resolved := pattern
		if !filepath.IsAbs(pattern) {
			resolved = filepath.Join(baseDir, pattern)
		}

		matches, err := expandGlob(resolved)
		if err != nil {
			return nil, fmt.Errorf("expanding glob %q: %w", pattern, err)
		}
		sort.Strings(matches)

		for _, match := range matches {
			data, err := readFile(match)
			if err != nil {
				return nil, err
			}
			var file descriptorFile
			if isYAMLPath(match) {
				if err := yaml.Unmarshal(data, &file); err != nil {
					return nil, fmt.Errorf("%w: %s: %v", ErrInvalidYAML, match, err)
				}
			} else {
				var list []subscription.Descriptor
				if err := json.Unmarshal(data, &list); err != nil {
					var single subscription.Descriptor
					if err := json.Unmarshal(data, &single); err != nil {
						return nil, fmt.Errorf("%w: %s: %v", ErrInvalidJSON, match, err)
					}
					list = []subscription.Descriptor{single}
				}
				out = append(out, list...)
				continue
			}
			out = append(out, file.descriptors()...)
		}
	}
	return out, nil
}

// expandGlob expands a glob pattern, using doublestar when the pattern
// needs ** and filepath.Glob otherwise.
func expandGlob(pattern string) ([]string, error) {
	if strings.Contains(pattern, "**") {
		return doublestar.FilepathGlob(pattern)
	}
	return filepath.Glob(pattern)
}

// mergeDescriptors combines inline and file descriptors. Later entries win
// on duplicate names while keeping the first occurrence's position.
func mergeDescriptors(inline, extra []subscription.Descriptor) []subscription.Descriptor {
	merged := make([]subscription.Descriptor, 0, len(inline)+len(extra))
	index := make(map[string]int, len(inline)+len(extra))
	for _, d := range append(append([]subscription.Descriptor{}, inline...), extra...) {
		if i, seen := index[d.Name]; seen {
			merged[i] = d
			continue
		}
		index[d.Name] = len(merged)
		merged = append(merged, d)
	}
	return merged
}
