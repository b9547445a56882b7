package policy

import (
	"fmt"
	"os"
	"path/filepath"

	"warden/core"

	"gopkg.in/yaml.v3"
)

// policyFile is the on-disk YAML layout: one file can carry several
// policies.
type policyFile struct {
	Policies []core.SecurityPolicy `yaml:"policies"`
}

// LoadFile parses a YAML policy file. Policies are validated the same
// way Apply validates them, so a file that loads cleanly will also
// apply cleanly.
func LoadFile(path string) ([]*core.SecurityPolicy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read policy file %s: %w", path, err)
	}

	var file policyFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse policy file %s: %w", path, err)
	}
	if len(file.Policies) == 0 {
		return nil, fmt.Errorf("policy file %s contains no policies", path)
	}

	out := make([]*core.SecurityPolicy, 0, len(file.Policies))
	for i := range file.Policies {
		p := &file.Policies[i]
		if err := core.ValidatePolicy(p); err != nil {
			return nil, fmt.Errorf("policy %q in %s: %w", p.ID, path, err)
		}
		out = append(out, p)
	}
	return out, nil
}

// LoadDir loads every .yaml/.yml file in a directory, sorted by name.
func LoadDir(dir string) ([]*core.SecurityPolicy, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read policy directory %s: %w", dir, err)
	}

	var out []*core.SecurityPolicy
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := filepath.Ext(entry.Name())
		if ext != ".yaml" && ext != ".yml" {
			continue
		}
		policies, err := LoadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			return nil, err
		}
		out = append(out, policies...)
	}
	return out, nil
}
