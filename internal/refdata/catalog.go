// Package refdata loads the branch and model catalog that configuration
// forms are validated against. The catalog lives in a YAML file that ops
// updates out of band, so the loaded copy can be hot-reloaded.
package refdata

import (
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

// Branch is one selectable branch and the models buildable on it.
type Branch struct {
	Name   string   `yaml:"name"`
	Models []string `yaml:"models"`
}

// Catalog is the full reference catalog. It is immutable after load;
// reloads swap in a fresh Catalog rather than mutating in place.
type Catalog struct {
	Branches []Branch `yaml:"branches"`

	byName map[string]*Branch
}

// Load reads and validates a catalog file.
func Load(path string) (*Catalog, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog %s: %w", path, err)
	}

	var c Catalog
	if err := yaml.Unmarshal(raw, &c); err != nil {
		return nil, fmt.Errorf("failed to parse catalog %s: %w", path, err)
	}
	if err := c.index(); err != nil {
		return nil, fmt.Errorf("invalid catalog %s: %w", path, err)
	}
	return &c, nil
}

func (c *Catalog) index() error {
	c.byName = make(map[string]*Branch, len(c.Branches))
	for i := range c.Branches {
		b := &c.Branches[i]
		if b.Name == "" {
			return fmt.Errorf("branch %d has no name", i)
		}
		if _, dup := c.byName[b.Name]; dup {
			return fmt.Errorf("branch %q listed twice", b.Name)
		}
		c.byName[b.Name] = b
	}
	return nil
}

// BranchNames returns all branch names, sorted.
func (c *Catalog) BranchNames() []string {
	names := make([]string, 0, len(c.Branches))
	for _, b := range c.Branches {
		names = append(names, b.Name)
	}
	sort.Strings(names)
	return names
}

// HasBranch reports whether the branch exists in the catalog.
func (c *Catalog) HasBranch(name string) bool {
	_, ok := c.byName[name]
	return ok
}

// ModelsFor returns the models buildable on a branch, or nil for an
// unknown branch.
func (c *Catalog) ModelsFor(branch string) []string {
	b, ok := c.byName[branch]
	if !ok {
		return nil
	}
	return b.Models
}

// HasModel reports whether the model is buildable on the branch.
func (c *Catalog) HasModel(branch, model string) bool {
	for _, m := range c.ModelsFor(branch) {
		if m == model {
			return true
		}
	}
	return false
}
