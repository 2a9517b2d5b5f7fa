package navigation

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// yamlGroupFile is the top-level YAML structure for navigation files.
type yamlGroupFile struct {
	Group yamlGroup `yaml:"group"`
}

type yamlGroup struct {
	Name  string     `yaml:"name"`
	Paths []yamlPath `yaml:"paths"`
}

type yamlPath struct {
	ID       string      `yaml:"id"`
	Identity string      `yaml:"identity"`
	Points   []yamlPoint `yaml:"points"`
}

type yamlPoint struct {
	X          int    `yaml:"x"`
	Y          int    `yaml:"y"`
	Transition string `yaml:"transition"`
	Key        string `yaml:"key"`
	Next       string `yaml:"next"`
}

// LoadGroupFromFile reads and validates a single navigation YAML file.
//
// Precondition: path must point to a valid YAML navigation file.
// Postcondition: Returns a validated Group or a non-nil error.
func LoadGroupFromFile(path string) (*Group, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading navigation file %s: %w", path, err)
	}
	return LoadGroupFromBytes(data)
}

// LoadGroupFromBytes parses and validates a group from YAML bytes.
//
// Postcondition: Returns a validated Group or a non-nil error.
func LoadGroupFromBytes(data []byte) (*Group, error) {
	var file yamlGroupFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parsing navigation YAML: %w", err)
	}
	g, err := convertYAMLGroup(file.Group)
	if err != nil {
		return nil, err
	}
	if err := g.Validate(); err != nil {
		return nil, fmt.Errorf("validating navigation group: %w", err)
	}
	return g, nil
}

// LoadGroupsFromDir loads every YAML file in dir as a navigation group. A
// directory without groups is not an error: navigation is optional.
//
// Precondition: dir must be a valid directory path.
// Postcondition: Returns all validated groups keyed by name or the first error encountered.
func LoadGroupsFromDir(dir string) (map[string]*Group, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading navigation directory %s: %w", dir, err)
	}
	groups := make(map[string]*Group)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if !strings.HasSuffix(name, ".yaml") && !strings.HasSuffix(name, ".yml") {
			continue
		}
		g, err := LoadGroupFromFile(filepath.Join(dir, name))
		if err != nil {
			return nil, fmt.Errorf("loading navigation group from %s: %w", name, err)
		}
		if _, dup := groups[g.Name]; dup {
			return nil, fmt.Errorf("duplicate navigation group %q in %s", g.Name, name)
		}
		groups[g.Name] = g
	}
	return groups, nil
}

// convertYAMLGroup converts the parsed YAML structures into domain types. An
// empty transition defaults to portal.
func convertYAMLGroup(yg yamlGroup) (*Group, error) {
	g := &Group{Name: yg.Name, Paths: make(map[string]*Path, len(yg.Paths))}
	for _, yp := range yg.Paths {
		if yp.ID == "" {
			return nil, fmt.Errorf("group %q: path ID must not be empty", yg.Name)
		}
		if _, dup := g.Paths[yp.ID]; dup {
			return nil, fmt.Errorf("group %q: duplicate path ID %q", yg.Name, yp.ID)
		}
		p := &Path{ID: yp.ID, Identity: yp.Identity}
		for _, pt := range yp.Points {
			tr := Transition(pt.Transition)
			if tr == "" {
				tr = TransitionPortal
			}
			p.Points = append(p.Points, Point{X: pt.X, Y: pt.Y, Transition: tr, Key: pt.Key, Next: pt.Next})
		}
		g.Paths[p.ID] = p
		g.order = append(g.order, p.ID)
	}
	return g, nil
}

// NewGroup builds a group from paths in order.
//
// Postcondition: Returns a validated Group or a non-nil error.
func NewGroup(name string, paths ...Path) (*Group, error) {
	g := &Group{Name: name, Paths: make(map[string]*Path, len(paths))}
	for i := range paths {
		p := paths[i]
		if _, dup := g.Paths[p.ID]; dup {
			return nil, fmt.Errorf("group %q: duplicate path ID %q", name, p.ID)
		}
		g.Paths[p.ID] = &p
		g.order = append(g.order, p.ID)
	}
	if err := g.Validate(); err != nil {
		return nil, err
	}
	return g, nil
}
