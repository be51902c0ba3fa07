package search

import (
	"os"
	"sort"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// Preset is a named set of search terms sharing one option set.
type Preset struct {
	Name        string   `yaml:"name"`
	Description string   `yaml:"description"`
	Terms       []string `yaml:"terms"`
	Options     Options  `yaml:"options"`
}

type presetFile struct {
	Presets []Preset `yaml:"presets"`
}

// Presets indexes presets by name.
type Presets map[string]Preset

// LoadPresets reads a YAML presets file.
func LoadPresets(path string) (Presets, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "search: read presets %s", path)
	}
	return ParsePresets(data)
}

// ParsePresets decodes presets from YAML. Names must be unique and every
// preset needs at least one term.
func ParsePresets(data []byte) (Presets, error) {
	var f presetFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, eris.Wrap(err, "search: parse presets")
	}
	out := make(Presets, len(f.Presets))
	for _, p := range f.Presets {
		if p.Name == "" {
			return nil, eris.New("search: preset without name")
		}
		if _, dup := out[p.Name]; dup {
			return nil, eris.Errorf("search: duplicate preset %q", p.Name)
		}
		if len(nonEmpty(p.Terms)) == 0 {
			return nil, eris.Errorf("search: preset %q has no terms", p.Name)
		}
		if !p.Options.Category.Valid() {
			return nil, eris.Errorf("search: preset %q has unknown category %q", p.Name, p.Options.Category)
		}
		out[p.Name] = p
	}
	return out, nil
}

// Names returns preset names in sorted order.
func (ps Presets) Names() []string {
	names := make([]string, 0, len(ps))
	for n := range ps {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// URLs builds one search URL per preset term, filling unset options from
// defaults.
func (p Preset) URLs(defaults Options) ([]string, error) {
	opts := p.Options.Merge(defaults)
	var urls []string
	for _, term := range nonEmpty(p.Terms) {
		u, err := Build(term, opts)
		if err != nil {
			return nil, eris.Wrapf(err, "search: preset %q", p.Name)
		}
		urls = append(urls, u)
	}
	return urls, nil
}
