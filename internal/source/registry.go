// Package source resolves territory codes to population-count rasters.
package source

import (
	_ "embed"
	"os"
	"sort"
	"strings"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

//go:embed registry.yaml
var defaultRegistry []byte

// Kind tells where a territory's counts come from.
type Kind string

const (
	KindWorldPop Kind = "worldpop"
	KindDirect   Kind = "direct"
)

// Registry maps territory codes to download locations.
type Registry struct {
	WorldPop WorldPopConfig           `yaml:"worldpop"`
	Direct   map[string]DirectSource `yaml:"direct"`
}

// WorldPopConfig holds the constrained WorldPop URL pattern and the codes
// served from it.
type WorldPopConfig struct {
	BaseURL string   `yaml:"base_url"`
	Suffix  string   `yaml:"suffix"`
	Codes   []string `yaml:"codes"`
}

// DirectSource is a GeoTIFF or a ZIP holding one. Member names the GeoTIFF
// inside a ZIP; when empty it defaults to <CODE>_t_pop_2025.tif.
type DirectSource struct {
	URL    string `yaml:"url"`
	Member string `yaml:"member,omitempty"`
}

// Location is a resolved download for one territory.
type Location struct {
	Code   string
	Kind   Kind
	URL    string
	Member string // empty unless URL is a ZIP
}

// IsZIP reports whether the location is an archive.
func (l Location) IsZIP() bool {
	return strings.HasSuffix(strings.ToLower(l.URL), ".zip")
}

// DefaultRegistry returns the built-in registry.
func DefaultRegistry() (*Registry, error) {
	return parseRegistry(defaultRegistry)
}

// LoadRegistry reads a registry from a YAML file. An empty path yields the
// built-in registry.
func LoadRegistry(path string) (*Registry, error) {
	if path == "" {
		return DefaultRegistry()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "source: read registry %s", path)
	}
	return parseRegistry(data)
}

func parseRegistry(data []byte) (*Registry, error) {
	// The YAML has a top-level "registry" key
	var wrapper struct {
		Registry Registry `yaml:"registry"`
	}
	if err := yaml.Unmarshal(data, &wrapper); err != nil {
		return nil, eris.Wrap(err, "source: parse registry")
	}
	reg := &wrapper.Registry
	for i, c := range reg.WorldPop.Codes {
		reg.WorldPop.Codes[i] = strings.ToUpper(strings.TrimSpace(c))
	}
	direct := make(map[string]DirectSource, len(reg.Direct))
	for code, d := range reg.Direct {
		direct[strings.ToUpper(strings.TrimSpace(code))] = d
	}
	reg.Direct = direct
	if len(reg.WorldPop.Codes) > 0 && reg.WorldPop.BaseURL == "" {
		return nil, eris.New("source: worldpop codes listed without base_url")
	}
	return reg, nil
}

// Lookup resolves a territory code. WorldPop takes precedence over a direct
// download for the same code. ok is false for unregistered codes.
func (r *Registry) Lookup(code string) (Location, bool) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" {
		return Location{}, false
	}
	for _, c := range r.WorldPop.Codes {
		if c == code {
			return Location{Code: code, Kind: KindWorldPop, URL: r.worldPopURL(code)}, true
		}
	}
	d, ok := r.Direct[code]
	if !ok || d.URL == "" {
		return Location{}, false
	}
	loc := Location{Code: code, Kind: KindDirect, URL: d.URL}
	if loc.IsZIP() {
		loc.Member = d.Member
		if loc.Member == "" {
			loc.Member = code + "_t_pop_2025.tif"
		}
	}
	return loc, true
}

func (r *Registry) worldPopURL(code string) string {
	base := strings.TrimRight(r.WorldPop.BaseURL, "/")
	return base + "/" + code + "/v1/100m/constrained/" + strings.ToLower(code) + r.WorldPop.Suffix
}

// Locations returns every registered territory, sorted by code.
func (r *Registry) Locations() []Location {
	seen := make(map[string]struct{})
	var out []Location
	add := func(code string) {
		if _, dup := seen[code]; dup {
			return
		}
		seen[code] = struct{}{}
		if loc, ok := r.Lookup(code); ok {
			out = append(out, loc)
		}
	}
	for _, c := range r.WorldPop.Codes {
		add(c)
	}
	for c := range r.Direct {
		add(c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out
}
