package ingest

import (
	_ "embed"
	"fmt"
	"os"

	"github.com/david/grant-discovery/internal/models"
	"gopkg.in/yaml.v3"
)

//go:embed config/sources.yaml
var sourcesYAML []byte

// Registry holds the descriptors for all data sources.
type Registry struct {
	Sources []models.SourceDescriptor `yaml:"sources"`
}

// LoadRegistry reads sources from path, or the embedded sources.yaml when
// path is empty. ${VAR} references are expanded from the environment.
func LoadRegistry(path string) (*Registry, error) {
	data := sourcesYAML
	if path != "" {
		var err error
		data, err = os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read registry: %w", err)
		}
	}
	return ParseRegistry(data)
}

func ParseRegistry(data []byte) (*Registry, error) {
	expanded := os.ExpandEnv(string(data))

	var reg Registry
	if err := yaml.Unmarshal([]byte(expanded), &reg); err != nil {
		return nil, fmt.Errorf("failed to parse registry: %w", err)
	}
	if err := reg.Validate(); err != nil {
		return nil, err
	}
	return &reg, nil
}

// Validate checks ids are unique and every source has a primary URL.
func (r *Registry) Validate() error {
	seen := make(map[string]struct{}, len(r.Sources))
	for i, src := range r.Sources {
		if src.ID == "" {
			return fmt.Errorf("source #%d has no id", i)
		}
		if _, dup := seen[src.ID]; dup {
			return fmt.Errorf("duplicate source id: %s", src.ID)
		}
		seen[src.ID] = struct{}{}
		if src.PrimaryURL == "" {
			return fmt.Errorf("source %s has no primary_url", src.ID)
		}
	}
	return nil
}

func (r *Registry) Get(id string) (models.SourceDescriptor, bool) {
	for _, src := range r.Sources {
		if src.ID == id {
			return src, true
		}
	}
	return models.SourceDescriptor{}, false
}

// Filter returns a registry restricted to the given ids, or to a category
// when ids is empty.
func (r *Registry) Filter(ids []string, category string) *Registry {
	want := make(map[string]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}
	out := &Registry{}
	for _, src := range r.Sources {
		if len(want) > 0 && !want[src.ID] {
			continue
		}
		if category != "" && src.Category != category {
			continue
		}
		out.Sources = append(out.Sources, src)
	}
	return out
}
