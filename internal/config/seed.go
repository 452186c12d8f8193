package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/mcbrumagin/yamf/internal/state"
)

// Seed is the optional YAML file layout for pre-registering services and
// routes at startup (additive sugar over spec.md §4.f/§4.g, not a
// requirement of it — the registry still boots empty with no seed file).
type Seed struct {
	Services []SeedService `yaml:"services,omitempty"`
	Routes   []SeedRoute   `yaml:"routes,omitempty"`
}

// SeedService pre-registers a service instance.
type SeedService struct {
	Name     string          `yaml:"name"`
	Location string          `yaml:"location"`
	Metadata *state.Metadata `yaml:"metadata,omitempty"`
}

// SeedRoute pre-registers a route binding.
type SeedRoute struct {
	Path     string `yaml:"path"`
	Service  string `yaml:"service"`
	DataType string `yaml:"dataType,omitempty"`
}

// SeedLoader loads a Seed from a YAML file, mirroring the teacher's
// pkg/config.Loader interface shape.
type SeedLoader interface {
	LoadSeed(path string) (*Seed, error)
}

type fileSeedLoader struct{}

// NewSeedLoader returns the default filesystem-backed SeedLoader.
func NewSeedLoader() SeedLoader {
	return fileSeedLoader{}
}

// LoadSeed reads and parses a seed file.
func (fileSeedLoader) LoadSeed(path string) (*Seed, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path is an operator-supplied startup flag, not user input
	if err != nil {
		return nil, fmt.Errorf("failed to read seed file: %w", err)
	}
	var seed Seed
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return nil, fmt.Errorf("failed to parse seed file: %w", err)
	}
	return &seed, nil
}
