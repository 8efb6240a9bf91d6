package config

import (
	"errors"
	"fmt"
	"os"

	"dario.cat/mergo"
	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// envPrefix namespaces every engine variable, e.g. SYNC_TRANSPORT_BASE_URL.
const envPrefix = "SYNC_"

// Load assembles the configuration. Layers are merged highest priority first:
// environment variables, then the YAML file at path (skipped when path is
// empty), then the built-in defaults. The result is validated before it is
// returned.
func Load(path string) (*Config, error) {
	b := newBuilder().withEnv()
	if path != "" {
		b = b.withYAML(path)
	}
	return b.withDefaults().build()
}

type builder struct {
	layers []*Config
	err    error
}

func newBuilder() *builder {
	return &builder{layers: make([]*Config, 0, 3)}
}

// build merges the collected layers in order. mergo keeps values already set
// by an earlier layer, so append order is priority order.
func (b *builder) build() (*Config, error) {
	if b.err != nil {
		return nil, fmt.Errorf("error building config: %w", b.err)
	}

	config := new(Config)
	for _, layer := range b.layers {
		if err := mergo.Merge(config, layer); err != nil {
			return nil, fmt.Errorf("error merging config layers: %w", err)
		}
	}
	return config, config.validate()
}

func (b *builder) withEnv() *builder {
	envCfg := &Config{}
	if err := env.ParseWithOptions(envCfg, env.Options{Prefix: envPrefix}); err != nil {
		b.err = errors.Join(b.err, fmt.Errorf("error reading env config: %w", err))
		return b
	}
	b.layers = append(b.layers, envCfg)
	return b
}

func (b *builder) withYAML(path string) *builder {
	raw, err := os.ReadFile(path)
	if err != nil {
		b.err = errors.Join(b.err, fmt.Errorf("error reading config file: %w", err))
		return b
	}

	yamlCfg := &Config{}
	if err := yaml.Unmarshal(raw, yamlCfg); err != nil {
		b.err = errors.Join(b.err, fmt.Errorf("error decoding config file: %w", err))
		return b
	}
	b.layers = append(b.layers, yamlCfg)
	return b
}

func (b *builder) withDefaults() *builder {
	b.layers = append(b.layers, Default())
	return b
}
