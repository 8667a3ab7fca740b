package scanner

import (
	"fmt"

	"sessionvault/internal/config"
	"sessionvault/internal/extractor"
)

// SourcesFromConfig binds every registered extractor to its configured roots
// and filters. Sources without a config entry use the extractor's default
// roots; disabled sources are left out. Naming an unknown source is an error.
func SourcesFromConfig(registry *extractor.Registry, cfgs []config.SourceConfig) ([]Source, error) {
	byName := make(map[string]config.SourceConfig, len(cfgs))
	for _, c := range cfgs {
		if _, ok := registry.Get(c.Name); !ok {
			return nil, fmt.Errorf("unknown source %q (known: %v)", c.Name, registry.Sources())
		}
		byName[c.Name] = c
	}

	var out []Source
	for _, ext := range registry.Extractors() {
		c, ok := byName[ext.Source()]
		if ok && !c.IsEnabled() {
			continue
		}
		roots := ext.DefaultRoots()
		if ok && len(c.Roots) > 0 {
			roots = c.Roots
		}
		filter, err := extractor.NewFilter(c.Include, c.Exclude)
		if err != nil {
			return nil, fmt.Errorf("source %s: %w", ext.Source(), err)
		}
		out = append(out, Source{Extractor: ext, Roots: roots, Filter: filter})
	}
	return out, nil
}
