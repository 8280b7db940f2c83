package providers

import (
	"sort"
	"strings"

	"github.com/ncecere/carving_editor/internal/config"
)

// Definition captures the metadata required to register a provider builder.
type Definition struct {
	Name        string
	Description string
	// Credential names the setting that must be present for the provider to work.
	Credential string
	Builder    Builder
}

var defaultDefinitions = map[string]Definition{}

// RegisterDefinition stores a provider definition so factories can resolve builders by name.
func RegisterDefinition(def Definition) {
	if def.Builder == nil {
		panic("providers: definition builder required")
	}
	def.Name = strings.ToLower(strings.TrimSpace(def.Name))
	if def.Name == "" {
		panic("providers: definition name required")
	}
	if def.Description == "" {
		def.Description = def.Name
	}
	if defaultDefinitions == nil {
		defaultDefinitions = make(map[string]Definition)
	}
	defaultDefinitions[def.Name] = def
}

// DefaultDefinitions returns the registered provider definitions sorted by name.
func DefaultDefinitions() []Definition {
	defs := make([]Definition, 0, len(defaultDefinitions))
	for _, def := range defaultDefinitions {
		defs = append(defs, def)
	}
	sort.Slice(defs, func(i, j int) bool {
		return defs[i].Name < defs[j].Name
	})
	return defs
}

func cloneDefaultBuilders() map[string]Builder {
	builders := make(map[string]Builder, len(defaultDefinitions))
	for name, def := range defaultDefinitions {
		builders[name] = def.Builder
	}
	return builders
}

// EnsureConfig ensures the config pointer is not nil when builders run.
func EnsureConfig(cfg *config.Config) *config.Config {
	if cfg == nil {
		panic("providers: config is required")
	}
	return cfg
}
