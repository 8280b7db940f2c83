package providers

import (
	"context"
	"fmt"
	"strings"

	"github.com/ncecere/carving_editor/internal/config"
	"github.com/ncecere/carving_editor/internal/models"
)

// Builder constructs an Editor from configuration.
type Builder func(ctx context.Context, cfg *config.Config) (Editor, error)

// Set is the primary editor plus the optional fallback resolved at startup.
type Set struct {
	Primary  Editor
	Fallback Editor
}

// Factory builds editors from configuration using a registry of builders.
type Factory struct {
	cfg      *config.Config
	builders map[string]Builder
}

// NewFactory creates a factory with the default provider registry.
func NewFactory(cfg *config.Config) *Factory {
	return &Factory{cfg: EnsureConfig(cfg), builders: cloneDefaultBuilders()}
}

// Register allows tests or callers to override provider builders.
func (f *Factory) Register(name string, builder Builder) {
	if f.builders == nil {
		f.builders = make(map[string]Builder)
	}
	f.builders[strings.ToLower(strings.TrimSpace(name))] = builder
}

// Build returns the editor registered under name. Unknown names produce an
// editor whose every attempt fails with an unimplemented error.
func (f *Factory) Build(ctx context.Context, name string) (Editor, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	builder, ok := f.builders[name]
	if !ok {
		return unimplementedEditor{name: name}, nil
	}
	editor, err := builder(ctx, f.cfg)
	if err != nil {
		return nil, fmt.Errorf("provider %q: %w", name, err)
	}
	return editor, nil
}

// BuildSet resolves the configured primary and, when distinct, the fallback.
func (f *Factory) BuildSet(ctx context.Context) (Set, error) {
	primary, err := f.Build(ctx, f.cfg.Providers.Primary)
	if err != nil {
		return Set{}, err
	}
	set := Set{Primary: primary}
	if name := f.cfg.Providers.EffectiveFallback(); name != "" {
		fallback, err := f.Build(ctx, name)
		if err != nil {
			return Set{}, err
		}
		set.Fallback = fallback
	}
	return set, nil
}

type unimplementedEditor struct {
	name string
}

func (u unimplementedEditor) Name() string { return u.name }

func (u unimplementedEditor) Edit(context.Context, models.EditRequest) (models.EditResult, error) {
	return models.EditResult{}, models.Unimplemented(u.name)
}
