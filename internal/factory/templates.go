package factory

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"vault-factory-lab/internal/chain"
	"vault-factory-lab/internal/strategy"
)

// TemplateBinding maps each strategy kind to the template new strategies
// of that kind are cloned from. A zero address disables the leg.
type TemplateBinding map[strategy.Kind]common.Address

// Enabled reports whether kind has a template bound.
func (b TemplateBinding) Enabled(kind strategy.Kind) bool {
	return b[kind] != (common.Address{})
}

func (b TemplateBinding) clone() TemplateBinding {
	out := make(TemplateBinding, len(b))
	for k, v := range b {
		out[k] = v
	}
	return out
}

func (f *Factory) ConvexStratImplementation() common.Address {
	return f.templates[strategy.KindConvex]
}

func (f *Factory) CurveStratImplementation() common.Address {
	return f.templates[strategy.KindCurve]
}

// Templates returns a copy of the current binding.
func (f *Factory) Templates() TemplateBinding {
	return f.templates.clone()
}

// cloneLeg clones the template bound to params.Kind() as the factory. The
// template must be a clonable original of that kind.
func cloneLeg(tx *chain.Tx, templates TemplateBinding, init strategy.Init) (*strategy.Strategy, error) {
	kind := init.Params.Kind()
	s, err := strategy.FromTemplate(tx, templates[kind], init)
	if err != nil {
		return nil, fmt.Errorf("clone %s strategy: %w", kind, err)
	}
	return s, nil
}
