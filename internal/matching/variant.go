package matching

import (
	"fmt"
	"strings"

	"github.com/nectic/terrier-core/internal/matching/models"
	apperrors "github.com/nectic/terrier-core/pkg/errors"
)

// WeightingModel is the per-posting scoring capability used by the
// model-driven variants.
type WeightingModel = models.Model

// Variant selects the scoring procedure.
type Variant int

const (
	// Standard scores each normalised query term with the weighting model.
	Standard Variant = iota
	// Dirichlet scores translations with Dirichlet collection smoothing.
	Dirichlet
	// WeMono scores translations with the weighting model, dropping source
	// terms the normaliser eliminates.
	WeMono
	// WeCLIR is WeMono with a source-language stopword list.
	WeCLIR
	// WeCLIRTLM adds the log translation weight to a Dirichlet score.
	WeCLIRTLM
	// WeMonoTLM walks the source term's postings and mixes in the
	// translations' in-document probabilities.
	WeMonoTLM
	// WeCLIRTLM2 is WeMonoTLM walking the postings of each translation.
	WeCLIRTLM2
)

var variantNames = []string{
	Standard:   "standard",
	Dirichlet:  "dirichletlm",
	WeMono:     "wemono",
	WeCLIR:     "weclir",
	WeCLIRTLM:  "weclirtlm",
	WeMonoTLM:  "wemonotlm",
	WeCLIRTLM2: "weclirtlm2",
}

// ParseVariant resolves a variant by name, ignoring case.
func ParseVariant(name string) (Variant, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	for v, n := range variantNames {
		if n == name {
			return Variant(v), nil
		}
	}
	return Standard, fmt.Errorf("matching variant %q: %w", name, apperrors.ErrUnknownModule)
}

// VariantNames lists every known variant name.
func VariantNames() []string {
	return append([]string(nil), variantNames...)
}

func (v Variant) String() string {
	if int(v) < 0 || int(v) >= len(variantNames) {
		return fmt.Sprintf("variant(%d)", int(v))
	}
	return variantNames[v]
}

// DefaultC is the smoothing constant of the language-model variants. It is
// zero for variants that defer to the weighting model.
func (v Variant) DefaultC() float64 {
	switch v {
	case Dirichlet:
		return 2500
	case WeCLIRTLM, WeMonoTLM, WeCLIRTLM2:
		return 500
	}
	return 0
}

// UsesWeightingModel reports whether postings are scored by the weighting
// model rather than a built-in formula.
func (v Variant) UsesWeightingModel() bool {
	return v == Standard || v == WeMono || v == WeCLIR
}

// Translates reports whether query terms fan out to translations.
func (v Variant) Translates() bool {
	return v != Standard
}

// PipelinesSource reports whether source terms must survive the term
// normaliser to be scored.
func (v Variant) PipelinesSource() bool {
	return v == Standard || v == WeMono || v == WeMonoTLM
}

func (v Variant) info(model WeightingModel, c float64) string {
	switch {
	case v == Standard:
		return model.Info()
	case v.UsesWeightingModel():
		return v.String() + "_" + model.Info()
	default:
		return v.String() + "c" + models.FormatParameter(c)
	}
}
