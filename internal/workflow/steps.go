package workflow

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Amount thresholds from the chain configuration, in FCFA.
var (
	// SeuilMarche is the amount above which a passation de marché is
	// required before an engagement.
	SeuilMarche = decimal.NewFromInt(5_000_000)
	// SeuilValidationDG is the amount at or above which liquidations route
	// through DG validation.
	SeuilValidationDG = decimal.NewFromInt(50_000_000)
)

// VisaStep is an intermediate validation checkpoint between submission and
// the terminal validated status. Steps are ordered; a step with MinAmount
// set is skipped for documents below that amount.
type VisaStep struct {
	Order     int
	Status    Status
	MinAmount decimal.Decimal
}

// KindConfig is the immutable chain configuration for one document kind.
// Loaded once at package init, read-only thereafter.
type KindConfig struct {
	Kind        Kind
	ChainOrder  int
	DocTypeCode string // sequence prefix
	Label       string

	// Predecessor is the chain step that must hold a validated document
	// before this kind may be validated. Empty means none.
	Predecessor Kind
	// PredecessorOptionalBelow disables the predecessor requirement for
	// documents under the given amount (zero = always required).
	PredecessorOptionalBelow decimal.Decimal

	// ConditionalPredecessor adds a second prerequisite step that applies
	// only at or above ConditionalPredecessorMin (the marché rule).
	ConditionalPredecessor    Kind
	ConditionalPredecessorMin decimal.Decimal

	// VisaPath lists intermediate checkpoints between soumis and Terminal.
	VisaPath []VisaStep
	// Terminal is the status reached when the last visa step validates.
	Terminal Status

	// BudgetHardBlock escalates an amount_exceeds_available imputation
	// check from warning to PrerequisiteFailed on validate.
	BudgetHardBlock bool
	// RequiresAttachment gates validation on the presence of the kind's
	// required supporting documents.
	RequiresAttachment bool
}

var kindConfigs = map[Kind]KindConfig{
	KindNoteSEF: {
		Kind: KindNoteSEF, ChainOrder: 1, DocTypeCode: "NSEF",
		Label:    "Note Sans Engagement Financier",
		Terminal: StatusValide,
	},
	KindNoteAEF: {
		Kind: KindNoteAEF, ChainOrder: 2, DocTypeCode: "NAEF",
		Label:    "Note Avec Engagement Financier",
		VisaPath: []VisaStep{{Order: 1, Status: StatusAValider}},
		Terminal: StatusValide,
	},
	KindImputation: {
		Kind: KindImputation, ChainOrder: 3, DocTypeCode: "IMP",
		Label:       "Imputation Budgétaire",
		Predecessor: KindNoteAEF,
		Terminal:    StatusImpute,
	},
	KindExpressionBesoin: {
		Kind: KindExpressionBesoin, ChainOrder: 4, DocTypeCode: "EB",
		Label:       "Expression de Besoin",
		Predecessor: KindImputation,
		Terminal:    StatusValide,
	},
	KindMarche: {
		Kind: KindMarche, ChainOrder: 5, DocTypeCode: "MAR",
		Label:       "Passation de Marché",
		Predecessor: KindExpressionBesoin,
		Terminal:    StatusValide,
	},
	KindEngagement: {
		Kind: KindEngagement, ChainOrder: 6, DocTypeCode: "ENG",
		Label:       "Engagement Budgétaire",
		Predecessor: KindExpressionBesoin,
		Terminal:    StatusValide,
		// A passation de marché is required from 5M FCFA upward.
		ConditionalPredecessor:    KindMarche,
		ConditionalPredecessorMin: SeuilMarche,
		// Engagement validation refuses amounts beyond the budget line's
		// disponible instead of recording a warning.
		BudgetHardBlock: true,
	},
	KindLiquidation: {
		Kind: KindLiquidation, ChainOrder: 7, DocTypeCode: "LIQ",
		Label:       "Liquidation",
		Predecessor: KindEngagement,
		VisaPath: []VisaStep{
			{Order: 1, Status: StatusEnValidationDG, MinAmount: SeuilValidationDG},
		},
		Terminal:           StatusValide,
		RequiresAttachment: true,
	},
	KindOrdonnancement: {
		Kind: KindOrdonnancement, ChainOrder: 8, DocTypeCode: "ORD",
		Label:       "Ordonnancement",
		Predecessor: KindLiquidation,
		VisaPath: []VisaStep{
			{Order: 1, Status: StatusEnSignature},
		},
		Terminal: StatusSigne,
	},
	KindReglement: {
		Kind: KindReglement, ChainOrder: 9, DocTypeCode: "REG",
		Label:       "Règlement",
		Predecessor: KindOrdonnancement,
		VisaPath: []VisaStep{
			{Order: 1, Status: StatusPaye},
		},
		Terminal: StatusCloture,
	},
}

// ConfigFor returns the chain configuration for a kind.
// Panics on unknown kind.
func ConfigFor(k Kind) KindConfig {
	cfg, ok := kindConfigs[k]
	if !ok {
		panic(fmt.Sprintf("workflow: unknown document kind %q", k))
	}
	return cfg
}

// KindForDocType maps a sequence document-type code back to its kind.
func KindForDocType(code string) (Kind, bool) {
	for k, cfg := range kindConfigs {
		if cfg.DocTypeCode == code {
			return k, true
		}
	}
	return "", false
}

// visaOrder returns the position of a status on the validation path:
// 0 for soumis, the step order for visa statuses, and the highest
// order + 1 for the terminal status. Returns -1 for statuses off the path.
func (c KindConfig) visaOrder(s Status) int {
	if s == StatusSoumis || (c.Kind == KindImputation && s == StatusBrouillon) {
		return 0
	}
	last := 0
	for _, step := range c.VisaPath {
		if step.Status == s {
			return step.Order
		}
		if step.Order > last {
			last = step.Order
		}
	}
	if s == c.Terminal {
		return last + 1
	}
	return -1
}

// NextStatus computes the destination of a validate action from the current
// status: the lowest-order remaining visa step whose amount condition holds,
// or the terminal status when none remains.
func (c KindConfig) NextStatus(current Status, montant decimal.Decimal) (Status, error) {
	pos := c.visaOrder(current)
	if pos < 0 {
		return "", fmt.Errorf("status %q is not on the validation path of %s", current, c.Kind)
	}
	for _, step := range c.VisaPath {
		if step.Order <= pos {
			continue
		}
		if !step.MinAmount.IsZero() && montant.LessThan(step.MinAmount) {
			continue
		}
		return step.Status, nil
	}
	return c.Terminal, nil
}

// PredecessorRequired reports whether the predecessor prerequisite applies
// for a document of the given amount.
func (c KindConfig) PredecessorRequired(montant decimal.Decimal) bool {
	if c.Predecessor == "" {
		return false
	}
	if !c.PredecessorOptionalBelow.IsZero() && montant.LessThan(c.PredecessorOptionalBelow) {
		return false
	}
	return true
}
