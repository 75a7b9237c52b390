// Package workflow implements the expenditure-chain state machine: the
// status registry, the nine-step chain configuration, the transition rules
// and the engine that applies them.
package workflow

import "fmt"

// Kind identifies a document type in the expenditure chain.
type Kind string

const (
	KindNoteSEF          Kind = "note_sef"
	KindNoteAEF          Kind = "note_aef"
	KindImputation       Kind = "imputation"
	KindExpressionBesoin Kind = "expression_besoin"
	KindMarche           Kind = "marche"
	KindEngagement       Kind = "engagement"
	KindLiquidation      Kind = "liquidation"
	KindOrdonnancement   Kind = "ordonnancement"
	KindReglement        Kind = "reglement"
)

// Kinds lists every document kind in chain order.
var Kinds = []Kind{
	KindNoteSEF,
	KindNoteAEF,
	KindImputation,
	KindExpressionBesoin,
	KindMarche,
	KindEngagement,
	KindLiquidation,
	KindOrdonnancement,
	KindReglement,
}

// Status is a document lifecycle status.
type Status string

const (
	StatusBrouillon      Status = "brouillon"
	StatusSoumis         Status = "soumis"
	StatusAValider       Status = "a_valider"
	StatusEnValidationDG Status = "en_validation_dg"
	StatusValide         Status = "valide"
	StatusRejete         Status = "rejete"
	StatusDiffere        Status = "differe"
	StatusImpute         Status = "impute"
	StatusEnSignature    Status = "en_signature"
	StatusSigne          Status = "signe"
	StatusPaye           Status = "paye"
	StatusCloture        Status = "cloture"
	StatusAnnule         Status = "annule"
)

// Action is a workflow operation requested by an actor.
type Action string

const (
	ActionSubmit   Action = "submit"
	ActionValidate Action = "validate"
	ActionReject   Action = "reject"
	ActionDefer    Action = "defer"
	ActionResubmit Action = "resubmit"
	ActionRevise   Action = "revise"
	ActionImpute   Action = "impute"
	ActionSign     Action = "sign"
	ActionPay      Action = "pay"
	ActionClose    Action = "close"
)

var knownActions = map[Action]bool{
	ActionSubmit: true, ActionValidate: true, ActionReject: true,
	ActionDefer: true, ActionResubmit: true, ActionRevise: true,
	ActionImpute: true, ActionSign: true, ActionPay: true, ActionClose: true,
}

// KnownAction reports whether a is a configured workflow action.
func KnownAction(a Action) bool { return knownActions[a] }

// StatusDescriptor describes one status of a document kind.
type StatusDescriptor struct {
	Status   Status
	Label    string
	Terminal bool
}

var statusLabels = map[Status]string{
	StatusBrouillon:      "Brouillon",
	StatusSoumis:         "Soumis",
	StatusAValider:       "À valider",
	StatusEnValidationDG: "En validation DG",
	StatusValide:         "Validé",
	StatusRejete:         "Rejeté",
	StatusDiffere:        "Différé",
	StatusImpute:         "Imputé",
	StatusEnSignature:    "En signature",
	StatusSigne:          "Signé",
	StatusPaye:           "Payé",
	StatusCloture:        "Clôturé",
	StatusAnnule:         "Annulé",
}

// kindStatuses enumerates the valid statuses per kind, in display order.
var kindStatuses = map[Kind][]Status{
	KindNoteSEF:          {StatusBrouillon, StatusSoumis, StatusValide, StatusRejete, StatusDiffere},
	KindNoteAEF:          {StatusBrouillon, StatusSoumis, StatusAValider, StatusValide, StatusRejete, StatusDiffere},
	KindImputation:       {StatusBrouillon, StatusImpute, StatusRejete},
	KindExpressionBesoin: {StatusBrouillon, StatusSoumis, StatusValide, StatusRejete, StatusDiffere},
	KindMarche:           {StatusBrouillon, StatusSoumis, StatusValide, StatusRejete, StatusDiffere, StatusAnnule},
	KindEngagement:       {StatusBrouillon, StatusSoumis, StatusValide, StatusRejete, StatusDiffere},
	KindLiquidation:      {StatusBrouillon, StatusSoumis, StatusEnValidationDG, StatusValide, StatusRejete, StatusDiffere},
	KindOrdonnancement:   {StatusBrouillon, StatusSoumis, StatusEnSignature, StatusSigne, StatusRejete, StatusDiffere},
	KindReglement:        {StatusBrouillon, StatusSoumis, StatusPaye, StatusRejete, StatusCloture},
}

// terminalStatuses per kind. Rejete is terminal only after the revise window;
// here "terminal" means no transition rule leaves the status for this kind.
var terminalStatuses = map[Kind]map[Status]bool{
	KindNoteSEF:          {StatusValide: true},
	KindNoteAEF:          {StatusValide: true},
	KindImputation:       {StatusImpute: true},
	KindExpressionBesoin: {StatusValide: true},
	KindMarche:           {StatusValide: true, StatusAnnule: true},
	KindEngagement:       {StatusValide: true},
	KindLiquidation:      {StatusValide: true},
	KindOrdonnancement:   {StatusSigne: true},
	KindReglement:        {StatusCloture: true},
}

// validatedStatuses indicate a successfully completed step, used for
// chain prerequisites (a liquidation requires a validated engagement).
var validatedStatuses = map[Status]bool{
	StatusValide:  true,
	StatusImpute:  true,
	StatusSigne:   true,
	StatusPaye:    true,
	StatusCloture: true,
}

// KnownKind reports whether k is a configured document kind.
func KnownKind(k Kind) bool {
	_, ok := kindStatuses[k]
	return ok
}

// ListStatuses returns the ordered status descriptors for a kind.
// Panics on unknown kind: callers pass compile-time constants.
func ListStatuses(k Kind) []StatusDescriptor {
	statuses, ok := kindStatuses[k]
	if !ok {
		panic(fmt.Sprintf("workflow: unknown document kind %q", k))
	}
	out := make([]StatusDescriptor, 0, len(statuses))
	for _, s := range statuses {
		out = append(out, StatusDescriptor{
			Status:   s,
			Label:    statusLabels[s],
			Terminal: terminalStatuses[k][s],
		})
	}
	return out
}

// IsTerminal reports whether status is terminal for the kind.
// Panics on unknown kind.
func IsTerminal(k Kind, s Status) bool {
	m, ok := terminalStatuses[k]
	if !ok {
		panic(fmt.Sprintf("workflow: unknown document kind %q", k))
	}
	return m[s]
}

// IsValidated reports whether a status counts as a completed validation,
// for cross-document prerequisites.
func IsValidated(s Status) bool { return validatedStatuses[s] }

// ValidatedStatuses returns the statuses that count as completed
// validations, for SQL filters.
func ValidatedStatuses() []Status {
	out := make([]Status, 0, len(validatedStatuses))
	for s := range validatedStatuses {
		out = append(out, s)
	}
	return out
}

// ValidStatus reports whether s is a legal status for kind k.
func ValidStatus(k Kind, s Status) bool {
	for _, v := range kindStatuses[k] {
		if v == s {
			return true
		}
	}
	return false
}

// Label returns the display label for a status.
func Label(s Status) string {
	if l, ok := statusLabels[s]; ok {
		return l
	}
	return string(s)
}
