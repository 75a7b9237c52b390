package workflow

import (
	"github.com/shopspring/decimal"

	"github.com/sygfp/spendchain/internal/permission"
)

// destination markers for rules whose target is computed at runtime.
const destNextStep Status = "__next__"

// Rule is one legal transition. A rule with To == destNextStep advances
// along the kind's validation path (visa steps, then terminal).
type Rule struct {
	From                  []Status
	Action                Action
	To                    Status
	RequiresJustification bool
	RequiresBudgetCheck   bool
	// MinAmount restricts the rule to documents at or above the amount.
	MinAmount decimal.Decimal
	// Roles restricts the transition to actors holding one of these roles,
	// replacing the step matrix for this rule. ADMIN always passes.
	// Empty means the step matrix alone decides.
	Roles []string
}

// commonRules apply to every kind that has a soumis status.
var commonRules = []Rule{
	{From: []Status{StatusBrouillon}, Action: ActionSubmit, To: StatusSoumis},
	{From: []Status{StatusSoumis, StatusAValider}, Action: ActionValidate, To: destNextStep},
	// The DG visa is cleared by the DG alone, whatever the step matrix
	// allows elsewhere on the kind.
	{From: []Status{StatusEnValidationDG}, Action: ActionValidate, To: destNextStep, Roles: []string{permission.RoleDG}},
	{From: []Status{StatusSoumis, StatusAValider, StatusEnValidationDG}, Action: ActionReject, To: StatusRejete, RequiresJustification: true},
	{From: []Status{StatusSoumis, StatusAValider, StatusEnValidationDG}, Action: ActionDefer, To: StatusDiffere, RequiresJustification: true},
	{From: []Status{StatusDiffere}, Action: ActionResubmit, To: StatusSoumis},
	{From: []Status{StatusRejete}, Action: ActionRevise, To: StatusBrouillon},
}

// kindRules are module-specific transitions layered over the common set.
var kindRules = map[Kind][]Rule{
	KindNoteAEF: {
		// Transmission to the direction; the directeur or DG validates
		// from a_valider.
		{From: []Status{StatusSoumis}, Action: ActionValidate, To: destNextStep, Roles: []string{permission.RoleChefService}},
	},
	KindImputation: {
		{From: []Status{StatusBrouillon}, Action: ActionImpute, To: StatusImpute, RequiresBudgetCheck: true},
		{From: []Status{StatusBrouillon}, Action: ActionReject, To: StatusRejete, RequiresJustification: true},
		{From: []Status{StatusRejete}, Action: ActionRevise, To: StatusBrouillon},
	},
	KindLiquidation: {
		// From 50M FCFA the transmission to the DG is reserved to the
		// services that prepared the dossier.
		{From: []Status{StatusSoumis}, Action: ActionValidate, To: destNextStep, MinAmount: SeuilValidationDG, Roles: []string{permission.RoleSDCT, permission.RoleDAAF}},
	},
	KindOrdonnancement: {
		{From: []Status{StatusSoumis}, Action: ActionValidate, To: destNextStep, Roles: []string{permission.RoleDAAF}},
		{From: []Status{StatusEnSignature}, Action: ActionSign, To: StatusSigne},
	},
	KindReglement: {
		{From: []Status{StatusSoumis}, Action: ActionPay, To: StatusPaye},
		{From: []Status{StatusPaye}, Action: ActionClose, To: StatusCloture, Roles: []string{permission.RoleTresorerie}},
	},
}

// rulesFor returns the transition rules applicable to a kind. Kind rules
// come first so a role-restricted rule shadows the common one for the same
// status and action. Imputation has no submission flow, so it uses only
// its own rules.
func rulesFor(k Kind) []Rule {
	specific := kindRules[k]
	if k == KindImputation {
		return specific
	}
	out := make([]Rule, 0, len(specific)+len(commonRules))
	out = append(out, specific...)
	out = append(out, commonRules...)
	return out
}

// FindRule returns the rule matching (kind, current status, action, amount),
// or false when the transition is illegal.
func FindRule(k Kind, current Status, action Action, montant decimal.Decimal) (Rule, bool) {
	for _, rule := range rulesFor(k) {
		if rule.Action != action {
			continue
		}
		if !containsStatus(rule.From, current) {
			continue
		}
		if !rule.MinAmount.IsZero() && montant.LessThan(rule.MinAmount) {
			continue
		}
		return rule, true
	}
	return Rule{}, false
}

// LegalActions returns the actions available from a status, for UI listings.
func LegalActions(k Kind, current Status, montant decimal.Decimal) []Action {
	var actions []Action
	seen := map[Action]bool{}
	for _, rule := range rulesFor(k) {
		if !containsStatus(rule.From, current) || seen[rule.Action] {
			continue
		}
		if !rule.MinAmount.IsZero() && montant.LessThan(rule.MinAmount) {
			continue
		}
		seen[rule.Action] = true
		actions = append(actions, rule.Action)
	}
	return actions
}

// PendingStatuses returns the statuses of a kind from which an approval or
// execution action can be taken, for work-queue listings.
func PendingStatuses(k Kind) []Status {
	var out []Status
	seen := map[Status]bool{}
	for _, rule := range rulesFor(k) {
		switch rule.Action {
		case ActionValidate, ActionImpute, ActionSign, ActionPay, ActionClose:
		default:
			continue
		}
		for _, s := range rule.From {
			if !seen[s] && ValidStatus(k, s) {
				seen[s] = true
				out = append(out, s)
			}
		}
	}
	return out
}

// Destination resolves a rule's target status for a document, expanding the
// next-step marker along the kind's validation path.
func Destination(k Kind, rule Rule, current Status, montant decimal.Decimal) (Status, error) {
	if rule.To != destNextStep {
		return rule.To, nil
	}
	return ConfigFor(k).NextStatus(current, montant)
}

func containsStatus(set []Status, s Status) bool {
	for _, v := range set {
		if v == s {
			return true
		}
	}
	return false
}
