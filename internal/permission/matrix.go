// Package permission decides whether an actor may perform a workflow action
// at a chain step, combining direct role assignment, delegation grants and
// interim grants into a single allow/deny decision.
package permission

// Role codes of the back office.
const (
	RoleAdmin             = "ADMIN"
	RoleDG                = "DG"
	RoleDAAF              = "DAAF"
	RoleCB                = "CB"
	RoleDirecteur         = "DIRECTEUR"
	RoleSousDirecteur     = "SOUS_DIRECTEUR"
	RoleChefService       = "CHEF_SERVICE"
	RoleSDCT              = "SDCT"
	RoleTresorerie        = "TRESORERIE"
	RoleAgentComptable    = "AGENT_COMPTABLE"
	RoleAuditeur          = "AUDITEUR"
	RoleOperateur         = "OPERATEUR"
	RoleAgent             = "AGENT"
	RoleCommissionMarches = "COMMISSION_MARCHES"
)

var knownRoles = map[string]bool{
	RoleAdmin: true, RoleDG: true, RoleDAAF: true, RoleCB: true,
	RoleDirecteur: true, RoleSousDirecteur: true, RoleChefService: true,
	RoleSDCT: true, RoleTresorerie: true, RoleAgentComptable: true,
	RoleAuditeur: true, RoleOperateur: true, RoleAgent: true,
	RoleCommissionMarches: true,
}

// KnownRole reports whether code is a configured role.
func KnownRole(code string) bool { return knownRoles[code] }

// Actions resolvable against the step matrix.
const (
	ActionCreate   = "create"
	ActionSubmit   = "submit"
	ActionValidate = "validate"
	ActionReject   = "reject"
	ActionDefer    = "defer"
	ActionImpute   = "impute"
	ActionSign     = "sign"
	ActionExecute  = "execute"
)

// stepPermissions is the per-step role matrix. ADMIN always passes and is
// therefore omitted from the lists.
var stepPermissions = map[string]map[string][]string{
	"note_sef": {
		ActionCreate:   {RoleOperateur, RoleAgent, RoleChefService, RoleSousDirecteur, RoleDirecteur, RoleDAAF, RoleDG},
		ActionSubmit:   {RoleOperateur, RoleAgent, RoleChefService, RoleSousDirecteur, RoleDirecteur, RoleDAAF},
		ActionValidate: {RoleDG},
		ActionReject:   {RoleDG},
		ActionDefer:    {RoleDG},
	},
	"note_aef": {
		ActionCreate:   {RoleOperateur, RoleAgent, RoleChefService, RoleSousDirecteur, RoleDirecteur, RoleDAAF, RoleDG},
		ActionSubmit:   {RoleOperateur, RoleAgent, RoleChefService, RoleSousDirecteur, RoleDirecteur, RoleDAAF},
		ActionValidate: {RoleDG, RoleDirecteur},
		ActionReject:   {RoleDG, RoleDirecteur},
		ActionDefer:    {RoleDG, RoleDirecteur},
	},
	"imputation": {
		ActionCreate:   {RoleCB, RoleDAAF},
		ActionSubmit:   {RoleCB, RoleDAAF},
		ActionValidate: {RoleCB},
		ActionReject:   {RoleCB},
		ActionDefer:    {RoleCB},
		ActionImpute:   {RoleCB},
	},
	"expression_besoin": {
		ActionCreate:   {RoleOperateur, RoleAgent, RoleChefService, RoleSousDirecteur, RoleDirecteur, RoleDAAF},
		ActionSubmit:   {RoleOperateur, RoleAgent, RoleChefService, RoleSousDirecteur, RoleDirecteur, RoleDAAF},
		ActionValidate: {RoleDirecteur, RoleDAAF},
		ActionReject:   {RoleDirecteur, RoleDAAF},
		ActionDefer:    {RoleDirecteur, RoleDAAF},
	},
	"marche": {
		ActionCreate:   {RoleDAAF, RoleCB, RoleCommissionMarches},
		ActionSubmit:   {RoleDAAF, RoleCB},
		ActionValidate: {RoleDG, RoleCommissionMarches},
		ActionReject:   {RoleDG},
		ActionDefer:    {RoleDG},
	},
	"engagement": {
		ActionCreate:   {RoleDAAF, RoleCB},
		ActionSubmit:   {RoleDAAF, RoleCB},
		ActionValidate: {RoleCB},
		ActionReject:   {RoleCB},
		ActionDefer:    {RoleCB},
	},
	"liquidation": {
		ActionCreate:   {RoleDAAF, RoleCB, RoleSDCT},
		ActionSubmit:   {RoleDAAF, RoleSDCT},
		ActionValidate: {RoleDAAF, RoleCB, RoleSDCT, RoleDG},
		ActionReject:   {RoleDAAF, RoleCB, RoleDG},
		ActionDefer:    {RoleDAAF, RoleCB, RoleDG},
	},
	"ordonnancement": {
		ActionCreate:   {RoleDAAF},
		ActionSubmit:   {RoleDAAF},
		ActionValidate: {RoleDAAF, RoleDG},
		ActionReject:   {RoleDG},
		ActionDefer:    {RoleDG},
		ActionSign:     {RoleDG},
	},
	"reglement": {
		ActionCreate:   {RoleTresorerie, RoleAgentComptable},
		ActionSubmit:   {RoleTresorerie, RoleAgentComptable},
		ActionValidate: {RoleTresorerie, RoleAgentComptable},
		ActionReject:   {RoleTresorerie},
		ActionDefer:    {RoleTresorerie},
		ActionExecute:  {RoleTresorerie, RoleAgentComptable},
	},
}

// AuthorizedRoles returns the roles allowed to perform action at step,
// not counting the ADMIN bypass. Nil when the step/action is not configured.
func AuthorizedRoles(step, action string) []string {
	actions, ok := stepPermissions[step]
	if !ok {
		return nil
	}
	return actions[action]
}
