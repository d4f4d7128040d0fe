package auth

import "sort"

const DefaultApplication = "BUDGETS"

// Action names of the default application.
const (
	ActionExpensesView       = "expenses.view"
	ActionExpensesCreate     = "expenses.create"
	ActionExpensesAdminView  = "expenses.admin.view"
	ActionReportsView        = "reports.view"
	ActionUsersCreate        = "users.create"
	ActionProgramBudgetsView = "program_budgets.view"
	ActionAssistantsCreate   = "assistants.create"
)

// roleActions is the catalog of direct grants written at registration.
var roleActions = map[string][]string{
	"admin":        {ActionExpensesView, ActionReportsView, ActionUsersCreate, ActionExpensesAdminView},
	"regular_user": {ActionExpensesCreate, ActionExpensesView, ActionProgramBudgetsView, ActionAssistantsCreate},
	"accountant":   {ActionExpensesAdminView},
	"global_user":  {ActionExpensesAdminView},
	"assistant":    {},
}

// RoleActions returns a copy of the default actions of role.
func RoleActions(role string) ([]string, bool) {
	actions, ok := roleActions[role]
	if !ok {
		return nil, false
	}
	return append([]string{}, actions...), true
}

// Roles lists the known role names in lexical order.
func Roles() []string {
	out := make([]string, 0, len(roleActions))
	for r := range roleActions {
		out = append(out, r)
	}
	sort.Strings(out)
	return out
}
