package ledger

import "github.com/shopspring/decimal"

// Action names a chargeable operation. The names double as the
// charged_action value reported to clients.
type Action string

const (
	ActionCreateProject Action = "create_project"
	ActionSmallEdit     Action = "small_edit"
	ActionMediumEdit    Action = "medium_edit"
	ActionLargeEdit     Action = "large_edit"
	ActionRebuild       Action = "rebuild"
	ActionRollback      Action = "rollback"
	ActionExport        Action = "export"
	ActionPublish       Action = "publish"
)

// InitialCredits is the welcome grant applied once at signup.
var InitialCredits = decimal.RequireFromString("10.00")

var costs = map[Action]decimal.Decimal{
	ActionCreateProject: decimal.RequireFromString("5.00"),
	ActionSmallEdit:     decimal.RequireFromString("1.00"),
	ActionMediumEdit:    decimal.RequireFromString("3.00"),
	ActionLargeEdit:     decimal.RequireFromString("10.00"),
	ActionRebuild:       decimal.RequireFromString("1.00"),
	ActionRollback:      decimal.RequireFromString("3.00"),
	ActionExport:        decimal.RequireFromString("20.00"),
	ActionPublish:       decimal.RequireFromString("50.00"),
}

// Cost returns the price of an action.
func Cost(a Action) (decimal.Decimal, bool) {
	c, ok := costs[a]
	return c, ok
}

// Costs returns a copy of the full price table.
func Costs() map[Action]decimal.Decimal {
	out := make(map[Action]decimal.Decimal, len(costs))
	for a, c := range costs {
		out[a] = c
	}
	return out
}
