package events

import (
	"github.com/shopspring/decimal"

	"github.com/homewatt/flex/core/model"
)

// EventTriggered is published when a grid event opens a new cohort of
// recommendations, after the previous cohort was expired.
type EventTriggered struct {
	Event           model.GridEvent
	Recommendations int
	Expired         int
}

// RecommendationResolved is published when a recommendation reaches a
// terminal state.
type RecommendationResolved struct {
	Recommendation model.Recommendation
	Household      model.Household
}

// AlertRaised is published for each alert produced by a rule evaluation.
type AlertRaised struct {
	HouseholdID string
	Alert       model.Alert
	Action      model.AlertAction
	Analysis    model.AlertAnalysis
}

// SettlementCompleted is published after a payout is confirmed and the
// ledger committed.
type SettlementCompleted struct {
	HouseholdID string
	Amount      decimal.Decimal
	TxRef       string
}
