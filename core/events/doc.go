// Package events defines the engine events emitted on the event bus.
//
// Available event types:
//   - EventTriggered: a new grid event opened a recommendation cohort
//   - RecommendationResolved: a recommendation reached a terminal state
//   - AlertRaised: a rule evaluation produced alerts for a household
//   - SettlementCompleted: a payout was confirmed and committed
package events
