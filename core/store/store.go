// Package store defines the narrow repository interfaces the engine uses to
// read and write persisted state. A mutex-guarded memory implementation
// backs tests and demo mode; infra/store/postgres provides the durable one.
package store

import (
	"context"

	"github.com/homewatt/flex/core/model"
)

// HouseholdStore persists household profiles and balances.
type HouseholdStore interface {
	GetHousehold(ctx context.Context, id string) (model.Household, error)
	ListHouseholds(ctx context.Context) ([]model.Household, error)
	PutHousehold(ctx context.Context, h model.Household) error
}

// RecommendationStore persists recommendation lifecycle state.
type RecommendationStore interface {
	GetRecommendation(ctx context.Context, id string) (model.Recommendation, error)
	ListRecommendations(ctx context.Context, status model.RecommendationStatus) ([]model.Recommendation, error)
	PutRecommendation(ctx context.Context, r model.Recommendation) error
}

// EventStore persists grid events. At most one is active.
type EventStore interface {
	ActiveEvent(ctx context.Context) (model.GridEvent, bool, error)
	PutEvent(ctx context.Context, e model.GridEvent) error
}

// PayoutStore persists the append-only payout trail and the in-flight
// attempt markers the settlement ledger reconciles on restart.
type PayoutStore interface {
	AppendPayout(ctx context.Context, p model.PayoutRecord) error
	ListPayouts(ctx context.Context, householdID string) ([]model.PayoutRecord, error)
	PutAttempt(ctx context.Context, a model.PayoutAttempt) error
	OpenAttempts(ctx context.Context) ([]model.PayoutAttempt, error)
}

// Store bundles the repositories the engine needs.
type Store interface {
	HouseholdStore
	RecommendationStore
	EventStore
	PayoutStore
}
