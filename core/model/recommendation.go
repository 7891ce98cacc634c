package model

import "time"

// RecommendationStatus is the lifecycle state of a recommendation.
// Pending is the only non-terminal state.
type RecommendationStatus string

const (
	StatusPending  RecommendationStatus = "PENDING"
	StatusAccepted RecommendationStatus = "ACCEPTED"
	StatusDeclined RecommendationStatus = "DECLINED"
	StatusExpired  RecommendationStatus = "EXPIRED"
)

// Terminal reports whether the status admits no further transition.
func (s RecommendationStatus) Terminal() bool { return s != StatusPending }

// Recommendation is a setpoint adjustment offered to one household for one
// grid event.
type Recommendation struct {
	ID                  string
	EventID             string
	HouseholdID         string
	CurrentSetpoint     float64
	RecommendedSetpoint float64
	EstimatedCredits    int
	EstimatedSavingsUSD float64
	Reason              string
	Status              RecommendationStatus
	CreatedAt           time.Time
	RespondedAt         time.Time
}
