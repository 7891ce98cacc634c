package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/homewatt/flex/core/model"
)

// MemoryStore keeps everything in process memory for tests and demo mode.
type MemoryStore struct {
	mu         sync.RWMutex
	households map[string]model.Household
	recs       map[string]model.Recommendation
	events     map[string]model.GridEvent
	activeID   string
	payouts    []model.PayoutRecord
	attempts   map[string]model.PayoutAttempt
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		households: map[string]model.Household{},
		recs:       map[string]model.Recommendation{},
		events:     map[string]model.GridEvent{},
		attempts:   map[string]model.PayoutAttempt{},
	}
}

func (s *MemoryStore) GetHousehold(_ context.Context, id string) (model.Household, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	h, ok := s.households[id]
	if !ok {
		return model.Household{}, fmt.Errorf("household %s: %w", id, model.ErrNotFound)
	}
	return h, nil
}

func (s *MemoryStore) ListHouseholds(context.Context) ([]model.Household, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	res := make([]model.Household, 0, len(s.households))
	for _, h := range s.households {
		res = append(res, h)
	}
	sort.Slice(res, func(i, j int) bool { return res[i].ID < res[j].ID })
	return res, nil
}

func (s *MemoryStore) PutHousehold(_ context.Context, h model.Household) error {
	if err := h.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	s.households[h.ID] = h
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) GetRecommendation(_ context.Context, id string) (model.Recommendation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.recs[id]
	if !ok {
		return model.Recommendation{}, fmt.Errorf("recommendation %s: %w", id, model.ErrNotFound)
	}
	return r, nil
}

func (s *MemoryStore) ListRecommendations(_ context.Context, status model.RecommendationStatus) ([]model.Recommendation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var res []model.Recommendation
	for _, r := range s.recs {
		if status == "" || r.Status == status {
			res = append(res, r)
		}
	}
	sort.Slice(res, func(i, j int) bool { return res[i].ID < res[j].ID })
	return res, nil
}

func (s *MemoryStore) PutRecommendation(_ context.Context, r model.Recommendation) error {
	if r.ID == "" {
		return fmt.Errorf("%w: recommendation id required", model.ErrInvalidInput)
	}
	s.mu.Lock()
	s.recs[r.ID] = r
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) ActiveEvent(context.Context) (model.GridEvent, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.activeID == "" {
		return model.GridEvent{}, false, nil
	}
	e, ok := s.events[s.activeID]
	return e, ok, nil
}

func (s *MemoryStore) PutEvent(_ context.Context, e model.GridEvent) error {
	s.mu.Lock()
	s.events[e.ID] = e
	if e.Active {
		s.activeID = e.ID
	} else if s.activeID == e.ID {
		s.activeID = ""
	}
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) AppendPayout(_ context.Context, p model.PayoutRecord) error {
	s.mu.Lock()
	s.payouts = append(s.payouts, p)
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) ListPayouts(_ context.Context, householdID string) ([]model.PayoutRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var res []model.PayoutRecord
	for _, p := range s.payouts {
		if householdID == "" || p.HouseholdID == householdID {
			res = append(res, p)
		}
	}
	return res, nil
}

func (s *MemoryStore) PutAttempt(_ context.Context, a model.PayoutAttempt) error {
	s.mu.Lock()
	s.attempts[a.ID] = a
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) OpenAttempts(context.Context) ([]model.PayoutAttempt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var res []model.PayoutAttempt
	for _, a := range s.attempts {
		if a.State == model.AttemptInFlight {
			res = append(res, a)
		}
	}
	sort.Slice(res, func(i, j int) bool { return res[i].StartedAt.Before(res[j].StartedAt) })
	return res, nil
}
