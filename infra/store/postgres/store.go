// Package postgres implements the core store interfaces on a pgx connection
// pool. Devices are stored as a JSONB column; balances use NUMERIC and map
// to shopspring decimals.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/homewatt/flex/core/model"
	"github.com/homewatt/flex/core/store"
)

// ErrNotConfigured indicates the pool was not initialised.
var ErrNotConfigured = errors.New("postgres: pool not configured")

const schemaSQL = `
CREATE TABLE IF NOT EXISTS households (
    id              TEXT PRIMARY KEY,
    name            TEXT NOT NULL,
    devices         JSONB NOT NULL DEFAULT '[]',
    hvac_temp_c     DOUBLE PRECISION NOT NULL,
    hvac_setpoint_c DOUBLE PRECISION NOT NULL,
    hvac_mode       TEXT NOT NULL,
    credits         INTEGER NOT NULL DEFAULT 0,
    participation   INTEGER NOT NULL DEFAULT 0,
    savings_pending NUMERIC(18,6) NOT NULL DEFAULT 0,
    savings_paid    NUMERIC(18,6) NOT NULL DEFAULT 0,
    device_link_id  TEXT NOT NULL DEFAULT '',
    payout_address  TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS grid_events (
    id         TEXT PRIMARY KEY,
    event_type TEXT NOT NULL,
    severity   INTEGER NOT NULL,
    load_pct   DOUBLE PRECISION NOT NULL,
    price_kwh  DOUBLE PRECISION NOT NULL,
    active     BOOLEAN NOT NULL,
    created_at TIMESTAMPTZ NOT NULL
);

CREATE UNIQUE INDEX IF NOT EXISTS grid_events_one_active
    ON grid_events (active) WHERE active;

CREATE TABLE IF NOT EXISTS recommendations (
    id                   TEXT PRIMARY KEY,
    event_id             TEXT NOT NULL,
    household_id         TEXT NOT NULL,
    current_setpoint     DOUBLE PRECISION NOT NULL,
    recommended_setpoint DOUBLE PRECISION NOT NULL,
    estimated_credits    INTEGER NOT NULL,
    estimated_savings    DOUBLE PRECISION NOT NULL,
    reason               TEXT NOT NULL DEFAULT '',
    status               TEXT NOT NULL,
    created_at           TIMESTAMPTZ NOT NULL,
    responded_at         TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS recommendations_status
    ON recommendations (status);

CREATE TABLE IF NOT EXISTS payouts (
    id           TEXT PRIMARY KEY,
    household_id TEXT NOT NULL,
    amount       NUMERIC(18,6) NOT NULL,
    tx_ref       TEXT NOT NULL,
    created_at   TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS payout_attempts (
    id           TEXT PRIMARY KEY,
    household_id TEXT NOT NULL,
    destination  TEXT NOT NULL,
    amount       NUMERIC(18,6) NOT NULL,
    state        TEXT NOT NULL,
    started_at   TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS payout_attempts_state
    ON payout_attempts (state);
`

const (
	upsertHouseholdSQL = `INSERT INTO households (
        id, name, devices, hvac_temp_c, hvac_setpoint_c, hvac_mode,
        credits, participation, savings_pending, savings_paid,
        device_link_id, payout_address
    ) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
    ON CONFLICT (id) DO UPDATE
    SET name            = EXCLUDED.name,
        devices         = EXCLUDED.devices,
        hvac_temp_c     = EXCLUDED.hvac_temp_c,
        hvac_setpoint_c = EXCLUDED.hvac_setpoint_c,
        hvac_mode       = EXCLUDED.hvac_mode,
        credits         = EXCLUDED.credits,
        participation   = EXCLUDED.participation,
        savings_pending = EXCLUDED.savings_pending,
        savings_paid    = EXCLUDED.savings_paid,
        device_link_id  = EXCLUDED.device_link_id,
        payout_address  = EXCLUDED.payout_address;`

	getHouseholdSQL = `SELECT
        id, name, devices, hvac_temp_c, hvac_setpoint_c, hvac_mode,
        credits, participation, savings_pending::text, savings_paid::text,
        device_link_id, payout_address
    FROM households WHERE id = $1;`

	listHouseholdsSQL = `SELECT
        id, name, devices, hvac_temp_c, hvac_setpoint_c, hvac_mode,
        credits, participation, savings_pending::text, savings_paid::text,
        device_link_id, payout_address
    FROM households ORDER BY id;`

	upsertEventSQL = `INSERT INTO grid_events (
        id, event_type, severity, load_pct, price_kwh, active, created_at
    ) VALUES ($1,$2,$3,$4,$5,$6,$7)
    ON CONFLICT (id) DO UPDATE
    SET active = EXCLUDED.active;`

	activeEventSQL = `SELECT
        id, event_type, severity, load_pct, price_kwh, active, created_at
    FROM grid_events WHERE active LIMIT 1;`

	upsertRecommendationSQL = `INSERT INTO recommendations (
        id, event_id, household_id, current_setpoint, recommended_setpoint,
        estimated_credits, estimated_savings, reason, status, created_at,
        responded_at
    ) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
    ON CONFLICT (id) DO UPDATE
    SET status       = EXCLUDED.status,
        responded_at = EXCLUDED.responded_at;`

	getRecommendationSQL = `SELECT
        id, event_id, household_id, current_setpoint, recommended_setpoint,
        estimated_credits, estimated_savings, reason, status, created_at,
        responded_at
    FROM recommendations WHERE id = $1;`

	listRecommendationsSQL = `SELECT
        id, event_id, household_id, current_setpoint, recommended_setpoint,
        estimated_credits, estimated_savings, reason, status, created_at,
        responded_at
    FROM recommendations WHERE status = $1 ORDER BY created_at;`

	insertPayoutSQL = `INSERT INTO payouts (
        id, household_id, amount, tx_ref, created_at
    ) VALUES ($1,$2,$3,$4,$5);`

	listPayoutsSQL = `SELECT id, household_id, amount::text, tx_ref, created_at
    FROM payouts WHERE household_id = $1 ORDER BY created_at;`

	upsertAttemptSQL = `INSERT INTO payout_attempts (
        id, household_id, destination, amount, state, started_at
    ) VALUES ($1,$2,$3,$4,$5,$6)
    ON CONFLICT (id) DO UPDATE
    SET state = EXCLUDED.state;`

	openAttemptsSQL = `SELECT id, household_id, destination, amount::text, state, started_at
    FROM payout_attempts WHERE state = 'in_flight' ORDER BY started_at;`
)

// Store aggregates the postgres-backed repositories.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore wires a pgx pool into a Store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Connect opens a pool for the DSN and ensures the schema exists.
func Connect(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	s := NewStore(pool)
	if err := s.Migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// Migrate applies the idempotent schema.
func (s *Store) Migrate(ctx context.Context) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, err := pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

func (s *Store) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

// GetHousehold loads one household.
func (s *Store) GetHousehold(ctx context.Context, id string) (model.Household, error) {
	pool, err := s.getPool()
	if err != nil {
		return model.Household{}, err
	}
	h, err := scanHousehold(pool.QueryRow(ctx, getHouseholdSQL, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Household{}, fmt.Errorf("household %s: %w", id, model.ErrNotFound)
	}
	return h, err
}

// ListHouseholds returns every household ordered by id.
func (s *Store) ListHouseholds(ctx context.Context) ([]model.Household, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}
	rows, err := pool.Query(ctx, listHouseholdsSQL)
	if err != nil {
		return nil, fmt.Errorf("list households: %w", err)
	}
	defer rows.Close()

	out := make([]model.Household, 0)
	for rows.Next() {
		h, err := scanHousehold(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

// PutHousehold upserts the household.
func (s *Store) PutHousehold(ctx context.Context, h model.Household) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if err := h.Validate(); err != nil {
		return err
	}
	devices, err := json.Marshal(h.Devices)
	if err != nil {
		return fmt.Errorf("marshal devices: %w", err)
	}
	_, err = pool.Exec(ctx, upsertHouseholdSQL,
		h.ID, h.Name, devices,
		h.HVAC.CurrentTemp, h.HVAC.Setpoint, string(h.HVAC.Mode),
		h.Credits, h.Participation,
		h.SavingsPending.String(), h.SavingsPaid.String(),
		h.DeviceLinkID, h.PayoutAddress,
	)
	if err != nil {
		return fmt.Errorf("upsert household: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanHousehold(row rowScanner) (model.Household, error) {
	var (
		h       model.Household
		devices []byte
		mode    string
		pending string
		paid    string
	)
	err := row.Scan(&h.ID, &h.Name, &devices,
		&h.HVAC.CurrentTemp, &h.HVAC.Setpoint, &mode,
		&h.Credits, &h.Participation, &pending, &paid,
		&h.DeviceLinkID, &h.PayoutAddress)
	if err != nil {
		return model.Household{}, err
	}
	if err := json.Unmarshal(devices, &h.Devices); err != nil {
		return model.Household{}, fmt.Errorf("decode devices: %w", err)
	}
	h.HVAC.Mode = model.HVACMode(mode)
	if h.SavingsPending, err = decimal.NewFromString(pending); err != nil {
		return model.Household{}, fmt.Errorf("decode pending balance: %w", err)
	}
	if h.SavingsPaid, err = decimal.NewFromString(paid); err != nil {
		return model.Household{}, fmt.Errorf("decode paid balance: %w", err)
	}
	return h, nil
}

// ActiveEvent returns the single active grid event, if any.
func (s *Store) ActiveEvent(ctx context.Context) (model.GridEvent, bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return model.GridEvent{}, false, err
	}
	var (
		e         model.GridEvent
		eventType string
	)
	err = pool.QueryRow(ctx, activeEventSQL).Scan(
		&e.ID, &eventType, &e.Severity, &e.LoadPct, &e.PriceKWh, &e.Active, &e.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.GridEvent{}, false, nil
	}
	if err != nil {
		return model.GridEvent{}, false, fmt.Errorf("active event: %w", err)
	}
	t, ok := model.ParseEventType(eventType)
	if !ok {
		return model.GridEvent{}, false, fmt.Errorf("unknown event type %s", eventType)
	}
	e.Type = t
	return e, true, nil
}

// PutEvent upserts the grid event.
func (s *Store) PutEvent(ctx context.Context, e model.GridEvent) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	_, err = pool.Exec(ctx, upsertEventSQL,
		e.ID, e.Type.String(), e.Severity, e.LoadPct, e.PriceKWh, e.Active, e.CreatedAt)
	if err != nil {
		return fmt.Errorf("upsert event: %w", err)
	}
	return nil
}

// GetRecommendation loads one recommendation.
func (s *Store) GetRecommendation(ctx context.Context, id string) (model.Recommendation, error) {
	pool, err := s.getPool()
	if err != nil {
		return model.Recommendation{}, err
	}
	r, err := scanRecommendation(pool.QueryRow(ctx, getRecommendationSQL, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Recommendation{}, fmt.Errorf("recommendation %s: %w", id, model.ErrNotFound)
	}
	return r, err
}

// ListRecommendations returns recommendations in the given status ordered by
// creation time.
func (s *Store) ListRecommendations(ctx context.Context, status model.RecommendationStatus) ([]model.Recommendation, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}
	rows, err := pool.Query(ctx, listRecommendationsSQL, string(status))
	if err != nil {
		return nil, fmt.Errorf("list recommendations: %w", err)
	}
	defer rows.Close()

	out := make([]model.Recommendation, 0)
	for rows.Next() {
		r, err := scanRecommendation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// PutRecommendation upserts the recommendation.
func (s *Store) PutRecommendation(ctx context.Context, r model.Recommendation) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	var responded any
	if !r.RespondedAt.IsZero() {
		responded = r.RespondedAt
	}
	_, err = pool.Exec(ctx, upsertRecommendationSQL,
		r.ID, r.EventID, r.HouseholdID,
		r.CurrentSetpoint, r.RecommendedSetpoint,
		r.EstimatedCredits, r.EstimatedSavingsUSD, r.Reason,
		string(r.Status), r.CreatedAt, responded)
	if err != nil {
		return fmt.Errorf("upsert recommendation: %w", err)
	}
	return nil
}

func scanRecommendation(row rowScanner) (model.Recommendation, error) {
	var (
		r         model.Recommendation
		status    string
		responded *time.Time
	)
	err := row.Scan(&r.ID, &r.EventID, &r.HouseholdID,
		&r.CurrentSetpoint, &r.RecommendedSetpoint,
		&r.EstimatedCredits, &r.EstimatedSavingsUSD, &r.Reason,
		&status, &r.CreatedAt, &responded)
	if err != nil {
		return model.Recommendation{}, err
	}
	r.Status = model.RecommendationStatus(status)
	if responded != nil {
		r.RespondedAt = *responded
	}
	return r, nil
}

// AppendPayout inserts one confirmed payout.
func (s *Store) AppendPayout(ctx context.Context, p model.PayoutRecord) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	_, err = pool.Exec(ctx, insertPayoutSQL,
		p.ID, p.HouseholdID, p.Amount.String(), p.TxRef, p.Timestamp)
	if err != nil {
		return fmt.Errorf("append payout: %w", err)
	}
	return nil
}

// ListPayouts returns the payout trail for one household.
func (s *Store) ListPayouts(ctx context.Context, householdID string) ([]model.PayoutRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}
	rows, err := pool.Query(ctx, listPayoutsSQL, householdID)
	if err != nil {
		return nil, fmt.Errorf("list payouts: %w", err)
	}
	defer rows.Close()

	out := make([]model.PayoutRecord, 0)
	for rows.Next() {
		var (
			p      model.PayoutRecord
			amount string
		)
		if err := rows.Scan(&p.ID, &p.HouseholdID, &amount, &p.TxRef, &p.Timestamp); err != nil {
			return nil, err
		}
		if p.Amount, err = decimal.NewFromString(amount); err != nil {
			return nil, fmt.Errorf("decode payout amount: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// PutAttempt upserts the settlement attempt marker.
func (s *Store) PutAttempt(ctx context.Context, a model.PayoutAttempt) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	_, err = pool.Exec(ctx, upsertAttemptSQL,
		a.ID, a.HouseholdID, a.Destination, a.Amount.String(), string(a.State), a.StartedAt)
	if err != nil {
		return fmt.Errorf("upsert attempt: %w", err)
	}
	return nil
}

// OpenAttempts returns every in-flight attempt, oldest first.
func (s *Store) OpenAttempts(ctx context.Context) ([]model.PayoutAttempt, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}
	rows, err := pool.Query(ctx, openAttemptsSQL)
	if err != nil {
		return nil, fmt.Errorf("open attempts: %w", err)
	}
	defer rows.Close()

	out := make([]model.PayoutAttempt, 0)
	for rows.Next() {
		var (
			a      model.PayoutAttempt
			amount string
			state  string
		)
		if err := rows.Scan(&a.ID, &a.HouseholdID, &a.Destination, &amount, &state, &a.StartedAt); err != nil {
			return nil, err
		}
		if a.Amount, err = decimal.NewFromString(amount); err != nil {
			return nil, fmt.Errorf("decode attempt amount: %w", err)
		}
		a.State = model.AttemptState(state)
		out = append(out, a)
	}
	return out, rows.Err()
}

var _ store.Store = (*Store)(nil)
