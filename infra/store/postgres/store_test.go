package postgres

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/homewatt/flex/core/model"
)

func startPostgres(t *testing.T, ctx context.Context) string {
	t.Helper()
	req := testcontainers.ContainerRequest{
		Image:        "postgres:16-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "flex",
			"POSTGRES_PASSWORD": "flex",
			"POSTGRES_DB":       "flex",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).WithStartupTimeout(60 * time.Second),
	}
	pg, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Skipf("docker unavailable: %v", err)
	}
	t.Cleanup(func() { _ = pg.Terminate(context.Background()) })

	host, err := pg.Host(ctx)
	require.NoError(t, err)
	port, err := pg.MappedPort(ctx, "5432/tcp")
	require.NoError(t, err)
	return fmt.Sprintf("postgres://flex:flex@%s:%s/flex?sslmode=disable", host, port.Port())
}

func testStore(t *testing.T) (*Store, context.Context) {
	if testing.Short() {
		t.Skip("integration test")
	}
	ctx := context.Background()
	s, err := Connect(ctx, startPostgres(t, ctx))
	require.NoError(t, err)
	t.Cleanup(s.Close)
	return s, ctx
}

func TestHouseholdRoundTrip(t *testing.T) {
	s, ctx := testStore(t)

	h := model.Household{
		ID:   "h1",
		Name: "Maple Street",
		Devices: []model.Device{
			{Type: model.DeviceEVCharger, Name: "garage", PowerKW: 7.4},
			{Type: model.DeviceBattery, Name: "wall", PowerKW: 5, CapacityKWh: 13.5, Level: 0.8},
		},
		HVAC:           model.HVACState{CurrentTemp: 23.5, Setpoint: 21, Mode: model.ModeCool},
		Credits:        42,
		Participation:  3,
		SavingsPending: decimal.RequireFromString("1.25"),
		SavingsPaid:    decimal.RequireFromString("10.50"),
		DeviceLinkID:   "acct-1",
		PayoutAddress:  "0xabc",
	}
	require.NoError(t, s.PutHousehold(ctx, h))

	got, err := s.GetHousehold(ctx, "h1")
	require.NoError(t, err)
	require.Equal(t, h.Name, got.Name)
	require.Len(t, got.Devices, 2)
	require.Equal(t, model.DeviceBattery, got.Devices[1].Type)
	require.Equal(t, h.HVAC, got.HVAC)
	require.True(t, got.SavingsPending.Equal(h.SavingsPending))
	require.True(t, got.SavingsPaid.Equal(h.SavingsPaid))

	// Upsert overwrites in place.
	h.Credits = 50
	require.NoError(t, s.PutHousehold(ctx, h))
	got, err = s.GetHousehold(ctx, "h1")
	require.NoError(t, err)
	require.Equal(t, 50, got.Credits)

	list, err := s.ListHouseholds(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)

	_, err = s.GetHousehold(ctx, "ghost")
	require.True(t, errors.Is(err, model.ErrNotFound))
}

func TestEventSingleActive(t *testing.T) {
	s, ctx := testStore(t)

	_, ok, err := s.ActiveEvent(ctx)
	require.NoError(t, err)
	require.False(t, ok)

	first := model.GridEvent{
		ID: "e1", Type: model.EventHeatWave, Severity: 3,
		LoadPct: 91.2, PriceKWh: 0.42, Active: true, CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, s.PutEvent(ctx, first))

	got, ok, err := s.ActiveEvent(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, model.EventHeatWave, got.Type)

	// Deactivate then activate the successor, as the engine does.
	first.Active = false
	require.NoError(t, s.PutEvent(ctx, first))
	second := first
	second.ID = "e2"
	second.Type = model.EventPriceSpike
	second.Active = true
	require.NoError(t, s.PutEvent(ctx, second))

	got, ok, err = s.ActiveEvent(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "e2", got.ID)
}

func TestRecommendationLifecycle(t *testing.T) {
	s, ctx := testStore(t)

	r := model.Recommendation{
		ID: "r1", EventID: "e1", HouseholdID: "h1",
		CurrentSetpoint: 21, RecommendedSetpoint: 23,
		EstimatedCredits: 12, EstimatedSavingsUSD: 0.85,
		Reason: "pre-cool before the evening peak",
		Status: model.StatusPending, CreatedAt: time.Now().UTC().Truncate(time.Millisecond),
	}
	require.NoError(t, s.PutRecommendation(ctx, r))

	pending, err := s.ListRecommendations(ctx, model.StatusPending)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	require.True(t, pending[0].RespondedAt.IsZero())

	r.Status = model.StatusAccepted
	r.RespondedAt = time.Now().UTC().Truncate(time.Millisecond)
	require.NoError(t, s.PutRecommendation(ctx, r))

	got, err := s.GetRecommendation(ctx, "r1")
	require.NoError(t, err)
	require.Equal(t, model.StatusAccepted, got.Status)
	require.False(t, got.RespondedAt.IsZero())

	pending, err = s.ListRecommendations(ctx, model.StatusPending)
	require.NoError(t, err)
	require.Empty(t, pending)

	_, err = s.GetRecommendation(ctx, "ghost")
	require.True(t, errors.Is(err, model.ErrNotFound))
}

func TestPayoutTrailAndAttempts(t *testing.T) {
	s, ctx := testStore(t)

	attempt := model.PayoutAttempt{
		ID: "a1", HouseholdID: "h1", Destination: "0xabc",
		Amount: decimal.RequireFromString("1.10"),
		State:  model.AttemptInFlight, StartedAt: time.Now().UTC(),
	}
	require.NoError(t, s.PutAttempt(ctx, attempt))

	open, err := s.OpenAttempts(ctx)
	require.NoError(t, err)
	require.Len(t, open, 1)
	require.True(t, open[0].Amount.Equal(attempt.Amount))

	require.NoError(t, s.AppendPayout(ctx, model.PayoutRecord{
		ID: "p1", HouseholdID: "h1",
		Amount: attempt.Amount, TxRef: "tx-1", Timestamp: time.Now().UTC(),
	}))

	attempt.State = model.AttemptConfirmed
	require.NoError(t, s.PutAttempt(ctx, attempt))
	open, err = s.OpenAttempts(ctx)
	require.NoError(t, err)
	require.Empty(t, open)

	trail, err := s.ListPayouts(ctx, "h1")
	require.NoError(t, err)
	require.Len(t, trail, 1)
	require.Equal(t, "tx-1", trail[0].TxRef)
}

func TestNotConfigured(t *testing.T) {
	var s *Store
	_, err := s.GetHousehold(context.Background(), "h1")
	require.ErrorIs(t, err, ErrNotConfigured)
}
