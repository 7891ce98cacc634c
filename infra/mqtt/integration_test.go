package mqtt

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	tc "github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/homewatt/flex/core/model"
	"github.com/homewatt/flex/infra/logger"
)

// startMosquitto launches a disposable broker in Docker and returns its URL.
func startMosquitto(ctx context.Context, t *testing.T) string {
	t.Helper()
	conf := `listener 1883
allow_anonymous true
persistence false
log_dest stdout
`
	dir := t.TempDir()
	path := filepath.Join(dir, "mosquitto.conf")
	require.NoError(t, os.WriteFile(path, []byte(conf), 0644))

	req := tc.ContainerRequest{
		Image:        "eclipse-mosquitto:2.0",
		ExposedPorts: []string{"1883/tcp"},
		WaitingFor:   wait.ForListeningPort("1883/tcp"),
		Files: []tc.ContainerFile{
			{HostFilePath: path, ContainerFilePath: "/mosquitto/config/mosquitto.conf", FileMode: 0644},
		},
	}
	cont, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{ContainerRequest: req, Started: true})
	if err != nil {
		t.Skipf("docker unavailable: %v", err)
	}
	t.Cleanup(func() { _ = cont.Terminate(context.Background()) })

	host, err := cont.Host(ctx)
	require.NoError(t, err)
	port, err := cont.MappedPort(ctx, "1883")
	require.NoError(t, err)
	return fmt.Sprintf("tcp://%s:%s", host, port.Port())
}

type signalHandler struct {
	mu        sync.Mutex
	forecasts []model.Forecast
	got       chan struct{}
}

func (h *signalHandler) EvaluateForecast(_ context.Context, f model.Forecast) (map[string]model.AlertBatch, error) {
	h.mu.Lock()
	h.forecasts = append(h.forecasts, f)
	h.mu.Unlock()
	select {
	case h.got <- struct{}{}:
	default:
	}
	return nil, nil
}

func TestForecastRoundTrip(t *testing.T) {
	if testing.Short() {
		t.Skip("integration test")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()
	broker := startMosquitto(ctx, t)

	h := &signalHandler{got: make(chan struct{}, 1)}
	in, err := NewIngestor(Config{Broker: broker, ClientID: "it-ingest"}, h, logger.NopLogger{}, nil)
	require.NoError(t, err)
	defer in.Disconnect()

	pub, err := NewPublisher(Config{Broker: broker, ClientID: "it-pub"}, logger.NopLogger{})
	require.NoError(t, err)
	defer pub.Disconnect()

	require.NoError(t, pub.Publish(sampleForecast()))

	select {
	case <-h.got:
	case <-time.After(10 * time.Second):
		t.Fatal("forecast not received")
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	require.Len(t, h.forecasts, 1)
	require.Equal(t, "west", h.forecasts[0].Region)
}
