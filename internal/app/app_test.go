package app

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"igps/internal/config"
	"igps/internal/infrastructure"
	"igps/internal/license"
	"igps/internal/services"
)

type noopManager struct{}

func (noopManager) Status(ctx context.Context) license.Status {
	return license.Status{Kind: license.StatusTrialAvailable, TrialRemaining: 3}
}

func (noopManager) Activate(ctx context.Context, key string) (license.Status, error) {
	return license.Status{}, nil
}

func (noopManager) CheckAndConsume(ctx context.Context, kind license.OperationKind) (*license.Permit, error) {
	return nil, nil
}

func (noopManager) HardwareID() string { return "test" }

func (noopManager) HardwareComponents() map[string]string { return nil }

func newTestApplication(t *testing.T) *Application {
	t.Helper()

	providers, err := infrastructure.InitializeOTel(slog.Default())
	require.NoError(t, err)
	t.Cleanup(func() { _ = providers.Shutdown(context.Background()) })

	app := &Application{
		Config: &config.Config{
			Server: config.ServerConfig{
				Bind:            "127.0.0.1",
				Port:            0,
				ReadTimeout:     time.Second,
				WriteTimeout:    time.Second,
				IdleTimeout:     time.Second,
				ShutdownTimeout: time.Second,
			},
		},
		Logger:         slog.Default(),
		OTelProviders:  providers,
		LicenseService: services.NewLicenseService(noopManager{}, slog.Default()),
	}
	app.setupRouter()
	app.createServer()
	return app
}

func TestHealthzEndpoint(t *testing.T) {
	app := newTestApplication(t)

	w := httptest.NewRecorder()
	app.Router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	require.Equal(t, http.StatusOK, w.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, Version, body["version"])
}

func TestMetricsEndpointMounted(t *testing.T) {
	app := newTestApplication(t)

	w := httptest.NewRecorder()
	app.Router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestLicenseRoutesMounted(t *testing.T) {
	app := newTestApplication(t)

	w := httptest.NewRecorder()
	app.Router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/license/status", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "trial_available", body["state"])
}

func TestUnknownRouteIs404(t *testing.T) {
	app := newTestApplication(t)

	w := httptest.NewRecorder()
	app.Router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/nope", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}
