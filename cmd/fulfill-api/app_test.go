package main

import (
	"context"
	"errors"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/BearBump/FulfillBox/internal/api/fulfillment_api/mocks"
	"github.com/BearBump/FulfillBox/internal/integrations/carrier/simulated"
	"github.com/BearBump/FulfillBox/internal/models"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func writeSwagger(t *testing.T) string {
	t.Helper()
	sw := filepath.Join(t.TempDir(), "swagger.json")
	require.NoError(t, os.WriteFile(sw, []byte(`{"swagger":"2.0"}`), 0o600))
	return sw
}

func startAPI(t *testing.T, deps apiDeps) (string, context.CancelFunc, <-chan error) {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	addrCh := make(chan string, 1)
	opts := fulfillAPIOpts{
		httpAddr:    "127.0.0.1:0",
		swaggerPath: writeSwagger(t),
		onListen:    func(httpAddr string) { addrCh <- httpAddr },
	}

	errCh := make(chan error, 1)
	go func() { errCh <- runFulfillAPI(ctx, opts, deps) }()

	select {
	case addr := <-addrCh:
		return "http://" + addr, cancel, errCh
	case err := <-errCh:
		cancel()
		t.Fatalf("api exited early: %v", err)
	case <-time.After(2 * time.Second):
		cancel()
		t.Fatal("timeout waiting for listener")
	}
	return "", cancel, errCh
}

func get(t *testing.T, url string) (int, string) {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, string(body)
}

func TestRunFulfillAPI_ServesOperationalRoutes(t *testing.T) {
	trackingSvc := &mocks.MockTrackingService{}
	trackingSvc.On("GetShipment", mock.Anything, "order-1").
		Return(&models.Shipment{OrderID: "order-1"}, nil).Once()

	base, cancel, errCh := startAPI(t, apiDeps{
		tracking: trackingSvc,
		labels:   &mocks.MockLabelService{},
		carrier:  simulated.New(0, "secret"),
		files:    &mocks.MockLabelFiles{},
	})

	code, body := get(t, base+"/swagger.json")
	require.Equal(t, http.StatusOK, code)
	require.Contains(t, body, `"swagger"`)

	code, body = get(t, base+"/healthz")
	require.Equal(t, http.StatusOK, code)
	require.JSONEq(t, `{"status":"ok"}`, body)

	code, _ = get(t, base+"/readyz")
	require.Equal(t, http.StatusOK, code)

	code, body = get(t, base+"/metrics")
	require.Equal(t, http.StatusOK, code)
	require.Contains(t, body, "fulfillbox_http_requests_total")

	code, body = get(t, base+"/v1/orders/order-1/shipment")
	require.Equal(t, http.StatusOK, code)
	require.Contains(t, body, "order-1")

	cancel()
	select {
	case err := <-errCh:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting api to stop")
	}
	trackingSvc.AssertExpectations(t)
}

func TestRunFulfillAPI_NotReady(t *testing.T) {
	base, cancel, errCh := startAPI(t, apiDeps{
		tracking: &mocks.MockTrackingService{},
		labels:   &mocks.MockLabelService{},
		carrier:  simulated.New(0, ""),
		files:    &mocks.MockLabelFiles{},
		ready:    func(ctx context.Context) error { return errors.New("postgres down") },
	})
	defer func() {
		cancel()
		<-errCh
	}()

	code, body := get(t, base+"/readyz")
	require.Equal(t, http.StatusServiceUnavailable, code)
	require.JSONEq(t, `{"status":"not ready"}`, body)
}

func TestRunFulfillAPI_SwaggerRequired(t *testing.T) {
	err := runFulfillAPI(context.Background(), fulfillAPIOpts{httpAddr: "127.0.0.1:0"}, apiDeps{})
	require.Error(t, err)

	err = runFulfillAPI(context.Background(), fulfillAPIOpts{
		httpAddr:    "127.0.0.1:0",
		swaggerPath: filepath.Join(t.TempDir(), "missing.json"),
	}, apiDeps{})
	require.Error(t, err)
}
