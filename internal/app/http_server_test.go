package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"testing"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	healthcheck "github.com/vladislavdragonenkov/storefront/internal/health"
	"github.com/vladislavdragonenkov/storefront/internal/version"
)

func getBody(t *testing.T, url string) (int, string) {
	t.Helper()

	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(body)
}

func TestStartMetricsServer_Endpoints(t *testing.T) {
	port := findFreePort(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	healthHandler := healthcheck.NewHandler(version.Get().Version)
	srv := startMetricsServer(ctx, fmt.Sprintf(":%d", port), log.WithField("test", "http"), healthHandler)
	require.NotNil(t, srv)
	waitForPort(t, port)

	base := fmt.Sprintf("http://localhost:%d", port)

	code, body := getBody(t, base+"/metrics")
	assert.Equal(t, http.StatusOK, code)
	assert.NotEmpty(t, body)

	code, _ = getBody(t, base+"/healthz")
	assert.Equal(t, http.StatusOK, code)

	code, body = getBody(t, base+"/livez")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok", body)

	code, body = getBody(t, base+"/readyz")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ready", body)
}

func TestStartMetricsServer_Readiness(t *testing.T) {
	tests := []struct {
		name      string
		checker   healthcheck.Checker
		wantReady int
	}{
		{
			name:      "degraded snapshot slot keeps readiness",
			checker:   healthcheck.NewOptionalChecker("redis", func(context.Context) error { return errors.New("connection refused") }),
			wantReady: http.StatusOK,
		},
		{
			name:      "unhealthy storage drops readiness",
			checker:   healthcheck.NewSimpleChecker("postgres", func(context.Context) error { return errors.New("connection refused") }),
			wantReady: http.StatusServiceUnavailable,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			port := findFreePort(t)
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			healthHandler := healthcheck.NewHandler(version.Get().Version)
			healthHandler.RegisterChecker("dep", tc.checker)
			startMetricsServer(ctx, fmt.Sprintf(":%d", port), log.WithField("test", "readiness"), healthHandler)
			waitForPort(t, port)

			code, _ := getBody(t, fmt.Sprintf("http://localhost:%d/readyz", port))
			assert.Equal(t, tc.wantReady, code)
		})
	}
}

func TestStartMetricsServer_Shutdown(t *testing.T) {
	port := findFreePort(t)
	ctx, cancel := context.WithCancel(context.Background())

	startMetricsServer(ctx, fmt.Sprintf(":%d", port), log.WithField("test", "http-shutdown"), healthcheck.NewHandler(version.Get().Version))
	waitForPort(t, port)

	url := fmt.Sprintf("http://localhost:%d/livez", port)
	code, _ := getBody(t, url)
	require.Equal(t, http.StatusOK, code)

	cancel()

	assert.Eventually(t, func() bool {
		resp, err := http.Get(url)
		if err != nil {
			return true
		}
		resp.Body.Close()
		return false
	}, 2*time.Second, 20*time.Millisecond)
}

func TestShutdownHTTP_NilServer(t *testing.T) {
	assert.NotPanics(t, func() {
		shutdownHTTP(nil, log.WithField("test", "http-nil"))
	})
}

func TestShutdownHTTP_WithServer(t *testing.T) {
	port := findFreePort(t)

	mux := http.NewServeMux()
	mux.HandleFunc("/test", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("test"))
	})
	srv := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux, ReadHeaderTimeout: time.Second}
	go func() { _ = srv.ListenAndServe() }()
	waitForPort(t, port)

	url := fmt.Sprintf("http://localhost:%d/test", port)
	code, body := getBody(t, url)
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, "test", body)

	shutdownHTTP(srv, log.WithField("test", "http-shutdown-func"))

	_, err := http.Get(url)
	assert.Error(t, err)
}

// findFreePort находит свободный порт для тестов
func findFreePort(t *testing.T) int {
	t.Helper()

	listener, err := net.Listen("tcp", ":0")
	require.NoError(t, err)
	defer listener.Close()

	return listener.Addr().(*net.TCPAddr).Port
}

func waitForPort(t *testing.T, port int) {
	t.Helper()

	require.Eventually(t, func() bool {
		conn, err := net.DialTimeout("tcp", fmt.Sprintf("localhost:%d", port), 50*time.Millisecond)
		if err != nil {
			return false
		}
		conn.Close()
		return true
	}, 2*time.Second, 10*time.Millisecond)
}
