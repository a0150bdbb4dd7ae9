package app

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"

	"github.com/mohammed-shakir/ocean-datagate/internal/core/config"
	"github.com/mohammed-shakir/ocean-datagate/internal/metrics"
)

func get(t *testing.T, h http.Handler, target string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	return rec
}

func TestBuild_MemoryDrivers(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "argoMeta.json"),
		[]byte(`[{"_id":"4902911_m0","platform":"4902911","data_keys":["pressure"]}]`), 0o600))

	cfg := config.FromEnv()
	cfg.Store.Fixtures = dir
	cfg.APIKeys = "abc123"

	a, err := Build(context.Background(), cfg, nil, Options{Metrics: metrics.Init(metrics.Config{Version: "test"})})
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	a.Start(ctx)
	t.Cleanup(cancel)

	require.Equal(t, http.StatusOK, get(t, a.Handler, "/readyz").Code)
	require.Equal(t, http.StatusOK, get(t, a.Handler, "/token?token=abc123").Code)
	require.Equal(t, http.StatusOK, get(t, a.Handler, "/metrics").Code)

	rec := get(t, a.Handler, "/argo/meta?platform=4902911")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Contains(t, rec.Body.String(), "4902911_m0")
}

func TestBuild_RedisDrivers(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := config.FromEnv()
	cfg.Store.Driver = "redis"
	cfg.Store.RedisAddr = mr.Addr()
	cfg.Buckets.Driver = "redis"
	cfg.APIKeysRedisSet = "dg:apikeys"
	_, err := mr.SAdd("dg:apikeys", "abc123")
	require.NoError(t, err)

	a, err := Build(context.Background(), cfg, nil, Options{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })

	require.Equal(t, http.StatusOK, get(t, a.Handler, "/token?token=abc123").Code)
	require.Equal(t, http.StatusNotFound, get(t, a.Handler, "/token?token=nope").Code)
	require.Equal(t, http.StatusNotFound, get(t, a.Handler, "/argo?id=4902911_000").Code)
	require.Equal(t, http.StatusOK, get(t, a.Handler, "/readyz").Code)

	mr.Close()
	require.Equal(t, http.StatusServiceUnavailable, get(t, a.Handler, "/readyz").Code)
}

func TestBuild_RejectsUnknownDriver(t *testing.T) {
	cfg := config.FromEnv()
	cfg.Store.Driver = "mongo"
	_, err := Build(context.Background(), cfg, nil, Options{})
	require.Error(t, err)
}
