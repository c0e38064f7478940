package app

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/rollup/internal/ledger"
	"github.com/odyssey-erp/rollup/internal/memstore"
	"github.com/odyssey-erp/rollup/internal/observability"
	"github.com/odyssey-erp/rollup/internal/orchestrator"
	"github.com/odyssey-erp/rollup/internal/rollup"
	rolluphttp "github.com/odyssey-erp/rollup/internal/rollup/http"
	"github.com/odyssey-erp/rollup/jobs"
)

func TestRouterHealthAndSecurityHeaders(t *testing.T) {
	router := NewRouter(RouterParams{Config: &Config{AppEnv: "test"}, Metrics: observability.NewMetrics()})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
	require.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))
	require.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `rollup_http_requests_total{code="200",route="/healthz"} 1`)
}

func TestServicesEndToEnd(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	backends := MemoryBackends(client, 1, 2)
	ledgers := backends.Ledgers.(*memstore.Ledgers)
	ledgers.Add(ledger.Record{ID: 1, TenantID: 2, Type: ledger.TypeReceipt, TotalAmount: decimal.NewFromInt(100), CreatedAt: time.Date(2024, 1, 1, 8, 0, 0, 0, time.UTC)})

	cfg := &Config{RollupIncludeAccounting: true, RollupRunLogSize: 10, RollupLockTTL: time.Minute}
	services := NewServices(cfg, backends, prometheus.NewRegistry(), nil)
	require.NotNil(t, services.RunLog)
	require.Len(t, services.Registry.Computations(), 4)

	_, err := services.Hierarchies.RequestParent(context.Background(), 2, 1)
	require.NoError(t, err)
	_, err = services.Hierarchies.Approve(context.Background(), 2)
	require.NoError(t, err)

	router := NewRouter(RouterParams{
		Config: &Config{AppEnv: "test"},
		RollupHandler: rolluphttp.NewHandler(rolluphttp.Config{
			Runner:    services.Orchestrator,
			Syncer:    services.Syncer,
			Hierarchy: services.Hierarchies,
			RunLog:    services.RunLog,
		}),
		JobHandler: jobs.NewHandler(nil, nil),
	})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/rollups/2/compute?date=2024-01-01&sync=true", nil))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Contains(t, rec.Body.String(), `"state":"`+string(orchestrator.StateDone)+`"`)
	require.Contains(t, rec.Body.String(), `"outcome":"synced"`)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/jobs/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestServicesRunComputationsRegisteredAfterWiring(t *testing.T) {
	services := NewServices(nil, MemoryBackends(nil, 1), prometheus.NewRegistry(), nil)
	day := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	var seen []int64
	require.NoError(t, services.Registry.Register("custom", func(_ context.Context, _ rollup.Scope, tenantID int64, _ time.Time) (rollup.Result, error) {
		seen = append(seen, tenantID)
		return rollup.Result{Kind: "custom"}, nil
	}))

	res, err := services.Orchestrator.Run(context.Background(), 1, day, orchestrator.Options{})
	require.NoError(t, err)
	require.Equal(t, orchestrator.StateDone, res.State)
	require.Len(t, res.Kinds, 5)
	require.Equal(t, []int64{1}, seen)
}
