package rolluphttp_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/rollup/internal/hierarchy"
	"github.com/odyssey-erp/rollup/internal/ledger"
	"github.com/odyssey-erp/rollup/internal/memstore"
	"github.com/odyssey-erp/rollup/internal/orchestrator"
	"github.com/odyssey-erp/rollup/internal/rollup"
	rolluphttp "github.com/odyssey-erp/rollup/internal/rollup/http"
	"github.com/odyssey-erp/rollup/internal/runlog"
	"github.com/odyssey-erp/rollup/internal/shared"
	"github.com/odyssey-erp/rollup/internal/syncer"
	"github.com/odyssey-erp/rollup/jobs"
)

type stubQueue struct {
	daily   []jobs.RollupDailyPayload
	rebuild []jobs.RollupRebuildPayload
}

func (q *stubQueue) EnqueueRollupDaily(_ context.Context, payload jobs.RollupDailyPayload) (*asynq.TaskInfo, error) {
	q.daily = append(q.daily, payload)
	return &asynq.TaskInfo{ID: "daily-1", Queue: jobs.QueueDefault}, nil
}

func (q *stubQueue) EnqueueRebuild(_ context.Context, payload jobs.RollupRebuildPayload) (*asynq.TaskInfo, error) {
	q.rebuild = append(q.rebuild, payload)
	return &asynq.TaskInfo{ID: "rebuild-1", Queue: jobs.QueueDefault}, nil
}

type fixture struct {
	router    chi.Router
	ledgers   *memstore.Ledgers
	hierarchy *memstore.Hierarchy
	locker    *orchestrator.LocalLocker
	queue     *stubQueue
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	log := runlog.New(client, runlog.MaxEntries, nil)

	f := fixture{
		router:    chi.NewRouter(),
		ledgers:   memstore.NewLedgers(),
		hierarchy: memstore.NewHierarchy(1, 2, 3, 4),
		locker:    orchestrator.NewLocalLocker(),
		queue:     &stubQueue{},
	}
	store := memstore.NewRollups()
	scopes := memstore.NewWorkspace(f.ledgers, store)
	registry := rollup.NewRegistry(rollup.NewAggregator(scopes, nil), true)
	engine := syncer.NewEngine(f.hierarchy, store, log, nil, nil)
	runner := orchestrator.New(orchestrator.Config{
		Registry: registry,
		Scopes:   scopes,
		Syncer:   engine,
		Locker:   f.locker,
		RunLog:   log,
	})
	rolluphttp.NewHandler(rolluphttp.Config{
		Runner:         runner,
		Syncer:         engine,
		Hierarchy:      hierarchy.NewService(f.hierarchy, nil),
		Jobs:           f.queue,
		RunLog:         log,
		MaxRebuildDays: 31,
	}).MountRoutes(f.router)
	return f
}

func (f fixture) do(t *testing.T, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

var jan1 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func seedSale(f fixture) {
	parent := int64(10)
	f.ledgers.Add(ledger.Record{ID: 10, TenantID: 2, Type: ledger.TypeSales, TotalAmount: decimal.NewFromInt(310), CreatedAt: jan1.Add(9 * time.Hour)})
	f.ledgers.Add(ledger.Record{ID: 11, TenantID: 2, Type: ledger.TypeExport, ParentLedgerID: &parent, CreatedAt: jan1.Add(10 * time.Hour)},
		ledger.Item{ProductID: 55, Quantity: decimal.NewFromInt(3), UnitPrice: decimal.NewFromInt(100), TaxAmount: decimal.NewFromInt(10)})
}

func TestComputeRunsAndMarksProcessed(t *testing.T) {
	f := newFixture(t)
	seedSale(f)

	rec := f.do(t, http.MethodPost, "/rollups/2/compute?date=2024-01-01", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	res := decode[orchestrator.RunResult](t, rec)
	require.Equal(t, orchestrator.StateDone, res.State)
	require.Equal(t, "2024-01-01", res.Date)
	require.NotEmpty(t, res.RunID)
	require.Equal(t, []int64{10, 11}, res.LedgerIDs.Slice())

	stored, ok := f.ledgers.Record(2, 11)
	require.True(t, ok)
	require.True(t, stored.Processed)

	logs := f.do(t, http.MethodGet, "/rollups/logs?kind=run", "")
	require.Equal(t, http.StatusOK, logs.Code)
	body := decode[struct {
		Kind    string         `json:"kind"`
		Entries []runlog.Entry `json:"entries"`
	}](t, logs)
	require.Equal(t, "run", body.Kind)
	require.Len(t, body.Entries, 1)
	require.Equal(t, int64(2), body.Entries[0].TenantID)
}

func TestComputeRejectsBadInput(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/rollups/abc/compute?date=2024-01-01", "")
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, "application/problem+json", rec.Header().Get("Content-Type"))

	rec = f.do(t, http.MethodPost, "/rollups/2/compute?date=01-01-2024", "")
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestComputeConflictWhenRunInProgress(t *testing.T) {
	f := newFixture(t)
	lease, err := f.locker.Acquire(context.Background(), shared.RollupLockKey(2, jan1), time.Minute)
	require.NoError(t, err)
	defer func() { _ = lease.Release(context.Background()) }()

	rec := f.do(t, http.MethodPost, "/rollups/2/compute?date=2024-01-01", "")
	require.Equal(t, http.StatusConflict, rec.Code)
}

func TestComputeSourceUnavailable(t *testing.T) {
	f := newFixture(t)
	f.ledgers.SetUnavailable(2, true)

	rec := f.do(t, http.MethodPost, "/rollups/2/compute?date=2024-01-01", "")
	require.Equal(t, http.StatusOK, rec.Code)
	res := decode[orchestrator.RunResult](t, rec)
	require.Equal(t, orchestrator.StateFailed, res.State)
	require.Contains(t, res.Error, ledger.ErrSourceUnavailable.Error())
}

func TestComputeAsyncEnqueues(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/rollups/3/compute?date=2024-02-01&sync=true&async=true", "")
	require.Equal(t, http.StatusAccepted, rec.Code)
	require.Equal(t, []jobs.RollupDailyPayload{{TenantID: 3, Date: "2024-02-01", Sync: true}}, f.queue.daily)
	require.JSONEq(t, `{"task_id":"daily-1","queue":"default"}`, rec.Body.String())
}

func TestSyncWithoutParent(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/rollups/2/sync?date=2024-01-01", "")
	require.Equal(t, http.StatusOK, rec.Code)
	res := decode[syncer.Result](t, rec)
	require.Equal(t, syncer.OutcomeNoParent, res.Outcome)
}

func TestSyncPushesToApprovedParent(t *testing.T) {
	f := newFixture(t)
	f.hierarchy.Link(2, 1, hierarchy.IntervalDaily)
	seedSale(f)

	rec := f.do(t, http.MethodPost, "/rollups/2/compute?date=2024-01-01&sync=true", "")
	require.Equal(t, http.StatusOK, rec.Code)
	res := decode[orchestrator.RunResult](t, rec)
	require.NotNil(t, res.Sync)
	require.Equal(t, syncer.OutcomeSynced, res.Sync.Outcome)
	require.Equal(t, int64(1), res.Sync.ParentTenantID)

	logs := f.do(t, http.MethodGet, "/rollups/logs?kind=sync&limit=5", "")
	require.Equal(t, http.StatusOK, logs.Code)
	require.Contains(t, logs.Body.String(), `"tenant_id":2`)
}

func TestRebuildRange(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/rollups/2/rebuild", `{"from":"2024-01-01","to":"2024-01-03"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	res := decode[orchestrator.RebuildResult](t, rec)
	require.Equal(t, 3, res.Total)
	require.Equal(t, 3, res.Success)
	require.Zero(t, res.Failed)
	require.Len(t, res.Details, 3)
}

func TestRebuildValidation(t *testing.T) {
	f := newFixture(t)

	cases := map[string]string{
		"inverted":      `{"from":"2024-01-03","to":"2024-01-01"}`,
		"too long":      `{"from":"2024-01-01","to":"2024-03-01"}`,
		"bad date":      `{"from":"2024-13-01","to":"2024-01-01"}`,
		"missing to":    `{"from":"2024-01-01"}`,
		"unknown field": `{"from":"2024-01-01","to":"2024-01-02","tenant":4}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			rec := f.do(t, http.MethodPost, "/rollups/2/rebuild", body)
			require.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
		})
	}
}

func TestRebuildAsyncEnqueues(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/rollups/2/rebuild", `{"from":"2024-01-01","to":"2024-01-05","sync":true,"async":true}`)
	require.Equal(t, http.StatusAccepted, rec.Code)
	require.Equal(t, []jobs.RollupRebuildPayload{{TenantID: 2, From: "2024-01-01", To: "2024-01-05", Sync: true}}, f.queue.rebuild)
}

func TestLogsRejectsUnknownKind(t *testing.T) {
	f := newFixture(t)

	require.Equal(t, http.StatusBadRequest, f.do(t, http.MethodGet, "/rollups/logs?kind=audit", "").Code)
	require.Equal(t, http.StatusBadRequest, f.do(t, http.MethodGet, "/rollups/logs?limit=-1", "").Code)
}

func TestHierarchyWorkflow(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/hierarchy/2", "")
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(t, http.MethodPut, "/hierarchy/2/parent", `{"parent_tenant_id":1}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	cfg := decode[hierarchy.Config](t, rec)
	require.Equal(t, hierarchy.StatusPending, cfg.ApprovalStatus)
	require.Equal(t, int64(1), *cfg.ParentTenantID)

	rec = f.do(t, http.MethodPost, "/hierarchy/2/approve", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, hierarchy.StatusApproved, decode[hierarchy.Config](t, rec).ApprovalStatus)

	rec = f.do(t, http.MethodPost, "/hierarchy/2/approve", "")
	require.Equal(t, http.StatusConflict, rec.Code)

	rec = f.do(t, http.MethodPut, "/hierarchy/2/sync-settings", `{"sync_enabled":true,"sync_interval":"hourly"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	cfg = decode[hierarchy.Config](t, rec)
	require.True(t, cfg.SyncEnabled)
	require.Equal(t, hierarchy.IntervalHourly, cfg.SyncInterval)

	rec = f.do(t, http.MethodGet, "/hierarchy/2", "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodPost, "/hierarchy/2/cancel", "")
	require.Equal(t, http.StatusOK, rec.Code)
	cfg = decode[hierarchy.Config](t, rec)
	require.Equal(t, hierarchy.StatusNone, cfg.ApprovalStatus)
	require.Nil(t, cfg.ParentTenantID)

	rec = f.do(t, http.MethodPost, "/hierarchy/2/reject", "")
	require.Equal(t, http.StatusConflict, rec.Code)
}

func TestHierarchyRefusesInvalidParents(t *testing.T) {
	f := newFixture(t)
	f.hierarchy.Link(2, 1, hierarchy.IntervalDaily)
	f.hierarchy.Link(3, 2, hierarchy.IntervalDaily)

	require.Equal(t, http.StatusUnprocessableEntity, f.do(t, http.MethodPut, "/hierarchy/3/parent", `{"parent_tenant_id":1}`).Code)
	require.Equal(t, http.StatusUnprocessableEntity, f.do(t, http.MethodPut, "/hierarchy/1/parent", `{"parent_tenant_id":3}`).Code)
	require.Equal(t, http.StatusUnprocessableEntity, f.do(t, http.MethodPut, "/hierarchy/4/parent", `{"parent_tenant_id":4}`).Code)
	require.Equal(t, http.StatusNotFound, f.do(t, http.MethodPut, "/hierarchy/4/parent", `{"parent_tenant_id":99}`).Code)
	require.Equal(t, http.StatusBadRequest, f.do(t, http.MethodPut, "/hierarchy/4/parent", `{"parent_tenant_id":0}`).Code)
	require.Equal(t, http.StatusBadRequest, f.do(t, http.MethodPut, "/hierarchy/4/sync-settings", `{"sync_enabled":true,"sync_interval":"weekly"}`).Code)
	require.Equal(t, http.StatusBadRequest, f.do(t, http.MethodPut, "/hierarchy/4/sync-settings", `{"sync_interval":"daily"}`).Code)
}

func TestHierarchyCandidates(t *testing.T) {
	f := newFixture(t)
	f.hierarchy.Link(2, 1, hierarchy.IntervalDaily)
	f.hierarchy.Link(3, 2, hierarchy.IntervalDaily)

	rec := f.do(t, http.MethodGet, "/hierarchy/3/candidates", "")
	require.Equal(t, http.StatusOK, rec.Code)
	c := decode[hierarchy.Classification](t, rec)
	require.Equal(t, []int64{1}, c.DisabledRedundant)
	require.Empty(t, c.DisabledDescendant)
	require.ElementsMatch(t, []int64{2, 4}, c.Legal)
}
