package jobs

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"
)

func TestHandlerHealthWithoutInspector(t *testing.T) {
	r := chi.NewRouter()
	NewHandler(nil, nil).MountRoutes(r)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"queue":"default","pending":0}`, rec.Body.String())
}

func TestNewWorkerSkipsIncompleteRegistrations(t *testing.T) {
	w, err := NewWorker(WorkerConfig{
		Handlers: []TaskHandler{{Type: TaskRollupDaily}},
		Cron:     []CronRegistration{{Spec: ""}},
	})
	require.NoError(t, err)
	require.NotNil(t, w)
}
