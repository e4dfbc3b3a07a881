package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"drivergen/internal/driver"
	"drivergen/internal/runstore"
	"drivergen/internal/runsvc"
	"drivergen/internal/supervisor"
)

type stubGenerator struct{}

func (stubGenerator) Generate(_ context.Context, req driver.ArtifactRequest, _ int) (driver.Artifact, error) {
	return driver.Artifact{
		Target: req.Target,
		Content: `package driver

func Discover() []string {
	return []string{"dev-0"}
}
`,
	}, nil
}

type stubRunner struct{}

func (stubRunner) Run(context.Context, []driver.Artifact) (driver.TestReport, error) {
	return driver.TestReport{Passed: true, ChecksPassed: 1}, nil
}

type stubDiagnoser struct{}

func (stubDiagnoser) Diagnose(context.Context, driver.FailureContext) driver.Diagnosis {
	return driver.SafeDefaultDiagnosis("unused")
}

func newTestHandler(t *testing.T) (*Handler, *runsvc.Service) {
	t.Helper()
	loop := supervisor.New(stubGenerator{}, stubRunner{}, stubDiagnoser{})
	store := runstore.New(filepath.Join(t.TempDir(), "runs.json"))
	svc := runsvc.New(loop, store, nil, supervisor.Budgets{})
	return NewHandler(context.Background(), svc), svc
}

func TestStartRunAndFetchResult(t *testing.T) {
	h, svc := newTestHandler(t)

	body := `{"prompt":"generate a discovery driver","contract":{"package_name":"driver","entry_function":"Discover"}}`
	req := httptest.NewRequest(http.MethodPost, "/v1/runs", strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusAccepted, rec.Code)
	var started struct {
		RunID string `json:"run_id"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &started))
	require.NotEmpty(t, started.RunID)

	svc.Wait()

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/runs/"+started.RunID, nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var status runsvc.Status
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	require.NotNil(t, status.Result)
	assert.True(t, status.Result.Success)
	assert.Equal(t, driver.OutcomeSucceeded, status.Result.Outcome)
}

func TestStartRunRejectsMissingPrompt(t *testing.T) {
	h, _ := newTestHandler(t)

	req := httptest.NewRequest(http.MethodPost, "/v1/runs", strings.NewReader(`{"target":"driver.go"}`))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetUnknownRunIs404(t *testing.T) {
	h, _ := newTestHandler(t)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/runs/run-nope", nil))

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListRuns(t *testing.T) {
	h, svc := newTestHandler(t)

	req := httptest.NewRequest(http.MethodPost, "/v1/runs", strings.NewReader(`{"prompt":"p"}`))
	h.ServeHTTP(httptest.NewRecorder(), req)
	svc.Wait()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/runs?limit=10", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var rows []runstore.Record
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &rows))
	assert.Len(t, rows, 1)
}
