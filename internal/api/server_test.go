package api

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

	"github.com/sells-group/eci-tracker/internal/extract"
	"github.com/sells-group/eci-tracker/internal/model"
	"github.com/sells-group/eci-tracker/internal/rules"
	"github.com/sells-group/eci-tracker/internal/store"
)

const answerPage = `<html><body>
<h1>End the Cage Age</h1>
<h2 id="answer">Answer of the European Commission</h2>
<p>The Commission will table a legislative proposal by end of 2026.</p>
</body></html>`

func newTestServer(t *testing.T, st store.Store) http.Handler {
	t.Helper()
	rs, err := rules.Default()
	require.NoError(t, err)
	return New(extract.New(rs, nil), st).Handler([]string{"https://tracker.example"})
}

func do(t *testing.T, h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	return v
}

func TestHealth(t *testing.T) {
	rec := do(t, newTestServer(t, nil), http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestClassify(t *testing.T) {
	h := newTestServer(t, nil)

	rec := do(t, h, http.MethodPost, "/v1/classify",
		`{"text":"The Commission will table a legislative proposal by end of 2026."}`)
	require.Equal(t, http.StatusOK, rec.Code)
	got := decode[map[string]any](t, rec)
	assert.Equal(t, string(model.StatusCommitted), got["technical_status"])
	assert.Equal(t, "Law Promised", got["status_label"])
}

func TestClassify_NoRuleMatches(t *testing.T) {
	rec := do(t, newTestServer(t, nil), http.MethodPost, "/v1/classify",
		`{"case_id":"2020/000001","text":"The weather in Brussels was pleasant."}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Contains(t, rec.Body.String(), "2020/000001")
}

func TestClassify_BadRequests(t *testing.T) {
	h := newTestServer(t, nil)
	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodPost, "/v1/classify", `{`).Code)
	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodPost, "/v1/classify", `{"text":"  "}`).Code)
}

func TestExtract(t *testing.T) {
	rec := do(t, newTestServer(t, nil), http.MethodPost,
		"/v1/extract?case_id=2018/000004&kind=response", answerPage)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	got := decode[model.CaseRecord](t, rec)
	assert.Equal(t, "2018/000004", got.CaseID)
	assert.Equal(t, model.StatusCommitted, got.Status)
	assert.Equal(t, "End the Cage Age", got.Title)
}

func TestExtract_Validation(t *testing.T) {
	h := newTestServer(t, nil)
	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodPost, "/v1/extract", answerPage).Code)
	assert.Equal(t, http.StatusBadRequest,
		do(t, h, http.MethodPost, "/v1/extract?case_id=x&kind=press", answerPage).Code)

	rec := do(t, h, http.MethodPost, "/v1/extract?case_id=x",
		`<html><body><p>No recognised sections.</p></body></html>`)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestReconcile(t *testing.T) {
	body := `{
		"response": {"case_id": "2018/000004", "technical_status": "committed", "commission_promised_new_law": true},
		"followup": {"case_id": "2018/000004", "technical_status": "adopted"}
	}`
	rec := do(t, newTestServer(t, nil), http.MethodPost, "/v1/reconcile", body)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	got := decode[model.MergedRecord](t, rec)
	assert.Equal(t, model.StatusAdopted, got.Status)
	assert.True(t, got.PromisedNewLaw)
	assert.Equal(t, []model.SourceKind{model.SourceResponse, model.SourceFollowup}, got.Sources)
}

func TestReconcile_Errors(t *testing.T) {
	h := newTestServer(t, nil)
	assert.Equal(t, http.StatusUnprocessableEntity, do(t, h, http.MethodPost, "/v1/reconcile", `{}`).Code)

	mismatch := `{"response":{"case_id":"a"},"followup":{"case_id":"b"}}`
	assert.Equal(t, http.StatusUnprocessableEntity, do(t, h, http.MethodPost, "/v1/reconcile", mismatch).Code)
}

func TestGetCase(t *testing.T) {
	ctx := context.Background()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "eci.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(ctx))

	run, err := st.CreateRun(ctx, model.RunKindBatch, "test")
	require.NoError(t, err)
	require.NoError(t, st.SaveMergedRecords(ctx, run.ID, []model.MergedRecord{{
		CaseRecord: model.CaseRecord{CaseID: "2018/000004", Status: model.StatusAdopted},
		Sources:    []model.SourceKind{model.SourceFollowup},
	}}))

	h := newTestServer(t, st)

	rec := do(t, h, http.MethodGet, "/v1/cases/2018/000004", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	got := decode[model.MergedRecord](t, rec)
	assert.Equal(t, model.StatusAdopted, got.Status)

	assert.Equal(t, http.StatusNotFound, do(t, h, http.MethodGet, "/v1/cases/2099/000001", "").Code)
}

func TestGetCase_NoStore(t *testing.T) {
	rec := do(t, newTestServer(t, nil), http.MethodGet, "/v1/cases/2018/000004", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestRules(t *testing.T) {
	rec := do(t, newTestServer(t, nil), http.MethodGet, "/v1/rules", "")
	require.Equal(t, http.StatusOK, rec.Code)
	got := decode[map[string]any](t, rec)
	assert.Equal(t, "2025.06.1", got["version"])
	assert.NotEmpty(t, got["statuses"])
}

func TestCORS(t *testing.T) {
	h := newTestServer(t, nil)

	req := httptest.NewRequest(http.MethodOptions, "/v1/classify", nil)
	req.Header.Set("Origin", "https://tracker.example")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, "https://tracker.example", rec.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "https://elsewhere.example")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestUnknownRoute(t *testing.T) {
	assert.Equal(t, http.StatusNotFound, do(t, newTestServer(t, nil), http.MethodGet, "/v2/anything", "").Code)
}
