package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/sells-group/eci-tracker/internal/extract"
	"github.com/sells-group/eci-tracker/internal/model"
	"github.com/sells-group/eci-tracker/internal/rules"
	"github.com/sells-group/eci-tracker/internal/store"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const committedPage = `<html><body>
<h1>End the Cage Age</h1>
<h2 id="answer">Answer of the European Commission</h2>
<p>The Commission will table a legislative proposal by end of 2026.</p>
</body></html>`

const adoptedPage = `<html><body>
<h1>End the Cage Age</h1>
<h2 id="updates">Latest updates</h2>
<p>The regulation was published in the Official Journal on 20 June 2025.</p>
</body></html>`

const assessingPage = `<html><body>
<h1>Save Bees and Farmers</h1>
<h2 id="updates">Latest updates</h2>
<p>An impact assessment is ongoing in several Member States.</p>
</body></html>`

const brokenPage = `<html><body><h1>Nothing here</h1><p>No recognised sections.</p></body></html>`

func newTestPipeline(t *testing.T, st store.Store) *Pipeline {
	t.Helper()
	rs, err := rules.Default()
	require.NoError(t, err)
	return New(extract.New(rs, nil), st)
}

func newTestStore(t *testing.T) store.Store {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "eci.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

// writeCase lays out a case directory; an empty page is not written.
func writeCase(t *testing.T, root, caseID, response, followup string) CaseInput {
	t.Helper()
	dir := filepath.Join(root, filepath.FromSlash(caseID))
	require.NoError(t, os.MkdirAll(dir, 0o755))

	in := CaseInput{CaseID: caseID}
	if response != "" {
		in.ResponsePath = filepath.Join(dir, DefaultResponseFile)
		require.NoError(t, os.WriteFile(in.ResponsePath, []byte(response), 0o644))
	}
	if followup != "" {
		in.FollowupPath = filepath.Join(dir, DefaultFollowupFile)
		require.NoError(t, os.WriteFile(in.FollowupPath, []byte(followup), 0o644))
	}
	return in
}

func TestProcessCase_BothSides(t *testing.T) {
	p := newTestPipeline(t, nil)
	in := writeCase(t, t.TempDir(), "2018/000004", committedPage, adoptedPage)

	res, err := p.ProcessCase(context.Background(), in)
	require.NoError(t, err)
	require.False(t, res.Failed())

	assert.Equal(t, model.StatusCommitted, res.Response.Status)
	assert.Equal(t, model.StatusAdopted, res.Followup.Status)
	assert.Equal(t, model.StatusAdopted, res.Merged.Status)
	assert.Equal(t, "End the Cage Age", res.Merged.Title)
	assert.Equal(t, []model.SourceKind{model.SourceResponse, model.SourceFollowup}, res.Merged.Sources)
	assert.Empty(t, res.Merged.Warnings)
	assert.Empty(t, res.Failures)
	assert.True(t, res.Merged.PromisedNewLaw)
}

func TestProcessCase_StatusRegressionWarns(t *testing.T) {
	p := newTestPipeline(t, nil)
	in := writeCase(t, t.TempDir(), "2019/000016", committedPage, assessingPage)

	res, err := p.ProcessCase(context.Background(), in)
	require.NoError(t, err)

	assert.Equal(t, model.StatusAssessmentPending, res.Merged.Status)
	require.Len(t, res.Merged.Warnings, 1)
	assert.Equal(t, model.WarningStatusRegressed, res.Merged.Warnings[0].Code)
	assert.Equal(t, "technical_status", res.Merged.Warnings[0].Field)
}

func TestProcessCase_OneSideFails(t *testing.T) {
	p := newTestPipeline(t, nil)
	in := writeCase(t, t.TempDir(), "2018/000004", committedPage, brokenPage)

	res, err := p.ProcessCase(context.Background(), in)
	require.NoError(t, err)
	require.False(t, res.Failed())

	assert.Nil(t, res.Followup)
	assert.Equal(t, []model.SourceKind{model.SourceResponse}, res.Merged.Sources)
	assert.Equal(t, model.StatusCommitted, res.Merged.Status)
	require.Len(t, res.Failures, 1)
	assert.Equal(t, model.SourceFollowup, res.Failures[0].Source)
	assert.Contains(t, res.Failures[0].Error, "not found")
}

func TestProcessCase_BothSidesFail(t *testing.T) {
	p := newTestPipeline(t, nil)
	in := writeCase(t, t.TempDir(), "2020/000001", brokenPage, brokenPage)

	res, err := p.ProcessCase(context.Background(), in)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "2020/000001")
	require.NotNil(t, res)
	assert.True(t, res.Failed())
	assert.Len(t, res.Failures, 2)
}

func TestProcessCase_MissingFile(t *testing.T) {
	p := newTestPipeline(t, nil)
	res, err := p.ProcessCase(context.Background(), CaseInput{
		CaseID:       "2020/000002",
		ResponsePath: filepath.Join(t.TempDir(), "absent.html"),
	})
	require.Error(t, err)
	require.Len(t, res.Failures, 1)
	assert.Contains(t, res.Failures[0].Error, "open response document")
}

func TestProcessCase_InvalidInput(t *testing.T) {
	p := newTestPipeline(t, nil)

	_, err := p.ProcessCase(context.Background(), CaseInput{ResponsePath: "x.html"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "case id is required")

	_, err = p.ProcessCase(context.Background(), CaseInput{CaseID: "2020/000003"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no source documents")
}
