package recovery

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/strandtools/webrelay/internal/workflow"
	"github.com/strandtools/webrelay/pkg/events"
)

func newTestManager(t *testing.T) (*Manager, *workflow.Coordinator, string) {
	t.Helper()
	dir := t.TempDir()
	store, err := workflow.NewStore(filepath.Join(dir, "workflows"))
	require.NoError(t, err)
	bus := events.NewBus(100)
	coord, err := workflow.NewCoordinator(workflow.NewTemplateSet(), store, bus, nil)
	require.NoError(t, err)
	m, err := NewManager(coord, filepath.Join(dir, "recovery.json"), bus, nil)
	require.NoError(t, err)
	return m, coord, dir
}

func TestAnalyzeNavigationTimeout(t *testing.T) {
	m, _, _ := newTestManager(t)

	got := m.Analyze("Navigation timeout of 30000ms exceeded")
	assert.Equal(t, TypeNavigationTimeout, got.Type)
	require.NotNil(t, got.Strategy)
	assert.True(t, got.Strategy.AutoRecover)
}

func TestAnalyzeFirstMatchWins(t *testing.T) {
	m, _, _ := newTestManager(t)

	// Mentions both a timeout and a selector; the timeout strategy is
	// declared first and must win.
	got := m.Analyze("Timeout of 5000ms exceeded waiting for selector #btn")
	assert.Equal(t, TypeNavigationTimeout, got.Type)
}

func TestAnalyzeTable(t *testing.T) {
	m, _, _ := newTestManager(t)

	cases := map[string]string{
		"waiting for selector \"#submit\" failed": TypeElementNotFound,
		"open /tmp/shot.png: no such file or directory": TypeArtifactMissing,
		"websocket: connection closed unexpectedly":     TypeBackendDisconnected,
		"target closed before response":                 TypeBackendDisconnected,
		"ValidationFailed: stage capture: missing required artifact": TypeValidationRejected,
		"permission denied opening state dir":                        TypePermissionDenied,
		"something completely different":                             TypeUnknown,
	}
	for msg, want := range cases {
		assert.Equal(t, want, m.Analyze(msg).Type, "message %q", msg)
	}
}

func TestAttemptNavigationTimeoutReturnsIncreasedTimeout(t *testing.T) {
	m, coord, _ := newTestManager(t)
	in, err := coord.Initialize("T-1", "basic")
	require.NoError(t, err)

	out, err := m.Attempt(in.ID, "Navigation timeout of 30000ms exceeded",
		&Context{Timeout: 30 * time.Second})
	require.NoError(t, err)
	assert.True(t, out.Success)
	assert.Equal(t, StatusRecovered, out.Status)
	assert.True(t, out.Retry)
	assert.Equal(t, int64(60000), out.TimeoutMs)
}

func TestAttemptNoStrategy(t *testing.T) {
	m, coord, _ := newTestManager(t)
	in, err := coord.Initialize("T-1", "basic")
	require.NoError(t, err)
	before, err := coord.Get(in.ID)
	require.NoError(t, err)

	out, err := m.Attempt(in.ID, "kernel panic in the coffee machine", nil)
	require.NoError(t, err)
	assert.False(t, out.Success)
	assert.Equal(t, StatusNoStrategy, out.Status)

	after, err := coord.Get(in.ID)
	require.NoError(t, err)
	assert.Equal(t, before.Status, after.Status)
	assert.Equal(t, before.CurrentStage, after.CurrentStage)
	assert.Len(t, after.Errors, len(before.Errors))
}

func TestAttemptManualRequiredLeavesWorkflowUntouched(t *testing.T) {
	m, coord, _ := newTestManager(t)
	in, err := coord.Initialize("T-1", "basic")
	require.NoError(t, err)

	out, err := m.Attempt(in.ID, "permission denied: /var/artifacts", nil)
	require.NoError(t, err)
	assert.False(t, out.Success)
	assert.Equal(t, StatusManualRequired, out.Status)

	after, err := coord.Get(in.ID)
	require.NoError(t, err)
	assert.Equal(t, workflow.StatusActive, after.Status)
	assert.Empty(t, after.Errors)
}

func TestAttemptElementNotFoundRespectsRetryLimit(t *testing.T) {
	m, coord, _ := newTestManager(t)
	in, err := coord.Initialize("T-1", "basic")
	require.NoError(t, err)

	out, err := m.Attempt(in.ID, "element not found: #submit", &Context{RetryCount: 1})
	require.NoError(t, err)
	assert.True(t, out.Success)
	assert.True(t, out.Retry)

	out, err = m.Attempt(in.ID, "element not found: #submit", &Context{RetryCount: 3})
	require.NoError(t, err)
	assert.False(t, out.Success)
	assert.Equal(t, StatusFailed, out.Status)
}

func TestAttemptArtifactMissingProbesAlternatePaths(t *testing.T) {
	m, coord, dir := newTestManager(t)

	altDir := filepath.Join(dir, "alt")
	require.NoError(t, os.MkdirAll(altDir, 0755))
	relocated := filepath.Join(altDir, "shot.png")
	require.NoError(t, os.WriteFile(relocated, []byte("png"), 0644))

	in, err := coord.Initialize("T-1", "basic")
	require.NoError(t, err)
	_, err = coord.SetArtifacts(in.ID, map[string]string{
		"screenshot": filepath.Join(dir, "gone", "shot.png"),
	})
	require.NoError(t, err)

	out, err := m.Attempt(in.ID, "open shot.png: no such file or directory",
		&Context{AlternatePaths: []string{altDir}})
	require.NoError(t, err)
	assert.True(t, out.Success)

	after, err := coord.Get(in.ID)
	require.NoError(t, err)
	assert.Equal(t, relocated, after.Artifacts["screenshot"])
}

func TestAttemptArtifactMissingFailsWhenNotRelocated(t *testing.T) {
	m, coord, dir := newTestManager(t)

	in, err := coord.Initialize("T-1", "basic")
	require.NoError(t, err)
	_, err = coord.SetArtifacts(in.ID, map[string]string{
		"screenshot": filepath.Join(dir, "gone", "shot.png"),
	})
	require.NoError(t, err)

	out, err := m.Attempt(in.ID, "open shot.png: no such file or directory",
		&Context{AlternatePaths: []string{filepath.Join(dir, "also-empty")}})
	require.NoError(t, err)
	assert.False(t, out.Success)
	assert.Equal(t, StatusFailed, out.Status)
}

func TestAttemptUnknownWorkflow(t *testing.T) {
	m, _, _ := newTestManager(t)

	_, err := m.Attempt("missing-id", "Navigation timeout of 30000ms exceeded", nil)
	assert.ErrorIs(t, err, workflow.ErrUnknownWorkflow)
}

func TestResumeRepositionsAtLastSuccess(t *testing.T) {
	m, coord, dir := newTestManager(t)
	shot := filepath.Join(dir, "shot.png")
	require.NoError(t, os.WriteFile(shot, []byte("png"), 0644))

	in, err := coord.Initialize("T-1", "basic")
	require.NoError(t, err)
	_, err = coord.Transition(in.ID, nil)
	require.NoError(t, err)
	_, err = coord.Transition(in.ID, map[string]string{"screenshot": shot})
	require.NoError(t, err)
	_, err = coord.Fail(in.ID, "browser has been closed")
	require.NoError(t, err)

	resumed, err := m.Resume(in.ID)
	require.NoError(t, err)
	assert.Equal(t, workflow.StatusActive, resumed.Status)
	assert.Equal(t, "capture", resumed.CurrentStage)

	// The next transition re-attempts the stage after the reposition.
	next, err := coord.Transition(in.ID, nil)
	require.NoError(t, err)
	assert.Equal(t, "verify", next.CurrentStage)
}

func TestResumeByTicket(t *testing.T) {
	m, coord, _ := newTestManager(t)

	in, err := coord.Initialize("T-42", "basic")
	require.NoError(t, err)
	_, err = coord.Transition(in.ID, nil)
	require.NoError(t, err)
	_, err = coord.Fail(in.ID, "boom")
	require.NoError(t, err)

	resumed, err := m.Resume("T-42")
	require.NoError(t, err)
	assert.Equal(t, in.ID, resumed.ID)
	assert.Equal(t, "prepare", resumed.CurrentStage)
}

func TestResumeWithoutSuccessEntries(t *testing.T) {
	m, coord, _ := newTestManager(t)

	in, err := coord.Initialize("T-1", "basic")
	require.NoError(t, err)
	_, err = coord.Fail(in.ID, "boom")
	require.NoError(t, err)

	_, err = m.Resume(in.ID)
	assert.ErrorIs(t, err, ErrNoResumableStage)
}

func TestRecoveryLogAppends(t *testing.T) {
	m, coord, _ := newTestManager(t)
	in, err := coord.Initialize("T-1", "basic")
	require.NoError(t, err)

	_, err = m.Attempt(in.ID, "Navigation timeout of 30000ms exceeded", nil)
	require.NoError(t, err)
	_, err = m.Attempt(in.ID, "total mystery", nil)
	require.NoError(t, err)

	entries, err := m.History()
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, TypeNavigationTimeout, entries[0].ErrorType)
	assert.Equal(t, StatusRecovered, entries[0].Outcome)
	assert.Equal(t, TypeUnknown, entries[1].ErrorType)
	assert.Equal(t, StatusNoStrategy, entries[1].Outcome)
	assert.False(t, entries[0].Time.IsZero())
}

func TestLogSurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "recovery.json")

	l1, err := NewLog(path)
	require.NoError(t, err)
	require.NoError(t, l1.Append(LogEntry{Time: time.Now(), WorkflowID: "w", ErrorType: TypeUnknown, Outcome: StatusNoStrategy}))

	l2, err := NewLog(path)
	require.NoError(t, err)
	require.NoError(t, l2.Append(LogEntry{Time: time.Now(), WorkflowID: "w", ErrorType: TypeNavigationTimeout, Outcome: StatusRecovered}))

	entries, err := l2.Entries()
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, TypeUnknown, entries[0].ErrorType)
	assert.Equal(t, TypeNavigationTimeout, entries[1].ErrorType)
}
