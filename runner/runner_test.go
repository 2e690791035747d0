package runner

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/driftsync/sync-acceptor/types"
)

func newTestRunner(t *testing.T) (*Runner, string) {
	t.Helper()
	workDir := t.TempDir()
	r, err := New(Config{
		WorkDir:     workDir,
		LaneTimeout: 30 * time.Second,
		Log:         log.New(),
	})
	require.NoError(t, err)
	return r, workDir
}

func testLane(id string) types.Lane {
	return types.Lane{
		ID:     id,
		Values: []types.AxisValue{{Axis: "runtime", Value: id}},
	}
}

// countingCommand returns a shell command that appends one line to the
// counter file per execution and exits with the given status.
func countingCommand(counter string, exitCode int) []string {
	return []string{"sh", "-c", fmt.Sprintf("echo run >> %q; exit %d", counter, exitCode)}
}

func countRuns(t *testing.T, counter string) int {
	t.Helper()
	data, err := os.ReadFile(counter)
	if os.IsNotExist(err) {
		return 0
	}
	require.NoError(t, err)
	runs := 0
	for _, b := range data {
		if b == '\n' {
			runs++
		}
	}
	return runs
}

func TestRunner_Pass(t *testing.T) {
	r, _ := newTestRunner(t)

	result := r.Run(context.Background(), types.TierOffline, testLane("1.22"), []string{"sh", "-c", "exit 0"}, 2, nil)
	assert.Equal(t, types.LaneStatusPass, result.Status)
	assert.Equal(t, 1, result.Attempts, "a pass on the first attempt consumes no retries")
	assert.NoError(t, result.Err)
}

func TestRunner_RetryBound(t *testing.T) {
	r, workDir := newTestRunner(t)
	counter := filepath.Join(workDir, "runs")

	result := r.Run(context.Background(), types.TierOffline, testLane("1.22"), countingCommand(counter, 1), 2, nil)
	assert.Equal(t, types.LaneStatusFail, result.Status)
	assert.Equal(t, 3, result.Attempts, "maxRetries=2 means at most 3 executions")
	assert.Equal(t, 3, countRuns(t, counter))
	assert.Error(t, result.Err)
}

func TestRunner_ZeroRetries(t *testing.T) {
	r, workDir := newTestRunner(t)
	counter := filepath.Join(workDir, "runs")

	result := r.Run(context.Background(), types.TierOffline, testLane("1.22"), countingCommand(counter, 1), 0, nil)
	assert.Equal(t, types.LaneStatusFail, result.Status)
	assert.Equal(t, 1, result.Attempts)
	assert.Equal(t, 1, countRuns(t, counter))
}

func TestRunner_StopsOnFirstPass(t *testing.T) {
	r, workDir := newTestRunner(t)
	counter := filepath.Join(workDir, "runs")

	// Fails once, then passes
	command := []string{"sh", "-c", fmt.Sprintf(`echo run >> %q; [ "$(wc -l < %q)" -ge 2 ]`, counter, counter)}
	result := r.Run(context.Background(), types.TierOffline, testLane("1.22"), command, 5, nil)
	assert.Equal(t, types.LaneStatusPass, result.Status)
	assert.Equal(t, 2, result.Attempts, "remaining retries are abandoned after a pass")
	assert.Equal(t, 2, countRuns(t, counter))
}

func TestRunner_SetupErrorNotRetried(t *testing.T) {
	r, _ := newTestRunner(t)

	result := r.Run(context.Background(), types.TierOffline, testLane("1.22"), []string{"/nonexistent/binary"}, 3, nil)
	assert.Equal(t, types.LaneStatusError, result.Status)
	assert.Equal(t, 1, result.Attempts, "setup errors surface immediately")
	assert.True(t, IsLaneSetupError(result.Err))
}

func TestRunner_EmptyCommand(t *testing.T) {
	r, _ := newTestRunner(t)

	result := r.Run(context.Background(), types.TierOffline, testLane("1.22"), nil, 0, nil)
	assert.Equal(t, types.LaneStatusError, result.Status)
	assert.True(t, IsLaneSetupError(result.Err))
}

func TestRunner_Timeout(t *testing.T) {
	workDir := t.TempDir()
	r, err := New(Config{
		WorkDir:     workDir,
		LaneTimeout: 100 * time.Millisecond,
		Log:         log.New(),
	})
	require.NoError(t, err)

	result := r.Run(context.Background(), types.TierOffline, testLane("1.22"), []string{"sh", "-c", "sleep 5"}, 0, nil)
	assert.Equal(t, types.LaneStatusFail, result.Status, "a timed-out attempt counts as a failure")
	assert.ErrorContains(t, result.Err, "timed out")
}

func TestRunner_CoverageArtifact(t *testing.T) {
	r, _ := newTestRunner(t)

	lane := testLane("1.22")
	command := []string{"sh", "-c", `echo "mode: set" > "$DRIFTSYNC_COVERAGE_FILE"`}
	result := r.Run(context.Background(), types.TierOffline, lane, command, 0, nil)
	require.Equal(t, types.LaneStatusPass, result.Status)
	require.NotEmpty(t, result.Artifact)

	assert.Equal(t, filepath.Join(r.coverageDir, "offline", lane.ID+".out"), result.Artifact)
	data, err := os.ReadFile(result.Artifact)
	require.NoError(t, err)
	assert.Contains(t, string(data), "mode: set")
}

func TestRunner_NoArtifactWhenNotWritten(t *testing.T) {
	r, _ := newTestRunner(t)

	result := r.Run(context.Background(), types.TierOffline, testLane("1.22"), []string{"sh", "-c", "exit 0"}, 0, nil)
	assert.Equal(t, types.LaneStatusPass, result.Status)
	assert.Empty(t, result.Artifact)
}

func TestRunner_LaneEnvIsolation(t *testing.T) {
	t.Setenv("SYNC_ACCEPTOR_SLOT_CI_PERSONAL", "refresh-secret")
	r, workDir := newTestRunner(t)

	lane := types.Lane{
		ID: "platform=linux,runtime=1.22",
		Values: []types.AxisValue{
			{Axis: "platform", Value: "linux"},
			{Axis: "runtime", Value: "1.22"},
		},
	}
	envFile := filepath.Join(workDir, "env")
	command := []string{"sh", "-c", fmt.Sprintf("env > %q", envFile)}

	token := types.NewAccessToken("short-lived-token", "ci-personal", time.Now().Add(time.Hour))
	result := r.Run(context.Background(), types.TierOnline, lane, command, 0, &token)
	require.Equal(t, types.LaneStatusPass, result.Status)

	data, err := os.ReadFile(envFile)
	require.NoError(t, err)
	env := string(data)

	assert.Contains(t, env, "DRIFTSYNC_MATRIX_PLATFORM=linux")
	assert.Contains(t, env, "DRIFTSYNC_MATRIX_RUNTIME=1.22")
	assert.Contains(t, env, "DRIFTSYNC_ACCESS_TOKEN=short-lived-token")
	assert.Contains(t, env, "DRIFTSYNC_COVERAGE_FILE=")
	assert.NotContains(t, env, "refresh-secret", "long-lived secrets never enter a lane environment")
	assert.NotContains(t, env, "SYNC_ACCEPTOR_SLOT", "orchestrator variables are not inherited")
}

func TestRunner_StdoutTailOnFailure(t *testing.T) {
	r, _ := newTestRunner(t)

	result := r.Run(context.Background(), types.TierOffline, testLane("1.22"), []string{"sh", "-c", "echo some diagnostic output; exit 1"}, 0, nil)
	assert.Equal(t, types.LaneStatusFail, result.Status)
	assert.Contains(t, result.Stdout, "some diagnostic output")
}

func TestRunner_CancelledContext(t *testing.T) {
	r, _ := newTestRunner(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result := r.Run(ctx, types.TierOffline, testLane("1.22"), []string{"sh", "-c", "exit 0"}, 0, nil)
	assert.Equal(t, types.LaneStatusError, result.Status)
}
