package runner

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/driftsync/sync-acceptor/types"
)

func slotLane(id, slot string) types.Lane {
	return types.Lane{
		ID:     id,
		Values: []types.AxisValue{{Axis: "account", Value: id}},
		Slot:   slot,
	}
}

func newTestExecutor(t *testing.T, concurrency int) *Executor {
	t.Helper()
	r, _ := newTestRunner(t)
	return NewExecutor(r, concurrency, log.New())
}

func TestExecutor_RunsAllLanes(t *testing.T) {
	e := newTestExecutor(t, 4)

	lanes := []types.Lane{
		testLane("1.20"), testLane("1.21"), testLane("1.22"), testLane("1.23"),
	}
	results := e.ExecuteTier(context.Background(), types.TierOffline, lanes, []string{"sh", "-c", "exit 0"}, 0, nil)
	require.Len(t, results, 4)
	for i, result := range results {
		assert.Equal(t, lanes[i].ID, result.Lane.ID, "results keep lane input order")
		assert.Equal(t, types.LaneStatusPass, result.Status)
	}
}

// TestExecutor_SlotSerialization asserts that no two lanes sharing a
// credential slot are ever in flight at once. Each lane takes an
// exclusive slot lock file for the duration of its command; an overlap
// would make the second lane fail.
func TestExecutor_SlotSerialization(t *testing.T) {
	r, workDir := newTestRunner(t)
	e := NewExecutor(r, 8, log.New())

	lanes := []types.Lane{
		slotLane("a1", "ci-personal"),
		slotLane("a2", "ci-personal"),
		slotLane("a3", "ci-personal"),
		slotLane("b1", "ci-business"),
		slotLane("b2", "ci-business"),
	}

	prepared := make(map[string]string) // lane -> slot, recorded by prepare
	var mu sync.Mutex
	prepare := func(_ context.Context, lane types.Lane) (*types.AccessToken, error) {
		mu.Lock()
		prepared[lane.ID] = lane.Slot
		mu.Unlock()
		token := types.NewAccessToken("token-"+lane.Slot, lane.Slot, time.Now().Add(time.Hour))
		return &token, nil
	}

	// The token carries the slot name; the command locks on it
	command := []string{"sh", "-c",
		fmt.Sprintf(`lock="%s/lock-${DRIFTSYNC_ACCESS_TOKEN}"; mkdir "$lock" || exit 1; sleep 0.1; rmdir "$lock"`, workDir)}

	results := e.ExecuteTier(context.Background(), types.TierOnline, lanes, command, 0, prepare)
	require.Len(t, results, 5)
	for _, result := range results {
		assert.Equal(t, types.LaneStatusPass, result.Status,
			"lane %s overlapped with another lane on its slot", result.Lane.ID)
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Len(t, prepared, 5, "every lane gets its own token acquisition")
	assert.Equal(t, "ci-personal", prepared["a1"])
	assert.Equal(t, "ci-business", prepared["b1"])
}

func TestExecutor_SlotlessLanesRunConcurrently(t *testing.T) {
	e := newTestExecutor(t, 4)

	lanes := []types.Lane{
		testLane("1.20"), testLane("1.21"), testLane("1.22"), testLane("1.23"),
	}
	start := time.Now()
	results := e.ExecuteTier(context.Background(), types.TierOffline, lanes, []string{"sh", "-c", "sleep 0.3"}, 0, nil)
	elapsed := time.Since(start)

	require.Len(t, results, 4)
	assert.Less(t, elapsed, 1*time.Second, "four 300ms lanes across four workers should overlap")
}

func TestExecutor_PrepareFailureFailsLane(t *testing.T) {
	e := newTestExecutor(t, 2)

	prepareErr := errors.New("token endpoint unreachable")
	prepare := func(_ context.Context, lane types.Lane) (*types.AccessToken, error) {
		if lane.Slot == "ci-broken" {
			return nil, prepareErr
		}
		token := types.NewAccessToken("token", lane.Slot, time.Time{})
		return &token, nil
	}

	lanes := []types.Lane{
		slotLane("good", "ci-personal"),
		slotLane("bad", "ci-broken"),
	}
	results := e.ExecuteTier(context.Background(), types.TierOnline, lanes, []string{"sh", "-c", "exit 0"}, 3, prepare)
	require.Len(t, results, 2)

	assert.Equal(t, types.LaneStatusPass, results[0].Status)
	assert.Equal(t, types.LaneStatusError, results[1].Status)
	assert.Equal(t, 0, results[1].Attempts, "a preparation failure consumes no lane attempts")
	assert.ErrorIs(t, results[1].Err, prepareErr)
}

func TestExecutor_EmptyTier(t *testing.T) {
	e := newTestExecutor(t, 2)
	assert.Nil(t, e.ExecuteTier(context.Background(), types.TierOffline, nil, []string{"sh"}, 0, nil))
}

func TestExecutor_CancelledContext(t *testing.T) {
	e := newTestExecutor(t, 2)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	lanes := []types.Lane{testLane("1.21"), testLane("1.22")}
	results := e.ExecuteTier(ctx, types.TierOffline, lanes, []string{"sh", "-c", "exit 0"}, 0, nil)
	require.Len(t, results, 2, "every lane gets a result even when the run is cancelled")
	for _, result := range results {
		assert.Equal(t, types.LaneStatusError, result.Status)
	}
}

func TestGroupBySlot(t *testing.T) {
	lanes := []types.Lane{
		slotLane("a1", "ci-personal"),
		slotLane("b1", "ci-business"),
		slotLane("a2", "ci-personal"),
		testLane("free1"),
		testLane("free2"),
	}
	groups := groupBySlot(lanes)
	require.Len(t, groups, 4)

	assert.Equal(t, "ci-personal", groups[0].slot)
	require.Len(t, groups[0].lanes, 2)
	assert.Equal(t, "a1", groups[0].lanes[0].ID)
	assert.Equal(t, "a2", groups[0].lanes[1].ID)

	assert.Equal(t, "ci-business", groups[1].slot)
	assert.Empty(t, groups[2].slot, "slotless lanes get their own group")
	assert.Empty(t, groups[3].slot)
}
