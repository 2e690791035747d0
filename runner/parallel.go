package runner

import (
	"context"
	"sync"

	"github.com/ethereum/go-ethereum/log"

	"github.com/driftsync/sync-acceptor/types"
)

// PrepareLane runs immediately before a lane's first attempt and yields
// the lane's access token, or nil for tiers that need none. An error
// fails the lane without consuming a retry.
type PrepareLane func(ctx context.Context, lane types.Lane) (*types.AccessToken, error)

// Executor dispatches a tier's lanes across a bounded worker pool.
//
// Lanes are grouped before dispatch: all lanes sharing a credential slot
// form one group and run serially within it, while lanes on distinct
// slots (and slotless lanes) occupy their own groups. Workers pick up
// whole groups, so no two in-flight lanes ever hold the same slot.
type Executor struct {
	runner      *Runner
	concurrency int
	log         log.Logger
}

// NewExecutor creates a parallel lane executor.
func NewExecutor(runner *Runner, concurrency int, logger log.Logger) *Executor {
	if runner == nil {
		panic("runner cannot be nil")
	}
	if concurrency < 1 {
		concurrency = 1
	}
	return &Executor{
		runner:      runner,
		concurrency: concurrency,
		log:         logger.New("component", "lane-executor"),
	}
}

// laneGroup is the unit of work a worker claims: one or more lanes that
// must run serially because they share a slot.
type laneGroup struct {
	slot  string
	lanes []types.Lane
}

// ExecuteTier runs all lanes of a tier and collects their results. The
// result order matches the lane input order regardless of scheduling.
func (e *Executor) ExecuteTier(ctx context.Context, tier types.Tier, lanes []types.Lane, command []string, maxRetries int, prepare PrepareLane) []*types.LaneResult {
	if len(lanes) == 0 {
		return nil
	}

	groups := groupBySlot(lanes)
	workers := min(e.concurrency, len(groups))
	e.log.Info("Starting lane execution",
		"tier", tier,
		"lanes", len(lanes),
		"groups", len(groups),
		"workers", workers)

	groupChan := make(chan laneGroup)
	resultChan := make(chan *types.LaneResult, len(lanes))

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go e.worker(ctx, &wg, tier, command, maxRetries, prepare, groupChan, resultChan)
	}

	go func() {
		defer close(groupChan)
		for _, group := range groups {
			select {
			case groupChan <- group:
			case <-ctx.Done():
				e.log.Debug("Context cancelled while dispatching lane groups")
				return
			}
		}
	}()

	go func() {
		wg.Wait()
		close(resultChan)
	}()

	byID := make(map[string]*types.LaneResult, len(lanes))
	for result := range resultChan {
		byID[result.Lane.ID] = result
	}

	results := make([]*types.LaneResult, 0, len(lanes))
	for _, lane := range lanes {
		if result, ok := byID[lane.ID]; ok {
			results = append(results, result)
			continue
		}
		// Lane never dispatched; the run was cancelled underneath it.
		results = append(results, &types.LaneResult{
			Lane:   lane,
			Tier:   tier,
			Status: types.LaneStatusError,
			Err:    ctx.Err(),
		})
	}
	return results
}

func (e *Executor) worker(ctx context.Context, wg *sync.WaitGroup, tier types.Tier, command []string, maxRetries int, prepare PrepareLane, groupChan <-chan laneGroup, resultChan chan<- *types.LaneResult) {
	defer wg.Done()

	for {
		select {
		case group, ok := <-groupChan:
			if !ok {
				return
			}
			for _, lane := range group.lanes {
				if ctx.Err() != nil {
					return
				}
				resultChan <- e.runLane(ctx, tier, lane, command, maxRetries, prepare)
			}
		case <-ctx.Done():
			return
		}
	}
}

func (e *Executor) runLane(ctx context.Context, tier types.Tier, lane types.Lane, command []string, maxRetries int, prepare PrepareLane) *types.LaneResult {
	var token *types.AccessToken
	if prepare != nil {
		acquired, err := prepare(ctx, lane)
		if err != nil {
			// Precedes test execution; fails the lane with zero attempts.
			e.log.Error("Lane preparation failed", "tier", tier, "lane", lane.ID, "error", err)
			return &types.LaneResult{
				Lane:   lane,
				Tier:   tier,
				Status: types.LaneStatusError,
				Err:    err,
			}
		}
		token = acquired
	}
	// The token lives on this worker's stack for the duration of the
	// lane and is dropped here, satisfying discard-at-lane-end.
	return e.runner.Run(ctx, tier, lane, command, maxRetries, token)
}

// groupBySlot partitions lanes into serial groups, preserving input
// order within each group and the order of first appearance between
// groups.
func groupBySlot(lanes []types.Lane) []laneGroup {
	var groups []laneGroup
	index := make(map[string]int)
	for _, lane := range lanes {
		if lane.Slot == "" {
			// Slotless lanes are mutually independent.
			groups = append(groups, laneGroup{lanes: []types.Lane{lane}})
			continue
		}
		if i, ok := index[lane.Slot]; ok {
			groups[i].lanes = append(groups[i].lanes, lane)
			continue
		}
		index[lane.Slot] = len(groups)
		groups = append(groups, laneGroup{slot: lane.Slot, lanes: []types.Lane{lane}})
	}
	return groups
}
