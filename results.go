package pipeline

import (
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/driftsync/sync-acceptor/types"
)

// printResultsTable prints the per-lane outcomes of a pipeline run to
// the console, grouped by tier.
func (p *Pipeline) printResultsTable(result *types.PipelineResult) {
	p.config.Log.Info("Printing results...")
	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.SetTitle(fmt.Sprintf("Pipeline Results (%s)", formatDuration(result.Duration)))

	t.AppendHeader(table.Row{
		"Type", "ID", "Duration", "Attempts", "Passed", "Failed", "Errored", "Status", "Error",
	})

	t.SetColumnConfigs([]table.ColumnConfig{
		{Name: "Type", AutoMerge: true},
		{Name: "ID", WidthMax: 50, WidthMaxEnforcer: text.WrapSoft},
		{Name: "Duration", Align: text.AlignRight},
		{Name: "Attempts", Align: text.AlignRight},
		{Name: "Passed", Align: text.AlignRight},
		{Name: "Failed", Align: text.AlignRight},
		{Name: "Errored", Align: text.AlignRight},
		{Name: "Error", WidthMax: 80, WidthMaxEnforcer: text.WrapSoft},
	})

	for _, tierResult := range []*types.TierResult{result.Offline, result.Online} {
		if tierResult == nil {
			continue
		}
		appendTierRows(t, tierResult)
		t.AppendSeparator()
	}

	if result.Halted {
		t.AppendRow(table.Row{
			"Tier", string(types.TierOnline), "-", "-", "-", "-", "-", "- skipped", "offline tier did not pass",
		})
		t.AppendSeparator()
	}

	if result.Status == types.LaneStatusPass {
		t.SetStyle(table.StyleColoredBlackOnGreenWhite)
	} else {
		t.SetStyle(table.StyleColoredBlackOnRedWhite)
	}

	t.AppendFooter(table.Row{
		"TOTAL",
		"",
		formatDuration(result.Duration),
		"",
		totalPassed(result),
		totalFailed(result),
		totalErrored(result),
		getResultString(result.Status),
		"",
	})

	t.Render()
}

// appendTierRows renders one tier header row and a tree of lane rows.
func appendTierRows(t table.Writer, tierResult *types.TierResult) {
	t.AppendRow(table.Row{
		"Tier",
		string(tierResult.Tier),
		formatDuration(tierResult.Duration),
		"-", // Don't count the tier as a lane
		tierResult.Stats.Passed,
		tierResult.Stats.Failed,
		tierResult.Stats.Errored,
		getResultString(tierResult.Status),
		"",
	})

	ids := make([]string, 0, len(tierResult.Lanes))
	for id := range tierResult.Lanes {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for i, id := range ids {
		lane := tierResult.Lanes[id]
		prefix := "├──"
		if i == len(ids)-1 {
			prefix = "└──"
		}
		errorMsg := ""
		if lane.Err != nil {
			errorMsg = lane.Err.Error()
		}
		t.AppendRow(table.Row{
			"Lane",
			fmt.Sprintf("%s %s", prefix, id),
			formatDuration(lane.Duration),
			lane.Attempts,
			boolToInt(lane.Status == types.LaneStatusPass),
			boolToInt(lane.Status == types.LaneStatusFail),
			boolToInt(lane.Status == types.LaneStatusError),
			getResultString(lane.Status),
			errorMsg,
		})
	}
}

func totalPassed(result *types.PipelineResult) int {
	return sumStats(result, func(s types.ResultStats) int { return s.Passed })
}

func totalFailed(result *types.PipelineResult) int {
	return sumStats(result, func(s types.ResultStats) int { return s.Failed })
}

func totalErrored(result *types.PipelineResult) int {
	return sumStats(result, func(s types.ResultStats) int { return s.Errored })
}

func sumStats(result *types.PipelineResult, pick func(types.ResultStats) int) int {
	total := 0
	for _, tier := range []*types.TierResult{result.Offline, result.Online} {
		if tier != nil {
			total += pick(tier.Stats)
		}
	}
	return total
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// getResultString returns a colored string representing the lane result
func getResultString(status types.LaneStatus) string {
	switch status {
	case types.LaneStatusPass:
		return "✓ pass"
	case types.LaneStatusFail:
		return "✗ fail"
	default:
		return "✗ error"
	}
}

func formatDuration(d time.Duration) string {
	return fmt.Sprintf("%.1fs", d.Seconds())
}
